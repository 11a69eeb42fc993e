// Package escalation implements the EscalationHandler: the terminal
// hand-off path that checkpoints a task's working copy and writes a
// structured report for a human to act on.
package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/nexus-build/nexus/internal/commitlog"
	"github.com/nexus-build/nexus/internal/nexuslog"
	"github.com/nexus-build/nexus/internal/revision"
	"github.com/nexus-build/nexus/pkg/models"
)

const (
	defaultEscalationsDir  = ".nexus/escalations"
	defaultCheckpointPref  = "nexus-escalation"
	maxReportedErrors      = 10
	checkpointCommitPrefix = "[checkpoint]"
)

// summaryStems gives the human-readable reason text inserted into every
// report's summary line.
var summaryStems = map[models.EscalationReason]string{
	models.ReasonMaxIterations:    "reached the maximum iteration limit of %d",
	models.ReasonTimeout:          "exceeded the time limit of %d minutes",
	models.ReasonRepeatedFailures: "encountered the same error repeatedly",
	models.ReasonBlockingError:    "encountered a blocking error that cannot be resolved automatically",
	models.ReasonAgentRequest:     "explicitly requested human assistance",
}

// Filesystem is the collaborator escalation reports are persisted
// through.
type Filesystem interface {
	Mkdir(path string, recursive bool) error
	WriteFile(path string, content []byte) error
	Exists(path string) bool
}

// OSFilesystem implements Filesystem against the local disk.
type OSFilesystem struct{}

func (OSFilesystem) Mkdir(path string, recursive bool) error {
	if recursive {
		return os.MkdirAll(path, 0o755)
	}
	return os.Mkdir(path, 0o755)
}

func (OSFilesystem) WriteFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}

func (OSFilesystem) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var _ Filesystem = OSFilesystem{}

// Notifier receives every EscalationReport once it has been persisted.
// Handler always logs; Notifier is an additional, optional sink.
type Notifier func(*models.EscalationReport)

// Handler is the EscalationHandler.
type Handler struct {
	sys    revision.System
	fs     Filesystem
	log    *nexuslog.Logger
	commit *commitlog.Handler

	escalationsDir string
	checkpointTag  string
	notify         Notifier

	maxIterations int
	timeoutMins   int
}

// Option configures a Handler.
type Option func(*Handler)

func WithEscalationsDir(dir string) Option { return func(h *Handler) { h.escalationsDir = dir } }
func WithCheckpointTagPrefix(p string) Option {
	return func(h *Handler) { h.checkpointTag = p }
}
func WithLogger(l *nexuslog.Logger) Option       { return func(h *Handler) { h.log = l } }
func WithNotifier(n Notifier) Option             { return func(h *Handler) { h.notify = n } }
func WithFilesystem(fs Filesystem) Option        { return func(h *Handler) { h.fs = fs } }
func WithLimits(maxIterations, timeoutMins int) Option {
	return func(h *Handler) { h.maxIterations, h.timeoutMins = maxIterations, timeoutMins }
}

// New returns a Handler. commit is stored on the Handler, but
// CreateCheckpoint does not use it: the checkpoint commit message is
// "[checkpoint] Task <id8>" and the tag is "<checkpointTagPrefix>-<id8>",
// neither taking the iteration commit handler's message or tag prefix.
func New(sys revision.System, commit *commitlog.Handler, opts ...Option) *Handler {
	h := &Handler{
		sys:            sys,
		fs:             OSFilesystem{},
		log:            nexuslog.Nop(),
		commit:         commit,
		escalationsDir: defaultEscalationsDir,
		checkpointTag:  defaultCheckpointPref,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateCheckpoint commits any uncommitted changes with a
// "[checkpoint]" message and force-tags the head revision
// "<checkpointTagPrefix>-<id8>", re-tagging over any prior escalation
// checkpoint for the same task.
func (h *Handler) CreateCheckpoint(ctx context.Context, taskID string) (string, string, error) {
	dirty, err := h.sys.Dirty(ctx)
	if err != nil {
		return "", "", fmt.Errorf("escalation: check working copy: %w", err)
	}
	if dirty {
		if _, err := revision.Commit(ctx, h.sys, fmt.Sprintf("%s Task %s", checkpointCommitPrefix, id8(taskID))); err != nil {
			return "", "", fmt.Errorf("escalation: checkpoint commit: %w", err)
		}
	}

	rev, err := h.sys.Head(ctx)
	if err != nil {
		return "", "", fmt.Errorf("escalation: read head: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", h.checkpointTag, id8(taskID))
	if err := revision.Tag(ctx, h.sys, tag, rev); err != nil {
		h.log.Warn("escalation: failed to tag checkpoint %s: %v", tag, err)
		tag = ""
	}
	return rev, tag, nil
}

// Escalate creates a checkpoint, assembles the structured report, writes
// JSON and Markdown copies under the escalations directory, and notifies.
func (h *Handler) Escalate(ctx context.Context, taskID string, reason models.EscalationReason, iterationsCompleted int, errs []*models.ErrorEntry) (*models.EscalationReport, error) {
	rev, tag, err := h.CreateCheckpoint(ctx, taskID)
	if err != nil {
		return nil, err
	}

	report := &models.EscalationReport{
		TaskID:              taskID,
		Reason:              reason,
		IterationsCompleted: iterationsCompleted,
		Summary:             h.summary(reason, taskID, iterationsCompleted),
		LastErrors:          lastN(errs, maxReportedErrors),
		SuggestedActions:    h.suggestedActions(reason, errs),
		CheckpointRevision:  rev,
		CheckpointTag:       tag,
		CreatedAt:           time.Now(),
	}

	if err := h.persist(report); err != nil {
		return nil, err
	}

	h.notifyReport(report)
	return report, nil
}

func (h *Handler) summary(reason models.EscalationReason, taskID string, iterationsCompleted int) string {
	stem, ok := summaryStems[reason]
	if !ok {
		stem = "requires human attention"
	}
	switch reason {
	case models.ReasonMaxIterations:
		stem = fmt.Sprintf(stem, h.maxIterations)
	case models.ReasonTimeout:
		stem = fmt.Sprintf(stem, h.timeoutMins)
	}
	return fmt.Sprintf("Task %s %s after %d iteration(s).", id8(taskID), stem, iterationsCompleted)
}

// suggestedActions derives a list from the escalation reason plus the
// kinds of errors observed, always ending with a restore-via-checkpoint
// action.
func (h *Handler) suggestedActions(reason models.EscalationReason, errs []*models.ErrorEntry) []string {
	var actions []string

	kinds := make(map[models.ErrorKind]bool)
	for _, e := range errs {
		kinds[e.Kind] = true
	}

	if kinds[models.ErrorBuild] {
		actions = append(actions, "check for missing or mismatched dependencies")
	}
	if kinds[models.ErrorTest] {
		actions = append(actions, "review expected behavior against the failing tests")
	}
	if kinds[models.ErrorLint] {
		actions = append(actions, "run the linter locally and address outstanding findings")
	}
	if kinds[models.ErrorReview] {
		actions = append(actions, "address the reviewer's blocking comments")
	}

	switch reason {
	case models.ReasonRepeatedFailures:
		actions = append(actions, "consider rescoping the task into smaller units")
	case models.ReasonBlockingError:
		actions = append(actions, "investigate the blocking error manually before resuming")
	case models.ReasonAgentRequest:
		actions = append(actions, "review the agent's request for clarification")
	}

	actions = append(actions, "restore via checkpoint if the current state is unusable")
	return actions
}

func (h *Handler) persist(report *models.EscalationReport) error {
	if err := h.fs.Mkdir(h.escalationsDir, true); err != nil {
		return fmt.Errorf("escalation: create escalations dir: %w", err)
	}

	base := filepath.Join(h.escalationsDir, fmt.Sprintf("%s-%d", id8(report.TaskID), report.CreatedAt.Unix()))

	jsonBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("escalation: marshal report: %w", err)
	}
	if err := h.fs.WriteFile(base+".json", jsonBytes); err != nil {
		return fmt.Errorf("escalation: write json report: %w", err)
	}
	if err := h.fs.WriteFile(base+".md", []byte(renderMarkdown(report))); err != nil {
		return fmt.Errorf("escalation: write markdown report: %w", err)
	}
	return nil
}

func (h *Handler) notifyReport(report *models.EscalationReport) {
	h.log.Log("escalation: task %s escalated (%s), checkpoint %s", id8(report.TaskID), report.Reason, report.CheckpointTag)
	if h.notify != nil {
		h.notify(report)
	}
}

func renderMarkdown(r *models.EscalationReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Escalation: Task %s\n\n", id8(r.TaskID))
	fmt.Fprintf(&b, "- **Reason**: %s\n", r.Reason)
	fmt.Fprintf(&b, "- **Iterations completed**: %d\n", r.IterationsCompleted)
	fmt.Fprintf(&b, "- **Checkpoint revision**: %s\n", r.CheckpointRevision)
	if r.CheckpointTag != "" {
		fmt.Fprintf(&b, "- **Checkpoint tag**: %s\n", r.CheckpointTag)
	}
	fmt.Fprintf(&b, "- **Created at**: %s\n\n", r.CreatedAt.Format(time.RFC3339))

	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", r.Summary)

	fmt.Fprintf(&b, "## Last errors\n\n")
	if len(r.LastErrors) == 0 {
		b.WriteString("none recorded\n\n")
	} else {
		for _, e := range r.LastErrors {
			loc := e.Path
			if e.Line > 0 {
				loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
			}
			fmt.Fprintf(&b, "- [%s/%s] %s %s\n", e.Kind, e.Severity, loc, e.Message)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Suggested actions\n\n")
	for _, a := range r.SuggestedActions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	return b.String()
}

// lastN returns the last n entries of errs, preserving order, sorted so
// the most recently originated errors are considered "last" even if
// errs itself is unordered by iteration.
func lastN(errs []*models.ErrorEntry, n int) []*models.ErrorEntry {
	sorted := append([]*models.ErrorEntry(nil), errs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].IterationOfOrigin < sorted[j].IterationOfOrigin
	})
	if len(sorted) <= n {
		return sorted
	}
	return sorted[len(sorted)-n:]
}

func id8(taskID string) string {
	if len(taskID) <= 8 {
		return taskID
	}
	return taskID[:8]
}
