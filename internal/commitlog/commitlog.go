// Package commitlog implements the IterationCommitHandler: it snapshots
// each iteration of a TaskRun into the revision system, tags it, and can
// roll a task back to any previously recorded iteration.
package commitlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexus-build/nexus/internal/nexuslog"
	"github.com/nexus-build/nexus/internal/revision"
	"github.com/nexus-build/nexus/pkg/models"
)

// ErrNoChanges is returned by Commit when the working copy has nothing
// to stage and forceCommit was not requested.
var ErrNoChanges = errors.New("commitlog: no changes to commit")

const (
	defaultMessagePrefix = "[nexus]"
	defaultTagPrefix     = "nexus-checkpoint"
	messageFirstLineCap  = 72
)

// Handler is the IterationCommitHandler. One Handler is created per
// TaskRun's working copy.
type Handler struct {
	sys           revision.System
	log           *nexuslog.Logger
	messagePrefix string
	tagPrefix     string

	registry map[string][]*models.CommitRegistryEntry // keyed by full taskID
}

// Option configures a Handler.
type Option func(*Handler)

// WithMessagePrefix overrides the default "[nexus]" commit message prefix.
func WithMessagePrefix(prefix string) Option {
	return func(h *Handler) { h.messagePrefix = prefix }
}

// WithTagPrefix overrides the default "nexus-checkpoint" tag prefix.
func WithTagPrefix(prefix string) Option {
	return func(h *Handler) { h.tagPrefix = prefix }
}

// WithLogger attaches a logger for best-effort warnings (tag failures).
func WithLogger(l *nexuslog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// New returns a Handler operating against sys.
func New(sys revision.System, opts ...Option) *Handler {
	h := &Handler{
		sys:           sys,
		log:           nexuslog.Nop(),
		messagePrefix: defaultMessagePrefix,
		tagPrefix:     defaultTagPrefix,
		registry:      make(map[string][]*models.CommitRegistryEntry),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// id8 truncates a task ID to 8 characters, the form used in every
// derived commit message, tag name and log line.
func id8(taskID string) string {
	if len(taskID) <= 8 {
		return taskID
	}
	return taskID[:8]
}

// buildMessage forms "<prefix> Task <id8> - Iteration <n>[: <summary>]",
// moving summary to a body line when the first line would exceed 72
// characters.
func buildMessage(prefix, taskID string, iteration int, summary string) string {
	first := fmt.Sprintf("%s Task %s - Iteration %d", prefix, id8(taskID), iteration)
	if summary == "" {
		return first
	}
	withSummary := fmt.Sprintf("%s: %s", first, summary)
	if len(withSummary) <= messageFirstLineCap {
		return withSummary
	}
	return first + "\n\n" + summary
}

// Commit stages all changes in the working copy and commits them with a
// derived message, returning the new revision. If the working copy is
// clean, it returns ErrNoChanges unless forceCommit is true, in which
// case an empty commit is created. Tagging is best-effort: a tag failure
// is logged as a warning, never returned as an error.
func (h *Handler) Commit(ctx context.Context, taskID string, iteration int, summary string, forceCommit bool) (string, error) {
	dirty, err := h.sys.Dirty(ctx)
	if err != nil {
		return "", fmt.Errorf("commitlog: check working copy: %w", err)
	}
	if !dirty && !forceCommit {
		return "", ErrNoChanges
	}

	message := buildMessage(h.messagePrefix, taskID, iteration, summary)
	rev, err := revision.Commit(ctx, h.sys, message)
	if err != nil {
		return "", fmt.Errorf("commitlog: commit: %w", err)
	}

	tagName := fmt.Sprintf("%s-%s-%d", h.tagPrefix, id8(taskID), iteration)
	if err := revision.Tag(ctx, h.sys, tagName, rev); err != nil {
		h.log.Warn("commitlog: failed to tag %s: %v", tagName, err)
		tagName = ""
	}

	entry := &models.CommitRegistryEntry{
		TaskID:       taskID,
		Iteration:    iteration,
		RevisionHash: rev,
		TagName:      tagName,
		Message:      message,
	}
	h.registry[taskID] = upsertEntry(h.registry[taskID], entry)

	return rev, nil
}

// upsertEntry maintains the "at most one entry per (taskId, iteration)"
// invariant, replacing any existing entry for the same iteration.
func upsertEntry(entries []*models.CommitRegistryEntry, next *models.CommitRegistryEntry) []*models.CommitRegistryEntry {
	for i, e := range entries {
		if e.Iteration == next.Iteration {
			entries[i] = next
			return entries
		}
	}
	return append(entries, next)
}

// Rollback hard-resets the working copy to the revision recorded for
// (taskID, iteration), cleans untracked files, and drops every registry
// entry with a later iteration.
func (h *Handler) Rollback(ctx context.Context, taskID string, iteration int) error {
	rev, ok := h.RevisionFor(taskID, iteration)
	if !ok {
		return fmt.Errorf("commitlog: no recorded revision for task %s iteration %d", id8(taskID), iteration)
	}
	if err := revision.Reset(ctx, h.sys, rev); err != nil {
		return fmt.Errorf("commitlog: reset: %w", err)
	}
	if _, err := h.sys.Run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("commitlog: clean untracked files: %w", err)
	}

	var kept []*models.CommitRegistryEntry
	for _, e := range h.registry[taskID] {
		if e.Iteration <= iteration {
			kept = append(kept, e)
		}
	}
	h.registry[taskID] = kept
	return nil
}

// RevisionFor returns the revision recorded for (taskID, iteration), if any.
func (h *Handler) RevisionFor(taskID string, iteration int) (string, bool) {
	for _, e := range h.registry[taskID] {
		if e.Iteration == iteration {
			return e.RevisionHash, true
		}
	}
	return "", false
}

// Entries returns every registry entry recorded for taskID, in
// iteration order.
func (h *Handler) Entries(taskID string) []*models.CommitRegistryEntry {
	return append([]*models.CommitRegistryEntry(nil), h.registry[taskID]...)
}

// LatestRevision returns the most recently recorded revision for taskID.
func (h *Handler) LatestRevision(taskID string) (string, bool) {
	entries := h.registry[taskID]
	if len(entries) == 0 {
		return "", false
	}
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.Iteration > latest.Iteration {
			latest = e
		}
	}
	return latest.RevisionHash, true
}
