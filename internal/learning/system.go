package learning

import (
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/pkg/models"
)

// LearningSystem is the escalation-memory entry point: capture what an
// escalated task's error output looked like, and retrieve memories from
// past escalations relevant to a new task's description.
type LearningSystem struct {
	store *Store
}

// NewLearningSystem opens a LearningSystem backed by the store at dbPath.
func NewLearningSystem(dbPath string) (*LearningSystem, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &LearningSystem{store: store}, nil
}

// Close releases the underlying store.
func (ls *LearningSystem) Close() error {
	return ls.store.Close()
}

// Store returns the underlying Store for direct access (used by the CLI).
func (ls *LearningSystem) Store() *Store {
	return ls.store
}

// Retrieve returns up to k memories whose summary or fix suggestion best
// matches query.
func (ls *LearningSystem) Retrieve(query string, k int) ([]*Memory, error) {
	return ls.store.Search(query, k)
}

// CaptureEscalation records one memory per non-blank line in errOutput
// (repeated lines are stored again), tagged with taskID; when errOutput has
// no such line it records summary instead. Nexus has no interactive
// confirmation step, so every captured line is stored directly.
func (ls *LearningSystem) CaptureEscalation(taskID, summary, errOutput string) error {
	lines := strings.Split(strings.TrimSpace(errOutput), "\n")
	stored := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := &Memory{
			TaskID:   taskID,
			Kind:     models.ErrorRuntime,
			Severity: models.SeverityError,
			Summary:  line,
		}
		if err := ls.store.Record(m); err != nil {
			return fmt.Errorf("capture escalation memory: %w", err)
		}
		stored++
	}

	if stored == 0 && summary != "" {
		return ls.store.Record(&Memory{
			TaskID:   taskID,
			Kind:     models.ErrorRuntime,
			Severity: models.SeverityError,
			Summary:  summary,
		})
	}
	return nil
}

// CaptureIteration records one memory per error entry observed during rec
// that has a fix suggestion (entries without one are skipped), carrying the
// entry's own kind, severity and fix suggestion. This is how a
// non-escalated iteration's fixes still become future retrievable memories.
func (ls *LearningSystem) CaptureIteration(taskID string, rec *models.IterationRecord) error {
	for _, e := range rec.Errors {
		if e.FixSuggestion == "" {
			continue
		}
		m := &Memory{
			TaskID:        taskID,
			Kind:          e.Kind,
			Severity:      e.Severity,
			Summary:       e.Message,
			FixSuggestion: e.FixSuggestion,
		}
		if err := ls.store.Record(m); err != nil {
			return fmt.Errorf("capture iteration memory: %w", err)
		}
	}
	return nil
}
