package learning

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-build/nexus/pkg/models"
)

func newTestSystem(t *testing.T) *LearningSystem {
	t.Helper()
	ls, err := NewLearningSystem(filepath.Join(t.TempDir(), "memories.db"))
	if err != nil {
		t.Fatalf("NewLearningSystem: %v", err)
	}
	t.Cleanup(func() { ls.Close() })
	return ls
}

func TestCaptureEscalationThenRetrieve(t *testing.T) {
	ls := newTestSystem(t)

	if err := ls.CaptureEscalation("task-1", "build kept failing", "undefined: Foo\nundefined: Bar"); err != nil {
		t.Fatalf("CaptureEscalation: %v", err)
	}

	got, err := ls.Retrieve("undefined Foo", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected the captured escalation to be retrievable")
	}
}

func TestCaptureEscalationFallsBackToSummaryWhenOutputIsBlank(t *testing.T) {
	ls := newTestSystem(t)

	if err := ls.CaptureEscalation("task-1", "repeated lint failures in widgets", "   \n"); err != nil {
		t.Fatalf("CaptureEscalation: %v", err)
	}

	got, err := ls.Retrieve("lint widgets", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly the summary fallback to be stored, got %d", len(got))
	}
}

func TestRetrieveEmptyWhenNoMemories(t *testing.T) {
	ls := newTestSystem(t)

	got, err := ls.Retrieve("anything", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no memories, got %v", got)
	}
}

func TestCaptureIterationStoresOnlyEntriesWithFixSuggestions(t *testing.T) {
	ls := newTestSystem(t)

	rec := &models.IterationRecord{
		Iteration: 3,
		Errors: []*models.ErrorEntry{
			{Kind: models.ErrorBuild, Severity: models.SeverityError, Message: "undefined: Baz", FixSuggestion: "import the baz package"},
			{Kind: models.ErrorLint, Severity: models.SeverityWarning, Message: "unused import"},
		},
		Timestamp: time.Now(),
	}

	if err := ls.CaptureIteration("task-2", rec); err != nil {
		t.Fatalf("CaptureIteration: %v", err)
	}

	got, err := ls.Retrieve("undefined Baz", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one memory with a fix suggestion, got %d", len(got))
	}
	if got[0].FixSuggestion != "import the baz package" {
		t.Errorf("FixSuggestion = %q, want %q", got[0].FixSuggestion, "import the baz package")
	}

	none, err := ls.Retrieve("unused import", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected the fix-suggestion-less entry to be skipped, got %d", len(none))
	}
}
