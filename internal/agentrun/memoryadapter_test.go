package agentrun

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nexus-build/nexus/internal/learning"
	"github.com/nexus-build/nexus/pkg/models"
)

func newTestMemorySystem(t *testing.T) *learning.LearningSystem {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "memories.db")
	sys, err := learning.NewLearningSystem(dbPath)
	if err != nil {
		t.Fatalf("NewLearningSystem: %v", err)
	}
	t.Cleanup(func() { sys.Close() })
	return sys
}

func TestMemoryAdapterCaptureEscalationThenRetrieve(t *testing.T) {
	sys := newTestMemorySystem(t)
	adapter := NewMemoryAdapter(sys)

	if err := adapter.CaptureEscalation("task-1", "build kept failing", "undefined: Foo"); err != nil {
		t.Fatalf("CaptureEscalation: %v", err)
	}

	got, err := adapter.Retrieve(context.Background(), "undefined Foo", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected the captured memory to be retrievable")
	}
}

func TestMemoryAdapterRetrieveEmptyWhenNoMemories(t *testing.T) {
	sys := newTestMemorySystem(t)
	adapter := NewMemoryAdapter(sys)

	got, err := adapter.Retrieve(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no memories, got %v", got)
	}
}

func TestMemoryAdapterCaptureIterationStoresFixSuggestions(t *testing.T) {
	sys := newTestMemorySystem(t)
	adapter := NewMemoryAdapter(sys)

	rec := &models.IterationRecord{
		Errors: []*models.ErrorEntry{
			{Kind: models.ErrorBuild, Severity: models.SeverityError, Message: "undefined: Bar", FixSuggestion: "add the import"},
		},
	}
	if err := adapter.CaptureIteration("task-2", rec); err != nil {
		t.Fatalf("CaptureIteration: %v", err)
	}

	got, err := adapter.Retrieve(context.Background(), "undefined Bar", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one retrieved memory, got %d", len(got))
	}
}
