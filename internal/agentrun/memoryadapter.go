package agentrun

import (
	"context"
	"fmt"

	"github.com/nexus-build/nexus/internal/learning"
	"github.com/nexus-build/nexus/pkg/models"
)

// MemoryAdapter bridges a learning.LearningSystem's Memory-slice results
// onto ctxbuild.MemorySource's plain-string-slice interface, formatting each
// retrieved memory as a line the agent prompt renders alongside its other
// context sections. It also captures new memories from escalated tasks, so
// the next task that matches a similar failure sees it in context instead of
// repeating the mistake.
type MemoryAdapter struct {
	system *learning.LearningSystem
}

func NewMemoryAdapter(system *learning.LearningSystem) *MemoryAdapter {
	return &MemoryAdapter{system: system}
}

func (m *MemoryAdapter) Retrieve(ctx context.Context, query string, k int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	memories, err := m.system.Retrieve(query, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve memories: %w", err)
	}

	out := make([]string, len(memories))
	for i, mem := range memories {
		if mem.FixSuggestion != "" {
			out[i] = fmt.Sprintf("%s: %s -> %s", mem.Kind, mem.Summary, mem.FixSuggestion)
		} else {
			out[i] = fmt.Sprintf("%s: %s", mem.Kind, mem.Summary)
		}
	}
	return out, nil
}

// CaptureEscalation stores an escalated task's error output as future
// retrievable memories.
func (m *MemoryAdapter) CaptureEscalation(taskID, summary, errOutput string) error {
	return m.system.CaptureEscalation(taskID, summary, errOutput)
}

// CaptureIteration stores any fix suggestions from rec's errors as future
// retrievable memories, whether or not the task ultimately escalated.
func (m *MemoryAdapter) CaptureIteration(taskID string, rec *models.IterationRecord) error {
	return m.system.CaptureIteration(taskID, rec)
}
