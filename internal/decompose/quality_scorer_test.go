package decompose

import (
	"testing"

	"github.com/nexus-build/nexus/pkg/models"
)

func TestScoreDecompositionPenalizesVagueBoundaries(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", Files: []string{"."}, AcceptanceCriteria: []string{"x"}},
	}
	q := ScoreDecomposition(tasks)
	if q.CriticalIssues == 0 {
		t.Fatal("expected a critical issue for a vague file boundary")
	}
	if q.TaskScores[0].Confidence >= 1.0 {
		t.Fatalf("confidence = %v, want < 1.0", q.TaskScores[0].Confidence)
	}
}

func TestScoreDecompositionPenalizesMissingAcceptanceCriteria(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", Files: []string{"internal/foo/foo.go"}},
	}
	q := ScoreDecomposition(tasks)
	if q.CriticalIssues == 0 {
		t.Fatal("expected a critical issue for missing acceptance criteria")
	}
}

func TestScoreDecompositionRewardsSpecificNonOverlappingTasks(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", Files: []string{"internal/foo/foo.go"}, AcceptanceCriteria: []string{"x"}},
		{ID: "b", Name: "b", Files: []string{"internal/bar/bar.go"}, AcceptanceCriteria: []string{"y"}},
	}
	q := ScoreDecomposition(tasks)
	if q.OverallConfidence < 0.9 {
		t.Fatalf("OverallConfidence = %v, want >= 0.9 for a clean decomposition", q.OverallConfidence)
	}
}

func TestScoreDecompositionPenalizesOverlap(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", Files: []string{"internal/foo/foo.go"}, AcceptanceCriteria: []string{"x"}},
		{ID: "b", Name: "b", Files: []string{"internal/foo/foo.go"}, AcceptanceCriteria: []string{"x"}},
	}
	q := ScoreDecomposition(tasks)
	for _, s := range q.TaskScores {
		if s.Confidence >= 1.0 {
			t.Fatalf("expected an overlap penalty, got confidence %v", s.Confidence)
		}
	}
}

func TestCalculateParallelismCountsIndependentTasks(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "a"},
		{ID: "b"},
		{ID: "c", DependsOn: []string{"a"}},
	}
	if got := calculateParallelism(tasks); got != 2 {
		t.Fatalf("calculateParallelism = %d, want 2", got)
	}
}

func TestCalculateDependencyDepth(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "a"},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}
	depth := calculateDependencyDepth(tasks[2], tasks)
	if depth != 3 {
		t.Fatalf("depth = %d, want 3", depth)
	}
}
