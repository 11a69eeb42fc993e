package decompose

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nexus-build/nexus/pkg/models"
)

func TestValidateFlagsMissingFileBoundary(t *testing.T) {
	dir := t.TempDir()
	v := NewValidator(dir)
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", Files: []string{"does/not/exist.go"}, AcceptanceCriteria: []string{"x"}},
	}
	result := v.Validate(tasks)
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for a nonexistent file boundary")
	}
}

func TestValidateAcceptsExistingBoundary(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "internal", "foo"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "internal", "foo", "foo.go"), []byte("package foo"), 0o644); err != nil {
		t.Fatal(err)
	}

	v := NewValidator(dir)
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", Files: []string{"internal/foo/foo.go"}, AcceptanceCriteria: []string{"x"}},
	}
	result := v.Validate(tasks)
	if !result.Valid {
		t.Fatalf("expected Valid=true, got errors: %v", result.Errors)
	}
}

func TestValidateRejectsCycles(t *testing.T) {
	v := NewValidator(t.TempDir())
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", DependsOn: []string{"b"}, AcceptanceCriteria: []string{"x"}},
		{ID: "b", Name: "b", DependsOn: []string{"a"}, AcceptanceCriteria: []string{"x"}},
	}
	result := v.Validate(tasks)
	if result.Valid {
		t.Fatal("expected Valid=false for a cyclic dependency graph")
	}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	v := NewValidator(t.TempDir())
	tasks := []*models.TaskSpec{
		{ID: "a", Name: "a", DependsOn: []string{"ghost"}, AcceptanceCriteria: []string{"x"}},
	}
	result := v.Validate(tasks)
	if result.Valid {
		t.Fatal("expected Valid=false for a dependency on a nonexistent task")
	}
}

func TestValidateRejectsMissingName(t *testing.T) {
	v := NewValidator(t.TempDir())
	tasks := []*models.TaskSpec{
		{ID: "a", AcceptanceCriteria: []string{"x"}},
	}
	result := v.Validate(tasks)
	if result.Valid {
		t.Fatal("expected Valid=false for a task with no name")
	}
}
