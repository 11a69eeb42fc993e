package erroragg

import (
	"strings"
	"testing"

	"github.com/nexus-build/nexus/pkg/models"
)

func entry(kind models.ErrorKind, sev models.Severity, msg, path string, line, iter int) *models.ErrorEntry {
	return &models.ErrorEntry{
		Kind: kind, Severity: sev, Message: msg, Path: path, Line: line, IterationOfOrigin: iter,
	}
}

func TestAddDedupesAndNewestWins(t *testing.T) {
	agg := New()
	agg.Add([]*models.ErrorEntry{entry(models.ErrorBuild, models.SeverityError, "undefined: foo", "a.go", 10, 1)})
	agg.Add([]*models.ErrorEntry{entry(models.ErrorBuild, models.SeverityError, "undefined: foo", "a.go", 10, 3)})

	unique := agg.Unique()
	if len(unique) != 1 {
		t.Fatalf("expected 1 unique entry, got %d", len(unique))
	}
	if unique[0].IterationOfOrigin != 3 {
		t.Errorf("expected newest iteration (3) to win, got %d", unique[0].IterationOfOrigin)
	}
}

func TestUniqueOrderingBySeverityThenKindThenIteration(t *testing.T) {
	agg := New()
	agg.Add([]*models.ErrorEntry{
		entry(models.ErrorLint, models.SeverityWarning, "lint warn", "b.go", 1, 1),
		entry(models.ErrorBuild, models.SeverityError, "build err", "a.go", 1, 1),
		entry(models.ErrorTest, models.SeverityError, "test err old", "c.go", 1, 1),
		entry(models.ErrorTest, models.SeverityError, "test err new", "d.go", 1, 2),
	})

	got := agg.Unique()
	if len(got) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(got))
	}
	// severity=error entries sort before severity=warning; among equal
	// severity, kind priority (build < test); among equal kind, newest
	// iteration first.
	if got[0].Kind != models.ErrorBuild {
		t.Errorf("entry 0 kind = %s, want build", got[0].Kind)
	}
	if got[len(got)-1].Kind != models.ErrorLint {
		t.Errorf("last entry kind = %s, want lint (only warning)", got[len(got)-1].Kind)
	}
}

func TestOfKindFilters(t *testing.T) {
	agg := New()
	agg.Add([]*models.ErrorEntry{
		entry(models.ErrorBuild, models.SeverityError, "e1", "a.go", 1, 1),
		entry(models.ErrorLint, models.SeverityWarning, "e2", "b.go", 1, 1),
	})
	buildOnly := agg.OfKind(models.ErrorBuild)
	if len(buildOnly) != 1 || buildOnly[0].Message != "e1" {
		t.Errorf("OfKind(build) = %v, want just e1", buildOnly)
	}
}

func TestTrimDropsOldestWhenOverCapacity(t *testing.T) {
	agg := New()
	for i := 0; i < 150; i++ {
		agg.Add([]*models.ErrorEntry{entry(models.ErrorTest, models.SeverityError, "m", "f.go", i, i)})
	}
	unique := agg.Unique()
	if len(unique) != maxErrors {
		t.Fatalf("expected trimming to %d entries, got %d", maxErrors, len(unique))
	}
	for _, e := range unique {
		if e.IterationOfOrigin < 50 {
			t.Errorf("expected oldest 50 entries trimmed, found iteration %d retained", e.IterationOfOrigin)
		}
	}
}

func TestClear(t *testing.T) {
	agg := New()
	agg.Add([]*models.ErrorEntry{entry(models.ErrorBuild, models.SeverityError, "e", "a.go", 1, 1)})
	agg.Clear()
	if len(agg.Unique()) != 0 {
		t.Error("expected empty aggregator after Clear")
	}
}

func TestFormatGroupsByKind(t *testing.T) {
	agg := New()
	agg.Add([]*models.ErrorEntry{
		entry(models.ErrorBuild, models.SeverityError, "build broke", "a.go", 5, 1),
		entry(models.ErrorLint, models.SeverityWarning, "lint nit", "b.go", 0, 1),
	})
	out := agg.Format()
	if !strings.Contains(out, "BUILD (1)") || !strings.Contains(out, "LINT (1)") {
		t.Errorf("Format output missing kind headers: %s", out)
	}
	if strings.Index(out, "BUILD") > strings.Index(out, "LINT") {
		t.Error("expected BUILD group to render before LINT group")
	}
}

func TestFormatEmpty(t *testing.T) {
	agg := New()
	if got := agg.Format(); got != "no errors recorded" {
		t.Errorf("Format() on empty aggregator = %q", got)
	}
}
