// Package erroragg implements the ErrorAggregator: the per-TaskRun
// collector that deduplicates, prioritizes and renders the failures
// observed across a task's iterations so the next agent step sees a
// bounded, ranked summary instead of raw QA output.
package erroragg

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nexus-build/nexus/pkg/models"
)

// maxErrors is the cap on retained entries; once exceeded, the oldest
// entries (by iteration-of-origin, ties broken by insertion order) are
// trimmed first.
const maxErrors = 100

// kindPriority ranks ErrorKind for rendering order: build first, runtime
// last, matching the teacher's gate classification where build/compile
// failures are the most actionable and runtime failures the least.
var kindPriority = map[models.ErrorKind]int{
	models.ErrorBuild:   0,
	models.ErrorLint:    1,
	models.ErrorTest:    2,
	models.ErrorReview:  3,
	models.ErrorRuntime: 4,
}

var severityPriority = map[models.Severity]int{
	models.SeverityError:   0,
	models.SeverityWarning: 1,
	models.SeverityInfo:    2,
}

// Aggregator holds the deduplicated error set for one TaskRun. It is not
// safe for concurrent use; the IterationEngine owns it for the run's
// duration and calls it sequentially between iterations.
type Aggregator struct {
	entries map[models.ErrorKey]*models.ErrorEntry
	order   []models.ErrorKey // insertion order, for stable trimming on ties
}

// New returns an empty Aggregator.
func New() *Aggregator {
	return &Aggregator{entries: make(map[models.ErrorKey]*models.ErrorEntry)}
}

// Add merges a batch of newly observed errors into the set. On a
// dedup-key collision, the entry with the higher IterationOfOrigin wins;
// the teacher's regression comparison has the same "newest observation
// wins" bias (internal/agent/baseline.go's CompareToBaseline treats the
// current gate run, not the baseline, as authoritative for presence).
func (a *Aggregator) Add(errs []*models.ErrorEntry) {
	for _, e := range errs {
		key := e.Key()
		existing, ok := a.entries[key]
		if !ok {
			a.entries[key] = e
			a.order = append(a.order, key)
			continue
		}
		if e.IterationOfOrigin >= existing.IterationOfOrigin {
			a.entries[key] = e
		}
	}
	a.trim()
}

// trim drops the oldest entries (by IterationOfOrigin, oldest insertion
// first on ties) once the set exceeds maxErrors.
func (a *Aggregator) trim() {
	if len(a.entries) <= maxErrors {
		return
	}
	kept := a.order[:0:0]
	sortable := append([]models.ErrorKey(nil), a.order...)
	sort.SliceStable(sortable, func(i, j int) bool {
		return a.entries[sortable[i]].IterationOfOrigin < a.entries[sortable[j]].IterationOfOrigin
	})
	drop := len(a.entries) - maxErrors
	dropped := make(map[models.ErrorKey]bool, drop)
	for i := 0; i < drop; i++ {
		dropped[sortable[i]] = true
		delete(a.entries, sortable[i])
	}
	for _, k := range a.order {
		if !dropped[k] {
			kept = append(kept, k)
		}
	}
	a.order = kept
}

// Unique returns every retained entry, ordered by the rendering priority:
// severity (error > warning > info), then kind (build > lint > test >
// review > runtime), then newest iteration first.
func (a *Aggregator) Unique() []*models.ErrorEntry {
	out := make([]*models.ErrorEntry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// OfKind returns only the retained entries of the given kind, in the
// same priority order as Unique.
func (a *Aggregator) OfKind(kind models.ErrorKind) []*models.ErrorEntry {
	out := make([]*models.ErrorEntry, 0)
	for _, e := range a.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []*models.ErrorEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if severityPriority[a.Severity] != severityPriority[b.Severity] {
			return severityPriority[a.Severity] < severityPriority[b.Severity]
		}
		if kindPriority[a.Kind] != kindPriority[b.Kind] {
			return kindPriority[a.Kind] < kindPriority[b.Kind]
		}
		return a.IterationOfOrigin > b.IterationOfOrigin
	})
}

// Clear removes every retained entry.
func (a *Aggregator) Clear() {
	a.entries = make(map[models.ErrorKey]*models.ErrorEntry)
	a.order = nil
}

// Format renders the retained entries grouped by kind, each group
// preceded by a one-line summary header, in kind priority order.
func (a *Aggregator) Format() string {
	if len(a.entries) == 0 {
		return "no errors recorded"
	}

	var kinds []models.ErrorKind
	for k := range kindPriority {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kindPriority[kinds[i]] < kindPriority[kinds[j]] })

	var b strings.Builder
	for _, kind := range kinds {
		group := a.OfKind(kind)
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s (%d)\n", strings.ToUpper(string(kind)), len(group))
		for _, e := range group {
			loc := e.Path
			if e.Line > 0 {
				loc = fmt.Sprintf("%s:%d", e.Path, e.Line)
			}
			if loc != "" {
				fmt.Fprintf(&b, "  [%s] %s: %s\n", e.Severity, loc, e.Message)
			} else {
				fmt.Fprintf(&b, "  [%s] %s\n", e.Severity, e.Message)
			}
			if e.FixSuggestion != "" {
				fmt.Fprintf(&b, "    suggestion: %s\n", e.FixSuggestion)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
