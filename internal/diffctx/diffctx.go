// Package diffctx implements the DiffContextBuilder: computing and
// formatting the per-iteration and cumulative source diffs an agent step
// is given as context.
package diffctx

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nexus-build/nexus/internal/revision"
	"github.com/nexus-build/nexus/pkg/models"
)

const charsPerToken = 4

// budgetTruncationMarker marks where Format cut content to fit the token
// budget; fileTruncationMarker marks a per-file line cap, which can fire
// well under budget. Keeping them distinct stops a line-cap trim from
// reading as "the whole diff ran over budget" when it didn't.
const budgetTruncationMarker = "\n... (content truncated)\n"
const fileTruncationMarker = "\n... (file truncated)\n"

// Builder is the DiffContextBuilder.
type Builder struct {
	sys revision.System
}

// New returns a Builder operating against sys.
func New(sys revision.System) *Builder {
	return &Builder{sys: sys}
}

// DiffBetween computes the Diff from fromRev to toRev. An empty toRev
// defaults to the current head of the working copy. Any error from the
// revision system (most commonly an unknown revision) degrades to an
// empty Diff carrying an explanatory Summary rather than being returned
// as an error.
func (b *Builder) DiffBetween(ctx context.Context, fromRev, toRev string) *models.Diff {
	if toRev == "" {
		head, err := b.sys.Head(ctx)
		if err != nil {
			return emptyDiff(fromRev, toRev, fmt.Sprintf("could not resolve working copy head: %v", err))
		}
		toRev = head
	}

	raw, err := revision.Diff(ctx, b.sys, fromRev, toRev)
	if err != nil {
		return emptyDiff(fromRev, toRev, fmt.Sprintf("could not diff %s..%s: %v", shortRev(fromRev), shortRev(toRev), err))
	}

	numstat, err := revision.NumstatDiff(ctx, b.sys, fromRev, toRev)
	if err != nil {
		return emptyDiff(fromRev, toRev, fmt.Sprintf("could not compute stats for %s..%s: %v", shortRev(fromRev), shortRev(toRev), err))
	}

	nameStatus, err := revision.NameStatusDiff(ctx, b.sys, fromRev, toRev)
	if err != nil {
		return emptyDiff(fromRev, toRev, fmt.Sprintf("could not classify changes for %s..%s: %v", shortRev(fromRev), shortRev(toRev), err))
	}

	files := mergeFileStats(numstat, nameStatus)
	return &models.Diff{
		FromRev: fromRev,
		ToRev:   toRev,
		Files:   files,
		Summary: summarize(files),
		Raw:     raw,
	}
}

// CumulativeDiff computes the Diff from baseRev to the current head,
// representing everything accumulated across a run so far.
func (b *Builder) CumulativeDiff(ctx context.Context, baseRev string) *models.Diff {
	return b.DiffBetween(ctx, baseRev, "")
}

func emptyDiff(fromRev, toRev, reason string) *models.Diff {
	return &models.Diff{FromRev: fromRev, ToRev: toRev, Summary: reason}
}

func shortRev(rev string) string {
	if rev == "" {
		return "(none)"
	}
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// mergeFileStats combines `--numstat` (additions/deletions, binary
// marker) and `--name-status` (add/modify/delete/rename classification)
// output into one FileChange list.
func mergeFileStats(numstat, nameStatus string) []models.FileChange {
	statusByPath := parseNameStatus(nameStatus)

	var files []models.FileChange
	for _, line := range strings.Split(numstat, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) != 3 {
			continue
		}
		additions, adds := parseStatField(fields[0])
		deletions, dels := parseStatField(fields[1])
		path := fields[2]

		kind := models.FileModified
		if k, ok := statusByPath[path]; ok {
			kind = k
		}
		if !adds && !dels {
			// Binary files report "-" for both numstat columns.
			additions, deletions = 0, 0
		}

		files = append(files, models.FileChange{
			Path:      path,
			Kind:      kind,
			Additions: additions,
			Deletions: deletions,
		})
	}
	return files
}

func parseStatField(field string) (int, bool) {
	n, err := strconv.Atoi(field)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseNameStatus maps each touched path to its FileChangeKind from
// `git diff --name-status` output (A/M/D/R### lines).
func parseNameStatus(out string) map[string]models.FileChangeKind {
	result := make(map[string]models.FileChangeKind)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		code := fields[0]
		var kind models.FileChangeKind
		switch {
		case strings.HasPrefix(code, "A"):
			kind = models.FileAdded
		case strings.HasPrefix(code, "D"):
			kind = models.FileDeleted
		case strings.HasPrefix(code, "R"):
			kind = models.FileRenamed
			if len(fields) >= 3 {
				result[fields[2]] = kind
				continue
			}
		default:
			kind = models.FileModified
		}
		result[fields[1]] = kind
	}
	return result
}

func summarize(files []models.FileChange) string {
	if len(files) == 0 {
		return "no files changed"
	}
	var additions, deletions int
	for _, f := range files {
		additions += f.Additions
		deletions += f.Deletions
	}
	return fmt.Sprintf("%d file(s) changed, +%d/-%d", len(files), additions, deletions)
}

// FormatOptions controls Format's rendering.
type FormatOptions struct {
	// MaxTokens bounds the rendered output; 0 means the default (5000).
	MaxTokens int
	// FileListOnly renders only the file list and summary, omitting hunks.
	FileListOnly bool
	// MaxLinesPerFile caps lines of raw diff shown per file; 0 means the
	// default (50).
	MaxLinesPerFile int
}

func (o FormatOptions) resolved() FormatOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 5000
	}
	if o.MaxLinesPerFile <= 0 {
		o.MaxLinesPerFile = 50
	}
	return o
}

// Format renders a Diff to text within the given token budget, using a
// fixed ~4-chars-per-token heuristic. Truncation happens at line
// boundaries and is marked with an explicit footer.
func Format(d *models.Diff, opts FormatOptions) string {
	opts = opts.resolved()
	maxChars := opts.MaxTokens * charsPerToken

	var b strings.Builder
	fmt.Fprintf(&b, "Diff %s..%s: %s\n", shortRev(d.FromRev), shortRev(d.ToRev), d.Summary)
	for _, f := range d.Files {
		fmt.Fprintf(&b, "  %s %s (+%d/-%d)\n", f.Kind, f.Path, f.Additions, f.Deletions)
	}

	if opts.FileListOnly || d.Raw == "" {
		return capToBudget(b.String(), maxChars)
	}

	b.WriteString("\n")
	perFileBudget := opts.MaxLinesPerFile
	for _, hunk := range splitByFile(d.Raw) {
		lines := strings.Split(hunk, "\n")
		truncated := false
		if len(lines) > perFileBudget {
			lines = lines[:perFileBudget]
			truncated = true
		}
		b.WriteString(strings.Join(lines, "\n"))
		if truncated {
			b.WriteString(fileTruncationMarker)
		}
		b.WriteString("\n")

		if b.Len() > maxChars {
			break
		}
	}

	return capToBudget(b.String(), maxChars)
}

// splitByFile breaks a unified diff into per-file chunks on "diff --git"
// boundaries.
func splitByFile(raw string) []string {
	lines := strings.Split(raw, "\n")
	var chunks []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(line, "diff --git") && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n"))
	}
	return chunks
}

// capToBudget truncates s at a line boundary to fit within maxChars,
// appending a truncation marker if anything was cut. The marker itself
// counts against maxChars so the result never exceeds it.
func capToBudget(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	if maxChars <= 0 {
		return ""
	}
	budget := maxChars - len(budgetTruncationMarker)
	if budget < 0 {
		// maxChars is too small to fit the marker itself; hard-truncate.
		return s[:maxChars]
	}
	cut := s[:budget]
	if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
		cut = cut[:idx]
	}
	return cut + budgetTruncationMarker
}
