// Package ctxbuild implements the FreshContextBuilder: assembling a
// token-budgeted ContextPack for an agent at the start of every
// iteration. The builder is stateless across iterations — nothing here
// is cached from one call to the next, so each pack reflects the current
// working copy rather than stale assumptions.
package ctxbuild

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-build/nexus/pkg/models"
)

const charsPerToken = 4
const defaultTokenBudget = 8000

// MemorySource retrieves prior-run memories relevant to a task or error,
// standing in for the CheckpointStore's learning retrieval.
type MemorySource interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// FileSource lists and reads candidate files from the working copy.
type FileSource interface {
	ListFiles(ctx context.Context) ([]string, error)
	ReadFile(ctx context.Context, path string) (string, error)
}

// Embedder is the subset of the EmbeddingsService the builder needs for
// candidate ranking.
type Embedder interface {
	Embed(text string) []float64
	TopK(query []float64, candidates [][]float64, k int) []Match
}

// Match mirrors embed.Match without importing internal/embed, keeping
// this package's collaborator surface a plain interface.
type Match struct {
	Index int
	Score float64
}

// ProjectInfo supplies the static, slow-changing parts of a ContextPack:
// the project map, architecture summary, recognized patterns and public
// API listing. These change rarely enough that computing them is the
// caller's responsibility, not the builder's.
type ProjectInfo struct {
	Map          string
	Architecture string
	Patterns     []string
	PublicAPIs   []string
}

// Builder is the FreshContextBuilder.
type Builder struct {
	files    FileSource
	memory   MemorySource
	embedder Embedder
	project  ProjectInfo
	budget   int
}

// Option configures a Builder.
type Option func(*Builder)

func WithProjectInfo(p ProjectInfo) Option   { return func(b *Builder) { b.project = p } }
func WithMemorySource(m MemorySource) Option { return func(b *Builder) { b.memory = m } }
func WithEmbedder(e Embedder) Option         { return func(b *Builder) { b.embedder = e } }
func WithTokenBudget(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.budget = n
		}
	}
}

// New returns a Builder over files. memory/embedder are optional; a nil
// MemorySource yields no memories, a nil Embedder skips ranking and
// simply takes the first candidates in listing order.
func New(files FileSource, opts ...Option) *Builder {
	b := &Builder{files: files, budget: defaultTokenBudget}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// section names used for validation's per-section token breakdown and
// for the lowest-priority-first trim order.
const (
	sectionMap      = "map"
	sectionDocs     = "docs"
	sectionFiles    = "files"
	sectionPatterns = "patterns"
	sectionSnippets = "snippets"
	sectionMemories = "memories"
	sectionTaskEcho = "task"
)

// trimOrder lists sections from lowest to highest priority: the first
// dropped when a pack exceeds budget is memories, last is the map.
var trimOrder = []string{sectionMemories, sectionSnippets, sectionPatterns, sectionFiles, sectionDocs, sectionMap}

// Build assembles a ContextPack for task at the given iteration hint,
// trimming lowest-priority sections first until the pack fits its token
// budget.
func (b *Builder) Build(ctx context.Context, task *models.TaskSpec, iterationHint int) (*models.ContextPack, error) {
	if task == nil {
		return nil, fmt.Errorf("ctxbuild: task spec is nil")
	}

	pack := &models.ContextPack{
		ID:                  uuid.NewString(),
		TaskID:              task.ID,
		IterationHint:       iterationHint,
		ProjectMap:          b.project.Map,
		ArchitectureSummary: b.project.Architecture,
		Patterns:            append([]string(nil), b.project.Patterns...),
		PublicAPIs:          append([]string(nil), b.project.PublicAPIs...),
		TaskEcho:            task,
		TokenBudget:         b.budget,
		GeneratedAt:         time.Now(),
	}

	files, snippets, err := b.selectFiles(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("ctxbuild: select files: %w", err)
	}
	pack.RelevantFiles = files
	pack.CodeSnippets = snippets

	if b.memory != nil {
		memories, err := b.memory.Retrieve(ctx, task.Description, 5)
		if err != nil {
			return nil, fmt.Errorf("ctxbuild: retrieve memories: %w", err)
		}
		pack.Memories = memories
	}

	b.trimToBudget(pack)
	pack.TokenCount = countTokens(pack)
	return pack, nil
}

// selectFiles lists the working copy's files and, if an Embedder is
// configured, ranks them by similarity to the task description; without
// an Embedder it keeps the first listed files up to the candidate limit.
// With no FileSource configured it returns the task's own declared
// Files, in order.
func (b *Builder) selectFiles(ctx context.Context, task *models.TaskSpec) (files []string, snippets []string, err error) {
	if b.files == nil {
		return append([]string(nil), task.Files...), nil, nil
	}

	all, err := b.files.ListFiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(all) == 0 {
		return nil, nil, nil
	}

	const maxCandidates = 10
	selected := all
	if b.embedder != nil {
		selected = b.rankByRelevance(task.Description, all, maxCandidates)
	} else if len(selected) > maxCandidates {
		selected = selected[:maxCandidates]
	}

	for _, path := range selected {
		content, err := b.files.ReadFile(ctx, path)
		if err != nil {
			continue
		}
		files = append(files, path)
		snippets = append(snippets, fmt.Sprintf("// %s\n%s", path, content))
	}
	return files, snippets, nil
}

func (b *Builder) rankByRelevance(query string, candidates []string, k int) []string {
	queryVec := b.embedder.Embed(query)
	vecs := make([][]float64, len(candidates))
	for i := range candidates {
		vecs[i] = b.embedder.Embed(candidates[i])
	}
	matches := b.embedder.TopK(queryVec, vecs, k)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Index >= 0 && m.Index < len(candidates) {
			out = append(out, candidates[m.Index])
		}
	}
	return out
}

// trimToBudget drops sections in lowest-to-highest priority order
// (memories → code snippets → patterns → files → docs → map) until the
// pack's estimated token count fits within its budget.
func (b *Builder) trimToBudget(pack *models.ContextPack) {
	for estimateTokens(pack) > pack.TokenBudget {
		trimmed := false
		for _, section := range trimOrder {
			if dropSection(pack, section) {
				trimmed = true
				break
			}
		}
		if !trimmed {
			return
		}
	}
}

func dropSection(pack *models.ContextPack, section string) bool {
	switch section {
	case sectionMemories:
		if len(pack.Memories) > 0 {
			pack.Memories = pack.Memories[:len(pack.Memories)-1]
			return true
		}
	case sectionSnippets:
		if len(pack.CodeSnippets) > 0 {
			pack.CodeSnippets = pack.CodeSnippets[:len(pack.CodeSnippets)-1]
			return true
		}
	case sectionPatterns:
		if len(pack.Patterns) > 0 {
			pack.Patterns = pack.Patterns[:len(pack.Patterns)-1]
			return true
		}
	case sectionFiles:
		if len(pack.RelevantFiles) > 0 {
			pack.RelevantFiles = pack.RelevantFiles[:len(pack.RelevantFiles)-1]
			return true
		}
	case sectionDocs:
		if pack.ArchitectureSummary != "" {
			pack.ArchitectureSummary = ""
			return true
		}
	case sectionMap:
		if pack.ProjectMap != "" {
			pack.ProjectMap = ""
			return true
		}
	}
	return false
}

func estimateTokens(pack *models.ContextPack) int {
	n := len(pack.ProjectMap) + len(pack.ArchitectureSummary)
	for _, s := range pack.Patterns {
		n += len(s)
	}
	for _, s := range pack.PublicAPIs {
		n += len(s)
	}
	for _, s := range pack.RelevantFiles {
		n += len(s)
	}
	for _, s := range pack.CodeSnippets {
		n += len(s)
	}
	for _, s := range pack.Memories {
		n += len(s)
	}
	for _, s := range pack.ConversationHistory {
		n += len(s)
	}
	if pack.TaskEcho != nil {
		n += len(pack.TaskEcho.Description)
	}
	return (n + charsPerToken - 1) / charsPerToken
}

func countTokens(pack *models.ContextPack) int {
	return estimateTokens(pack)
}

// Validate checks a ContextPack against its token budget, distinguishing
// valid/warn/invalid and reporting a per-section token breakdown.
func Validate(pack *models.ContextPack) models.ContextValidation {
	sections := map[string]int{
		sectionMap:      tokensOf(pack.ProjectMap),
		sectionDocs:     tokensOf(pack.ArchitectureSummary),
		sectionPatterns: tokensOfAll(pack.Patterns),
		sectionFiles:    tokensOfAll(pack.RelevantFiles) + tokensOfAll(pack.CodeSnippets),
		sectionMemories: tokensOfAll(pack.Memories),
	}
	if pack.TaskEcho != nil {
		sections[sectionTaskEcho] = tokensOf(pack.TaskEcho.Description)
	}

	validation := models.ContextValidation{SectionTokens: sections}

	switch {
	case pack.TokenBudget <= 0:
		validation.Validity = models.ContextInvalid
		validation.Reasons = append(validation.Reasons, "token budget is not set")
	case pack.TokenCount > pack.TokenBudget:
		validation.Validity = models.ContextInvalid
		validation.Reasons = append(validation.Reasons, fmt.Sprintf("token count %d exceeds budget %d", pack.TokenCount, pack.TokenBudget))
	case pack.TokenCount > (pack.TokenBudget*9)/10:
		validation.Validity = models.ContextWarn
		validation.Reasons = append(validation.Reasons, "token count is within 10% of budget")
	case pack.TaskEcho == nil:
		validation.Validity = models.ContextWarn
		validation.Reasons = append(validation.Reasons, "missing task echo")
	default:
		validation.Validity = models.ContextValid
	}
	return validation
}

func tokensOf(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}

func tokensOfAll(items []string) int {
	n := 0
	for _, s := range items {
		n += len(s)
	}
	return (n + charsPerToken - 1) / charsPerToken
}
