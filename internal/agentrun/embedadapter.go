package agentrun

import (
	"github.com/nexus-build/nexus/internal/ctxbuild"
	"github.com/nexus-build/nexus/internal/embed"
)

// EmbeddingsAdapter adapts an *embed.Service to ctxbuild.Embedder. The
// two packages deliberately don't import each other — embed.Service
// returns its own named Vector type and exposes TopK as a package-level
// function rather than a method — so this bridges the two at the one
// point that needs both.
type EmbeddingsAdapter struct {
	svc *embed.Service
}

// NewEmbeddingsAdapter wraps svc as a ctxbuild.Embedder.
func NewEmbeddingsAdapter(svc *embed.Service) *EmbeddingsAdapter {
	return &EmbeddingsAdapter{svc: svc}
}

// Embed satisfies ctxbuild.Embedder.
func (a *EmbeddingsAdapter) Embed(text string) []float64 {
	return []float64(a.svc.Embed(text))
}

// TopK satisfies ctxbuild.Embedder.
func (a *EmbeddingsAdapter) TopK(query []float64, candidates [][]float64, k int) []ctxbuild.Match {
	qv := embed.Vector(query)
	cv := make([]embed.Vector, len(candidates))
	for i, c := range candidates {
		cv[i] = embed.Vector(c)
	}

	matches := embed.TopK(qv, cv, k)
	out := make([]ctxbuild.Match, len(matches))
	for i, m := range matches {
		out[i] = ctxbuild.Match{Index: m.Index, Score: m.Score}
	}
	return out
}

var _ ctxbuild.Embedder = (*EmbeddingsAdapter)(nil)
