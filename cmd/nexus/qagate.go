package main

import (
	"context"

	"github.com/nexus-build/nexus/internal/config"
	"github.com/nexus-build/nexus/internal/qa"
)

// gatedQA wraps a qa.Runner so that config.QualityGatesConfig can turn
// individual capabilities off at runtime. qa's own convention is that
// an absent interface method is the sentinel for "not run", but that's
// a compile-time fact for a concrete type; a disabled gate here
// reports a trivial pass instead so it never blocks the success
// predicate, which is the runtime equivalent for a type that otherwise
// always implements all three capabilities.
type gatedQA struct {
	inner *qa.ShellRunner
	gates config.QualityGatesConfig
}

func newGatedQA(inner *qa.ShellRunner, gates config.QualityGatesConfig) *gatedQA {
	return &gatedQA{inner: inner, gates: gates}
}

func (g *gatedQA) Build(ctx context.Context, taskID, workDir string) (*qa.BuildResult, error) {
	if !g.gates.Build {
		return &qa.BuildResult{Success: true}, nil
	}
	return g.inner.Build(ctx, taskID, workDir)
}

func (g *gatedQA) Lint(ctx context.Context, taskID, workDir string) (*qa.LintResult, error) {
	if !g.gates.Lint {
		return &qa.LintResult{Success: true}, nil
	}
	return g.inner.Lint(ctx, taskID, workDir)
}

func (g *gatedQA) Test(ctx context.Context, taskID, workDir string) (*qa.TestResult, error) {
	if !g.gates.Test {
		return &qa.TestResult{Success: true}, nil
	}
	return g.inner.Test(ctx, taskID, workDir)
}

var (
	_ qa.Builder = (*gatedQA)(nil)
	_ qa.Linter  = (*gatedQA)(nil)
	_ qa.Tester  = (*gatedQA)(nil)
)
