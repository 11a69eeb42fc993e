package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nexus-build/nexus/internal/agentrun"
	"github.com/nexus-build/nexus/internal/commitlog"
	"github.com/nexus-build/nexus/internal/config"
	"github.com/nexus-build/nexus/internal/ctxbuild"
	"github.com/nexus-build/nexus/internal/diffctx"
	"github.com/nexus-build/nexus/internal/embed"
	"github.com/nexus-build/nexus/internal/escalation"
	"github.com/nexus-build/nexus/internal/iteration"
	"github.com/nexus-build/nexus/internal/learning"
	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/internal/nexuslog"
	"github.com/nexus-build/nexus/internal/qa"
	"github.com/nexus-build/nexus/internal/revision"
	"github.com/nexus-build/nexus/pkg/models"
)

// engineRunner satisfies coordinator.Runner. A Coordinator holds one
// long-lived Runner, but every task it dispatches gets its own leased
// working copy (a fresh git worktree), so engineRunner builds a fresh
// RevisionSystem, FreshContextBuilder and Agent bound to that worktree's
// path for each Execute call rather than reusing one across tasks that
// may run concurrently in different worktrees.
type engineRunner struct {
	client  llm.Client
	qa      any
	gates   config.QualityGatesConfig
	events  iteration.EventSink
	log     *nexuslog.Logger
	project ctxbuild.ProjectInfo
	embed   *agentrun.EmbeddingsAdapter
	memory  *agentrun.MemoryAdapter
	model   string
	budget  int

	escalationsDir string
	maxIterations  int
	timeoutMinutes int
}

func newEngineRunner(client llm.Client, qaRunner any, cfg *config.Config, events iteration.EventSink, log *nexuslog.Logger, repoPath string, memSystem *learning.LearningSystem) *engineRunner {
	var mem *agentrun.MemoryAdapter
	if memSystem != nil {
		mem = agentrun.NewMemoryAdapter(memSystem)
	}
	return &engineRunner{
		client:         client,
		qa:             qaRunner,
		gates:          cfg.QualityGates,
		events:         events,
		log:            log,
		project:        buildProjectInfo(repoPath),
		embed:          agentrun.NewEmbeddingsAdapter(embed.New()),
		memory:         mem,
		model:          cfg.LLM.Model,
		budget:         cfg.Defaults.TokenBudget,
		escalationsDir: filepath.Join(repoPath, ".nexus", "escalations"),
		maxIterations:  cfg.Iteration.MaxIterations,
		timeoutMinutes: cfg.Iteration.TimeoutMinutes,
	}
}

func (r *engineRunner) Execute(ctx context.Context, task *models.TaskSpec, wc *models.WorkingCopy, opts iteration.Options) (*iteration.Result, error) {
	if wc == nil || wc.Path == "" {
		return nil, fmt.Errorf("engineRunner: task %s has no leased working copy", task.ID)
	}

	sys := revision.NewGitSystem(wc.Path)
	files := agentrun.NewWorkingCopyFiles(wc.Path)
	ctxOpts := []ctxbuild.Option{
		ctxbuild.WithProjectInfo(r.project),
		ctxbuild.WithEmbedder(r.embed),
		ctxbuild.WithTokenBudget(r.budget),
	}
	if r.memory != nil {
		ctxOpts = append(ctxOpts, ctxbuild.WithMemorySource(r.memory))
	}
	ctxBuilder := ctxbuild.New(files, ctxOpts...)
	diffBuilder := diffctx.New(sys)
	commitHandler := commitlog.New(sys)
	escHandler := escalation.New(sys, commitHandler,
		escalation.WithLogger(r.log),
		escalation.WithLimits(r.maxIterations, r.timeoutMinutes),
		escalation.WithEscalationsDir(r.escalationsDir),
	)
	agent := agentrun.New(r.client, wc.Path, agentrun.WithModel(r.model))

	engine := iteration.New(sys, ctxBuilder, diffBuilder, commitHandler, r.qa, escHandler, agent,
		iteration.WithEventSink(r.events))

	result, err := engine.Execute(ctx, task, wc, opts)
	if err == nil && result != nil && r.memory != nil {
		for _, rec := range result.Iterations {
			if cerr := r.memory.CaptureIteration(task.ID, rec); cerr != nil {
				r.log.Warn("capture iteration memory for task %s: %v", task.ID, cerr)
			}
		}
		if result.Escalation != nil {
			if cerr := r.memory.CaptureEscalation(task.ID, result.Escalation.Summary, errorSummary(result.Escalation.LastErrors)); cerr != nil {
				r.log.Warn("capture escalation memory for task %s: %v", task.ID, cerr)
			}
		}
	}
	return result, err
}

func errorSummary(errs []*models.ErrorEntry) string {
	var sb strings.Builder
	for _, e := range errs {
		sb.WriteString(e.Message)
		sb.WriteString("\n")
	}
	return sb.String()
}

// buildLLMClient selects and constructs the LLMClient backend named by
// cfg.LLM.Backend.
func buildLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Backend {
	case "api":
		key, err := config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
		client, err := llm.NewAPIClient(llm.APIClientConfig{APIKey: key, Model: cfg.LLM.Model})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "cli", "":
		if err := CheckClaudeCLI(); err != nil {
			return nil, err
		}
		return llm.NewCLIClient("claude"), nil
	default:
		return nil, fmt.Errorf("unknown llm.backend %q (want \"cli\" or \"api\")", cfg.LLM.Backend)
	}
}

func buildQARunner(cfg *config.Config) any {
	return newGatedQA(qa.NewShellRunner(), cfg.QualityGates)
}

func iterationOptionsFrom(cfg *config.Config) iteration.Options {
	commitEach := cfg.Iteration.CommitEachIteration
	return iteration.Options{
		MaxIterations:         cfg.Iteration.MaxIterations,
		CommitEachIteration:   &commitEach,
		IncludeDiffContext:    true,
		IncludePreviousErrors: true,
		EscalateAfter:         cfg.Iteration.EscalateAfter,
		TimeoutMinutes:        cfg.Iteration.TimeoutMinutes,
	}
}
