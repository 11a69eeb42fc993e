package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/checkpoint"
	"github.com/nexus-build/nexus/internal/config"
	"github.com/nexus-build/nexus/internal/coordinator"
	"github.com/nexus-build/nexus/internal/decompose"
	"github.com/nexus-build/nexus/internal/eventbus"
	"github.com/nexus-build/nexus/internal/learning"
	"github.com/nexus-build/nexus/internal/nexuslog"
	"github.com/nexus-build/nexus/internal/pool"
	"github.com/nexus-build/nexus/internal/queue"
	"github.com/nexus-build/nexus/internal/worktree"
	"github.com/nexus-build/nexus/pkg/models"
)

var runCmd = &cobra.Command{
	Use:   "run <spec-file>",
	Short: "Decompose a spec and run the coordinator to completion",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	specPath := args[0]
	specBytes, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("read spec file: %w", err)
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(repoPath, ".git")); err != nil {
		return fmt.Errorf("%s is not a git repository (run `nexus init` first)", repoPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client, err := buildLLMClient(cfg)
	if err != nil {
		return err
	}

	bus := eventbus.New(64)
	defer bus.Close()
	log := nexuslog.ForProject(repoPath)

	store, err := checkpoint.OpenProject(repoPath)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub {
			reportProgress(cmd, ev)
			checkpointOnTerminal(store, ev)
		}
	}()

	wt, err := worktree.New("", repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	p := pool.New(wt,
		pool.WithCapacity(models.AgentTypeScout, cfg.Pool.Scout),
		pool.WithCapacity(models.AgentTypeBuilder, cfg.Pool.Builder),
		pool.WithCapacity(models.AgentTypeArchitect, cfg.Pool.Architect),
	)

	memSystem, err := learning.NewLearningSystem(learning.ProjectDBPath(repoPath))
	if err != nil {
		return fmt.Errorf("open learnings system: %w", err)
	}
	defer memSystem.Close()

	qaRunner := buildQARunner(cfg)
	runner := newEngineRunner(client, qaRunner, cfg, bus, log, repoPath, memSystem)

	coord := coordinator.New(decompose.New(client), queue.New(), p, runner,
		coordinator.WithEventSink(bus),
		coordinator.WithLogger(log),
		coordinator.WithIterationOptions(iterationOptionsFrom(cfg)),
	)

	ctx := context.Background()
	if err := coord.Initialize(ctx, repoPath); err != nil {
		return fmt.Errorf("initialize coordinator: %w", err)
	}

	result, err := coord.Start(ctx, string(specBytes))
	bus.Unsubscribe(sub)
	<-done
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\ndone: %d completed, %d failed, %d blocked (of %d total)\n",
		result.Queue.Completed, result.Queue.Failed, result.Queue.Blocked, result.Queue.Total())
	return nil
}

// reportProgress prints a one-line summary for the events a user
// watching a run cares about; everything else (dispatch bookkeeping,
// per-QA-step events) stays in the debug log instead of the terminal.
func reportProgress(cmd *cobra.Command, ev eventbus.Event) {
	switch ev.Topic {
	case eventbus.TopicTaskCompleted:
		fmt.Fprintf(cmd.OutOrStdout(), "[done] %s\n", taskIDOf(ev.Payload))
	case eventbus.TopicTaskFailed:
		fmt.Fprintf(cmd.OutOrStdout(), "[failed] %s\n", taskIDOf(ev.Payload))
	case eventbus.TopicTaskEscalated:
		fmt.Fprintf(cmd.OutOrStdout(), "[escalated] %s (see .nexus/escalations)\n", taskIDOf(ev.Payload))
	case "coordinator.started":
		fmt.Fprintln(cmd.OutOrStdout(), "coordinator: run started")
	}
}

func taskIDOf(payload any) string {
	if r, ok := payload.(*models.TaskRun); ok && r.Spec != nil {
		return r.Spec.ID
	}
	if m, ok := payload.(map[string]any); ok {
		if id, ok := m["taskId"].(string); ok {
			return id
		}
	}
	return "?"
}

// checkpointOnTerminal persists a crash-recovery blob for every task
// that reaches a terminal state, so a future run can inspect the last
// outcome without re-reading the event log.
func checkpointOnTerminal(store *checkpoint.Store, ev eventbus.Event) {
	var taskID string
	switch ev.Topic {
	case eventbus.TopicTaskCompleted, eventbus.TopicTaskFailed, eventbus.TopicTaskEscalated:
		taskID = taskIDOf(ev.Payload)
	default:
		return
	}
	if taskID == "" || taskID == "?" {
		return
	}

	blob, err := json.Marshal(ev.Payload)
	if err != nil {
		return
	}
	_ = store.Save(taskID, blob, ev.Topic, "")
}
