package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

// CheckClaudeCLI verifies that the "claude" binary is on PATH. Only the
// CLI LLMClient backend needs it; the API backend talks to Anthropic
// directly and never shells out.
func CheckClaudeCLI() error {
	if _, err := exec.LookPath("claude"); err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"The cli LLM backend requires the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"Or switch to the API backend with `nexus config llm.backend api`.")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "Autonomous software-construction orchestrator",
	Long: `Nexus decomposes a job specification into a task DAG and drives
a pool of LLM-backed agents, each in its own git worktree, through an
iterate-QA-reassess loop until every task's acceptance criteria are met
or it escalates for human review.

Available commands:
  run      Decompose a spec and run the coordinator to completion
  init     Initialize nexus in a project
  cleanup  Remove orphaned agent worktrees
  config   View or modify configuration
  learn    Inspect the learnings store
  version  Show version information

Use "nexus [command] --help" for more information about a command.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version()
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(learnCmd)
}
