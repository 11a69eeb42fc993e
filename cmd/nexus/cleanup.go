package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/worktree"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned agent worktrees",
	Long: `Clean up git worktrees left behind by interrupted runs.

This command lists worktrees under the nexus worktree base directory,
identifies ones with no currently running session, and removes them
along with their branches.

Examples:
  nexus cleanup              # Interactive cleanup with confirmation
  nexus cleanup --force      # Skip confirmation prompt
  nexus cleanup --dry-run    # Show what would be removed
  nexus cleanup -v           # Verbose output showing each removal`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	wtManager, err := worktree.New("", repoPath)
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	// nexus has no session registry of its own: every task's working
	// copy lives only as long as the pool slot that leased it, so any
	// worktree still on disk between runs has no active session.
	var activeSessions []string

	orphans, err := wtManager.ListOrphans(activeSessions)
	if err != nil {
		return fmt.Errorf("list orphaned worktrees: %w", err)
	}

	if len(orphans) == 0 {
		fmt.Println("No orphaned worktrees found.")
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, wt := range orphans {
		fmt.Printf("  - %s (branch: %s)\n", wt.Path, wt.BranchName)
	}
	fmt.Println()

	if cleanupDryRun {
		fmt.Println("Dry run mode - no worktrees were removed.")
		return nil
	}

	if !cleanupForce {
		fmt.Print("Remove these worktrees? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Worktree cleanup cancelled.")
			return nil
		}
	}

	var verbose func(path string)
	if cleanupVerbose {
		verbose = func(path string) {
			fmt.Printf("Removed: %s\n", path)
		}
	}

	removed, err := wtManager.CleanupOrphans(activeSessions, verbose)
	if err != nil {
		return fmt.Errorf("cleanup orphaned worktrees: %w", err)
	}
	fmt.Printf("Successfully removed %d orphaned worktree(s).\n", removed)
	return nil
}

func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
