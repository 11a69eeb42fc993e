package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/config"
)

var (
	initForce           bool
	initNoGit           bool
	initWithConfig      bool
	initSkipClaudeCheck bool
)

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize nexus in a project",
	Long: `Initialize a directory for use with nexus.

This command sets up everything needed to run nexus:
  - Verifies prerequisites (git, claude CLI)
  - Initializes a git repository if needed
  - Creates the .nexus directory structure
  - Updates .gitignore
  - Optionally writes a project config file

The directory argument is optional and defaults to the current directory.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize even if already set up")
	initCmd.Flags().BoolVar(&initNoGit, "no-git", false, "Skip git initialization")
	initCmd.Flags().BoolVar(&initWithConfig, "with-config", false, "Write a .nexus.yaml template")
	initCmd.Flags().BoolVar(&initSkipClaudeCheck, "skip-claude-check", false, "Skip Claude CLI availability check")
}

func runInit(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}
	if err := os.Chdir(absPath); err != nil {
		return fmt.Errorf("changing to directory %s: %w", absPath, err)
	}

	fmt.Printf("Initializing nexus in %s...\n\n", absPath)

	nexusDir := filepath.Join(absPath, ".nexus")
	if _, err := os.Stat(nexusDir); err == nil && !initForce {
		fmt.Println("Directory already initialized. Use --force to reinitialize.")
		return nil
	}

	if err := checkGitInstalled(); err != nil {
		printStatus("x", "Git not found")
		return err
	}
	printStatus("ok", "Git found")

	if !initSkipClaudeCheck {
		if cfg, cerr := config.Load(); cerr == nil && cfg.LLM.Backend == "api" {
			fmt.Println("- Skipping Claude CLI check (llm.backend is \"api\")")
		} else if err := CheckClaudeCLI(); err != nil {
			printStatus("x", "Claude Code CLI not found")
			return err
		} else {
			printStatus("ok", "Claude Code CLI found")
		}
	}

	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		printStatus("!", "ANTHROPIC_API_KEY not set (you can set it later)")
	} else {
		printStatus("ok", "ANTHROPIC_API_KEY is set")
	}

	if !initNoGit {
		if err := initGitRepo(absPath); err != nil {
			return err
		}
	} else {
		fmt.Println("Skipping git initialization (--no-git)")
	}

	if err := os.MkdirAll(filepath.Join(nexusDir, "logs"), 0755); err != nil {
		return fmt.Errorf("creating .nexus/logs directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(nexusDir, "escalations"), 0755); err != nil {
		return fmt.Errorf("creating .nexus/escalations directory: %w", err)
	}
	printStatus("ok", "Created .nexus directory structure")

	if !initNoGit {
		if err := updateGitignore(absPath); err != nil {
			return fmt.Errorf("updating .gitignore: %w", err)
		}
		printStatus("ok", "Updated .gitignore with nexus entries")
	}

	if initWithConfig {
		if existing := config.GetProjectConfigPath(); existing != "" {
			fmt.Printf("- Project config already exists at %s, leaving it alone\n", existing)
		} else {
			path := filepath.Join(absPath, ".nexus.yaml")
			if err := config.SaveToPath(config.Default(), path); err != nil {
				return fmt.Errorf("writing project config: %w", err)
			}
			printStatus("ok", fmt.Sprintf("Wrote %s", path))
		}
	}

	fmt.Println("\nnexus initialization complete.")
	fmt.Println("\nNext steps:")
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fmt.Println("  1. Set your API key: export ANTHROPIC_API_KEY=your-key-here")
	}
	fmt.Println("  2. Run nexus: nexus run <spec-file>")
	fmt.Println("  3. Learn more: nexus --help")
	return nil
}

func checkGitInstalled() error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git not found in PATH\n\n" +
			"nexus requires git to manage code changes and working-copy worktrees.\n\n" +
			"Install git and try again.")
	}
	return nil
}

func initGitRepo(repoPath string) error {
	gitDir := filepath.Join(repoPath, ".git")
	if _, err := os.Stat(gitDir); os.IsNotExist(err) {
		cmd := exec.Command("git", "init")
		cmd.Dir = repoPath
		if output, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("git init failed: %s\n%s", err, string(output))
		}
		printStatus("ok", "Initialized git repository")
	} else {
		printStatus("ok", "Git repository exists")
	}

	hasCommits, err := hasAnyCommits(repoPath)
	if err != nil {
		return fmt.Errorf("checking for commits: %w", err)
	}
	if !hasCommits {
		if err := ensureInitialCommit(repoPath); err != nil {
			return fmt.Errorf("creating initial commit: %w", err)
		}
		printStatus("ok", "Created initial commit")
	} else {
		printStatus("ok", "Git repository has commits")
	}

	if err := ensureMainBranch(repoPath); err != nil {
		return fmt.Errorf("ensuring main branch: %w", err)
	}
	printStatus("ok", "Main branch exists")
	return nil
}

func hasAnyCommits(repoPath string) (bool, error) {
	cmd := exec.Command("git", "rev-list", "-n", "1", "--all")
	cmd.Dir = repoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 128 {
			return false, nil
		}
		return false, fmt.Errorf("git rev-list failed: %s", string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

func ensureInitialCommit(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); os.IsNotExist(err) {
		content := "# nexus\n.nexus/logs/\nnexus\n"
		if err := os.WriteFile(gitignorePath, []byte(content), 0644); err != nil {
			return fmt.Errorf("creating .gitignore: %w", err)
		}
	}

	addCmd := exec.Command("git", "add", ".")
	addCmd.Dir = repoPath
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git add failed: %s\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "--allow-empty", "-m", "Initial commit")
	commitCmd.Dir = repoPath
	if output, err := commitCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit failed: %s\n%s", err, string(output))
	}
	return nil
}

// ensureMainBranch renames "master" to "main" (or the current branch to
// "main") so a freshly initialized repo always has a consistent default
// branch for worktree.Manager to base new worktrees from.
func ensureMainBranch(repoPath string) error {
	mainCmd := exec.Command("git", "rev-parse", "--verify", "main")
	mainCmd.Dir = repoPath
	if err := mainCmd.Run(); err == nil {
		return nil
	}

	masterCmd := exec.Command("git", "rev-parse", "--verify", "master")
	masterCmd.Dir = repoPath
	if err := masterCmd.Run(); err == nil {
		renameCmd := exec.Command("git", "branch", "-M", "main")
		renameCmd.Dir = repoPath
		if output, err := renameCmd.CombinedOutput(); err != nil {
			return fmt.Errorf("renaming master to main: %s\n%s", err, string(output))
		}
		return nil
	}

	renameCmd := exec.Command("git", "branch", "-M", "main")
	renameCmd.Dir = repoPath
	if output, err := renameCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating main branch: %s\n%s", err, string(output))
	}
	return nil
}

func updateGitignore(repoPath string) error {
	gitignorePath := filepath.Join(repoPath, ".gitignore")

	var existingContent string
	if data, err := os.ReadFile(gitignorePath); err == nil {
		existingContent = string(data)
	}

	entries := []string{
		".nexus/logs/",
		".nexus/checkpoints.db*",
		"nexus",
	}

	needsUpdate := false
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			needsUpdate = true
			break
		}
	}
	if !needsUpdate {
		return nil
	}

	var newContent strings.Builder
	newContent.WriteString(existingContent)
	if len(existingContent) > 0 && !strings.HasSuffix(existingContent, "\n") {
		newContent.WriteString("\n")
	}
	newContent.WriteString("\n# nexus\n")
	for _, entry := range entries {
		if !strings.Contains(existingContent, entry) {
			newContent.WriteString(entry + "\n")
		}
	}
	return os.WriteFile(gitignorePath, []byte(newContent.String()), 0644)
}

func printStatus(symbol, message string) {
	fmt.Printf("[%s] %s\n", symbol, message)
}
