// Package worktree implements the pool.WorktreeProvider collaborator: an
// isolated git worktree per leased AgentSlot, with orphan detection and
// cleanup for worktrees left behind by a crashed or killed run.
package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-build/nexus/internal/revision"
)

// Worktree describes one isolated working copy managed by this package.
type Worktree struct {
	Path       string
	BranchName string
	AgentID    string
	CreatedAt  time.Time
}

// gitWorktrees is the narrow slice of revision.GitSystem's worktree
// operations this package actually calls. Manager depends on this instead
// of the full revision.System so tests can fake just these five methods.
type gitWorktrees interface {
	WorktreeAdd(ctx context.Context, path, branch, base string) error
	WorktreeRemove(ctx context.Context, path string, force bool) error
	WorktreeUnlock(ctx context.Context, path string) error
	WorktreeListPorcelain(ctx context.Context) (string, error)
	WorktreePrune(ctx context.Context) error
}

// Manager creates, tracks, and cleans up git worktrees used to isolate
// concurrently running agents. It satisfies pool.WorktreeProvider.
type Manager struct {
	baseDir  string
	repoPath string
	git      gitWorktrees
	mu       sync.Mutex
}

// New creates a Manager. baseDir is where worktrees are created
// (defaults to ~/.cache/nexus/worktrees); repoPath is the main repository.
func New(baseDir, repoPath string) (*Manager, error) {
	return NewWithRunner(baseDir, repoPath, revision.NewGitSystem(repoPath))
}

// NewWithRunner creates a Manager with a caller-supplied git worktree
// backend (for tests).
func NewWithRunner(baseDir, repoPath string, runner gitWorktrees) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "nexus", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Manager{baseDir: baseDir, repoPath: repoPath, git: runner}, nil
}

// Create creates a new worktree for agentID, satisfying
// pool.WorktreeProvider.Create. An empty agentID gets a generated one.
func (m *Manager) Create(agentID string) (path string, branchName string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if agentID == "" {
		agentID = uuid.New().String()
	}

	branchName = fmt.Sprintf("agent-%s", agentID)
	worktreePath := filepath.Join(m.baseDir, branchName)

	if err := m.git.WorktreeAdd(context.Background(), worktreePath, branchName, "HEAD"); err != nil {
		return "", "", fmt.Errorf("create worktree: %w", err)
	}

	return worktreePath, branchName, nil
}

// Remove removes the worktree at path, satisfying pool.WorktreeProvider.Remove.
func (m *Manager) Remove(path string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeRemove(context.Background(), path, force); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	return nil
}

// Unlock unlocks a locked worktree.
func (m *Manager) Unlock(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreeUnlock(context.Background(), path); err != nil {
		return fmt.Errorf("unlock worktree: %w", err)
	}
	return nil
}

// List returns every worktree git currently tracks for this repository.
func (m *Manager) List() ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain(context.Background())
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

func parseWorktreeList(output string) ([]*Worktree, error) {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			branchRef := strings.TrimPrefix(line, "branch ")
			current.BranchName = strings.TrimPrefix(branchRef, "refs/heads/")
			if strings.HasPrefix(current.BranchName, "agent-") {
				current.AgentID = strings.TrimPrefix(current.BranchName, "agent-")
			}
		}
	}

	if current != nil {
		worktrees = append(worktrees, current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// Prune removes git's references to worktrees that no longer exist on disk.
func (m *Manager) Prune() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePrune(context.Background()); err != nil {
		return fmt.Errorf("prune worktrees: %w", err)
	}
	return nil
}

// nexusWorktreePatterns identify branch names this package created.
var nexusWorktreePatterns = []string{"agent-", "nexus/", "session-"}

func isNexusWorktree(wt *Worktree) bool {
	for _, pattern := range nexusWorktreePatterns {
		if strings.HasPrefix(wt.BranchName, pattern) {
			return true
		}
	}
	return false
}

func extractSessionID(wt *Worktree) string {
	for _, pattern := range nexusWorktreePatterns {
		if strings.HasPrefix(wt.BranchName, pattern) {
			return strings.TrimPrefix(wt.BranchName, pattern)
		}
	}
	return ""
}

// ListOrphans returns worktrees this package created (matching its branch
// naming patterns) that aren't in activeSessions and aren't the main repo.
func (m *Manager) ListOrphans(activeSessions []string) ([]*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain(context.Background())
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	worktrees, err := parseWorktreeList(output)
	if err != nil {
		return nil, err
	}

	activeSet := make(map[string]bool, len(activeSessions))
	for _, id := range activeSessions {
		activeSet[id] = true
	}

	var orphans []*Worktree
	for _, wt := range worktrees {
		if !isNexusWorktree(wt) || wt.Path == m.repoPath {
			continue
		}
		if sessionID := extractSessionID(wt); sessionID != "" && activeSet[sessionID] {
			continue
		}
		orphans = append(orphans, wt)
	}
	return orphans, nil
}

// CleanupOrphans removes every orphaned worktree (per ListOrphans) and
// returns how many were removed, calling verbose for each one if non-nil.
func (m *Manager) CleanupOrphans(activeSessions []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(activeSessions)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, wt := range orphans {
		_ = m.git.WorktreeUnlock(context.Background(), wt.Path)

		if err := m.git.WorktreeRemove(context.Background(), wt.Path, true); err != nil {
			if err := os.RemoveAll(wt.Path); err != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(wt.Path)
		}
		removed++
	}

	_ = m.git.WorktreePrune(context.Background())
	return removed, nil
}

// StartupCleanup recovers from a crashed prior run by removing every
// orphaned worktree (per ListOrphans: this package's branch naming, not
// the main repo, not among activeSessions).
func (m *Manager) StartupCleanup(activeSessions []string) (int, error) {
	return m.CleanupOrphans(activeSessions, nil)
}

// BaseDir returns the directory under which worktrees are created.
func (m *Manager) BaseDir() string { return m.baseDir }

// RepoPath returns the path to the main git repository.
func (m *Manager) RepoPath() string { return m.repoPath }
