package revision

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitSystem implements System by shelling out to the git binary in a
// fixed repository directory, one process per call.
type GitSystem struct {
	repoPath string
}

// NewGitSystem returns a System rooted at repoPath. repoPath must already
// be a git working copy (either the main checkout or a worktree).
func NewGitSystem(repoPath string) *GitSystem {
	return &GitSystem{repoPath: repoPath}
}

// Run implements System.
func (g *GitSystem) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// Head implements System.
func (g *GitSystem) Head(ctx context.Context) (string, error) {
	return g.Run(ctx, "rev-parse", "HEAD")
}

// Dirty implements System.
func (g *GitSystem) Dirty(ctx context.Context) (bool, error) {
	out, err := g.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(out) > 0, nil
}

var _ System = (*GitSystem)(nil)

// WorktreeAdd creates a new worktree at path on a new branch, branched
// from base. This is not part of the System contract proper — it is a
// pool-only concern, grounded on the teacher's WorktreeOperations — but
// lives alongside GitSystem since it shells out the same way.
func (g *GitSystem) WorktreeAdd(ctx context.Context, path, branch, base string) error {
	_, err := g.Run(ctx, "worktree", "add", path, "-b", branch, base)
	return err
}

// WorktreeRemove removes the worktree at path, forcing removal of a
// worktree with uncommitted changes when force is true.
func (g *GitSystem) WorktreeRemove(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.Run(ctx, args...)
	return err
}

// WorktreeUnlock unlocks a worktree locked against removal.
func (g *GitSystem) WorktreeUnlock(ctx context.Context, path string) error {
	_, err := g.Run(ctx, "worktree", "unlock", path)
	return err
}

// WorktreeListPorcelain returns the raw `git worktree list --porcelain`
// output for the caller to parse.
func (g *GitSystem) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return g.Run(ctx, "worktree", "list", "--porcelain")
}

// WorktreePrune removes stale worktree administrative entries left behind
// by worktrees deleted out from under git (e.g. by a crash mid-removal).
func (g *GitSystem) WorktreePrune(ctx context.Context) error {
	_, err := g.Run(ctx, "worktree", "prune", "--expire", "now")
	return err
}

// ChangedFiles returns the files touched between from and to, using the
// empty tree when from is "".
func (g *GitSystem) ChangedFiles(ctx context.Context, from, to string) ([]string, error) {
	var out string
	var err error
	if from == "" {
		out, err = g.Run(ctx, "diff", "--name-only", emptyTree, to)
	} else {
		out, err = g.Run(ctx, "diff", "--name-only", from, to)
	}
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}
