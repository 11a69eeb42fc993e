package worktree

import (
	"context"
	"testing"
)

func TestParseWorktreeList(t *testing.T) {
	output := `worktree /home/user/project
branch refs/heads/main

worktree /home/user/.cache/nexus/worktrees/agent-abc123
branch refs/heads/agent-abc123

worktree /home/user/.cache/nexus/worktrees/agent-def456
branch refs/heads/agent-def456
`

	worktrees, err := parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 3 {
		t.Fatalf("expected 3 worktrees, got %d", len(worktrees))
	}

	if worktrees[0].Path != "/home/user/project" || worktrees[0].BranchName != "main" {
		t.Errorf("worktrees[0] = %+v, want main@/home/user/project", worktrees[0])
	}
	if worktrees[1].AgentID != "abc123" {
		t.Errorf("worktrees[1].AgentID = %q, want abc123", worktrees[1].AgentID)
	}
	if worktrees[2].AgentID != "def456" {
		t.Errorf("worktrees[2].AgentID = %q, want def456", worktrees[2].AgentID)
	}
}

func TestParseWorktreeListHandlesNoTrailingBlankLine(t *testing.T) {
	output := `worktree /repo
branch refs/heads/main`

	worktrees, err := parseWorktreeList(output)
	if err != nil {
		t.Fatalf("parseWorktreeList() error = %v", err)
	}
	if len(worktrees) != 1 {
		t.Fatalf("expected 1 worktree, got %d", len(worktrees))
	}
}

func TestIsNexusWorktreeMatchesKnownPatterns(t *testing.T) {
	tests := []struct {
		branch string
		want   bool
	}{
		{"agent-abc123", true},
		{"nexus/scratch", true},
		{"session-42", true},
		{"main", false},
		{"feature/unrelated", false},
	}

	for _, tc := range tests {
		wt := &Worktree{BranchName: tc.branch}
		if got := isNexusWorktree(wt); got != tc.want {
			t.Errorf("isNexusWorktree(%q) = %v, want %v", tc.branch, got, tc.want)
		}
	}
}

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		branch string
		want   string
	}{
		{"agent-abc123", "abc123"},
		{"session-42", "42"},
		{"main", ""},
	}

	for _, tc := range tests {
		wt := &Worktree{BranchName: tc.branch}
		if got := extractSessionID(wt); got != tc.want {
			t.Errorf("extractSessionID(%q) = %q, want %q", tc.branch, got, tc.want)
		}
	}
}

// fakeRunner implements gitWorktrees to exercise Manager's worktree methods
// without shelling out.
type fakeRunner struct {
	added     map[string]string // path -> branch
	removed   []string
	listOut   string
	pruned    bool
	addErr    error
	removeErr error
}

func (f *fakeRunner) WorktreeAdd(_ context.Context, path, branch, _ string) error {
	if f.addErr != nil {
		return f.addErr
	}
	if f.added == nil {
		f.added = map[string]string{}
	}
	f.added[path] = branch
	return nil
}

func (f *fakeRunner) WorktreeRemove(_ context.Context, path string, _ bool) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, path)
	return nil
}

func (f *fakeRunner) WorktreeUnlock(context.Context, string) error { return nil }

func (f *fakeRunner) WorktreeListPorcelain(context.Context) (string, error) { return f.listOut, nil }

func (f *fakeRunner) WorktreePrune(context.Context) error { f.pruned = true; return nil }

func TestManagerCreateReturnsPathAndBranch(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWithRunner: %v", err)
	}

	path, branch, err := m.Create("abc123")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if branch != "agent-abc123" {
		t.Errorf("branch = %q, want agent-abc123", branch)
	}
	if runner.added[path] != branch {
		t.Errorf("runner did not record the add for %q", path)
	}
}

func TestManagerCreateGeneratesAgentIDWhenEmpty(t *testing.T) {
	runner := &fakeRunner{}
	m, err := NewWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWithRunner: %v", err)
	}

	_, branch, err := m.Create("")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if branch == "agent-" || len(branch) <= len("agent-") {
		t.Errorf("expected a generated agent id in branch, got %q", branch)
	}
}

func TestManagerListOrphansExcludesActiveSessions(t *testing.T) {
	runner := &fakeRunner{listOut: `worktree /repo
branch refs/heads/main

worktree /repo/.cache/agent-keep
branch refs/heads/agent-keep

worktree /repo/.cache/agent-drop
branch refs/heads/agent-drop
`}
	m, err := NewWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWithRunner: %v", err)
	}

	orphans, err := m.ListOrphans([]string{"keep"})
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].AgentID != "drop" {
		t.Fatalf("ListOrphans() = %+v, want exactly the 'drop' worktree", orphans)
	}
}

func TestManagerCleanupOrphansRemovesAndPrunes(t *testing.T) {
	runner := &fakeRunner{listOut: `worktree /repo/.cache/agent-drop
branch refs/heads/agent-drop
`}
	m, err := NewWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWithRunner: %v", err)
	}

	removed, err := m.CleanupOrphans(nil, nil)
	if err != nil {
		t.Fatalf("CleanupOrphans: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(runner.removed) != 1 {
		t.Fatalf("runner.removed = %v, want one entry", runner.removed)
	}
	if !runner.pruned {
		t.Error("expected a final prune after cleanup")
	}
}
