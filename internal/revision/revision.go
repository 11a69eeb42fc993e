// Package revision provides the System collaborator: a thin adapter over
// the project's version-control command set. The core only ever calls
// Run, Head and Dirty; the diff, commit, tag and reset helpers in this
// file are expressed in terms of those three primitives, matching the
// minimal collaborator contract the rest of the system is built against.
// Worktree management and ChangedFiles are methods of GitSystem only
// (git.go), outside the System interface.
package revision

import "context"

// System is the adapter the core consumes for all version-control
// interaction. Implementations are expected to operate against a single
// working copy rooted at construction time.
type System interface {
	// Run executes an arbitrary command against the underlying VCS and
	// returns its combined textual output.
	Run(ctx context.Context, args ...string) (string, error)
	// Head returns the revision identifier currently checked out.
	Head(ctx context.Context) (string, error)
	// Dirty reports whether the working copy has uncommitted changes.
	Dirty(ctx context.Context) (bool, error)
}

// Diff returns the textual diff between two revisions. A from value of ""
// diffs against the empty tree (i.e. the full content at to).
func Diff(ctx context.Context, sys System, from, to string) (string, error) {
	if from == "" {
		return sys.Run(ctx, "diff", emptyTree, to)
	}
	return sys.Run(ctx, "diff", from, to)
}

// NumstatDiff returns the `--numstat` form of the diff, used by diffctx to
// derive per-file addition/deletion counts and binary-file markers.
func NumstatDiff(ctx context.Context, sys System, from, to string) (string, error) {
	if from == "" {
		return sys.Run(ctx, "diff", "--numstat", emptyTree, to)
	}
	return sys.Run(ctx, "diff", "--numstat", from, to)
}

// NameStatusDiff returns the `--name-status` form of the diff, used to
// classify each touched file as added/modified/deleted/renamed.
func NameStatusDiff(ctx context.Context, sys System, from, to string) (string, error) {
	if from == "" {
		return sys.Run(ctx, "diff", "--name-status", emptyTree, to)
	}
	return sys.Run(ctx, "diff", "--name-status", from, to)
}

// Commit stages the given paths (all paths if none given) and commits
// with the given message, returning the new revision's identifier.
func Commit(ctx context.Context, sys System, message string, paths ...string) (string, error) {
	addArgs := append([]string{"add"}, paths...)
	if len(paths) == 0 {
		addArgs = []string{"add", "-A"}
	}
	if _, err := sys.Run(ctx, addArgs...); err != nil {
		return "", err
	}
	if _, err := sys.Run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	return sys.Head(ctx)
}

// Tag creates or force-updates a lightweight tag pointing at revision.
// Tag creation is best-effort: a naming collision is resolved by force
// update rather than failing, matching the re-escalation behavior this
// module follows when the same task escalates more than once.
func Tag(ctx context.Context, sys System, name, revision string) error {
	_, err := sys.Run(ctx, "tag", "-f", name, revision)
	return err
}

// Reset hard-resets the working copy to revision, discarding any
// uncommitted changes and any commits made after it.
func Reset(ctx context.Context, sys System, revision string) error {
	_, err := sys.Run(ctx, "reset", "--hard", revision)
	return err
}

// emptyTree is git's well-known empty-tree object, used to diff a
// revision against "nothing" when no prior revision exists yet.
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
