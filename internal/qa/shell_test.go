package qa

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	nexusexec "github.com/nexus-build/nexus/internal/exec"
)

// fakeCommandRunner scripts Run's result for a test without shelling out
// to a real toolchain.
type fakeCommandRunner struct {
	output []byte
	err    error
	calls  []string
}

func (f *fakeCommandRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	return f.output, f.err
}

func (f *fakeCommandRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	return f.output, f.err
}

func (f *fakeCommandRunner) Exists(ctx context.Context, workDir, path string) bool { return true }

var _ nexusexec.CommandRunner = (*fakeCommandRunner)(nil)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDetectProjectType(t *testing.T) {
	goDir := t.TempDir()
	writeFile(t, goDir, "go.mod", "module x\n")
	if got := detectProjectType(goDir); got != projectGo {
		t.Errorf("detectProjectType(go) = %v, want projectGo", got)
	}

	nodeDir := t.TempDir()
	writeFile(t, nodeDir, "package.json", "{}")
	if got := detectProjectType(nodeDir); got != projectNode {
		t.Errorf("detectProjectType(node) = %v, want projectNode", got)
	}

	unknownDir := t.TempDir()
	if got := detectProjectType(unknownDir); got != projectUnknown {
		t.Errorf("detectProjectType(empty) = %v, want projectUnknown", got)
	}
}

func TestShellRunner_BuildSkipsUnknownProject(t *testing.T) {
	dir := t.TempDir()
	r := NewShellRunner()

	result, err := r.Build(context.Background(), "t1", dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !result.Success {
		t.Error("expected skipped build on unknown project type to report Success")
	}
	if len(result.Warnings) == 0 {
		t.Error("expected a warning explaining the skip")
	}
}

func TestShellRunner_TestSkipsWhenNoTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module x\n\ngo 1.24\n")
	r := NewShellRunner()

	result, err := r.Test(context.Background(), "t1", dir)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !result.Success {
		t.Error("expected Success when no test files are present")
	}
}

func TestShellRunner_BuildUsesInjectedCommandRunner(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module x\n\ngo 1.24\n")
	fake := &fakeCommandRunner{output: []byte("")}
	r := NewShellRunnerWithCommandRunner(fake)

	result, err := r.Build(context.Background(), "t1", dir)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !result.Success {
		t.Error("expected a clean fake run to report Success")
	}
	if len(fake.calls) != 1 || fake.calls[0] != "go" {
		t.Errorf("calls = %v, want exactly one call to go", fake.calls)
	}
}

func TestShellRunner_BuildPropagatesNonExitError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module x\n\ngo 1.24\n")
	fake := &fakeCommandRunner{err: errors.New("go binary not found")}
	r := NewShellRunnerWithCommandRunner(fake)

	if _, err := r.Build(context.Background(), "t1", dir); err == nil {
		t.Fatal("expected a non-ExitError from the command runner to propagate")
	}
}

func TestClassify(t *testing.T) {
	ok, errs := classify(true, "anything")
	if !ok || errs != nil {
		t.Errorf("classify(true, ...) = %v, %v, want true, nil", ok, errs)
	}

	ok, errs = classify(false, "line one\n\nline two\n")
	if ok {
		t.Error("classify(false, ...) should report false")
	}
	if len(errs) != 2 {
		t.Errorf("classify errors = %v, want 2 non-blank lines", errs)
	}
}

func TestCountGoTestOutcomes(t *testing.T) {
	out := "--- PASS: TestA (0.00s)\n--- FAIL: TestB (0.00s)\n--- SKIP: TestC (0.00s)\n--- PASS: TestD (0.00s)\n"
	passed, failed, skipped := countGoTestOutcomes(out)
	if passed != 2 || failed != 1 || skipped != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", passed, failed, skipped)
	}
}
