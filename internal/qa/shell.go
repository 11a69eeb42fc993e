package qa

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	nexusexec "github.com/nexus-build/nexus/internal/exec"
)

// ShellRunner implements Builder, Linter and Tester by shelling out to
// the toolchain appropriate for the project found at workDir. It does
// not implement Reviewer — code review has no generic shell-command
// equivalent, so it is left to an LLM-backed implementation elsewhere.
type ShellRunner struct {
	// Timeout bounds each individual command. Defaults to 5 minutes.
	Timeout time.Duration

	// runner executes the underlying commands. Swappable in tests so
	// gate behavior can be exercised without a real toolchain installed.
	runner nexusexec.CommandRunner
}

// NewShellRunner returns a ShellRunner with the default timeout, running
// commands through a real nexusexec.ExecRunner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Timeout: 5 * time.Minute, runner: nexusexec.NewRunner()}
}

// NewShellRunnerWithCommandRunner returns a ShellRunner that executes
// commands through runner instead of the real OS, for tests.
func NewShellRunnerWithCommandRunner(runner nexusexec.CommandRunner) *ShellRunner {
	return &ShellRunner{Timeout: 5 * time.Minute, runner: runner}
}

var (
	_ Builder = (*ShellRunner)(nil)
	_ Linter  = (*ShellRunner)(nil)
	_ Tester  = (*ShellRunner)(nil)
)

func (r *ShellRunner) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return 5 * time.Minute
}

// Build runs the project's build command, chosen by detected project type.
func (r *ShellRunner) Build(ctx context.Context, taskID, workDir string) (*BuildResult, error) {
	start := time.Now()
	result := &BuildResult{}

	switch detectProjectType(workDir) {
	case projectGo:
		out, success, err := r.run(ctx, workDir, "go", "build", "./...")
		result.Success, result.Errors = classify(success, out)
		if err != nil {
			return nil, err
		}
	case projectNode:
		if !hasNodeScript(workDir, "build") {
			result.Success = true
			result.Warnings = []string{"no build script in package.json, skipped"}
			break
		}
		out, success, err := r.run(ctx, workDir, "npm", "run", "build")
		result.Success, result.Errors = classify(success, out)
		if err != nil {
			return nil, err
		}
	case projectPython:
		result.Success = true
		result.Warnings = []string{"python projects have no build step, skipped"}
	default:
		result.Success = true
		result.Warnings = []string{"unknown project type, build skipped"}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Lint runs go vet / golangci-lint, npm run lint, or ruff/flake8,
// depending on detected project type.
func (r *ShellRunner) Lint(ctx context.Context, taskID, workDir string) (*LintResult, error) {
	result := &LintResult{}

	switch detectProjectType(workDir) {
	case projectGo:
		var out string
		var success bool
		var err error
		if commandExists("golangci-lint") {
			out, success, err = r.run(ctx, workDir, "golangci-lint", "run", "./...")
			result.Fixable = true
		} else {
			out, success, err = r.run(ctx, workDir, "go", "vet", "./...")
		}
		result.Success, result.Errors = classify(success, out)
		if err != nil {
			return nil, err
		}
	case projectNode:
		if !hasNodeScript(workDir, "lint") {
			result.Success = true
			result.Warnings = []string{"no lint script in package.json, skipped"}
			break
		}
		out, success, err := r.run(ctx, workDir, "npm", "run", "lint")
		result.Success, result.Errors = classify(success, out)
		result.Fixable = true
		if err != nil {
			return nil, err
		}
	case projectPython:
		var out string
		var success bool
		var err error
		switch {
		case commandExists("ruff"):
			out, success, err = r.run(ctx, workDir, "ruff", "check", ".")
		case commandExists("flake8"):
			out, success, err = r.run(ctx, workDir, "flake8", ".")
		default:
			result.Success = true
			result.Warnings = []string{"no python linter found, skipped"}
			return result, nil
		}
		result.Success, result.Errors = classify(success, out)
		if err != nil {
			return nil, err
		}
	default:
		result.Success = true
		result.Warnings = []string{"unknown project type, lint skipped"}
	}

	return result, nil
}

// Test runs the project's test suite, chosen by detected project type.
func (r *ShellRunner) Test(ctx context.Context, taskID, workDir string) (*TestResult, error) {
	start := time.Now()
	result := &TestResult{}

	switch detectProjectType(workDir) {
	case projectGo:
		if !hasGoTestFiles(workDir) {
			result.Success = true
			result.Duration = time.Since(start)
			return result, nil
		}
		out, success, err := r.run(ctx, workDir, "go", "test", "-v", "./...")
		result.Success, result.Errors = classify(success, out)
		result.Passed, result.Failed, result.Skipped = countGoTestOutcomes(out)
		if err != nil {
			return nil, err
		}
	case projectNode:
		if !hasNodeScript(workDir, "test") {
			result.Success = true
			result.Duration = time.Since(start)
			return result, nil
		}
		out, success, err := r.run(ctx, workDir, "npm", "test")
		result.Success, result.Errors = classify(success, out)
		if err != nil {
			return nil, err
		}
	case projectPython:
		if !hasPythonTests(workDir) {
			result.Success = true
			result.Duration = time.Since(start)
			return result, nil
		}
		out, success, err := r.run(ctx, workDir, "python", "-m", "pytest")
		result.Success, result.Errors = classify(success, out)
		if err != nil {
			return nil, err
		}
	default:
		result.Success = true
	}

	result.Duration = time.Since(start)
	return result, nil
}

// run executes name with args in workDir under the runner's timeout,
// returning combined stdout/stderr and whether the command exited 0.
func (r *ShellRunner) run(ctx context.Context, workDir, name string, args ...string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	out, err := r.runner.Run(ctx, workDir, name, args...)
	output := string(out)

	if ctx.Err() == context.DeadlineExceeded {
		return "command timed out: " + output, false, nil
	}
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return output, false, nil
		}
		return output, false, err
	}
	return output, true, nil
}

// classify turns a command's success flag and combined output into the
// (Success, Errors) pair every result type carries, splitting output
// into lines only when the command failed.
func classify(success bool, out string) (bool, []string) {
	if success {
		return true, nil
	}
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return false, lines
}

type projectType int

const (
	projectUnknown projectType = iota
	projectGo
	projectNode
	projectPython
)

func detectProjectType(workDir string) projectType {
	if fileExists(filepath.Join(workDir, "go.mod")) {
		return projectGo
	}
	if fileExists(filepath.Join(workDir, "package.json")) {
		return projectNode
	}
	if fileExists(filepath.Join(workDir, "pyproject.toml")) ||
		fileExists(filepath.Join(workDir, "setup.py")) ||
		fileExists(filepath.Join(workDir, "requirements.txt")) {
		return projectPython
	}
	return projectUnknown
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func hasGoTestFiles(workDir string) bool {
	found := false
	filepath.Walk(workDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || found {
			return nil
		}
		if info.IsDir() && (info.Name() == "vendor" || strings.HasPrefix(info.Name(), ".")) {
			return filepath.SkipDir
		}
		if !info.IsDir() && strings.HasSuffix(path, "_test.go") {
			found = true
		}
		return nil
	})
	return found
}

func hasNodeScript(workDir, script string) bool {
	content, err := os.ReadFile(filepath.Join(workDir, "package.json"))
	if err != nil {
		return false
	}
	return strings.Contains(string(content), `"`+script+`"`)
}

func hasPythonTests(workDir string) bool {
	if fileExists(filepath.Join(workDir, "tests")) {
		return true
	}
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "test_") && strings.HasSuffix(e.Name(), ".py") {
			return true
		}
	}
	return false
}

// countGoTestOutcomes does a best-effort count of `go test -v` PASS/FAIL/SKIP
// lines, used only to populate TestResult's counters — not for pass/fail
// determination, which comes from the command's exit code.
func countGoTestOutcomes(out string) (passed, failed, skipped int) {
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "--- PASS"):
			passed++
		case strings.HasPrefix(trimmed, "--- FAIL"):
			failed++
		case strings.HasPrefix(trimmed, "--- SKIP"):
			skipped++
		}
	}
	return
}
