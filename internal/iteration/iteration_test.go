package iteration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-build/nexus/internal/commitlog"
	"github.com/nexus-build/nexus/internal/ctxbuild"
	"github.com/nexus-build/nexus/internal/diffctx"
	"github.com/nexus-build/nexus/internal/escalation"
	"github.com/nexus-build/nexus/internal/qa"
	"github.com/nexus-build/nexus/internal/revision"
	"github.com/nexus-build/nexus/pkg/models"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init")
	run("config", "user.name", "Test")
	run("config", "user.email", "test@test.com")
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# x"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial")
	return dir
}

// scriptedAgent returns one AgentStepResult per call, writing a touched
// file to disk each time so the commit handler has something to stage.
type scriptedAgent struct {
	dir   string
	steps int
}

func (a *scriptedAgent) Step(ctx context.Context, pack *models.ContextPack, priorErrors []*models.ErrorEntry, lastQA *IterationQA) (AgentStepResult, error) {
	a.steps++
	name := fmt.Sprintf("file%d.txt", a.steps)
	if err := os.WriteFile(filepath.Join(a.dir, name), []byte("content"), 0644); err != nil {
		return AgentStepResult{}, err
	}
	return AgentStepResult{FilesChanged: []string{name}, TextOutput: "did work", TokensUsed: 10}, nil
}

// scriptedQA succeeds on the Nth call and fails before that; it
// implements only qa.Builder and qa.Tester to exercise the partial
// capability-detection path.
type scriptedQA struct {
	succeedOn int
	calls     int
}

func (q *scriptedQA) Build(ctx context.Context, taskID, workDir string) (*qa.BuildResult, error) {
	return &qa.BuildResult{Success: true}, nil
}

func (q *scriptedQA) Test(ctx context.Context, taskID, workDir string) (*qa.TestResult, error) {
	q.calls++
	if q.calls >= q.succeedOn {
		return &qa.TestResult{Success: true, Passed: 1}, nil
	}
	return &qa.TestResult{Success: false, Errors: []string{"assertion failed"}}, nil
}

func newEngine(t *testing.T, dir string, agent Agent, qaRunner any) *Engine {
	t.Helper()
	sys := revision.NewGitSystem(dir)
	commit := commitlog.New(sys)
	diff := diffctx.New(sys)
	ctxBuilder := ctxbuild.New(nil)
	esc := escalation.New(sys, commit, escalation.WithEscalationsDir(filepath.Join(dir, ".nexus/escalations")))
	return New(sys, ctxBuilder, diff, commit, qaRunner, esc, agent)
}

func TestExecuteSucceedsWhenQAPassesImmediately(t *testing.T) {
	dir := initRepo(t)
	agent := &scriptedAgent{dir: dir}
	qaRunner := &scriptedQA{succeedOn: 1}
	e := newEngine(t, dir, agent, qaRunner)

	task := &models.TaskSpec{ID: "task-success", Description: "add a file"}
	result, err := e.Execute(context.Background(), task, nil, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != models.RunCompleted {
		t.Fatalf("FinalState = %s, want completed", result.FinalState)
	}
	if len(result.Iterations) != 1 {
		t.Fatalf("expected exactly 1 iteration, got %d", len(result.Iterations))
	}
	if result.Iterations[0].Revision == "" {
		t.Error("expected the first iteration to have committed a revision")
	}
}

func TestExecuteRetriesUntilQAPasses(t *testing.T) {
	dir := initRepo(t)
	agent := &scriptedAgent{dir: dir}
	qaRunner := &scriptedQA{succeedOn: 3}
	e := newEngine(t, dir, agent, qaRunner)

	task := &models.TaskSpec{ID: "task-retry", Description: "add a file"}
	result, err := e.Execute(context.Background(), task, nil, Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != models.RunCompleted {
		t.Fatalf("FinalState = %s, want completed", result.FinalState)
	}
	if len(result.Iterations) != 3 {
		t.Fatalf("expected 3 iterations before success, got %d", len(result.Iterations))
	}
	for i, rec := range result.Iterations[:2] {
		if rec.Test == nil || rec.Test.Success {
			t.Errorf("iteration %d: expected a failing test result", i+1)
		}
	}
}

func TestExecuteEscalatesAfterMaxIterations(t *testing.T) {
	dir := initRepo(t)
	agent := &scriptedAgent{dir: dir}
	qaRunner := &scriptedQA{succeedOn: 100}
	e := newEngine(t, dir, agent, qaRunner)

	task := &models.TaskSpec{ID: "task-escalate", Description: "never passes"}
	result, err := e.Execute(context.Background(), task, nil, Options{MaxIterations: 2})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.FinalState != models.RunEscalated {
		t.Fatalf("FinalState = %s, want escalated", result.FinalState)
	}
	if result.Escalation == nil || result.Escalation.Reason != models.ReasonMaxIterations {
		t.Fatalf("expected a max-iterations escalation report, got %+v", result.Escalation)
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("expected exactly 2 iterations before escalation, got %d", len(result.Iterations))
	}
}

func TestPauseBlocksResumeContinues(t *testing.T) {
	dir := initRepo(t)
	agent := &scriptedAgent{dir: dir}
	qaRunner := &scriptedQA{succeedOn: 1}
	e := newEngine(t, dir, agent, qaRunner)

	task := &models.TaskSpec{ID: "task-pause", Description: "add a file"}

	// Register the run manually so Pause/Resume have something to act on
	// before Execute would normally create it, exercising the controller
	// in isolation from the loop.
	r := &run{task: &models.TaskRun{Spec: task, State: models.RunRunning}, pause: newPauseFlags()}
	e.mu.Lock()
	e.runs[task.ID] = r
	e.mu.Unlock()

	if err := e.Pause(task.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	status, err := e.Status(task.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != models.RunPaused {
		t.Fatalf("State = %s, want paused", status.State)
	}

	if err := e.Resume(task.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	status, err = e.Status(task.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != models.RunRunning {
		t.Fatalf("State = %s, want running after resume", status.State)
	}
}

func TestAbortStopsTheLoop(t *testing.T) {
	dir := initRepo(t)
	agent := &scriptedAgent{dir: dir}
	qaRunner := &scriptedQA{succeedOn: 100}
	e := newEngine(t, dir, agent, qaRunner)

	task := &models.TaskSpec{ID: "task-abort", Description: "never passes"}

	r := &run{task: &models.TaskRun{Spec: task, State: models.RunRunning, StartedAt: time.Now()}, pause: newPauseFlags()}
	e.mu.Lock()
	e.runs[task.ID] = r
	e.mu.Unlock()

	if err := e.Abort(task.ID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if !r.pause.isAborted() {
		t.Fatal("expected the run to be marked aborted")
	}
}

func TestSuccessPredicate(t *testing.T) {
	cases := []struct {
		name string
		qa   *IterationQA
		want bool
	}{
		{"all absent", &IterationQA{}, true},
		{"build failed", &IterationQA{Build: &models.QAResult{Success: false}}, false},
		{"lint errors", &IterationQA{Lint: &models.QAResult{NumErrors: 1}}, false},
		{"test failed", &IterationQA{Test: &models.QAResult{Success: false}}, false},
		{"review not approved", &IterationQA{Review: &models.QAResult{Approved: false}}, false},
		{"everything ok", &IterationQA{
			Build:  &models.QAResult{Success: true},
			Lint:   &models.QAResult{NumErrors: 0},
			Test:   &models.QAResult{Success: true},
			Review: &models.QAResult{Approved: true},
		}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := successPredicate(c.qa); got != c.want {
				t.Errorf("successPredicate() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestStampErrorsUsesGivenSeverity(t *testing.T) {
	errs := stampErrors([]string{"undefined: Foo"}, models.ErrorBuild, models.SeverityError, 1)
	if len(errs) != 1 || errs[0].Severity != models.SeverityError {
		t.Fatalf("stampErrors(SeverityError) = %+v, want one entry with SeverityError", errs)
	}

	warnings := stampErrors([]string{"unused variable x"}, models.ErrorBuild, models.SeverityWarning, 1)
	if len(warnings) != 1 || warnings[0].Severity != models.SeverityWarning {
		t.Fatalf("stampErrors(SeverityWarning) = %+v, want one entry with SeverityWarning", warnings)
	}
}

func TestRunQAStampsWarningsSeparatelyFromErrors(t *testing.T) {
	dir := initRepo(t)
	qaRunner := &warningQA{}
	e := newEngine(t, dir, &scriptedAgent{dir: dir}, qaRunner)

	_, errs := e.runQA(context.Background(), "task-1", &models.WorkingCopy{Path: dir}, 1)

	var sawError, sawWarning bool
	for _, entry := range errs {
		switch entry.Message {
		case "undefined: Foo":
			sawError = entry.Severity == models.SeverityError
		case "unused variable x":
			sawWarning = entry.Severity == models.SeverityWarning
		}
	}
	if !sawError {
		t.Error("expected build error to carry SeverityError")
	}
	if !sawWarning {
		t.Error("expected build warning to carry SeverityWarning")
	}
}

// warningQA implements only qa.Builder, returning one error and one
// warning so runQA's severity stamping can be exercised independently.
type warningQA struct{}

func (q *warningQA) Build(ctx context.Context, taskID, workDir string) (*qa.BuildResult, error) {
	return &qa.BuildResult{
		Success:  false,
		Errors:   []string{"undefined: Foo"},
		Warnings: []string{"unused variable x"},
	}, nil
}
