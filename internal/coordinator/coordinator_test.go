package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexus-build/nexus/internal/iteration"
	"github.com/nexus-build/nexus/internal/pool"
	"github.com/nexus-build/nexus/internal/queue"
	"github.com/nexus-build/nexus/pkg/models"
)

type fakeDecomposer struct {
	tasks []*models.TaskSpec
	err   error
}

func (f *fakeDecomposer) Decompose(ctx context.Context, jobSpec string) ([]*models.TaskSpec, error) {
	return f.tasks, f.err
}

type fakeSlotPool struct {
	mu      sync.Mutex
	acquired int
}

func (f *fakeSlotPool) Acquire(ctx context.Context, agentType models.AgentType, hint string) (*models.AgentSlot, error) {
	f.mu.Lock()
	f.acquired++
	f.mu.Unlock()
	return &models.AgentSlot{AgentType: agentType, InUse: true, LeaseToken: hint, WorkingCopy: &models.WorkingCopy{Path: "/tmp/" + hint}}, nil
}

func (f *fakeSlotPool) Release(slot *models.AgentSlot, outcome pool.Outcome) error {
	return nil
}

func (f *fakeSlotPool) Status() pool.Status {
	return pool.Status{}
}

// fakeRunner lets each test script a per-task-ID sequence of results,
// popping one entry from the front each time Execute is called for that
// task ID so a retried (rescoped) run sees the next scripted outcome.
type fakeRunner struct {
	mu      sync.Mutex
	scripts map[string][]*iteration.Result
	calls   map[string]int
	onCall  func(taskID string)
}

func (f *fakeRunner) Execute(ctx context.Context, task *models.TaskSpec, wc *models.WorkingCopy, opts iteration.Options) (*iteration.Result, error) {
	if f.onCall != nil {
		f.onCall(task.ID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[task.ID]++
	seq := f.scripts[task.ID]
	if len(seq) == 0 {
		return &iteration.Result{TaskID: task.ID, FinalState: models.RunCompleted}, nil
	}
	next := seq[0]
	f.scripts[task.ID] = seq[1:]
	return next, nil
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{scripts: make(map[string][]*iteration.Result), calls: make(map[string]int)}
}

func simpleTask(id string, deps ...string) *models.TaskSpec {
	return &models.TaskSpec{
		ID: id, Name: id, Description: "do " + id,
		AcceptanceCriteria: []string{"it works"},
		DependsOn:          deps,
		RequiredAgentType:  models.AgentTypeBuilder,
		TaskType:           models.TaskTypeFeature,
	}
}

func TestStartRunsIndependentTasksToCompletion(t *testing.T) {
	tasks := []*models.TaskSpec{simpleTask("a"), simpleTask("b")}
	c := New(&fakeDecomposer{tasks: tasks}, queue.New(), &fakeSlotPool{}, newFakeRunner())

	result, err := c.Start(context.Background(), "build the thing")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Queue.Completed != 2 {
		t.Fatalf("Queue.Completed = %d, want 2: %+v", result.Queue.Completed, result.Queue)
	}
}

func TestStartCascadesFailureToDependents(t *testing.T) {
	tasks := []*models.TaskSpec{simpleTask("a"), simpleTask("b", "a")}
	runner := newFakeRunner()
	runner.scripts["a"] = []*iteration.Result{{TaskID: "a", FinalState: models.RunFailed}}
	c := New(&fakeDecomposer{tasks: tasks}, queue.New(), &fakeSlotPool{}, runner)

	result, err := c.Start(context.Background(), "build the thing")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Queue.Failed != 1 || result.Queue.Blocked != 1 {
		t.Fatalf("got %+v, want 1 failed + 1 blocked", result.Queue)
	}
}

func TestEscalationWithWideErrorFootprintSplits(t *testing.T) {
	tk := simpleTask("a")
	escalated := &iteration.Result{
		TaskID:     "a",
		FinalState: models.RunEscalated,
		Iterations: []*models.IterationRecord{{Iteration: 1, Test: &models.QAResult{Success: false}}},
		Escalation: &models.EscalationReport{
			Reason: models.ReasonRepeatedFailures,
			LastErrors: []*models.ErrorEntry{
				{Kind: models.ErrorBuild, Message: "broken in a.go", Path: "a.go", IterationOfOrigin: 1},
				{Kind: models.ErrorBuild, Message: "broken in b.go", Path: "b.go", IterationOfOrigin: 1},
				{Kind: models.ErrorBuild, Message: "broken in c.go", Path: "c.go", IterationOfOrigin: 1},
				{Kind: models.ErrorBuild, Message: "broken in d.go", Path: "d.go", IterationOfOrigin: 1},
			},
		},
	}
	runner := newFakeRunner()
	runner.scripts["a"] = []*iteration.Result{escalated}

	q := queue.New()
	c := New(&fakeDecomposer{tasks: []*models.TaskSpec{tk}}, q, &fakeSlotPool{}, runner)

	result, err := c.Start(context.Background(), "build the thing")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	// "a" is superseded (marked complete) by its 4 split successors,
	// which run to completion through the fake runner's default.
	if result.Queue.Completed != 5 {
		t.Fatalf("Queue.Completed = %d, want 5 (1 superseded + 4 successors): %+v", result.Queue.Completed, result.Queue)
	}
}

func TestEscalationWithRepeatedFailureEscalatesToFailed(t *testing.T) {
	tk := simpleTask("a")
	var errs []*models.ErrorEntry
	for i := 1; i <= 3; i++ {
		errs = append(errs, &models.ErrorEntry{Kind: models.ErrorTest, Message: "null deref", Path: "x.go", Line: i, IterationOfOrigin: i})
	}
	escalated := &iteration.Result{
		TaskID:     "a",
		FinalState: models.RunEscalated,
		Iterations: []*models.IterationRecord{{Iteration: 3, Test: &models.QAResult{Success: false}}},
		Escalation: &models.EscalationReport{Reason: models.ReasonRepeatedFailures, LastErrors: errs},
	}
	runner := newFakeRunner()
	runner.scripts["a"] = []*iteration.Result{escalated}

	c := New(&fakeDecomposer{tasks: []*models.TaskSpec{tk}}, queue.New(), &fakeSlotPool{}, runner)
	result, err := c.Start(context.Background(), "build the thing")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Queue.Failed != 1 {
		t.Fatalf("Queue.Failed = %d, want 1: %+v", result.Queue.Failed, result.Queue)
	}
	if runner.calls["a"] != 1 {
		t.Fatalf("expected exactly one Execute call for an unretriable escalation, got %d", runner.calls["a"])
	}
}

func TestSetupTasksRunSerially(t *testing.T) {
	tasks := []*models.TaskSpec{
		{ID: "s1", Name: "s1", Description: "d", AcceptanceCriteria: []string{"x"}, TaskType: models.TaskTypeSetup, RequiredAgentType: models.AgentTypeBuilder},
		{ID: "s2", Name: "s2", Description: "d", AcceptanceCriteria: []string{"x"}, TaskType: models.TaskTypeSetup, RequiredAgentType: models.AgentTypeBuilder},
	}

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	runner := newFakeRunner()
	runner.onCall = func(taskID string) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	c := New(&fakeDecomposer{tasks: tasks}, queue.New(), &fakeSlotPool{}, runner)
	result, err := c.Start(context.Background(), "setup")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Queue.Completed != 2 {
		t.Fatalf("Queue.Completed = %d, want 2: %+v", result.Queue.Completed, result.Queue)
	}
	if maxInFlight != 1 {
		t.Fatalf("maxInFlight = %d, want 1 (setup tasks must serialize)", maxInFlight)
	}
}

func TestStopPreventsLaterWavesFromDispatching(t *testing.T) {
	tasks := []*models.TaskSpec{simpleTask("a"), simpleTask("b", "a")}
	runner := newFakeRunner()
	q := queue.New()
	c := New(&fakeDecomposer{tasks: tasks}, q, &fakeSlotPool{}, runner)
	runner.onCall = func(taskID string) {
		if taskID == "a" {
			go c.Stop()
			time.Sleep(50 * time.Millisecond)
		}
	}

	result, err := c.Start(context.Background(), "build the thing")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.Queue.Completed != 1 {
		t.Fatalf("Queue.Completed = %d, want 1 (b should never be dispatched once Stop fires)", result.Queue.Completed)
	}
	if state, _ := q.StateOf("b"); state == queue.StateCompleted {
		t.Fatal("b reached completed despite Stop firing before it became ready")
	}
}

func TestStatusReportsProjectRootAndQueueStats(t *testing.T) {
	c := New(&fakeDecomposer{tasks: []*models.TaskSpec{simpleTask("a")}}, queue.New(), &fakeSlotPool{}, newFakeRunner())
	if err := c.Initialize(context.Background(), "/srv/project"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if _, err := c.Start(context.Background(), "build the thing"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := c.Status()
	if status.ProjectRoot != "/srv/project" {
		t.Fatalf("ProjectRoot = %q, want /srv/project", status.ProjectRoot)
	}
	if status.Queue.Completed != 1 {
		t.Fatalf("Queue.Completed = %d, want 1", status.Queue.Completed)
	}
}

func TestDecomposeErrorIsPropagated(t *testing.T) {
	c := New(&fakeDecomposer{err: fmt.Errorf("boom")}, queue.New(), &fakeSlotPool{}, newFakeRunner())
	if _, err := c.Start(context.Background(), "build the thing"); err == nil {
		t.Fatal("expected a decompose error to propagate")
	}
}
