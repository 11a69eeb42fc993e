// Package coordinator implements the Coordinator: the top-level
// lifecycle owner that decomposes a job into a task DAG, drives the
// queue's wave-by-wave dispatch against the AgentPool, runs each task
// through the IterationEngine, and — on escalation — routes the run
// through the SelfAssessmentEngine/DynamicReplanner before deciding
// whether to retry, split, rescope or hand off to a human.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-build/nexus/internal/assess"
	"github.com/nexus-build/nexus/internal/erroragg"
	"github.com/nexus-build/nexus/internal/iteration"
	"github.com/nexus-build/nexus/internal/nexuslog"
	"github.com/nexus-build/nexus/internal/pool"
	"github.com/nexus-build/nexus/internal/queue"
	"github.com/nexus-build/nexus/pkg/models"
)

// pollInterval is how often the dispatch loop rechecks the queue when a
// wave comes back empty but work is still pending or in flight.
const pollInterval = 200 * time.Millisecond

// defaultMaxRescopeAttempts bounds how many times a single task may be
// rescoped and retried before a further escalation is treated as final.
const defaultMaxRescopeAttempts = 2

// Decomposer turns a job description into the task DAG the Coordinator
// submits to its Queue. A package-local, narrow collaborator interface —
// the decomposition implementation itself lives elsewhere and is wired
// in by whoever constructs a Coordinator.
type Decomposer interface {
	Decompose(ctx context.Context, jobSpec string) ([]*models.TaskSpec, error)
}

// Runner drives one TaskSpec to a terminal RunState. iteration.Engine
// satisfies this directly; tests supply a fake.
type Runner interface {
	Execute(ctx context.Context, task *models.TaskSpec, wc *models.WorkingCopy, opts iteration.Options) (*iteration.Result, error)
}

// SlotPool leases and reclaims the working copies a Runner executes in,
// under a per-agent-type concurrency cap. pool.Pool satisfies this
// directly.
type SlotPool interface {
	Acquire(ctx context.Context, agentType models.AgentType, hint string) (*models.AgentSlot, error)
	Release(slot *models.AgentSlot, outcome pool.Outcome) error
	Status() pool.Status
}

// Status is a snapshot of the Coordinator's current run.
type Status struct {
	ProjectRoot string
	Running     bool
	Queue       queue.Stats
	Pool        pool.Status
}

// Result summarizes one start() call once the run has no more pending
// work, or has been stopped early.
type Result struct {
	Queue queue.Stats
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithEventSink routes every state-transition event to sink instead of
// discarding it.
func WithEventSink(sink iteration.EventSink) Option {
	return func(c *Coordinator) { c.events = sink }
}

// WithLogger attaches a best-effort debug logger.
func WithLogger(l *nexuslog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithIterationOptions sets the Options passed to every Execute call.
func WithIterationOptions(opts iteration.Options) Option {
	return func(c *Coordinator) { c.iterationOpts = opts }
}

// WithMaxRescopeAttempts overrides how many times a task may be
// rescoped and retried before escalation is treated as final.
func WithMaxRescopeAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxRescopeAttempts = n
		}
	}
}

// Coordinator is the top-level orchestration loop.
type Coordinator struct {
	decomposer Decomposer
	queue      *queue.Queue
	pool       SlotPool
	engine     Runner
	events     iteration.EventSink
	log        *nexuslog.Logger

	iterationOpts      iteration.Options
	maxRescopeAttempts int

	mu            sync.Mutex
	projectRoot   string
	running       bool
	stopped       bool
	stopCh        chan struct{}
	setupInFlight bool
	deferredSetup []*models.TaskSpec
	rescopeCount  map[string]int

	wg sync.WaitGroup
}

// New returns a Coordinator wired to its collaborators. q and p are
// owned by the caller and may be reused across multiple start() calls
// against the same project.
func New(decomposer Decomposer, q *queue.Queue, p SlotPool, engine Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		decomposer:         decomposer,
		queue:              q,
		pool:               p,
		engine:             engine,
		events:             iteration.NopEventSink,
		maxRescopeAttempts: defaultMaxRescopeAttempts,
		rescopeCount:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) emit(topic string, payload any) {
	if c.events != nil {
		c.events.Emit(topic, payload)
	}
}

// Initialize records the project root this Coordinator's run operates
// against. It does not itself touch the filesystem — the collaborators
// wired into New (the Runner's revision system, the pool's worktree
// provider) are already bound to a project by the time they are
// constructed; this call exists so status() has something to report
// before start() is first called.
func (c *Coordinator) Initialize(ctx context.Context, projectRoot string) error {
	c.mu.Lock()
	c.projectRoot = projectRoot
	c.mu.Unlock()
	c.log.Log("coordinator: initialized at %s", projectRoot)
	c.emit("coordinator.initialized", map[string]any{"projectRoot": projectRoot})
	return nil
}

// Start decomposes jobSpec, submits the resulting task DAG to the
// queue, and drives wave-by-wave dispatch until no task has work left
// to do or Stop is called. It returns once the run is quiescent.
func (c *Coordinator) Start(ctx context.Context, jobSpec string) (*Result, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, fmt.Errorf("coordinator: already running")
	}
	c.running = true
	c.stopped = false
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	tasks, err := c.decomposer.Decompose(ctx, jobSpec)
	if err != nil {
		return nil, fmt.Errorf("coordinator: decompose: %w", err)
	}
	if err := c.queue.Submit(tasks); err != nil {
		return nil, fmt.Errorf("coordinator: submit task graph: %w", err)
	}
	c.emit("coordinator.started", map[string]any{"taskCount": len(tasks)})
	c.log.Log("coordinator: started run with %d tasks", len(tasks))

	c.dispatchLoop(ctx)

	stats := c.queue.Stats()
	c.emit("coordinator.done", stats)
	c.log.Log("coordinator: run done: %+v", stats)
	return &Result{Queue: stats}, nil
}

// dispatchLoop is the event-driven scheduling loop: pull a ready wave,
// spawn a task-run goroutine per task (deferring extra SETUP tasks),
// and poll again once nothing is immediately ready, until the queue has
// nothing left pending or Stop fires.
func (c *Coordinator) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case <-c.stopCh:
			c.wg.Wait()
			return
		default:
		}

		if !c.queue.HasPending() {
			c.wg.Wait()
			return
		}

		wave := c.queue.ReadyWave()
		if len(wave) == 0 {
			select {
			case <-ctx.Done():
				c.wg.Wait()
				return
			case <-c.stopCh:
				c.wg.Wait()
				return
			case <-time.After(pollInterval):
			}
			continue
		}

		c.dispatchWave(ctx, wave)
	}
}

// dispatchWave spawns a task-run goroutine for every task in wave,
// except that only one TaskTypeSetup task may be in flight at a time —
// surplus setup tasks are held in deferredSetup and spawned as the
// in-flight one finishes.
func (c *Coordinator) dispatchWave(ctx context.Context, wave []*models.TaskSpec) {
	for _, t := range wave {
		if t.TaskType == models.TaskTypeSetup {
			c.mu.Lock()
			if c.setupInFlight {
				c.deferredSetup = append(c.deferredSetup, t)
				c.mu.Unlock()
				continue
			}
			c.setupInFlight = true
			c.mu.Unlock()
		}
		c.spawn(ctx, t)
	}
}

func (c *Coordinator) spawn(ctx context.Context, task *models.TaskSpec) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runTask(ctx, task)
	}()
}

// runTask drives one task from dispatch to a terminal queue outcome. On
// escalation it consults the SelfAssessmentEngine/DynamicReplanner and,
// for a rescope decision, loops back around with a freshly constructed
// TaskSpec rather than mutating the original — TaskSpec is documented
// immutable, so "rescoping" here means retrying under a new spec that
// carries the same ID and a corrective description/acceptance criteria.
func (c *Coordinator) runTask(ctx context.Context, task *models.TaskSpec) {
	originalID := task.ID
	originalType := task.TaskType
	assessor := assess.New()

	for {
		c.emit("task.dispatch", map[string]any{"taskId": task.ID})

		slot, err := c.pool.Acquire(ctx, task.RequiredAgentType, task.ID)
		if err != nil {
			c.log.Log("coordinator: acquire slot for %s: %v", task.ID, err)
			c.queue.MarkFailed(originalID)
			c.emit("task.failed", map[string]any{"taskId": task.ID, "error": err.Error()})
			break
		}

		result, err := c.engine.Execute(ctx, task, slot.WorkingCopy, c.iterationOpts)
		if err != nil {
			_ = c.pool.Release(slot, pool.OutcomeFailure)
			c.log.Log("coordinator: execute %s: %v", task.ID, err)
			c.queue.MarkFailed(originalID)
			c.emit("task.failed", map[string]any{"taskId": task.ID, "error": err.Error()})
			break
		}

		switch result.FinalState {
		case models.RunCompleted:
			_ = c.pool.Release(slot, pool.OutcomeSuccess)
			c.queue.MarkComplete(originalID)
			c.emit("task.completed", result)

		case models.RunEscalated:
			_ = c.pool.Release(slot, pool.OutcomeFailure)
			next, done := c.handleEscalation(ctx, originalID, task, result, assessor)
			if !done {
				task = next
				continue
			}

		default: // RunFailed, RunAborted
			_ = c.pool.Release(slot, pool.OutcomeFailure)
			c.queue.MarkFailed(originalID)
			c.emit("task.failed", result)
		}
		break
	}

	c.onTaskRunFinished(ctx, originalType)
}

// handleEscalation runs the assess/replan pipeline against an escalated
// run's outcome and applies its decision. It returns (nil, true) once
// the task has reached a terminal queue state; otherwise it returns the
// TaskSpec runTask should retry with next.
func (c *Coordinator) handleEscalation(ctx context.Context, taskID string, task *models.TaskSpec, result *iteration.Result, assessor *assess.Engine) (*models.TaskSpec, bool) {
	agg := erroragg.New()
	if result.Escalation != nil {
		agg.Add(result.Escalation.LastErrors)
	}

	a := assessor.Assess(task, result.Iterations, agg)
	decision := assessor.Decide(a, task, agg)

	switch decision.Kind {
	case assess.ReplanSplit:
		c.emit("task.replanned", map[string]any{"taskId": taskID, "kind": "split", "successors": len(decision.Split)})
		if err := c.queue.Submit(decision.Split); err != nil {
			c.log.Log("coordinator: submit split successors for %s: %v", taskID, err)
			c.queue.MarkFailed(taskID)
			c.emit("task.escalated", result)
			return nil, true
		}
		// The original task is superseded by its successors, not failed.
		c.queue.MarkComplete(taskID)
		return nil, true

	case assess.ReplanRescope:
		c.mu.Lock()
		c.rescopeCount[taskID]++
		attempts := c.rescopeCount[taskID]
		c.mu.Unlock()
		if attempts > c.maxRescopeAttempts {
			c.log.Log("coordinator: %s exhausted %d rescope attempts, escalating", taskID, c.maxRescopeAttempts)
			c.queue.MarkFailed(taskID)
			c.emit("task.escalated", result)
			return nil, true
		}
		c.emit("task.replanned", map[string]any{"taskId": taskID, "kind": "rescope", "attempt": attempts})
		return rescopedCopy(task, decision), false

	default: // ReplanEscalate, or ReplanContinue (never the right call here)
		c.queue.MarkFailed(taskID)
		c.emit("task.escalated", result)
		return nil, true
	}
}

// rescopedCopy builds a new TaskSpec carrying the original's identity
// and scheduling metadata but decision's corrective description and
// acceptance criteria.
func rescopedCopy(task *models.TaskSpec, decision assess.ReplanDecision) *models.TaskSpec {
	return &models.TaskSpec{
		ID:                 task.ID,
		Name:               task.Name,
		Description:        decision.RescopeDescription,
		Files:              task.Files,
		AcceptanceCriteria: decision.RescopeAcceptanceCriteria,
		DependsOn:          task.DependsOn,
		EstimatedEffort:    task.EstimatedEffort,
		TaskType:           task.TaskType,
		RequiredAgentType:  task.RequiredAgentType,
		ParentID:           task.ParentID,
		CreatedAt:          task.CreatedAt,
	}
}

// onTaskRunFinished releases the SETUP-serialization slot, if task held
// one, and spawns the next deferred SETUP task, if any.
func (c *Coordinator) onTaskRunFinished(ctx context.Context, taskType models.TaskType) {
	if taskType != models.TaskTypeSetup {
		return
	}
	c.mu.Lock()
	c.setupInFlight = false
	var next *models.TaskSpec
	if len(c.deferredSetup) > 0 {
		next = c.deferredSetup[0]
		c.deferredSetup = c.deferredSetup[1:]
		c.setupInFlight = true
	}
	c.mu.Unlock()
	if next != nil {
		c.spawn(ctx, next)
	}
}

// Stop requests the dispatch loop exit once any in-flight task-run
// goroutines finish. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	c.mu.Unlock()

	c.wg.Wait()
	c.emit("coordinator.stopped", nil)
	c.log.Log("coordinator: stopped")
}

// Status reports the Coordinator's current project root, run state,
// queue and pool occupancy.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	root := c.projectRoot
	running := c.running
	c.mu.Unlock()

	return Status{
		ProjectRoot: root,
		Running:     running,
		Queue:       c.queue.Stats(),
		Pool:        c.pool.Status(),
	}
}
