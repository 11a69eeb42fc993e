// Package iteration implements the IterationEngine: the per-task
// iterate -> QA -> analyze -> repeat state machine (the "Ralph loop"),
// owning pause/resume/abort for a running TaskRun.
package iteration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexus-build/nexus/internal/commitlog"
	"github.com/nexus-build/nexus/internal/ctxbuild"
	"github.com/nexus-build/nexus/internal/diffctx"
	"github.com/nexus-build/nexus/internal/erroragg"
	"github.com/nexus-build/nexus/internal/escalation"
	"github.com/nexus-build/nexus/internal/qa"
	"github.com/nexus-build/nexus/internal/revision"
	"github.com/nexus-build/nexus/pkg/models"
)

// AgentStepResult is what one agent step produces.
type AgentStepResult struct {
	FilesChanged []string
	TextOutput   string
	TokensUsed   int64
}

// Agent runs one step of work given the current context pack, the
// deduplicated errors observed so far, and the previous iteration's QA
// results (nil on the first iteration). It is the collaborator an
// LLMClient-backed implementation inside the AgentPool satisfies; the
// engine itself never talks to an LLMClient directly.
type Agent interface {
	Step(ctx context.Context, pack *models.ContextPack, priorErrors []*models.ErrorEntry, lastQA *IterationQA) (AgentStepResult, error)
}

// IterationQA bundles the four optional QA step results for one
// iteration, as handed to the agent for its next step and recorded on
// the IterationRecord.
type IterationQA struct {
	Build  *models.QAResult
	Lint   *models.QAResult
	Test   *models.QAResult
	Review *models.QAResult
}

// EventSink receives a notification at every state transition. A nil
// Emit is never called directly; use NopEventSink when no sink is
// configured.
type EventSink interface {
	Emit(topic string, payload any)
}

type nopEventSink struct{}

func (nopEventSink) Emit(string, any) {}

// NopEventSink is an EventSink that discards everything.
var NopEventSink EventSink = nopEventSink{}

// Options configures one execute() call. Zero-value fields are replaced
// with their defaults by resolved(). CommitEachIteration is a *bool so a
// nil value (the zero value) can default to true while still letting a
// caller explicitly opt out.
type Options struct {
	MaxIterations         int
	CommitEachIteration   *bool
	IncludeDiffContext    bool
	IncludePreviousErrors bool
	EscalateAfter         int
	TimeoutMinutes        int
}

func boolPtr(b bool) *bool { return &b }

func (o Options) resolved() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 20
	}
	if o.CommitEachIteration == nil {
		o.CommitEachIteration = boolPtr(true)
	}
	if o.EscalateAfter <= 0 {
		o.EscalateAfter = o.MaxIterations
	}
	if o.TimeoutMinutes <= 0 {
		o.TimeoutMinutes = 60
	}
	return o
}

// Result is the public outcome of execute().
type Result struct {
	TaskID       string
	FinalState   models.RunState
	Iterations   []*models.IterationRecord
	WallClock    time.Duration
	TotalTokens  int64
	LastRevision string
	Escalation   *models.EscalationReport
}

// pauseFlags is the minimal per-task pause/resume/abort coordination
// state, modeled on the teacher's PauseController: a mutex-guarded
// condition variable any number of callers can signal.
type pauseFlags struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	aborted bool
}

func newPauseFlags() *pauseFlags {
	p := &pauseFlags{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *pauseFlags) pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

func (p *pauseFlags) resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.cond.Broadcast()
}

func (p *pauseFlags) abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.aborted = true
	p.cond.Broadcast()
}

func (p *pauseFlags) isAborted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.aborted
}

// waitIfPaused blocks at an iteration boundary until resumed or
// aborted, or until ctx is cancelled.
func (p *pauseFlags) waitIfPaused(ctx context.Context) error {
	p.mu.Lock()
	if p.paused && !p.aborted {
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-done:
			}
		}()
		for p.paused && !p.aborted {
			p.cond.Wait()
			if ctx.Err() != nil {
				close(done)
				p.mu.Unlock()
				return ctx.Err()
			}
		}
		close(done)
	}
	p.mu.Unlock()
	return nil
}

// run is the engine's live bookkeeping for one in-flight task, separate
// from the public models.TaskRun snapshot returned by Status.
type run struct {
	mu     sync.Mutex
	task   *models.TaskRun
	errs   *erroragg.Aggregator
	pause  *pauseFlags
	lastQA *IterationQA
}

// Engine is the IterationEngine.
type Engine struct {
	ctxBuilder *ctxbuild.Builder
	diff       *diffctx.Builder
	commit     *commitlog.Handler
	qaRunner   any // implements any subset of qa.Builder/Linter/Tester/Reviewer
	escalation *escalation.Handler
	agent      Agent
	sys        revision.System
	events     EventSink

	mu   sync.Mutex
	runs map[string]*run
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithEventSink(s EventSink) EngineOption { return func(e *Engine) { e.events = s } }

// New returns an Engine wired to its collaborators. qaRunner may
// implement any subset of qa.Builder/Linter/Tester/Reviewer; the engine
// type-asserts for each capability and treats an unsupported one as
// simply absent from the run.
func New(sys revision.System, ctxBuilder *ctxbuild.Builder, diff *diffctx.Builder, commit *commitlog.Handler, qaRunner any, esc *escalation.Handler, agent Agent, opts ...EngineOption) *Engine {
	e := &Engine{
		sys:        sys,
		ctxBuilder: ctxBuilder,
		diff:       diff,
		commit:     commit,
		qaRunner:   qaRunner,
		escalation: esc,
		agent:      agent,
		events:     NopEventSink,
		runs:       make(map[string]*run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(topic string, payload any) {
	if e.events != nil {
		e.events.Emit(topic, payload)
	}
}

// Execute runs task to a terminal state and returns. wc is the working
// copy the task-run future acquired from the AgentPool; QA and commit
// operations run inside it. A nil wc runs in the revision system's own
// working directory, which a Coordinator never does outside of tests.
func (e *Engine) Execute(ctx context.Context, task *models.TaskSpec, wc *models.WorkingCopy, opts Options) (*Result, error) {
	opts = opts.resolved()

	base, err := e.sys.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("iteration: read base revision: %w", err)
	}

	tr := &models.TaskRun{
		Spec:           task,
		WorkingCopy:    wc,
		State:          models.RunRunning,
		Phase:          models.PhaseInitializing,
		BaseRevision:   base,
		StartedAt:      time.Now(),
		LastActivityAt: time.Now(),
	}
	r := &run{task: tr, errs: erroragg.New(), pause: newPauseFlags()}

	e.mu.Lock()
	e.runs[task.ID] = r
	e.mu.Unlock()

	e.emit("task.started", tr)

	deadline := tr.StartedAt.Add(time.Duration(opts.TimeoutMinutes) * time.Minute)

	for {
		if r.pause.isAborted() {
			return e.finish(r, models.RunAborted, nil)
		}
		if err := r.pause.waitIfPaused(ctx); err != nil {
			return e.finish(r, models.RunAborted, nil)
		}

		r.mu.Lock()
		iterNum := tr.Iteration + 1
		tr.Iteration = iterNum
		tr.Phase = models.PhaseInitializing
		r.mu.Unlock()

		e.emit("iteration.started", map[string]any{"taskId": task.ID, "iteration": iterNum})

		record, completed, err := e.runIteration(ctx, r, task, opts, iterNum)
		if err != nil {
			return e.finishFailed(r, err)
		}

		r.mu.Lock()
		tr.Iterations = append(tr.Iterations, record)
		tr.LastActivityAt = time.Now()
		r.mu.Unlock()

		e.emit("iteration.completed", record)

		if completed {
			r.mu.Lock()
			tr.Phase = models.PhaseFinalizing
			r.mu.Unlock()
			return e.finish(r, models.RunCompleted, nil)
		}

		if reason, ok := e.checkEscalationTriggers(r, opts, iterNum, deadline); ok {
			report, escErr := e.escalation.Escalate(ctx, task.ID, reason, iterNum, r.errs.Unique())
			if escErr != nil {
				return e.finishFailed(r, escErr)
			}
			return e.finish(r, models.RunEscalated, report)
		}
	}
}

// runIteration executes one full pass of the loop body (steps b..g of
// the per-iteration algorithm) and reports whether the success
// predicate was met.
func (e *Engine) runIteration(ctx context.Context, r *run, task *models.TaskSpec, opts Options, iterNum int) (*models.IterationRecord, bool, error) {
	start := time.Now()

	r.mu.Lock()
	tr := r.task
	tr.Phase = models.PhaseCoding
	lastQA := r.lastQA
	r.mu.Unlock()

	pack, err := e.ctxBuilder.Build(ctx, task, iterNum)
	if err != nil {
		return nil, false, fmt.Errorf("build context: %w", err)
	}

	var priorErrors []*models.ErrorEntry
	if opts.IncludePreviousErrors {
		priorErrors = r.errs.Unique()
	}

	if opts.IncludeDiffContext && iterNum > 1 {
		if prevRev := lastRevision(tr); prevRev != "" {
			prior := e.diff.DiffBetween(ctx, prevRev, "")
			pack.ConversationHistory = append(pack.ConversationHistory,
				"previous iteration diff:\n"+diffctx.Format(prior, diffctx.FormatOptions{FileListOnly: true}))
		}
		cumulative := e.diff.CumulativeDiff(ctx, tr.BaseRevision)
		pack.ConversationHistory = append(pack.ConversationHistory,
			"cumulative diff since task start:\n"+diffctx.Format(cumulative, diffctx.FormatOptions{FileListOnly: true}))
	}

	stepResult, stepErr := e.agent.Step(ctx, pack, priorErrors, lastQA)
	var agentErrs []*models.ErrorEntry
	if stepErr != nil {
		agentErrs = append(agentErrs, &models.ErrorEntry{
			Kind:              models.ErrorRuntime,
			Severity:          models.SeverityError,
			Message:           stepErr.Error(),
			IterationOfOrigin: iterNum,
		})
		stepResult.FilesChanged = nil
	}

	var revHash string
	if *opts.CommitEachIteration && len(stepResult.FilesChanged) > 0 {
		summary := fmt.Sprintf("%d file(s) touched", len(stepResult.FilesChanged))
		rev, commitErr := e.commit.Commit(ctx, task.ID, iterNum, summary, false)
		if commitErr != nil && commitErr != commitlog.ErrNoChanges {
			return nil, false, fmt.Errorf("commit iteration: %w", commitErr)
		}
		revHash = rev
	}

	qaResult, qaErrs := e.runQA(ctx, task.ID, tr.WorkingCopy, iterNum)
	r.errs.Add(agentErrs)
	r.errs.Add(qaErrs)

	record := &models.IterationRecord{
		Iteration:    iterNum,
		Phase:        tr.Phase,
		AgentOutput:  stepResult.TextOutput,
		FilesTouched: stepResult.FilesChanged,
		Build:        qaResult.Build,
		Lint:         qaResult.Lint,
		Test:         qaResult.Test,
		Review:       qaResult.Review,
		Errors:       append(append([]*models.ErrorEntry(nil), agentErrs...), qaErrs...),
		Duration:     time.Since(start),
		TokensUsed:   stepResult.TokensUsed,
		Revision:     revHash,
		Timestamp:    time.Now(),
	}

	r.mu.Lock()
	r.lastQA = qaResult
	r.mu.Unlock()

	return record, successPredicate(qaResult), nil
}

func lastRevision(tr *models.TaskRun) string {
	if len(tr.Iterations) == 0 {
		return ""
	}
	for i := len(tr.Iterations) - 1; i >= 0; i-- {
		if rev := tr.Iterations[i].Revision; rev != "" {
			return rev
		}
	}
	return ""
}

// workDir resolves the directory QA commands run in; an absent working
// copy (not yet wired through the pool) falls back to "."
func workDir(wc *models.WorkingCopy) string {
	if wc == nil || wc.Path == "" {
		return "."
	}
	return wc.Path
}

// runQA implements the build -> lint -> test -> review subsequencing
// policy: a failing build or test step halts later steps; lint always
// runs to completion and never blocks; review only runs when test was
// absent or successful.
func (e *Engine) runQA(ctx context.Context, taskID string, wc *models.WorkingCopy, iteration int) (*IterationQA, []*models.ErrorEntry) {
	result := &IterationQA{}
	var errs []*models.ErrorEntry
	dir := workDir(wc)

	if builder, ok := e.qaRunner.(qa.Builder); ok {
		out, err := builder.Build(ctx, taskID, dir)
		if err != nil {
			out = &qa.BuildResult{Success: false}
		}
		result.Build = &models.QAResult{Success: out.Success, NumErrors: len(out.Errors)}
		errs = append(errs, stampErrors(out.Errors, models.ErrorBuild, models.SeverityError, iteration)...)
		errs = append(errs, stampErrors(out.Warnings, models.ErrorBuild, models.SeverityWarning, iteration)...)
		if !out.Success {
			return result, errs
		}
	}

	if linter, ok := e.qaRunner.(qa.Linter); ok {
		out, err := linter.Lint(ctx, taskID, dir)
		if err != nil {
			out = &qa.LintResult{Success: false}
		}
		result.Lint = &models.QAResult{Success: out.Success, NumErrors: len(out.Errors)}
		errs = append(errs, stampErrors(out.Errors, models.ErrorLint, models.SeverityError, iteration)...)
		errs = append(errs, stampErrors(out.Warnings, models.ErrorLint, models.SeverityWarning, iteration)...)
	}

	testAbsentOrOK := true
	if tester, ok := e.qaRunner.(qa.Tester); ok {
		out, err := tester.Test(ctx, taskID, dir)
		if err != nil {
			out = &qa.TestResult{Success: false}
		}
		result.Test = &models.QAResult{Success: out.Success, NumErrors: len(out.Errors)}
		errs = append(errs, stampErrors(out.Errors, models.ErrorTest, models.SeverityError, iteration)...)
		testAbsentOrOK = out.Success
		if !out.Success {
			return result, errs
		}
	}

	if testAbsentOrOK {
		if reviewer, ok := e.qaRunner.(qa.Reviewer); ok {
			out, err := reviewer.Review(ctx, taskID, dir)
			if err != nil {
				out = &qa.ReviewResult{Approved: false}
			}
			result.Review = &models.QAResult{Success: out.Approved, Approved: out.Approved, NumErrors: len(out.Blockers)}
			for _, blocker := range out.Blockers {
				errs = append(errs, &models.ErrorEntry{
					Kind:              models.ErrorReview,
					Severity:          models.SeverityError,
					Message:           blocker,
					IterationOfOrigin: iteration,
				})
			}
		}
	}

	return result, errs
}

func stampErrors(msgs []string, kind models.ErrorKind, severity models.Severity, iteration int) []*models.ErrorEntry {
	out := make([]*models.ErrorEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &models.ErrorEntry{
			Kind:              kind,
			Severity:          severity,
			Message:           m,
			IterationOfOrigin: iteration,
		})
	}
	return out
}

// successPredicate implements: (build absent ∨ build.success) ∧
// (lint absent ∨ lint.errors==0) ∧ (test absent ∨ test.success) ∧
// (review absent ∨ review.approved). Lint warnings never block success
// since only lint.Errors count toward NumErrors here, not warnings
// folded separately.
func successPredicate(result *IterationQA) bool {
	if result.Build != nil && !result.Build.Success {
		return false
	}
	if result.Lint != nil && result.Lint.NumErrors > 0 {
		return false
	}
	if result.Test != nil && !result.Test.Success {
		return false
	}
	if result.Review != nil && !result.Review.Approved {
		return false
	}
	return true
}

// checkEscalationTriggers evaluates the three escalation conditions in
// priority order: max iterations, timeout, then repeated failures.
func (e *Engine) checkEscalationTriggers(r *run, opts Options, iterNum int, deadline time.Time) (models.EscalationReason, bool) {
	if iterNum >= opts.EscalateAfter {
		return models.ReasonMaxIterations, true
	}
	if time.Now().After(deadline) {
		return models.ReasonTimeout, true
	}
	if hasRepeatedFailure(r.task.Iterations) {
		return models.ReasonRepeatedFailures, true
	}
	return "", false
}

// hasRepeatedFailure reports whether some (kind,message) pair has
// occurred in 3 or more distinct iterations. It counts over the iteration
// records, since the aggregator keeps only the newest occurrence of an
// identical error.
func hasRepeatedFailure(records []*models.IterationRecord) bool {
	counts := make(map[string]map[int]bool)
	for _, rec := range records {
		for _, e := range rec.Errors {
			key := string(e.Kind) + "|" + e.Message
			if counts[key] == nil {
				counts[key] = make(map[int]bool)
			}
			counts[key][rec.Iteration] = true
			if len(counts[key]) >= 3 {
				return true
			}
		}
	}
	return false
}

func (e *Engine) finish(r *run, state models.RunState, report *models.EscalationReport) (*Result, error) {
	r.mu.Lock()
	r.task.State = state
	r.task.Escalation = report
	tr := r.task
	r.mu.Unlock()

	result := &Result{
		TaskID:       tr.Spec.ID,
		FinalState:   state,
		Iterations:   tr.Iterations,
		WallClock:    time.Since(tr.StartedAt),
		LastRevision: lastRevision(tr),
		Escalation:   report,
	}
	for _, rec := range tr.Iterations {
		result.TotalTokens += rec.TokensUsed
	}

	topic := "task.completed"
	switch state {
	case models.RunEscalated:
		topic = "task.escalated"
	case models.RunFailed:
		topic = "task.failed"
	case models.RunAborted:
		topic = "task.aborted"
	}
	e.emit(topic, result)
	return result, nil
}

func (e *Engine) finishFailed(r *run, cause error) (*Result, error) {
	r.mu.Lock()
	r.errs.Add([]*models.ErrorEntry{{Kind: models.ErrorRuntime, Severity: models.SeverityError, Message: cause.Error(), IterationOfOrigin: r.task.Iteration}})
	r.mu.Unlock()
	res, _ := e.finish(r, models.RunFailed, nil)
	return res, cause
}

// Pause requests a running task pause at its next iteration boundary.
func (e *Engine) Pause(taskID string) error {
	r, err := e.lookup(taskID)
	if err != nil {
		return err
	}
	r.pause.pause()
	r.mu.Lock()
	r.task.State = models.RunPaused
	r.mu.Unlock()
	return nil
}

// Resume unblocks a paused task.
func (e *Engine) Resume(taskID string) error {
	r, err := e.lookup(taskID)
	if err != nil {
		return err
	}
	r.pause.resume()
	r.mu.Lock()
	if !r.task.State.Terminal() {
		r.task.State = models.RunRunning
	}
	r.mu.Unlock()
	return nil
}

// Abort requests a running task stop at its next iteration boundary.
func (e *Engine) Abort(taskID string) error {
	r, err := e.lookup(taskID)
	if err != nil {
		return err
	}
	r.pause.abort()
	return nil
}

// Status returns a snapshot of the named task's current state and phase.
func (e *Engine) Status(taskID string) (*models.TaskRun, error) {
	r, err := e.lookup(taskID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := *r.task
	return &snapshot, nil
}

// History returns the full IterationRecord history for the named task.
func (e *Engine) History(taskID string) ([]*models.IterationRecord, error) {
	r, err := e.lookup(taskID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.IterationRecord(nil), r.task.Iterations...), nil
}

func (e *Engine) lookup(taskID string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[taskID]
	if !ok {
		return nil, fmt.Errorf("iteration: no run for task %s", taskID)
	}
	return r, nil
}
