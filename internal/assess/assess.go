// Package assess implements the SelfAssessmentEngine and
// DynamicReplanner: the between-iteration judgement that scores
// progress, classifies what is blocking a stuck task, and decides
// whether the next iteration should continue as-is, rescope, split
// into successor tasks, or escalate to a human.
package assess

import (
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/internal/erroragg"
	"github.com/nexus-build/nexus/pkg/models"
)

// BlockerKind names what class of obstacle the current errors suggest.
type BlockerKind string

const (
	BlockerNone                 BlockerKind = "none"
	BlockerUnknownAPI           BlockerKind = "unknown-api"
	BlockerMissingDependency    BlockerKind = "missing-dep"
	BlockerAmbiguousRequirement BlockerKind = "ambiguous-requirement"
)

// Approach is the engine's judgement of what kind of change the next
// iteration needs.
type Approach string

const (
	ApproachContinue Approach = "continue"
	ApproachSwitch   Approach = "switch"
	ApproachSplit    Approach = "split"
	ApproachEscalate Approach = "escalate"
)

// Assessment is the engine's output for one iteration.
type Assessment struct {
	Progress  float64 // 0..1, higher is better
	Regressed bool    // true if Progress dropped from the prior iteration
	Blocker   BlockerKind
	Approach  Approach
}

// ReplanKind is the outcome variant of a ReplanDecision.
type ReplanKind string

const (
	ReplanContinue ReplanKind = "continue"
	ReplanSplit    ReplanKind = "split"
	ReplanRescope  ReplanKind = "rescope"
	ReplanEscalate ReplanKind = "escalate"
)

// ReplanDecision is what the Coordinator does with a running task
// between iterations. Exactly one of the payload fields is meaningful,
// selected by Kind.
type ReplanDecision struct {
	Kind ReplanKind

	// Split: new successor TaskSpecs the Coordinator submits to the
	// queue in place of the running task.
	Split []*models.TaskSpec

	// Rescope: the running task's description and acceptance criteria
	// are mutated in place for the next iteration.
	RescopeDescription        string
	RescopeAcceptanceCriteria []string

	// Escalate: short-circuits into the EscalationHandler.
	EscalateReason string
}

// ReplanRequest is a structured ask for a replan originating from the
// agent itself during its step, rather than from the assessment engine
// observing QA results.
type ReplanRequest struct {
	Reason     string
	Suggestion string
	Blockers   []string
	Complexity string
}

// repeatedFailureThreshold mirrors the iteration engine's own
// escalate-on-repeated-failure trigger: the same distinct error
// observed on this many or more iterations is treated as stuck,
// regardless of overall iteration budget.
const repeatedFailureThreshold = 3

// stuckLowScoreWindow and stuckLowScoreCeiling classify a run as stuck
// when its last N progress scores never climb above a low ceiling —
// the same windowed-no-progress idea as the teacher's StopChecker,
// generalized from a percentage-completion comparison to this
// package's QA-derived score.
const stuckLowScoreWindow = 3
const stuckLowScoreCeiling = 0.3

// splitFileSpanThreshold is the number of distinct files implicated in
// current errors beyond which a task is judged too broad to keep
// iterating on as one unit.
const splitFileSpanThreshold = 4

// Engine is the SelfAssessmentEngine + DynamicReplanner for a single
// TaskRun. It is stateful (it remembers the progress-score history) and
// is not safe for concurrent use, matching the IterationEngine's own
// one-run-at-a-time collaborator usage.
type Engine struct {
	scores []float64
}

// New returns an Engine with no assessment history.
func New() *Engine {
	return &Engine{}
}

// Assess scores the latest iteration and classifies the run's current
// blocker and approach. errs is the run's full ErrorAggregator, so the
// blocker classification and repeated-failure detection see every
// retained error, not just the latest iteration's.
func (e *Engine) Assess(task *models.TaskSpec, iterations []*models.IterationRecord, errs *erroragg.Aggregator) Assessment {
	if len(iterations) == 0 {
		return Assessment{Progress: 1, Blocker: BlockerNone, Approach: ApproachContinue}
	}

	latest := iterations[len(iterations)-1]
	score := scoreIteration(latest)

	regressed := len(e.scores) > 0 && score < e.scores[len(e.scores)-1]
	e.scores = append(e.scores, score)

	blocker := classifyBlocker(task, errs)
	approach := judgeApproach(e.scores, regressed, blocker, errs)

	return Assessment{Progress: score, Regressed: regressed, Blocker: blocker, Approach: approach}
}

// History returns the progress scores recorded so far, oldest first.
func (e *Engine) History() []float64 {
	out := make([]float64, len(e.scores))
	copy(out, e.scores)
	return out
}

// scoreIteration derives a 0..1 progress score from one iteration's QA
// results and errors, starting from a perfect score and subtracting
// weighted penalties — the same additive-penalty-from-1.0 idiom the
// decomposition quality scorer uses for its per-task confidence.
func scoreIteration(rec *models.IterationRecord) float64 {
	score := 1.0

	if rec.Build != nil && !rec.Build.Success {
		score -= 0.35
	}
	if rec.Test != nil && !rec.Test.Success {
		score -= 0.35
	}
	if rec.Lint != nil && !rec.Lint.Success {
		score -= 0.1
	}
	if rec.Review != nil && !rec.Review.Approved {
		score -= 0.2
	}

	for _, e := range rec.Errors {
		switch e.Severity {
		case models.SeverityError:
			score -= 0.05
		case models.SeverityWarning:
			score -= 0.02
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// classifyBlocker inspects the task's own acceptance criteria and the
// run's retained errors for signals of what kind of obstacle is in
// play. Ambiguous-requirement is checked first since it is a property
// of the task itself, independent of any error text.
func classifyBlocker(task *models.TaskSpec, errs *erroragg.Aggregator) BlockerKind {
	if task != nil && len(task.AcceptanceCriteria) == 0 {
		return BlockerAmbiguousRequirement
	}
	return classifyBlockerFromErrors(errs.Unique())
}

func classifyBlockerFromErrors(entries []*models.ErrorEntry) BlockerKind {
	for _, e := range entries {
		msg := strings.ToLower(e.Message)
		switch {
		case strings.Contains(msg, "cannot find package"),
			strings.Contains(msg, "no required module"),
			strings.Contains(msg, "missing go.sum entry"),
			strings.Contains(msg, "no such file or directory"):
			return BlockerMissingDependency
		case strings.Contains(msg, "undefined:"),
			strings.Contains(msg, "has no field or method"),
			strings.Contains(msg, "unknown field"):
			return BlockerUnknownAPI
		}
	}
	return BlockerNone
}

// judgeApproach decides continue|switch|split|escalate from the
// accumulated progress history, the latest blocker classification and
// the run's retained errors.
func judgeApproach(scores []float64, regressed bool, blocker BlockerKind, errs *erroragg.Aggregator) Approach {
	if hasRepeatedFailure(errs) {
		return ApproachEscalate
	}
	if len(distinctErrorFiles(errs)) >= splitFileSpanThreshold {
		return ApproachSplit
	}
	if regressed && blocker == BlockerUnknownAPI {
		return ApproachSwitch
	}
	if stuckAtLowScore(scores) {
		return ApproachEscalate
	}
	return ApproachContinue
}

// hasRepeatedFailure reports whether some (kind,message) pair has
// occurred in repeatedFailureThreshold or more distinct iterations among
// the aggregator's retained entries — the same rule the iteration engine
// uses to trigger escalation, applied here to errs for replan purposes
// since the engine's version is unexported and counts over iteration
// records instead.
func hasRepeatedFailure(errs *erroragg.Aggregator) bool {
	counts := make(map[string]map[int]bool)
	for _, e := range errs.Unique() {
		key := string(e.Kind) + "|" + e.Message
		if counts[key] == nil {
			counts[key] = make(map[int]bool)
		}
		counts[key][e.IterationOfOrigin] = true
		if len(counts[key]) >= repeatedFailureThreshold {
			return true
		}
	}
	return false
}

func distinctErrorFiles(errs *erroragg.Aggregator) []string {
	seen := make(map[string]bool)
	for _, e := range errs.Unique() {
		if e.Path != "" {
			seen[e.Path] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	return out
}

func stuckAtLowScore(scores []float64) bool {
	if len(scores) < stuckLowScoreWindow {
		return false
	}
	window := scores[len(scores)-stuckLowScoreWindow:]
	for _, s := range window {
		if s > stuckLowScoreCeiling {
			return false
		}
	}
	return true
}

// Decide converts an Assessment into a ReplanDecision for the running
// task. The mapping is: escalate stays escalate, split partitions the
// task by the files its errors implicate, switch rescopes the task's
// description with a corrective note, and continue leaves the task
// untouched.
func (e *Engine) Decide(a Assessment, task *models.TaskSpec, errs *erroragg.Aggregator) ReplanDecision {
	switch a.Approach {
	case ApproachEscalate:
		return ReplanDecision{Kind: ReplanEscalate, EscalateReason: escalateReason(a)}
	case ApproachSplit:
		return ReplanDecision{Kind: ReplanSplit, Split: splitTask(task, errs)}
	case ApproachSwitch:
		return rescopeForSwitch(task, a)
	default:
		return ReplanDecision{Kind: ReplanContinue}
	}
}

// DecideFromAgentRequest runs an agent-originated replan request
// through the same decision pipeline as an auto-origin Decide call: it
// derives a blocker classification from the request's own text, folds
// it into an Approach, and maps that Approach the same way.
func (e *Engine) DecideFromAgentRequest(req ReplanRequest, task *models.TaskSpec, errs *erroragg.Aggregator) ReplanDecision {
	blocker := classifyBlockerFromErrors(errs.Unique())
	if blocker == BlockerNone {
		blocker = classifyBlockerFromErrors([]*models.ErrorEntry{{Message: req.Reason + " " + strings.Join(req.Blockers, " ")}})
	}

	approach := ApproachContinue
	switch {
	case len(req.Blockers) >= splitFileSpanThreshold-1 && len(task.Files) > 1:
		approach = ApproachSplit
	case blocker != BlockerNone || req.Suggestion != "":
		approach = ApproachSwitch
	case req.Complexity != "" && hasRepeatedFailure(errs):
		approach = ApproachEscalate
	}

	a := Assessment{Blocker: blocker, Approach: approach}
	decision := e.Decide(a, task, errs)
	if decision.Kind == ReplanRescope && req.Suggestion != "" {
		decision.RescopeDescription = fmt.Sprintf("%s\n\nAgent-suggested approach: %s", decision.RescopeDescription, req.Suggestion)
	}
	if decision.Kind == ReplanEscalate && req.Reason != "" {
		decision.EscalateReason = req.Reason
	}
	return decision
}

func escalateReason(a Assessment) string {
	if a.Blocker != BlockerNone && a.Blocker != "" {
		return fmt.Sprintf("stuck: %s", a.Blocker)
	}
	return "repeated_failures"
}

// splitTask partitions task into one successor TaskSpec per distinct
// file implicated by its errors, falling back to the task's own
// declared file boundaries when no error carries a path. Each
// successor keeps the parent's agent type and task type, and depends
// on nothing — the Coordinator is responsible for re-deriving any
// cross-successor ordering it needs.
func splitTask(task *models.TaskSpec, errs *erroragg.Aggregator) []*models.TaskSpec {
	files := distinctErrorFiles(errs)
	if len(files) == 0 {
		files = task.Files
	}
	if len(files) == 0 {
		return []*models.TaskSpec{task}
	}

	out := make([]*models.TaskSpec, 0, len(files))
	for i, f := range files {
		out = append(out, &models.TaskSpec{
			ID:                fmt.Sprintf("%s-split-%d", task.ID, i+1),
			Name:              fmt.Sprintf("%s (split %d/%d)", task.Name, i+1, len(files)),
			Description:       fmt.Sprintf("%s\n\nScoped to %s as part of a split from %s.", task.Description, f, task.ID),
			Files:             []string{f},
			TaskType:          task.TaskType,
			RequiredAgentType: task.RequiredAgentType,
			ParentID:          task.ID,
		})
	}
	return out
}

// rescopeForSwitch builds a rescope decision that appends a corrective
// note to the task's description, prompting a different approach next
// iteration, while leaving its acceptance criteria untouched.
func rescopeForSwitch(task *models.TaskSpec, a Assessment) ReplanDecision {
	note := "the current approach is not converging; try a different strategy"
	if a.Blocker == BlockerUnknownAPI {
		note = "the current approach assumes an API surface that does not exist; re-derive it from the actual code before retrying"
	}
	return ReplanDecision{
		Kind:                      ReplanRescope,
		RescopeDescription:        fmt.Sprintf("%s\n\n%s", task.Description, note),
		RescopeAcceptanceCriteria: task.AcceptanceCriteria,
	}
}
