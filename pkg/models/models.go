// Package models defines the core data types shared across the Nexus
// iteration-orchestration system: task specifications and their runtime
// state, diffs, errors, commits, escalations and agent slots.
package models

import "time"

// TaskSpec is the immutable description of a unit of work, created at
// decomposition time and never mutated afterward.
type TaskSpec struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Name is the short display name of the task.
	Name string `json:"name"`
	// Description is the natural-language description of the work.
	Description string `json:"description"`
	// Files lists the file paths this task is expected to touch.
	Files []string `json:"files,omitempty"`
	// AcceptanceCriteria lists the conditions under which the task is done.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// DependsOn lists the IDs of tasks that must complete before this one.
	DependsOn []string `json:"depends_on,omitempty"`
	// EstimatedEffort is a coarse size estimate (e.g. "small", "medium", "large").
	EstimatedEffort string `json:"estimated_effort,omitempty"`
	// TaskType classifies the task for scheduling policy (setup tasks are
	// serialized; see the coordinator package).
	TaskType TaskType `json:"task_type,omitempty"`
	// RequiredAgentType names the AgentPool slot type this task requires.
	RequiredAgentType AgentType `json:"required_agent_type,omitempty"`
	// ParentID is the ID of the originating job/epic, if any.
	ParentID string `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskType classifies a TaskSpec for scheduling purposes.
type TaskType string

const (
	TaskTypeSetup    TaskType = "setup"
	TaskTypeFeature  TaskType = "feature"
	TaskTypeBugfix   TaskType = "bugfix"
	TaskTypeRefactor TaskType = "refactor"
)

// AgentType names a class of agent the AgentPool maintains concurrency
// caps and working-copy leases for.
type AgentType string

const (
	AgentTypeScout     AgentType = "scout"
	AgentTypeBuilder   AgentType = "builder"
	AgentTypeArchitect AgentType = "architect"
)

// RunState is the lifecycle state of a TaskRun. Terminal states
// (Completed, Failed, Escalated, Aborted) are sticky; Running and Paused
// may alternate any number of times before a terminal state is reached.
type RunState string

const (
	RunPending    RunState = "pending"
	RunRunning    RunState = "running"
	RunPaused     RunState = "paused"
	RunCompleted  RunState = "completed"
	RunFailed     RunState = "failed"
	RunEscalated  RunState = "escalated"
	RunAborted    RunState = "aborted"
)

// Terminal returns true if the state cannot transition further.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunEscalated, RunAborted:
		return true
	default:
		return false
	}
}

// RunPhase is the observed phase within an iteration. Phase is purely
// informational; control flow never branches on it.
type RunPhase string

const (
	PhaseInitializing RunPhase = "initializing"
	PhaseCoding        RunPhase = "coding"
	PhaseBuilding      RunPhase = "building"
	PhaseLinting       RunPhase = "linting"
	PhaseTesting       RunPhase = "testing"
	PhaseReviewing     RunPhase = "reviewing"
	PhaseCommitting    RunPhase = "committing"
	PhaseFinalizing    RunPhase = "finalizing"
)

// TaskRun is the mutable per-execution state of a TaskSpec.
type TaskRun struct {
	Spec            *TaskSpec
	WorkingCopy     *WorkingCopy
	State           RunState
	Phase           RunPhase
	BaseRevision    string
	Iteration       int
	Iterations      []*IterationRecord
	CommitRegistry  []*CommitRegistryEntry
	StartedAt       time.Time
	LastActivityAt  time.Time
	Escalation      *EscalationReport
}

// WorkingCopy identifies the isolated project-tree view a TaskRun executes
// in — a git worktree branched from the project's main revision.
type WorkingCopy struct {
	Path       string
	BranchName string
}

// IterationRecord is an immutable snapshot of everything observed during
// one pass of the Ralph loop. Appended once per iteration, never mutated.
type IterationRecord struct {
	Iteration    int
	Phase        RunPhase
	AgentOutput  string
	FilesTouched []string
	Build        *QAResult
	Lint         *QAResult
	Test         *QAResult
	Review       *QAResult
	Errors       []*ErrorEntry
	Duration     time.Duration
	TokensUsed   int64
	Revision     string
	Timestamp    time.Time
}

// QAResult is the generic outcome of one QA step, enough to evaluate the
// IterationEngine's success predicate without depending on which concrete
// QARunner capability produced it.
type QAResult struct {
	Success   bool
	Approved  bool // meaningful only for the review step
	NumErrors int
	Output    string
}

// FileChangeKind classifies how a file changed between two revisions.
type FileChangeKind string

const (
	FileAdded    FileChangeKind = "added"
	FileModified FileChangeKind = "modified"
	FileDeleted  FileChangeKind = "deleted"
	FileRenamed  FileChangeKind = "renamed"
)

// FileChange describes one file's change within a Diff.
type FileChange struct {
	Path      string
	Kind      FileChangeKind
	Additions int
	Deletions int
}

// Diff is the derived comparison between two revisions. Never persisted
// as a source of truth — always recomputed from the revision system.
type Diff struct {
	FromRev string
	ToRev   string
	Files   []FileChange
	Summary string
	Raw     string
}

// ErrorKind classifies the origin of an ErrorEntry.
type ErrorKind string

const (
	ErrorBuild   ErrorKind = "build"
	ErrorLint    ErrorKind = "lint"
	ErrorTest    ErrorKind = "test"
	ErrorReview  ErrorKind = "review"
	ErrorRuntime ErrorKind = "runtime"
)

// Severity classifies how serious an ErrorEntry is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ErrorEntry is one observed failure, deduplicated by (Kind, Message,
// Path, Line) with the newest IterationOfOrigin winning on collision.
type ErrorEntry struct {
	Kind             ErrorKind
	Severity         Severity
	Message          string
	Path             string
	Line             int
	Column           int
	Code             string
	FixSuggestion    string
	IterationOfOrigin int
}

// Key returns the deduplication key for this entry.
func (e *ErrorEntry) Key() ErrorKey {
	return ErrorKey{Kind: e.Kind, Message: e.Message, Path: e.Path, Line: e.Line}
}

// ErrorKey is the deduplication key for an ErrorEntry.
type ErrorKey struct {
	Kind    ErrorKind
	Message string
	Path    string
	Line    int
}

// CommitRegistryEntry records one commit made on behalf of a TaskRun's
// iteration. At most one entry exists per (TaskID, Iteration); tag names
// are unique within a run.
type CommitRegistryEntry struct {
	TaskID       string
	Iteration    int
	RevisionHash string
	TagName      string
	Message      string
	Timestamp    time.Time
}

// EscalationReason explains why a TaskRun was handed off to a human.
type EscalationReason string

const (
	ReasonMaxIterations     EscalationReason = "max_iterations"
	ReasonTimeout           EscalationReason = "timeout"
	ReasonRepeatedFailures  EscalationReason = "repeated_failures"
	ReasonBlockingError     EscalationReason = "blocking_error"
	ReasonAgentRequest      EscalationReason = "agent_request"
)

// EscalationReport is the structured human-handoff document emitted once
// per escalated TaskRun.
type EscalationReport struct {
	TaskID             string
	Reason             EscalationReason
	IterationsCompleted int
	Summary            string
	LastErrors         []*ErrorEntry
	SuggestedActions   []string
	CheckpointRevision string
	CheckpointTag      string
	CreatedAt          time.Time
}

// AgentSlot is a unit of AgentPool concurrency: an agent type, a lease
// token, and the working copy exclusively held for the lease duration.
type AgentSlot struct {
	AgentType   AgentType
	InUse       bool
	LeaseToken  string
	WorkingCopy *WorkingCopy
}

// ContextPack is the token-budgeted bundle the FreshContextBuilder hands
// an agent at the start of every iteration. It is rebuilt from scratch
// each iteration; nothing about it is carried over from the last one.
type ContextPack struct {
	ID                  string    `json:"id"`
	TaskID              string    `json:"task_id"`
	IterationHint       int       `json:"iteration_hint"`
	ProjectMap          string    `json:"project_map,omitempty"`
	ArchitectureSummary string    `json:"architecture_summary,omitempty"`
	Patterns            []string  `json:"patterns,omitempty"`
	PublicAPIs          []string  `json:"public_apis,omitempty"`
	TaskEcho            *TaskSpec `json:"task_echo"`
	RelevantFiles       []string  `json:"relevant_files,omitempty"`
	CodeSnippets        []string  `json:"code_snippets,omitempty"`
	Memories            []string  `json:"memories,omitempty"`
	ConversationHistory []string  `json:"conversation_history,omitempty"`
	TokenCount          int       `json:"token_count"`
	TokenBudget         int       `json:"token_budget"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// ContextValidity is the outcome of validating a ContextPack against its
// token budget.
type ContextValidity string

const (
	ContextValid   ContextValidity = "valid"
	ContextWarn    ContextValidity = "warn"
	ContextInvalid ContextValidity = "invalid"
)

// ContextValidation reports ContextPack health: overall Validity plus a
// per-section token breakdown so callers can see what was trimmed.
type ContextValidation struct {
	Validity      ContextValidity `json:"validity"`
	Reasons       []string        `json:"reasons,omitempty"`
	SectionTokens map[string]int  `json:"section_tokens"`
}
