// Package llm defines the LLMClient collaborator interface and its error
// taxonomy. Two concrete backends satisfy it: a CLI subprocess adapter
// (package llm, file cli.go) and an HTTPS API adapter (file api.go).
// Selection between them is configuration, not a core concern.
package llm

import (
	"context"
	"fmt"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation passed to Chat/Stream.
type Message struct {
	Role Role
	Text string

	// ToolCallID and ToolName are set when Role is RoleTool, identifying
	// which prior ToolCall this message answers.
	ToolCallID string
	ToolName   string
	// IsError marks a RoleTool message as a tool-execution failure.
	IsError bool
}

// ToolCall is a tool invocation requested by the model in a Chat response.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Usage reports token accounting for a single Chat/Stream call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// FinishReason describes why a Chat call stopped producing output.
type FinishReason string

const (
	FinishEndTurn      FinishReason = "end_turn"
	FinishToolUse      FinishReason = "tool_use"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishStopSequence FinishReason = "stop_sequence"
)

// Options configures a Chat or Stream call.
type Options struct {
	Model       string
	System      string
	Tools       []ToolSpec
	MaxTokens   int
	Temperature *float64
}

// ToolSpec describes one tool the model may call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Response is the result of a Chat call.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason FinishReason
}

// Chunk is one piece of a streamed response.
type Chunk struct {
	TextDelta string
	ToolCall  *ToolCall
	Done      bool
	Response  *Response // set on the final chunk, when Done is true
	Err       error     // set instead of Response when the backend failed
}

// Client is the LLMClient collaborator: agent implementations inside the
// pool use it to converse with a model, stream responses, and estimate
// token counts for budgeting. Two backends satisfy it — see cli.go and
// api.go.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error)
	CountTokens(text string) int
}

// ErrorKind categorizes Client failures per the error taxonomy every
// backend must map onto.
type ErrorKind string

const (
	ErrRateLimit          ErrorKind = "RateLimit"
	ErrAuth               ErrorKind = "Auth"
	ErrTimeout            ErrorKind = "Timeout"
	ErrAPIError           ErrorKind = "APIError"
	ErrCLINotFound        ErrorKind = "CLINotFound"
	ErrBackendUnavailable ErrorKind = "BackendUnavailable"
)

// ClientError wraps a backend failure with its taxonomy Kind.
type ClientError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClientError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// NewError wraps err with kind, or returns nil if err is nil.
func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is
// a *ClientError, defaulting to ErrAPIError for unrecognized errors.
func KindOf(err error) ErrorKind {
	var ce *ClientError
	if asClientError(err, &ce) {
		return ce.Kind
	}
	return ErrAPIError
}

func asClientError(err error, target **ClientError) bool {
	for err != nil {
		if ce, ok := err.(*ClientError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
