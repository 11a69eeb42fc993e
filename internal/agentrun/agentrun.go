// Package agentrun implements the iteration.Agent collaborator: one step
// of an LLMClient-backed coding agent, grounded on the same prompt ->
// tool-use -> apply loop the teacher's Claude Code Ralph loop ran,
// rebuilt here against the llm.Client abstraction so either backend
// (CLI subprocess or HTTPS API) can drive it.
//
// A CLI-backed Client (see internal/llm/cli.go) already has its own
// filesystem tools baked into the subprocess it spawns, so the tool
// loop below is mostly exercised against the API backend, where Agent
// must execute read_file/write_file/list_files itself and feed the
// results back.
package agentrun

import (
	"context"
	"fmt"

	"github.com/nexus-build/nexus/internal/iteration"
	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/pkg/models"
)

// maxToolTurns bounds how many request/response round trips one Step
// makes before giving up and returning whatever text it has. Prevents a
// model stuck calling tools in a loop from running forever.
const maxToolTurns = 25

// Agent implements iteration.Agent against an llm.Client, reading and
// writing files rooted at a single working copy directory. One Agent is
// scoped to one working copy for its whole lifetime; a Coordinator that
// runs several tasks concurrently across several worktrees constructs
// one Agent per leased AgentSlot.
type Agent struct {
	client llm.Client
	root   string
	model  string
}

// Option configures an Agent.
type Option func(*Agent)

// WithModel overrides the model name passed in llm.Options on every call.
func WithModel(model string) Option {
	return func(a *Agent) { a.model = model }
}

// New returns an Agent that drives client, reading and writing files
// under root (the working copy path for this agent's leased slot).
func New(client llm.Client, root string, opts ...Option) *Agent {
	a := &Agent{client: client, root: root}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Step sends one iteration's prompt to the model, executes any tool
// calls it requests against the working copy, and returns the files it
// touched and the token cost.
func (a *Agent) Step(ctx context.Context, pack *models.ContextPack, priorErrors []*models.ErrorEntry, lastQA *iteration.IterationQA) (iteration.AgentStepResult, error) {
	prompt := buildPrompt(pack, priorErrors, lastQA)
	tools := newToolExecutor(a.root)

	messages := []llm.Message{{Role: llm.RoleUser, Text: prompt}}
	opts := llm.Options{Model: a.model, Tools: toolSpecs(), MaxTokens: 8192}

	var result iteration.AgentStepResult
	var lastText string

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := a.client.Chat(ctx, messages, opts)
		if err != nil {
			return result, fmt.Errorf("agentrun: chat: %w", err)
		}

		result.TokensUsed += resp.Usage.InputTokens + resp.Usage.OutputTokens
		if resp.Text != "" {
			lastText = resp.Text
		}

		if len(resp.ToolCalls) == 0 || resp.FinishReason != llm.FinishToolUse {
			result.TextOutput = lastText
			result.FilesChanged = tools.written
			return result, nil
		}

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Text: resp.Text})
		for _, call := range resp.ToolCalls {
			out, isError := tools.execute(call)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Text:       out,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				IsError:    isError,
			})
		}
	}

	result.TextOutput = lastText
	result.FilesChanged = tools.written
	return result, nil
}

var _ iteration.Agent = (*Agent)(nil)
