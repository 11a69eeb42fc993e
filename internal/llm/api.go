package llm

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 8192

// APIClient implements Client directly against the Anthropic HTTPS API via
// anthropic-sdk-go. Unlike CLIClient it holds a persistent SDK client
// across calls.
type APIClient struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// APIClientConfig configures an APIClient.
type APIClientConfig struct {
	// APIKey is the Anthropic API key; if empty, ANTHROPIC_API_KEY is used.
	APIKey string
	// Model is the default model used when Options.Model is unset.
	Model string
}

// NewAPIClient constructs an APIClient. It returns a BackendUnavailable
// error if no API key can be resolved.
func NewAPIClient(cfg APIClientConfig) (*APIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, NewError(ErrBackendUnavailable, errors.New("ANTHROPIC_API_KEY is not set"))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &APIClient{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}, nil
}

func (c *APIClient) resolveModel(opts Options) anthropic.Model {
	if opts.Model != "" {
		return anthropic.Model(opts.Model)
	}
	return c.model
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Text, m.IsError)))
		}
	}
	return out
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema,
				},
			},
		})
	}
	return out
}

func (c *APIClient) buildParams(messages []Message, opts Options) anthropic.MessageNewParams {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     c.resolveModel(opts),
		MaxTokens: maxTokens,
		Messages:  toAnthropicMessages(messages),
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}
	if len(opts.Tools) > 0 {
		params.Tools = toAnthropicTools(opts.Tools)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	return params
}

// Chat issues a single non-streaming Messages.New call and translates the
// response into a Response.
func (c *APIClient) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	resp, err := c.sdk.Messages.New(ctx, c.buildParams(messages, opts))
	if err != nil {
		return nil, NewError(classifyAPIErr(err), err)
	}
	return toResponse(resp), nil
}

func toResponse(resp *anthropic.Message) *Response {
	var text string
	var calls []ToolCall
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text += variant.Text
		case anthropic.ToolUseBlock:
			var input map[string]any
			if raw, ok := variant.Input.(json.RawMessage); ok {
				_ = json.Unmarshal(raw, &input)
			} else if m, ok := variant.Input.(map[string]any); ok {
				input = m
			}
			calls = append(calls, ToolCall{ID: variant.ID, Name: variant.Name, Input: input})
		}
	}
	return &Response{
		Text:         text,
		ToolCalls:    calls,
		Usage:        Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		FinishReason: finishReasonFromStopReason(resp.StopReason),
	}
}

func finishReasonFromStopReason(r anthropic.StopReason) FinishReason {
	switch r {
	case anthropic.StopReasonToolUse:
		return FinishToolUse
	case anthropic.StopReasonMaxTokens:
		return FinishMaxTokens
	case anthropic.StopReasonStopSequence:
		return FinishStopSequence
	default:
		return FinishEndTurn
	}
}

// Stream issues a single non-streaming call and replays it as chunks;
// the SDK's native event stream is not used here since every caller in
// this system consumes a full Response before acting on tool calls
// anyway (see internal/iteration).
func (c *APIClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan Chunk, error) {
	out := make(chan Chunk, 1)
	resp, err := c.Chat(ctx, messages, opts)
	if err != nil {
		out <- Chunk{Done: true, Err: err}
		close(out)
		return out, nil
	}
	go func() {
		defer close(out)
		if resp.Text != "" {
			out <- Chunk{TextDelta: resp.Text}
		}
		for i := range resp.ToolCalls {
			out <- Chunk{ToolCall: &resp.ToolCalls[i]}
		}
		out <- Chunk{Done: true, Response: resp}
	}()
	return out, nil
}

// CountTokens uses the ~4-chars-per-token heuristic; wiring the SDK's
// dedicated count-tokens endpoint is left for a future iteration since it
// requires its own API round trip.
func (c *APIClient) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

func classifyAPIErr(err error) ErrorKind {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return ErrAuth
		case 429:
			return ErrRateLimit
		case 408:
			return ErrTimeout
		}
		return ErrAPIError
	}
	return ErrAPIError
}

var _ Client = (*APIClient)(nil)
