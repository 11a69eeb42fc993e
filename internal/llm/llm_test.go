package llm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestClientErrorUnwrapAndKindOf(t *testing.T) {
	base := errors.New("boom")
	err := NewError(ErrRateLimit, base)
	if !errors.Is(err, base) {
		t.Error("expected ClientError to unwrap to the base error")
	}
	if KindOf(err) != ErrRateLimit {
		t.Errorf("KindOf = %s, want RateLimit", KindOf(err))
	}
}

func TestNewErrorNilPassthrough(t *testing.T) {
	if NewError(ErrAuth, nil) != nil {
		t.Error("expected nil wrapped error to stay nil")
	}
}

func TestKindOfDefaultsToAPIError(t *testing.T) {
	if KindOf(errors.New("plain")) != ErrAPIError {
		t.Error("expected unrecognized errors to classify as APIError")
	}
}

func TestRenderPromptIncludesToolResults(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Text: "do the thing"},
		{Role: RoleTool, ToolName: "build", Text: "ok"},
	}
	got := renderPrompt(msgs)
	if got == "" {
		t.Fatal("expected non-empty rendered prompt")
	}
	if !strings.Contains(got, "do the thing") || !strings.Contains(got, "[tool result build]") {
		t.Errorf("rendered prompt missing expected segments: %q", got)
	}
}

func TestCLIClientCountTokensHeuristic(t *testing.T) {
	c := NewCLIClient("claude")
	if n := c.CountTokens("abcd"); n != 1 {
		t.Errorf("CountTokens(4 chars) = %d, want 1", n)
	}
	if n := c.CountTokens(""); n != 0 {
		t.Errorf("CountTokens(\"\") = %d, want 0", n)
	}
}

func TestCLIClientChatMissingBinary(t *testing.T) {
	c := NewCLIClient("nexus-llm-cli-does-not-exist")
	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Text: "hi"}}, Options{})
	if err == nil {
		t.Fatal("expected an error for a missing CLI binary")
	}
	if KindOf(err) != ErrCLINotFound {
		t.Errorf("KindOf(err) = %s, want CLINotFound", KindOf(err))
	}
}

func TestCLIClientChatAgainstFakeBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake binary uses a shell script")
	}
	bin := writeFakeClaude(t)

	c := NewCLIClient(bin)
	resp, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Text: "ping"}}, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text != "pong" {
		t.Errorf("Text = %q, want pong", resp.Text)
	}
	if resp.Usage.InputTokens != 5 || resp.Usage.OutputTokens != 2 {
		t.Errorf("Usage = %+v, want input=5 output=2", resp.Usage)
	}
	if resp.FinishReason != FinishEndTurn {
		t.Errorf("FinishReason = %s, want end_turn", resp.FinishReason)
	}
}

// writeFakeClaude writes a shell script emitting stream-json events
// matching the shape handleEvent expects, standing in for the real CLI.
func writeFakeClaude(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-claude.sh")
	script := `#!/bin/sh
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"pong"}]}}'
echo '{"type":"result","message":{"content":[{"type":"text","text":"pong"}],"usage":{"input_tokens":5,"output_tokens":2},"stop_reason":"end_turn"}}'
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}
