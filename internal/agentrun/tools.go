package agentrun

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/internal/protect"
)

// toolSpecs describes the file-editing tools offered to an API-backed
// model. A CLI-backed model (the real Claude Code binary) already has
// its own filesystem tools and ignores these; see Agent.Step.
func toolSpecs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{
			Name:        "list_files",
			Description: "List files in the working copy under a directory (relative to its root).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"dir": map[string]any{"type": "string", "description": "directory, relative to the working copy root; \".\" for the root"},
				},
			},
		},
		{
			Name:        "read_file",
			Description: "Read the full contents of a file in the working copy.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string", "description": "file path relative to the working copy root"},
				},
				"required": []any{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file in the working copy with the given content.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "description": "file path relative to the working copy root"},
					"content": map[string]any{"type": "string", "description": "the full new contents of the file"},
				},
				"required": []any{"path", "content"},
			},
		},
	}
}

// toolExecutor runs the tools above against files rooted at dir,
// refusing to read or write outside of it and refusing to write to a
// protect.Detector-flagged path without an explicit override.
type toolExecutor struct {
	root     string
	detector *protect.Detector

	// written accumulates every path write_file touched, in call order,
	// deduplicated, for the AgentStepResult.FilesChanged report.
	written []string
	seen    map[string]bool
}

func newToolExecutor(root string) *toolExecutor {
	return &toolExecutor{root: root, detector: protect.New(), seen: map[string]bool{}}
}

// resolve joins rel onto root, rejecting any path that escapes it.
func (t *toolExecutor) resolve(rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(t.root, clean)
	if !strings.HasPrefix(full, filepath.Clean(t.root)+string(filepath.Separator)) && full != filepath.Clean(t.root) {
		return "", fmt.Errorf("path %q escapes the working copy", rel)
	}
	return full, nil
}

func (t *toolExecutor) execute(call llm.ToolCall) (result string, isError bool) {
	switch call.Name {
	case "list_files":
		dir, _ := call.Input["dir"].(string)
		if dir == "" {
			dir = "."
		}
		full, err := t.resolve(dir)
		if err != nil {
			return err.Error(), true
		}
		var entries []string
		err = filepath.Walk(full, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			rel, _ := filepath.Rel(t.root, path)
			entries = append(entries, rel)
			return nil
		})
		if err != nil {
			return fmt.Sprintf("list_files: %v", err), true
		}
		sort.Strings(entries)
		return strings.Join(entries, "\n"), false

	case "read_file":
		path, _ := call.Input["path"].(string)
		full, err := t.resolve(path)
		if err != nil {
			return err.Error(), true
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return fmt.Sprintf("read_file %q: %v", path, err), true
		}
		return string(data), false

	case "write_file":
		path, _ := call.Input["path"].(string)
		content, _ := call.Input["content"].(string)
		if protected, reason := t.detector.IsProtectedWithReason(path); protected {
			return fmt.Sprintf("write_file %q refused: %s (this task must escalate for human review instead of editing this path)", path, reason), true
		}
		full, err := t.resolve(path)
		if err != nil {
			return err.Error(), true
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return fmt.Sprintf("write_file %q: %v", path, err), true
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return fmt.Sprintf("write_file %q: %v", path, err), true
		}
		if !t.seen[path] {
			t.seen[path] = true
			t.written = append(t.written, path)
		}
		return "ok", false

	default:
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
}
