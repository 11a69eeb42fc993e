package agentrun

import (
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/internal/iteration"
	"github.com/nexus-build/nexus/pkg/models"
)

// scopeGuidance is injected at the start of every step to keep the agent
// from wandering outside the task it was handed. The ContextPack is
// rebuilt fresh each iteration, so this has to be re-stated every time.
const scopeGuidance = `## Scope Guidance

Stay focused on this task. If you notice unrelated problems or
refactoring opportunities, mention them in your summary but do not fix
them in this step.

Do NOT:
- Expand scope to unrelated files or features
- Fix unrelated bugs you encounter
- Improve code style in files outside this task

DO:
- Make the smallest change that satisfies the acceptance criteria
- Use the read_file/list_files/write_file tools to inspect and edit
- Finish with a short summary of what changed
`

// buildPrompt renders the one user message handed to the model for this
// step: the task, the fresh context pack, any errors observed so far,
// and the previous iteration's QA results.
func buildPrompt(pack *models.ContextPack, priorErrors []*models.ErrorEntry, lastQA *iteration.IterationQA) string {
	var sb strings.Builder

	sb.WriteString(scopeGuidance)
	sb.WriteString("\n")

	task := pack.TaskEcho
	sb.WriteString("You are working on a task.\n\n")
	if task != nil {
		fmt.Fprintf(&sb, "Task ID: %s\nName: %s\n", task.ID, task.Name)
		if task.Description != "" {
			sb.WriteString("\nDescription:\n")
			sb.WriteString(task.Description)
			sb.WriteString("\n")
		}
		if len(task.Files) > 0 {
			sb.WriteString("\n## Expected files\n")
			for _, f := range task.Files {
				fmt.Fprintf(&sb, "- %s\n", f)
			}
		}
		if len(task.AcceptanceCriteria) > 0 {
			sb.WriteString("\n## Acceptance Criteria\n")
			for _, c := range task.AcceptanceCriteria {
				fmt.Fprintf(&sb, "- %s\n", c)
			}
		}
	}

	if pack.ProjectMap != "" {
		sb.WriteString("\n## Project Map\n")
		sb.WriteString(pack.ProjectMap)
		sb.WriteString("\n")
	}
	if pack.ArchitectureSummary != "" {
		sb.WriteString("\n## Architecture\n")
		sb.WriteString(pack.ArchitectureSummary)
		sb.WriteString("\n")
	}
	if len(pack.Patterns) > 0 {
		sb.WriteString("\n## Patterns to follow\n")
		for _, p := range pack.Patterns {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	if len(pack.RelevantFiles) > 0 {
		sb.WriteString("\n## Relevant files\n")
		for _, f := range pack.RelevantFiles {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}
	if len(pack.CodeSnippets) > 0 {
		sb.WriteString("\n## Code snippets\n")
		for _, s := range pack.CodeSnippets {
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}
	if len(pack.Memories) > 0 {
		sb.WriteString("\n## Relevant memories\n")
		for _, m := range pack.Memories {
			fmt.Fprintf(&sb, "- %s\n", m)
		}
	}

	if len(priorErrors) > 0 {
		sb.WriteString("\n## Outstanding errors from previous iterations\n")
		for _, e := range priorErrors {
			fmt.Fprintf(&sb, "- [%s] %s", e.Kind, e.Message)
			if e.Path != "" {
				fmt.Fprintf(&sb, " (%s:%d)", e.Path, e.Line)
			}
			sb.WriteString("\n")
		}
	}

	if lastQA != nil {
		sb.WriteString("\n## Last iteration's QA results\n")
		writeQALine(&sb, "Build", lastQA.Build)
		writeQALine(&sb, "Lint", lastQA.Lint)
		writeQALine(&sb, "Test", lastQA.Test)
		writeQALine(&sb, "Review", lastQA.Review)
	}

	sb.WriteString("\nMake the changes needed, then summarize what you did.\n")
	return sb.String()
}

func writeQALine(sb *strings.Builder, name string, r *models.QAResult) {
	if r == nil {
		return
	}
	status := "passed"
	if !r.Success {
		status = "FAILED"
	}
	fmt.Fprintf(sb, "- %s: %s (%d errors)\n", name, status, r.NumErrors)
	if !r.Success && r.Output != "" {
		fmt.Fprintf(sb, "  %s\n", truncate(r.Output, 2000))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
