package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexus-build/nexus/internal/learning"
	"github.com/nexus-build/nexus/pkg/models"
)

var (
	learnSearchQuery string
	learnDeleteID    string
	learnKind        string
)

var learnCmd = &cobra.Command{
	Use:   "learn [summary | show <id>]",
	Short: "Inspect and manage the escalation memory store",
	Long: `Inspect and manage memories captured from escalated tasks — the
store engineRunner retrieves from on every new task's context pack and
records new entries into whenever a task escalates.

Usage:
  nexus learn                        # list recent memories
  nexus learn "undefined: Foo"       # add a memory by hand
  nexus learn --search "query"       # search memories
  nexus learn --kind build           # keyword search for a kind name (summary and fix text only, not the stored kind)
  nexus learn show <id>              # show one memory's detail
  nexus learn --delete <id>          # delete a memory`,
	Args: cobra.MaximumNArgs(2),
	RunE: runLearn,
}

func init() {
	learnCmd.Flags().StringVarP(&learnSearchQuery, "search", "s", "", "search memories by query")
	learnCmd.Flags().StringVarP(&learnDeleteID, "delete", "d", "", "delete a memory by ID")
	learnCmd.Flags().StringVarP(&learnKind, "kind", "k", "", "keyword-search memory text for an error kind name; does not filter on the stored kind")
}

func runLearn(cmd *cobra.Command, args []string) error {
	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	sys, err := learning.NewLearningSystem(learning.ProjectDBPath(repoPath))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	defer sys.Close()
	store := sys.Store()

	if learnDeleteID != "" {
		return deleteMemory(cmd, store, learnDeleteID)
	}
	if learnSearchQuery != "" {
		return searchMemories(cmd, store, learnSearchQuery)
	}
	if learnKind != "" {
		return searchMemories(cmd, store, learnKind)
	}
	if len(args) >= 1 && args[0] == "show" {
		if len(args) < 2 {
			return fmt.Errorf("usage: nexus learn show <id>")
		}
		return showMemory(cmd, store, args[1])
	}
	if len(args) == 1 {
		return addMemory(cmd, store, args[0])
	}
	return listRecentMemories(cmd, store)
}

func addMemory(cmd *cobra.Command, store *learning.Store, summary string) error {
	m := &learning.Memory{
		TaskID:   "manual",
		Kind:     models.ErrorRuntime,
		Severity: models.SeverityInfo,
		Summary:  summary,
	}
	if err := store.Record(m); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "memory added: %s\n", m.ID)
	printMemoryDetailed(cmd, m)
	return nil
}

func searchMemories(cmd *cobra.Command, store *learning.Store, query string) error {
	results, err := store.Search(query, 20)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no memories found matching query")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "found %d memor(y/ies):\n\n", len(results))
	for _, m := range results {
		printMemoryCompact(cmd, m)
	}
	return nil
}

func listRecentMemories(cmd *cobra.Command, store *learning.Store) error {
	results, err := store.List(10)
	if err != nil {
		return fmt.Errorf("list memories: %w", err)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no memories stored yet")
		fmt.Fprintln(cmd.OutOrStdout(), "\nadd one with:")
		fmt.Fprintln(cmd.OutOrStdout(), `  nexus learn "undefined: Foo"`)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recent memories (%d):\n\n", len(results))
	for _, m := range results {
		printMemoryCompact(cmd, m)
	}
	return nil
}

func showMemory(cmd *cobra.Command, store *learning.Store, id string) error {
	m, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("get memory: %w", err)
	}
	if m == nil {
		return fmt.Errorf("memory not found: %s", id)
	}
	printMemoryDetailed(cmd, m)
	return nil
}

func deleteMemory(cmd *cobra.Command, store *learning.Store, id string) error {
	m, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("check memory: %w", err)
	}
	if m == nil {
		return fmt.Errorf("memory not found: %s", id)
	}
	if err := store.Delete(id); err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted memory: %s\n", id)
	return nil
}

func printMemoryCompact(cmd *cobra.Command, m *learning.Memory) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[%s] (%s/%s) %s\n", m.ID, m.Kind, m.Severity, truncate(m.Summary, 60))
	if m.FixSuggestion != "" {
		fmt.Fprintf(out, "         fix: %s\n", truncate(m.FixSuggestion, 60))
	}
	fmt.Fprintln(out)
}

func printMemoryDetailed(cmd *cobra.Command, m *learning.Memory) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "id:       %s\n", m.ID)
	fmt.Fprintf(out, "task:     %s\n", m.TaskID)
	fmt.Fprintf(out, "kind:     %s\n", m.Kind)
	fmt.Fprintf(out, "severity: %s\n", m.Severity)
	fmt.Fprintf(out, "created:  %s\n", m.CreatedAt.Format(time.RFC3339))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "summary: %s\n", m.Summary)
	if m.FixSuggestion != "" {
		fmt.Fprintf(out, "fix:     %s\n", m.FixSuggestion)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
