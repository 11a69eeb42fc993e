package main

import (
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/internal/ctxbuild"
	"github.com/nexus-build/nexus/internal/structure"
)

// buildProjectInfo runs the directory-structure analyzer once per run
// and renders its rules into the project map ctxbuild.FreshContextBuilder
// puts at the top of every agent's context pack.
func buildProjectInfo(repoPath string) ctxbuild.ProjectInfo {
	analyzer := structure.NewAnalyzer(repoPath)
	if err := analyzer.AnalyzeRepository(); err != nil {
		return ctxbuild.ProjectInfo{}
	}

	rules := analyzer.GetRules()
	if rules == nil {
		return ctxbuild.ProjectInfo{}
	}

	var mapSb strings.Builder
	patterns := make([]string, 0, len(rules.Rules))
	for _, r := range rules.Rules {
		fmt.Fprintf(&mapSb, "%s: %s (e.g. %s)\n", r.Pattern, r.Description, strings.Join(r.Examples, ", "))
		patterns = append(patterns, r.Pattern)
	}

	return ctxbuild.ProjectInfo{
		Map:      mapSb.String(),
		Patterns: patterns,
	}
}
