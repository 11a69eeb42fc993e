package decompose

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nexus-build/nexus/pkg/models"
)

// ValidationResult contains the results of validating a decomposition.
type ValidationResult struct {
	Valid          bool
	Errors         []string
	Warnings       []string
	SuggestedFixes map[string]string // taskID -> suggested fix
}

// Validator validates task decompositions against repository structure and
// dependency-graph constraints, using the project root the Coordinator was
// initialized against.
type Validator struct {
	repoPath string
}

// NewValidator creates a decomposition validator rooted at repoPath.
func NewValidator(repoPath string) *Validator {
	return &Validator{repoPath: repoPath}
}

// Validate runs structural and repo-aware checks over a task DAG.
func (v *Validator) Validate(tasks []*models.TaskSpec) ValidationResult {
	result := ValidationResult{
		Valid:          true,
		Errors:         []string{},
		Warnings:       []string{},
		SuggestedFixes: make(map[string]string),
	}

	if err := ValidateNoCycles(tasks); err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("Dependency cycle detected: %v", err))
	}

	v.validateFileBoundaries(tasks, &result)
	v.validateReferences(tasks, &result)
	v.validateTaskStructure(tasks, &result)
	v.checkAntiPatterns(tasks, &result)

	return result
}

// validateFileBoundaries checks if specified file boundaries actually exist in the repository.
func (v *Validator) validateFileBoundaries(tasks []*models.TaskSpec, result *ValidationResult) {
	for _, task := range tasks {
		for _, boundary := range task.Files {
			if boundary == "." || boundary == "./" {
				continue
			}

			fullPath := filepath.Join(v.repoPath, boundary)

			info, err := os.Stat(fullPath)
			if err != nil {
				if os.IsNotExist(err) {
					suggested := v.findSimilarPath(boundary)
					if suggested != "" {
						result.Warnings = append(result.Warnings,
							fmt.Sprintf("Task '%s': File boundary '%s' does not exist. Did you mean '%s'?",
								task.Name, boundary, suggested))
						result.SuggestedFixes[task.ID] = fmt.Sprintf("Change file boundary from '%s' to '%s'", boundary, suggested)
					} else {
						result.Warnings = append(result.Warnings,
							fmt.Sprintf("Task '%s': File boundary '%s' does not exist in repository",
								task.Name, boundary))
					}
				}
				continue
			}

			if info.IsDir() {
				fileCount := v.countFilesInDir(fullPath, 100)
				if fileCount > 50 {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("Task '%s': Boundary '%s' contains %d+ files, consider narrowing scope",
							task.Name, boundary, fileCount))
				}
			}
		}
	}
}

// validateReferences checks that all task dependencies reference valid tasks.
func (v *Validator) validateReferences(tasks []*models.TaskSpec, result *ValidationResult) {
	taskIDs := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		taskIDs[task.ID] = true
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if !taskIDs[depID] {
				result.Valid = false
				result.Errors = append(result.Errors,
					fmt.Sprintf("Task '%s': References non-existent dependency '%s'", task.Name, depID))
			}
		}
	}
}

// validateTaskStructure checks that tasks have required fields.
func (v *Validator) validateTaskStructure(tasks []*models.TaskSpec, result *ValidationResult) {
	for _, task := range tasks {
		if task.Name == "" {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Task %s: Missing name", task.ID))
		}

		if task.Description == "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s': Missing description", task.Name))
		}

		if len(task.Files) == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s': No file boundaries specified (may cause merge conflicts)", task.Name))
		}
	}
}

// checkAntiPatterns looks for common problematic patterns in decompositions.
func (v *Validator) checkAntiPatterns(tasks []*models.TaskSpec, result *ValidationResult) {
	if len(tasks) > 3 {
		parallelizable := 0
		for _, task := range tasks {
			if len(task.DependsOn) == 0 {
				parallelizable++
			}
		}
		if parallelizable <= 1 {
			result.Warnings = append(result.Warnings,
				"Decomposition has minimal parallelism - most tasks form a dependency chain")
		}
	}

	setupCount := 0
	for _, task := range tasks {
		if task.TaskType == models.TaskTypeSetup {
			setupCount++
		}
	}
	if len(tasks) > 0 && float64(setupCount)/float64(len(tasks)) > 0.3 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("%d/%d tasks are SETUP - consider consolidating setup work", setupCount, len(tasks)))
	}

	for _, task := range tasks {
		if len(task.Name) > 100 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Task '%s...': Name is very long (%d chars), consider shortening",
					task.Name[:50], len(task.Name)))
		}
	}

	overlapCount := 0
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			if hasFileOverlap(tasks[i].Files, tasks[j].Files) {
				overlapCount++
			}
		}
	}
	if overlapCount > len(tasks)/2 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("High file boundary overlap detected (%d pairs) - increased merge conflict risk", overlapCount))
	}
}

// findSimilarPath attempts to find a similar existing path for a typo.
func (v *Validator) findSimilarPath(boundary string) string {
	dir := filepath.Dir(boundary)
	name := filepath.Base(boundary)

	fullDir := filepath.Join(v.repoPath, dir)
	entries, err := os.ReadDir(fullDir)
	if err != nil {
		return ""
	}

	bestMatch := ""
	bestScore := 0

	for _, entry := range entries {
		score := similarityScore(name, entry.Name())
		if score > bestScore && score > 50 {
			bestScore = score
			bestMatch = filepath.Join(dir, entry.Name())
		}
	}

	return bestMatch
}

// similarityScore calculates a simple similarity score between two strings (0-100).
func similarityScore(s1, s2 string) int {
	s1 = strings.ToLower(s1)
	s2 = strings.ToLower(s2)

	if s1 == s2 {
		return 100
	}

	if strings.Contains(s2, s1) || strings.Contains(s1, s2) {
		return 80
	}

	commonPrefix := 0
	minLen := len(s1)
	if len(s2) < minLen {
		minLen = len(s2)
	}
	for i := 0; i < minLen; i++ {
		if s1[i] == s2[i] {
			commonPrefix++
		} else {
			break
		}
	}

	return (commonPrefix * 100) / minLen
}

// countFilesInDir counts files in a directory (up to maxCount).
func (v *Validator) countFilesInDir(dirPath string, maxCount int) int {
	count := 0

	filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			count++
			if count >= maxCount {
				return filepath.SkipAll
			}
		}
		return nil
	})

	return count
}
