package decompose

import (
	"fmt"
	"strings"

	"github.com/nexus-build/nexus/pkg/models"
)

// Severity indicates the severity of a quality issue.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// QualityIssue represents a specific problem or concern with a task.
type QualityIssue struct {
	Severity   Severity
	Message    string
	Suggestion string
}

// TaskQualityScore represents the quality score for a single task.
type TaskQualityScore struct {
	TaskID     string
	Confidence float64 // 0.0-1.0, where 1.0 is highest confidence
	Issues     []QualityIssue
}

// DecompositionQuality represents the overall quality of a decomposition.
type DecompositionQuality struct {
	OverallConfidence    float64
	TaskScores           []TaskQualityScore
	Warnings             []string
	EstimatedParallelism int
	TotalTasks           int
	CriticalIssues       int
}

// ScoreDecomposition analyzes a decomposition and assigns quality scores,
// flagging badly-shaped breakdowns (overlapping file boundaries, missing
// acceptance criteria, runaway dependency chains). Decompose does not call
// it and nothing gates queue submission on its result; callers run it
// themselves.
func ScoreDecomposition(tasks []*models.TaskSpec) DecompositionQuality {
	quality := DecompositionQuality{
		OverallConfidence: 1.0,
		TaskScores:        make([]TaskQualityScore, len(tasks)),
		TotalTasks:        len(tasks),
	}

	for i, task := range tasks {
		score := scoreTask(task, tasks)
		quality.TaskScores[i] = score
		for _, issue := range score.Issues {
			if issue.Severity == SeverityCritical {
				quality.CriticalIssues++
			}
		}
	}

	totalConfidence := 0.0
	for _, score := range quality.TaskScores {
		totalConfidence += score.Confidence
	}
	if len(quality.TaskScores) > 0 {
		quality.OverallConfidence = totalConfidence / float64(len(quality.TaskScores))
	}

	quality.OverallConfidence = applyGlobalPenalties(quality.OverallConfidence, tasks)
	quality.Warnings = generateWarnings(tasks, quality.TaskScores)
	quality.EstimatedParallelism = calculateParallelism(tasks)

	return quality
}

func scoreTask(task *models.TaskSpec, allTasks []*models.TaskSpec) TaskQualityScore {
	score := TaskQualityScore{
		TaskID:     task.ID,
		Confidence: 1.0,
		Issues:     []QualityIssue{},
	}

	if len(task.Files) == 0 {
		score.Confidence -= 0.2
		score.Issues = append(score.Issues, QualityIssue{
			Severity:   SeverityWarning,
			Message:    "No file boundaries specified",
			Suggestion: "Add specific file or directory paths to reduce merge conflicts",
		})
	} else {
		for _, boundary := range task.Files {
			if boundary == "." || boundary == "./" || boundary == "src/" || boundary == "src" {
				score.Confidence -= 0.3
				score.Issues = append(score.Issues, QualityIssue{
					Severity:   SeverityCritical,
					Message:    "Vague file boundary: " + boundary,
					Suggestion: "Specify more precise file or directory paths",
				})
			}
			if strings.Count(boundary, "/") <= 1 && boundary != "." {
				score.Confidence -= 0.1
				score.Issues = append(score.Issues, QualityIssue{
					Severity:   SeverityInfo,
					Message:    "Root-level boundary may cause conflicts: " + boundary,
					Suggestion: "Consider more specific subdirectories",
				})
			}
		}
	}

	overlapCount := 0
	for _, other := range allTasks {
		if other.ID == task.ID {
			continue
		}
		if hasFileOverlap(task.Files, other.Files) {
			overlapCount++
		}
	}
	if overlapCount > 0 {
		penalty := float64(overlapCount) * 0.15
		if penalty > 0.5 {
			penalty = 0.5
		}
		score.Confidence -= penalty
		score.Issues = append(score.Issues, QualityIssue{
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("File boundaries overlap with %d other tasks", overlapCount),
			Suggestion: "Review task boundaries to minimize merge conflicts",
		})
	}

	depth := calculateDependencyDepth(task, allTasks)
	if depth > 3 {
		penalty := float64(depth-3) * 0.1
		score.Confidence -= penalty
		score.Issues = append(score.Issues, QualityIssue{
			Severity:   SeverityWarning,
			Message:    fmt.Sprintf("Deep dependency chain (depth %d)", depth),
			Suggestion: "Consider flattening dependencies for better parallelism",
		})
	}

	if len(task.AcceptanceCriteria) == 0 {
		score.Confidence -= 0.3
		score.Issues = append(score.Issues, QualityIssue{
			Severity:   SeverityCritical,
			Message:    "No acceptance criteria specified",
			Suggestion: "Add acceptance criteria, including a verification step, to validate task completion",
		})
	}

	if score.Confidence < 0.0 {
		score.Confidence = 0.0
	}

	return score
}

func applyGlobalPenalties(confidence float64, tasks []*models.TaskSpec) float64 {
	if len(tasks) > 10 {
		penalty := float64(len(tasks)-10) * 0.05
		if penalty > 0.3 {
			penalty = 0.3
		}
		confidence -= penalty
	}

	parallelism := calculateParallelism(tasks)
	if parallelism == 1 && len(tasks) > 3 {
		confidence -= 0.2
	}

	if confidence < 0.0 {
		confidence = 0.0
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return confidence
}

func generateWarnings(tasks []*models.TaskSpec, scores []TaskQualityScore) []string {
	warnings := []string{}

	criticalCount := 0
	for _, score := range scores {
		for _, issue := range score.Issues {
			if issue.Severity == SeverityCritical {
				criticalCount++
			}
		}
	}
	if criticalCount > 0 {
		warnings = append(warnings, fmt.Sprintf("%d critical issues found in decomposition", criticalCount))
	}

	if len(tasks) > 10 {
		warnings = append(warnings, fmt.Sprintf("Large number of tasks (%d) may be difficult to coordinate", len(tasks)))
	}

	if len(scores) > 0 {
		totalConfidence := 0.0
		for _, score := range scores {
			totalConfidence += score.Confidence
		}
		avgConfidence := totalConfidence / float64(len(scores))
		if avgConfidence < 0.5 {
			warnings = append(warnings, "Low overall confidence - consider simplifying or restructuring tasks")
		}
	}

	return warnings
}

// hasFileOverlap checks if two file boundary lists overlap.
func hasFileOverlap(boundaries1, boundaries2 []string) bool {
	for _, b1 := range boundaries1 {
		for _, b2 := range boundaries2 {
			if pathsOverlap(b1, b2) {
				return true
			}
		}
	}
	return false
}

// pathsOverlap reports whether one path is a prefix of the other.
func pathsOverlap(path1, path2 string) bool {
	p1 := strings.TrimSuffix(path1, "/")
	p2 := strings.TrimSuffix(path2, "/")
	return strings.HasPrefix(p1, p2) || strings.HasPrefix(p2, p1)
}

func calculateDependencyDepth(task *models.TaskSpec, allTasks []*models.TaskSpec) int {
	visited := make(map[string]bool)
	return calculateDepthRecursive(task, allTasks, visited)
}

func calculateDepthRecursive(task *models.TaskSpec, allTasks []*models.TaskSpec, visited map[string]bool) int {
	if visited[task.ID] {
		return 0
	}
	visited[task.ID] = true

	if len(task.DependsOn) == 0 {
		return 1
	}

	maxDepth := 0
	for _, depID := range task.DependsOn {
		dep := findTaskByID(depID, allTasks)
		if dep != nil {
			depth := calculateDepthRecursive(dep, allTasks, visited)
			if depth > maxDepth {
				maxDepth = depth
			}
		}
	}

	return maxDepth + 1
}

func findTaskByID(id string, tasks []*models.TaskSpec) *models.TaskSpec {
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// calculateParallelism estimates the maximum number of tasks that can run in
// parallel: a simple count of tasks with no dependencies.
func calculateParallelism(tasks []*models.TaskSpec) int {
	independentCount := 0
	for _, task := range tasks {
		if len(task.DependsOn) == 0 {
			independentCount++
		}
	}

	if independentCount == 0 {
		return 1
	}
	return independentCount
}
