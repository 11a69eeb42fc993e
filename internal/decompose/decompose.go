// Package decompose turns a free-form job specification into a task DAG
// ready for the queue: a single Decomposer.Decompose call prompts an
// LLMClient for a JSON task breakdown, parses it into TaskSpecs, and
// validates the result for cycles before handing it back to the Coordinator.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-build/nexus/internal/llm"
	"github.com/nexus-build/nexus/pkg/models"
)

// decomposedTask is the JSON structure the model returns for a single task.
type decomposedTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	TaskType           string   `json:"task_type"`
	AgentType          string   `json:"agent_type"`
	FileBoundaries     []string `json:"file_boundaries"`
	DependsOn          []string `json:"depends_on"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	VerificationIntent string   `json:"verification_intent"`
}

// Decomposer breaks a job specification down into parallelizable TaskSpecs
// via a single LLMClient call. It satisfies coordinator.Decomposer directly.
type Decomposer struct {
	client llm.Client
}

// New creates a Decomposer backed by the given LLMClient.
func New(client llm.Client) *Decomposer {
	return &Decomposer{client: client}
}

// Decompose prompts the model with jobSpec and returns the resulting task
// DAG. The DAG is validated for cycles before it is returned; the queue
// performs its own independent cycle check on Submit, but failing fast
// here gives a clearer error attributable to the decomposition step.
func (d *Decomposer) Decompose(ctx context.Context, jobSpec string) ([]*models.TaskSpec, error) {
	prompt := fmt.Sprintf(decompositionPrompt, jobSpec)

	resp, err := d.client.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Text: prompt}}, llm.Options{
		MaxTokens: 8192,
	})
	if err != nil {
		return nil, fmt.Errorf("decompose chat: %w", err)
	}

	tasks, err := ParseResponse(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("parse decomposition response: %w", err)
	}

	if err := ValidateNoCycles(tasks); err != nil {
		return nil, fmt.Errorf("validate dependencies: %w", err)
	}

	return tasks, nil
}

// ParseResponse parses the model's JSON response into TaskSpecs, resolving
// depends_on from the response's own task titles into generated TaskSpec IDs.
func ParseResponse(response string) ([]*models.TaskSpec, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no valid JSON array found in response (got %d chars): %q", len(response), preview)
	}
	jsonStr := response[jsonStart : jsonEnd+1]

	var decomposed []decomposedTask
	if err := json.Unmarshal([]byte(jsonStr), &decomposed); err != nil {
		return nil, fmt.Errorf("unmarshal JSON: %w", err)
	}

	if len(decomposed) == 0 {
		return nil, fmt.Errorf("empty task list returned")
	}

	titleToID := make(map[string]string, len(decomposed))
	tasks := make([]*models.TaskSpec, len(decomposed))
	now := time.Now()

	for i, dt := range decomposed {
		id := uuid.New().String()
		titleToID[dt.Title] = id

		criteria := dt.AcceptanceCriteria
		if dt.VerificationIntent != "" {
			criteria = append(criteria, "verify: "+dt.VerificationIntent)
		}

		tasks[i] = &models.TaskSpec{
			ID:                 id,
			Name:               dt.Title,
			Description:        dt.Description,
			Files:              dt.FileBoundaries,
			AcceptanceCriteria: criteria,
			TaskType:           parseTaskType(dt.TaskType),
			RequiredAgentType:  parseAgentType(dt.AgentType),
			CreatedAt:          now,
		}
	}

	for i, dt := range decomposed {
		for _, depTitle := range dt.DependsOn {
			depID, ok := titleToID[depTitle]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for task %q", depTitle, dt.Title)
			}
			tasks[i].DependsOn = append(tasks[i].DependsOn, depID)
		}
	}

	return tasks, nil
}

func parseTaskType(s string) models.TaskType {
	switch strings.ToUpper(s) {
	case "SETUP":
		return models.TaskTypeSetup
	case "BUGFIX":
		return models.TaskTypeBugfix
	case "REFACTOR":
		return models.TaskTypeRefactor
	default:
		return models.TaskTypeFeature
	}
}

func parseAgentType(s string) models.AgentType {
	switch strings.ToLower(s) {
	case "scout":
		return models.AgentTypeScout
	case "architect":
		return models.AgentTypeArchitect
	default:
		return models.AgentTypeBuilder
	}
}

// ValidateNoCycles checks that there are no circular dependencies among tasks.
func ValidateNoCycles(tasks []*models.TaskSpec) error {
	idToTask := make(map[string]*models.TaskSpec, len(tasks))
	for _, task := range tasks {
		idToTask[task.ID] = task
	}

	state := make(map[string]int) // 0=unvisited, 1=visiting, 2=visited

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			cycleStart := 0
			for i, p := range path {
				if p == id {
					cycleStart = i
					break
				}
			}
			cycle := append(path[cycleStart:], id)
			return fmt.Errorf("circular dependency detected: %s", strings.Join(cycle, " -> "))
		}

		state[id] = 1
		if task := idToTask[id]; task != nil {
			for _, depID := range task.DependsOn {
				if err := visit(depID, append(path, id)); err != nil {
					return err
				}
			}
		}
		state[id] = 2
		return nil
	}

	for _, task := range tasks {
		if state[task.ID] == 0 {
			if err := visit(task.ID, nil); err != nil {
				return err
			}
		}
	}

	return nil
}
