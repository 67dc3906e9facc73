package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// TaskTypeJoin marks the implicit join task appended to a parallel
// workflow. Join tasks carry no work; the orchestrator completes them
// itself once their dependencies succeed.
const TaskTypeJoin = "join"

// Expand materializes a validated WorkflowSpec into a Workflow and its
// tasks. Sequential mode chains each task on the previous one; parallel
// mode leaves tasks independent and appends a join task depending on all
// of them; dag mode uses the spec's declared dependencies.
func Expand(spec *models.WorkflowSpec, now time.Time) (*models.Workflow, []*models.Task) {
	mode := spec.Mode
	if mode == "" {
		mode = models.ModeSequential
	}

	wf := &models.Workflow{
		ID:        uuid.New().String()[:8],
		Mode:      mode,
		State:     models.WorkflowRunning,
		Priority:  spec.Priority,
		Timeout:   spec.Timeout,
		CreatedAt: now,
	}

	idByName := make(map[string]string, len(spec.Tasks))
	tasks := make([]*models.Task, 0, len(spec.Tasks)+1)
	for _, ts := range spec.Tasks {
		id := uuid.New().String()[:8]
		idByName[ts.Name] = id
		tasks = append(tasks, &models.Task{
			ID:                   id,
			WorkflowID:           wf.ID,
			Type:                 ts.Type,
			Description:          ts.Description,
			RequiredCapabilities: ts.RequiredCapabilities,
			State:                models.TaskStatePending,
			MaxAttempts:          ts.MaxAttempts,
			NonCritical:          ts.NonCritical,
			EstimatedCost:        ts.EstimatedCost,
			CreatedAt:            now,
		})
	}

	switch mode {
	case models.ModeSequential:
		for i := 1; i < len(tasks); i++ {
			tasks[i].DependsOn = []string{tasks[i-1].ID}
		}
	case models.ModeParallel:
		deps := make([]string, len(tasks))
		for i, t := range tasks {
			deps[i] = t.ID
		}
		tasks = append(tasks, &models.Task{
			ID:         uuid.New().String()[:8],
			WorkflowID: wf.ID,
			Type:       TaskTypeJoin,
			DependsOn:  deps,
			State:      models.TaskStatePending,
			CreatedAt:  now,
		})
	case models.ModeDAG:
		for i, ts := range spec.Tasks {
			for _, dep := range ts.DependsOn {
				tasks[i].DependsOn = append(tasks[i].DependsOn, idByName[dep])
			}
		}
	}

	wf.Tasks = tasks
	return wf, tasks
}
