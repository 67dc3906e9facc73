package models

import (
	"fmt"
	"time"
)

// WorkflowMode determines how the tasks of a workflow are ordered.
type WorkflowMode string

const (
	// ModeSequential chains each task on the previous one.
	ModeSequential WorkflowMode = "sequential"
	// ModeParallel runs all tasks concurrently with an implicit join.
	ModeParallel WorkflowMode = "parallel"
	// ModeDAG orders tasks by their declared dependencies.
	ModeDAG WorkflowMode = "dag"
)

// Valid returns true if the mode is a known value.
func (m WorkflowMode) Valid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeDAG:
		return true
	default:
		return false
	}
}

// WorkflowState represents the aggregate state of a workflow.
type WorkflowState string

const (
	// WorkflowRunning indicates the workflow has live tasks.
	WorkflowRunning WorkflowState = "running"
	// WorkflowSucceeded indicates every task succeeded or was an
	// explicitly non-critical skip.
	WorkflowSucceeded WorkflowState = "succeeded"
	// WorkflowPartiallyFailed indicates a critical task failed while
	// sibling branches completed.
	WorkflowPartiallyFailed WorkflowState = "partially_failed"
	// WorkflowFailed indicates a critical task exhausted its retries.
	WorkflowFailed WorkflowState = "failed"
	// WorkflowCancelled indicates the workflow was cancelled.
	WorkflowCancelled WorkflowState = "cancelled"
)

// Valid returns true if the state is a known value.
func (s WorkflowState) Valid() bool {
	switch s {
	case WorkflowRunning, WorkflowSucceeded, WorkflowPartiallyFailed,
		WorkflowFailed, WorkflowCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the workflow state is final.
func (s WorkflowState) Terminal() bool {
	return s != WorkflowRunning
}

// Workflow is a set of tasks with an aggregate terminal state. The state is
// always derived from the tasks' terminal states, never set independently.
type Workflow struct {
	// ID is the unique identifier for this workflow.
	ID string `json:"id"`
	// Mode determines task ordering.
	Mode WorkflowMode `json:"mode"`
	// Tasks is the partially-ordered set of tasks.
	Tasks []*Task `json:"tasks"`
	// State is the aggregate state.
	State WorkflowState `json:"state"`
	// Priority orders competing workflows, 1 highest to 10 lowest.
	Priority int `json:"priority,omitempty"`
	// Timeout bounds the whole workflow; zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty"`
	// CreatedAt is when the workflow was submitted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the workflow reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskSpec describes one task inside a WorkflowSpec.
type TaskSpec struct {
	// Name identifies the task within the spec; referenced by DependsOn.
	Name string `json:"name" yaml:"name"`
	// Type is the kind of work.
	Type string `json:"type" yaml:"type"`
	// Description provides the work to perform.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// RequiredCapabilities lists capability tags an agent must have.
	RequiredCapabilities []string `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	// DependsOn lists names of tasks that must succeed first. Only
	// meaningful in DAG mode.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// MaxAttempts overrides the default attempt limit when positive.
	MaxAttempts int `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	// NonCritical marks the task as non-critical for workflow outcome.
	NonCritical bool `json:"non_critical,omitempty" yaml:"non_critical,omitempty"`
	// EstimatedCost is the predicted spend for one attempt.
	EstimatedCost float64 `json:"estimated_cost,omitempty" yaml:"estimated_cost,omitempty"`
}

// WorkflowSpec is the inbound description of a workflow to run.
type WorkflowSpec struct {
	// Mode determines task ordering; defaults to sequential when empty.
	Mode WorkflowMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	// Tasks is the ordered list of task specs.
	Tasks []TaskSpec `json:"tasks" yaml:"tasks"`
	// Priority orders competing workflows, 1 highest to 10 lowest.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Timeout bounds the whole workflow; zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Validate returns an error describing the first structural problem with the
// spec, or nil if it is well-formed. Dependency cycles are detected later at
// DAG construction; Validate only checks shape and references.
func (s *WorkflowSpec) Validate() error {
	if len(s.Tasks) == 0 {
		return &ValidationError{Field: "tasks", Reason: "at least one task is required"}
	}
	if s.Mode != "" && !s.Mode.Valid() {
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s.Mode)}
	}
	if s.Priority < 0 || s.Priority > 10 {
		return &ValidationError{Field: "priority", Reason: "must be between 1 and 10"}
	}
	names := make(map[string]bool, len(s.Tasks))
	for i, ts := range s.Tasks {
		if ts.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("tasks[%d].name", i), Reason: "must not be empty"}
		}
		if names[ts.Name] {
			return &ValidationError{Field: fmt.Sprintf("tasks[%d].name", i), Reason: fmt.Sprintf("duplicate task name %q", ts.Name)}
		}
		names[ts.Name] = true
		if ts.Type == "" {
			return &ValidationError{Field: fmt.Sprintf("tasks[%d].type", i), Reason: "must not be empty"}
		}
	}
	for i, ts := range s.Tasks {
		if len(ts.DependsOn) > 0 && s.Mode != ModeDAG {
			return &ValidationError{Field: fmt.Sprintf("tasks[%d].depends_on", i), Reason: "dependencies are only allowed in dag mode"}
		}
		for _, dep := range ts.DependsOn {
			if !names[dep] {
				return &ValidationError{Field: fmt.Sprintf("tasks[%d].depends_on", i), Reason: fmt.Sprintf("unknown task %q", dep)}
			}
			if dep == ts.Name {
				return &ValidationError{Field: fmt.Sprintf("tasks[%d].depends_on", i), Reason: "task cannot depend on itself"}
			}
		}
	}
	return nil
}
