package models

import "time"

// TaskState represents the current state of a task.
type TaskState string

const (
	// TaskStatePending indicates the task is waiting on unmet dependencies
	// or on a capable agent becoming available.
	TaskStatePending TaskState = "pending"
	// TaskStateReady indicates all dependencies are satisfied and the task
	// is eligible for assignment.
	TaskStateReady TaskState = "ready"
	// TaskStateAssigned indicates the task has been accepted by an agent
	// but execution has not started.
	TaskStateAssigned TaskState = "assigned"
	// TaskStateRunning indicates the assigned agent is executing the task.
	TaskStateRunning TaskState = "running"
	// TaskStateSucceeded indicates the task completed successfully.
	TaskStateSucceeded TaskState = "succeeded"
	// TaskStateFailed indicates the task failed after exhausting retries.
	TaskStateFailed TaskState = "failed"
	// TaskStateSkipped indicates the task was abandoned because a
	// dependency failed or the workflow was cancelled.
	TaskStateSkipped TaskState = "skipped"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStatePending, TaskStateReady, TaskStateAssigned, TaskStateRunning,
		TaskStateSucceeded, TaskStateFailed, TaskStateSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if the state is one a task never leaves.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateSucceeded, TaskStateFailed, TaskStateSkipped:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if the task state machine permits a
// transition from s to next. Terminal states have no exits; a retry moves
// Running back to Ready with a new attempt, never a new identity.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	if s.Terminal() {
		return false
	}
	if next == TaskStateSkipped {
		// Cancellation and dependency failure can skip any live task.
		return true
	}
	switch s {
	case TaskStatePending:
		return next == TaskStateReady
	case TaskStateReady:
		return next == TaskStateAssigned || next == TaskStatePending
	case TaskStateAssigned:
		return next == TaskStateRunning || next == TaskStateReady || next == TaskStatePending
	case TaskStateRunning:
		return next == TaskStateSucceeded || next == TaskStateFailed ||
			next == TaskStateReady || next == TaskStatePending
	default:
		return false
	}
}

// DefaultMaxAttempts is the attempt limit applied when a task does not
// specify one.
const DefaultMaxAttempts = 3

// Task represents a unit of work in a workflow.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// WorkflowID is the ID of the enclosing workflow.
	WorkflowID string `json:"workflow_id"`
	// Type is the kind of work, e.g. "code_generation", "review".
	Type string `json:"type"`
	// Description provides the work to perform.
	Description string `json:"description,omitempty"`
	// RequiredCapabilities lists capability tags an agent must have.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	// DependsOn lists task IDs that must succeed before this task runs.
	// Edges are immutable after DAG construction.
	DependsOn []string `json:"depends_on,omitempty"`
	// State is the current state of the task.
	State TaskState `json:"state"`
	// AssignedAgent is the ID of the agent holding this attempt, set
	// exactly once per attempt.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// Attempt is the current attempt number, starting at 1 on first
	// assignment. Redelivery increments Attempt, never task identity.
	Attempt int `json:"attempt"`
	// MaxAttempts is the attempt limit before the task is Failed.
	MaxAttempts int `json:"max_attempts"`
	// NonCritical marks a task whose failure skips dependents without
	// failing the enclosing workflow.
	NonCritical bool `json:"non_critical,omitempty"`
	// EstimatedCost is the predicted spend for one attempt, used for
	// budget tier selection.
	EstimatedCost float64 `json:"estimated_cost,omitempty"`
	// Result is the opaque output payload of a succeeded attempt.
	Result string `json:"result,omitempty"`
	// Error contains the failure detail if the task failed.
	Error string `json:"error,omitempty"`
	// ErrorKind classifies the failure, if any.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EffectiveMaxAttempts returns MaxAttempts, or DefaultMaxAttempts when unset.
func (t *Task) EffectiveMaxAttempts() int {
	if t.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return t.MaxAttempts
}
