package workflow

import "github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"

// Message types carried on the bus for workflow traffic.
const (
	// MsgTypeTaskStarted reports that an agent began executing a task.
	// Published by workers on the task_response topic.
	MsgTypeTaskStarted = "task_started"
	// MsgTypeTaskResult reports the outcome of a task attempt. Published by
	// workers on the task_response topic.
	MsgTypeTaskResult = "task_result"
	// MsgTypeTaskStateChanged reports a task state transition. Published by
	// the orchestrator on the task_update topic.
	MsgTypeTaskStateChanged = "task_state_changed"
	// MsgTypeWorkflowCompleted reports a workflow reaching a terminal
	// state. Published by the orchestrator on the task_update topic.
	MsgTypeWorkflowCompleted = "workflow_completed"
	// MsgTypeCancelTask tells an agent to abandon a task. Published by the
	// orchestrator on the coordination topic; delivery is best-effort.
	MsgTypeCancelTask = "cancel_task"
)

// TaskStarted is the payload of task_started messages.
type TaskStarted struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// WorkflowID identifies the enclosing workflow.
	WorkflowID string `json:"workflow_id"`
	// AgentID identifies the executing agent.
	AgentID string `json:"agent_id"`
	// Attempt is the attempt number being executed.
	Attempt int `json:"attempt"`
}

// TaskResult is the payload of task_result messages.
type TaskResult struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// WorkflowID identifies the enclosing workflow.
	WorkflowID string `json:"workflow_id"`
	// AgentID identifies the agent that executed the attempt.
	AgentID string `json:"agent_id"`
	// Attempt is the attempt number this result belongs to. The
	// orchestrator drops results for attempts it no longer tracks, which
	// makes duplicate delivery harmless.
	Attempt int `json:"attempt"`
	// Success reports whether the attempt completed.
	Success bool `json:"success"`
	// Result is the opaque output payload on success.
	Result string `json:"result,omitempty"`
	// ErrorKind classifies the failure on error.
	ErrorKind models.ErrorKind `json:"error_kind,omitempty"`
	// Error is the human-readable failure detail.
	Error string `json:"error,omitempty"`
}

// TaskStateChanged is the payload of task_state_changed events.
type TaskStateChanged struct {
	// TaskID identifies the task.
	TaskID string `json:"task_id"`
	// WorkflowID identifies the enclosing workflow.
	WorkflowID string `json:"workflow_id"`
	// OldState is the state before the transition.
	OldState models.TaskState `json:"old_state"`
	// NewState is the state after the transition.
	NewState models.TaskState `json:"new_state"`
	// ErrorKind classifies the failure for failure transitions.
	ErrorKind models.ErrorKind `json:"error_kind,omitempty"`
	// Error is the human-readable failure detail, if any.
	Error string `json:"error,omitempty"`
}

// WorkflowCompleted is the payload of workflow_completed events.
type WorkflowCompleted struct {
	// WorkflowID identifies the workflow.
	WorkflowID string `json:"workflow_id"`
	// FinalState is the terminal state the workflow reached.
	FinalState models.WorkflowState `json:"final_state"`
}

// CancelSignal is the payload of cancel_task messages.
type CancelSignal struct {
	// WorkflowID identifies the cancelled workflow.
	WorkflowID string `json:"workflow_id"`
	// TaskID identifies the task to abandon; empty means every task of
	// the workflow.
	TaskID string `json:"task_id,omitempty"`
	// AgentID identifies the agent holding the task, if assigned.
	AgentID string `json:"agent_id,omitempty"`
}
