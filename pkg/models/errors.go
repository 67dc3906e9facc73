package models

import "fmt"

// ErrorKind classifies a failure for external consumers. Values surface on
// TaskStateChanged and WorkflowCompleted events alongside a human-readable
// detail string.
type ErrorKind string

const (
	// ErrKindAgentUnavailable means no capable idle agent was found. The
	// task stays pending and assignment is retried on the next idle
	// transition.
	ErrKindAgentUnavailable ErrorKind = "agent_unavailable"
	// ErrKindTaskTimeout means the task exceeded its per-attempt timeout.
	// Treated as an attempt failure, subject to retry.
	ErrKindTaskTimeout ErrorKind = "task_timeout"
	// ErrKindProviderExhausted means every backend in the tier's chain
	// failed or was circuit-broken. Treated as an attempt failure.
	ErrKindProviderExhausted ErrorKind = "provider_exhausted"
	// ErrKindBudgetExceeded is a routing signal, not a failure: execution
	// was downgraded to the local tier.
	ErrKindBudgetExceeded ErrorKind = "budget_exceeded"
	// ErrKindDependencyFailed means an upstream task failed; the task is
	// skipped and never retried.
	ErrKindDependencyFailed ErrorKind = "dependency_failed"
	// ErrKindValidation means the submission was malformed and rejected
	// synchronously, never entering the DAG.
	ErrKindValidation ErrorKind = "validation_error"
)

// Valid returns true if the kind is a known value.
func (k ErrorKind) Valid() bool {
	switch k {
	case ErrKindAgentUnavailable, ErrKindTaskTimeout, ErrKindProviderExhausted,
		ErrKindBudgetExceeded, ErrKindDependencyFailed, ErrKindValidation:
		return true
	default:
		return false
	}
}

// Transient returns true if the failure class is retried up to the attempt
// limit. Structural failures surface immediately.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrKindTaskTimeout, ErrKindProviderExhausted, ErrKindAgentUnavailable:
		return true
	default:
		return false
	}
}

// ValidationError reports a malformed WorkflowSpec or AgentDescriptor. It is
// returned synchronously at submission time.
type ValidationError struct {
	// Field names the offending field.
	Field string
	// Reason describes what is wrong with it.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}
