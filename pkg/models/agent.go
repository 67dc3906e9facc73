package models

import "time"

// AgentState represents the current lifecycle state of an agent.
type AgentState string

const (
	// AgentStateInitializing indicates the agent has registered but not yet heartbeated.
	AgentStateInitializing AgentState = "initializing"
	// AgentStateIdle indicates the agent is healthy and available for assignment.
	AgentStateIdle AgentState = "idle"
	// AgentStateBusy indicates the agent is executing a task.
	AgentStateBusy AgentState = "busy"
	// AgentStateError indicates the agent self-reported an internal fault.
	// No new tasks are assigned until a healthy heartbeat is observed.
	AgentStateError AgentState = "error"
	// AgentStateOffline indicates the agent missed its heartbeat window or
	// deregistered. Offline is terminal for the registration.
	AgentStateOffline AgentState = "offline"
)

// Valid returns true if the state is a known value.
func (s AgentState) Valid() bool {
	switch s {
	case AgentStateInitializing, AgentStateIdle, AgentStateBusy,
		AgentStateError, AgentStateOffline:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if the lifecycle state machine permits a
// transition from s to next. Offline is reachable from every state and is
// terminal; Error is only entered from Idle or Busy and only exits to Idle.
func (s AgentState) CanTransitionTo(next AgentState) bool {
	if s == AgentStateOffline {
		return false
	}
	if next == AgentStateOffline {
		return true
	}
	switch s {
	case AgentStateInitializing:
		return next == AgentStateIdle
	case AgentStateIdle:
		return next == AgentStateBusy || next == AgentStateError
	case AgentStateBusy:
		return next == AgentStateIdle || next == AgentStateError
	case AgentStateError:
		return next == AgentStateIdle
	default:
		return false
	}
}

// Agent represents a registered worker that executes tasks.
type Agent struct {
	// ID is the unique identifier for this registration.
	ID string `json:"id"`
	// Role is the primary capability tag, e.g. "frontend-developer".
	Role string `json:"role"`
	// Capabilities is the set of capability tags this agent can serve.
	Capabilities []string `json:"capabilities"`
	// State is the current lifecycle state.
	State AgentState `json:"state"`
	// CurrentTaskID is the ID of the task this agent holds, if any.
	// At most one agent holds a given task ID at a time.
	CurrentTaskID string `json:"current_task_id,omitempty"`
	// LastHeartbeat is when the agent last reported liveness.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// LastAssigned is when the agent last accepted an assignment.
	// Used for least-recently-assigned selection.
	LastAssigned time.Time `json:"last_assigned"`
	// ModelPreference is the ordered list of provider identifiers the
	// agent prefers for backend execution.
	ModelPreference []string `json:"model_preference,omitempty"`
	// RegisteredAt is when the agent registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapabilities returns true if the agent's capability set covers every
// tag in required.
func (a *Agent) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, c := range a.Capabilities {
			if c == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// AgentDescriptor is the inbound registration payload for a new agent.
type AgentDescriptor struct {
	// Role is the primary capability tag.
	Role string `json:"role" yaml:"role"`
	// Capabilities is the set of capability tags.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	// ModelPreference is the ordered list of preferred provider identifiers.
	ModelPreference []string `json:"model_preference,omitempty" yaml:"model_preference,omitempty"`
}

// Validate returns an error describing the first structural problem with the
// descriptor, or nil if it is well-formed.
func (d *AgentDescriptor) Validate() error {
	if d.Role == "" {
		return &ValidationError{Field: "role", Reason: "must not be empty"}
	}
	if len(d.Capabilities) == 0 {
		return &ValidationError{Field: "capabilities", Reason: "at least one capability is required"}
	}
	for _, c := range d.Capabilities {
		if c == "" {
			return &ValidationError{Field: "capabilities", Reason: "capability tags must not be empty"}
		}
	}
	return nil
}
