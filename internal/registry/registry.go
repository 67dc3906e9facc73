// Package registry owns agent identity, capability metadata, and the agent
// lifecycle state machine. It answers which agents can serve a task and are
// free now, and it is the only writer of Agent state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// DefaultHeartbeatTimeout is how long an agent may go silent before it is
// marked offline: three missed intervals at the default 30s cadence.
const DefaultHeartbeatTimeout = 90 * time.Second

// ErrNoCapableAgent indicates no idle agent covers a task's required
// capabilities. The task stays pending; assignment is retried on the next
// idle transition.
var ErrNoCapableAgent = errors.New("no capable idle agent available")

// ErrUnknownAgent indicates an operation referenced an unregistered agent.
var ErrUnknownAgent = errors.New("agent not registered")

// ErrAgentOffline indicates an operation on a terminally offline
// registration. The agent must re-register.
var ErrAgentOffline = errors.New("agent registration is offline")

// StatusChange is the payload of agent_status events published on the bus.
type StatusChange struct {
	// AgentID identifies the agent.
	AgentID string `json:"agent_id"`
	// OldState is the state before the transition.
	OldState models.AgentState `json:"old_state"`
	// NewState is the state after the transition.
	NewState models.AgentState `json:"new_state"`
	// ReleasedTaskID is the in-flight task returned for reassignment when
	// a busy agent went offline, if any.
	ReleasedTaskID string `json:"released_task_id,omitempty"`
}

// MsgTypeStatusChanged is the message type for StatusChange payloads.
const MsgTypeStatusChanged = "agent_status_changed"

// Registry is the thread-safe store of agent registrations.
type Registry struct {
	// agents maps agent ID to its registration.
	agents map[string]*models.Agent
	// bus carries AgentStatusChanged events to external consumers.
	bus bus.Bus
	// heartbeatTimeout is the silence window before an agent goes offline.
	heartbeatTimeout time.Duration
	// mu protects agents.
	mu sync.RWMutex
}

// New creates a Registry publishing status events on b. A zero
// heartbeatTimeout selects DefaultHeartbeatTimeout.
func New(b bus.Bus, heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		agents:           make(map[string]*models.Agent),
		bus:              b,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Register validates the descriptor and creates a new registration in the
// Initializing state. Returns the assigned agent ID.
func (r *Registry) Register(desc *models.AgentDescriptor) (string, error) {
	if err := desc.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	a := &models.Agent{
		ID:              uuid.New().String()[:8],
		Role:            desc.Role,
		Capabilities:    append([]string(nil), desc.Capabilities...),
		State:           models.AgentStateInitializing,
		ModelPreference: append([]string(nil), desc.ModelPreference...),
		RegisteredAt:    now,
		LastHeartbeat:   now,
	}

	r.mu.Lock()
	r.agents[a.ID] = a
	r.mu.Unlock()

	log.Printf("[registry] registered agent %s role=%s capabilities=%v", a.ID, a.Role, a.Capabilities)
	return a.ID, nil
}

// Heartbeat records liveness for the agent. The first heartbeat moves
// Initializing to Idle; a healthy heartbeat moves Error back to Idle.
func (r *Registry) Heartbeat(agentID string) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("heartbeat from %s: %w", agentID, ErrUnknownAgent)
	}
	if a.State == models.AgentStateOffline {
		r.mu.Unlock()
		return fmt.Errorf("heartbeat from %s: %w", agentID, ErrAgentOffline)
	}

	a.LastHeartbeat = time.Now()

	old := a.State
	switch a.State {
	case models.AgentStateInitializing, models.AgentStateError:
		a.State = models.AgentStateIdle
	}
	changed := old != a.State
	r.mu.Unlock()

	if changed {
		r.publishStatus(agentID, old, models.AgentStateIdle, "")
	}
	return nil
}

// ReportError records an agent self-reporting an internal fault. The
// registry stops assigning new tasks until the next healthy heartbeat.
func (r *Registry) ReportError(agentID string) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("error report from %s: %w", agentID, ErrUnknownAgent)
	}

	old := a.State
	if !old.CanTransitionTo(models.AgentStateError) {
		r.mu.Unlock()
		return fmt.Errorf("error report from %s: cannot transition %s to error", agentID, old)
	}
	a.State = models.AgentStateError
	released := a.CurrentTaskID
	a.CurrentTaskID = ""
	r.mu.Unlock()

	log.Printf("[registry] agent %s reported error (was %s)", agentID, old)
	r.publishStatus(agentID, old, models.AgentStateError, released)
	return nil
}

// Deregister marks the agent offline. Offline is terminal; the agent must
// re-register to return. Returns the released in-flight task ID, if any.
func (r *Registry) Deregister(agentID string) (string, error) {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("deregister %s: %w", agentID, ErrUnknownAgent)
	}
	if a.State == models.AgentStateOffline {
		r.mu.Unlock()
		return "", nil
	}

	old := a.State
	a.State = models.AgentStateOffline
	released := a.CurrentTaskID
	a.CurrentTaskID = ""
	r.mu.Unlock()

	log.Printf("[registry] agent %s deregistered (was %s)", agentID, old)
	r.publishStatus(agentID, old, models.AgentStateOffline, released)
	return released, nil
}

// TryAssign atomically assigns task to the best idle capable agent. The
// compare-and-swap accepts only if the chosen agent is Idle and the task is
// Ready, transitioning the agent to Busy and the task to Assigned with a new
// attempt in one critical section. Candidates are idle agents whose
// capabilities cover the task's requirements, ordered least-recently-assigned
// with agent ID as the deterministic tiebreak.
func (r *Registry) TryAssign(task *models.Task) (string, error) {
	r.mu.Lock()

	if task.State != models.TaskStateReady {
		r.mu.Unlock()
		return "", fmt.Errorf("assign task %s: task is %s, not ready", task.ID, task.State)
	}

	var candidates []*models.Agent
	for _, a := range r.agents {
		if a.State == models.AgentStateIdle && a.HasCapabilities(task.RequiredCapabilities) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		r.mu.Unlock()
		return "", ErrNoCapableAgent
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].LastAssigned.Equal(candidates[j].LastAssigned) {
			return candidates[i].LastAssigned.Before(candidates[j].LastAssigned)
		}
		return candidates[i].ID < candidates[j].ID
	})

	chosen := candidates[0]
	chosen.State = models.AgentStateBusy
	chosen.CurrentTaskID = task.ID
	chosen.LastAssigned = time.Now()

	task.State = models.TaskStateAssigned
	task.AssignedAgent = chosen.ID
	task.Attempt++
	r.mu.Unlock()

	log.Printf("[registry] assigned task %s to agent %s (attempt %d)", task.ID, chosen.ID, task.Attempt)
	r.publishStatus(chosen.ID, models.AgentStateIdle, models.AgentStateBusy, "")
	return chosen.ID, nil
}

// CompleteTask records that the agent finished its current task, returning
// it to Idle. Called by the orchestrator on success or terminal failure.
func (r *Registry) CompleteTask(agentID string) error {
	r.mu.Lock()
	a, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("complete task for %s: %w", agentID, ErrUnknownAgent)
	}
	if a.State != models.AgentStateBusy {
		r.mu.Unlock()
		return fmt.Errorf("complete task for %s: agent is %s, not busy", agentID, a.State)
	}

	a.State = models.AgentStateIdle
	a.CurrentTaskID = ""
	r.mu.Unlock()

	r.publishStatus(agentID, models.AgentStateBusy, models.AgentStateIdle, "")
	return nil
}

// Get returns a copy of the agent registration, or nil if unknown.
func (r *Registry) Get(agentID string) *models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return nil
	}
	cp := *a
	return &cp
}

// All returns copies of all registrations.
func (r *Registry) All() []*models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// IdleCount returns the number of agents currently idle.
func (r *Registry) IdleCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, a := range r.agents {
		if a.State == models.AgentStateIdle {
			n++
		}
	}
	return n
}

// ExpireStale marks offline every agent whose last heartbeat is older than
// the timeout. In-flight tasks are released atomically with the state change
// so the at-most-one-agent invariant holds. Returns the released task IDs.
func (r *Registry) ExpireStale(now time.Time) []string {
	type expired struct {
		id       string
		old      models.AgentState
		released string
	}

	r.mu.Lock()
	var stale []expired
	for _, a := range r.agents {
		if a.State == models.AgentStateOffline {
			continue
		}
		if now.Sub(a.LastHeartbeat) > r.heartbeatTimeout {
			old := a.State
			a.State = models.AgentStateOffline
			released := a.CurrentTaskID
			a.CurrentTaskID = ""
			stale = append(stale, expired{id: a.ID, old: old, released: released})
		}
	}
	r.mu.Unlock()

	var releasedTasks []string
	for _, e := range stale {
		log.Printf("[registry] agent %s missed heartbeat window, marking offline (was %s)", e.id, e.old)
		r.publishStatus(e.id, e.old, models.AgentStateOffline, e.released)
		if e.released != "" {
			releasedTasks = append(releasedTasks, e.released)
		}
	}
	return releasedTasks
}

// Monitor runs the heartbeat sweep every interval until ctx is done.
func (r *Registry) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.ExpireStale(now)
		}
	}
}

// publishStatus emits an AgentStatusChanged event. Publish failures are
// logged, never propagated; event delivery is best-effort.
func (r *Registry) publishStatus(agentID string, old, next models.AgentState, releasedTaskID string) {
	if r.bus == nil {
		return
	}
	msg, err := bus.NewMessage(MsgTypeStatusChanged, "registry", StatusChange{
		AgentID:        agentID,
		OldState:       old,
		NewState:       next,
		ReleasedTaskID: releasedTaskID,
	})
	if err != nil {
		log.Printf("[registry] failed to encode status event for %s: %v", agentID, err)
		return
	}
	if err := r.bus.Publish(context.Background(), bus.TopicAgentStatus, msg); err != nil {
		log.Printf("[registry] failed to publish status event for %s: %v", agentID, err)
	}
}
