package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

func newTestRegistry(t *testing.T) (*Registry, *bus.InMemoryBus) {
	t.Helper()
	b := bus.NewInMemoryBus()
	t.Cleanup(func() { _ = b.Close() })
	return New(b, 0), b
}

func registerIdle(t *testing.T, r *Registry, role string, caps ...string) string {
	t.Helper()
	id, err := r.Register(&models.AgentDescriptor{Role: role, Capabilities: caps})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Heartbeat(id); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	return id
}

func TestRegistry_RegisterStartsInitializing(t *testing.T) {
	r, _ := newTestRegistry(t)

	id, err := r.Register(&models.AgentDescriptor{Role: "developer", Capabilities: []string{"code_generation"}})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	a := r.Get(id)
	if a == nil {
		t.Fatal("Get() returned nil for registered agent")
	}
	if a.State != models.AgentStateInitializing {
		t.Errorf("new agent state = %s, want %s", a.State, models.AgentStateInitializing)
	}
}

func TestRegistry_RegisterRejectsInvalidDescriptor(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Register(&models.AgentDescriptor{Role: ""})
	if err == nil {
		t.Fatal("Register() with empty role should fail")
	}
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("Register() error = %T, want *models.ValidationError", err)
	}
}

func TestRegistry_FirstHeartbeatActivates(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := registerIdle(t, r, "developer", "code_generation")

	if got := r.Get(id).State; got != models.AgentStateIdle {
		t.Errorf("state after first heartbeat = %s, want idle", got)
	}
}

func TestRegistry_ErrorRecoversOnHeartbeat(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := registerIdle(t, r, "developer", "code_generation")

	if err := r.ReportError(id); err != nil {
		t.Fatalf("ReportError() error = %v", err)
	}
	if got := r.Get(id).State; got != models.AgentStateError {
		t.Fatalf("state after error report = %s, want error", got)
	}

	if err := r.Heartbeat(id); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if got := r.Get(id).State; got != models.AgentStateIdle {
		t.Errorf("state after recovery heartbeat = %s, want idle", got)
	}
}

func TestRegistry_TryAssign(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := registerIdle(t, r, "developer", "code_generation", "testing")

	task := &models.Task{ID: "t1", State: models.TaskStateReady, RequiredCapabilities: []string{"testing"}}
	agentID, err := r.TryAssign(task)
	if err != nil {
		t.Fatalf("TryAssign() error = %v", err)
	}
	if agentID != id {
		t.Errorf("TryAssign() agent = %s, want %s", agentID, id)
	}
	if task.State != models.TaskStateAssigned {
		t.Errorf("task state = %s, want assigned", task.State)
	}
	if task.Attempt != 1 {
		t.Errorf("task attempt = %d, want 1", task.Attempt)
	}

	a := r.Get(id)
	if a.State != models.AgentStateBusy {
		t.Errorf("agent state = %s, want busy", a.State)
	}
	if a.CurrentTaskID != "t1" {
		t.Errorf("agent current task = %q, want t1", a.CurrentTaskID)
	}
}

func TestRegistry_TryAssignRejectsSecondConcurrentAssignment(t *testing.T) {
	r, _ := newTestRegistry(t)
	registerIdle(t, r, "developer", "code_generation")

	first := &models.Task{ID: "t1", State: models.TaskStateReady, RequiredCapabilities: []string{"code_generation"}}
	if _, err := r.TryAssign(first); err != nil {
		t.Fatalf("first TryAssign() error = %v", err)
	}

	second := &models.Task{ID: "t2", State: models.TaskStateReady, RequiredCapabilities: []string{"code_generation"}}
	if _, err := r.TryAssign(second); !errors.Is(err, ErrNoCapableAgent) {
		t.Errorf("second TryAssign() error = %v, want ErrNoCapableAgent", err)
	}
	if second.State != models.TaskStateReady {
		t.Errorf("losing task state = %s, want ready (unchanged)", second.State)
	}
	if second.Attempt != 0 {
		t.Errorf("losing task attempt = %d, want 0", second.Attempt)
	}
}

func TestRegistry_TryAssignFiltersByCapability(t *testing.T) {
	r, _ := newTestRegistry(t)
	registerIdle(t, r, "reviewer", "review")

	task := &models.Task{ID: "t1", State: models.TaskStateReady, RequiredCapabilities: []string{"deployment"}}
	if _, err := r.TryAssign(task); !errors.Is(err, ErrNoCapableAgent) {
		t.Errorf("TryAssign() error = %v, want ErrNoCapableAgent", err)
	}
}

func TestRegistry_TryAssignRequiresReadyTask(t *testing.T) {
	r, _ := newTestRegistry(t)
	registerIdle(t, r, "developer", "code_generation")

	task := &models.Task{ID: "t1", State: models.TaskStatePending, RequiredCapabilities: []string{"code_generation"}}
	if _, err := r.TryAssign(task); err == nil {
		t.Error("TryAssign() on a pending task should fail")
	}
}

func TestRegistry_RoundRobinSelection(t *testing.T) {
	r, _ := newTestRegistry(t)
	a1 := registerIdle(t, r, "developer", "code_generation")
	a2 := registerIdle(t, r, "developer", "code_generation")

	task1 := &models.Task{ID: "t1", State: models.TaskStateReady}
	first, err := r.TryAssign(task1)
	if err != nil {
		t.Fatalf("TryAssign(t1) error = %v", err)
	}

	// Both fresh registrations share a zero LastAssigned; the tiebreak is
	// lexical agent ID ordering, so the winner is deterministic.
	wantFirst := a1
	if a2 < a1 {
		wantFirst = a2
	}
	if first != wantFirst {
		t.Errorf("first assignment went to %s, want %s (ID tiebreak)", first, wantFirst)
	}

	// Return the winner to idle; the other agent is now least recently
	// assigned and must win the next round.
	if err := r.CompleteTask(first); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	task2 := &models.Task{ID: "t2", State: models.TaskStateReady}
	second, err := r.TryAssign(task2)
	if err != nil {
		t.Fatalf("TryAssign(t2) error = %v", err)
	}
	if second == first {
		t.Errorf("second assignment went to %s again, want the other agent", second)
	}
}

func TestRegistry_CompleteTaskReturnsAgentToIdle(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := registerIdle(t, r, "developer", "code_generation")

	task := &models.Task{ID: "t1", State: models.TaskStateReady}
	if _, err := r.TryAssign(task); err != nil {
		t.Fatalf("TryAssign() error = %v", err)
	}
	if err := r.CompleteTask(id); err != nil {
		t.Fatalf("CompleteTask() error = %v", err)
	}

	a := r.Get(id)
	if a.State != models.AgentStateIdle {
		t.Errorf("agent state = %s, want idle", a.State)
	}
	if a.CurrentTaskID != "" {
		t.Errorf("agent current task = %q, want empty", a.CurrentTaskID)
	}
}

func TestRegistry_ExpireStaleReleasesInFlightTask(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := registerIdle(t, r, "developer", "code_generation")

	task := &models.Task{ID: "t1", State: models.TaskStateReady}
	if _, err := r.TryAssign(task); err != nil {
		t.Fatalf("TryAssign() error = %v", err)
	}

	released := r.ExpireStale(time.Now().Add(DefaultHeartbeatTimeout + time.Second))
	if len(released) != 1 || released[0] != "t1" {
		t.Fatalf("ExpireStale() released = %v, want [t1]", released)
	}

	a := r.Get(id)
	if a.State != models.AgentStateOffline {
		t.Errorf("agent state = %s, want offline", a.State)
	}
	if a.CurrentTaskID != "" {
		t.Errorf("agent current task = %q, want empty after release", a.CurrentTaskID)
	}
}

func TestRegistry_OfflineIsTerminal(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := registerIdle(t, r, "developer", "code_generation")

	if _, err := r.Deregister(id); err != nil {
		t.Fatalf("Deregister() error = %v", err)
	}
	if err := r.Heartbeat(id); !errors.Is(err, ErrAgentOffline) {
		t.Errorf("Heartbeat() after deregister error = %v, want ErrAgentOffline", err)
	}
}

func TestRegistry_ExpireStaleSkipsFreshAgents(t *testing.T) {
	r, _ := newTestRegistry(t)
	registerIdle(t, r, "developer", "code_generation")

	released := r.ExpireStale(time.Now())
	if len(released) != 0 {
		t.Errorf("ExpireStale() released = %v, want none", released)
	}
	for _, a := range r.All() {
		if a.State == models.AgentStateOffline {
			t.Errorf("fresh agent %s marked offline", a.ID)
		}
	}
}
