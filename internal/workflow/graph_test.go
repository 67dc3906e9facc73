package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, DependsOn: deps, State: models.TaskStatePending}
}

func TestBuildRejectsUnknownDependency(t *testing.T) {
	g := NewDependencyGraph()
	err := g.Build([]*models.Task{task("a", "ghost")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestBuildRejectsCycle(t *testing.T) {
	g := NewDependencyGraph()
	err := g.Build([]*models.Task{
		task("a", "c"),
		task("b", "a"),
		task("c", "b"),
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestReadyRequiresSucceededDependencies(t *testing.T) {
	a := task("a")
	b := task("b", "a")
	c := task("c", "a", "b")
	g := NewDependencyGraph()
	if err := g.Build([]*models.Task{a, b, c}); err != nil {
		t.Fatalf("build: %v", err)
	}

	ready := g.Ready()
	if len(ready) != 1 || ready[0].ID != "a" {
		t.Fatalf("expected only a ready, got %v", ids(ready))
	}

	a.State = models.TaskStateSucceeded
	ready = g.Ready()
	if len(ready) != 1 || ready[0].ID != "b" {
		t.Fatalf("expected only b ready after a succeeded, got %v", ids(ready))
	}

	b.State = models.TaskStateSucceeded
	ready = g.Ready()
	if len(ready) != 1 || ready[0].ID != "c" {
		t.Fatalf("expected only c ready after a and b succeeded, got %v", ids(ready))
	}
}

func TestReadySkipsNonPendingTasks(t *testing.T) {
	a := task("a")
	a.State = models.TaskStateReady
	g := NewDependencyGraph()
	if err := g.Build([]*models.Task{a}); err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := g.Ready(); len(got) != 0 {
		t.Fatalf("expected no ready tasks, got %v", ids(got))
	}
}

func TestTransitiveDependents(t *testing.T) {
	g := NewDependencyGraph()
	err := g.Build([]*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "b"),
		task("d", "a"),
		task("e"),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	got := g.TransitiveDependents("a")
	want := map[string]bool{"b": true, "c": true, "d": true}
	if len(got) != len(want) {
		t.Fatalf("expected %d dependents, got %v", len(want), got)
	}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected dependent %s", id)
		}
	}
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestExpandSequentialChainsTasks(t *testing.T) {
	spec := &models.WorkflowSpec{
		Mode: models.ModeSequential,
		Tasks: []models.TaskSpec{
			{Name: "a", Type: "code_generation"},
			{Name: "b", Type: "review"},
			{Name: "c", Type: "testing"},
		},
	}
	_, tasks := Expand(spec, time.Now())
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if len(tasks[0].DependsOn) != 0 {
		t.Errorf("first task should have no dependencies")
	}
	for i := 1; i < 3; i++ {
		if len(tasks[i].DependsOn) != 1 || tasks[i].DependsOn[0] != tasks[i-1].ID {
			t.Errorf("task %d should depend on task %d", i, i-1)
		}
	}
}

func TestExpandParallelAppendsJoin(t *testing.T) {
	spec := &models.WorkflowSpec{
		Mode: models.ModeParallel,
		Tasks: []models.TaskSpec{
			{Name: "x", Type: "testing"},
			{Name: "y", Type: "testing"},
		},
	}
	_, tasks := Expand(spec, time.Now())
	if len(tasks) != 3 {
		t.Fatalf("expected 2 tasks plus join, got %d", len(tasks))
	}
	join := tasks[2]
	if join.Type != TaskTypeJoin {
		t.Fatalf("expected join task type, got %s", join.Type)
	}
	if len(join.DependsOn) != 2 {
		t.Fatalf("join should depend on both tasks, got %v", join.DependsOn)
	}
	for i := 0; i < 2; i++ {
		if len(tasks[i].DependsOn) != 0 {
			t.Errorf("parallel task %d should have no dependencies", i)
		}
	}
}

func TestExpandDAGResolvesNamesToIDs(t *testing.T) {
	spec := &models.WorkflowSpec{
		Mode: models.ModeDAG,
		Tasks: []models.TaskSpec{
			{Name: "build", Type: "code_generation"},
			{Name: "test", Type: "testing", DependsOn: []string{"build"}},
		},
	}
	_, tasks := Expand(spec, time.Now())
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Fatalf("expected test to depend on build's ID, got %v", tasks[1].DependsOn)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{Base: 5 * time.Second, Cap: 60 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
		{5, 60 * time.Second},
		{6, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
