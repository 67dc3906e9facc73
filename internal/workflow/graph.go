package workflow

import (
	"errors"
	"fmt"

	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "blocked by" relationships.
type DependencyGraph struct {
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on (is blocked by).
	edges map[string][]string
}

// NewDependencyGraph creates a new empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*models.Task),
		edges: make(map[string][]string),
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Returns an error if a cycle is detected or dependencies reference unknown tasks.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.HasCycle() {
		return ErrCycleDetected
	}

	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int)
	for id := range g.nodes {
		colors[id] = 0
	}

	var hasCycle bool
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Found a back edge.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 {
			if visit(id) {
				hasCycle = true
				break
			}
		}
	}

	return hasCycle
}

// Ready returns tasks currently in Pending whose dependencies have all
// reached Succeeded. These can be scheduled in parallel.
func (g *DependencyGraph) Ready() []*models.Task {
	var ready []*models.Task

	for id, task := range g.nodes {
		if task.State != models.TaskStatePending {
			continue
		}

		allDepsSucceeded := true
		for _, depID := range g.edges[id] {
			dep, exists := g.nodes[depID]
			if !exists || dep.State != models.TaskStateSucceeded {
				allDepsSucceeded = false
				break
			}
		}

		if allDepsSucceeded {
			ready = append(ready, task)
		}
	}

	return ready
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	return g.nodes[taskID]
}

// Tasks returns every task in the graph.
func (g *DependencyGraph) Tasks() []*models.Task {
	out := make([]*models.Task, 0, len(g.nodes))
	for _, task := range g.nodes {
		out = append(out, task)
	}
	return out
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	return g.edges[taskID]
}

// Dependents returns the IDs of tasks that directly depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns the IDs of every task reachable from the
// given task by following dependency edges forward. Used to propagate a
// failure to the whole downstream subtree.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	seen := make(map[string]bool)
	var out []string

	var visit func(id string)
	visit = func(id string) {
		for _, dep := range g.Dependents(id) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			out = append(out, dep)
			visit(dep)
		}
	}
	visit(taskID)

	return out
}
