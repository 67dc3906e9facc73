package main

import (
	"context"
	"testing"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/config"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/coordinator"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// An interrupt must cancel the workflow and still report its final state.
// That only works because the engine runs on its own context: with the event
// loop tied to the signal context, the cancel would never be processed.
func TestWaitForWorkflowInterruptCancels(t *testing.T) {
	cfg := config.Default()
	cfg.State.Enabled = false
	coord, err := coordinator.New(cfg,
		coordinator.WithBus(bus.NewInMemoryBus()),
		coordinator.WithExecutor(func(ctx context.Context, task *models.Task) (string, error) {
			return "done", nil
		}),
	)
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}

	engineCtx, engineStop := context.WithCancel(context.Background())
	defer engineStop()
	if err := coord.Start(engineCtx); err != nil {
		t.Fatalf("start coordinator: %v", err)
	}
	defer coord.Stop()

	// No agent covers the capability, so the task sits in Ready until the
	// workflow is cancelled.
	id, err := coord.SubmitWorkflow(context.Background(), &models.WorkflowSpec{
		Tasks: []models.TaskSpec{
			{Name: "a", Type: "a", RequiredCapabilities: []string{"uncovered"}},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The interrupt context is already done, as after a Ctrl-C.
	interruptCtx, interrupt := context.WithCancel(context.Background())
	interrupt()

	var wf *models.Workflow
	var waitErr error
	done := make(chan struct{})
	go func() {
		wf, waitErr = waitForWorkflow(interruptCtx, coord, nil, id)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waitForWorkflow did not return after interrupt")
	}
	if waitErr != nil {
		t.Fatalf("waitForWorkflow: %v", waitErr)
	}
	if wf.State != models.WorkflowCancelled {
		t.Fatalf("state = %s, want %s", wf.State, models.WorkflowCancelled)
	}
}
