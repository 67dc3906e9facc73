// Package worker runs the agent side of the coordination engine: a pull
// loop that dequeues assigned tasks, executes them through a backend, and
// reports outcomes on the bus. One Worker serves one agent registration.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/workflow"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// Timing defaults for the pull loop.
const (
	// DefaultHeartbeatInterval is the liveness cadence.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultDequeueTimeout bounds one blocking queue poll.
	DefaultDequeueTimeout = 5 * time.Second
	// DefaultTaskTimeout bounds one task attempt; expiry is reported as a
	// timeout failure subject to the retry policy.
	DefaultTaskTimeout = 300 * time.Second
)

// Executor performs the work of one task attempt and returns the result
// payload.
type Executor func(ctx context.Context, task *models.Task) (string, error)

// Heartbeater is the slice of the agent registry a worker needs.
// Satisfied by registry.Registry.
type Heartbeater interface {
	Heartbeat(agentID string) error
}

// Worker pulls tasks from its agent queue and executes them. It heartbeats
// on a fixed cadence and honors best-effort cancellation signals from the
// coordination topic.
type Worker struct {
	// agentID is the registration this worker serves.
	agentID string
	// bus carries the task queue, result reports, and cancel signals.
	bus bus.Bus
	// registry receives heartbeats.
	registry Heartbeater
	// exec performs the actual work.
	exec Executor
	// heartbeatInterval is the liveness cadence.
	heartbeatInterval time.Duration
	// dequeueTimeout bounds one queue poll.
	dequeueTimeout time.Duration
	// taskTimeout bounds one attempt.
	taskTimeout time.Duration

	// currentTaskID is the task being executed, if any.
	currentTaskID string
	// cancelAttempt aborts the in-flight attempt.
	cancelAttempt context.CancelFunc
	// mu protects currentTaskID and cancelAttempt.
	mu sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

// WithHeartbeatInterval overrides the liveness cadence.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.heartbeatInterval = d
		}
	}
}

// WithDequeueTimeout overrides the queue poll bound.
func WithDequeueTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.dequeueTimeout = d
		}
	}
}

// WithTaskTimeout overrides the per-attempt execution bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.taskTimeout = d
		}
	}
}

// New creates a Worker for the given agent registration.
func New(agentID string, b bus.Bus, reg Heartbeater, exec Executor, opts ...Option) *Worker {
	w := &Worker{
		agentID:           agentID,
		bus:               b,
		registry:          reg,
		exec:              exec,
		heartbeatInterval: DefaultHeartbeatInterval,
		dequeueTimeout:    DefaultDequeueTimeout,
		taskTimeout:       DefaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes the pull loop until ctx is done. It spawns the heartbeat
// loop and the cancel-signal watcher, then dequeues and executes tasks one
// at a time.
func (w *Worker) Run(ctx context.Context) error {
	cancels, err := w.bus.Subscribe(ctx, bus.TopicCoordination)
	if err != nil {
		return err
	}
	go w.watchCancels(ctx, cancels)
	go w.heartbeatLoop(ctx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		task, err := w.bus.DequeueTask(ctx, w.agentID, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, bus.ErrBusClosed) {
				return nil
			}
			log.Printf("[worker %s] dequeue: %v", w.agentID, err)
			continue
		}
		if task == nil {
			continue
		}
		w.execute(ctx, task)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.registry.Heartbeat(w.agentID); err != nil {
				log.Printf("[worker %s] heartbeat: %v", w.agentID, err)
			}
		}
	}
}

// watchCancels aborts the in-flight attempt when the orchestrator signals
// cancellation for the current task or its workflow.
func (w *Worker) watchCancels(ctx context.Context, cancels <-chan bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-cancels:
			if !ok {
				return
			}
			if msg.Type != workflow.MsgTypeCancelTask {
				continue
			}
			var sig workflow.CancelSignal
			if err := msg.DecodePayload(&sig); err != nil {
				continue
			}
			w.mu.Lock()
			if w.cancelAttempt != nil && (sig.TaskID == "" || sig.TaskID == w.currentTaskID) {
				log.Printf("[worker %s] abandoning task %s on cancel signal", w.agentID, w.currentTaskID)
				w.cancelAttempt()
			}
			w.mu.Unlock()
		}
	}
}

// execute runs one attempt and reports the outcome. An attempt aborted by a
// cancel signal publishes nothing; the orchestrator has already skipped the
// task.
func (w *Worker) execute(ctx context.Context, task *models.Task) {
	started, err := bus.NewMessage(workflow.MsgTypeTaskStarted, w.agentID, workflow.TaskStarted{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		AgentID:    w.agentID,
		Attempt:    task.Attempt,
	})
	if err == nil {
		if err := w.bus.Publish(ctx, bus.TopicTaskResponse, started); err != nil {
			log.Printf("[worker %s] publish task_started: %v", w.agentID, err)
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	w.mu.Lock()
	w.currentTaskID = task.ID
	w.cancelAttempt = cancel
	w.mu.Unlock()

	result, execErr := w.exec(attemptCtx, task)
	abandoned := attemptCtx.Err() == context.Canceled && ctx.Err() == nil

	w.mu.Lock()
	w.currentTaskID = ""
	w.cancelAttempt = nil
	w.mu.Unlock()
	cancel()

	if abandoned {
		return
	}

	payload := workflow.TaskResult{
		TaskID:     task.ID,
		WorkflowID: task.WorkflowID,
		AgentID:    w.agentID,
		Attempt:    task.Attempt,
	}
	if execErr != nil {
		payload.ErrorKind = classify(attemptCtx, execErr)
		payload.Error = execErr.Error()
		log.Printf("[worker %s] task %s attempt %d failed: %v", w.agentID, task.ID, task.Attempt, execErr)
	} else {
		payload.Success = true
		payload.Result = result
	}

	msg, err := bus.NewMessage(workflow.MsgTypeTaskResult, w.agentID, payload)
	if err != nil {
		log.Printf("[worker %s] encode task_result: %v", w.agentID, err)
		return
	}
	if err := w.bus.Publish(ctx, bus.TopicTaskResponse, msg); err != nil {
		log.Printf("[worker %s] publish task_result: %v", w.agentID, err)
	}
}

// classify maps an execution error onto the failure taxonomy.
func classify(attemptCtx context.Context, err error) models.ErrorKind {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded:
		return models.ErrKindTaskTimeout
	case errors.Is(err, provider.ErrProviderExhausted), errors.Is(err, provider.ErrNoChain):
		return models.ErrKindProviderExhausted
	default:
		return models.ErrKindProviderExhausted
	}
}
