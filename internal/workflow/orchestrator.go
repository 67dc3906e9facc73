// Package workflow builds task DAGs from workflow specs and drives them to
// completion. The orchestrator is the sole writer of task state; every
// transition for a given task is totally ordered because all mutations run
// on a single event loop.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/registry"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// ErrUnknownWorkflow indicates an operation referenced a workflow the
// orchestrator is not tracking.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// maxArchived bounds how many completed workflows are kept for inspection.
const maxArchived = 100

// AgentPool is the slice of the agent registry the orchestrator needs.
// Satisfied by registry.Registry.
type AgentPool interface {
	// TryAssign atomically matches a ready task with an idle capable
	// agent. Returns registry.ErrNoCapableAgent when none qualifies.
	TryAssign(task *models.Task) (string, error)
	// CompleteTask returns a busy agent to idle.
	CompleteTask(agentID string) error
}

// Persistence is the optional write-through store for task results. Saves
// are best-effort; a persistence failure never blocks in-memory progress.
type Persistence interface {
	SaveTaskResult(ctx context.Context, task *models.Task) error
}

// run is one live workflow with its dependency graph.
type run struct {
	wf        *models.Workflow
	graph     *DependencyGraph
	cancelled bool
	timer     *time.Timer
	// backoff holds task IDs waiting out a retry delay. They look promotable
	// to the graph but only their retry timer may re-Ready them.
	backoff map[string]struct{}
}

// Orchestrator reacts to completion and failure events on the bus and
// advances workflow DAGs: promoting tasks whose dependencies succeeded,
// assigning them to agents, retrying transient failures with backoff, and
// propagating terminal failures forward as skips.
type Orchestrator struct {
	// bus carries task queues, result events, and outbound notifications.
	bus bus.Bus
	// agents matches ready tasks with idle agents.
	agents AgentPool
	// store is the optional write-through persistence adapter; may be nil.
	store Persistence
	// retry controls backoff between attempts.
	retry RetryPolicy
	// runs maps workflow ID to its live run.
	runs map[string]*run
	// archived holds terminal workflows for later inspection, bounded to
	// the most recent maxArchived.
	archived map[string]*models.Workflow
	// archiveOrder tracks archive insertion order for eviction.
	archiveOrder []string
	// paused suspends new assignments while in-flight work continues.
	paused bool
	// taskRuns maps task ID to the run that owns it.
	taskRuns map[string]*run
	// cmds serializes all state mutations onto the event loop.
	cmds chan func()
	// stopped closes when the event loop exits.
	stopped chan struct{}
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPersistence attaches a write-through result store.
func WithPersistence(p Persistence) Option {
	return func(o *Orchestrator) { o.store = p }
}

// WithRetryPolicy overrides the backoff parameters.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

// WithClock replaces the orchestrator's clock. Test hook.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator over the given bus and agent pool.
func New(b bus.Bus, agents AgentPool, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:      b,
		agents:   agents,
		retry:    DefaultRetryPolicy(),
		runs:     make(map[string]*run),
		archived: make(map[string]*models.Workflow),
		taskRuns: make(map[string]*run),
		cmds:     make(chan func(), 64),
		stopped:  make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start subscribes to the result and status topics and launches the event
// loop. The loop runs until ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	results, err := o.bus.Subscribe(ctx, bus.TopicTaskResponse)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicTaskResponse, err)
	}
	statuses, err := o.bus.Subscribe(ctx, bus.TopicAgentStatus)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.TopicAgentStatus, err)
	}
	go o.loop(ctx, results, statuses)
	return nil
}

// Done returns a channel closed when the event loop exits.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.stopped
}

func (o *Orchestrator) loop(ctx context.Context, results, statuses <-chan bus.Message) {
	defer close(o.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-o.cmds:
			fn()
		case msg, ok := <-results:
			if !ok {
				return
			}
			o.handleResponse(ctx, msg)
		case msg, ok := <-statuses:
			if !ok {
				return
			}
			o.handleStatus(ctx, msg)
		}
	}
}

// do posts fn to the event loop and waits for it to run.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return errors.New("orchestrator stopped")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.stopped:
		return errors.New("orchestrator stopped")
	}
}

// post hands fn to the event loop without waiting for it. Drops the command
// if the loop has exited, so timer callbacks never block after shutdown.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.cmds <- fn:
	case <-o.stopped:
	}
}

// Submit validates and expands a workflow spec, installs the DAG, and
// schedules its initially ready tasks. Malformed specs and dependency
// cycles are rejected synchronously and never enter the DAG.
func (o *Orchestrator) Submit(ctx context.Context, spec *models.WorkflowSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	wf, tasks := Expand(spec, o.now())
	graph := NewDependencyGraph()
	if err := graph.Build(tasks); err != nil {
		return "", &models.ValidationError{Field: "tasks", Reason: err.Error()}
	}

	r := &run{wf: wf, graph: graph, backoff: make(map[string]struct{})}
	err := o.do(ctx, func() {
		o.runs[wf.ID] = r
		for _, t := range tasks {
			o.taskRuns[t.ID] = r
		}
		if wf.Timeout > 0 {
			r.timer = time.AfterFunc(wf.Timeout, func() {
				o.post(func() {
					if live, ok := o.runs[wf.ID]; ok {
						log.Printf("[orchestrator] workflow %s timed out after %s, cancelling", wf.ID, wf.Timeout)
						o.cancelRun(context.Background(), live)
					}
				})
			})
		}
		log.Printf("[orchestrator] workflow %s submitted: %d tasks, mode %s", wf.ID, len(tasks), wf.Mode)
		o.promote(ctx, r)
	})
	if err != nil {
		return "", err
	}
	return wf.ID, nil
}

// Cancel transitions every non-terminal task of the workflow to Skipped and
// signals assigned agents to abandon work. Best-effort; the orchestrator
// does not wait for agent acknowledgment.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	var opErr error
	err := o.do(ctx, func() {
		r, ok := o.runs[workflowID]
		if !ok {
			opErr = fmt.Errorf("cancel %s: %w", workflowID, ErrUnknownWorkflow)
			return
		}
		o.cancelRun(ctx, r)
	})
	if err != nil {
		return err
	}
	return opErr
}

// Pause suspends new task assignments. In-flight tasks run to completion;
// tasks turning Ready accumulate until Resume.
func (o *Orchestrator) Pause(ctx context.Context) error {
	return o.do(ctx, func() {
		if !o.paused {
			o.paused = true
			log.Printf("[orchestrator] paused, holding ready tasks")
		}
	})
}

// Resume lifts a pause and dispatches every held ready task.
func (o *Orchestrator) Resume(ctx context.Context) error {
	return o.do(ctx, func() {
		if !o.paused {
			return
		}
		o.paused = false
		log.Printf("[orchestrator] resumed")
		o.dispatchReady(ctx)
	})
}

// Workflow returns a snapshot of the workflow, live or archived.
func (o *Orchestrator) Workflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var snap *models.Workflow
	err := o.do(ctx, func() {
		if r, ok := o.runs[workflowID]; ok {
			snap = snapshotWorkflow(r.wf)
			return
		}
		if wf, ok := o.archived[workflowID]; ok {
			snap = snapshotWorkflow(wf)
		}
	})
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, ErrUnknownWorkflow
	}
	return snap, nil
}

func snapshotWorkflow(wf *models.Workflow) *models.Workflow {
	cp := *wf
	cp.Tasks = make([]*models.Task, len(wf.Tasks))
	for i, t := range wf.Tasks {
		tc := *t
		cp.Tasks[i] = &tc
	}
	return &cp
}

// handleResponse processes worker traffic from the task_response topic.
func (o *Orchestrator) handleResponse(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case MsgTypeTaskStarted:
		var started TaskStarted
		if err := msg.DecodePayload(&started); err != nil {
			log.Printf("[orchestrator] bad task_started payload: %v", err)
			return
		}
		o.handleStarted(ctx, started)
	case MsgTypeTaskResult:
		var result TaskResult
		if err := msg.DecodePayload(&result); err != nil {
			log.Printf("[orchestrator] bad task_result payload: %v", err)
			return
		}
		o.handleResult(ctx, result)
	}
}

func (o *Orchestrator) handleStarted(ctx context.Context, started TaskStarted) {
	r, ok := o.taskRuns[started.TaskID]
	if !ok {
		return
	}
	task := r.graph.Task(started.TaskID)
	if task == nil || task.State != models.TaskStateAssigned || task.Attempt != started.Attempt {
		return
	}
	o.setTaskState(ctx, r, task, models.TaskStateRunning, "", "")
}

func (o *Orchestrator) handleResult(ctx context.Context, result TaskResult) {
	r, ok := o.taskRuns[result.TaskID]
	if !ok {
		return
	}
	task := r.graph.Task(result.TaskID)
	if task == nil || task.State.Terminal() {
		// Duplicate delivery after a terminal transition.
		return
	}
	if task.Attempt != result.Attempt {
		// Stale result from a superseded attempt.
		return
	}
	if task.State != models.TaskStateAssigned && task.State != models.TaskStateRunning {
		return
	}

	if result.AgentID != "" {
		if err := o.agents.CompleteTask(result.AgentID); err != nil {
			log.Printf("[orchestrator] release agent %s: %v", result.AgentID, err)
		}
	}

	if result.Success {
		task.Result = result.Result
		o.setTaskState(ctx, r, task, models.TaskStateSucceeded, "", "")
		o.persist(ctx, task)
		o.promote(ctx, r)
		o.checkDone(ctx, r)
		return
	}

	o.handleFailure(ctx, r, task, result.ErrorKind, result.Error)
}

// handleFailure applies the retry policy: transient failures below the
// attempt limit back off and re-enter Ready; everything else is terminal.
func (o *Orchestrator) handleFailure(ctx context.Context, r *run, task *models.Task, kind models.ErrorKind, detail string) {
	if kind.Transient() && task.Attempt < task.EffectiveMaxAttempts() {
		delay := o.retry.Delay(task.Attempt)
		log.Printf("[orchestrator] task %s attempt %d/%d failed (%s), retrying in %s",
			task.ID, task.Attempt, task.EffectiveMaxAttempts(), kind, delay)
		task.AssignedAgent = ""
		o.setTaskState(ctx, r, task, models.TaskStatePending, kind, detail)
		r.backoff[task.ID] = struct{}{}
		taskID := task.ID
		time.AfterFunc(delay, func() {
			o.post(func() { o.retryTask(context.Background(), taskID) })
		})
		return
	}

	o.failTask(ctx, r, task, kind, detail)
}

// retryTask moves a backed-off task to Ready and dispatches it, unless the
// workflow was cancelled or the task was skipped in the meantime.
func (o *Orchestrator) retryTask(ctx context.Context, taskID string) {
	r, ok := o.taskRuns[taskID]
	if !ok || r.cancelled {
		return
	}
	delete(r.backoff, taskID)
	task := r.graph.Task(taskID)
	if task == nil || task.State != models.TaskStatePending {
		return
	}
	o.setTaskState(ctx, r, task, models.TaskStateReady, "", "")
	o.dispatch(ctx, r, task)
}

// failTask marks the task Failed, persists it, skips its downstream
// subtree, and re-derives the workflow state.
func (o *Orchestrator) failTask(ctx context.Context, r *run, task *models.Task, kind models.ErrorKind, detail string) {
	task.ErrorKind = kind
	task.Error = detail
	o.setTaskState(ctx, r, task, models.TaskStateFailed, kind, detail)
	o.persist(ctx, task)
	log.Printf("[orchestrator] task %s failed terminally after %d attempts: %s", task.ID, task.Attempt, detail)

	o.skipDependents(ctx, r, task)
	o.checkDone(ctx, r)
}

// skipDependents propagates a failure forward: every non-terminal task
// downstream of the failed one is skipped and never retried.
func (o *Orchestrator) skipDependents(ctx context.Context, r *run, failed *models.Task) {
	for _, depID := range r.graph.TransitiveDependents(failed.ID) {
		dep := r.graph.Task(depID)
		if dep == nil || dep.State.Terminal() {
			continue
		}
		dep.ErrorKind = models.ErrKindDependencyFailed
		dep.Error = fmt.Sprintf("dependency %s failed", failed.ID)
		o.setTaskState(ctx, r, dep, models.TaskStateSkipped, models.ErrKindDependencyFailed, dep.Error)
	}
}

// handleStatus reacts to agent lifecycle events: released in-flight tasks
// go back to Ready, and a newly idle agent triggers a dispatch sweep.
func (o *Orchestrator) handleStatus(ctx context.Context, msg bus.Message) {
	if msg.Type != registry.MsgTypeStatusChanged {
		return
	}
	var change registry.StatusChange
	if err := msg.DecodePayload(&change); err != nil {
		log.Printf("[orchestrator] bad agent_status payload: %v", err)
		return
	}

	if change.ReleasedTaskID != "" {
		if r, ok := o.taskRuns[change.ReleasedTaskID]; ok {
			task := r.graph.Task(change.ReleasedTaskID)
			if task != nil && !task.State.Terminal() && !r.cancelled {
				task.AssignedAgent = ""
				if task.Attempt >= task.EffectiveMaxAttempts() {
					log.Printf("[orchestrator] task %s released by offline agent %s with no attempts left, failing", task.ID, change.AgentID)
					o.failTask(ctx, r, task, models.ErrKindAgentUnavailable, "agent went offline with no attempts remaining")
				} else {
					log.Printf("[orchestrator] task %s released by offline agent %s, requeueing", task.ID, change.AgentID)
					o.setTaskState(ctx, r, task, models.TaskStateReady, "", "")
					o.dispatch(ctx, r, task)
				}
			}
		}
	}

	if change.NewState == models.AgentStateIdle {
		o.dispatchReady(ctx)
	}
}

// promote moves every task whose dependencies have all succeeded from
// Pending to Ready and dispatches it.
func (o *Orchestrator) promote(ctx context.Context, r *run) {
	if r.cancelled {
		return
	}
	for _, task := range r.graph.Ready() {
		if _, waiting := r.backoff[task.ID]; waiting {
			continue
		}
		o.setTaskState(ctx, r, task, models.TaskStateReady, "", "")
		o.dispatch(ctx, r, task)
	}
}

// dispatch hands a ready task to an idle capable agent, or completes it
// directly if it is an implicit join. A task with no available agent stays
// Ready and is retried on the next idle transition.
func (o *Orchestrator) dispatch(ctx context.Context, r *run, task *models.Task) {
	if r.cancelled || task.State != models.TaskStateReady {
		return
	}

	if task.Type == TaskTypeJoin {
		o.setTaskState(ctx, r, task, models.TaskStateSucceeded, "", "")
		o.promote(ctx, r)
		o.checkDone(ctx, r)
		return
	}

	if o.paused {
		return
	}

	agentID, err := o.agents.TryAssign(task)
	if err != nil {
		if errors.Is(err, registry.ErrNoCapableAgent) {
			log.Printf("[orchestrator] no capable idle agent for task %s, waiting", task.ID)
			return
		}
		log.Printf("[orchestrator] assign task %s: %v", task.ID, err)
		return
	}

	// TryAssign moved the task to Assigned; announce it and enqueue.
	o.publishTaskEvent(ctx, r, task, models.TaskStateReady, models.TaskStateAssigned, "", "")
	taskCopy := *task
	if err := o.bus.EnqueueTask(ctx, agentID, &taskCopy); err != nil {
		log.Printf("[orchestrator] enqueue task %s for agent %s: %v", task.ID, agentID, err)
	}
}

// dispatchReady sweeps all live runs for unassigned ready tasks.
func (o *Orchestrator) dispatchReady(ctx context.Context) {
	for _, r := range o.runs {
		if r.cancelled {
			continue
		}
		for _, task := range r.graph.Tasks() {
			if task.State == models.TaskStateReady {
				o.dispatch(ctx, r, task)
			}
		}
	}
}

// cancelRun skips every non-terminal task and signals assigned agents.
func (o *Orchestrator) cancelRun(ctx context.Context, r *run) {
	if r.cancelled {
		return
	}
	r.cancelled = true

	for _, task := range r.graph.Tasks() {
		if task.State.Terminal() {
			continue
		}
		if task.AssignedAgent != "" {
			o.signalCancel(ctx, r.wf.ID, task)
			if err := o.agents.CompleteTask(task.AssignedAgent); err != nil {
				log.Printf("[orchestrator] release agent %s on cancel: %v", task.AssignedAgent, err)
			}
		}
		o.setTaskState(ctx, r, task, models.TaskStateSkipped, "", "workflow cancelled")
	}
	o.checkDone(ctx, r)
}

// signalCancel tells the assigned agent to abandon the task. Fire-and-forget.
func (o *Orchestrator) signalCancel(ctx context.Context, workflowID string, task *models.Task) {
	msg, err := bus.NewMessage(MsgTypeCancelTask, "orchestrator", CancelSignal{
		WorkflowID: workflowID,
		TaskID:     task.ID,
		AgentID:    task.AssignedAgent,
	})
	if err != nil {
		return
	}
	msg.RecipientID = task.AssignedAgent
	if err := o.bus.Publish(ctx, bus.TopicCoordination, msg); err != nil {
		log.Printf("[orchestrator] publish cancel for task %s: %v", task.ID, err)
	}
}

// checkDone derives the workflow's terminal state once every task is
// terminal. The state is always derived from task states, never set
// independently.
func (o *Orchestrator) checkDone(ctx context.Context, r *run) {
	if r.wf.State.Terminal() {
		return
	}
	for _, task := range r.graph.Tasks() {
		if !task.State.Terminal() {
			return
		}
	}

	final := deriveState(r)
	now := o.now()
	r.wf.State = final
	r.wf.CompletedAt = &now
	if r.timer != nil {
		r.timer.Stop()
	}

	delete(o.runs, r.wf.ID)
	for _, task := range r.graph.Tasks() {
		delete(o.taskRuns, task.ID)
	}
	o.archived[r.wf.ID] = r.wf
	o.archiveOrder = append(o.archiveOrder, r.wf.ID)
	for len(o.archiveOrder) > maxArchived {
		delete(o.archived, o.archiveOrder[0])
		o.archiveOrder = o.archiveOrder[1:]
	}

	log.Printf("[orchestrator] workflow %s completed: %s", r.wf.ID, final)
	msg, err := bus.NewMessage(MsgTypeWorkflowCompleted, "orchestrator", WorkflowCompleted{
		WorkflowID: r.wf.ID,
		FinalState: final,
	})
	if err == nil {
		if err := o.bus.Publish(ctx, bus.TopicTaskUpdate, msg); err != nil {
			log.Printf("[orchestrator] publish workflow_completed: %v", err)
		}
	}
}

// deriveState folds task terminal states into the workflow terminal state.
// A critical failure with surviving succeeded branches is a partial
// failure; with none it fails the workflow. Failures confined to
// non-critical tasks leave the workflow succeeded.
func deriveState(r *run) models.WorkflowState {
	if r.cancelled {
		return models.WorkflowCancelled
	}
	criticalFailed := false
	anySucceeded := false
	for _, task := range r.graph.Tasks() {
		switch task.State {
		case models.TaskStateFailed:
			if !task.NonCritical {
				criticalFailed = true
			}
		case models.TaskStateSucceeded:
			anySucceeded = true
		}
	}
	if criticalFailed {
		if anySucceeded {
			return models.WorkflowPartiallyFailed
		}
		return models.WorkflowFailed
	}
	return models.WorkflowSucceeded
}

// setTaskState applies a transition and publishes the corresponding event.
func (o *Orchestrator) setTaskState(ctx context.Context, r *run, task *models.Task, next models.TaskState, kind models.ErrorKind, detail string) {
	old := task.State
	task.State = next
	if next.Terminal() {
		now := o.now()
		task.CompletedAt = &now
	}
	o.publishTaskEvent(ctx, r, task, old, next, kind, detail)
}

func (o *Orchestrator) publishTaskEvent(ctx context.Context, r *run, task *models.Task, old, next models.TaskState, kind models.ErrorKind, detail string) {
	msg, err := bus.NewMessage(MsgTypeTaskStateChanged, "orchestrator", TaskStateChanged{
		TaskID:     task.ID,
		WorkflowID: r.wf.ID,
		OldState:   old,
		NewState:   next,
		ErrorKind:  kind,
		Error:      detail,
	})
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, bus.TopicTaskUpdate, msg); err != nil {
		log.Printf("[orchestrator] publish task_state_changed for %s: %v", task.ID, err)
	}
}

// persist writes the task through to the optional store. Failures are
// logged and never block in-memory progress.
func (o *Orchestrator) persist(ctx context.Context, task *models.Task) {
	if o.store == nil {
		return
	}
	cp := *task
	if err := o.store.SaveTaskResult(ctx, &cp); err != nil {
		log.Printf("[orchestrator] persist task %s: %v", task.ID, err)
	}
}
