// Package coordinator assembles the coordination engine: the message bus,
// agent registry, budget controller, provider router, and workflow
// orchestrator, wired per configuration. It is the facade the command
// layer and any API surface talk to.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/budget"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/bus"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/config"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/provider"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/registry"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/state"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/worker"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/workflow"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// ErrAlreadyStarted indicates Start was called twice.
var ErrAlreadyStarted = errors.New("coordinator already started")

// Coordinator owns the engine components and the in-process worker pool.
type Coordinator struct {
	cfg *config.Config

	bus      bus.Bus
	registry *registry.Registry
	budget   *budget.Controller
	router   *provider.Router
	orch     *workflow.Orchestrator
	store    *state.Store
	exec     worker.Executor

	// workers maps agent ID to the cancel func of its in-process worker.
	workers map[string]context.CancelFunc
	// runCancel stops everything Start launched.
	runCancel context.CancelFunc
	started   bool
	mu        sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBus overrides the transport chosen from configuration.
func WithBus(b bus.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithRouter overrides the provider router built from configuration.
func WithRouter(r *provider.Router) Option {
	return func(c *Coordinator) { c.router = r }
}

// WithStore attaches an opened persistence store.
func WithStore(s *state.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithExecutor overrides the task executor used by in-process workers.
func WithExecutor(exec worker.Executor) Option {
	return func(c *Coordinator) { c.exec = exec }
}

// New builds a Coordinator from configuration. Components not overridden
// through options are constructed per cfg.
func New(cfg *config.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:     cfg,
		workers: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.bus == nil {
		b, err := buildBus(cfg)
		if err != nil {
			return nil, err
		}
		c.bus = b
	}

	c.registry = registry.New(c.bus, cfg.Agents.HeartbeatTimeout)
	c.budget = budget.New(budget.Config{
		Limit:             cfg.Budget.MonthlyLimitUSD,
		Period:            cfg.Budget.Period,
		StandardThreshold: cfg.Budget.StandardThreshold,
		LocalThreshold:    cfg.Budget.LocalThreshold,
	}, c.bus)

	if c.router == nil {
		c.router = BuildRouter(cfg, c.budget)
	}
	if c.exec == nil {
		c.exec = worker.RouterExecutor(c.router)
	}

	orchOpts := []workflow.Option{
		workflow.WithRetryPolicy(workflow.RetryPolicy{
			Base: cfg.Retry.Base,
			Cap:  cfg.Retry.Cap,
		}),
	}
	if c.store == nil && cfg.State.Enabled {
		s, err := state.Open(cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open state store: %w", err)
		}
		c.store = s
	}
	if c.store != nil {
		orchOpts = append(orchOpts, workflow.WithPersistence(c.store))
	}
	c.orch = workflow.New(c.bus, c.registry, orchOpts...)

	return c, nil
}

// buildBus constructs the transport selected by configuration.
func buildBus(cfg *config.Config) (bus.Bus, error) {
	switch cfg.Bus.Backend {
	case "redis":
		b, err := bus.NewRedisBusFromURL(cfg.Bus.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis bus: %w", err)
		}
		return b, nil
	default:
		return bus.NewInMemoryBus(), nil
	}
}

// Start launches the orchestrator event loop and the heartbeat monitor.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.mu.Unlock()

	if err := c.orch.Start(runCtx); err != nil {
		cancel()
		return err
	}
	go c.registry.Monitor(runCtx, c.cfg.Agents.HeartbeatTimeout/3)

	log.Printf("[coordinator] started (bus=%s, budget=$%.2f/window)",
		c.cfg.Bus.Backend, c.cfg.Budget.MonthlyLimitUSD)
	return nil
}

// Stop halts everything Start launched and releases the transport.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()
	return c.bus.Close()
}

// SubmitWorkflow validates and launches a workflow, returning its ID.
// Tasks that do not set an attempt limit inherit the configured default.
func (c *Coordinator) SubmitWorkflow(ctx context.Context, spec *models.WorkflowSpec) (string, error) {
	if c.cfg.Agents.RetryAttempts > 0 {
		for i := range spec.Tasks {
			if spec.Tasks[i].MaxAttempts == 0 {
				spec.Tasks[i].MaxAttempts = c.cfg.Agents.RetryAttempts
			}
		}
	}
	return c.orch.Submit(ctx, spec)
}

// CancelWorkflow cancels a live workflow.
func (c *Coordinator) CancelWorkflow(ctx context.Context, workflowID string) error {
	return c.orch.Cancel(ctx, workflowID)
}

// Pause suspends new task assignments; in-flight tasks run to completion.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.orch.Pause(ctx)
}

// Resume lifts a pause and dispatches held tasks.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.orch.Resume(ctx)
}

// Workflow returns a snapshot of a live or archived workflow.
func (c *Coordinator) Workflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	return c.orch.Workflow(ctx, workflowID)
}

// RegisterAgent registers an externally-run agent. The caller is expected
// to heartbeat and pull its queue over the bus.
func (c *Coordinator) RegisterAgent(ctx context.Context, desc *models.AgentDescriptor) (string, error) {
	agentID, err := c.registry.Register(desc)
	if err != nil {
		return "", err
	}
	c.persistAgentConfig(ctx, agentID, desc)
	return agentID, nil
}

// SpawnAgent registers an agent and runs its pull loop in-process. The
// worker heartbeats on the configured cadence until the coordinator stops
// or the agent is deregistered.
func (c *Coordinator) SpawnAgent(ctx context.Context, desc *models.AgentDescriptor) (string, error) {
	agentID, err := c.registry.Register(desc)
	if err != nil {
		return "", err
	}
	c.persistAgentConfig(ctx, agentID, desc)

	// First heartbeat moves the registration to idle immediately.
	if err := c.registry.Heartbeat(agentID); err != nil {
		return "", err
	}

	w := worker.New(agentID, c.bus, c.registry, c.exec,
		worker.WithHeartbeatInterval(c.cfg.Agents.HeartbeatInterval),
		worker.WithTaskTimeout(c.cfg.Agents.TaskTimeout),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.workers[agentID] = cancel
	c.mu.Unlock()

	go func() {
		if err := w.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[coordinator] worker %s exited: %v", agentID, err)
		}
	}()

	return agentID, nil
}

// Heartbeat records liveness for an externally-run agent.
func (c *Coordinator) Heartbeat(agentID string) error {
	return c.registry.Heartbeat(agentID)
}

// DeregisterAgent stops the agent's in-process worker, if any, and marks
// the registration offline. A released in-flight task is requeued by the
// orchestrator through the status event.
func (c *Coordinator) DeregisterAgent(agentID string) error {
	c.mu.Lock()
	if cancel, ok := c.workers[agentID]; ok {
		cancel()
		delete(c.workers, agentID)
	}
	c.mu.Unlock()

	_, err := c.registry.Deregister(agentID)
	return err
}

// Agents returns copies of all agent registrations.
func (c *Coordinator) Agents() []*models.Agent {
	return c.registry.All()
}

// BudgetUsage reports the current window's consumption.
func (c *Coordinator) BudgetUsage() (consumed, limit, ratio float64) {
	return c.budget.Usage()
}

// Bus exposes the transport for external subscribers such as an API layer.
func (c *Coordinator) Bus() bus.Bus {
	return c.bus
}

// persistAgentConfig writes the descriptor through to the optional store.
func (c *Coordinator) persistAgentConfig(ctx context.Context, agentID string, desc *models.AgentDescriptor) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveAgentConfig(ctx, agentID, desc); err != nil {
		log.Printf("[coordinator] persist agent config %s: %v", agentID, err)
	}
}

// BuildRouter constructs the tier fallback chains from configuration. The
// premium chain falls back to the standard provider, and every tier can
// degrade to the local model through the router's tier walk.
func BuildRouter(cfg *config.Config, budgetCtl *budget.Controller) *provider.Router {
	localClient := newLocalClient(cfg)
	anthropicClient := newAnthropicClient(cfg)
	openaiClient := newOpenAIClient(cfg)

	chains := map[models.Tier][]provider.Client{
		models.TierPremium:  {anthropicClient, openaiClient},
		models.TierStandard: {openaiClient},
		models.TierLocal:    {localClient},
	}

	return provider.NewRouter(chains, budgetCtl,
		provider.WithCallTimeout(cfg.Provider.CallTimeout),
		provider.WithBreakerConfig(provider.BreakerConfig{
			FailureThreshold: cfg.Provider.BreakerFailures,
			Cooldown:         cfg.Provider.BreakerCooldown,
			MaxCooldown:      cfg.Provider.BreakerMaxCooldown,
		}),
	)
}
