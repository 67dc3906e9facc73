package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/config"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/control"
	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/coordinator"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

// runFile is the YAML document accepted by `madev run`. It declares the
// agent pool to spawn and the workflow to execute.
type runFile struct {
	Agents   []models.AgentDescriptor `yaml:"agents"`
	Workflow models.WorkflowSpec      `yaml:"workflow"`
}

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Run a workflow file to completion",
	Long: `Run a workflow described in a YAML file.

The file declares the agents to spawn and the workflow to execute:

  agents:
    - role: coder
      capabilities: [code_generation, refactor]
    - role: reviewer
      capabilities: [review]
  workflow:
    mode: dag
    tasks:
      - name: generate
        type: code_generation
        description: Implement the parser
        required_capabilities: [code_generation]
      - name: review
        type: review
        depends_on: [generate]
        required_capabilities: [review]

The command blocks until the workflow reaches a terminal state and
prints a per-task summary. Ctrl-C cancels the workflow before exiting.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read workflow file: %w", err)
	}
	var rf runFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse workflow file: %w", err)
	}
	if len(rf.Agents) == 0 {
		return fmt.Errorf("workflow file declares no agents")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The engine outlives the interrupt: a Ctrl-C must leave the event loop
	// running so the workflow can be cancelled and settle before exit.
	engineCtx, engineStop := context.WithCancel(context.Background())
	defer engineStop()

	coord, err := coordinator.New(cfg)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	defer coord.Stop()
	if err := coord.Start(engineCtx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	var watcher *control.Watcher
	if cfg.Control.Dir != "" {
		watcher, err = control.New(cfg.Control.Dir, control.Handlers{
			OnCancel: func(workflowID string) {
				coord.CancelWorkflow(context.Background(), workflowID)
			},
			OnPause:  func() { coord.Pause(context.Background()) },
			OnResume: func() { coord.Resume(context.Background()) },
		})
		if err != nil {
			return fmt.Errorf("start control watcher: %w", err)
		}
		defer watcher.Close()
	}

	for i := range rf.Agents {
		agentID, err := coord.SpawnAgent(engineCtx, &rf.Agents[i])
		if err != nil {
			return fmt.Errorf("spawn %s agent: %w", rf.Agents[i].Role, err)
		}
		fmt.Printf("Spawned %s agent %s\n", rf.Agents[i].Role, agentID)
	}

	workflowID, err := coord.SubmitWorkflow(ctx, &rf.Workflow)
	if err != nil {
		return fmt.Errorf("submit workflow: %w", err)
	}
	fmt.Printf("Workflow %s submitted (%d tasks)\n", workflowID, len(rf.Workflow.Tasks))

	wf, err := waitForWorkflow(ctx, coord, watcher, workflowID)
	if err != nil {
		return err
	}

	printSummary(wf)
	if wf.State != models.WorkflowSucceeded {
		return fmt.Errorf("workflow finished %s", wf.State)
	}
	return nil
}

// waitForWorkflow blocks until the workflow reaches a terminal state. An
// interrupt or a shutdown signal file cancels the workflow first, then
// waits for the cancellation to settle.
func waitForWorkflow(ctx context.Context, coord *coordinator.Coordinator, watcher *control.Watcher, workflowID string) (*models.Workflow, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	cancelling := false
	for {
		wf, err := coord.Workflow(context.Background(), workflowID)
		if err != nil {
			return nil, fmt.Errorf("query workflow: %w", err)
		}
		if wf.State.Terminal() {
			return wf, nil
		}

		interrupted := ctx.Err() != nil || (watcher != nil && watcher.ShouldShutdown())
		if interrupted && !cancelling {
			fmt.Println("Cancelling workflow...")
			if err := coord.CancelWorkflow(context.Background(), workflowID); err != nil {
				fmt.Fprintf(os.Stderr, "cancel workflow: %v\n", err)
			}
			cancelling = true
		}

		<-ticker.C
	}
}

func printSummary(wf *models.Workflow) {
	fmt.Printf("\nWorkflow %s: %s\n", wf.ID, wf.State)
	for _, task := range wf.Tasks {
		line := fmt.Sprintf("  %-20s %-10s attempt %d/%d", task.Type, task.State, task.Attempt, task.EffectiveMaxAttempts())
		if task.AssignedAgent != "" {
			line += "  agent " + task.AssignedAgent
		}
		if task.Error != "" {
			line += fmt.Sprintf("  (%s: %s)", task.ErrorKind, task.Error)
		}
		fmt.Println(line)
	}
}

// loadConfig loads configuration, honoring the --config override.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}
