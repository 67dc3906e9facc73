package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/state"
	"github.com/sec0304qqcc/Multi-Agent-Dev/pkg/models"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status [workflow-id]",
	Short: "Show persisted task results",
	Long: `Display task results from the persistence store.

Without arguments, shows the most recently completed tasks across all
workflows. With a workflow ID, shows every saved task for that workflow.

Requires state persistence to be enabled in the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Maximum number of results to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.State.Enabled {
		fmt.Println("State persistence is disabled. Enable it with 'state.enabled: true'.")
		return nil
	}
	if _, err := os.Stat(cfg.State.Path); os.IsNotExist(err) {
		fmt.Println("No results yet. Run 'madev run <workflow-file>' to start.")
		return nil
	}

	store, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	var tasks []*models.Task
	if len(args) == 1 {
		tasks, err = store.WorkflowTaskResults(ctx, args[0])
	} else {
		tasks, err = store.RecentResults(ctx, statusLimit)
	}
	if err != nil {
		return fmt.Errorf("load results: %w", err)
	}
	if len(tasks) == 0 {
		fmt.Println("No task results found.")
		return nil
	}

	fmt.Printf("%-10s  %-10s  %-20s  %-10s  %-8s  %s\n",
		"WORKFLOW", "TASK", "TYPE", "STATE", "ATTEMPT", "COMPLETED")
	for _, task := range tasks {
		completed := "-"
		if task.CompletedAt != nil {
			completed = task.CompletedAt.Local().Format(time.RFC3339)
		}
		fmt.Printf("%-10s  %-10s  %-20s  %-10s  %-8d  %s\n",
			task.WorkflowID, task.ID, task.Type, task.State, task.Attempt, completed)
		if task.Error != "" {
			fmt.Printf("            %s: %s\n", task.ErrorKind, task.Error)
		}
	}
	return nil
}
