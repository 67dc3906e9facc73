package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/control"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a running workflow",
	Long: `Signal a running coordinator to cancel a workflow.

The signal is delivered through the control directory, so this works
from a separate process. Requires 'control.dir' to be configured and
shared with the running coordinator.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := controlDir()
		if err != nil {
			return err
		}
		if err := control.WriteCancel(dir, args[0]); err != nil {
			return fmt.Errorf("write cancel signal: %w", err)
		}
		fmt.Printf("Cancel signal written for workflow %s\n", args[0])
		return nil
	},
}
