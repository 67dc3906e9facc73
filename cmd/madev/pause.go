package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/control"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause task scheduling in a running coordinator",
	Long: `Signal a running coordinator to stop assigning new tasks.

In-flight tasks run to completion; ready tasks are held until 'madev
resume'. Requires 'control.dir' to be configured and shared with the
running coordinator.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := controlDir()
		if err != nil {
			return err
		}
		if err := control.WritePause(dir); err != nil {
			return fmt.Errorf("write pause signal: %w", err)
		}
		fmt.Println("Pause signal written")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume task scheduling in a paused coordinator",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := controlDir()
		if err != nil {
			return err
		}
		if err := control.WriteResume(dir); err != nil {
			return fmt.Errorf("write resume signal: %w", err)
		}
		fmt.Println("Resume signal written")
		return nil
	},
}

// controlDir resolves the configured control directory.
func controlDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	if cfg.Control.Dir == "" {
		return "", fmt.Errorf("no control directory configured; set 'control.dir'")
	}
	return cfg.Control.Dir, nil
}
