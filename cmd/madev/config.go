package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sec0304qqcc/Multi-Agent-Dev/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration",
	Long: `Display the effective configuration after merging defaults, the
user config, project overrides, and environment variables.

Configuration is stored at ~/.config/madev/config.yaml
Project-specific overrides can be placed in .madev.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		displayConfig(cfg)
	},
}

// displayConfig prints the effective configuration with secrets masked.
func displayConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", maskKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("openai.api_key: %s\n", maskKey(cfg.OpenAI.APIKey))
	fmt.Printf("openai.model: %s\n", cfg.OpenAI.Model)
	fmt.Printf("local.base_url: %s\n", cfg.Local.BaseURL)
	fmt.Printf("local.model: %s\n", cfg.Local.Model)
	fmt.Printf("budget.monthly_limit_usd: %.2f\n", cfg.Budget.MonthlyLimitUSD)
	fmt.Printf("budget.standard_threshold: %.2f\n", cfg.Budget.StandardThreshold)
	fmt.Printf("budget.local_threshold: %.2f\n", cfg.Budget.LocalThreshold)
	fmt.Printf("budget.period: %s\n", cfg.Budget.Period)
	fmt.Printf("agents.heartbeat_interval: %s\n", cfg.Agents.HeartbeatInterval)
	fmt.Printf("agents.heartbeat_timeout: %s\n", cfg.Agents.HeartbeatTimeout)
	fmt.Printf("agents.retry_attempts: %d\n", cfg.Agents.RetryAttempts)
	fmt.Printf("agents.task_timeout: %s\n", cfg.Agents.TaskTimeout)
	fmt.Printf("provider.call_timeout: %s\n", cfg.Provider.CallTimeout)
	fmt.Printf("provider.breaker_failures: %d\n", cfg.Provider.BreakerFailures)
	fmt.Printf("provider.breaker_cooldown: %s\n", cfg.Provider.BreakerCooldown)
	fmt.Printf("provider.breaker_max_cooldown: %s\n", cfg.Provider.BreakerMaxCooldown)
	fmt.Printf("retry.base: %s\n", cfg.Retry.Base)
	fmt.Printf("retry.cap: %s\n", cfg.Retry.Cap)
	fmt.Printf("bus.backend: %s\n", cfg.Bus.Backend)
	if cfg.Bus.RedisURL != "" {
		fmt.Printf("bus.redis_url: %s\n", cfg.Bus.RedisURL)
	}
	fmt.Printf("state.enabled: %t\n", cfg.State.Enabled)
	fmt.Printf("state.path: %s\n", cfg.State.Path)
	fmt.Printf("control.dir: %s\n", cfg.Control.Dir)
}

func maskKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	return "****"
}
