package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Budget.MonthlyLimitUSD != 140.0 {
		t.Errorf("expected monthly limit 140.0, got %v", cfg.Budget.MonthlyLimitUSD)
	}
	if cfg.Budget.StandardThreshold != 0.80 {
		t.Errorf("expected standard threshold 0.80, got %v", cfg.Budget.StandardThreshold)
	}
	if cfg.Budget.LocalThreshold != 0.95 {
		t.Errorf("expected local threshold 0.95, got %v", cfg.Budget.LocalThreshold)
	}
	if cfg.Agents.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected heartbeat interval 30s, got %v", cfg.Agents.HeartbeatInterval)
	}
	if cfg.Agents.HeartbeatTimeout != 90*time.Second {
		t.Errorf("expected heartbeat timeout 90s, got %v", cfg.Agents.HeartbeatTimeout)
	}
	if cfg.Agents.RetryAttempts != 3 {
		t.Errorf("expected 3 retry attempts, got %d", cfg.Agents.RetryAttempts)
	}
	if cfg.Provider.BreakerFailures != 3 {
		t.Errorf("expected breaker threshold 3, got %d", cfg.Provider.BreakerFailures)
	}
	if cfg.Provider.BreakerCooldown != 30*time.Second {
		t.Errorf("expected breaker cooldown 30s, got %v", cfg.Provider.BreakerCooldown)
	}
	if cfg.Bus.Backend != "memory" {
		t.Errorf("expected memory bus backend, got %q", cfg.Bus.Backend)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
budget:
  monthly_limit_usd: 50.0
  standard_threshold: 0.7
agents:
  heartbeat_interval: 10s
  heartbeat_timeout: 45s
bus:
  backend: redis
  redis_url: redis://broker:6379/1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Budget.MonthlyLimitUSD != 50.0 {
		t.Errorf("expected monthly limit 50.0, got %v", cfg.Budget.MonthlyLimitUSD)
	}
	if cfg.Budget.StandardThreshold != 0.7 {
		t.Errorf("expected standard threshold 0.7, got %v", cfg.Budget.StandardThreshold)
	}
	// Unset keys keep their defaults.
	if cfg.Budget.LocalThreshold != 0.95 {
		t.Errorf("expected default local threshold, got %v", cfg.Budget.LocalThreshold)
	}
	if cfg.Agents.HeartbeatInterval != 10*time.Second {
		t.Errorf("expected heartbeat interval 10s, got %v", cfg.Agents.HeartbeatInterval)
	}
	if cfg.Bus.Backend != "redis" {
		t.Errorf("expected redis backend, got %q", cfg.Bus.Backend)
	}
	if cfg.Bus.RedisURL != "redis://broker:6379/1" {
		t.Errorf("unexpected redis url %q", cfg.Bus.RedisURL)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := Default()
	cfg.Budget.LocalThreshold = 0.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when local threshold is below standard threshold")
	}

	cfg = Default()
	cfg.Budget.StandardThreshold = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for out-of-range standard threshold")
	}
}

func TestValidateRejectsUnknownBusBackend(t *testing.T) {
	cfg := Default()
	cfg.Bus.Backend = "carrier-pigeon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown bus backend")
	}
}

func TestValidateRejectsShortHeartbeatTimeout(t *testing.T) {
	cfg := Default()
	cfg.Agents.HeartbeatTimeout = 10 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("expected error when timeout does not exceed interval")
	}
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "anthropic:\n  api_key: ${TEST_MADEV_KEY}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TEST_MADEV_KEY", "sk-test-123")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test-123" {
		t.Errorf("expected expanded key, got %q", cfg.Anthropic.APIKey)
	}
}
