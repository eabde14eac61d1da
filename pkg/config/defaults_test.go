package config

import (
	"testing"
	"time"
)

func TestApplyDefaults_LeavesExplicitValuesAlone(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug", Format: "json", Output: "stderr"},
		Metrics: MetricsConfig{Port: 1234},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Level should be normalized to uppercase, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("explicit Format overwritten: got %q", cfg.Logging.Format)
	}
	if cfg.Metrics.Port != 1234 {
		t.Errorf("explicit Metrics.Port overwritten: got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Logging.Level default = %q, want INFO", cfg.Logging.Level)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout default = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.Coherence.Timeout == 0 {
		t.Error("Coherence.Timeout should have been defaulted")
	}
	if cfg.Node.ListenAddr == "" {
		t.Error("Node.ListenAddr should have been defaulted")
	}
	if cfg.Backup.Path == "" {
		t.Error("Backup.Path should have been defaulted")
	}
	if cfg.AdminAPI.JWT.TTL != 24*time.Hour {
		t.Errorf("AdminAPI.JWT.TTL default = %v, want 24h", cfg.AdminAPI.JWT.TTL)
	}
}
