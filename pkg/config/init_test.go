package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitConfig_CreatesFileAtDefaultLocation(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpHome)

	path, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(tmpHome, "galaxycache") {
		t.Errorf("path = %q, want under %q", path, tmpHome)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if cfg.Logging.Level != "INFO" {
		t.Errorf("round-tripped Logging.Level = %q, want INFO", cfg.Logging.Level)
	}
}

func TestInitConfig_RefusesToOverwriteWithoutForce(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpHome)

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("first InitConfig: %v", err)
	}
	if _, err := InitConfig(false); err == nil {
		t.Fatal("expected second InitConfig without --force to fail")
	}
	if _, err := InitConfig(true); err != nil {
		t.Fatalf("InitConfig with force should succeed: %v", err)
	}
}

func TestInitConfigToPath_CustomLocation(t *testing.T) {
	tmpDir := t.TempDir()
	customPath := filepath.Join(tmpDir, "nested", "galaxycache.yaml")

	path, err := InitConfigToPath(customPath, false)
	if err != nil {
		t.Fatalf("InitConfigToPath: %v", err)
	}
	if path != customPath {
		t.Errorf("path = %q, want %q", path, customPath)
	}
	if _, err := os.Stat(customPath); err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
}
