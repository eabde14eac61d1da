package config

import "testing"

func TestValidate_DefaultConfigPasses(t *testing.T) {
	cfg := GetDefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
}

func TestValidate_RejectsInvalidLogFormat(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for invalid log format")
	}
}

func TestValidate_RejectsMissingPostgresDSN(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Postgres.DSN = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for missing postgres dsn")
	}
}

func TestValidate_RequiresJWTSecretWhenAdminAPIEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.AdminAPI.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for missing admin_api.jwt.secret")
	}

	cfg.AdminAPI.JWT.Secret = "short"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for too-short jwt secret")
	}

	cfg.AdminAPI.JWT.Secret = "this-is-a-sufficiently-long-test-secret-value"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config with long secret, got: %v", err)
	}
}

func TestValidate_RejectsSynchronousCoherenceMode(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Coherence.Mode = 2 // Synchronous; declared but not implemented
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for synchronous coherence mode")
	}
}
