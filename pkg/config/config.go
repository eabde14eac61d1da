package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/galaxycache/internal/bytesize"
	"github.com/marmos91/galaxycache/internal/coherence"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents a galaxycache node's static configuration:
//   - Logging and telemetry (tracing/profiling) behavior
//   - The coherence engine's deployment-wide parameters (C8)
//   - This node's cluster identity and listen address
//   - Postgres, used by the cluster membership table and id allocator
//   - The write-ahead backup log (and optional cold-archive tier)
//   - The admin HTTP API (auth, port)
//
// Configuration sources, highest precedence first:
//  1. Environment variables (GALAXYCACHE_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and
	// Pyroscope continuous profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Coherence holds the line-table/directory-protocol engine's own
	// parameters (mode, timeouts, eviction capacity).
	Coherence coherence.Config `mapstructure:"coherence" yaml:"coherence"`

	// Node identifies this process within the cluster and its
	// transport listen address.
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Postgres configures the shared database backing cluster
	// membership and line-id allocation.
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`

	// Backup configures the mmap-backed write-ahead log and its
	// optional cold-archive tier.
	Backup BackupConfig `mapstructure:"backup" yaml:"backup"`

	// AdminAPI contains the admin HTTP API server configuration.
	AdminAPI AdminAPIConfig `mapstructure:"admin_api" yaml:"admin_api"`
}

// NodeConfig identifies this process within the cluster.
type NodeConfig struct {
	// ID is this node's cluster identity. 0 lets the cluster package
	// assign one at registration time.
	ID int64 `mapstructure:"id" yaml:"id"`

	// ListenAddr is the address other nodes dial to reach this node's
	// coherence transport (xdrcomm).
	ListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// AdvertiseAddr is the address advertised to peers, when different
	// from ListenAddr (NAT/container port mapping).
	AdvertiseAddr string `mapstructure:"advertise_addr" yaml:"advertise_addr,omitempty"`
}

// PostgresConfig configures the Postgres connection shared by the
// cluster membership table and the Hi-Lo line-id allocator.
type PostgresConfig struct {
	// DSN is the full libpq/pgx connection string.
	DSN string `mapstructure:"dsn" validate:"required" yaml:"dsn"`

	// MaxConns bounds the pgxpool connection pool size.
	// Default: 10
	MaxConns int32 `mapstructure:"max_conns" yaml:"max_conns"`

	// HeartbeatInterval is how often this node refreshes its
	// membership-table heartbeat row.
	// Default: 5s
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// HeartbeatTimeout is how long a peer's heartbeat may go stale
	// before it is declared NodeRemoved.
	// Default: 20s
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
}

// BackupConfig specifies the write-ahead backup log.
// The WAL is mandatory for crash recovery: every dirty line flushed on
// transaction commit or ownership transfer is appended here before the
// in-memory copy is considered durable.
type BackupConfig struct {
	// Path is the directory for the WAL file (required).
	// Example: /var/lib/galaxycache/wal or /tmp/galaxycache-wal
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// Size is the maximum WAL mmap size.
	// Supports human-readable formats: "1GB", "512MB", "10Gi".
	// Default: 1GB
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size,omitempty"`

	// Archive optionally uploads a copy of each flushed line backup to a
	// cold, durable object-storage tier.
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

// ArchiveConfig configures the optional S3-compatible cold-archive
// tier for flushed line backups (one object per line version).
type ArchiveConfig struct {
	// Enabled controls whether flushed line backups are also archived.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Bucket is the destination bucket name.
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// Prefix is prepended to every archived object's key.
	Prefix string `mapstructure:"prefix" yaml:"prefix,omitempty"`

	// Endpoint overrides the default AWS endpoint, for S3-compatible
	// stores (MinIO, localstack).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// AdminAPIConfig contains the admin HTTP API server configuration
// (cluster status, metrics, manual eviction/invalidation).
type AdminAPIConfig struct {
	// Enabled controls whether the admin API listens at all.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the admin API.
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// JWT contains the admin API's bearer-token authentication config.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`
}

// JWTConfig configures admin API bearer-token verification.
type JWTConfig struct {
	// Secret signs and verifies admin API tokens. Required whenever
	// AdminAPIConfig.Enabled is true.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// TTL is how long an issued token remains valid.
	// Default: 24h
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use a non-TLS connection.
	// Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages, checking
// the default location exists before attempting to load it.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  galaxycache-node init\n\n"+
				"Or specify a custom config file:\n"+
				"  galaxycache-node <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  galaxycache-node init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: config files may carry the JWT secret and Postgres DSN.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures viper with environment variable and config
// file search settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("GALAXYCACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	configDir := getConfigDir()
	v.AddConfigPath(configDir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// readConfigFile reads the configuration file if it exists, returning
// (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// so config files can use human-readable sizes like "1Gi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings and numbers to time.Duration, so
// config files can use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME, falling back to ~/.config, then ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "galaxycache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "galaxycache")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
