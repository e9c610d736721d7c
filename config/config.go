package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DataScienceBioLab/squirrel/errors"
)

// Storage backend constants
const (
	BackendFile = "file" // local filesystem store
	BackendNATS = "nats" // NATS JetStream key-value store
)

// Duration wraps time.Duration so YAML values like "30s" decode.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML accepts either a duration string ("30s", "1m") or a
// bare integer interpreted as nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer, got %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML emits the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the complete application configuration for an MCP node.
type Config struct {
	Protocol ProtocolConfig `yaml:"protocol"`
	Storage  StorageConfig  `yaml:"storage"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProtocolConfig mirrors the protocol layer's tunables.
type ProtocolConfig struct {
	Version        string   `yaml:"version"`
	MaxMessageSize int      `yaml:"max_message_size"`
	Timeout        Duration `yaml:"timeout"`
	RetryCount     int      `yaml:"retry_count"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend string            `yaml:"backend"`
	File    FileStorageConfig `yaml:"file"`
	NATS    NATSStorageConfig `yaml:"nats"`
}

// FileStorageConfig configures the filesystem backend.
type FileStorageConfig struct {
	Root string `yaml:"root"`
}

// NATSStorageConfig configures the JetStream key-value backend.
type NATSStorageConfig struct {
	URL      string   `yaml:"url"`
	Bucket   string   `yaml:"bucket"`
	Timeout  Duration `yaml:"timeout"`
	Replicas int      `yaml:"replicas"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file or override says
// otherwise.
func Default() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			Version:        "1.0.0",
			MaxMessageSize: 1 << 20,
			Timeout:        Duration(30 * time.Second),
			RetryCount:     3,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			File: FileStorageConfig{
				Root: "data/state",
			},
			NATS: NATSStorageConfig{
				URL:     "nats://localhost:4222",
				Bucket:  "squirrel-state",
				Timeout: Duration(5 * time.Second),
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envPrefix for environment variable overrides.
const envPrefix = "SQUIRREL"

// Load reads the YAML file at path, merges it over the defaults,
// applies environment overrides and validates the result. An empty
// path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig, "config", "Load",
				fmt.Sprintf("read %s: %v", path, err))
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Load",
				fmt.Sprintf("parse %s: %v", path, err))
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies SQUIRREL_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(envPrefix + "_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv(envPrefix + "_STORAGE_FILE_ROOT"); val != "" {
		cfg.Storage.File.Root = val
	}
	if val := os.Getenv(envPrefix + "_NATS_URL"); val != "" {
		cfg.Storage.NATS.URL = val
	}
	if val := os.Getenv(envPrefix + "_NATS_BUCKET"); val != "" {
		cfg.Storage.NATS.Bucket = val
	}
	if val := os.Getenv(envPrefix + "_METRICS_ADDRESS"); val != "" {
		cfg.Metrics.Address = val
	}
	if val := os.Getenv(envPrefix + "_METRICS_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
	if val := os.Getenv(envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Protocol.MaxMessageSize <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("protocol.max_message_size must be positive, got %d", c.Protocol.MaxMessageSize))
	}
	if c.Protocol.Timeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("protocol.timeout must be positive, got %s", c.Protocol.Timeout))
	}
	if c.Protocol.RetryCount < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("protocol.retry_count must not be negative, got %d", c.Protocol.RetryCount))
	}

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.File.Root == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"storage.file.root is required for the file backend")
		}
	case BackendNATS:
		if c.Storage.NATS.URL == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"storage.nats.url is required for the nats backend")
		}
		if c.Storage.NATS.Bucket == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"storage.nats.bucket is required for the nats backend")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("storage.backend must be %q or %q, got %q",
				BackendFile, BackendNATS, c.Storage.Backend))
	}

	if c.Metrics.Enabled {
		if c.Metrics.Address == "" {
			return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
				"metrics.address is required when metrics are enabled")
		}
		if c.Metrics.Path == "" || !strings.HasPrefix(c.Metrics.Path, "/") {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("metrics.path must start with /, got %q", c.Metrics.Path))
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}

	return nil
}
