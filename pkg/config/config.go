// Package config loads, defaults and validates the archive service
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete archive service configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (ARKIVED_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains the HTTP API settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Storage configures the tiered storage tree
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Index configures the metadata index and its optional id cache
	Index IndexConfig `mapstructure:"index" yaml:"index"`

	// Tokens configures the capability token registry
	Tokens TokenConfig `mapstructure:"tokens" yaml:"tokens"`

	// Memory configures the structured memory store
	Memory MemoryConfig `mapstructure:"memory" yaml:"memory"`

	// Backup configures the snapshot engine
	Backup BackupConfig `mapstructure:"backup" yaml:"backup"`

	// Events configures the real-time fan-out hub
	Events EventsConfig `mapstructure:"events" yaml:"events"`

	// Metrics toggles Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Scheduler configures the background maintenance jobs
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains the HTTP API settings.
type ServerConfig struct {
	// ListenAddress is the bind address for the HTTP API
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"required"`

	// Port is the HTTP API port
	Port int `mapstructure:"port" yaml:"port" validate:"required,gt=0,lte=65535"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// CORSOrigins lists allowed browser origins; empty allows none
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`

	// MaxUploadBytes caps the size of a single upload
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`

	// RateLimitPerSecond caps sustained requests per client; 0 disables limiting
	RateLimitPerSecond uint `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"`

	// RateLimitBurst is the per-client burst capacity when limiting is on
	RateLimitBurst uint `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// StorageConfig configures the tiered storage tree.
type StorageConfig struct {
	// Root is the storage root holding the tier directories
	Root string `mapstructure:"root" yaml:"root" validate:"required"`

	// TempMaxAgeDays is the age after which temp files are reclaimed
	TempMaxAgeDays int `mapstructure:"temp_max_age_days" yaml:"temp_max_age_days" validate:"gt=0"`
}

// IndexConfig configures the metadata index.
type IndexConfig struct {
	// CacheEnabled turns on the embedded id lookup cache
	CacheEnabled bool `mapstructure:"cache_enabled" yaml:"cache_enabled"`

	// CacheDir is the directory for the cache database
	CacheDir string `mapstructure:"cache_dir" yaml:"cache_dir"`
}

// TokenConfig configures the capability token registry.
type TokenConfig struct {
	// RegistryPath is the token registry file location
	RegistryPath string `mapstructure:"registry_path" yaml:"registry_path" validate:"required"`
}

// MemoryConfig configures the structured memory store.
type MemoryConfig struct {
	// Enabled turns the memory store on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// DBPath is the SQLite database location
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// ArchiveAfterDays flags entries older than this as archived
	ArchiveAfterDays int `mapstructure:"archive_after_days" yaml:"archive_after_days" validate:"gt=0"`
}

// BackupConfig configures the snapshot engine.
type BackupConfig struct {
	// Dir is the directory holding dated snapshots
	Dir string `mapstructure:"dir" yaml:"dir" validate:"required"`

	// RetentionDays is the pruning horizon for old snapshots
	RetentionDays int `mapstructure:"retention_days" yaml:"retention_days" validate:"gt=0"`

	// Offsite configures optional replication to an S3-compatible bucket
	Offsite OffsiteConfig `mapstructure:"offsite" yaml:"offsite"`
}

// OffsiteConfig configures the optional offsite backup target.
//
// S3 holds target-specific settings decoded by the replicator factory
// (region, bucket, key_prefix, endpoint, credentials).
type OffsiteConfig struct {
	// Enabled turns offsite replication on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// S3 contains the S3 target settings, only used when Enabled
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// EventsConfig configures the fan-out hub.
type EventsConfig struct {
	// AllowedTopicPrefixes lists the topic roots listeners may subscribe to
	AllowedTopicPrefixes []string `mapstructure:"allowed_topic_prefixes" yaml:"allowed_topic_prefixes"`
}

// MetricsConfig toggles Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on the /metrics endpoint and collection
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SchedulerConfig configures the background maintenance jobs.
type SchedulerConfig struct {
	// Enabled turns the scheduler on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// BackupInterval is the time between automatic backup runs
	BackupInterval time.Duration `mapstructure:"backup_interval" yaml:"backup_interval" validate:"gt=0"`

	// MaintenanceInterval is the time between cleanup sweeps
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" yaml:"maintenance_interval" validate:"gt=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variable and config file handling.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the ARKIVED_ prefix with underscores,
	// e.g. ARKIVED_LOGGING_LEVEL=DEBUG.
	v.SetEnvPrefix("ARKIVED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Missing config file is fine, defaults apply.
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path, preferring
// XDG_CONFIG_HOME, then ~/.config, then the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "arkived")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "arkived")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
