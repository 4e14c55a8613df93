package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err, "an explicitly named missing file is an error")

	cfg = &Config{}
	ApplyDefaults(cfg)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/var/lib/arkived/storage", cfg.Storage.Root)
	assert.Equal(t, 7, cfg.Storage.TempMaxAgeDays)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.Equal(t, 90, cfg.Memory.ArchiveAfterDays)
	assert.Equal(t, []string{"files.", "jobs.", "system.", "backup.", "memory."}, cfg.Events.AllowedTopicPrefixes)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.BackupInterval)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: json
server:
  port: 9999
storage:
  root: ` + filepath.Join(dir, "storage") + `
backup:
  retention_days: 14
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "storage"), cfg.Storage.Root)
	assert.Equal(t, 14, cfg.Backup.RetentionDays)
	// Unspecified sections still get defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.ListenAddress)
}

func TestDerivedPathsFollowStorageRoot(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Root = "/data/archive/storage"
	ApplyDefaults(cfg)

	assert.Equal(t, "/data/archive/tokens.json", cfg.Tokens.RegistryPath)
	assert.Equal(t, "/data/archive/memory.db", cfg.Memory.DBPath)
	assert.Equal(t, "/data/archive/backups", cfg.Backup.Dir)
	assert.Equal(t, "/data/archive/index-cache", cfg.Index.CacheDir)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"invalid log level", func(cfg *Config) { cfg.Logging.Level = "verbose" }},
		{"invalid log format", func(cfg *Config) { cfg.Logging.Format = "xml" }},
		{"port out of range", func(cfg *Config) { cfg.Server.Port = 99999 }},
		{"backup dir inside storage root", func(cfg *Config) {
			cfg.Backup.Dir = filepath.Join(cfg.Storage.Root, "backups")
		}},
		{"cache dir inside storage root", func(cfg *Config) {
			cfg.Index.CacheEnabled = true
			cfg.Index.CacheDir = filepath.Join(cfg.Storage.Root, "cache")
		}},
		{"offsite enabled without bucket", func(cfg *Config) {
			cfg.Backup.Offsite.Enabled = true
		}},
		{"empty topic prefix", func(cfg *Config) {
			cfg.Events.AllowedTopicPrefixes = []string{"files.", ""}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestEnvironmentOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: info\n"), 0644))

	t.Setenv("ARKIVED_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	require.NoError(t, WriteDefault(path))
	assert.FileExists(t, path)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)

	// Existing files are never overwritten.
	assert.Error(t, WriteDefault(path))
}

func TestCreateIndexCacheDisabled(t *testing.T) {
	cache, err := CreateIndexCache(&IndexConfig{CacheEnabled: false})
	require.NoError(t, err)
	assert.Nil(t, cache)
}

func TestCreateIndexCacheEnabled(t *testing.T) {
	cache, err := CreateIndexCache(&IndexConfig{
		CacheEnabled: true,
		CacheDir:     filepath.Join(t.TempDir(), "cache"),
	})
	require.NoError(t, err)
	require.NotNil(t, cache)
	assert.NoError(t, cache.Close())
}
