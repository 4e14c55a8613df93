package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyStorageDefaults(&cfg.Storage)
	applyIndexDefaults(&cfg.Index, cfg.Storage.Root)
	applyTokenDefaults(&cfg.Tokens, cfg.Storage.Root)
	applyMemoryDefaults(&cfg.Memory, cfg.Storage.Root)
	applyBackupDefaults(&cfg.Backup, cfg.Storage.Root)
	applyEventsDefaults(&cfg.Events)
	applySchedulerDefaults(&cfg.Scheduler)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalized to uppercase for consistent internal representation.
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 512 * 1024 * 1024 // 512MB
	}
	if cfg.RateLimitPerSecond > 0 && cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = cfg.RateLimitPerSecond * 2
	}
}

func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Root == "" {
		cfg.Root = "/var/lib/arkived/storage"
	}
	if cfg.TempMaxAgeDays == 0 {
		cfg.TempMaxAgeDays = 7
	}
}

func applyIndexDefaults(cfg *IndexConfig, storageRoot string) {
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(filepath.Dir(storageRoot), "index-cache")
	}
}

func applyTokenDefaults(cfg *TokenConfig, storageRoot string) {
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = filepath.Join(filepath.Dir(storageRoot), "tokens.json")
	}
}

func applyMemoryDefaults(cfg *MemoryConfig, storageRoot string) {
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(storageRoot), "memory.db")
	}
	if cfg.ArchiveAfterDays == 0 {
		cfg.ArchiveAfterDays = 90
	}
}

func applyBackupDefaults(cfg *BackupConfig, storageRoot string) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(filepath.Dir(storageRoot), "backups")
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.Offsite.S3 == nil {
		cfg.Offsite.S3 = make(map[string]any)
	}
}

func applyEventsDefaults(cfg *EventsConfig) {
	if len(cfg.AllowedTopicPrefixes) == 0 {
		cfg.AllowedTopicPrefixes = []string{"files.", "jobs.", "system.", "backup.", "memory."}
	}
}

func applySchedulerDefaults(cfg *SchedulerConfig) {
	if cfg.BackupInterval == 0 {
		cfg.BackupInterval = 24 * time.Hour
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = time.Hour
	}
}
