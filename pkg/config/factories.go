package config

import (
	"context"
	"fmt"

	"arkived/pkg/backup"
	"arkived/pkg/index"
)

// CreateIndexCache creates the embedded id lookup cache when enabled.
// Returns nil when the cache is disabled; the index falls back to directory
// scans.
func CreateIndexCache(cfg *IndexConfig) (*index.Cache, error) {
	if !cfg.CacheEnabled {
		return nil, nil
	}

	cache, err := index.OpenCache(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open index cache: %w", err)
	}
	return cache, nil
}

// CreateReplicator creates the offsite backup target when enabled. Returns
// nil when replication is disabled; backups then stay local only.
func CreateReplicator(ctx context.Context, cfg *BackupConfig) (backup.Replicator, error) {
	if !cfg.Offsite.Enabled {
		return nil, nil
	}

	replicator, err := backup.NewS3Replicator(ctx, cfg.Offsite.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to create offsite backup target: %w", err)
	}
	return replicator, nil
}
