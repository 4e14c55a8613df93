// Package scheduler runs the background maintenance jobs: periodic
// backups, temp area cleanup, backup retention pruning, and memory
// archival. Each job run publishes lifecycle events on the jobs. topics.
package scheduler

import (
	"context"
	"sync"
	"time"

	"arkived/internal/logger"
	"arkived/pkg/backup"
	"arkived/pkg/config"
	"arkived/pkg/memory"
	"arkived/pkg/storage"
)

// EventPublisher receives job lifecycle notifications. May be nil.
type EventPublisher interface {
	Publish(topic string, payload map[string]any)
}

// Scheduler drives the recurring maintenance jobs. Memory may be nil when
// the memory store is disabled.
type Scheduler struct {
	cfg     config.SchedulerConfig
	manager *storage.Manager
	engine  *backup.Engine
	memory  *memory.Store
	events  EventPublisher

	tempMaxAgeDays   int
	retentionDays    int
	memoryArchiveAge int

	// jobMu serializes job runs so an overdue tick never overlaps a slow
	// previous run.
	jobMu sync.Mutex
}

// New creates a scheduler over the given components.
func New(cfg *config.Config, manager *storage.Manager, engine *backup.Engine, mem *memory.Store, events EventPublisher) *Scheduler {
	return &Scheduler{
		cfg:              cfg.Scheduler,
		manager:          manager,
		engine:           engine,
		memory:           mem,
		events:           events,
		tempMaxAgeDays:   cfg.Storage.TempMaxAgeDays,
		retentionDays:    cfg.Backup.RetentionDays,
		memoryArchiveAge: cfg.Memory.ArchiveAfterDays,
	}
}

// Run executes the job loops until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Info("Scheduler started (backup every %s, maintenance every %s)",
		s.cfg.BackupInterval, s.cfg.MaintenanceInterval)

	backupTicker := time.NewTicker(s.cfg.BackupInterval)
	maintenanceTicker := time.NewTicker(s.cfg.MaintenanceInterval)
	defer backupTicker.Stop()
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-backupTicker.C:
			s.RunBackupJob()
		case <-maintenanceTicker.C:
			s.RunMaintenanceJob()
		}
	}
}

// RunBackupJob performs one backup run.
func (s *Scheduler) RunBackupJob() {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	s.publish("jobs.started", map[string]any{"job": "backup"})

	manifest, err := s.engine.CreateDailyBackup("")
	if err != nil {
		logger.Error("Scheduled backup failed: %v", err)
		s.publish("jobs.failed", map[string]any{"job": "backup", "error": "backup run failed"})
		return
	}

	s.publish("jobs.completed", map[string]any{
		"job":     "backup",
		"date":    manifest.BackupDate,
		"success": manifest.Success,
	})
}

// RunMaintenanceJob sweeps the temp area, prunes old backups, and archives
// old memory entries. Each step runs even if an earlier step fails.
func (s *Scheduler) RunMaintenanceJob() {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	s.publish("jobs.started", map[string]any{"job": "maintenance"})

	cleanedTemp, err := s.manager.CleanupTemp(s.tempMaxAgeDays)
	if err != nil {
		logger.Error("Temp cleanup failed: %v", err)
	}

	prunedBackups, err := s.engine.CleanupOldBackups(s.retentionDays)
	if err != nil {
		logger.Error("Backup retention pruning failed: %v", err)
	}

	var archivedMemories int64
	if s.memory != nil {
		archivedMemories, err = s.memory.ArchiveOlderThan(s.memoryArchiveAge)
		if err != nil {
			logger.Error("Memory archival failed: %v", err)
		}
	}

	s.publish("jobs.completed", map[string]any{
		"job":               "maintenance",
		"cleaned_temp":      cleanedTemp,
		"pruned_backups":    prunedBackups,
		"archived_memories": archivedMemories,
	})
}

func (s *Scheduler) publish(topic string, payload map[string]any) {
	if s.events != nil {
		s.events.Publish(topic, payload)
	}
}
