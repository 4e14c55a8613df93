// Package backup implements the daily snapshot engine. Each run captures an
// independent snapshot of every tracked component (token store, metadata
// index, storage tree, memory store) under a dated directory and records
// the per-component outcome in a manifest.
//
// The engine only reads from live component state and writes to its own
// snapshot area; it never mutates live records during a backup.
package backup

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"arkived/internal/logger"
	"arkived/pkg/archive"
	"arkived/pkg/index"
	"arkived/pkg/memory"
)

const (
	// DateLayout keys manifests by calendar date, one backup per day.
	DateLayout = "2006-01-02"

	manifestName = "manifest.json"

	ComponentTokenStore    = "token-store"
	ComponentMetadataIndex = "metadata-index"
	ComponentStorageTree   = "storage-tree"
	ComponentMemoryStore   = "memory-store"
)

// ComponentResult records the outcome of one component's snapshot.
type ComponentResult struct {
	Success   bool   `json:"success"`
	Path      string `json:"path,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
	Error     string `json:"error,omitempty"`
}

// Manifest describes one backup run.
type Manifest struct {
	BackupDate   string                      `json:"backup_date"`
	Timestamp    time.Time                   `json:"timestamp"`
	Success      bool                        `json:"success"`
	Components   map[string]*ComponentResult `json:"components"`
	ManifestPath string                      `json:"manifest_path"`
	Replicated   bool                        `json:"replicated,omitempty"`
}

// RestoreResult reports which components a restore actually brought back.
type RestoreResult struct {
	Success            bool     `json:"success"`
	RestoredComponents []string `json:"restored_components"`
	SkippedComponents  []string `json:"skipped_components,omitempty"`
	Message            string   `json:"message"`
}

// Replicator pushes a completed snapshot to offsite storage. Replication is
// best-effort and never affects the local backup outcome.
type Replicator interface {
	Replicate(localDir, date string) error
}

// EventPublisher receives job lifecycle notifications. May be nil.
type EventPublisher interface {
	Publish(topic string, payload map[string]any)
}

// Sources names the live state the engine snapshots. Memory may be nil when
// the memory store is disabled.
type Sources struct {
	TokenRegistryPath string
	StorageRoot       string
	Index             *index.Index
	Memory            *memory.Store
}

// Engine runs daily backups into backupDir. A mutex serializes runs so two
// same-day backups cannot interleave writes to one dated directory.
type Engine struct {
	mu         sync.Mutex
	backupDir  string
	sources    Sources
	replicator Replicator
	events     EventPublisher
}

// NewEngine creates an engine writing under backupDir. replicator and
// events may be nil.
func NewEngine(backupDir string, sources Sources, replicator Replicator, events EventPublisher) (*Engine, error) {
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Engine{
		backupDir:  backupDir,
		sources:    sources,
		replicator: replicator,
		events:     events,
	}, nil
}

// CreateDailyBackup snapshots every component for the given date (today
// when empty). Component failures are recorded, not fatal; the manifest is
// written only after all components have attempted. Re-running for the same
// date replaces that day's backup.
func (e *Engine) CreateDailyBackup(date string) (*Manifest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if date == "" {
		date = time.Now().Format(DateLayout)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, archive.NewValidationError("date", fmt.Sprintf("%q is not a YYYY-MM-DD date", date))
	}

	dateDir := filepath.Join(e.backupDir, date)
	if err := os.RemoveAll(dateDir); err != nil {
		return nil, fmt.Errorf("failed to clear previous backup for %s: %w", date, err)
	}
	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory for %s: %w", date, err)
	}

	logger.Info("Starting daily backup for %s", date)
	e.publish("jobs.backup_started", map[string]any{"date": date})

	manifest := &Manifest{
		BackupDate: date,
		Timestamp:  time.Now(),
		Components: map[string]*ComponentResult{
			ComponentTokenStore:    e.snapshotFile(ComponentTokenStore, e.sources.TokenRegistryPath, dateDir),
			ComponentMetadataIndex: e.snapshotIndex(dateDir),
			ComponentStorageTree:   e.snapshotTree(dateDir),
		},
	}
	if e.sources.Memory != nil {
		manifest.Components[ComponentMemoryStore] = e.snapshotMemory(dateDir)
	}

	manifest.Success = true
	for name, result := range manifest.Components {
		if !result.Success {
			manifest.Success = false
			logger.Warn("Backup component %s failed: %s", name, result.Error)
		}
	}

	manifest.ManifestPath = filepath.Join(dateDir, manifestName)
	if err := writeManifest(manifest); err != nil {
		return nil, err
	}

	if e.replicator != nil && manifest.Success {
		if err := e.replicator.Replicate(dateDir, date); err != nil {
			logger.Warn("Offsite replication for %s failed: %v", date, err)
		} else {
			manifest.Replicated = true
			if err := writeManifest(manifest); err != nil {
				return nil, err
			}
		}
	}

	logger.Info("Backup for %s finished (success=%t)", date, manifest.Success)
	e.publish("jobs.backup_completed", map[string]any{
		"date":    date,
		"success": manifest.Success,
	})
	return manifest, nil
}

// ListAvailableBackups returns all manifests, newest date first.
func (e *Engine) ListAvailableBackups() ([]*Manifest, error) {
	entries, err := os.ReadDir(e.backupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	var manifests []*Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := time.Parse(DateLayout, entry.Name()); err != nil {
			continue
		}
		manifest, err := readManifest(filepath.Join(e.backupDir, entry.Name(), manifestName))
		if err != nil {
			logger.Warn("Skipping unreadable manifest for %s: %v", entry.Name(), err)
			continue
		}
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].BackupDate > manifests[j].BackupDate
	})
	return manifests, nil
}

// RestoreFromBackup restores each component whose snapshot succeeded,
// skipping the rest. A corrupt or unreadable snapshot skips that component
// with a reason instead of partially overwriting live state.
func (e *Engine) RestoreFromBackup(date string) (*RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	manifest, err := readManifest(filepath.Join(e.backupDir, date, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("backup for %s: %w", date, archive.ErrNotFound)
		}
		return nil, err
	}

	logger.Info("Restoring from backup %s", date)

	result := &RestoreResult{}
	for _, name := range []string{
		ComponentTokenStore, ComponentStorageTree, ComponentMetadataIndex, ComponentMemoryStore,
	} {
		snap, tracked := manifest.Components[name]
		if !tracked || !snap.Success {
			continue
		}
		if err := e.restoreComponent(name, snap); err != nil {
			logger.Warn("Skipping restore of %s: %v", name, err)
			result.SkippedComponents = append(result.SkippedComponents, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		result.RestoredComponents = append(result.RestoredComponents, name)
	}

	result.Success = len(result.RestoredComponents) > 0 && len(result.SkippedComponents) == 0
	result.Message = fmt.Sprintf("restored %d components from %s", len(result.RestoredComponents), date)

	e.publish("jobs.restore_completed", map[string]any{
		"date":       date,
		"components": result.RestoredComponents,
	})
	return result, nil
}

// CleanupOldBackups deletes backups older than keepDays. The newest backup
// is always kept, whatever its age.
func (e *Engine) CleanupOldBackups(keepDays int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	manifests, err := e.ListAvailableBackups()
	if err != nil {
		return 0, err
	}
	if len(manifests) == 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -keepDays).Format(DateLayout)
	cleaned := 0

	// manifests[0] is the newest and is never pruned.
	for _, manifest := range manifests[1:] {
		if manifest.BackupDate >= cutoff {
			continue
		}
		if err := os.RemoveAll(filepath.Join(e.backupDir, manifest.BackupDate)); err != nil {
			logger.Warn("Could not remove backup %s: %v", manifest.BackupDate, err)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		logger.Info("Pruned %d old backups", cleaned)
	}
	return cleaned, nil
}

func (e *Engine) snapshotFile(component, srcPath, dateDir string) *ComponentResult {
	dstDir := filepath.Join(dateDir, component)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return &ComponentResult{Error: err.Error()}
	}

	dst := filepath.Join(dstDir, filepath.Base(srcPath))
	size, err := copyFile(srcPath, dst)
	if err != nil {
		return &ComponentResult{Error: err.Error()}
	}
	return &ComponentResult{Success: true, Path: dst, SizeBytes: size}
}

// snapshotMemory asks the store for a consistent copy of its database; the
// store owns the WAL semantics a raw file copy would get wrong.
func (e *Engine) snapshotMemory(dateDir string) *ComponentResult {
	dstDir := filepath.Join(dateDir, ComponentMemoryStore)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return &ComponentResult{Error: err.Error()}
	}

	dst := filepath.Join(dstDir, filepath.Base(e.sources.Memory.Path()))
	if err := e.sources.Memory.SnapshotTo(dst); err != nil {
		return &ComponentResult{Error: err.Error()}
	}

	info, err := os.Stat(dst)
	if err != nil {
		return &ComponentResult{Error: err.Error()}
	}
	return &ComponentResult{Success: true, Path: dst, SizeBytes: info.Size()}
}

func (e *Engine) snapshotIndex(dateDir string) *ComponentResult {
	records, err := e.sources.Index.Export()
	if err != nil {
		return &ComponentResult{Error: err.Error()}
	}

	dstDir := filepath.Join(dateDir, ComponentMetadataIndex)
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return &ComponentResult{Error: err.Error()}
	}

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &ComponentResult{Error: err.Error()}
	}

	dst := filepath.Join(dstDir, "records.json")
	if err := os.WriteFile(dst, raw, 0644); err != nil {
		return &ComponentResult{Error: err.Error()}
	}
	return &ComponentResult{Success: true, Path: dst, SizeBytes: int64(len(raw))}
}

func (e *Engine) snapshotTree(dateDir string) *ComponentResult {
	dst := filepath.Join(dateDir, ComponentStorageTree)

	var total int64
	err := filepath.WalkDir(e.sources.StorageRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(e.sources.StorageRoot, path)
		if rerr != nil {
			return rerr
		}
		// The temp area holds in-flight writes, not archive content.
		if rel == "temp" || strings.HasPrefix(rel, "temp"+string(filepath.Separator)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		size, cerr := copyFile(path, target)
		total += size
		return cerr
	})
	if err != nil {
		return &ComponentResult{Error: err.Error()}
	}
	return &ComponentResult{Success: true, Path: dst, SizeBytes: total}
}

func (e *Engine) restoreComponent(name string, snap *ComponentResult) error {
	switch name {
	case ComponentTokenStore:
		return restoreFileCopy(snap.Path, e.sources.TokenRegistryPath)
	case ComponentMemoryStore:
		if e.sources.Memory == nil {
			return fmt.Errorf("memory store is not configured")
		}
		return e.sources.Memory.RestoreFrom(snap.Path)
	case ComponentStorageTree:
		return e.restoreTree(snap.Path)
	case ComponentMetadataIndex:
		return e.restoreIndex(snap.Path)
	default:
		return fmt.Errorf("unknown component %s", name)
	}
}

func (e *Engine) restoreTree(snapDir string) error {
	if _, err := os.Stat(snapDir); err != nil {
		return fmt.Errorf("snapshot unreadable: %w", err)
	}

	return filepath.WalkDir(snapDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(snapDir, path)
		if rerr != nil {
			return rerr
		}
		target := filepath.Join(e.sources.StorageRoot, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		_, cerr := copyFile(path, target)
		return cerr
	})
}

func (e *Engine) restoreIndex(snapPath string) error {
	raw, err := os.ReadFile(snapPath)
	if err != nil {
		return fmt.Errorf("snapshot unreadable: %w", err)
	}

	// Validate the whole export before touching any live sidecar.
	var records []*archive.FileRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return fmt.Errorf("snapshot corrupt: %w", err)
	}

	for _, rec := range records {
		if err := e.sources.Index.Put(rec); err != nil {
			return fmt.Errorf("failed to restore record %s: %w", rec.ID, err)
		}
	}
	return nil
}

func (e *Engine) publish(topic string, payload map[string]any) {
	if e.events != nil {
		e.events.Publish(topic, payload)
	}
}

func writeManifest(manifest *Manifest) error {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(manifest.ManifestPath, raw, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func readManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("manifest %s is corrupt: %w", path, err)
	}
	return &manifest, nil
}

func restoreFileCopy(src, dst string) error {
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("snapshot unreadable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	_, err := copyFile(src, dst)
	return err
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}

	size, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return size, err
	}
	return size, out.Close()
}
