// Package storage implements the tiered storage manager, the sole owner of
// physical file placement under the storage root.
//
// Layout: <root>/<tier>/<plugin or "media">/<category>/<stored name>, plus a
// <root>/temp area for ephemeral files. Sidecar metadata records live next
// to their content files and are managed through the metadata index; no
// other component writes to the tree directly.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"arkived/internal/logger"
	"arkived/pkg/archive"
	"arkived/pkg/index"
	"arkived/pkg/metrics"
)

// EventPublisher receives storage change notifications. The hub implements
// it; a nil publisher disables notification.
type EventPublisher interface {
	Publish(topic string, payload map[string]any)
}

// StoreOptions carries the optional classification fields for Store.
type StoreOptions struct {
	Plugin      string
	Category    string
	Tags        []string
	Description string
	Metadata    map[string]any
}

// Manager places file content under the tier-aware directory layout and
// keeps the metadata index in sync with the physical tree.
type Manager struct {
	root    string
	index   *index.Index
	events  EventPublisher
	metrics *metrics.ArchiveMetrics

	// locks serializes mutating operations per record id so a concurrent
	// MoveTier and Delete on the same id cannot both succeed.
	locks sync.Map // id string -> *sync.Mutex

	// beforeRegister runs between the physical write/move and the metadata
	// update. Tests inject failures here to exercise rollback paths.
	beforeRegister func() error
}

// NewManager creates a manager rooted at root. events may be nil.
func NewManager(root string, ix *index.Index, events EventPublisher) (*Manager, error) {
	for _, dir := range []string{
		string(archive.TierHot), string(archive.TierWarm),
		string(archive.TierCold), string(archive.TierVault),
		"temp",
	} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	logger.Info("Storage manager initialized at %s", root)
	return &Manager{root: root, index: ix, events: events}, nil
}

// SetMetrics attaches operation metrics. A nil value keeps metrics off.
func (m *Manager) SetMetrics(am *metrics.ArchiveMetrics) {
	m.metrics = am
}

// Root returns the storage root directory.
func (m *Manager) Root() string {
	return m.root
}

// TempDir returns the ephemeral file area cleaned by CleanupTemp.
func (m *Manager) TempDir() string {
	return filepath.Join(m.root, "temp")
}

// Store writes content under the tier/plugin/category directory, computes
// its hash, and registers a FileRecord through the metadata index.
//
// The content is written completely (to a temporary name, then renamed)
// before any metadata is registered: a failed or interrupted write leaves no
// record behind, only an unreferenced temp file that CleanupTemp reclaims.
func (m *Manager) Store(content io.Reader, originalName string, tier archive.Tier, opts StoreOptions) (rec *archive.FileRecord, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation("store", time.Since(start), err) }()

	if originalName == "" {
		return nil, archive.NewValidationError("filename", "must not be empty")
	}
	if !tier.Valid() {
		return nil, archive.NewValidationError("tier", fmt.Sprintf("unknown tier %q", tier))
	}

	category := opts.Category
	if category == "" {
		category = archive.DefaultCategory
	}

	id := uuid.NewString()
	now := time.Now()

	safeName := sanitizeFilename(originalName)
	storedName := fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), id[:8], safeName)

	targetDir := m.recordDir(tier, opts.Plugin, category)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	targetPath := filepath.Join(targetDir, storedName)
	tmpPath := filepath.Join(m.TempDir(), storedName+".partial")

	size, hash, err := writeAndHash(tmpPath, content)
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write content for %s: %w", originalName, err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to place content for %s: %w", originalName, err)
	}

	if m.beforeRegister != nil {
		if err := m.beforeRegister(); err != nil {
			os.Remove(targetPath)
			return nil, err
		}
	}

	rel, err := filepath.Rel(m.root, targetPath)
	if err != nil {
		rel = targetPath
	}

	rec = &archive.FileRecord{
		ID:           id,
		OriginalName: originalName,
		StoredName:   storedName,
		RelativePath: rel,
		AbsolutePath: targetPath,
		SizeBytes:    size,
		ContentHash:  hash,
		MimeType:     sniffMimeType(originalName),
		PluginSource: opts.Plugin,
		Category:     category,
		Tier:         tier,
		Tags:         normalizeTags(opts.Tags),
		Description:  opts.Description,
		Metadata:     opts.Metadata,
		CreatedAt:    now,
		AccessedAt:   now,
	}

	if err := m.index.Put(rec); err != nil {
		// No record may point at a file we failed to register; remove the
		// content so the tree and index stay consistent.
		os.Remove(targetPath)
		return nil, err
	}

	logger.Info("Stored %s as %s (%d bytes, tier %s)", originalName, storedName, size, tier)
	m.metrics.RecordStoredBytes(size)
	m.publish("files.uploaded", map[string]any{
		"file_id":  rec.ID,
		"filename": rec.OriginalName,
		"tier":     string(rec.Tier),
		"size":     rec.SizeBytes,
	})
	return rec, nil
}

// Retrieve returns the content and record for id, bumping access stats on
// full success only. Metadata without a backing file surfaces
// archive.ErrOrphanedMetadata, distinct from a plain not-found.
func (m *Manager) Retrieve(id string) (data []byte, rec *archive.FileRecord, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation("retrieve", time.Since(start), err) }()

	rec, err = m.index.Get(id)
	if err != nil {
		return nil, nil, err
	}

	data, err = os.ReadFile(rec.AbsolutePath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Error("Record %s has no backing file at %s", id, rec.AbsolutePath)
			return nil, nil, fmt.Errorf("record %s: %w", id, archive.ErrOrphanedMetadata)
		}
		return nil, nil, fmt.Errorf("failed to read content for %s: %w", id, err)
	}

	m.index.RecordAccess(id)
	rec.AccessCount++
	rec.AccessedAt = time.Now()

	m.metrics.RecordRetrievedBytes(int64(len(data)))
	return data, rec, nil
}

// MoveTier relocates the record's content to the target tier, preserving
// the plugin/category substructure. Either both the physical move and the
// metadata update succeed, or the pre-move state remains authoritative.
func (m *Manager) MoveTier(id string, target archive.Tier) (moved bool, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation("move_tier", time.Since(start), err) }()

	if !target.Valid() {
		return false, archive.NewValidationError("tier", fmt.Sprintf("unknown tier %q", target))
	}

	unlock := m.lockRecord(id)
	defer unlock()

	rec, err := m.index.Get(id)
	if err != nil {
		if archiveIsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if rec.Tier == target {
		return true, nil
	}

	oldPath := rec.AbsolutePath
	oldSidecar := index.SidecarPath(oldPath)

	targetDir := m.recordDir(target, rec.PluginSource, rec.Category)
	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return false, fmt.Errorf("failed to create target tier directory: %w", err)
	}
	targetPath := filepath.Join(targetDir, rec.StoredName)

	// Copy first so the original stays intact until the new location is
	// fully registered.
	if err := copyFile(oldPath, targetPath); err != nil {
		os.Remove(targetPath)
		if os.IsNotExist(err) {
			return false, fmt.Errorf("record %s: %w", id, archive.ErrOrphanedMetadata)
		}
		return false, fmt.Errorf("failed to copy content to tier %s: %w", target, err)
	}

	if m.beforeRegister != nil {
		if err := m.beforeRegister(); err != nil {
			os.Remove(targetPath)
			logger.Error("Tier move for %s aborted before metadata update: %v", id, err)
			return false, err
		}
	}

	rel, err := filepath.Rel(m.root, targetPath)
	if err != nil {
		rel = targetPath
	}

	updated := *rec
	updated.Tier = target
	updated.AbsolutePath = targetPath
	updated.RelativePath = rel

	if err := m.index.Put(&updated); err != nil {
		os.Remove(targetPath)
		logger.Error("Tier move for %s rolled back, old location stays authoritative: %v", id, err)
		return false, err
	}

	// The new location is now authoritative; drop the stale copies. Failures
	// here leave harmless leftovers, not inconsistency.
	if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Could not remove old content for %s: %v", id, err)
	}
	if err := os.Remove(oldSidecar); err != nil && !os.IsNotExist(err) {
		logger.Warn("Could not remove old sidecar for %s: %v", id, err)
	}

	logger.Info("Moved %s to %s tier", rec.StoredName, target)
	m.metrics.RecordTierMove(string(target))
	m.publish("files.moved", map[string]any{
		"file_id": id,
		"from":    string(rec.Tier),
		"to":      string(target),
	})
	return true, nil
}

// Delete removes both the content file and its sidecar, tolerating either
// being already gone. It returns false when no record exists.
func (m *Manager) Delete(id string) (deleted bool, err error) {
	start := time.Now()
	defer func() { m.metrics.ObserveOperation("delete", time.Since(start), err) }()

	unlock := m.lockRecord(id)
	defer unlock()

	rec, err := m.index.Get(id)
	if err != nil {
		if archiveIsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	if err := os.Remove(rec.AbsolutePath); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove content for %s: %w", id, err)
	}

	if _, err := m.index.Delete(id); err != nil {
		return false, err
	}

	logger.Info("Removed %s from the archive", rec.OriginalName)
	m.publish("files.deleted", map[string]any{
		"file_id":  id,
		"filename": rec.OriginalName,
	})
	return true, nil
}

// CleanupTemp removes files under the temp area older than the cutoff.
// Individual removal failures are logged and skipped, not counted.
func (m *Manager) CleanupTemp(olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	cleaned := 0

	err := filepath.WalkDir(m.TempDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if rerr := os.Remove(path); rerr != nil {
				logger.Warn("Could not clean temp file %s: %v", path, rerr)
				return nil
			}
			cleaned++
		}
		return nil
	})
	if err != nil {
		return cleaned, fmt.Errorf("temp cleanup walk failed: %w", err)
	}

	logger.Info("Cleaned up %d temporary files", cleaned)
	return cleaned, nil
}

func (m *Manager) recordDir(tier archive.Tier, plugin, category string) string {
	if plugin != "" {
		return filepath.Join(m.root, tier.Dir(), plugin, category)
	}
	return filepath.Join(m.root, tier.Dir(), "media", category)
}

func (m *Manager) lockRecord(id string) func() {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) publish(topic string, payload map[string]any) {
	if m.events != nil {
		m.events.Publish(topic, payload)
	}
}

func archiveIsNotFound(err error) bool {
	return errors.Is(err, archive.ErrNotFound)
}

func writeAndHash(path string, content io.Reader) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", err
	}

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hasher), content)
	if err != nil {
		f.Close()
		return 0, "", err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return 0, "", err
	}
	if err := f.Close(); err != nil {
		return 0, "", err
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func sniffMimeType(name string) string {
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func normalizeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
