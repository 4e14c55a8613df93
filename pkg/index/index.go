// Package index implements the sidecar metadata index.
//
// Every stored content file has exactly one sidecar record next to it on
// disk, named "<stored file>.meta.json". The directory tree itself is the
// source of truth: searches scan all sidecars rather than maintaining a
// second database that could drift from the physical files. An optional
// BadgerDB cache accelerates id lookups without changing any externally
// observable filter or ordering semantics.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"arkived/internal/logger"
	"arkived/pkg/archive"
)

// SidecarSuffix is appended to a content file's name to derive its sidecar
// path.
const SidecarSuffix = ".meta.json"

// SidecarPath returns the sidecar record path for a content file.
func SidecarPath(contentPath string) string {
	return contentPath + SidecarSuffix
}

// Filters narrows a Search. Zero values mean "no constraint".
type Filters struct {
	// Query matches case-insensitively against the original filename, tags,
	// and a serialized view of the opaque metadata map.
	Query string

	Plugin string

	// Tags matches when the intersection with the record's tags is non-empty
	// (OR semantics).
	Tags []string

	// MimePrefix matches records whose MIME type starts with the prefix,
	// e.g. "image" or "image/png".
	MimePrefix string

	Tier archive.Tier

	DateFrom time.Time
	DateTo   time.Time
}

// Index persists and queries sidecar records under a storage root.
type Index struct {
	root  string
	cache *Cache // nil when the id cache is disabled
}

// New creates an index over the given storage root. cache may be nil.
func New(root string, cache *Cache) (*Index, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index root: %w", err)
	}

	idx := &Index{root: root, cache: cache}

	if cache != nil {
		if err := idx.rebuildCache(); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Root returns the storage root the index scans.
func (ix *Index) Root() string {
	return ix.root
}

// Put writes the sidecar record for rec atomically: the record is written to
// a temporary file and renamed into place, so a crash mid-write never leaves
// a half-written sidecar visible to scans.
func (ix *Index) Put(rec *archive.FileRecord) error {
	path := SidecarPath(rec.AbsolutePath)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sidecar for %s: %w", rec.ID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write sidecar for %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish sidecar for %s: %w", rec.ID, err)
	}

	if ix.cache != nil {
		if err := ix.cache.Put(rec.ID, path); err != nil {
			logger.Warn("Sidecar cache update failed for %s: %v", rec.ID, err)
		}
	}
	return nil
}

// Get returns the record with the given id, or archive.ErrNotFound.
func (ix *Index) Get(id string) (*archive.FileRecord, error) {
	if ix.cache != nil {
		if path, ok := ix.cache.Get(id); ok {
			rec, err := readSidecar(path)
			if err == nil && rec.ID == id {
				return rec, nil
			}
			// Stale or corrupt cache entry; fall through to the scan.
			ix.cache.Delete(id)
		}
	}

	var found *archive.FileRecord
	err := ix.walkSidecars(func(path string, rec *archive.FileRecord) bool {
		if rec.ID == id {
			found = rec
			if ix.cache != nil {
				if cerr := ix.cache.Put(id, path); cerr != nil {
					logger.Warn("Sidecar cache update failed for %s: %v", id, cerr)
				}
			}
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("record %s: %w", id, archive.ErrNotFound)
	}
	return found, nil
}

// Delete removes the sidecar for the given id. It returns false when no
// record exists. The backing content file is the storage manager's concern.
func (ix *Index) Delete(id string) (bool, error) {
	rec, err := ix.Get(id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := os.Remove(SidecarPath(rec.AbsolutePath)); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove sidecar for %s: %w", id, err)
	}

	if ix.cache != nil {
		ix.cache.Delete(id)
	}
	return true, nil
}

// Search scans all sidecars, applies the filters, and returns up to limit
// records ordered newest created_at first. Corrupt or unreadable sidecars
// are skipped with a warning; they never abort the scan.
func (ix *Index) Search(f Filters, limit int) ([]*archive.FileRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var results []*archive.FileRecord
	err := ix.walkSidecars(func(_ string, rec *archive.FileRecord) bool {
		if matches(rec, &f) {
			results = append(results, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// FindByName returns the newest record whose original filename equals name.
// Unlike Search, it scans every sidecar, so an exact match cannot be crowded
// out by a result limit.
func (ix *Index) FindByName(name string) (*archive.FileRecord, error) {
	var found *archive.FileRecord
	err := ix.walkSidecars(func(_ string, rec *archive.FileRecord) bool {
		if rec.OriginalName != name {
			return true
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			found = rec
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("file %s: %w", name, archive.ErrNotFound)
	}
	return found, nil
}

// RecordAccess bumps access_count and accessed_at for the given id. This is
// best-effort bookkeeping: failures are logged and swallowed so a successful
// read is never failed by a stats write.
func (ix *Index) RecordAccess(id string) {
	rec, err := ix.Get(id)
	if err != nil {
		logger.Warn("Could not update access stats for %s: %v", id, err)
		return
	}

	rec.AccessedAt = time.Now()
	rec.AccessCount++

	if err := ix.Put(rec); err != nil {
		logger.Warn("Could not persist access stats for %s: %v", id, err)
	}
}

// Export collects every readable sidecar record. Used by the backup engine
// to produce a consistent metadata export without touching live records.
func (ix *Index) Export() ([]*archive.FileRecord, error) {
	var records []*archive.FileRecord
	err := ix.walkSidecars(func(_ string, rec *archive.FileRecord) bool {
		records = append(records, rec)
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Close releases the id cache, if any.
func (ix *Index) Close() error {
	if ix.cache != nil {
		return ix.cache.Close()
	}
	return nil
}

// walkSidecars visits every sidecar under the root. The visitor returns
// false to stop early. Decode failures are logged and skipped.
func (ix *Index) walkSidecars(visit func(path string, rec *archive.FileRecord) bool) error {
	stop := fmt.Errorf("walk stopped")

	err := filepath.WalkDir(ix.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn("Skipping unreadable path %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, SidecarSuffix) {
			return nil
		}

		rec, rerr := readSidecar(path)
		if rerr != nil {
			logger.Warn("Skipping corrupt sidecar %s: %v", path, rerr)
			return nil
		}

		if !visit(path, rec) {
			return stop
		}
		return nil
	})
	if err == stop {
		return nil
	}
	return err
}

func (ix *Index) rebuildCache() error {
	count := 0
	err := ix.walkSidecars(func(path string, rec *archive.FileRecord) bool {
		if err := ix.cache.Put(rec.ID, path); err != nil {
			logger.Warn("Sidecar cache rebuild skipped %s: %v", rec.ID, err)
		} else {
			count++
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild sidecar cache: %w", err)
	}
	logger.Info("Sidecar cache rebuilt with %d records", count)
	return nil
}

func readSidecar(path string) (*archive.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var rec archive.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrCorruptSidecar, err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: missing id", archive.ErrCorruptSidecar)
	}
	return &rec, nil
}

func matches(rec *archive.FileRecord, f *Filters) bool {
	if f.Plugin != "" && rec.PluginSource != f.Plugin {
		return false
	}
	if f.MimePrefix != "" && !strings.HasPrefix(rec.MimeType, f.MimePrefix) {
		return false
	}
	if f.Tier != "" && rec.Tier != f.Tier {
		return false
	}

	if len(f.Tags) > 0 {
		any := false
		for _, want := range f.Tags {
			if rec.HasTag(want) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	if !f.DateFrom.IsZero() && rec.CreatedAt.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && rec.CreatedAt.After(f.DateTo) {
		return false
	}

	if f.Query != "" {
		metaBlob, _ := json.Marshal(rec.Metadata)
		searchable := strings.ToLower(strings.Join([]string{
			rec.OriginalName,
			strings.Join(rec.Tags, " "),
			string(metaBlob),
		}, " "))
		if !strings.Contains(searchable, strings.ToLower(f.Query)) {
			return false
		}
	}

	return true
}
