package storage

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"arkived/pkg/archive"
	"arkived/pkg/index"
)

// Stats summarizes the archive contents by record count and size.
type Stats struct {
	TotalFiles     int              `json:"total_files"`
	TotalSizeBytes int64            `json:"total_size_bytes"`
	ByPlugin       map[string]int   `json:"by_plugin"`
	ByTier         map[string]int   `json:"by_tier"`
	ByMimeCategory map[string]int   `json:"by_mime_category"`
	DirSizeBytes   map[string]int64 `json:"dir_size_bytes"`
}

// Stats aggregates counts from the metadata index and on-disk sizes from
// the tier directories.
func (m *Manager) Stats() (*Stats, error) {
	records, err := m.index.Export()
	if err != nil {
		return nil, err
	}

	st := &Stats{
		ByPlugin:       make(map[string]int),
		ByTier:         make(map[string]int),
		ByMimeCategory: make(map[string]int),
		DirSizeBytes:   make(map[string]int64),
	}

	for _, rec := range records {
		st.TotalFiles++
		st.TotalSizeBytes += rec.SizeBytes

		plugin := rec.PluginSource
		if plugin == "" {
			plugin = "media"
		}
		st.ByPlugin[plugin]++
		st.ByTier[string(rec.Tier)]++
		st.ByMimeCategory[rec.MimeCategory()]++
	}

	for _, tier := range []archive.Tier{
		archive.TierHot, archive.TierWarm, archive.TierCold, archive.TierVault,
	} {
		size, err := dirSize(filepath.Join(m.root, tier.Dir()))
		if err != nil {
			return nil, fmt.Errorf("failed to size %s tier: %w", tier, err)
		}
		st.DirSizeBytes[string(tier)] = size
	}

	return st, nil
}

// dirSize sums regular file sizes under dir, skipping metadata sidecars so
// the reported figure reflects stored content only.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, index.SidecarSuffix) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total, err
}
