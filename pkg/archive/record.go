// Package archive defines the core domain types shared by the storage,
// index, backup, and API layers: file records, storage tiers, permissions,
// and the error taxonomy.
package archive

import (
	"strings"
	"time"
)

// Tier identifies the physical storage class of a file. It affects directory
// placement only, not durability or performance guarantees.
type Tier string

const (
	TierHot   Tier = "hot"
	TierWarm  Tier = "warm"
	TierCold  Tier = "cold"
	TierVault Tier = "vault"
)

// Valid reports whether t is one of the recognized storage tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold, TierVault:
		return true
	}
	return false
}

// Dir returns the directory name used for this tier under the storage root.
func (t Tier) Dir() string {
	return string(t)
}

// ParseTier normalizes and validates a tier string. An empty string maps to
// TierHot.
func ParseTier(s string) (Tier, bool) {
	if s == "" {
		return TierHot, true
	}
	t := Tier(strings.ToLower(s))
	return t, t.Valid()
}

// DefaultCategory is the sub-classification used when a caller does not
// specify one.
const DefaultCategory = "data"

// FileRecord is the sidecar metadata persisted for every stored file.
// Exactly one record exists per content file; the sidecar filename is derived
// deterministically from the content file's path.
type FileRecord struct {
	// ID is an opaque unique identifier assigned at creation. Immutable.
	ID string `json:"id"`

	// OriginalName is the filename as provided by the uploader.
	OriginalName string `json:"original_name"`

	// StoredName is the sanitized, collision-resistant on-disk filename.
	StoredName string `json:"stored_name"`

	// RelativePath is the content file path relative to the storage root.
	RelativePath string `json:"relative_path"`

	// AbsolutePath is the full content file path on disk. Updated when the
	// file moves between tiers.
	AbsolutePath string `json:"absolute_path"`

	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`
	MimeType    string `json:"mime_type"`

	// PluginSource groups records by the subsystem that produced them.
	// Empty for direct uploads.
	PluginSource string `json:"plugin_source,omitempty"`

	// Category is a sub-classification within a plugin's namespace.
	Category string `json:"category"`

	Tier Tier     `json:"tier"`
	Tags []string `json:"tags"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// CreatedAt is immutable after creation.
	CreatedAt time.Time `json:"created_at"`

	// AccessedAt and AccessCount are updated on every successful read.
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int64     `json:"access_count"`
}

// HasTag reports whether the record carries the given tag.
func (r *FileRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MimeCategory returns the top-level MIME category ("image", "text", ...) or
// "unknown" when the type is missing or malformed.
func (r *FileRecord) MimeCategory() string {
	if i := strings.IndexByte(r.MimeType, '/'); i > 0 {
		return r.MimeType[:i]
	}
	return "unknown"
}
