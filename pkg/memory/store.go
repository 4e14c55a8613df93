// Package memory provides the structured memory store, a SQLite-backed
// archive of free-form text entries that complements the file archive.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"arkived/internal/logger"
	"arkived/pkg/archive"
)

const schema = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_type    TEXT NOT NULL,
	content       TEXT NOT NULL,
	plugin_source TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '',
	metadata      TEXT,
	confidence    REAL NOT NULL DEFAULT 1.0,
	created_at    TEXT NOT NULL,
	archived      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries(entry_type);
CREATE INDEX IF NOT EXISTS idx_memory_entries_created ON memory_entries(created_at);
`

// Entry is one stored memory record.
type Entry struct {
	ID           int64          `json:"id"`
	EntryType    string         `json:"entry_type"`
	Content      string         `json:"content"`
	PluginSource string         `json:"plugin_source,omitempty"`
	Tags         []string       `json:"tags"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Confidence   float64        `json:"confidence"`
	CreatedAt    time.Time      `json:"created_at"`
	Archived     bool           `json:"archived"`
}

// SearchFilters narrows a memory search. Zero values match everything.
type SearchFilters struct {
	Query     string
	EntryType string
	Plugin    string
	Tags      []string
	DateFrom  time.Time
	DateTo    time.Time
	Archived  bool
}

// Stats summarizes the memory store contents.
type Stats struct {
	TotalEntries   int            `json:"total_entries"`
	EntriesByType  map[string]int `json:"entries_by_type"`
	RecentActivity int            `json:"recent_activity_7d"`
}

// Store persists memory entries in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the memory database at path and applies the
// schema. The database uses WAL journaling so readers do not block writes.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	logger.Info("Memory store ready at %s", filepath.Clean(path))
	return &Store{db: db, path: path}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	// WAL interacts badly with concurrent writer connections; a single
	// connection keeps statement ordering deterministic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply memory schema: %w", err)
	}
	return db, nil
}

// Path returns the database file path, used by the backup engine.
func (s *Store) Path() string {
	return s.path
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SnapshotTo writes a consistent standalone copy of the database to path
// using VACUUM INTO. A raw copy of the main file would miss committed rows
// still sitting in the WAL; VACUUM INTO captures them regardless of
// checkpoint state. Any existing file at path is replaced.
func (s *Store) SnapshotTo(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear snapshot target: %w", err)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("failed to snapshot memory database: %w", err)
	}
	return nil
}

// ValidateSnapshot checks that the file at path is a readable memory
// database with a queryable memory_entries table.
func ValidateSnapshot(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("snapshot unreadable: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("snapshot unreadable: %w", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM memory_entries").Scan(&count); err != nil {
		return fmt.Errorf("snapshot corrupt: %w", err)
	}
	return nil
}

// RestoreFrom replaces the live database with the snapshot at path. The
// snapshot is validated before any live state is touched; a corrupt
// snapshot leaves the live database untouched and open.
func (s *Store) RestoreFrom(path string) error {
	if err := ValidateSnapshot(path); err != nil {
		return err
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close live database: %w", err)
	}

	if err := copyOver(path, s.path); err != nil {
		return fmt.Errorf("failed to restore memory database: %w", err)
	}
	// Stale WAL and shm files beside the old database would shadow the
	// restored content on reopen.
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear %s%s: %w", filepath.Base(s.path), suffix, err)
		}
	}

	db, err := openDB(s.path)
	if err != nil {
		return err
	}
	s.db = db

	logger.Info("Memory store restored from %s", path)
	return nil
}

func copyOver(src, dst string) error {
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

// StoreEntry inserts a new memory entry and returns its id.
func (s *Store) StoreEntry(entryType, content string, opts EntryOptions) (int64, error) {
	if entryType == "" {
		return 0, archive.NewValidationError("entry_type", "must not be empty")
	}
	if content == "" {
		return 0, archive.NewValidationError("content", "must not be empty")
	}

	confidence := opts.Confidence
	if confidence == 0 {
		confidence = 1.0
	}

	var metadataJSON sql.NullString
	if len(opts.Metadata) > 0 {
		raw, err := json.Marshal(opts.Metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO memory_entries (entry_type, content, plugin_source, tags, metadata, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entryType, content, opts.Plugin, strings.Join(opts.Tags, ","),
		metadataJSON, confidence, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to store memory entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory entry id: %w", err)
	}

	logger.Debug("Stored memory entry #%d (%s)", id, entryType)
	return id, nil
}

// EntryOptions carries the optional fields for StoreEntry.
type EntryOptions struct {
	Plugin     string
	Tags       []string
	Metadata   map[string]any
	Confidence float64
}

// Search returns entries matching the filters, newest first. limit <= 0
// defaults to 50.
func (s *Store) Search(filters SearchFilters, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	conditions := []string{"archived = ?"}
	args := []any{boolToInt(filters.Archived)}

	if filters.Query != "" {
		conditions = append(conditions, "(content LIKE ? OR tags LIKE ?)")
		like := "%" + filters.Query + "%"
		args = append(args, like, like)
	}
	if filters.EntryType != "" {
		conditions = append(conditions, "entry_type = ?")
		args = append(args, filters.EntryType)
	}
	if filters.Plugin != "" {
		conditions = append(conditions, "plugin_source = ?")
		args = append(args, filters.Plugin)
	}
	for _, tag := range filters.Tags {
		conditions = append(conditions, "tags LIKE ?")
		args = append(args, "%"+tag+"%")
	}
	if !filters.DateFrom.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filters.DateFrom.UTC().Format(time.RFC3339Nano))
	}
	if !filters.DateTo.IsZero() {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filters.DateTo.UTC().Format(time.RFC3339Nano))
	}

	query := fmt.Sprintf(`
		SELECT id, entry_type, content, plugin_source, tags, metadata, confidence, created_at, archived
		FROM memory_entries
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, strings.Join(conditions, " AND "))
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns a single entry by id.
func (s *Store) Get(id int64) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT id, entry_type, content, plugin_source, tags, metadata, confidence, created_at, archived
		FROM memory_entries WHERE id = ?`, id)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory entry %d: %w", id, archive.ErrNotFound)
	}
	return entry, err
}

// ArchiveOlderThan flags entries older than the cutoff as archived and
// returns how many were affected. Archived entries stay queryable with the
// Archived filter set.
func (s *Store) ArchiveOlderThan(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	res, err := s.db.Exec(`
		UPDATE memory_entries SET archived = 1
		WHERE created_at < ? AND archived = 0`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive old memory entries: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		logger.Info("Archived %d memory entries older than %d days", affected, days)
	}
	return affected, nil
}

// Stats reports entry counts, broken down by type, plus activity over the
// last seven days. Archived entries are excluded.
func (s *Store) Stats() (*Stats, error) {
	st := &Stats{EntriesByType: make(map[string]int)}

	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memory_entries WHERE archived = 0",
	).Scan(&st.TotalEntries); err != nil {
		return nil, fmt.Errorf("failed to count memory entries: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT entry_type, COUNT(*) FROM memory_entries
		WHERE archived = 0 GROUP BY entry_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to group memory entries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entryType string
		var count int
		if err := rows.Scan(&entryType, &count); err != nil {
			return nil, err
		}
		st.EntriesByType[entryType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	weekAgo := time.Now().UTC().AddDate(0, 0, -7).Format(time.RFC3339Nano)
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM memory_entries WHERE archived = 0 AND created_at >= ?", weekAgo,
	).Scan(&st.RecentActivity); err != nil {
		return nil, fmt.Errorf("failed to count recent memory entries: %w", err)
	}

	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry        Entry
		tags         string
		metadataJSON sql.NullString
		createdAt    string
		archived     int
	)
	if err := row.Scan(&entry.ID, &entry.EntryType, &entry.Content, &entry.PluginSource,
		&tags, &metadataJSON, &entry.Confidence, &createdAt, &archived); err != nil {
		return nil, err
	}

	if tags != "" {
		entry.Tags = strings.Split(tags, ",")
	} else {
		entry.Tags = []string{}
	}
	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata for entry %d: %w", entry.ID, err)
		}
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp for entry %d: %w", entry.ID, err)
	}
	entry.CreatedAt = ts
	entry.Archived = archived != 0

	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
