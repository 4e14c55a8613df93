package index

import (
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"arkived/internal/logger"
)

// Cache maps record ids to sidecar paths in an embedded BadgerDB so Get(id)
// avoids a full directory scan. It is a pure accelerator: entries are
// rebuilt from the directory tree on startup and verified against the
// sidecar on every hit, so a stale or lost cache only costs a rescan.
type Cache struct {
	db *badger.DB
}

// keyRecord namespaces id keys so future cache data can share the database.
func keyRecord(id string) []byte {
	return []byte("rec:" + id)
}

// OpenCache opens (or creates) the cache database at dir.
func OpenCache(dir string) (*Cache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open sidecar cache: %w", err)
	}

	logger.Debug("Sidecar cache opened at %s", dir)
	return &Cache{db: db}, nil
}

// Put records the sidecar path for an id.
func (c *Cache) Put(id, sidecarPath string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyRecord(id), []byte(sidecarPath))
	})
}

// Get returns the cached sidecar path for an id.
func (c *Cache) Get(id string) (string, bool) {
	var path string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRecord(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			path = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false
	}
	return path, true
}

// Delete drops the cache entry for an id. Missing entries are not an error.
func (c *Cache) Delete(id string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyRecord(id))
	})
	if err != nil {
		logger.Warn("Failed to drop cache entry for %s: %v", id, err)
	}
}

// Close flushes and closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
