package index

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkived/pkg/archive"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	return ix
}

func putRecord(t *testing.T, ix *Index, name string, created time.Time, mutate func(*archive.FileRecord)) *archive.FileRecord {
	t.Helper()

	dir := filepath.Join(ix.Root(), "hot", "media", "data")
	require.NoError(t, os.MkdirAll(dir, 0755))

	abs := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(abs, []byte("content of "+name), 0644))

	rec := &archive.FileRecord{
		ID:           uuid.NewString(),
		OriginalName: name,
		StoredName:   name,
		RelativePath: filepath.Join("hot", "media", "data", name),
		AbsolutePath: abs,
		SizeBytes:    int64(len("content of " + name)),
		MimeType:     "text/plain",
		Category:     archive.DefaultCategory,
		Tier:         archive.TierHot,
		Tags:         []string{},
		CreatedAt:    created,
		AccessedAt:   created,
	}
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, ix.Put(rec))
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	rec := putRecord(t, ix, "notes.txt", time.Now(), func(r *archive.FileRecord) {
		r.Tags = []string{"notes", "demo"}
		r.Metadata = map[string]any{"source": "unit"}
	})

	got, err := ix.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Tags, got.Tags)
	assert.Equal(t, "unit", got.Metadata["source"])
}

func TestGetUnknownID(t *testing.T) {
	ix := newTestIndex(t)
	_, err := ix.Get("no-such-id")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestPutIsAtomic(t *testing.T) {
	ix := newTestIndex(t)
	rec := putRecord(t, ix, "stable.txt", time.Now(), nil)

	// No temp file may remain after a successful Put.
	entries, err := os.ReadDir(filepath.Dir(rec.AbsolutePath))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestSearchOrdering(t *testing.T) {
	ix := newTestIndex(t)
	base := time.Now().Add(-time.Hour)

	putRecord(t, ix, "oldest.txt", base, nil)
	putRecord(t, ix, "middle.txt", base.Add(10*time.Minute), nil)
	newest := putRecord(t, ix, "newest.txt", base.Add(20*time.Minute), nil)

	results, err := ix.Search(Filters{}, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, newest.ID, results[0].ID)
	assert.Equal(t, "oldest.txt", results[2].OriginalName)
}

func TestSearchLimit(t *testing.T) {
	ix := newTestIndex(t)
	for i := 0; i < 5; i++ {
		putRecord(t, ix, uuid.NewString()+".txt", time.Now(), nil)
	}

	results, err := ix.Search(Filters{}, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchTagsUseORSemantics(t *testing.T) {
	ix := newTestIndex(t)
	putRecord(t, ix, "tagged.txt", time.Now(), func(r *archive.FileRecord) {
		r.Tags = []string{"a", "b"}
	})

	// One overlapping tag is enough.
	results, err := ix.Search(Filters{Tags: []string{"b", "c"}}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// No overlap at all excludes the record.
	results, err = ix.Search(Filters{Tags: []string{"c", "d"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchQueryMatchesFilenameTagsAndMetadata(t *testing.T) {
	ix := newTestIndex(t)
	putRecord(t, ix, "report-2024.pdf", time.Now(), func(r *archive.FileRecord) {
		r.Tags = []string{"finance"}
		r.Metadata = map[string]any{"quarter": "Q3"}
	})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"filename match", "report", 1},
		{"case-insensitive filename", "REPORT", 1},
		{"tag match", "finance", 1},
		{"metadata match", "q3", 1},
		{"no match", "vacation", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := ix.Search(Filters{Query: tt.query}, 10)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestSearchFilters(t *testing.T) {
	ix := newTestIndex(t)
	putRecord(t, ix, "photo.png", time.Now(), func(r *archive.FileRecord) {
		r.MimeType = "image/png"
		r.PluginSource = "media"
	})
	putRecord(t, ix, "cold.txt", time.Now(), func(r *archive.FileRecord) {
		r.Tier = archive.TierCold
	})

	results, err := ix.Search(Filters{MimePrefix: "image"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "photo.png", results[0].OriginalName)

	results, err = ix.Search(Filters{Plugin: "media"}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = ix.Search(Filters{Tier: archive.TierCold}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "cold.txt", results[0].OriginalName)
}

func TestSearchDateRange(t *testing.T) {
	ix := newTestIndex(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now().Add(-time.Hour)

	putRecord(t, ix, "old.txt", old, nil)
	putRecord(t, ix, "recent.txt", recent, nil)

	results, err := ix.Search(Filters{DateFrom: time.Now().Add(-2 * time.Hour)}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "recent.txt", results[0].OriginalName)

	results, err = ix.Search(Filters{DateTo: time.Now().Add(-24 * time.Hour)}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "old.txt", results[0].OriginalName)
}

func TestSearchSkipsCorruptSidecar(t *testing.T) {
	ix := newTestIndex(t)
	putRecord(t, ix, "good.txt", time.Now(), nil)

	// Plant a sidecar that is not valid JSON.
	bad := filepath.Join(ix.Root(), "hot", "broken.bin"+SidecarSuffix)
	require.NoError(t, os.MkdirAll(filepath.Dir(bad), 0755))
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0644))

	results, err := ix.Search(Filters{}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDelete(t *testing.T) {
	ix := newTestIndex(t)
	rec := putRecord(t, ix, "gone.txt", time.Now(), nil)

	ok, err := ix.Delete(rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ix.Get(rec.ID)
	assert.ErrorIs(t, err, archive.ErrNotFound)

	ok, err = ix.Delete(rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordAccess(t *testing.T) {
	ix := newTestIndex(t)
	rec := putRecord(t, ix, "counted.txt", time.Now(), nil)

	ix.RecordAccess(rec.ID)
	ix.RecordAccess(rec.ID)

	got, err := ix.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.AccessCount)
	assert.True(t, got.AccessedAt.After(rec.AccessedAt) || got.AccessedAt.Equal(rec.AccessedAt))
}

func TestCacheAcceleratesGet(t *testing.T) {
	root := t.TempDir()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	ix, err := New(root, cache)
	require.NoError(t, err)
	defer ix.Close()

	rec := putRecord(t, ix, "cached.txt", time.Now(), nil)

	path, ok := cache.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, SidecarPath(rec.AbsolutePath), path)

	got, err := ix.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestCacheRebuildOnStartup(t *testing.T) {
	root := t.TempDir()

	// Create records without a cache.
	ix, err := New(root, nil)
	require.NoError(t, err)
	rec := putRecord(t, ix, "preexisting.txt", time.Now(), nil)

	// Reopen with a fresh cache; it must pick up the existing sidecar.
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	ix2, err := New(root, cache)
	require.NoError(t, err)
	defer ix2.Close()

	_, ok := cache.Get(rec.ID)
	assert.True(t, ok)
}

func TestStaleCacheEntryFallsBackToScan(t *testing.T) {
	root := t.TempDir()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)

	ix, err := New(root, cache)
	require.NoError(t, err)
	defer ix.Close()

	rec := putRecord(t, ix, "moved.txt", time.Now(), nil)

	// Poison the cache with a path that no longer exists.
	require.NoError(t, cache.Put(rec.ID, filepath.Join(root, "nowhere"+SidecarSuffix)))

	got, err := ix.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestFindByNameScansPastSearchLimit(t *testing.T) {
	ix := newTestIndex(t)

	base := time.Now().Add(-time.Hour)
	target := putRecord(t, ix, "report.txt", base, nil)

	// Flood the index with newer records whose names contain the same
	// substring, more than a limited Search would return.
	for i := 0; i < 110; i++ {
		putRecord(t, ix, fmt.Sprintf("report-%03d.txt", i), base.Add(time.Duration(i+1)*time.Second), nil)
	}

	rec, err := ix.FindByName("report.txt")
	require.NoError(t, err)
	assert.Equal(t, target.ID, rec.ID)

	_, err = ix.FindByName("missing.txt")
	assert.ErrorIs(t, err, archive.ErrNotFound)
}

func TestFindByNameReturnsNewestDuplicate(t *testing.T) {
	ix := newTestIndex(t)

	sameName := func(r *archive.FileRecord) { r.OriginalName = "draft.txt" }
	putRecord(t, ix, "draft-v1.txt", time.Now().Add(-2*time.Hour), sameName)
	newer := putRecord(t, ix, "draft-v2.txt", time.Now().Add(-time.Hour), sameName)

	rec, err := ix.FindByName("draft.txt")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, rec.ID)
}
