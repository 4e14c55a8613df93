package scheduler

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkived/pkg/archive"
	"arkived/pkg/backup"
	"arkived/pkg/config"
	"arkived/pkg/index"
	"arkived/pkg/storage"
	"arkived/pkg/token"
)

type capturingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *capturingPublisher) Publish(topic string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
}

func (p *capturingPublisher) all() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.topics))
	copy(out, p.topics)
	return out
}

func newTestScheduler(t *testing.T) (*Scheduler, *storage.Manager, *backup.Engine, *capturingPublisher) {
	t.Helper()
	base := t.TempDir()
	storageRoot := filepath.Join(base, "storage")

	ix, err := index.New(storageRoot, nil)
	require.NoError(t, err)
	manager, err := storage.NewManager(storageRoot, ix, nil)
	require.NoError(t, err)

	tokens, err := token.NewStore(filepath.Join(base, "tokens.json"))
	require.NoError(t, err)

	engine, err := backup.NewEngine(filepath.Join(base, "backups"), backup.Sources{
		TokenRegistryPath: tokens.Path(),
		StorageRoot:       storageRoot,
		Index:             ix,
	}, nil, nil)
	require.NoError(t, err)

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Root = storageRoot

	pub := &capturingPublisher{}
	return New(cfg, manager, engine, nil, pub), manager, engine, pub
}

func TestBackupJobPublishesLifecycleEvents(t *testing.T) {
	s, manager, engine, pub := newTestScheduler(t)

	_, err := manager.Store(strings.NewReader("payload"), "a.txt", archive.TierHot, storage.StoreOptions{})
	require.NoError(t, err)

	s.RunBackupJob()

	topics := pub.all()
	assert.Contains(t, topics, "jobs.started")
	assert.Contains(t, topics, "jobs.completed")

	manifests, err := engine.ListAvailableBackups()
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, time.Now().Format(backup.DateLayout), manifests[0].BackupDate)
}

func TestMaintenanceJobSweepsTempArea(t *testing.T) {
	s, manager, _, pub := newTestScheduler(t)

	stale := filepath.Join(manager.TempDir(), "stale.partial")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	past := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, past, past))

	s.RunMaintenanceJob()

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, pub.all(), "jobs.completed")
}

func TestMaintenanceJobPrunesOldBackups(t *testing.T) {
	s, _, engine, _ := newTestScheduler(t)

	for _, date := range []string{"2020-01-01", time.Now().Format(backup.DateLayout)} {
		_, err := engine.CreateDailyBackup(date)
		require.NoError(t, err)
	}

	s.RunMaintenanceJob()

	manifests, err := engine.ListAvailableBackups()
	require.NoError(t, err)
	assert.Len(t, manifests, 1)
}
