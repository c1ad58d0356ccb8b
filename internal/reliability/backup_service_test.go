package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/events"
	testingpkg "github.com/aristath/arbiter/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.objects, key)
	return nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTestBackupService(t *testing.T, store ObjectStore, keepLast int, em *events.Manager) *BackupService {
	t.Helper()
	market := testingpkg.NewTestDB(t, database.NameMarket)
	operations := testingpkg.NewTestDB(t, database.NameOperations)
	return NewBackupService(
		[]*database.DB{market, operations},
		store,
		"memory",
		keepLast,
		t.TempDir(),
		em,
		zerolog.Nop(),
	)
}

func archiveEntries(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	entries := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries[hdr.Name] = body
	}
	return entries
}

func TestBackupService_RunUploadsArchive(t *testing.T) {
	store := newMemStore()
	svc := newTestBackupService(t, store, 3, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) }

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	key := "arbiter-backup-2026-03-01-030000.tar.gz"
	assert.Equal(t, []string{key}, result.Keys)
	assert.Equal(t, 0, result.Pruned)
	assert.Positive(t, result.SizeBytes)

	entries := archiveEntries(t, store.objects[key])
	assert.Contains(t, entries, "market.db")
	assert.Contains(t, entries, "operations.db")
	require.Contains(t, entries, metadataFilename)

	var meta BackupMetadata
	require.NoError(t, json.Unmarshal(entries[metadataFilename], &meta))
	require.Len(t, meta.Databases, 2)
	assert.Equal(t, "market", meta.Databases[0].Name)
	assert.True(t, strings.HasPrefix(meta.Databases[0].Checksum, "sha256:"))
	assert.Equal(t, int64(len(entries["market.db"])), meta.Databases[0].SizeBytes)
}

func TestBackupService_RotateKeepsNewest(t *testing.T) {
	store := newMemStore()
	svc := newTestBackupService(t, store, 2, nil)

	base := time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		day := base.AddDate(0, 0, i)
		svc.now = func() time.Time { return day }
		_, err := svc.Run(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"arbiter-backup-2026-03-03-030000.tar.gz",
		"arbiter-backup-2026-03-04-030000.tar.gz",
	}, store.keys())
}

func TestBackupService_ListSkipsForeignKeys(t *testing.T) {
	store := newMemStore()
	store.objects["arbiter-backup-2026-01-02-000000.tar.gz"] = []byte("a")
	store.objects["arbiter-backup-2026-01-03-000000.tar.gz"] = []byte("bb")
	store.objects["arbiter-backup-garbage.tar.gz"] = []byte("c")
	svc := newTestBackupService(t, store, 5, nil)

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "arbiter-backup-2026-01-03-000000.tar.gz", backups[0].Key)
	assert.Equal(t, int64(2), backups[0].SizeBytes)
}

func TestBackupService_DeleteFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	store.objects["arbiter-backup-2020-01-01-000000.tar.gz"] = []byte("old")
	store.deleteErr = errors.New("denied")
	svc := newTestBackupService(t, store, 1, nil)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Pruned)
	assert.Len(t, store.keys(), 2)
}

func TestBackupService_EmitsCompletedEvent(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	got := make(chan *events.Event, 1)
	bus.Subscribe(events.BackupCompleted, func(e *events.Event) { got <- e })

	store := newMemStore()
	svc := newTestBackupService(t, store, 3, events.NewManager(bus, zerolog.Nop()))

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	select {
	case e := <-got:
		data, ok := e.GetTypedData().(*events.BackupCompletedData)
		require.True(t, ok)
		assert.Equal(t, "memory", data.Provider)
		assert.Equal(t, result.Keys, data.Keys)
	case <-time.After(2 * time.Second):
		t.Fatal("no BackupCompleted event")
	}
}

func TestBackupService_NoStore(t *testing.T) {
	svc := NewBackupService(nil, nil, "none", 3, t.TempDir(), nil, zerolog.Nop())
	_, err := svc.Run(context.Background())
	assert.Error(t, err)
}
