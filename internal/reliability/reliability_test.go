package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/database"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore(keys ...string) *memoryStore {
	s := &memoryStore{objects: make(map[string][]byte)}
	for _, k := range keys {
		s.objects[k] = []byte("x")
	}
	return s
}

func (s *memoryStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Object
	for k, v := range s.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Object{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memoryStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func newTestDB(t *testing.T, dir, name string) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, name+".db"),
		Profile: database.ProfileLedger,
		Name:    name,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = content
	}
	return files
}

func TestBackupService_CreateAndUpload(t *testing.T) {
	dir := t.TempDir()
	ledger := newTestDB(t, dir, database.NameLedger)
	decisions := newTestDB(t, dir, database.NameDecisions)
	store := newMemoryStore()

	svc := NewBackupService(store, []*database.DB{ledger, decisions, nil}, dir, 30, testLogger())
	svc.now = func() time.Time { return time.Date(2026, 1, 8, 14, 30, 22, 0, time.UTC) }

	key, err := svc.CreateAndUploadBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "nexus-backup-2026-01-08-143022.tar.gz", key)

	files := readArchive(t, store.objects[key])
	assert.Contains(t, files, "ledger.db")
	assert.Contains(t, files, "decisions.db")

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFile], &metadata))
	require.Len(t, metadata.Databases, 2)
	assert.Equal(t, "ledger", metadata.Databases[0].Name)
	assert.True(t, strings.HasPrefix(metadata.Databases[0].Checksum, "sha256:"))
	assert.Equal(t, int64(len(files["ledger.db"])), metadata.Databases[0].SizeBytes)
}

func TestBackupService_RotateKeepsNewestThree(t *testing.T) {
	store := newMemoryStore(
		"nexus-backup-2026-01-01-000000.tar.gz",
		"nexus-backup-2025-12-01-000000.tar.gz",
		"nexus-backup-2025-11-01-000000.tar.gz",
		"nexus-backup-2025-10-01-000000.tar.gz",
		"nexus-backup-2025-09-01-000000.tar.gz",
		"unrelated.txt",
	)
	svc := NewBackupService(store, nil, t.TempDir(), 30, testLogger())
	svc.now = func() time.Time { return time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC) }

	backups, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.Equal(t, "nexus-backup-2026-01-01-000000.tar.gz", backups[0].Filename)
	assert.Equal(t, int64(9*24), backups[0].AgeHours)

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Equal(t, []string{
		"nexus-backup-2025-11-01-000000.tar.gz",
		"nexus-backup-2025-12-01-000000.tar.gz",
		"nexus-backup-2026-01-01-000000.tar.gz",
		"unrelated.txt",
	}, store.keys())
}

func TestBackupService_ZeroRetentionKeepsEverything(t *testing.T) {
	store := newMemoryStore(
		"nexus-backup-2020-01-01-000000.tar.gz",
		"nexus-backup-2020-01-02-000000.tar.gz",
		"nexus-backup-2020-01-03-000000.tar.gz",
		"nexus-backup-2020-01-04-000000.tar.gz",
	)
	svc := NewBackupService(store, nil, t.TempDir(), 0, testLogger())

	require.NoError(t, svc.RotateOldBackups(context.Background()))
	assert.Len(t, store.keys(), 4)
}

func TestMaintenanceJob(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t, dir, database.NameLedger)

	job := NewMaintenanceJob([]*database.DB{db}, dir, func(string) (float64, error) { return 50, nil }, testLogger())
	assert.Equal(t, "maintenance", job.Name())
	assert.NoError(t, job.Run())

	job = NewMaintenanceJob([]*database.DB{db}, dir, func(string) (float64, error) { return 0.1, nil }, testLogger())
	assert.Error(t, job.Run())

	job = NewMaintenanceJob(nil, dir, func(string) (float64, error) { return 0, errors.New("statfs failed") }, testLogger())
	assert.Error(t, job.Run())
}
