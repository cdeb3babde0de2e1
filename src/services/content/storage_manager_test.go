package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduassist/api/src/drivers/storage"
	"github.com/eduassist/api/src/models"
)

// memStore is an in-memory Provider for exercising the manager without
// touching disk or the network.
type memStore struct {
	mu        sync.Mutex
	files     map[string]map[string][]byte
	available bool
	saveErr   error
	deleteErr error
}

func newMemStore() *memStore {
	return &memStore{files: make(map[string]map[string][]byte), available: true}
}

func (s *memStore) SaveFile(_ context.Context, user, filename string, content io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[user] == nil {
		s.files[user] = make(map[string][]byte)
	}
	s.files[user][filename] = data
	return nil
}

func (s *memStore) GetFile(_ context.Context, user, filename string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[user][filename]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) DeleteFile(_ context.Context, user, filename string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[user][filename]; !ok {
		return storage.ErrNotFound
	}
	delete(s.files[user], filename)
	return nil
}

func (s *memStore) ListFiles(_ context.Context, user string) ([]models.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]models.FileRecord, 0, len(s.files[user]))
	for name, data := range s.files[user] {
		records = append(records, models.FileRecord{Filename: name, Size: int64(len(data))})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

func (s *memStore) FileExists(_ context.Context, user, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[user][filename]
	return ok, nil
}

func (s *memStore) IsAvailable(_ context.Context, _ string) bool {
	return s.available
}

func (s *memStore) put(user, filename, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.files[user] == nil {
		s.files[user] = make(map[string][]byte)
	}
	s.files[user][filename] = []byte(content)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestManager(t *testing.T, remote *memStore) (*StorageManager, *memStore, string) {
	t.Helper()
	local := newMemStore()
	prefsPath := filepath.Join(t.TempDir(), "storage_preferences.json")
	manager, err := NewStorageManager(prefsPath, local, func() (storage.Provider, error) {
		return remote, nil
	}, quietLogger())
	require.NoError(t, err)
	return manager, local, prefsPath
}

func TestPreferenceDefaultsToLocal(t *testing.T) {
	manager, _, _ := newTestManager(t, newMemStore())
	assert.Equal(t, models.ProviderLocal, manager.Preference("nobody@example.com"))
}

func TestSetPreferenceRejectsUnknownProvider(t *testing.T) {
	manager, _, _ := newTestManager(t, newMemStore())

	err := manager.SetPreference("alice@example.com", "dropbox")
	require.ErrorIs(t, err, ErrUnknownProvider)
	assert.Equal(t, models.ProviderLocal, manager.Preference("alice@example.com"))
}

func TestSetPreferencePersistsAcrossRestart(t *testing.T) {
	remote := newMemStore()
	manager, local, prefsPath := newTestManager(t, remote)

	require.NoError(t, manager.SetPreference("alice@example.com", models.ProviderGoogleDrive))

	reloaded, err := NewStorageManager(prefsPath, local, func() (storage.Provider, error) {
		return remote, nil
	}, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGoogleDrive, reloaded.Preference("alice@example.com"))
	assert.Equal(t, models.ProviderLocal, reloaded.Preference("bob@example.com"))
}

func TestRemoteConstructedOnce(t *testing.T) {
	local := newMemStore()
	remote := newMemStore()
	prefsPath := filepath.Join(t.TempDir(), "storage_preferences.json")

	calls := 0
	manager, err := NewStorageManager(prefsPath, local, func() (storage.Provider, error) {
		calls++
		return remote, nil
	}, quietLogger())
	require.NoError(t, err)

	require.NoError(t, manager.SetPreference("alice@example.com", models.ProviderGoogleDrive))
	manager.ResolveEffective(context.Background(), "alice@example.com")
	_, err = manager.Resolve("alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
}

func TestRemoteConstructionRetriedAfterFailure(t *testing.T) {
	local := newMemStore()
	remote := newMemStore()
	prefsPath := filepath.Join(t.TempDir(), "storage_preferences.json")

	calls := 0
	manager, err := NewStorageManager(prefsPath, local, func() (storage.Provider, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("credentials file missing")
		}
		return remote, nil
	}, quietLogger())
	require.NoError(t, err)

	err = manager.SetPreference("alice@example.com", models.ProviderGoogleDrive)
	require.Error(t, err)
	assert.Equal(t, models.ProviderLocal, manager.Preference("alice@example.com"))

	require.NoError(t, manager.SetPreference("alice@example.com", models.ProviderGoogleDrive))
	assert.Equal(t, 2, calls)
}

func TestResolveEffectiveFallsBackToLocal(t *testing.T) {
	remote := newMemStore()
	remote.available = false
	manager, local, _ := newTestManager(t, remote)

	require.NoError(t, manager.SetPreference("alice@example.com", models.ProviderGoogleDrive))

	provider := manager.ResolveEffective(context.Background(), "alice@example.com")
	assert.Same(t, storage.Provider(local), provider)

	remote.available = true
	provider = manager.ResolveEffective(context.Background(), "alice@example.com")
	assert.Same(t, storage.Provider(remote), provider)
}

func TestMigrateMovesEveryFile(t *testing.T) {
	remote := newMemStore()
	manager, local, _ := newTestManager(t, remote)
	ctx := context.Background()

	local.put("alice@example.com", "notes.pdf", "pdf bytes")
	local.put("alice@example.com", "summary.txt", "summary")
	local.put("bob@example.com", "untouched.txt", "bob's file")

	report, err := manager.Migrate(ctx, "alice@example.com", models.ProviderLocal, models.ProviderGoogleDrive)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"notes.pdf", "summary.txt"}, report.Moved)
	assert.Empty(t, report.Failed)

	// Source is drained, destination has the content, other users untouched.
	records, err := local.ListFiles(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, records)

	content, err := remote.GetFile(ctx, "alice@example.com", "notes.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(content)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	exists, err := local.FileExists(ctx, "bob@example.com", "untouched.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Equal(t, models.ProviderGoogleDrive, manager.Preference("alice@example.com"))
}

func TestMigratePartialFailureKeepsSourceCopies(t *testing.T) {
	remote := newMemStore()
	remote.saveErr = fmt.Errorf("storage quota exceeded")
	manager, local, _ := newTestManager(t, remote)
	ctx := context.Background()

	local.put("alice@example.com", "notes.pdf", "pdf bytes")

	report, err := manager.Migrate(ctx, "alice@example.com", models.ProviderLocal, models.ProviderGoogleDrive)
	require.ErrorIs(t, err, ErrPartialMigration)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "notes.pdf", report.Failed[0].Filename)
	assert.Contains(t, report.Failed[0].Reason, "quota")

	// A failed write never deletes the original.
	exists, err := local.FileExists(ctx, "alice@example.com", "notes.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	// The preference still follows the migration once every file has been
	// attempted; stragglers stay reachable through a second migration run.
	assert.Equal(t, models.ProviderGoogleDrive, manager.Preference("alice@example.com"))
}

func TestMigrateFailedDeleteLeavesBothCopies(t *testing.T) {
	remote := newMemStore()
	manager, local, _ := newTestManager(t, remote)
	ctx := context.Background()

	local.put("alice@example.com", "notes.pdf", "pdf bytes")
	local.deleteErr = fmt.Errorf("device busy")

	report, err := manager.Migrate(ctx, "alice@example.com", models.ProviderLocal, models.ProviderGoogleDrive)
	require.ErrorIs(t, err, ErrPartialMigration)
	require.Len(t, report.Failed, 1)

	localCopy, err := local.FileExists(ctx, "alice@example.com", "notes.pdf")
	require.NoError(t, err)
	remoteCopy, err := remote.FileExists(ctx, "alice@example.com", "notes.pdf")
	require.NoError(t, err)
	assert.True(t, localCopy)
	assert.True(t, remoteCopy)
}

func TestMigrateRejectsBadProviderPairs(t *testing.T) {
	manager, _, _ := newTestManager(t, newMemStore())
	ctx := context.Background()

	_, err := manager.Migrate(ctx, "alice@example.com", models.ProviderLocal, models.ProviderLocal)
	require.Error(t, err)

	_, err = manager.Migrate(ctx, "alice@example.com", "dropbox", models.ProviderLocal)
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = manager.Migrate(ctx, "alice@example.com", models.ProviderLocal, "dropbox")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestProviderNames(t *testing.T) {
	manager, _, _ := newTestManager(t, newMemStore())
	assert.Equal(t, []string{models.ProviderLocal, models.ProviderGoogleDrive}, manager.ProviderNames())
}
