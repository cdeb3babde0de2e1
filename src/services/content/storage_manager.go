package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/drivers/storage"
	"github.com/eduassist/api/src/models"
)

var (
	// ErrUnknownProvider rejects preference or migration requests naming a
	// provider outside the registry. Surfaced to the caller, never persisted.
	ErrUnknownProvider = errors.New("unknown storage provider")

	// ErrPartialMigration reports that some files did not move; the
	// accompanying MigrationReport says which.
	ErrPartialMigration = errors.New("migration moved only part of the files")
)

// MigrationFailure records one file that could not be moved and why.
type MigrationFailure struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// MigrationReport details the outcome of a migration so the caller can
// decide whether to retry. Migration is not atomic: a failure partway can
// leave files split across both providers.
type MigrationReport struct {
	Moved  []string           `json:"moved"`
	Failed []MigrationFailure `json:"failed"`
}

// StorageManager resolves each user's preferred provider, lazily constructs
// the remote provider, falls back to local storage when the preference is
// unavailable, and drives migration between providers.
type StorageManager struct {
	prefsPath string
	local     storage.Provider
	newRemote func() (storage.Provider, error)
	logger    *logrus.Logger

	// mu serializes preference read-modify-write (one backing file shared by
	// all users) and the one-shot remote construction.
	mu     sync.Mutex
	prefs  map[string]string
	remote storage.Provider
}

// NewStorageManager loads the persisted preference map once at construction.
// newRemote is the single construction path for the remote provider, invoked
// at most once on first reference to it.
func NewStorageManager(prefsPath string, local storage.Provider, newRemote func() (storage.Provider, error), logger *logrus.Logger) (*StorageManager, error) {
	if local == nil {
		return nil, fmt.Errorf("local provider is required")
	}
	if newRemote == nil {
		return nil, fmt.Errorf("remote provider factory is required")
	}

	m := &StorageManager{
		prefsPath: prefsPath,
		local:     local,
		newRemote: newRemote,
		logger:    logger,
		prefs:     make(map[string]string),
	}

	if err := m.loadPreferences(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StorageManager) loadPreferences() error {
	data, err := os.ReadFile(m.prefsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read preferences: %w", err)
	}

	if err := json.Unmarshal(data, &m.prefs); err != nil {
		return fmt.Errorf("decode preferences %s: %w", m.prefsPath, err)
	}

	m.logger.WithField("users", len(m.prefs)).Info("storage: loaded preference map")
	return nil
}

// savePreferencesLocked persists the map write-through. Caller holds mu.
func (m *StorageManager) savePreferencesLocked() error {
	data, err := json.MarshalIndent(m.prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.WriteFile(m.prefsPath, data, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// ProviderNames lists the registry. The closed variant set: adding a backend
// means adding a name here and an implementation, not touching call sites.
func (m *StorageManager) ProviderNames() []string {
	return []string{models.ProviderLocal, models.ProviderGoogleDrive}
}

func validProviderName(name string) bool {
	return name == models.ProviderLocal || name == models.ProviderGoogleDrive
}

// ensureRemoteLocked constructs the remote provider exactly once. Repeated
// calls are no-ops; a failed construction is retried on the next reference.
// Caller holds mu.
func (m *StorageManager) ensureRemoteLocked() (storage.Provider, error) {
	if m.remote != nil {
		return m.remote, nil
	}

	remote, err := m.newRemote()
	if err != nil {
		return nil, fmt.Errorf("constructing remote provider: %w", err)
	}
	m.remote = remote
	m.logger.Info("storage: remote provider initialized")
	return m.remote, nil
}

// providerLocked resolves a registry name to its provider. Caller holds mu.
func (m *StorageManager) providerLocked(name string) (storage.Provider, error) {
	switch name {
	case models.ProviderLocal:
		return m.local, nil
	case models.ProviderGoogleDrive:
		return m.ensureRemoteLocked()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// Preference returns the user's preferred provider name, "local" when unset.
func (m *StorageManager) Preference(user string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name, ok := m.prefs[user]; ok {
		return name
	}
	return models.ProviderLocal
}

// SetPreference validates the name against the registry and persists the
// updated map immediately. Unknown names never reach the persisted file.
func (m *StorageManager) SetPreference(user, name string) error {
	if !validProviderName(name) {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if name == models.ProviderGoogleDrive {
		if _, err := m.ensureRemoteLocked(); err != nil {
			return err
		}
	}

	m.prefs[user] = name
	if err := m.savePreferencesLocked(); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"user":     user,
		"provider": name,
	}).Info("storage: preference updated")
	return nil
}

// Resolve returns the user's preferred provider without checking its
// availability. For callers that verified availability themselves or accept
// the failure.
func (m *StorageManager) Resolve(user string) (storage.Provider, error) {
	name := m.Preference(user)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.providerLocked(name)
}

// ResolveEffective returns the preferred provider when it is available for
// this user, otherwise the local provider. The downgrade is silent: callers
// never see an error from an unavailable preference.
func (m *StorageManager) ResolveEffective(ctx context.Context, user string) storage.Provider {
	name := m.Preference(user)
	if name == models.ProviderLocal {
		return m.local
	}

	m.mu.Lock()
	remote, err := m.ensureRemoteLocked()
	m.mu.Unlock()
	if err != nil {
		m.logger.WithError(err).WithField("user", user).Warn("storage: remote unavailable, using local")
		return m.local
	}

	if !remote.IsAvailable(ctx, user) {
		m.logger.WithField("user", user).Debug("storage: preferred provider unavailable, using local")
		return m.local
	}
	return remote
}

// Migrate moves every file the source lists for the user to the destination:
// read the full content, write it, and only after a successful write delete
// it from the source. The preference flips to the destination only after all
// files were attempted. Not atomic; partial failure is reported, not hidden.
func (m *StorageManager) Migrate(ctx context.Context, user, fromName, toName string) (*MigrationReport, error) {
	if !validProviderName(fromName) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, fromName)
	}
	if !validProviderName(toName) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, toName)
	}
	if fromName == toName {
		return nil, fmt.Errorf("source and destination provider are both %s", fromName)
	}

	m.mu.Lock()
	from, err := m.providerLocked(fromName)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	to, err := m.providerLocked(toName)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	records, err := from.ListFiles(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("listing source files: %w", err)
	}

	report := &MigrationReport{Moved: []string{}, Failed: []MigrationFailure{}}
	for _, record := range records {
		if err := m.moveFile(ctx, user, record.Filename, from, to); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"user":     user,
				"filename": record.Filename,
			}).Warn("storage: file migration failed")
			report.Failed = append(report.Failed, MigrationFailure{
				Filename: record.Filename,
				Reason:   err.Error(),
			})
			continue
		}
		report.Moved = append(report.Moved, record.Filename)
	}

	// Preference follows the migration only after every file was attempted.
	if err := m.SetPreference(user, toName); err != nil {
		return report, err
	}

	m.logger.WithFields(logrus.Fields{
		"user":   user,
		"from":   fromName,
		"to":     toName,
		"moved":  len(report.Moved),
		"failed": len(report.Failed),
	}).Info("storage: migration finished")

	if len(report.Failed) > 0 {
		return report, ErrPartialMigration
	}
	return report, nil
}

// moveFile is read, then write, then delete. A failed write leaves the file
// untouched on the source; only a confirmed write deletes the original.
func (m *StorageManager) moveFile(ctx context.Context, user, filename string, from, to storage.Provider) error {
	content, err := from.GetFile(ctx, user, filename)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	defer content.Close()

	if err := to.SaveFile(ctx, user, filename, content); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	if err := from.DeleteFile(ctx, user, filename); err != nil {
		return fmt.Errorf("delete source copy: %w", err)
	}
	return nil
}
