package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/eduassist/api/src/models"
)

const (
	tokenFilePerms = 0o600
	tokenDirPerms  = 0o700
)

// CredentialBundle is the token material proving a specific user authorized
// the remote provider. Exactly one bundle exists per user; re-authentication
// replaces it wholesale.
type CredentialBundle struct {
	Token  *oauth2.Token `json:"token"`
	Scopes []string      `json:"scopes,omitempty"`
}

// CredentialStore persists one token bundle per user under a dedicated
// directory, one file per user, named from the sanitized identity. Bundles
// are never shared across users; deleting a file forces re-authentication.
type CredentialStore struct {
	dir    string
	logger *logrus.Logger
}

// NewCredentialStore ensures the token directory exists with owner-only
// permissions.
func NewCredentialStore(dir string, logger *logrus.Logger) (*CredentialStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("tokens directory is required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve tokens dir: %w", err)
	}

	if err := os.MkdirAll(abs, tokenDirPerms); err != nil {
		return nil, fmt.Errorf("ensure tokens dir: %w", err)
	}

	return &CredentialStore{dir: abs, logger: logger}, nil
}

// Path returns the deterministic token file path for a user.
func (s *CredentialStore) Path(user string) string {
	return filepath.Join(s.dir, "token_"+models.SanitizeUserID(user)+".json")
}

// Save writes the user's bundle atomically (temp file + rename) with 0600
// permissions so a crash mid-write never leaves a truncated bundle.
func (s *CredentialStore) Save(user string, bundle *CredentialBundle) error {
	if bundle == nil || bundle.Token == nil {
		return fmt.Errorf("credential bundle requires a token")
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, tokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(user)); err != nil {
		return fmt.Errorf("rename token file: %w", err)
	}
	committed = true

	s.logger.WithField("user", user).Debug("credentials: bundle persisted")
	return nil
}

// Load reads the user's bundle. Returns (nil, nil) when no bundle exists;
// a file that exists but cannot be decoded is a hard error.
func (s *CredentialStore) Load(user string) (*CredentialBundle, error) {
	data, err := os.ReadFile(s.Path(user))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	var bundle CredentialBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decode token file for %s: %w", user, err)
	}
	if bundle.Token == nil {
		return nil, fmt.Errorf("token file for %s missing token field", user)
	}
	return &bundle, nil
}

// Delete removes the user's bundle, forcing re-authentication. Deleting an
// absent bundle is a no-op.
func (s *CredentialStore) Delete(user string) error {
	err := os.Remove(s.Path(user))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete token file: %w", err)
	}

	s.logger.WithField("user", user).Info("credentials: bundle removed")
	return nil
}

// StoredBundle pairs a token filename with its decoded bundle for the
// maintenance sweep.
type StoredBundle struct {
	File   string
	Bundle *CredentialBundle
}

// List returns every readable bundle in the store. Undecodable files are
// skipped with a warning so one corrupt bundle cannot stall the sweep.
func (s *CredentialStore) List() ([]StoredBundle, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read tokens dir: %w", err)
	}

	var bundles []StoredBundle
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "token_") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.WithError(err).WithField("file", name).Warn("credentials: unreadable bundle")
			continue
		}

		var bundle CredentialBundle
		if err := json.Unmarshal(data, &bundle); err != nil || bundle.Token == nil {
			s.logger.WithField("file", name).Warn("credentials: skipping undecodable bundle")
			continue
		}

		bundles = append(bundles, StoredBundle{File: name, Bundle: &bundle})
	}
	return bundles, nil
}
