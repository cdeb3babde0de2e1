package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eduassist/api/src/models"
)

var ErrInvalidFilename = errors.New("invalid filename")

// indexBookkeepingFile is maintained by the document-indexing subsystem and
// must never appear in listings.
const indexBookkeepingFile = "indexed_files.json"

// LocalStore keeps each user's files in a sanitized per-user directory under
// a fixed root. It has no authentication state and is always available.
type LocalStore struct {
	basePath string
	logger   *logrus.Logger
}

// NewLocalStore resolves the base path and creates it on demand.
func NewLocalStore(basePath string, logger *logrus.Logger) (*LocalStore, error) {
	absBase, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}

	if err := os.MkdirAll(absBase, 0o755); err != nil {
		return nil, fmt.Errorf("ensure base path: %w", err)
	}

	return &LocalStore{basePath: absBase, logger: logger}, nil
}

func (s *LocalStore) userDir(user string) string {
	return filepath.Join(s.basePath, models.SanitizeUserID(user))
}

// filePath confines the target to the user's directory. Filenames carrying
// path separators or traversal sequences are rejected outright.
func (s *LocalStore) filePath(user, filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.Contains(filename, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return filepath.Join(s.userDir(user), filename), nil
}

func (s *LocalStore) SaveFile(ctx context.Context, user, filename string, content io.Reader) error {
	target, err := s.filePath(user, filename)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.userDir(user), 0o755); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, content); err != nil {
		os.Remove(target) // Cleanup partial write
		return fmt.Errorf("write file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"user":     user,
		"filename": filename,
	}).Debug("local: file saved")

	return nil
}

func (s *LocalStore) GetFile(ctx context.Context, user, filename string) (io.ReadCloser, error) {
	target, err := s.filePath(user, filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *LocalStore) DeleteFile(ctx context.Context, user, filename string) error {
	target, err := s.filePath(user, filename)
	if err != nil {
		return err
	}

	err = os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// ListFiles walks the user directory non-recursively, skipping subdirectories
// and the index bookkeeping file. Entries come back sorted by filename.
func (s *LocalStore) ListFiles(ctx context.Context, user string) ([]models.FileRecord, error) {
	dir := s.userDir(user)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.FileRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user dir: %w", err)
	}

	records := make([]models.FileRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == indexBookkeepingFile {
			continue
		}

		info, err := e.Info()
		if err != nil {
			s.logger.WithError(err).WithField("entry", e.Name()).Warn("local: failed to stat entry")
			continue
		}

		records = append(records, models.FileRecord{
			Filename: e.Name(),
			Size:     info.Size(),
			// The filesystem does not keep a separate creation time; mtime
			// stands in for both, matching listing behavior callers expect.
			UploadDate:   info.ModTime(),
			LastModified: info.ModTime(),
			FileType:     models.FileType(e.Name()),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Filename < records[j].Filename })
	return records, nil
}

func (s *LocalStore) FileExists(ctx context.Context, user, filename string) (bool, error) {
	target, err := s.filePath(user, filename)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat file: %w", err)
	}
	return !info.IsDir(), nil
}

// IsAvailable always reports true: local disk needs no authentication.
func (s *LocalStore) IsAvailable(ctx context.Context, user string) bool {
	return true
}
