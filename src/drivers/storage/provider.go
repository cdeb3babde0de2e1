package storage

import (
	"context"
	"errors"
	"io"

	"github.com/eduassist/api/src/models"
)

var (
	// ErrNotFound signals that the requested file does not exist. This is an
	// expected condition, callers branch on it rather than failing.
	ErrNotFound = errors.New("file not found")

	// ErrAuthRequired signals that the remote provider has no valid
	// credential bundle for the user. Callers fall back to local storage.
	ErrAuthRequired = errors.New("authentication required")

	// ErrProviderUnavailable signals missing or malformed client credentials,
	// or a transport failure that prevented the call from completing.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
)

// Provider is the uniform contract every storage backend implements. All
// methods operate on a single user's namespace; a filename is unique per
// (user, provider) pair and SaveFile overwrites rather than duplicates.
type Provider interface {
	// SaveFile writes or overwrites the named file. Idempotent under retry.
	SaveFile(ctx context.Context, user, filename string, content io.Reader) error

	// GetFile returns a reader positioned at offset 0, or ErrNotFound.
	GetFile(ctx context.Context, user, filename string) (io.ReadCloser, error)

	// DeleteFile removes the file, returning ErrNotFound if it is absent.
	DeleteFile(ctx context.Context, user, filename string) error

	// ListFiles returns all records for the user, produced eagerly so callers
	// can compute aggregates immediately. Order is stable within a call.
	ListFiles(ctx context.Context, user string) ([]models.FileRecord, error)

	// FileExists agrees with ListFiles at the same instant; no stale caches.
	FileExists(ctx context.Context, user, filename string) (bool, error)

	// IsAvailable reports whether the provider can serve this user right now.
	// Derived from credential presence at call time, never cached.
	IsAvailable(ctx context.Context, user string) bool
}
