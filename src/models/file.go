package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Storage provider names as persisted in the preference map. These are the
// only values the registry accepts.
const (
	ProviderLocal       = "local"
	ProviderGoogleDrive = "google_drive"
)

// FileRecord is the provider-agnostic listing entry returned to callers.
// ProviderID is opaque and only meaningful to the provider that produced it
// (a Drive file id for the remote provider, empty for local storage).
type FileRecord struct {
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	UploadDate   time.Time `json:"upload_date"`
	LastModified time.Time `json:"last_modified"`
	FileType     string    `json:"file_type"`
	ProviderID   string    `json:"provider_id,omitempty"`
}

// FileType derives the lowercased extension without the leading dot.
// Returns "unknown" for files without an extension.
func FileType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if ext == "" {
		return "unknown"
	}
	return strings.ToLower(ext)
}
