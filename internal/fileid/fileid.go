// Package fileid assigns document IDs to ingested files and uploads.
package fileid

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	filePrefix   = "file:"
	uploadPrefix = "upload:"
)

// FileDocID returns a stable document ID for a path on disk: a name-based
// (SHA-1) UUID of the cleaned path. Re-ingesting the same file reuses the ID.
func FileDocID(absolutePath string) string {
	normalized := filepath.ToSlash(filepath.Clean(absolutePath))
	return filePrefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+normalized)).String()
}

// UploadDocID returns a fresh random document ID for an uploaded file.
func UploadDocID() string {
	return uploadPrefix + uuid.NewString()
}

// IsFileDocID reports whether id was produced by FileDocID.
func IsFileDocID(id string) bool {
	return strings.HasPrefix(id, filePrefix)
}
