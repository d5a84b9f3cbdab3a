package filestore

import (
	"io"
)

// BlobStore stores attachment content addressed by its SHA-256 hash. The
// store computes the hash itself so callers cannot file content under a
// mismatched address.
type BlobStore interface {
	// Save stores the blob content and returns its hex-encoded hash.
	// Saving the same content again is a no-op yielding the same hash.
	Save(r io.Reader) (string, error)

	// Get retrieves the blob content for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
