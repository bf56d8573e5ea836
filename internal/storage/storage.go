// Package storage defines the blob store that holds generated UILM files and
// export packages. Object keys are built by the helpers in keys.go so every
// backend lays content out the same way.
//
// Backends register themselves with the factory from an init() function in
// their own package and are pulled in by blank imports in cmd/server:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return New(&cfg.Storage.MyBackend)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Download when the object does not exist
var ErrNotFound = errors.New("object not found")

// Storage is implemented by every blob backend
type Storage interface {
	// Backend names the implementation ("local", "s3", ...); it is recorded on
	// each UilmFile row
	Backend() string

	// Upload stores the content of reader under key, replacing any object with
	// the same key
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) (*UploadResult, error)

	// Download opens the object stored under key. It returns ErrNotFound
	// (possibly wrapped) when the key does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is stored under key
	Exists(ctx context.Context, key string) (bool, error)
}

// UploadResult describes a stored object
type UploadResult struct {
	Key string
	// Size is the object size in bytes
	Size int64
	// Checksum is the hex SHA256 of the content
	Checksum string
}
