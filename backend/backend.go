// Package backend provides the blob storage abstraction that update bundles are read from.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("not found")

// FileInfo describes a file stored directly under a directory key.
type FileInfo struct {
	// Name is the base name of the file, e.g. "20240320123045.zip".
	Name    string
	Size    int64
	ModTime time.Time
}

// Backend defines the interface for storage backends.
// Keys use "/" as the path separator. Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores data at the given key.
	// If the key already exists, it should be overwritten.
	Write(ctx context.Context, key string, r io.Reader) error

	// Read retrieves data at the given key.
	// Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists checks if a file or a directory exists at the key.
	Exists(ctx context.Context, key string) (bool, error)

	// ListFiles returns the files stored directly under dir.
	// A missing directory yields an empty result, not an error.
	ListFiles(ctx context.Context, dir string) ([]FileInfo, error)

	// ListDirectories returns the names of the directories directly under dir.
	ListDirectories(ctx context.Context, dir string) ([]string, error)
}

// ReadAll reads the whole object stored at key.
func ReadAll(ctx context.Context, b Backend, key string) ([]byte, error) {
	rc, err := b.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return data, nil
}
