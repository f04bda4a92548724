// Package storage provides job workspaces on local disk and publication of
// trimmed clips to S3. It defines the Storage interface (port) and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for job workspaces and clip publication.
type Storage interface {
	// Workspace creates a directory dedicated to name (typically a job ID)
	// and returns its path. Calling it again for the same name returns the
	// same directory.
	Workspace(ctx context.Context, name string) (dir string, err error)

	// Save writes data to a file called name inside dir and returns its path.
	// name must be a plain file name; ErrInvalidName is returned otherwise.
	Save(ctx context.Context, dir, name string, data io.Reader) (path string, err error)

	// Open opens a stored file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Cleanup removes the given files or directories recursively.
	// It continues cleanup even if some paths fail to delete.
	Cleanup(ctx context.Context, paths []string) error

	// Upload uploads data under key and returns its public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}
