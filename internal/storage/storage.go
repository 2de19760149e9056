// Package storage provides temporary and persistent file storage capabilities.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3-compatible object storage.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for temporary and persistent file storage.
// Implementations hold job inputs on local disk while clips are composed and
// optionally publish finished clips to object storage.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// CleanupTemp removes the specified temporary files or directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Workspace creates a fresh directory under the temp root for one job.
	Workspace(ctx context.Context, name string) (dir string, err error)

	// Publish uploads the file at localPath under key and returns its public URL.
	// Returns ErrS3NotConfigured if no object storage is configured.
	Publish(ctx context.Context, localPath, key string) (url string, err error)
}
