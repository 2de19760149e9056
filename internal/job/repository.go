package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Repository is the job persistence port. Implementations store snapshots:
// Save copies the job, and every job returned is an independent copy the
// caller may mutate freely.
type Repository interface {
	// Save inserts the job or replaces the stored snapshot with the same ID.
	Save(ctx context.Context, job *Job) error

	// FindByID returns the snapshot stored under id, or ErrJobNotFound.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns every stored job ordered by creation time, newest first,
	// ties broken by ID.
	List(ctx context.Context) ([]*Job, error)

	// Delete removes the job stored under id, or returns ErrJobNotFound.
	Delete(ctx context.Context, id string) error
}
