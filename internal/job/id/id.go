// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid v4>
// Example: job-3f2c1a9e-7b5d-4e8f-9a10-2b3c4d5e6f70
func Generate() string {
	return "job-" + uuid.NewString()
}

// Valid reports whether s has the shape produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, "job-")
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
