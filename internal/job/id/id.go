// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix starts every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid v4>
// Example: job-9b2f3c1e-4d5a-4e6f-8a7b-0c1d2e3f4a5b
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s has the shape of a generated job ID.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil && len(rest) == 36
}
