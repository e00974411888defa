// Package id provides unique identifier generation for jobs.
package id

import "github.com/google/uuid"

// Prefix starts every generated job ID.
const Prefix = "job-"

// Generate creates a new unique job ID of the form job-<uuid>.
func Generate() string {
	return Prefix + uuid.NewString()
}
