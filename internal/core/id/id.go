// Package id provides UUIDv7 generation for fiscal entries and provider-independent references.
// UUIDv7 is time-ordered, so entry IDs sort naturally by ingestion time.
package id

import (
	"github.com/google/uuid"
)

// New generates a new UUIDv7 string.
func New() string {
	v, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New().String()
	}
	return v.String()
}

// Valid reports whether s parses as a UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
