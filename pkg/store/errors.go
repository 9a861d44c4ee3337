package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleVersion is returned when a conditional write carried a
	// version the store no longer holds. Callers must refetch and retry.
	ErrStaleVersion = errors.New("stale version")
	// ErrUnauthorized is returned when the credential was rejected even
	// after a refresh attempt.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned for a missing document id.
	ErrNotFound = errors.New("document not found")
)

// StatusError carries an unexpected HTTP status from the store.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store returned status %d: %s", e.Status, e.Body)
}
