package utils

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a lexicographically sortable ULID string, used for
// request ids, correlation tags, and idempotency keys.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// TimeFromID extracts the creation time embedded in a ULID.
func TimeFromID(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// IsOlderThan reports whether the ID was created more than d ago.
func IsOlderThan(id string, d time.Duration) bool {
	t, err := TimeFromID(id)
	if err != nil {
		return false
	}
	return time.Since(t) > d
}
