// Package cachetype defines shared types used across the filecache package and
// its internal packages. This avoids circular imports between the store, fetch,
// and policy packages.
package cachetype

import (
	"time"

	digest "github.com/opencontainers/go-digest"
)

// Entry describes one cached file. Entries are value types; mutating a copy
// never affects the store's bookkeeping.
type Entry struct {
	// Key is the source URL the file was fetched from. Unique per entry.
	Key string

	// Path is the absolute path of the committed data file.
	Path string

	// Size is the byte length of the committed file.
	Size int64

	// Digest is the SHA-256 digest computed over the full byte stream at
	// write time.
	Digest digest.Digest

	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the entry's TTL has elapsed at the given instant.
// A zero ExpiresAt means the entry never expires.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
