// Package kv defines the durable keyed storage contract the delivery engine
// runs on: get/put/delete by key plus lexicographic prefix listing with
// forward-only cursors.
//
// Two implementations ship with the package: Memory for tests and local
// development, and Redis for production. Both order List results by key so
// pagination is deterministic across calls.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidCursor is returned by List when the supplied cursor was not
// produced by a previous List call on the same store.
var ErrInvalidCursor = errors.New("kv: invalid list cursor")

// Entry is a single key/value pair returned by List.
type Entry struct {
	Key   string
	Value []byte
}

// Page holds one page of List results. Cursor is empty when the listing is
// exhausted; otherwise passing it to the next List call resumes after the
// last returned key. Cursors are forward-only.
type Page struct {
	Entries []Entry
	Cursor  string
}

// Store is a durable key/value store with TTL support and ordered prefix
// scans. Values are opaque bytes; callers handle serialization.
type Store interface {
	// Get returns the value stored under key. The second return value
	// reports whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value. A positive
	// ttl expires the entry after the given duration; zero means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// List returns up to limit entries whose keys start with prefix, in
	// ascending key order, starting after the position encoded in cursor.
	// An empty cursor starts from the beginning.
	List(ctx context.Context, prefix, cursor string, limit int) (Page, error)
}
