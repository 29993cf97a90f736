package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Entry is a single key-value pair returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// KV is the storage boundary for registry records and mailbox entries.
// Implementations must be safe for concurrent use. Backend failures are
// retryable from the caller's perspective; an implementation must never
// return partially-written values.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Scan returns all entries whose key starts with prefix, sorted by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)

	Ping(ctx context.Context) error
	Close() error
}
