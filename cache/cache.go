// Package cache provides the pluggable key/value store with TTL semantics
// used to persist sessions and in-flight protocol state. Backends: in-process
// memory, Redis, filesystem and a client-held mode where the entry is a
// sealed value carried by the client itself.
//
// Every backend treats "key not found" and "key expired" identically: both
// return ErrNoEntry, and a value whose expiry has passed is never returned.
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoEntry is returned by Get and Take when no live entry exists for a
	// key, whether it was never written, expired or already consumed.
	ErrNoEntry = errors.New("no cache entry")

	// ErrFull is returned by the memory backend's Set when all slots are in
	// use and the backend was not configured to overwrite the oldest entry.
	ErrFull = errors.New("cache is full")

	// ErrUnsupported is returned when a backend cannot honor an operation's
	// contract, like Take on the client-held backend.
	ErrUnsupported = errors.New("operation not supported by this cache backend")
)

// Cache is a key/value store with TTL semantics. Implementations must be safe
// for concurrent use; each call is atomic on its own, no cross-call
// transactions are provided.
type Cache interface {
	// Get returns the live value for key, or ErrNoEntry.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key with the given ttl, replacing any previous
	// value. A ttl of zero or less is invalid.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry for key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Take atomically returns and removes the live value for key, or
	// ErrNoEntry. Two concurrent Takes of the same key must not both succeed;
	// this backs the consume-once semantics of protocol state.
	Take(ctx context.Context, key string) ([]byte, error)
}
