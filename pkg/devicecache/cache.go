// Package devicecache keeps ephemeral per-device state, primarily the
// last-seen presence record the dashboard reads for its live device list.
package devicecache

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key has no entry.
var ErrNotFound = errors.New("key not found")

// Cache stores values with explicit writes. Presence state has no persistent
// source of truth to fall back on, so there is no read-through behaviour.
type Cache[K comparable, V any] interface {
	// Set stores a value for a key.
	Set(ctx context.Context, key K, value V) error
	// Fetch retrieves a value by its key.
	Fetch(ctx context.Context, key K) (V, error)
	// Delete removes a key.
	Delete(ctx context.Context, key K) error
	// Closer is included for implementations that manage network connections.
	io.Closer
}
