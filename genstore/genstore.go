// Package genstore tracks per-key generations for the warm store. Every
// invalidation bumps a key's generation; store bytes stamped with an older
// generation stop validating on read. The cache is single-process, so the
// default LocalGenStore is almost always the right choice.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live. Implementations must be safe
// for concurrent use and cheap: the engine may snapshot generations while
// holding its admission lock.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes long-inactive metadata if applicable.
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
