package fetchcache

import (
	"context"
	"time"

	cdc "github.com/unkn0wn-root/fetchcache/codec"
	gen "github.com/unkn0wn-root/fetchcache/genstore"
	pr "github.com/unkn0wn-root/fetchcache/provider"
	"github.com/unkn0wn-root/fetchcache/scheduler"
)

// FetchFunc loads the value for one request. It must be pure with respect to
// req.Params: the engine assumes equal fingerprints produce interchangeable
// results. Retry and timeout policy belong to the function itself; the
// engine never retries and never force-cancels a running body. Bodies must
// tolerate abandonment (a caller losing interest simply stops waiting).
type FetchFunc[V any] func(ctx context.Context, req Request) (V, error)

// Cache is the request-deduplicating engine for one fetch function.
// All methods are safe for concurrent use.
type Cache[V any] interface {
	Enabled() bool
	Close(ctx context.Context) error

	// Read returns the entry's value for req, admitting a fetch if none
	// covers its fingerprint and blocking while the entry is Pending.
	// A Rejected entry fails with the stored *FetchError.
	Read(ctx context.Context, req Request) (V, error)

	// Peek reports the entry's current state without admitting a fetch.
	// ok is false when no entry covers the fingerprint.
	Peek(req Request) (snap Snapshot[V], ok bool)

	// Preload warms the fingerprint ahead of use: admission plus wait,
	// same settlement semantics as Read.
	Preload(ctx context.Context, req Request) (V, error)

	// Invalidate refreshes a subscribed, settled entry in the background,
	// keeping the stale value visible until the refresh settles. In every
	// other case (no subscriber, still Pending, or a refresh already in
	// flight) the entry is deleted outright. Both paths notify the
	// fingerprint channel and "any".
	Invalidate(req Request)

	// InvalidateAll applies Invalidate to every current entry, optionally
	// restricted to entries whose status is Rejected.
	InvalidateAll(onlyRejected bool)

	// On registers fn on the request's fingerprint channel; OnAny on the
	// instance-wide channel. Off removes a prior registration.
	On(req Request, fn func()) Subscription
	OnAny(fn func()) Subscription
	Off(sub Subscription)

	// Len reports the number of live entries.
	Len() int
}

// Options tune the behavior of the engine. Only Namespace and Fetch are
// required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace isolating warm-store keys. e.g. "user", "profile"
	Fetch     FetchFunc[V]

	Logger    Logger               // if nil, NopLogger is used
	Hooks     Hooks                // if nil, NopHooks is used
	Scheduler *scheduler.Scheduler // nil => scheduler.Default()
	Registry  *Registry            // nil => DefaultRegistry()

	// Unregistered skips registry registration so the engine is invisible
	// to the package-level InvalidateAll. Mostly for tests.
	Unregistered bool

	// Disabled turns the engine into a passthrough: Read calls Fetch
	// directly with no dedup, no entries, no notifications.
	Disabled bool

	// Warm store (optional). Settled values are encoded with Codec and kept
	// in Store under the fingerprint key, so a fingerprint unseen by the
	// entry table is served from the store without invoking Fetch.
	// Invalidate always advances the generation, making older store bytes
	// unreadable. Codec is required when Store is set.
	Store           pr.Provider
	Codec           cdc.Codec[V]
	StoreTTL        time.Duration // 0 => 10m
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process)
	CleanupInterval time.Duration // local gen sweep; 0 => 1h
	GenRetention    time.Duration // local gen retention; 0 => 30d
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newEngine[V](opts)
}
