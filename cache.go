package fetchcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	cdc "github.com/unkn0wn-root/fetchcache/codec"
	gen "github.com/unkn0wn-root/fetchcache/genstore"
	"github.com/unkn0wn-root/fetchcache/internal/wire"
	pr "github.com/unkn0wn-root/fetchcache/provider"
	"github.com/unkn0wn-root/fetchcache/scheduler"
)

const (
	defaultStoreTTL     = 10 * time.Minute
	defaultSweep        = time.Hour
	defaultGenRetention = 30 * 24 * time.Hour
)

// submitter is the engine's view of the scheduler.
type submitter interface {
	Submit(task scheduler.Task, priority int)
}

// engine owns one fetch function's entry table and subscription bus.
//
// Concurrency model: one mutex serializes every table mutation and every
// admission decision, including the priority-compare-then-cancel sequence.
// Fetch bodies run with unbounded concurrency and touch the engine only
// through settle, which takes the same mutex. Bus callbacks and hooks fire
// after the mutex is released, so they may re-enter the cache.
type engine[V any] struct {
	ns      string
	fetch   FetchFunc[V]
	log     Logger
	hooks   Hooks
	sched   submitter
	enabled bool

	store    pr.Provider
	codec    cdc.Codec[V]
	storeTTL time.Duration
	gens     gen.GenStore

	mu      sync.Mutex
	entries map[string]*entry[V]
	bus     *bus

	closeOnce sync.Once
}

func newEngine[V any](opts Options[V]) (*engine[V], error) {
	if opts.Fetch == nil {
		return nil, fmt.Errorf("fetchcache: fetch function is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("fetchcache: namespace is required")
	}
	if opts.Store != nil && opts.Codec == nil {
		return nil, fmt.Errorf("fetchcache: codec is required when a store is configured")
	}

	e := &engine[V]{
		ns:      opts.Namespace,
		fetch:   opts.Fetch,
		entries: make(map[string]*entry[V]),
		bus:     newBus(),
		enabled: !opts.Disabled,
		store:   opts.Store,
		codec:   opts.Codec,
	}

	e.log = opts.Logger
	if e.log == nil {
		e.log = NopLogger{}
	}
	e.hooks = opts.Hooks
	if e.hooks == nil {
		e.hooks = NopHooks{}
	}
	e.storeTTL = coalesce(opts.StoreTTL, defaultStoreTTL)

	if opts.Scheduler != nil {
		e.sched = opts.Scheduler
	} else {
		e.sched = scheduler.Default()
	}

	if e.store != nil {
		if opts.GenStore != nil {
			e.gens = opts.GenStore
		} else {
			sweep := coalesce[time.Duration](opts.CleanupInterval, defaultSweep)
			retention := coalesce[time.Duration](opts.GenRetention, defaultGenRetention)
			e.gens = gen.NewLocalGenStore(sweep, retention)
		}
	}

	if !opts.Unregistered {
		reg := opts.Registry
		if reg == nil {
			reg = defaultRegistry
		}
		reg.add(e)
	}
	return e, nil
}

func (e *engine[V]) Enabled() bool { return e.enabled }

func (e *engine[V]) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		if e.gens != nil {
			_ = e.gens.Close(ctx)
		}
		if e.store != nil {
			err = e.store.Close(ctx)
		}
	})
	return err
}

func (e *engine[V]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *engine[V]) Read(ctx context.Context, req Request) (V, error) {
	return e.await(ctx, req)
}

// Preload shares Read's semantics; it exists so call sites can state intent
// (warming ahead of use) and keep working if Read ever grows read-path
// options.
func (e *engine[V]) Preload(ctx context.Context, req Request) (V, error) {
	return e.await(ctx, req)
}

// await runs admission, then waits out Pending states. The loop re-admits
// after every settlement signal: the attempt that woke us may have been
// preempted or its entry deleted, in which case the re-read starts over.
func (e *engine[V]) await(ctx context.Context, req Request) (V, error) {
	var zero V
	if !e.enabled {
		return e.fetch(ctx, req)
	}
	for {
		v := e.admit(req, false)
		switch v.status {
		case Resolved:
			return v.value, nil
		case Rejected:
			return zero, v.err
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-v.wait.done:
		}
	}
}

func (e *engine[V]) Peek(req Request) (Snapshot[V], bool) {
	if !e.enabled {
		return Snapshot[V]{}, false
	}
	fp := req.Fingerprint()
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[fp]
	if !ok {
		return Snapshot[V]{}, false
	}
	return Snapshot[V]{
		Status:     ent.status,
		Value:      ent.value,
		Err:        ent.err,
		Args:       ent.args,
		Refreshing: ent.next != nil,
	}, true
}

func (e *engine[V]) On(req Request, fn func()) Subscription {
	return e.bus.subscribe(req.Fingerprint(), fn)
}

func (e *engine[V]) OnAny(fn func()) Subscription {
	return e.bus.subscribe(anyChannel, fn)
}

func (e *engine[V]) Off(sub Subscription) {
	e.bus.unsubscribe(sub)
}

func (e *engine[V]) Invalidate(req Request) {
	if !e.enabled {
		return
	}
	fp := req.Fingerprint()

	e.mu.Lock()
	ent, ok := e.entries[fp]
	if !ok {
		e.mu.Unlock()
		return
	}

	if e.bus.subscribed(fp) && ent.status != Pending && ent.next == nil {
		// Listeners are watching this fingerprint: refresh in the
		// background and keep the settled value visible meanwhile.
		// The generation moves first so the refresh attempt observes it
		// and older warm-store bytes stop validating.
		e.bumpGen(fp)
		_, after := e.admitLocked(fp, req, true)
		fns := e.bus.listeners(fp)
		e.mu.Unlock()

		e.storeDel(fp)
		for _, fn := range after {
			fn()
		}
		for _, fn := range fns {
			fn()
		}
		return
	}

	// Nobody to serve stale data to (or nothing settled to keep): drop the
	// entry outright. An in-flight attempt keeps running; its settlement
	// finds no entry and is dropped.
	delete(e.entries, fp)
	e.bumpGen(fp)
	fns := e.bus.listeners(fp)
	e.mu.Unlock()

	e.storeDel(fp)
	e.log.Debug("entry removed on invalidate", Fields{"fingerprint": fp})
	for _, fn := range fns {
		fn()
	}
}

func (e *engine[V]) InvalidateAll(onlyRejected bool) {
	if !e.enabled {
		return
	}
	e.mu.Lock()
	reqs := make([]Request, 0, len(e.entries))
	for _, ent := range e.entries {
		if onlyRejected && ent.status != Rejected {
			continue
		}
		reqs = append(reqs, ent.args)
	}
	e.mu.Unlock()

	for _, r := range reqs {
		e.Invalidate(r)
	}
}

// admit applies the admission, preemption, and dedup rules for req and
// returns the state of the entry now covering its fingerprint.
func (e *engine[V]) admit(req Request, refresh bool) view[V] {
	fp := req.Fingerprint()
	e.mu.Lock()
	v, after := e.admitLocked(fp, req, refresh)
	e.mu.Unlock()
	for _, fn := range after {
		fn()
	}
	return v
}

// admitLocked requires e.mu held. The returned funcs (hook calls) must be
// invoked after the mutex is released.
//
// Preemption is cooperative and best-effort: it only succeeds against an
// attempt whose body has not begun. A fresh Pending entry that loses its
// attempt is deleted whole (there is no settled value to fall back to),
// while a refresh entry only loses its next attempt and keeps serving the
// stale value. That asymmetry is deliberate.
func (e *engine[V]) admitLocked(fp string, req Request, refresh bool) (view[V], []func()) {
	var after []func()
	ent := e.entries[fp]

	if ent != nil && req.Priority > ent.args.Priority {
		oldPriority := ent.args.Priority
		if refresh && ent.next != nil {
			if ent.next.abort() {
				ent.next = nil
				after = append(after, func() {
					e.hooks.AttemptPreempted(fp, oldPriority, req.Priority)
				})
			}
		} else if ent.status == Pending {
			if ent.attempt.abort() {
				delete(e.entries, fp)
				ent = nil
				e.log.Debug("pending attempt preempted", Fields{
					"fingerprint":  fp,
					"old_priority": oldPriority,
					"new_priority": req.Priority,
				})
				after = append(after, func() {
					e.hooks.AttemptPreempted(fp, oldPriority, req.Priority)
				})
			}
		}
		// Neither cancellation applied or succeeded: the running attempt
		// is beyond preemption and the caller simply observes its outcome.
	}

	if ent == nil {
		att := e.newAttemptLocked(fp, req)
		e.entries[fp] = &entry[V]{status: Pending, attempt: att, args: req}
		e.sched.Submit(e.runTask(fp, att, refresh), req.Priority)
		return view[V]{status: Pending, wait: att}, after
	}

	if refresh && ent.status != Pending {
		att := e.newAttemptLocked(fp, req)
		ent.args = req
		ent.next = att
		e.sched.Submit(e.runTask(fp, att, true), req.Priority)
		after = append(after, func() { e.hooks.RefreshStarted(fp) })
		return viewOf(ent), after
	}

	return viewOf(ent), after
}

func (e *engine[V]) newAttemptLocked(fp string, req Request) *attempt {
	att := newAttempt(req)
	if e.store != nil {
		att.gen = e.snapshotGen(fp)
	}
	return att
}

// runTask wraps one attempt for the scheduler. The token check comes first:
// an attempt aborted before admission reached it must do no work and must
// not settle. Refresh attempts skip the warm store; revalidation exists to
// reach the fetch function.
func (e *engine[V]) runTask(fp string, att *attempt, skipWarm bool) scheduler.Task {
	return func() {
		if !att.start() {
			return
		}
		if !skipWarm {
			if v, ok := e.warmGet(fp); ok {
				e.settle(fp, att, v, nil, true)
				att.finish()
				return
			}
		}
		v, err := e.fetch(context.Background(), att.req)
		e.settle(fp, att, v, err, false)
		att.finish()
	}
}

// settle applies one attempt's outcome. If the entry vanished or the
// attempt was superseded meanwhile, the outcome is dropped: no mutation, no
// notification, not even on "any".
func (e *engine[V]) settle(fp string, att *attempt, v V, ferr error, fromWarm bool) {
	e.mu.Lock()
	ent, ok := e.entries[fp]
	if !ok || (ent.attempt != att && ent.next != att) {
		e.mu.Unlock()
		e.log.Debug("settlement dropped (entry gone or superseded)", Fields{"fingerprint": fp})
		e.hooks.SettlementDropped(fp)
		return
	}

	ent.args = att.req
	ent.attempt = nil
	ent.next = nil
	if ferr != nil {
		var zero V
		ent.status = Rejected
		ent.value = zero
		ent.err = &FetchError{Fingerprint: fp, Err: ferr}
	} else {
		ent.status = Resolved
		ent.value = v
		ent.err = nil
	}
	fns := e.bus.listeners(fp)
	e.mu.Unlock()

	if ferr == nil && !fromWarm {
		e.warmSet(fp, att, v)
	}
	for _, fn := range fns {
		fn()
	}
}

// ---- warm store ----

func (e *engine[V]) storeKey(fp string) string {
	return "fetch:" + e.ns + ":" + fp
}

func (e *engine[V]) warmGet(fp string) (V, bool) {
	var zero V
	if e.store == nil {
		return zero, false
	}
	ctx := context.Background()
	k := e.storeKey(fp)
	raw, ok, err := e.store.Get(ctx, k)
	if err != nil || !ok {
		return zero, false
	}
	g, payload, err := wire.Decode(raw)
	if err != nil {
		_ = e.store.Del(ctx, k) // self-heal corrupt
		e.hooks.StoreSelfHeal(fp, "corrupt")
		return zero, false
	}
	if g != e.snapshotGen(fp) {
		_ = e.store.Del(ctx, k)
		e.hooks.StoreSelfHeal(fp, "gen_mismatch")
		return zero, false
	}
	v, err := e.codec.Decode(payload)
	if err != nil {
		_ = e.store.Del(ctx, k) // self-heal
		e.hooks.StoreSelfHeal(fp, "value_decode")
		return zero, false
	}
	e.hooks.WarmHit(fp)
	return v, true
}

// warmSet writes a settled value under the generation the attempt observed
// at admission. If the generation moved (an Invalidate raced the fetch),
// the write is skipped rather than resurrecting a stale value.
func (e *engine[V]) warmSet(fp string, att *attempt, v V) {
	if e.store == nil {
		return
	}
	if e.snapshotGen(fp) != att.gen {
		e.log.Debug("warm write skipped (gen moved)", Fields{"fingerprint": fp})
		return
	}
	payload, err := e.codec.Encode(v)
	if err != nil {
		e.log.Warn("warm encode failed", Fields{"fingerprint": fp, "err": err})
		return
	}
	raw := wire.Encode(att.gen, payload)
	ok, err := e.store.Set(context.Background(), e.storeKey(fp), raw, int64(len(raw)), e.storeTTL)
	if err != nil {
		e.log.Warn("warm write failed", Fields{"fingerprint": fp, "err": err})
		return
	}
	if !ok {
		e.log.Debug("warm write rejected by store (pressure)", Fields{"fingerprint": fp})
		e.hooks.StoreSetRejected(fp)
	}
}

func (e *engine[V]) storeDel(fp string) {
	if e.store == nil {
		return
	}
	_ = e.store.Del(context.Background(), e.storeKey(fp))
}

func (e *engine[V]) snapshotGen(fp string) uint64 {
	g, err := e.gens.Snapshot(context.Background(), e.storeKey(fp))
	if err != nil {
		// Conservative: treat as 0 so stale writes skip; reads self-heal.
		e.log.Warn("gen snapshot error", Fields{"fingerprint": fp, "err": err})
		return 0
	}
	return g
}

func (e *engine[V]) bumpGen(fp string) {
	if e.store == nil {
		return
	}
	if _, err := e.gens.Bump(context.Background(), e.storeKey(fp)); err != nil {
		e.log.Error("gen bump error", Fields{"fingerprint": fp, "err": err})
	}
}
