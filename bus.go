package fetchcache

import "sync"

// anyChannel is the sentinel channel that receives every event on a cache
// instance. Fingerprints are hex digests, so the sentinel cannot collide.
const anyChannel = "any"

// Subscription identifies one registered callback for Off.
type Subscription struct {
	channel string
	id      uint64
}

// bus is the per-instance notification fan-out: callback sets keyed by
// fingerprint plus the "any" sentinel. Callbacks fire once per event on the
// fingerprint channel and once on "any", with no ordering guarantee among
// subscribers and no coalescing of rapid successive events.
type bus struct {
	mu     sync.Mutex
	nextID uint64
	chans  map[string]map[uint64]func()
}

func newBus() *bus {
	return &bus{chans: make(map[string]map[uint64]func())}
}

func (b *bus) subscribe(channel string, fn func()) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	set := b.chans[channel]
	if set == nil {
		set = make(map[uint64]func())
		b.chans[channel] = set
	}
	set[b.nextID] = fn
	return Subscription{channel: channel, id: b.nextID}
}

func (b *bus) unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.chans[sub.channel]
	if set == nil {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(b.chans, sub.channel)
	}
}

// subscribed reports whether the fingerprint channel has at least one
// listener. "any" listeners do not count: they observe events but do not
// keep an entry alive through Invalidate.
func (b *bus) subscribed(fp string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chans[fp]) > 0
}

// listeners returns the callbacks to fire for one event on fp: the
// fingerprint channel plus "any". Callers invoke them after releasing the
// engine mutex so a callback may re-enter the cache.
func (b *bus) listeners(fp string) []func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.chans[fp]) + len(b.chans[anyChannel])
	if n == 0 {
		return nil
	}
	out := make([]func(), 0, n)
	for _, fn := range b.chans[fp] {
		out = append(out, fn)
	}
	for _, fn := range b.chans[anyChannel] {
		out = append(out, fn)
	}
	return out
}
