// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/fetchcache"
//	asynchook "github.com/unkn0wn-root/fetchcache/hooks/async"
//	"github.com/unkn0wn-root/fetchcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SettlementDropEvery: 10, // sample logs: ~every 10th dropped settlement
//	    SelfHealEvery:       1,  // log every store self-heal
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := fetchcache.New[User](fetchcache.Options[User]{
//	    Namespace: "user",
//	    Fetch:     loadUser,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/fetchcache"
)

type Hooks struct {
	inner fetchcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ fetchcache.Hooks = (*Hooks)(nil)

func New(inner fetchcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) AttemptPreempted(fp string, oldP, newP int) {
	h.try(func() { h.inner.AttemptPreempted(fp, oldP, newP) })
}
func (h *Hooks) SettlementDropped(fp string) { h.try(func() { h.inner.SettlementDropped(fp) }) }
func (h *Hooks) RefreshStarted(fp string)    { h.try(func() { h.inner.RefreshStarted(fp) }) }
func (h *Hooks) WarmHit(fp string)           { h.try(func() { h.inner.WarmHit(fp) }) }
func (h *Hooks) StoreSelfHeal(fp, reason string) {
	h.try(func() { h.inner.StoreSelfHeal(fp, reason) })
}
func (h *Hooks) StoreSetRejected(fp string) { h.try(func() { h.inner.StoreSetRejected(fp) }) }
