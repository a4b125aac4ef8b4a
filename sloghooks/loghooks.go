package sloghooks

import (
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/fetchcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SettlementDropEvery uint64
	SelfHealEvery       uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	dropCtr     atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ fetchcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) AttemptPreempted(fp string, oldP, newP int) {
	if h.l == nil {
		return
	}
	h.l.Debug("fetchcache.attempt_preempted",
		"fingerprint", fp,
		"old_priority", oldP,
		"new_priority", newP)
}

func (h *Hooks) SettlementDropped(fp string) {
	if h.l == nil || !sample(h.opts.SettlementDropEvery, &h.dropCtr) {
		return
	}
	h.l.Debug("fetchcache.settlement_dropped",
		"fingerprint", fp)
}

func (h *Hooks) RefreshStarted(fp string) {
	if h.l == nil {
		return
	}
	h.l.Debug("fetchcache.refresh_started",
		"fingerprint", fp)
}

func (h *Hooks) WarmHit(fp string) {
	if h.l == nil {
		return
	}
	h.l.Debug("fetchcache.warm_hit",
		"fingerprint", fp)
}

func (h *Hooks) StoreSelfHeal(fp, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("fetchcache.store_self_heal",
		"fingerprint", fp,
		"reason", reason)
}

func (h *Hooks) StoreSetRejected(fp string) {
	if h.l == nil {
		return
	}
	h.l.Warn("fetchcache.store_set_rejected",
		"fingerprint", fp)
}
