package fetchcache

import "sync/atomic"

const (
	attemptIdle int32 = iota
	attemptStarted
	attemptAborted
)

// attempt is one scheduled run of the fetch function. Its token is a
// tri-state: abort wins only while the body has not begun. An aborted body
// never runs and never settles; a started body always settles (the result
// may still be dropped if the entry vanished meanwhile).
type attempt struct {
	state atomic.Int32
	req   Request // originating request; priority read during preemption
	gen   uint64  // warm-store generation observed at admission
	done  chan struct{}
}

func newAttempt(req Request) *attempt {
	return &attempt{req: req, done: make(chan struct{})}
}

// start claims the token for execution. false means a preemption won first
// and the body must not run.
func (a *attempt) start() bool {
	return a.state.CompareAndSwap(attemptIdle, attemptStarted)
}

// abort requests pre-start cancellation. true means the body will never run.
// Idempotent once decided: repeated calls keep returning the same answer.
func (a *attempt) abort() bool {
	if a.state.CompareAndSwap(attemptIdle, attemptAborted) {
		close(a.done)
		return true
	}
	return a.state.Load() == attemptAborted
}

// finish signals waiters that the body has settled.
func (a *attempt) finish() { close(a.done) }
