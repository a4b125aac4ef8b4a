package fetchcache

import "fmt"

// Status is the lifecycle state of a cache entry. The set is closed: entries
// are created Pending and settle to Resolved or Rejected. A settled entry is
// not terminal for the fingerprint; a background refresh may settle it again.
type Status int

const (
	Pending Status = iota
	Resolved
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// entry is one fingerprint's record. All fields are guarded by the engine
// mutex.
//
// Invariants:
//   - attempt is non-nil iff status == Pending, and is then the sole
//     in-flight fetch for the fingerprint.
//   - next is non-nil only when status != Pending; the settled value or
//     error stays visible while next runs.
//   - args is the request that produced (or, during a refresh, will produce)
//     the visible value. Not necessarily the most recent request seen.
type entry[V any] struct {
	status  Status
	attempt *attempt
	value   V
	err     error
	args    Request
	next    *attempt
}

// Snapshot is the externally visible state of an entry, as returned by Peek.
type Snapshot[V any] struct {
	Status Status
	Value  V     // meaningful when Status == Resolved
	Err    error // non-nil when Status == Rejected (*FetchError)
	Args   Request
	// Refreshing reports an in-flight background refresh. The Value/Err
	// above remain the last settled result until it completes.
	Refreshing bool
}

// view is what admission hands back to readers: the entry state at the time
// the engine mutex was held, plus the attempt to wait on while Pending.
type view[V any] struct {
	status Status
	value  V
	err    error
	wait   *attempt
}

func viewOf[V any](ent *entry[V]) view[V] {
	return view[V]{
		status: ent.status,
		value:  ent.value,
		err:    ent.err,
		wait:   ent.attempt,
	}
}
