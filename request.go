package fetchcache

import (
	"github.com/unkn0wn-root/fetchcache/internal/fingerprint"
)

// Params is the named-parameter set identifying one fetch. Values should be
// scalars (strings, integers, floats, bools); the fingerprint is derived from
// them and is type-sensitive, so use consistent value types for the same
// parameter across call sites.
type Params map[string]any

// Request pairs fetch parameters with an urgency hint.
//
// Priority is excluded from identity by construction: two Requests with equal
// Params address the same entry no matter their Priority. Higher means more
// urgent; zero is the default. Priority orders admission of queued fetches
// and lets a later request preempt a not-yet-started one.
type Request struct {
	Params   Params
	Priority int
}

// Fingerprint returns the canonical identity of the request: a stable digest
// over the sorted parameter names and values, invariant under field insertion
// order and under Priority.
func (r Request) Fingerprint() string {
	return fingerprint.Key(r.Params)
}
