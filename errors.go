package fetchcache

import "fmt"

// FetchError wraps a fetch-function failure stored in a Rejected entry.
// Readers receive it on every Read until the entry is invalidated; the
// engine never retries on its own. Use errors.As to treat fetch failures
// specially and let anything else propagate unchanged.
type FetchError struct {
	Fingerprint string
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetchcache: fetch %s failed: %v", e.Fingerprint, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
