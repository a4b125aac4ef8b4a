// Package fetchcache implements a request-deduplicating, priority-preemptible
// asynchronous cache: given a fetch function from request parameters to a
// value, it guarantees at most one in-flight fetch per distinct parameter
// fingerprint, serves the settled result to any number of concurrent readers,
// refreshes entries in the background without hiding the last-known-good value
// (stale-while-revalidate), and lets a higher-priority request cancel a
// lower-priority fetch that has not started yet.
//
// Components:
//   - Cache[V]: per-fetch-function engine owning an entry table and a
//     subscription bus. Construct with New.
//   - scheduler.Scheduler: process-wide admission queue. Priority orders
//     tasks awaiting admission; running tasks are never interrupted.
//   - Registry: process-wide list of engines, so the package-level
//     InvalidateAll can reset every cache created anywhere in the process.
//   - provider.Provider + codec.Codec[V] (optional): a warm store keeping
//     encoded settled values (e.g. Ristretto, BigCache) so a fingerprint
//     unseen by the entry table can be served without a fetch.
//
// Identity:
//
//	fp := Request{Params: Params{"id": 1}}.Fingerprint()
//
// Two requests differing only in Priority share a fingerprint and therefore
// share one entry and one in-flight fetch.
//
// Reading:
//
//	cache, _ := fetchcache.New[User](fetchcache.Options[User]{
//	    Namespace: "user",
//	    Fetch:     loadUser,
//	})
//	u, err := cache.Read(ctx, fetchcache.Request{Params: fetchcache.Params{"id": 7}})
//
// Read blocks while the entry is Pending. Event-loop callers that must not
// block use Peek to decide between awaiting and rendering a fallback.
package fetchcache
