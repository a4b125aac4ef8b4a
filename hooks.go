package fetchcache

// Hooks are lightweight callbacks for high-signal engine events.
// Implementations MUST be cheap and non-blocking, and must not call back
// into the cache; the engine fires them right after releasing its critical
// section. Wrap with hooks/async to decouple slow sinks.
type Hooks interface {
	// A queued attempt was cancelled before start in favor of a
	// higher-priority request for the same fingerprint.
	AttemptPreempted(fingerprint string, oldPriority, newPriority int)

	// A fetch settled after its entry had been removed or superseded;
	// the result was discarded without mutation or notification.
	SettlementDropped(fingerprint string)

	// A background refresh was admitted for a settled entry.
	RefreshStarted(fingerprint string)

	// Warm store events. Never fired unless Options.Store is configured.
	// WarmHit: a settled value was served from the store without a fetch.
	// StoreSelfHeal: a store entry was deleted on read.
	//   reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	// StoreSetRejected: the store refused a write under pressure.
	WarmHit(fingerprint string)
	StoreSelfHeal(fingerprint, reason string)
	StoreSetRejected(fingerprint string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) AttemptPreempted(string, int, int) {}
func (NopHooks) SettlementDropped(string)          {}
func (NopHooks) RefreshStarted(string)             {}
func (NopHooks) WarmHit(string)                    {}
func (NopHooks) StoreSelfHeal(string, string)      {}
func (NopHooks) StoreSetRejected(string)           {}
