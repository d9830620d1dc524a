package tagcache

// Hooks receives record lifecycle events. It is the cache's event sink for
// external listeners.
// Implementations MUST be cheap and non-blocking; the cache calls them
// inline. Wrap slow sinks with hooks/async.
type Hooks interface {
	// A read found the record but it is no longer live (lazy expiry).
	// May fire more than once for the same record.
	ItemExpired(namespace, key string)

	// MarkExpired moved key to marker.
	MarkedExpired(namespace, key, marker string)

	// A record could not be decoded and was removed on read.
	// reason ∈ {"codec_mismatch", "value_decode"}
	SelfHeal(namespace, key, reason string)

	// A store failure was swallowed because the cache runs fail-soft.
	StoreError(op string, err error)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) ItemExpired(string, string)           {}
func (NopHooks) MarkedExpired(string, string, string) {}
func (NopHooks) SelfHeal(string, string, string)      {}
func (NopHooks) StoreError(string, error)             {}
