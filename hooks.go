package spoolcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A read rescued an entry from purgatory; its pending write is
	// cancelled and will never reach the backend.
	PurgatoryHit(key string)

	// A put event was dropped at Update time and will not reach the
	// backend. reason ∈ {"queue_full", "queue_destroyed"}; encode
	// failures are reported through SerializeError instead.
	EventDropped(key, reason string)

	// The backend failed an operation.
	// op ∈ {"put", "get", "remove", "remove_all", "size", "dispose"}
	BackendError(op string, err error)

	// An entry could not be encoded at spool time. The single event is
	// dropped; the cache stays healthy.
	SerializeError(key string, err error)

	// The event queue entered its terminal state; Update is rejected
	// from here on. reason ∈ {"error_threshold", "read_error"}
	QueueDestroyed(reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) PurgatoryHit(string)          {}
func (NopHooks) EventDropped(string, string)  {}
func (NopHooks) BackendError(string, error)   {}
func (NopHooks) SerializeError(string, error) {}
func (NopHooks) QueueDestroyed(string)        {}
