package spoolcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/spoolcache/backend"
	c "github.com/unkn0wn-root/spoolcache/codec"
)

type Cache[V any] = DiskCache[V] // just an alias -> spoolcache.Cache[User] or spoolcache.DiskCache[User]

// DiskCache is the write-back auxiliary tier behind a fast in-memory
// cache. Update acknowledges immediately and persists asynchronously; a
// Get that lands inside the grace window rescues the entry from the
// write queue. V is the caller's value type; serialization is handled by
// a pluggable Codec[V] at spool time, off the caller's path.
type DiskCache[V any] interface {
	// Update stages the entry and queues its write. Never blocks on the
	// backend. Alive-only.
	Update(ctx context.Context, e Entry[V]) error

	// Get returns the entry from purgatory (cancelling its pending
	// write) or from the backend. Backend errors are logged and surface
	// as a miss.
	Get(ctx context.Context, key string) (Entry[V], bool)

	// Remove deletes key synchronously, bypassing the queue. True iff
	// the backend reports a deletion. A trailing ":" widens to a group
	// prefix delete.
	Remove(ctx context.Context, key string) bool

	// RemoveAll discards purgatory and clears the backend region.
	RemoveAll(ctx context.Context)

	// Dispose drains the queue (bounded by DisposeTimeout), disposes the
	// backend and makes every subsequent operation a no-op.
	Dispose(ctx context.Context)

	// Size reports the backend's record count for the region, which may
	// include expired records not yet reclaimed; 0 on error (logged).
	Size(ctx context.Context) uint64

	Status() Status

	// GroupKeys lists backend keys under the group prefix. Optional;
	// the tabular backend returns ErrUnsupported.
	GroupKeys(ctx context.Context, group string) ([]string, error)

	// Stats snapshots the monitoring counters.
	Stats() Stats
}

// Options tune the facade. Only Region, Backend and Codec are required;
// others have sensible defaults.
type Options[V any] struct {
	// Required
	Region  string // partition label scoping keys in a shared backend
	Backend backend.Backend
	Codec   c.Codec[V]

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	QueueCapacity    int           // event queue bound; 0 => 2048
	AppendTimeout    time.Duration // backpressure wait before dropping; 0 => 50ms
	DisposeTimeout   time.Duration // queue drain budget on Dispose; 0 => 5s
	FailureThreshold int           // consecutive spool failures before the queue is destroyed; 0 => 3
}

// New builds the facade, starts its spooler worker and returns it Alive.
func New[V any](opts Options[V]) (DiskCache[V], error) {
	return newCache[V](opts)
}
