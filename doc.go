// Package spoolcache implements a write-back auxiliary cache tier: a
// staging buffer ("purgatory") plus an asynchronous event queue that
// persists evicted or overflow entries to durable storage behind the
// caller's back. Callers get immediate acknowledgement on Update; while
// the write is still queued, a Get rescues the entry synchronously and
// cancels the persistence.
//
// Components:
//   - Backend: durable row store keyed by (region, key) with lifetime
//     columns (e.g. Postgres table, bbolt file, Redis).
//   - Codec[V]: (de)serializes V <-> []byte, invoked on the spooler, not
//     on the caller's path.
//   - Purgatory: in-flight writes, per-key cancellable.
//   - Event queue: bounded FIFO drained by a single spooler goroutine.
//
// Write path:
//
//	cache.Update(ctx, e)  // staged + queued, returns immediately
//	cache.Get(ctx, k)     // purgatory first (cancels pending write), then backend
//
// This is an optimization tier, not a WAL: entries still in the queue
// are lost on crash, and losing them is a performance event, not a
// correctness event.
package spoolcache
