package spoolcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/spoolcache/backend"
	c "github.com/unkn0wn-root/spoolcache/codec"
	"github.com/unkn0wn-root/spoolcache/internal/eventqueue"
	"github.com/unkn0wn-root/spoolcache/internal/keylock"
	"github.com/unkn0wn-root/spoolcache/internal/purgatory"
)

type cache[V any] struct {
	region     string
	instanceID string
	be         backend.Backend
	codec      c.Codec[V]
	log        Logger
	hooks      Hooks

	purg  *purgatory.Map[Entry[V]]
	queue *eventqueue.Queue
	locks *keylock.Registry

	state atomic.Int32
	stats counters

	failureThreshold int
	disposeTimeout   time.Duration

	workerWG sync.WaitGroup
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Region == "" {
		return nil, fmt.Errorf("spoolcache: region is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("spoolcache: backend is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("spoolcache: codec is required")
	}

	cc := &cache[V]{
		region:     opts.Region,
		instanceID: uuid.NewString(),
		be:         opts.Backend,
		codec:      opts.Codec,
		purg:       purgatory.New[Entry[V]](),
		locks:      keylock.New(),
	}

	// defaults
	cc.log = coalesce[Logger](opts.Logger, NopLogger{})
	cc.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	cc.failureThreshold = coalesce[int](opts.FailureThreshold, defaultFailureThreshold)
	cc.disposeTimeout = coalesce[time.Duration](opts.DisposeTimeout, defaultDisposeTimeout)

	capacity := coalesce[int](opts.QueueCapacity, defaultQueueCapacity)
	appendTimeout := coalesce[time.Duration](opts.AppendTimeout, defaultAppendTimeout)
	cc.queue = eventqueue.New(capacity, appendTimeout)

	cc.state.Store(stateAlive)

	// One spooler preserves submission order for every key.
	cc.workerWG.Add(1)
	go cc.spool()

	cc.log.Info("disk cache up", Fields{"region": cc.region, "instance": cc.instanceID})
	return cc, nil
}

func (cc *cache[V]) alive() bool { return cc.state.Load() == stateAlive }

// Update stages the entry in purgatory and queues a put event. The prior
// item for the key, if any, becomes unreachable and its queued event
// no-ops.
func (cc *cache[V]) Update(ctx context.Context, e Entry[V]) error {
	if !cc.alive() {
		return ErrNotAlive
	}
	if e.Key == "" {
		return ErrEmptyKey
	}
	if e.Attrs.CreatedAt.IsZero() {
		e.Attrs.CreatedAt = time.Now()
	}
	cc.stats.updates.Add(1)

	cc.purg.Put(e.Key, e)

	err := cc.queue.Append(ctx, eventqueue.Event{Kind: eventqueue.Put, Key: e.Key})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, eventqueue.ErrFull) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// Default overflow policy: drop the event. The staged item keeps
		// serving reads from purgatory but will never persist.
		cc.stats.dropped.Add(1)
		cc.hooks.EventDropped(e.Key, "queue_full")
		cc.log.Warn("event queue full, dropping put", Fields{"region": cc.region, "key": e.Key})
		return nil
	default:
		cc.stats.dropped.Add(1)
		cc.hooks.EventDropped(e.Key, "queue_destroyed")
		cc.log.Error("event queue rejected put", Fields{"region": cc.region, "key": e.Key, "err": err})
		return ErrQueueDestroyed
	}
}

func (cc *cache[V]) Get(ctx context.Context, key string) (Entry[V], bool) {
	var zero Entry[V]
	if !cc.alive() {
		return zero, false
	}
	cc.stats.gets.Add(1)

	// Lock-free peek first; the write lock is only paid on a hit.
	if cc.purg.Contains(key) {
		if err := cc.locks.Lock(ctx, key); err != nil {
			cc.log.Warn("interrupted acquiring key lock", Fields{"key": key, "err": err})
			return zero, false
		}
		item, ok := cc.purg.Get(key)
		if ok {
			// Flip spoolable before removal: a worker racing on this key
			// either sees the item non-spoolable or gone; both skip the
			// write.
			item.MarkUnspoolable()
			cc.purg.RemoveItem(key, item)
			cc.locks.Unlock(key)

			cc.stats.purgHits.Add(1)
			cc.hooks.PurgatoryHit(key)
			cc.log.Debug("purgatory hit", Fields{"region": cc.region, "key": key})
			return item.Value, true
		}
		cc.locks.Unlock(key)
	}

	rec, err := cc.be.Get(ctx, key)
	if err != nil {
		cc.log.Error("backend get failed, destroying event queue",
			Fields{"region": cc.region, "key": key, "err": cc.noteBackendError("get", key, err)})
		cc.destroyQueue("read_error")
		return zero, false
	}
	if rec == nil {
		return zero, false
	}

	v, err := cc.codec.Decode(rec.Blob)
	if err != nil {
		cc.log.Error("cannot decode backend blob", Fields{"region": cc.region, "key": key, "err": err})
		return zero, false
	}
	return Entry[V]{
		Key:   key,
		Value: v,
		Attrs: Attributes{CreatedAt: rec.CreatedAt, MaxLife: rec.MaxLife, Eternal: rec.Eternal},
	}, true
}

// Remove is synchronous and bypasses the queue: the staged item (if any)
// and the backend row go together under the key's write lock.
func (cc *cache[V]) Remove(ctx context.Context, key string) bool {
	if !cc.alive() {
		return false
	}
	if err := cc.locks.Lock(ctx, key); err != nil {
		cc.log.Warn("interrupted acquiring key lock", Fields{"key": key, "err": err})
		return false
	}
	defer cc.locks.Unlock(key)

	cc.purg.Remove(key)

	removed, err := cc.be.Remove(ctx, key)
	if err != nil {
		cc.log.Error("backend remove failed",
			Fields{"region": cc.region, "key": key, "err": cc.noteBackendError("remove", key, err)})
		return false
	}
	return removed
}

func (cc *cache[V]) RemoveAll(ctx context.Context) {
	if !cc.alive() {
		return
	}
	// Events queued against the old contents find nothing and no-op.
	cc.purg.SwapEmpty()

	if err := cc.be.RemoveAll(ctx); err != nil {
		cc.log.Error("backend remove_all failed",
			Fields{"region": cc.region, "err": cc.noteBackendError("remove_all", "", err)})
	}
}

// Dispose drains the queue first (bounded by DisposeTimeout; the tail is
// dropped on timeout), then disposes the backend. All errors are
// swallowed.
func (cc *cache[V]) Dispose(ctx context.Context) {
	if !cc.state.CompareAndSwap(stateAlive, stateDisposing) {
		return
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cc.disposeTimeout)
	defer cancel()

	// The sentinel may be refused (queue full or destroyed); the drain
	// below is bounded by drainCtx either way.
	_ = cc.queue.Append(drainCtx, eventqueue.Event{Kind: eventqueue.Dispose})
	if err := cc.queue.Drain(drainCtx); err != nil {
		cc.log.Warn("dispose drain timed out, dropping queue tail", Fields{"region": cc.region})
		// A destroyed queue hands its backlog to the worker as no-ops.
		cc.queue.Destroy()
	}
	cc.queue.Close()
	cc.workerWG.Wait()

	if err := cc.be.Dispose(ctx); err != nil {
		cc.hooks.BackendError("dispose", &BackendError{Op: "dispose", Err: err})
		cc.log.Error("backend dispose failed", Fields{"region": cc.region, "err": err})
	}

	cc.state.Store(stateDisposed)
	cc.log.Info("disk cache disposed", Fields{"region": cc.region, "instance": cc.instanceID})
}

func (cc *cache[V]) Size(ctx context.Context) uint64 {
	if !cc.alive() {
		return 0
	}
	n, err := cc.be.Size(ctx)
	if err != nil {
		cc.log.Error("backend size failed",
			Fields{"region": cc.region, "err": cc.noteBackendError("size", "", err)})
		return 0
	}
	return n
}

func (cc *cache[V]) Status() Status {
	if cc.alive() {
		return StatusAlive
	}
	return StatusDisposed
}

func (cc *cache[V]) GroupKeys(ctx context.Context, group string) ([]string, error) {
	if !cc.alive() {
		return nil, ErrNotAlive
	}
	return cc.be.GroupKeys(ctx, group)
}

func (cc *cache[V]) Stats() Stats {
	return Stats{
		Region:         cc.region,
		UpdateCount:    cc.stats.updates.Load(),
		GetCount:       cc.stats.gets.Load(),
		PurgatoryHits:  cc.stats.purgHits.Load(),
		DroppedEvents:  cc.stats.dropped.Load(),
		BackendErrors:  cc.stats.backendErrs.Load(),
		PurgatorySize:  cc.purg.Len(),
		QueueDepth:     cc.queue.Depth(),
		QueueDestroyed: cc.queue.Destroyed(),
	}
}

// noteBackendError counts the failure, fires the hook and hands back
// the structured error for logging.
func (cc *cache[V]) noteBackendError(op, key string, err error) *BackendError {
	cc.stats.backendErrs.Add(1)
	be := &BackendError{Op: op, Key: key, Err: err}
	cc.hooks.BackendError(op, be)
	return be
}

func (cc *cache[V]) destroyQueue(reason string) {
	if cc.queue.Destroyed() {
		return
	}
	cc.queue.Destroy()
	cc.hooks.QueueDestroyed(reason)
}

// spool is the worker loop. It runs as a method on the facade but calls
// none of its public methods: it works through purgatory, the lock
// registry, the codec and the backend, and exits on a dispose event or
// queue close.
func (cc *cache[V]) spool() {
	defer cc.workerWG.Done()

	ctx := context.Background()
	consecutiveFailures := 0

	for ev := range cc.queue.Events() {
		if cc.queue.Destroyed() && ev.Kind != eventqueue.Dispose {
			// Destroyed queues drain their backlog as no-ops.
			cc.queue.Done()
			continue
		}

		switch ev.Kind {
		case eventqueue.Put:
			if cc.spoolPut(ctx, ev.Key) {
				consecutiveFailures = 0
			} else {
				consecutiveFailures++
				if consecutiveFailures >= cc.failureThreshold {
					cc.log.Error("backend failing repeatedly, destroying event queue",
						Fields{"region": cc.region, "failures": consecutiveFailures})
					cc.destroyQueue("error_threshold")
				}
			}
		case eventqueue.Remove:
			cc.spoolRemove(ctx, ev.Key)
		case eventqueue.RemoveAll:
			if err := cc.be.RemoveAll(ctx); err != nil {
				cc.log.Error("backend remove_all failed",
					Fields{"region": cc.region, "err": cc.noteBackendError("remove_all", "", err)})
			}
		case eventqueue.Dispose:
			cc.queue.Done()
			return
		}
		cc.queue.Done()
	}
}

// spoolPut is the on_put action: fetch-and-validate the staged item
// under the key's write lock, write it out if still spoolable, then
// remove exactly that item. Returns false only on a backend failure.
func (cc *cache[V]) spoolPut(ctx context.Context, key string) bool {
	if err := cc.locks.Lock(ctx, key); err != nil {
		cc.log.Warn("spooler interrupted acquiring key lock", Fields{"key": key, "err": err})
		return true
	}
	defer cc.locks.Unlock(key)

	item, ok := cc.purg.Get(key)
	if !ok || !item.Spoolable() {
		// Cancelled by a read, displaced by remove/remove_all, or an
		// overwritten item's stale event. Not an error.
		return true
	}

	e := item.Value
	blob, err := cc.codec.Encode(e.Value)
	if err != nil {
		cc.hooks.SerializeError(key, err)
		cc.log.Error("cannot encode entry, dropping event", Fields{"region": cc.region, "key": key, "err": err})
		cc.purg.RemoveItem(key, item)
		return true
	}

	rec := backend.Record{
		Key:       key,
		Blob:      blob,
		CreatedAt: e.Attrs.CreatedAt,
		MaxLife:   e.Attrs.MaxLife,
		Eternal:   e.Attrs.Eternal,
	}
	if err := cc.be.Put(ctx, rec); err != nil {
		cc.log.Error("backend put failed, dropping event",
			Fields{"region": cc.region, "key": key, "err": cc.noteBackendError("put", key, err)})
		cc.purg.RemoveItem(key, item)
		return false
	}

	// Only after the write completed is it safe to unstage.
	cc.purg.RemoveItem(key, item)
	return true
}

func (cc *cache[V]) spoolRemove(ctx context.Context, key string) {
	if err := cc.locks.Lock(ctx, key); err != nil {
		cc.log.Warn("spooler interrupted acquiring key lock", Fields{"key": key, "err": err})
		return
	}
	defer cc.locks.Unlock(key)

	if _, err := cc.be.Remove(ctx, key); err != nil {
		cc.log.Error("backend remove failed",
			Fields{"region": cc.region, "key": key, "err": cc.noteBackendError("remove", key, err)})
	}
}
