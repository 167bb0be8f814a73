// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/spoolcache"
//	"github.com/unkn0wn-root/spoolcache/hooks/async"
//	"github.com/unkn0wn-root/spoolcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    PurgatoryHitEvery: 100, // sample logs: ~every 100th rescue
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := spoolcache.New[User](spoolcache.Options[User]{
//	    Region:  "user",
//	    Backend: store,
//	    Codec:   codec.JSON[User]{},
//	    Hooks:   hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/spoolcache"
)

type Hooks struct {
	inner spoolcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ spoolcache.Hooks = (*Hooks)(nil)

func New(inner spoolcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) PurgatoryHit(k string)   { h.try(func() { h.inner.PurgatoryHit(k) }) }
func (h *Hooks) QueueDestroyed(r string) { h.try(func() { h.inner.QueueDestroyed(r) }) }
func (h *Hooks) EventDropped(k, r string) {
	h.try(func() { h.inner.EventDropped(k, r) })
}
func (h *Hooks) BackendError(op string, err error) {
	h.try(func() { h.inner.BackendError(op, err) })
}
func (h *Hooks) SerializeError(k string, err error) {
	h.try(func() { h.inner.SerializeError(k, err) })
}
