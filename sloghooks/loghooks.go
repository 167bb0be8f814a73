package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/spoolcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all. Purgatory hits are the
	// normal hot-path event, everything else is rare enough to log raw.
	PurgatoryHitEvery uint64
	EventDropEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	purgHitCtr atomic.Uint64
	dropCtr    atomic.Uint64
}

var _ spoolcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) PurgatoryHit(key string) {
	if h.l == nil || !sample(h.opts.PurgatoryHitEvery, &h.purgHitCtr) {
		return
	}
	h.l.Debug("spoolcache.purgatory_hit",
		"key", h.redact(key))
}

func (h *Hooks) EventDropped(key, reason string) {
	if h.l == nil || !sample(h.opts.EventDropEvery, &h.dropCtr) {
		return
	}
	h.l.Warn("spoolcache.event_dropped",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) BackendError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("spoolcache.backend_error",
		"op", op,
		"err", err)
}

func (h *Hooks) SerializeError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("spoolcache.serialize_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) QueueDestroyed(reason string) {
	if h.l == nil {
		return
	}
	h.l.Error("spoolcache.queue_destroyed",
		"reason", reason,
		"msg", "pending writes will be dropped; updates are rejected from here on")
}
