package spoolcache

import "sync/atomic"

// Stats is a point-in-time snapshot of the monitoring counters. After a
// fatal backend event Update returns ErrQueueDestroyed and nothing more
// is persisted; QueueDestroyed plus the error counters are how that is
// observed.
type Stats struct {
	Region string

	UpdateCount   uint64
	GetCount      uint64
	PurgatoryHits uint64
	DroppedEvents uint64
	BackendErrors uint64

	PurgatorySize  int
	QueueDepth     int
	QueueDestroyed bool
}

type counters struct {
	updates     atomic.Uint64
	gets        atomic.Uint64
	purgHits    atomic.Uint64
	dropped     atomic.Uint64
	backendErrs atomic.Uint64
}
