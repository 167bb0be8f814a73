// Package backend defines the persistence abstraction behind the
// spoolcache facade.
//
// Implementations MUST be safe for concurrent use: the facade calls them
// from caller goroutines (get/remove paths) and from the spooler worker
// at the same time. Blob transparency is required: Get must hand back
// exactly the bytes previously passed to Put for the key (no prepended
// metadata, no re-encoding, no mutation). A store that transforms
// internally (framing, compression) must fully reverse it.
//
// Required semantics:
//   - Put upserts: a key collision overwrites the existing row.
//   - Remove is idempotent: removing an absent key is success, false.
//   - Get returns (nil, nil) for absent AND expired entries.
package backend

import (
	"context"
	"time"
)

// Record is an entry as the backend sees it: an opaque blob plus the
// lifetime columns. Region scoping is the backend's concern; the facade
// never passes it per call.
type Record struct {
	Key       string
	Blob      []byte
	CreatedAt time.Time
	MaxLife   time.Duration
	Eternal   bool
}

// Expired reports whether the record's lifetime has elapsed at now.
func (r *Record) Expired(now time.Time) bool {
	if r.Eternal {
		return false
	}
	return now.After(r.CreatedAt.Add(r.MaxLife))
}

// Backend executes the durable-storage side of the cache.
type Backend interface {
	// Put upserts rec under its key.
	Put(ctx context.Context, rec Record) error

	// Get returns the live record for key, or (nil, nil) when absent or
	// expired. IO failures return (nil, err).
	Get(ctx context.Context, key string) (*Record, error)

	// Remove deletes key; true iff something was deleted. A key ending
	// in the group delimiter ":" widens to a prefix delete (true iff at
	// least one row went away).
	Remove(ctx context.Context, key string) (bool, error)

	// RemoveAll deletes every record in the backend's region. Backends
	// may gate this behind a configuration switch and turn it into a
	// logged no-op.
	RemoveAll(ctx context.Context) error

	// Size counts records stored in the region. Expired records that
	// have not been reclaimed yet may be included.
	Size(ctx context.Context) (uint64, error)

	// GroupKeys lists keys under the group prefix. Optional; backends
	// without an efficient listing return spoolcache.ErrUnsupported.
	GroupKeys(ctx context.Context, group string) ([]string, error)

	// Dispose releases resources. Safe to call more than once.
	Dispose(ctx context.Context) error
}
