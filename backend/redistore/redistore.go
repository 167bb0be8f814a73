// Package redistore persists spool records in Redis under a region
// prefix. Lifetimes map onto native TTLs for non-eternal records, so no
// sweeper is needed; the framing still carries the lifetime columns so
// records round-trip byte-for-byte.
package redistore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/spoolcache/backend"
	"github.com/unkn0wn-root/spoolcache/internal/wire"
)

// GroupDelimiter terminates a group-prefix key, same convention as the
// tabular store.
const GroupDelimiter = ":"

var ErrNilClient = errors.New("redistore: nil client")

const keyPrefix = "spool:"

type Config struct {
	Client      goredis.UniversalClient
	Region      string
	CloseClient bool // set true only if this store exclusively owns the client
}

type Store struct {
	rdb         goredis.UniversalClient
	region      string
	closeClient bool
}

var _ backend.Backend = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Region == "" {
		return nil, errors.New("redistore: region is required")
	}
	return &Store{rdb: cfg.Client, region: cfg.Region, closeClient: cfg.CloseClient}, nil
}

func (s *Store) storageKey(key string) string {
	return keyPrefix + s.region + ":" + key
}

// regionPattern matches every storage key in this store's region.
func (s *Store) regionPattern() string {
	return keyPrefix + s.region + ":*"
}

// groupPattern matches the storage keys of one name group.
func (s *Store) groupPattern(group string) string {
	return s.storageKey(group) + GroupDelimiter + "*"
}

// putTTL maps a record's lifetime onto a native TTL. expired reports a
// record whose lifetime already elapsed at now; eternal records get no
// TTL.
func putTTL(rec backend.Record, now time.Time) (ttl time.Duration, expired bool) {
	if rec.Eternal {
		return 0, false
	}
	ttl = rec.CreatedAt.Add(rec.MaxLife).Sub(now)
	if ttl <= 0 {
		return 0, true
	}
	return ttl, false
}

func (s *Store) Put(ctx context.Context, rec backend.Record) error {
	ttl, expired := putTTL(rec, time.Now())
	if expired {
		// Upsert still holds: a record that lapsed before spooling
		// displaces whatever live row the key had.
		if err := s.rdb.Del(ctx, s.storageKey(rec.Key)).Err(); err != nil {
			return fmt.Errorf("redistore: put %q: %w", rec.Key, err)
		}
		return nil
	}
	framed := wire.EncodeRecord(rec.CreatedAt, rec.MaxLife, rec.Eternal, rec.Blob)
	return s.rdb.Set(ctx, s.storageKey(rec.Key), framed, ttl).Err()
}

func (s *Store) Get(ctx context.Context, key string) (*backend.Record, error) {
	raw, err := s.rdb.Get(ctx, s.storageKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, nil // miss
	}
	if err != nil {
		return nil, fmt.Errorf("redistore: get %q: %w", key, err)
	}
	createdAt, maxLife, eternal, blob, err := wire.DecodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("redistore: get %q: %w", key, err)
	}
	rec := &backend.Record{
		Key:       key,
		Blob:      blob,
		CreatedAt: createdAt,
		MaxLife:   maxLife,
		Eternal:   eternal,
	}
	if rec.Expired(time.Now()) {
		return nil, nil
	}
	return rec, nil
}

// removePattern widens a trailing-delimiter key to its name-group scan
// pattern.
func (s *Store) removePattern(key string) (match string, group bool) {
	if strings.HasSuffix(key, GroupDelimiter) {
		return s.storageKey(key) + "*", true
	}
	return "", false
}

func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	if match, group := s.removePattern(key); group {
		n, err := s.removeScan(ctx, match)
		return n > 0, err
	}
	n, err := s.rdb.Del(ctx, s.storageKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redistore: del %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) RemoveAll(ctx context.Context) error {
	_, err := s.removeScan(ctx, s.regionPattern())
	return err
}

func (s *Store) removeScan(ctx context.Context, match string) (int64, error) {
	var removed int64
	iter := s.rdb.Scan(ctx, 0, match, 256).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.rdb.Del(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 256 {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("redistore: scan delete: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redistore: scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("redistore: scan delete: %w", err)
	}
	return removed, nil
}

func (s *Store) Size(ctx context.Context) (uint64, error) {
	var n uint64
	iter := s.rdb.Scan(ctx, 0, s.regionPattern(), 256).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redistore: size: %w", err)
	}
	return n, nil
}

// GroupKeys lists logical keys under the group prefix (storage prefix
// stripped).
func (s *Store) GroupKeys(ctx context.Context, group string) ([]string, error) {
	strip := keyPrefix + s.region + ":"
	var keys []string
	iter := s.rdb.Scan(ctx, 0, s.groupPattern(group), 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), strip))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redistore: group keys %q: %w", group, err)
	}
	return keys, nil
}

// Dispose releases the underlying redis client only when this store owns
// it. Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Dispose(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
