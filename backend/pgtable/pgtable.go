// Package pgtable is the reference tabular backend: one row per
// (region, key) in a shared Postgres table, lifetime kept in scalar
// columns so the expiry sweep is a single comparison, and an upsert
// protocol that survives dialects without a portable MERGE.
package pgtable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unkn0wn-root/spoolcache"
	"github.com/unkn0wn-root/spoolcache/backend"
)

// GroupDelimiter terminates a group-prefix key: Remove("session:")
// deletes every key in the "session" name group.
const GroupDelimiter = ":"

const DefaultTable = "spool_store"

type Options struct {
	// Pool is the injected connection pool. Required; the store never
	// registers itself in any process-wide driver table.
	Pool *pgxpool.Pool

	// ClosePool true only if this store exclusively owns the pool.
	ClosePool bool

	Table  string // defaults to DefaultTable
	Region string // required; partition label in the shared table

	// TestBeforeInsert runs a key-existence SELECT before each INSERT so
	// the common overwrite case skips the unique-violation round trip.
	TestBeforeInsert bool

	// AllowRemoveAll gates RemoveAll. When false the call is logged and
	// ignored, protecting shared-table deployments from accidental wipes.
	AllowRemoveAll bool

	// SweepInterval schedules the expiry sweeper. 0 disables it.
	SweepInterval time.Duration

	Logger spoolcache.Logger
}

// Store implements backend.Backend on a Postgres table.
type Store struct {
	pool      *pgxpool.Pool
	closePool bool
	table     string
	region    string

	testBeforeInsert bool
	allowRemoveAll   bool

	log spoolcache.Logger

	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	disposeOnce sync.Once
}

var _ backend.Backend = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Pool == nil {
		return nil, errors.New("pgtable: pool is required")
	}
	if opts.Region == "" {
		return nil, errors.New("pgtable: region is required")
	}

	s := &Store{
		pool:             opts.Pool,
		closePool:        opts.ClosePool,
		table:            opts.Table,
		region:           opts.Region,
		testBeforeInsert: opts.TestBeforeInsert,
		allowRemoveAll:   opts.AllowRemoveAll,
		log:              opts.Logger,
	}
	if s.table == "" {
		s.table = DefaultTable
	}
	if s.log == nil {
		s.log = spoolcache.NopLogger{}
	}

	if opts.SweepInterval > 0 {
		s.sweepTicker = time.NewTicker(opts.SweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.sweepTicker.C:
					n, err := s.DeleteExpired(context.Background())
					if err != nil {
						s.log.Error("expiry sweep failed", spoolcache.Fields{"region": s.region, "err": err})
					} else if n > 0 {
						s.log.Info("expiry sweep", spoolcache.Fields{"region": s.region, "deleted": n})
					}
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s, nil
}

// EnsureSchema creates the store table and the sweep index when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			cache_key                  VARCHAR(250) NOT NULL,
			region                     VARCHAR(250) NOT NULL,
			element                    BYTEA,
			create_time                TIMESTAMPTZ,
			create_time_seconds        BIGINT,
			max_life_seconds           BIGINT,
			system_expire_time_seconds BIGINT,
			is_eternal                 CHAR(1),
			PRIMARY KEY (cache_key, region)
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expire ON %s (region, system_expire_time_seconds)`,
			s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgtable: ensure schema: %w", err)
		}
	}
	return nil
}

// Put upserts via insert-catch-unique: INSERT, and when the row already
// exists (unique violation, or the pre-check said so), UPDATE it.
func (s *Store) Put(ctx context.Context, rec backend.Record) error {
	now := time.Now().Unix()
	expire := expireAt(now, rec.MaxLife)

	exists := false
	if s.testBeforeInsert {
		var err error
		exists, err = s.exists(ctx, rec.Key)
		if err != nil {
			return err
		}
	}

	if !exists {
		sqlI := fmt.Sprintf(`INSERT INTO %s
			(cache_key, region, element, max_life_seconds, is_eternal, create_time, create_time_seconds, system_expire_time_seconds)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, s.table)
		_, err := s.pool.Exec(ctx, sqlI,
			rec.Key, s.region, rec.Blob, int64(rec.MaxLife/time.Second), eternalFlag(rec.Eternal),
			rec.CreatedAt, now, expire)
		if err == nil {
			return nil
		}
		if !isDuplicateKey(err) {
			return fmt.Errorf("pgtable: insert %q: %w", rec.Key, err)
		}
		exists = true
	}

	if exists {
		sqlU := fmt.Sprintf(`UPDATE %s
			SET element = $1, create_time = $2, create_time_seconds = $3, system_expire_time_seconds = $4
			WHERE cache_key = $5 AND region = $6`, s.table)
		if _, err := s.pool.Exec(ctx, sqlU, rec.Blob, rec.CreatedAt, now, expire, rec.Key, s.region); err != nil {
			return fmt.Errorf("pgtable: update %q: %w", rec.Key, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (*backend.Record, error) {
	sqlS := fmt.Sprintf(`SELECT element, create_time, max_life_seconds, is_eternal
		FROM %s
		WHERE region = $1 AND cache_key = $2
		  AND (is_eternal = 'T' OR system_expire_time_seconds >= $3)`, s.table)

	var (
		blob      []byte
		createdAt time.Time
		maxLifeS  int64
		eternal   string
	)
	err := s.pool.QueryRow(ctx, sqlS, s.region, key, time.Now().Unix()).
		Scan(&blob, &createdAt, &maxLifeS, &eternal)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgtable: select %q: %w", key, err)
	}
	return &backend.Record{
		Key:       key,
		Blob:      blob,
		CreatedAt: createdAt,
		MaxLife:   time.Duration(maxLifeS) * time.Second,
		Eternal:   eternal == "T",
	}, nil
}

// Remove deletes key, or the whole name group when key ends in the
// group delimiter.
func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	sqlD, args := s.removeSQL(key)
	tag, err := s.pool.Exec(ctx, sqlD, args...)
	if err != nil {
		return false, fmt.Errorf("pgtable: delete %q: %w", key, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) removeSQL(key string) (string, []any) {
	if strings.HasSuffix(key, GroupDelimiter) {
		return fmt.Sprintf(`DELETE FROM %s WHERE region = $1 AND cache_key LIKE $2`, s.table),
			[]any{s.region, key + "%"}
	}
	return fmt.Sprintf(`DELETE FROM %s WHERE cache_key = $1 AND region = $2`, s.table),
		[]any{key, s.region}
}

func (s *Store) RemoveAll(ctx context.Context) error {
	if !s.allowRemoveAll {
		s.log.Info("remove_all requested but not fulfilled: allow_remove_all is false",
			spoolcache.Fields{"region": s.region})
		return nil
	}
	sqlD := fmt.Sprintf(`DELETE FROM %s WHERE region = $1`, s.table)
	if _, err := s.pool.Exec(ctx, sqlD, s.region); err != nil {
		return fmt.Errorf("pgtable: remove all: %w", err)
	}
	return nil
}

// DeleteExpired is the expiry sweep: one scalar comparison against the
// precomputed expire column. Returns the number of rows deleted.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	sqlD := fmt.Sprintf(`DELETE FROM %s
		WHERE region = $1 AND is_eternal = 'F' AND system_expire_time_seconds < $2`, s.table)
	tag, err := s.pool.Exec(ctx, sqlD, s.region, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("pgtable: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Size(ctx context.Context) (uint64, error) {
	sqlS := fmt.Sprintf(`SELECT count(*) FROM %s WHERE region = $1`, s.table)
	var n int64
	if err := s.pool.QueryRow(ctx, sqlS, s.region).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgtable: size: %w", err)
	}
	return uint64(n), nil
}

// GroupKeys is not implemented for the tabular store.
func (s *Store) GroupKeys(context.Context, string) ([]string, error) {
	return nil, spoolcache.ErrUnsupported
}

// Dispose stops the sweeper and releases the pool when owned. Safe to
// call more than once.
func (s *Store) Dispose(context.Context) error {
	s.disposeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.sweepTicker.Stop()
			s.wg.Wait()
		}
		if s.closePool {
			s.pool.Close()
		}
	})
	return nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	// don't select the element, this needs to be fast
	sqlS := fmt.Sprintf(`SELECT cache_key FROM %s WHERE region = $1 AND cache_key = $2`, s.table)
	var k string
	err := s.pool.QueryRow(ctx, sqlS, s.region, key).Scan(&k)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgtable: exists %q: %w", key, err)
	}
	return true, nil
}

func eternalFlag(eternal bool) string {
	if eternal {
		return "T"
	}
	return "F"
}

// expireAt precomputes the scalar the sweep compares against.
func expireAt(nowSec int64, maxLife time.Duration) int64 {
	return nowSec + int64(maxLife/time.Second)
}

// isDuplicateKey recognizes a unique violation by SQLSTATE 23505 where
// the driver exposes it, falling back to the vendor message fragments.
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Violation of unique index") ||
		strings.Contains(msg, "Duplicate entry")
}
