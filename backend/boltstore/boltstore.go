// Package boltstore persists spool records in a local bbolt file, one
// bucket per region. Records carry their lifetime in the wire framing;
// expired records are filtered on read and reclaimed by the sweeper.
package boltstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/unkn0wn-root/spoolcache"
	"github.com/unkn0wn-root/spoolcache/backend"
	"github.com/unkn0wn-root/spoolcache/internal/wire"
)

// GroupDelimiter terminates a group-prefix key, same convention as the
// tabular store.
const GroupDelimiter = ":"

type Options struct {
	Path   string // database file; created if missing
	Region string // bucket name

	// SweepInterval schedules the expiry sweeper. 0 disables it.
	SweepInterval time.Duration

	FileMode uint32 // 0 => 0600

	Logger spoolcache.Logger
}

type Store struct {
	db     *bolt.DB
	region []byte
	log    spoolcache.Logger

	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	disposeOnce sync.Once
}

var _ backend.Backend = (*Store)(nil)

func New(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("boltstore: path is required")
	}
	if opts.Region == "" {
		return nil, errors.New("boltstore: region is required")
	}
	mode := opts.FileMode
	if mode == 0 {
		mode = 0600
	}

	db, err := bolt.Open(opts.Path, os.FileMode(mode), &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", opts.Path, err)
	}

	s := &Store{
		db:     db,
		region: []byte(opts.Region),
		log:    opts.Logger,
	}
	if s.log == nil {
		s.log = spoolcache.NopLogger{}
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.region)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
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
						s.log.Error("expiry sweep failed", spoolcache.Fields{"region": string(s.region), "err": err})
					} else if n > 0 {
						s.log.Info("expiry sweep", spoolcache.Fields{"region": string(s.region), "deleted": n})
					}
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s, nil
}

func (s *Store) Put(_ context.Context, rec backend.Record) error {
	framed := wire.EncodeRecord(rec.CreatedAt, rec.MaxLife, rec.Eternal, rec.Blob)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.region).Put([]byte(rec.Key), framed)
	})
}

func (s *Store) Get(_ context.Context, key string) (*backend.Record, error) {
	var rec *backend.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(s.region).Get([]byte(key))
		if raw == nil {
			return nil
		}
		createdAt, maxLife, eternal, blob, err := wire.DecodeRecord(raw)
		if err != nil {
			return err
		}
		r := &backend.Record{
			Key:       key,
			Blob:      append([]byte(nil), blob...), // raw is only valid inside the tx
			CreatedAt: createdAt,
			MaxLife:   maxLife,
			Eternal:   eternal,
		}
		if r.Expired(time.Now()) {
			return nil
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: get %q: %w", key, err)
	}
	return rec, nil
}

func (s *Store) Remove(_ context.Context, key string) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.region)
		if strings.HasSuffix(key, GroupDelimiter) {
			c := b.Cursor()
			prefix := []byte(key)
			var victims [][]byte
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				victims = append(victims, append([]byte(nil), k...))
			}
			for _, k := range victims {
				if err := b.Delete(k); err != nil {
					return err
				}
				removed = true
			}
			return nil
		}
		if b.Get([]byte(key)) == nil {
			return nil
		}
		removed = true
		return b.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("boltstore: remove %q: %w", key, err)
	}
	return removed, nil
}

func (s *Store) RemoveAll(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.region); err != nil {
			return err
		}
		_, err := tx.CreateBucket(s.region)
		return err
	})
}

// DeleteExpired reclaims non-eternal records whose lifetime elapsed.
func (s *Store) DeleteExpired(_ context.Context) (int64, error) {
	now := time.Now()
	var deleted int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.region)
		var victims [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			createdAt, maxLife, eternal, _, err := wire.DecodeRecord(v)
			if err != nil {
				// corrupt record; reclaim it too
				victims = append(victims, append([]byte(nil), k...))
				continue
			}
			r := backend.Record{CreatedAt: createdAt, MaxLife: maxLife, Eternal: eternal}
			if r.Expired(now) {
				victims = append(victims, append([]byte(nil), k...))
			}
		}
		for _, k := range victims {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: delete expired: %w", err)
	}
	return deleted, nil
}

func (s *Store) Size(_ context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = uint64(tx.Bucket(s.region).Stats().KeyN)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("boltstore: size: %w", err)
	}
	return n, nil
}

// GroupKeys lists keys under the group prefix via a cursor scan.
func (s *Store) GroupKeys(_ context.Context, group string) ([]string, error) {
	prefix := []byte(group + GroupDelimiter)
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.region).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, string(k))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: group keys %q: %w", group, err)
	}
	return keys, nil
}

func (s *Store) Dispose(context.Context) error {
	var err error
	s.disposeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			s.sweepTicker.Stop()
			s.wg.Wait()
		}
		err = s.db.Close()
	})
	return err
}
