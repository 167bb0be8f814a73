package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/spoolcache/backend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{
		Path:   filepath.Join(t.TempDir(), "spool.db"),
		Region: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Dispose(context.Background()) })
	return s
}

func put(t *testing.T, s *Store, key string, blob []byte, age, maxLife time.Duration, eternal bool) {
	t.Helper()
	err := s.Put(context.Background(), backend.Record{
		Key:       key,
		Blob:      blob,
		CreatedAt: time.Now().Add(-age),
		MaxLife:   maxLife,
		Eternal:   eternal,
	})
	if err != nil {
		t.Fatalf("Put %s: %v", key, err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "k", []byte("payload"), 0, time.Hour, false)

	rec, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec == nil || string(rec.Blob) != "payload" {
		t.Fatalf("Get: rec=%+v", rec)
	}
	if rec.Eternal || rec.MaxLife != time.Hour {
		t.Fatalf("lifetime columns lost: %+v", rec)
	}

	// upsert
	put(t, s, "k", []byte("payload2"), 0, time.Hour, false)
	rec, err = s.Get(ctx, "k")
	if err != nil || rec == nil || string(rec.Blob) != "payload2" {
		t.Fatalf("upsert: rec=%+v err=%v", rec, err)
	}

	n, err := s.Size(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Size = %d, %v", n, err)
	}
}

func TestExpiredRecordsMissBeforeSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "old", []byte("v"), 2*time.Second, time.Second, false)

	rec, err := s.Get(ctx, "old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expired record must read as a miss, got %+v", rec)
	}
}

// TestExpirySweep deletes lapsed non-eternal records.
func TestExpirySweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "d", []byte("3"), 2*time.Second, time.Second, false)
	put(t, s, "fresh", []byte("x"), 0, time.Hour, false)

	n, err := s.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if rec, _ := s.Get(ctx, "d"); rec != nil {
		t.Fatalf("swept record still readable")
	}
	if rec, _ := s.Get(ctx, "fresh"); rec == nil {
		t.Fatalf("live record swept")
	}
}

// TestEternalBypassesSweep: eternal records survive any delay.
func TestEternalBypassesSweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "e", []byte("4"), 24*time.Hour, time.Second, true)

	if _, err := s.DeleteExpired(ctx); err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	rec, err := s.Get(ctx, "e")
	if err != nil || rec == nil || string(rec.Blob) != "4" {
		t.Fatalf("eternal record lost: rec=%+v err=%v", rec, err)
	}
}

func TestRemoveSingleAndGroup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "session:1", []byte("a"), 0, time.Hour, false)
	put(t, s, "session:2", []byte("b"), 0, time.Hour, false)
	put(t, s, "other", []byte("c"), 0, time.Hour, false)

	ok, err := s.Remove(ctx, "missing")
	if err != nil || ok {
		t.Fatalf("removing absent key: ok=%v err=%v", ok, err)
	}

	ok, err = s.Remove(ctx, "other")
	if err != nil || !ok {
		t.Fatalf("remove single: ok=%v err=%v", ok, err)
	}

	// trailing delimiter widens to the name group
	ok, err = s.Remove(ctx, "session:")
	if err != nil || !ok {
		t.Fatalf("remove group: ok=%v err=%v", ok, err)
	}
	n, _ := s.Size(ctx)
	if n != 0 {
		t.Fatalf("Size = %d after removals", n)
	}
}

func TestGroupKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "grp:1", []byte("a"), 0, time.Hour, false)
	put(t, s, "grp:2", []byte("b"), 0, time.Hour, false)
	put(t, s, "grumble", []byte("c"), 0, time.Hour, false)

	keys, err := s.GroupKeys(ctx, "grp")
	if err != nil {
		t.Fatalf("GroupKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("keys = %v, want the two grp members", keys)
	}
}

func TestRemoveAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	put(t, s, "a", []byte("1"), 0, time.Hour, false)
	put(t, s, "b", []byte("2"), 0, time.Hour, false)

	if err := s.RemoveAll(ctx); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	n, err := s.Size(ctx)
	if err != nil || n != 0 {
		t.Fatalf("Size after RemoveAll = %d, %v", n, err)
	}
	// the region bucket is usable again
	put(t, s, "c", []byte("3"), 0, time.Hour, false)
	if rec, _ := s.Get(ctx, "c"); rec == nil {
		t.Fatalf("store unusable after RemoveAll")
	}
}
