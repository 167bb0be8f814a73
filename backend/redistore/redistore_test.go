package redistore

import (
	"testing"
	"time"

	"github.com/unkn0wn-root/spoolcache/backend"
)

func testStore() *Store {
	return &Store{region: "orders"}
}

func TestStorageKeyScoping(t *testing.T) {
	s := testStore()
	if got := s.storageKey("k1"); got != "spool:orders:k1" {
		t.Fatalf("storageKey = %q", got)
	}
	if got := s.regionPattern(); got != "spool:orders:*" {
		t.Fatalf("regionPattern = %q", got)
	}
	if got := s.groupPattern("session"); got != "spool:orders:session:*" {
		t.Fatalf("groupPattern = %q", got)
	}
}

func TestRemovePatternWidensGroupPrefix(t *testing.T) {
	s := testStore()

	if match, group := s.removePattern("plain-key"); group {
		t.Fatalf("plain key widened to %q", match)
	}
	match, group := s.removePattern("session:")
	if !group {
		t.Fatalf("trailing delimiter must widen to the name group")
	}
	if match != "spool:orders:session:*" {
		t.Fatalf("group match = %q", match)
	}
}

func TestPutTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	// eternal records carry no TTL
	ttl, expired := putTTL(backend.Record{Eternal: true, CreatedAt: now.Add(-time.Hour), MaxLife: time.Second}, now)
	if ttl != 0 || expired {
		t.Fatalf("eternal: ttl=%v expired=%v", ttl, expired)
	}

	// live record: remaining lifetime
	ttl, expired = putTTL(backend.Record{CreatedAt: now.Add(-10 * time.Second), MaxLife: time.Minute}, now)
	if expired || ttl != 50*time.Second {
		t.Fatalf("live: ttl=%v expired=%v", ttl, expired)
	}

	// lifetime elapsed before the spooler got to it
	_, expired = putTTL(backend.Record{CreatedAt: now.Add(-2 * time.Second), MaxLife: time.Second}, now)
	if !expired {
		t.Fatalf("lapsed record must report expired")
	}

	// boundary: exactly elapsed counts as expired
	_, expired = putTTL(backend.Record{CreatedAt: now.Add(-time.Second), MaxLife: time.Second}, now)
	if !expired {
		t.Fatalf("zero remaining lifetime must report expired")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Region: "r"}); err != ErrNilClient {
		t.Fatalf("nil client: err=%v", err)
	}
}
