package pgtable

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsDuplicateKey(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"sqlstate", &pgconn.PgError{Code: "23505"}, true},
		{"other sqlstate", &pgconn.PgError{Code: "42P01"}, false},
		{"wrapped sqlstate", errors.Join(errors.New("exec"), &pgconn.PgError{Code: "23505"}), true},
		{"hsqldb message", errors.New("java-style: Violation of unique index SYS_PK"), true},
		{"mysql message", errors.New("Error 1062: Duplicate entry 'k-region' for key 'PRIMARY'"), true},
		{"unrelated", errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		if got := isDuplicateKey(tc.err); got != tc.want {
			t.Fatalf("%s: isDuplicateKey = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExpireAt(t *testing.T) {
	if got := expireAt(1000, 30*time.Second); got != 1030 {
		t.Fatalf("expireAt = %d, want 1030", got)
	}
	// sub-second lifetimes truncate to whole seconds
	if got := expireAt(1000, 900*time.Millisecond); got != 1000 {
		t.Fatalf("expireAt = %d, want 1000", got)
	}
}

func TestEternalFlag(t *testing.T) {
	if eternalFlag(true) != "T" || eternalFlag(false) != "F" {
		t.Fatalf("eternal flag mapping broken")
	}
}

func TestRemoveSQLWidensGroupPrefix(t *testing.T) {
	s := &Store{table: "spool_store", region: "r"}

	sqlD, args := s.removeSQL("plain-key")
	if len(args) != 2 || args[0] != "plain-key" {
		t.Fatalf("single delete args = %v", args)
	}
	if want := "DELETE FROM spool_store WHERE cache_key = $1 AND region = $2"; sqlD != want {
		t.Fatalf("single delete sql = %q", sqlD)
	}

	sqlD, args = s.removeSQL("session:")
	if want := "DELETE FROM spool_store WHERE region = $1 AND cache_key LIKE $2"; sqlD != want {
		t.Fatalf("group delete sql = %q", sqlD)
	}
	if len(args) != 2 || args[1] != "session:%" {
		t.Fatalf("group delete args = %v", args)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{Region: "r"}); err == nil {
		t.Fatalf("nil pool should fail")
	}
}
