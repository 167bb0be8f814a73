package eventqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFIFOOrder(t *testing.T) {
	q := New(16, 10*time.Millisecond)
	ctx := context.Background()

	keys := []string{"a", "b", "a", "c"}
	for _, k := range keys {
		if err := q.Append(ctx, Event{Kind: Put, Key: k}); err != nil {
			t.Fatalf("Append %s: %v", k, err)
		}
	}

	for i, want := range keys {
		ev := <-q.Events()
		if ev.Key != want {
			t.Fatalf("event %d: got %q want %q", i, ev.Key, want)
		}
		q.Done()
	}
	if q.Depth() != 0 {
		t.Fatalf("Depth = %d after draining", q.Depth())
	}
}

func TestAppendTimesOutWhenFull(t *testing.T) {
	q := New(1, 10*time.Millisecond)
	ctx := context.Background()

	if err := q.Append(ctx, Event{Kind: Put, Key: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	start := time.Now()
	err := q.Append(ctx, Event{Kind: Put, Key: "b"})
	if !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v, want ErrFull", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("Append should have blocked for the timeout first")
	}
	if q.Depth() != 1 {
		t.Fatalf("failed append must not count as pending, depth=%d", q.Depth())
	}
}

func TestAppendHonorsContext(t *testing.T) {
	q := New(1, time.Minute)
	if err := q.Append(context.Background(), Event{Kind: Put, Key: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Append(ctx, Event{Kind: Put, Key: "b"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestDestroyRejectsAppends(t *testing.T) {
	q := New(4, 10*time.Millisecond)
	ctx := context.Background()

	if err := q.Append(ctx, Event{Kind: Put, Key: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	q.Destroy()
	if !q.Destroyed() {
		t.Fatalf("Destroyed should report true")
	}
	if err := q.Append(ctx, Event{Kind: Put, Key: "b"}); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("err = %v, want ErrDestroyed", err)
	}
	// backlog is still drainable (as no-ops by the consumer)
	ev := <-q.Events()
	if ev.Key != "a" {
		t.Fatalf("backlog event lost")
	}
	q.Done()
}

func TestDrainWaitsForAcks(t *testing.T) {
	q := New(4, 10*time.Millisecond)
	ctx := context.Background()

	if err := q.Append(ctx, Event{Kind: Put, Key: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	drained := make(chan error, 1)
	go func() {
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		drained <- q.Drain(dctx)
	}()

	select {
	case err := <-drained:
		t.Fatalf("Drain returned before ack: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	<-q.Events()
	q.Done()

	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("Drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Drain never returned after ack")
	}
}

func TestDrainTimesOut(t *testing.T) {
	q := New(4, 10*time.Millisecond)
	if err := q.Append(context.Background(), Event{Kind: Put, Key: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := q.Drain(ctx); err == nil {
		t.Fatalf("Drain with unacked events should time out")
	}
}

func TestCloseEndsConsumerLoop(t *testing.T) {
	q := New(4, 10*time.Millisecond)
	if err := q.Append(context.Background(), Event{Kind: Put, Key: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	q.Close()
	q.Close() // idempotent

	if err := q.Append(context.Background(), Event{Kind: Put, Key: "b"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}

	n := 0
	for range q.Events() {
		q.Done()
		n++
	}
	if n != 1 {
		t.Fatalf("backlog should drain before the channel closes, got %d", n)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{Put: "put", Remove: "remove", RemoveAll: "remove_all", Dispose: "dispose", Kind(99): "unknown"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
