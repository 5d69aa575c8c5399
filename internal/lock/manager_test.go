package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquire_Exclusive(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := m.Acquire(ctx, PlaylistKey("show-1"))
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				old := atomic.LoadInt32(&maxInside)
				if n <= old || atomic.CompareAndSwapInt32(&maxInside, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			l.Release()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after all releases, want 0", m.Len())
	}
}

func TestAcquire_IndependentKeys(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, err := m.Acquire(ctx, PlaylistKey("show-1"))
	if err != nil {
		t.Fatalf("Acquire(show-1) error = %v", err)
	}
	defer a.Release()

	b, err := m.Acquire(ctx, PlaylistKey("show-2"))
	if err != nil {
		t.Fatalf("Acquire(show-2) should not wait for show-1: %v", err)
	}
	b.Release()
}

func TestAcquire_ContextCancelled(t *testing.T) {
	m := NewManager()
	held, err := m.Acquire(context.Background(), "playlist:show-1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx, "playlist:show-1")
	if !errors.Is(err, ErrAcquireCancelled) {
		t.Fatalf("Acquire() error = %v, want ErrAcquireCancelled", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (only the holder)", m.Len())
	}
}

func TestAcquire_EmptyKey(t *testing.T) {
	if _, err := NewManager().Acquire(context.Background(), ""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Acquire(\"\") error = %v, want ErrEmptyKey", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	m := NewManager()
	l, err := m.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release()
	l.Release()

	if l.Held() {
		t.Error("Held() = true after Release")
	}

	// A double release must not free a later holder's lock.
	l2, err := m.Acquire(context.Background(), "k")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release()
	if !l2.Held() {
		t.Error("stale Release freed a newer holder")
	}
	l2.Release()
}

func TestLockOrder(t *testing.T) {
	m := NewManager()
	ctx := WithOwner(context.Background(), "loop-1")

	show, err := m.Acquire(ctx, PlaylistKey("show-1"))
	if err != nil {
		t.Fatalf("Acquire(playlist) error = %v", err)
	}

	if _, err := m.Acquire(ctx, StudioKey("studio-a")); !errors.Is(err, ErrLockOrder) {
		t.Fatalf("Acquire(studio) while holding playlist = %v, want ErrLockOrder", err)
	}

	// A different owner is unaffected.
	other, err := m.Acquire(WithOwner(context.Background(), "loop-2"), StudioKey("studio-a"))
	if err != nil {
		t.Fatalf("Acquire(studio) by other owner error = %v", err)
	}
	other.Release()

	show.Release()
	studio, err := m.Acquire(ctx, StudioKey("studio-a"))
	if err != nil {
		t.Fatalf("Acquire(studio) after releasing playlist error = %v", err)
	}
	studio.Release()
}

func TestReleaseOwner(t *testing.T) {
	m := NewManager()
	ctx := WithOwner(context.Background(), "loop-1")

	l, err := m.Acquire(ctx, PlaylistKey("show-1"))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if l.Owner() != "loop-1" {
		t.Errorf("Owner() = %q, want loop-1", l.Owner())
	}

	acquired := make(chan *Lock)
	go func() {
		next, err := m.Acquire(WithOwner(context.Background(), "loop-2"), PlaylistKey("show-1"))
		if err != nil {
			t.Errorf("waiting Acquire() error = %v", err)
			close(acquired)
			return
		}
		acquired <- next
	}()

	keys := m.ReleaseOwner("loop-1")
	if len(keys) != 1 || keys[0] != PlaylistKey("show-1") {
		t.Errorf("ReleaseOwner() = %v, want [playlist:show-1]", keys)
	}

	select {
	case <-l.Lost():
	default:
		t.Error("Lost() not closed after revoke")
	}
	if l.Held() {
		t.Error("revoked lock reports Held")
	}

	var next *Lock
	select {
	case next = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by revoke")
	}

	// The revoked holder's late Release must not free the new holder.
	l.Release()
	if next == nil || !next.Held() {
		t.Fatal("late release of revoked lock affected new holder")
	}
	next.Release()

	if got := m.ReleaseOwner("loop-1"); len(got) != 0 {
		t.Errorf("second ReleaseOwner() = %v, want none", got)
	}
}

func TestOwnerFrom(t *testing.T) {
	if OwnerFrom(context.Background()) != "" {
		t.Error("OwnerFrom(background) should be empty")
	}
	if got := OwnerFrom(WithOwner(context.Background(), "x")); got != "x" {
		t.Errorf("OwnerFrom() = %q, want x", got)
	}
}
