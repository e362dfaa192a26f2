package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLock_MutualExclusion(t *testing.T) {
	m := New[int64]()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), 42)
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("expected at most 1 holder at a time, saw %d", maxInside)
	}
	if n := m.Len(); n != 0 {
		t.Errorf("expected registry to be empty, got %d entries", n)
	}
}

func TestLock_DistinctKeysDoNotBlock(t *testing.T) {
	m := New[string]()
	unlockA, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock(a): %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) should not wait on a: %v", err)
	}
	unlockB()

	if n := m.Len(); n != 1 {
		t.Errorf("expected 1 entry while a is held, got %d", n)
	}
}

func TestLock_ContextCancelled(t *testing.T) {
	m := New[int64]()
	unlock, err := m.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if n := m.Len(); n != 1 {
		t.Errorf("expected abandoned waiter to drop its reference, got %d entries", n)
	}

	unlock()
	if n := m.Len(); n != 0 {
		t.Errorf("expected empty registry, got %d", n)
	}
}

func TestLock_UnlockTwice(t *testing.T) {
	m := New[int64]()
	unlock, err := m.Lock(context.Background(), 7)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	unlock()
	unlock()

	if n := m.Len(); n != 0 {
		t.Fatalf("expected empty registry, got %d", n)
	}
	again, err := m.Lock(context.Background(), 7)
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestLock_WaiterKeepsEntryAlive(t *testing.T) {
	m := New[int64]()
	unlock, err := m.Lock(context.Background(), 9)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	acquired := make(chan func())
	go func() {
		u, err := m.Lock(context.Background(), 9)
		if err != nil {
			t.Errorf("waiter: %v", err)
			close(acquired)
			return
		}
		acquired <- u
	}()

	// Give the waiter time to register before the holder releases.
	time.Sleep(20 * time.Millisecond)
	unlock()

	select {
	case u := <-acquired:
		if u != nil {
			if n := m.Len(); n != 1 {
				t.Errorf("expected entry held by waiter, got %d", n)
			}
			u()
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	if n := m.Len(); n != 0 {
		t.Errorf("expected empty registry, got %d", n)
	}
}
