package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	locker := NewKeyedMutex()
	ctx := context.Background()

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, testKey)
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected exclusive access, peak concurrency %d", peak)
	}
	if len(locker.locks) != 0 {
		t.Fatalf("lock entries leaked: %d", len(locker.locks))
	}
}

func TestKeyedMutexDifferentKeysDoNotBlock(t *testing.T) {
	locker := NewKeyedMutex()
	ctx := context.Background()

	unlockA, err := locker.Lock(ctx, testKey)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlockA()

	other := Key{App: "stock_agent", User: "user_1", Session: "session_001"}
	ctx2, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := locker.Lock(ctx2, other)
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	unlockB()
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	locker := NewKeyedMutex()
	unlock, _ := locker.Lock(context.Background(), testKey)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, testKey); err == nil {
		t.Fatalf("expected context error while lock is held")
	}
}

func TestNopLocker(t *testing.T) {
	unlock, err := NopLocker{}.Lock(context.Background(), testKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	unlock()
}
