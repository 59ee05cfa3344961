package fetch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGate_AcquireRelease_Basic(t *testing.T) {
	g := NewGate(2)

	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Third should time out (both slots held)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Acquire(ctx); err == nil {
		t.Fatal("expected third acquire to fail, but it succeeded")
	}
	if got := g.InFlight(); got != 2 {
		t.Errorf("expected 2 in flight, got %d", got)
	}

	g.Release()
	if err := g.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	g.Release()
	g.Release()

	if got := g.InFlight(); got != 0 {
		t.Errorf("expected 0 in flight, got %d", got)
	}
	if got := g.MaxObserved(); got != 2 {
		t.Errorf("expected max observed 2, got %d", got)
	}
}

func TestGate_NonPositiveSize(t *testing.T) {
	g := NewGate(0)
	if g.Size() != 1 {
		t.Fatalf("expected size 1, got %d", g.Size())
	}
}

func TestGate_ConcurrentBound(t *testing.T) {
	const limit = 3
	g := NewGate(limit)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			time.Sleep(5 * time.Millisecond)
			g.Release()
		}()
	}
	wg.Wait()

	if got := g.MaxObserved(); got > limit || got < 1 {
		t.Errorf("max observed %d outside [1, %d]", got, limit)
	}
	if got := g.InFlight(); got != 0 {
		t.Errorf("expected all permits released, %d still held", got)
	}
}
