package fetch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight fetches of one crawl. Pages, assets and
// robots.txt all acquire from the same gate.
type Gate struct {
	sem         *semaphore.Weighted
	size        int64
	inFlight    atomic.Int64
	maxObserved atomic.Int64
}

// NewGate creates a gate admitting at most n concurrent holders (n <= 0 means 1)
func NewGate(n int) *Gate {
	size := int64(n)
	if size <= 0 {
		size = 1
	}
	return &Gate{sem: semaphore.NewWeighted(size), size: size}
}

// Acquire blocks until a permit is available or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	cur := g.inFlight.Add(1)
	for {
		prev := g.maxObserved.Load()
		if cur <= prev || g.maxObserved.CompareAndSwap(prev, cur) {
			break
		}
	}
	return nil
}

// Release returns a permit taken by a successful Acquire
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Size returns the configured bound
func (g *Gate) Size() int { return int(g.size) }

// InFlight returns the number of permits currently held
func (g *Gate) InFlight() int64 { return g.inFlight.Load() }

// MaxObserved returns the highest number of simultaneously held permits
func (g *Gate) MaxObserved() int64 { return g.maxObserved.Load() }
