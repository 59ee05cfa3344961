package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces requests to the same host at least delay apart.
// A nil *HostLimiter never waits.
type HostLimiter struct {
	delay    time.Duration
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter returns nil when delay is not positive
func NewHostLimiter(delay time.Duration) *HostLimiter {
	if delay <= 0 {
		return nil
	}
	return &HostLimiter{delay: delay, limiters: make(map[string]*rate.Limiter)}
}

// Wait blocks until a request to host may be issued or ctx is done
func (l *HostLimiter) Wait(ctx context.Context, host string) error {
	if l == nil || host == "" {
		return nil
	}
	return l.limiter(strings.ToLower(host)).Wait(ctx)
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.delay), 1)
		l.limiters[host] = lim
	}
	return lim
}

// Delay returns the configured spacing
func (l *HostLimiter) Delay() time.Duration {
	if l == nil {
		return 0
	}
	return l.delay
}
