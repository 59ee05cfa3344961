package crawler

import (
	"context"
	"net/url"
	"sync"

	"github.com/Sriram-PR/site-downloader/pkg/parse"
)

// Visit is the claim on one URL. The claimer resolves it once its fetch has finished;
// everyone else waits on it.
type Visit struct {
	once sync.Once
	done chan struct{}
	ok   bool
}

// Resolve publishes the outcome. Only the first call has an effect.
func (v *Visit) Resolve(ok bool) {
	v.once.Do(func() {
		v.ok = ok
		close(v.done)
	})
}

// Wait blocks until the visit is resolved or ctx ends
func (v *Visit) Wait(ctx context.Context) (bool, error) {
	select {
	case <-v.done:
		return v.ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Peek returns the outcome without blocking; resolved is false while the fetch is pending
func (v *Visit) Peek() (ok, resolved bool) {
	select {
	case <-v.done:
		return v.ok, true
	default:
		return false, false
	}
}

// VisitedSet records every URL claimed during one crawl, keyed by normalized URL
type VisitedSet struct {
	mu      sync.Mutex
	entries map[string]*Visit
}

// NewVisitedSet creates an empty set
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{entries: make(map[string]*Visit)}
}

// Claim atomically checks and inserts u. first is true for exactly one caller per URL,
// who must eventually Resolve the returned visit.
func (s *VisitedSet) Claim(u *url.URL) (visit *Visit, first bool) {
	key := parse.NormalizeURL(u)

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.entries[key]; ok {
		return v, false
	}
	v := &Visit{done: make(chan struct{})}
	s.entries[key] = v
	return v, true
}

// Lookup returns the visit for u if it has been claimed
func (s *VisitedSet) Lookup(u *url.URL) (*Visit, bool) {
	key := parse.NormalizeURL(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.entries[key]
	return v, ok
}

// Len returns the number of claimed URLs
func (s *VisitedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
