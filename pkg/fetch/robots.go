package fetch

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsChecker fetches, parses and caches robots.txt per host through the crawl's
// executor, so robots fetches count against the same concurrency bound.
type RobotsChecker struct {
	exec      *Executor
	userAgent string
	group     singleflight.Group
	mu        sync.Mutex
	cache     map[string]*robotstxt.RobotsData // host -> parsed data, nil when unavailable
	log       *logrus.Entry
}

// NewRobotsChecker creates a RobotsChecker matching rules against userAgent
func NewRobotsChecker(exec *Executor, userAgent string, log *logrus.Entry) *RobotsChecker {
	return &RobotsChecker{
		exec:      exec,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log.WithField("component", "robots"),
	}
}

// Allowed reports whether u may be fetched. A robots.txt that cannot be fetched or parsed allows everything.
func (rc *RobotsChecker) Allowed(ctx context.Context, u *url.URL) bool {
	data := rc.data(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.RequestURI(), rc.userAgent)
}

func (rc *RobotsChecker) data(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := u.Host

	rc.mu.Lock()
	data, found := rc.cache[host]
	rc.mu.Unlock()
	if found {
		return data
	}

	v, _, _ := rc.group.Do(host, func() (any, error) {
		rc.mu.Lock()
		cached, ok := rc.cache[host]
		rc.mu.Unlock()
		if ok {
			return cached, nil
		}
		return rc.fetch(ctx, u), nil
	})
	return v.(*robotstxt.RobotsData)
}

func (rc *RobotsChecker) fetch(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	robotsURL := (&url.URL{Scheme: target.Scheme, Host: target.Host, Path: "/robots.txt"}).String()
	log := rc.log.WithField("robots_url", robotsURL)

	var data *robotstxt.RobotsData
	res := rc.exec.Fetch(ctx, robotsURL, KindRobots)
	switch {
	case res.OK():
		parsed, err := robotstxt.FromBytes(res.Body)
		if err != nil {
			log.Warnf("Error parsing robots.txt: %v", err)
			break
		}
		log.Debug("Fetched and parsed robots.txt")
		data = parsed
	default:
		log.Debugf("robots.txt unavailable (%s), allowing all", res.Reason())
	}

	// A cancelled fetch says nothing about the host, so it is not cached
	if ctx.Err() == nil {
		rc.mu.Lock()
		rc.cache[target.Host] = data
		rc.mu.Unlock()
	}
	return data
}
