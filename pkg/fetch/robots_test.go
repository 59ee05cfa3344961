package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
)

func robotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.WriteHeader(status)
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, "page")
	}))
	t.Cleanup(server.Close)
	return server, hits
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestRobotsChecker_Allowed(t *testing.T) {
	server, hits := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private/\n")
	rc := NewRobotsChecker(newTestExecutor(2, ExecutorOptions{}), "test-agent", testLogger())
	ctx := context.Background()

	if !rc.Allowed(ctx, mustParse(t, server.URL+"/docs/a.html")) {
		t.Error("/docs/ should be allowed")
	}
	if rc.Allowed(ctx, mustParse(t, server.URL+"/private/b.html")) {
		t.Error("/private/ should be disallowed")
	}
	if hits.Load() != 1 {
		t.Errorf("robots.txt should be fetched once per host, got %d", hits.Load())
	}
}

func TestRobotsChecker_FailureAllowsAll(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"missing", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := robotsServer(t, tt.status, "User-agent: *\nDisallow: /\n")
			rc := NewRobotsChecker(newTestExecutor(1, ExecutorOptions{}), "test-agent", testLogger())
			if !rc.Allowed(context.Background(), mustParse(t, server.URL+"/anything")) {
				t.Error("unavailable robots.txt should allow everything")
			}
		})
	}
}

func TestRobotsChecker_ConcurrentSingleFetch(t *testing.T) {
	server, hits := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow:\n")
	rc := NewRobotsChecker(newTestExecutor(4, ExecutorOptions{}), "test-agent", testLogger())
	target := mustParse(t, server.URL+"/page")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !rc.Allowed(context.Background(), target) {
				t.Error("expected allowed")
			}
		}()
	}
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("expected one robots.txt fetch, got %d", hits.Load())
	}
}
