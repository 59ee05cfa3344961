package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.FetchStarted()
		c.FetchFinished("asset", "success", time.Second)
		c.CrawlFinished("page", "success", "", time.Second, 3)
	})
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollector_Records(t *testing.T) {
	c := New(false)

	c.FetchStarted()
	c.FetchStarted()
	c.FetchFinished("asset", "success", 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FetchesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.FetchesTotal.WithLabelValues("asset", "success")))

	c.CrawlFinished("site", "error", "", time.Second, 0)
	c.CrawlFinished("page", "success", "", time.Second, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CrawlsTotal.WithLabelValues("error", "none")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.AssetsDownloaded))
}

func TestCollector_Handler(t *testing.T) {
	c := New(true)
	c.FetchStarted()
	c.FetchFinished("page", "http-error", time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `site_downloader_fetches_total{kind="page",outcome="http-error"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
