package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-downloader/pkg/metrics"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// Outcome classifies a finished fetch
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeHTTPError    Outcome = "http-error"
	OutcomeNetworkError Outcome = "network-error"
)

// Kind labels what a fetch was for; it only affects logs and metrics
type Kind string

const (
	KindPage   Kind = "page"
	KindAsset  Kind = "asset"
	KindRobots Kind = "robots"
)

// Result is the terminal state of one fetch. Err is set for every outcome but success.
type Result struct {
	URL         string
	FinalURL    string // After redirects
	Outcome     Outcome
	StatusCode  int
	Status      string
	Body        []byte
	ContentType string
	Err         error
	Attempts    int
	Duration    time.Duration
}

// OK reports whether the fetch produced a 2xx body
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Reason renders a failure as "HTTP 404: Not Found" or the transport error
func (r Result) Reason() string {
	switch {
	case r.Outcome == OutcomeSuccess:
		return ""
	case r.StatusCode != 0:
		text := http.StatusText(r.StatusCode)
		if text == "" {
			text = strings.TrimSpace(strings.TrimPrefix(r.Status, fmt.Sprint(r.StatusCode)))
		}
		return fmt.Sprintf("HTTP %d: %s", r.StatusCode, text)
	case r.Err != nil:
		return r.Err.Error()
	default:
		return string(r.Outcome)
	}
}

// ExecutorOptions tunes an Executor
type ExecutorOptions struct {
	UserAgent      string
	MaxBodyBytes   int64         // 0 = unlimited
	AcquireTimeout time.Duration // 0 = wait as long as ctx allows
	Limiter        *HostLimiter
	Metrics        *metrics.Collector
}

// Executor performs bounded GETs for one crawl. Fetch never returns an error;
// every failure is folded into the Result.
type Executor struct {
	fetcher *Fetcher
	gate    *Gate
	opts    ExecutorOptions
	log     *logrus.Entry
}

// NewExecutor wires a fetcher to a gate
func NewExecutor(fetcher *Fetcher, gate *Gate, opts ExecutorOptions, log *logrus.Entry) *Executor {
	return &Executor{fetcher: fetcher, gate: gate, opts: opts, log: log.WithField("component", "fetch")}
}

// Gate returns the concurrency gate shared by every fetch of this executor
func (e *Executor) Gate() *Gate { return e.gate }

// Fetch waits for the host's politeness slot, takes a gate permit for the duration of the
// network I/O and returns the decoded body.
func (e *Executor) Fetch(ctx context.Context, rawURL string, kind Kind) Result {
	start := time.Now()
	res := Result{URL: rawURL}
	log := e.log.WithFields(logrus.Fields{"url": rawURL, "kind": kind})

	u, err := url.Parse(rawURL)
	if err != nil {
		return e.fail(res, start, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err))
	}

	if err := e.opts.Limiter.Wait(ctx, u.Hostname()); err != nil {
		return e.fail(res, start, err)
	}

	if err := e.acquire(ctx); err != nil {
		log.Debugf("Gate acquire failed: %v", err)
		return e.fail(res, start, err)
	}
	defer e.gate.Release()
	e.opts.Metrics.FetchStarted()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		res = e.fail(res, start, fmt.Errorf("%w: %w", utils.ErrRequestCreation, err))
		e.opts.Metrics.FetchFinished(string(kind), string(res.Outcome), res.Duration)
		return res
	}
	if e.opts.UserAgent != "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}
	req.Header.Set("Accept-Encoding", acceptEncoding)
	req.Header.Set("Accept", "*/*")

	resp, info, err := e.fetcher.fetchWithRetry(ctx, req)
	res.Attempts = info.attempts
	res.StatusCode = info.statusCode
	res.Status = info.status
	if resp != nil {
		res.FinalURL = resp.Request.URL.String()
		res.ContentType = resp.Header.Get("Content-Type")
	}

	switch {
	case err != nil:
		if resp != nil {
			drainAndClose(resp)
		}
		res = e.fail(res, start, err)
	default:
		body, readErr := readBody(resp, e.opts.MaxBodyBytes)
		if readErr != nil {
			// The status was fine; the transfer itself failed
			res.StatusCode, res.Status = 0, ""
			res = e.fail(res, start, readErr)
			break
		}
		res.Body = body
		res.Outcome = OutcomeSuccess
		res.Duration = time.Since(start)
	}

	e.opts.Metrics.FetchFinished(string(kind), string(res.Outcome), res.Duration)
	if res.OK() {
		log.WithFields(logrus.Fields{"status_code": res.StatusCode, "bytes": len(res.Body)}).Debug("Fetched")
	} else {
		log.WithField("attempts", res.Attempts).Debugf("Fetch failed: %s", res.Reason())
	}
	return res
}

func (e *Executor) acquire(ctx context.Context) error {
	if e.opts.AcquireTimeout <= 0 {
		return e.gate.Acquire(ctx)
	}
	acquireCtx, cancel := context.WithTimeout(ctx, e.opts.AcquireTimeout)
	defer cancel()
	err := e.gate.Acquire(acquireCtx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", utils.ErrSemaphoreTimeout, e.opts.AcquireTimeout)
	}
	return err
}

// fail records err on res and derives the outcome from whether an HTTP status was seen
func (e *Executor) fail(res Result, start time.Time, err error) Result {
	res.Err = err
	res.Duration = time.Since(start)
	if res.StatusCode != 0 {
		res.Outcome = OutcomeHTTPError
	} else {
		res.Outcome = OutcomeNetworkError
	}
	return res
}
