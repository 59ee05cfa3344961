package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// RetryPolicy bounds the exponential backoff of FetchWithRetry
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// RetryPolicyFrom extracts the retry settings of a validated AppConfig
func RetryPolicyFrom(cfg config.AppConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
	}
}

// backoff returns the jittered delay before retry attempt n (n >= 1)
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (p.MaxDelay > 0 && delay > p.MaxDelay) {
		delay = p.MaxDelay
	}
	if delay <= 0 {
		return 0
	}

	// +/- 10%: the jitter range is delay/5 wide, centred on zero
	var jitter time.Duration
	if span := int64(delay) / 5; span > 0 {
		jitter = time.Duration(rand.Int63n(span)) - delay/10
	}
	if final := delay + jitter; final > 0 {
		return final
	}
	return 0
}

// Fetcher handles making HTTP requests with configured retry logic, using an underlying http.Client
type Fetcher struct {
	client *http.Client
	policy RetryPolicy
	log    *logrus.Entry
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, policy RetryPolicy, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: client,
		policy: policy,
		log:    log,
	}
}

// Client returns the underlying HTTP client
func (f *Fetcher) Client() *http.Client {
	return f.client
}

// attemptInfo describes how a FetchWithRetry call ended
type attemptInfo struct {
	attempts   int
	statusCode int    // Last HTTP status seen, 0 if no response was ever received
	status     string // Last HTTP status line
}

// FetchWithRetry performs req, retrying network errors, 5xx and 429 with exponential backoff and jitter.
// On 2xx the response is returned and the caller must close its body.
// On a non-retryable 4xx or other non-2xx status the response is returned together with the error;
// the caller must close its body in that case too.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, _, err := f.fetchWithRetry(ctx, req)
	return resp, err
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, attemptInfo, error) {
	var info attemptInfo
	var lastErr error

	reqLog := f.log.WithField("url", req.URL.String())
	maxRetries := f.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Context check before each attempt or sleep
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, info, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", err, lastErr)
			}
			return nil, info, err
		}

		if attempt > 0 {
			delay := f.policy.backoff(attempt)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, info, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
			}
		}

		info.attempts++
		resp, err := f.client.Do(req.WithContext(ctx))

		// Network-level errors: no HTTP response was received
		if err != nil {
			if resp != nil {
				drainAndClose(resp)
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				reqLog.Debugf("Context ended during HTTP request: %v", err)
				return nil, info, err
			}
			reqLog.WithField("attempt", attempt).Warnf("Network error: %v", err)
			lastErr = err
			info.statusCode, info.status = 0, ""
			continue
		}

		statusCode := resp.StatusCode
		info.statusCode = statusCode
		info.status = resp.Status
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return resp, info, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)
			drainAndClose(resp)
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Debug("Client error (4xx), not retrying")
			return resp, info, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, resp.Status)

		default:
			resLog.Debugf("Non-retryable/unexpected status: %d", statusCode)
			return resp, info, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, resp.Status)
		}
	}

	reqLog.Warnf("All %d fetch attempts failed. Last error: %v", info.attempts, lastErr)
	if lastErr == nil {
		return nil, info, utils.ErrRetryFailed
	}
	return nil, info, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
}

func drainAndClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
