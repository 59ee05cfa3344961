package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// --- Crawl taxonomy ---
var (
	ErrInvalidInput = errors.New("invalid input")      // Missing or malformed URL/request
	ErrRootFetch    = errors.New("root fetch failed")  // Root page could not be fetched (aborts crawl)
	ErrAssetFetch   = errors.New("asset fetch failed") // Isolated per-resource failure
	ErrPersistence  = errors.New("persistence failed") // Directory creation or file write failed (aborts crawl)
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")
	ErrScopeViolation   = errors.New("URL out of scope")
	ErrParsing          = errors.New("parsing error")    // Wraps specific parsing error (HTML, CSS, URL)
	ErrFilesystem       = errors.New("filesystem error") // Wraps os errors
	ErrSemaphoreTimeout = errors.New("timeout acquiring semaphore")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrBodyTooLarge     = errors.New("response body exceeds limit")
	ErrConfigValidation = errors.New("configuration validation error")
)

// WrapErrorf wraps a sentinel with a formatted message, keeping it matchable with errors.Is
func WrapErrorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}

// CategorizeError maps an error to a predefined category string for logging/metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	// Taxonomy prefixes first; the wrapped cause refines the category
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "Input_Invalid"
	case errors.Is(err, ErrRootFetch):
		return "Root_" + categorizeFetch(err)
	case errors.Is(err, ErrAssetFetch):
		return "Asset_" + categorizeFetch(err)
	case errors.Is(err, ErrPersistence):
		return "Persistence_" + categorizeFilesystem(err)
	}

	switch {
	case errors.Is(err, ErrRetryFailed), errors.Is(err, ErrClientHTTPError),
		errors.Is(err, ErrServerHTTPError), errors.Is(err, ErrOtherHTTPError):
		return categorizeFetch(err)
	case errors.Is(err, ErrRobotsDisallowed):
		return "Policy_Robots"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "CSS") {
			return "Content_ParsingCSS"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		return "Filesystem_" + categorizeFilesystem(err)
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrBodyTooLarge):
		return "Network_BodyTooLarge"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	return categorizeNetwork(err)
}

// categorizeFetch classifies HTTP and transport failures
func categorizeFetch(err error) string {
	switch {
	case errors.Is(err, ErrRetryFailed):
		if err == ErrRetryFailed {
			return "RetryFailed_Unknown"
		}
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		cat := categorizeNetwork(err)
		if cat == "Unknown" {
			return "RetryFailed_NetworkOther"
		}
		return "RetryFailed_" + strings.TrimPrefix(cat, "Network_")
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"404", "403", "401", "410", "429"} {
			if strings.Contains(errMsg, " "+code+" ") || strings.Contains(errMsg, "HTTP "+code) {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrBodyTooLarge):
		return "Network_BodyTooLarge"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	}
	return categorizeNetwork(err)
}

// categorizeFilesystem narrows filesystem failures by os error kind
func categorizeFilesystem(err error) string {
	switch {
	case errors.Is(err, os.ErrPermission):
		return "Permission"
	case errors.Is(err, os.ErrNotExist):
		return "NotExist"
	case errors.Is(err, os.ErrExist):
		return "Exist"
	}
	return "Other"
}

// categorizeNetwork is the fallback for context and transport errors
func categorizeNetwork(err error) string {
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "eof"):
		return "Network_EOF"
	}
	return "Unknown"
}
