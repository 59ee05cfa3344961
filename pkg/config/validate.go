package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// DefaultMaxBodyBytes caps a single response body
const DefaultMaxBodyBytes int64 = 50 << 20

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to 'downloads'")
		c.OutputDir = DefaultOutputDir
	}

	// Mode
	if c.Mode == "" {
		c.Mode = models.ModePage
	} else if !c.Mode.IsValid() {
		return warnings, fmt.Errorf("%w: unknown mode %q (supported: page, site)", utils.ErrConfigValidation, c.Mode)
	}

	// MaxDepth
	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0")
		c.MaxDepth = 0
	}

	// ConcurrentDownloads
	if c.ConcurrentDownloads <= 0 {
		warnings = append(warnings, fmt.Sprintf("concurrent_downloads should be > 0, defaulting to %d", models.DefaultConcurrentDownloads))
		c.ConcurrentDownloads = models.DefaultConcurrentDownloads
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, disabling politeness delay")
		c.DelayPerHost = 0
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// MaxBodyBytes
	if c.MaxBodyBytes < 0 {
		warnings = append(warnings, "max_body_bytes cannot be negative, using default")
		c.MaxBodyBytes = 0
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}

	// SemaphoreAcquireTimeout (0 waits for a slot as long as the crawl runs)
	if c.SemaphoreAcquireTimeout < 0 {
		warnings = append(warnings, "semaphore_acquire_timeout cannot be negative, disabling timeout")
		c.SemaphoreAcquireTimeout = 0
	}

	// CrawlTimeout
	if c.CrawlTimeout < 0 {
		warnings = append(warnings, "crawl_timeout cannot be negative, disabling timeout")
		c.CrawlTimeout = 0
	}

	// ParallelSites
	if c.ParallelSites <= 0 {
		c.ParallelSites = 2
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	// Output mapping filename
	if c.EnableOutputMapping && c.OutputMappingFilename == "" {
		c.OutputMappingFilename = DefaultOutputMappingFilename
	}

	// Metadata YAML filename
	if c.EnableMetadataYAML && c.MetadataYAMLFilename == "" {
		c.MetadataYAMLFilename = DefaultMetadataYAMLFilename
	}

	names := make([]string, 0, len(c.Sites))
	for name := range c.Sites {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		site := c.Sites[name]
		siteWarnings, err := site.Validate()
		for _, w := range siteWarnings {
			warnings = append(warnings, fmt.Sprintf("site %q: %s", name, w))
		}
		if err != nil {
			return warnings, fmt.Errorf("site %q: %w", name, err)
		}
		c.Sites[name] = site
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks a site preset. Only malformed values are fatal; unset
// fields fall back to the global config.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	c.URL = strings.TrimSpace(c.URL)

	if c.Mode != "" && !c.Mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown mode %q", utils.ErrConfigValidation, c.Mode)
	}

	if c.MaxDepth != nil && *c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0")
		zero := 0
		c.MaxDepth = &zero
	}

	if c.ConcurrentDownloads != nil && *c.ConcurrentDownloads <= 0 {
		warnings = append(warnings, "concurrent_downloads should be > 0, using global value")
		c.ConcurrentDownloads = nil
	}

	if _, err := utils.CompileRegexPatterns(c.ExcludePatterns); err != nil {
		return warnings, fmt.Errorf("exclude_patterns: %w", err)
	}

	return warnings, nil
}
