package config

import (
	"time"

	"github.com/Sriram-PR/site-downloader/pkg/models"
)

// Default output file names used when neither a site preset nor the global config names them
const (
	DefaultOutputMappingFilename = "url_to_file_map.tsv"
	DefaultMetadataYAMLFilename  = "metadata.yaml"
)

// SiteConfig is a named preset for one website. Pointer fields distinguish "unset" from
// an explicit zero so the global value can be used as a fallback.
type SiteConfig struct {
	URL                   string           `yaml:"url"`
	Mode                  models.CrawlMode `yaml:"mode,omitempty"`
	MaxDepth              *int             `yaml:"max_depth,omitempty"`
	ConcurrentDownloads   *int             `yaml:"concurrent_downloads,omitempty"`
	IncludeMedia          *bool            `yaml:"include_media,omitempty"`
	IncludeAssets         *bool            `yaml:"include_assets,omitempty"`
	UserAgent             string           `yaml:"user_agent,omitempty"`
	DelayPerHost          time.Duration    `yaml:"delay_per_host,omitempty"`
	RespectRobots         *bool            `yaml:"respect_robots,omitempty"`
	ExcludePatterns       []string         `yaml:"exclude_patterns,omitempty"` // Regex patterns for page URLs to skip in site mode
	EnableOutputMapping   *bool            `yaml:"enable_output_mapping,omitempty"`
	OutputMappingFilename string           `yaml:"output_mapping_filename,omitempty"`
	EnableMetadataYAML    *bool            `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename  string           `yaml:"metadata_yaml_filename,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	OutputDir               string                `yaml:"output_dir"`
	Mode                    models.CrawlMode      `yaml:"mode"`
	MaxDepth                int                   `yaml:"max_depth"`
	ConcurrentDownloads     int                   `yaml:"concurrent_downloads"`
	IncludeMedia            bool                  `yaml:"include_media"`
	IncludeAssets           bool                  `yaml:"include_assets"`
	UserAgent               string                `yaml:"user_agent"`
	DelayPerHost            time.Duration         `yaml:"delay_per_host,omitempty"`
	RespectRobots           bool                  `yaml:"respect_robots"`
	OverwriteExisting       bool                  `yaml:"overwrite_existing,omitempty"` // Reuse file names already present on disk instead of suffixing
	MaxRetries              int                   `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration         `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration         `yaml:"max_retry_delay,omitempty"`
	MaxBodyBytes            int64                 `yaml:"max_body_bytes,omitempty"`
	SemaphoreAcquireTimeout time.Duration         `yaml:"semaphore_acquire_timeout,omitempty"`
	CrawlTimeout            time.Duration         `yaml:"crawl_timeout,omitempty"` // 0 = no timeout
	ParallelSites           int                   `yaml:"parallel_sites,omitempty"`
	EnableOutputMapping     bool                  `yaml:"enable_output_mapping"`
	OutputMappingFilename   string                `yaml:"output_mapping_filename,omitempty"`
	EnableMetadataYAML      bool                  `yaml:"enable_metadata_yaml"`
	MetadataYAMLFilename    string                `yaml:"metadata_yaml_filename,omitempty"`
	LogLevel                string                `yaml:"log_level,omitempty"`
	LogFormat               string                `yaml:"log_format,omitempty"`
	HTTPClientSettings      HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites                   map[string]SiteConfig `yaml:"sites,omitempty"`
}

// HTTPClientConfig holds settings for the crawl-owned HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default (enabled), true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// GetEffectiveMode determines the crawl mode, site preset first
func GetEffectiveMode(siteCfg SiteConfig, appCfg AppConfig) models.CrawlMode {
	if siteCfg.Mode != "" {
		return siteCfg.Mode
	}
	if appCfg.Mode != "" {
		return appCfg.Mode
	}
	return models.ModePage
}

// GetEffectiveMaxDepth determines the link depth bound for site mode
func GetEffectiveMaxDepth(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.MaxDepth != nil {
		return *siteCfg.MaxDepth
	}
	return appCfg.MaxDepth
}

// GetEffectiveConcurrentDownloads determines the in-flight fetch bound
func GetEffectiveConcurrentDownloads(siteCfg SiteConfig, appCfg AppConfig) int {
	if siteCfg.ConcurrentDownloads != nil && *siteCfg.ConcurrentDownloads > 0 {
		return *siteCfg.ConcurrentDownloads
	}
	return appCfg.ConcurrentDownloads
}

// GetEffectiveIncludeMedia determines whether images and icons are downloaded
func GetEffectiveIncludeMedia(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.IncludeMedia != nil {
		return *siteCfg.IncludeMedia
	}
	return appCfg.IncludeMedia
}

// GetEffectiveIncludeAssets determines whether any referenced resource is downloaded
func GetEffectiveIncludeAssets(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.IncludeAssets != nil {
		return *siteCfg.IncludeAssets
	}
	return appCfg.IncludeAssets
}

// GetEffectiveUserAgent determines the User-Agent header
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.UserAgent
}

// GetEffectiveDelayPerHost determines the politeness delay between requests to one host
func GetEffectiveDelayPerHost(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DelayPerHost
}

// GetEffectiveRespectRobots determines whether robots.txt is consulted in site mode
func GetEffectiveRespectRobots(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.RespectRobots != nil {
		return *siteCfg.RespectRobots
	}
	return appCfg.RespectRobots
}

// GetEffectiveEnableOutputMapping determines the effective setting for enabling the mapping file
func GetEffectiveEnableOutputMapping(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableOutputMapping != nil {
		return *siteCfg.EnableOutputMapping
	}
	return appCfg.EnableOutputMapping // Fallback to global setting
}

// GetEffectiveOutputMappingFilename determines the effective filename for the mapping file
// Site config (if non-empty) overrides global
// If both site and global are empty, a hardcoded default is returned
func GetEffectiveOutputMappingFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.OutputMappingFilename != "" {
		return siteCfg.OutputMappingFilename
	}
	if appCfg.OutputMappingFilename != "" {
		return appCfg.OutputMappingFilename
	}
	return DefaultOutputMappingFilename
}

// GetEffectiveEnableMetadataYAML determines if YAML metadata should be generated.
func GetEffectiveEnableMetadataYAML(siteCfg SiteConfig, appCfg AppConfig) bool {
	if siteCfg.EnableMetadataYAML != nil {
		return *siteCfg.EnableMetadataYAML
	}
	return appCfg.EnableMetadataYAML
}

// GetEffectiveMetadataYAMLFilename determines the filename for the YAML metadata.
func GetEffectiveMetadataYAMLFilename(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.MetadataYAMLFilename != "" {
		return siteCfg.MetadataYAMLFilename
	}
	if appCfg.MetadataYAMLFilename != "" {
		return appCfg.MetadataYAMLFilename
	}
	return DefaultMetadataYAMLFilename
}

// NewCrawlRequest builds a crawl request for rawURL from the effective settings.
// An empty rawURL falls back to the preset's URL.
func (c *AppConfig) NewCrawlRequest(rawURL string, siteCfg SiteConfig) models.CrawlRequest {
	if rawURL == "" {
		rawURL = siteCfg.URL
	}
	return models.CrawlRequest{
		RootURL:             rawURL,
		OutputDir:           c.OutputDir,
		Mode:                GetEffectiveMode(siteCfg, *c),
		MaxDepth:            GetEffectiveMaxDepth(siteCfg, *c),
		ConcurrentDownloads: GetEffectiveConcurrentDownloads(siteCfg, *c),
		IncludeMedia:        GetEffectiveIncludeMedia(siteCfg, *c),
		IncludeAssets:       GetEffectiveIncludeAssets(siteCfg, *c),
	}
}
