package models

import (
	"fmt"
	"time"

	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// CrawlMode selects between the one-shot page download and the depth-bounded site crawl
type CrawlMode string

const (
	ModePage CrawlMode = "page" // Root page plus its assets
	ModeSite CrawlMode = "site" // Root page, assets, and same-origin pages up to MaxDepth
)

// IsValid reports whether m is a known crawl mode
func (m CrawlMode) IsValid() bool {
	return m == ModePage || m == ModeSite
}

// Defaults applied by CrawlRequest.Validate
const (
	DefaultMaxDepth            = 2
	DefaultConcurrentDownloads = 5
)

// CrawlRequest describes one crawl invocation. It is not modified once a crawl starts.
type CrawlRequest struct {
	RootURL             string    `json:"url" yaml:"url"`
	OutputDir           string    `json:"output_dir" yaml:"output_dir"`
	Mode                CrawlMode `json:"mode" yaml:"mode"`
	MaxDepth            int       `json:"max_depth" yaml:"max_depth"`
	ConcurrentDownloads int       `json:"concurrent_downloads" yaml:"concurrent_downloads"`
	IncludeMedia        bool      `json:"include_media" yaml:"include_media"`
	IncludeAssets       bool      `json:"include_assets" yaml:"include_assets"`
}

// NewCrawlRequest returns a request with the documented defaults
func NewCrawlRequest(rootURL, outputDir string) CrawlRequest {
	return CrawlRequest{
		RootURL:             rootURL,
		OutputDir:           outputDir,
		Mode:                ModePage,
		MaxDepth:            DefaultMaxDepth,
		ConcurrentDownloads: DefaultConcurrentDownloads,
		IncludeMedia:        true,
		IncludeAssets:       true,
	}
}

// Validate applies defaults to unset fields and rejects requests that cannot run.
// URL validity itself is checked by the crawler via the URL classifier.
func (r *CrawlRequest) Validate() error {
	if r.RootURL == "" {
		return fmt.Errorf("%w: url is required", utils.ErrInvalidInput)
	}
	if r.OutputDir == "" {
		return fmt.Errorf("%w: output directory is required", utils.ErrInvalidInput)
	}
	if r.Mode == "" {
		r.Mode = ModePage
	}
	if !r.Mode.IsValid() {
		return fmt.Errorf("%w: unknown mode %q (supported: page, site)", utils.ErrInvalidInput, r.Mode)
	}
	if r.MaxDepth < 0 {
		return fmt.Errorf("%w: max_depth must be non-negative, got %d", utils.ErrInvalidInput, r.MaxDepth)
	}
	if r.ConcurrentDownloads <= 0 {
		r.ConcurrentDownloads = DefaultConcurrentDownloads
	}
	return nil
}

// Category is the local bucket a resource is stored under
type Category string

const (
	CategoryImage      Category = "images"
	CategoryStylesheet Category = "css"
	CategoryScript     Category = "js"
	CategoryFont       Category = "fonts"
	CategoryAsset      Category = "assets"
	CategoryPage       Category = "page" // Pages live at the site root
)

// Dir returns the subdirectory for the category ("" for pages)
func (c Category) Dir() string {
	if c == CategoryPage {
		return ""
	}
	return string(c)
}

// ReferenceKind records where in a document a reference was found
type ReferenceKind string

const (
	RefImageSource    ReferenceKind = "image-source"
	RefStylesheetHref ReferenceKind = "stylesheet-href"
	RefScriptSource   ReferenceKind = "script-source"
	RefIconHref       ReferenceKind = "icon-href"
	RefInlineStyleURL ReferenceKind = "inline-style-url"
	RefStyleAttrURL   ReferenceKind = "style-attr-url"
	RefCSSURL         ReferenceKind = "css-url"
	RefPageLink       ReferenceKind = "page-link"
)

// ResourceReference is a discovered URL together with its context and planned local path
type ResourceReference struct {
	URL       string
	Kind      ReferenceKind
	Category  Category
	LocalPath string // Relative to the site directory, slash-separated
}

// PageTask is a page waiting to be fetched in site mode
type PageTask struct {
	URL   string
	Depth int
}

// Result status values returned to callers
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CrawlResult is the terminal value of one crawl
type CrawlResult struct {
	Status           string        `json:"status"`
	URL              string        `json:"url"`
	SavedTo          string        `json:"saved_to,omitempty"`
	AssetsDownloaded int           `json:"assets_downloaded"`
	AssetsFailed     int           `json:"assets_failed,omitempty"`
	PagesDownloaded  int           `json:"pages_downloaded,omitempty"`
	Message          string        `json:"message,omitempty"`
	ErrorType        string        `json:"error_type,omitempty"`
	CrawlID          string        `json:"crawl_id,omitempty"`
	State            CrawlState    `json:"state"`
	Duration         time.Duration `json:"-"`
}

// Succeeded reports whether the crawl ended in the success status
func (r CrawlResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// CrawlMetadata holds the manifest written at the end of a crawl
type CrawlMetadata struct {
	CrawlID          string         `yaml:"crawl_id"`
	RootURL          string         `yaml:"root_url"`
	Mode             CrawlMode      `yaml:"mode"`
	MaxDepth         int            `yaml:"max_depth"`
	CrawlStartTime   time.Time      `yaml:"crawl_start_time"`
	CrawlEndTime     time.Time      `yaml:"crawl_end_time"`
	AssetsDownloaded int            `yaml:"assets_downloaded"`
	AssetsFailed     int            `yaml:"assets_failed"`
	Pages            []PageMetadata `yaml:"pages"`
}

// PageMetadata holds metadata for a single saved page.
type PageMetadata struct {
	OriginalURL   string    `yaml:"original_url"`
	LocalFilePath string    `yaml:"local_file_path"` // Relative to the site directory
	Title         string    `yaml:"title,omitempty"`
	Depth         int       `yaml:"depth"`
	ProcessedAt   time.Time `yaml:"processed_at"`
	ContentHash   string    `yaml:"content_hash,omitempty"` // SHA-256 of the saved markup
	// AssetCount is the number of distinct assets of this page that were saved
	AssetCount    int       `yaml:"asset_count"`
}
