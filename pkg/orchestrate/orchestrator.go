package orchestrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/crawler"
	"github.com/Sriram-PR/site-downloader/pkg/metrics"
	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// Job is one crawl of a batch, optionally tied to a configured site preset
type Job struct {
	SiteKey string // Empty for ad-hoc URLs
	Site    config.SiteConfig
	Request models.CrawlRequest
}

// SiteResult contains the result of crawling a single site
type SiteResult struct {
	SiteKey  string
	Result   models.CrawlResult
	Duration time.Duration
}

// Orchestrator runs independent crawls side by side. Each crawl owns its client, gate
// and visited sets; only the logger and metrics collector are shared.
type Orchestrator struct {
	appCfg  config.AppConfig
	log     *logrus.Entry
	metrics *metrics.Collector
}

// NewOrchestrator creates an orchestrator for a validated config
func NewOrchestrator(appCfg config.AppConfig, log *logrus.Entry, m *metrics.Collector) *Orchestrator {
	return &Orchestrator{appCfg: appCfg, log: log.WithField("component", "orchestrator"), metrics: m}
}

// JobsForURLs builds ad-hoc jobs from the global settings
func (o *Orchestrator) JobsForURLs(urls []string) []Job {
	jobs := make([]Job, 0, len(urls))
	for _, u := range urls {
		jobs = append(jobs, Job{Request: o.appCfg.NewCrawlRequest(u, config.SiteConfig{})})
	}
	return jobs
}

// JobsForSites builds one job per configured site preset
func (o *Orchestrator) JobsForSites(siteKeys []string) ([]Job, error) {
	if err := ValidateSiteKeys(o.appCfg, siteKeys); err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(siteKeys))
	for _, key := range siteKeys {
		siteCfg := o.appCfg.Sites[key]
		jobs = append(jobs, Job{SiteKey: key, Site: siteCfg, Request: o.appCfg.NewCrawlRequest("", siteCfg)})
	}
	return jobs, nil
}

// Run crawls every job with at most parallel_sites running at once. Results keep the
// order of jobs. A crawl that cannot be set up is reported as an error result.
func (o *Orchestrator) Run(ctx context.Context, jobs []Job) []SiteResult {
	startTime := time.Now()
	results := make([]SiteResult, len(jobs))

	limit := o.appCfg.ParallelSites
	if limit <= 0 {
		limit = 1
	}
	o.log.Infof("Starting %d crawl(s), %d at a time", len(jobs), limit)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = o.crawlSite(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	o.logSummary(results, time.Since(startTime))
	return results
}

// crawlSite runs a single crawl
func (o *Orchestrator) crawlSite(ctx context.Context, job Job) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: job.SiteKey}

	siteLog := o.log
	if job.SiteKey != "" {
		siteLog = siteLog.WithField("site_key", job.SiteKey)
	}

	c, err := crawler.New(job.Request, crawler.Options{
		App:     o.appCfg,
		Site:    job.Site,
		Logger:  siteLog,
		Metrics: o.metrics,
	})
	if err != nil {
		siteLog.Errorf("Failed to create crawler for %s: %v", job.Request.RootURL, err)
		result.Result = models.CrawlResult{
			Status:    models.StatusError,
			URL:       job.Request.RootURL,
			Message:   err.Error(),
			ErrorType: utils.CategorizeError(err),
			State:     models.StateFailed,
		}
		result.Duration = time.Since(startTime)
		return result
	}

	result.Result = c.Crawl(ctx)
	result.Duration = time.Since(startTime)
	return result
}

// logSummary logs a summary of all crawl results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Batch completed in %v", totalDuration)

	successCount, failCount, totalAssets := 0, 0, 0
	for _, r := range results {
		status := "SUCCESS"
		if r.Result.Succeeded() {
			successCount++
		} else {
			status = "FAILED"
			failCount++
		}
		totalAssets += r.Result.AssetsDownloaded

		name := r.Result.URL
		if r.SiteKey != "" {
			name = r.SiteKey
		}
		o.log.Infof("  %s: %s - %d assets in %v", name, status, r.Result.AssetsDownloaded, r.Duration)
		if r.Result.Message != "" {
			o.log.Infof("    Error: %s", r.Result.Message)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d crawls (%d success, %d failed), %d assets downloaded",
		len(results), successCount, failCount, totalAssets)
	o.log.Info("============================================")
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config, sorted
func GetAllSiteKeys(appCfg config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
