package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/crawler"
	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/orchestrate"
	"github.com/Sriram-PR/site-downloader/pkg/parse"
	"github.com/Sriram-PR/site-downloader/pkg/storage"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// handleDownload handles download-website and its alias download
func (s *Server) handleDownload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, siteCfg, err := s.buildRequest(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result := s.runDownload(ctx, req, siteCfg)
	return crawlToolResult(result), nil
}

// handleStartDownload handles the start_download tool
func (s *Server) handleStartDownload(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, siteCfg, err := s.buildRequest(request)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	job, created := s.jobManager.CreateJob(req.RootURL, jobKey(req.RootURL))
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A download is already in progress for this URL",
			"job_id":  job.ID,
			"url":     job.URL,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	// Start download in background
	go s.runDownloadJob(job.ID, req, siteCfg)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Download started successfully",
		"job_id":  job.ID,
		"url":     job.URL,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return errorResult("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.GetJob(jobID)
	if !ok {
		return errorResult(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	return mcp.NewToolResultText(formatJSON(jobView(job))), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()
	views := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, jobView(job))
	}

	result := map[string]interface{}{
		"jobs":       views,
		"total_jobs": len(views),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return errorResult("job_id parameter is required"), nil
	}

	job, ok := s.jobManager.GetJob(jobID)
	if !ok {
		return errorResult(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	if !s.jobManager.CancelJob(jobID) {
		result := map[string]interface{}{
			"status":     "not_running",
			"message":    fmt.Sprintf("Job already finished with status %s", job.Status),
			"job_id":     jobID,
			"job_status": job.Status,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.log.WithField("job_id", jobID).Info("Download job cancelled")
	result := map[string]interface{}{
		"status":  "cancelled",
		"message": "Cancellation requested",
		"job_id":  jobID,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListSites handles the list_sites tool
func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appCfg := s.cfg.AppConfig
	keys := orchestrate.GetAllSiteKeys(appCfg)
	sites := make([]map[string]interface{}, 0, len(keys))

	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		siteInfo := map[string]interface{}{
			"key":            key,
			"url":            siteCfg.URL,
			"mode":           config.GetEffectiveMode(siteCfg, appCfg),
			"max_depth":      config.GetEffectiveMaxDepth(siteCfg, appCfg),
			"include_assets": config.GetEffectiveIncludeAssets(siteCfg, appCfg),
		}

		// Check for last crawl info from metadata file
		lastCrawled := s.getLastCrawledTime(siteCfg)
		if !lastCrawled.IsZero() {
			siteInfo["last_crawled"] = lastCrawled.Format(time.RFC3339)
		}

		if s.jobManager.IsRunning(jobKey(siteCfg.URL)) {
			siteInfo["status"] = "running"
		}

		sites = append(sites, siteInfo)
	}

	result := map[string]interface{}{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// buildRequest turns tool arguments into a crawl request. Optional arguments only
// override the effective config when the caller actually sent them.
func (s *Server) buildRequest(request mcp.CallToolRequest) (models.CrawlRequest, config.SiteConfig, error) {
	var siteCfg config.SiteConfig
	if siteKey := request.GetString("site", ""); siteKey != "" {
		if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
			return models.CrawlRequest{}, siteCfg, err
		}
		siteCfg = s.cfg.AppConfig.Sites[siteKey]
	}

	req := s.cfg.AppConfig.NewCrawlRequest(request.GetString("url", ""), siteCfg)
	if req.RootURL == "" {
		return req, siteCfg, errors.New("url parameter is required")
	}

	args := request.GetArguments()
	if _, ok := args["include_assets"]; ok {
		req.IncludeAssets = request.GetBool("include_assets", req.IncludeAssets)
	}
	if _, ok := args["include_media"]; ok {
		req.IncludeMedia = request.GetBool("include_media", req.IncludeMedia)
	}
	if _, ok := args["mode"]; ok {
		req.Mode = models.CrawlMode(request.GetString("mode", string(req.Mode)))
	}
	if _, ok := args["max_depth"]; ok {
		req.MaxDepth = request.GetInt("max_depth", req.MaxDepth)
	}
	if _, ok := args["concurrent_downloads"]; ok {
		req.ConcurrentDownloads = request.GetInt("concurrent_downloads", req.ConcurrentDownloads)
	}
	return req, siteCfg, nil
}

// runDownload runs one crawl to completion. Nothing it does, including a panic, escapes
// as anything but a CrawlResult.
func (s *Server) runDownload(ctx context.Context, req models.CrawlRequest, siteCfg config.SiteConfig) (result models.CrawlResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("PANIC during download of %s: %v", req.RootURL, r)
			result = models.CrawlResult{
				Status:    models.StatusError,
				URL:       req.RootURL,
				Message:   fmt.Sprintf("internal error: %v", r),
				ErrorType: "Internal_Panic",
				State:     models.StateFailed,
			}
		}
	}()

	c, err := crawler.New(req, crawler.Options{
		App:     s.cfg.AppConfig,
		Site:    siteCfg,
		Logger:  s.log,
		Metrics: s.cfg.Metrics,
	})
	if err != nil {
		return models.CrawlResult{
			Status:    models.StatusError,
			URL:       req.RootURL,
			Message:   err.Error(),
			ErrorType: utils.CategorizeError(err),
			State:     models.StateFailed,
		}
	}
	return c.Crawl(ctx)
}

// runDownloadJob runs a download job in the background
func (s *Server) runDownloadJob(jobID string, req models.CrawlRequest, siteCfg config.SiteConfig) {
	s.jobManager.MarkRunning(jobID)
	jobLog := s.log.WithField("job_id", jobID)
	jobLog.Infof("Background download of %s started", req.RootURL)

	result := s.runDownload(s.jobManager.GetContext(jobID), req, siteCfg)
	s.jobManager.Finish(jobID, result)

	jobLog.Infof("Background download of %s finished: %s", req.RootURL, result.Status)
}

// getLastCrawledTime gets the last crawl time from the site's metadata file
func (s *Server) getLastCrawledTime(siteCfg config.SiteConfig) time.Time {
	root, err := url.Parse(siteCfg.URL)
	if err != nil || root.Host == "" {
		return time.Time{}
	}
	siteOutputDir := filepath.Join(s.cfg.AppConfig.OutputDir, storage.SiteDirName(root))
	metadataPath := filepath.Join(siteOutputDir, config.GetEffectiveMetadataYAMLFilename(siteCfg, s.cfg.AppConfig))

	data, err := os.ReadFile(metadataPath)
	if err != nil {
		return time.Time{}
	}

	var metadata models.CrawlMetadata
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return time.Time{}
	}

	return metadata.CrawlEndTime
}

// jobKey de-duplicates background jobs by normalized URL
func jobKey(rawURL string) string {
	if key, _, err := parse.ParseAndNormalize(rawURL); err == nil {
		return key
	}
	return rawURL
}

// jobView is the tool representation of a job
func jobView(job Job) map[string]interface{} {
	view := map[string]interface{}{
		"job_id":     job.ID,
		"url":        job.URL,
		"status":     job.Status,
		"started_at": job.StartedAt.Format(time.RFC3339),
	}
	if !job.CompletedAt.IsZero() {
		view["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		view["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.Result != nil {
		view["result"] = job.Result
	}
	if job.ErrorMessage != "" {
		view["error_message"] = job.ErrorMessage
	}
	return view
}

// crawlToolResult converts a crawl result into a tool result, flagging failures
func crawlToolResult(result models.CrawlResult) *mcp.CallToolResult {
	if result.Succeeded() {
		return mcp.NewToolResultText(formatJSON(result))
	}
	return mcp.NewToolResultError(formatJSON(result))
}

// errorResult is the structured error returned for requests that never reach a crawl
func errorResult(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(formatJSON(map[string]interface{}{
		"status":  models.StatusError,
		"message": message,
	}))
}

// formatJSON formats data as indented JSON string
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}
