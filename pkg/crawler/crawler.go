package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/fetch"
	"github.com/Sriram-PR/site-downloader/pkg/log"
	"github.com/Sriram-PR/site-downloader/pkg/metrics"
	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/parse"
	"github.com/Sriram-PR/site-downloader/pkg/process"
	"github.com/Sriram-PR/site-downloader/pkg/queue"
	"github.com/Sriram-PR/site-downloader/pkg/storage"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// Options carries the crawl-independent collaborators of a Crawler
type Options struct {
	App        config.AppConfig  // Validated global config
	Site       config.SiteConfig // Preset for this site; zero value when none applies
	Logger     *logrus.Entry
	Metrics    *metrics.Collector // Optional
	HTTPClient *http.Client       // Optional; by default the crawl builds and owns its client
}

// Crawler runs one crawl. Every mutable piece of state (client, gate, visited sets,
// path mapper) belongs to this crawl alone.
type Crawler struct {
	req      models.CrawlRequest
	appCfg   config.AppConfig
	siteCfg  config.SiteConfig
	crawlID  string
	log      *logrus.Entry
	metrics  *metrics.Collector
	client   *http.Client
	ownsHTTP bool
	exec     *fetch.Executor
	robots   *fetch.RobotsChecker // nil unless site mode honours robots.txt
	excludes []*regexp.Regexp

	mapper   *storage.PathMapper
	rewriter *process.Rewriter
	writer   storage.Writer
	output   *OutputManager
	assets   *VisitedSet
	pages    *VisitedSet
	queue    *queue.PageQueue
	pending  sync.WaitGroup // Pages enqueued but not yet processed

	stateMu sync.Mutex
	state   models.CrawlState

	assetsOK     atomic.Int64
	assetsFailed atomic.Int64
	pagesFailed  atomic.Int64
}

// New prepares a crawl for req. The request itself is validated by Crawl so that an
// invalid request still yields a structured result.
func New(req models.CrawlRequest, opts Options) (*Crawler, error) {
	crawlID := uuid.NewString()
	baseLog := opts.Logger
	if baseLog == nil {
		baseLog = log.Discard()
	}
	crawlLog := baseLog.WithFields(logrus.Fields{"crawl_id": crawlID, "root_url": req.RootURL})

	excludes, err := utils.CompileRegexPatterns(opts.Site.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("exclude_patterns: %w", err)
	}

	c := &Crawler{
		req:      req,
		appCfg:   opts.App,
		siteCfg:  opts.Site,
		crawlID:  crawlID,
		log:      crawlLog,
		metrics:  opts.Metrics,
		client:   opts.HTTPClient,
		excludes: excludes,
		assets:   NewVisitedSet(),
		pages:    NewVisitedSet(),
		queue:    queue.NewPageQueue(crawlLog),
		state:    models.StateIdle,
	}
	if c.client == nil {
		c.client = fetch.NewClient(opts.App.HTTPClientSettings, crawlLog)
		c.ownsHTTP = true
	}

	concurrency := req.ConcurrentDownloads
	if concurrency <= 0 {
		concurrency = models.DefaultConcurrentDownloads
	}
	userAgent := config.GetEffectiveUserAgent(opts.Site, opts.App)
	fetcher := fetch.NewFetcher(c.client, fetch.RetryPolicyFrom(opts.App), crawlLog)
	c.exec = fetch.NewExecutor(fetcher, fetch.NewGate(concurrency), fetch.ExecutorOptions{
		UserAgent:      userAgent,
		MaxBodyBytes:   opts.App.MaxBodyBytes,
		AcquireTimeout: opts.App.SemaphoreAcquireTimeout,
		Limiter:        fetch.NewHostLimiter(config.GetEffectiveDelayPerHost(opts.Site, opts.App)),
		Metrics:        opts.Metrics,
	}, crawlLog)

	if req.Mode == models.ModeSite && config.GetEffectiveRespectRobots(opts.Site, opts.App) {
		c.robots = fetch.NewRobotsChecker(c.exec, userAgent, crawlLog)
	}
	return c, nil
}

// ID returns the crawl's identifier
func (c *Crawler) ID() string { return c.crawlID }

// State returns the current state of the machine
func (c *Crawler) State() models.CrawlState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Crawler) transition(to models.CrawlState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !models.CanTransition(c.state, to) {
		c.log.Warnf("Ignoring illegal state transition %s -> %s", c.state, to)
		return
	}
	c.log.Debugf("State %s -> %s", c.state, to)
	c.state = to
}

// Crawl runs the whole pipeline and always returns a terminal result. Cancelling ctx aborts
// pending fetches; the crawl then reports an error with the context's message.
func (c *Crawler) Crawl(ctx context.Context) (result models.CrawlResult) {
	startTime := time.Now()
	result = models.CrawlResult{URL: c.req.RootURL, CrawlID: c.crawlID}

	if c.appCfg.CrawlTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.appCfg.CrawlTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"panic_info":  r,
				"stage":       "PanicRecovery",
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in Crawl")
			result = c.fail(result, fmt.Errorf("internal error: %v", r), "")
		}
		if c.ownsHTTP {
			c.client.CloseIdleConnections()
		}
		result.Duration = time.Since(startTime)
		result.State = c.State()
		c.metrics.CrawlFinished(string(c.req.Mode), result.Status, result.ErrorType, result.Duration, result.AssetsDownloaded)
		c.logSummary(result)
	}()

	// --- Validate ---
	root, err := c.validate()
	if err != nil {
		return c.fail(result, err, "")
	}
	result.URL = root.String()
	c.log.Infof("Starting %s crawl (max_depth=%d, concurrency=%d)", c.req.Mode, c.req.MaxDepth, c.req.ConcurrentDownloads)

	// --- FetchingRoot ---
	c.transition(models.StateFetchingRoot)
	res := c.exec.Fetch(ctx, root.String(), fetch.KindPage)
	if !res.OK() {
		msg := res.Reason()
		if ctxErr := ctx.Err(); ctxErr != nil {
			msg = ctxErr.Error()
		}
		return c.fail(result, fmt.Errorf("%w: %w", utils.ErrRootFetch, res.Err), msg)
	}
	base := finalURL(root, res)
	redirected := parse.NormalizeURL(base) != parse.NormalizeURL(root)
	htmlText, err := fetch.DecodeHTML(res.Body, res.ContentType)
	if err != nil {
		c.log.Warnf("Charset decoding failed, using raw bytes: %v", err)
		htmlText = string(res.Body)
	}

	// Nothing touches the filesystem before the root page is in hand
	siteDir := filepath.Join(c.req.OutputDir, storage.SiteDirName(root))
	writer, err := storage.NewFSWriter(siteDir)
	if err != nil {
		return c.fail(result, err, "")
	}
	if err := writer.EnsureRoot(); err != nil {
		return c.fail(result, err, "")
	}
	c.writer = writer
	result.SavedTo = writer.Root()
	c.output = NewOutputManager(c.log, writer, c.appCfg, c.siteCfg)

	var exists func(string) bool
	if !c.appCfg.OverwriteExisting {
		exists = writer.Exists
	}
	c.mapper = storage.NewPathMapper(exists)
	c.mapper.Reserve(root, storage.RootPageFile, models.CategoryPage)
	if redirected {
		c.mapper.Reserve(base, storage.RootPageFile, models.CategoryPage)
	}
	c.rewriter = process.NewRewriter(c.mapper, process.RewriterOptions{Origin: base, IncludeMedia: c.req.IncludeMedia}, c.log)
	rootVisit, _ := c.pages.Claim(root)
	if redirected {
		c.pages.Claim(base)
	}

	var out string
	var assetCount int
	var title string
	if !c.req.IncludeAssets && c.req.Mode == models.ModePage {
		// --- Persisting (unmodified) ---
		c.transition(models.StatePersisting)
		out = htmlText
	} else {
		// --- Rewriting ---
		c.transition(models.StateRewriting)
		plan, err := c.rewriter.PlanPage(htmlText, base, c.linkMode(0))
		if err != nil {
			rootVisit.Resolve(false)
			return c.fail(result, err, "")
		}
		title = plan.Title
		c.enqueuePages(plan.Pages, 1)

		// --- FetchingAssets (and child pages in site mode) ---
		c.transition(models.StateFetchingAssets)
		workers := c.startPageWorkers(ctx)
		assetOK := c.fetchPageAssets(ctx, plan, c.log)
		workers.Wait()
		assetCount = savedCount(assetOK)

		// --- Persisting ---
		c.transition(models.StatePersisting)
		out, err = plan.Apply(c.keepFunc(assetOK))
		if err != nil {
			rootVisit.Resolve(false)
			return c.fail(result, err, "")
		}
	}

	if err := writer.WriteFile(storage.RootPageFile, []byte(out)); err != nil {
		rootVisit.Resolve(false)
		return c.fail(result, err, "")
	}
	rootVisit.Resolve(true)
	c.output.RecordPage(models.PageMetadata{
		OriginalURL:   root.String(),
		LocalFilePath: storage.RootPageFile,
		Title:         title,
		Depth:         0,
		ProcessedAt:   time.Now(),
		ContentHash:   utils.SHA256Hex([]byte(out)),
		AssetCount:    assetCount,
	})

	if ctxErr := ctx.Err(); ctxErr != nil {
		return c.fail(result, ctxErr, ctxErr.Error())
	}

	result.Status = models.StatusSuccess
	result.AssetsDownloaded = int(c.assetsOK.Load())
	result.AssetsFailed = int(c.assetsFailed.Load())
	result.PagesDownloaded = c.output.PagesSaved()
	c.writeSideFiles(startTime)
	c.transition(models.StateDone)
	return result
}

// validate checks the request before any network activity
func (c *Crawler) validate() (*url.URL, error) {
	if err := c.req.Validate(); err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(c.req.RootURL)
	if !parse.IsValidURL(raw) {
		return nil, fmt.Errorf("%w: invalid URL %q (must be absolute http or https)", utils.ErrInvalidInput, c.req.RootURL)
	}
	_, root, err := parse.ParseAndNormalize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrInvalidInput, err)
	}
	return root, nil
}

// fail moves the machine to Failed and fills the error fields. An empty message uses err's text.
func (c *Crawler) fail(result models.CrawlResult, err error, message string) models.CrawlResult {
	c.transition(models.StateFailed)
	if message == "" {
		message = err.Error()
	}
	result.Status = models.StatusError
	result.Message = message
	result.ErrorType = utils.CategorizeError(err)
	result.AssetsDownloaded = int(c.assetsOK.Load())
	result.AssetsFailed = int(c.assetsFailed.Load())
	if c.output != nil {
		result.PagesDownloaded = c.output.PagesSaved()
	}
	return result
}

func (c *Crawler) writeSideFiles(startTime time.Time) {
	meta := models.CrawlMetadata{
		CrawlID:          c.crawlID,
		RootURL:          c.req.RootURL,
		Mode:             c.req.Mode,
		MaxDepth:         c.req.MaxDepth,
		CrawlStartTime:   startTime,
		CrawlEndTime:     time.Now(),
		AssetsDownloaded: int(c.assetsOK.Load()),
		AssetsFailed:     int(c.assetsFailed.Load()),
	}
	if err := c.output.Close(meta); err != nil {
		c.log.Warnf("Side files incomplete: %v", err)
	}
}

func (c *Crawler) logSummary(result models.CrawlResult) {
	fields := logrus.Fields{
		"status":            result.Status,
		"state":             result.State,
		"duration":          result.Duration.String(),
		"assets_downloaded": result.AssetsDownloaded,
		"assets_failed":     result.AssetsFailed,
		"pages_downloaded":  result.PagesDownloaded,
		"pages_failed":      c.pagesFailed.Load(),
	}
	if result.Succeeded() {
		c.log.WithFields(fields).Infof("Crawl finished, saved to %s", result.SavedTo)
		return
	}
	fields["error_type"] = result.ErrorType
	c.log.WithFields(fields).Warnf("Crawl failed: %s", result.Message)
}

// linkMode decides how page links of a page at depth are handled
func (c *Crawler) linkMode(depth int) process.LinkMode {
	switch {
	case c.req.Mode != models.ModeSite:
		return process.LinksIgnore
	case depth < c.req.MaxDepth:
		return process.LinksFollow
	default:
		return process.LinksMapped
	}
}

// keepFunc keeps a rewrite when the asset it points to was saved. Page links are kept unless
// the target page is already known to have failed or been skipped.
func (c *Crawler) keepFunc(assetOK map[string]bool) func(models.ResourceReference) bool {
	return func(ref models.ResourceReference) bool {
		if ref.Kind == models.RefPageLink {
			u, err := url.Parse(ref.URL)
			if err != nil {
				return false
			}
			if v, ok := c.pages.Lookup(u); ok {
				if saved, resolved := v.Peek(); resolved {
					return saved
				}
			}
			return true
		}
		return c.req.IncludeAssets && assetOK[ref.URL]
	}
}

// ---- Assets ----

// savedCount is the number of distinct assets that were actually saved
func savedCount(assetOK map[string]bool) int {
	n := 0
	for _, ok := range assetOK {
		if ok {
			n++
		}
	}
	return n
}

// fetchPageAssets fetches the distinct assets of a plan and reports which were saved
func (c *Crawler) fetchPageAssets(ctx context.Context, plan *process.HTMLPlan, pageLog *logrus.Entry) map[string]bool {
	if !c.req.IncludeAssets {
		return nil
	}
	return c.fetchAssets(ctx, plan.Refs, pageLog)
}

// fetchAssets fans refs out with at most concurrent_downloads goroutines. The crawl's gate bounds
// the actual network I/O across all pages.
func (c *Crawler) fetchAssets(ctx context.Context, refs []models.ResourceReference, parentLog *logrus.Entry) map[string]bool {
	outcome := make(map[string]bool, len(refs))
	if len(refs) == 0 {
		return outcome
	}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(c.req.ConcurrentDownloads)
	for _, ref := range refs {
		g.Go(func() error {
			ok := c.fetchAsset(ctx, ref, parentLog)
			mu.Lock()
			outcome[ref.URL] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return outcome
}

// fetchAsset downloads and saves one asset, or waits for the crawl's earlier claim on it.
// The visit is resolved right after the file is first written, before nested stylesheet
// work, so waiters never depend on each other.
func (c *Crawler) fetchAsset(ctx context.Context, ref models.ResourceReference, parentLog *logrus.Entry) bool {
	assetLog := parentLog.WithFields(logrus.Fields{"asset_url": ref.URL, "kind": ref.Kind})
	u, err := url.Parse(ref.URL)
	if err != nil {
		assetLog.Warnf("Skipping asset with unparsable URL: %v", err)
		return false
	}

	visit, first := c.assets.Claim(u)
	if !first {
		ok, err := visit.Wait(ctx)
		if err != nil {
			return false
		}
		return ok
	}

	res := c.exec.Fetch(ctx, ref.URL, fetch.KindAsset)
	if !res.OK() {
		err := fmt.Errorf("%w: %s: %w", utils.ErrAssetFetch, ref.URL, res.Err)
		assetLog.WithField("category", utils.CategorizeError(err)).Warnf("Asset fetch failed: %s", res.Reason())
		c.assetsFailed.Add(1)
		visit.Resolve(false)
		return false
	}
	if err := c.writer.WriteFile(ref.LocalPath, res.Body); err != nil {
		assetLog.Warnf("Asset could not be saved: %v", err)
		c.assetsFailed.Add(1)
		visit.Resolve(false)
		return false
	}
	c.assetsOK.Add(1)
	c.output.RecordFile(ref.URL, ref.LocalPath)
	visit.Resolve(true)
	assetLog.Debugf("Saved asset to %s", ref.LocalPath)

	if ref.Category == models.CategoryStylesheet {
		c.localizeStylesheet(ctx, string(res.Body), finalURL(u, res), ref.LocalPath, assetLog)
	}
	return true
}

// localizeStylesheet fetches what a saved stylesheet references and rewrites it in place
func (c *Crawler) localizeStylesheet(ctx context.Context, cssText string, base *url.URL, localPath string, cssLog *logrus.Entry) {
	plan := c.rewriter.PlanCSS(cssText, base, path.Dir(localPath))
	if plan.Len() == 0 {
		return
	}
	outcome := c.fetchAssets(ctx, plan.Refs, cssLog)
	rewritten := plan.Apply(func(ref models.ResourceReference) bool { return outcome[ref.URL] })
	if err := c.writer.WriteFile(localPath, []byte(rewritten)); err != nil {
		cssLog.Warnf("Stylesheet keeps its remote references, rewrite not saved: %v", err)
	}
}

// ---- Pages (site mode) ----

// enqueuePages claims the planned page links and queues the new ones at depth
func (c *Crawler) enqueuePages(refs []models.ResourceReference, depth int) {
	for _, ref := range refs {
		u, err := url.Parse(ref.URL)
		if err != nil {
			continue
		}
		visit, first := c.pages.Claim(u)
		if !first {
			continue
		}
		if utils.MatchesAny(c.excludes, ref.URL) {
			c.log.WithField("url", ref.URL).Debug("Page excluded by pattern")
			visit.Resolve(false)
			continue
		}
		c.pending.Add(1)
		if !c.queue.Add(models.PageTask{URL: ref.URL, Depth: depth}) {
			c.pending.Done()
			visit.Resolve(false)
		}
	}
}

// startPageWorkers starts the page workers and closes the queue once every queued page
// is processed. The returned group is done when all workers have exited.
func (c *Crawler) startPageWorkers(ctx context.Context) *sync.WaitGroup {
	var workers sync.WaitGroup
	if c.req.Mode != models.ModeSite {
		return &workers
	}
	go func() {
		c.pending.Wait()
		c.queue.Close()
	}()
	for i := 1; i <= c.req.ConcurrentDownloads; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			c.worker(ctx, id)
		}(i)
	}
	return &workers
}

func (c *Crawler) worker(ctx context.Context, id int) {
	workerLog := c.log.WithField("worker_id", id)
	for {
		task, ok := c.queue.Pop()
		if !ok {
			workerLog.Debug("Queue closed, worker exiting")
			return
		}
		c.processPage(ctx, task, workerLog)
		c.pending.Done()
	}
}

// processPage fetches, localizes and saves one child page. Failures stay with the page.
func (c *Crawler) processPage(ctx context.Context, task models.PageTask, workerLog *logrus.Entry) {
	taskLog := workerLog.WithFields(logrus.Fields{"url": task.URL, "depth": task.Depth})
	startTime := time.Now()
	var taskErr error
	saved := false

	u, err := url.Parse(task.URL)
	if err != nil {
		taskLog.Warnf("Dropping page with unparsable URL: %v", err)
		c.pagesFailed.Add(1)
		return
	}
	visit, _ := c.pages.Lookup(u)

	defer func() {
		if r := recover(); r != nil {
			taskErr = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stage":       "PanicRecovery",
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in processPage")
		}
		if visit != nil {
			visit.Resolve(saved)
		}
		logFields := logrus.Fields{"duration": time.Since(startTime).String()}
		switch {
		case taskErr != nil:
			c.pagesFailed.Add(1)
			logFields["category"] = utils.CategorizeError(taskErr)
			taskLog.WithFields(logFields).Warnf("Page failed: %v", taskErr)
		case !saved:
			taskLog.WithFields(logFields).Info("Page skipped")
		default:
			taskLog.WithFields(logFields).Info("Page saved")
		}
	}()

	if err := ctx.Err(); err != nil {
		taskErr = err
		return
	}
	if c.robots != nil && !c.robots.Allowed(ctx, u) {
		taskLog.Infof("Skipping page: %v", utils.ErrRobotsDisallowed)
		return
	}

	res := c.exec.Fetch(ctx, task.URL, fetch.KindPage)
	if !res.OK() {
		taskErr = fmt.Errorf("%s: %w", res.Reason(), res.Err)
		return
	}
	if ct := strings.ToLower(res.ContentType); ct != "" && !strings.Contains(ct, "html") {
		taskLog.Debugf("Not an HTML page (%s)", res.ContentType)
		return
	}

	base := finalURL(u, res)
	htmlText, err := fetch.DecodeHTML(res.Body, res.ContentType)
	if err != nil {
		htmlText = string(res.Body)
	}

	plan, err := c.rewriter.PlanPage(htmlText, base, c.linkMode(task.Depth))
	if err != nil {
		taskErr = err
		return
	}
	c.enqueuePages(plan.Pages, task.Depth+1)

	assetOK := c.fetchPageAssets(ctx, plan, taskLog)
	out, err := plan.Apply(c.keepFunc(assetOK))
	if err != nil {
		taskErr = err
		return
	}

	localPath, ok := c.mapper.Lookup(u)
	if !ok {
		localPath = c.mapper.LocalPath(u, models.CategoryPage)
	}
	if err := c.writer.WriteFile(localPath, []byte(out)); err != nil {
		taskErr = err
		return
	}
	saved = true
	c.output.RecordPage(models.PageMetadata{
		OriginalURL:   task.URL,
		LocalFilePath: localPath,
		Title:         plan.Title,
		Depth:         task.Depth,
		ProcessedAt:   time.Now(),
		ContentHash:   utils.SHA256Hex([]byte(out)),
		AssetCount:    savedCount(assetOK),
	})
}

// finalURL is the URL a fetch ended at after redirects, falling back to requested
func finalURL(requested *url.URL, res fetch.Result) *url.URL {
	if res.FinalURL == "" {
		return requested
	}
	final, err := url.Parse(res.FinalURL)
	if err != nil {
		return requested
	}
	return final
}
