package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/site-downloader/pkg/config"
	"github.com/Sriram-PR/site-downloader/pkg/log"
	"github.com/Sriram-PR/site-downloader/pkg/metrics"
	"github.com/Sriram-PR/site-downloader/pkg/models"
)

type resource struct {
	contentType string
	body        string
	delay       time.Duration
}

func htmlPage(body string) resource {
	return resource{contentType: "text/html; charset=utf-8", body: body}
}

// testSite serves a fixed set of paths and counts the requests for each
type testSite struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newTestSite(t *testing.T, resources map[string]resource) *testSite {
	t.Helper()
	site := &testSite{hits: make(map[string]int)}
	site.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.hits[r.URL.Path]++
		site.mu.Unlock()

		res, ok := resources[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if res.delay > 0 {
			time.Sleep(res.delay)
		}
		w.Header().Set("Content-Type", res.contentType)
		fmt.Fprint(w, res.body)
	}))
	t.Cleanup(site.Close)
	return site
}

func (s *testSite) Hits(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[p]
}

const homeHTML = `<html><head><title>Home</title>
<link rel="stylesheet" href="/css/site.css">
<script src="/js/app.js"></script></head>
<body>
<img id="logo" src="/img/logo.png">
<img id="missing" src="/img/missing.png">
<a id="about" href="/about.html">About</a>
<a id="docs" href="/docs/">Docs</a>
<a id="secret" href="/private/secret.html">Secret</a>
<a id="skip" href="/skip.html">Skip</a>
<a id="out" href="https://elsewhere.example/">Elsewhere</a>
</body></html>`

func standardSite() map[string]resource {
	return map[string]resource{
		"/":              htmlPage(homeHTML),
		"/css/site.css":  {contentType: "text/css", body: "@import \"extra.css\";\nbody { background: url(../img/bg.png); }"},
		"/css/extra.css": {contentType: "text/css", body: "@import \"site.css\";\nh1 { color: red; }"},
		"/img/logo.png":  {contentType: "image/png", body: "logo"},
		"/img/bg.png":    {contentType: "image/png", body: "bg"},
		"/js/app.js":     {contentType: "application/javascript", body: "console.log(1)"},
		"/about.html": htmlPage(`<html><head><title>About</title></head><body>
<img src="/img/logo.png"><a id="home" href="/">Home</a><a id="deep" href="/deep.html">Deep</a></body></html>`),
		"/docs/":               htmlPage(`<html><head><title>Docs</title></head><body><a id="about" href="/about.html#team">About</a></body></html>`),
		"/deep.html":           htmlPage(`<html><body>deep</body></html>`),
		"/private/secret.html": htmlPage(`<html><body>secret</body></html>`),
		"/skip.html":           htmlPage(`<html><body>skip</body></html>`),
		"/robots.txt":          {contentType: "text/plain", body: "User-agent: *\nDisallow: /private/\n"},
	}
}

func testAppConfig(t *testing.T, outputDir string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.OutputDir = outputDir
	cfg.MaxRetries = 0
	_, err := cfg.Validate()
	require.NoError(t, err)
	return cfg
}

func runCrawl(t *testing.T, ctx context.Context, req models.CrawlRequest, opts Options) models.CrawlResult {
	t.Helper()
	if opts.App.OutputDir == "" {
		opts.App = testAppConfig(t, req.OutputDir)
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	c, err := New(req, opts)
	require.NoError(t, err)
	return c.Crawl(ctx)
}

func readSiteFile(t *testing.T, siteDir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(siteDir, filepath.FromSlash(rel)))
	require.NoError(t, err, "reading %s", rel)
	return string(data)
}

func parseSaved(t *testing.T, siteDir, rel string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(readSiteFile(t, siteDir, rel)))
	require.NoError(t, err)
	return doc
}

var cssRefPattern = regexp.MustCompile(`(?:url\('|@import ')([^']+)'`)

func TestCrawl_PageMode(t *testing.T) {
	site := newTestSite(t, standardSite())
	outDir := t.TempDir()
	collector := metrics.New(false)

	req := models.NewCrawlRequest(site.URL+"/", outDir)
	result := runCrawl(t, context.Background(), req, Options{Metrics: collector})

	require.True(t, result.Succeeded(), "crawl failed: %s", result.Message)
	assert.Equal(t, models.StateDone, result.State)
	assert.Equal(t, 5, result.AssetsDownloaded, "site.css, extra.css, bg.png, logo.png, app.js")
	assert.Equal(t, 1, result.AssetsFailed)
	assert.Equal(t, 1, result.PagesDownloaded)
	assert.NotEmpty(t, result.CrawlID)
	assert.True(t, strings.HasPrefix(result.SavedTo, outDir))

	doc := parseSaved(t, result.SavedTo, "index.html")

	logo := doc.Find("#logo").AttrOr("src", "")
	assert.True(t, strings.HasPrefix(logo, "images/"), "logo rewritten, got %q", logo)
	assert.Equal(t, "logo", readSiteFile(t, result.SavedTo, logo))
	assert.Equal(t, "/img/missing.png", doc.Find("#missing").AttrOr("src", ""), "failed asset keeps its URL")
	assert.True(t, strings.HasPrefix(doc.Find("script").AttrOr("src", ""), "js/"))

	// Page mode leaves navigation alone and never fetches other pages
	assert.Equal(t, "/about.html", doc.Find("#about").AttrOr("href", ""))
	assert.Equal(t, "https://elsewhere.example/", doc.Find("#out").AttrOr("href", ""))
	assert.Zero(t, site.Hits("/about.html"))
	assert.Zero(t, site.Hits("/robots.txt"))

	// The stylesheet and its import cycle are localized relative to css/
	cssPath := doc.Find("link[rel=stylesheet]").AttrOr("href", "")
	require.True(t, strings.HasPrefix(cssPath, "css/"), "stylesheet rewritten, got %q", cssPath)
	css := readSiteFile(t, result.SavedTo, cssPath)
	refs := cssRefPattern.FindAllStringSubmatch(css, -1)
	require.Len(t, refs, 2, "import and background in %q", css)
	for _, m := range refs {
		target := path.Join(path.Dir(cssPath), m[1])
		assert.FileExists(t, filepath.Join(result.SavedTo, filepath.FromSlash(target)))
	}
	assert.Contains(t, css, "url('../images/")

	for _, p := range []string{"/", "/css/site.css", "/css/extra.css", "/img/logo.png", "/img/bg.png", "/js/app.js"} {
		assert.Equal(t, 1, site.Hits(p), "hits for %s", p)
	}

	assert.FileExists(t, filepath.Join(result.SavedTo, config.DefaultOutputMappingFilename))
	var meta models.CrawlMetadata
	require.NoError(t, yaml.Unmarshal([]byte(readSiteFile(t, result.SavedTo, config.DefaultMetadataYAMLFilename)), &meta))
	assert.Equal(t, result.CrawlID, meta.CrawlID)
	require.Len(t, meta.Pages, 1)
	assert.Equal(t, "Home", meta.Pages[0].Title)
	assert.Equal(t, 3, meta.Pages[0].AssetCount, "site.css, app.js and logo.png; the missing image is not counted")

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.CrawlsTotal.WithLabelValues("success", "none")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.AssetsDownloaded))
}

func TestCrawl_RootFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantText string
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }, "HTTP 404: Not Found"},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }, "HTTP 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			t.Cleanup(server.Close)
			outDir := t.TempDir()

			result := runCrawl(t, context.Background(), models.NewCrawlRequest(server.URL+"/", outDir), Options{})

			assert.Equal(t, models.StatusError, result.Status)
			assert.Equal(t, models.StateFailed, result.State)
			assert.Contains(t, result.Message, tt.wantText)
			assert.True(t, strings.HasPrefix(result.ErrorType, "Root_"), "error type %q", result.ErrorType)
			assert.Empty(t, result.SavedTo)

			entries, err := os.ReadDir(outDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no site directory on root failure")
		})
	}
}

func TestCrawl_RootUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	addr := server.URL
	server.Close()
	outDir := t.TempDir()

	result := runCrawl(t, context.Background(), models.NewCrawlRequest(addr+"/", outDir), Options{})

	assert.Equal(t, models.StatusError, result.Status)
	assert.NotEmpty(t, result.Message)
	entries, _ := os.ReadDir(outDir)
	assert.Empty(t, entries)
}

func TestCrawl_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"relative", "/just/a/path"},
		{"unsupported scheme", "ftp://example.com/file"},
		{"garbage", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outDir := t.TempDir()
			result := runCrawl(t, context.Background(), models.NewCrawlRequest(tt.url, outDir), Options{})

			assert.Equal(t, models.StatusError, result.Status)
			assert.Equal(t, "Input_Invalid", result.ErrorType)
			assert.NotEmpty(t, result.Message)
			entries, _ := os.ReadDir(outDir)
			assert.Empty(t, entries)
		})
	}
}

func TestCrawl_WithoutAssetsSavesOriginal(t *testing.T) {
	site := newTestSite(t, standardSite())
	req := models.NewCrawlRequest(site.URL+"/", t.TempDir())
	req.IncludeAssets = false

	result := runCrawl(t, context.Background(), req, Options{})

	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, homeHTML, readSiteFile(t, result.SavedTo, "index.html"))
	assert.Zero(t, result.AssetsDownloaded)
	assert.Zero(t, site.Hits("/img/logo.png"))
	assert.NoDirExists(t, filepath.Join(result.SavedTo, "images"))
}

func TestCrawl_WithoutMedia(t *testing.T) {
	site := newTestSite(t, standardSite())
	req := models.NewCrawlRequest(site.URL+"/", t.TempDir())
	req.IncludeMedia = false

	result := runCrawl(t, context.Background(), req, Options{})

	require.True(t, result.Succeeded(), result.Message)
	assert.Zero(t, site.Hits("/img/logo.png"))
	assert.Zero(t, site.Hits("/img/bg.png"))
	assert.Equal(t, 3, result.AssetsDownloaded, "two stylesheets and the script")
	doc := parseSaved(t, result.SavedTo, "index.html")
	assert.Equal(t, "/img/logo.png", doc.Find("#logo").AttrOr("src", ""))
}

func TestCrawl_SiteMode(t *testing.T) {
	site := newTestSite(t, standardSite())
	req := models.NewCrawlRequest(site.URL+"/", t.TempDir())
	req.Mode = models.ModeSite
	req.MaxDepth = 1

	result := runCrawl(t, context.Background(), req, Options{
		Site: config.SiteConfig{ExcludePatterns: []string{`/skip\.html$`}},
	})

	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, 3, result.PagesDownloaded, "home, about and docs")

	home := parseSaved(t, result.SavedTo, "index.html")
	assert.Equal(t, "about.html", home.Find("#about").AttrOr("href", ""))
	assert.Equal(t, "docs.html", home.Find("#docs").AttrOr("href", ""))
	assert.Equal(t, "/private/secret.html", home.Find("#secret").AttrOr("href", ""), "robots-disallowed page is not linked locally")
	assert.Equal(t, "/skip.html", home.Find("#skip").AttrOr("href", ""), "excluded page is not linked locally")
	assert.Equal(t, "https://elsewhere.example/", home.Find("#out").AttrOr("href", ""))

	about := parseSaved(t, result.SavedTo, "about.html")
	assert.Equal(t, "index.html", about.Find("#home").AttrOr("href", ""))
	assert.Equal(t, "/deep.html", about.Find("#deep").AttrOr("href", ""), "pages beyond max depth stay remote")
	assert.True(t, strings.HasPrefix(about.Find("img").AttrOr("src", ""), "images/"))

	docs := parseSaved(t, result.SavedTo, "docs.html")
	assert.Equal(t, "about.html#team", docs.Find("#about").AttrOr("href", ""))

	assert.Equal(t, 1, site.Hits("/img/logo.png"), "shared asset fetched once")
	assert.Equal(t, 1, site.Hits("/about.html"))
	assert.Equal(t, 1, site.Hits("/docs/"))
	assert.Equal(t, 1, site.Hits("/robots.txt"))
	assert.Zero(t, site.Hits("/deep.html"))
	assert.Zero(t, site.Hits("/private/secret.html"))
	assert.Zero(t, site.Hits("/skip.html"))
}

func TestCrawl_SiteModeDepthZero(t *testing.T) {
	site := newTestSite(t, standardSite())
	req := models.NewCrawlRequest(site.URL+"/", t.TempDir())
	req.Mode = models.ModeSite
	req.MaxDepth = 0

	result := runCrawl(t, context.Background(), req, Options{})

	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, 1, result.PagesDownloaded)
	assert.Zero(t, site.Hits("/about.html"))
	assert.Equal(t, 5, result.AssetsDownloaded)
}

func TestCrawl_ChildPageFailureIsIsolated(t *testing.T) {
	resources := standardSite()
	delete(resources, "/about.html")
	site := newTestSite(t, resources)
	req := models.NewCrawlRequest(site.URL+"/", t.TempDir())
	req.Mode = models.ModeSite
	req.MaxDepth = 1

	result := runCrawl(t, context.Background(), req, Options{
		Site: config.SiteConfig{ExcludePatterns: []string{`/skip\.html$`}},
	})

	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, 2, result.PagesDownloaded, "home and docs")
	home := parseSaved(t, result.SavedTo, "index.html")
	assert.Equal(t, "/about.html", home.Find("#about").AttrOr("href", ""), "failed page keeps its URL")
	assert.NoFileExists(t, filepath.Join(result.SavedTo, "about.html"))
}

func TestCrawl_AssetNetworkFailureIsIsolated(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadCSS := dead.URL + "/dead.css"
	dead.Close()

	site := newTestSite(t, map[string]resource{
		"/": htmlPage(`<html><head><link id="dead" rel="stylesheet" href="` + deadCSS + `"></head>
<body><img id="ok" src="/ok.png"></body></html>`),
		"/ok.png": {contentType: "image/png", body: "ok"},
	})

	result := runCrawl(t, context.Background(), models.NewCrawlRequest(site.URL+"/", t.TempDir()), Options{})

	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, 1, result.AssetsDownloaded)
	assert.Equal(t, 1, result.AssetsFailed)

	doc := parseSaved(t, result.SavedTo, "index.html")
	assert.Equal(t, deadCSS, doc.Find("#dead").AttrOr("href", ""), "unreachable stylesheet keeps its URL")
	okSrc := doc.Find("#ok").AttrOr("src", "")
	assert.Equal(t, "ok", readSiteFile(t, result.SavedTo, okSrc))

	var meta models.CrawlMetadata
	require.NoError(t, yaml.Unmarshal([]byte(readSiteFile(t, result.SavedTo, config.DefaultMetadataYAMLFilename)), &meta))
	require.Len(t, meta.Pages, 1)
	assert.Equal(t, 1, meta.Pages[0].AssetCount)
}

// Every rewritten reference must resolve, as a URL relative to its file, to a saved file
func TestCrawl_RewrittenReferencesResolveOnDisk(t *testing.T) {
	site := newTestSite(t, map[string]resource{
		"/": htmlPage(`<html><head><link rel="stylesheet" href="/style%23v2.css"></head><body>
<img src="/a%23b.png"><img src="/100%25.png"><img src="/my%20pic.png" srcset="/it%27s.png 2x">
</body></html>`),
		"/style#v2.css": {contentType: "text/css", body: `body { background: url("/bg%25.png"); }`},
		"/a#b.png":      {contentType: "image/png", body: "hash"},
		"/100%.png":     {contentType: "image/png", body: "percent"},
		"/my pic.png":   {contentType: "image/png", body: "space"},
		"/it's.png":     {contentType: "image/png", body: "quote"},
		"/bg%.png":      {contentType: "image/png", body: "bg"},
	})

	result := runCrawl(t, context.Background(), models.NewCrawlRequest(site.URL+"/", t.TempDir()), Options{})
	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, 6, result.AssetsDownloaded)
	assert.Zero(t, result.AssetsFailed)

	resolve := func(fromDir, ref string) string {
		t.Helper()
		u, err := url.Parse(ref)
		require.NoError(t, err, "reference %q is not a valid URL", ref)
		require.Empty(t, u.Scheme, "reference %q is not local", ref)
		return path.Join(fromDir, u.Path)
	}

	doc := parseSaved(t, result.SavedTo, "index.html")
	var refs []string
	doc.Find("img[src], link[href]").Each(func(_ int, s *goquery.Selection) {
		refs = append(refs, s.AttrOr("src", s.AttrOr("href", "")))
	})
	doc.Find("img[srcset]").Each(func(_ int, s *goquery.Selection) {
		refs = append(refs, strings.Fields(s.AttrOr("srcset", ""))[0])
	})
	require.Len(t, refs, 5)
	for _, ref := range refs {
		assert.FileExists(t, filepath.Join(result.SavedTo, filepath.FromSlash(resolve("", ref))), "reference %q", ref)
	}

	cssPath := resolve("", doc.Find("link[rel=stylesheet]").AttrOr("href", ""))
	css := readSiteFile(t, result.SavedTo, cssPath)
	matches := cssRefPattern.FindAllStringSubmatch(css, -1)
	require.Len(t, matches, 1, "background in %q", css)
	bg := resolve(path.Dir(cssPath), matches[0][1])
	assert.Equal(t, "bg", readSiteFile(t, result.SavedTo, bg))
}

func TestCrawl_CancelledBeforeStart(t *testing.T) {
	site := newTestSite(t, standardSite())
	outDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := runCrawl(t, ctx, models.NewCrawlRequest(site.URL+"/", outDir), Options{})

	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, context.Canceled.Error(), result.Message)
	assert.Zero(t, site.Hits("/"))
	entries, _ := os.ReadDir(outDir)
	assert.Empty(t, entries)
}

func TestCrawl_ConcurrencyBound(t *testing.T) {
	const limit = 3
	var current, peak atomic.Int32
	var body strings.Builder
	body.WriteString("<html><body>")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&body, `<img src="/img/%d.png">`, i)
	}
	body.WriteString("</body></html>")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			fmt.Fprint(w, body.String())
			return
		}
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "png")
	}))
	t.Cleanup(server.Close)

	req := models.NewCrawlRequest(server.URL+"/", t.TempDir())
	req.ConcurrentDownloads = limit
	result := runCrawl(t, context.Background(), req, Options{})

	require.True(t, result.Succeeded(), result.Message)
	assert.Equal(t, 12, result.AssetsDownloaded)
	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestCrawl_RerunKeepsExistingFiles(t *testing.T) {
	site := newTestSite(t, standardSite())
	outDir := t.TempDir()
	req := models.NewCrawlRequest(site.URL+"/", outDir)

	first := runCrawl(t, context.Background(), req, Options{})
	require.True(t, first.Succeeded(), first.Message)
	firstLogo := parseSaved(t, first.SavedTo, "index.html").Find("#logo").AttrOr("src", "")

	second := runCrawl(t, context.Background(), req, Options{})
	require.True(t, second.Succeeded(), second.Message)
	secondLogo := parseSaved(t, second.SavedTo, "index.html").Find("#logo").AttrOr("src", "")

	assert.Equal(t, first.SavedTo, second.SavedTo)
	assert.NotEqual(t, firstLogo, secondLogo, "existing files get a collision suffix")
	assert.True(t, strings.HasSuffix(secondLogo, "_1.png"), "got %q", secondLogo)
	assert.FileExists(t, filepath.Join(second.SavedTo, filepath.FromSlash(firstLogo)))

	overwrite := testAppConfig(t, outDir)
	overwrite.OverwriteExisting = true
	third := runCrawl(t, context.Background(), req, Options{App: overwrite})
	require.True(t, third.Succeeded(), third.Message)
	assert.Equal(t, firstLogo, parseSaved(t, third.SavedTo, "index.html").Find("#logo").AttrOr("src", ""))
}

func TestNew_RejectsBadExcludePattern(t *testing.T) {
	_, err := New(models.NewCrawlRequest("https://example.com/", t.TempDir()), Options{
		App:  config.Default(),
		Site: config.SiteConfig{ExcludePatterns: []string{"("}},
	})
	require.Error(t, err)
}
