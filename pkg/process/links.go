package process

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/site-downloader/pkg/parse"
)

// pageExtensions are the path suffixes that identify a navigable page; extension-less paths count too
var pageExtensions = map[string]struct{}{".html": {}, ".htm": {}, ".xhtml": {}, ".shtml": {}}

// pageTarget resolves href against base and decides whether it is a same-origin page worth mirroring.
// The returned URL has its fragment stripped; the fragment is returned separately.
func pageTarget(base *url.URL, href string, origin *url.URL) (*url.URL, string, bool) {
	abs, ok := parse.Resolve(base, href)
	if !ok || origin == nil || !parse.IsSameOrigin(abs, origin) {
		return nil, "", false
	}
	fragment := abs.Fragment
	target := *abs
	target.Fragment = ""
	target.RawFragment = ""

	targetStr := target.String()
	if !parse.IsValidURL(targetStr) || !parse.IsDownloadable(targetStr) || !parse.IsStaticAsset(targetStr) {
		return nil, "", false
	}
	if ext := strings.ToLower(path.Ext(target.Path)); ext != "" {
		if _, ok := pageExtensions[ext]; !ok {
			return nil, "", false
		}
	}
	return &target, fragment, true
}

// ExtractPageLinks collects the distinct same-origin page links of doc in document order.
// Links are resolved against base, fragments are dropped, and non-page targets are skipped.
func ExtractPageLinks(doc *goquery.Document, base *url.URL) []*url.URL {
	if doc == nil || base == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		target, _, ok := pageTarget(base, href, base)
		if !ok {
			return
		}
		key := parse.NormalizeURL(target)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		links = append(links, target)
	})
	return links
}
