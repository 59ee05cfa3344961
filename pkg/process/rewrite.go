package process

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/parse"
	"github.com/Sriram-PR/site-downloader/pkg/storage"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// LinkMode controls how a[href] page links are treated when planning a page
type LinkMode int

const (
	LinksIgnore LinkMode = iota // Page links are left untouched
	LinksMapped                 // Only links to pages that already have a local path are rewritten
	LinksFollow                 // Same-origin page links get a local path and are reported for fetching
)

// RewriterOptions configures a Rewriter
type RewriterOptions struct {
	Origin       *url.URL // Scope for page links; nil disables page link handling
	IncludeMedia bool     // Images and icons are localized only when set
}

// Rewriter decides local paths for the references found in pages and stylesheets of one crawl
type Rewriter struct {
	mapper       *storage.PathMapper
	origin       *url.URL
	includeMedia bool
	log          *logrus.Entry
}

// NewRewriter creates a Rewriter that allocates paths from mapper
func NewRewriter(mapper *storage.PathMapper, opts RewriterOptions, log *logrus.Entry) *Rewriter {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Rewriter{
		mapper:       mapper,
		origin:       opts.Origin,
		includeMedia: opts.IncludeMedia,
		log:          log.WithField("component", "rewriter"),
	}
}

type attrEdit struct {
	sel      *goquery.Selection
	attr     string
	original string
	value    string
	ref      models.ResourceReference
}

// styleEdit covers a <style> block (attr == "") or a style attribute
type styleEdit struct {
	sel  *goquery.Selection
	attr string
	plan *CSSPlan
}

type srcsetCandidate struct {
	raw        string
	descriptor string
	value      string
	ref        *models.ResourceReference
}

type srcsetEdit struct {
	sel        *goquery.Selection
	candidates []srcsetCandidate
}

// HTMLPlan holds the rewrites decided for one document before any asset is fetched
type HTMLPlan struct {
	doc     *goquery.Document
	baseSel *goquery.Selection
	attrs   []attrEdit
	styles  []styleEdit
	srcsets []srcsetEdit

	Refs  []models.ResourceReference // Distinct asset references, in document order
	Pages []models.ResourceReference // Page links planned for fetching (LinksFollow only)
	Title string
	Base  *url.URL // Effective base after <base href>
}

// PlanHTML plans asset rewrites for htmlText. Page links are left alone.
func (r *Rewriter) PlanHTML(htmlText string, base *url.URL) (*HTMLPlan, error) {
	return r.PlanPage(htmlText, base, LinksIgnore)
}

// PlanPage plans asset rewrites and, depending on mode, page link rewrites for htmlText
func (r *Rewriter) PlanPage(htmlText string, base *url.URL, mode LinkMode) (*HTMLPlan, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	if err != nil {
		return nil, fmt.Errorf("%w: parse HTML from %s: %w", utils.ErrParsing, base, err)
	}

	plan := &HTMLPlan{doc: doc, Base: base}
	plan.Title = strings.TrimSpace(doc.Find("title").First().Text())

	if baseSel := doc.Find("base[href]").First(); baseSel.Length() > 0 {
		href, _ := baseSel.Attr("href")
		if resolved, ok := parse.Resolve(base, href); ok {
			plan.Base = resolved
		}
		plan.baseSel = baseSel
	}

	seenRefs := make(map[string]struct{})
	seenPages := make(map[string]struct{})
	addRef := func(ref models.ResourceReference) {
		if _, dup := seenRefs[ref.URL]; !dup {
			seenRefs[ref.URL] = struct{}{}
			plan.Refs = append(plan.Refs, ref)
		}
	}

	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "img":
			if r.includeMedia {
				r.planAttr(plan, s, "src", models.RefImageSource, models.CategoryImage, addRef)
				r.planSrcset(plan, s, addRef)
			}
		case "source":
			if r.includeMedia {
				r.planSrcset(plan, s, addRef)
			}
		case "link":
			rel := strings.Fields(strings.ToLower(s.AttrOr("rel", "")))
			switch {
			case containsToken(rel, "stylesheet"):
				r.planAttr(plan, s, "href", models.RefStylesheetHref, models.CategoryStylesheet, addRef)
			case r.includeMedia && (containsToken(rel, "icon") || containsToken(rel, "apple-touch-icon")):
				r.planAttr(plan, s, "href", models.RefIconHref, models.CategoryImage, addRef)
			}
		case "script":
			r.planAttr(plan, s, "src", models.RefScriptSource, models.CategoryScript, addRef)
		case "style":
			text := s.Text()
			if cssPlan := r.planCSS(text, plan.Base, "", models.RefInlineStyleURL); cssPlan.Len() > 0 {
				plan.styles = append(plan.styles, styleEdit{sel: s, plan: cssPlan})
				for _, ref := range cssPlan.Refs {
					addRef(ref)
				}
			}
		case "a":
			if mode != LinksIgnore {
				r.planPageLink(plan, s, mode, seenPages)
			}
		}

		if style, ok := s.Attr("style"); ok && strings.Contains(style, "url(") {
			if cssPlan := r.planCSS(style, plan.Base, "", models.RefStyleAttrURL); cssPlan.Len() > 0 {
				plan.styles = append(plan.styles, styleEdit{sel: s, attr: "style", plan: cssPlan})
				for _, ref := range cssPlan.Refs {
					addRef(ref)
				}
			}
		}
	})

	r.log.Debugf("Planned %d asset reference(s) and %d page link(s) for %s", len(plan.Refs), len(plan.Pages), base)
	return plan, nil
}

func containsToken(tokens []string, want string) bool {
	for _, t := range tokens {
		if t == want {
			return true
		}
	}
	return false
}

// assetTarget resolves raw and applies the static-asset policy
func (r *Rewriter) assetTarget(base *url.URL, raw string) (*url.URL, bool) {
	abs, ok := parse.Resolve(base, raw)
	if !ok {
		return nil, false
	}
	absStr := abs.String()
	if !parse.IsDownloadable(absStr) || !parse.IsStaticAsset(absStr) {
		r.log.Debugf("Leaving reference unrewritten (not a static asset): %s", raw)
		return nil, false
	}
	return abs, true
}

// localRef turns a slash-separated local path into a relative URL reference.
// File name characters that are special in URLs, like '#' and '%', are percent-encoded.
func localRef(localPath, fragment string) string {
	return (&url.URL{Path: localPath, Fragment: fragment}).String()
}

func (r *Rewriter) planAttr(plan *HTMLPlan, s *goquery.Selection, attr string, kind models.ReferenceKind, category models.Category, addRef func(models.ResourceReference)) {
	raw, ok := s.Attr(attr)
	if !ok {
		return
	}
	abs, ok := r.assetTarget(plan.Base, raw)
	if !ok {
		return
	}
	local := r.mapper.LocalPath(abs, category)
	ref := models.ResourceReference{URL: abs.String(), Kind: kind, Category: category, LocalPath: local}
	plan.attrs = append(plan.attrs, attrEdit{sel: s, attr: attr, original: raw, value: localRef(local, ""), ref: ref})
	addRef(ref)
}

func (r *Rewriter) planSrcset(plan *HTMLPlan, s *goquery.Selection, addRef func(models.ResourceReference)) {
	srcset, ok := s.Attr("srcset")
	if !ok || strings.TrimSpace(srcset) == "" {
		return
	}
	edit := srcsetEdit{sel: s}
	planned := false
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		c := srcsetCandidate{raw: fields[0], descriptor: strings.Join(fields[1:], " ")}
		if abs, ok := r.assetTarget(plan.Base, c.raw); ok {
			local := r.mapper.LocalPath(abs, models.CategoryImage)
			ref := models.ResourceReference{URL: abs.String(), Kind: models.RefImageSource, Category: models.CategoryImage, LocalPath: local}
			c.value = localRef(local, "")
			c.ref = &ref
			addRef(ref)
			planned = true
		}
		edit.candidates = append(edit.candidates, c)
	}
	if planned {
		plan.srcsets = append(plan.srcsets, edit)
	}
}

func (r *Rewriter) planPageLink(plan *HTMLPlan, s *goquery.Selection, mode LinkMode, seen map[string]struct{}) {
	href, ok := s.Attr("href")
	if !ok {
		return
	}
	target, fragment, ok := pageTarget(plan.Base, href, r.origin)
	if !ok {
		return
	}

	var local string
	switch mode {
	case LinksFollow:
		local = r.mapper.LocalPath(target, models.CategoryPage)
	case LinksMapped:
		if local, ok = r.mapper.Lookup(target); !ok {
			return
		}
	default:
		return
	}

	value := localRef(local, fragment)
	ref := models.ResourceReference{URL: target.String(), Kind: models.RefPageLink, Category: models.CategoryPage, LocalPath: local}
	plan.attrs = append(plan.attrs, attrEdit{sel: s, attr: "href", original: href, value: value, ref: ref})

	if mode == LinksFollow {
		key := parse.NormalizeURL(target)
		if _, dup := seen[key]; !dup {
			seen[key] = struct{}{}
			plan.Pages = append(plan.Pages, ref)
		}
	}
}

// Apply writes the planned rewrites whose reference satisfies keep into the document and
// serializes it. References failing keep retain their original value. A nil keep applies all edits.
// Apply may be called more than once; each call starts from the original values.
// When a <base> element is dropped, references failing keep are written as absolute URLs.
func (p *HTMLPlan) Apply(keep func(models.ResourceReference) bool) (string, error) {
	if keep == nil {
		keep = func(models.ResourceReference) bool { return true }
	}
	// Local paths are relative to the saved file, so a remote <base> would break them
	dropBase := p.baseSel != nil && p.Len() > 0

	for _, e := range p.attrs {
		switch {
		case keep(e.ref):
			e.sel.SetAttr(e.attr, e.value)
		case dropBase:
			e.sel.SetAttr(e.attr, e.ref.URL)
		default:
			e.sel.SetAttr(e.attr, e.original)
		}
	}
	for _, e := range p.styles {
		text := e.plan.apply(keep, dropBase)
		if e.attr == "" {
			setRawText(e.sel, text)
		} else {
			e.sel.SetAttr(e.attr, text)
		}
	}
	for _, e := range p.srcsets {
		parts := make([]string, 0, len(e.candidates))
		for _, c := range e.candidates {
			u := c.raw
			switch {
			case c.ref != nil && keep(*c.ref):
				u = c.value
			case c.ref != nil && dropBase:
				u = c.ref.URL
			}
			parts = append(parts, strings.TrimSpace(u+" "+c.descriptor))
		}
		e.sel.SetAttr("srcset", strings.Join(parts, ", "))
	}

	if dropBase {
		p.baseSel.Remove()
	}

	out, err := p.doc.Html()
	if err != nil {
		return "", fmt.Errorf("%w: serialize HTML: %w", utils.ErrParsing, err)
	}
	return out, nil
}

// setRawText replaces the children of each node with one unescaped text node.
// Selection.SetText escapes its input, which corrupts raw-text elements like <style>.
func setRawText(s *goquery.Selection, text string) {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

// Len returns the number of planned edits
func (p *HTMLPlan) Len() int {
	return len(p.attrs) + len(p.styles) + len(p.srcsets)
}

// Document exposes the parsed document, e.g. for link extraction
func (p *HTMLPlan) Document() *goquery.Document {
	return p.doc
}

// ExtractAndRewrite plans and applies every asset rewrite for htmlText
func ExtractAndRewrite(htmlText string, base *url.URL, mapper *storage.PathMapper, log *logrus.Entry) (string, []models.ResourceReference, error) {
	r := NewRewriter(mapper, RewriterOptions{Origin: base, IncludeMedia: true}, log)
	plan, err := r.PlanHTML(htmlText, base)
	if err != nil {
		return "", nil, err
	}
	out, err := plan.Apply(nil)
	if err != nil {
		return "", nil, err
	}
	return out, plan.Refs, nil
}
