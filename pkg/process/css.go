package process

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/parse"
	"github.com/Sriram-PR/site-downloader/pkg/storage"
)

var (
	cssURLPattern    = regexp.MustCompile(`url\(\s*['"]?([^'")]*?)['"]?\s*\)`)
	cssImportPattern = regexp.MustCompile(`@import\s+['"]([^'"]+)['"]`)
)

// cssRef is one rewritable url() or @import target inside a CSS text
type cssRef struct {
	start, end int // Byte range of the whole match
	ref        models.ResourceReference
	value      string // Replacement, relative to the stylesheet's directory
	isImport   bool
}

// CSSPlan is the set of rewrites decided for one CSS text
type CSSPlan struct {
	text  string
	edits []cssRef
	Refs  []models.ResourceReference // Distinct, in source order
}

// PlanCSS discovers url() and @import references in cssText, resolves them against base and
// maps them to local paths relative to fromDir (the stylesheet's directory below the site root,
// "" for markup at the root).
func (r *Rewriter) PlanCSS(cssText string, base *url.URL, fromDir string) *CSSPlan {
	return r.planCSS(cssText, base, fromDir, models.RefCSSURL)
}

func (r *Rewriter) planCSS(cssText string, base *url.URL, fromDir string, kind models.ReferenceKind) *CSSPlan {
	plan := &CSSPlan{text: cssText}

	add := func(start, end int, raw string, isImport bool) {
		raw = strings.TrimSpace(raw)
		abs, ok := parse.Resolve(base, raw)
		if !ok {
			return
		}
		absStr := abs.String()
		if !parse.IsDownloadable(absStr) || !parse.IsStaticAsset(absStr) {
			r.log.Debugf("Leaving CSS reference unrewritten: %s", raw)
			return
		}

		category := models.CategoryStylesheet
		if !isImport {
			ext, _ := parse.InferExtension(absStr)
			category = parse.CategoryForExtension(ext)
		}
		if category == models.CategoryImage && !r.includeMedia {
			return
		}
		local := r.mapper.LocalPath(abs, category)
		rel, err := relativeTo(fromDir, local)
		if err != nil {
			r.log.Debugf("Skipping CSS reference %s: %v", raw, err)
			return
		}

		ref := models.ResourceReference{URL: absStr, Kind: kind, Category: category, LocalPath: local}
		plan.edits = append(plan.edits, cssRef{start: start, end: end, ref: ref, value: localRef(rel, ""), isImport: isImport})
	}

	for _, m := range cssURLPattern.FindAllStringSubmatchIndex(cssText, -1) {
		add(m[0], m[1], cssText[m[2]:m[3]], isImportURL(cssText, m[0]))
	}
	for _, m := range cssImportPattern.FindAllStringSubmatchIndex(cssText, -1) {
		add(m[0], m[1], cssText[m[2]:m[3]], true)
	}

	// The two patterns never overlap; order edits by position for Apply
	sort.SliceStable(plan.edits, func(i, j int) bool { return plan.edits[i].start < plan.edits[j].start })
	plan.Refs = distinctRefs(plan.edits)
	return plan
}

// isImportURL reports whether the url() at offset belongs to an @import rule
func isImportURL(text string, offset int) bool {
	prefix := strings.TrimRight(text[:offset], " \t\r\n")
	return strings.HasSuffix(strings.ToLower(prefix), "@import")
}

func distinctRefs(edits []cssRef) []models.ResourceReference {
	seen := make(map[string]struct{}, len(edits))
	var refs []models.ResourceReference
	for _, e := range edits {
		if _, dup := seen[e.ref.URL]; dup {
			continue
		}
		seen[e.ref.URL] = struct{}{}
		refs = append(refs, e.ref)
	}
	return refs
}

// Apply returns the CSS text with every edit whose reference satisfies keep rewritten.
// A nil keep applies all edits.
func (p *CSSPlan) Apply(keep func(models.ResourceReference) bool) string {
	return p.apply(keep, false)
}

// apply is Apply; with absolute set, edits failing keep point at the absolute URL instead of
// keeping their original text.
func (p *CSSPlan) apply(keep func(models.ResourceReference) bool, absolute bool) string {
	if p == nil {
		return ""
	}
	if len(p.edits) == 0 {
		return p.text
	}
	var b strings.Builder
	b.Grow(len(p.text))
	last := 0
	for _, e := range p.edits {
		value := e.value
		if keep != nil && !keep(e.ref) {
			if !absolute {
				continue
			}
			value = e.ref.URL
		}
		b.WriteString(p.text[last:e.start])
		if e.isImport && !strings.HasPrefix(strings.ToLower(p.text[e.start:e.end]), "url(") {
			fmt.Fprintf(&b, "@import '%s'", value)
		} else {
			fmt.Fprintf(&b, "url('%s')", value)
		}
		last = e.end
	}
	b.WriteString(p.text[last:])
	return b.String()
}

// Len returns the number of planned edits (one reference may be edited more than once)
func (p *CSSPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.edits)
}

// RewriteCSS plans and applies every rewrite for a standalone stylesheet stored under css/
func RewriteCSS(cssText string, base *url.URL, mapper *storage.PathMapper, log *logrus.Entry) (string, []string) {
	r := NewRewriter(mapper, RewriterOptions{Origin: base, IncludeMedia: true}, log)
	plan := r.PlanCSS(cssText, base, models.CategoryStylesheet.Dir())
	urls := make([]string, 0, len(plan.Refs))
	for _, ref := range plan.Refs {
		urls = append(urls, ref.URL)
	}
	return plan.Apply(nil), urls
}

// relativeTo expresses target (relative to the site root) relative to fromDir
func relativeTo(fromDir, target string) (string, error) {
	if fromDir == "" || fromDir == "." {
		return target, nil
	}
	rel, err := filepath.Rel(filepath.FromSlash(fromDir), filepath.FromSlash(target))
	if err != nil {
		return "", err
	}
	return path.Clean(filepath.ToSlash(rel)), nil
}
