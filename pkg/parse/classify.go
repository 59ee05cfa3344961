package parse

import (
	"mime"
	"net"
	"net/url"
	"path"
	"strings"

	"github.com/Sriram-PR/site-downloader/pkg/models"
)

// deniedExtensions are executable and installer formats that are never fetched
var deniedExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".bat": {}, ".sh": {}, ".app": {},
	".dmg": {}, ".pkg": {}, ".deb": {}, ".rpm": {}, ".msi": {},
}

// serverScriptMarkers mark dynamic endpoints that are left unrewritten
var serverScriptMarkers = []string{".php", ".asp", ".jsp"}

// preferredExtensions resolves content types whose mime.ExtensionsByType answer is ambiguous or platform-dependent
var preferredExtensions = map[string]string{
	"text/html":        ".html",
	"text/css":         ".css",
	"text/javascript":  ".js",
	"application/json": ".json",
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
	"image/svg+xml":    ".svg",
	"image/x-icon":     ".ico",
	"image/avif":       ".avif",
	"font/woff":        ".woff",
	"font/woff2":       ".woff2",
	"font/ttf":         ".ttf",
	"font/otf":         ".otf",

	"application/javascript":        ".js",
	"application/x-javascript":      ".js",
	"image/vnd.microsoft.icon":      ".ico",
	"application/vnd.ms-fontobject": ".eot",
	"application/octet-stream":      ".bin",
}

var fontExtensions = map[string]struct{}{".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {}}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".ico": {}, ".bmp": {}, ".avif": {}, ".tif": {}, ".tiff": {},
}

// IsValidURL reports whether raw parses into an absolute URL with both scheme and host
func IsValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// IsDownloadable reports whether raw is an http(s) URL whose extension is not denylisted
func IsDownloadable(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	if ext, ok := InferExtension(raw); ok {
		if _, denied := deniedExtensions[ext]; denied {
			return false
		}
	}
	return true
}

// InferExtension returns the lowercased extension for raw, including the leading dot.
// The literal path suffix wins; data: URLs fall back to their declared media type.
func InferExtension(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if len(raw) >= 5 && strings.EqualFold(raw[:5], "data:") {
		mediaType := raw[5:]
		if i := strings.IndexAny(mediaType, ";,"); i >= 0 {
			mediaType = mediaType[:i]
		}
		if ext := ExtensionForContentType(mediaType); ext != "" {
			return ext, true
		}
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || ext == "." {
		return "", false
	}
	return ext, true
}

// ExtensionForContentType guesses a file extension for a Content-Type value, or "" when unknown
func ExtensionForContentType(contentType string) string {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType == "" {
		return ""
	}
	if ext, ok := preferredExtensions[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// IsStaticAsset reports whether raw looks like a plain static file: no query string,
// no fragment, and no server-side script extension anywhere in the path
func IsStaticAsset(raw string) bool {
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, "?#") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	lowerPath := strings.ToLower(u.Path)
	for _, marker := range serverScriptMarkers {
		if strings.Contains(lowerPath, marker) {
			return false
		}
	}
	return true
}

// IsSameOrigin compares scheme and host, ignoring case and default ports
func IsSameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return strings.EqualFold(a.Scheme, b.Scheme) && originHost(a) == originHost(b)
}

func originHost(u *url.URL) string {
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		scheme := strings.ToLower(u.Scheme)
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			return h
		}
	}
	return host
}

// CategoryForExtension buckets a url() target found in CSS by its extension
func CategoryForExtension(ext string) models.Category {
	ext = strings.ToLower(ext)
	if _, ok := fontExtensions[ext]; ok {
		return models.CategoryFont
	}
	if _, ok := imageExtensions[ext]; ok {
		return models.CategoryImage
	}
	switch ext {
	case ".css":
		return models.CategoryStylesheet
	case ".js", ".mjs":
		return models.CategoryScript
	}
	return models.CategoryAsset
}

// DefaultContentType is the content type assumed for an extension-less reference of the category
func DefaultContentType(c models.Category) string {
	switch c {
	case models.CategoryStylesheet:
		return "text/css"
	case models.CategoryScript:
		return "text/javascript"
	case models.CategoryPage:
		return "text/html"
	}
	return ""
}
