package parse

import (
	"net"
	"net/url"
	"strings"
)

// NormalizeURL returns the key a URL is tracked under within one crawl.
// Scheme and host are lowercased, default ports dropped, an empty path becomes "/",
// a trailing slash is removed from non-root paths, and query and fragment are discarded.
// The input is not modified.
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if host, port, err := net.SplitHostPort(n.Host); err == nil {
		if (n.Scheme == "http" && port == "80") || (n.Scheme == "https" && port == "443") {
			n.Host = host
		}
	}

	switch {
	case n.Path == "":
		n.Path = "/"
	case len(n.Path) > 1 && strings.HasSuffix(n.Path, "/"):
		n.Path = strings.TrimSuffix(n.Path, "/")
	}
	n.RawPath = ""
	n.Fragment = ""
	n.RawFragment = ""
	n.RawQuery = ""
	n.ForceQuery = false

	return n.String()
}

// ParseAndNormalize parses with url.ParseRequestURI and returns the normalized form alongside the parsed URL
func ParseAndNormalize(urlStr string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed), parsed, nil
}

// ignorablePrefixes are reference schemes that never point at something fetchable
var ignorablePrefixes = []string{"data:", "javascript:", "mailto:", "tel:", "about:", "blob:"}

// IsIgnorableRef reports whether a raw reference should be left alone entirely
func IsIgnorableRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return true
	}
	lower := strings.ToLower(ref)
	for _, p := range ignorablePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// Resolve joins ref against base. It returns false for ignorable refs, unparsable refs,
// and results that are not absolute http(s) URLs.
func Resolve(base *url.URL, ref string) (*url.URL, bool) {
	if base == nil || IsIgnorableRef(ref) {
		return nil, false
	}
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(parsed)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	if abs.Host == "" {
		return nil, false
	}
	return abs, true
}
