package storage

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/Sriram-PR/site-downloader/pkg/models"
	"github.com/Sriram-PR/site-downloader/pkg/parse"
	"github.com/Sriram-PR/site-downloader/pkg/utils"
)

// RootPageFile is the local name of the crawl's root page
const RootPageFile = "index.html"

// SiteDirName derives the site directory from the root URL: host plus path with separators replaced
func SiteDirName(root *url.URL) string {
	if root == nil {
		return utils.SanitizeFilename("")
	}
	return utils.SanitizeFilename(root.Host + strings.ReplaceAll(root.Path, "/", "_"))
}

// CandidatePath computes the unallocated local path for u in category c.
// Pages sit at the site root; every other category lives in its own subdirectory.
func CandidatePath(u *url.URL, c models.Category) string {
	if u == nil {
		return path.Join(c.Dir(), utils.SanitizeFilename(""))
	}
	segments := splitPath(u.Path)

	if c == models.CategoryPage {
		if len(segments) == 0 {
			return RootPageFile
		}
		name := strings.Join(segments, "_")
		switch strings.ToLower(path.Ext(name)) {
		case ".html", ".htm":
		default:
			name += ".html"
		}
		return utils.SanitizeFilename(name)
	}

	name := strings.Join(append([]string{u.Host}, segments...), "_")
	if _, ok := parse.InferExtension(u.String()); !ok {
		name += parse.ExtensionForContentType(parse.DefaultContentType(c))
	}
	return path.Join(c.Dir(), utils.SanitizeFilename(name))
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Mapping is one URL to local path assignment
type Mapping struct {
	URL      string
	Path     string
	Category models.Category
}

// PathMapper is the per-crawl URL to local path mapping. The same normalized URL always yields
// the same path, and distinct URLs never share one. Safe for concurrent use.
type PathMapper struct {
	mu        sync.Mutex
	byURL     map[string]Mapping
	allocated map[string]struct{} // Lowercased, so case-insensitive filesystems cannot merge two files
	exists    func(relPath string) bool
}

// NewPathMapper creates a mapper. exists, when non-nil, reports files already in the output tree.
func NewPathMapper(exists func(relPath string) bool) *PathMapper {
	return &PathMapper{
		byURL:     make(map[string]Mapping),
		allocated: make(map[string]struct{}),
		exists:    exists,
	}
}

// LocalPath returns the path for u, allocating one on first use. The first category seen for a URL wins.
func (m *PathMapper) LocalPath(u *url.URL, c models.Category) string {
	key := parse.NormalizeURL(u)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byURL[key]; ok {
		return existing.Path
	}
	p := m.uniqueLocked(CandidatePath(u, c))
	m.byURL[key] = Mapping{URL: u.String(), Path: p, Category: c}
	return p
}

// Lookup returns the path already allocated for u, if any
func (m *PathMapper) Lookup(u *url.URL) (string, bool) {
	key := parse.NormalizeURL(u)
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.byURL[key]
	return existing.Path, ok
}

// Reserve pins u to relPath without the collision check. Used for the root page,
// which always overwrites its index.html.
func (m *PathMapper) Reserve(u *url.URL, relPath string, c models.Category) {
	key := parse.NormalizeURL(u)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byURL[key] = Mapping{URL: u.String(), Path: relPath, Category: c}
	m.allocated[strings.ToLower(relPath)] = struct{}{}
}

// UniqueName allocates the first free variant of candidate: candidate itself, then
// stem_1.ext, stem_2.ext and so on. A name is taken when this mapper already handed it out
// or when it exists in the output tree.
func (m *PathMapper) UniqueName(candidate string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uniqueLocked(candidate)
}

func (m *PathMapper) uniqueLocked(candidate string) string {
	dir, file := path.Split(candidate)
	ext := path.Ext(file)
	stem := strings.TrimSuffix(file, ext)

	name := candidate
	for n := 1; m.taken(name); n++ {
		suffix := fmt.Sprintf("_%d", n)
		trimmed := utils.TruncateBytes(stem, utils.MaxFilenameLength-len(suffix)-len(ext))
		name = dir + trimmed + suffix + ext
	}
	m.allocated[strings.ToLower(name)] = struct{}{}
	return name
}

func (m *PathMapper) taken(name string) bool {
	if _, ok := m.allocated[strings.ToLower(name)]; ok {
		return true
	}
	return m.exists != nil && m.exists(name)
}

// Len returns the number of mapped URLs
func (m *PathMapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byURL)
}

// Mappings returns all URL assignments sorted by URL
func (m *PathMapper) Mappings() []Mapping {
	m.mu.Lock()
	out := make([]Mapping, 0, len(m.byURL))
	for _, mp := range m.byURL {
		out = append(out, mp)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}
