package scrape

import (
	"net/url"
	"path"
	"strings"
)

// DefaultExcludePaths skip sections that rarely name people or mailboxes
// and tend to be large. Press pages are the exception: they often carry a
// media contact.
var DefaultExcludePaths = []string{
	"/blog/*",
	"/news/*",
	"/press/*",
	"!/press/contact*",
	"/shop/*",
	"/cart/*",
	"/wp-content/*",
	"/*.pdf",
}

// PathMatcher rejects URLs whose path matches an exclusion glob. A pattern
// ending in "/*" also matches every deeper path under that directory. A
// pattern prefixed with "!" re-admits matching paths regardless of order.
type PathMatcher struct {
	exclude []string
	allow   []string
}

// NewPathMatcher lower-cases patterns; an empty list selects
// DefaultExcludePaths.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = DefaultExcludePaths
	}
	m := &PathMatcher{}
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if allow, ok := strings.CutPrefix(p, "!"); ok {
			if allow != "" {
				m.allow = append(m.allow, allow)
			}
			continue
		}
		if p != "" {
			m.exclude = append(m.exclude, p)
		}
	}
	return m
}

// Patterns returns the active patterns, exclusions first.
func (m *PathMatcher) Patterns() []string {
	out := make([]string, 0, len(m.exclude)+len(m.allow))
	out = append(out, m.exclude...)
	for _, a := range m.allow {
		out = append(out, "!"+a)
	}
	return out
}

// IsExcluded reports whether rawURL should be skipped. Unparseable URLs
// are always excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	return anyGlob(m.exclude, p) && !anyGlob(m.allow, p)
}

func anyGlob(patterns []string, p string) bool {
	for _, pattern := range patterns {
		if ok, _ := path.Match(pattern, p); ok {
			return true
		}
		if dir, ok := strings.CutSuffix(pattern, "/*"); ok && (p == dir || strings.HasPrefix(p, dir+"/")) {
			return true
		}
	}
	return false
}
