package site

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter matches site-relative, slash-separated paths against glob patterns.
// A pattern without a slash matches the base name at any depth, the way
// gitignore treats it.
type Filter struct {
	patterns []string
}

// NewFilter creates a filter; invalid patterns are rejected by config validation.
func NewFilter(patterns []string) *Filter {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return &Filter{patterns: out}
}

// Empty reports whether the filter has no patterns.
func (f *Filter) Empty() bool { return f == nil || len(f.patterns) == 0 }

// Match reports whether rel is excluded. The root IndexFile is never
// excluded: it carries the redirect page.
func (f *Filter) Match(rel string) bool {
	if f.Empty() || rel == IndexFile {
		return false
	}
	for _, p := range f.patterns {
		if matchPattern(p, rel) {
			return true
		}
	}
	return false
}

// ExcludesRootIndex reports whether pattern would match the root IndexFile.
func ExcludesRootIndex(pattern string) bool {
	return matchPattern(strings.TrimSpace(pattern), IndexFile)
}

func matchPattern(pattern, rel string) bool {
	if !strings.Contains(pattern, "/") {
		rel = path.Base(rel)
	}
	ok, _ := doublestar.Match(pattern, rel)
	return ok
}
