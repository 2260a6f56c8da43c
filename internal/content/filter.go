package content

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludes are skipped by every scanner and watcher.
var DefaultExcludes = []string{
	"**/.git/**",
	"**/.connidx/**",
	"**/node_modules/**",
	"**/vendor/**",
}

// Filter selects project files with doublestar globs over
// slash-separated relative paths. An empty Include accepts everything.
type Filter struct {
	Include []string
	Exclude []string
}

// Match reports whether rel is selected.
func (f Filter) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if f.Excluded(rel) {
		return false
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, pattern := range f.Include {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// Excluded reports whether rel matches an exclude pattern. Directory
// paths also match patterns written for their contents.
func (f Filter) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range f.Exclude {
		if matched, err := doublestar.Match(pattern, rel); err == nil && matched {
			return true
		}
		if dir := strings.TrimSuffix(pattern, "/**"); dir != pattern {
			if matched, err := doublestar.Match(dir, rel); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// WithDefaults returns f with DefaultExcludes appended.
func (f Filter) WithDefaults() Filter {
	out := Filter{Include: f.Include}
	out.Exclude = append(append([]string(nil), f.Exclude...), DefaultExcludes...)
	return out
}
