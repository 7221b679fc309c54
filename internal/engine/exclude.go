package engine

import (
	"path"
	"strings"
)

// excludePattern is a parsed exclusion pattern with its matching strategy.
type excludePattern struct {
	pattern   string
	matchPath bool // true = match against root-relative path; false = match against basename only
}

// ExcludeMatcher checks remote file paths against a set of exclusion
// glob patterns. Patterns without '/' match against the file's basename
// only, so "*.log" excludes log files at any depth. Patterns with '/'
// match against the full path relative to the listed root.
type ExcludeMatcher struct {
	patterns []excludePattern
}

// NewExcludeMatcher creates an ExcludeMatcher from raw pattern strings.
// Blank lines and lines starting with '#' are skipped.
func NewExcludeMatcher(rawPatterns []string) *ExcludeMatcher {
	var patterns []excludePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, excludePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &ExcludeMatcher{patterns: patterns}
}

// Match reports whether the given root-relative path should be
// excluded from the backup. relPath uses forward slashes, as returned
// by Session.List.
func (m *ExcludeMatcher) Match(relPath string) bool {
	if len(m.patterns) == 0 {
		return false
	}

	basename := path.Base(relPath)

	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = path.Match(p.pattern, relPath)
		} else {
			matched, err = path.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern, skip it.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
