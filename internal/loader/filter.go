package loader

import (
	"path/filepath"
	"strings"
)

// filterPattern is a parsed file pattern with its matching strategy.
type filterPattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against basename only
}

// PatternFilter selects repository files by glob patterns. Patterns
// without '/' match against the file's basename; patterns with '/'
// match against the full path from the repository root. A '!' prefix
// turns a pattern into an exclusion, applied after the inclusions, so
// ["*.md", "!CHANGELOG.md"] keeps all markdown except the changelog.
// With no include patterns every file is included before exclusions.
type PatternFilter struct {
	includes   []filterPattern
	excludes   []filterPattern
	pathPrefix string
}

// NewPatternFilter creates a filter from raw pattern strings and an
// optional path prefix that files must live under.
func NewPatternFilter(rawPatterns []string, pathPrefix string) *PatternFilter {
	f := &PatternFilter{
		pathPrefix: strings.Trim(filepath.ToSlash(pathPrefix), "/"),
	}

	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		exclude := strings.HasPrefix(raw, "!")
		if exclude {
			raw = raw[1:]
		}

		p := filterPattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		}
		if exclude {
			f.excludes = append(f.excludes, p)
		} else {
			f.includes = append(f.includes, p)
		}
	}
	return f
}

// Match reports whether the given path, relative to the repository root,
// passes the filter.
func (f *PatternFilter) Match(relativePath string) bool {
	normalized := filepath.ToSlash(relativePath)

	if f.pathPrefix != "" {
		if normalized != f.pathPrefix && !strings.HasPrefix(normalized, f.pathPrefix+"/") {
			return false
		}
	}

	if len(f.includes) > 0 && !matchAny(f.includes, normalized) {
		return false
	}
	return !matchAny(f.excludes, normalized)
}

func matchAny(patterns []filterPattern, normalized string) bool {
	basename := filepath.Base(normalized)

	for _, p := range patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = filepath.Match(p.pattern, normalized)
		} else {
			matched, err = filepath.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern — skip rather than crash. Validate reports these
			// before any sync runs.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// validatePatterns reports the first syntactically invalid pattern.
func validatePatterns(rawPatterns []string) (string, bool) {
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(strings.TrimPrefix(raw, "!"))
		if raw == "" {
			continue
		}
		if _, err := filepath.Match(raw, "probe"); err != nil {
			return raw, false
		}
	}
	return "", true
}
