package watcher

import (
	"path/filepath"
	"strings"
	"sync"
)

// IgnorePatterns manages gitignore-style file ignore rules.
// It supports patterns like:
//   - *.log       - match files ending in .log
//   - /build/     - match build directory at root
//   - **/node_modules/** - match node_modules anywhere
//   - !important.log - negate (don't ignore) important.log
type IgnorePatterns struct {
	mu       sync.RWMutex
	patterns []ignorePattern
}

type ignorePattern struct {
	original string
	pattern  string
	negation bool
	dirOnly  bool
	rooted   bool
}

// VCSIgnorePatterns are version control metadata directories.
var VCSIgnorePatterns = []string{
	".git/",
	".hg/",
	".svn/",
	"CVS/",
}

// DefaultIgnorePatterns are directories never worth watching for recipes.
var DefaultIgnorePatterns = append(append([]string{}, VCSIgnorePatterns...),
	".redo/",
	"node_modules/",
)

// NewIgnorePatterns creates a matcher from the given patterns.
func NewIgnorePatterns(patterns ...string) *IgnorePatterns {
	ip := &IgnorePatterns{}
	ip.AddPatterns(patterns)
	return ip
}

// AddPattern adds an ignore pattern (gitignore syntax).
// Empty lines and comments are skipped.
func (ip *IgnorePatterns) AddPattern(pattern string) {
	pattern = strings.TrimRight(pattern, " \t")
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	p := ignorePattern{original: pattern}

	if strings.HasPrefix(pattern, "!") {
		p.negation = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		p.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		p.rooted = true
		pattern = pattern[1:]
	}
	p.pattern = pattern

	ip.mu.Lock()
	ip.patterns = append(ip.patterns, p)
	ip.mu.Unlock()
}

// AddPatterns adds multiple ignore patterns.
func (ip *IgnorePatterns) AddPatterns(patterns []string) {
	for _, pattern := range patterns {
		ip.AddPattern(pattern)
	}
}

// Count returns the number of patterns.
func (ip *IgnorePatterns) Count() int {
	ip.mu.RLock()
	defer ip.mu.RUnlock()
	return len(ip.patterns)
}

// MatchRelative reports whether path should be ignored, relative to basePath.
func (ip *IgnorePatterns) MatchRelative(path, basePath string, isDir bool) bool {
	ip.mu.RLock()
	defer ip.mu.RUnlock()

	relPath := path
	if basePath != "" {
		if rel, err := filepath.Rel(basePath, path); err == nil {
			relPath = rel
		}
	}
	relPath = filepath.ToSlash(relPath)

	// Later patterns override earlier ones.
	ignored := false
	for _, p := range ip.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matchPattern(p, relPath) {
			ignored = !p.negation
		}
	}
	return ignored
}

func matchPattern(p ignorePattern, relPath string) bool {
	pattern := p.pattern

	if strings.Contains(pattern, "**") {
		return matchDoubleGlob(pattern, relPath)
	}

	if p.rooted {
		if strings.Contains(pattern, "/") {
			return matchGlob(pattern, relPath)
		}
		first, _, _ := strings.Cut(relPath, "/")
		return matchGlob(pattern, first)
	}

	if matchGlob(pattern, relPath) {
		return true
	}
	if !strings.Contains(pattern, "/") {
		return matchGlob(pattern, filepath.Base(relPath))
	}

	parts := strings.Split(relPath, "/")
	for i := range parts {
		if matchGlob(pattern, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, path string) bool {
	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	if !strings.Contains(pattern, "/") {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}
	return false
}

// matchDoubleGlob handles ** patterns that match any number of path components.
func matchDoubleGlob(pattern, path string) bool {
	pathParts := strings.Split(path, "/")

	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		if middle, ok := strings.CutSuffix(rest, "/**"); ok {
			for _, part := range pathParts {
				if matchGlob(middle, part) {
					return true
				}
			}
			return false
		}
		for i := range pathParts {
			if matchGlob(rest, strings.Join(pathParts[i:], "/")) {
				return true
			}
		}
		return false
	}

	prefix, suffix, _ := strings.Cut(pattern, "**")
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")

	if prefix != "" && !strings.HasPrefix(path, prefix) {
		return false
	}
	if suffix == "" {
		return true
	}
	for i := range pathParts {
		if matchGlob(suffix, strings.Join(pathParts[i:], "/")) {
			return true
		}
	}
	return false
}
