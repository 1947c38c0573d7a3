package search

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// pathMatcher is one compiled file pattern.
type pathMatcher func(path string) bool

func compilePatterns(patterns []string, pt PatternType) ([]pathMatcher, error) {
	matchers := make([]pathMatcher, 0, len(patterns))
	for _, pattern := range patterns {
		switch pt {
		case PatternRegex:
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, err)
			}
			matchers = append(matchers, re.MatchString)
		default:
			if !doublestar.ValidatePattern(pattern) {
				return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, doublestar.ErrBadPattern)
			}
			p := pattern
			matchers = append(matchers, func(path string) bool {
				return globMatch(p, filepath.ToSlash(path))
			})
		}
	}
	return matchers, nil
}

// globMatch matches with separator-crossing semantics: a bare "*.go" matches
// nested paths, not just top-level ones, so the pattern is also tried anchored
// anywhere in the tree.
func globMatch(pattern, path string) bool {
	if ok, _ := doublestar.Match(pattern, path); ok {
		return true
	}
	if strings.HasPrefix(pattern, "**/") {
		return false
	}
	ok, _ := doublestar.Match("**/"+pattern, path)
	return ok
}

func filterByPatterns(paths, patterns []string, mode Mode, pt PatternType) ([]string, error) {
	if len(patterns) == 0 {
		return paths, nil
	}
	matchers, err := compilePatterns(patterns, pt)
	if err != nil {
		return nil, err
	}

	kept := make([]string, 0, len(paths))
	for _, path := range paths {
		if matchesPatterns(path, matchers, mode) {
			kept = append(kept, path)
		}
	}
	return kept, nil
}

func matchesPatterns(path string, matchers []pathMatcher, mode Mode) bool {
	for _, match := range matchers {
		ok := match(path)
		if mode == ModeAll && !ok {
			return false
		}
		if mode == ModeAny && ok {
			return true
		}
	}
	return mode == ModeAll
}
