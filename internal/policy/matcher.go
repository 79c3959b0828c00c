package policy

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Matcher matches tool names and arguments. Compiled patterns are cached.
type Matcher struct {
	cache sync.Map // pattern -> *regexp.Regexp
}

// MatchTool reports whether name matches any pattern. A pattern is an exact
// name or contains * wildcards.
func (m *Matcher) MatchTool(name string, patterns []string) bool {
	name = NormalizeName(name)
	for _, p := range patterns {
		p = NormalizeName(p)
		if p == name {
			return true
		}
		if strings.Contains(p, "*") {
			re, err := m.compile("^" + strings.ReplaceAll(regexp.QuoteMeta(p), `\*`, `.*`) + "$")
			if err == nil && re.MatchString(name) {
				return true
			}
		}
	}
	return false
}

// MatchArgs reports whether args matches pattern. An empty pattern matches nothing.
func (m *Matcher) MatchArgs(args, pattern string) (bool, error) {
	if pattern == "" {
		return false, nil
	}
	re, err := m.compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(args), nil
}

func (m *Matcher) compile(pattern string) (*regexp.Regexp, error) {
	if v, ok := m.cache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, pattern, err)
	}
	m.cache.Store(pattern, re)
	return re, nil
}
