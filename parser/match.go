package parser

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Matcher finds the first element carrying an exact class attribute in raw
// markup and captures its text up to the next closing tag. It does not parse
// HTML: nested or script-rendered elements are not resolved.
type Matcher struct {
	patterns *lru.Cache[string, *regexp.Regexp]
}

// NewMatcher builds a matcher caching up to size compiled patterns.
func NewMatcher(size int) (*Matcher, error) {
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		return nil, fmt.Errorf("create pattern cache: %w", err)
	}
	return &Matcher{patterns: cache}, nil
}

// Pattern returns the compiled expression for className.
func (m *Matcher) Pattern(className string) *regexp.Regexp {
	if re, ok := m.patterns.Get(className); ok {
		return re
	}
	re := regexp.MustCompile(`(?is)<[^>]*class=["']` + regexp.QuoteMeta(className) + `["'][^>]*>(.*?)</[^>]+>`)
	m.patterns.Add(className, re)
	return re
}

// Match returns the trimmed captured text. An absent element or an empty
// capture reports false.
func (m *Matcher) Match(body []byte, className string) (string, bool) {
	if className == "" {
		return "", false
	}
	sub := m.Pattern(className).FindSubmatch(body)
	if sub == nil {
		return "", false
	}
	text := NormalizeText(string(sub[1]))
	if text == "" {
		return "", false
	}
	return text, true
}

// Len reports how many patterns are cached.
func (m *Matcher) Len() int {
	return m.patterns.Len()
}
