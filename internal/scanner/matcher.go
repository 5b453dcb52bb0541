package scanner

import (
	"fmt"
	"regexp"
	"sort"
)

// Matcher tests item text against a snapshot of filter rules. Rules are
// evaluated in ascending ID order and the first match wins, which keeps
// results deterministic when keywords overlap.
type Matcher struct {
	rules []compiledRule
}

type compiledRule struct {
	rule FilterRule
	re   *regexp.Regexp
}

// NewMatcher compiles the active rules from the given set. Inactive rules are
// dropped.
func NewMatcher(rules []FilterRule) (*Matcher, error) {
	active := make([]FilterRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	compiled := make([]compiledRule, 0, len(active))
	for _, r := range active {
		re, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("compile rule %d: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{rule: r, re: re})
	}
	return &Matcher{rules: compiled}, nil
}

func compileRule(r FilterRule) (*regexp.Regexp, error) {
	pattern := regexp.QuoteMeta(r.Keyword)
	if r.WholeWord {
		pattern = `\b` + pattern + `\b`
	}
	if !r.CaseSensitive {
		pattern = `(?i)` + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	return re, nil
}

// HasRules reports whether any active rule survived compilation.
func (m *Matcher) HasRules() bool {
	return len(m.rules) > 0
}

// Match returns the first rule matching text, by ascending rule ID.
func (m *Matcher) Match(text string) (FilterRule, bool) {
	for _, c := range m.rules {
		if c.re.MatchString(text) {
			return c.rule, true
		}
	}
	return FilterRule{}, false
}
