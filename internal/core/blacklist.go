package core

import (
	"path"
	"strings"
)

// blacklistRule is a parsed exclusion rule with its matching strategy.
type blacklistRule struct {
	rule      string
	matchURL  bool // true = prefix-match against the full item URL
	matchGlob bool // true = glob-match against the entry basename
}

// BlacklistMatcher checks item URLs against a set of exclusion rules.
// Rules containing "://" are treated as URL prefixes; other rules are glob
// patterns matched against the entry's basename. Prefix matching is the
// conservative default: a rule excludes the named URL and everything under it.
type BlacklistMatcher struct {
	rules []blacklistRule
}

// NewBlacklistMatcher parses raw rule strings. Blank rules are skipped.
func NewBlacklistMatcher(rawRules []string) *BlacklistMatcher {
	var rules []blacklistRule
	for _, raw := range rawRules {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "://") {
			rules = append(rules, blacklistRule{rule: strings.TrimSuffix(raw, "/"), matchURL: true})
		} else {
			rules = append(rules, blacklistRule{rule: raw, matchGlob: true})
		}
	}
	return &BlacklistMatcher{rules: rules}
}

// Match reports whether the given item URL is excluded from syncing.
func (m *BlacklistMatcher) Match(itemURL string) bool {
	if len(m.rules) == 0 {
		return false
	}

	basename := path.Base(strings.TrimSuffix(itemURL, "/"))

	for _, r := range m.rules {
		switch {
		case r.matchURL:
			if itemURL == r.rule || strings.HasPrefix(itemURL, r.rule+"/") {
				return true
			}
		case r.matchGlob:
			matched, err := path.Match(r.rule, basename)
			if err != nil {
				// Malformed pattern, treat as non-matching.
				continue
			}
			if matched {
				return true
			}
		}
	}
	return false
}
