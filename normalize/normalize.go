// Package normalize canonicalizes listing free text so matching compares
// like with like. Text is lowercased, stripped of punctuation and folded
// onto one canonical spelling per concept; place names resolve to their
// full alias groups. Normalization is stable: applying it to its own
// output changes nothing.
package normalize

import (
	"regexp"
	"sort"
	"strings"
)

// punctuation matches runes that are not letters, digits, underscores or
// whitespace. Replaced with a space so token boundaries survive.
var punctuation = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)

var whitespace = regexp.MustCompile(`\s+`)

// tokenMatcher rewrites alias tokens to their canonical spelling. Aliases
// that span several tokens are matched as phrases, longest first.
type tokenMatcher struct {
	tokens  map[string]string
	phrases []phrase
}

type phrase struct {
	tokens    []string
	canonical string
}

var synonymMatcher = newTokenMatcher(synonymRules)

func newTokenMatcher(groups []AliasGroup) *tokenMatcher {
	m := &tokenMatcher{tokens: make(map[string]string)}
	for _, g := range groups {
		for _, alias := range g.Aliases {
			fields := strings.Fields(punctuation.ReplaceAllString(strings.ToLower(alias), " "))
			switch len(fields) {
			case 0:
			case 1:
				if _, ok := m.tokens[fields[0]]; !ok {
					m.tokens[fields[0]] = g.Canonical
				}
			default:
				m.phrases = append(m.phrases, phrase{tokens: fields, canonical: g.Canonical})
			}
		}
	}
	sort.SliceStable(m.phrases, func(i, j int) bool {
		return len(m.phrases[i].tokens) > len(m.phrases[j].tokens)
	})
	return m
}

func (m *tokenMatcher) apply(fields []string) []string {
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); {
		if canonical, n := m.matchPhrase(fields[i:]); n > 0 {
			out = append(out, canonical)
			i += n
			continue
		}
		if canonical, ok := m.tokens[fields[i]]; ok {
			out = append(out, canonical)
		} else {
			out = append(out, fields[i])
		}
		i++
	}
	return out
}

func (m *tokenMatcher) matchPhrase(rest []string) (string, int) {
	for _, p := range m.phrases {
		if len(p.tokens) > len(rest) {
			continue
		}
		matched := true
		for i, tok := range p.tokens {
			if rest[i] != tok {
				matched = false
				break
			}
		}
		if matched {
			return p.canonical, len(p.tokens)
		}
	}
	return "", 0
}

// Text returns s lowercased, with punctuation replaced by spaces,
// whitespace collapsed and synonym aliases folded onto their canonical
// spelling. Empty input returns "".
func Text(s string) string {
	if s == "" {
		return ""
	}
	stripped := punctuation.ReplaceAllString(strings.ToLower(s), " ")
	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(synonymMatcher.apply(fields), " ")
}

// CollapseWhitespace squeezes runs of whitespace in s to a single space and
// trims the ends. Unlike Text it keeps punctuation and case.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// locationIndex resolves any known spelling of a place to its full alias
// group, canonical spelling first.
var locationIndex = buildLocationIndex()

func buildLocationIndex() map[string][]string {
	idx := make(map[string][]string)
	for _, g := range locationGroups {
		group := make([]string, 0, 1+len(g.Aliases))
		group = append(group, g.Canonical)
		group = append(group, g.Aliases...)
		for _, variant := range group {
			key := strings.ToLower(variant)
			if _, ok := idx[key]; !ok {
				idx[key] = group
			}
		}
	}
	return idx
}

// LocationVariants returns every known spelling of term, canonical first.
// Any spelling in a group resolves to the whole group. Unknown terms
// resolve to themselves.
func LocationVariants(term string) []string {
	key := strings.ToLower(strings.TrimSpace(term))
	if group, ok := locationIndex[key]; ok {
		return group
	}
	return []string{term}
}

// FeatureGroups returns the feature keyword table in scoring order.
func FeatureGroups() []AliasGroup {
	return featureGroups
}
