// Package query prepares user text for retrieval: vocabulary normalization,
// retrieval-only expansion and intent classification.
package query

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type synonym struct {
	pattern   *regexp.Regexp
	canonical string
}

type expansion struct {
	term    *regexp.Regexp
	related []string
}

// Normalizer canonicalizes the extraction/recharge/pollution vocabulary.
type Normalizer struct {
	synonyms   []synonym
	expansions []expansion
}

// NewNormalizer creates a normalizer with the groundwater vocabulary tables.
func NewNormalizer() *Normalizer {
	n := &Normalizer{}

	for _, group := range []struct {
		canonical string
		variants  []string
	}{
		{"extraction", []string{"usage", "withdrawal", "consumption", "drawing", "pumping"}},
		{"recharge", []string{"replenish", "refill"}},
		{"pollution", []string{"contamination", "dirt", "poison"}},
	} {
		for _, v := range group.variants {
			n.synonyms = append(n.synonyms, synonym{
				pattern:   wordPattern(v),
				canonical: group.canonical,
			})
		}
	}

	for _, e := range []struct {
		term    string
		related []string
	}{
		{"groundwater", []string{"aquifer", "borewell", "water table"}},
		{"extraction", []string{"over-exploited", "stage of extraction"}},
		{"recharge", []string{"rainwater harvesting", "check dam"}},
		{"farming", []string{"irrigation", "paddy", "sugarcane", "millets"}},
	} {
		n.expansions = append(n.expansions, expansion{term: wordPattern(e.term), related: e.related})
	}

	return n
}

func wordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
}

// Normalize folds Unicode compatibility forms, lowercases, collapses
// whitespace and replaces synonyms with their canonical term.
func (n *Normalizer) Normalize(raw string) string {
	s := norm.NFKC.String(raw)
	s = strings.ToLower(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}

	for _, syn := range n.synonyms {
		s = syn.pattern.ReplaceAllString(s, syn.canonical)
	}
	return s
}

// Expand appends related terms for every canonical term present as a whole
// word. The result is only used for retrieval and never shown to users.
func (n *Normalizer) Expand(normalized string) string {
	seen := make(map[string]bool)
	var extra []string

	for _, e := range n.expansions {
		if !e.term.MatchString(normalized) {
			continue
		}
		for _, r := range e.related {
			if !seen[r] {
				seen[r] = true
				extra = append(extra, r)
			}
		}
	}

	if len(extra) == 0 {
		return normalized
	}
	return normalized + " " + strings.Join(extra, " ")
}
