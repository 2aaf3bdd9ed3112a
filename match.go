package skillswap

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ============================================================================
// Search modes
// ============================================================================

type SearchMode string

const (
	// SearchOffline expands each query term with synonyms and a Latin
	// transliteration and needs neither the catalog nor the network.
	SearchOffline SearchMode = "offline"
	// SearchOnline is a plain substring check of title and skills, used once
	// the server is authoritative for offer content.
	SearchOnline SearchMode = "online"
)

// ParseSearchMode maps a config string to a mode, defaulting to offline.
func ParseSearchMode(s string) SearchMode {
	if SearchMode(strings.ToLower(strings.TrimSpace(s))) == SearchOnline {
		return SearchOnline
	}
	return SearchOffline
}

// ============================================================================
// Matcher
// ============================================================================

// DefaultTransliteration maps Cyrillic letters to a Latin phonetic spelling.
// The hard and soft signs have no entry and pass through unchanged.
var DefaultTransliteration = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch",
	'ы': "y", 'э': "e", 'ю': "yu", 'я': "ya",
}

// DefaultSynonyms maps abbreviations and Cyrillic spellings of common
// subjects to the canonical term. Keys are single lowercase words since
// queries are split on whitespace before lookup.
var DefaultSynonyms = map[string]string{
	"js":               "javascript",
	"reactjs":          "react",
	"питон":            "python",
	"пайтон":           "python",
	"джава":            "java",
	"ява":              "java",
	"спринг":           "spring",
	"дизайн":           "figma",
	"ui/ux":            "figma",
	"английский":       "english",
	"программирование": "programming",
	"кодинг":           "programming",
	"веб":              "web",
}

// Matcher filters offers against free-text queries. It holds no mutable
// state and is safe for concurrent use.
type Matcher struct {
	synonyms map[string]string
	translit map[rune]string
}

type MatcherOption func(*Matcher)

// WithSynonyms replaces the synonym table. Keys are lowercased.
func WithSynonyms(synonyms map[string]string) MatcherOption {
	return func(m *Matcher) {
		m.synonyms = make(map[string]string, len(synonyms))
		for k, v := range synonyms {
			m.synonyms[strings.ToLower(k)] = strings.ToLower(v)
		}
	}
}

// WithTransliteration replaces the transliteration table.
func WithTransliteration(table map[rune]string) MatcherOption {
	return func(m *Matcher) { m.translit = table }
}

func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		synonyms: DefaultSynonyms,
		translit: DefaultTransliteration,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transliterate maps every rune of s through the table, keeping runes that
// have no entry.
func (m *Matcher) Transliterate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if out, ok := m.translit[r]; ok {
			b.WriteString(out)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Synonyms returns term followed by its canonical form when one exists.
func (m *Matcher) Synonyms(term string) []string {
	if canonical, ok := m.synonyms[term]; ok {
		return []string{term, canonical}
	}
	return []string{term}
}

// Filter returns the offers matching query, in their original order. An
// empty or blank query returns every offer.
func (m *Matcher) Filter(offers []Offer, query string, mode SearchMode) []Offer {
	q := strings.TrimSpace(strings.ToLower(norm.NFC.String(query)))
	if q == "" {
		out := make([]Offer, len(offers))
		copy(out, offers)
		return out
	}

	match := m.matchOnline
	if mode != SearchOnline {
		match = m.matchOffline
	}

	out := []Offer{}
	for _, o := range offers {
		if match(o, q) {
			out = append(out, o)
		}
	}
	return out
}

// Match reports whether a single offer satisfies query.
func (m *Matcher) Match(o Offer, query string, mode SearchMode) bool {
	return len(m.Filter([]Offer{o}, query, mode)) == 1
}

// matchOffline ORs across whitespace separated terms. A term hits when any of
// its synonyms, or its transliteration, occurs in the searchable text or in
// a single skill name.
func (m *Matcher) matchOffline(o Offer, q string) bool {
	text := searchableText(o)
	skills := lowerSkills(o)

	for _, term := range strings.Fields(q) {
		variants := m.Synonyms(term)
		// A table may map runes to "", and an empty variant matches everything.
		if translit := m.Transliterate(term); translit != "" {
			variants = append(variants, translit)
		}
		for _, v := range variants {
			if strings.Contains(text, v) {
				return true
			}
			for _, s := range skills {
				if strings.Contains(s, v) {
					return true
				}
			}
		}
	}
	return false
}

func (m *Matcher) matchOnline(o Offer, q string) bool {
	if strings.Contains(strings.ToLower(norm.NFC.String(o.Title)), q) {
		return true
	}
	for _, s := range lowerSkills(o) {
		if strings.Contains(s, q) {
			return true
		}
	}
	return false
}

func searchableText(o Offer) string {
	parts := []string{
		o.Title,
		o.Description,
		strings.Join(o.SkillsToLearn, " "),
		strings.Join(o.SkillsToTeach, " "),
		string(o.LearningFormat),
		o.Location,
	}
	return strings.ToLower(norm.NFC.String(strings.Join(parts, "\n")))
}

func lowerSkills(o Offer) []string {
	out := make([]string, 0, len(o.SkillsToLearn)+len(o.SkillsToTeach))
	for _, s := range o.SkillsToLearn {
		out = append(out, strings.ToLower(norm.NFC.String(s)))
	}
	for _, s := range o.SkillsToTeach {
		out = append(out, strings.ToLower(norm.NFC.String(s)))
	}
	return out
}
