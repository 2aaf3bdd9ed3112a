package skillswap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleOffers() []Offer {
	return []Offer{
		{ID: "1", Title: "Learn React together", SkillsToTeach: []string{"React"}, SkillsToLearn: []string{"Go"}, LearningFormat: FormatOnline},
		{ID: "2", Title: "Python tutoring", SkillsToTeach: []string{"Python"}, SkillsToLearn: []string{}, LearningFormat: FormatBoth},
		{ID: "3", Title: "Frontend basics", SkillsToTeach: []string{"JavaScript"}, SkillsToLearn: []string{"English"}, LearningFormat: FormatOffline, Location: "Riga"},
		{ID: "4", Title: "Гитара для начинающих", Description: "Аккорды и бой", SkillsToTeach: []string{"Гитара"}, SkillsToLearn: []string{}, LearningFormat: FormatOffline},
	}
}

func ids(offers []Offer) []string {
	out := make([]string, 0, len(offers))
	for _, o := range offers {
		out = append(out, o.ID)
	}
	return out
}

func TestMatcherOffline(t *testing.T) {
	m := NewMatcher()
	offers := sampleOffers()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"terms are OR-ed", "react python", []string{"1", "2"}},
		{"cyrillic synonym", "питон", []string{"2"}},
		{"abbreviation synonym", "js", []string{"3"}},
		{"case insensitive", "PYTHON", []string{"2"}},
		{"description text", "аккорды", []string{"4"}},
		{"learn side skill", "english", []string{"3"}},
		{"location", "riga", []string{"3"}},
		{"learning format text", "both", []string{"2"}},
		{"substring of skill", "scri", []string{"3"}},
		{"no match", "haskell", []string{}},
		{"surrounding space", "  react  ", []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(m.Filter(offers, tt.query, SearchOffline)))
		})
	}
}

func TestMatcherTransliteration(t *testing.T) {
	m := NewMatcher()
	assert.Equal(t, "python", m.Transliterate("python"))
	assert.Equal(t, "gitara", m.Transliterate("гитара"))
	assert.Equal(t, "ъь", m.Transliterate("ъь"))
	assert.Equal(t, "obъekt", m.Transliterate("объект"))

	offers := []Offer{{ID: "1", Title: "Gitara lessons", SkillsToTeach: []string{}, SkillsToLearn: []string{}}}
	assert.Equal(t, []string{"1"}, ids(m.Filter(offers, "гитара", SearchOffline)))

	// Hard and soft signs are kept, so they only match text that has them.
	assert.Empty(t, m.Filter(sampleOffers(), "ъ", SearchOffline))

	blank := NewMatcher(WithTransliteration(map[rune]string{'ъ': ""}))
	assert.Empty(t, blank.Filter(sampleOffers(), "ъ", SearchOffline), "an empty transliteration matches nothing")
}

func TestMatcherEmptyQuery(t *testing.T) {
	m := NewMatcher()
	offers := sampleOffers()

	for _, q := range []string{"", "   ", "\t"} {
		for _, mode := range []SearchMode{SearchOffline, SearchOnline} {
			got := m.Filter(offers, q, mode)
			assert.Equal(t, offers, got)
		}
	}

	got := m.Filter(offers, "", SearchOffline)
	got[0].Title = "changed"
	assert.Equal(t, "Learn React together", offers[0].Title)
}

func TestMatcherPreservesOrder(t *testing.T) {
	m := NewMatcher()
	offers := sampleOffers()
	reversed := []Offer{offers[3], offers[2], offers[1], offers[0]}

	assert.Equal(t, []string{"3", "2", "1"}, ids(m.Filter(reversed, "react python js", SearchOffline)))
}

func TestMatcherOnline(t *testing.T) {
	m := NewMatcher()
	offers := sampleOffers()

	assert.Equal(t, []string{"1"}, ids(m.Filter(offers, "react", SearchOnline)))
	assert.Equal(t, []string{"3"}, ids(m.Filter(offers, "javascript", SearchOnline)))
	// Online mode does no synonym expansion and matches the whole query.
	assert.Empty(t, m.Filter(offers, "js", SearchOnline))
	assert.Empty(t, m.Filter(offers, "react python", SearchOnline))
	assert.Empty(t, m.Filter(offers, "riga", SearchOnline))
}

func TestMatcherOptions(t *testing.T) {
	m := NewMatcher(WithSynonyms(map[string]string{"GoLang": "Go"}))
	assert.Equal(t, []string{"golang", "go"}, m.Synonyms("golang"))
	assert.Equal(t, []string{"js"}, m.Synonyms("js"))

	offers := []Offer{{ID: "1", Title: "Go", SkillsToTeach: []string{}, SkillsToLearn: []string{}}}
	assert.True(t, m.Match(offers[0], "golang", SearchOffline))
}

func TestParseSearchMode(t *testing.T) {
	assert.Equal(t, SearchOnline, ParseSearchMode(" Online "))
	assert.Equal(t, SearchOffline, ParseSearchMode("offline"))
	assert.Equal(t, SearchOffline, ParseSearchMode("bogus"))
}
