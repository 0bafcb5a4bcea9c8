package registry

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// Matcher finds watchlist terms in article text. Exact matching is
// word-boundary and case-insensitive by default; fuzzy matching is a
// Levenshtein pass over content words, enabled by configuration.
type Matcher struct {
	entries  []*Entry
	settings MatchSettings

	// Compiled boundary patterns per entry, one per search term
	// (primary first, then variations).
	patterns map[string][]*regexp.Regexp
}

// MaxContexts caps the context windows recorded per matched term.
const MaxContexts = 5

// NewMatcher compiles the search patterns for the given entries.
func NewMatcher(entries []*Entry, settings MatchSettings) *Matcher {
	if settings.MaxEditDistance <= 0 {
		settings.MaxEditDistance = 2
	}
	if settings.MinConfidence <= 0 {
		settings.MinConfidence = 0.7
	}
	if settings.ContextWindow <= 0 {
		settings.ContextWindow = 5
	}

	m := &Matcher{
		entries:  entries,
		settings: settings,
		patterns: make(map[string][]*regexp.Regexp, len(entries)),
	}
	for _, e := range entries {
		terms := append([]string{e.Keyword}, e.Variations...)
		pats := make([]*regexp.Regexp, 0, len(terms))
		for _, t := range terms {
			pats = append(pats, m.compileTerm(t))
		}
		m.patterns[e.Keyword] = pats
	}
	return m
}

func (m *Matcher) compileTerm(term string) *regexp.Regexp {
	expr := regexp.QuoteMeta(term)
	if m.settings.WordBoundaryMatch {
		expr = `\b` + expr + `\b`
	}
	if !m.settings.CaseSensitive {
		expr = `(?i)` + expr
	}
	return regexp.MustCompile(expr)
}

// Match scans text and returns one KeywordMatch per matched primary term,
// sorted by confidence x weight descending. Where a term matches both exactly
// and fuzzily, the exact match wins.
func (m *Matcher) Match(text string) []core.KeywordMatch {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var matches []core.KeywordMatch
	var fuzzyWords []string
	if m.settings.EnableFuzzyMatching {
		fuzzyWords = tokenize(text)
	}

	for _, entry := range m.entries {
		if km, ok := m.matchExact(entry, text); ok {
			matches = append(matches, km)
			continue
		}
		if m.settings.EnableFuzzyMatching {
			if km, ok := m.matchFuzzy(entry, fuzzyWords); ok {
				matches = append(matches, km)
			}
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence*matches[i].Weight > matches[j].Confidence*matches[j].Weight
	})
	return matches
}

// matchExact counts boundary occurrences of the primary term and all of its
// variations, collecting up to MaxContexts context windows.
func (m *Matcher) matchExact(entry *Entry, text string) (core.KeywordMatch, bool) {
	hits := 0
	var contexts []string
	for _, pat := range m.patterns[entry.Keyword] {
		locs := pat.FindAllStringIndex(text, -1)
		hits += len(locs)
		for _, loc := range locs {
			if len(contexts) >= MaxContexts {
				break
			}
			contexts = append(contexts, contextWindow(text, loc[0], loc[1], m.settings.ContextWindow))
		}
	}
	if hits == 0 {
		return core.KeywordMatch{}, false
	}
	return core.KeywordMatch{
		Keyword:    entry.Keyword,
		HitCount:   hits,
		Contexts:   contexts,
		Confidence: 1.0,
		Weight:     entry.Weight,
	}, true
}

// matchFuzzy compares every content phrase of the term's word count against
// the term and its variations. A phrase matches when the edit distance stays
// within the (word-count scaled) budget and the length-normalized confidence
// clears the configured minimum.
func (m *Matcher) matchFuzzy(entry *Entry, words []string) (core.KeywordMatch, bool) {
	terms := append([]string{entry.Keyword}, entry.Variations...)

	hits := 0
	best := 0.0
	var contexts []string

	for _, term := range terms {
		normTerm := term
		if !m.settings.CaseSensitive {
			normTerm = strings.ToLower(term)
		}
		termWords := strings.Fields(normTerm)
		n := len(termWords)
		if n == 0 || n > len(words) {
			continue
		}
		budget := m.settings.MaxEditDistance * n

		for i := 0; i+n <= len(words); i++ {
			phrase := strings.Join(words[i:i+n], " ")
			if !m.settings.CaseSensitive {
				phrase = strings.ToLower(phrase)
			}
			dist := levenshtein(phrase, normTerm)
			if dist > budget {
				continue
			}
			denom := len(phrase)
			if len(normTerm) > denom {
				denom = len(normTerm)
			}
			if denom == 0 {
				continue
			}
			conf := 1.0 - float64(dist)/float64(denom)
			if conf < m.settings.MinConfidence {
				continue
			}
			hits++
			if conf > best {
				best = conf
			}
			if len(contexts) < MaxContexts {
				contexts = append(contexts, phraseContext(words, i, n, m.settings.ContextWindow))
			}
		}
	}

	if hits == 0 {
		return core.KeywordMatch{}, false
	}
	return core.KeywordMatch{
		Keyword:    entry.Keyword,
		HitCount:   hits,
		Contexts:   contexts,
		Confidence: best,
		Weight:     entry.Weight,
	}, true
}

// tokenize splits text into words, stripping surrounding punctuation.
func tokenize(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.Trim(f, `.,;:!?"'()[]{}<>`)
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}

// contextWindow returns roughly windowWords words on each side of the span
// [start,end) in text.
func contextWindow(text string, start, end, windowWords int) string {
	left := start
	for n := 0; left > 0 && n <= windowWords; {
		left--
		if left == 0 {
			break
		}
		if text[left] == ' ' || text[left] == '\n' {
			n++
		}
	}
	right := end
	for n := 0; right < len(text) && n <= windowWords; right++ {
		if text[right] == ' ' || text[right] == '\n' {
			n++
		}
	}
	return strings.Join(strings.Fields(text[left:right]), " ")
}

// phraseContext returns windowWords words around the phrase at words[i:i+n].
func phraseContext(words []string, i, n, windowWords int) string {
	lo := i - windowWords
	if lo < 0 {
		lo = 0
	}
	hi := i + n + windowWords
	if hi > len(words) {
		hi = len(words)
	}
	return strings.Join(words[lo:hi], " ")
}

// levenshtein computes the edit distance between a and b with the classic
// two-row dynamic program.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			ins := curr[j-1] + 1
			del := prev[j] + 1
			sub := prev[j-1] + cost
			min := ins
			if del < min {
				min = del
			}
			if sub < min {
				min = sub
			}
			curr[j] = min
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
