// Package registry loads and indexes the two declarative watchlist
// configurations: the feed list and the keyword categories.
package registry

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"gopkg.in/yaml.v3"
)

// FeedConfig describes one RSS/Atom source to poll.
type FeedConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Category      string `yaml:"category"`
	Enabled       bool   `yaml:"enabled"`
	FetchInterval string `yaml:"fetch_interval"` // e.g. "30m", "2h"
}

// FeedSettings are feed-document wide options.
type FeedSettings struct {
	DefaultFetchInterval string `yaml:"default_fetch_interval"`
	MaxArticlesPerFetch  int    `yaml:"max_articles_per_fetch"`
}

// FeedsDocument is the parsed feeds YAML.
type FeedsDocument struct {
	Feeds      []FeedConfig `yaml:"feeds"`
	Categories []string     `yaml:"categories"`
	Settings   FeedSettings `yaml:"settings"`
}

// KeywordConfig describes one watchlist term and its variations.
type KeywordConfig struct {
	Keyword     string   `yaml:"keyword"`
	Variations  []string `yaml:"variations"`
	Weight      float64  `yaml:"weight"` // [0,1]
	Description string   `yaml:"description"`
}

// MatchSettings are the keyword-document matching options.
type MatchSettings struct {
	CaseSensitive       bool    `yaml:"case_sensitive"`
	WordBoundaryMatch   bool    `yaml:"word_boundary_matching"`
	EnableFuzzyMatching bool    `yaml:"enable_fuzzy_matching"`
	MaxEditDistance     int     `yaml:"max_edit_distance"`
	MinConfidence       float64 `yaml:"min_confidence"`
	ContextWindow       int     `yaml:"context_window"` // words on each side of a hit
}

// DefaultMatchSettings mirror the documented defaults: word-boundary,
// case-insensitive, fuzzy off, edit distance 2, confidence 0.7.
func DefaultMatchSettings() MatchSettings {
	return MatchSettings{
		CaseSensitive:       false,
		WordBoundaryMatch:   true,
		EnableFuzzyMatching: false,
		MaxEditDistance:     2,
		MinConfidence:       0.7,
		ContextWindow:       5,
	}
}

// KeywordCategoryNames are the seven named watchlist categories, in document
// order.
var KeywordCategoryNames = []string{
	"cloud_platforms",
	"security_vendors",
	"enterprise_software",
	"network_infrastructure",
	"virtualization",
	"developer_platforms",
	"threat_intelligence",
}

// KeywordsDocument is the parsed keywords YAML.
type KeywordsDocument struct {
	Categories map[string][]KeywordConfig // the seven named categories
	Settings   MatchSettings
	Priorities map[string][]string // categories: critical/high/medium/low term lists
}

// Entry is an indexed keyword with its owning category.
type Entry struct {
	KeywordConfig
	Category string
}

// Registry holds the validated feed and keyword configuration with lookup
// indexes: primary term -> entry and variation -> entry.
type Registry struct {
	Feeds    FeedsDocument
	Keywords KeywordsDocument

	primary    map[string]*Entry // lowercased primary term
	variations map[string]*Entry // lowercased variation
}

var fetchIntervalRe = regexp.MustCompile(`^\d+[smhd]$`)

// Load reads and validates both registry documents. Any validation failure
// wraps core.ErrConfigInvalid and should abort startup.
func Load(feedsPath, keywordsPath string) (*Registry, error) {
	feedsDoc, err := loadFeeds(feedsPath)
	if err != nil {
		return nil, err
	}
	keywordsDoc, err := loadKeywords(keywordsPath)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		Feeds:      *feedsDoc,
		Keywords:   *keywordsDoc,
		primary:    make(map[string]*Entry),
		variations: make(map[string]*Entry),
	}
	if err := r.buildIndexes(); err != nil {
		return nil, err
	}
	return r, nil
}

func loadFeeds(path string) (*FeedsDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feeds config %s: %w", path, err)
	}

	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: feeds config %s: %v", core.ErrConfigInvalid, path, err)
	}

	doc := &FeedsDocument{}
	for key, node := range top {
		switch key {
		case "feeds":
			if err := node.Decode(&doc.Feeds); err != nil {
				return nil, fmt.Errorf("%w: feeds list: %v", core.ErrConfigInvalid, err)
			}
		case "categories":
			if err := node.Decode(&doc.Categories); err != nil {
				return nil, fmt.Errorf("%w: feed categories: %v", core.ErrConfigInvalid, err)
			}
		case "settings":
			if err := node.Decode(&doc.Settings); err != nil {
				return nil, fmt.Errorf("%w: feed settings: %v", core.ErrConfigInvalid, err)
			}
		default:
			logger.Warn("Ignoring unrecognized key in feeds config", "key", key, "path", path)
		}
	}

	for i, f := range doc.Feeds {
		u, err := url.Parse(f.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("%w: feed %q has non-http(s) url %q", core.ErrConfigInvalid, f.Name, f.URL)
		}
		if f.FetchInterval != "" && !fetchIntervalRe.MatchString(f.FetchInterval) {
			return nil, fmt.Errorf("%w: feed %q has malformed fetch_interval %q", core.ErrConfigInvalid, f.Name, f.FetchInterval)
		}
		if f.FetchInterval == "" {
			doc.Feeds[i].FetchInterval = doc.Settings.DefaultFetchInterval
		}
	}
	return doc, nil
}

func loadKeywords(path string) (*KeywordsDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keywords config %s: %w", path, err)
	}

	var top map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: keywords config %s: %v", core.ErrConfigInvalid, path, err)
	}

	doc := &KeywordsDocument{
		Categories: make(map[string][]KeywordConfig),
		Settings:   DefaultMatchSettings(),
		Priorities: make(map[string][]string),
	}

	known := make(map[string]bool, len(KeywordCategoryNames))
	for _, name := range KeywordCategoryNames {
		known[name] = true
	}

	for key, node := range top {
		switch {
		case known[key]:
			var kws []KeywordConfig
			if err := node.Decode(&kws); err != nil {
				return nil, fmt.Errorf("%w: keyword category %q: %v", core.ErrConfigInvalid, key, err)
			}
			doc.Categories[key] = kws
		case key == "settings":
			if err := node.Decode(&doc.Settings); err != nil {
				return nil, fmt.Errorf("%w: keyword settings: %v", core.ErrConfigInvalid, err)
			}
		case key == "categories":
			if err := node.Decode(&doc.Priorities); err != nil {
				return nil, fmt.Errorf("%w: keyword priority categories: %v", core.ErrConfigInvalid, err)
			}
		default:
			logger.Warn("Ignoring unrecognized key in keywords config", "key", key, "path", path)
		}
	}

	for category, kws := range doc.Categories {
		for _, kw := range kws {
			if kw.Weight < 0 || kw.Weight > 1 {
				return nil, fmt.Errorf("%w: keyword %q in %s has weight %.3f outside [0,1]",
					core.ErrConfigInvalid, kw.Keyword, category, kw.Weight)
			}
		}
	}
	return doc, nil
}

// buildIndexes fills the primary and variation lookup maps. A duplicate
// primary term within one category is a configuration error.
func (r *Registry) buildIndexes() error {
	for _, category := range KeywordCategoryNames {
		seen := make(map[string]bool)
		for i := range r.Keywords.Categories[category] {
			kw := r.Keywords.Categories[category][i]
			key := strings.ToLower(strings.TrimSpace(kw.Keyword))
			if key == "" {
				return fmt.Errorf("%w: empty keyword in category %s", core.ErrConfigInvalid, category)
			}
			if seen[key] {
				return fmt.Errorf("%w: duplicate keyword %q in category %s", core.ErrConfigInvalid, kw.Keyword, category)
			}
			seen[key] = true

			entry := &Entry{KeywordConfig: kw, Category: category}
			r.primary[key] = entry
			for _, v := range kw.Variations {
				r.variations[strings.ToLower(strings.TrimSpace(v))] = entry
			}
		}
	}
	return nil
}

// LookupPrimary returns the entry for a primary term, if configured.
func (r *Registry) LookupPrimary(term string) (*Entry, bool) {
	e, ok := r.primary[strings.ToLower(term)]
	return e, ok
}

// LookupVariation returns the entry owning a variation, if configured.
func (r *Registry) LookupVariation(term string) (*Entry, bool) {
	e, ok := r.variations[strings.ToLower(term)]
	return e, ok
}

// Entries returns every indexed keyword entry across the seven categories.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.primary))
	for _, category := range KeywordCategoryNames {
		for i := range r.Keywords.Categories[category] {
			kw := r.Keywords.Categories[category][i]
			out = append(out, &Entry{KeywordConfig: kw, Category: category})
		}
	}
	return out
}

// EnabledFeeds returns the feeds that should be polled.
func (r *Registry) EnabledFeeds() []FeedConfig {
	var out []FeedConfig
	for _, f := range r.Feeds.Feeds {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// FeedByName returns the feed config with the given name.
func (r *Registry) FeedByName(name string) (FeedConfig, bool) {
	for _, f := range r.Feeds.Feeds {
		if f.Name == name {
			return f, true
		}
	}
	return FeedConfig{}, false
}

// NewMatcher builds a keyword matcher over this registry using the document's
// match settings.
func (r *Registry) NewMatcher() *Matcher {
	return NewMatcher(r.Entries(), r.Keywords.Settings)
}
