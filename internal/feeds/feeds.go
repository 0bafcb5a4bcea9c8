// Package feeds fetches RSS/Atom feeds and turns entries into normalized
// parsed articles ready for the triage pipeline.
package feeds

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/dedup"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"github.com/Virgo-Alpha/sentinel/internal/registry"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

const userAgent = "Sentinel Feed Reader/1.0"

// maxBodySize bounds feed and article downloads.
const maxBodySize = 10 << 20

// RSS is the subset of the RSS 2.0 schema the parser reads.
type RSS struct {
	XMLName xml.Name `xml:"rss"`
	Channel Channel  `xml:"channel"`
}

type Channel struct {
	Title string    `xml:"title"`
	Link  string    `xml:"link"`
	Items []RSSItem `xml:"item"`
}

type RSSItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
	Author      string `xml:"author"`
}

// Atom is the subset of the Atom schema the parser reads.
type Atom struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []AtomEntry `xml:"entry"`
}

type AtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type AtomEntry struct {
	Title     string     `xml:"title"`
	Link      []AtomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
	Author    struct {
		Name string `xml:"name"`
	} `xml:"author"`
}

// fetchState holds the conditional-GET headers remembered per feed.
type fetchState struct {
	FeedID        string    `json:"feed_id"`
	ETag          string    `json:"etag,omitempty"`
	LastModified  string    `json:"last_modified,omitempty"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
	Version       int64     `json:"version"`
}

// Parser fetches a configured feed and emits parsed articles. Raw HTML and
// normalized text are written to the blob store; conditional-GET state is
// remembered in the memory table.
type Parser struct {
	client   *http.Client
	blobs    store.BlobStore
	entities store.EntityStore
	maxItems int
	now      func() time.Time
}

// NewParser builds a feed parser. maxItems bounds articles per fetch; zero
// means unbounded.
func NewParser(blobs store.BlobStore, entities store.EntityStore, maxItems int) *Parser {
	return &Parser{
		client:   &http.Client{Timeout: 30 * time.Second},
		blobs:    blobs,
		entities: entities,
		maxItems: maxItems,
		now:      time.Now,
	}
}

// Fetch downloads the feed and returns parsed articles published after since
// (zero since means no lower bound). A 304 response returns an empty slice.
// Entries without a title or link are skipped.
func (p *Parser) Fetch(ctx context.Context, feed registry.FeedConfig, since time.Time) ([]core.ParsedArticle, error) {
	state := p.loadState(ctx, feed.Name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if state.ETag != "" {
		req.Header.Set("If-None-Match", state.ETag)
	}
	if state.LastModified != "" {
		req.Header.Set("If-Modified-Since", state.LastModified)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feed.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified {
		logger.Debug("Feed not modified", "feed", feed.Name)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", feed.Name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", feed.Name, err)
	}

	entries, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feed.Name, err)
	}

	state.ETag = resp.Header.Get("ETag")
	state.LastModified = resp.Header.Get("Last-Modified")
	state.LastFetchedAt = p.now().UTC()
	p.saveState(ctx, feed.Name, state)

	var articles []core.ParsedArticle
	for _, entry := range entries {
		if entry.title == "" || entry.link == "" {
			continue
		}
		if !since.IsZero() && !entry.published.IsZero() && entry.published.Before(since) {
			continue
		}
		article, err := p.buildArticle(ctx, feed, entry)
		if err != nil {
			logger.Warn("Skipping feed entry", "feed", feed.Name, "url", entry.link, "error", err.Error())
			continue
		}
		articles = append(articles, article)
		if p.maxItems > 0 && len(articles) >= p.maxItems {
			break
		}
	}
	return articles, nil
}

// feedEntry is the format-neutral view of one RSS item or Atom entry.
type feedEntry struct {
	title     string
	link      string
	summary   string
	published time.Time
	author    string
	guid      string
}

// parseFeed tries RSS first, then Atom, over the buffered body.
func parseFeed(body []byte) ([]feedEntry, error) {
	var rss RSS
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&rss); err == nil && rss.Channel.Title != "" {
		entries := make([]feedEntry, 0, len(rss.Channel.Items))
		for _, item := range rss.Channel.Items {
			entries = append(entries, feedEntry{
				title:     strings.TrimSpace(item.Title),
				link:      strings.TrimSpace(item.Link),
				summary:   item.Description,
				published: parseRSSDate(item.PubDate),
				author:    item.Author,
				guid:      item.GUID,
			})
		}
		return entries, nil
	}

	var atom Atom
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&atom); err == nil && atom.Title != "" {
		entries := make([]feedEntry, 0, len(atom.Entries))
		for _, entry := range atom.Entries {
			link := ""
			for _, l := range entry.Link {
				if l.Rel == "" || l.Rel == "alternate" {
					link = l.Href
					break
				}
			}
			summary := entry.Content
			if summary == "" {
				summary = entry.Summary
			}
			entries = append(entries, feedEntry{
				title:     strings.TrimSpace(entry.Title),
				link:      strings.TrimSpace(link),
				summary:   summary,
				published: parseAtomDate(entry.Published, entry.Updated),
				author:    entry.Author.Name,
				guid:      entry.ID,
			})
		}
		return entries, nil
	}

	return nil, errors.New("body is neither RSS nor Atom")
}

// buildArticle fetches the entry's page, normalizes it, and stores both
// representations in the blob store. When the page cannot be fetched the
// feed's own summary becomes the content.
func (p *Parser) buildArticle(ctx context.Context, feed registry.FeedConfig, entry feedEntry) (core.ParsedArticle, error) {
	articleID := articleIDFor(feed.Name, entry.link)
	canonical := dedup.StripTrackingParams(entry.link)

	rawHTML, fetchErr := p.fetchPage(ctx, entry.link)
	normalized := ""
	extractedURLs := []string(nil)
	if fetchErr != nil {
		logger.Warn("Article fetch failed, using feed summary", "url", entry.link, "error", fetchErr.Error())
		normalized = normalizeHTML(entry.summary)
	} else {
		normalized, extractedURLs = extractText(rawHTML)
		if normalized == "" {
			normalized = normalizeHTML(entry.summary)
		}
	}
	if normalized == "" {
		return core.ParsedArticle{}, errors.New("no content could be extracted")
	}

	hash := sha256.Sum256([]byte(normalized))
	contentHash := hex.EncodeToString(hash[:])

	rawRef := fmt.Sprintf("raw/%s/%s.html", feed.Name, articleID)
	normalizedRef := fmt.Sprintf("normalized/%s/%s.txt", feed.Name, articleID)
	if rawHTML != "" {
		if err := p.blobs.Put(ctx, store.BucketContent, rawRef, []byte(rawHTML), "text/html"); err != nil {
			return core.ParsedArticle{}, fmt.Errorf("failed to store raw content: %w", err)
		}
	} else {
		rawRef = ""
	}
	if err := p.blobs.Put(ctx, store.BucketContent, normalizedRef, []byte(normalized), "text/plain"); err != nil {
		return core.ParsedArticle{}, fmt.Errorf("failed to store normalized content: %w", err)
	}

	published := entry.published
	if published.IsZero() {
		published = p.now().UTC()
	}

	return core.ParsedArticle{
		ArticleID:         articleID,
		Title:             entry.title,
		URL:               entry.link,
		CanonicalURL:      canonical,
		PublishedAt:       published,
		Author:            entry.author,
		NormalizedContent: normalized,
		RawBlobRef:        rawRef,
		NormalizedBlobRef: normalizedRef,
		ContentHash:       contentHash,
		ExtractedURLs:     extractedURLs,
		FeedMetadata: map[string]string{
			"feed_name":     feed.Name,
			"feed_category": feed.Category,
			"guid":          entry.guid,
		},
	}, nil
}

func (p *Parser) fetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// articleIDFor derives a deterministic id so re-ingesting the same entry is
// idempotent.
func articleIDFor(feedName, link string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(feedName+"\n"+link)).String()
}

func (p *Parser) stateKey(feedName string) string {
	return "feedstate_" + feedName
}

func (p *Parser) loadState(ctx context.Context, feedName string) fetchState {
	var state fetchState
	err := p.entities.Get(ctx, store.TableMemory, p.stateKey(feedName), &state, false)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			logger.Warn("Feed state unavailable", "feed", feedName, "error", err.Error())
		}
		return fetchState{FeedID: feedName}
	}
	return state
}

func (p *Parser) saveState(ctx context.Context, feedName string, state fetchState) {
	prev := state.Version
	state.Version = prev + 1
	var err error
	if prev == 0 {
		err = p.entities.Put(ctx, store.TableMemory, p.stateKey(feedName), state, false)
	} else {
		err = p.entities.Update(ctx, store.TableMemory, p.stateKey(feedName), prev, state)
	}
	if err != nil {
		// Losing conditional-GET state only costs one unconditional fetch.
		logger.Warn("Feed state not saved", "feed", feedName, "error", err.Error())
	}
}

var rssDateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

func parseRSSDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, format := range rssDateFormats {
		if t, err := time.Parse(format, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func parseAtomDate(published, updated string) time.Time {
	for _, value := range []string{published, updated} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t.UTC()
		}
		if t := parseRSSDate(value); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
