package feeds

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/registry"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

const rssSample = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Security Advisories</title>
    <link>https://example.com</link>
    <item>
      <title>Vendor patches critical flaw</title>
      <link>https://example.com/advisory-1</link>
      <description>A critical flaw was patched.</description>
      <pubDate>Wed, 19 Aug 2026 09:30:00 +0000</pubDate>
      <guid>advisory-1</guid>
    </item>
    <item>
      <title></title>
      <link>https://example.com/no-title</link>
    </item>
  </channel>
</rss>`

const atomSample = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Vendor Blog</title>
  <entry>
    <title>Zero-day under active exploitation</title>
    <link rel="alternate" href="https://blog.example.com/zero-day"/>
    <summary>Exploitation observed in the wild.</summary>
    <published>2026-08-19T11:00:00Z</published>
    <id>tag:blog.example.com,2026:zero-day</id>
    <author><name>Research Team</name></author>
  </entry>
</feed>`

func TestParseFeedRSS(t *testing.T) {
	entries, err := parseFeed([]byte(rssSample))
	if err != nil {
		t.Fatalf("parseFeed() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	e := entries[0]
	if e.title != "Vendor patches critical flaw" {
		t.Errorf("title = %q", e.title)
	}
	if e.link != "https://example.com/advisory-1" {
		t.Errorf("link = %q", e.link)
	}
	if e.guid != "advisory-1" {
		t.Errorf("guid = %q", e.guid)
	}
	want := time.Date(2026, 8, 19, 9, 30, 0, 0, time.UTC)
	if !e.published.Equal(want) {
		t.Errorf("published = %v, want %v", e.published, want)
	}
}

func TestParseFeedAtom(t *testing.T) {
	entries, err := parseFeed([]byte(atomSample))
	if err != nil {
		t.Fatalf("parseFeed() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.title != "Zero-day under active exploitation" {
		t.Errorf("title = %q", e.title)
	}
	if e.link != "https://blog.example.com/zero-day" {
		t.Errorf("link = %q", e.link)
	}
	if e.author != "Research Team" {
		t.Errorf("author = %q", e.author)
	}
	want := time.Date(2026, 8, 19, 11, 0, 0, 0, time.UTC)
	if !e.published.Equal(want) {
		t.Errorf("published = %v, want %v", e.published, want)
	}
}

func TestParseFeedUnrecognized(t *testing.T) {
	if _, err := parseFeed([]byte(`{"not": "xml"}`)); err == nil {
		t.Error("parseFeed() on JSON should error")
	}
	if _, err := parseFeed([]byte(`<html><body>nope</body></html>`)); err == nil {
		t.Error("parseFeed() on HTML should error")
	}
}

func TestParseRSSDate(t *testing.T) {
	tests := []struct {
		value string
		want  time.Time
	}{
		{"Wed, 19 Aug 2026 09:30:00 +0000", time.Date(2026, 8, 19, 9, 30, 0, 0, time.UTC)},
		{"Wed, 19 Aug 2026 09:30:00 GMT", time.Date(2026, 8, 19, 9, 30, 0, 0, time.UTC)},
		{"2026-08-19T09:30:00Z", time.Date(2026, 8, 19, 9, 30, 0, 0, time.UTC)},
		{"not a date", time.Time{}},
		{"", time.Time{}},
	}
	for _, tt := range tests {
		if got := parseRSSDate(tt.value); !got.Equal(tt.want) {
			t.Errorf("parseRSSDate(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseAtomDatePreference(t *testing.T) {
	published := "2026-08-19T11:00:00Z"
	updated := "2026-08-20T08:00:00Z"

	got := parseAtomDate(published, updated)
	if want := time.Date(2026, 8, 19, 11, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseAtomDate() = %v, want published %v", got, want)
	}

	got = parseAtomDate("", updated)
	if want := time.Date(2026, 8, 20, 8, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("parseAtomDate() = %v, want updated %v", got, want)
	}

	if got := parseAtomDate("", ""); !got.IsZero() {
		t.Errorf("parseAtomDate(empty) = %v, want zero", got)
	}
}

func TestArticleIDDeterministic(t *testing.T) {
	a := articleIDFor("feed-a", "https://example.com/post")
	b := articleIDFor("feed-a", "https://example.com/post")
	if a != b {
		t.Errorf("same feed and link produced different ids: %s, %s", a, b)
	}
	if articleIDFor("feed-b", "https://example.com/post") == a {
		t.Error("different feeds should produce different ids")
	}
	if articleIDFor("feed-a", "https://example.com/other") == a {
		t.Error("different links should produce different ids")
	}
}

func TestExtractText(t *testing.T) {
	html := `<html><head><script>tracking()</script></head><body>
	<nav>Home | About</nav>
	<article>
	  <h1>Advisory headline</h1>
	  <p>First paragraph of the advisory.</p>
	  <p>See <a href="https://vendor.example.com/kb">the KB entry</a> and
	     <a href="https://vendor.example.com/kb">the KB entry again</a>.</p>
	</article>
	<footer>Copyright</footer>
	</body></html>`

	text, urls := extractText(html)
	if !strings.Contains(text, "Advisory headline") || !strings.Contains(text, "First paragraph") {
		t.Errorf("text = %q, missing article content", text)
	}
	if strings.Contains(text, "Home | About") || strings.Contains(text, "Copyright") {
		t.Errorf("text = %q, boilerplate not removed", text)
	}
	if strings.Contains(text, "tracking()") {
		t.Error("script content leaked into text")
	}
	if len(urls) != 1 || urls[0] != "https://vendor.example.com/kb" {
		t.Errorf("urls = %v, want one deduplicated link", urls)
	}
}

func TestNormalizeHTML(t *testing.T) {
	got := normalizeHTML(`<p>Summary with <b>markup</b>.</p>`)
	if got != "Summary with markup." {
		t.Errorf("normalizeHTML() = %q", got)
	}
	if got := normalizeHTML(""); got != "" {
		t.Errorf("normalizeHTML(empty) = %q", got)
	}
}

func newTestParser(t *testing.T) (*Parser, store.EntityStore, *store.FSBlobStore) {
	t.Helper()
	entities, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { entities.Close() })
	blobs, err := store.NewFSBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBlobStore() error = %v", err)
	}
	return NewParser(blobs, entities, 0), entities, blobs
}

func TestFetch(t *testing.T) {
	page := `<html><body><article><p>Full advisory text with remediation steps.</p></article></body></html>`
	pageServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	defer pageServer.Close()

	feedXML := fmt.Sprintf(`<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test Feed</title>
<item>
  <title>Advisory one</title>
  <link>%s/advisory-1</link>
  <description>Short summary.</description>
  <pubDate>Wed, 19 Aug 2026 09:30:00 +0000</pubDate>
</item>
</channel></rss>`, pageServer.URL)

	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, feedXML)
	}))
	defer feedServer.Close()

	parser, _, blobs := newTestParser(t)
	feed := registry.FeedConfig{Name: "test-feed", URL: feedServer.URL, Category: "advisories"}

	articles, err := parser.Fetch(context.Background(), feed, time.Time{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("articles = %d, want 1", len(articles))
	}

	a := articles[0]
	if a.Title != "Advisory one" {
		t.Errorf("title = %q", a.Title)
	}
	if !strings.Contains(a.NormalizedContent, "Full advisory text") {
		t.Errorf("content = %q, want extracted page text", a.NormalizedContent)
	}
	if len(a.ContentHash) != 64 {
		t.Errorf("content hash = %q, want sha256 hex", a.ContentHash)
	}
	if a.FeedMetadata["feed_name"] != "test-feed" || a.FeedMetadata["feed_category"] != "advisories" {
		t.Errorf("feed metadata = %v", a.FeedMetadata)
	}

	// Both representations are persisted.
	raw, err := blobs.Get(context.Background(), store.BucketContent, a.RawBlobRef)
	if err != nil {
		t.Fatalf("raw blob missing: %v", err)
	}
	if !strings.Contains(string(raw), "<article>") {
		t.Errorf("raw blob = %q", raw)
	}
	normalized, err := blobs.Get(context.Background(), store.BucketContent, a.NormalizedBlobRef)
	if err != nil {
		t.Fatalf("normalized blob missing: %v", err)
	}
	if string(normalized) != a.NormalizedContent {
		t.Error("normalized blob does not match article content")
	}

	// Re-fetching the same entry yields the same article id.
	again, err := parser.Fetch(context.Background(), feed, time.Time{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(again) != 1 || again[0].ArticleID != a.ArticleID {
		t.Error("re-ingesting the same entry should produce the same article id")
	}
}

func TestFetchConditionalGet(t *testing.T) {
	requests := 0
	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>F</title></channel></rss>`)
	}))
	defer feedServer.Close()

	parser, _, _ := newTestParser(t)
	feed := registry.FeedConfig{Name: "cond-feed", URL: feedServer.URL}

	if _, err := parser.Fetch(context.Background(), feed, time.Time{}); err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	articles, err := parser.Fetch(context.Background(), feed, time.Time{})
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if articles != nil {
		t.Errorf("304 fetch = %v, want nil", articles)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
}

func TestFetchSinceFilter(t *testing.T) {
	feedXML := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>F</title>
<item><title>Old</title><link>https://unreachable.invalid/old</link>
  <description>old summary</description>
  <pubDate>Mon, 10 Aug 2026 00:00:00 +0000</pubDate></item>
<item><title>New</title><link>https://unreachable.invalid/new</link>
  <description>new summary</description>
  <pubDate>Thu, 20 Aug 2026 00:00:00 +0000</pubDate></item>
</channel></rss>`

	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedXML)
	}))
	defer feedServer.Close()

	parser, _, _ := newTestParser(t)
	feed := registry.FeedConfig{Name: "since-feed", URL: feedServer.URL}

	since := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	articles, err := parser.Fetch(context.Background(), feed, since)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// The article pages are unreachable, so content falls back to the summary.
	if len(articles) != 1 || articles[0].Title != "New" {
		t.Fatalf("articles = %+v, want only the new entry", articles)
	}
	if !strings.Contains(articles[0].NormalizedContent, "new summary") {
		t.Errorf("content = %q, want the feed summary fallback", articles[0].NormalizedContent)
	}
}
