package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/store"
	"github.com/Virgo-Alpha/sentinel/internal/vectorstore"
)

type fakeEmbedder struct {
	vec []float64
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return f.vec, f.err
}

func newTestEngine(t *testing.T, embedder *fakeEmbedder) (*Engine, store.EntityStore) {
	t.Helper()
	entities, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { entities.Close() })
	if embedder == nil {
		embedder = &fakeEmbedder{vec: []float64{1, 0, 0}}
	}
	return NewEngine(entities, vectorstore.NewMemoryStore(), embedder), entities
}

func storeArticle(t *testing.T, entities store.EntityStore, a core.Article) {
	t.Helper()
	a.Version = 1
	if a.State == "" {
		a.State = core.StatePublished
	}
	if err := entities.Put(context.Background(), store.TableArticles, a.ID, a, true); err != nil {
		t.Fatalf("Put(%s) error = %v", a.ID, err)
	}
}

func TestProcessExactURLDuplicate(t *testing.T) {
	engine, entities := newTestEngine(t, nil)
	ctx := context.Background()
	published := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	storeArticle(t, entities, core.Article{
		ID:          "canonical-1",
		URL:         "https://example.com/openssl-flaw",
		Title:       "Critical OpenSSL flaw patched",
		PublishedAt: published,
	})

	result, err := engine.Process(ctx, core.ParsedArticle{
		ArticleID:   "new-1",
		URL:         "https://example.com/openssl-flaw",
		Title:       "Critical OpenSSL flaw patched",
		PublishedAt: published.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !result.IsDuplicate {
		t.Fatal("expected a duplicate verdict")
	}
	if result.Method != MethodExactURL {
		t.Errorf("method = %q, want %q", result.Method, MethodExactURL)
	}
	if result.DuplicateOf != "canonical-1" {
		t.Errorf("duplicate_of = %q, want canonical-1", result.DuplicateOf)
	}
	if result.ClusterID != core.ClusterIDFor("canonical-1") {
		t.Errorf("cluster = %q, want %q", result.ClusterID, core.ClusterIDFor("canonical-1"))
	}

	// The canonical gains the cluster id in place.
	var canonical core.Article
	if err := entities.Get(ctx, store.TableArticles, "canonical-1", &canonical, true); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if canonical.ClusterID != result.ClusterID {
		t.Errorf("canonical cluster = %q, want %q", canonical.ClusterID, result.ClusterID)
	}
	if canonical.Version != 2 {
		t.Errorf("canonical version = %d, want 2 after cluster assignment", canonical.Version)
	}
}

func TestProcessTitleSimilarityDuplicate(t *testing.T) {
	engine, entities := newTestEngine(t, nil)
	published := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	storeArticle(t, entities, core.Article{
		ID:          "canonical-2",
		URL:         "https://news.example.com/a/openssl-critical-flaw",
		Title:       "Critical OpenSSL flaw patched in latest release",
		PublishedAt: published,
	})

	result, err := engine.Process(context.Background(), core.ParsedArticle{
		ArticleID:   "new-2",
		URL:         "https://www.example.com/b/openssl-story",
		Title:       "BREAKING: Critical OpenSSL flaw patched in latest release!",
		PublishedAt: published.Add(6 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !result.IsDuplicate {
		t.Fatal("expected a duplicate verdict")
	}
	if result.Method != MethodTitle {
		t.Errorf("method = %q, want %q", result.Method, MethodTitle)
	}
	if result.Similarity < titleSimilarityThreshold {
		t.Errorf("similarity = %v, want >= %v", result.Similarity, titleSimilarityThreshold)
	}
}

func TestProcessOutsideWindowIsNotDuplicate(t *testing.T) {
	engine, entities := newTestEngine(t, nil)
	published := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	// Same URL, but published well beyond the 72h candidate window.
	storeArticle(t, entities, core.Article{
		ID:          "old-1",
		URL:         "https://example.com/openssl-flaw",
		Title:       "Critical OpenSSL flaw patched",
		PublishedAt: published.Add(-100 * time.Hour),
	})

	result, err := engine.Process(context.Background(), core.ParsedArticle{
		ArticleID:   "new-3",
		URL:         "https://example.com/openssl-flaw",
		Title:       "Critical OpenSSL flaw patched",
		PublishedAt: published,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if result.IsDuplicate {
		t.Fatalf("article outside the window flagged duplicate via %s", result.Method)
	}
	if result.ClusterID != core.ClusterIDFor("new-3") {
		t.Errorf("cluster = %q, want a fresh cluster for the article", result.ClusterID)
	}
}

func TestProcessSemanticDuplicate(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeEmbedder{vec: []float64{0.6, 0.8, 0}})
	published := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	first, err := engine.Process(context.Background(), core.ParsedArticle{
		ArticleID:         "sem-1",
		URL:               "https://alpha.example.com/original-report",
		Title:             "Ransomware group exploits VPN appliances",
		NormalizedContent: "A ransomware group is exploiting VPN appliances.",
		PublishedAt:       published,
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if first.IsDuplicate {
		t.Fatal("first article should be canonical")
	}

	// Different URL, domain, and title; only the embedding agrees.
	second, err := engine.Process(context.Background(), core.ParsedArticle{
		ArticleID:         "sem-2",
		URL:               "https://beta.example.org/rewritten-coverage",
		Title:             "Attack wave hits remote access gear",
		NormalizedContent: "Coverage of the same incident, reworded.",
		PublishedAt:       published.Add(3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if !second.IsDuplicate {
		t.Fatal("expected a semantic duplicate verdict")
	}
	if second.Method != MethodSemantic {
		t.Errorf("method = %q, want %q", second.Method, MethodSemantic)
	}
	if second.DuplicateOf != "sem-1" {
		t.Errorf("duplicate_of = %q, want sem-1", second.DuplicateOf)
	}
	if second.Similarity < semanticThreshold {
		t.Errorf("similarity = %v, want >= %v", second.Similarity, semanticThreshold)
	}
}

func TestProcessEmbeddingFailureDegrades(t *testing.T) {
	engine, _ := newTestEngine(t, &fakeEmbedder{err: errors.New("model unavailable")})

	result, err := engine.Process(context.Background(), core.ParsedArticle{
		ArticleID:   "deg-1",
		URL:         "https://example.com/unique-story",
		Title:       "A unique story",
		PublishedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Process() error = %v, want degraded success", err)
	}
	if result.IsDuplicate {
		t.Error("degraded run should keep the heuristic verdict")
	}
	if result.Warning == "" {
		t.Error("degraded run should record a warning")
	}
	if result.ClusterID != core.ClusterIDFor("deg-1") {
		t.Errorf("cluster = %q, want fresh cluster", result.ClusterID)
	}
}
