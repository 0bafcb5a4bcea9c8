// Package vectorstore provides the article embedding index used by the
// semantic dedup stage.
package vectorstore

import (
	"context"
	"time"
)

// Entry is one indexed article embedding with the metadata the dedup engine
// needs to explain a match.
type Entry struct {
	ArticleID   string    `json:"article_id"`
	Embedding   []float64 `json:"embedding"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// SearchQuery configures a k-nearest-neighbour search.
type SearchQuery struct {
	// Embedding is the query vector.
	Embedding []float64

	// K is the number of neighbours to return (default 10).
	K int

	// SimilarityThreshold is the minimum cosine similarity (default 0.0,
	// i.e. no cutoff; the dedup engine applies its own 0.85 gate).
	SimilarityThreshold float64

	// ExcludeIDs filters out specific articles, typically the query article
	// itself.
	ExcludeIDs []string
}

// SearchResult is one neighbour with its cosine similarity.
type SearchResult struct {
	ArticleID   string
	Similarity  float64 // 1 - cosine distance, higher is more similar
	Title       string
	URL         string
	PublishedAt time.Time
}

// Stats summarizes index contents.
type Stats struct {
	TotalEmbeddings int64
	Dimensions      int
}

// VectorStore is the article embedding index. Upsert is idempotent by
// article id: the index is append-only per article and duplicate writes for
// the same id replace the previous vector.
type VectorStore interface {
	Upsert(ctx context.Context, entry Entry) error
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)
	Delete(ctx context.Context, articleID string) error
	GetStats(ctx context.Context) (*Stats, error)
}
