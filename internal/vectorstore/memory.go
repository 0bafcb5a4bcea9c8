package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory VectorStore for local runs and tests. It does a
// linear cosine scan, which is fine for the working set sizes the dedup
// window produces.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory vector index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Upsert(ctx context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ArticleID] = entry
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	k := query.K
	if k <= 0 {
		k = 10
	}
	excluded := make(map[string]bool, len(query.ExcludeIDs))
	for _, id := range query.ExcludeIDs {
		excluded[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for id, entry := range m.entries {
		if excluded[id] {
			continue
		}
		sim := cosineSimilarity(query.Embedding, entry.Embedding)
		if sim < query.SimilarityThreshold {
			continue
		}
		results = append(results, SearchResult{
			ArticleID:   id,
			Similarity:  sim,
			Title:       entry.Title,
			URL:         entry.URL,
			PublishedAt: entry.PublishedAt,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Similarity > results[j].Similarity })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (m *MemoryStore) Delete(ctx context.Context, articleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, articleID)
	return nil
}

func (m *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &Stats{TotalEmbeddings: int64(len(m.entries))}
	for _, e := range m.entries {
		stats.Dimensions = len(e.Embedding)
		break
	}
	return stats, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
