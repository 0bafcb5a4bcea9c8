package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/llm"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"github.com/Virgo-Alpha/sentinel/internal/store"
	"github.com/Virgo-Alpha/sentinel/internal/vectorstore"
)

// Heuristic method names, in test order.
const (
	MethodExactURL     = "exact_url_match"
	MethodCanonicalURL = "canonical_url_match"
	MethodTitle        = "title_similarity"
	MethodURLPattern   = "url_pattern_similarity"
	MethodSemantic     = "semantic_similarity"
)

// Engine thresholds and the candidate window.
const (
	DefaultWindow            = 72 * time.Hour
	titleSimilarityThreshold = 0.85
	pathSimilarityThreshold  = 0.90
	semanticThreshold        = 0.85
	semanticContentLimit     = 2000
	semanticNeighbours       = 10
)

// Engine runs heuristic then semantic duplicate detection and assigns cluster
// identity. A semantic-stage failure never blocks the pipeline: the heuristic
// verdict stands and a warning is recorded on the result.
type Engine struct {
	entities store.EntityStore
	vectors  vectorstore.VectorStore
	embedder llm.EmbeddingModel

	window time.Duration
	now    func() time.Time
}

// NewEngine builds a dedup engine over the entity store, vector index, and
// embedding model.
func NewEngine(entities store.EntityStore, vectors vectorstore.VectorStore, embedder llm.EmbeddingModel) *Engine {
	return &Engine{
		entities: entities,
		vectors:  vectors,
		embedder: embedder,
		window:   DefaultWindow,
		now:      time.Now,
	}
}

// Process dedups one parsed article: heuristic stage against the publication
// window, semantic stage as fallback, then cluster assignment. The caller
// persists the returned fields on the article.
func (e *Engine) Process(ctx context.Context, article core.ParsedArticle) (core.DedupResult, error) {
	fp := NewFingerprint(article)

	candidates, err := e.windowCandidates(ctx, article)
	if err != nil {
		return core.DedupResult{}, fmt.Errorf("failed to load dedup candidates: %w", err)
	}

	result := e.heuristic(fp, candidates)

	var embedding []float64
	if !result.IsDuplicate {
		semantic, emb, warn := e.semantic(ctx, article)
		embedding = emb
		if warn != "" {
			result.Warning = warn
		}
		if semantic != nil {
			result = *semantic
		}
	}

	if result.IsDuplicate {
		clusterID, err := e.assignDuplicate(ctx, &result)
		if err != nil {
			return core.DedupResult{}, err
		}
		result.ClusterID = clusterID
		return result, nil
	}

	// New canonical: new cluster, and its embedding becomes searchable for
	// future comparisons.
	result.ClusterID = core.ClusterIDFor(article.ArticleID)
	if embedding != nil {
		err := e.vectors.Upsert(ctx, vectorstore.Entry{
			ArticleID:   article.ArticleID,
			Embedding:   embedding,
			Title:       article.Title,
			URL:         article.URL,
			PublishedAt: article.PublishedAt,
		})
		if err != nil {
			logger.Warn("Failed to index embedding", "article_id", article.ArticleID, "error", err.Error())
			if result.Warning == "" {
				result.Warning = "embedding index write failed"
			}
		}
	}
	return result, nil
}

// heuristic applies the four ordered tests; an earlier test on any candidate
// beats a later test on all candidates.
func (e *Engine) heuristic(fp Fingerprint, candidates []core.Article) core.DedupResult {
	type test struct {
		method string
		score  func(cand Fingerprint) float64
	}
	tests := []test{
		{MethodExactURL, func(c Fingerprint) float64 {
			if fp.URL != "" && fp.URL == c.URL {
				return 1.0
			}
			return 0
		}},
		{MethodCanonicalURL, func(c Fingerprint) float64 {
			if fp.CanonicalURL != "" && fp.CanonicalURL == c.CanonicalURL {
				return 0.95
			}
			return 0
		}},
		{MethodTitle, func(c Fingerprint) float64 {
			if fp.Domain == "" || fp.Domain != c.Domain {
				return 0
			}
			if sim := Similarity(fp.NormalizedTitle, c.NormalizedTitle); sim >= titleSimilarityThreshold {
				return sim
			}
			return 0
		}},
		{MethodURLPattern, func(c Fingerprint) float64 {
			if fp.NormalizedPath == "" {
				return 0
			}
			if sim := Similarity(fp.NormalizedPath, c.NormalizedPath); sim >= pathSimilarityThreshold {
				return sim
			}
			return 0
		}},
	}

	for _, t := range tests {
		for i := range candidates {
			cand := candidates[i]
			if cand.ID == fp.ArticleID {
				continue
			}
			cf := FingerprintArticle(cand)
			if score := t.score(cf); score > 0 {
				duplicateOf := cand.ID
				if cand.IsDuplicate && cand.DuplicateOf != "" {
					duplicateOf = cand.DuplicateOf
				}
				return core.DedupResult{
					IsDuplicate: true,
					DuplicateOf: duplicateOf,
					Method:      t.method,
					Similarity:  score,
				}
			}
		}
	}
	return core.DedupResult{Similarity: 0}
}

// semantic embeds the article and queries the vector index. It returns a
// non-nil result only on a confident duplicate; the embedding is returned for
// post-processing either way. Failures degrade to the heuristic verdict.
func (e *Engine) semantic(ctx context.Context, article core.ParsedArticle) (*core.DedupResult, []float64, string) {
	content := article.NormalizedContent
	if len(content) > semanticContentLimit {
		content = content[:semanticContentLimit]
	}
	embedding, err := e.embedder.Embed(ctx, article.Title+"\n\n"+content)
	if err != nil {
		logger.Warn("Semantic dedup degraded: embedding failed",
			"article_id", article.ArticleID, "error", err.Error())
		return nil, nil, "semantic stage unavailable: embedding failed"
	}

	results, err := e.vectors.Search(ctx, vectorstore.SearchQuery{
		Embedding:  embedding,
		K:          semanticNeighbours,
		ExcludeIDs: []string{article.ArticleID},
	})
	if err != nil {
		logger.Warn("Semantic dedup degraded: vector search failed",
			"article_id", article.ArticleID, "error", err.Error())
		return nil, embedding, "semantic stage unavailable: vector search failed"
	}
	if len(results) == 0 || results[0].Similarity < semanticThreshold {
		return nil, embedding, ""
	}

	top := results[0]
	duplicateOf := top.ArticleID
	// The indexed hit may itself be a duplicate written before clustering;
	// resolve to its canonical when the article is still readable.
	var hit core.Article
	if err := e.entities.Get(ctx, store.TableArticles, top.ArticleID, &hit, false); err == nil {
		if hit.IsDuplicate && hit.DuplicateOf != "" {
			duplicateOf = hit.DuplicateOf
		}
	}
	return &core.DedupResult{
		IsDuplicate: true,
		DuplicateOf: duplicateOf,
		Method:      MethodSemantic,
		Similarity:  top.Similarity,
	}, embedding, ""
}

// assignDuplicate resolves the canonical's cluster, creating it in place when
// the canonical predates clustering, and returns the shared cluster id.
func (e *Engine) assignDuplicate(ctx context.Context, result *core.DedupResult) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		var canonical core.Article
		if err := e.entities.Get(ctx, store.TableArticles, result.DuplicateOf, &canonical, true); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Canonical vanished between detection and assignment; fall
				// back to a fresh cluster named for it so members still agree.
				return core.ClusterIDFor(result.DuplicateOf), nil
			}
			return "", fmt.Errorf("failed to read canonical %s: %w", result.DuplicateOf, err)
		}
		if canonical.ClusterID != "" {
			return canonical.ClusterID, nil
		}

		canonical.ClusterID = core.ClusterIDFor(canonical.ID)
		prev := canonical.Version
		canonical.Version = prev + 1
		err := e.entities.Update(ctx, store.TableArticles, canonical.ID, prev, canonical)
		if err == nil {
			return canonical.ClusterID, nil
		}
		if !errors.Is(err, core.ErrPreconditionFailed) {
			return "", fmt.Errorf("failed to create cluster for canonical %s: %w", canonical.ID, err)
		}
		// Lost the race; re-read and try again.
	}
	return "", fmt.Errorf("%w: creating cluster for canonical %s", core.ErrConflict, result.DuplicateOf)
}

// windowCandidates loads articles published within the sliding window around
// the new article's publication time, across all states.
func (e *Engine) windowCandidates(ctx context.Context, article core.ParsedArticle) ([]core.Article, error) {
	center := article.PublishedAt
	if center.IsZero() {
		center = e.now()
	}
	from := center.Add(-e.window).UTC().Format(time.RFC3339Nano)
	to := center.Add(e.window).UTC().Format(time.RFC3339Nano)

	states := []core.ArticleState{
		core.StateIngested, core.StateProcessed, core.StatePublished,
		core.StateReview, core.StateArchived,
	}

	var candidates []core.Article
	for _, state := range states {
		cursor := ""
		for {
			page, err := e.entities.QuerySecondary(ctx, store.SecondaryQuery{
				Table:     store.TableArticles,
				Index:     store.IndexStatePublished,
				Partition: string(state),
				RangeFrom: from,
				RangeTo:   to,
				Limit:     200,
				Cursor:    cursor,
			})
			if err != nil {
				return nil, err
			}
			for _, raw := range page.Items {
				var a core.Article
				if err := json.Unmarshal(raw, &a); err != nil {
					continue
				}
				candidates = append(candidates, a)
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
	return candidates, nil
}
