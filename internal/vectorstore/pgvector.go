package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PgVectorStore implements VectorStore on PostgreSQL with the pgvector
// extension, using cosine distance (<=>) for ranking.
type PgVectorStore struct {
	db *sql.DB
}

// NewPgVectorStore wraps an open Postgres connection. The caller owns the
// connection lifecycle.
func NewPgVectorStore(db *sql.DB) *PgVectorStore {
	return &PgVectorStore{db: db}
}

// Initialize creates the embeddings table and index if they do not exist.
func (p *PgVectorStore) Initialize(ctx context.Context, dimensions int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS article_embeddings (
			article_id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMPTZ
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_article_embeddings_cosine
			ON article_embeddings USING ivfflat (embedding vector_cosine_ops)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
	}
	return nil
}

func (p *PgVectorStore) Upsert(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO article_embeddings (article_id, embedding, title, url, published_at)
		VALUES ($1, $2::vector, $3, $4, $5)
		ON CONFLICT (article_id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    title = EXCLUDED.title,
		    url = EXCLUDED.url,
		    published_at = EXCLUDED.published_at
	`
	_, err := p.db.ExecContext(ctx, query,
		entry.ArticleID, formatVector(entry.Embedding), entry.Title, entry.URL, entry.PublishedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s: %w", entry.ArticleID, err)
	}
	return nil
}

func (p *PgVectorStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if query.K <= 0 {
		query.K = 10
	}
	vectorStr := formatVector(query.Embedding)

	excludeClause := ""
	args := []interface{}{vectorStr, query.SimilarityThreshold, query.K}
	if len(query.ExcludeIDs) > 0 {
		excludeClause = "AND article_id <> ALL($4::text[])"
		args = append(args, pq.Array(query.ExcludeIDs))
	}

	sqlQuery := fmt.Sprintf(`
		SELECT
			article_id,
			1 - (embedding <=> $1::vector) AS similarity,
			title,
			url,
			published_at
		FROM article_embeddings
		WHERE 1 - (embedding <=> $1::vector) >= $2
		  %s
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`, excludeClause)

	rows, err := p.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var published sql.NullTime
		if err := rows.Scan(&r.ArticleID, &r.Similarity, &r.Title, &r.URL, &published); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if published.Valid {
			r.PublishedAt = published.Time
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (p *PgVectorStore) Delete(ctx context.Context, articleID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM article_embeddings WHERE article_id = $1`, articleID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding for %s: %w", articleID, err)
	}
	return nil
}

func (p *PgVectorStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	row := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM article_embeddings`)
	if err := row.Scan(&stats.TotalEmbeddings); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	row = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(vector_dims(embedding)), 0) FROM article_embeddings`)
	if err := row.Scan(&stats.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to read embedding dimensions: %w", err)
	}
	return stats, nil
}
// formatVector converts a float slice to pgvector's '[x,y,z]' literal.
func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
