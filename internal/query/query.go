// Package query is the read-side facade: state listings, the review queue,
// cluster views, audit trails, and status aggregates.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

// Facade answers read queries over the entity store.
type Facade struct {
	entities store.EntityStore
	blobs    store.BlobStore
	now      func() time.Time
}

func NewFacade(entities store.EntityStore, blobs store.BlobStore) *Facade {
	return &Facade{entities: entities, blobs: blobs, now: time.Now}
}

// ArticlePage is one page of article listings.
type ArticlePage struct {
	Articles   []core.Article `json:"articles"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Article reads one article by id.
func (f *Facade) Article(ctx context.Context, articleID string) (*core.Article, error) {
	var article core.Article
	if err := f.entities.Get(ctx, store.TableArticles, articleID, &article, false); err != nil {
		return nil, fmt.Errorf("failed to read article %s: %w", articleID, err)
	}
	return &article, nil
}

// ByState lists articles in one state, most recently published first.
func (f *Facade) ByState(ctx context.Context, state core.ArticleState, cursor string, limit int) (*ArticlePage, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: invalid state %q", core.ErrValidation, state)
	}
	if limit <= 0 {
		limit = 50
	}

	page, err := f.entities.QuerySecondary(ctx, store.SecondaryQuery{
		Table:      store.TableArticles,
		Index:      store.IndexStatePublished,
		Partition:  string(state),
		Descending: true,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s articles: %w", state, err)
	}
	articles, err := decodeArticles(page.Items)
	if err != nil {
		return nil, err
	}
	return &ArticlePage{Articles: articles, NextCursor: page.NextCursor}, nil
}

// ReviewQueue returns the REVIEW articles ordered by descending priority.
func (f *Facade) ReviewQueue(ctx context.Context, limit int) ([]core.Article, error) {
	var queue []core.Article
	cursor := ""
	for {
		page, err := f.entities.QuerySecondary(ctx, store.SecondaryQuery{
			Table:     store.TableArticles,
			Index:     store.IndexStatePublished,
			Partition: string(core.StateReview),
			Limit:     200,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read review queue: %w", err)
		}
		articles, err := decodeArticles(page.Items)
		if err != nil {
			return nil, err
		}
		queue = append(queue, articles...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].PriorityScore > queue[j].PriorityScore
	})
	if limit > 0 && len(queue) > limit {
		queue = queue[:limit]
	}
	return queue, nil
}

// Cluster lists the members of one cluster in publication order.
func (f *Facade) Cluster(ctx context.Context, clusterID string) ([]core.Article, error) {
	var members []core.Article
	cursor := ""
	for {
		page, err := f.entities.QuerySecondary(ctx, store.SecondaryQuery{
			Table:     store.TableArticles,
			Index:     store.IndexClusterPublished,
			Partition: clusterID,
			Limit:     200,
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read cluster %s: %w", clusterID, err)
		}
		articles, err := decodeArticles(page.Items)
		if err != nil {
			return nil, err
		}
		members = append(members, articles...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: cluster %s", core.ErrNotFound, clusterID)
	}
	return members, nil
}

// AuditTrail reads an article's append-only audit history.
func (f *Facade) AuditTrail(ctx context.Context, articleID string) ([]core.AuditEntry, error) {
	article, err := f.Article(ctx, articleID)
	if err != nil {
		return nil, err
	}
	return article.AuditTrail, nil
}

// Status aggregates per-state article counts.
type Status struct {
	Counts      map[core.ArticleState]int `json:"counts"`
	QueueDepth  int                       `json:"queue_depth"`
	GeneratedAt time.Time                 `json:"generated_at"`
}

// Status counts articles per state by walking the state index.
func (f *Facade) Status(ctx context.Context) (*Status, error) {
	status := &Status{
		Counts:      make(map[core.ArticleState]int),
		GeneratedAt: f.now().UTC(),
	}
	for _, state := range []core.ArticleState{
		core.StateIngested, core.StateProcessed, core.StatePublished,
		core.StateReview, core.StateArchived,
	} {
		count, err := f.countState(ctx, state)
		if err != nil {
			return nil, err
		}
		status.Counts[state] = count
	}
	status.QueueDepth = status.Counts[core.StateReview]
	return status, nil
}

func (f *Facade) countState(ctx context.Context, state core.ArticleState) (int, error) {
	count := 0
	cursor := ""
	for {
		page, err := f.entities.QuerySecondary(ctx, store.SecondaryQuery{
			Table:     store.TableArticles,
			Index:     store.IndexStatePublished,
			Partition: string(state),
			Limit:     500,
			Cursor:    cursor,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to count %s articles: %w", state, err)
		}
		count += len(page.Keys)
		if page.NextCursor == "" {
			return count, nil
		}
		cursor = page.NextCursor
	}
}

func decodeArticles(items []json.RawMessage) ([]core.Article, error) {
	out := make([]core.Article, 0, len(items))
	for _, raw := range items {
		var a core.Article
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("failed to decode article: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}
