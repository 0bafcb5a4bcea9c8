// Package events defines the downstream event bus the decision processor and
// orchestrator publish to. Emission is best-effort: subscribers losing an
// event never rolls back a state transition.
package events

import (
	"context"
	"time"
)

// Event kinds emitted by the pipeline and the decision processor.
const (
	KindArticleApproved      = "ArticleApproved"
	KindArticleRejected      = "ArticleRejected"
	KindArticleEditRequested = "ArticleEditRequested"
	KindArticleEscalated     = "ArticleEscalated"
	KindArticlePublished     = "ArticlePublished"
)

// Event is one downstream notification about an article.
type Event struct {
	EventID   string            `json:"event_id"`
	Kind      string            `json:"kind"`
	ArticleID string            `json:"article_id"`
	Actor     string            `json:"actor,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Bus publishes events to downstream consumers.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
