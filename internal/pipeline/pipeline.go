// Package pipeline orchestrates the per-article triage workflow: relevance,
// dedup, guardrail, triage, persistence, and dispatch.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/dedup"
	"github.com/Virgo-Alpha/sentinel/internal/escalate"
	"github.com/Virgo-Alpha/sentinel/internal/events"
	"github.com/Virgo-Alpha/sentinel/internal/guardrail"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"github.com/Virgo-Alpha/sentinel/internal/registry"
	"github.com/Virgo-Alpha/sentinel/internal/relevance"
	"github.com/Virgo-Alpha/sentinel/internal/store"
	"github.com/Virgo-Alpha/sentinel/internal/triage"
)

// Tuning defaults.
const (
	DefaultConcurrency = 5
	articleDeadline    = 120 * time.Second
	retryAttempts      = 3
	retryBaseDelay     = 500 * time.Millisecond
)

// FeedSource yields parsed articles for one configured feed.
type FeedSource interface {
	Fetch(ctx context.Context, feed registry.FeedConfig, since time.Time) ([]core.ParsedArticle, error)
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	reg         *registry.Registry
	source      FeedSource
	evaluator   *relevance.Evaluator
	dedup       *dedup.Engine
	guard       *guardrail.Validator
	escalator   *escalate.Escalator
	entities    store.EntityStore
	blobs       store.BlobStore
	bus         events.Bus
	concurrency int
	now         func() time.Time
	newID       func() string
}

// Options carries optional orchestrator settings.
type Options struct {
	Concurrency int
}

// NewOrchestrator builds the orchestrator. bus may be nil.
func NewOrchestrator(reg *registry.Registry, source FeedSource, evaluator *relevance.Evaluator,
	engine *dedup.Engine, guard *guardrail.Validator, escalator *escalate.Escalator,
	entities store.EntityStore, blobs store.BlobStore, bus events.Bus, opts Options) *Orchestrator {

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Orchestrator{
		reg:         reg,
		source:      source,
		evaluator:   evaluator,
		dedup:       engine,
		guard:       guard,
		escalator:   escalator,
		entities:    entities,
		blobs:       blobs,
		bus:         bus,
		concurrency: concurrency,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Summary aggregates one feed run.
type Summary struct {
	FeedID    string `json:"feed_id"`
	Fetched   int    `json:"fetched"`
	Processed int    `json:"processed"`
	Published int    `json:"published"`
	Reviewed  int    `json:"reviewed"`
	Dropped   int    `json:"dropped"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// Run fetches the feed and processes each article with bounded concurrency.
// A failing article is logged and counted; it never aborts the batch.
func (o *Orchestrator) Run(ctx context.Context, feedID string, since time.Time) (*Summary, error) {
	feed, ok := o.reg.FeedByName(feedID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown feed %q", core.ErrNotFound, feedID)
	}

	articles, err := o.source.Fetch(ctx, feed, since)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed %s: %w", feedID, err)
	}

	summary := &Summary{FeedID: feedID, Fetched: len(articles)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for _, parsed := range articles {
		parsed := parsed
		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, articleDeadline)
			defer cancel()

			result, err := o.processArticle(actx, feed, parsed)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				logger.Error("Article processing failed", err,
					"feed", feedID, "article_id", parsed.ArticleID)
				return nil
			}
			switch result {
			case outcomeSkipped:
				summary.Skipped++
			case outcomePublished:
				summary.Processed++
				summary.Published++
			case outcomeReview:
				summary.Processed++
				summary.Reviewed++
			case outcomeDropped:
				summary.Processed++
				summary.Dropped++
			}
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("Feed run complete", "feed", feedID,
		"fetched", summary.Fetched, "published", summary.Published,
		"reviewed", summary.Reviewed, "dropped", summary.Dropped,
		"skipped", summary.Skipped, "failed", summary.Failed)
	return summary, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomePublished
	outcomeReview
	outcomeDropped
)

// trace is one per-article processing record persisted to the traces bucket.
type trace struct {
	ArticleID string      `json:"article_id"`
	FeedID    string      `json:"feed_id"`
	StartedAt time.Time   `json:"started_at"`
	Steps     []traceStep `json:"steps"`
	Outcome   string      `json:"outcome,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type traceStep struct {
	Name       string `json:"name"`
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
}

func (t *trace) record(name string, started time.Time, detail string) {
	t.Steps = append(t.Steps, traceStep{
		Name:       name,
		DurationMS: time.Since(started).Milliseconds(),
		Detail:     detail,
	})
}

// processArticle runs the sequential per-article workflow. Re-running the
// same feed entry is a no-op once the article has left INGESTED.
func (o *Orchestrator) processArticle(ctx context.Context, feed registry.FeedConfig, parsed core.ParsedArticle) (outcome, error) {
	tr := &trace{ArticleID: parsed.ArticleID, FeedID: feed.Name, StartedAt: o.now().UTC()}
	defer o.persistTrace(ctx, tr)

	var existing core.Article
	err := o.entities.Get(ctx, store.TableArticles, parsed.ArticleID, &existing, true)
	if err == nil && existing.State != core.StateIngested {
		tr.Outcome = "skipped"
		return outcomeSkipped, nil
	}
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return 0, fmt.Errorf("failed to check article: %w", err)
	}

	article := core.Article{
		ID:          parsed.ArticleID,
		FeedID:      feed.Name,
		URL:         parsed.CanonicalURL,
		RawURL:      parsed.URL,
		Title:       parsed.Title,
		PublishedAt: parsed.PublishedAt,
		IngestedAt:  o.now().UTC(),
		ContentHash: parsed.ContentHash,
		RawBlobKey:  parsed.RawBlobRef,
		TextBlobKey: parsed.NormalizedBlobRef,
		Tags:        parsed.Tags,
		State:       core.StateIngested,
		Version:     1,
	}
	if err == nil {
		article = existing
	} else {
		putErr := o.withRetry(ctx, "ingest", func() error {
			return o.entities.Put(ctx, store.TableArticles, article.ID, article, true)
		})
		if putErr != nil && !errors.Is(putErr, core.ErrPreconditionFailed) {
			return 0, fmt.Errorf("failed to create article: %w", putErr)
		}
	}

	// Relevance.
	started := o.now()
	rel := o.evaluator.Evaluate(ctx, article.ID, parsed.Title, parsed.NormalizedContent)
	tr.record("relevance", started, fmt.Sprintf("score=%.2f matches=%d", rel.RelevancyScore, len(rel.KeywordMatches)))

	// Dedup. A duplicate is archived immediately; no guardrail or triage.
	started = o.now()
	var dd core.DedupResult
	err = o.withRetry(ctx, "dedup", func() error {
		var derr error
		dd, derr = o.dedup.Process(ctx, parsed)
		return derr
	})
	if err != nil {
		tr.Error = err.Error()
		return 0, fmt.Errorf("dedup failed: %w", err)
	}
	tr.record("dedup", started, fmt.Sprintf("duplicate=%t method=%s", dd.IsDuplicate, dd.Method))

	article.IsDuplicate = dd.IsDuplicate
	article.DuplicateOf = dd.DuplicateOf
	article.ClusterID = dd.ClusterID
	article.RelevancyScore = rel.RelevancyScore
	article.KeywordMatches = rel.KeywordMatches
	article.Entities = rel.Entities
	article.Confidence = rel.Confidence
	article.Summary = summarize(rel.Rationale)

	if dd.IsDuplicate {
		article.TriageAction = core.ActionDrop
		if err := o.transition(ctx, &article, core.StateArchived, "duplicate of "+dd.DuplicateOf); err != nil {
			return 0, err
		}
		tr.Outcome = "dropped_duplicate"
		return outcomeDropped, nil
	}

	// Guardrail.
	started = o.now()
	guard := o.guard.Validate(ctx, guardrail.Input{Article: parsed, Relevance: rel})
	tr.record("guardrail", started, fmt.Sprintf("passed=%t violations=%d", guard.Passed, len(guard.Violations)))
	article.GuardrailFlags = guard.Flags

	// Triage.
	started = o.now()
	decision := triage.Decide(rel, guard)
	tr.record("triage", started, string(decision.Action))
	article.TriageAction = decision.Action

	// Persist the processing results, then dispatch.
	if err := o.transition(ctx, &article, core.StateProcessed, decision.Reason); err != nil {
		return 0, err
	}

	switch decision.Action {
	case core.ActionAutoPublish:
		if err := o.transition(ctx, &article, core.StatePublished, decision.Reason); err != nil {
			return 0, err
		}
		o.emitPublished(ctx, article)
		tr.Outcome = "published"
		return outcomePublished, nil

	case core.ActionDrop:
		if err := o.transition(ctx, &article, core.StateArchived, decision.Reason); err != nil {
			return 0, err
		}
		tr.Outcome = "dropped"
		return outcomeDropped, nil

	default:
		reason := reviewReason(rel, guard)
		if _, err := o.escalator.Escalate(ctx, &article, reason, guard); err != nil {
			return 0, err
		}
		tr.Outcome = "review"
		return outcomeReview, nil
	}
}

// reviewReason derives the escalation reason from the triage inputs.
func reviewReason(rel core.RelevanceResult, guard core.GuardrailResult) string {
	switch {
	case !guard.Passed:
		return escalate.ReasonGuardrailViolation
	case rel.RelevancyScore >= 0.6 && rel.RelevancyScore <= 0.8:
		return escalate.ReasonMediumRelevancy
	case rel.RelevancyScore > 0.8 && rel.DistinctKeywordHits() == 0:
		return escalate.ReasonHighRelevancyNoKeyword
	default:
		return escalate.ReasonManualReviewRequested
	}
}

// transition performs a conditional state update with an audit entry.
func (o *Orchestrator) transition(ctx context.Context, article *core.Article, newState core.ArticleState, rationale string) error {
	prevState := article.State
	prevVersion := article.Version
	now := o.now().UTC()

	article.State = newState
	article.Version = prevVersion + 1
	article.AuditTrail = append(article.AuditTrail, core.AuditEntry{
		AuditID:     o.newID(),
		Timestamp:   now,
		Action:      core.AuditActionPipeline,
		Actor:       core.AuditActorSystem,
		PrevState:   prevState,
		NewState:    newState,
		Rationale:   rationale,
		PrevVersion: prevVersion,
		NewVersion:  article.Version,
	})

	err := o.withRetry(ctx, "persist", func() error {
		return o.entities.Update(ctx, store.TableArticles, article.ID, prevVersion, *article)
	})
	if err != nil {
		return fmt.Errorf("failed to transition article %s to %s: %w", article.ID, newState, err)
	}
	return nil
}

func (o *Orchestrator) emitPublished(ctx context.Context, article core.Article) {
	if o.bus == nil {
		return
	}
	err := o.bus.Publish(ctx, events.Event{
		EventID:   o.newID(),
		Kind:      events.KindArticlePublished,
		ArticleID: article.ID,
		Actor:     core.AuditActorSystem,
		Timestamp: o.now().UTC(),
		Payload: map[string]string{
			"feed_id":    article.FeedID,
			"cluster_id": article.ClusterID,
		},
	})
	if err != nil {
		logger.Warn("Publication event failed", "article_id", article.ID, "error", err.Error())
	}
}

// withRetry retries transient failures with exponential backoff and jitter.
func (o *Orchestrator) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := retryBaseDelay
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !core.IsTransient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 2))
		logger.Debug("Retrying after transient failure", "op", op,
			"attempt", attempt, "delay", (delay + jitter).String())
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s interrupted: %v", core.ErrTimeout, op, ctx.Err())
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}

func (o *Orchestrator) persistTrace(ctx context.Context, tr *trace) {
	data, err := json.Marshal(tr)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%s.json", tr.FeedID, tr.StartedAt.UTC().Format("2006-01-02"), tr.ArticleID)
	if err := o.blobs.Put(ctx, store.BucketTraces, key, data, "application/json"); err != nil {
		logger.Debug("Trace not persisted", "article_id", tr.ArticleID, "error", err.Error())
	}
}

// summarize keeps a short lead of the model rationale as the article summary.
func summarize(rationale string) string {
	const limit = 280
	if len(rationale) <= limit {
		return rationale
	}
	return rationale[:limit]
}
