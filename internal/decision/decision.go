// Package decision applies human review decisions to articles through the
// validated state machine.
package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/events"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

// Kind is one of the four reviewer decisions.
type Kind string

const (
	Approve  Kind = "approve"
	Reject   Kind = "reject"
	Edit     Kind = "edit"
	Escalate Kind = "escalate"
)

// maxRetries bounds optimistic-concurrency retries before reporting a
// conflict.
const maxRetries = 3

// Modifications are reviewer edits applied alongside a decision. Nil fields
// are left untouched.
type Modifications struct {
	Title   *string  `json:"title,omitempty"`
	Summary *string  `json:"summary,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

// Request is one reviewer decision.
type Request struct {
	ArticleID     string         `json:"article_id"`
	Decision      Kind           `json:"decision"`
	Reviewer      string         `json:"reviewer"`
	Rationale     string         `json:"rationale,omitempty"`
	Modifications *Modifications `json:"modifications,omitempty"`
}

// Result reports the outcome of one applied decision.
type Result struct {
	ArticleID  string             `json:"article_id"`
	DecisionID string             `json:"decision_id,omitempty"`
	PrevState  core.ArticleState  `json:"prev_state,omitempty"`
	NewState   core.ArticleState  `json:"new_state,omitempty"`
	Err        error              `json:"-"`
}

// BatchResult aggregates a batch of decisions.
type BatchResult struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

// transitions is the allowed (state, decision) table for human decisions.
var transitions = map[core.ArticleState]map[Kind]core.ArticleState{
	core.StateReview: {
		Approve:  core.StatePublished,
		Reject:   core.StateArchived,
		Edit:     core.StateReview,
		Escalate: core.StateReview,
	},
	core.StatePublished: {
		Reject: core.StateArchived,
	},
}

var eventKinds = map[Kind]string{
	Approve:  events.KindArticleApproved,
	Reject:   events.KindArticleRejected,
	Edit:     events.KindArticleEditRequested,
	Escalate: events.KindArticleEscalated,
}

// Processor validates and applies reviewer decisions.
type Processor struct {
	entities store.EntityStore
	bus      events.Bus
	now      func() time.Time
	newID    func() string
}

// NewProcessor builds a decision processor. bus may be nil when no event
// consumers are configured.
func NewProcessor(entities store.EntityStore, bus events.Bus) *Processor {
	return &Processor{
		entities: entities,
		bus:      bus,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Process applies one decision: a conditional read-validate-update cycle with
// at most three retries on version conflict, then an audit entry and a
// best-effort downstream event.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if req.ArticleID == "" || req.Reviewer == "" {
		return Result{ArticleID: req.ArticleID},
			fmt.Errorf("%w: article_id and reviewer are required", core.ErrValidation)
	}
	if _, ok := eventKinds[req.Decision]; !ok {
		return Result{ArticleID: req.ArticleID},
			fmt.Errorf("%w: unknown decision %q", core.ErrValidation, req.Decision)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		var article core.Article
		if err := p.entities.Get(ctx, store.TableArticles, req.ArticleID, &article, true); err != nil {
			return Result{ArticleID: req.ArticleID},
				fmt.Errorf("failed to read article %s: %w", req.ArticleID, err)
		}

		newState, ok := transitions[article.State][req.Decision]
		if !ok {
			return Result{ArticleID: req.ArticleID, PrevState: article.State},
				fmt.Errorf("%w: %s not allowed in state %s", core.ErrInvalidTransition, req.Decision, article.State)
		}

		prevState := article.State
		prevVersion := article.Version
		now := p.now().UTC()
		decisionID := p.newID()

		article.State = newState
		article.ReviewedBy = req.Reviewer
		article.ReviewedAt = now
		article.DecisionID = decisionID
		article.Version = prevVersion + 1
		applyModifications(&article, req.Modifications)
		article.AuditTrail = append(article.AuditTrail, core.AuditEntry{
			AuditID:     p.newID(),
			Timestamp:   now,
			Action:      core.AuditActionDecision,
			Actor:       req.Reviewer,
			PrevState:   prevState,
			NewState:    newState,
			Decision:    string(req.Decision),
			Rationale:   req.Rationale,
			PrevVersion: prevVersion,
			NewVersion:  article.Version,
		})

		err := p.entities.Update(ctx, store.TableArticles, req.ArticleID, prevVersion, article)
		if errors.Is(err, core.ErrPreconditionFailed) {
			lastErr = err
			continue
		}
		if err != nil {
			return Result{ArticleID: req.ArticleID, PrevState: prevState},
				fmt.Errorf("failed to apply decision on %s: %w", req.ArticleID, err)
		}

		p.emit(ctx, req, decisionID, now)

		return Result{
			ArticleID:  req.ArticleID,
			DecisionID: decisionID,
			PrevState:  prevState,
			NewState:   newState,
		}, nil
	}

	return Result{ArticleID: req.ArticleID},
		fmt.Errorf("%w: article %s kept changing concurrently: %v", core.ErrConflict, req.ArticleID, lastErr)
}

// ProcessBatch applies each decision independently; one failure never aborts
// the rest.
func (p *Processor) ProcessBatch(ctx context.Context, reqs []Request) BatchResult {
	out := BatchResult{Results: make([]Result, 0, len(reqs))}
	for _, req := range reqs {
		res, err := p.Process(ctx, req)
		res.Err = err
		if err != nil {
			out.Failed++
			logger.Warn("Decision failed", "article_id", req.ArticleID,
				"decision", string(req.Decision), "error", err.Error())
		} else {
			out.Succeeded++
		}
		out.Results = append(out.Results, res)
	}
	return out
}

func applyModifications(article *core.Article, mods *Modifications) {
	if mods == nil {
		return
	}
	if mods.Title != nil {
		article.Title = *mods.Title
	}
	if mods.Summary != nil {
		article.Summary = *mods.Summary
	}
	if mods.Tags != nil {
		article.Tags = mods.Tags
	}
}

// emit publishes the downstream event. Failure is logged, never propagated.
func (p *Processor) emit(ctx context.Context, req Request, decisionID string, at time.Time) {
	if p.bus == nil {
		return
	}
	err := p.bus.Publish(ctx, events.Event{
		EventID:   p.newID(),
		Kind:      eventKinds[req.Decision],
		ArticleID: req.ArticleID,
		Actor:     req.Reviewer,
		Timestamp: at,
		Payload: map[string]string{
			"decision_id": decisionID,
			"rationale":   req.Rationale,
		},
	})
	if err != nil {
		logger.Warn("Event emission failed", "article_id", req.ArticleID,
			"kind", eventKinds[req.Decision], "error", err.Error())
	}
}
