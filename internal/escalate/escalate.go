// Package escalate computes review priority and moves articles into the
// human review queue.
package escalate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/email"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

// Escalation reasons. The multiplier for an unlisted reason is 1.0.
const (
	ReasonSensitiveContent       = "sensitive_content"
	ReasonPolicyViolation        = "policy_violation"
	ReasonGuardrailViolation     = "guardrail_violation"
	ReasonQualityConcern         = "quality_concern"
	ReasonComplexEntities        = "complex_entities"
	ReasonLowConfidence          = "low_confidence"
	ReasonPotentialFalsePositive = "potential_false_positive"
	ReasonManualReviewRequested  = "manual_review_requested"
	ReasonMediumRelevancy        = "medium_relevancy"
	ReasonHighRelevancyNoKeyword = "high_relevancy_no_keywords"
)

var reasonMultipliers = map[string]float64{
	ReasonSensitiveContent:       1.8,
	ReasonPolicyViolation:        1.6,
	ReasonGuardrailViolation:     1.5,
	ReasonQualityConcern:         1.4,
	ReasonComplexEntities:        1.3,
	ReasonLowConfidence:          1.2,
	ReasonPotentialFalsePositive: 1.1,
	ReasonManualReviewRequested:  1.0,
}

// PriorityInput carries the factors feeding the priority formula.
type PriorityInput struct {
	Relevance   core.RelevanceResult
	Guardrail   core.GuardrailResult
	PublishedAt time.Time
	Reason      string
	Now         time.Time
}

// Priority computes the review priority score: a weighted sum of five
// normalized factors, scaled by the reason multiplier, clamped to [0,1].
func Priority(in PriorityInput) float64 {
	keywordFactor := float64(len(in.Relevance.KeywordMatches)) / 5.0
	if keywordFactor > 1.0 {
		keywordFactor = 1.0
	}

	entityFactor := float64(in.Relevance.Entities.Total()) / 10.0
	if entityFactor > 1.0 {
		entityFactor = 1.0
	}

	violationFactor := float64(len(in.Guardrail.Violations)) / 3.0
	if violationFactor > 1.0 {
		violationFactor = 1.0
	}

	hoursOld := in.Now.Sub(in.PublishedAt).Hours()
	timeFactor := 1.0 - hoursOld/24.0
	if timeFactor < 0 {
		timeFactor = 0
	}

	score := 0.30*in.Relevance.RelevancyScore +
		0.25*keywordFactor +
		0.15*entityFactor +
		0.20*violationFactor +
		0.10*timeFactor

	multiplier, ok := reasonMultipliers[in.Reason]
	if !ok {
		multiplier = 1.0
	}
	score *= multiplier

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Escalator transitions articles into REVIEW with an escalation record and
// notifies the reviewer list.
type Escalator struct {
	entities   store.EntityStore
	sender     email.Sender
	recipients []string
	now        func() time.Time
	newID      func() string
}

// NewEscalator builds an escalator. sender may be nil when notifications are
// not configured.
func NewEscalator(entities store.EntityStore, sender email.Sender, recipients []string) *Escalator {
	return &Escalator{
		entities:   entities,
		sender:     sender,
		recipients: recipients,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Escalate writes the REVIEW transition and escalation record in a single
// conditional update keyed on the article's current version, then notifies
// reviewers. A concurrent transition surfaces as core.ErrPreconditionFailed.
// Notification failure does not fail the escalation.
func (e *Escalator) Escalate(ctx context.Context, article *core.Article, reason string, guardrail core.GuardrailResult) (*core.EscalationRecord, error) {
	now := e.now().UTC()

	priority := Priority(PriorityInput{
		Relevance: core.RelevanceResult{
			RelevancyScore: article.RelevancyScore,
			KeywordMatches: article.KeywordMatches,
			Entities:       article.Entities,
		},
		Guardrail:   guardrail,
		PublishedAt: article.PublishedAt,
		Reason:      reason,
		Now:         now,
	})

	position, err := e.queuePosition(ctx, priority)
	if err != nil {
		logger.Warn("Queue position unavailable", "article_id", article.ID, "error", err.Error())
		position = 0
	}

	record := core.EscalationRecord{
		EscalationID:  e.newID(),
		Reason:        reason,
		PriorityScore: priority,
		EscalatedAt:   now,
		Context: map[string]string{
			"guardrail_rationale": guardrail.Rationale,
		},
	}

	prevState := article.State
	prevVersion := article.Version

	updated := *article
	updated.State = core.StateReview
	updated.TriageAction = core.ActionReview
	updated.PriorityScore = priority
	updated.Escalation = &record
	updated.Version = prevVersion + 1
	updated.AuditTrail = append(updated.AuditTrail, core.AuditEntry{
		AuditID:     e.newID(),
		Timestamp:   now,
		Action:      core.AuditActionPipeline,
		Actor:       core.AuditActorSystem,
		PrevState:   prevState,
		NewState:    core.StateReview,
		Rationale:   reason,
		PrevVersion: prevVersion,
		NewVersion:  updated.Version,
	})

	if err := e.entities.Update(ctx, store.TableArticles, article.ID, prevVersion, updated); err != nil {
		return nil, fmt.Errorf("failed to escalate article %s: %w", article.ID, err)
	}
	*article = updated

	if e.sender != nil && len(e.recipients) > 0 {
		msg, renderErr := email.RenderEscalation(updated, record, position, e.recipients)
		if renderErr != nil {
			logger.Warn("Escalation notification render failed", "article_id", article.ID, "error", renderErr.Error())
		} else if sendErr := e.sender.Send(ctx, msg); sendErr != nil {
			logger.Warn("Escalation notification send failed", "article_id", article.ID, "error", sendErr.Error())
		}
	}

	return &record, nil
}

// queuePosition counts REVIEW articles with strictly greater priority.
func (e *Escalator) queuePosition(ctx context.Context, priority float64) (int, error) {
	position := 0
	cursor := ""
	for {
		page, err := e.entities.QuerySecondary(ctx, store.SecondaryQuery{
			Table:     store.TableArticles,
			Index:     store.IndexStatePublished,
			Partition: string(core.StateReview),
			Limit:     200,
			Cursor:    cursor,
		})
		if err != nil {
			return 0, err
		}
		for _, raw := range page.Items {
			var item struct {
				PriorityScore float64 `json:"priority_score"`
			}
			if err := json.Unmarshal(raw, &item); err != nil {
				continue
			}
			if item.PriorityScore > priority {
				position++
			}
		}
		if page.NextCursor == "" {
			return position, nil
		}
		cursor = page.NextCursor
	}
}
