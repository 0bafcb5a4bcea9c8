// Package triage turns relevance and guardrail outputs into a publish,
// review, or drop decision.
package triage

import (
	"fmt"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// Score bands for the decision table.
const (
	AutoPublishThreshold = 0.8
	ReviewThreshold      = 0.6
)

// Decision is the triage verdict for one processed article.
type Decision struct {
	Action    core.TriageAction `json:"action"`
	Reason    string            `json:"reason"`
	Escalated bool              `json:"escalated"`
}

// Decide applies the decision table. Guardrail failures always force review;
// strong relevance with keyword corroboration publishes automatically; strong
// relevance without any keyword hit is suspicious enough to review.
func Decide(relevance core.RelevanceResult, guardrail core.GuardrailResult) Decision {
	if !guardrail.Passed {
		return Decision{
			Action:    core.ActionReview,
			Reason:    fmt.Sprintf("guardrail failed: %s", guardrail.Rationale),
			Escalated: true,
		}
	}

	score := relevance.RelevancyScore
	hits := relevance.DistinctKeywordHits()

	switch {
	case score > AutoPublishThreshold && hits >= 1:
		return Decision{
			Action: core.ActionAutoPublish,
			Reason: fmt.Sprintf("relevancy %.2f with %d watchlist keyword(s)", score, hits),
		}
	case score >= ReviewThreshold && hits >= 1:
		return Decision{
			Action:    core.ActionReview,
			Reason:    fmt.Sprintf("moderate relevancy %.2f needs confirmation", score),
			Escalated: true,
		}
	case score > AutoPublishThreshold:
		return Decision{
			Action:    core.ActionReview,
			Reason:    fmt.Sprintf("relevancy %.2f but no watchlist keyword matched", score),
			Escalated: true,
		}
	default:
		return Decision{
			Action: core.ActionDrop,
			Reason: fmt.Sprintf("relevancy %.2f below threshold", score),
		}
	}
}
