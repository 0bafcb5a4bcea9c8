package triage

import (
	"testing"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

func relevance(score float64, distinctHits int) core.RelevanceResult {
	matches := make([]core.KeywordMatch, 0, distinctHits)
	for i := 0; i < distinctHits; i++ {
		matches = append(matches, core.KeywordMatch{
			Keyword:  string(rune('a' + i)),
			HitCount: 1,
		})
	}
	return core.RelevanceResult{RelevancyScore: score, KeywordMatches: matches}
}

func TestDecide(t *testing.T) {
	passed := core.GuardrailResult{Passed: true}
	failed := core.GuardrailResult{Passed: false, Rationale: "1 violation(s): pii_detected"}

	tests := []struct {
		name          string
		relevance     core.RelevanceResult
		guardrail     core.GuardrailResult
		wantAction    core.TriageAction
		wantEscalated bool
	}{
		{
			name:       "high score with keywords publishes",
			relevance:  relevance(0.9, 2),
			guardrail:  passed,
			wantAction: core.ActionAutoPublish,
		},
		{
			name:          "moderate score with keywords reviews",
			relevance:     relevance(0.7, 1),
			guardrail:     passed,
			wantAction:    core.ActionReview,
			wantEscalated: true,
		},
		{
			name:          "high score without keywords reviews",
			relevance:     relevance(0.9, 0),
			guardrail:     passed,
			wantAction:    core.ActionReview,
			wantEscalated: true,
		},
		{
			name:       "low score drops",
			relevance:  relevance(0.3, 0),
			guardrail:  passed,
			wantAction: core.ActionDrop,
		},
		{
			name:       "moderate score without keywords drops",
			relevance:  relevance(0.7, 0),
			guardrail:  passed,
			wantAction: core.ActionDrop,
		},
		{
			name:          "guardrail failure forces review at any score",
			relevance:     relevance(0.95, 3),
			guardrail:     failed,
			wantAction:    core.ActionReview,
			wantEscalated: true,
		},
		{
			name:          "boundary score 0.8 is not auto-publish",
			relevance:     relevance(0.8, 2),
			guardrail:     passed,
			wantAction:    core.ActionReview,
			wantEscalated: true,
		},
		{
			name:          "boundary score 0.6 with keywords reviews",
			relevance:     relevance(0.6, 2),
			guardrail:     passed,
			wantAction:    core.ActionReview,
			wantEscalated: true,
		},
		{
			name:       "boundary score 0.6 without keywords drops",
			relevance:  relevance(0.6, 0),
			guardrail:  passed,
			wantAction: core.ActionDrop,
		},
		{
			name:       "just below review threshold drops",
			relevance:  relevance(0.59, 2),
			guardrail:  passed,
			wantAction: core.ActionDrop,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.relevance, tt.guardrail)
			if got.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", got.Action, tt.wantAction)
			}
			if got.Escalated != tt.wantEscalated {
				t.Errorf("escalated = %t, want %t", got.Escalated, tt.wantEscalated)
			}
			if got.Reason == "" {
				t.Error("decision reason must be populated")
			}
		})
	}
}

func TestDecideZeroHitsIgnoresHitCounts(t *testing.T) {
	// Repeated hits of a single keyword still count as one distinct term.
	rel := core.RelevanceResult{
		RelevancyScore: 0.85,
		KeywordMatches: []core.KeywordMatch{{Keyword: "Azure", HitCount: 7}},
	}
	got := Decide(rel, core.GuardrailResult{Passed: true})
	if got.Action != core.ActionAutoPublish {
		t.Errorf("action = %s, want AUTO_PUBLISH with one distinct keyword", got.Action)
	}
}
