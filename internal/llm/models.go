// Package llm defines the external model interfaces the pipeline depends on
// and their Gemini and Bedrock implementations. All structured responses are
// expected to contain additively-valid JSON embedded anywhere in the text.
package llm

import (
	"context"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// RelevanceAssessment is the relevance model's structured verdict.
type RelevanceAssessment struct {
	IsRelevant     bool    `json:"is_relevant"`
	RelevancyScore float64 `json:"relevancy_score"`
	Rationale      string  `json:"rationale"`
}

// ModerationAssessment is the moderation model's structured bias verdict.
type ModerationAssessment struct {
	HasBias     bool    `json:"has_bias"`
	BiasType    string  `json:"bias_type"`
	Severity    string  `json:"severity"` // low, medium, high, critical
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// PIISpan is one detected personally-identifiable span in text.
type PIISpan struct {
	Type        string  `json:"type"`
	BeginOffset int     `json:"begin_offset"`
	EndOffset   int     `json:"end_offset"`
	Score       float64 `json:"score"`
}

// RelevanceModel judges how relevant an article is to the watchlist.
type RelevanceModel interface {
	AssessRelevance(ctx context.Context, prompt string) (*RelevanceAssessment, error)
}

// EntityExtractionModel pulls the seven named-entity kinds out of an article.
type EntityExtractionModel interface {
	ExtractEntities(ctx context.Context, prompt string) (*core.EntityExtraction, error)
}

// EmbeddingModel produces a dense vector for semantic dedup.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ModerationModel reports bias and sensationalism findings.
type ModerationModel interface {
	Moderate(ctx context.Context, prompt string) (*ModerationAssessment, error)
}

// PIIModel detects named-person, address, date, and government-id spans.
type PIIModel interface {
	DetectPII(ctx context.Context, text string) ([]PIISpan, error)
}

// Models bundles the five model interfaces a full pipeline needs. A single
// backend (Gemini, Bedrock) implements all of them.
type Models interface {
	RelevanceModel
	EntityExtractionModel
	EmbeddingModel
	ModerationModel
	PIIModel
}
