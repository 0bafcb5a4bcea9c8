// Package relevance scores article relevance against the watchlist by
// combining local keyword matching with model-based assessment and entity
// extraction.
package relevance

import (
	"context"
	"fmt"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/llm"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
	"github.com/Virgo-Alpha/sentinel/internal/registry"
)

const (
	promptContentLimit = 6000

	relevancePromptTemplate = `You are triaging cybersecurity news for a security operations team.
Assess how relevant the article below is to the team's technology watchlist.

Watchlist terms matched in the article: %s

Respond with a single JSON object:
{"is_relevant": true, "relevancy_score": 0.0, "rationale": ""}
relevancy_score is a number between 0 and 1.

Title: %s

Article:
---
%s
---`

	entityPromptTemplate = `Extract named entities from the cybersecurity article below.

Title: %s

Article:
---
%s
---`
)

// Evaluator produces a RelevanceResult for one article. Model failures
// degrade to a conservative verdict rather than failing the pipeline.
type Evaluator struct {
	matcher   *registry.Matcher
	relevance llm.RelevanceModel
	entities  llm.EntityExtractionModel
}

// NewEvaluator builds an evaluator over the watchlist matcher and the two
// models it consults.
func NewEvaluator(matcher *registry.Matcher, rel llm.RelevanceModel, ent llm.EntityExtractionModel) *Evaluator {
	return &Evaluator{matcher: matcher, relevance: rel, entities: ent}
}

// Evaluate runs keyword matching, entity extraction, and the relevance model
// over title+content. It always returns a usable result.
func (e *Evaluator) Evaluate(ctx context.Context, articleID, title, content string) core.RelevanceResult {
	matches := e.matcher.Match(title + "\n\n" + content)

	trimmed := trim(content, promptContentLimit)

	var entities core.EntityExtraction
	if extracted, err := e.entities.ExtractEntities(ctx, fmt.Sprintf(entityPromptTemplate, title, trimmed)); err != nil {
		logger.Warn("Entity extraction unavailable", "article_id", articleID, "error", err.Error())
	} else {
		entities = *extracted
	}

	assessment, err := e.relevance.AssessRelevance(ctx,
		fmt.Sprintf(relevancePromptTemplate, matchSummary(matches), title, trimmed))
	if err != nil {
		logger.Warn("Relevance assessment unavailable", "article_id", articleID, "error", err.Error())
		return core.RelevanceResult{
			IsRelevant:     false,
			RelevancyScore: 0.0,
			KeywordMatches: matches,
			Entities:       entities,
			Rationale:      "assessment unavailable",
			Confidence:     0.5,
		}
	}

	score := adjustScore(clamp01(assessment.RelevancyScore), matches)
	return core.RelevanceResult{
		IsRelevant:     assessment.IsRelevant,
		RelevancyScore: score,
		KeywordMatches: matches,
		Entities:       entities,
		Rationale:      assessment.Rationale,
		Confidence:     confidence(score, matches, entities),
	}
}

// adjustScore rewards keyword density: +0.05 per hit, capped at +0.2, never
// above 1.0.
func adjustScore(base float64, matches []core.KeywordMatch) float64 {
	totalHits := 0
	for _, m := range matches {
		totalHits += m.HitCount
	}
	bonus := 0.05 * float64(totalHits)
	if bonus > 0.2 {
		bonus = 0.2
	}
	return clamp01(base + bonus)
}

// confidence starts at 0.7 and accrues from match confidence, entity count,
// and strong relevance, capped at 1.0.
func confidence(score float64, matches []core.KeywordMatch, entities core.EntityExtraction) float64 {
	c := 0.7

	if len(matches) > 0 {
		sum := 0.0
		for _, m := range matches {
			sum += m.Confidence
		}
		c += (sum / float64(len(matches))) * 0.1
	}

	entityBoost := 0.03 * float64(entities.Total())
	if entityBoost > 0.15 {
		entityBoost = 0.15
	}
	c += entityBoost

	switch {
	case score > 0.8:
		c += 0.1
	case score > 0.6:
		c += 0.05
	}

	if c > 1.0 {
		c = 1.0
	}
	return c
}

func matchSummary(matches []core.KeywordMatch) string {
	if len(matches) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		parts = append(parts, fmt.Sprintf("%s (%d hits)", m.Keyword, m.HitCount))
	}
	return strings.Join(parts, ", ")
}

func trim(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
