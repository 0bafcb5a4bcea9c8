package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/llm"
)

// Tone lexicons. Density thresholds apply to the sensational set; the other
// sets flag on any appearance.
var (
	sensationalTerms = []string{
		"shocking", "devastating", "catastrophic", "unprecedented", "explosive",
		"bombshell", "terrifying", "nightmare", "apocalyptic", "meltdown",
		"chaos", "panic", "crisis", "disaster", "horrifying",
	}
	politicalTerms = []string{
		"radical left", "far right", "deep state", "mainstream media",
		"woke agenda", "regime propaganda",
	}
	emotionalTerms = []string{
		"outrageous", "disgraceful", "shameful", "infuriating", "heartbreaking",
	}
	absoluteTerms = []string{
		"always fails", "never works", "completely broken", "totally compromised",
		"absolutely certain", "undeniable proof",
	}
)

const (
	titleSensationalDensity = 0.15
	bodySensationalDensity  = 0.03
)

const moderationPromptTemplate = `Review the cybersecurity article below for bias and sensationalism:
political slant, emotionally manipulative framing, or claims stated with
unwarranted certainty.

Respond with a single JSON object:
{"has_bias": false, "bias_type": "", "severity": "low", "description": "", "confidence": 0.0}
severity is one of: low, medium, high, critical.

Title: %s

Article:
---
%s
---`

var wordRe = regexp.MustCompile(`[a-zA-Z']+`)

// checkBias runs lexicon heuristics, the banned-terms list, and the
// moderation model.
func (v *Validator) checkBias(ctx context.Context, in Input) ([]core.Violation, error) {
	var violations []core.Violation

	title := strings.ToLower(in.Article.Title)
	body := strings.ToLower(in.Article.NormalizedContent)

	if d := lexiconDensity(title, sensationalTerms); d > titleSensationalDensity {
		violations = append(violations, core.Violation{
			Kind:        "sensational_title",
			Severity:    core.SeverityMedium,
			Description: fmt.Sprintf("title sensational-term density %.0f%%", d*100),
			Confidence:  0.8,
		})
	}
	if d := lexiconDensity(body, sensationalTerms); d > bodySensationalDensity {
		violations = append(violations, core.Violation{
			Kind:        "sensational_content",
			Severity:    core.SeverityLow,
			Description: fmt.Sprintf("body sensational-term density %.1f%%", d*100),
			Confidence:  0.7,
		})
	}

	full := title + " " + body
	for kind, terms := range map[string][]string{
		"political_language": politicalTerms,
		"emotional_language": emotionalTerms,
		"absolute_claims":    absoluteTerms,
	} {
		if hit := firstHit(full, terms); hit != "" {
			violations = append(violations, core.Violation{
				Kind:        kind,
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("contains %q", hit),
				Confidence:  0.75,
			})
		}
	}

	for _, term := range v.bannedTerms {
		if term != "" && strings.Contains(full, strings.ToLower(term)) {
			violations = append(violations, core.Violation{
				Kind:        "banned_term",
				Severity:    core.SeverityHigh,
				Description: fmt.Sprintf("contains banned term %q", term),
				Confidence:  1.0,
			})
		}
	}

	assessment, err := v.moderation.Moderate(ctx,
		fmt.Sprintf(moderationPromptTemplate, in.Article.Title, trimForModeration(in.Article.NormalizedContent)))
	if err != nil {
		// Heuristic findings stand on their own.
		return violations, nil
	}
	if assessment.HasBias {
		violations = append(violations, core.Violation{
			Kind:        "model_bias_" + assessment.BiasType,
			Severity:    moderationSeverity(assessment),
			Description: assessment.Description,
			Confidence:  assessment.Confidence,
		})
	}

	return violations, nil
}

// lexiconDensity is the fraction of words in text belonging to the lexicon.
func lexiconDensity(text string, terms []string) float64 {
	words := wordRe.FindAllString(text, -1)
	if len(words) == 0 {
		return 0
	}
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	hits := 0
	for _, w := range words {
		if set[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

func firstHit(text string, terms []string) string {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return t
		}
	}
	return ""
}

func moderationSeverity(a *llm.ModerationAssessment) core.Severity {
	switch strings.ToLower(a.Severity) {
	case "critical":
		return core.SeverityCritical
	case "high":
		return core.SeverityHigh
	case "low":
		return core.SeverityLow
	default:
		return core.SeverityMedium
	}
}

func trimForModeration(text string) string {
	const limit = 6000
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
