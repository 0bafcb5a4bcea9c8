// Package guardrail runs the content-safety checks that gate automatic
// publication: schema, PII, CVE accuracy, and bias/sensationalism.
package guardrail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/llm"
	"github.com/Virgo-Alpha/sentinel/internal/logger"
)

// Input carries everything the checks need for one article.
type Input struct {
	Article   core.ParsedArticle
	Relevance core.RelevanceResult
}

// Validator runs the four independent checks and aggregates a pass/fail
// verdict. It never returns an error: an internal check failure becomes a
// medium violation on the result.
type Validator struct {
	moderation  llm.ModerationModel
	pii         llm.PIIModel
	bannedTerms []string
	now         func() time.Time

	schemas *schemaRegistry
}

// NewValidator builds a guardrail validator. bannedTerms may be empty.
func NewValidator(moderation llm.ModerationModel, pii llm.PIIModel, bannedTerms []string) *Validator {
	return &Validator{
		moderation:  moderation,
		pii:         pii,
		bannedTerms: bannedTerms,
		now:         time.Now,
		schemas:     newSchemaRegistry(),
	}
}

// Validate runs all checks over the article and returns the aggregate result.
//
// Failure policy: any critical or high violation fails; more than three
// medium violations fail; otherwise the article passes.
func (v *Validator) Validate(ctx context.Context, in Input) core.GuardrailResult {
	var violations []core.Violation
	redacted := ""

	runs := []struct {
		name string
		fn   func(context.Context, Input) ([]core.Violation, error)
	}{
		{"schema", v.checkSchemas},
		{"pii", func(ctx context.Context, in Input) ([]core.Violation, error) {
			vs, red, err := v.checkPII(ctx, in)
			redacted = red
			return vs, err
		}},
		{"cve", v.checkCVEs},
		{"bias", v.checkBias},
	}

	for _, run := range runs {
		vs, err := run.fn(ctx, in)
		if err != nil {
			logger.Warn("Guardrail check errored", "check", run.name,
				"article_id", in.Article.ArticleID, "error", err.Error())
			violations = append(violations, core.Violation{
				Kind:        "internal_error",
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("%s check failed internally: %v", run.name, err),
				Confidence:  0.5,
			})
			continue
		}
		violations = append(violations, vs...)
	}

	return aggregate(violations, redacted)
}

func aggregate(violations []core.Violation, redacted string) core.GuardrailResult {
	mediums := 0
	hardFail := false
	flagSet := make(map[string]bool)
	var flags []string

	for _, v := range violations {
		switch v.Severity {
		case core.SeverityCritical, core.SeverityHigh:
			hardFail = true
		case core.SeverityMedium:
			mediums++
		}
		if !flagSet[v.Kind] {
			flagSet[v.Kind] = true
			flags = append(flags, v.Kind)
		}
	}

	passed := !hardFail && mediums <= 3

	confidence := 0.95 - 0.05*float64(len(violations))
	if confidence < 0.5 {
		confidence = 0.5
	}

	rationale := "all guardrail checks passed"
	if len(violations) > 0 {
		rationale = fmt.Sprintf("%d violation(s): %s", len(violations), strings.Join(flags, ", "))
	}

	return core.GuardrailResult{
		Passed:          passed,
		Violations:      violations,
		Flags:           flags,
		Confidence:      confidence,
		Rationale:       rationale,
		RedactedContent: redacted,
	}
}
