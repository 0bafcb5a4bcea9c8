package guardrail

import (
	"context"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// Declared payload schemas. Unknown schema names are a medium violation.
const (
	SchemaArticle          = "article"
	SchemaRelevanceResult  = "relevance_result"
	SchemaEntityExtraction = "entity_extraction"
)

var cveFormatRe = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

type schemaRegistry struct {
	validate *validator.Validate
}

func newSchemaRegistry() *schemaRegistry {
	v := validator.New(validator.WithRequiredStructEnabled())
	// cve validates the CVE-YYYY-NNNN identifier format.
	_ = v.RegisterValidation("cve", func(fl validator.FieldLevel) bool {
		return cveFormatRe.MatchString(fl.Field().String())
	})
	return &schemaRegistry{validate: v}
}

// articleSchema mirrors the feed-parser contract: the fields the pipeline
// cannot proceed without.
type articleSchema struct {
	ArticleID         string `validate:"required"`
	Title             string `validate:"required"`
	URL               string `validate:"required,url"`
	NormalizedContent string `validate:"required"`
	ContentHash       string `validate:"required,len=64,hexadecimal"`
}

type relevanceSchema struct {
	RelevancyScore float64 `validate:"gte=0,lte=1"`
	Confidence     float64 `validate:"gte=0,lte=1"`
	Rationale      string  `validate:"required"`
}

type entitySchema struct {
	CVEs []string `validate:"dive,cve"`
}

// CheckPayload validates a payload against a declared schema by name. Used by
// checkSchemas and exposed for callers validating model output directly.
func (r *schemaRegistry) CheckPayload(schema string, payload any) []core.Violation {
	var target any
	switch schema {
	case SchemaArticle, SchemaRelevanceResult, SchemaEntityExtraction:
		target = payload
	default:
		return []core.Violation{{
			Kind:        "schema_violation",
			Severity:    core.SeverityMedium,
			Description: fmt.Sprintf("unknown schema %q", schema),
			Confidence:  1.0,
		}}
	}

	err := r.validate.Struct(target)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		return []core.Violation{{
			Kind:        "schema_violation",
			Severity:    core.SeverityMedium,
			Description: fmt.Sprintf("schema %s could not be validated: %v", schema, err),
			Confidence:  0.7,
		}}
	}

	var violations []core.Violation
	for _, fe := range invalid {
		desc := fmt.Sprintf("schema %s: field %s failed %q", schema, fe.Field(), fe.Tag())
		violations = append(violations, core.Violation{
			Kind:        "schema_violation",
			Severity:    core.SeverityHigh, // missing required and bad type/format/range are both high
			Description: desc,
			Confidence:  1.0,
		})
	}
	return violations
}

// checkSchemas validates the article payload and the relevance outputs
// against their declared schemas.
func (v *Validator) checkSchemas(ctx context.Context, in Input) ([]core.Violation, error) {
	var violations []core.Violation

	violations = append(violations, v.schemas.CheckPayload(SchemaArticle, articleSchema{
		ArticleID:         in.Article.ArticleID,
		Title:             in.Article.Title,
		URL:               in.Article.URL,
		NormalizedContent: in.Article.NormalizedContent,
		ContentHash:       in.Article.ContentHash,
	})...)

	violations = append(violations, v.schemas.CheckPayload(SchemaRelevanceResult, relevanceSchema{
		RelevancyScore: in.Relevance.RelevancyScore,
		Confidence:     in.Relevance.Confidence,
		Rationale:      in.Relevance.Rationale,
	})...)

	violations = append(violations, v.schemas.CheckPayload(SchemaEntityExtraction, entitySchema{
		CVEs: in.Relevance.Entities.CVEs,
	})...)

	return violations, nil
}
