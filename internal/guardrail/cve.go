package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

var (
	// cveMentionRe finds anything that looks like a CVE mention in content,
	// including malformed variants worth flagging.
	cveMentionRe = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d+\b`)
	cveYearRe    = regexp.MustCompile(`^CVE-(\d{4})-\d{4,}$`)
)

// checkCVEs cross-checks extracted CVE identifiers against format, plausible
// year, and presence in the article text, and flags mentions the extraction
// missed.
func (v *Validator) checkCVEs(ctx context.Context, in Input) ([]core.Violation, error) {
	content := in.Article.Title + "\n" + in.Article.NormalizedContent
	maxYear := v.now().Year() + 1

	var violations []core.Violation
	for _, cve := range in.Relevance.Entities.CVEs {
		m := cveYearRe.FindStringSubmatch(cve)
		if m == nil {
			violations = append(violations, core.Violation{
				Kind:        "cve_invalid_format",
				Severity:    core.SeverityHigh,
				Description: fmt.Sprintf("extracted identifier %q is not a valid CVE ID", cve),
				Confidence:  1.0,
			})
			continue
		}

		year, _ := strconv.Atoi(m[1])
		if year < 1999 || year > maxYear {
			violations = append(violations, core.Violation{
				Kind:        "cve_implausible_year",
				Severity:    core.SeverityMedium,
				Description: fmt.Sprintf("CVE %s has implausible year %d", cve, year),
				Confidence:  0.9,
			})
		}

		if !strings.Contains(strings.ToUpper(content), strings.ToUpper(cve)) {
			violations = append(violations, core.Violation{
				Kind:        "cve_not_in_content",
				Severity:    core.SeverityHigh,
				Description: fmt.Sprintf("extracted CVE %s does not appear in the article", cve),
				Confidence:  0.95,
			})
		}
	}

	extracted := make(map[string]bool, len(in.Relevance.Entities.CVEs))
	for _, cve := range in.Relevance.Entities.CVEs {
		extracted[strings.ToUpper(cve)] = true
	}
	seen := make(map[string]bool)
	for _, mention := range cveMentionRe.FindAllString(content, -1) {
		id := strings.ToUpper(mention)
		if extracted[id] || seen[id] {
			continue
		}
		seen[id] = true
		violations = append(violations, core.Violation{
			Kind:        "cve_missing_from_extraction",
			Severity:    core.SeverityMedium,
			Description: fmt.Sprintf("article mentions %s but extraction missed it", id),
			Confidence:  0.85,
		})
	}

	return violations, nil
}
