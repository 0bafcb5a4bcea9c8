package guardrail

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
)

// piiDetector is one regex-based PII pattern.
type piiDetector struct {
	kind       string
	pattern    *regexp.Regexp
	confidence float64
}

var piiDetectors = []piiDetector{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), 0.95},
	{"phone", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`), 0.8},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), 0.9},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`), 0.6},
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), 0.7},
	{"password_hash", regexp.MustCompile(`\$2[aby]\$\d{2}\$[./A-Za-z0-9]{53}`), 0.95},
}

// tokenRe finds candidate API tokens; mixedToken filters to strings that mix
// upper, lower, and digits (RE2 has no lookahead).
var tokenRe = regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`)

func mixedToken(s string) bool {
	var upper, lower, digit bool
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	return upper && lower && digit
}

// piiSpan is a detected span; spans from regex and model detectors are merged
// and deduplicated by offsets.
type piiSpan struct {
	start      int
	end        int
	kind       string
	confidence float64
}

// checkPII combines the regex detectors with the external PII model. Any
// detection yields one high-severity violation plus redacted content.
func (v *Validator) checkPII(ctx context.Context, in Input) ([]core.Violation, string, error) {
	content := in.Article.NormalizedContent

	var spans []piiSpan
	for _, d := range piiDetectors {
		for _, loc := range d.pattern.FindAllStringIndex(content, -1) {
			spans = append(spans, piiSpan{start: loc[0], end: loc[1], kind: d.kind, confidence: d.confidence})
		}
	}
	for _, loc := range tokenRe.FindAllStringIndex(content, -1) {
		if mixedToken(content[loc[0]:loc[1]]) {
			spans = append(spans, piiSpan{start: loc[0], end: loc[1], kind: "api_token", confidence: 0.65})
		}
	}

	// A model failure degrades to regex-only detection; the regex findings
	// still count.
	if modelSpans, err := v.pii.DetectPII(ctx, content); err == nil {
		for _, s := range modelSpans {
			spans = append(spans, piiSpan{
				start:      s.BeginOffset,
				end:        s.EndOffset,
				kind:       strings.ToLower(s.Type),
				confidence: s.Score,
			})
		}
	}

	spans = dedupeSpans(spans)
	if len(spans) == 0 {
		return nil, "", nil
	}

	mean := 0.0
	kinds := make(map[string]bool)
	for _, s := range spans {
		mean += s.confidence
		kinds[s.kind] = true
	}
	mean /= float64(len(spans))

	kindList := make([]string, 0, len(kinds))
	for k := range kinds {
		kindList = append(kindList, k)
	}
	sort.Strings(kindList)

	violation := core.Violation{
		Kind:        "pii_detected",
		Severity:    core.SeverityHigh,
		Description: fmt.Sprintf("%d PII span(s) detected: %s", len(spans), strings.Join(kindList, ", ")),
		Confidence:  mean,
	}
	return []core.Violation{violation}, redact(content, spans), nil
}

// dedupeSpans drops spans sharing (start, end), keeping the higher
// confidence, and returns spans ordered by start offset.
func dedupeSpans(spans []piiSpan) []piiSpan {
	type key struct{ start, end int }
	best := make(map[key]piiSpan, len(spans))
	for _, s := range spans {
		k := key{s.start, s.end}
		if existing, ok := best[k]; !ok || s.confidence > existing.confidence {
			best[k] = s
		}
	}
	out := make([]piiSpan, 0, len(best))
	for _, s := range best {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start < out[j].start })
	return out
}

// redact replaces each span with [REDACTED_<KIND>]. Overlapping spans are
// collapsed left-to-right.
func redact(content string, spans []piiSpan) string {
	var b strings.Builder
	pos := 0
	for _, s := range spans {
		if s.start < pos {
			continue // swallowed by the previous replacement
		}
		if s.start > len(content) || s.end > len(content) {
			continue
		}
		b.WriteString(content[pos:s.start])
		b.WriteString("[REDACTED_" + strings.ToUpper(s.kind) + "]")
		pos = s.end
	}
	b.WriteString(content[pos:])
	return b.String()
}
