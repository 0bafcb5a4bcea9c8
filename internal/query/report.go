package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

// Report renders a markdown digest of recently published articles and the
// current review queue, and stores it in the artifacts bucket.
func (f *Facade) Report(ctx context.Context, publishedLimit, queueLimit int) (string, error) {
	published, err := f.ByState(ctx, core.StatePublished, "", publishedLimit)
	if err != nil {
		return "", err
	}
	queue, err := f.ReviewQueue(ctx, queueLimit)
	if err != nil {
		return "", err
	}
	status, err := f.Status(ctx)
	if err != nil {
		return "", err
	}

	now := f.now().UTC()

	var md strings.Builder
	md.WriteString(fmt.Sprintf("# Intelligence Triage Report - %s\n\n", now.Format("January 2, 2006")))

	md.WriteString("## Status\n\n")
	md.WriteString("| State | Count |\n|---|---|\n")
	for _, state := range []core.ArticleState{
		core.StateIngested, core.StateProcessed, core.StatePublished,
		core.StateReview, core.StateArchived,
	} {
		md.WriteString(fmt.Sprintf("| %s | %d |\n", state, status.Counts[state]))
	}
	md.WriteString("\n")

	md.WriteString("## Recently Published\n\n")
	if len(published.Articles) == 0 {
		md.WriteString("No published articles.\n\n")
	}
	for _, a := range published.Articles {
		md.WriteString(fmt.Sprintf("### [%s](%s)\n\n", a.Title, a.URL))
		if a.Summary != "" {
			md.WriteString(a.Summary + "\n\n")
		}
		md.WriteString(fmt.Sprintf("- Relevancy: %.2f\n", a.RelevancyScore))
		if len(a.Entities.CVEs) > 0 {
			md.WriteString(fmt.Sprintf("- CVEs: %s\n", strings.Join(a.Entities.CVEs, ", ")))
		}
		if len(a.KeywordMatches) > 0 {
			terms := make([]string, 0, len(a.KeywordMatches))
			for _, m := range a.KeywordMatches {
				terms = append(terms, m.Keyword)
			}
			md.WriteString(fmt.Sprintf("- Watchlist: %s\n", strings.Join(terms, ", ")))
		}
		md.WriteString(fmt.Sprintf("- Published: %s\n\n", a.PublishedAt.UTC().Format("2006-01-02 15:04")))
	}

	md.WriteString("## Review Queue\n\n")
	if len(queue) == 0 {
		md.WriteString("The review queue is empty.\n")
	} else {
		md.WriteString("| Priority | Title | Reason |\n|---|---|---|\n")
		for _, a := range queue {
			reason := ""
			if a.Escalation != nil {
				reason = a.Escalation.Reason
			}
			md.WriteString(fmt.Sprintf("| %.2f | [%s](%s) | %s |\n",
				a.PriorityScore, a.Title, a.URL, reason))
		}
	}

	content := md.String()
	key := fmt.Sprintf("reports/%s/triage-report.md", now.Format("2006-01-02"))
	if err := f.blobs.Put(ctx, store.BucketArtifacts, key, []byte(content), "text/markdown"); err != nil {
		return "", fmt.Errorf("failed to store report: %w", err)
	}
	return key, nil
}
