package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/dedup"
	"github.com/Virgo-Alpha/sentinel/internal/email"
	"github.com/Virgo-Alpha/sentinel/internal/escalate"
	"github.com/Virgo-Alpha/sentinel/internal/events"
	"github.com/Virgo-Alpha/sentinel/internal/guardrail"
	"github.com/Virgo-Alpha/sentinel/internal/llm"
	"github.com/Virgo-Alpha/sentinel/internal/registry"
	"github.com/Virgo-Alpha/sentinel/internal/relevance"
	"github.com/Virgo-Alpha/sentinel/internal/store"
	"github.com/Virgo-Alpha/sentinel/internal/vectorstore"
)

// fakeSource replays a fixed batch of parsed articles.
type fakeSource struct {
	articles []core.ParsedArticle
	err      error
}

func (f *fakeSource) Fetch(ctx context.Context, feed registry.FeedConfig, since time.Time) ([]core.ParsedArticle, error) {
	return f.articles, f.err
}

// scriptedRelevance returns a canned score keyed on a title fragment found in
// the prompt.
type scriptedRelevance struct {
	scores map[string]float64
}

func (s *scriptedRelevance) AssessRelevance(ctx context.Context, prompt string) (*llm.RelevanceAssessment, error) {
	for fragment, score := range s.scores {
		if strings.Contains(prompt, fragment) {
			return &llm.RelevanceAssessment{
				IsRelevant:     score >= 0.6,
				RelevancyScore: score,
				Rationale:      "scripted assessment",
			}, nil
		}
	}
	return &llm.RelevanceAssessment{Rationale: "scripted default"}, nil
}

type emptyEntities struct{}

func (emptyEntities) ExtractEntities(ctx context.Context, prompt string) (*core.EntityExtraction, error) {
	return &core.EntityExtraction{}, nil
}

// orthoEmbedder hands every call a fresh orthogonal vector so no two articles
// ever look semantically similar.
type orthoEmbedder struct {
	n int
}

func (o *orthoEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, 64)
	vec[o.n%64] = 1
	o.n++
	return vec, nil
}

type cleanModeration struct{}

func (cleanModeration) Moderate(ctx context.Context, prompt string) (*llm.ModerationAssessment, error) {
	return &llm.ModerationAssessment{}, nil
}

type cleanPII struct{}

func (cleanPII) DetectPII(ctx context.Context, text string) ([]llm.PIISpan, error) {
	return nil, nil
}

const feedsYAML = `
feeds:
  - name: test-feed
    url: https://example.com/feed.xml
    category: advisories
    enabled: true
`

const keywordsYAML = `
network_infrastructure:
  - keyword: Fortinet
    weight: 0.8
`

type fixture struct {
	orchestrator *Orchestrator
	entities     store.EntityStore
	blobs        *store.FSBlobStore
	bus          *events.MemoryBus
	sender       *email.MemorySender
	source       *fakeSource
}

func newFixture(t *testing.T, scores map[string]float64) *fixture {
	t.Helper()

	dir := t.TempDir()
	feedsPath := filepath.Join(dir, "feeds.yaml")
	keywordsPath := filepath.Join(dir, "keywords.yaml")
	if err := os.WriteFile(feedsPath, []byte(feedsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keywordsPath, []byte(keywordsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := registry.Load(feedsPath, keywordsPath)
	if err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}

	entities, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { entities.Close() })
	blobs, err := store.NewFSBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBlobStore() error = %v", err)
	}

	evaluator := relevance.NewEvaluator(reg.NewMatcher(), &scriptedRelevance{scores: scores}, emptyEntities{})
	engine := dedup.NewEngine(entities, vectorstore.NewMemoryStore(), &orthoEmbedder{})
	guard := guardrail.NewValidator(cleanModeration{}, cleanPII{}, nil)
	sender := email.NewMemorySender()
	escalator := escalate.NewEscalator(entities, sender, []string{"reviewer@example.com"})
	bus := events.NewMemoryBus()
	source := &fakeSource{}

	orchestrator := NewOrchestrator(reg, source, evaluator, engine, guard, escalator,
		entities, blobs, bus, Options{Concurrency: 1})

	return &fixture{
		orchestrator: orchestrator,
		entities:     entities,
		blobs:        blobs,
		bus:          bus,
		sender:       sender,
		source:       source,
	}
}

func parsedArticle(id, title, url, content string) core.ParsedArticle {
	return core.ParsedArticle{
		ArticleID:         id,
		Title:             title,
		URL:               url,
		CanonicalURL:      url,
		PublishedAt:       time.Now().UTC().Add(-time.Hour),
		NormalizedContent: content,
		ContentHash:       strings.Repeat("a", 64),
	}
}

func (f *fixture) article(t *testing.T, id string) core.Article {
	t.Helper()
	var a core.Article
	if err := f.entities.Get(context.Background(), store.TableArticles, id, &a, true); err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return a
}

func TestRunAutoPublish(t *testing.T) {
	f := newFixture(t, map[string]float64{"Fortinet advisory": 0.9})
	f.source.articles = []core.ParsedArticle{
		parsedArticle("pub-1", "Fortinet advisory", "https://example.com/pub-1",
			"Fortinet released fixes for a critical flaw."),
	}

	summary, err := f.orchestrator.Run(context.Background(), "test-feed", time.Time{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Published != 1 || summary.Processed != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 1 published", summary)
	}

	a := f.article(t, "pub-1")
	if a.State != core.StatePublished {
		t.Errorf("state = %s, want PUBLISHED", a.State)
	}
	if a.TriageAction != core.ActionAutoPublish {
		t.Errorf("triage action = %s, want AUTO_PUBLISH", a.TriageAction)
	}
	if a.Version != 3 {
		t.Errorf("version = %d, want 3 (create, processed, published)", a.Version)
	}
	if len(a.AuditTrail) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(a.AuditTrail))
	}
	if a.AuditTrail[0].NewState != core.StateProcessed || a.AuditTrail[1].NewState != core.StatePublished {
		t.Errorf("audit states = %s, %s", a.AuditTrail[0].NewState, a.AuditTrail[1].NewState)
	}
	if a.ClusterID == "" {
		t.Error("published article should carry a cluster id")
	}

	emitted := f.bus.Events()
	if len(emitted) != 1 || emitted[0].Kind != events.KindArticlePublished {
		t.Errorf("events = %v, want one ArticlePublished", emitted)
	}

	// The per-article trace lands in the traces bucket.
	key := fmt.Sprintf("test-feed/%s/pub-1.json", time.Now().UTC().Format("2006-01-02"))
	traceData, err := f.blobs.Get(context.Background(), store.BucketTraces, key)
	if err != nil {
		t.Fatalf("trace blob missing: %v", err)
	}
	if !strings.Contains(string(traceData), `"outcome":"published"`) {
		t.Errorf("trace = %s", traceData)
	}
}

func TestRunDrop(t *testing.T) {
	f := newFixture(t, map[string]float64{"earnings recap": 0.2})
	f.source.articles = []core.ParsedArticle{
		parsedArticle("drop-1", "earnings recap", "https://example.com/drop-1",
			"Quarterly results were in line with expectations."),
	}

	summary, err := f.orchestrator.Run(context.Background(), "test-feed", time.Time{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Dropped != 1 {
		t.Errorf("summary = %+v, want 1 dropped", summary)
	}

	a := f.article(t, "drop-1")
	if a.State != core.StateArchived {
		t.Errorf("state = %s, want ARCHIVED", a.State)
	}
	if a.TriageAction != core.ActionDrop {
		t.Errorf("triage action = %s, want DROP", a.TriageAction)
	}
}

func TestRunEscalatesMediumRelevancy(t *testing.T) {
	f := newFixture(t, map[string]float64{"Fortinet mention": 0.65})
	f.source.articles = []core.ParsedArticle{
		parsedArticle("rev-1", "Fortinet mention", "https://example.com/rev-1",
			"Brief note touching on Fortinet gear."),
	}

	summary, err := f.orchestrator.Run(context.Background(), "test-feed", time.Time{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Reviewed != 1 {
		t.Errorf("summary = %+v, want 1 reviewed", summary)
	}

	a := f.article(t, "rev-1")
	if a.State != core.StateReview {
		t.Errorf("state = %s, want REVIEW", a.State)
	}
	if a.Escalation == nil {
		t.Fatal("escalation record missing")
	}
	if a.Escalation.Reason != escalate.ReasonMediumRelevancy {
		t.Errorf("reason = %q, want %q", a.Escalation.Reason, escalate.ReasonMediumRelevancy)
	}
	if a.PriorityScore <= 0 {
		t.Errorf("priority = %v, want > 0", a.PriorityScore)
	}

	if msgs := f.sender.Messages(); len(msgs) != 1 {
		t.Errorf("notifications = %d, want 1", len(msgs))
	}
}

func TestRunEscalatesGuardrailViolation(t *testing.T) {
	f := newFixture(t, map[string]float64{"leaky advisory": 0.9})
	f.source.articles = []core.ParsedArticle{
		parsedArticle("guard-1", "leaky advisory", "https://example.com/guard-1",
			"Fortinet advisory quoting the reporter at jane.doe@example.com."),
	}

	summary, err := f.orchestrator.Run(context.Background(), "test-feed", time.Time{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Reviewed != 1 {
		t.Errorf("summary = %+v, want 1 reviewed", summary)
	}

	a := f.article(t, "guard-1")
	if a.State != core.StateReview {
		t.Errorf("state = %s, want REVIEW", a.State)
	}
	if a.Escalation == nil || a.Escalation.Reason != escalate.ReasonGuardrailViolation {
		t.Errorf("escalation = %+v, want guardrail_violation", a.Escalation)
	}
	if len(a.GuardrailFlags) == 0 {
		t.Error("guardrail flags missing on escalated article")
	}
}

func TestRunArchivesDuplicate(t *testing.T) {
	f := newFixture(t, map[string]float64{"Fortinet advisory": 0.9})
	ctx := context.Background()

	f.source.articles = []core.ParsedArticle{
		parsedArticle("orig-1", "Fortinet advisory", "https://example.com/same-story",
			"Fortinet released fixes for a critical flaw."),
	}
	if _, err := f.orchestrator.Run(ctx, "test-feed", time.Time{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	f.source.articles = []core.ParsedArticle{
		parsedArticle("copy-1", "Fortinet advisory", "https://example.com/same-story",
			"Fortinet released fixes for a critical flaw."),
	}
	summary, err := f.orchestrator.Run(ctx, "test-feed", time.Time{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if summary.Dropped != 1 {
		t.Errorf("summary = %+v, want 1 dropped", summary)
	}

	a := f.article(t, "copy-1")
	if a.State != core.StateArchived {
		t.Errorf("state = %s, want ARCHIVED", a.State)
	}
	if !a.IsDuplicate || a.DuplicateOf != "orig-1" {
		t.Errorf("duplicate fields = %t, %q", a.IsDuplicate, a.DuplicateOf)
	}
	if a.ClusterID != core.ClusterIDFor("orig-1") {
		t.Errorf("cluster = %q, want the canonical's cluster", a.ClusterID)
	}
	// Duplicates skip guardrail and triage.
	if len(a.GuardrailFlags) != 0 {
		t.Errorf("guardrail flags = %v, want none for a duplicate", a.GuardrailFlags)
	}
}

func TestRunIdempotentRerun(t *testing.T) {
	f := newFixture(t, map[string]float64{"Fortinet advisory": 0.9})
	ctx := context.Background()
	f.source.articles = []core.ParsedArticle{
		parsedArticle("idem-1", "Fortinet advisory", "https://example.com/idem-1",
			"Fortinet released fixes for a critical flaw."),
	}

	if _, err := f.orchestrator.Run(ctx, "test-feed", time.Time{}); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	before := f.article(t, "idem-1")

	summary, err := f.orchestrator.Run(ctx, "test-feed", time.Time{})
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if summary.Skipped != 1 || summary.Processed != 0 {
		t.Errorf("summary = %+v, want 1 skipped", summary)
	}

	after := f.article(t, "idem-1")
	if after.Version != before.Version {
		t.Errorf("version changed on re-run: %d -> %d", before.Version, after.Version)
	}
	if len(f.bus.Events()) != 1 {
		t.Errorf("events = %d, want the single original publication", len(f.bus.Events()))
	}
}

func TestRunUnknownFeed(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.orchestrator.Run(context.Background(), "nope", time.Time{}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Run(unknown feed) error = %v, want ErrNotFound", err)
	}
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.source.err = errors.New("network down")
	if _, err := f.orchestrator.Run(context.Background(), "test-feed", time.Time{}); err == nil {
		t.Error("Run() with failing source should error")
	}
}

func TestReviewReason(t *testing.T) {
	passed := core.GuardrailResult{Passed: true}
	tests := []struct {
		name  string
		rel   core.RelevanceResult
		guard core.GuardrailResult
		want  string
	}{
		{
			"guardrail failure wins",
			core.RelevanceResult{RelevancyScore: 0.9},
			core.GuardrailResult{Passed: false},
			escalate.ReasonGuardrailViolation,
		},
		{
			"medium relevancy",
			core.RelevanceResult{RelevancyScore: 0.7},
			passed,
			escalate.ReasonMediumRelevancy,
		},
		{
			"high relevancy without keywords",
			core.RelevanceResult{RelevancyScore: 0.9},
			passed,
			escalate.ReasonHighRelevancyNoKeyword,
		},
		{
			"fallback",
			core.RelevanceResult{RelevancyScore: 0.5},
			passed,
			escalate.ReasonManualReviewRequested,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reviewReason(tt.rel, tt.guard); got != tt.want {
				t.Errorf("reviewReason() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	if got := summarize("short"); got != "short" {
		t.Errorf("summarize() = %q", got)
	}
	long := strings.Repeat("x", 500)
	if got := summarize(long); len(got) != 280 {
		t.Errorf("summarize() length = %d, want 280", len(got))
	}
}
