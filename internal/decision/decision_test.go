package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/Virgo-Alpha/sentinel/internal/events"
	"github.com/Virgo-Alpha/sentinel/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, store.EntityStore, *events.MemoryBus) {
	t.Helper()
	entities, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { entities.Close() })

	bus := events.NewMemoryBus()
	return NewProcessor(entities, bus), entities, bus
}

func seedArticle(t *testing.T, entities store.EntityStore, id string, state core.ArticleState) {
	t.Helper()
	article := core.Article{ID: id, Title: "Seeded", State: state, Version: 1}
	if err := entities.Put(context.Background(), store.TableArticles, id, article, true); err != nil {
		t.Fatalf("Put(%s) error = %v", id, err)
	}
}

func TestProcessApprove(t *testing.T) {
	p, entities, bus := newTestProcessor(t)
	ctx := context.Background()
	seedArticle(t, entities, "art-1", core.StateReview)

	result, err := p.Process(ctx, Request{
		ArticleID: "art-1",
		Decision:  Approve,
		Reviewer:  "alex",
		Rationale: "confirmed relevant",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if result.PrevState != core.StateReview || result.NewState != core.StatePublished {
		t.Errorf("transition = %s -> %s, want REVIEW -> PUBLISHED", result.PrevState, result.NewState)
	}
	if result.DecisionID == "" {
		t.Error("decision id not assigned")
	}

	var article core.Article
	if err := entities.Get(ctx, store.TableArticles, "art-1", &article, true); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if article.State != core.StatePublished {
		t.Errorf("state = %s, want PUBLISHED", article.State)
	}
	if article.Version != 2 {
		t.Errorf("version = %d, want 2", article.Version)
	}
	if article.ReviewedBy != "alex" || article.DecisionID != result.DecisionID {
		t.Errorf("reviewer fields = %q, %q", article.ReviewedBy, article.DecisionID)
	}
	if len(article.AuditTrail) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(article.AuditTrail))
	}
	entry := article.AuditTrail[0]
	if entry.Action != core.AuditActionDecision || entry.Actor != "alex" || entry.Decision != "approve" {
		t.Errorf("audit entry = %+v", entry)
	}
	if entry.Rationale != "confirmed relevant" {
		t.Errorf("audit rationale = %q", entry.Rationale)
	}

	emitted := bus.Events()
	if len(emitted) != 1 {
		t.Fatalf("events = %d, want 1", len(emitted))
	}
	if emitted[0].Kind != events.KindArticleApproved || emitted[0].ArticleID != "art-1" {
		t.Errorf("event = %+v", emitted[0])
	}
	if emitted[0].Payload["decision_id"] != result.DecisionID {
		t.Errorf("event decision_id = %q", emitted[0].Payload["decision_id"])
	}
}

func TestProcessTransitions(t *testing.T) {
	tests := []struct {
		name      string
		state     core.ArticleState
		decision  Kind
		wantState core.ArticleState
		wantErr   error
	}{
		{"approve from review", core.StateReview, Approve, core.StatePublished, nil},
		{"reject from review", core.StateReview, Reject, core.StateArchived, nil},
		{"edit keeps review", core.StateReview, Edit, core.StateReview, nil},
		{"escalate keeps review", core.StateReview, Escalate, core.StateReview, nil},
		{"unpublish via reject", core.StatePublished, Reject, core.StateArchived, nil},
		{"approve from published", core.StatePublished, Approve, "", core.ErrInvalidTransition},
		{"reject from archived", core.StateArchived, Reject, "", core.ErrInvalidTransition},
		{"approve from ingested", core.StateIngested, Approve, "", core.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, entities, _ := newTestProcessor(t)
			seedArticle(t, entities, "art-t", tt.state)

			result, err := p.Process(context.Background(), Request{
				ArticleID: "art-t", Decision: tt.decision, Reviewer: "alex",
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Process() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if result.NewState != tt.wantState {
				t.Errorf("new state = %s, want %s", result.NewState, tt.wantState)
			}
		})
	}
}

func TestProcessValidation(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing article id", Request{Decision: Approve, Reviewer: "alex"}},
		{"missing reviewer", Request{ArticleID: "a", Decision: Approve}},
		{"unknown decision", Request{ArticleID: "a", Decision: "promote", Reviewer: "alex"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Process(ctx, tt.req); !errors.Is(err, core.ErrValidation) {
				t.Errorf("Process() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestProcessMissingArticle(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	_, err := p.Process(context.Background(), Request{ArticleID: "ghost", Decision: Approve, Reviewer: "alex"})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Process() error = %v, want ErrNotFound", err)
	}
}

func TestProcessModifications(t *testing.T) {
	p, entities, _ := newTestProcessor(t)
	ctx := context.Background()
	seedArticle(t, entities, "art-m", core.StateReview)

	title := "Corrected headline"
	summary := "Reviewer-provided summary."
	_, err := p.Process(ctx, Request{
		ArticleID: "art-m",
		Decision:  Edit,
		Reviewer:  "alex",
		Modifications: &Modifications{
			Title:   &title,
			Summary: &summary,
			Tags:    []string{"verified"},
		},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var article core.Article
	if err := entities.Get(ctx, store.TableArticles, "art-m", &article, true); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if article.Title != title || article.Summary != summary {
		t.Errorf("modifications not applied: %q, %q", article.Title, article.Summary)
	}
	if len(article.Tags) != 1 || article.Tags[0] != "verified" {
		t.Errorf("tags = %v", article.Tags)
	}
	if article.State != core.StateReview {
		t.Errorf("edit decision changed state to %s", article.State)
	}
}

func TestProcessRetriesThenConflict(t *testing.T) {
	p, entities, _ := newTestProcessor(t)
	ctx := context.Background()
	seedArticle(t, entities, "art-c", core.StateReview)

	// Interfering writer bumps the version before every update attempt.
	interfere := func() {
		var a core.Article
		if err := entities.Get(ctx, store.TableArticles, "art-c", &a, true); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		prev := a.Version
		a.Version = prev + 1
		if err := entities.Update(ctx, store.TableArticles, "art-c", prev, a); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}
	p.now = func() time.Time {
		interfere()
		return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	}

	_, err := p.Process(ctx, Request{ArticleID: "art-c", Decision: Approve, Reviewer: "alex"})
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("Process() error = %v, want ErrConflict after retries", err)
	}
}

func TestProcessBatchPartialFailure(t *testing.T) {
	p, entities, _ := newTestProcessor(t)
	seedArticle(t, entities, "ok-1", core.StateReview)
	seedArticle(t, entities, "bad-state", core.StateArchived)

	batch := p.ProcessBatch(context.Background(), []Request{
		{ArticleID: "ok-1", Decision: Approve, Reviewer: "alex"},
		{ArticleID: "bad-state", Decision: Approve, Reviewer: "alex"},
		{ArticleID: "ghost", Decision: Reject, Reviewer: "alex"},
	})

	if batch.Succeeded != 1 || batch.Failed != 2 {
		t.Errorf("batch = %d succeeded, %d failed, want 1/2", batch.Succeeded, batch.Failed)
	}
	if len(batch.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(batch.Results))
	}
	if batch.Results[0].Err != nil {
		t.Errorf("first result error = %v", batch.Results[0].Err)
	}
	if !errors.Is(batch.Results[1].Err, core.ErrInvalidTransition) {
		t.Errorf("second result error = %v, want ErrInvalidTransition", batch.Results[1].Err)
	}
	if !errors.Is(batch.Results[2].Err, core.ErrNotFound) {
		t.Errorf("third result error = %v, want ErrNotFound", batch.Results[2].Err)
	}
}

func TestProcessAuditTrailAppends(t *testing.T) {
	p, entities, _ := newTestProcessor(t)
	ctx := context.Background()
	seedArticle(t, entities, "art-a", core.StateReview)

	if _, err := p.Process(ctx, Request{ArticleID: "art-a", Decision: Edit, Reviewer: "alex"}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, err := p.Process(ctx, Request{ArticleID: "art-a", Decision: Approve, Reviewer: "sam"}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var article core.Article
	if err := entities.Get(ctx, store.TableArticles, "art-a", &article, true); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(article.AuditTrail) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(article.AuditTrail))
	}
	if article.AuditTrail[0].Decision != "edit" || article.AuditTrail[1].Decision != "approve" {
		t.Errorf("audit order = %s, %s", article.AuditTrail[0].Decision, article.AuditTrail[1].Decision)
	}
	if article.Version != 3 {
		t.Errorf("version = %d, want 3", article.Version)
	}
}
