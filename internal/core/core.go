package core

import "time"

// ArticleState is the lifecycle state of an article in the triage pipeline.
type ArticleState string

const (
	StateIngested  ArticleState = "INGESTED"  // Created on first sight, not yet processed
	StateProcessed ArticleState = "PROCESSED" // Pipeline finished, disposition recorded
	StatePublished ArticleState = "PUBLISHED" // Auto-published or approved by a reviewer
	StateReview    ArticleState = "REVIEW"    // Waiting in the human review queue
	StateArchived  ArticleState = "ARCHIVED"  // Terminal; only metadata may change
)

// Valid reports whether s is one of the five allowed states.
func (s ArticleState) Valid() bool {
	switch s {
	case StateIngested, StateProcessed, StatePublished, StateReview, StateArchived:
		return true
	}
	return false
}

// TriageAction is the terminal disposition chosen by the triage decision engine.
type TriageAction string

const (
	ActionAutoPublish TriageAction = "AUTO_PUBLISH"
	ActionReview      TriageAction = "REVIEW"
	ActionDrop        TriageAction = "DROP"
)

// Article is the central entity of the pipeline. It is created by the
// orchestrator on first sight, mutated only through conditional writes, and
// never deleted (deletion is a transition to ARCHIVED).
type Article struct {
	ID          string    `json:"article_id"`     // Stable opaque identifier
	FeedID      string    `json:"feed_id"`        // Source feed identifier
	URL         string    `json:"url"`            // Canonical URL (tracking params removed)
	RawURL      string    `json:"raw_url"`        // URL exactly as fetched
	Title       string    `json:"title"`          // Article title
	PublishedAt time.Time `json:"published_at"`   // Publication timestamp (UTC)
	IngestedAt  time.Time `json:"ingested_at"`    // When the pipeline first saw the article
	ContentHash string    `json:"content_hash"`   // Hex SHA-256 of normalized text
	RawBlobKey  string    `json:"raw_blob_key"`   // Blob-store key for raw HTML
	TextBlobKey string    `json:"text_blob_key"`  // Blob-store key for normalized text
	Summary     string    `json:"summary"`        // Short generated summary
	Tags        []string  `json:"tags,omitempty"` // Free-form tags (mutable even when archived)

	State   ArticleState `json:"state"`
	Version int64        `json:"version"` // Monotonically increases on each mutation

	// Dedup / cluster fields. Exactly one of (IsDuplicate=false, DuplicateOf="")
	// or (IsDuplicate=true, DuplicateOf=<canonical id>) holds.
	IsDuplicate bool   `json:"is_duplicate"`
	DuplicateOf string `json:"duplicate_of,omitempty"`
	ClusterID   string `json:"cluster_id,omitempty"` // Non-empty once dedup has run

	// Processing outputs.
	RelevancyScore float64          `json:"relevancy_score"` // [0,1]
	KeywordMatches []KeywordMatch   `json:"keyword_matches,omitempty"`
	Entities       EntityExtraction `json:"entities"`
	GuardrailFlags []string         `json:"guardrail_flags,omitempty"`
	TriageAction   TriageAction     `json:"triage_action,omitempty"`
	PriorityScore  float64          `json:"priority_score"` // [0,1]
	Confidence     float64          `json:"confidence"`     // [0,1]

	// Human decision fields, set by the decision processor.
	ReviewedBy string    `json:"reviewed_by,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
	DecisionID string    `json:"decision_id,omitempty"`

	Escalation *EscalationRecord `json:"escalation,omitempty"`
	AuditTrail []AuditEntry      `json:"audit_trail,omitempty"`
}

// ParsedArticle is the feed parser's output contract: one normalized article
// ready for the per-article workflow. Articles lacking a title or url are
// omitted by the parser and never reach the pipeline.
type ParsedArticle struct {
	ArticleID         string            `json:"article_id"`
	Title             string            `json:"title"`
	URL               string            `json:"url"`
	CanonicalURL      string            `json:"canonical_url"`
	PublishedAt       time.Time         `json:"published_at"`
	Author            string            `json:"author,omitempty"`
	NormalizedContent string            `json:"normalized_content"`
	RawBlobRef        string            `json:"raw_blob_ref"`
	NormalizedBlobRef string            `json:"normalized_blob_ref"`
	ContentHash       string            `json:"content_hash"`
	ExtractedURLs     []string          `json:"extracted_urls,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	FeedMetadata      map[string]string `json:"feed_metadata,omitempty"`
}

// KeywordMatch records one matched watchlist term.
type KeywordMatch struct {
	Keyword    string   `json:"keyword"`            // The primary term that matched
	HitCount   int      `json:"hit_count"`          // Word-boundary occurrences
	Contexts   []string `json:"contexts,omitempty"` // Up to five ~10-word windows
	Confidence float64  `json:"confidence"`         // 1.0 exact, lower for fuzzy
	Weight     float64  `json:"weight"`             // Configured term weight [0,1]
}

// EntityExtraction holds named-entity lists keyed by kind.
type EntityExtraction struct {
	CVEs         []string `json:"cves,omitempty"`
	ThreatActors []string `json:"threat_actors,omitempty"`
	Malware      []string `json:"malware,omitempty"`
	Vendors      []string `json:"vendors,omitempty"`
	Products     []string `json:"products,omitempty"`
	Sectors      []string `json:"sectors,omitempty"`
	Countries    []string `json:"countries,omitempty"`
}

// Total returns the number of entities across all kinds.
func (e EntityExtraction) Total() int {
	return len(e.CVEs) + len(e.ThreatActors) + len(e.Malware) +
		len(e.Vendors) + len(e.Products) + len(e.Sectors) + len(e.Countries)
}

// RelevanceResult is the output of the relevance evaluator.
type RelevanceResult struct {
	IsRelevant     bool             `json:"is_relevant"`
	RelevancyScore float64          `json:"relevancy_score"` // [0,1]
	KeywordMatches []KeywordMatch   `json:"keyword_matches,omitempty"`
	Entities       EntityExtraction `json:"entities"`
	Rationale      string           `json:"rationale"`
	Confidence     float64          `json:"confidence"` // [0,1]
}

// DistinctKeywordHits counts distinct matched primary terms. The triage
// decision table keys on this, not on total occurrence counts.
func (r RelevanceResult) DistinctKeywordHits() int {
	seen := make(map[string]bool)
	for _, m := range r.KeywordMatches {
		seen[m.Keyword] = true
	}
	return len(seen)
}

// Severity grades a guardrail violation.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is a typed finding from one of the guardrail checks.
type Violation struct {
	Kind        string   `json:"kind"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
}

// GuardrailResult aggregates the four guardrail checks for one article.
type GuardrailResult struct {
	Passed          bool        `json:"passed"`
	Violations      []Violation `json:"violations,omitempty"`
	Flags           []string    `json:"flags,omitempty"`
	Confidence      float64     `json:"confidence"`
	Rationale       string      `json:"rationale"`
	RedactedContent string      `json:"redacted_content,omitempty"`
}

// DedupResult is the outcome of heuristic+semantic duplicate detection.
type DedupResult struct {
	IsDuplicate bool    `json:"is_duplicate"`
	DuplicateOf string  `json:"duplicate_of,omitempty"` // Canonical article id
	Method      string  `json:"method,omitempty"`       // Which test matched
	Similarity  float64 `json:"similarity"`             // [0,1]
	ClusterID   string  `json:"cluster_id"`             // Assigned cluster
	Warning     string  `json:"warning,omitempty"`      // Semantic-stage degradation note
}

// EscalationRecord is attached to an article in REVIEW. Immutable once created.
type EscalationRecord struct {
	EscalationID  string            `json:"escalation_id"`
	Reason        string            `json:"reason"`
	PriorityScore float64           `json:"priority_score"` // [0,1]
	EscalatedAt   time.Time         `json:"escalated_at"`
	Context       map[string]string `json:"context,omitempty"`
}

// AuditEntry is an append-only record of one state-changing event on an
// article. Entries are never edited or removed.
type AuditEntry struct {
	AuditID     string       `json:"audit_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Action      string       `json:"action"` // e.g. ActionPipelineTransition, ActionHumanDecision
	Actor       string       `json:"actor"`  // Reviewer name or "system"
	PrevState   ArticleState `json:"prev_state"`
	NewState    ArticleState `json:"new_state"`
	Decision    string       `json:"decision,omitempty"`
	Rationale   string       `json:"rationale,omitempty"`
	PrevVersion int64        `json:"prev_version"`
	NewVersion  int64        `json:"new_version"`
}

// Audit actions and the actor used for automated transitions.
const (
	AuditActionPipeline = "pipeline_transition"
	AuditActionDecision = "human_decision"
	AuditActorSystem    = "system"
)

// CommentVisibility controls whether a comment is shown, held, or removed.
type CommentVisibility string

const (
	VisibilityPublic    CommentVisibility = "public"
	VisibilityModerated CommentVisibility = "moderated"
	VisibilityDeleted   CommentVisibility = "deleted"
)

// MaxCommentDepth bounds reply nesting.
const MaxCommentDepth = 10

// Comment is a threaded analyst comment on an article. Comments hold a weak
// reference to the article: archiving or losing the article orphans them.
type Comment struct {
	CommentID       string            `json:"comment_id"`
	ArticleID       string            `json:"article_id"`
	ThreadID        string            `json:"thread_id"` // Root comment's id for the whole sub-tree
	ParentCommentID string            `json:"parent_comment_id,omitempty"`
	Author          string            `json:"author"`
	Content         string            `json:"content"`
	Depth           int               `json:"depth"` // 0 for roots, <= MaxCommentDepth
	Visibility      CommentVisibility `json:"visibility"`
	CreatedAt       time.Time         `json:"created_at"`
	ReplyCount      int               `json:"reply_count"`
}

// ClusterIDFor derives the implicit cluster identity for a canonical article.
func ClusterIDFor(canonicalArticleID string) string {
	return "cluster_" + canonicalArticleID
}
