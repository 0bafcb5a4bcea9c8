// Package store is the content-store adapter: a keyed entity store with
// conditional writes and secondary indexes, plus a blob store for raw and
// normalized article content.
package store

import (
	"context"
	"encoding/json"
)

// Entity store table names.
const (
	TableArticles = "articles"
	TableComments = "comments"
	TableMemory   = "memory"
)

// Secondary index names.
const (
	IndexStatePublished   = "state_published"   // articles: state x published_at
	IndexClusterPublished = "cluster_published" // articles: cluster_id x published_at
	IndexArticleCreated   = "article_created"   // comments: article_id x created_at
)

// Batch size limits, enforced with core.ErrValidation.
const (
	MaxBatchPut = 25
	MaxBatchGet = 100
)

// SecondaryQuery selects items from a secondary index. Partition is an exact
// match on the index's partition attribute; RangeFrom/RangeTo bound the sort
// attribute (inclusive, RFC3339 for timestamps); Filter, when set, is applied
// to each raw item client-side.
type SecondaryQuery struct {
	Table      string
	Index      string
	Partition  string
	RangeFrom  string
	RangeTo    string
	Descending bool
	Limit      int
	Cursor     string
	Filter     func(raw json.RawMessage) bool
}

// QueryPage is one page of secondary-query results.
type QueryPage struct {
	Keys       []string
	Items      []json.RawMessage
	NextCursor string // empty when the page is the last one
}

// WriteOp is one element of a TransactWrite. Exactly one of IfAbsent or
// IfVersion conditions applies; a zero-value op is an unconditional put.
type WriteOp struct {
	Table     string
	Key       string
	Item      any
	IfAbsent  bool
	IfVersion *int64
}

// EntityStore is the keyed entity store. All mutations are conditional:
// optimistic concurrency on version replaces in-memory locking. Conditional
// failures surface core.ErrPreconditionFailed; capacity rejections surface
// core.ErrThrottled and are retried by callers with backoff.
type EntityStore interface {
	// Put writes item under key. With ifAbsent, the write fails with
	// core.ErrPreconditionFailed if the key already exists.
	Put(ctx context.Context, table, key string, item any, ifAbsent bool) error

	// Update replaces the item under key only if the stored version equals
	// ifVersion. The caller re-reads and retries on precondition failure.
	Update(ctx context.Context, table, key string, ifVersion int64, item any) error

	// Get reads the item under key into out. strongRead requests a
	// read-after-write consistent read where the backend distinguishes.
	// Returns core.ErrNotFound when absent.
	Get(ctx context.Context, table, key string, out any, strongRead bool) error

	// QuerySecondary pages through a secondary index.
	QuerySecondary(ctx context.Context, q SecondaryQuery) (*QueryPage, error)

	// BatchPut writes up to MaxBatchPut items unconditionally.
	BatchPut(ctx context.Context, table string, items map[string]any) error

	// BatchGet reads up to MaxBatchGet keys; absent keys are omitted from the
	// result rather than failing the batch.
	BatchGet(ctx context.Context, table string, keys []string) (map[string]json.RawMessage, error)

	// TransactWrite applies all ops atomically; any failed condition aborts
	// the whole transaction with core.ErrPreconditionFailed.
	TransactWrite(ctx context.Context, ops []WriteOp) error

	Close() error
}

// Logical blob buckets.
const (
	BucketContent   = "content"   // raw HTML + normalized text
	BucketArtifacts = "artifacts" // exported reports
	BucketTraces    = "traces"    // processing traces
)

// BlobStore stores article content and pipeline artifacts. Keys are
// hierarchical: {kind}/{feed_or_cluster}/{article_or_hash}.{ext}.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}
