package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Virgo-Alpha/sentinel/internal/core"
	"github.com/mattn/go-sqlite3"
)

// SQLiteStore implements EntityStore on a local SQLite database. Versions are
// first-class columns so conditional updates compile to a single guarded
// UPDATE; the JSON document is the authoritative item body.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

type tableSpec struct {
	indexCols []string // extracted from the item JSON into real columns
}

var tableSpecs = map[string]tableSpec{
	TableArticles: {indexCols: []string{"state", "cluster_id", "published_at"}},
	TableComments: {indexCols: []string{"article_id", "created_at"}},
	TableMemory:   {},
}

// indexSpec maps a secondary index to its partition and range columns.
type indexSpec struct {
	table        string
	partitionCol string
	rangeCol     string
}

var indexSpecs = map[string]indexSpec{
	IndexStatePublished:   {table: TableArticles, partitionCol: "state", rangeCol: "published_at"},
	IndexClusterPublished: {table: TableArticles, partitionCol: "cluster_id", rangeCol: "published_at"},
	IndexArticleCreated:   {table: TableComments, partitionCol: "article_id", rangeCol: "created_at"},
}

// NewSQLiteStore opens (creating if needed) the entity store database under
// dataDir.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "sentinel.db")
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			body TEXT NOT NULL,
			state TEXT,
			cluster_id TEXT,
			published_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_state_published ON articles (state, published_at);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_cluster_published ON articles (cluster_id, published_at);`,
		`CREATE TABLE IF NOT EXISTS comments (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			body TEXT NOT NULL,
			article_id TEXT,
			created_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_comments_article_created ON comments (article_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS memory (
			key TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			body TEXT NOT NULL
		);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encode marshals the item and pulls out the version and index columns.
func encode(table string, item any) (body string, version int64, cols map[string]string, err error) {
	spec, ok := tableSpecs[table]
	if !ok {
		return "", 0, nil, fmt.Errorf("%w: unknown table %q", core.ErrValidation, table)
	}

	raw, err := json.Marshal(item)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to marshal item: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", 0, nil, fmt.Errorf("%w: item is not a JSON object: %v", core.ErrValidation, err)
	}

	if v, ok := fields["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return "", 0, nil, fmt.Errorf("%w: non-integer version: %v", core.ErrValidation, err)
		}
	}

	cols = make(map[string]string, len(spec.indexCols))
	for _, col := range spec.indexCols {
		if v, ok := fields[col]; ok {
			var str string
			if err := json.Unmarshal(v, &str); err == nil {
				cols[col] = str
			}
		}
	}
	return string(raw), version, cols, nil
}

func (s *SQLiteStore) Put(ctx context.Context, table, key string, item any, ifAbsent bool) error {
	return s.put(ctx, s.db, table, key, item, ifAbsent)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) put(ctx context.Context, ex execer, table, key string, item any, ifAbsent bool) error {
	body, version, cols, err := encode(table, item)
	if err != nil {
		return err
	}

	colNames := "key, version, body"
	placeholders := "?, ?, ?"
	args := []any{key, version, body}
	for _, col := range tableSpecs[table].indexCols {
		colNames += ", " + col
		placeholders += ", ?"
		args = append(args, cols[col])
	}

	verb := "INSERT OR REPLACE"
	if ifAbsent {
		verb = "INSERT"
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, table, colNames, placeholders)
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: key %s already exists in %s", core.ErrPreconditionFailed, key, table)
		}
		return mapSQLiteErr(err, "put")
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, table, key string, ifVersion int64, item any) error {
	return s.update(ctx, s.db, table, key, ifVersion, item)
}

func (s *SQLiteStore) update(ctx context.Context, ex execer, table, key string, ifVersion int64, item any) error {
	body, version, cols, err := encode(table, item)
	if err != nil {
		return err
	}

	set := "version = ?, body = ?"
	args := []any{version, body}
	for _, col := range tableSpecs[table].indexCols {
		set += ", " + col + " = ?"
		args = append(args, cols[col])
	}
	args = append(args, key, ifVersion)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE key = ? AND version = ?", table, set)
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return mapSQLiteErr(err, "update")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		row := ex.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE key = ?", table), key)
		if err := row.Scan(&exists); err == nil && exists == 0 {
			return fmt.Errorf("%w: %s/%s", core.ErrNotFound, table, key)
		}
		return fmt.Errorf("%w: %s/%s is not at version %d", core.ErrPreconditionFailed, table, key, ifVersion)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, table, key string, out any, strongRead bool) error {
	if _, ok := tableSpecs[table]; !ok {
		return fmt.Errorf("%w: unknown table %q", core.ErrValidation, table)
	}
	// SQLite reads are always read-after-write consistent; strongRead is a
	// contract flag for backends that distinguish.
	_ = strongRead

	var body string
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT body FROM %s WHERE key = ?", table), key)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s/%s", core.ErrNotFound, table, key)
		}
		return mapSQLiteErr(err, "get")
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *SQLiteStore) QuerySecondary(ctx context.Context, q SecondaryQuery) (*QueryPage, error) {
	spec, ok := indexSpecs[q.Index]
	if !ok || spec.table != q.Table {
		return nil, fmt.Errorf("%w: unknown index %q on table %q", core.ErrValidation, q.Index, q.Table)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := 0
	if q.Cursor != "" {
		n, err := strconv.Atoi(q.Cursor)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad cursor %q", core.ErrValidation, q.Cursor)
		}
		offset = n
	}

	where := spec.partitionCol + " = ?"
	args := []any{q.Partition}
	if q.RangeFrom != "" {
		where += " AND " + spec.rangeCol + " >= ?"
		args = append(args, q.RangeFrom)
	}
	if q.RangeTo != "" {
		where += " AND " + spec.rangeCol + " <= ?"
		args = append(args, q.RangeTo)
	}
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	// Fetch one extra row to decide whether another page exists.
	query := fmt.Sprintf("SELECT key, body FROM %s WHERE %s ORDER BY %s %s, key %s LIMIT %d OFFSET %d",
		q.Table, where, spec.rangeCol, order, order, limit+1, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLiteErr(err, "query")
	}
	defer rows.Close()

	page := &QueryPage{}
	scanned := 0
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("failed to scan query row: %w", err)
		}
		scanned++
		if scanned > limit {
			page.NextCursor = strconv.Itoa(offset + limit)
			break
		}
		raw := json.RawMessage(body)
		if q.Filter != nil && !q.Filter(raw) {
			continue
		}
		page.Keys = append(page.Keys, key)
		page.Items = append(page.Items, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, mapSQLiteErr(err, "query")
	}
	return page, nil
}

func (s *SQLiteStore) BatchPut(ctx context.Context, table string, items map[string]any) error {
	if len(items) > MaxBatchPut {
		return fmt.Errorf("%w: batch put of %d exceeds limit %d", core.ErrValidation, len(items), MaxBatchPut)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err, "batch put")
	}
	for key, item := range items {
		if err := s.put(ctx, tx, table, key, item, false); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) BatchGet(ctx context.Context, table string, keys []string) (map[string]json.RawMessage, error) {
	if len(keys) > MaxBatchGet {
		return nil, fmt.Errorf("%w: batch get of %d exceeds limit %d", core.ErrValidation, len(keys), MaxBatchGet)
	}
	if _, ok := tableSpecs[table]; !ok {
		return nil, fmt.Errorf("%w: unknown table %q", core.ErrValidation, table)
	}

	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		var body string
		row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT body FROM %s WHERE key = ?", table), key)
		if err := row.Scan(&body); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue // absent keys are omitted, not errors
			}
			return nil, mapSQLiteErr(err, "batch get")
		}
		out[key] = json.RawMessage(body)
	}
	return out, nil
}

func (s *SQLiteStore) TransactWrite(ctx context.Context, ops []WriteOp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr(err, "transact")
	}
	for _, op := range ops {
		var opErr error
		if op.IfVersion != nil {
			opErr = s.update(ctx, tx, op.Table, op.Key, *op.IfVersion, op.Item)
		} else {
			opErr = s.put(ctx, tx, op.Table, op.Key, op.Item, op.IfAbsent)
		}
		if opErr != nil {
			tx.Rollback()
			return opErr
		}
	}
	return tx.Commit()
}

func isConstraint(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

// mapSQLiteErr translates driver busy/locked conditions into the retryable
// Throttled error.
func mapSQLiteErr(err error, op string) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		if serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked {
			return fmt.Errorf("%w: %s: %v", core.ErrThrottled, op, err)
		}
	}
	return fmt.Errorf("store %s failed: %w", op, err)
}
