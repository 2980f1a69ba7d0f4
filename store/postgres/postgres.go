// Package postgres stores audit partitions as PostgreSQL tables.
//
// A template is a table named after the template whose JSON definition lives
// in the table comment. Each partition is created on first write with
// CREATE TABLE ... (LIKE template INCLUDING ALL), so schema and indexes
// follow the template in force at that time.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/goAudit/store"
)

const templateMarker = `{"name":`

// Store implements store.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool

	// ensured caches partitions known to exist.
	ensured sync.Map
}

var _ store.Store = (*Store)(nil)

// Open creates a pool and fails fast when the database is unreachable.
func Open(ctx context.Context, url string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close shuts down the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// PutTemplateIfAbsent creates the template table under an advisory lock so
// concurrent callers observe exactly one creation.
func (s *Store) PutTemplateIfAbsent(ctx context.Context, tmpl store.Template) (bool, error) {
	if tmpl.Name == "" || tmpl.Pattern == "" {
		return false, fmt.Errorf("%w: template requires name and pattern", store.ErrMalformed)
	}
	def, err := json.Marshal(tmpl)
	if err != nil {
		return false, fmt.Errorf("%w: %v", store.ErrMalformed, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, classify(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tmpl.Name); err != nil {
		return false, classify(err)
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ident(tmpl.Name)).Scan(&exists); err != nil {
		return false, classify(err)
	}
	if exists {
		return false, nil
	}

	table := ident(tmpl.Name)
	if _, err := tx.Exec(ctx, `CREATE TABLE `+table+` (
		id     text PRIMARY KEY,
		ts     timestamptz NOT NULL,
		source jsonb NOT NULL
	)`); err != nil {
		return false, classify(err)
	}
	if _, err := tx.Exec(ctx, `CREATE INDEX ON `+table+` (ts)`); err != nil {
		return false, classify(err)
	}
	// COMMENT does not accept bind parameters.
	comment := "'" + strings.ReplaceAll(string(def), "'", "''") + "'"
	if _, err := tx.Exec(ctx, `COMMENT ON TABLE `+table+` IS `+comment); err != nil {
		return false, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, classify(err)
	}
	return true, nil
}

// TemplateExists reports whether the template table exists.
func (s *Store) TemplateExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, ident(name)).Scan(&exists); err != nil {
		return false, classify(err)
	}
	return exists, nil
}

// DeleteTemplate drops the template table. Existing partitions are kept.
func (s *Store) DeleteTemplate(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+ident(name)); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) loadTemplates(ctx context.Context) ([]store.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.relname, obj_description(c.oid, 'pg_class')
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema()
		  AND c.relkind = 'r'
		  AND obj_description(c.oid, 'pg_class') LIKE $1
	`, templateMarker+"%")
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []store.Template
	for rows.Next() {
		var relname, comment string
		if err := rows.Scan(&relname, &comment); err != nil {
			return nil, classify(err)
		}
		var tmpl store.Template
		if err := json.Unmarshal([]byte(comment), &tmpl); err != nil || tmpl.Name != relname {
			continue
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *Store) ensurePartition(ctx context.Context, partition string, tmpl store.Template, hasTemplate bool) error {
	if _, ok := s.ensured.Load(partition); ok {
		return nil
	}
	var ddl string
	if hasTemplate {
		ddl = `CREATE TABLE IF NOT EXISTS ` + ident(partition) + ` (LIKE ` + ident(tmpl.Name) + ` INCLUDING ALL)`
	} else {
		ddl = `CREATE TABLE IF NOT EXISTS ` + ident(partition) + ` (
			id     text PRIMARY KEY,
			ts     timestamptz NOT NULL,
			source jsonb NOT NULL
		)`
	}
	// CREATE TABLE IF NOT EXISTS still races on pg_type, so creators of the
	// same partition are serialized.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, partitionLockKey+partition); err != nil {
		return classify(err)
	}
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return classifyDDL(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyDDL(err)
	}
	s.ensured.Store(partition, struct{}{})
	return nil
}

const partitionLockKey = "goaudit-partition:"

const insertSQL = `INSERT INTO %s (id, ts, source) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`

// Bulk validates documents in Go, then inserts each partition's accepted
// documents with one pgx.Batch. A data error in a batch aborts its implicit
// transaction, so the partition is replayed row by row to isolate offenders.
func (s *Store) Bulk(ctx context.Context, docs []store.Document) (store.BulkResponse, error) {
	resp := store.BulkResponse{Items: make([]store.ItemStatus, len(docs))}
	if len(docs) == 0 {
		return resp, nil
	}

	templates, err := s.loadTemplates(ctx)
	if err != nil {
		return store.BulkResponse{}, err
	}

	groups := make(map[string][]int)
	var order []string
	for i, doc := range docs {
		resp.Items[i] = store.ItemStatus{ID: doc.ID, Partition: doc.Partition}
		if tmpl, ok := store.MatchTemplate(templates, doc.Partition); ok {
			if verr := tmpl.Validate(doc); verr != nil {
				resp.Items[i].Err = verr
				continue
			}
		}
		if _, seen := groups[doc.Partition]; !seen {
			order = append(order, doc.Partition)
		}
		groups[doc.Partition] = append(groups[doc.Partition], i)
	}

	for _, partition := range order {
		tmpl, hasTemplate := store.MatchTemplate(templates, partition)
		if err := s.ensurePartition(ctx, partition, tmpl, hasTemplate); err != nil {
			return store.BulkResponse{}, err
		}

		indexes := groups[partition]
		stmt := fmt.Sprintf(insertSQL, ident(partition))
		batch := &pgx.Batch{}
		for _, i := range indexes {
			batch.Queue(stmt, docs[i].ID, docs[i].Timestamp.UTC(), string(docs[i].Source))
		}
		err := s.pool.SendBatch(ctx, batch).Close()
		if err == nil {
			continue
		}

		mapped := classify(err)
		if isUndefinedTable(err) {
			s.ensured.Delete(partition)
		}
		if !errors.Is(mapped, store.ErrMalformed) {
			return store.BulkResponse{}, mapped
		}
		for _, i := range indexes {
			if _, rowErr := s.pool.Exec(ctx, stmt, docs[i].ID, docs[i].Timestamp.UTC(), string(docs[i].Source)); rowErr != nil {
				rowMapped := classify(rowErr)
				if !errors.Is(rowMapped, store.ErrMalformed) {
					return store.BulkResponse{}, rowMapped
				}
				resp.Items[i].Err = rowMapped
			}
		}
	}
	return resp, nil
}

func (s *Store) listPartitions(ctx context.Context, q store.Query) ([]string, error) {
	if len(q.Partitions) > 0 {
		return q.Partitions, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = current_schema() AND c.relkind = 'r'
		ORDER BY c.relname
	`)
	if err != nil {
		return nil, classify(err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classify(err)
	}
	out := names[:0]
	for _, name := range names {
		if q.Selects(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Search runs one SELECT per selected partition with the time range and term
// filters pushed into SQL.
func (s *Store) Search(ctx context.Context, q store.Query) (store.SearchResult, error) {
	partitions, err := s.listPartitions(ctx, q)
	if err != nil {
		return store.SearchResult{}, err
	}

	var (
		where []string
		args  []any
	)
	if !q.From.IsZero() {
		args = append(args, q.From.UTC())
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To.UTC())
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}
	for k, v := range q.Terms {
		args = append(args, k, v)
		where = append(where, fmt.Sprintf("source->>$%d = $%d", len(args)-1, len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var matches []store.Document
	for _, partition := range partitions {
		rows, err := s.pool.Query(ctx, `SELECT id, ts, source::text FROM `+ident(partition)+clause, args...)
		if err != nil {
			if isUndefinedTable(err) {
				continue
			}
			return store.SearchResult{}, classify(err)
		}
		docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Document, error) {
			var (
				doc store.Document
				src string
			)
			if err := row.Scan(&doc.ID, &doc.Timestamp, &src); err != nil {
				return doc, err
			}
			doc.Partition = partition
			doc.Timestamp = doc.Timestamp.UTC()
			doc.Source = []byte(src)
			return doc, nil
		})
		if err != nil {
			if isUndefinedTable(err) {
				continue
			}
			return store.SearchResult{}, classify(err)
		}
		matches = append(matches, docs...)
	}
	return store.Collect(matches, q.Limit), nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

// classifyDDL treats a lost creation race as retryable: the next attempt
// finds the table in place.
func classifyDDL(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23505" || pgErr.Code == "42P07") {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return classify(err)
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501":
			return fmt.Errorf("%w: %v", store.ErrPermissionDenied, err)
		case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%w: %v", store.ErrMalformed, err)
		}
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
