// Package pgstore keeps leads and results in PostgreSQL tables under one schema.
// Row numbers follow the same spreadsheet convention as the other backends.
package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/store"
)

const DefaultSchema = "leadsync"

type Store struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Importer = (*Store)(nil)
	_ store.Closer   = (*Store)(nil)
)

// Open connects to dsn. schema defaults to DefaultSchema.
func Open(ctx context.Context, dsn, schema string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if strings.TrimSpace(schema) == "" {
		schema = DefaultSchema
	}
	if !isSafeIdent(schema) {
		return nil, fmt.Errorf("unsafe schema name %q", schema)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, schema: schema, logger: logger}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func (s *Store) Prepare(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id      bigserial PRIMARY KEY,
  name    text NOT NULL DEFAULT '',
  rating  text NOT NULL DEFAULT '',
  url     text NOT NULL DEFAULT '',
  contact text NOT NULL DEFAULT '',
  status  text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS %[3]s (
  id                 bigserial PRIMARY KEY,
  name               text NOT NULL DEFAULT '',
  analysis           text NOT NULL DEFAULT '',
  followup           text NOT NULL DEFAULT '',
  outreach_status    text NOT NULL DEFAULT '',
  preview_url        text NOT NULL DEFAULT '',
  normalized_contact text NOT NULL DEFAULT '',
  created_at         timestamptz NOT NULL DEFAULT now()
);`, pgx.Identifier{s.schema}.Sanitize(), s.table("leads"), s.table("results"))
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure tables: %w", err)
	}
	s.logger.Debug("postgres store ready", zap.String("schema", s.schema))
	return nil
}

func (s *Store) ReadLeads(ctx context.Context) ([]store.WorkItem, error) {
	q := fmt.Sprintf(`
SELECT ROW_NUMBER() OVER (ORDER BY id) + 1, name, rating, url, contact, status
FROM %s
ORDER BY id`, s.table("leads"))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var out []store.WorkItem
	for rows.Next() {
		var it store.WorkItem
		var row int64
		if err := rows.Scan(&row, &it.Name, &it.Rating, &it.URL, &it.Contact, &it.Status); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		it.Row = int(row)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) SetLeadStatus(ctx context.Context, row int, status string) error {
	q := fmt.Sprintf(`
UPDATE %[1]s SET status = $1
WHERE id = (
  SELECT id FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY id) + 1 AS r FROM %[1]s) AS numbered
  WHERE r = $2
)`, s.table("leads"))
	tag, err := s.pool.Exec(ctx, q, status, int64(row))
	if err != nil {
		return fmt.Errorf("update lead %d status: %w", row, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("lead row %d not found", row)
	}
	return nil
}

func (s *Store) ReadResults(ctx context.Context) ([]store.ResultRecord, error) {
	q := fmt.Sprintf(`
SELECT ROW_NUMBER() OVER (ORDER BY id) + 1, name, analysis, followup, outreach_status, preview_url, normalized_contact
FROM %s
ORDER BY id`, s.table("results"))
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []store.ResultRecord
	for rows.Next() {
		var r store.ResultRecord
		var row int64
		if err := rows.Scan(&row, &r.Name, &r.AnalysisText, &r.FollowupText, &r.OutreachStatus, &r.PreviewURL, &r.NormalizedContact); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Row = int(row)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendResult(ctx context.Context, rec store.ResultRecord) error {
	q := fmt.Sprintf(`
INSERT INTO %s (name, analysis, followup, outreach_status, preview_url, normalized_contact)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table("results"))
	_, err := s.pool.Exec(ctx, q, rec.Name, rec.AnalysisText, rec.FollowupText, rec.OutreachStatus, rec.PreviewURL, rec.NormalizedContact)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) DeleteResultRows(ctx context.Context, rows []int) error {
	if len(rows) == 0 {
		return nil
	}
	nums := make([]int64, 0, len(rows))
	for _, r := range rows {
		if r < 2 {
			return fmt.Errorf("refusing to delete results row %d", r)
		}
		nums = append(nums, int64(r))
	}
	q := fmt.Sprintf(`
DELETE FROM %[1]s WHERE id IN (
  SELECT id FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY id) + 1 AS r FROM %[1]s) AS numbered
  WHERE r = ANY($1)
)`, s.table("results"))
	if _, err := s.pool.Exec(ctx, q, nums); err != nil {
		return fmt.Errorf("delete result rows: %w", err)
	}
	return nil
}

// ImportLeads bulk-loads items with COPY.
func (s *Store) ImportLeads(ctx context.Context, items []store.WorkItem) (int, error) {
	values := make([][]any, 0, len(items))
	for _, it := range items {
		values = append(values, []any{it.Name, it.Rating, it.URL, it.Contact, it.Status})
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.schema, "leads"},
		[]string{"name", "rating", "url", "contact", "status"},
		pgx.CopyFromRows(values),
	)
	if err != nil {
		return 0, fmt.Errorf("copy leads: %w", err)
	}
	return int(n), nil
}

func isSafeIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
