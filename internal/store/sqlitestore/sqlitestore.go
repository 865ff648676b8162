// Package sqlitestore keeps leads and results in a local SQLite file. Row numbers
// mimic the spreadsheet: the n-th row by insertion order is row n+1.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/shpitdev/leadsync/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		name    TEXT NOT NULL DEFAULT '',
		rating  TEXT NOT NULL DEFAULT '',
		url     TEXT NOT NULL DEFAULT '',
		contact TEXT NOT NULL DEFAULT '',
		status  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		name               TEXT NOT NULL DEFAULT '',
		analysis           TEXT NOT NULL DEFAULT '',
		followup           TEXT NOT NULL DEFAULT '',
		outreach_status    TEXT NOT NULL DEFAULT '',
		preview_url        TEXT NOT NULL DEFAULT '',
		normalized_contact TEXT NOT NULL DEFAULT '',
		created_at         TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`,
}

type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

var (
	_ store.Store    = (*Store)(nil)
	_ store.Importer = (*Store)(nil)
	_ store.Closer   = (*Store)(nil)
)

// Open opens (creating if needed) the database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	return &Store{db: db, path: path, logger: logger}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Prepare(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create sqlite schema: %w", err)
		}
	}
	s.logger.Debug("sqlite store ready", zap.String("path", s.path))
	return nil
}

func (s *Store) ReadLeads(ctx context.Context) ([]store.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ROW_NUMBER() OVER (ORDER BY id) + 1, name, rating, url, contact, status
		FROM leads
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	defer rows.Close()

	var out []store.WorkItem
	for rows.Next() {
		var it store.WorkItem
		if err := rows.Scan(&it.Row, &it.Name, &it.Rating, &it.URL, &it.Contact, &it.Status); err != nil {
			return nil, fmt.Errorf("scan lead: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) SetLeadStatus(ctx context.Context, row int, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET status = ?
		WHERE id = (
			SELECT id FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY id) + 1 AS r FROM leads) AS numbered
			WHERE r = ?
		)`, status, row)
	if err != nil {
		return fmt.Errorf("update lead %d status: %w", row, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("lead row %d not found", row)
	}
	return nil
}

func (s *Store) ReadResults(ctx context.Context) ([]store.ResultRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ROW_NUMBER() OVER (ORDER BY id) + 1, name, analysis, followup, outreach_status, preview_url, normalized_contact
		FROM results
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []store.ResultRecord
	for rows.Next() {
		var r store.ResultRecord
		if err := rows.Scan(&r.Row, &r.Name, &r.AnalysisText, &r.FollowupText, &r.OutreachStatus, &r.PreviewURL, &r.NormalizedContact); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendResult(ctx context.Context, rec store.ResultRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (name, analysis, followup, outreach_status, preview_url, normalized_contact)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.AnalysisText, rec.FollowupText, rec.OutreachStatus, rec.PreviewURL, rec.NormalizedContact)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func (s *Store) DeleteResultRows(ctx context.Context, rows []int) error {
	if len(rows) == 0 {
		return nil
	}
	args := make([]any, 0, len(rows))
	marks := make([]string, 0, len(rows))
	for _, r := range rows {
		if r < 2 {
			return fmt.Errorf("refusing to delete results row %d", r)
		}
		args = append(args, r)
		marks = append(marks, "?")
	}
	// Row numbers are resolved in one statement so earlier deletions do not shift later ones.
	q := `DELETE FROM results WHERE id IN (
		SELECT id FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY id) + 1 AS r FROM results) AS numbered
		WHERE r IN (` + strings.Join(marks, ", ") + `)
	)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete result rows: %w", err)
	}
	return nil
}

func (s *Store) ImportLeads(ctx context.Context, items []store.WorkItem) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO leads (name, rating, url, contact, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare lead insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		if _, err := stmt.ExecContext(ctx, it.Name, it.Rating, it.URL, it.Contact, it.Status); err != nil {
			return 0, fmt.Errorf("insert lead %q: %w", it.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit leads: %w", err)
	}
	return len(items), nil
}
