// Package audit keeps a local SQLite journal of operation outcomes. It stores
// what happened and why it failed, never the text of messages or replies.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chataide/internal/domain"

	_ "modernc.org/sqlite"
)

const (
	defaultRecentLimit = 20
	maxDetailLen       = 500

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02 15:04:05.000000000"
)

// SQLiteJournal implements domain.Journal using SQLite.
type SQLiteJournal struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.Journal = (*SQLiteJournal)(nil)

func NewSQLiteJournal(dbPath string, logger *slog.Logger) (*SQLiteJournal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}

	return &SQLiteJournal{db: db, logger: logger}, nil
}

func (j *SQLiteJournal) Record(ctx context.Context, rec domain.OutcomeRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO outcomes (session_id, action, site, success, detail, error, count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, string(rec.Action), string(rec.Site), rec.Success,
		truncate(rec.Detail, maxDetailLen), truncate(rec.Error, maxDetailLen), rec.Count,
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Recent returns the newest records first.
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]domain.OutcomeRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, action, site, success, detail, error, count, created_at
		 FROM outcomes ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		var (
			rec                 domain.OutcomeRecord
			action, created     string
			site, detail, cause sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &action, &site, &rec.Success,
			&detail, &cause, &rec.Count, &created); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		t, err := time.ParseInLocation(timeLayout, created, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse outcome time %q: %w", created, err)
		}
		rec.CreatedAt = t
		rec.Action = domain.Action(action)
		rec.Site = domain.SiteID(site.String)
		rec.Detail = detail.String
		rec.Error = cause.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes records created before olderThan and reports how many went.
func (j *SQLiteJournal) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM outcomes WHERE created_at < ?`, olderThan.UTC().Format(timeLayout))
	if err != nil {
		return 0, fmt.Errorf("prune outcomes: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		j.logger.Info("pruned audit records", "deleted", n, "before", olderThan.Format(time.RFC3339))
	}
	return n, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
