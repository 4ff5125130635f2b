// Package journal persists delivered change records in SQLite so the host
// can answer "what changed since" queries after the fact.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/listenupapp/dirwatch/internal/errors"
	"github.com/listenupapp/dirwatch/internal/snapshot"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const (
	// DefaultLimit is used when a query does not set one.
	DefaultLimit = 100
	// MaxLimit caps the rows returned by a single query.
	MaxLimit = 1000
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one journaled change record.
type Entry struct {
	ObservedAt time.Time           `json:"observed_at"`
	Watch      string              `json:"watch"`
	Path       string              `json:"path"`
	ID         int64               `json:"id"`
	Kind       snapshot.ChangeKind `json:"kind"`
}

// Query filters journal entries. Zero fields match everything.
type Query struct {
	Since   time.Time
	Watch   string
	AfterID int64
	Kind    snapshot.ChangeKind
	Limit   int
}

// Journal is a SQLite-backed change journal.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the journal database at path.
// It configures WAL mode, sets pragmas, and applies the schema.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores records for watch in one transaction, preserving their order.
func (j *Journal) Append(ctx context.Context, watch string, records []snapshot.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO changes (watch, path, kind, observed_at)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, watch, string(r.Path), r.Kind.String(), formatTime(r.ObservedAt)); err != nil {
			return fmt.Errorf("insert change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns entries matching q in delivery order.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	if q.Limit < 0 || q.AfterID < 0 {
		return nil, errors.Validation("limit and after_id must not be negative")
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	var (
		where []string
		args  []any
	)
	if q.Watch != "" {
		where = append(where, "watch = ?")
		args = append(args, q.Watch)
	}
	if !q.Since.IsZero() {
		where = append(where, "observed_at >= ?")
		args = append(args, formatTime(q.Since))
	}
	if q.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, q.AfterID)
	}
	if q.Kind != 0 {
		where = append(where, "kind = ?")
		args = append(args, q.Kind.String())
	}

	query := "SELECT id, watch, path, kind, observed_at FROM changes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e          Entry
			kind       string
			observedAt string
		)
		if err := rows.Scan(&e.ID, &e.Watch, &e.Path, &kind, &observedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if e.Kind, err = snapshot.ParseChangeKind(kind); err != nil {
			return nil, fmt.Errorf("change %d: %w", e.ID, err)
		}
		if e.ObservedAt, err = parseTime(observedAt); err != nil {
			return nil, fmt.Errorf("change %d: parse observed_at: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries observed before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM changes WHERE observed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	if n > 0 {
		j.logger.Info("journal pruned", slog.Int64("removed", n), slog.Time("before", cutoff))
	}
	return n, nil
}

// RunRetention prunes entries older than retention every interval until ctx
// is done. A non-positive retention disables pruning.
func (j *Journal) RunRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := j.Prune(ctx, time.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			j.logger.Warn("journal prune failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
