package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"pullbot/internal/storage/migrations"
	logx "pullbot/pkg/logx"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendJob(ctx context.Context, r JobRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(id, requester_id, chat_id, keyword, amount, ephemeral, outcome, matches,
		                  delivered, skipped, cleanup_attempts, cleanup_deferred, message, started_at, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.RequesterID, r.ChatID, r.Keyword, r.Amount, boolInt(r.Ephemeral), r.Outcome, r.Matches,
		r.Delivered, r.Skipped, r.CleanupAttempts, boolInt(r.CleanupDeferred), nullStr(r.Message),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentJobs(ctx context.Context, requesterID int64, limit int) ([]JobRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, requester_id, chat_id, keyword, amount, ephemeral, outcome, matches,
		        delivered, skipped, cleanup_attempts, cleanup_deferred, message, started_at, took_ms
		   FROM jobs
		  WHERE requester_id = ?
		  ORDER BY rowid DESC
		  LIMIT ?`,
		requesterID, normLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRecord
	for rows.Next() {
		var (
			r                   JobRecord
			ephemeral, deferred int
			msg                 sql.NullString
			started             string
		)
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.ChatID, &r.Keyword, &r.Amount, &ephemeral, &r.Outcome, &r.Matches,
			&r.Delivered, &r.Skipped, &r.CleanupAttempts, &deferred, &msg, &started, &r.TookMS); err != nil {
			return nil, err
		}
		r.Ephemeral, r.CleanupDeferred, r.Message = ephemeral != 0, deferred != 0, msg.String
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
