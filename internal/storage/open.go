package storage

import (
	"context"
	"errors"
	"strings"

	logx "pullbot/pkg/logx"
)

// Store persists finished pulls.
type Store interface {
	AppendJob(ctx context.Context, r JobRecord) error
	// RecentJobs returns up to limit records of requesterID, newest first.
	RecentJobs(ctx context.Context, requesterID int64, limit int) ([]JobRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecent
	}
	return limit
}
