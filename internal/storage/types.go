package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// DefaultRecent is used when RecentJobs is called with a non-positive limit.
const DefaultRecent = 10

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JobRecord is one finished pull. Keep it compact and schema-stable.
type JobRecord struct {
	ID              string    `json:"id"`
	RequesterID     int64     `json:"requester_id"`
	ChatID          int64     `json:"chat_id"`
	Keyword         string    `json:"keyword"`
	Amount          int       `json:"amount"`
	Ephemeral       bool      `json:"ephemeral,omitempty"`
	Outcome         string    `json:"outcome"`
	Matches         int       `json:"matches,omitempty"`
	Delivered       int       `json:"delivered,omitempty"`
	Skipped         int       `json:"skipped,omitempty"`
	CleanupAttempts int       `json:"cleanup_attempts,omitempty"`
	CleanupDeferred bool      `json:"cleanup_deferred,omitempty"`
	Message         string    `json:"message,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	TookMS          int64     `json:"took_ms"`
}
