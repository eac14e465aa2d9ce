// Package workspace allocates per-job scratch directories and guarantees they
// are eventually removed.
//
// Directories are created under a root (the process working directory by
// default) and named "<prefix><requester>-<token>". The prefix is what the
// startup sweep keys on, so nothing else under the root may use it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "pullbot/pkg/logx"
)

const (
	DefaultPrefix   = "temp_"
	DefaultAttempts = 5
	DefaultBackoff  = 2 * time.Second
)

// ErrCleanupDeferred means the directory survived every removal attempt and
// is left for the next startup sweep. It is never a job failure.
var ErrCleanupDeferred = errors.New("workspace cleanup deferred")

type Options struct {
	Root     string
	Prefix   string
	Attempts int
	Backoff  time.Duration

	// Sleep waits between removal attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// RemoveDir removes the (emptied) workspace directory. Defaults to os.Remove.
	RemoveDir func(path string) error
	// NewToken returns the unique part of a workspace name. Defaults to a short uuid.
	NewToken func() string
}

// Workspace is a directory owned by exactly one job.
type Workspace struct {
	Path        string
	Name        string
	RequesterID int64
	Token       string
}

type Manager struct {
	root     string
	prefix   string
	attempts int
	backoff  time.Duration

	sleep     func(ctx context.Context, d time.Duration) error
	removeDir func(path string) error
	newToken  func() string

	log logx.Logger
}

func NewManager(opt Options, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Manager{
		root:      strings.TrimSpace(opt.Root),
		prefix:    opt.Prefix,
		attempts:  opt.Attempts,
		backoff:   opt.Backoff,
		sleep:     opt.Sleep,
		removeDir: opt.RemoveDir,
		newToken:  opt.NewToken,
		log:       log,
	}
	if m.root == "" {
		m.root = "."
	}
	if m.prefix == "" {
		m.prefix = DefaultPrefix
	}
	if m.attempts <= 0 {
		m.attempts = DefaultAttempts
	}
	if m.backoff < 0 {
		m.backoff = 0
	} else if m.backoff == 0 {
		m.backoff = DefaultBackoff
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	if m.removeDir == nil {
		m.removeDir = os.Remove
	}
	if m.newToken == nil {
		m.newToken = shortToken
	}
	return m
}

func (m *Manager) Root() string   { return m.root }
func (m *Manager) Prefix() string { return m.prefix }

// Allocate creates a fresh directory for a job of requesterID.
// It fails rather than reuse a directory that already exists.
func (m *Manager) Allocate(requesterID int64) (Workspace, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("workspace root %s: %w", m.root, err)
	}
	token := m.newToken()
	name := m.prefix + strconv.FormatInt(requesterID, 10) + "-" + token
	path := filepath.Join(m.root, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("allocate workspace: %w", err)
	}
	m.log.Debug("workspace allocated", logx.String("path", path), logx.Int64("requester", requesterID))
	return Workspace{Path: path, Name: name, RequesterID: requesterID, Token: token}, nil
}

// Release removes path with a bounded number of attempts and returns how many
// were used. Releasing a path that no longer exists is a no-op.
//
// Every attempt first deletes the directory's children one by one, ignoring
// individual failures, then removes the directory itself. A provider that
// still holds handles on a file makes an attempt fail; the next attempt runs
// after the fixed backoff.
func (m *Manager) Release(ctx context.Context, path string) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.removeOnce(path)
		if lastErr == nil {
			if attempt > 1 {
				m.log.Info("workspace removed after retry", logx.String("path", path), logx.Int("attempt", attempt))
			} else {
				m.log.Debug("workspace removed", logx.String("path", path))
			}
			return attempt, nil
		}
		if attempt == m.attempts {
			break
		}
		m.log.Debug("workspace cleanup attempt failed; retrying",
			logx.String("path", path),
			logx.Int("attempt", attempt),
			logx.Duration("backoff", m.backoff),
			logx.Err(lastErr),
		)
		if err := m.sleep(ctx, m.backoff); err != nil {
			m.log.Warn("workspace cleanup interrupted; left for startup sweep", logx.String("path", path), logx.Err(err))
			return attempt, fmt.Errorf("%w: %s: %v", ErrCleanupDeferred, path, err)
		}
	}
	m.log.Warn("workspace cleanup failed; left for startup sweep",
		logx.String("path", path),
		logx.Int("attempts", m.attempts),
		logx.Err(lastErr),
	)
	return m.attempts, fmt.Errorf("%w: %s after %d attempts: %v", ErrCleanupDeferred, path, m.attempts, lastErr)
}

func (m *Manager) removeOnce(path string) error {
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	// An unreadable directory may still be removable; fall through.
	for _, e := range entries {
		child := filepath.Join(path, e.Name())
		if e.IsDir() {
			_ = os.RemoveAll(child)
		} else {
			_ = os.Remove(child)
		}
	}
	if err := m.removeDir(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
