package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "pullbot/pkg/logx"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestAllocateCreatesUniqueDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(Options{Root: root}, logx.Nop())

	a, err := m.Allocate(7)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := m.Allocate(7)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if a.Path == b.Path {
		t.Fatalf("two jobs of one requester share %s", a.Path)
	}
	for _, ws := range []Workspace{a, b} {
		if !strings.HasPrefix(ws.Name, DefaultPrefix+"7-") {
			t.Fatalf("name %q missing prefix", ws.Name)
		}
		if st, err := os.Stat(ws.Path); err != nil || !st.IsDir() {
			t.Fatalf("workspace %s not created: %v", ws.Path, err)
		}
	}
}

func TestAllocateRefusesExistingDirectory(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	m := NewManager(Options{Root: root, NewToken: func() string { return "fixed" }}, logx.Nop())
	if _, err := m.Allocate(1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := m.Allocate(1); err == nil {
		t.Fatal("expected error when the directory already exists")
	}
}

func TestReleaseRemovesContents(t *testing.T) {
	t.Parallel()
	m := NewManager(Options{Root: t.TempDir()}, logx.Nop())
	ws, err := m.Allocate(3)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(ws.Path, "a.png"), "x")
	if err := os.Mkdir(filepath.Join(ws.Path, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(ws.Path, "nested", "b.jpg"), "y")

	n, err := m.Release(context.Background(), ws.Path)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	m := NewManager(Options{Root: t.TempDir()}, logx.Nop())
	ws, err := m.Allocate(3)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := m.Release(context.Background(), ws.Path); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
}

func TestReleaseRetriesUntilRemoved(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	failures := 4
	m := NewManager(Options{
		Root:  t.TempDir(),
		Sleep: rec.sleep,
		RemoveDir: func(path string) error {
			if failures > 0 {
				failures--
				return errors.New("directory in use")
			}
			return os.Remove(path)
		},
	}, logx.Nop())
	ws, err := m.Allocate(9)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(ws.Path, "held.gif"), "z")

	n, err := m.Release(context.Background(), ws.Path)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if n != 5 {
		t.Fatalf("attempts = %d, want 5", n)
	}
	if len(rec.calls) != 4 {
		t.Fatalf("slept %d times, want 4", len(rec.calls))
	}
	for _, d := range rec.calls {
		if d != DefaultBackoff {
			t.Fatalf("backoff = %v, want %v", d, DefaultBackoff)
		}
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
}

func TestReleaseGivesUpAfterAttempts(t *testing.T) {
	t.Parallel()
	rec := &sleepRecorder{}
	m := NewManager(Options{
		Root:      t.TempDir(),
		Sleep:     rec.sleep,
		RemoveDir: func(string) error { return errors.New("locked") },
	}, logx.Nop())
	ws, err := m.Allocate(9)
	if err != nil {
		t.Fatal(err)
	}

	n, err := m.Release(context.Background(), ws.Path)
	if !errors.Is(err, ErrCleanupDeferred) {
		t.Fatalf("err = %v, want ErrCleanupDeferred", err)
	}
	if n != DefaultAttempts {
		t.Fatalf("attempts = %d, want %d", n, DefaultAttempts)
	}
	if len(rec.calls) != DefaultAttempts-1 {
		t.Fatalf("slept %d times", len(rec.calls))
	}
}

func TestReleaseStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	m := NewManager(Options{
		Root:      t.TempDir(),
		RemoveDir: func(string) error { return errors.New("locked") },
	}, logx.Nop())
	ws, err := m.Allocate(9)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := m.Release(ctx, ws.Path)
	if !errors.Is(err, ErrCleanupDeferred) {
		t.Fatalf("err = %v, want ErrCleanupDeferred", err)
	}
	if n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
}

func TestSweepRemovesOnlyPrefixedDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	for _, d := range []string{"temp_1-a", "temp_2-b", "keep", "cache"} {
		if err := os.Mkdir(filepath.Join(root, d), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(root, "temp_1-a", "img.png"), "x")
	writeFile(t, filepath.Join(root, "temp_notes.txt"), "not a workspace")

	m := NewManager(Options{Root: root}, logx.Nop())
	removed, err := m.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %v, want 2 entries", removed)
	}
	for _, keep := range []string{"keep", "cache", "temp_notes.txt"} {
		if _, err := os.Stat(filepath.Join(root, keep)); err != nil {
			t.Fatalf("%s was touched: %v", keep, err)
		}
	}
}

func TestSweepMissingRoot(t *testing.T) {
	t.Parallel()
	m := NewManager(Options{Root: filepath.Join(t.TempDir(), "nope")}, logx.Nop())
	removed, err := m.Sweep()
	if err != nil || len(removed) != 0 {
		t.Fatalf("Sweep = %v, %v", removed, err)
	}
}
