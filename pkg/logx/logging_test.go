package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "pullbot/internal/transport"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "pull"))
	log.Debug("hidden")
	log.Info("job done", Int("delivered", 3), Err(nil), Err(errors.New("boom")), Duration("took", 1500*time.Millisecond), Strings("tasks", []string{"a", "b"}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["message"] != "job done" || m["comp"] != "pull" || m["delivered"] != float64(3) || m["err"] != "boom" || m["took"] != "1.5s" {
		t.Fatalf("entry = %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero logger not IsZero")
	}
	zero.Info("no panic")
	if Nop().IsZero() {
		t.Fatal("Nop must not be IsZero")
	}
	if Nop().Enabled(zerolog.ErrorLevel) {
		t.Fatal("Nop reports enabled")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"TRACE":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in, zerolog.InfoLevel); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestChatHTML(t *testing.T) {
	t.Parallel()
	got := string(chatHTML([]byte(`{"level":"warn","time":"x","message":"cleanup <deferred>","path":"/tmp/a","attempts":5}`)))
	want := "⚠️ <b>cleanup &lt;deferred&gt;</b>\n<pre>attempts=5\npath=/tmp/a</pre>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := string(chatHTML([]byte(`{"level":"info","message":"started"}`))); got != "ℹ️ <b>started</b>" {
		t.Fatalf("no fields = %q", got)
	}
	if got := string(chatHTML([]byte("not <json>"))); got != "<pre>not &lt;json&gt;</pre>" {
		t.Fatalf("raw = %q", got)
	}
}

type sentText struct {
	to   kit.ChatTarget
	text string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentText
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentText{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recordingSender) snapshot() []sentText {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentText(nil), r.sent...)
}

func TestChatSinkHonoursMinLevel(t *testing.T) {
	sender := &recordingSender{}
	svc, log := New(Config{Level: "debug", Chat: ChatConfig{MinLevel: "warn", RatePerSec: 100}}, sender)
	defer svc.Close()
	svc.SetChatTarget(-100, 7)
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "x.log")}, Chat: ChatConfig{Enabled: true, MinLevel: "warn", RatePerSec: 100}})

	log.Info("routine")
	log.Warn("cleanup deferred", String("path", "/tmp/a"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sender.snapshot()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	got := sender.snapshot()
	if len(got) != 1 {
		t.Fatalf("sent = %+v", got)
	}
	if got[0].to.ChatID != -100 || got[0].to.ThreadID != 7 {
		t.Fatalf("target = %+v", got[0].to)
	}
	if !strings.HasPrefix(got[0].text, "⚠️ <b>cleanup deferred</b>") || !strings.Contains(got[0].text, "path=/tmp/a") {
		t.Fatalf("text = %q", got[0].text)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}}, nil)
	log.With(String("comp", "workspace")).Info("removed leftover workspace")
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"message":"removed leftover workspace"`) || !strings.Contains(string(b), `"comp":"workspace"`) {
		t.Fatalf("file = %s", b)
	}
}
