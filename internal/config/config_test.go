package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()
	yml := []byte(`
telegram:
  token: abc
pull:
  cooldown: 45s
  default_amount: 3
provider:
  search_url: http://search.local/api
`)
	cfg, err := Decode("bot.yaml", yml)
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Telegram.Token != "abc" || cfg.Pull.Cooldown != "45s" || cfg.Pull.DefaultAmount != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := Decode("bot.json", []byte(`{"telegram":{"token":"x"},"bogus":1}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("bot.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	cfg.Telegram.Token = "file-token"
	err := ApplyEnv(cfg, envMap(map[string]string{EnvBotToken: "env-token", EnvCooldown: "12"}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Pull.Cooldown != "12s" {
		t.Fatalf("cooldown = %q", cfg.Pull.Cooldown)
	}

	if err := ApplyEnv(&Config{}, envMap(map[string]string{EnvCooldown: "soon"})); err == nil {
		t.Fatal("expected error for non-integer cooldown")
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	s, err := Resolve(&Config{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Cooldown != DefaultCooldown {
		t.Fatalf("Cooldown = %v, want %v", s.Cooldown, DefaultCooldown)
	}
	if s.DefaultAmount != DefaultAmount {
		t.Fatalf("DefaultAmount = %d", s.DefaultAmount)
	}
	if s.WorkspaceRoot != "." {
		t.Fatalf("WorkspaceRoot = %q", s.WorkspaceRoot)
	}
	if s.Provider.Workers != DefaultProviderLimit || s.Provider.MaxBytes != DefaultProviderBytes {
		t.Fatalf("provider defaults: %+v", s.Provider)
	}
	if s.JobTimeout != 0 {
		t.Fatalf("JobTimeout = %v, want disabled", s.JobTimeout)
	}
}

func TestResolveRejectsBadValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "amount", cfg: Config{Pull: PullConfig{DefaultAmount: 11}}},
		{name: "cooldown", cfg: Config{Pull: PullConfig{Cooldown: "later"}}},
		{name: "negative", cfg: Config{Pull: PullConfig{JobTimeout: "-1s"}}},
		{name: "group", cfg: Config{Telegram: TelegramConfig{GroupLog: "ops"}}},
		{name: "driver", cfg: Config{Storage: &StorageConfig{Driver: "redis"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Resolve(&tt.cfg); err == nil {
				t.Fatalf("expected error for %+v", tt.cfg)
			}
		})
	}
}

func TestResolveZeroCooldownDisables(t *testing.T) {
	t.Parallel()
	s, err := Resolve(&Config{Pull: PullConfig{Cooldown: "0s"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s.Cooldown != 0 {
		t.Fatalf("Cooldown = %v, want 0", s.Cooldown)
	}
}

func TestManagerLoadMissingFileUsesEnv(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	m.SetLookup(envMap(map[string]string{EnvBotToken: "tok", EnvCooldown: "30"}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "tok" || cfg.Pull.Cooldown != "30s" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.json")
	if err := os.WriteFile(path, []byte(`{"logging":{"level":"info"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	m.SetLookup(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	if m.Reload() {
		t.Fatal("unchanged file should not publish")
	}

	if err := os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.Reload() {
		t.Fatal("changed file should publish")
	}
	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no config published")
	}

	if err := os.WriteFile(path, []byte(`{"pull":{"default_amount":99}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.Reload() {
		t.Fatal("invalid config should be rejected")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("rejected config must not be committed")
	}
}

func TestLoadEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Logging: LoggingConfig{Level: "debug"}, Pull: PullConfig{Cooldown: "10s"}}
	newCfg.Debug.Pprof.Enabled = true

	sections, fields := SummarizeChange(oldCfg, newCfg)
	if got := strings.Join(sections, ","); got != "debug,logging,pull,telegram" {
		t.Fatalf("sections = %s", got)
	}
	if len(fields) == 0 {
		t.Fatal("expected log fields")
	}
	if got := strings.Join(RestartRequired(sections), ","); got != "pull,telegram" {
		t.Fatalf("restart required = %s", got)
	}
	if s, _ := SummarizeChange(oldCfg, oldCfg); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}
