package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultCooldown      = 30 * time.Second
	DefaultAmount        = 5
	DefaultPollTimeout   = 10 * time.Second
	DefaultProviderLimit = 5
	DefaultProviderBytes = 8 << 20
	DefaultPprofAddr     = "127.0.0.1:6060"
)

// Settings is the typed, defaulted view of Config used to build components.
type Settings struct {
	Token       string
	PollTimeout time.Duration
	GroupLog    int64

	Cooldown      time.Duration
	DefaultAmount int
	WorkspaceRoot string
	JobTimeout    time.Duration

	Provider ProviderSettings
	Notifier NotifierSettings
	Storage  StorageSettings
	Pprof    PprofSettings
}

type ProviderSettings struct {
	SearchURL string
	Timeout   time.Duration
	Workers   int
	UserAgent string
	MaxBytes  int64
}

type NotifierSettings struct {
	RatePerSec int
}

type PprofSettings struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool
}

type StorageSettings struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Resolve validates cfg and applies defaults.
func Resolve(cfg *Config) (Settings, error) {
	if cfg == nil {
		return Settings{}, errors.New("config is nil")
	}
	var (
		s   Settings
		err error
	)

	s.Token = strings.TrimSpace(cfg.Telegram.Token)
	if s.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout); err != nil {
		return Settings{}, err
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if s.GroupLog, err = strconv.ParseInt(g, 10, 64); err != nil {
			return Settings{}, fmt.Errorf("telegram.group_log: invalid chat id %q", g)
		}
	}

	// An explicit "0s" disables the cooldown; only an omitted value takes the default.
	s.Cooldown = DefaultCooldown
	if strings.TrimSpace(cfg.Pull.Cooldown) != "" {
		if s.Cooldown, err = ParseDurationField("pull.cooldown", cfg.Pull.Cooldown); err != nil {
			return Settings{}, err
		}
	}
	s.DefaultAmount = cfg.Pull.DefaultAmount
	if s.DefaultAmount == 0 {
		s.DefaultAmount = DefaultAmount
	}
	if s.DefaultAmount < 1 || s.DefaultAmount > 10 {
		return Settings{}, fmt.Errorf("pull.default_amount must be within 1..10, got %d", s.DefaultAmount)
	}
	s.WorkspaceRoot = strings.TrimSpace(cfg.Pull.WorkspaceRoot)
	if s.WorkspaceRoot == "" {
		s.WorkspaceRoot = "."
	}
	if s.JobTimeout, err = ParseDurationField("pull.job_timeout", cfg.Pull.JobTimeout); err != nil {
		return Settings{}, err
	}

	p := cfg.Provider
	s.Provider.SearchURL = strings.TrimSpace(p.SearchURL)
	if s.Provider.Timeout, err = ParseDurationOrDefault("provider.timeout", p.Timeout, 30*time.Second); err != nil {
		return Settings{}, err
	}
	s.Provider.Workers = p.Workers
	if s.Provider.Workers <= 0 {
		s.Provider.Workers = DefaultProviderLimit
	}
	s.Provider.UserAgent = strings.TrimSpace(p.UserAgent)
	if s.Provider.UserAgent == "" {
		s.Provider.UserAgent = "pullbot/1.0"
	}
	s.Provider.MaxBytes = p.MaxBytes
	if s.Provider.MaxBytes <= 0 {
		s.Provider.MaxBytes = DefaultProviderBytes
	}

	s.Notifier.RatePerSec = cfg.Notifier.RatePerSec
	if s.Notifier.RatePerSec <= 0 {
		s.Notifier.RatePerSec = 20
	}

	if cfg.Storage != nil {
		s.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
		s.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
		if s.Storage.BusyTimeout, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return Settings{}, err
		}
		switch s.Storage.Driver {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return Settings{}, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
	}

	pp := cfg.Debug.Pprof
	s.Pprof = PprofSettings{
		Enabled:       pp.Enabled,
		Addr:          strings.TrimSpace(pp.Addr),
		Prefix:        strings.TrimSpace(pp.Prefix),
		Token:         strings.TrimSpace(pp.Token),
		AllowInsecure: pp.AllowInsecure,
	}
	if s.Pprof.Addr == "" {
		s.Pprof.Addr = DefaultPprofAddr
	}
	return s, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
