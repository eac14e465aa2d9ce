package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Pull     PullConfig     `json:"pull"`
	Provider ProviderConfig `json:"provider"`
	Notifier NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Debug    DebugConfig    `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the operator chat id receiving mirrored log lines.
	GroupLog string `json:"group_log,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PullConfig controls the /pull command. Read once at startup.
//
// Defaults (when fields are omitted/zero):
//   - cooldown: "30s" (COOLDOWN_DURATION env overrides, in seconds)
//   - default_amount: 5
//   - workspace_root: process working directory
//   - job_timeout: "0s" (disabled; the provider call is never cut short by the core)
type PullConfig struct {
	Cooldown      string `json:"cooldown,omitempty"`
	DefaultAmount int    `json:"default_amount,omitempty"`
	WorkspaceRoot string `json:"workspace_root,omitempty"`
	JobTimeout    string `json:"job_timeout,omitempty"`
}

// ProviderConfig configures the HTTP search + download provider.
type ProviderConfig struct {
	SearchURL string `json:"search_url"`
	// Timeout bounds each individual HTTP request, not the whole fetch.
	Timeout   string `json:"timeout,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	MaxBytes  int64  `json:"max_bytes,omitempty"`
}

type NotifierConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional job history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pullbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type DebugConfig struct {
	Pprof PprofConfig `json:"pprof"`
}

// PprofConfig controls the optional profiling server. A non-loopback addr
// needs a token or allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
