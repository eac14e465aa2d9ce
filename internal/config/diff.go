package config

import (
	"reflect"
	"slices"
	"sort"
	"strings"

	logx "pullbot/pkg/logx"
)

// LiveSections are applied without a restart.
var LiveSections = []string{"debug", "logging"}

// SummarizeChange lists the sections that differ between two configs, plus
// log fields describing the new values. Secrets are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	// Never log the token; only whether it changed.
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Pull != newCfg.Pull {
		changed = append(changed, "pull")
		fields = append(fields,
			logx.String("pull.cooldown", newCfg.Pull.Cooldown),
			logx.Int("pull.default_amount", newCfg.Pull.DefaultAmount),
		)
	}

	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		fields = append(fields, logx.Int("provider.workers", newCfg.Provider.Workers))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		fields = append(fields, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		fields = append(fields, logx.String("storage.driver", driver))
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.pprof_enabled", newCfg.Debug.Pprof.Enabled),
			logx.String("debug.pprof_addr", newCfg.Debug.Pprof.Addr),
			logx.Bool("debug.pprof_token_set", newCfg.Debug.Pprof.Token != ""),
		)
	}

	sort.Strings(changed)
	return changed, fields
}

// RestartRequired filters sections down to those that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		if !slices.Contains(LiveSections, s) {
			out = append(out, s)
		}
	}
	return out
}
