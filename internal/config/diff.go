package config

import (
	"reflect"
	"sort"
	"strings"

	logx "autoreload/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging them. URLs are reduced to their host.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Collector.BaseURL() != newCfg.Collector.BaseURL() ||
		oldCfg.Collector.TimeoutDuration() != newCfg.Collector.TimeoutDuration() {
		changed = append(changed, "collector")
		attrs = append(attrs,
			logx.String("collector.host", hostOf(newCfg.Collector.BaseURL())),
			logx.Duration("collector.timeout", newCfg.Collector.TimeoutDuration()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Engine, newCfg.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.min_interval", newCfg.Engine.MinInterval),
			logx.Duration("engine.tick", newCfg.Engine.TickDuration()),
			logx.Bool("engine.reject_cross_origin", newCfg.Engine.RejectCrossOrigin),
			logx.String("engine.visibility", newCfg.Engine.VisibilityMode()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reporter, newCfg.Reporter) {
		changed = append(changed, "reporter")
		attrs = append(attrs,
			logx.Int("reporter.attempts", newCfg.Reporter.Attempts),
			logx.Duration("reporter.backoff", newCfg.Reporter.BackoffDuration()),
			logx.Duration("reporter.attempt_timeout", newCfg.Reporter.AttemptTimeoutDuration()),
		)
	}

	if !reflect.DeepEqual(oldCfg.Companion, newCfg.Companion) {
		changed = append(changed, "companion")
		attrs = append(attrs,
			logx.Bool("companion.disabled", newCfg.Companion.Disabled),
			logx.Duration("companion.navigate_timeout", newCfg.Companion.NavigateTimeoutDuration()),
			logx.Bool("companion.user_agent_set", strings.TrimSpace(newCfg.Companion.UserAgent) != ""),
		)
	}

	if oldCfg.Notices.ConsoleEnabled() != newCfg.Notices.ConsoleEnabled() ||
		oldCfg.Notices.RatePerSec != newCfg.Notices.RatePerSec ||
		oldCfg.Notices.History != newCfg.Notices.History {
		changed = append(changed, "notices")
		attrs = append(attrs,
			logx.Bool("notices.console", newCfg.Notices.ConsoleEnabled()),
			logx.Int("notices.rate_per_sec", newCfg.Notices.RatePerSec),
			logx.Int("notices.history", newCfg.Notices.History),
		)
	}

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", newCfg.Server.ListenAddr()),
			logx.Int("server.rate_per_sec", newCfg.Server.RatePerSec),
			logx.Int("server.burst", newCfg.Server.Burst),
			logx.Int("server.log_cap", newCfg.Server.LogCapOrDefault()),
		)
	}

	// Nil storage means in-memory.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func hostOf(raw string) string {
	s := raw
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
