package app

import (
	"io"
	"net/url"
	"strings"

	"autoreload/internal/collector"
	"autoreload/internal/companion"
	"autoreload/internal/engine"
	"autoreload/internal/notice"
	"autoreload/internal/reporter"
	"autoreload/internal/storage"
	"autoreload/internal/visibility"
	logx "autoreload/pkg/logx"
)

func mapLogging(cfg *Config, w io.Writer) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Writer: w,
	}
}

func mapNotices(cfg *Config) notice.Config {
	return notice.Config{
		Console:    cfg.Notices.ConsoleEnabled(),
		RatePerSec: cfg.Notices.RatePerSec,
		History:    cfg.Notices.History,
	}
}

func mapReporter(cfg *Config) reporter.Config {
	return reporter.Config{
		Attempts:       cfg.Reporter.Attempts,
		Backoff:        cfg.Reporter.BackoffDuration(),
		AttemptTimeout: cfg.Reporter.AttemptTimeoutDuration(),
	}
}

func mapEngine(cfg *Config, origin *url.URL) engine.Config {
	return engine.Config{
		Tick:              cfg.Engine.TickDuration(),
		RejectCrossOrigin: cfg.Engine.RejectCrossOrigin,
		Origin:            origin,
		MinInterval:       cfg.Engine.MinInterval,
	}
}

func mapCompanion(cfg *Config) companion.HTTPConfig {
	return companion.HTTPConfig{
		UserAgent:       strings.TrimSpace(cfg.Companion.UserAgent),
		NavigateTimeout: cfg.Companion.NavigateTimeoutDuration(),
		MaxBodyBytes:    cfg.Companion.MaxBodyBytes,
	}
}

func mapCollectorClient(cfg *Config) collector.ClientConfig {
	return collector.ClientConfig{
		BaseURL: cfg.Collector.BaseURL(),
		Timeout: cfg.Collector.TimeoutDuration(),
	}
}

func mapServer(cfg *Config) collector.ServerConfig {
	return collector.ServerConfig{
		Addr:         cfg.Server.ListenAddr(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
		RatePerSec:   cfg.Server.RatePerSec,
		Burst:        cfg.Server.Burst,
	}
}

// mapStorageConfig returns the in-memory store when no storage section is set.
func mapStorageConfig(cfg *Config) storage.Config {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: sc.BusyTimeoutDuration(),
	}
}

func newVisibility(cfg *Config, log logx.Logger) visibility.Signal {
	switch cfg.Engine.VisibilityMode() {
	case "file":
		return visibility.NewFileFlag(cfg.Engine.VisibilityFile, log)
	case "none":
		return visibility.None{}
	default:
		return visibility.NewSignals()
	}
}
