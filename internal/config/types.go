package config

// Config is the on-disk configuration shared by `run` and `serve`.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted or zero fields fall back to the defaults documented per section.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Collector CollectorConfig `json:"collector"`
	Engine    EngineConfig    `json:"engine"`
	Reporter  ReporterConfig  `json:"reporter"`
	Companion CompanionConfig `json:"companion"`
	Notices   NoticesConfig   `json:"notices"`
	Server    ServerConfig    `json:"server"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CollectorConfig points the client at a collector.
//
// Defaults:
//   - url: "http://127.0.0.1:8787"
//   - timeout: "10s"
type CollectorConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

// EngineConfig controls the client-side scheduling engine.
//
// Defaults:
//   - min_interval: 5 (seconds; values below 5 are raised to 5)
//   - tick: "1s"
//   - reject_cross_origin: false (cross-origin targets only warn)
//   - visibility: "signals" ("signals" | "file" | "none")
type EngineConfig struct {
	MinInterval       int    `json:"min_interval,omitempty"`
	Tick              string `json:"tick,omitempty"`
	RejectCrossOrigin bool   `json:"reject_cross_origin,omitempty"`
	Visibility        string `json:"visibility,omitempty"`
	// VisibilityFile is the flag file watched when visibility is "file".
	VisibilityFile string `json:"visibility_file,omitempty"`
}

// ReporterConfig controls report delivery.
//
// Defaults: attempts 3, backoff "1s", attempt_timeout "10s".
type ReporterConfig struct {
	Attempts       int    `json:"attempts,omitempty"`
	Backoff        string `json:"backoff,omitempty"`
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
}

// CompanionConfig controls the headless companion window.
type CompanionConfig struct {
	// Disabled runs the engine without a companion; firings are reported as
	// failures since nothing performs the reload.
	Disabled        bool   `json:"disabled,omitempty"`
	NavigateTimeout string `json:"navigate_timeout,omitempty"`
	UserAgent       string `json:"user_agent,omitempty"`
	MaxBodyBytes    int64  `json:"max_body_bytes,omitempty"`
}

// NoticesConfig controls user-facing notices.
//
// Console is a pointer so an omitted value can default to true.
type NoticesConfig struct {
	Console    *bool `json:"console,omitempty"`
	RatePerSec int   `json:"rate_per_sec,omitempty"`
	History    int   `json:"history,omitempty"`
}

// ServerConfig controls the collector HTTP server (`serve`).
//
// Defaults:
//   - addr: "127.0.0.1:8787"
//   - rate_per_sec: 20, burst: 40
//   - log_cap: 5000
//   - reset_spec: "@midnight" (daily cap counter reset)
//   - prune_spec: "@every 10m" (log retention)
type ServerConfig struct {
	Addr         string `json:"addr,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	Burst        int    `json:"burst,omitempty"`
	LogCap       int    `json:"log_cap,omitempty"`
	ResetSpec    string `json:"reset_spec,omitempty"`
	PruneSpec    string `json:"prune_spec,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// StorageConfig selects the collector's persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./autoreload.db" }
//
// When omitted the collector keeps everything in memory.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
