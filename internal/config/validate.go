package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultCollectorURL = "http://127.0.0.1:8787"
	DefaultServerAddr   = "127.0.0.1:8787"
	DefaultLogCap       = 5000
)

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Collector: CollectorConfig{URL: DefaultCollectorURL},
	}
}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}

	if raw := strings.TrimSpace(cfg.Collector.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			add(fmt.Errorf("collector.url: %q is not an absolute http(s) url", raw))
		}
	}
	dur("collector.timeout", cfg.Collector.Timeout)

	if cfg.Engine.MinInterval < 0 {
		add(errors.New("engine.min_interval must be >= 0"))
	}
	dur("engine.tick", cfg.Engine.Tick)
	switch cfg.Engine.VisibilityMode() {
	case "signals", "none":
	case "file":
		if strings.TrimSpace(cfg.Engine.VisibilityFile) == "" {
			add(errors.New("engine.visibility_file is required when visibility is \"file\""))
		}
	default:
		add(fmt.Errorf("engine.visibility: unknown mode %q", cfg.Engine.Visibility))
	}

	if cfg.Reporter.Attempts < 0 {
		add(errors.New("reporter.attempts must be >= 0"))
	}
	dur("reporter.backoff", cfg.Reporter.Backoff)
	dur("reporter.attempt_timeout", cfg.Reporter.AttemptTimeout)

	dur("companion.navigate_timeout", cfg.Companion.NavigateTimeout)
	if cfg.Companion.MaxBodyBytes < 0 {
		add(errors.New("companion.max_body_bytes must be >= 0"))
	}

	if cfg.Notices.RatePerSec < 0 || cfg.Notices.History < 0 {
		add(errors.New("notices: rate_per_sec and history must be >= 0"))
	}

	if cfg.Server.RatePerSec < 0 || cfg.Server.Burst < 0 || cfg.Server.LogCap < 0 {
		add(errors.New("server: rate_per_sec, burst and log_cap must be >= 0"))
	}
	dur("server.read_timeout", cfg.Server.ReadTimeout)
	dur("server.write_timeout", cfg.Server.WriteTimeout)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				add(fmt.Errorf("storage.path is required for driver %q", s.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		dur("storage.busy_timeout", s.BusyTimeout)
	}

	return errors.Join(errs...)
}

// VisibilityMode returns the normalized visibility mode.
func (c EngineConfig) VisibilityMode() string {
	m := strings.ToLower(strings.TrimSpace(c.Visibility))
	if m == "" {
		return "signals"
	}
	return m
}

// The accessors below assume Validate passed and fall back to defaults.

func (c CollectorConfig) BaseURL() string {
	if s := strings.TrimSpace(c.URL); s != "" {
		return strings.TrimRight(s, "/")
	}
	return DefaultCollectorURL
}

func (c CollectorConfig) TimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("collector.timeout", c.Timeout, 10*time.Second)
	return d
}

func (c EngineConfig) TickDuration() time.Duration {
	d, _ := ParseDurationOrDefault("engine.tick", c.Tick, time.Second)
	return d
}

func (c ReporterConfig) BackoffDuration() time.Duration {
	d, _ := ParseDurationOrDefault("reporter.backoff", c.Backoff, time.Second)
	return d
}

func (c ReporterConfig) AttemptTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("reporter.attempt_timeout", c.AttemptTimeout, 10*time.Second)
	return d
}

func (c CompanionConfig) NavigateTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("companion.navigate_timeout", c.NavigateTimeout, 15*time.Second)
	return d
}

func (c NoticesConfig) ConsoleEnabled() bool { return c.Console == nil || *c.Console }

func (c ServerConfig) ListenAddr() string {
	if s := strings.TrimSpace(c.Addr); s != "" {
		return s
	}
	return DefaultServerAddr
}

func (c ServerConfig) LogCapOrDefault() int {
	if c.LogCap > 0 {
		return c.LogCap
	}
	return DefaultLogCap
}

func (c ServerConfig) ReadTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("server.read_timeout", c.ReadTimeout, 10*time.Second)
	return d
}

func (c ServerConfig) WriteTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("server.write_timeout", c.WriteTimeout, 15*time.Second)
	return d
}

func (c StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	return d
}
