package app

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"autoreload/internal/collector"
	"autoreload/internal/config"
	rtsup "autoreload/internal/runtime/supervisor"
	logx "autoreload/pkg/logx"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

var SummarizeConfigChange = config.SummarizeConfigChange

// ---- Runtime ----

type Supervisor = rtsup.Supervisor

var NewSupervisor = rtsup.New

// loadConfig loads the file and installs the hot-reload validator shared by
// both runners.
func loadConfig(cfgm *ConfigManager) (*Config, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateExtra(cfg); err != nil {
		return nil, err
	}
	cfgm.SetValidator(func(_ context.Context, c *Config) error { return validateExtra(c) })
	return cfg, nil
}

// validateExtra covers the checks config.Validate cannot do without importing
// the components that own the formats.
func validateExtra(cfg *Config) error {
	return errors.Join(
		wrapField("server.reset_spec", collector.ValidateSpec(cfg.Server.ResetSpec)),
		wrapField("server.prune_spec", collector.ValidateSpec(cfg.Server.PruneSpec)),
	)
}

func wrapField(path string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New(path + ": " + err.Error())
}

// newLogging builds the logging service for a runner. A nil w keeps the
// console sink on stderr.
func newLogging(cfg *Config, comp string, w io.Writer) (*logx.Service, logx.Logger) {
	svc, log := logx.New(mapLogging(cfg, w))
	return svc, log.With(logx.String("comp", comp))
}

// configRestartBackoff is the first delay before the apply loop is restarted
// after a panic.
var configRestartBackoff = 250 * time.Millisecond

// superviseConfig runs the config watcher and the apply loop under sup. Both
// restart on failure. The restarted apply loop starts from the current
// config, so a reload that panicked is not replayed; after three restarts the
// error ends the run.
func superviseConfig(sup *Supervisor, cfgm *ConfigManager, log logx.Logger, apply func(*Config)) {
	sup.GoRestart("config.watch", cfgm.Watch, rtsup.WithRestartBackoff(time.Second, time.Minute))
	sup.GoRestart("config.apply", func(ctx context.Context) error {
		return applyConfigLoop(ctx, cfgm, log, apply)
	}, rtsup.WithRestartBackoff(configRestartBackoff, 8*configRestartBackoff), rtsup.WithMaxRestarts(3))
}

// applyConfigLoop fans config reloads out to apply. Bursts are coalesced to
// the latest config.
func applyConfigLoop(ctx context.Context, cfgm *ConfigManager, log logx.Logger, apply func(*Config)) error {
	sub := cfgm.Subscribe(8)
	defer cfgm.Unsubscribe(sub)

	last := cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			sections, fields := SummarizeConfigChange(last, next)
			if len(sections) == 0 {
				log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields = append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)
			log.Info("config reloaded", fields...)
			apply(next)
			last = next
		}
	}
}
