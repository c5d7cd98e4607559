package main

import (
	"github.com/spf13/cobra"

	"autoreload/internal/app"
)

type rootFlags struct {
	config    string
	collector string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "autoreload",
		Short: "Schedule recurring page reloads and log every run to a collector",
		Long: `autoreload - recurring reload scheduler with a durable run log.

A client ("run") reloads a target URL on a fixed interval in a companion
browsing context and reports each firing to a collector ("serve"), which
keeps schedules, logs, settings and consent records.

Examples:
  autoreload serve --config collector.yaml
  autoreload run --label docs --url https://example.com --interval 30 --count 10 --yes
  autoreload schedules list
  autoreload logs <schedule-id>
  autoreload settings set --min-interval 10`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "path to a JSON or YAML config file")
	root.PersistentFlags().StringVar(&flags.collector, "collector", "", "collector base URL (overrides collector.url)")

	root.AddCommand(
		newServeCmd(flags),
		newRunCmd(flags),
		newSchedulesCmd(flags),
		newLogsCmd(flags),
		newSettingsCmd(flags),
		newAuditCmd(flags),
	)
	return root
}

// configManager applies --collector on top of the config file.
func (f *rootFlags) configManager() *app.ConfigManager {
	cfgm := app.NewConfigManager(f.config)
	if f.collector != "" {
		url := f.collector
		cfgm.SetOverride(func(c *app.Config) { c.Collector.URL = url })
	}
	return cfgm
}
