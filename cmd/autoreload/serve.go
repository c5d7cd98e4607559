package main

import (
	"github.com/spf13/cobra"

	"autoreload/internal/app"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collector REST API",
		Long: `Run the collector: schedules, run logs, settings and the consent audit
trail behind a JSON REST API. Notifies systemd when ready.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			srv, err := app.NewServer(flags.configManager(), nil)
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context(), nil)
		},
	}
}
