package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"autoreload/internal/app"
	"autoreload/internal/model"
)

var errConsent = errors.New("reloading a site on a schedule needs explicit consent: pass --yes")

func newRunCmd(flags *rootFlags) *cobra.Command {
	var req model.CreateRequest
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a schedule and run it in the foreground",
		Long: `Register a schedule with the collector and reload the target on its
interval until the count is reached, "stop" is entered or the process is
interrupted.

While running, type one of these and press enter:
  pause | resume | stop | status

On unix, SIGUSR1 suspends the timer (hidden) and SIGUSR2 resumes it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !req.Consent {
				return errConsent
			}
			cfgm := flags.configManager()
			client, err := app.NewClient(cfgm, app.WithOutput(cmd.OutOrStdout()))
			if err != nil {
				return err
			}
			reason, err := client.Run(cmd.Context(), req, os.Stdin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s\n", reason)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Label, "label", "", "schedule label")
	f.StringVar(&req.TargetURL, "url", "", "absolute http(s) URL to reload")
	f.IntVar(&req.IntervalSeconds, "interval", 30, "seconds between reloads (minimum 5)")
	f.IntVar(&req.Count, "count", 0, "stop after this many reloads (0 runs until stopped)")
	f.BoolVarP(&req.Consent, "yes", "y", false, "confirm you are allowed to reload the target on a schedule")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}
