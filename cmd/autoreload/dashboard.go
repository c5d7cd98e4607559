package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"autoreload/internal/collector"
	"autoreload/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

// collectorClient builds a client from the config file and --collector.
func (f *rootFlags) collectorClient() (*collector.Client, error) {
	cfg, err := f.configManager().Load()
	if err != nil {
		return nil, err
	}
	return collector.NewClient(collector.ClientConfig{
		BaseURL: cfg.Collector.BaseURL(),
		Timeout: cfg.Collector.TimeoutDuration(),
	})
}

type outputFlag struct{ json bool }

func (o *outputFlag) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.json, "json", false, "print raw JSON")
}

func (o *outputFlag) print(w io.Writer, v any, table func(*tabwriter.Writer)) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func newSchedulesCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"sch"},
		Short:   "List or delete schedules stored by the collector",
	}

	var out outputFlag
	list := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.collectorClient()
			if err != nil {
				return err
			}
			items, err := c.ListSchedules(cmd.Context())
			if err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout(), items, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tLABEL\tTARGET\tINTERVAL\tCOUNT\tSTATUS\tCREATED")
				for _, s := range items {
					count := "-"
					if s.Bounded() {
						count = strconv.Itoa(s.Count)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\t%s\t%s\t%s\n",
						s.ID, s.Label, s.TargetURL, s.IntervalSeconds, count, s.Status, s.CreatedAt.Local().Format(timeLayout))
				}
			})
		},
	}
	out.bind(list)

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a schedule; its logs are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.collectorClient()
			if err != nil {
				return err
			}
			if err := c.DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}

func newLogsCmd(flags *rootFlags) *cobra.Command {
	var out outputFlag
	cmd := &cobra.Command{
		Use:   "logs [schedule-id]",
		Short: "Show run logs, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.collectorClient()
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			items, err := c.Logs(cmd.Context(), id)
			if err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout(), items, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "TIME\tSCHEDULE\tSTATUS\tMESSAGE")
				for _, l := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", l.Timestamp.Local().Format(timeLayout), l.ScheduleID, l.Status, l.Message)
				}
			})
		},
	}
	out.bind(cmd)
	return cmd
}

func newSettingsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the collector safety settings",
	}

	var out outputFlag
	get := &cobra.Command{
		Use:   "get",
		Short: "Show settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.collectorClient()
			if err != nil {
				return err
			}
			s, err := c.Settings(cmd.Context())
			if err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout(), s, func(tw *tabwriter.Writer) { settingsTable(tw, s) })
		},
	}
	out.bind(get)

	var minInterval, dailyCap, maxConcurrency int
	set := &cobra.Command{
		Use:   "set",
		Short: "Change settings; omitted flags keep their current value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.collectorClient()
			if err != nil {
				return err
			}
			s, err := c.Settings(cmd.Context())
			if err != nil {
				return err
			}
			fl := cmd.Flags()
			if fl.Changed("min-interval") {
				s.MinInterval = minInterval
			}
			if fl.Changed("daily-cap") {
				s.DailyCap = dailyCap
			}
			if fl.Changed("max-concurrency") {
				s.MaxConcurrency = maxConcurrency
			}
			if err := s.Validate(); err != nil {
				return err
			}
			s, err = c.PutSettings(cmd.Context(), s)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			settingsTable(tw, s)
			return tw.Flush()
		},
	}
	set.Flags().IntVar(&minInterval, "min-interval", model.MinIntervalSeconds, "minimum schedule interval in seconds (>= 5)")
	set.Flags().IntVar(&dailyCap, "daily-cap", 0, "maximum reports accepted per day (>= 1)")
	set.Flags().IntVar(&maxConcurrency, "max-concurrency", 0, "maximum running schedules (>= 1)")

	cmd.AddCommand(get, set)
	return cmd
}

func settingsTable(tw *tabwriter.Writer, s model.Settings) {
	fmt.Fprintf(tw, "min interval\t%ds\n", s.MinInterval)
	fmt.Fprintf(tw, "daily cap\t%d\n", s.DailyCap)
	fmt.Fprintf(tw, "max concurrency\t%d\n", s.MaxConcurrency)
}

func newAuditCmd(flags *rootFlags) *cobra.Command {
	var out outputFlag
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show consent proofs recorded at schedule creation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := flags.collectorClient()
			if err != nil {
				return err
			}
			items, err := c.Audit(cmd.Context())
			if err != nil {
				return err
			}
			return out.print(cmd.OutOrStdout(), items, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "TIME\tSCHEDULE\tUSER AGENT SHA-1")
				for _, a := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Timestamp.Local().Format(timeLayout), a.ScheduleID, a.UserAgentHash)
				}
			})
		},
	}
	out.bind(cmd)
	return cmd
}
