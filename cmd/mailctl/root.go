package main

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"MailCourier/internal/models"
)

type options struct {
	server  string
	timeout time.Duration
	out     io.Writer
}

func (o *options) client() *apiClient {
	return &apiClient{baseURL: o.server, http: &http.Client{Timeout: o.timeout}}
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &options{out: out}

	server := os.Getenv("MAILCTL_SERVER")
	if server == "" {
		server = "http://localhost:8080"
	}

	root := &cobra.Command{
		Use:          "mailctl",
		Short:        "Control the MailCourier delivery automation",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.server, "server", server, "API base URL (env MAILCTL_SERVER)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")

	root.AddCommand(
		newActionCommand(opts, "start", "Start a run over all pending jobs", http.MethodPost, "/automation/start"),
		newActionCommand(opts, "stop", "Stop the active run after the job in flight", http.MethodPost, "/automation/stop"),
		newActionCommand(opts, "retry", "Requeue failed jobs and run them", http.MethodPost, "/automation/restart-failed"),
		newActionCommand(opts, "status", "Show the automation status", http.MethodGet, "/automation/status"),
		newSettingsCommand(opts),
		newScheduleCommand(opts),
		newImportCommand(opts),
	)
	return root
}

func newActionCommand(opts *options, use, short, method, path string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.client().doJSON(cmd.Context(), method, path, nil)
			if err != nil {
				return err
			}
			return printJSON(opts.out, data)
		},
	}
}

func newSettingsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show automation settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.client().doJSON(cmd.Context(), http.MethodGet, "/automation/settings", nil)
			if err != nil {
				return err
			}
			return printJSON(opts.out, data)
		},
	}

	var (
		retryOnFailure bool
		retryInterval  int
		templateID     string
		sharing        string
		allowlist      []string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Update automation settings; only the given flags change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u models.SettingsUpdate
			flags := cmd.Flags()
			if flags.Changed("retry-on-failure") {
				u.RetryOnFailure = &retryOnFailure
			}
			if flags.Changed("retry-interval") {
				u.RetryIntervalMinutes = &retryInterval
			}
			if flags.Changed("template") {
				u.TemplateID = &templateID
			}
			if flags.Changed("sharing") {
				u.SharingOption = &sharing
			}
			if flags.Changed("allow") {
				u.RecipientAllowlist = allowlist
			}
			data, err := opts.client().doJSON(cmd.Context(), http.MethodPut, "/automation/settings", u)
			if err != nil {
				return err
			}
			return printJSON(opts.out, data)
		},
	}
	set.Flags().BoolVar(&retryOnFailure, "retry-on-failure", false, "Retry failed jobs automatically after a run")
	set.Flags().IntVar(&retryInterval, "retry-interval", 0, "Minutes to wait before the automatic retry")
	set.Flags().StringVar(&templateID, "template", "", "Template id")
	set.Flags().StringVar(&sharing, "sharing", "", "Cloud link sharing option")
	set.Flags().StringSliceVar(&allowlist, "allow", nil, "Recipient allowlist (addresses or domains)")

	cmd.AddCommand(set)
	return cmd
}

func newScheduleCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show the run schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := opts.client().doJSON(cmd.Context(), http.MethodGet, "/automation/schedule", nil)
			if err != nil {
				return err
			}
			return printJSON(opts.out, data)
		},
	}

	var (
		enabled   bool
		frequency string
		at        string
		days      []int
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Update the run schedule; only the given flags change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var u models.ScheduleUpdate
			flags := cmd.Flags()
			if flags.Changed("enabled") {
				u.Enabled = &enabled
			}
			if flags.Changed("frequency") {
				f := models.Frequency(frequency)
				u.Frequency = &f
			}
			if flags.Changed("time") {
				u.TimeOfDay = &at
			}
			if flags.Changed("days") {
				u.Days = days
			}
			data, err := opts.client().doJSON(cmd.Context(), http.MethodPut, "/automation/schedule", u)
			if err != nil {
				return err
			}
			return printJSON(opts.out, data)
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", false, "Enable scheduled runs")
	set.Flags().StringVar(&frequency, "frequency", "", "daily, weekly or monthly")
	set.Flags().StringVar(&at, "time", "", "Time of day, HH:MM")
	set.Flags().IntSliceVar(&days, "days", nil, "Weekdays (0=Sunday) or days of month")

	cmd.AddCommand(set)
	return cmd
}

func newImportCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import email jobs from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			data, err := opts.client().do(cmd.Context(), http.MethodPost, "/jobs/import", "text/csv", f)
			if err != nil {
				return err
			}
			return printJSON(opts.out, data)
		},
	}
}
