package cli

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conduit/internal/cron"
)

// NewCronCmd creates the cron command.
func NewCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled messages",
		Long:  `List, create, and manage jobs that queue a message into a session on a schedule.`,
	}

	cmd.AddCommand(newCronListCmd())
	cmd.AddCommand(newCronAddCmd())
	cmd.AddCommand(newCronToggleCmd("enable", true))
	cmd.AddCommand(newCronToggleCmd("disable", false))
	cmd.AddCommand(newCronRemoveCmd())
	cmd.AddCommand(newCronRunCmd())
	cmd.AddCommand(newCronHistoryCmd())

	return cmd
}

func newCronListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all cron jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var resp struct {
				Jobs []*cron.Job `json:"jobs"`
			}
			if err := cliCtx.Client().Get(cmd.Context(), "/api/v1/cron/jobs", &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp.Jobs)
			}
			printJobs(cmd.OutOrStdout(), resp.Jobs)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newCronAddCmd() *cobra.Command {
	var (
		sessionID string
		message   string
		disabled  bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> <schedule>",
		Short: "Add a cron job",
		Long: `Add a job that queues a message into a session on a schedule.

Schedule format follows standard cron syntax, with an optional leading
seconds field, or a descriptor such as @hourly or @every 30m:
  ┌───────────── minute (0 - 59)
  │ ┌───────────── hour (0 - 23)
  │ │ ┌───────────── day of month (1 - 31)
  │ │ │ ┌───────────── month (1 - 12)
  │ │ │ │ ┌───────────── day of week (0 - 6)
  │ │ │ │ │
  * * * * *`,
		Example: `  # Summarize every day at 9 AM
  conduit cron add daily_summary "0 9 * * *" --session ops --message "Summarize yesterday's work"

  # Check status hourly, disabled for now
  conduit cron add hourly_check @hourly --session ops --message "Check status" --disabled`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			create := cron.JobCreate{
				Name:      args[0],
				Schedule:  args[1],
				SessionID: sessionID,
				Message:   message,
				Enabled:   !disabled,
			}
			if err := create.Validate(); err != nil {
				return err
			}

			var job cron.Job
			if err := cliCtx.Client().Post(cmd.Context(), "/api/v1/cron/jobs", create, &job); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Cron job '%s' created\n", job.Name)
			fmt.Fprintf(out, "  Schedule: %s\n", job.Schedule)
			fmt.Fprintf(out, "  Session:  %s\n", job.SessionID)
			fmt.Fprintf(out, "  Enabled:  %v\n", job.Enabled)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to queue the message into (required)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text (required)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create job in disabled state")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func newCronToggleCmd(verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <name>",
		Short: fmt.Sprintf("%s a cron job", map[bool]string{true: "Enable", false: "Disable"}[enabled]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			patch := cron.JobPatch{Enabled: &enabled}
			var job cron.Job
			if err := cliCtx.Client().Do(cmd.Context(), "PATCH", jobPath(args[0], ""), patch, &job); err != nil {
				return cronError(err, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cron job '%s' %sd\n", job.Name, verb)
			return nil
		},
	}
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"delete", "rm"},
		Short:   "Remove a cron job",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			if err := cliCtx.Client().Delete(cmd.Context(), jobPath(args[0], ""), nil); err != nil {
				return cronError(err, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cron job '%s' removed\n", args[0])
			return nil
		},
	}
}

func newCronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <name>",
		Short: "Run a cron job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			var entry cron.HistoryEntry
			if err := cliCtx.Client().Post(cmd.Context(), jobPath(args[0], "/run"), nil, &entry); err != nil {
				return cronError(err, args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Cron job '%s' triggered\n", args[0])
			fmt.Fprintf(out, "  Status: %s\n", entry.Status)
			if entry.MessageID != "" {
				fmt.Fprintf(out, "  Message: %s\n", entry.MessageID)
			}
			if entry.Error != "" {
				fmt.Fprintf(out, "  Error: %s\n", entry.Error)
			}
			return nil
		},
	}
}

func newCronHistoryCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "Show recent job firings",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := mustContext(cmd)
			if err != nil {
				return err
			}
			q := url.Values{"limit": {strconv.Itoa(limit)}}
			if len(args) == 1 {
				q.Set("job", args[0])
			}
			var resp struct {
				Entries []*cron.HistoryEntry `json:"entries"`
			}
			if err := cliCtx.Client().Get(cmd.Context(), "/api/v1/cron/history?"+q.Encode(), &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp.Entries)
			}
			printHistory(cmd.OutOrStdout(), resp.Entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum entries")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func printJobs(out io.Writer, jobs []*cron.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No cron jobs found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tSESSION\tENABLED\tLAST RUN\tNEXT RUN")
	fmt.Fprintln(w, "----\t--------\t-------\t-------\t--------\t--------")
	for _, j := range jobs {
		enabled := "✓"
		if !j.Enabled {
			enabled = "✗"
		}
		lastRun, nextRun := "-", "-"
		if j.LastRun != nil {
			lastRun = j.LastRun.Format("01-02 15:04")
		}
		if j.NextRun != nil {
			nextRun = j.NextRun.Format("01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", j.Name, j.Schedule, j.SessionID, enabled, lastRun, nextRun)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d jobs\n", len(jobs))
}

func printHistory(out io.Writer, entries []*cron.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No history.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTARTED\tSTATUS\tMESSAGE\tERROR")
	for _, e := range entries {
		msg, errText := e.MessageID, e.Error
		if msg == "" {
			msg = "-"
		}
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.JobName, e.StartedAt.Format("01-02 15:04:05"), e.Status, msg, errText)
	}
	w.Flush()
}

func cronError(err error, name string) error {
	if IsNotFound(err) {
		return fmt.Errorf("cron job not found: %s", name)
	}
	return err
}

func jobPath(name, suffix string) string {
	return "/api/v1/cron/jobs/" + url.PathEscape(name) + suffix
}
