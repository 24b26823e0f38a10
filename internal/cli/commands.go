package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ordergate/internal/core"
	"ordergate/internal/history"
	"ordergate/internal/monitor"
	"ordergate/pkg/domain"
)

func newPendingCmd(opts *options) *cobra.Command {
	var (
		expiredOnly bool
		grace       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List tracked validation errors and their ages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			if grace <= 0 {
				grace = app.Config.Tracker.GracePeriod
			}
			var entries []domain.ExpiredEntry
			if expiredOnly {
				entries = app.Tracker.AllExpired(cmd.Context(), grace)
			} else {
				entries = app.Tracker.ListPending(cmd.Context())
			}
			if opts.format == "json" {
				if entries == nil {
					entries = []domain.ExpiredEntry{}
				}
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return printEntries(cmd.OutOrStdout(), entries, grace)
		},
	}
	cmd.Flags().BoolVar(&expiredOnly, "expired", false, "only errors older than the grace period")
	cmd.Flags().DurationVar(&grace, "grace", 0, "grace period (default from config)")
	return cmd
}

func printEntries(w io.Writer, entries []domain.ExpiredEntry, grace time.Duration) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no tracked errors")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tNUMBER\tRULE\tAGE (MIN)\tSTATE\tMESSAGE")
	for _, e := range entries {
		state := "pending"
		if e.AgeMinutes >= grace.Minutes() {
			state = "confirmed"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.1f\t%s\t%s\n",
			e.OrderID, e.OrderNumber, e.Details.Rule, e.AgeMinutes, state, truncate(e.Details.Message, 60))
	}
	return tw.Flush()
}

func newSweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one monitor sweep now and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			if app.Monitor == nil {
				return fmt.Errorf("sweep: %w", core.ErrNoOrderSource)
			}
			res := app.Monitor.TriggerCheck(cmd.Context())
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return printSweep(cmd.OutOrStdout(), res)
		},
	}
}

func printSweep(w io.Writer, r monitor.SweepResult) error {
	_, err := fmt.Fprintf(w, "expired=%d orders=%d notified=%d failed=%d skipped=%d cleared=%d duration=%s\n",
		r.Expired, r.Orders, r.Notified, r.Failed, r.Skipped, r.Cleared, r.Duration.Round(time.Millisecond))
	return err
}

func newValidateCmd(opts *options) *cobra.Command {
	var alert bool
	cmd := &cobra.Command{
		Use:   "validate <order_id>",
		Short: "Validate one order and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			out, err := app.Process(cmd.Context(), args[0], alert)
			if err != nil {
				return err
			}
			if opts.format == "json" {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			if err := printReport(cmd.OutOrStdout(), out.Report); err != nil {
				return err
			}
			if out.NotifyErr != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "notification failed: %s\n", out.NotifyErr)
			} else if out.Notified {
				fmt.Fprintln(cmd.OutOrStdout(), "notification sent")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&alert, "notify", false, "email staff when the report warrants it")
	return cmd
}

func newHistoryCmd(opts *options) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history <order_id>",
		Short: "Print archived reports for an order, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), opts, false)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			reports, err := app.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if since > 0 {
				reports = history.Since(reports, time.Now().Add(-since))
			}
			if opts.format == "json" {
				if reports == nil {
					reports = []domain.Report{}
				}
				return writeJSON(cmd.OutOrStdout(), reports)
			}
			if len(reports) == 0 {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "no reports for order %s\n", args[0])
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIMESTAMP\tSTATUS\tISSUES\tPENDING\tCONFIRMED\tID")
			for _, r := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					r.Timestamp.Format(time.RFC3339), r.Status, len(r.Issues), r.PendingCount, r.ConfirmedCount, r.ID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only show reports newer than this age (e.g. 24h)")
	return cmd
}

func printReport(w io.Writer, r domain.Report) error {
	fmt.Fprintf(w, "Order %s (%s): %s\n", r.OrderNumber, r.OrderID, strings.ToUpper(string(r.Status)))
	for _, is := range r.Issues {
		tag := string(is.Severity)
		if is.TrackingStatus != "" {
			tag += "/" + string(is.TrackingStatus)
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", tag, is.Rule, is.Message)
	}
	for _, is := range r.ResolvedIssues {
		fmt.Fprintf(w, "  [resolved] %s: %s\n", is.Rule, is.Message)
	}
	for _, fix := range r.SuggestedFixes {
		fmt.Fprintf(w, "  fix: %s\n", fix)
	}
	_, err := fmt.Fprintf(w, "pending=%d confirmed=%d\n", r.PendingCount, r.ConfirmedCount)
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
