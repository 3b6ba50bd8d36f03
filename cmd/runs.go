package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect run history",
	Long:  "Commands for listing and viewing past ingest runs and provider usage.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs usage --

var runsUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show provider token usage and cost",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		totals, err := st.UsageSince(ctx, time.Now().Add(-since))
		if err != nil {
			return eris.Wrap(err, "runs usage")
		}
		formatUsage(os.Stdout, since, totals)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsUsageCmd.Flags().Duration("since", 30*24*time.Hour, "time window for usage (e.g. 24h, 720h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsUsageCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tWINDOW\tPROVIDER\tSTATUS\tCREATED\tDURATION\tSUMMARY")
	_, _ = fmt.Fprintln(w, "--\t------\t--------\t------\t-------\t--------\t-------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		status := string(r.Status)
		if r.DryRun {
			status += " (dry)"
		}
		summary := ""
		if r.Summary != nil {
			summary = r.Summary.String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Window,
			r.Provider,
			status,
			r.CreatedAt.In(model.KST).Format("2006-01-02 15:04"),
			dur,
			summary,
		)
	}
	_ = w.Flush()
}

// formatUsage writes usage totals to w.
func formatUsage(out io.Writer, since time.Duration, t *store.UsageTotals) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\tlast %s\n", since)
	_, _ = fmt.Fprintf(w, "Calls:\t%d\n", t.Calls)
	_, _ = fmt.Fprintf(w, "Input tokens:\t%d\n", t.InputTokens)
	_, _ = fmt.Fprintf(w, "Output tokens:\t%d\n", t.OutputTokens)
	_, _ = fmt.Fprintf(w, "Estimated tokens:\t%d\n", t.EstimatedTokens)
	_, _ = fmt.Fprintf(w, "Cost (USD):\t%.4f\n", t.CostUSD)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
