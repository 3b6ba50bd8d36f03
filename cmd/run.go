package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/pipeline"
	"github.com/sells-group/valueup-cli/pkg/telegram"
)

var (
	runWindow    windowFlags
	runMaxItems  int
	runMaxPages  int
	runProvider  string
	runSecondary string
	runDryRun    bool
	runExport    string
	runPivot     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, classify and archive value-up disclosures",
	Long: `Lists value-up disclosures in the selected window, skips those already
archived, classifies the rest against the rubric and archives the results.

Exit status is 0 when the batch completes, even if some entries errored,
and non-zero on a run-level failure.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		window, err := runWindow.resolve(time.Now())
		if err != nil {
			return err
		}
		maxPages := runMaxPages
		if maxPages <= 0 {
			maxPages = cfg.Kind.MaxPages
		}
		provider := runProvider
		if provider == "" {
			provider = cfg.Classifier.Primary
		}
		secondary := runSecondary
		if !cmd.Flags().Changed("secondary") {
			secondary = cfg.Classifier.Secondary
		}

		env, err := initRunEnv(ctx, runSettings{
			Provider:  provider,
			Secondary: secondary,
			DryRun:    runDryRun,
			Pivot:     runPivot,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		summary, runErr := env.Pipeline.Run(ctx, pipeline.Options{
			Window:           window,
			MaxPages:         maxPages,
			MaxItems:         runMaxItems,
			Provider:         provider,
			DryRun:           runDryRun,
			Export:           runExport,
			CircuitThreshold: cfg.Classifier.CircuitThreshold,
		})

		notify(ctx, window, summary, runDryRun)
		return report(os.Stdout, os.Stderr, summary, runErr)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runWindow.from, "from", "", "window start date (YYYY-MM-DD, KST)")
	f.StringVar(&runWindow.to, "to", "", "window end date (YYYY-MM-DD, KST, inclusive)")
	f.IntVar(&runWindow.days, "days", 0, "look back N days from today (default 7)")
	f.StringVar(&runWindow.period, "period", "", "named period: 1주, 1개월, 3개월, 6개월, 1년, 2년, 3년, 전체")
	f.IntVar(&runMaxItems, "max-items", 0, "max new entries to process (0 = no limit)")
	f.IntVar(&runMaxPages, "max-pages", 0, "max list pages to fetch (default kind.max_pages)")
	f.StringVar(&runProvider, "provider", "", "primary provider: anthropic or gemini (default classifier.primary)")
	f.StringVar(&runSecondary, "secondary", "", "fallback provider, or none (default classifier.secondary)")
	f.BoolVar(&runDryRun, "dry-run", false, "run the full pipeline without uploads or sheet writes")
	f.StringVar(&runExport, "export", "", "write an .xlsx report of this run to the given path")
	f.BoolVar(&runPivot, "pivot", false, "also update per-company history spreadsheets")

	rootCmd.AddCommand(runCmd)
}

// report prints the summary line and, on a fatal run, the one-line reason.
// It returns errReported so main exits non-zero without printing again.
func report(stdout, stderr io.Writer, summary *model.RunSummary, runErr error) error {
	if summary != nil {
		_, _ = fmt.Fprintln(stdout, summary.String())
		if summary.FetchError != "" {
			_, _ = fmt.Fprintln(stderr, "warning: listing stopped early:", summary.FetchError)
		}
	}
	if runErr == nil {
		return nil
	}
	reason := runErr.Error()
	if summary != nil && summary.Fatal != "" {
		reason = summary.Fatal
	}
	_, _ = fmt.Fprintln(stderr, "fatal:", reason)
	return errReported
}

// notify sends the summary to Telegram when configured. Failures are only
// logged.
func notify(ctx context.Context, window model.DateWindow, summary *model.RunSummary, dryRun bool) {
	if cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "" || summary == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	client := telegram.NewClient(cfg.Telegram.Token)
	if err := client.SendMessage(ctx, cfg.Telegram.ChatID, notification(window, summary, dryRun)); err != nil {
		zap.L().Warn("telegram notification failed", zap.Error(err))
	}
}

func notification(window model.DateWindow, summary *model.RunSummary, dryRun bool) string {
	text := fmt.Sprintf("[valueup] %s\n%s", window, summary)
	if dryRun {
		text += "\n(dry run)"
	}
	if summary.FetchError != "" {
		text += "\nlisting stopped early: " + summary.FetchError
	}
	if summary.Fatal != "" {
		text += "\nFATAL: " + summary.Fatal
	}
	return text
}
