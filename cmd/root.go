package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/config"
)

var cfg *config.Config

// errReported marks a failure whose reason was already printed.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "valueup",
	Short: "Value-up disclosure ingest and analysis",
	Long:  "Lists Corporate Value-up disclosures from KRX KIND, scores each filing against the value-up rubric with an LLM, and archives results to Google Sheets and Drive.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
