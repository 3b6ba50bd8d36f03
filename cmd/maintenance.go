package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/valueup-cli/internal/model"
	"github.com/sells-group/valueup-cli/internal/sheets"
)

// -- rubric --

var rubricCmd = &cobra.Command{
	Use:   "rubric",
	Short: "Inspect the scoring rubric",
}

var rubricShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rubric as sent to the classifier",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		r, err := loadRubric(ctx)
		if err != nil {
			return err
		}
		core, _ := cmd.Flags().GetBool("core")
		printRubric(os.Stdout, r, core)
		return nil
	},
}

func loadRubric(ctx context.Context) (*model.Rubric, error) {
	ws, err := initWorkspace(ctx)
	if err != nil {
		return nil, err
	}
	var sheet sheets.Client
	if ws.Sheets != nil && cfg.Sheets.SpreadsheetID != "" {
		sheet = ws.Sheets.Open(cfg.Sheets.SpreadsheetID)
	}
	src, err := initRubric(sheet)
	if err != nil {
		return nil, err
	}
	return src.Load(ctx)
}

func printRubric(out io.Writer, r *model.Rubric, coreOnly bool) {
	if !coreOnly {
		_, _ = fmt.Fprintln(out, r.PromptText())
		return
	}
	for _, it := range r.Core() {
		_, _ = fmt.Fprintf(out, "%s\t%s\t%s\n", it.ItemID, it.AreaName, it.Name)
	}
}

// -- cache --

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the retrieved-document cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired cached documents",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredDocuments(ctx)
		if err != nil {
			return eris.Wrap(err, "cache prune")
		}
		zap.L().Info("cache pruned", zap.Int("deleted", n))
		_, _ = fmt.Fprintf(os.Stdout, "deleted %d expired documents\n", n)
		return nil
	},
}

// -- store --

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the local store",
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		_, _ = fmt.Fprintf(os.Stdout, "store ready (%s)\n", cfg.Store.Driver)
		return nil
	},
}

func init() {
	rubricShowCmd.Flags().Bool("core", false, "list only core items")
	rubricCmd.AddCommand(rubricShowCmd)
	rootCmd.AddCommand(rubricCmd)

	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)

	storeCmd.AddCommand(storeInitCmd)
	rootCmd.AddCommand(storeCmd)
}
