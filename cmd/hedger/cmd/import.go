package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wakala/hedger/internal/recommendation"
)

var importCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Upsert exposures from a CSV file",
	Long: `Import reads a CSV with the header
  reference,type,amount,currency,due_date[,counterparty,description,invoice_date]
and creates or updates exposures by reference. Rejected rows are listed
with their line number; the rest of the file is still applied.

Examples:
  hedger import testdata/exposures.csv
  hedger import --regenerate invoices.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importRegenerate bool

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importRegenerate, "regenerate", false, "evaluate the imported exposures afterwards")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.app.Import.ImportCSV(ctx, f)
	if err != nil {
		return err
	}
	if err := printJSON(res); err != nil {
		return err
	}

	if importRegenerate && len(res.ExposureIDs) > 0 {
		regen, err := e.app.Generator.Regenerate(ctx, recommendation.RegenerateOptions{ExposureIDs: res.ExposureIDs})
		if err != nil {
			return err
		}
		return printJSON(regen)
	}
	return nil
}
