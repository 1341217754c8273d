package cmd

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/wakala/hedger/internal/recommendation"
)

var regenerateCmd = &cobra.Command{
	Use:   "regenerate [exposure-id...]",
	Short: "Run one recommendation pass and print the tally",
	Long: `Regenerate evaluates open exposures against their policies and records
new recommendations where the advice changed. With no arguments every open
exposure is evaluated; --currency narrows the pass.

Examples:
  hedger regenerate
  hedger regenerate --currency EUR
  hedger regenerate 01J9Z2...`,
	RunE: runRegenerate,
}

var expireCmd = &cobra.Command{
	Use:   "expire",
	Short: "Expire pending recommendations past their validity",
	RunE:  runExpire,
}

var (
	regenCurrency  string
	regenScheduled bool
)

func init() {
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(expireCmd)

	regenerateCmd.Flags().StringVarP(&regenCurrency, "currency", "c", "", "only exposures in this currency")
	regenerateCmd.Flags().BoolVar(&regenScheduled, "scheduled", false, "behave like the scheduled run and skip policies with auto_generate off")
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.app.Generator.Regenerate(ctx, recommendation.RegenerateOptions{
		ExposureIDs: args,
		Currency:    regenCurrency,
		Scheduled:   regenScheduled,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runExpire(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.app.Recommendations.ExpireStale(ctx)
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"expired": n})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
