package cmd

import (
	"context"
	"fmt"
	"io"

	"interunit-loan-recon/internal/store"

	"github.com/spf13/cobra"
)

var (
	pairsFilter store.PairFilter
	pairsIDs    bool
)

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List company pairs and statement months in the ledger",
	Long: `Pairs lists every company pair and month with entry counts by status.

Examples:
  reconciler pairs
  reconciler pairs --unreconciled
  reconciler pairs --ids`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if pairsIDs {
				return listPairIDs(cmd.Context(), a, cmd.OutOrStdout())
			}
			return listPairs(cmd.Context(), a, pairsFilter, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(pairsCmd)

	pairsCmd.Flags().BoolVar(&pairsFilter.Unreconciled, "unreconciled", false, "only pairs with unmatched entries")
	pairsCmd.Flags().BoolVar(&pairsFilter.Matched, "matched", false, "only pairs with matched or confirmed entries")
	pairsCmd.Flags().BoolVar(&pairsIDs, "ids", false, "list import pair ids with their scope instead")
}

func listPairs(ctx context.Context, a *app, filter store.PairFilter, out io.Writer) error {
	pairs, err := a.service.CompanyPairs(ctx, filter)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		fmt.Fprintln(out, "No company pairs found")
		return nil
	}

	fmt.Fprintf(out, "%-30s %-8s %8s %10s %8s %10s\n", "PAIR", "PERIOD", "ENTRIES", "UNMATCHED", "MATCHED", "CONFIRMED")
	for _, pp := range pairs {
		fmt.Fprintf(out, "%-30s %-8s %8d %10d %8d %10d\n",
			pp.Pair, pp.Period, pp.Entries, pp.Unmatched, pp.Matched, pp.Confirmed)
	}
	return nil
}

// listPairIDs prints every import pair id with the scope of its entries.
func listPairIDs(ctx context.Context, a *app, out io.Writer) error {
	ids, err := a.service.PairIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No pair ids found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-30s %-8s %8s\n", "PAIR ID", "PAIR", "PERIOD", "ENTRIES")
	for _, id := range ids {
		entries, err := a.service.PairEntries(ctx, id)
		if err != nil {
			return err
		}
		scope, err := a.service.PairScope(ctx, id)
		if err != nil {
			fmt.Fprintf(out, "%-36s %-30s %-8s %8d\n", id, "(mixed)", "-", len(entries))
			continue
		}
		fmt.Fprintf(out, "%-36s %-30s %-8s %8d\n", id, scope.Pair, scope.Period, len(entries))
	}
	return nil
}
