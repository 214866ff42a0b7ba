package cmd

import (
	"context"
	"fmt"
	"io"

	"interunit-loan-recon/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	resetScope    scopeFlags
	resetAll      bool
	resetTruncate bool
	resetYes      bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Return matches to the unmatched pool or clear the ledger",
	Long: `Reset clears match details so entries can be matched again. Use a scope
to reset one company pair and month, --all to reset every match, or
--truncate --yes to delete every imported ledger entry.

Examples:
  reconciler reset --lender ACME --borrower BETA --month March --year 2024
  reconciler reset --all
  reconciler reset --truncate --yes`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		modes := 0
		for _, set := range []bool{resetScope.isSet(), resetAll, resetTruncate} {
			if set {
				modes++
			}
		}
		if modes != 1 {
			return errors.ConfigurationError(errors.CodeConfigConflict, "reset", modes,
				fmt.Errorf("choose exactly one of a scope, --all or --truncate"))
		}
		if resetTruncate && !resetYes {
			return errors.ValidationError(errors.CodeMissingField, "yes", false, nil).
				WithSuggestion("Truncate deletes every ledger entry; pass --yes to confirm")
		}
		if resetScope.isSet() {
			_, err := resetScope.scope()
			return err
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runReset(cmd.Context(), a, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetScope.register(resetCmd)
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "reset every match in every scope")
	resetCmd.Flags().BoolVar(&resetTruncate, "truncate", false, "delete every ledger entry")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm --truncate")
}

func runReset(ctx context.Context, a *app, out io.Writer) error {
	switch {
	case resetTruncate:
		if err := a.service.Truncate(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "Ledger truncated")
	case resetAll:
		n, err := a.service.ResetAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d entries returned to the unmatched pool\n", n)
	default:
		scope, err := resetScope.scope()
		if err != nil {
			return err
		}
		n, err := a.service.ResetScope(ctx, scope)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d entries returned to the unmatched pool\n", scope, n)
	}
	return nil
}
