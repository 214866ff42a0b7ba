package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var reviewedBy string

var acceptCmd = &cobra.Command{
	Use:   "accept <uid>",
	Short: "Confirm a match awaiting review",
	Long: `Accept confirms a pairing proposed by the similarity or fallback passes.
Both entries of the pairing move to confirmed and record the reviewer.

Example:
  reconciler accept ACME_134d7b1_249f0_000001 --by auditor`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return reviewEntry(cmd.Context(), a, args[0], reviewedBy, true, cmd.OutOrStdout())
		})
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <uid>",
	Short: "Reject a match awaiting review",
	Long: `Reject returns both entries of a proposed pairing to the unmatched pool
so a later run can pair them differently.

Example:
  reconciler reject ACME_134d7b1_249f0_000001 --by auditor`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return reviewEntry(cmd.Context(), a, args[0], reviewedBy, false, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(acceptCmd, rejectCmd)
	for _, c := range []*cobra.Command{acceptCmd, rejectCmd} {
		c.Flags().StringVar(&reviewedBy, "by", defaultReviewer(), "reviewer recorded on both entries")
	}
}

// defaultReviewer is the login name of the operator.
func defaultReviewer() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return ""
}

func reviewEntry(ctx context.Context, a *app, uid, reviewer string, accept bool, out io.Writer) error {
	action, done := a.service.RejectMatch, "rejected"
	if accept {
		action, done = a.service.AcceptMatch, "confirmed"
	}
	if err := action(ctx, uid, reviewer); err != nil {
		return err
	}

	entry, err := a.service.GetEntry(ctx, uid)
	if err != nil {
		return err
	}
	if accept {
		fmt.Fprintf(out, "%s %s with %s (%s) by %s\n", uid, done, entry.MatchedWith, entry.MatchType, reviewer)
	} else {
		fmt.Fprintf(out, "%s %s by %s, back to %s\n", uid, done, reviewer, entry.MatchStatus)
	}
	return nil
}
