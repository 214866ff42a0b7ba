package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/parsers"
	"interunit-loan-recon/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	importCompany          string
	importCounterparty     string
	importMonth            string
	importYear             int
	importCounterpartyFile string
)

var importCmd = &cobra.Command{
	Use:   "import <ledger.csv>",
	Short: "Import a company's ledger export of an interunit loan account",
	Long: `Import loads a CSV ledger export into the store. Every row becomes a
ledger entry owned by --company with --counterparty as the other side; rows
with a debit are lender side, rows with a credit borrower side. Opening and
closing balance rows are skipped, dateless rows continue the previous
narration.

Pass --counterparty-file to import the counterparty's export of the same
account in the same run. Both files are parsed in parallel and share a pair id.

Examples:
  reconciler import --company ACME --counterparty BETA --month March --year 2024 acme.csv
  reconciler import -c ACME -p BETA -m 3 -y 2024 acme.csv --counterparty-file beta.csv`,
	Args:    cobra.ExactArgs(1),
	PreRunE: validateImportFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return importLedgers(cmd.Context(), a, args[0], cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().StringVarP(&importCompany, "company", "c", "", "company whose ledger this is (required)")
	importCmd.Flags().StringVarP(&importCounterparty, "counterparty", "p", "", "company on the other side of the loan account (required)")
	importCmd.Flags().StringVarP(&importMonth, "month", "m", "", "statement month (required)")
	importCmd.Flags().IntVarP(&importYear, "year", "y", 0, "statement year (required)")
	importCmd.Flags().StringVar(&importCounterpartyFile, "counterparty-file", "", "the counterparty's ledger export of the same account")

	importCmd.MarkFlagRequired("company")
	importCmd.MarkFlagRequired("counterparty")
	importCmd.MarkFlagRequired("month")
	importCmd.MarkFlagRequired("year")
}

func validateImportFlags(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(args[0], "ledger file"); err != nil {
		return err
	}
	if importCounterpartyFile != "" {
		if err := validateFileExists(importCounterpartyFile, "counterparty ledger file"); err != nil {
			return err
		}
	}
	_, err := importOptions()
	return err
}

func importOptions() (parsers.ImportOptions, error) {
	period, err := models.NewPeriod(importMonth, importYear)
	if err != nil {
		return parsers.ImportOptions{}, errors.ValidationError(errors.CodeInvalidDate, "month", importMonth, err)
	}
	opts := parsers.ImportOptions{Company: importCompany, Counterparty: importCounterparty, Period: period}
	return opts, opts.Validate()
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, filePath, nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, filePath,
			fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	file.Close()
	return nil
}

func importLedgers(ctx context.Context, a *app, path string, out io.Writer) error {
	opts, err := importOptions()
	if err != nil {
		return err
	}

	if importCounterpartyFile == "" {
		entries, stats, err := a.parser.ParseLedger(ctx, path, opts)
		if err != nil {
			return err
		}
		n, err := a.service.Ingest(ctx, entries)
		if err != nil {
			return err
		}
		printImport(out, path, n, stats)
		return nil
	}

	cp := parsers.NewConcurrentParser(a.parser, 2)
	pair, err := cp.ParsePair(ctx, parsers.PairUpload{
		Lender:       opts.Company,
		Borrower:     opts.Counterparty,
		Period:       opts.Period,
		LenderFile:   path,
		BorrowerFile: importCounterpartyFile,
	})
	if err != nil {
		return err
	}
	n, err := a.service.Ingest(ctx, pair.Entries())
	if err != nil {
		return err
	}
	printImport(out, pair.Lender.FilePath, len(pair.Lender.Entries), pair.Lender.Stats)
	printImport(out, pair.Borrower.FilePath, len(pair.Borrower.Entries), pair.Borrower.Stats)
	fmt.Fprintf(out, "Imported %d entries with pair id %s\n", n, pair.PairID)
	return nil
}

func printImport(out io.Writer, path string, n int, stats *parsers.ParseStats) {
	fmt.Fprintf(out, "%s: %d entries imported", path, n)
	if stats != nil {
		fmt.Fprintf(out, " (%d skipped, %d continuation lines, %d errors)", stats.Skipped, stats.Continuations, stats.ErrorCount)
	}
	fmt.Fprintln(out)
	if stats != nil && stats.HasErrors() {
		for _, msg := range stats.GetSampleErrors(5) {
			fmt.Fprintf(out, "  %s\n", msg)
		}
	}
}
