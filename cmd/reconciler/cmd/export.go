package cmd

import (
	"context"
	"fmt"
	"io"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/reporter"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	exportScope  scopeFlags
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the match state of one scope to a report file",
	Long: `Export writes confirmed pairings, pairings awaiting review and unmatched
entries of one scope without running the matcher. The format follows the
file extension (.json, .csv, .xlsx, .txt) unless --format is given. Missing
parent directories are created.

Example:
  reconciler export --lender ACME --borrower BETA --month March --year 2024 -o march.xlsx`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := exportScope.scope(); err != nil {
			return err
		}
		if exportOutput == "" {
			return errors.ValidationError(errors.CodeMissingField, "output", "", nil).
				WithSuggestion("Pass --output with a .json, .csv, .xlsx or .txt file")
		}
		if resolveFormat(exportFormat, exportOutput) == "" {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "format", exportOutput,
				fmt.Errorf("cannot tell the report format from %s", exportOutput)).
				WithSuggestion("Use a .json, .csv, .xlsx or .txt extension, or pass --format")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			scope, _ := exportScope.scope()
			format := resolveFormat(exportFormat, exportOutput)
			return exportScopeReport(cmd.Context(), a, scope, format, exportOutput, cmd.OutOrStdout())
		})
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportScope.register(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "report file (required)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "report format: console, json, csv, xlsx")
}

func exportScopeReport(ctx context.Context, a *app, scope models.Scope, format, path string, out io.Writer) error {
	report, err := a.service.Report(ctx, scope)
	if err != nil {
		return err
	}
	rc, err := a.config.ReportConfig(format)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "format", format, err)
	}
	generator, err := reporter.NewSafeReportGenerator(rc, a.logger)
	if err != nil {
		return err
	}
	err = logger.TimedOperation("export_report", a.logger.WithField("path", path), func() error {
		return generator.WriteReportFile(report, path)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d confirmed, %d awaiting review, %d unmatched written to %s\n",
		scope, len(report.Confirmed), len(report.Pending), len(report.Unmatched), path)
	return nil
}
