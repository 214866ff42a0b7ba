package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/reconciler"
	"interunit-loan-recon/internal/reporter"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// scopeFlags selects one company pair and statement month.
type scopeFlags struct {
	lender   string
	borrower string
	month    string
	year     int
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.lender, "lender", "l", "", "lending company")
	cmd.Flags().StringVarP(&f.borrower, "borrower", "b", "", "borrowing company")
	cmd.Flags().StringVarP(&f.month, "month", "m", "", "statement month (name, abbreviation or number)")
	cmd.Flags().IntVarP(&f.year, "year", "y", 0, "statement year")
}

func (f *scopeFlags) isSet() bool {
	return f.lender != "" || f.borrower != "" || f.month != "" || f.year != 0
}

func (f *scopeFlags) scope() (models.Scope, error) {
	scope, err := models.NewScope(f.lender, f.borrower, f.month, f.year)
	if err != nil {
		return models.Scope{}, errors.ValidationError(errors.CodeInvalidData, "scope",
			fmt.Sprintf("%s/%s %s %d", f.lender, f.borrower, f.month, f.year), err).
			WithSuggestion("Pass --lender, --borrower, --month and --year, e.g. --month March --year 2024")
	}
	return scope, nil
}

// Flags for the reconcile command
var (
	reconcileScope scopeFlags
	reconcileAll   bool
	reconcilePair  string
	outputFormat   string
	outputFile     string
	showProgress   bool
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match lender and borrower entries of one scope or of every scope",
	Long: `Reconcile runs the matching passes over the unmatched entries of a company
pair and statement month. Reference matches (PO, LC, loan id, final
settlement, interunit account) are confirmed at once; similarity and fallback
matches are stored as matched and wait for review.

Examples:
  # One scope, console report
  reconciler reconcile --lender ACME --borrower BETA --month March --year 2024

  # One scope, JSON report to a file
  reconciler reconcile -l ACME -b BETA -m 3 -y 2024 -f json -o march.json

  # Only the entries of one import
  reconciler reconcile --pair-id 6f1c0e4a-3b7d-4f7e-9a57-1d2f0c8b9e21

  # Every scope that still has unmatched entries
  reconciler reconcile --all --progress`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	reconcileScope.register(reconcileCmd)
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "run every scope with unmatched entries")
	reconcileCmd.Flags().StringVar(&reconcilePair, "pair-id", "", "run only the entries of one import (see 'pairs --ids')")

	// Output flags
	reconcileCmd.Flags().StringVarP(&outputFormat, "output-format", "f", "", "output format: console, json, csv, xlsx (default from config)")
	reconcileCmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")

	reconcileCmd.Flags().BoolVar(&showProgress, "progress", false, "show progress while running every scope")
	reconcileCmd.Flags().Int("max-concurrency", 4, "scopes matched in parallel with --all")

	viper.BindPFlag("reconcile.max_concurrent_scopes", reconcileCmd.Flags().Lookup("max-concurrency"))
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if reconcileAll && reconcileScope.isSet() {
		return errors.ConfigurationError(errors.CodeConfigConflict, "all", true,
			fmt.Errorf("--all cannot be combined with a scope")).
			WithSuggestion("Drop --all to reconcile one scope, or drop the scope flags")
	}
	if reconcilePair != "" && (reconcileAll || reconcileScope.isSet()) {
		return errors.ConfigurationError(errors.CodeConfigConflict, "pair-id", reconcilePair,
			fmt.Errorf("--pair-id cannot be combined with --all or a scope")).
			WithSuggestion("The pair id already determines the scope")
	}
	if !reconcileAll && reconcilePair == "" {
		if _, err := reconcileScope.scope(); err != nil {
			return err
		}
	}
	if outputFormat != "" && !reporter.OutputFormat(outputFormat).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv, xlsx", outputFormat))
	}
	if outputFile != "" {
		if err := validateOutputDir(outputFile); err != nil {
			return err
		}
	}
	return nil
}

func validateOutputDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeDirectoryError, dir, err).
			WithSuggestion("Create the output directory first")
	}
	if err != nil {
		return errors.FileError(errors.CodeDirectoryError, dir, err)
	}
	if !info.IsDir() {
		return errors.FileError(errors.CodeDirectoryError, dir, fmt.Errorf("%s is not a directory", dir))
	}
	return nil
}

// resolveFormat picks the flag value, then the output file extension, then
// the configured default.
func resolveFormat(flag, path string) string {
	if flag != "" {
		return flag
	}
	if path != "" {
		if f, ok := reporter.FormatFromPath(path); ok {
			return string(f)
		}
	}
	return ""
}

func runReconcile(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(a *app) error {
		ctx := a.withSession(cmd.Context())

		out, closeOut, err := openOutput(outputFile)
		if err != nil {
			return err
		}
		defer closeOut()

		format := resolveFormat(outputFormat, outputFile)
		if reconcileAll {
			var progress io.Writer
			if showProgress {
				progress = cmd.ErrOrStderr()
			}
			return reconcileAllScopes(ctx, a, format, out, progress)
		}
		if reconcilePair != "" {
			return reconcileImportPair(ctx, a, reconcilePair, format, out)
		}
		scope, _ := reconcileScope.scope()
		return reconcileOneScope(ctx, a, scope, format, out)
	})
}

// reconcileOneScope runs one scope and writes its report.
func reconcileOneScope(ctx context.Context, a *app, scope models.Scope, format string, out io.Writer) error {
	result, err := a.service.RunScope(ctx, scope)
	if err != nil {
		return err
	}
	logRun(a, result)
	return writeScopeReport(ctx, a, scope, format, out)
}

// reconcileImportPair runs the entries of one import and writes the report of
// the scope they belong to.
func reconcileImportPair(ctx context.Context, a *app, pairID, format string, out io.Writer) error {
	result, err := a.service.RunPair(ctx, pairID)
	if err != nil {
		return err
	}
	logRun(a, result)
	return writeScopeReport(ctx, a, result.Scope, format, out)
}

func logRun(a *app, result *reconciler.RunResult) {
	fields := logger.Fields{
		"scope":     result.Scope.Key(),
		"run_id":    result.RunID,
		"matches":   result.MatchesFound,
		"confirmed": result.Confirmed,
		"pending":   result.Pending,
	}
	if result.PairID != "" {
		fields["pair_id"] = result.PairID
	}
	a.logger.WithFields(fields).Info("Scope reconciled")
	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "Considered %d entries, found %d matches (%d confirmed, %d awaiting review) in %v\n",
			result.Considered, result.MatchesFound, result.Confirmed, result.Pending, result.Duration)
		for _, dup := range result.Duplicates {
			uids := make([]string, 0, len(dup.Entries))
			for _, e := range dup.Entries {
				uids = append(uids, e.UID)
			}
			fmt.Fprintf(os.Stderr, "Possible duplicate postings (%s): %s\n", dup.Reason, strings.Join(uids, ", "))
		}
	}
}

// reconcileAllScopes runs every open scope and writes the batch summary. The
// summary is written even when some scopes failed.
func reconcileAllScopes(ctx context.Context, a *app, format string, out, progress io.Writer) error {
	var callbacks []reconciler.ProgressCallback
	if progress != nil {
		callbacks = append(callbacks, func(p reconciler.BatchProgress) {
			fmt.Fprintf(progress, "\r[%d/%d] %s (%d matches so far)",
				p.Completed, p.Total, p.LastScope, p.MatchesFound)
			if p.Completed == p.Total {
				fmt.Fprintln(progress)
			}
		})
	}

	batch, runErr := a.service.RunAllScopes(ctx, callbacks...)
	if batch == nil {
		return runErr
	}

	rc, err := a.config.ReportConfig(format)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report.format", format, err)
	}
	generator, err := reporter.NewReportGenerator(rc)
	if err != nil {
		return err
	}
	if err := generator.GenerateBatchSummary(batch, out); err != nil {
		return errors.InternalError(errors.CodeProcessingError, "batch_summary", err)
	}
	return runErr
}

// writeScopeReport renders the current match state of scope.
func writeScopeReport(ctx context.Context, a *app, scope models.Scope, format string, out io.Writer) error {
	report, err := a.service.Report(ctx, scope)
	if err != nil {
		return err
	}
	rc, err := a.config.ReportConfig(format)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "report.format", format, err)
	}
	generator, err := reporter.NewSafeReportGenerator(rc, a.logger)
	if err != nil {
		return err
	}
	return generator.GenerateReportSafely(report, out)
}

// openOutput returns stdout when path is empty.
func openOutput(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err).
			WithSuggestion("Check that the output location is writable")
	}
	return f, func() { f.Close() }, nil
}
