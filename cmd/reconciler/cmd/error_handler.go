package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"syscall"

	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	logger  logger.Logger
	verbose bool
	out     io.Writer
}

// NewCLIErrorHandler creates a new CLI error handler
func NewCLIErrorHandler() *CLIErrorHandler {
	return &CLIErrorHandler{
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
		out:     os.Stderr,
	}
}

// HandleError prints err and returns the process exit code.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	var summary *errors.ErrorSummary
	if stderrors.As(err, &summary) {
		return h.handleSummary(summary)
	}
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

// summaryCategories is the order category help is shown for a batch.
var summaryCategories = []errors.ErrorCategory{
	errors.CategoryValidation,
	errors.CategoryConfiguration,
	errors.CategoryLifecycle,
	errors.CategoryStorage,
}

// handleSummary reports a batch in which some scopes failed, followed by the
// help of each category that occurred.
func (h *CLIErrorHandler) handleSummary(summary *errors.ErrorSummary) int {
	fmt.Fprintf(h.out, "Error: %d scope(s) failed\n", summary.Total)
	for _, err := range summary.Errors {
		fmt.Fprintf(h.out, "  - %s\n", err.Message)
		if h.verbose && err.Cause != nil {
			fmt.Fprintf(h.out, "    cause: %v\n", err.Cause)
		}
	}

	if summary.HasCode(errors.CodeLockUnavailable) {
		fmt.Fprintf(h.out, "\nLocked scopes were skipped; rerun them once the other run finishes.\n")
	}
	for _, category := range summaryCategories {
		if !summary.HasCategory(category) {
			continue
		}
		if help := h.getCategoryHelp(category); help != "" {
			fmt.Fprintf(h.out, "\n%s\n", help)
		}
	}
	return summary.GetExitCode()
}

// handleReconcilerError handles ReconcilerError with detailed context
func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	if help := h.getCategoryHelp(err.Category); help != "" {
		fmt.Fprintf(h.out, "\n%s\n", help)
	}

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError handles non-ReconcilerError types
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check that the ledger file exists and is readable
• Verify the path (use absolute paths if needed)`

	case errors.CategoryParse:
		return `Parse error help:
• The ledger needs Date, Particulars/Narration, Debit and Credit columns
• Save the export as UTF-8 CSV
• Use 'reconciler import --help' for the accepted header names`

	case errors.CategoryValidation:
		return `Validation error help:
• Scopes need --lender, --borrower, --month and --year
• Lender and borrower must be different companies
• Months may be names (March), abbreviations (Mar) or numbers (3)`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RECONCILER_* environment variables
• Verify configuration file syntax if using --config`

	case errors.CategoryLifecycle:
		return `Review help:
• Only entries awaiting review (matched) can be accepted or rejected
• Use 'reconciler export' or the report to find pending uids`

	case errors.CategoryStorage:
		return `Storage help:
• Check --store-driver and --store-dsn
• For the redis lock backend check --redis-addr
• Retry once the backend is reachable; nothing was committed`
	}
	return ""
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return os.IsNotExist(err) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return os.IsPermission(err) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}
