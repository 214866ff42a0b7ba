// Package reporter renders the match state of reconciliation scopes.
//
// A scope report lists confirmed pairings, pairings awaiting review and the
// entries left unmatched, with totals. Batch summaries cover a multi-scope
// run.
//
// Supported output formats:
//   - Console: Human-readable output for terminal display
//   - JSON: Structured data format for programmatic consumption
//   - CSV: One row per ledger entry for spreadsheet applications
//   - XLSX: A workbook with one sheet per section
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatXLSX})
//	report, err := service.Report(ctx, scope)
//	err = generator.GenerateReport(report, file)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
	FormatXLSX    OutputFormat = "xlsx"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatXLSX:
		return true
	default:
		return false
	}
}

// Binary reports whether the format cannot be written to a terminal.
func (f OutputFormat) Binary() bool {
	return f == FormatXLSX
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	IncludeConfirmed bool `json:"include_confirmed"`
	IncludePending   bool `json:"include_pending"`
	IncludeUnmatched bool `json:"include_unmatched"`
	IncludeAudit     bool `json:"include_audit"`

	// MaxListItems caps console lists; 0 prints everything.
	MaxListItems int  `json:"max_list_items"`
	SortByAmount bool `json:"sort_by_amount"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeConfirmed: true,
		IncludePending:   true,
		IncludeUnmatched: true,
		IncludeAudit:     true,
		MaxListItems:     20,
		CSVDelimiter:     ',',
		CSVHeaders:       true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxListItems < 0 {
		return fmt.Errorf("max list items cannot be negative, got %d", c.MaxListItems)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '\n' || c.CSVDelimiter == '"') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates scope reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a scope report to writer.
func (rg *ReportGenerator) GenerateReport(report *reconciler.ScopeReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("scope report cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(report, writer)
	case FormatJSON:
		return rg.generateJSONReport(report, writer)
	case FormatCSV:
		return rg.generateCSVReport(report, writer)
	case FormatXLSX:
		return rg.generateXLSXReport(report, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(report *reconciler.ScopeReport, writer io.Writer) error {
	s := report.Summary
	fmt.Fprintf(writer, "INTERUNIT LOAN RECONCILIATION\n")
	fmt.Fprintf(writer, "Scope: %s\n\n", report.Scope)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	fmt.Fprintf(writer, "Entries:         %d\n", s.Entries)
	fmt.Fprintf(writer, "Confirmed pairs: %d\n", s.ConfirmedPairs)
	fmt.Fprintf(writer, "Pending pairs:   %d\n", s.PendingPairs)
	fmt.Fprintf(writer, "Unmatched:       %d (%.1f%%)\n", s.Unmatched, calculatePercentage(s.Unmatched, s.Entries))
	fmt.Fprintf(writer, "Match rate:      %.1f%%\n", s.MatchRate*100)
	fmt.Fprintf(writer, "Unmatched lent:     %s\n", s.UnmatchedLent.StringFixed(2))
	fmt.Fprintf(writer, "Unmatched borrowed: %s\n", s.UnmatchedBorrowed.StringFixed(2))
	fmt.Fprintf(writer, "\n")

	if len(s.ByType) > 0 {
		fmt.Fprintf(writer, "=== MATCH TYPES ===\n")
		for _, t := range sortedTypes(s.ByType) {
			fmt.Fprintf(writer, "%-18s %d\n", t, s.ByType[t])
		}
		fmt.Fprintf(writer, "\n")
	}

	if rg.config.IncludePending && len(report.Pending) > 0 {
		fmt.Fprintf(writer, "=== AWAITING REVIEW (%d) ===\n", len(report.Pending))
		rg.printPairings(report.Pending, writer)
		fmt.Fprintf(writer, "\n")
	}
	if rg.config.IncludeConfirmed && len(report.Confirmed) > 0 {
		fmt.Fprintf(writer, "=== CONFIRMED (%d) ===\n", len(report.Confirmed))
		rg.printPairings(report.Confirmed, writer)
		fmt.Fprintf(writer, "\n")
	}
	if rg.config.IncludeUnmatched && len(report.Unmatched) > 0 {
		fmt.Fprintf(writer, "=== UNMATCHED (%d) ===\n", len(report.Unmatched))
		rg.printUnmatched(report.Unmatched, writer)
	}
	return nil
}

func (rg *ReportGenerator) printPairings(pairings []reconciler.Pairing, writer io.Writer) {
	for i, p := range pairings {
		if rg.truncated(i, len(pairings), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s  %s -> %s  %s / %s",
			i+1, p.Type(), p.Lender.UID, p.Borrower.UID,
			p.Lender.Amount().StringFixed(2), p.Borrower.Amount().StringFixed(2))
		if diff := p.AmountDifference(); !diff.IsZero() {
			fmt.Fprintf(writer, " (diff %s)", diff.StringFixed(2))
		}
		if p.Lender.ReviewedBy != "" {
			fmt.Fprintf(writer, " reviewed by %s", p.Lender.ReviewedBy)
		}
		fmt.Fprintf(writer, "\n")
		if rg.config.IncludeAudit && p.Lender.Audit != nil {
			fmt.Fprintf(writer, "     %s\n", p.Lender.Audit.Describe())
		}
	}
}

func (rg *ReportGenerator) printUnmatched(entries []*models.LedgerEntry, writer io.Writer) {
	entries = append([]*models.LedgerEntry(nil), entries...)
	if rg.config.SortByAmount {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Amount().GreaterThan(entries[j].Amount())
		})
	}

	var lent, borrowed []*models.LedgerEntry
	for _, e := range entries {
		if e.IsDebit() {
			lent = append(lent, e)
		} else {
			borrowed = append(borrowed, e)
		}
	}
	if len(lent) > 0 {
		fmt.Fprintf(writer, "Lender side (%d):\n", len(lent))
		rg.printEntryList(lent, writer)
	}
	if len(borrowed) > 0 {
		fmt.Fprintf(writer, "Borrower side (%d):\n", len(borrowed))
		rg.printEntryList(borrowed, writer)
	}
}

func (rg *ReportGenerator) printEntryList(entries []*models.LedgerEntry, writer io.Writer) {
	for i, e := range entries {
		if rg.truncated(i, len(entries), writer) {
			break
		}
		fmt.Fprintf(writer, "  %d. %s  %s  %s  %s\n",
			i+1, e.UID, e.Date.Format("2006-01-02"), e.Amount().StringFixed(2), truncate(e.Narration, 60))
	}
}

func (rg *ReportGenerator) truncated(i, total int, writer io.Writer) bool {
	limit := rg.config.MaxListItems
	if limit > 0 && i >= limit {
		fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
		return true
	}
	return false
}

func (rg *ReportGenerator) generateJSONReport(report *reconciler.ScopeReport, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterReportForOutput(report))
}

func (rg *ReportGenerator) filterReportForOutput(report *reconciler.ScopeReport) map[string]interface{} {
	output := map[string]interface{}{
		"scope":        report.Scope,
		"summary":      report.Summary,
		"generated_at": time.Now().UTC(),
	}
	if rg.config.IncludeConfirmed {
		output["confirmed"] = rg.pairingsForOutput(report.Confirmed)
	}
	if rg.config.IncludePending {
		output["pending"] = rg.pairingsForOutput(report.Pending)
	}
	if rg.config.IncludeUnmatched {
		output["unmatched"] = nonNil(report.Unmatched)
	}
	return output
}

func (rg *ReportGenerator) pairingsForOutput(pairings []reconciler.Pairing) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(pairings))
	for _, p := range pairings {
		item := map[string]interface{}{
			"lender":            p.Lender,
			"borrower":          p.Borrower,
			"match_type":        p.Type(),
			"status":            p.Status(),
			"amount_difference": p.AmountDifference(),
		}
		if rg.config.IncludeAudit && p.Lender.Audit != nil {
			item["audit"] = p.Lender.Audit
		}
		out = append(out, item)
	}
	return out
}

func (rg *ReportGenerator) generateCSVReport(report *reconciler.ScopeReport, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(entryHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, section := range rg.sections(report) {
		for _, record := range section.rows {
			if err := csvWriter.Write(append([]string{section.name}, record...)); err != nil {
				return fmt.Errorf("failed to write %s record: %w", strings.ToLower(section.name), err)
			}
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// entryHeaders are the columns of CSV and XLSX entry rows.
var entryHeaders = []string{
	"Section",
	"UID",
	"Counterpart_UID",
	"Company",
	"Lender",
	"Borrower",
	"Date",
	"Side",
	"Amount",
	"Status",
	"Match_Type",
	"Match_Method",
	"Evidence",
	"Reviewed_By",
	"Narration",
}

type section struct {
	name string
	rows [][]string
}

// sections flattens the report into per-entry rows. A pairing yields its
// lender row followed by its borrower row.
func (rg *ReportGenerator) sections(report *reconciler.ScopeReport) []section {
	var out []section
	pairRows := func(pairings []reconciler.Pairing) [][]string {
		rows := make([][]string, 0, 2*len(pairings))
		for _, p := range pairings {
			rows = append(rows, rg.entryRecord(p.Lender), rg.entryRecord(p.Borrower))
		}
		return rows
	}
	if rg.config.IncludeConfirmed {
		out = append(out, section{name: "Confirmed", rows: pairRows(report.Confirmed)})
	}
	if rg.config.IncludePending {
		out = append(out, section{name: "Pending", rows: pairRows(report.Pending)})
	}
	if rg.config.IncludeUnmatched {
		rows := make([][]string, 0, len(report.Unmatched))
		for _, e := range report.Unmatched {
			rows = append(rows, rg.entryRecord(e))
		}
		out = append(out, section{name: "Unmatched", rows: rows})
	}
	return out
}

func (rg *ReportGenerator) entryRecord(e *models.LedgerEntry) []string {
	side := "Cr"
	if e.IsDebit() {
		side = "Dr"
	}
	evidence := ""
	if rg.config.IncludeAudit && e.Audit != nil {
		evidence = e.Audit.Describe()
	}
	return []string{
		e.UID,
		e.MatchedWith,
		e.Company,
		e.Lender,
		e.Borrower,
		e.Date.Format("2006-01-02"),
		side,
		e.Amount().StringFixed(2),
		string(e.MatchStatus),
		string(e.MatchType),
		string(e.MatchMethod),
		evidence,
		e.ReviewedBy,
		e.Narration,
	}
}

// GenerateBatchSummary writes the outcome of a multi-scope run.
func (rg *ReportGenerator) GenerateBatchSummary(batch *reconciler.BatchResult, writer io.Writer) error {
	if batch == nil {
		return fmt.Errorf("batch result cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		encoder := json.NewEncoder(writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(batch)
	case FormatCSV:
		return rg.generateBatchCSV(batch, writer)
	case FormatXLSX:
		return rg.generateBatchXLSX(batch, writer)
	default:
		return rg.generateBatchConsole(batch, writer)
	}
}

func (rg *ReportGenerator) generateBatchConsole(batch *reconciler.BatchResult, writer io.Writer) error {
	fmt.Fprintf(writer, "=== RECONCILIATION RUN ===\n")
	fmt.Fprintf(writer, "Scopes:        %d\n", len(batch.Scopes))
	fmt.Fprintf(writer, "Failed:        %d\n", batch.Failed)
	fmt.Fprintf(writer, "Matches found: %d\n", batch.MatchesFound)
	fmt.Fprintf(writer, "Duration:      %v\n\n", batch.Duration.Round(time.Millisecond))

	for _, o := range batch.Scopes {
		if o.Result == nil {
			fmt.Fprintf(writer, "  %-40s FAILED %s\n", o.Scope, o.Error)
			continue
		}
		fmt.Fprintf(writer, "  %-40s %d matched (%d confirmed, %d pending) of %d\n",
			o.Scope, o.Result.MatchesFound, o.Result.Confirmed, o.Result.Pending, o.Result.Considered)
	}
	if len(batch.ByType) > 0 {
		fmt.Fprintf(writer, "\nBy type:\n")
		for _, t := range sortedTypes(batch.ByType) {
			fmt.Fprintf(writer, "  %-18s %d\n", t, batch.ByType[t])
		}
	}
	return nil
}

var batchHeaders = []string{"Scope", "Considered", "Matches", "Confirmed", "Pending", "Error"}

func batchRecords(batch *reconciler.BatchResult) [][]string {
	rows := make([][]string, 0, len(batch.Scopes))
	for _, o := range batch.Scopes {
		row := []string{o.Scope.Key(), "", "", "", "", o.Error}
		if r := o.Result; r != nil {
			row[1] = fmt.Sprint(r.Considered)
			row[2] = fmt.Sprint(r.MatchesFound)
			row[3] = fmt.Sprint(r.Confirmed)
			row[4] = fmt.Sprint(r.Pending)
		}
		rows = append(rows, row)
	}
	return rows
}

func (rg *ReportGenerator) generateBatchCSV(batch *reconciler.BatchResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter
	if rg.config.CSVHeaders {
		if err := csvWriter.Write(batchHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	if err := csvWriter.WriteAll(batchRecords(batch)); err != nil {
		return fmt.Errorf("failed to write batch records: %w", err)
	}
	return nil
}

func calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// sortedTypes lists the types present in m in match precedence order.
func sortedTypes(m map[models.MatchType]int) []models.MatchType {
	types := make([]models.MatchType, 0, len(m))
	for _, t := range models.AllMatchTypes {
		if _, ok := m[t]; ok {
			types = append(types, t)
		}
	}
	return types
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func nonNil(entries []*models.LedgerEntry) []*models.LedgerEntry {
	if entries == nil {
		return []*models.LedgerEntry{}
	}
	return entries
}

