package parsers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ImportOptions says whose ledger a file is and what it covers.
type ImportOptions struct {
	Company      string
	Counterparty string
	Period       models.Period
	// PairID links the two uploads of one loan account. A new id is
	// generated when empty.
	PairID string
}

// Validate checks the import options.
func (o ImportOptions) Validate() error {
	if strings.TrimSpace(o.Company) == "" {
		return errors.ValidationError(errors.CodeMissingField, "company", "", nil)
	}
	if strings.TrimSpace(o.Counterparty) == "" {
		return errors.ValidationError(errors.CodeMissingField, "counterparty", "", nil)
	}
	if strings.EqualFold(strings.TrimSpace(o.Company), strings.TrimSpace(o.Counterparty)) {
		return errors.ValidationError(errors.CodeInvalidData, "counterparty", o.Counterparty,
			fmt.Errorf("company and counterparty must differ"))
	}
	if err := o.Period.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidDate, "period", o.Period.String(), err)
	}
	return nil
}

// LedgerParser turns a ledger CSV export into ledger entries.
type LedgerParser struct {
	*BaseParser
	config *LedgerParserConfig
	now    func() time.Time
}

// NewLedgerParser creates a ledger parser.
func NewLedgerParser(config *LedgerParserConfig) (*LedgerParser, error) {
	if config == nil {
		config = DefaultLedgerParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "parser", err.Error(), err)
	}
	base := DefaultParseConfig()
	base.Delimiter = config.delimiter()
	return &LedgerParser{
		BaseParser: NewBaseParser(base),
		config:     config.Clone(),
		now:        time.Now,
	}, nil
}

// WithLogger replaces the parser's logger.
func (lp *LedgerParser) WithLogger(log logger.Logger) *LedgerParser {
	lp.logger = log.WithComponent("ledger_parser")
	return lp
}

// ParseLedger parses a ledger file.
func (lp *LedgerParser) ParseLedger(ctx context.Context, filePath string, opts ImportOptions) ([]*models.LedgerEntry, *ParseStats, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	file, reader, err := lp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()
	return lp.parse(ctx, filePath, reader, opts)
}

// ParseReader parses ledger CSV from r. source names the input in errors.
func (lp *LedgerParser) ParseReader(ctx context.Context, source string, r io.Reader, opts ImportOptions) ([]*models.LedgerEntry, *ParseStats, error) {
	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}
	return lp.parse(ctx, source, lp.NewReader(r), opts)
}

func (lp *LedgerParser) parse(ctx context.Context, source string, reader *csv.Reader, opts ImportOptions) ([]*models.LedgerEntry, *ParseStats, error) {
	parseCtx := NewParseContext(ctx, source)
	stats := NewParseStats()
	start := time.Now()

	if opts.PairID == "" {
		opts.PairID = uuid.NewString()
	}
	log := lp.logger.WithFields(logger.Fields{
		"source":       source,
		"company":      opts.Company,
		"counterparty": opts.Counterparty,
		"period":       opts.Period.String(),
		"pair_id":      opts.PairID,
	})
	log.Info("Starting ledger parsing")

	required := []string{ColumnDate, ColumnNarration, ColumnDebit, ColumnCredit}
	if err := lp.ReadHeaders(reader, parseCtx, lp.config.ColumnAliases, required); err != nil {
		return nil, stats, err
	}

	inputDate := lp.now().UTC()
	var entries []*models.LedgerEntry
	var last *models.LedgerEntry
	rowNum := 0

	for {
		record, err := lp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.IsReconcilerError(err) {
				return nil, stats, err
			}
			stats.AddError(&ParseError{
				Line:    parseCtx.LineNumber,
				Message: "malformed CSV record",
				Err:     err,
			})
			continue
		}
		stats.RecordsParsed++

		dateValue := parseCtx.Field(record, ColumnDate)
		narration := parseCtx.Field(record, ColumnNarration)

		if dateValue == "" {
			// Tally wraps long particulars onto dateless rows.
			if lp.config.JoinContinuations && last != nil && narration != "" {
				last.Narration = strings.TrimSpace(last.Narration + " " + narration)
				stats.Continuations++
				continue
			}
			stats.Skipped++
			continue
		}
		if lp.config.skip(narration) {
			stats.Skipped++
			last = nil
			continue
		}

		entry, perr := lp.parseEntry(parseCtx, record, opts)
		if perr != nil {
			stats.AddError(perr)
			last = nil
			continue
		}
		rowNum++
		entry.UID = GenerateUID(opts.Company, entry.Date, entry.Amount(), rowNum)
		entry.InputDate = inputDate
		entries = append(entries, entry)
		last = entry
		stats.RecordsValid++
	}
	stats.TotalLines = parseCtx.LineNumber

	fields := logger.Fields{
		"entries":       len(entries),
		"skipped":       stats.Skipped,
		"continuations": stats.Continuations,
		"errors":        stats.ErrorCount,
		"duration_ms":   time.Since(start).Milliseconds(),
	}
	if stats.HasErrors() {
		fields["sample_errors"] = stats.GetSampleErrors(3)
		log.WithFields(fields).Warn("Ledger parsing completed with errors")
	} else {
		log.WithFields(fields).Info("Ledger parsing completed")
	}
	return entries, stats, nil
}

func (lp *LedgerParser) parseEntry(parseCtx *ParseContext, record []string, opts ImportOptions) (*models.LedgerEntry, *ParseError) {
	line := parseCtx.LineNumber

	dateValue := parseCtx.Field(record, ColumnDate)
	date, err := lp.parseDate(dateValue)
	if err != nil {
		return nil, &ParseError{Line: line, Column: parseCtx.Columns[ColumnDate] + 1, Field: ColumnDate,
			Value: dateValue, Message: "unrecognised date", Err: err}
	}

	debitValue := parseCtx.Field(record, ColumnDebit)
	debit, err := ParseAmount(debitValue)
	if err != nil {
		return nil, &ParseError{Line: line, Column: parseCtx.Columns[ColumnDebit] + 1, Field: ColumnDebit,
			Value: debitValue, Message: "invalid amount", Err: err}
	}
	creditValue := parseCtx.Field(record, ColumnCredit)
	credit, err := ParseAmount(creditValue)
	if err != nil {
		return nil, &ParseError{Line: line, Column: parseCtx.Columns[ColumnCredit] + 1, Field: ColumnCredit,
			Value: creditValue, Message: "invalid amount", Err: err}
	}
	if debit.IsPositive() == credit.IsPositive() {
		return nil, &ParseError{Line: line, Field: "debit/credit", Value: debitValue + "/" + creditValue,
			Message: "exactly one of debit or credit must be positive"}
	}

	entry := &models.LedgerEntry{
		Company:      strings.TrimSpace(opts.Company),
		Counterparty: strings.TrimSpace(opts.Counterparty),
		Period:       opts.Period,
		Date:         date,
		Narration:    parseCtx.Field(record, ColumnNarration),
		VoucherType:  parseCtx.Field(record, ColumnVoucherType),
		VoucherNo:    parseCtx.Field(record, ColumnVoucherNo),
		Debit:        debit,
		Credit:       credit,
		EnteredBy:    parseCtx.Field(record, ColumnEnteredBy),
		PairID:       opts.PairID,
		MatchStatus:  models.StatusUnmatched,
	}
	entry.DeriveRole()
	return entry, nil
}

func (lp *LedgerParser) parseDate(value string) (time.Time, error) {
	for _, layout := range lp.config.DateFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q does not match any configured format", value)
}

// ParseAmount reads a ledger amount. Blank means zero. Thousands separators,
// currency markers and a trailing Dr/Cr are ignored.
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	lower := strings.ToLower(s)
	for _, suffix := range []string{"dr", "cr"} {
		if strings.HasSuffix(lower, suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
			break
		}
	}
	for _, marker := range []string{"₹", "Rs.", "Rs", "INR", "BDT", "Tk.", "$", ","} {
		s = strings.ReplaceAll(s, marker, "")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", amount)
	}
	return amount, nil
}

// GenerateUID builds the entry id from the owning company, the entry date,
// the rounded amount and the row's position among dated rows.
func GenerateUID(company string, date time.Time, amount decimal.Decimal, rowNum int) string {
	ymd := date.Year()*10000 + int(date.Month())*100 + date.Day()
	return fmt.Sprintf("%s_%x_%x_%06d", strings.TrimSpace(company), ymd, amount.Round(0).IntPart(), rowNum)
}
