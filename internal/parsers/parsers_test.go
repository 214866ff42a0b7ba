package parsers

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/shopspring/decimal"
)

const acmeLedger = `Date,Particulars,Vch Type,Vch No.,Debit,Credit,Entered By
2024-03-01,Opening Balance,,,,"10,000.00",
2024-03-05,Loan paid to BETA against PO-4521,Payment,P-1,"1,50,000.00",,alice
,for raw material,,,,,
05/03/2024,Refund received,Receipt,R-7,,2500 Cr,bob
2024-03-31,Closing Balance,,,"1,000.00",,
bad-date,Something,,,100,,
`

const betaLedger = `Narration,Txn Date,Dr,Cr
Loan received from ACME PO-4521,2024-03-06,,150000
`

// Helper function to create temporary CSV file
func createTempCSVFile(t *testing.T, content string) string {
	tmpFile, err := os.CreateTemp(t.TempDir(), "ledger_*.csv")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		t.Fatalf("Failed to write temp file: %v", err)
	}
	tmpFile.Close()
	return tmpFile.Name()
}

func newTestParser(t *testing.T) *LedgerParser {
	t.Helper()
	parser, err := NewLedgerParser(nil)
	if err != nil {
		t.Fatalf("NewLedgerParser() error = %v", err)
	}
	parser.WithLogger(logger.Discard())
	parser.now = func() time.Time { return time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC) }
	return parser
}

func march2024() models.Period {
	return models.Period{Month: time.March, Year: 2024}
}

func TestParseError(t *testing.T) {
	err := &ParseError{
		Line:    5,
		Column:  3,
		Field:   "debit",
		Value:   "invalid",
		Message: "invalid amount",
	}

	expected := "parse error at line 5, column 3 (debit='invalid'): invalid amount"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestLedgerParserConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*LedgerParserConfig)
		wantErr bool
	}{
		{name: "default config", modify: func(*LedgerParserConfig) {}},
		{
			name:    "missing debit aliases",
			modify:  func(c *LedgerParserConfig) { delete(c.ColumnAliases, ColumnDebit) },
			wantErr: true,
		},
		{
			name:    "no date formats",
			modify:  func(c *LedgerParserConfig) { c.DateFormats = nil },
			wantErr: true,
		},
		{
			name:    "multi character delimiter",
			modify:  func(c *LedgerParserConfig) { c.Delimiter = ";;" },
			wantErr: true,
		},
		{
			name:   "semicolon delimiter",
			modify: func(c *LedgerParserConfig) { c.Delimiter = ";" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultLedgerParserConfig()
			tt.modify(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLedgerParserConfig_Clone(t *testing.T) {
	original := DefaultLedgerParserConfig()
	clone := original.Clone()
	clone.ColumnAliases[ColumnDate][0] = "Changed"
	clone.SkipPrefixes = append(clone.SkipPrefixes, "brought forward")

	if original.ColumnAliases[ColumnDate][0] != "Date" {
		t.Error("Clone shares column aliases with the original")
	}
	if len(original.SkipPrefixes) != 2 {
		t.Error("Clone shares skip prefixes with the original")
	}
}

func TestImportOptions_Validate(t *testing.T) {
	tests := []struct {
		name     string
		opts     ImportOptions
		wantCode errors.ErrorCode
	}{
		{name: "valid", opts: ImportOptions{Company: "ACME", Counterparty: "BETA", Period: march2024()}},
		{name: "missing company", opts: ImportOptions{Counterparty: "BETA", Period: march2024()}, wantCode: errors.CodeMissingField},
		{name: "missing counterparty", opts: ImportOptions{Company: "ACME", Period: march2024()}, wantCode: errors.CodeMissingField},
		{name: "same company", opts: ImportOptions{Company: "ACME", Counterparty: "acme", Period: march2024()}, wantCode: errors.CodeInvalidData},
		{name: "no period", opts: ImportOptions{Company: "ACME", Counterparty: "BETA"}, wantCode: errors.CodeInvalidDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("Validate() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "", want: "0"},
		{input: "-", want: "0"},
		{input: "1500", want: "1500"},
		{input: "1,50,000.00", want: "150000"},
		{input: "₹ 2,500.50", want: "2500.5"},
		{input: "Rs. 99", want: "99"},
		{input: "1,000.00 Dr", want: "1000"},
		{input: "750Cr", want: "750"},
		{input: "-10", wantErr: true},
		{input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestGenerateUID(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	got := GenerateUID("ACME", date, decimal.RequireFromString("149999.6"), 1)
	if want := "ACME_134d7b1_249f0_000001"; got != want {
		t.Errorf("GenerateUID() = %q, want %q", got, want)
	}
}

func TestParseLedger(t *testing.T) {
	parser := newTestParser(t)
	path := createTempCSVFile(t, acmeLedger)

	entries, stats, err := parser.ParseLedger(context.Background(), path, ImportOptions{
		Company: "ACME", Counterparty: "BETA", Period: march2024(), PairID: "pair-1",
	})
	if err != nil {
		t.Fatalf("ParseLedger() error = %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if stats.RecordsParsed != 6 || stats.RecordsValid != 2 || stats.Skipped != 2 ||
		stats.Continuations != 1 || stats.ErrorCount != 1 {
		t.Errorf("Unexpected stats: %s", stats)
	}
	if stats.Errors[0].Field != ColumnDate || stats.Errors[0].Line != 7 {
		t.Errorf("Unexpected parse error: %v", stats.Errors[0])
	}

	loan := entries[0]
	if loan.UID != "ACME_134d7b1_249f0_000001" {
		t.Errorf("loan uid = %q", loan.UID)
	}
	if loan.Narration != "Loan paid to BETA against PO-4521 for raw material" {
		t.Errorf("Continuation row not joined: %q", loan.Narration)
	}
	if loan.Role != models.RoleLender || loan.Lender != "ACME" || loan.Borrower != "BETA" {
		t.Errorf("loan role = %s %s->%s", loan.Role, loan.Lender, loan.Borrower)
	}
	if !loan.Debit.Equal(decimal.NewFromInt(150000)) || !loan.Credit.IsZero() {
		t.Errorf("loan amounts = %s / %s", loan.Debit, loan.Credit)
	}
	if loan.VoucherType != "Payment" || loan.VoucherNo != "P-1" || loan.EnteredBy != "alice" {
		t.Errorf("loan voucher fields = %q %q %q", loan.VoucherType, loan.VoucherNo, loan.EnteredBy)
	}
	if loan.PairID != "pair-1" || loan.MatchStatus != models.StatusUnmatched {
		t.Errorf("loan pair/status = %q %q", loan.PairID, loan.MatchStatus)
	}
	if !loan.InputDate.Equal(time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("loan input date = %v", loan.InputDate)
	}

	refund := entries[1]
	if refund.UID != "ACME_134d7b1_9c4_000002" {
		t.Errorf("refund uid = %q", refund.UID)
	}
	if refund.Role != models.RoleBorrower || refund.Lender != "BETA" || refund.Borrower != "ACME" {
		t.Errorf("refund role = %s %s->%s", refund.Role, refund.Lender, refund.Borrower)
	}
	if !refund.Date.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("refund date = %v", refund.Date)
	}

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			t.Errorf("entry %s does not validate: %v", e.UID, err)
		}
	}
}

func TestParseLedger_Errors(t *testing.T) {
	parser := newTestParser(t)
	opts := ImportOptions{Company: "ACME", Counterparty: "BETA", Period: march2024()}

	tests := []struct {
		name     string
		path     func(t *testing.T) string
		wantCode errors.ErrorCode
	}{
		{
			name:     "missing file",
			path:     func(t *testing.T) string { return t.TempDir() + "/nope.csv" },
			wantCode: errors.CodeFileNotFound,
		},
		{
			name:     "empty file",
			path:     func(t *testing.T) string { return createTempCSVFile(t, "") },
			wantCode: errors.CodeMissingField,
		},
		{
			name:     "missing credit column",
			path:     func(t *testing.T) string { return createTempCSVFile(t, "Date,Particulars,Debit\n2024-03-01,x,1\n") },
			wantCode: errors.CodeMissingColumn,
		},
		{
			name:     "invalid encoding",
			path:     func(t *testing.T) string { return createTempCSVFile(t, "Date,Particulars,Debit,Credit\n\xff\xfe,x,1,\n") },
			wantCode: errors.CodeInvalidFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parser.ParseLedger(context.Background(), tt.path(t), opts)
			if !errors.IsCode(err, tt.wantCode) {
				t.Errorf("ParseLedger() error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestParseReader_HeaderAliases(t *testing.T) {
	parser := newTestParser(t)
	entries, _, err := parser.ParseReader(context.Background(), "upload", strings.NewReader(betaLedger),
		ImportOptions{Company: "BETA", Counterparty: "ACME", Period: march2024()})
	if err != nil {
		t.Fatalf("ParseReader() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Role != models.RoleBorrower || e.Lender != "ACME" || e.Borrower != "BETA" {
		t.Errorf("entry role = %s %s->%s", e.Role, e.Lender, e.Borrower)
	}
	if e.PairID == "" {
		t.Error("Expected a generated pair id")
	}
}

func TestParseReader_Cancelled(t *testing.T) {
	parser := newTestParser(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := parser.ParseReader(ctx, "upload", strings.NewReader(betaLedger),
		ImportOptions{Company: "BETA", Counterparty: "ACME", Period: march2024()})
	if !errors.IsCode(err, errors.CodeUnexpectedError) {
		t.Errorf("Expected cancellation error, got %v", err)
	}
}

func TestConcurrentParser_ParsePair(t *testing.T) {
	cp := NewConcurrentParser(newTestParser(t), 2)

	result, err := cp.ParsePair(context.Background(), PairUpload{
		Lender:       "ACME",
		Borrower:     "BETA",
		Period:       march2024(),
		LenderFile:   createTempCSVFile(t, acmeLedger),
		BorrowerFile: createTempCSVFile(t, betaLedger),
	})
	if err != nil {
		t.Fatalf("ParsePair() error = %v", err)
	}

	entries := result.Entries()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.PairID != result.PairID {
			t.Errorf("entry %s pair id = %q, want %q", e.UID, e.PairID, result.PairID)
		}
	}
	if got := result.Borrower.Entries[0].Counterparty; got != "ACME" {
		t.Errorf("borrower side counterparty = %q", got)
	}
}

func TestConcurrentParser_ParsePairFailure(t *testing.T) {
	cp := NewConcurrentParser(newTestParser(t), 0)

	_, err := cp.ParsePair(context.Background(), PairUpload{
		Lender:       "ACME",
		Borrower:     "BETA",
		Period:       march2024(),
		LenderFile:   createTempCSVFile(t, acmeLedger),
		BorrowerFile: t.TempDir() + "/missing.csv",
	})
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected file not found, got %v", err)
	}
}

func TestConcurrentParser_ParseFiles(t *testing.T) {
	cp := NewConcurrentParser(newTestParser(t), 2)
	files := map[string]ImportOptions{
		createTempCSVFile(t, acmeLedger): {Company: "ACME", Counterparty: "BETA", Period: march2024()},
		createTempCSVFile(t, betaLedger): {Company: "BETA", Counterparty: "ACME", Period: march2024()},
	}

	total := 0
	for result := range cp.ParseFiles(context.Background(), files) {
		if result.Error != nil {
			t.Errorf("ParseFiles(%s) error = %v", result.FilePath, result.Error)
		}
		total += len(result.Entries)
	}
	if total != 3 {
		t.Errorf("Expected 3 entries in total, got %d", total)
	}
}
