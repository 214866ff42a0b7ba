package parsers

import (
	"fmt"
	"strings"
	"time"
)

// Logical ledger columns.
const (
	ColumnDate        = "date"
	ColumnNarration   = "narration"
	ColumnVoucherType = "voucher_type"
	ColumnVoucherNo   = "voucher_no"
	ColumnDebit       = "debit"
	ColumnCredit      = "credit"
	ColumnEnteredBy   = "entered_by"
)

// LedgerParserConfig describes a ledger CSV layout.
type LedgerParserConfig struct {
	// ColumnAliases lists accepted header names per logical column, first
	// match wins.
	ColumnAliases map[string][]string `json:"column_aliases" mapstructure:"column_aliases"`
	DateFormats   []string            `json:"date_formats" mapstructure:"date_formats"`
	Delimiter     string              `json:"delimiter" mapstructure:"delimiter"`
	// SkipPrefixes drops rows whose narration starts with one of these
	// (case-insensitive).
	SkipPrefixes []string `json:"skip_prefixes" mapstructure:"skip_prefixes"`
	// JoinContinuations appends dateless rows to the previous narration.
	JoinContinuations bool `json:"join_continuations" mapstructure:"join_continuations"`
}

// DefaultLedgerParserConfig matches Tally style ledger exports.
func DefaultLedgerParserConfig() *LedgerParserConfig {
	return &LedgerParserConfig{
		ColumnAliases: map[string][]string{
			ColumnDate:        {"Date", "Txn Date", "Transaction Date", "Voucher Date"},
			ColumnNarration:   {"Particulars", "Narration", "Description", "Details"},
			ColumnVoucherType: {"Vch Type", "Voucher Type", "VchType"},
			ColumnVoucherNo:   {"Vch No.", "Vch No", "Voucher No", "Voucher Number"},
			ColumnDebit:       {"Debit", "Dr", "Debit Amount"},
			ColumnCredit:      {"Credit", "Cr", "Credit Amount"},
			ColumnEnteredBy:   {"Entered By", "EnteredBy", "User"},
		},
		DateFormats: []string{
			"2006-01-02",
			"02/01/2006",
			"2-Jan-2006",
			"2-Jan-06",
			"02-01-2006",
			"2006-01-02 15:04:05",
			"Jan 2, 2006",
		},
		Delimiter:         ",",
		SkipPrefixes:      []string{"opening balance", "closing balance"},
		JoinContinuations: true,
	}
}

// Validate checks the parser configuration.
func (c *LedgerParserConfig) Validate() error {
	for _, col := range []string{ColumnDate, ColumnNarration, ColumnDebit, ColumnCredit} {
		if len(c.ColumnAliases[col]) == 0 {
			return fmt.Errorf("no header names configured for column %q", col)
		}
	}
	if len(c.DateFormats) == 0 {
		return fmt.Errorf("at least one date format is required")
	}
	for _, layout := range c.DateFormats {
		if _, err := time.Parse(layout, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Format(layout)); err != nil {
			return fmt.Errorf("invalid date format %q: %w", layout, err)
		}
	}
	if len([]rune(c.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", c.Delimiter)
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *LedgerParserConfig) Clone() *LedgerParserConfig {
	clone := *c
	clone.ColumnAliases = make(map[string][]string, len(c.ColumnAliases))
	for k, v := range c.ColumnAliases {
		clone.ColumnAliases[k] = append([]string(nil), v...)
	}
	clone.DateFormats = append([]string(nil), c.DateFormats...)
	clone.SkipPrefixes = append([]string(nil), c.SkipPrefixes...)
	return &clone
}

func (c *LedgerParserConfig) delimiter() rune {
	return []rune(c.Delimiter)[0]
}

func (c *LedgerParserConfig) skip(narration string) bool {
	lower := strings.ToLower(strings.TrimSpace(narration))
	for _, p := range c.SkipPrefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
