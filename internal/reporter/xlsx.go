package reporter

import (
	"fmt"
	"io"

	"interunit-loan-recon/internal/reconciler"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const summarySheet = "Summary"

// amountColumn is the index of Amount within an entry record.
const amountColumn = 7

func (rg *ReportGenerator) generateXLSXReport(report *reconciler.ScopeReport, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	s := report.Summary
	summary := [][]interface{}{
		{"Scope", report.Scope.String()},
		{"Entries", s.Entries},
		{"Confirmed pairs", s.ConfirmedPairs},
		{"Pending pairs", s.PendingPairs},
		{"Unmatched", s.Unmatched},
		{"Unmatched lent", s.UnmatchedLent.InexactFloat64()},
		{"Unmatched borrowed", s.UnmatchedBorrowed.InexactFloat64()},
		{"Match rate", s.MatchRate},
	}
	for _, t := range sortedTypes(s.ByType) {
		summary = append(summary, []interface{}{string(t), s.ByType[t]})
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}
	if err := f.SetColWidth(summarySheet, "A", "B", 24); err != nil {
		return err
	}

	for _, sec := range rg.sections(report) {
		if _, err := f.NewSheet(sec.name); err != nil {
			return fmt.Errorf("failed to create %s sheet: %w", sec.name, err)
		}
		rows := make([][]interface{}, 0, len(sec.rows)+1)
		rows = append(rows, toRow(entryHeaders[1:]))
		for _, record := range sec.rows {
			row := toRow(record)
			if amount, err := decimal.NewFromString(record[amountColumn]); err == nil {
				row[amountColumn] = amount.InexactFloat64()
			}
			rows = append(rows, row)
		}
		if err := writeRows(f, sec.name, rows); err != nil {
			return err
		}
		if err := f.SetRowStyle(sec.name, 1, 1, header); err != nil {
			return err
		}
		if err := f.SetColWidth(sec.name, "A", "N", 18); err != nil {
			return err
		}
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func (rg *ReportGenerator) generateBatchXLSX(batch *reconciler.BatchResult, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	rows := [][]interface{}{toRow(batchHeaders)}
	for _, record := range batchRecords(batch) {
		rows = append(rows, toRow(record))
	}
	if err := writeRows(f, summarySheet, rows); err != nil {
		return err
	}
	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
