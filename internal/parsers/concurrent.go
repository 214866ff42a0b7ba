package parsers

import (
	"context"
	"sync"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"

	"github.com/google/uuid"
)

// PairUpload is the two ledger exports of one interunit loan account: each
// company's view of the other.
type PairUpload struct {
	Lender       string
	Borrower     string
	Period       models.Period
	LenderFile   string
	BorrowerFile string
}

// PairParseResult holds one side of a pair upload.
type PairParseResult struct {
	FilePath string
	Company  string
	Entries  []*models.LedgerEntry
	Stats    *ParseStats
	Error    error
}

// PairResult is a parsed upload pair sharing one pair id.
type PairResult struct {
	PairID   string
	Lender   PairParseResult
	Borrower PairParseResult
}

// Entries returns both sides' entries.
func (r *PairResult) Entries() []*models.LedgerEntry {
	out := make([]*models.LedgerEntry, 0, len(r.Lender.Entries)+len(r.Borrower.Entries))
	out = append(out, r.Lender.Entries...)
	return append(out, r.Borrower.Entries...)
}

// ConcurrentParser parses several ledger files at once.
type ConcurrentParser struct {
	parser    *LedgerParser
	semaphore chan struct{}
}

// NewConcurrentParser creates a concurrent parser.
func NewConcurrentParser(parser *LedgerParser, maxConcurrency int) *ConcurrentParser {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ConcurrentParser{
		parser:    parser,
		semaphore: make(chan struct{}, maxConcurrency),
	}
}

// ParsePair parses both sides of an upload pair in parallel. Both files get
// the same pair id. The first failing side's error is returned.
func (cp *ConcurrentParser) ParsePair(ctx context.Context, upload PairUpload) (*PairResult, error) {
	result := &PairResult{
		PairID:   uuid.NewString(),
		Lender:   PairParseResult{FilePath: upload.LenderFile, Company: upload.Lender},
		Borrower: PairParseResult{FilePath: upload.BorrowerFile, Company: upload.Borrower},
	}

	var wg sync.WaitGroup
	for _, side := range []*PairParseResult{&result.Lender, &result.Borrower} {
		counterparty := upload.Borrower
		if side.Company == upload.Borrower {
			counterparty = upload.Lender
		}
		opts := ImportOptions{
			Company:      side.Company,
			Counterparty: counterparty,
			Period:       upload.Period,
			PairID:       result.PairID,
		}
		wg.Add(1)
		go func(side *PairParseResult, opts ImportOptions) {
			defer wg.Done()

			select {
			case cp.semaphore <- struct{}{}:
			case <-ctx.Done():
				side.Error = errors.InternalError(errors.CodeUnexpectedError, "ledger_parsing", ctx.Err())
				return
			}
			defer func() { <-cp.semaphore }()

			side.Entries, side.Stats, side.Error = cp.parser.ParseLedger(ctx, side.FilePath, opts)
		}(side, opts)
	}
	wg.Wait()

	if result.Lender.Error != nil {
		return result, result.Lender.Error
	}
	if result.Borrower.Error != nil {
		return result, result.Borrower.Error
	}
	return result, nil
}

// ParseFiles parses independent ledger files concurrently. Results arrive in
// completion order and the channel closes when all are done.
func (cp *ConcurrentParser) ParseFiles(ctx context.Context, files map[string]ImportOptions) <-chan *PairParseResult {
	results := make(chan *PairParseResult, len(files))

	var wg sync.WaitGroup
	for filePath, opts := range files {
		wg.Add(1)
		go func(path string, opts ImportOptions) {
			defer wg.Done()

			cp.semaphore <- struct{}{}
			defer func() { <-cp.semaphore }()

			result := &PairParseResult{FilePath: path, Company: opts.Company}
			result.Entries, result.Stats, result.Error = cp.parser.ParseLedger(ctx, path, opts)
			results <- result
		}(filePath, opts)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}
