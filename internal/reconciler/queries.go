package reconciler

import (
	"context"

	"interunit-loan-recon/internal/matcher"
	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/internal/store"
	"interunit-loan-recon/pkg/errors"
	"interunit-loan-recon/pkg/logger"

	"github.com/shopspring/decimal"
)

// Selector narrows a listing to a company pair and period, or to the
// entries of one upload pair. Zero fields match everything.
type Selector struct {
	Pair   *models.CompanyPair
	Period *models.Period
	PairID string
	Limit  int
}

// ScopeSelector selects exactly one scope.
func ScopeSelector(scope models.Scope) Selector {
	pair, period := scope.Pair, scope.Period
	return Selector{Pair: &pair, Period: &period}
}

func (s Selector) filter(statuses ...models.MatchStatus) store.Filter {
	return store.Filter{Pair: s.Pair, Period: s.Period, PairID: s.PairID, Statuses: statuses, Limit: s.Limit}
}

// MatchedEntries returns matched and confirmed entries.
func (rs *ReconciliationService) MatchedEntries(ctx context.Context, sel Selector) ([]*models.LedgerEntry, error) {
	return rs.list(ctx, "matched entries", sel.filter(models.StatusMatched, models.StatusConfirmed))
}

// PendingMatches returns entries awaiting review.
func (rs *ReconciliationService) PendingMatches(ctx context.Context, sel Selector) ([]*models.LedgerEntry, error) {
	return rs.list(ctx, "pending matches", sel.filter(models.StatusMatched))
}

// ConfirmedMatches returns entries confirmed by a reviewer or by the system.
func (rs *ReconciliationService) ConfirmedMatches(ctx context.Context, sel Selector) ([]*models.LedgerEntry, error) {
	return rs.list(ctx, "confirmed matches", sel.filter(models.StatusConfirmed))
}

// AutoMatched returns entries the system confirmed without review.
func (rs *ReconciliationService) AutoMatched(ctx context.Context, sel Selector) ([]*models.LedgerEntry, error) {
	f := sel.filter(models.StatusConfirmed)
	f.Methods = []models.MatchMethod{models.MethodReference, models.MethodCrossReference}
	limit := f.Limit
	f.Limit = 0

	entries, err := rs.list(ctx, "auto matched", f)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.MatchType.AutoAccepted() {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UnmatchedEntries returns entries still in the pool.
func (rs *ReconciliationService) UnmatchedEntries(ctx context.Context, sel Selector) ([]*models.LedgerEntry, error) {
	return rs.list(ctx, "unmatched entries", sel.filter(models.StatusUnmatched))
}

// PairEntries returns every entry of one upload pair, or not_found when the
// pair id is unknown.
func (rs *ReconciliationService) PairEntries(ctx context.Context, pairID string) ([]*models.LedgerEntry, error) {
	entries, err := rs.list(ctx, "pair entries", store.Filter{PairID: pairID})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.PairNotFound(pairID)
	}
	return entries, nil
}

// PairIDs lists the upload pair ids in the store.
func (rs *ReconciliationService) PairIDs(ctx context.Context) ([]string, error) {
	ids, err := rs.store.PairIDs(ctx)
	if err != nil {
		return nil, wrapStorage("pair ids", err)
	}
	return ids, nil
}

// GetEntry returns one entry.
func (rs *ReconciliationService) GetEntry(ctx context.Context, uid string) (*models.LedgerEntry, error) {
	e, err := rs.store.Get(ctx, uid)
	if err != nil {
		return nil, wrapStorage("get entry", err)
	}
	return e, nil
}

func (rs *ReconciliationService) list(ctx context.Context, operation string, f store.Filter) ([]*models.LedgerEntry, error) {
	entries, err := rs.store.List(ctx, f)
	if err != nil {
		return nil, wrapStorage(operation, err)
	}
	return entries, nil
}

// CompanyPairs lists pair periods with per-status counts.
func (rs *ReconciliationService) CompanyPairs(ctx context.Context, filter store.PairFilter) ([]models.PairPeriod, error) {
	pairs, err := rs.store.CompanyPairs(ctx, filter)
	if err != nil {
		return nil, wrapStorage("company pairs", err)
	}
	return pairs, nil
}

// Ingest stores newly imported entries. Duplicate uids reject the batch.
func (rs *ReconciliationService) Ingest(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	n, err := rs.store.Insert(ctx, entries)
	if err != nil {
		rs.logger.WithError(err).WithField("entries", len(entries)).Error("Ledger import rejected")
		return 0, wrapStorage("insert", err)
	}
	if rs.config.DetectDuplicates {
		if dups := matcher.DetectDuplicates(entries); len(dups.Groups) > 0 {
			rs.logger.WithFields(logger.Fields{
				"groups":  len(dups.Groups),
				"entries": dups.Entries(),
			}).Warn("Imported ledger contains possible duplicate postings")
		}
	}
	rs.logger.WithField("entries", n).Info("Ledger entries imported")
	return n, nil
}

// ResetScope returns the matches of one scope to the pool.
func (rs *ReconciliationService) ResetScope(ctx context.Context, scope models.Scope) (int, error) {
	release, err := rs.locker.Acquire(ctx, scope.Key())
	if err != nil {
		return 0, err
	}
	defer release()

	n, err := rs.store.ResetScope(ctx, scope)
	if err != nil {
		return 0, wrapStorage("reset scope", err)
	}
	rs.logger.WithScope(scope.Key()).WithField("entries", n).Info("Scope matches reset")
	return n, nil
}

// ResetAll returns every match to the pool.
func (rs *ReconciliationService) ResetAll(ctx context.Context) (int, error) {
	n, err := rs.store.ResetAll(ctx)
	if err != nil {
		return 0, wrapStorage("reset all", err)
	}
	rs.logger.WithField("entries", n).Info("All matches reset")
	return n, nil
}

// Truncate deletes every ledger entry.
func (rs *ReconciliationService) Truncate(ctx context.Context) error {
	if err := rs.store.Truncate(ctx); err != nil {
		return wrapStorage("truncate", err)
	}
	rs.logger.Warn("Ledger truncated")
	return nil
}

// Pairing is both sides of one match as stored.
type Pairing struct {
	Lender   *models.LedgerEntry `json:"lender"`
	Borrower *models.LedgerEntry `json:"borrower"`
}

// Type returns the match type of the pairing.
func (p Pairing) Type() models.MatchType { return p.Lender.MatchType }

// Status returns the shared status of both sides.
func (p Pairing) Status() models.MatchStatus { return p.Lender.MatchStatus }

// AmountDifference returns the absolute gap between the two sides.
func (p Pairing) AmountDifference() decimal.Decimal {
	return p.Lender.Amount().Sub(p.Borrower.Amount()).Abs()
}

// ScopeReport is the match state of one scope.
type ScopeReport struct {
	Scope     models.Scope          `json:"scope"`
	Confirmed []Pairing             `json:"confirmed"`
	Pending   []Pairing             `json:"pending"`
	Unmatched []*models.LedgerEntry `json:"unmatched"`
	Summary   ReportSummary         `json:"summary"`
}

// ReportSummary holds totals for a ScopeReport.
type ReportSummary struct {
	Entries           int                      `json:"entries"`
	ConfirmedPairs    int                      `json:"confirmed_pairs"`
	PendingPairs      int                      `json:"pending_pairs"`
	Unmatched         int                      `json:"unmatched"`
	UnmatchedLent     decimal.Decimal          `json:"unmatched_lent"`
	UnmatchedBorrowed decimal.Decimal          `json:"unmatched_borrowed"`
	MatchRate         float64                  `json:"match_rate"`
	ByType            map[models.MatchType]int `json:"by_type"`
}

// Report builds the match state of a scope. A pairing whose counterpart lies
// outside the scope is looked up directly.
func (rs *ReconciliationService) Report(ctx context.Context, scope models.Scope) (*ScopeReport, error) {
	entries, err := rs.list(ctx, "report", store.ScopeFilter(scope))
	if err != nil {
		return nil, err
	}

	report := &ScopeReport{
		Scope: scope,
		Summary: ReportSummary{
			Entries: len(entries),
			ByType:  make(map[models.MatchType]int),
		},
	}
	byUID := make(map[string]*models.LedgerEntry, len(entries))
	for _, e := range entries {
		byUID[e.UID] = e
	}

	for _, e := range entries {
		if !e.MatchStatus.IsActive() {
			report.Unmatched = append(report.Unmatched, e)
			if e.IsDebit() {
				report.Summary.UnmatchedLent = report.Summary.UnmatchedLent.Add(e.Amount())
			} else {
				report.Summary.UnmatchedBorrowed = report.Summary.UnmatchedBorrowed.Add(e.Amount())
			}
			continue
		}
		c, inScope := byUID[e.MatchedWith]
		if !e.IsDebit() && inScope {
			continue
		}
		if !inScope {
			if c, err = rs.GetEntry(ctx, e.MatchedWith); err != nil {
				return nil, err
			}
		}
		p := Pairing{Lender: e, Borrower: c}
		if !e.IsDebit() {
			p = Pairing{Lender: c, Borrower: e}
		}
		report.Summary.ByType[e.MatchType]++
		if e.MatchStatus == models.StatusConfirmed {
			report.Confirmed = append(report.Confirmed, p)
		} else {
			report.Pending = append(report.Pending, p)
		}
	}

	report.Summary.ConfirmedPairs = len(report.Confirmed)
	report.Summary.PendingPairs = len(report.Pending)
	report.Summary.Unmatched = len(report.Unmatched)
	if report.Summary.Entries > 0 {
		report.Summary.MatchRate = float64(report.Summary.Entries-report.Summary.Unmatched) / float64(report.Summary.Entries)
	}
	return report, nil
}
