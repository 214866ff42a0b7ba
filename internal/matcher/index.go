package matcher

import (
	"sort"
	"strings"

	"interunit-loan-recon/internal/extractor"
	"interunit-loan-recon/internal/models"

	"github.com/shopspring/decimal"
)

// Candidate is an unmatched entry with its narration analysis precomputed.
type Candidate struct {
	Entry *models.LedgerEntry

	// Ref is the highest-precedence reference in the narration.
	Ref *extractor.Reference
	// Refs holds every reference that fired, used to detect contradictions.
	Refs []*extractor.Reference

	Tokens  extractor.TokenSet
	Account *extractor.AccountReference
}

func newCandidate(e *models.LedgerEntry) *Candidate {
	refs := extractor.ExtractAll(e.Narration)
	c := &Candidate{
		Entry:   e,
		Refs:    refs,
		Tokens:  extractor.NewTokenSet(e.Narration),
		Account: extractor.ExtractAccountReference(e.Narration),
	}
	if len(refs) > 0 {
		c.Ref = refs[0]
	}
	return c
}

// refKey is the equality key for deterministic reference matching.
func refKey(r *extractor.Reference) string {
	return string(r.Kind) + "|" + r.Value
}

// AmountIndexEntry groups borrower candidates sharing one amount.
type AmountIndexEntry struct {
	Amount     decimal.Decimal
	Candidates []*Candidate
}

// CandidateIndex indexes the unmatched entries of one scope. Lenders are
// kept in processing order, borrowers by amount and by reference key.
// Claim marks both sides of a match so no later lookup returns them.
type CandidateIndex struct {
	config *MatchingConfig

	lenders []*Candidate

	// AmountRangeIndex holds borrowers sorted by amount for range lookups.
	AmountRangeIndex []*AmountIndexEntry
	// ReferenceIndex maps kind|value of each borrower's primary reference.
	ReferenceIndex map[string][]*Candidate

	claimed map[string]bool
	skipped int
}

// IndexStats describes what was indexed.
type IndexStats struct {
	Lenders       int `json:"lenders"`
	Borrowers     int `json:"borrowers"`
	UniqueAmounts int `json:"unique_amounts"`
	References    int `json:"references"`
	Skipped       int `json:"skipped"`
	Claimed       int `json:"claimed"`
}

// NewCandidateIndex builds the index from the entries of one scope. Entries
// that are not unmatched are skipped.
func NewCandidateIndex(entries []*models.LedgerEntry, config *MatchingConfig) *CandidateIndex {
	ci := &CandidateIndex{
		config:         config,
		ReferenceIndex: make(map[string][]*Candidate),
		claimed:        make(map[string]bool),
	}

	amountMap := make(map[string]*AmountIndexEntry)
	for _, e := range entries {
		if e == nil || e.MatchStatus.IsActive() {
			ci.skipped++
			continue
		}
		switch {
		case e.IsDebit():
			ci.lenders = append(ci.lenders, newCandidate(e))
		case e.IsCredit():
			c := newCandidate(e)
			key := e.Credit.String()
			if entry, ok := amountMap[key]; ok {
				entry.Candidates = append(entry.Candidates, c)
			} else {
				amountMap[key] = &AmountIndexEntry{Amount: e.Credit, Candidates: []*Candidate{c}}
			}
			if c.Ref.Deterministic() {
				ci.ReferenceIndex[refKey(c.Ref)] = append(ci.ReferenceIndex[refKey(c.Ref)], c)
			}
		default:
			ci.skipped++
		}
	}

	sort.Slice(ci.lenders, func(i, j int) bool {
		return lessByDateUID(ci.lenders[i].Entry, ci.lenders[j].Entry)
	})

	ci.AmountRangeIndex = make([]*AmountIndexEntry, 0, len(amountMap))
	for _, entry := range amountMap {
		sort.Slice(entry.Candidates, func(i, j int) bool {
			return lessByDateUID(entry.Candidates[i].Entry, entry.Candidates[j].Entry)
		})
		ci.AmountRangeIndex = append(ci.AmountRangeIndex, entry)
	}
	sort.Slice(ci.AmountRangeIndex, func(i, j int) bool {
		return ci.AmountRangeIndex[i].Amount.LessThan(ci.AmountRangeIndex[j].Amount)
	})

	return ci
}

func lessByDateUID(a, b *models.LedgerEntry) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.UID < b.UID
}

// Open reports whether the entry has not been claimed in this run.
func (ci *CandidateIndex) Open(uid string) bool {
	return !ci.claimed[uid]
}

// Claim removes both entries from every later lookup.
func (ci *CandidateIndex) Claim(lender, borrower *Candidate) {
	ci.claimed[lender.Entry.UID] = true
	ci.claimed[borrower.Entry.UID] = true
}

// OpenLenders returns unclaimed lenders ordered by date then uid.
func (ci *CandidateIndex) OpenLenders() []*Candidate {
	out := make([]*Candidate, 0, len(ci.lenders))
	for _, l := range ci.lenders {
		if ci.Open(l.Entry.UID) {
			out = append(out, l)
		}
	}
	return out
}

// GetByAmountRange returns unclaimed borrowers with amounts in [min, max].
func (ci *CandidateIndex) GetByAmountRange(minAmount, maxAmount decimal.Decimal) []*Candidate {
	var result []*Candidate

	startIdx := sort.Search(len(ci.AmountRangeIndex), func(i int) bool {
		return ci.AmountRangeIndex[i].Amount.GreaterThanOrEqual(minAmount)
	})

	for i := startIdx; i < len(ci.AmountRangeIndex); i++ {
		entry := ci.AmountRangeIndex[i]
		if entry.Amount.GreaterThan(maxAmount) {
			break
		}
		for _, c := range entry.Candidates {
			if ci.Open(c.Entry.UID) {
				result = append(result, c)
			}
		}
	}

	return result
}

// GetCandidates returns the unclaimed borrowers a lender may pair with:
// amount within tolerance, same period, same lending direction and, when
// configured, a different owning ledger.
func (ci *CandidateIndex) GetCandidates(lender *Candidate) []*Candidate {
	amount := lender.Entry.Debit
	tolerance := ci.config.AmountTolerance
	var out []*Candidate
	for _, c := range ci.GetByAmountRange(amount.Sub(tolerance), amount.Add(tolerance)) {
		if ci.Compatible(lender, c) {
			out = append(out, c)
		}
	}
	return out
}

// GetByReference returns unclaimed borrowers carrying the same deterministic
// reference as r, ignoring amounts.
func (ci *CandidateIndex) GetByReference(lender *Candidate, r *extractor.Reference) []*Candidate {
	var out []*Candidate
	for _, c := range ci.ReferenceIndex[refKey(r)] {
		if ci.Open(c.Entry.UID) && ci.Compatible(lender, c) {
			out = append(out, c)
		}
	}
	return out
}

// Compatible checks every pairing rule except the amount.
func (ci *CandidateIndex) Compatible(lender, borrower *Candidate) bool {
	l, b := lender.Entry, borrower.Entry
	if l.UID == b.UID || !l.IsDebit() || !b.IsCredit() {
		return false
	}
	if l.Period != b.Period {
		return false
	}
	if !strings.EqualFold(l.Lender, b.Lender) || !strings.EqualFold(l.Borrower, b.Borrower) {
		return false
	}
	if ci.config.RequireDistinctOwners && l.Company != "" && strings.EqualFold(l.Company, b.Company) {
		return false
	}
	return true
}

// GetIndexStats returns index statistics
func (ci *CandidateIndex) GetIndexStats() IndexStats {
	borrowers := 0
	for _, entry := range ci.AmountRangeIndex {
		borrowers += len(entry.Candidates)
	}
	return IndexStats{
		Lenders:       len(ci.lenders),
		Borrowers:     borrowers,
		UniqueAmounts: len(ci.AmountRangeIndex),
		References:    len(ci.ReferenceIndex),
		Skipped:       ci.skipped,
		Claimed:       len(ci.claimed),
	}
}
