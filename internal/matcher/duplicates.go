package matcher

import (
	"fmt"

	"interunit-loan-recon/internal/extractor"
	"interunit-loan-recon/internal/models"
)

// DuplicateDetectionResult represents the result of duplicate detection
type DuplicateDetectionResult struct {
	Groups []DuplicateGroup `json:"groups"`
}

// Entries returns the number of entries that belong to some group.
func (r *DuplicateDetectionResult) Entries() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Entries)
	}
	return n
}

// DuplicateGroup is a set of entries from one ledger that look like the same
// posting entered more than once. Duplicates compete for the same
// counterpart, so only one of them can ever match.
type DuplicateGroup struct {
	Entries    []*models.LedgerEntry `json:"entries"`
	GroupID    string                `json:"group_id"`
	Confidence float64               `json:"confidence"`
	Reason     string                `json:"reason"`
}

// duplicateNarrationThreshold is the narration similarity above which two
// same-day, same-amount postings are reported.
const duplicateNarrationThreshold = 0.8

// DetectDuplicates finds entries in the same owner's ledger with the same
// side, amount and date and near-identical narrations.
func DetectDuplicates(entries []*models.LedgerEntry) *DuplicateDetectionResult {
	var groups []DuplicateGroup
	processed := make(map[string]bool)
	tokens := make(map[string]extractor.TokenSet, len(entries))
	for _, e := range entries {
		tokens[e.UID] = extractor.NewTokenSet(e.Narration)
	}

	for i, e1 := range entries {
		if processed[e1.UID] {
			continue
		}

		duplicates := []*models.LedgerEntry{e1}
		for j := i + 1; j < len(entries); j++ {
			e2 := entries[j]
			if processed[e2.UID] {
				continue
			}
			if isPotentialDuplicate(e1, e2, tokens) {
				duplicates = append(duplicates, e2)
				processed[e2.UID] = true
			}
		}

		if len(duplicates) > 1 {
			groups = append(groups, DuplicateGroup{
				Entries:    duplicates,
				GroupID:    fmt.Sprintf("DUP_%s", e1.UID),
				Confidence: duplicateConfidence(duplicates, tokens),
				Reason: fmt.Sprintf("%d %s entries in %s's ledger for %s on %s with matching narration",
					len(duplicates), e1.Role, e1.Company, e1.Amount().StringFixed(2), e1.Date.Format("2006-01-02")),
			})
		}
		processed[e1.UID] = true
	}

	return &DuplicateDetectionResult{Groups: groups}
}

func isPotentialDuplicate(a, b *models.LedgerEntry, tokens map[string]extractor.TokenSet) bool {
	if a.UID == b.UID || a.Company != b.Company || a.Role != b.Role {
		return false
	}
	if !a.Amount().Equal(b.Amount()) || !sameDay(a, b) {
		return false
	}
	return extractor.Jaccard(tokens[a.UID], tokens[b.UID]) >= duplicateNarrationThreshold ||
		a.Narration == b.Narration
}

// duplicateConfidence averages narration similarity against the first entry,
// with a bonus when the voucher numbers also agree.
func duplicateConfidence(group []*models.LedgerEntry, tokens map[string]extractor.TokenSet) float64 {
	if len(group) < 2 {
		return 0.0
	}
	ref := group[0]
	total := 0.0
	for _, e := range group[1:] {
		score := 0.8 * extractor.Jaccard(tokens[ref.UID], tokens[e.UID])
		if ref.Narration == e.Narration {
			score = 0.8
		}
		if ref.VoucherNo != "" && ref.VoucherNo == e.VoucherNo {
			score += 0.2
		}
		total += score
	}
	return total / float64(len(group)-1)
}

func sameDay(a, b *models.LedgerEntry) bool {
	ay, am, ad := a.Date.Date()
	by, bm, bd := b.Date.Date()
	return ay == by && am == bm && ad == bd
}
