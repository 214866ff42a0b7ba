package matcher

import (
	"testing"

	"interunit-loan-recon/internal/models"
)

func TestDetectDuplicates(t *testing.T) {
	a := lenderEntry("L1", "PO-1 advance to Beta", "100", 3)
	b := lenderEntry("L2", "PO-1 advance to Beta", "100", 3)
	c := lenderEntry("L3", "PO-1 advance to Beta", "100", 4)
	d := borrowerEntry("B1", "PO-1 advance to Beta", "100", 3)
	e := lenderEntry("L4", "Office rent", "100", 3)
	a.VoucherNo, b.VoucherNo = "JV-1", "JV-1"

	result := DetectDuplicates([]*models.LedgerEntry{a, b, c, d, e})
	if len(result.Groups) != 1 {
		t.Fatalf("Expected 1 duplicate group, got %d", len(result.Groups))
	}

	group := result.Groups[0]
	if len(group.Entries) != 2 || group.Entries[1].UID != "L2" {
		t.Errorf("Expected L1 and L2 grouped, got %v", group.Entries)
	}
	if group.GroupID != "DUP_L1" {
		t.Errorf("Unexpected group id %s", group.GroupID)
	}
	if group.Confidence != 1.0 {
		t.Errorf("Expected full confidence for identical narration and voucher, got %f", group.Confidence)
	}
	if result.Entries() != 2 {
		t.Errorf("Expected 2 entries in groups, got %d", result.Entries())
	}
}

func TestDetectDuplicates_None(t *testing.T) {
	result := DetectDuplicates([]*models.LedgerEntry{
		lenderEntry("L1", "PO-1 advance", "100", 3),
		lenderEntry("L2", "PO-1 advance", "200", 3),
	})
	if len(result.Groups) != 0 {
		t.Errorf("Expected no duplicates, got %d groups", len(result.Groups))
	}
}
