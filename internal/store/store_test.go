package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"

	"github.com/shopspring/decimal"
)

var march2024 = models.Period{Month: time.March, Year: 2024}

func newEntry(uid, company, counterparty string, debit bool, amount string, day int) *models.LedgerEntry {
	e := &models.LedgerEntry{
		UID:          uid,
		Company:      company,
		Counterparty: counterparty,
		Period:       march2024,
		Date:         time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC),
		Narration:    "PO-" + uid,
		MatchStatus:  models.StatusUnmatched,
	}
	if debit {
		e.Debit = decimal.RequireFromString(amount)
	} else {
		e.Credit = decimal.RequireFromString(amount)
	}
	e.DeriveRole()
	return e
}

// seed returns two lenders in ACME and two borrowers in BETA plus one
// entry of an unrelated pair.
func seed() []*models.LedgerEntry {
	return []*models.LedgerEntry{
		newEntry("L1", "ACME", "BETA", true, "100", 1),
		newEntry("L2", "ACME", "BETA", true, "250.50", 2),
		newEntry("B1", "BETA", "ACME", false, "100", 3),
		newEntry("B2", "BETA", "ACME", false, "250.50", 4),
		newEntry("X1", "GAMMA", "DELTA", true, "75", 5),
	}
}

func pairUp(status models.MatchStatus, lender, borrower string) func(tx Tx) error {
	return func(tx Tx) error {
		ctx := context.Background()
		now := time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)
		for _, p := range [][2]string{{lender, borrower}, {borrower, lender}} {
			e, err := tx.Get(ctx, p[0])
			if err != nil {
				return err
			}
			e.MatchStatus = status
			e.MatchedWith = p[1]
			e.MatchType = models.MatchTypePO
			e.MatchMethod = models.MethodReference
			e.Audit = models.ReferenceAudit{MatchType: models.MatchTypePO, Reference: "PO-1"}
			e.DateMatched = &now
			if err := tx.Save(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}
}

// forEachStore runs the contract against every implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		config := DefaultConfig()
		config.DSN = filepath.Join(t.TempDir(), "ledger.db")
		s, err := OpenSQL(context.Background(), config)
		if err != nil {
			t.Fatalf("Failed to open sqlite store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func mustInsert(t *testing.T, s Store, entries []*models.LedgerEntry) {
	t.Helper()
	if _, err := s.Insert(context.Background(), entries); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func mustGet(t *testing.T, s Store, uid string) *models.LedgerEntry {
	t.Helper()
	e, err := s.Get(context.Background(), uid)
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", uid, err)
	}
	return e
}

func TestStore_InsertAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		n, err := s.Insert(ctx, seed())
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if n != 5 {
			t.Errorf("Expected 5 inserted, got %d", n)
		}

		e := mustGet(t, s, "L2")
		if !e.Debit.Equal(decimal.RequireFromString("250.50")) {
			t.Errorf("Expected debit 250.50, got %s", e.Debit)
		}
		if e.Role != models.RoleLender || e.Lender != "ACME" || e.Borrower != "BETA" {
			t.Errorf("Unexpected role fields: %+v", e)
		}
		if e.Period != march2024 || e.Date.Day() != 2 {
			t.Errorf("Unexpected period or date: %v %v", e.Period, e.Date)
		}
		if e.MatchStatus != models.StatusUnmatched || e.Audit != nil {
			t.Errorf("Expected fresh unmatched entry, got %s %v", e.MatchStatus, e.Audit)
		}

		_, err = s.Get(ctx, "missing")
		if !errors.IsCode(err, errors.CodeNotFound) {
			t.Errorf("Expected not_found, got %v", err)
		}
	})
}

func TestStore_InsertDuplicateIsAllOrNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, seed()[:1])

		_, err := s.Insert(ctx, []*models.LedgerEntry{
			newEntry("N1", "ACME", "BETA", true, "10", 6),
			newEntry("L1", "ACME", "BETA", true, "10", 6),
		})
		if !errors.IsCode(err, errors.CodeDuplicateUID) {
			t.Fatalf("Expected duplicate_uid, got %v", err)
		}
		if _, err := s.Get(ctx, "N1"); !errors.IsCode(err, errors.CodeNotFound) {
			t.Errorf("Expected N1 not to be written, got %v", err)
		}

		_, err = s.Insert(ctx, []*models.LedgerEntry{
			newEntry("N2", "ACME", "BETA", true, "10", 6),
			newEntry("N2", "ACME", "BETA", true, "10", 6),
		})
		if !errors.IsCode(err, errors.CodeDuplicateUID) {
			t.Errorf("Expected duplicate_uid within one batch, got %v", err)
		}
	})
}

func TestStore_InsertRejectsInvalidEntry(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		bad := newEntry("L1", "ACME", "BETA", true, "100", 1)
		bad.Credit = decimal.NewFromInt(5)
		_, err := s.Insert(context.Background(), []*models.LedgerEntry{bad})
		if !errors.IsCode(err, errors.CodeInvalidData) {
			t.Errorf("Expected invalid_data, got %v", err)
		}
	})
}

func TestStore_UpdateCommits(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustInsert(t, s, seed())
		if err := s.Update(context.Background(), pairUp(models.StatusConfirmed, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		l, b := mustGet(t, s, "L1"), mustGet(t, s, "B1")
		if l.MatchedWith != "B1" || b.MatchedWith != "L1" {
			t.Errorf("Expected symmetric pairing, got %s/%s", l.MatchedWith, b.MatchedWith)
		}
		if l.MatchStatus != models.StatusConfirmed || b.MatchType != models.MatchTypePO {
			t.Errorf("Unexpected match state %s %s", l.MatchStatus, b.MatchType)
		}
		if l.DateMatched == nil || l.DateMatched.Month() != time.April {
			t.Errorf("Expected date matched to round-trip, got %v", l.DateMatched)
		}
		audit, ok := b.Audit.(models.ReferenceAudit)
		if !ok || audit.Reference != "PO-1" {
			t.Errorf("Expected reference audit to round-trip, got %#v", b.Audit)
		}
	})
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustInsert(t, s, seed())
		sentinel := errors.New(errors.CategoryInternal, errors.CodeUnexpectedError, "boom")

		err := s.Update(context.Background(), func(tx Tx) error {
			if err := pairUp(models.StatusMatched, "L1", "B1")(tx); err != nil {
				return err
			}
			return sentinel
		})
		if err != sentinel {
			t.Fatalf("Expected callback error, got %v", err)
		}
		if e := mustGet(t, s, "L1"); e.MatchStatus != models.StatusUnmatched {
			t.Errorf("Expected rollback, L1 is %s", e.MatchStatus)
		}
	})
}

func TestStore_UpdateRejectsAsymmetricCommit(t *testing.T) {
	tests := []struct {
		name string
		fn   func(tx Tx) error
	}{
		{
			name: "one side only",
			fn: func(tx Tx) error {
				e, _ := tx.Get(context.Background(), "L1")
				e.MatchStatus, e.MatchedWith, e.MatchType = models.StatusMatched, "B1", models.MatchTypeSalary
				return tx.Save(context.Background(), e)
			},
		},
		{
			name: "status disagrees",
			fn: func(tx Tx) error {
				ctx := context.Background()
				l, _ := tx.Get(ctx, "L1")
				b, _ := tx.Get(ctx, "B1")
				l.MatchStatus, l.MatchedWith, l.MatchType = models.StatusMatched, "B1", models.MatchTypeSalary
				b.MatchStatus, b.MatchedWith, b.MatchType = models.StatusConfirmed, "L1", models.MatchTypeSalary
				if err := tx.Save(ctx, l); err != nil {
					return err
				}
				return tx.Save(ctx, b)
			},
		},
		{
			name: "same side",
			fn: func(tx Tx) error {
				ctx := context.Background()
				a, _ := tx.Get(ctx, "L1")
				b, _ := tx.Get(ctx, "L2")
				a.MatchStatus, a.MatchedWith, a.MatchType = models.StatusMatched, "L2", models.MatchTypeSalary
				b.MatchStatus, b.MatchedWith, b.MatchType = models.StatusMatched, "L1", models.MatchTypeSalary
				if err := tx.Save(ctx, a); err != nil {
					return err
				}
				return tx.Save(ctx, b)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forEachStore(t, func(t *testing.T, s Store) {
				mustInsert(t, s, seed())
				err := s.Update(context.Background(), tt.fn)
				if !errors.IsCode(err, errors.CodeDataInconsistent) {
					t.Fatalf("Expected data_inconsistent, got %v", err)
				}
				if e := mustGet(t, s, "L1"); e.MatchStatus != models.StatusUnmatched {
					t.Errorf("Expected nothing committed, L1 is %s", e.MatchStatus)
				}
			})
		})
	}
}

func TestStore_ReleasingOneSideIsRejected(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustInsert(t, s, seed())
		ctx := context.Background()
		if err := s.Update(ctx, pairUp(models.StatusMatched, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		err := s.Update(ctx, func(tx Tx) error {
			e, _ := tx.Get(ctx, "L1")
			e.ClearMatch()
			return tx.Save(ctx, e)
		})
		if !errors.IsCode(err, errors.CodeDataInconsistent) {
			t.Errorf("Expected data_inconsistent, got %v", err)
		}
	})
}

func TestStore_FetchUnmatched(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustInsert(t, s, seed())
		ctx := context.Background()
		if err := s.Update(ctx, pairUp(models.StatusMatched, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		for _, pair := range []models.CompanyPair{{Lender: "ACME", Borrower: "BETA"}, {Lender: "BETA", Borrower: "ACME"}} {
			got, err := s.FetchUnmatched(ctx, models.Scope{Pair: pair, Period: march2024})
			if err != nil {
				t.Fatalf("FetchUnmatched failed: %v", err)
			}
			if len(got) != 2 || got[0].UID != "L2" || got[1].UID != "B2" {
				t.Errorf("Scope %s: expected [L2 B2], got %v", pair, got)
			}
		}

		other, _ := s.FetchUnmatched(ctx, models.Scope{
			Pair:   models.CompanyPair{Lender: "ACME", Borrower: "BETA"},
			Period: models.Period{Month: time.April, Year: 2024},
		})
		if len(other) != 0 {
			t.Errorf("Expected nothing in April, got %d", len(other))
		}
	})
}

func TestStore_List(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		mustInsert(t, s, seed())
		ctx := context.Background()
		if err := s.Update(ctx, pairUp(models.StatusConfirmed, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		tests := []struct {
			name   string
			filter Filter
			want   []string
		}{
			{"everything", Filter{}, []string{"L1", "L2", "B1", "B2", "X1"}},
			{"confirmed", Filter{Statuses: []models.MatchStatus{models.StatusConfirmed}}, []string{"L1", "B1"}},
			{"by method", Filter{Methods: []models.MatchMethod{models.MethodReference}}, []string{"L1", "B1"}},
			{"limit", Filter{Limit: 2}, []string{"L1", "L2"}},
			{"pair", Filter{Pair: &models.CompanyPair{Lender: "DELTA", Borrower: "GAMMA"}}, []string{"X1"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("Expected %v, got %v", tt.want, got)
				}
				for i, uid := range tt.want {
					if got[i].UID != uid {
						t.Errorf("Position %d: expected %s, got %s", i, uid, got[i].UID)
					}
				}
			})
		}
	})
}

func TestStore_ResetScopeReleasesCounterparts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		entries := seed()
		entries = append(entries, newEntry("B9", "BETA", "ACME", false, "75", 1))
		entries[len(entries)-1].Period = models.Period{Month: time.April, Year: 2024}
		mustInsert(t, s, entries)

		// L2 in March paired with B9 in April straddles the scope boundary.
		if err := s.Update(ctx, pairUp(models.StatusMatched, "L2", "B9")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := s.Update(ctx, pairUp(models.StatusConfirmed, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		n, err := s.ResetScope(ctx, models.Scope{Pair: models.CompanyPair{Lender: "BETA", Borrower: "ACME"}, Period: march2024})
		if err != nil {
			t.Fatalf("ResetScope failed: %v", err)
		}
		if n != 4 {
			t.Errorf("Expected 4 entries released, got %d", n)
		}
		for _, uid := range []string{"L1", "B1", "L2", "B9"} {
			e := mustGet(t, s, uid)
			if e.MatchStatus != models.StatusUnmatched || e.MatchedWith != "" || e.Audit != nil || e.DateMatched != nil {
				t.Errorf("Expected %s released, got %+v", uid, e)
			}
		}
	})
}

func TestStore_ResetAllAndTruncate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, seed())
		if err := s.Update(ctx, pairUp(models.StatusMatched, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		n, err := s.ResetAll(ctx)
		if err != nil || n != 2 {
			t.Fatalf("Expected 2 released, got %d (%v)", n, err)
		}
		if n, _ := s.ResetAll(ctx); n != 0 {
			t.Errorf("Expected second reset to change nothing, got %d", n)
		}

		if err := s.Truncate(ctx); err != nil {
			t.Fatalf("Truncate failed: %v", err)
		}
		all, _ := s.List(ctx, Filter{})
		if len(all) != 0 {
			t.Errorf("Expected empty store, got %d", len(all))
		}
	})
}

func TestStore_CompanyPairs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustInsert(t, s, seed())
		if err := s.Update(ctx, pairUp(models.StatusMatched, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if err := s.Update(ctx, pairUp(models.StatusConfirmed, "L2", "B2")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		all, err := s.CompanyPairs(ctx, PairFilter{})
		if err != nil {
			t.Fatalf("CompanyPairs failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("Expected 2 pair periods, got %v", all)
		}
		acme := all[0]
		if acme.Pair != (models.CompanyPair{Lender: "ACME", Borrower: "BETA"}) {
			t.Errorf("Expected canonical ACME/BETA first, got %s", acme.Pair)
		}
		if acme.Entries != 4 || acme.Matched != 2 || acme.Confirmed != 2 || acme.Unmatched != 0 {
			t.Errorf("Unexpected counts %+v", acme)
		}

		open, _ := s.CompanyPairs(ctx, PairFilter{Unreconciled: true})
		if len(open) != 1 || open[0].Pair.Lender != "DELTA" {
			t.Errorf("Expected only DELTA/GAMMA unreconciled, got %v", open)
		}
		matched, _ := s.CompanyPairs(ctx, PairFilter{Matched: true})
		if len(matched) != 1 || matched[0].Pair.Lender != "ACME" {
			t.Errorf("Expected only ACME/BETA with matches, got %v", matched)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"memory", Config{Driver: DriverMemory}, false},
		{"mysql", Config{Driver: DriverMySQL, DSN: "user:pass@tcp(localhost:3306)/recon"}, false},
		{"missing dsn", Config{Driver: DriverSQLite}, true},
		{"unknown driver", Config{Driver: "postgres", DSN: "x"}, true},
		{"negative conns", Config{Driver: DriverSQLite, DSN: "x.db", MaxOpenConns: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), &Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Expected MemoryStore, got %T", s)
	}

	_, err = Open(context.Background(), &Config{Driver: "oracle"})
	if !errors.IsCode(err, errors.CodeInvalidConfig) {
		t.Errorf("Expected invalid_config, got %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := sqliteDSN("ledger.db", 2*time.Second)
	want := "ledger.db?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)"
	if got != want {
		t.Errorf("sqliteDSN() = %q, want %q", got, want)
	}
	if got := sqliteDSN("file:x.db?_pragma=foreign_keys(1)", time.Second); got != "file:x.db?_pragma=foreign_keys(1)" {
		t.Errorf("Expected explicit pragmas to be kept, got %q", got)
	}
}

func TestStore_PairIDSelection(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		entries := seed()
		for _, e := range entries {
			e.PairID = "pair-a"
		}
		entries[4].PairID = "pair-b"
		mustInsert(t, s, entries)
		if err := s.Update(ctx, pairUp(models.StatusMatched, "L1", "B1")); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		tests := []struct {
			name   string
			filter Filter
			want   []string
		}{
			{"whole pair", Filter{PairID: "pair-a"}, []string{"L1", "L2", "B1", "B2"}},
			{"unmatched of pair", Filter{PairID: "pair-a", Statuses: []models.MatchStatus{models.StatusUnmatched}}, []string{"L2", "B2"}},
			{"other pair", Filter{PairID: "pair-b"}, []string{"X1"}},
			{"unknown pair", Filter{PairID: "pair-z"}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("Expected %v, got %v", tt.want, got)
				}
				for i, uid := range tt.want {
					if got[i].UID != uid {
						t.Errorf("Position %d: expected %s, got %s", i, uid, got[i].UID)
					}
				}
			})
		}

		ids, err := s.PairIDs(ctx)
		if err != nil {
			t.Fatalf("PairIDs failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "pair-a" || ids[1] != "pair-b" {
			t.Errorf("Expected [pair-a pair-b], got %v", ids)
		}
	})
}

func TestSQLStore_SaveRejectsStaleRead(t *testing.T) {
	ctx := context.Background()
	config := DefaultConfig()
	config.DSN = filepath.Join(t.TempDir(), "ledger.db")
	s, err := OpenSQL(ctx, config)
	if err != nil {
		t.Fatalf("Failed to open sqlite store: %v", err)
	}
	defer s.Close()
	mustInsert(t, s, seed())

	err = s.Update(ctx, func(tx Tx) error {
		e, err := tx.Get(ctx, "L1")
		if err != nil {
			return err
		}
		// Another writer pairs L1 between our read and our write.
		stx := tx.(*sqlTx)
		if _, err := stx.tx.ExecContext(ctx,
			`UPDATE ledger_entries SET match_status = 'matched', matched_with = 'B2' WHERE uid = 'L1'`); err != nil {
			t.Fatalf("concurrent update failed: %v", err)
		}
		e.MatchStatus = models.StatusMatched
		e.MatchedWith = "B1"
		return tx.Save(ctx, e)
	})
	if !errors.IsCode(err, errors.CodeDataInconsistent) {
		t.Fatalf("Expected data_inconsistent, got %v", err)
	}
	if e := mustGet(t, s, "L1"); e.MatchStatus != models.StatusUnmatched || e.MatchedWith != "" {
		t.Errorf("Expected L1 untouched after rollback, got %s -> %q", e.MatchStatus, e.MatchedWith)
	}
}

func TestDialectRowLocks(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect
		want    string
	}{
		{"mysql locks rows read in update", mysqlDialect, " FOR UPDATE"},
		{"sqlite relies on the single writer", sqliteDialect, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.dialect.lockRows != tt.want {
				t.Errorf("lockRows = %q, want %q", tt.dialect.lockRows, tt.want)
			}
		})
	}
}
