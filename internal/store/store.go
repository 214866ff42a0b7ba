// Package store persists ledger entries and their match state.
//
// Two implementations share one contract: MemoryStore for tests and
// single-process use, and SQLStore over database/sql for sqlite and mysql.
// All match state changes go through Update, which applies a batch of
// changes atomically and refuses to commit an asymmetric pairing.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"
)

// Store is the ledger entry store.
type Store interface {
	// Insert adds new entries. If any uid already exists nothing is written
	// and a duplicate_uid error is returned.
	Insert(ctx context.Context, entries []*models.LedgerEntry) (int, error)

	// Get returns one entry or a not_found error.
	Get(ctx context.Context, uid string) (*models.LedgerEntry, error)

	// FetchUnmatched returns the unmatched entries of a scope.
	FetchUnmatched(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error)

	// List returns entries selected by the filter, ordered by date then uid.
	List(ctx context.Context, filter Filter) ([]*models.LedgerEntry, error)

	// Update runs fn inside one transaction. Changes are committed only when
	// fn returns nil and every touched pairing is symmetric.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// ResetScope returns every matched or confirmed entry of the scope to
	// unmatched and reports how many entries changed.
	ResetScope(ctx context.Context, scope models.Scope) (int, error)

	// ResetAll returns every entry to unmatched.
	ResetAll(ctx context.Context) (int, error)

	// Truncate deletes every entry.
	Truncate(ctx context.Context) error

	// CompanyPairs lists pair periods with per-status counts.
	CompanyPairs(ctx context.Context, filter PairFilter) ([]models.PairPeriod, error)

	// PairIDs lists the distinct upload pair ids in ascending order.
	PairIDs(ctx context.Context) ([]string, error)

	Close() error
}

// Tx is the view of the store inside Update.
type Tx interface {
	// Get returns the entry as seen by this transaction.
	Get(ctx context.Context, uid string) (*models.LedgerEntry, error)
	// Save writes the match fields of an existing entry.
	Save(ctx context.Context, entry *models.LedgerEntry) error
}

// Filter selects entries for listings. Zero fields match everything.
type Filter struct {
	Pair     *models.CompanyPair
	Period   *models.Period
	PairID   string
	Statuses []models.MatchStatus
	Methods  []models.MatchMethod
	Limit    int
}

// ScopeFilter selects every entry of a scope.
func ScopeFilter(scope models.Scope, statuses ...models.MatchStatus) Filter {
	pair, period := scope.Pair, scope.Period
	return Filter{Pair: &pair, Period: &period, Statuses: statuses}
}

// Matches reports whether the entry passes the filter.
func (f Filter) Matches(e *models.LedgerEntry) bool {
	if f.Pair != nil && !f.Pair.Contains(e.Lender, e.Borrower) {
		return false
	}
	if f.Period != nil && e.Period != *f.Period {
		return false
	}
	if f.PairID != "" && e.PairID != f.PairID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, e.MatchStatus) {
		return false
	}
	if len(f.Methods) > 0 && !containsMethod(f.Methods, e.MatchMethod) {
		return false
	}
	return true
}

func containsStatus(list []models.MatchStatus, s models.MatchStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsMethod(list []models.MatchMethod, m models.MatchMethod) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

// PairFilter narrows a company pair listing.
type PairFilter struct {
	// Unreconciled keeps pair periods with at least one unmatched entry.
	Unreconciled bool
	// Matched keeps pair periods with at least one matched or confirmed entry.
	Matched bool
}

func (f PairFilter) keep(pp models.PairPeriod) bool {
	if f.Unreconciled && pp.Unmatched == 0 {
		return false
	}
	if f.Matched && pp.Matched+pp.Confirmed == 0 {
		return false
	}
	return true
}

// Config selects and configures a store implementation.
type Config struct {
	Driver       string        `json:"driver" mapstructure:"driver"`
	DSN          string        `json:"dsn" mapstructure:"dsn"`
	MaxOpenConns int           `json:"max_open_conns" mapstructure:"max_open_conns"`
	BusyTimeout  time.Duration `json:"busy_timeout" mapstructure:"busy_timeout"`
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// DefaultConfig stores entries in a local sqlite file.
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverSQLite,
		DSN:          "reconciler.db",
		MaxOpenConns: 1,
		BusyTimeout:  5 * time.Second,
	}
}

// Validate checks the store configuration.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite, DriverMySQL:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("store dsn is required for driver %s", c.Driver)
		}
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Driver)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("max open connections cannot be negative: %d", c.MaxOpenConns)
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// Open creates the store named by the configuration.
func Open(ctx context.Context, config *Config) (Store, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", config.Driver, err)
	}
	if config.Driver == DriverMemory {
		return NewMemoryStore(), nil
	}
	return OpenSQL(ctx, config)
}

// view resolves entries during a symmetry check.
type view func(uid string) *models.LedgerEntry

// checkSymmetry verifies that every touched entry that is matched or
// confirmed has a counterpart pointing back with the same status and type,
// and that no entry still points at a touched entry that was released.
func checkSymmetry(touched []string, before, after view) error {
	for _, uid := range touched {
		e := after(uid)
		if e == nil {
			continue
		}
		if e.MatchStatus.IsActive() {
			c := after(e.MatchedWith)
			if c == nil {
				return inconsistent("entry %s is paired with unknown entry %s", uid, e.MatchedWith)
			}
			if c.MatchedWith != uid || c.MatchStatus != e.MatchStatus || c.MatchType != e.MatchType {
				return inconsistent("entry %s (%s) and %s (%s -> %q) are not paired symmetrically",
					uid, e.MatchStatus, c.UID, c.MatchStatus, c.MatchedWith)
			}
			if e.IsDebit() == c.IsDebit() {
				return inconsistent("entry %s and %s are on the same side", uid, c.UID)
			}
			continue
		}
		if e.MatchedWith != "" {
			return inconsistent("unmatched entry %s still names counterpart %s", uid, e.MatchedWith)
		}
		if prev := before(uid); prev != nil && prev.MatchedWith != "" {
			if c := after(prev.MatchedWith); c != nil && c.MatchStatus.IsActive() && c.MatchedWith == uid {
				return inconsistent("entry %s was released but %s still points at it", uid, c.UID)
			}
		}
	}
	return nil
}

func inconsistent(format string, args ...interface{}) error {
	return errors.ReconciliationError(errors.CodeDataInconsistent, "commit", fmt.Errorf(format, args...))
}

// pairCount is one (pair direction, period, status) bucket.
type pairCount struct {
	Lender, Borrower string
	Period           models.Period
	Status           models.MatchStatus
	N                int
}

// summarizePairs folds buckets into canonical pair periods.
func summarizePairs(counts []pairCount, filter PairFilter) []models.PairPeriod {
	byKey := make(map[string]*models.PairPeriod)
	for _, c := range counts {
		pair := models.CompanyPair{Lender: c.Lender, Borrower: c.Borrower}.Canonical()
		scope := models.Scope{Pair: pair, Period: c.Period}
		pp, ok := byKey[scope.Key()]
		if !ok {
			pp = &models.PairPeriod{Pair: pair, Period: c.Period}
			byKey[scope.Key()] = pp
		}
		pp.Entries += c.N
		switch c.Status {
		case models.StatusMatched:
			pp.Matched += c.N
		case models.StatusConfirmed:
			pp.Confirmed += c.N
		default:
			pp.Unmatched += c.N
		}
	}

	out := make([]models.PairPeriod, 0, len(byKey))
	for _, pp := range byKey {
		if filter.keep(*pp) {
			out = append(out, *pp)
		}
	}
	sortPairPeriods(out)
	return out
}

func sortPairPeriods(out []models.PairPeriod) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Pair != b.Pair {
			if a.Pair.Lender != b.Pair.Lender {
				return a.Pair.Lender < b.Pair.Lender
			}
			return a.Pair.Borrower < b.Pair.Borrower
		}
		if a.Period.Year != b.Period.Year {
			return a.Period.Year < b.Period.Year
		}
		return a.Period.Month < b.Period.Month
	})
}

// copyMatchFields copies the mutable match state; ledger columns never change
// after import.
func copyMatchFields(dst, src *models.LedgerEntry) {
	c := src.Clone()
	dst.MatchStatus = c.MatchStatus
	dst.MatchedWith = c.MatchedWith
	dst.MatchType = c.MatchType
	dst.MatchMethod = c.MatchMethod
	dst.Audit = c.Audit
	dst.DateMatched = c.DateMatched
	dst.ReviewedBy = c.ReviewedBy
	dst.ReviewedAt = c.ReviewedAt
}

func sortEntries(entries []*models.LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].UID < entries[j].UID
	})
}
