package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"interunit-loan-recon/internal/models"
	"interunit-loan-recon/pkg/errors"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// SQLStore keeps entries in a ledger_entries table.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// OpenSQL opens a sqlite or mysql database and applies the schema.
func OpenSQL(ctx context.Context, config *Config) (*SQLStore, error) {
	var d dialect
	dsn := config.DSN
	switch config.Driver {
	case DriverSQLite:
		d = sqliteDialect
		if dir := filepath.Dir(sqlitePath(dsn)); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, errors.FileError(errors.CodeDirectoryError, dir, err)
			}
		}
		dsn = sqliteDSN(dsn, config.BusyTimeout)
	case DriverMySQL:
		d = mysqlDialect
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store.driver", config.Driver, nil)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "open", err)
	}
	if d.name == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.StorageError(errors.CodeStorageFailure, "ping", err)
	}

	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already opened database. The schema is applied.
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	d := sqliteDialect
	if driver == DriverMySQL {
		d = mysqlDialect
	}
	s := &SQLStore{db: db, dialect: d}
	return s, s.migrate(ctx)
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func sqliteDSN(dsn string, busy time.Duration) string {
	if strings.Contains(dsn, "_pragma=") || dsn == ":memory:" {
		return dsn
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", dsn, sep, busy.Milliseconds())
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.StorageError(errors.CodeStorageFailure, "migrate", err)
		}
	}
	return nil
}

// Insert implements Store.
func (s *SQLStore) Insert(ctx context.Context, entries []*models.LedgerEntry) (int, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return 0, errors.ValidationError(errors.CodeInvalidData, "entry", e.UID, err)
		}
		if seen[e.UID] {
			return 0, errors.ValidationError(errors.CodeDuplicateUID, "uid", e.UID, nil)
		}
		seen[e.UID] = true
	}

	err := s.inTx(ctx, "insert", func(tx *sql.Tx) error {
		for _, e := range entries {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM ledger_entries WHERE uid = ?`, e.UID).Scan(&one)
			if err == nil {
				return errors.ValidationError(errors.CodeDuplicateUID, "uid", e.UID, nil)
			}
			if err != sql.ErrNoRows {
				return errors.StorageError(errors.CodeStorageFailure, "insert", err)
			}

			args, err := entryArgs(e)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, insertEntry, args...); err != nil {
				return errors.StorageError(errors.CodeStorageFailure, "insert", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, uid string) (*models.LedgerEntry, error) {
	return getEntry(ctx, s.db, uid, "")
}

// FetchUnmatched implements Store.
func (s *SQLStore) FetchUnmatched(ctx context.Context, scope models.Scope) ([]*models.LedgerEntry, error) {
	return s.List(ctx, ScopeFilter(scope, models.StatusUnmatched))
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*models.LedgerEntry, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + where + ` ORDER BY entry_date, uid`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list", err)
	}
	defer rows.Close()

	var out []*models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "list", err)
	}
	return out, nil
}

// Update implements Store.
func (s *SQLStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.inTx(ctx, "update", func(tx *sql.Tx) error {
		stx := &sqlTx{
			tx:     tx,
			lock:   s.dialect.lockRows,
			before: make(map[string]*models.LedgerEntry),
			read:   make(map[string]matchState),
		}
		if err := fn(stx); err != nil {
			return err
		}

		var lookupErr error
		after := func(uid string) *models.LedgerEntry {
			e, err := getEntry(ctx, tx, uid, stx.lock)
			if err != nil && !errors.IsCode(err, errors.CodeNotFound) && lookupErr == nil {
				lookupErr = err
			}
			return e
		}
		before := func(uid string) *models.LedgerEntry { return stx.before[uid] }
		if err := checkSymmetry(stx.order, before, after); err != nil {
			return err
		}
		return lookupErr
	})
}

// ResetScope implements Store.
func (s *SQLStore) ResetScope(ctx context.Context, scope models.Scope) (int, error) {
	return s.reset(ctx, ScopeFilter(scope, models.StatusMatched, models.StatusConfirmed))
}

// ResetAll implements Store.
func (s *SQLStore) ResetAll(ctx context.Context) (int, error) {
	return s.reset(ctx, Filter{Statuses: []models.MatchStatus{models.StatusMatched, models.StatusConfirmed}})
}

func (s *SQLStore) reset(ctx context.Context, filter Filter) (int, error) {
	n := 0
	err := s.inTx(ctx, "reset", func(tx *sql.Tx) error {
		where, args := filterClause(filter)
		rows, err := tx.QueryContext(ctx, `SELECT uid, matched_with FROM ledger_entries`+where, args...)
		if err != nil {
			return errors.StorageError(errors.CodeStorageFailure, "reset", err)
		}
		release := make(map[string]bool)
		for rows.Next() {
			var uid, with string
			if err := rows.Scan(&uid, &with); err != nil {
				rows.Close()
				return errors.StorageError(errors.CodeStorageFailure, "reset", err)
			}
			release[uid] = true
			if with != "" {
				release[with] = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return errors.StorageError(errors.CodeStorageFailure, "reset", err)
		}

		for uid := range release {
			res, err := tx.ExecContext(ctx, clearMatch, uid)
			if err != nil {
				return errors.StorageError(errors.CodeStorageFailure, "reset", err)
			}
			if affected, err := res.RowsAffected(); err == nil {
				n += int(affected)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Truncate implements Store.
func (s *SQLStore) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ledger_entries`); err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "truncate", err)
	}
	return nil
}

// CompanyPairs implements Store.
func (s *SQLStore) CompanyPairs(ctx context.Context, filter PairFilter) ([]models.PairPeriod, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lender, borrower, statement_month, statement_year, match_status, COUNT(*)
		FROM ledger_entries
		GROUP BY lender, borrower, statement_month, statement_year, match_status`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "company pairs", err)
	}
	defer rows.Close()

	var counts []pairCount
	for rows.Next() {
		var c pairCount
		var month int
		var status string
		if err := rows.Scan(&c.Lender, &c.Borrower, &month, &c.Period.Year, &status, &c.N); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "company pairs", err)
		}
		c.Period.Month = time.Month(month)
		c.Status = models.MatchStatus(status)
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "company pairs", err)
	}
	return summarizePairs(counts, filter), nil
}

// PairIDs implements Store.
func (s *SQLStore) PairIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT pair_id FROM ledger_entries WHERE pair_id <> '' ORDER BY pair_id`)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "pair ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.StorageError(errors.CodeStorageFailure, "pair ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "pair ids", err)
	}
	return ids, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// inTx commits when fn succeeds and rolls back otherwise.
func (s *SQLStore) inTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, operation, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStorageFailure, operation, err)
	}
	return nil
}

// sqlTx implements Tx. before keeps the state of each touched entry as it
// was when the transaction first saw it; read keeps the match state each
// entry had when the caller fetched it.
type sqlTx struct {
	tx     *sql.Tx
	lock   string
	before map[string]*models.LedgerEntry
	read   map[string]matchState
	order  []string
}

// matchState is the part of an entry a decision to save is based on.
type matchState struct {
	status models.MatchStatus
	with   string
}

func stateOf(e *models.LedgerEntry) matchState {
	return matchState{status: e.MatchStatus, with: e.MatchedWith}
}

func (t *sqlTx) Get(ctx context.Context, uid string) (*models.LedgerEntry, error) {
	e, err := getEntry(ctx, t.tx, uid, t.lock)
	if err != nil {
		return nil, err
	}
	if _, ok := t.read[uid]; !ok {
		t.read[uid] = stateOf(e)
	}
	return e, nil
}

func (t *sqlTx) Save(ctx context.Context, entry *models.LedgerEntry) error {
	current, err := getEntry(ctx, t.tx, entry.UID, t.lock)
	if err != nil {
		return err
	}
	if seen, ok := t.read[entry.UID]; ok && seen != stateOf(current) {
		return errors.ReconciliationError(errors.CodeDataInconsistent, "save",
			fmt.Errorf("entry %s changed from %s to %s by another writer", entry.UID, seen.status, current.MatchStatus))
	}
	if _, seen := t.before[entry.UID]; !seen {
		t.before[entry.UID] = current.Clone()
		t.order = append(t.order, entry.UID)
	}

	copyMatchFields(current, entry)
	if err := current.Validate(); err != nil {
		return errors.ValidationError(errors.CodeInvalidData, "entry", entry.UID, err)
	}

	audit, err := models.MarshalAudit(current.Audit)
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode audit", err)
	}
	_, err = t.tx.ExecContext(ctx, updateMatch,
		string(current.MatchStatus), current.MatchedWith, string(current.MatchType), string(current.MatchMethod),
		nullString(audit), formatTimePtr(current.DateMatched), current.ReviewedBy, formatTimePtr(current.ReviewedAt),
		current.UID)
	if err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "save", err)
	}
	t.read[entry.UID] = stateOf(current)
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// getEntry reads one entry; lock is the dialect's row lock suffix or empty.
func getEntry(ctx context.Context, q querier, uid, lock string) (*models.LedgerEntry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE uid = ?`+lock, uid)
	e, err := scanEntry(row)
	if err != nil {
		if rerr, ok := errors.AsReconcilerError(err); ok && rerr.Unwrap() == sql.ErrNoRows {
			return nil, errors.EntryNotFound(uid)
		}
		return nil, err
	}
	return e, nil
}

// filterClause renders a Filter as a WHERE clause.
func filterClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.Pair != nil {
		conds = append(conds, `((lender = ? AND borrower = ?) OR (lender = ? AND borrower = ?))`)
		args = append(args, f.Pair.Lender, f.Pair.Borrower, f.Pair.Borrower, f.Pair.Lender)
	}
	if f.Period != nil {
		conds = append(conds, `statement_year = ? AND statement_month = ?`)
		args = append(args, f.Period.Year, int(f.Period.Month))
	}
	if f.PairID != "" {
		conds = append(conds, `pair_id = ?`)
		args = append(args, f.PairID)
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, `match_status IN (`+placeholders(len(f.Statuses))+`)`)
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if len(f.Methods) > 0 {
		conds = append(conds, `match_method IN (`+placeholders(len(f.Methods))+`)`)
		for _, m := range f.Methods {
			args = append(args, string(m))
		}
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func entryArgs(e *models.LedgerEntry) ([]interface{}, error) {
	audit, err := models.MarshalAudit(e.Audit)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "encode audit", err)
	}
	status := e.MatchStatus
	if status == "" {
		status = models.StatusUnmatched
	}
	return []interface{}{
		e.UID, e.Company, e.Counterparty, e.Lender, e.Borrower, int(e.Period.Month), e.Period.Year,
		formatTime(e.Date), e.Narration, e.VoucherType, e.VoucherNo, e.Debit.String(), e.Credit.String(),
		e.EnteredBy, formatTime(e.InputDate), e.PairID, string(e.Role),
		string(status), e.MatchedWith, string(e.MatchType), string(e.MatchMethod), nullString(audit),
		formatTimePtr(e.DateMatched), e.ReviewedBy, formatTimePtr(e.ReviewedAt),
	}, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.LedgerEntry, error) {
	var (
		e                               models.LedgerEntry
		month                           int
		date, debit, credit, inputDate  string
		role, status, matchType, method string
		audit                           sql.NullString
		dateMatched, reviewedAt         string
	)
	err := row.Scan(&e.UID, &e.Company, &e.Counterparty, &e.Lender, &e.Borrower, &month, &e.Period.Year,
		&date, &e.Narration, &e.VoucherType, &e.VoucherNo, &debit, &credit, &e.EnteredBy, &inputDate, &e.PairID, &role,
		&status, &e.MatchedWith, &matchType, &method, &audit, &dateMatched, &e.ReviewedBy, &reviewedAt)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}

	e.Period.Month = time.Month(month)
	e.Role = models.Role(role)
	e.MatchType = models.MatchType(matchType)
	e.MatchMethod = models.MatchMethod(method)
	if e.MatchStatus, err = models.ParseMatchStatus(status); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	if e.Debit, err = decimal.NewFromString(debit); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	if e.Credit, err = decimal.NewFromString(credit); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	if e.Date, err = parseTime(date); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	if e.InputDate, err = parseTime(inputDate); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	if e.DateMatched, err = parseTimePtr(dateMatched); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	if e.ReviewedAt, err = parseTimePtr(reviewedAt); err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "scan", err)
	}
	// A damaged audit payload is shown as empty rather than failing the read.
	if audit.Valid {
		e.Audit, _ = models.UnmarshalAudit([]byte(audit.String))
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
