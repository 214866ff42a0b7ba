package store

// dialect holds the statements that differ between sqlite and mysql.
type dialect struct {
	name       string
	driver     string
	migrations []string
	// lockRows is appended to reads inside Update so the rows a
	// transaction decides on stay locked until it commits.
	lockRows string
}

var sqliteDialect = dialect{
	name:   DriverSQLite,
	driver: "sqlite",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			uid             TEXT PRIMARY KEY,
			company         TEXT NOT NULL,
			counterparty    TEXT NOT NULL,
			lender          TEXT NOT NULL,
			borrower        TEXT NOT NULL,
			statement_month INTEGER NOT NULL,
			statement_year  INTEGER NOT NULL,
			entry_date      TEXT NOT NULL,
			narration       TEXT NOT NULL DEFAULT '',
			voucher_type    TEXT NOT NULL DEFAULT '',
			voucher_no      TEXT NOT NULL DEFAULT '',
			debit           TEXT NOT NULL DEFAULT '0',
			credit          TEXT NOT NULL DEFAULT '0',
			entered_by      TEXT NOT NULL DEFAULT '',
			input_date      TEXT NOT NULL DEFAULT '',
			pair_id         TEXT NOT NULL DEFAULT '',
			role            TEXT NOT NULL,
			match_status    TEXT NOT NULL DEFAULT 'unmatched',
			matched_with    TEXT NOT NULL DEFAULT '',
			match_type      TEXT NOT NULL DEFAULT '',
			match_method    TEXT NOT NULL DEFAULT '',
			audit_info      TEXT,
			date_matched    TEXT NOT NULL DEFAULT '',
			reviewed_by     TEXT NOT NULL DEFAULT '',
			reviewed_at     TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_scope ON ledger_entries(statement_year, statement_month, lender, borrower)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_status ON ledger_entries(match_status)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_pair_id ON ledger_entries(pair_id)`,
	},
}

var mysqlDialect = dialect{
	name:     DriverMySQL,
	driver:   "mysql",
	lockRows: " FOR UPDATE",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			uid             VARCHAR(191) NOT NULL PRIMARY KEY,
			company         VARCHAR(191) NOT NULL,
			counterparty    VARCHAR(191) NOT NULL,
			lender          VARCHAR(191) NOT NULL,
			borrower        VARCHAR(191) NOT NULL,
			statement_month INT NOT NULL,
			statement_year  INT NOT NULL,
			entry_date      VARCHAR(40) NOT NULL,
			narration       TEXT NOT NULL,
			voucher_type    VARCHAR(64) NOT NULL DEFAULT '',
			voucher_no      VARCHAR(64) NOT NULL DEFAULT '',
			debit           VARCHAR(40) NOT NULL DEFAULT '0',
			credit          VARCHAR(40) NOT NULL DEFAULT '0',
			entered_by      VARCHAR(191) NOT NULL DEFAULT '',
			input_date      VARCHAR(40) NOT NULL DEFAULT '',
			pair_id         VARCHAR(64) NOT NULL DEFAULT '',
			role            VARCHAR(16) NOT NULL,
			match_status    VARCHAR(16) NOT NULL DEFAULT 'unmatched',
			matched_with    VARCHAR(191) NOT NULL DEFAULT '',
			match_type      VARCHAR(32) NOT NULL DEFAULT '',
			match_method    VARCHAR(32) NOT NULL DEFAULT '',
			audit_info      TEXT NULL,
			date_matched    VARCHAR(40) NOT NULL DEFAULT '',
			reviewed_by     VARCHAR(191) NOT NULL DEFAULT '',
			reviewed_at     VARCHAR(40) NOT NULL DEFAULT '',
			INDEX idx_ledger_scope (statement_year, statement_month, lender, borrower),
			INDEX idx_ledger_status (match_status),
			INDEX idx_ledger_pair_id (pair_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	},
}

const entryColumns = `uid, company, counterparty, lender, borrower, statement_month, statement_year,
	entry_date, narration, voucher_type, voucher_no, debit, credit, entered_by, input_date, pair_id, role,
	match_status, matched_with, match_type, match_method, audit_info, date_matched, reviewed_by, reviewed_at`

const insertEntry = `INSERT INTO ledger_entries (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateMatch = `UPDATE ledger_entries SET
	match_status = ?, matched_with = ?, match_type = ?, match_method = ?, audit_info = ?,
	date_matched = ?, reviewed_by = ?, reviewed_at = ?
	WHERE uid = ?`

const clearMatch = `UPDATE ledger_entries SET
	match_status = 'unmatched', matched_with = '', match_type = '', match_method = '', audit_info = NULL,
	date_matched = '', reviewed_by = '', reviewed_at = ''
	WHERE uid = ?`
