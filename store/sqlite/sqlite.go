/*
Package sqlite provides the SQLite-backed ledger store.

PURPOSE:
  Implements economy.SettlementStore plus the account/income/journal CRUD
  that the ops surface uses. The same file owns the schema; it is
  auto-migrated on New().

KEY TABLES:
  users:            participant balances and research points
  currency_income:  recurring currency income records, one per user+source
  research_income:  recurring research income records, one per user+source
  settlement_runs:  the settlement journal (one row per run date)

EXCLUSIVE WRITES:
  The connection string carries _txlock=immediate, so every transaction
  opened through BeginSettlement issues BEGIN IMMEDIATE and takes the
  write lock up front. Combined with a single pooled connection this
  serializes settlements against command-layer writes instead of letting
  them interleave.

WAL MODE:
  The database is opened with WAL so concurrent balance reads never block
  behind a running settlement.

USAGE:
  store, err := sqlite.New("./data/countermeasure.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - economy/store.go: interface definitions
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/countermeasure/economy-engine/economy"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite allows a single writer anyway, and the pool
	// then queues concurrent settlements instead of failing them.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0,
		research INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Income records: one row per user+source, amount may be NULL.
	-- NULL contributes zero at settlement time.
	CREATE TABLE IF NOT EXISTS currency_income (
		user_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		amount INTEGER,
		PRIMARY KEY (user_id, source_name),
		FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS research_income (
		user_id TEXT NOT NULL,
		source_name TEXT NOT NULL,
		amount INTEGER,
		PRIMARY KEY (user_id, source_name),
		FOREIGN KEY (user_id) REFERENCES users(user_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_currency_income_user ON currency_income(user_id);
	CREATE INDEX IF NOT EXISTS idx_research_income_user ON research_income(user_id);

	-- Settlement journal: at most one row per run date.
	CREATE TABLE IF NOT EXISTS settlement_runs (
		run_date TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK(status IN ('started','complete','failed')),
		started_at TEXT NOT NULL,
		finished_at TEXT,
		error_msg TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_settlement_runs_status ON settlement_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// incomeTable maps an income kind to its table. Whitelist, never
// interpolate caller input into SQL.
func incomeTable(kind economy.IncomeKind) (string, error) {
	switch kind {
	case economy.IncomeCurrency:
		return "currency_income", nil
	case economy.IncomeResearch:
		return "research_income", nil
	default:
		return "", fmt.Errorf("unknown income kind %q", kind)
	}
}

// =============================================================================
// SETTLEMENT STORE (economy.SettlementStore interface)
// =============================================================================

// BeginSettlement opens an exclusive write transaction (BEGIN IMMEDIATE).
func (s *Store) BeginSettlement(ctx context.Context) (economy.SettlementTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin settlement transaction: %w", err)
	}
	return &settlementTx{tx: tx}, nil
}

// LastCompletedRun returns the most recent complete run date, if any.
func (s *Store) LastCompletedRun(ctx context.Context) (economy.Date, bool, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(run_date) FROM settlement_runs WHERE status = 'complete'",
	).Scan(&raw)
	if err != nil {
		return economy.Date{}, false, fmt.Errorf("failed to read journal: %w", err)
	}
	if !raw.Valid {
		return economy.Date{}, false, nil
	}
	d, err := economy.ParseDate(raw.String)
	if err != nil {
		return economy.Date{}, false, err
	}
	return d, true, nil
}

// MarkRunFailed records a failed run in its own transaction, so the status
// outlives the settlement rollback that preceded it.
func (s *Store) MarkRunFailed(ctx context.Context, date economy.Date, startedAt, finishedAt time.Time, detail string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin failure transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-insertion is a no-op when the started row is still there.
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO settlement_runs(run_date, status, started_at) VALUES (?, 'started', ?)",
		date.String(), startedAt.UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to upsert journal row: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE settlement_runs SET status = 'failed', finished_at = ?, error_msg = ? WHERE run_date = ?",
		finishedAt.UTC().Format(time.RFC3339), detail, date.String(),
	); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}

	return tx.Commit()
}

// settlementTx implements economy.SettlementTx on one *sql.Tx.
type settlementTx struct {
	tx *sql.Tx
}

func (st *settlementTx) ClaimRun(ctx context.Context, date economy.Date, startedAt time.Time) (bool, economy.RunStatus, error) {
	res, err := st.tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO settlement_runs(run_date, status, started_at) VALUES (?, 'started', ?)",
		date.String(), startedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, "", fmt.Errorf("failed to claim run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", err
	}
	if n > 0 {
		return true, "", nil
	}

	var status string
	err = st.tx.QueryRowContext(ctx,
		"SELECT status FROM settlement_runs WHERE run_date = ?", date.String(),
	).Scan(&status)
	if err != nil {
		return false, "", fmt.Errorf("failed to read existing run status: %w", err)
	}
	return false, economy.RunStatus(status), nil
}

func (st *settlementTx) SumIncomeByUser(ctx context.Context, kind economy.IncomeKind) (map[economy.UserID]int64, error) {
	table, err := incomeTable(kind)
	if err != nil {
		return nil, err
	}

	rows, err := st.tx.QueryContext(ctx,
		"SELECT user_id, SUM(COALESCE(amount, 0)) FROM "+table+" GROUP BY user_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum %s income: %w", kind, err)
	}
	defer rows.Close()

	sums := make(map[economy.UserID]int64)
	for rows.Next() {
		var id string
		var total int64
		if err := rows.Scan(&id, &total); err != nil {
			return nil, err
		}
		sums[economy.UserID(id)] = total
	}
	return sums, rows.Err()
}

// ApplyCredits applies every credit in a single statement: a VALUES CTE of
// (user, currency, research) triples joined back into users via scalar
// subqueries. Users outside the CTE are untouched.
func (st *settlementTx) ApplyCredits(ctx context.Context, credits map[economy.UserID]economy.Credit) error {
	if len(credits) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(credits))
	args := make([]any, 0, len(credits)*3)
	for id, c := range credits {
		placeholders = append(placeholders, "(?, ?, ?)")
		args = append(args, string(id), c.Currency, c.Research)
	}

	query := `
		WITH credits(user_id, cr, rp) AS (VALUES ` + strings.Join(placeholders, ", ") + `)
		UPDATE users
		SET balance = balance
			+ COALESCE((SELECT c.cr FROM credits c WHERE c.user_id = users.user_id), 0),
		    research = research
			+ COALESCE((SELECT c.rp FROM credits c WHERE c.user_id = users.user_id), 0)
		WHERE EXISTS (SELECT 1 FROM credits c WHERE c.user_id = users.user_id)
	`

	if _, err := st.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to apply credits: %w", err)
	}
	return nil
}

func (st *settlementTx) CompleteRun(ctx context.Context, date economy.Date, finishedAt time.Time) error {
	_, err := st.tx.ExecContext(ctx,
		"UPDATE settlement_runs SET status = 'complete', finished_at = ? WHERE run_date = ?",
		finishedAt.UTC().Format(time.RFC3339), date.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

func (st *settlementTx) Commit() error {
	return st.tx.Commit()
}

func (st *settlementTx) Rollback() error {
	return st.tx.Rollback()
}

// =============================================================================
// USERS
// =============================================================================

// RegisterUser inserts a user if absent. Returns true when the row is new;
// registering an existing user is a no-op.
func (s *Store) RegisterUser(ctx context.Context, id economy.UserID, username string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users(user_id, username, created_at) VALUES (?, ?, ?)",
		string(id), username, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("failed to register user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetUser retrieves one account.
func (s *Store) GetUser(ctx context.Context, id economy.UserID) (*economy.User, error) {
	var u economy.User
	var rawID, createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, username, balance, research, created_at FROM users WHERE user_id = ?",
		string(id),
	).Scan(&rawID, &u.Username, &u.Balance, &u.Research, &createdAt)
	if err == sql.ErrNoRows {
		return nil, economy.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	u.ID = economy.UserID(rawID)
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// ListUsers returns all accounts ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]economy.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, username, balance, research, created_at FROM users ORDER BY user_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []economy.User
	for rows.Next() {
		var u economy.User
		var rawID, createdAt string
		if err := rows.Scan(&rawID, &u.Username, &u.Balance, &u.Research, &createdAt); err != nil {
			return nil, err
		}
		u.ID = economy.UserID(rawID)
		u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes an account; income records cascade.
func (s *Store) DeleteUser(ctx context.Context, id economy.UserID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE user_id = ?", string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// INCOME RECORDS
// =============================================================================

// UpsertIncome creates or replaces one income record. The owning user must
// exist (enforced by the foreign key).
func (s *Store) UpsertIncome(ctx context.Context, rec economy.IncomeRecord) error {
	table, err := incomeTable(rec.Kind)
	if err != nil {
		return err
	}

	var amount sql.NullInt64
	if rec.Amount != nil {
		amount = sql.NullInt64{Int64: *rec.Amount, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO "+table+"(user_id, source_name, amount) VALUES (?, ?, ?) "+
			"ON CONFLICT(user_id, source_name) DO UPDATE SET amount = excluded.amount",
		string(rec.UserID), rec.SourceName, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert income record: %w", err)
	}
	return nil
}

// DeleteIncome removes one income record.
func (s *Store) DeleteIncome(ctx context.Context, userID economy.UserID, kind economy.IncomeKind, source string) error {
	table, err := incomeTable(kind)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM "+table+" WHERE user_id = ? AND source_name = ?",
		string(userID), source,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return economy.ErrIncomeNotFound
	}
	return nil
}

// ListIncome returns every income record of both kinds for one user.
func (s *Store) ListIncome(ctx context.Context, userID economy.UserID) ([]economy.IncomeRecord, error) {
	var records []economy.IncomeRecord
	for _, kind := range []economy.IncomeKind{economy.IncomeCurrency, economy.IncomeResearch} {
		table, err := incomeTable(kind)
		if err != nil {
			return nil, err
		}

		rows, err := s.db.QueryContext(ctx,
			"SELECT user_id, source_name, amount FROM "+table+" WHERE user_id = ? ORDER BY source_name",
			string(userID),
		)
		if err != nil {
			return nil, err
		}

		for rows.Next() {
			rec := economy.IncomeRecord{Kind: kind}
			var rawID string
			var amount sql.NullInt64
			if err := rows.Scan(&rawID, &rec.SourceName, &amount); err != nil {
				rows.Close()
				return nil, err
			}
			rec.UserID = economy.UserID(rawID)
			if amount.Valid {
				v := amount.Int64
				rec.Amount = &v
			}
			records = append(records, rec)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return records, nil
}

// =============================================================================
// JOURNAL QUERIES
// =============================================================================

// ListJournal returns the newest journal entries first.
func (s *Store) ListJournal(ctx context.Context, limit int) ([]economy.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_date, status, started_at, finished_at, error_msg FROM settlement_runs ORDER BY run_date DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []economy.JournalEntry
	for rows.Next() {
		var e economy.JournalEntry
		var runDate, status, startedAt string
		var finishedAt, errorMsg sql.NullString
		if err := rows.Scan(&runDate, &status, &startedAt, &finishedAt, &errorMsg); err != nil {
			return nil, err
		}
		e.Status = economy.RunStatus(status)
		if e.RunDate, err = economy.ParseDate(runDate); err != nil {
			return nil, err
		}
		e.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAt.String)
			e.FinishedAt = &t
		}
		e.ErrorMsg = errorMsg.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// JournalStatus returns the status of one run date, if journaled.
func (s *Store) JournalStatus(ctx context.Context, date economy.Date) (economy.RunStatus, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM settlement_runs WHERE run_date = ?", date.String(),
	).Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return economy.RunStatus(status), true, nil
}

// =============================================================================
// STATS
// =============================================================================

// Totals aggregates the account table for the stats report.
func (s *Store) Totals(ctx context.Context) (users, balance, research int64, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(balance), 0), COALESCE(SUM(research), 0) FROM users",
	).Scan(&users, &balance, &research)
	return users, balance, research, err
}

// ScheduledIncome returns the total credit that one settlement period would
// currently distribute, per kind.
func (s *Store) ScheduledIncome(ctx context.Context) (currency, research int64, err error) {
	if err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(COALESCE(amount, 0)), 0) FROM currency_income",
	).Scan(&currency); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(COALESCE(amount, 0)), 0) FROM research_income",
	).Scan(&research)
	return currency, research, err
}
