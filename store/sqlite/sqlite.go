/*
Package sqlite provides the SQLite-backed implementation of engine.TxStore.

PURPOSE:
  Persists the account ledger, submissions, cached aggregates, and the shop
  in one SQLite database. All writes the engine pairs together run inside a
  single database transaction via WithTx.

APPEND-ONLY ENFORCEMENT:
  The entries table has no UPDATE path. DeleteEntry is the single privileged
  exception for the reconciliation repair flow; everything else corrects by
  appending.

GUARDED UPDATES:
  Balance, stock, and tile counters change through single relative UPDATE
  statements whose WHERE clause carries the floor precondition. A guard that
  matches no row is reported as the domain error (insufficient funds, out of
  stock), never silently ignored.

CONCURRENCY:
  WAL mode with a busy timeout. SQLITE_BUSY surfaces as engine.ErrConflict
  so the Aggregate Maintainer's retry loop can absorb it. A process-level
  mutex keeps Go-side access orderly; the database remains the authority.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - engine/store.go: Interface contract
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emberclan/points-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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
	-- Entries (append-only account ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		category TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		actor TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, id);
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON entries(reference) WHERE reference != '';

	-- Accounts (cached balances)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		team TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_balance
		ON accounts(balance DESC);

	-- Submissions (tile ledger with lifecycle audit columns)
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		team TEXT NOT NULL,
		tile INTEGER NOT NULL,
		account_id TEXT NOT NULL,
		drop_name TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		submitted_at TEXT NOT NULL,
		approved_at TEXT,
		approved_by TEXT NOT NULL DEFAULT '',
		denied_at TEXT,
		denied_by TEXT NOT NULL DEFAULT '',
		deny_reason TEXT NOT NULL DEFAULT '',
		held_at TEXT,
		held_by TEXT NOT NULL DEFAULT '',
		hold_reason TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_tile
		ON submissions(team, tile, id);
	CREATE INDEX IF NOT EXISTS idx_submissions_status
		ON submissions(status);

	-- Tile progress (cached completed-counts)
	CREATE TABLE IF NOT EXISTS tile_progress (
		team TEXT NOT NULL,
		tile INTEGER NOT NULL,
		total_required INTEGER NOT NULL,
		completed_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (team, tile)
	);

	-- Shop items (definitions from the catalog; stock is the mutable field)
	CREATE TABLE IF NOT EXISTS shop_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cost INTEGER NOT NULL,
		stock INTEGER NOT NULL DEFAULT -1,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Purchases (immutable settlement records)
	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		total_cost INTEGER NOT NULL,
		entry_id INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_account
		ON purchases(account_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx, so every statement can
// run standalone or inside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: entries.idempotency_key"):
		return engine.ErrDuplicateIdempotencyKey
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return engine.ErrConflict
	}
	return &engine.StorageError{Op: op, Err: err}
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr("commit", err)
	}
	return nil
}

// txStore is the store as seen inside WithTx. The parent mutex is already
// held, so methods go straight to the transaction.
type txStore struct {
	q *sql.Tx
}

// =============================================================================
// ACCOUNT LEDGER
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e engine.Entry) (engine.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func (ts *txStore) AppendEntry(ctx context.Context, e engine.Entry) (engine.EntryID, error) {
	return appendEntry(ctx, ts.q, e)
}

func appendEntry(ctx context.Context, q querier, e engine.Entry) (engine.EntryID, error) {
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO entries (account_id, amount, category, reference, reason, actor, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Account, e.Amount, e.Category, e.Reference, e.Reason, e.Actor,
		nullString(e.IdempotencyKey),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, mapErr("append entry", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("append entry", err)
	}
	return engine.EntryID(id), nil
}

func (s *Store) DeleteEntry(ctx context.Context, id engine.EntryID) (engine.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntry(ctx, s.db, id)
}

func (ts *txStore) DeleteEntry(ctx context.Context, id engine.EntryID) (engine.Entry, error) {
	return deleteEntry(ctx, ts.q, id)
}

func deleteEntry(ctx context.Context, q querier, id engine.EntryID) (engine.Entry, error) {
	e, err := getEntry(ctx, q, id)
	if err != nil {
		return engine.Entry{}, err
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM entries WHERE id = ?", id); err != nil {
		return engine.Entry{}, mapErr("delete entry", err)
	}
	return e, nil
}

func getEntry(ctx context.Context, q querier, id engine.EntryID) (engine.Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, account_id, amount, category, reference, reason, actor, idempotency_key, created_at
		FROM entries WHERE id = ?`, id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return engine.Entry{}, engine.ErrEntryNotFound
	}
	if err != nil {
		return engine.Entry{}, mapErr("get entry", err)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (engine.Entry, error) {
	var (
		e              engine.Entry
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := row.Scan(&e.ID, &e.Account, &e.Amount, &e.Category,
		&e.Reference, &e.Reason, &e.Actor, &idempotencyKey, &createdAt)
	if err != nil {
		return e, err
	}
	e.IdempotencyKey = idempotencyKey.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

func (s *Store) SumForAccount(ctx context.Context, id engine.AccountID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumForAccount(ctx, s.db, id)
}

func (ts *txStore) SumForAccount(ctx context.Context, id engine.AccountID) (int64, error) {
	return sumForAccount(ctx, ts.q, id)
}

func sumForAccount(ctx context.Context, q querier, id engine.AccountID) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM entries WHERE account_id = ?", id,
	).Scan(&sum)
	if err != nil {
		return 0, mapErr("sum entries", err)
	}
	return sum, nil
}

func (s *Store) EntriesForAccount(ctx context.Context, id engine.AccountID) ([]engine.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entriesForAccount(ctx, s.db, id)
}

func (ts *txStore) EntriesForAccount(ctx context.Context, id engine.AccountID) ([]engine.Entry, error) {
	return entriesForAccount(ctx, ts.q, id)
}

func entriesForAccount(ctx context.Context, q querier, id engine.AccountID) ([]engine.Entry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, amount, category, reference, reason, actor, idempotency_key, created_at
		FROM entries WHERE account_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, mapErr("query entries", err)
	}
	defer rows.Close()

	var entries []engine.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, mapErr("scan entry", err)
		}
		entries = append(entries, e)
	}
	return entries, mapErr("query entries", rows.Err())
}

func (s *Store) EntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return entryExists(ctx, s.db, idempotencyKey)
}

func (ts *txStore) EntryExists(ctx context.Context, idempotencyKey string) (bool, error) {
	return entryExists(ctx, ts.q, idempotencyKey)
}

func entryExists(ctx context.Context, q querier, key string) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE idempotency_key = ?", key,
	).Scan(&count)
	if err != nil {
		return false, mapErr("entry exists", err)
	}
	return count > 0, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) EnsureAccount(ctx context.Context, id engine.AccountID, team engine.TeamID) (engine.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensureAccount(ctx, s.db, id, team)
}

func (ts *txStore) EnsureAccount(ctx context.Context, id engine.AccountID, team engine.TeamID) (engine.Account, error) {
	return ensureAccount(ctx, ts.q, id, team)
}

func ensureAccount(ctx context.Context, q querier, id engine.AccountID, team engine.TeamID) (engine.Account, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO accounts (id, team, balance, active, created_at)
		VALUES (?, ?, 0, TRUE, ?)
		ON CONFLICT(id) DO UPDATE SET
			team = CASE WHEN excluded.team != '' THEN excluded.team ELSE accounts.team END`,
		id, team, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return engine.Account{}, mapErr("ensure account", err)
	}
	return getAccount(ctx, q, id)
}

func (s *Store) GetAccount(ctx context.Context, id engine.AccountID) (engine.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAccount(ctx, s.db, id)
}

func (ts *txStore) GetAccount(ctx context.Context, id engine.AccountID) (engine.Account, error) {
	return getAccount(ctx, ts.q, id)
}

func getAccount(ctx context.Context, q querier, id engine.AccountID) (engine.Account, error) {
	var (
		a         engine.Account
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, team, balance, active, created_at FROM accounts WHERE id = ?", id,
	).Scan(&a.ID, &a.Team, &a.Balance, &a.Active, &createdAt)
	if err == sql.ErrNoRows {
		return engine.Account{}, engine.ErrAccountNotFound
	}
	if err != nil {
		return engine.Account{}, mapErr("get account", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return a, nil
}

func (s *Store) DeactivateAccount(ctx context.Context, id engine.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deactivateAccount(ctx, s.db, id)
}

func (ts *txStore) DeactivateAccount(ctx context.Context, id engine.AccountID) error {
	return deactivateAccount(ctx, ts.q, id)
}

func deactivateAccount(ctx context.Context, q querier, id engine.AccountID) error {
	res, err := q.ExecContext(ctx, "UPDATE accounts SET active = FALSE WHERE id = ?", id)
	if err != nil {
		return mapErr("deactivate account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("deactivate account", err)
	}
	if n == 0 {
		return engine.ErrAccountNotFound
	}
	return nil
}

func (s *Store) AddToBalance(ctx context.Context, id engine.AccountID, delta int64, allowNegative bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addToBalance(ctx, s.db, id, delta, allowNegative)
}

func (ts *txStore) AddToBalance(ctx context.Context, id engine.AccountID, delta int64, allowNegative bool) (int64, error) {
	return addToBalance(ctx, ts.q, id, delta, allowNegative)
}

func addToBalance(ctx context.Context, q querier, id engine.AccountID, delta int64, allowNegative bool) (int64, error) {
	// The floor rides in the WHERE clause so check and update cannot race.
	query := "UPDATE accounts SET balance = balance + ? WHERE id = ?"
	args := []any{delta, id}
	if !allowNegative {
		query += " AND balance + ? >= 0"
		args = append(args, delta)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapErr("add to balance", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr("add to balance", err)
	}
	if n == 0 {
		a, err := getAccount(ctx, q, id)
		if err != nil {
			return 0, err
		}
		return 0, &engine.InsufficientFundsError{
			Account:   id,
			Available: a.Balance,
			Required:  -delta,
		}
	}

	var balance int64
	err = q.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = ?", id).Scan(&balance)
	if err != nil {
		return 0, mapErr("add to balance", err)
	}
	return balance, nil
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]engine.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return leaderboard(ctx, s.db, limit)
}

func (ts *txStore) Leaderboard(ctx context.Context, limit int) ([]engine.Account, error) {
	return leaderboard(ctx, ts.q, limit)
}

func leaderboard(ctx context.Context, q querier, limit int) ([]engine.Account, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats negative LIMIT as unbounded
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, team, balance, active, created_at
		FROM accounts ORDER BY balance DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, mapErr("leaderboard", err)
	}
	defer rows.Close()

	var accounts []engine.Account
	for rows.Next() {
		var (
			a         engine.Account
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.Team, &a.Balance, &a.Active, &createdAt); err != nil {
			return nil, mapErr("leaderboard", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		accounts = append(accounts, a)
	}
	return accounts, mapErr("leaderboard", rows.Err())
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func (s *Store) InsertSubmission(ctx context.Context, sub engine.Submission) (engine.SubmissionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSubmission(ctx, s.db, sub)
}

func (ts *txStore) InsertSubmission(ctx context.Context, sub engine.Submission) (engine.SubmissionID, error) {
	return insertSubmission(ctx, ts.q, sub)
}

func insertSubmission(ctx context.Context, q querier, sub engine.Submission) (engine.SubmissionID, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO submissions
		(team, tile, account_id, drop_name, quantity, status, submitted_at,
		 approved_at, approved_by, denied_at, denied_by, deny_reason,
		 held_at, held_by, hold_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Team, sub.Tile, sub.Account, sub.Drop, sub.Quantity, sub.Status,
		sub.SubmittedAt.Format(time.RFC3339Nano),
		nullTime(sub.ApprovedAt), sub.ApprovedBy,
		nullTime(sub.DeniedAt), sub.DeniedBy, sub.DenyReason,
		nullTime(sub.HeldAt), sub.HeldBy, sub.HoldReason,
		sub.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, mapErr("insert submission", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapErr("insert submission", err)
	}
	return engine.SubmissionID(id), nil
}

func (s *Store) GetSubmission(ctx context.Context, id engine.SubmissionID) (engine.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSubmission(ctx, s.db, id)
}

func (ts *txStore) GetSubmission(ctx context.Context, id engine.SubmissionID) (engine.Submission, error) {
	return getSubmission(ctx, ts.q, id)
}

const submissionColumns = `id, team, tile, account_id, drop_name, quantity, status, submitted_at,
	approved_at, approved_by, denied_at, denied_by, deny_reason,
	held_at, held_by, hold_reason, updated_at`

func getSubmission(ctx context.Context, q querier, id engine.SubmissionID) (engine.Submission, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE id = ?", id)

	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return engine.Submission{}, engine.ErrSubmissionNotFound
	}
	if err != nil {
		return engine.Submission{}, mapErr("get submission", err)
	}
	return sub, nil
}

func scanSubmission(row rowScanner) (engine.Submission, error) {
	var (
		sub                    engine.Submission
		submittedAt, updatedAt string
		approvedAt, deniedAt   sql.NullString
		heldAt                 sql.NullString
	)
	err := row.Scan(&sub.ID, &sub.Team, &sub.Tile, &sub.Account, &sub.Drop,
		&sub.Quantity, &sub.Status, &submittedAt,
		&approvedAt, &sub.ApprovedBy,
		&deniedAt, &sub.DeniedBy, &sub.DenyReason,
		&heldAt, &sub.HeldBy, &sub.HoldReason,
		&updatedAt)
	if err != nil {
		return sub, err
	}
	sub.SubmittedAt, _ = time.Parse(time.RFC3339Nano, submittedAt)
	sub.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	sub.ApprovedAt = parseNullTime(approvedAt)
	sub.DeniedAt = parseNullTime(deniedAt)
	sub.HeldAt = parseNullTime(heldAt)
	return sub, nil
}

func (s *Store) UpdateSubmission(ctx context.Context, sub engine.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateSubmission(ctx, s.db, sub)
}

func (ts *txStore) UpdateSubmission(ctx context.Context, sub engine.Submission) error {
	return updateSubmission(ctx, ts.q, sub)
}

func updateSubmission(ctx context.Context, q querier, sub engine.Submission) error {
	res, err := q.ExecContext(ctx, `
		UPDATE submissions SET
			status = ?,
			approved_at = ?, approved_by = ?,
			denied_at = ?, denied_by = ?, deny_reason = ?,
			held_at = ?, held_by = ?, hold_reason = ?,
			updated_at = ?
		WHERE id = ?`,
		sub.Status,
		nullTime(sub.ApprovedAt), sub.ApprovedBy,
		nullTime(sub.DeniedAt), sub.DeniedBy, sub.DenyReason,
		nullTime(sub.HeldAt), sub.HeldBy, sub.HoldReason,
		sub.UpdatedAt.Format(time.RFC3339Nano),
		sub.ID,
	)
	if err != nil {
		return mapErr("update submission", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("update submission", err)
	}
	if n == 0 {
		return engine.ErrSubmissionNotFound
	}
	return nil
}

func (s *Store) DeleteSubmission(ctx context.Context, id engine.SubmissionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteSubmission(ctx, s.db, id)
}

func (ts *txStore) DeleteSubmission(ctx context.Context, id engine.SubmissionID) error {
	return deleteSubmission(ctx, ts.q, id)
}

func deleteSubmission(ctx context.Context, q querier, id engine.SubmissionID) error {
	res, err := q.ExecContext(ctx, "DELETE FROM submissions WHERE id = ?", id)
	if err != nil {
		return mapErr("delete submission", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("delete submission", err)
	}
	if n == 0 {
		return engine.ErrSubmissionNotFound
	}
	return nil
}

func (s *Store) SubmissionsForTile(ctx context.Context, team engine.TeamID, tile engine.TileID) ([]engine.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return submissionsForTile(ctx, s.db, team, tile)
}

func (ts *txStore) SubmissionsForTile(ctx context.Context, team engine.TeamID, tile engine.TileID) ([]engine.Submission, error) {
	return submissionsForTile(ctx, ts.q, team, tile)
}

func submissionsForTile(ctx context.Context, q querier, team engine.TeamID, tile engine.TileID) ([]engine.Submission, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+submissionColumns+" FROM submissions WHERE team = ? AND tile = ? ORDER BY id ASC",
		team, tile)
	if err != nil {
		return nil, mapErr("query submissions", err)
	}
	defer rows.Close()

	var subs []engine.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, mapErr("scan submission", err)
		}
		subs = append(subs, sub)
	}
	return subs, mapErr("query submissions", rows.Err())
}

func (s *Store) ApprovedQuantityForTile(ctx context.Context, team engine.TeamID, tile engine.TileID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return approvedQuantityForTile(ctx, s.db, team, tile)
}

func (ts *txStore) ApprovedQuantityForTile(ctx context.Context, team engine.TeamID, tile engine.TileID) (int64, error) {
	return approvedQuantityForTile(ctx, ts.q, team, tile)
}

func approvedQuantityForTile(ctx context.Context, q querier, team engine.TeamID, tile engine.TileID) (int64, error) {
	var sum int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0) FROM submissions
		WHERE team = ? AND tile = ? AND status = 'approved'`,
		team, tile,
	).Scan(&sum)
	if err != nil {
		return 0, mapErr("approved quantity", err)
	}
	return sum, nil
}

// =============================================================================
// TILE PROGRESS
// =============================================================================

func (s *Store) EnsureTileProgress(ctx context.Context, team engine.TeamID, tile engine.TileID, totalRequired int64) (engine.TileProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ensureTileProgress(ctx, s.db, team, tile, totalRequired)
}

func (ts *txStore) EnsureTileProgress(ctx context.Context, team engine.TeamID, tile engine.TileID, totalRequired int64) (engine.TileProgress, error) {
	return ensureTileProgress(ctx, ts.q, team, tile, totalRequired)
}

func ensureTileProgress(ctx context.Context, q querier, team engine.TeamID, tile engine.TileID, totalRequired int64) (engine.TileProgress, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tile_progress (team, tile, total_required, completed_count, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(team, tile) DO NOTHING`,
		team, tile, totalRequired, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return engine.TileProgress{}, mapErr("ensure tile progress", err)
	}
	return getTileProgress(ctx, q, team, tile)
}

func (s *Store) GetTileProgress(ctx context.Context, team engine.TeamID, tile engine.TileID) (engine.TileProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTileProgress(ctx, s.db, team, tile)
}

func (ts *txStore) GetTileProgress(ctx context.Context, team engine.TeamID, tile engine.TileID) (engine.TileProgress, error) {
	return getTileProgress(ctx, ts.q, team, tile)
}

func getTileProgress(ctx context.Context, q querier, team engine.TeamID, tile engine.TileID) (engine.TileProgress, error) {
	var (
		p         engine.TileProgress
		updatedAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT team, tile, total_required, completed_count, updated_at
		FROM tile_progress WHERE team = ? AND tile = ?`,
		team, tile,
	).Scan(&p.Team, &p.Tile, &p.TotalRequired, &p.CompletedCount, &updatedAt)
	if err == sql.ErrNoRows {
		return engine.TileProgress{}, engine.ErrTileNotFound
	}
	if err != nil {
		return engine.TileProgress{}, mapErr("get tile progress", err)
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

func (s *Store) AddToTileProgress(ctx context.Context, team engine.TeamID, tile engine.TileID, delta int64) (engine.TileProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addToTileProgress(ctx, s.db, team, tile, delta)
}

func (ts *txStore) AddToTileProgress(ctx context.Context, team engine.TeamID, tile engine.TileID, delta int64) (engine.TileProgress, error) {
	return addToTileProgress(ctx, ts.q, team, tile, delta)
}

func addToTileProgress(ctx context.Context, q querier, team engine.TeamID, tile engine.TileID, delta int64) (engine.TileProgress, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE tile_progress
		SET completed_count = completed_count + ?, updated_at = ?
		WHERE team = ? AND tile = ? AND completed_count + ? >= 0`,
		delta, time.Now().UTC().Format(time.RFC3339Nano), team, tile, delta,
	)
	if err != nil {
		return engine.TileProgress{}, mapErr("add to tile progress", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return engine.TileProgress{}, mapErr("add to tile progress", err)
	}
	if n == 0 {
		// Row missing or guard tripped. A count below zero can only mean
		// a stale or double-applied delta, reported as a conflict.
		if _, err := getTileProgress(ctx, q, team, tile); err != nil {
			return engine.TileProgress{}, err
		}
		return engine.TileProgress{}, engine.ErrConflict
	}
	return getTileProgress(ctx, q, team, tile)
}

func (s *Store) TeamProgress(ctx context.Context, team engine.TeamID) ([]engine.TileProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return teamProgress(ctx, s.db, team)
}

func (ts *txStore) TeamProgress(ctx context.Context, team engine.TeamID) ([]engine.TileProgress, error) {
	return teamProgress(ctx, ts.q, team)
}

func teamProgress(ctx context.Context, q querier, team engine.TeamID) ([]engine.TileProgress, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT team, tile, total_required, completed_count, updated_at
		FROM tile_progress WHERE team = ? ORDER BY tile ASC`, team)
	if err != nil {
		return nil, mapErr("team progress", err)
	}
	defer rows.Close()

	var out []engine.TileProgress
	for rows.Next() {
		var (
			p         engine.TileProgress
			updatedAt string
		)
		if err := rows.Scan(&p.Team, &p.Tile, &p.TotalRequired, &p.CompletedCount, &updatedAt); err != nil {
			return nil, mapErr("team progress", err)
		}
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, p)
	}
	return out, mapErr("team progress", rows.Err())
}

// =============================================================================
// SHOP
// =============================================================================

func (s *Store) UpsertItem(ctx context.Context, item engine.ShopItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertItem(ctx, s.db, item)
}

func (ts *txStore) UpsertItem(ctx context.Context, item engine.ShopItem) error {
	return upsertItem(ctx, ts.q, item)
}

func upsertItem(ctx context.Context, q querier, item engine.ShopItem) error {
	// Stock is state: seeded on first insert, untouched on catalog refresh.
	_, err := q.ExecContext(ctx, `
		INSERT INTO shop_items (id, name, cost, stock, active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cost = excluded.cost,
			active = excluded.active`,
		item.ID, item.Name, item.Cost, item.Stock, item.Active,
	)
	return mapErr("upsert item", err)
}

func (s *Store) GetItem(ctx context.Context, id string) (engine.ShopItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.db, id)
}

func (ts *txStore) GetItem(ctx context.Context, id string) (engine.ShopItem, error) {
	return getItem(ctx, ts.q, id)
}

func getItem(ctx context.Context, q querier, id string) (engine.ShopItem, error) {
	var item engine.ShopItem
	err := q.QueryRowContext(ctx,
		"SELECT id, name, cost, stock, active FROM shop_items WHERE id = ? AND active = TRUE", id,
	).Scan(&item.ID, &item.Name, &item.Cost, &item.Stock, &item.Active)
	if err == sql.ErrNoRows {
		return engine.ShopItem{}, engine.ErrItemNotFound
	}
	if err != nil {
		return engine.ShopItem{}, mapErr("get item", err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context) ([]engine.ShopItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listItems(ctx, s.db)
}

func (ts *txStore) ListItems(ctx context.Context) ([]engine.ShopItem, error) {
	return listItems(ctx, ts.q)
}

func listItems(ctx context.Context, q querier) ([]engine.ShopItem, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, name, cost, stock, active FROM shop_items WHERE active = TRUE ORDER BY id ASC")
	if err != nil {
		return nil, mapErr("list items", err)
	}
	defer rows.Close()

	var items []engine.ShopItem
	for rows.Next() {
		var item engine.ShopItem
		if err := rows.Scan(&item.ID, &item.Name, &item.Cost, &item.Stock, &item.Active); err != nil {
			return nil, mapErr("list items", err)
		}
		items = append(items, item)
	}
	return items, mapErr("list items", rows.Err())
}

func (s *Store) AddToStock(ctx context.Context, id string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return addToStock(ctx, s.db, id, delta)
}

func (ts *txStore) AddToStock(ctx context.Context, id string, delta int64) (int64, error) {
	return addToStock(ctx, ts.q, id, delta)
}

func addToStock(ctx context.Context, q querier, id string, delta int64) (int64, error) {
	var stock int64
	err := q.QueryRowContext(ctx, "SELECT stock FROM shop_items WHERE id = ?", id).Scan(&stock)
	if err == sql.ErrNoRows {
		return 0, engine.ErrItemNotFound
	}
	if err != nil {
		return 0, mapErr("add to stock", err)
	}
	if stock == engine.UnlimitedStock {
		return engine.UnlimitedStock, nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE shop_items
		SET stock = stock + ?
		WHERE id = ? AND stock != ? AND stock + ? >= 0`,
		delta, id, engine.UnlimitedStock, delta,
	)
	if err != nil {
		return 0, mapErr("add to stock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapErr("add to stock", err)
	}
	if n == 0 {
		return 0, &engine.OutOfStockError{ItemID: id, Available: stock, Requested: -delta}
	}

	err = q.QueryRowContext(ctx, "SELECT stock FROM shop_items WHERE id = ?", id).Scan(&stock)
	if err != nil {
		return 0, mapErr("add to stock", err)
	}
	return stock, nil
}

func (s *Store) InsertPurchase(ctx context.Context, p engine.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertPurchase(ctx, s.db, p)
}

func (ts *txStore) InsertPurchase(ctx context.Context, p engine.Purchase) error {
	return insertPurchase(ctx, ts.q, p)
}

func insertPurchase(ctx context.Context, q querier, p engine.Purchase) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO purchases (id, account_id, item_id, quantity, total_cost, entry_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Account, p.ItemID, p.Quantity, p.TotalCost, p.EntryID,
		p.CreatedAt.Format(time.RFC3339Nano),
	)
	return mapErr("insert purchase", err)
}

func (s *Store) PurchasesForAccount(ctx context.Context, id engine.AccountID) ([]engine.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return purchasesForAccount(ctx, s.db, id)
}

func (ts *txStore) PurchasesForAccount(ctx context.Context, id engine.AccountID) ([]engine.Purchase, error) {
	return purchasesForAccount(ctx, ts.q, id)
}

func purchasesForAccount(ctx context.Context, q querier, id engine.AccountID) ([]engine.Purchase, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, account_id, item_id, quantity, total_cost, entry_id, created_at
		FROM purchases WHERE account_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, mapErr("query purchases", err)
	}
	defer rows.Close()

	var purchases []engine.Purchase
	for rows.Next() {
		var (
			p         engine.Purchase
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Account, &p.ItemID, &p.Quantity, &p.TotalCost, &p.EntryID, &createdAt); err != nil {
			return nil, mapErr("query purchases", err)
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		purchases = append(purchases, p)
	}
	return purchases, mapErr("query purchases", rows.Err())
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}
