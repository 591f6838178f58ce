/*
store.go - Persistence interface for the ledger and its aggregates

PURPOSE:
  Defines the contract between the engine and the database. The Store covers
  both append-only logs (point entries, submissions) and the cached
  aggregates derived from them (account balances, tile progress), because a
  ledger append and its aggregate update must share one unit of work.

APPEND-ONLY CONTRACT:
  The entries table has no update path. AppendEntry is the only write;
  corrections are compensating entries. DeleteEntry exists solely for the
  Reconciliation Engine's privileged repair path, which also corrects the
  aggregate in the same unit of work.

GUARDED UPDATES:
  AddToBalance and AddToStock are relative, precondition-guarded updates
  ("add delta unless the result would violate the floor"). Implementations
  enforce the guard inside the same statement or transaction so concurrent
  writers against the same key serialize without a process-wide lock.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (WAL, BUSY -> ErrConflict)
  - engine/store: In-memory for tests and dev

SEE ALSO:
  - maintainer.go: The only caller allowed to pair appends with updates
  - store/sqlite/sqlite.go: Concrete implementation
*/
package engine

import "context"

// =============================================================================
// STORE - Full persisted surface
// =============================================================================

// Store is the durable surface the engine writes through. Within WithTx all
// methods operate on the same underlying transaction.
type Store interface {
	// --- Account ledger (append-only) ---

	// AppendEntry persists an entry and returns its store-assigned id.
	// Fails with ErrDuplicateIdempotencyKey if the key already exists.
	AppendEntry(ctx context.Context, e Entry) (EntryID, error)

	// DeleteEntry removes an entry. PRIVILEGED: only the reconciliation
	// repair path may call this, and it must correct the aggregate in the
	// same unit of work. Returns the removed entry.
	DeleteEntry(ctx context.Context, id EntryID) (Entry, error)

	// SumForAccount returns the signed sum of the account's entries.
	SumForAccount(ctx context.Context, id AccountID) (int64, error)

	// EntriesForAccount returns the account's entries in append order.
	EntriesForAccount(ctx context.Context, id AccountID) ([]Entry, error)

	// EntryExists checks whether an idempotency key was already used.
	EntryExists(ctx context.Context, idempotencyKey string) (bool, error)

	// --- Accounts (cached balances) ---

	// EnsureAccount creates the account on first use and returns it.
	// An existing account keeps its balance and active flag; a non-empty
	// team updates the affiliation.
	EnsureAccount(ctx context.Context, id AccountID, team TeamID) (Account, error)

	// GetAccount fails with ErrAccountNotFound for unknown ids.
	GetAccount(ctx context.Context, id AccountID) (Account, error)

	// DeactivateAccount marks the account inactive. Accounts are never deleted.
	DeactivateAccount(ctx context.Context, id AccountID) error

	// AddToBalance applies a relative delta and returns the new balance.
	// With allowNegative false it fails with ErrInsufficientFunds when the
	// result would be below zero, writing nothing.
	AddToBalance(ctx context.Context, id AccountID, delta int64, allowNegative bool) (int64, error)

	// Leaderboard returns accounts ordered by balance, highest first.
	Leaderboard(ctx context.Context, limit int) ([]Account, error)

	// --- Submissions (tile ledger) ---

	InsertSubmission(ctx context.Context, s Submission) (SubmissionID, error)
	GetSubmission(ctx context.Context, id SubmissionID) (Submission, error)

	// UpdateSubmission rewrites the mutable state of one submission.
	UpdateSubmission(ctx context.Context, s Submission) error

	// DeleteSubmission removes a submission. PRIVILEGED: only the admin
	// purge path may call this, after reversing the aggregate contribution.
	DeleteSubmission(ctx context.Context, id SubmissionID) error

	// SubmissionsForTile returns the tile's submissions in insertion order.
	// Insertion order is the only meaningful order.
	SubmissionsForTile(ctx context.Context, team TeamID, tile TileID) ([]Submission, error)

	// ApprovedQuantityForTile sums the quantities of currently-approved
	// submissions for (team, tile). This is the tile's recomputed value.
	ApprovedQuantityForTile(ctx context.Context, team TeamID, tile TileID) (int64, error)

	// --- Tile progress (cached counts) ---

	// EnsureTileProgress creates the (team, tile) row on first use.
	EnsureTileProgress(ctx context.Context, team TeamID, tile TileID, totalRequired int64) (TileProgress, error)

	// GetTileProgress fails with ErrTileNotFound for unknown pairs.
	GetTileProgress(ctx context.Context, team TeamID, tile TileID) (TileProgress, error)

	// AddToTileProgress applies a relative delta to the completed-count and
	// returns the updated row. A result below zero fails: it can only mean
	// a stale or double-applied delta.
	AddToTileProgress(ctx context.Context, team TeamID, tile TileID, delta int64) (TileProgress, error)

	// TeamProgress returns all progress rows for a team, by tile.
	TeamProgress(ctx context.Context, team TeamID) ([]TileProgress, error)

	// --- Shop ---

	// UpsertItem creates or refreshes an item definition from the catalog.
	// Stock is seeded on create and preserved on update.
	UpsertItem(ctx context.Context, item ShopItem) error

	// GetItem fails with ErrItemNotFound for unknown or inactive items.
	GetItem(ctx context.Context, id string) (ShopItem, error)

	ListItems(ctx context.Context) ([]ShopItem, error)

	// AddToStock applies a relative delta to a limited item's stock and
	// returns the new value. Unlimited items are untouched and report
	// UnlimitedStock. A result below zero fails with ErrOutOfStock,
	// writing nothing.
	AddToStock(ctx context.Context, id string, delta int64) (int64, error)

	InsertPurchase(ctx context.Context, p Purchase) error
	PurchasesForAccount(ctx context.Context, id AccountID) ([]Purchase, error)
}

// =============================================================================
// TRANSACTIONAL STORE - The atomic unit of work
// =============================================================================

// TxStore wraps Store with transaction support. WithTx executes fn within a
// transaction: if fn returns an error the transaction is rolled back and no
// partial state is visible; otherwise it commits.
//
// Contention between units of work on the same aggregate key surfaces as
// ErrConflict from the failing call; the Aggregate Maintainer owns the
// retry policy.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
