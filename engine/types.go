/*
Package engine keeps denormalized aggregates consistent with an append-only ledger.

PURPOSE:
  This package contains the core types and algorithms of the clan points
  system: point transactions and drop submissions are recorded in append-only
  logs, and the cached summaries derived from them (account balances, team
  tile progress) are maintained through a single atomic write path.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable point transaction (the account ledger)
  - Account: A user's cached balance plus team affiliation
  - Submission: A drop claim with an explicit lifecycle (the tile ledger)
  - TileProgress: A team's cached completed-count for one tile
  - AggregateKey: Identifies exactly one cached counter

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified, only reversed by new entries
  2. Derivability: Every cached value equals a deterministic function of its log
  3. Atomicity: A log append and its aggregate update share one unit of work
  4. Auditability: Every entry carries category, reason, actor, and reference

SEE ALSO:
  - store.go: Persistence contract the engine writes through
  - maintainer.go: The single chokepoint for aggregate changes
  - submission.go: Drop submission lifecycle
*/
package engine

import (
	"strconv"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TeamID string
type TileID int64
type EntryID int64
type SubmissionID int64

// =============================================================================
// CATEGORY - Fixed enumeration of point-transaction origins
// =============================================================================

type Category string

const (
	CategoryCompetition       Category = "competition"
	CategoryCollectionLog     Category = "collection-log"
	CategoryCombatAchievement Category = "combat-achievement"
	CategoryManual            Category = "manual"
	CategoryShopPurchase      Category = "shop-purchase"
	CategoryPenalty           Category = "penalty"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryCompetition, CategoryCollectionLog, CategoryCombatAchievement,
		CategoryManual, CategoryShopPurchase, CategoryPenalty:
		return true
	}
	return false
}

// =============================================================================
// ENTRY - Immutable point transaction
// =============================================================================

// Entry is one row of the account ledger.
//
// INVARIANTS:
//   - Once written, never mutated or deleted through the engine interface.
//   - A reversal is a new entry with the opposite amount and a Reference
//     back to the original, never an edit.
type Entry struct {
	ID       EntryID
	Account  AccountID
	Amount   int64 // signed
	Category Category

	// Reference points at the originating record: a competition result,
	// a submission, a purchase, or a reversed entry.
	Reference string

	Reason string

	// Actor is the acting admin. Empty means system-generated.
	Actor string

	// IdempotencyKey, when set, makes retried appends safe: the store
	// rejects a second entry with the same key.
	IdempotencyKey string

	CreatedAt time.Time
}

// =============================================================================
// ACCOUNT - Cached balance, owned by the Aggregate Maintainer
// =============================================================================

// Account is created on the first point-affecting event for a user and is
// never deleted, only deactivated. Balance is a cache: it must equal the
// signed sum of the account's entries whenever no write is in flight.
type Account struct {
	ID        AccountID
	Team      TeamID // optional
	Balance   int64
	Active    bool
	CreatedAt time.Time
}

// =============================================================================
// SUBMISSION - Drop claim with explicit lifecycle
// =============================================================================

type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionDenied   SubmissionStatus = "denied"
	SubmissionHold     SubmissionStatus = "hold"
)

// Submission is the tile ledger's unit. Its aggregate contribution is fully
// determined by Status: "approved" contributes Quantity to the tile's
// completed-count, every other status contributes zero.
//
// The per-transition timestamp and actor columns are the audit trail; no
// separate ledger entry is written for submission transitions.
type Submission struct {
	ID       SubmissionID
	Team     TeamID
	Tile     TileID
	Account  AccountID
	Drop     string
	Quantity int64

	Status SubmissionStatus

	SubmittedAt time.Time
	ApprovedAt  *time.Time
	ApprovedBy  string
	DeniedAt    *time.Time
	DeniedBy    string
	DenyReason  string
	HeldAt      *time.Time
	HeldBy      string
	HoldReason  string
	UpdatedAt   time.Time
}

// =============================================================================
// TILE PROGRESS - Cached completed-count, one per (team, tile)
// =============================================================================

// TileProgress is a cache: CompletedCount must equal the sum of quantities
// of currently-approved submissions for (Team, Tile).
type TileProgress struct {
	Team           TeamID
	Tile           TileID
	TotalRequired  int64
	CompletedCount int64
	UpdatedAt      time.Time
}

// IsComplete reports whether the tile is finished for the team.
func (p TileProgress) IsComplete() bool {
	return p.CompletedCount >= p.TotalRequired
}

// =============================================================================
// SHOP - Items and purchases
// =============================================================================

// UnlimitedStock marks an item whose stock is not tracked.
const UnlimitedStock int64 = -1

// ShopItem definitions come from the static catalog; Stock is the only
// mutable field and only the settlement path decrements it.
type ShopItem struct {
	ID     string
	Name   string
	Cost   int64
	Stock  int64 // UnlimitedStock means no stock constraint
	Active bool
}

// Limited reports whether the item has finite stock.
func (i ShopItem) Limited() bool { return i.Stock != UnlimitedStock }

// Purchase is immutable once committed. It implies exactly one negative
// entry (EntryID) and, for limited items, one stock decrement recorded
// atomically with it.
type Purchase struct {
	ID        string // uuid
	Account   AccountID
	ItemID    string
	Quantity  int64
	TotalCost int64
	EntryID   EntryID
	CreatedAt time.Time
}

// =============================================================================
// AGGREGATE KEY - Names exactly one cached counter
// =============================================================================

type AggregateKind string

const (
	AggregateBalance AggregateKind = "balance"
	AggregateTile    AggregateKind = "tile"
)

// AggregateKey identifies the single counter a delta applies to. Mutations
// against the same key serialize; different keys proceed independently.
type AggregateKey struct {
	Kind    AggregateKind
	Account AccountID // Kind == AggregateBalance
	Team    TeamID    // Kind == AggregateTile
	Tile    TileID    // Kind == AggregateTile
}

func BalanceKey(account AccountID) AggregateKey {
	return AggregateKey{Kind: AggregateBalance, Account: account}
}

func TileKey(team TeamID, tile TileID) AggregateKey {
	return AggregateKey{Kind: AggregateTile, Team: team, Tile: tile}
}

func (k AggregateKey) String() string {
	if k.Kind == AggregateBalance {
		return "balance/" + string(k.Account)
	}
	return "tile/" + string(k.Team) + "/" + strconv.FormatInt(int64(k.Tile), 10)
}
