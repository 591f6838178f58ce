/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, EntryDTO, PurchaseDTO

  Awards:
    CompetitionAwardRequest, TierAwardRequest, AdjustmentRequest,
    PenaltyRequest, AwardResultDTO

  Submissions:
    SubmitDropRequest, TransitionRequest, SubmissionDTO, TileProgressDTO

  Shop:
    PurchaseRequest, RefundRequest, ShopItemDTO

  Reconciliation:
    ReportDTO

VALIDATION:
  Validation is done in handlers and domain services, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/types.go: Domain model these mirror
*/
package api

import (
	"time"

	"github.com/emberclan/points-engine/engine"
	"github.com/emberclan/points-engine/points"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents a point account in API responses.
type AccountDTO struct {
	ID        string `json:"id"`
	Team      string `json:"team,omitempty"`
	Balance   int64  `json:"balance"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at,omitempty"`
}

// EntryDTO represents a ledger entry.
type EntryDTO struct {
	ID             int64  `json:"id"`
	Account        string `json:"account"`
	Amount         int64  `json:"amount"`
	Category       string `json:"category"`
	Reference      string `json:"reference,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Actor          string `json:"actor,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// PurchaseDTO represents a settled shop purchase.
type PurchaseDTO struct {
	ID        string `json:"id"`
	Account   string `json:"account"`
	ItemID    string `json:"item_id"`
	Quantity  int64  `json:"quantity"`
	TotalCost int64  `json:"total_cost"`
	EntryID   int64  `json:"entry_id"`
	CreatedAt string `json:"created_at,omitempty"`
}

// =============================================================================
// AWARD TYPES
// =============================================================================

// CompetitionAwardRequest awards podium points for a competition placement.
type CompetitionAwardRequest struct {
	Account     string `json:"account"`
	Competition string `json:"competition"`
	Placement   int    `json:"placement"`
	Actor       string `json:"actor"`
}

// TierAwardRequest claims a collection log or combat achievement tier.
// ItemCount selects the collection log tier; Tier names a combat
// achievement tier directly.
type TierAwardRequest struct {
	Account   string `json:"account"`
	ItemCount int64  `json:"item_count,omitempty"`
	Tier      string `json:"tier,omitempty"`
	Actor     string `json:"actor"`
}

// AdjustmentRequest applies a signed manual correction.
type AdjustmentRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

// PenaltyRequest deducts points, allowing the balance to go negative.
type PenaltyRequest struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	Actor   string `json:"actor"`
}

// AwardResultDTO is the response after any award operation.
type AwardResultDTO struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
	Balance int64  `json:"balance"`
	EntryID int64  `json:"entry_id"`
	Reason  string `json:"reason,omitempty"`
}

// =============================================================================
// SUBMISSION TYPES
// =============================================================================

// SubmitDropRequest records a drop submission against a team tile.
type SubmitDropRequest struct {
	Team          string `json:"team"`
	Tile          int64  `json:"tile"`
	Account       string `json:"account"`
	Drop          string `json:"drop"`
	Quantity      int64  `json:"quantity"`
	TotalRequired int64  `json:"total_required"`
}

// TransitionRequest moves a submission through its review lifecycle.
type TransitionRequest struct {
	Status string `json:"status"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// SubmissionDTO represents a drop submission with its review stamps.
type SubmissionDTO struct {
	ID         int64   `json:"id"`
	Team       string  `json:"team"`
	Tile       int64   `json:"tile"`
	Account    string  `json:"account"`
	Drop       string  `json:"drop"`
	Quantity   int64   `json:"quantity"`
	Status     string  `json:"status"`
	ApprovedAt *string `json:"approved_at,omitempty"`
	ApprovedBy string  `json:"approved_by,omitempty"`
	DeniedAt   *string `json:"denied_at,omitempty"`
	DeniedBy   string  `json:"denied_by,omitempty"`
	DenyReason string  `json:"deny_reason,omitempty"`
	HeldAt     *string `json:"held_at,omitempty"`
	HeldBy     string  `json:"held_by,omitempty"`
	HoldReason string  `json:"hold_reason,omitempty"`
	CreatedAt  string  `json:"created_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// TileProgressDTO represents cached completion progress for a team tile.
type TileProgressDTO struct {
	Team           string `json:"team"`
	Tile           int64  `json:"tile"`
	CompletedCount int64  `json:"completed_count"`
	TotalRequired  int64  `json:"total_required"`
	Complete       bool   `json:"complete"`
}

// =============================================================================
// SHOP TYPES
// =============================================================================

// ShopItemDTO represents a purchasable item. Stock -1 means unlimited.
type ShopItemDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Cost   int64  `json:"cost"`
	Stock  int64  `json:"stock"`
	Active bool   `json:"active"`
}

// PurchaseRequest buys a quantity of an item.
type PurchaseRequest struct {
	Account  string `json:"account"`
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

// RefundRequest reverses a settled purchase.
type RefundRequest struct {
	PurchaseID string `json:"purchase_id"`
	Account    string `json:"account"`
	Actor      string `json:"actor"`
	Reason     string `json:"reason,omitempty"`
}

// RefundResultDTO is the response after a refund.
type RefundResultDTO struct {
	PurchaseID string `json:"purchase_id"`
	Balance    int64  `json:"balance"`
}

// =============================================================================
// RECONCILIATION TYPES
// =============================================================================

// ReportDTO compares a cached aggregate against its recomputed value.
type ReportDTO struct {
	Key      string `json:"key"`
	Stored   int64  `json:"stored"`
	Computed int64  `json:"computed"`
	Drift    int64  `json:"drift"`
}

// RepairTileRequest identifies a team tile to recompute or repair.
type RepairTileRequest struct {
	Team  string `json:"team"`
	Tile  int64  `json:"tile"`
	Actor string `json:"actor"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a engine.Account) AccountDTO {
	return AccountDTO{
		ID:        string(a.ID),
		Team:      string(a.Team),
		Balance:   a.Balance,
		Active:    a.Active,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e engine.Entry) EntryDTO {
	return EntryDTO{
		ID:             int64(e.ID),
		Account:        string(e.Account),
		Amount:         e.Amount,
		Category:       string(e.Category),
		Reference:      e.Reference,
		Reason:         e.Reason,
		Actor:          e.Actor,
		IdempotencyKey: e.IdempotencyKey,
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTOs(entries []engine.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toSubmissionDTO(s engine.Submission) SubmissionDTO {
	return SubmissionDTO{
		ID:         int64(s.ID),
		Team:       string(s.Team),
		Tile:       int64(s.Tile),
		Account:    string(s.Account),
		Drop:       s.Drop,
		Quantity:   s.Quantity,
		Status:     string(s.Status),
		ApprovedAt: formatStamp(s.ApprovedAt),
		ApprovedBy: s.ApprovedBy,
		DeniedAt:   formatStamp(s.DeniedAt),
		DeniedBy:   s.DeniedBy,
		DenyReason: s.DenyReason,
		HeldAt:     formatStamp(s.HeldAt),
		HeldBy:     s.HeldBy,
		HoldReason: s.HoldReason,
		CreatedAt:  s.SubmittedAt.Format(time.RFC3339),
		UpdatedAt:  s.UpdatedAt.Format(time.RFC3339),
	}
}

func toTileProgressDTO(p engine.TileProgress) TileProgressDTO {
	return TileProgressDTO{
		Team:           string(p.Team),
		Tile:           int64(p.Tile),
		CompletedCount: p.CompletedCount,
		TotalRequired:  p.TotalRequired,
		Complete:       p.IsComplete(),
	}
}

func toShopItemDTO(it engine.ShopItem) ShopItemDTO {
	return ShopItemDTO{
		ID:     it.ID,
		Name:   it.Name,
		Cost:   it.Cost,
		Stock:  it.Stock,
		Active: it.Active,
	}
}

func toPurchaseDTO(p engine.Purchase) PurchaseDTO {
	return PurchaseDTO{
		ID:        p.ID,
		Account:   string(p.Account),
		ItemID:    p.ItemID,
		Quantity:  p.Quantity,
		TotalCost: p.TotalCost,
		EntryID:   int64(p.EntryID),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toAwardResultDTO(res points.AwardResult) AwardResultDTO {
	return AwardResultDTO{
		Account: string(res.Account),
		Amount:  res.Amount,
		Balance: res.Balance,
		EntryID: int64(res.EntryID),
		Reason:  res.Reason,
	}
}

func toReportDTO(r engine.Report) ReportDTO {
	return ReportDTO{
		Key:      r.Key.String(),
		Stored:   r.Stored,
		Computed: r.Computed,
		Drift:    r.Drift(),
	}
}

func formatStamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
