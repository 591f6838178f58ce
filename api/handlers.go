/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain services.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    Leaderboard (highest balance first)
    GET    /api/accounts/{id}               Account with cached balance
    GET    /api/accounts/{id}/entries       Ledger history
    GET    /api/accounts/{id}/purchases     Purchase history
    POST   /api/accounts/{id}/deactivate    Soft-deactivate (ledger retained)

  Awards:
    POST   /api/awards/competition          Podium placement points
    POST   /api/awards/collection-log       Collection log tier claim
    POST   /api/awards/combat-achievement   Combat achievement tier claim
    POST   /api/awards/adjustment           Signed manual correction
    POST   /api/awards/penalty              Deduction, may go negative

  Submissions:
    POST   /api/submissions                 Record a drop submission
    GET    /api/submissions/{id}            Submission with review stamps
    POST   /api/submissions/{id}/transition Review lifecycle move
    DELETE /api/submissions/{id}            Privileged purge

  Tiles:
    GET    /api/teams/{team}/progress             All tiles for a team
    GET    /api/teams/{team}/tiles/{tile}         Cached tile progress
    GET    /api/teams/{team}/tiles/{tile}/submissions Submission history

  Shop:
    GET    /api/shop/items                  Active catalog
    POST   /api/shop/purchases              Settle a purchase
    POST   /api/shop/refunds                Reverse a purchase

  Reconciliation:
    GET    /api/reconciliation/accounts/{id}        Recompute vs cache
    POST   /api/reconciliation/accounts/{id}/repair Repair balance drift
    POST   /api/reconciliation/tiles/recompute      Recompute tile count
    POST   /api/reconciliation/tiles/repair         Repair tile drift
    DELETE /api/entries/{id}                Privileged entry removal

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (guard tripped, duplicate claim, invalid transition)
  - 500: Internal errors

SECURITY NOTE:
  Actor identity is taken from the request body or query string. The bot
  process in front of this API is trusted to authenticate its operators.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/emberclan/points-engine/catalog"
	"github.com/emberclan/points-engine/engine"
	"github.com/emberclan/points-engine/points"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       engine.TxStore
	Awards      *points.AwardService
	Submissions *engine.SubmissionService
	Shop        *engine.ShopService
	Reconciler  *engine.Reconciler
	Catalog     *catalog.Catalog
	Logger      *slog.Logger
}

// NewHandler wires the domain services over the given store and catalog.
func NewHandler(store engine.TxStore, cat *catalog.Catalog, logger *slog.Logger) *Handler {
	m := engine.NewMaintainer(store)
	m.Logger = logger
	return &Handler{
		Store:       store,
		Awards:      points.NewAwardService(m, cat),
		Submissions: engine.NewSubmissionService(store, m),
		Shop:        engine.NewShopService(store, m),
		Reconciler:  engine.NewReconciler(store, m),
		Catalog:     cat,
		Logger:      logger,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// Leaderboard returns accounts ordered by balance, highest first.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	accounts, err := h.Store.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account with its cached balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Store.GetAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// GetEntries returns the full ledger history for an account, oldest first.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))

	entries, err := h.Store.EntriesForAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetPurchases returns the purchase history for an account.
func (h *Handler) GetPurchases(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))

	purchases, err := h.Store.PurchasesForAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to list purchases", err)
		return
	}
	dtos := make([]PurchaseDTO, len(purchases))
	for i, p := range purchases {
		dtos[i] = toPurchaseDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeactivateAccount marks an account inactive. Its ledger stays intact.
func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))

	if err := h.Store.DeactivateAccount(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to deactivate account", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// AWARD HANDLERS
// =============================================================================

// AwardCompetition pays podium points for a competition placement.
func (h *Handler) AwardCompetition(w http.ResponseWriter, r *http.Request) {
	var req CompetitionAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Awards.AwardCompetition(r.Context(),
		engine.AccountID(req.Account), req.Competition, req.Placement, req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to award competition points", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAwardResultDTO(res))
}

// AwardClogTier claims the collection log tier reached by an item count.
func (h *Handler) AwardClogTier(w http.ResponseWriter, r *http.Request) {
	var req TierAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Awards.AwardClogTier(r.Context(),
		engine.AccountID(req.Account), req.ItemCount, req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to award collection log tier", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAwardResultDTO(res))
}

// AwardCATier claims a combat achievement tier by name.
func (h *Handler) AwardCATier(w http.ResponseWriter, r *http.Request) {
	var req TierAwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Awards.AwardCATier(r.Context(),
		engine.AccountID(req.Account), req.Tier, req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to award combat achievement tier", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAwardResultDTO(res))
}

// Adjust applies a signed manual correction to a balance.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Awards.Adjust(r.Context(),
		engine.AccountID(req.Account), req.Amount, req.Reason, req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to apply adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAwardResultDTO(res))
}

// Penalize deducts points. Penalties may push a balance below zero.
func (h *Handler) Penalize(w http.ResponseWriter, r *http.Request) {
	var req PenaltyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Awards.Penalize(r.Context(),
		engine.AccountID(req.Account), req.Amount, req.Reason, req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to apply penalty", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAwardResultDTO(res))
}

// =============================================================================
// SUBMISSION HANDLERS
// =============================================================================

// SubmitDrop records a drop against a team tile, pending review.
func (h *Handler) SubmitDrop(w http.ResponseWriter, r *http.Request) {
	var req SubmitDropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub, err := h.Submissions.Submit(r.Context(),
		engine.TeamID(req.Team), engine.TileID(req.Tile),
		engine.AccountID(req.Account), req.Drop, req.Quantity, req.TotalRequired)
	if err != nil {
		h.writeDomainError(w, "Failed to record submission", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionDTO(sub))
}

// GetSubmission returns a submission with its review stamps.
func (h *Handler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubmissionID(w, r)
	if !ok {
		return
	}

	sub, err := h.Store.GetSubmission(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get submission", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionDTO(sub))
}

// TransitionSubmission moves a submission through its review lifecycle.
// Entering or leaving approved adjusts the tile count in the same unit
// of work.
func (h *Handler) TransitionSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubmissionID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub, err := h.Submissions.Transition(r.Context(), id,
		engine.SubmissionStatus(req.Status), req.Actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to transition submission", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionDTO(sub))
}

// PurgeSubmission deletes a submission outright, reversing its tile
// contribution first when it was approved.
func (h *Handler) PurgeSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := parseSubmissionID(w, r)
	if !ok {
		return
	}
	actor := r.URL.Query().Get("actor")

	if err := h.Submissions.Purge(r.Context(), id, actor); err != nil {
		h.writeDomainError(w, "Failed to purge submission", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TILE HANDLERS
// =============================================================================

// TeamProgress returns cached progress for every tile a team has touched.
func (h *Handler) TeamProgress(w http.ResponseWriter, r *http.Request) {
	team := engine.TeamID(chi.URLParam(r, "team"))

	rows, err := h.Store.TeamProgress(r.Context(), team)
	if err != nil {
		h.writeDomainError(w, "Failed to get team progress", err)
		return
	}
	dtos := make([]TileProgressDTO, len(rows))
	for i, p := range rows {
		dtos[i] = toTileProgressDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TileProgress returns the cached completion count for one team tile.
func (h *Handler) TileProgress(w http.ResponseWriter, r *http.Request) {
	team, tile, ok := parseTileParams(w, r)
	if !ok {
		return
	}

	p, err := h.Submissions.Progress(r.Context(), team, tile)
	if err != nil {
		h.writeDomainError(w, "Failed to get tile progress", err)
		return
	}
	writeJSON(w, http.StatusOK, toTileProgressDTO(p))
}

// TileSubmissions returns every submission for a tile, oldest first.
func (h *Handler) TileSubmissions(w http.ResponseWriter, r *http.Request) {
	team, tile, ok := parseTileParams(w, r)
	if !ok {
		return
	}

	subs, err := h.Submissions.History(r.Context(), team, tile)
	if err != nil {
		h.writeDomainError(w, "Failed to list submissions", err)
		return
	}
	dtos := make([]SubmissionDTO, len(subs))
	for i, s := range subs {
		dtos[i] = toSubmissionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SHOP HANDLERS
// =============================================================================

// ListShopItems returns the active catalog with live stock counts.
func (h *Handler) ListShopItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ListItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list items", err)
		return
	}
	dtos := make([]ShopItemDTO, len(items))
	for i, it := range items {
		dtos[i] = toShopItemDTO(it)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePurchase settles a purchase: balance deduction, ledger entry,
// stock decrement, and purchase row in one unit of work.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Shop.Purchase(r.Context(),
		engine.AccountID(req.Account), req.ItemID, req.Quantity)
	if err != nil {
		h.writeDomainError(w, "Failed to settle purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(p))
}

// CreateRefund reverses a settled purchase once.
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	purchases, err := h.Store.PurchasesForAccount(r.Context(), engine.AccountID(req.Account))
	if err != nil {
		h.writeDomainError(w, "Failed to look up purchase", err)
		return
	}
	var target *engine.Purchase
	for i := range purchases {
		if purchases[i].ID == req.PurchaseID {
			target = &purchases[i]
			break
		}
	}
	if target == nil {
		writeError(w, http.StatusNotFound, "Purchase not found", nil)
		return
	}

	balance, err := h.Shop.Refund(r.Context(), *target, req.Actor, req.Reason)
	if err != nil {
		h.writeDomainError(w, "Failed to refund purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, RefundResultDTO{
		PurchaseID: req.PurchaseID,
		Balance:    balance,
	})
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

// RecomputeAccount replays an account ledger and compares it against the
// cached balance. Read-only.
func (h *Handler) RecomputeAccount(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))

	report, err := h.Reconciler.RecomputeAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to recompute account", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// RepairAccount overwrites a drifted balance with its recomputed value,
// leaving a zero-amount marker entry in the ledger.
func (h *Handler) RepairAccount(w http.ResponseWriter, r *http.Request) {
	id := engine.AccountID(chi.URLParam(r, "id"))
	actor := r.URL.Query().Get("actor")

	report, err := h.Reconciler.RepairAccount(r.Context(), id, actor)
	if err != nil {
		h.writeDomainError(w, "Failed to repair account", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// RecomputeTile compares a cached tile count against its approved sum.
func (h *Handler) RecomputeTile(w http.ResponseWriter, r *http.Request) {
	var req RepairTileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	report, err := h.Reconciler.RecomputeTile(r.Context(),
		engine.TeamID(req.Team), engine.TileID(req.Tile))
	if err != nil {
		h.writeDomainError(w, "Failed to recompute tile", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// RepairTile overwrites a drifted tile count with its recomputed value.
func (h *Handler) RepairTile(w http.ResponseWriter, r *http.Request) {
	var req RepairTileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	report, err := h.Reconciler.RepairTile(r.Context(),
		engine.TeamID(req.Team), engine.TileID(req.Tile), req.Actor)
	if err != nil {
		h.writeDomainError(w, "Failed to repair tile", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// RemoveEntry deletes a ledger entry and compensates the cached balance
// in the same unit of work. Privileged.
func (h *Handler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}
	actor := r.URL.Query().Get("actor")

	entry, err := h.Reconciler.RemoveEntry(r.Context(), engine.EntryID(id), actor)
	if err != nil {
		h.writeDomainError(w, "Failed to remove entry", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// HELPERS
// =============================================================================

func parseSubmissionID(w http.ResponseWriter, r *http.Request) (engine.SubmissionID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid submission id", err)
		return 0, false
	}
	return engine.SubmissionID(id), true
}

func parseTileParams(w http.ResponseWriter, r *http.Request) (engine.TeamID, engine.TileID, bool) {
	team := engine.TeamID(chi.URLParam(r, "team"))
	raw := chi.URLParam(r, "tile")
	tile, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tile id", err)
		return "", 0, false
	}
	return team, engine.TileID(tile), true
}

// writeDomainError maps domain errors onto HTTP statuses: missing rows
// to 404, tripped guards and duplicates to 409, rejected input to 400,
// everything else to 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case engine.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case isConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case engine.IsClientError(err) || isRejectedInput(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		if h.Logger != nil {
			h.Logger.Error("request failed", "message", message, "error", err)
		}
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, engine.ErrDuplicateIdempotencyKey) ||
		errors.Is(err, engine.ErrConflict) ||
		errors.Is(err, engine.ErrInvalidTransition) ||
		errors.Is(err, engine.ErrInsufficientFunds) ||
		errors.Is(err, engine.ErrOutOfStock) ||
		errors.Is(err, points.ErrTierAlreadyClaimed)
}

func isRejectedInput(err error) bool {
	return errors.Is(err, points.ErrUnknownCompetition) ||
		errors.Is(err, points.ErrInvalidPlacement) ||
		errors.Is(err, points.ErrUnknownTier) ||
		errors.Is(err, engine.ErrAccountInactive)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
