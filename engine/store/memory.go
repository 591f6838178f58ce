// Package store provides engine.TxStore implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/emberclan/points-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.TxStore with the same semantics as the SQLite
// store: guarded relative updates, idempotency-key uniqueness, insertion
// order for logs. WithTx snapshots the whole state and restores it when fn
// fails, so a failed unit of work leaves no partial writes.
//
// Units of work serialize on one mutex, which is stricter than per-key but
// preserves the same observable guarantees.
type Memory struct {
	mu sync.RWMutex

	entries     []engine.Entry
	idempotency map[string]bool
	accounts    map[engine.AccountID]engine.Account
	progress    map[tileKey]engine.TileProgress
	submissions map[engine.SubmissionID]engine.Submission
	subOrder    []engine.SubmissionID
	items       map[string]engine.ShopItem
	purchases   []engine.Purchase

	nextEntryID engine.EntryID
	nextSubID   engine.SubmissionID
}

type tileKey struct {
	Team engine.TeamID
	Tile engine.TileID
}

func NewMemory() *Memory {
	return &Memory{
		idempotency: make(map[string]bool),
		accounts:    make(map[engine.AccountID]engine.Account),
		progress:    make(map[tileKey]engine.TileProgress),
		submissions: make(map[engine.SubmissionID]engine.Submission),
		items:       make(map[string]engine.ShopItem),
		nextEntryID: 1,
		nextSubID:   1,
	}
}

// WithTx runs fn against a view of the locked store. On error the
// pre-transaction state is restored wholesale.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&txView{m: m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type snapshot struct {
	entries     []engine.Entry
	idempotency map[string]bool
	accounts    map[engine.AccountID]engine.Account
	progress    map[tileKey]engine.TileProgress
	submissions map[engine.SubmissionID]engine.Submission
	subOrder    []engine.SubmissionID
	items       map[string]engine.ShopItem
	purchases   []engine.Purchase
	nextEntryID engine.EntryID
	nextSubID   engine.SubmissionID
}

func (m *Memory) snapshotLocked() snapshot {
	s := snapshot{
		entries:     append([]engine.Entry(nil), m.entries...),
		idempotency: make(map[string]bool, len(m.idempotency)),
		accounts:    make(map[engine.AccountID]engine.Account, len(m.accounts)),
		progress:    make(map[tileKey]engine.TileProgress, len(m.progress)),
		submissions: make(map[engine.SubmissionID]engine.Submission, len(m.submissions)),
		subOrder:    append([]engine.SubmissionID(nil), m.subOrder...),
		items:       make(map[string]engine.ShopItem, len(m.items)),
		purchases:   append([]engine.Purchase(nil), m.purchases...),
		nextEntryID: m.nextEntryID,
		nextSubID:   m.nextSubID,
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	for k, v := range m.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.progress {
		s.progress[k] = v
	}
	for k, v := range m.submissions {
		s.submissions[k] = v
	}
	for k, v := range m.items {
		s.items[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s snapshot) {
	m.entries = s.entries
	m.idempotency = s.idempotency
	m.accounts = s.accounts
	m.progress = s.progress
	m.submissions = s.submissions
	m.subOrder = s.subOrder
	m.items = s.items
	m.purchases = s.purchases
	m.nextEntryID = s.nextEntryID
	m.nextSubID = s.nextSubID
}

// =============================================================================
// ACCOUNT LEDGER
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, e engine.Entry) (engine.EntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(e)
}

func (m *Memory) appendEntryLocked(e engine.Entry) (engine.EntryID, error) {
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return 0, engine.ErrDuplicateIdempotencyKey
	}
	e.ID = m.nextEntryID
	m.nextEntryID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
	return e.ID, nil
}

func (m *Memory) DeleteEntry(_ context.Context, id engine.EntryID) (engine.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEntryLocked(id)
}

func (m *Memory) deleteEntryLocked(id engine.EntryID) (engine.Entry, error) {
	for i, e := range m.entries {
		if e.ID == id {
			m.entries = append(m.entries[:i:i], m.entries[i+1:]...)
			if e.IdempotencyKey != "" {
				delete(m.idempotency, e.IdempotencyKey)
			}
			return e, nil
		}
	}
	return engine.Entry{}, engine.ErrEntryNotFound
}

func (m *Memory) SumForAccount(_ context.Context, id engine.AccountID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sumForAccountLocked(id)
}

func (m *Memory) sumForAccountLocked(id engine.AccountID) (int64, error) {
	var sum int64
	for _, e := range m.entries {
		if e.Account == id {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *Memory) EntriesForAccount(_ context.Context, id engine.AccountID) ([]engine.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entriesForAccountLocked(id)
}

func (m *Memory) entriesForAccountLocked(id engine.AccountID) ([]engine.Entry, error) {
	var out []engine.Entry
	for _, e := range m.entries {
		if e.Account == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) EntryExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[key], nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) EnsureAccount(_ context.Context, id engine.AccountID, team engine.TeamID) (engine.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureAccountLocked(id, team)
}

func (m *Memory) ensureAccountLocked(id engine.AccountID, team engine.TeamID) (engine.Account, error) {
	if a, ok := m.accounts[id]; ok {
		if team != "" && a.Team != team {
			a.Team = team
			m.accounts[id] = a
		}
		return a, nil
	}
	a := engine.Account{ID: id, Team: team, Active: true, CreatedAt: time.Now().UTC()}
	m.accounts[id] = a
	return a, nil
}

func (m *Memory) GetAccount(_ context.Context, id engine.AccountID) (engine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(id)
}

func (m *Memory) getAccountLocked(id engine.AccountID) (engine.Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return engine.Account{}, engine.ErrAccountNotFound
	}
	return a, nil
}

func (m *Memory) DeactivateAccount(_ context.Context, id engine.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateAccountLocked(id)
}

func (m *Memory) deactivateAccountLocked(id engine.AccountID) error {
	a, ok := m.accounts[id]
	if !ok {
		return engine.ErrAccountNotFound
	}
	a.Active = false
	m.accounts[id] = a
	return nil
}

func (m *Memory) AddToBalance(_ context.Context, id engine.AccountID, delta int64, allowNegative bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToBalanceLocked(id, delta, allowNegative)
}

func (m *Memory) addToBalanceLocked(id engine.AccountID, delta int64, allowNegative bool) (int64, error) {
	a, ok := m.accounts[id]
	if !ok {
		return 0, engine.ErrAccountNotFound
	}
	next := a.Balance + delta
	if next < 0 && !allowNegative {
		return 0, engine.ErrInsufficientFunds
	}
	a.Balance = next
	m.accounts[id] = a
	return next, nil
}

func (m *Memory) Leaderboard(_ context.Context, limit int) ([]engine.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaderboardLocked(limit)
}

func (m *Memory) leaderboardLocked(limit int) ([]engine.Account, error) {
	out := make([]engine.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	// Highest balance first; stable tiebreak on id.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if out[j-1].Balance > out[j].Balance ||
				(out[j-1].Balance == out[j].Balance && out[j-1].ID <= out[j].ID) {
				break
			}
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

func (m *Memory) InsertSubmission(_ context.Context, s engine.Submission) (engine.SubmissionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSubmissionLocked(s)
}

func (m *Memory) insertSubmissionLocked(s engine.Submission) (engine.SubmissionID, error) {
	s.ID = m.nextSubID
	m.nextSubID++
	m.submissions[s.ID] = s
	m.subOrder = append(m.subOrder, s.ID)
	return s.ID, nil
}

func (m *Memory) GetSubmission(_ context.Context, id engine.SubmissionID) (engine.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSubmissionLocked(id)
}

func (m *Memory) getSubmissionLocked(id engine.SubmissionID) (engine.Submission, error) {
	s, ok := m.submissions[id]
	if !ok {
		return engine.Submission{}, engine.ErrSubmissionNotFound
	}
	return s, nil
}

func (m *Memory) UpdateSubmission(_ context.Context, s engine.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateSubmissionLocked(s)
}

func (m *Memory) updateSubmissionLocked(s engine.Submission) error {
	if _, ok := m.submissions[s.ID]; !ok {
		return engine.ErrSubmissionNotFound
	}
	m.submissions[s.ID] = s
	return nil
}

func (m *Memory) DeleteSubmission(_ context.Context, id engine.SubmissionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteSubmissionLocked(id)
}

func (m *Memory) deleteSubmissionLocked(id engine.SubmissionID) error {
	if _, ok := m.submissions[id]; !ok {
		return engine.ErrSubmissionNotFound
	}
	delete(m.submissions, id)
	for i, sid := range m.subOrder {
		if sid == id {
			m.subOrder = append(m.subOrder[:i:i], m.subOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) SubmissionsForTile(_ context.Context, team engine.TeamID, tile engine.TileID) ([]engine.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.submissionsForTileLocked(team, tile)
}

func (m *Memory) submissionsForTileLocked(team engine.TeamID, tile engine.TileID) ([]engine.Submission, error) {
	var out []engine.Submission
	for _, id := range m.subOrder {
		s := m.submissions[id]
		if s.Team == team && s.Tile == tile {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) ApprovedQuantityForTile(_ context.Context, team engine.TeamID, tile engine.TileID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.approvedQuantityLocked(team, tile)
}

func (m *Memory) approvedQuantityLocked(team engine.TeamID, tile engine.TileID) (int64, error) {
	var sum int64
	for _, s := range m.submissions {
		if s.Team == team && s.Tile == tile && s.Status == engine.SubmissionApproved {
			sum += s.Quantity
		}
	}
	return sum, nil
}

// =============================================================================
// TILE PROGRESS
// =============================================================================

func (m *Memory) EnsureTileProgress(_ context.Context, team engine.TeamID, tile engine.TileID, totalRequired int64) (engine.TileProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureTileProgressLocked(team, tile, totalRequired)
}

func (m *Memory) ensureTileProgressLocked(team engine.TeamID, tile engine.TileID, totalRequired int64) (engine.TileProgress, error) {
	k := tileKey{Team: team, Tile: tile}
	if p, ok := m.progress[k]; ok {
		return p, nil
	}
	p := engine.TileProgress{Team: team, Tile: tile, TotalRequired: totalRequired, UpdatedAt: time.Now().UTC()}
	m.progress[k] = p
	return p, nil
}

func (m *Memory) GetTileProgress(_ context.Context, team engine.TeamID, tile engine.TileID) (engine.TileProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTileProgressLocked(team, tile)
}

func (m *Memory) getTileProgressLocked(team engine.TeamID, tile engine.TileID) (engine.TileProgress, error) {
	p, ok := m.progress[tileKey{Team: team, Tile: tile}]
	if !ok {
		return engine.TileProgress{}, engine.ErrTileNotFound
	}
	return p, nil
}

func (m *Memory) AddToTileProgress(_ context.Context, team engine.TeamID, tile engine.TileID, delta int64) (engine.TileProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToTileProgressLocked(team, tile, delta)
}

func (m *Memory) addToTileProgressLocked(team engine.TeamID, tile engine.TileID, delta int64) (engine.TileProgress, error) {
	k := tileKey{Team: team, Tile: tile}
	p, ok := m.progress[k]
	if !ok {
		return engine.TileProgress{}, engine.ErrTileNotFound
	}
	next := p.CompletedCount + delta
	if next < 0 {
		return engine.TileProgress{}, engine.ErrConflict
	}
	p.CompletedCount = next
	p.UpdatedAt = time.Now().UTC()
	m.progress[k] = p
	return p, nil
}

func (m *Memory) TeamProgress(_ context.Context, team engine.TeamID) ([]engine.TileProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.teamProgressLocked(team)
}

func (m *Memory) teamProgressLocked(team engine.TeamID) ([]engine.TileProgress, error) {
	var out []engine.TileProgress
	for _, p := range m.progress {
		if p.Team == team {
			out = append(out, p)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Tile > out[j].Tile; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

// =============================================================================
// SHOP
// =============================================================================

func (m *Memory) UpsertItem(_ context.Context, item engine.ShopItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertItemLocked(item)
}

func (m *Memory) upsertItemLocked(item engine.ShopItem) error {
	if existing, ok := m.items[item.ID]; ok {
		item.Stock = existing.Stock // stock is state, not definition
	}
	m.items[item.ID] = item
	return nil
}

func (m *Memory) GetItem(_ context.Context, id string) (engine.ShopItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getItemLocked(id)
}

func (m *Memory) getItemLocked(id string) (engine.ShopItem, error) {
	item, ok := m.items[id]
	if !ok || !item.Active {
		return engine.ShopItem{}, engine.ErrItemNotFound
	}
	return item, nil
}

func (m *Memory) ListItems(_ context.Context) ([]engine.ShopItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listItemsLocked()
}

func (m *Memory) listItemsLocked() ([]engine.ShopItem, error) {
	var out []engine.ShopItem
	for _, item := range m.items {
		if item.Active {
			out = append(out, item)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].ID > out[j].ID; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out, nil
}

func (m *Memory) AddToStock(_ context.Context, id string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addToStockLocked(id, delta)
}

func (m *Memory) addToStockLocked(id string, delta int64) (int64, error) {
	item, ok := m.items[id]
	if !ok {
		return 0, engine.ErrItemNotFound
	}
	if !item.Limited() {
		return engine.UnlimitedStock, nil
	}
	next := item.Stock + delta
	if next < 0 {
		return 0, engine.ErrOutOfStock
	}
	item.Stock = next
	m.items[id] = item
	return next, nil
}

func (m *Memory) InsertPurchase(_ context.Context, p engine.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertPurchaseLocked(p)
}

func (m *Memory) insertPurchaseLocked(p engine.Purchase) error {
	m.purchases = append(m.purchases, p)
	return nil
}

func (m *Memory) PurchasesForAccount(_ context.Context, id engine.AccountID) ([]engine.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.purchasesForAccountLocked(id)
}

func (m *Memory) purchasesForAccountLocked(id engine.AccountID) ([]engine.Purchase, error) {
	var out []engine.Purchase
	for _, p := range m.purchases {
		if p.Account == id {
			out = append(out, p)
		}
	}
	return out, nil
}

// =============================================================================
// TX VIEW - The store as seen from inside WithTx (lock already held)
// =============================================================================

type txView struct {
	m *Memory
}

func (v *txView) AppendEntry(_ context.Context, e engine.Entry) (engine.EntryID, error) {
	return v.m.appendEntryLocked(e)
}

func (v *txView) DeleteEntry(_ context.Context, id engine.EntryID) (engine.Entry, error) {
	return v.m.deleteEntryLocked(id)
}

func (v *txView) SumForAccount(_ context.Context, id engine.AccountID) (int64, error) {
	return v.m.sumForAccountLocked(id)
}

func (v *txView) EntriesForAccount(_ context.Context, id engine.AccountID) ([]engine.Entry, error) {
	return v.m.entriesForAccountLocked(id)
}

func (v *txView) EntryExists(_ context.Context, key string) (bool, error) {
	return v.m.idempotency[key], nil
}

func (v *txView) EnsureAccount(_ context.Context, id engine.AccountID, team engine.TeamID) (engine.Account, error) {
	return v.m.ensureAccountLocked(id, team)
}

func (v *txView) GetAccount(_ context.Context, id engine.AccountID) (engine.Account, error) {
	return v.m.getAccountLocked(id)
}

func (v *txView) DeactivateAccount(_ context.Context, id engine.AccountID) error {
	return v.m.deactivateAccountLocked(id)
}

func (v *txView) AddToBalance(_ context.Context, id engine.AccountID, delta int64, allowNegative bool) (int64, error) {
	return v.m.addToBalanceLocked(id, delta, allowNegative)
}

func (v *txView) Leaderboard(_ context.Context, limit int) ([]engine.Account, error) {
	return v.m.leaderboardLocked(limit)
}

func (v *txView) InsertSubmission(_ context.Context, s engine.Submission) (engine.SubmissionID, error) {
	return v.m.insertSubmissionLocked(s)
}

func (v *txView) GetSubmission(_ context.Context, id engine.SubmissionID) (engine.Submission, error) {
	return v.m.getSubmissionLocked(id)
}

func (v *txView) UpdateSubmission(_ context.Context, s engine.Submission) error {
	return v.m.updateSubmissionLocked(s)
}

func (v *txView) DeleteSubmission(_ context.Context, id engine.SubmissionID) error {
	return v.m.deleteSubmissionLocked(id)
}

func (v *txView) SubmissionsForTile(_ context.Context, team engine.TeamID, tile engine.TileID) ([]engine.Submission, error) {
	return v.m.submissionsForTileLocked(team, tile)
}

func (v *txView) ApprovedQuantityForTile(_ context.Context, team engine.TeamID, tile engine.TileID) (int64, error) {
	return v.m.approvedQuantityLocked(team, tile)
}

func (v *txView) EnsureTileProgress(_ context.Context, team engine.TeamID, tile engine.TileID, totalRequired int64) (engine.TileProgress, error) {
	return v.m.ensureTileProgressLocked(team, tile, totalRequired)
}

func (v *txView) GetTileProgress(_ context.Context, team engine.TeamID, tile engine.TileID) (engine.TileProgress, error) {
	return v.m.getTileProgressLocked(team, tile)
}

func (v *txView) AddToTileProgress(_ context.Context, team engine.TeamID, tile engine.TileID, delta int64) (engine.TileProgress, error) {
	return v.m.addToTileProgressLocked(team, tile, delta)
}

func (v *txView) TeamProgress(_ context.Context, team engine.TeamID) ([]engine.TileProgress, error) {
	return v.m.teamProgressLocked(team)
}

func (v *txView) UpsertItem(_ context.Context, item engine.ShopItem) error {
	return v.m.upsertItemLocked(item)
}

func (v *txView) GetItem(_ context.Context, id string) (engine.ShopItem, error) {
	return v.m.getItemLocked(id)
}

func (v *txView) ListItems(_ context.Context) ([]engine.ShopItem, error) {
	return v.m.listItemsLocked()
}

func (v *txView) AddToStock(_ context.Context, id string, delta int64) (int64, error) {
	return v.m.addToStockLocked(id, delta)
}

func (v *txView) InsertPurchase(_ context.Context, p engine.Purchase) error {
	return v.m.insertPurchaseLocked(p)
}

func (v *txView) PurchasesForAccount(_ context.Context, id engine.AccountID) ([]engine.Purchase, error) {
	return v.m.purchasesForAccountLocked(id)
}
