package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emberclan/points-engine/engine"
	"github.com/emberclan/points-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newShopService(t *testing.T) (*engine.ShopService, *engine.Maintainer, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	m := engine.NewMaintainer(mem)
	svc := engine.NewShopService(mem, m)

	err := mem.UpsertItem(context.Background(), engine.ShopItem{
		ID: "bond", Name: "Bond", Cost: 100, Stock: 3, Active: true,
	})
	if err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
	return svc, m, mem
}

func fund(t *testing.T, m *engine.Maintainer, account engine.AccountID, amount int64) {
	t.Helper()
	_, err := m.ApplyDelta(context.Background(), engine.BalanceKey(account), amount,
		&engine.Entry{Amount: amount, Category: engine.CategoryManual, Actor: "admin"})
	if err != nil {
		t.Fatalf("failed to fund %s: %v", account, err)
	}
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchase_DeductsBalanceAndStock(t *testing.T) {
	// GIVEN: An account holding 500 and an item costing 100 with 3 in stock
	// WHEN: Buying two
	// THEN: Balance drops to 300, stock to 1, and the deduction entry
	//       references the purchase row

	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 500)

	p, err := svc.Purchase(ctx, "a", "bond", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.TotalCost != 200 || p.Quantity != 2 {
		t.Errorf("unexpected purchase: %+v", p)
	}

	acct, _ := mem.GetAccount(ctx, "a")
	if acct.Balance != 300 {
		t.Errorf("expected balance 300, got %d", acct.Balance)
	}
	item, _ := mem.GetItem(ctx, "bond")
	if item.Stock != 1 {
		t.Errorf("expected stock 1, got %d", item.Stock)
	}

	entries, _ := mem.EntriesForAccount(ctx, "a")
	var deduction *engine.Entry
	for i := range entries {
		if entries[i].ID == p.EntryID {
			deduction = &entries[i]
		}
	}
	if deduction == nil {
		t.Fatal("expected the purchase to reference a ledger entry")
	}
	if deduction.Amount != -200 || deduction.Reference != "purchase:"+p.ID {
		t.Errorf("unexpected deduction entry: %+v", deduction)
	}
	if !strings.Contains(deduction.Reason, "2x Bond") {
		t.Errorf("unexpected deduction reason %q", deduction.Reason)
	}

	purchases, _ := mem.PurchasesForAccount(ctx, "a")
	if len(purchases) != 1 || purchases[0].ID != p.ID {
		t.Errorf("expected one recorded purchase, got %+v", purchases)
	}
}

func TestPurchase_OutOfStock_NothingWritten(t *testing.T) {
	// GIVEN: Three in stock
	// WHEN: Asking for five
	// THEN: OutOfStockError, and neither the balance nor the ledger moved

	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 1000)

	_, err := svc.Purchase(ctx, "a", "bond", 5)
	var oosErr *engine.OutOfStockError
	if !errors.As(err, &oosErr) {
		t.Fatalf("expected OutOfStockError, got %v", err)
	}
	if oosErr.Available != 3 || oosErr.Requested != 5 {
		t.Errorf("unexpected detail: %+v", oosErr)
	}

	acct, _ := mem.GetAccount(ctx, "a")
	if acct.Balance != 1000 {
		t.Errorf("expected balance untouched, got %d", acct.Balance)
	}
	purchases, _ := mem.PurchasesForAccount(ctx, "a")
	if len(purchases) != 0 {
		t.Errorf("expected no purchase rows, got %d", len(purchases))
	}
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 150)

	_, err := svc.Purchase(ctx, "a", "bond", 2)
	var fundsErr *engine.InsufficientFundsError
	if !errors.As(err, &fundsErr) {
		t.Fatalf("expected InsufficientFundsError, got %v", err)
	}
	if fundsErr.Available != 150 || fundsErr.Required != 200 {
		t.Errorf("unexpected detail: %+v", fundsErr)
	}

	item, _ := mem.GetItem(ctx, "bond")
	if item.Stock != 3 {
		t.Errorf("expected stock untouched, got %d", item.Stock)
	}
}

func TestPurchase_InactiveAccount(t *testing.T) {
	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 500)
	if err := mem.DeactivateAccount(ctx, "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.Purchase(ctx, "a", "bond", 1)
	if !errors.Is(err, engine.ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
}

func TestPurchase_UnknownItem(t *testing.T) {
	ctx := context.Background()
	svc, m, _ := newShopService(t)
	fund(t, m, "a", 500)

	_, err := svc.Purchase(ctx, "a", "party-hat", 1)
	if !errors.Is(err, engine.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestPurchase_NonPositiveQuantity(t *testing.T) {
	svc, _, _ := newShopService(t)
	if _, err := svc.Purchase(context.Background(), "a", "bond", 0); err == nil {
		t.Fatal("expected an error for zero quantity")
	}
}

func TestPurchase_UnlimitedItem_StockUntouched(t *testing.T) {
	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 500)

	err := mem.UpsertItem(ctx, engine.ShopItem{
		ID: "giveaway-entry", Name: "Giveaway Entry", Cost: 10,
		Stock: engine.UnlimitedStock, Active: true,
	})
	if err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}

	if _, err := svc.Purchase(ctx, "a", "giveaway-entry", 25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	item, _ := mem.GetItem(ctx, "giveaway-entry")
	if item.Stock != engine.UnlimitedStock {
		t.Errorf("expected unlimited stock preserved, got %d", item.Stock)
	}
}

func TestPurchase_ConcurrentBuyers_NeverOversell(t *testing.T) {
	// GIVEN: Three in stock and eight funded buyers racing for one each
	// WHEN: All purchases run concurrently
	// THEN: Exactly three settle, the rest fail on stock, and the sold
	//       quantity never exceeds the starting stock

	ctx := context.Background()
	svc, m, mem := newShopService(t)

	const buyers = 8
	accounts := make([]engine.AccountID, buyers)
	for i := range accounts {
		accounts[i] = engine.AccountID(fmt.Sprintf("buyer-%d", i))
		fund(t, m, accounts[i], 100)
	}

	var wg sync.WaitGroup
	var settled atomic.Int64
	for _, account := range accounts {
		wg.Add(1)
		go func(account engine.AccountID) {
			defer wg.Done()
			_, err := svc.Purchase(ctx, account, "bond", 1)
			switch {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, engine.ErrOutOfStock):
			default:
				t.Errorf("unexpected error for %s: %v", account, err)
			}
		}(account)
	}
	wg.Wait()

	if settled.Load() != 3 {
		t.Errorf("expected exactly 3 settled purchases, got %d", settled.Load())
	}
	item, _ := mem.GetItem(ctx, "bond")
	if item.Stock != 0 {
		t.Errorf("expected stock exhausted at 0, got %d", item.Stock)
	}
}

func TestPurchase_AwardThenBuy_LedgerReconciles(t *testing.T) {
	// GIVEN: A fresh account credited 20 for a competition win, and an
	//        item costing 5 with 3 in stock
	// WHEN: Buying one and then reconciling
	// THEN: Stored and computed balances agree at 15 and stock is 2

	ctx := context.Background()
	svc, m, mem := newShopService(t)
	mem.UpsertItem(ctx, engine.ShopItem{ID: "sack", Name: "Supply Sack", Cost: 5, Stock: 3, Active: true})

	_, err := m.ApplyDelta(ctx, engine.BalanceKey("a"), 20, &engine.Entry{
		Amount: 20, Category: engine.CategoryCompetition, Reason: "Skill of the Week - 1st place",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Purchase(ctx, "a", "sack", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := engine.NewReconciler(mem, m)
	report, err := r.RecomputeAccount(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stored != 15 || report.Computed != 15 || report.Drift() != 0 {
		t.Errorf("expected 15/15 drift 0, got %d/%d drift %d",
			report.Stored, report.Computed, report.Drift())
	}
	item, _ := mem.GetItem(ctx, "sack")
	if item.Stock != 2 {
		t.Errorf("expected stock 2, got %d", item.Stock)
	}
}

// =============================================================================
// REFUND
// =============================================================================

func TestRefund_RestoresBalanceAndStock(t *testing.T) {
	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 500)

	p, err := svc.Purchase(ctx, "a", "bond", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	balance, err := svc.Refund(ctx, p, "admin", "event cancelled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 500 {
		t.Errorf("expected balance restored to 500, got %d", balance)
	}
	item, _ := mem.GetItem(ctx, "bond")
	if item.Stock != 3 {
		t.Errorf("expected stock restored to 3, got %d", item.Stock)
	}

	// The purchase row stays for audit.
	purchases, _ := mem.PurchasesForAccount(ctx, "a")
	if len(purchases) != 1 {
		t.Errorf("expected the purchase row retained, got %d", len(purchases))
	}
}

func TestRefund_Twice_SecondRejected(t *testing.T) {
	// GIVEN: A purchase already refunded
	// WHEN: Refunding it again
	// THEN: The duplicate is rejected and the balance does not move twice

	ctx := context.Background()
	svc, m, mem := newShopService(t)
	fund(t, m, "a", 500)

	p, _ := svc.Purchase(ctx, "a", "bond", 2)
	if _, err := svc.Refund(ctx, p, "admin", "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := svc.Refund(ctx, p, "admin", "second")
	if !errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	acct, _ := mem.GetAccount(ctx, "a")
	if acct.Balance != 500 {
		t.Errorf("expected balance 500 after one refund, got %d", acct.Balance)
	}
	item, _ := mem.GetItem(ctx, "bond")
	if item.Stock != 3 {
		t.Errorf("expected stock 3 after one refund, got %d", item.Stock)
	}
}
