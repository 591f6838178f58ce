/*
shop.go - Shop settlement

PURPOSE:
  Purchase is a specialization of the aggregate write: besides the balance
  deduction and its ledger entry, it enforces a secondary constraint
  (available stock) and must fail the whole operation atomically if either
  the balance or the stock check fails.

ATOMICITY:
  Both precondition checks and both writes (balance deduction, stock
  decrement) happen in one unit of work. When a precondition fails, nothing
  is written and the caller gets InsufficientFundsError or OutOfStockError.
  The guarded store updates re-check the preconditions at write time, so a
  racing purchase that wins the row cannot be oversold against.

SEE ALSO:
  - maintainer.go: ApplyDeltaIn joins the deduction to the purchase row
  - store.go: AddToStock / AddToBalance guarded updates
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ShopService settles purchases against account balances and item stock.
type ShopService struct {
	Store      TxStore
	Maintainer *Maintainer

	Now func() time.Time // nil means time.Now
}

func NewShopService(store TxStore, m *Maintainer) *ShopService {
	return &ShopService{Store: store, Maintainer: m}
}

func (svc *ShopService) now() time.Time {
	if svc.Now != nil {
		return svc.Now()
	}
	return time.Now().UTC()
}

// Purchase buys quantity of an item for the account. On success it commits,
// in one unit of work: the purchase row, exactly one negative entry
// referencing it, the balance deduction, and (for limited items) the stock
// decrement.
func (svc *ShopService) Purchase(ctx context.Context, account AccountID, itemID string, quantity int64) (Purchase, error) {
	if quantity <= 0 {
		return Purchase{}, fmt.Errorf("purchase quantity must be positive, got %d", quantity)
	}

	var purchase Purchase
	err := svc.Maintainer.Atomic(ctx, func(s Store) error {
		item, err := s.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		acct, err := s.GetAccount(ctx, account)
		if err != nil {
			return err
		}
		if !acct.Active {
			return ErrAccountInactive
		}

		totalCost := item.Cost * quantity
		if acct.Balance < totalCost {
			return &InsufficientFundsError{Account: account, Available: acct.Balance, Required: totalCost}
		}
		if item.Limited() && item.Stock < quantity {
			return &OutOfStockError{ItemID: itemID, Available: item.Stock, Requested: quantity}
		}

		// Guarded re-check at write time; a racing winner surfaces here.
		if _, err := s.AddToStock(ctx, itemID, -quantity); err != nil {
			return err
		}

		purchase = Purchase{
			ID:        uuid.NewString(),
			Account:   account,
			ItemID:    itemID,
			Quantity:  quantity,
			TotalCost: totalCost,
			CreatedAt: svc.now(),
		}

		entry := &Entry{
			Amount:    -totalCost,
			Category:  CategoryShopPurchase,
			Reference: "purchase:" + purchase.ID,
			Reason:    fmt.Sprintf("Purchased %dx %s", quantity, item.Name),
			Actor:     string(account),
		}
		_, entryID, err := svc.Maintainer.ApplyDeltaIn(ctx, s, BalanceKey(account), -totalCost, entry)
		if err != nil {
			return err
		}
		purchase.EntryID = entryID

		return s.InsertPurchase(ctx, purchase)
	})
	if err != nil {
		return Purchase{}, err
	}
	return purchase, nil
}

// Refund reverses a committed purchase: a compensating positive entry
// referencing the original, and the stock restored for limited items.
// The purchase row itself is immutable and stays for audit.
func (svc *ShopService) Refund(ctx context.Context, p Purchase, actor, reason string) (int64, error) {
	var balance int64
	err := svc.Maintainer.Atomic(ctx, func(s Store) error {
		item, err := s.GetItem(ctx, p.ItemID)
		if err != nil {
			return err
		}
		if item.Limited() {
			if _, err := s.AddToStock(ctx, p.ItemID, p.Quantity); err != nil {
				return err
			}
		}
		entry := &Entry{
			Amount:    p.TotalCost,
			Category:  CategoryManual,
			Reference: "purchase:" + p.ID,
			Reason:    reason,
			Actor:     actor,
			// One refund per purchase.
			IdempotencyKey: "refund:" + p.ID,
		}
		v, _, err := svc.Maintainer.ApplyDeltaIn(ctx, s, BalanceKey(p.Account), p.TotalCost, entry)
		balance = v
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
