package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emberclan/points-engine/engine"
	"github.com/emberclan/points-engine/engine/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newReconciler() (*engine.Reconciler, *engine.Maintainer, *store.Memory) {
	mem := store.NewMemory()
	m := engine.NewMaintainer(mem)
	return engine.NewReconciler(mem, m), m, mem
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestRecomputeAccount_HealthyBalance_ZeroDrift(t *testing.T) {
	// GIVEN: An account with +20 and -5 written through the maintainer
	// WHEN: Recomputing
	// THEN: Stored and computed agree at 15

	ctx := context.Background()
	r, m, _ := newReconciler()

	m.ApplyDelta(ctx, engine.BalanceKey("a"), 20, awardEntry(20))
	m.ApplyDelta(ctx, engine.BalanceKey("a"), -5,
		&engine.Entry{Amount: -5, Category: engine.CategoryShopPurchase})

	report, err := r.RecomputeAccount(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stored != 15 || report.Computed != 15 {
		t.Errorf("expected 15/15, got %d/%d", report.Stored, report.Computed)
	}
	if report.Drift() != 0 {
		t.Errorf("expected zero drift, got %d", report.Drift())
	}
}

func TestRecomputeAccount_DetectsInjectedDrift(t *testing.T) {
	// A direct cache write without a ledger entry simulates the corruption
	// reconciliation exists to find.

	ctx := context.Background()
	r, m, mem := newReconciler()
	m.ApplyDelta(ctx, engine.BalanceKey("a"), 20, awardEntry(20))

	if _, err := mem.AddToBalance(ctx, "a", 7, true); err != nil {
		t.Fatalf("failed to inject drift: %v", err)
	}

	report, err := r.RecomputeAccount(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stored != 27 || report.Computed != 20 {
		t.Errorf("expected 27/20, got %d/%d", report.Stored, report.Computed)
	}
	if report.Drift() != -7 {
		t.Errorf("expected drift -7, got %d", report.Drift())
	}
}

func TestRecomputeAccount_UnknownAccount(t *testing.T) {
	r, _, _ := newReconciler()
	_, err := r.RecomputeAccount(context.Background(), "ghost")
	if !errors.Is(err, engine.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRecomputeTile_ComparesApprovedSum(t *testing.T) {
	ctx := context.Background()
	r, m, mem := newReconciler()
	svc := engine.NewSubmissionService(mem, m)

	sub, err := svc.Submit(ctx, "red", 4, "a", "shard", 6, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Transition(ctx, sub.ID, engine.SubmissionApproved, "admin", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report, err := r.RecomputeTile(ctx, "red", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stored != 6 || report.Computed != 6 || report.Drift() != 0 {
		t.Errorf("expected 6/6 drift 0, got %d/%d drift %d",
			report.Stored, report.Computed, report.Drift())
	}
}

// =============================================================================
// REPAIR
// =============================================================================

func TestRepairAccount_CorrectsDriftWithZeroAmountMarker(t *testing.T) {
	// GIVEN: A balance drifted +7 above its ledger sum
	// WHEN: Repairing
	// THEN: The stored balance returns to the sum, the marker entry has
	//       amount zero, and a recompute reports no drift

	ctx := context.Background()
	r, m, mem := newReconciler()
	m.ApplyDelta(ctx, engine.BalanceKey("a"), 20, awardEntry(20))
	mem.AddToBalance(ctx, "a", 7, true)

	report, err := r.RepairAccount(ctx, "a", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Drift() != -7 {
		t.Errorf("expected pre-repair drift -7, got %d", report.Drift())
	}

	acct, _ := mem.GetAccount(ctx, "a")
	if acct.Balance != 20 {
		t.Errorf("expected balance restored to 20, got %d", acct.Balance)
	}

	entries, _ := mem.EntriesForAccount(ctx, "a")
	marker := entries[len(entries)-1]
	if marker.Amount != 0 {
		t.Errorf("marker entry must not move the ledger sum, amount %d", marker.Amount)
	}
	if marker.Reason != engine.RepairReason || marker.Actor != "admin" {
		t.Errorf("unexpected marker entry: %+v", marker)
	}

	after, _ := r.RecomputeAccount(ctx, "a")
	if after.Drift() != 0 {
		t.Errorf("expected zero drift after repair, got %d", after.Drift())
	}
}

func TestRepairAccount_NoDrift_WritesNothing(t *testing.T) {
	ctx := context.Background()
	r, m, mem := newReconciler()
	m.ApplyDelta(ctx, engine.BalanceKey("a"), 20, awardEntry(20))

	if _, err := r.RepairAccount(ctx, "a", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, _ := mem.EntriesForAccount(ctx, "a")
	if len(entries) != 1 {
		t.Errorf("expected no marker for a healthy balance, got %d entries", len(entries))
	}
}

func TestRepairTile_CorrectsDriftedCount(t *testing.T) {
	ctx := context.Background()
	r, m, mem := newReconciler()
	svc := engine.NewSubmissionService(mem, m)

	sub, _ := svc.Submit(ctx, "red", 4, "a", "shard", 6, 10)
	svc.Transition(ctx, sub.ID, engine.SubmissionApproved, "admin", "")

	// Drift the cache upward without touching submissions.
	mem.AddToTileProgress(ctx, "red", 4, 3)

	report, err := r.RepairTile(ctx, "red", 4, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Stored != 9 || report.Computed != 6 {
		t.Errorf("expected 9/6, got %d/%d", report.Stored, report.Computed)
	}

	p, _ := mem.GetTileProgress(ctx, "red", 4)
	if p.CompletedCount != 6 {
		t.Errorf("expected count restored to 6, got %d", p.CompletedCount)
	}
}

// =============================================================================
// PRIVILEGED REMOVAL
// =============================================================================

func TestRemoveEntry_DeletesAndCompensatesAtomically(t *testing.T) {
	// GIVEN: An account with a 20-point award and a 5-point purchase
	// WHEN: The award entry is removed by an admin
	// THEN: The balance drops by 20 (going negative is allowed) and the
	//       invariant holds afterwards

	ctx := context.Background()
	r, m, mem := newReconciler()
	if _, err := m.ApplyDelta(ctx, engine.BalanceKey("a"), 20, awardEntry(20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.ApplyDelta(ctx, engine.BalanceKey("a"), -5,
		&engine.Entry{Amount: -5, Category: engine.CategoryShopPurchase})

	entries, _ := mem.EntriesForAccount(ctx, "a")
	id1 := entries[0].ID

	removed, err := r.RemoveEntry(ctx, id1, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed.Amount != 20 {
		t.Errorf("expected removed amount 20, got %d", removed.Amount)
	}

	acct, _ := mem.GetAccount(ctx, "a")
	if acct.Balance != -5 {
		t.Errorf("expected balance -5 after removal, got %d", acct.Balance)
	}

	report, _ := r.RecomputeAccount(ctx, "a")
	if report.Drift() != 0 {
		t.Errorf("expected zero drift after removal, got %d", report.Drift())
	}
}

func TestRemoveEntry_UnknownEntry(t *testing.T) {
	r, _, _ := newReconciler()
	_, err := r.RemoveEntry(context.Background(), 999, "admin")
	if !errors.Is(err, engine.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}
