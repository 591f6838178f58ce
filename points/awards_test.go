package points_test

import (
	"context"
	"errors"
	"testing"

	"github.com/emberclan/points-engine/catalog"
	"github.com/emberclan/points-engine/engine"
	"github.com/emberclan/points-engine/engine/store"
	"github.com/emberclan/points-engine/points"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestService() (*points.AwardService, *store.Memory) {
	mem := store.NewMemory()
	m := engine.NewMaintainer(mem)
	return points.NewAwardService(m, catalog.Default()), mem
}

func mustBalance(t *testing.T, mem *store.Memory, account engine.AccountID) int64 {
	t.Helper()
	a, err := mem.GetAccount(context.Background(), account)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return a.Balance
}

// =============================================================================
// COMPETITION PLACEMENTS
// =============================================================================

func TestAwardCompetition_FirstPlace_PaysPodiumValue(t *testing.T) {
	// GIVEN: Skill of the Week pays 20/10/5
	// WHEN: Awarding first place
	// THEN: 20 points land on the balance with an ordinal reason

	ctx := context.Background()
	svc, mem := newTestService()

	res, err := svc.AwardCompetition(ctx, "zezima", "Skill of the Week", 1, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Amount != 20 {
		t.Errorf("expected 20 points, got %d", res.Amount)
	}
	if res.Reason != "Skill of the Week - 1st place" {
		t.Errorf("unexpected reason %q", res.Reason)
	}
	if got := mustBalance(t, mem, "zezima"); got != 20 {
		t.Errorf("expected balance 20, got %d", got)
	}
}

func TestAwardCompetition_OffPodium_FailsWithoutWriting(t *testing.T) {
	// GIVEN: Battleship Bingo only pays two placements
	// WHEN: Awarding third place
	// THEN: The award fails and no entry or account exists

	ctx := context.Background()
	svc, mem := newTestService()

	_, err := svc.AwardCompetition(ctx, "zezima", "Battleship Bingo", 3, "admin")
	if !errors.Is(err, points.ErrInvalidPlacement) {
		t.Fatalf("expected ErrInvalidPlacement, got %v", err)
	}
	if _, err := mem.GetAccount(ctx, "zezima"); !errors.Is(err, engine.ErrAccountNotFound) {
		t.Errorf("expected no account after failed award, got %v", err)
	}
}

func TestAwardCompetition_UnknownType_Fails(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.AwardCompetition(context.Background(), "zezima", "Made Up Cup", 1, "admin")
	if !errors.Is(err, points.ErrUnknownCompetition) {
		t.Fatalf("expected ErrUnknownCompetition, got %v", err)
	}
}

func TestAwardCompetition_OrdinalReasons(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	res, err := svc.AwardCompetition(ctx, "a", "Skill of the Week", 2, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != "Skill of the Week - 2nd place" {
		t.Errorf("unexpected reason %q", res.Reason)
	}

	res, err = svc.AwardCompetition(ctx, "b", "Skill of the Week", 3, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reason != "Skill of the Week - 3rd place" {
		t.Errorf("unexpected reason %q", res.Reason)
	}
}

// =============================================================================
// TIER CLAIMS
// =============================================================================

func TestAwardClogTier_PaysHighestQualifyingTier(t *testing.T) {
	// GIVEN: Default ladder with Iron at 250 items for 10 points
	// WHEN: Claiming with 300 items
	// THEN: Iron pays, not Bronze

	ctx := context.Background()
	svc, mem := newTestService()

	res, err := svc.AwardClogTier(ctx, "zezima", 300, "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Amount != 10 {
		t.Errorf("expected 10 points for Iron, got %d", res.Amount)
	}
	if got := mustBalance(t, mem, "zezima"); got != 10 {
		t.Errorf("expected balance 10, got %d", got)
	}
}

func TestAwardClogTier_SecondClaimOfSameTier_Fails(t *testing.T) {
	// GIVEN: An account that already claimed Iron
	// WHEN: Claiming again with a count in the same tier
	// THEN: The claim fails and the balance is unchanged

	ctx := context.Background()
	svc, mem := newTestService()

	if _, err := svc.AwardClogTier(ctx, "zezima", 300, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.AwardClogTier(ctx, "zezima", 320, "admin")
	if !errors.Is(err, points.ErrTierAlreadyClaimed) {
		t.Fatalf("expected ErrTierAlreadyClaimed, got %v", err)
	}
	if got := mustBalance(t, mem, "zezima"); got != 10 {
		t.Errorf("expected balance unchanged at 10, got %d", got)
	}
}

func TestAwardClogTier_HigherTierAfterLower_Pays(t *testing.T) {
	// Progressing from Iron to Steel is a different tier, so it pays again.

	ctx := context.Background()
	svc, mem := newTestService()

	if _, err := svc.AwardClogTier(ctx, "zezima", 300, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.AwardClogTier(ctx, "zezima", 520, "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustBalance(t, mem, "zezima"); got != 25 {
		t.Errorf("expected balance 25 (Iron 10 + Steel 15), got %d", got)
	}
}

func TestAwardClogTier_BelowLowestTier_Fails(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.AwardClogTier(context.Background(), "zezima", 12, "admin")
	if !errors.Is(err, points.ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
}

func TestAwardCATier_ByName_OncePerAccount(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()

	res, err := svc.AwardCATier(ctx, "zezima", "Grandmaster", "admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Amount != 60 {
		t.Errorf("expected 60 points, got %d", res.Amount)
	}

	_, err = svc.AwardCATier(ctx, "zezima", "grandmaster", "admin")
	if !errors.Is(err, points.ErrTierAlreadyClaimed) {
		t.Fatalf("expected ErrTierAlreadyClaimed for case-variant reclaim, got %v", err)
	}
	if got := mustBalance(t, mem, "zezima"); got != 60 {
		t.Errorf("expected balance unchanged at 60, got %d", got)
	}
}

// =============================================================================
// ADJUSTMENTS AND PENALTIES
// =============================================================================

func TestAdjust_NegativeAdjustment_MayGoBelowZero(t *testing.T) {
	// Manual corrections are allowed to take a balance negative.

	ctx := context.Background()
	svc, mem := newTestService()

	if _, err := svc.Adjust(ctx, "zezima", 5, "event bonus", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Adjust(ctx, "zezima", -8, "correction", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustBalance(t, mem, "zezima"); got != -3 {
		t.Errorf("expected balance -3, got %d", got)
	}
}

func TestPenalize_DeductsAndAllowsNegative(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService()

	if _, err := svc.Penalize(ctx, "zezima", 15, "rule violation", "admin"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mustBalance(t, mem, "zezima"); got != -15 {
		t.Errorf("expected balance -15, got %d", got)
	}
}

func TestPenalize_NonPositiveAmount_Fails(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Penalize(context.Background(), "zezima", 0, "x", "admin"); err == nil {
		t.Fatal("expected error for zero penalty")
	}
	if _, err := svc.Penalize(context.Background(), "zezima", -5, "x", "admin"); err == nil {
		t.Fatal("expected error for negative penalty")
	}
}
