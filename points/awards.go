/*
Package points contains the award flows that feed the account ledger.

PURPOSE:
  Competition placements, collection-log tiers, combat-achievement tiers,
  manual adjustments, and penalties all end here: each flow resolves the
  amount from the catalog, builds a ledger entry with category, reason, and
  actor, and hands it to the Aggregate Maintainer for the atomic append plus
  balance update.

ONCE-PER-ACCOUNT TIERS:
  Collection-log and combat-achievement tiers are claimable once per account.
  The guard is the entry's idempotency key ("clog:<tier>:<account>"); a
  second claim fails at the store with ErrDuplicateIdempotencyKey, so the
  check and the award cannot race.

SEE ALSO:
  - catalog/catalog.go: Point values and tier ladders
  - engine/maintainer.go: The write path everything here goes through
*/
package points

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/emberclan/points-engine/catalog"
	"github.com/emberclan/points-engine/engine"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnknownCompetition means the competition type is not in the catalog.
	ErrUnknownCompetition = errors.New("unknown competition type")

	// ErrInvalidPlacement means the placement is off the competition's podium.
	ErrInvalidPlacement = errors.New("invalid placement")

	// ErrUnknownTier means no catalog tier matches the claim.
	ErrUnknownTier = errors.New("unknown tier")

	// ErrTierAlreadyClaimed means the account already holds the tier.
	ErrTierAlreadyClaimed = errors.New("tier already claimed")
)

// =============================================================================
// AWARD SERVICE
// =============================================================================

// AwardService turns catalog-defined events into ledger entries.
type AwardService struct {
	Maintainer *engine.Maintainer
	Catalog    *catalog.Catalog
}

func NewAwardService(m *engine.Maintainer, c *catalog.Catalog) *AwardService {
	return &AwardService{Maintainer: m, Catalog: c}
}

// AwardResult reports what one award did.
type AwardResult struct {
	Account engine.AccountID
	Amount  int64
	Balance int64
	EntryID engine.EntryID
	Reason  string
}

// =============================================================================
// COMPETITION PLACEMENTS
// =============================================================================

// AwardCompetition pays an account for a competition placement. The amount
// comes from the competition type's podium; placements off the podium fail.
func (a *AwardService) AwardCompetition(ctx context.Context, account engine.AccountID, competitionType string, placement int, actor string) (AwardResult, error) {
	comp, ok := a.Catalog.Competition(competitionType)
	if !ok {
		return AwardResult{}, fmt.Errorf("%w: %q", ErrUnknownCompetition, competitionType)
	}
	points := comp.PointsFor(placement)
	if points == 0 {
		return AwardResult{}, fmt.Errorf("%w: %d for %q", ErrInvalidPlacement, placement, comp.Name)
	}

	reason := fmt.Sprintf("%s - %s place", comp.Name, ordinal(placement))
	entry := engine.Entry{
		Amount:   points,
		Category: engine.CategoryCompetition,
		Reason:   reason,
		Actor:    actor,
	}
	return a.apply(ctx, account, entry)
}

// ordinal renders a 1-based placement as "1st", "2nd", "3rd", "11th", ...
func ordinal(n int) string {
	suffix := "th"
	if n%100 < 10 || n%100 > 20 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// =============================================================================
// TIER CLAIMS
// =============================================================================

// AwardClogTier pays the highest collection-log tier the item count
// qualifies for. Each tier pays once per account.
func (a *AwardService) AwardClogTier(ctx context.Context, account engine.AccountID, itemCount int64, actor string) (AwardResult, error) {
	tier, ok := a.Catalog.ClogTierFor(itemCount)
	if !ok {
		return AwardResult{}, fmt.Errorf("%w: no collection-log tier for count %d", ErrUnknownTier, itemCount)
	}

	entry := engine.Entry{
		Amount:         tier.Points,
		Category:       engine.CategoryCollectionLog,
		Reason:         fmt.Sprintf("Collection Log %s (%d items)", tier.Name, itemCount),
		Actor:          actor,
		IdempotencyKey: tierKey("clog", tier.Name, account),
	}
	return a.applyOnce(ctx, account, entry, tier.Name)
}

// AwardCATier pays a combat-achievement tier claimed by name. Each tier
// pays once per account.
func (a *AwardService) AwardCATier(ctx context.Context, account engine.AccountID, tierName string, actor string) (AwardResult, error) {
	tier, ok := a.Catalog.CATier(tierName)
	if !ok {
		return AwardResult{}, fmt.Errorf("%w: combat-achievement tier %q", ErrUnknownTier, tierName)
	}

	entry := engine.Entry{
		Amount:         tier.Points,
		Category:       engine.CategoryCombatAchievement,
		Reason:         fmt.Sprintf("Combat Achievement %s", tier.Name),
		Actor:          actor,
		IdempotencyKey: tierKey("ca", tier.Name, account),
	}
	return a.applyOnce(ctx, account, entry, tier.Name)
}

func tierKey(kind, tier string, account engine.AccountID) string {
	return kind + ":" + strings.ToLower(tier) + ":" + string(account)
}

// =============================================================================
// MANUAL ADJUSTMENTS
// =============================================================================

// Adjust applies a signed manual adjustment. A negative adjustment may take
// the balance below zero.
func (a *AwardService) Adjust(ctx context.Context, account engine.AccountID, amount int64, reason, actor string) (AwardResult, error) {
	if amount == 0 {
		return AwardResult{}, fmt.Errorf("adjustment amount must be non-zero")
	}
	entry := engine.Entry{
		Amount:   amount,
		Category: engine.CategoryManual,
		Reason:   reason,
		Actor:    actor,
	}
	return a.apply(ctx, account, entry)
}

// Penalize deducts points as a penalty. The balance may go negative.
func (a *AwardService) Penalize(ctx context.Context, account engine.AccountID, amount int64, reason, actor string) (AwardResult, error) {
	if amount <= 0 {
		return AwardResult{}, fmt.Errorf("penalty amount must be positive")
	}
	entry := engine.Entry{
		Amount:   -amount,
		Category: engine.CategoryPenalty,
		Reason:   reason,
		Actor:    actor,
	}
	return a.apply(ctx, account, entry)
}

// =============================================================================
// SHARED WRITE PATH
// =============================================================================

func (a *AwardService) apply(ctx context.Context, account engine.AccountID, entry engine.Entry) (AwardResult, error) {
	var res AwardResult
	err := a.Maintainer.Atomic(ctx, func(s engine.Store) error {
		balance, entryID, err := a.Maintainer.ApplyDeltaIn(ctx, s, engine.BalanceKey(account), entry.Amount, &entry)
		if err != nil {
			return err
		}
		res = AwardResult{
			Account: account,
			Amount:  entry.Amount,
			Balance: balance,
			EntryID: entryID,
			Reason:  entry.Reason,
		}
		return nil
	})
	if err != nil {
		return AwardResult{}, err
	}
	return res, nil
}

func (a *AwardService) applyOnce(ctx context.Context, account engine.AccountID, entry engine.Entry, tierName string) (AwardResult, error) {
	res, err := a.apply(ctx, account, entry)
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
			return AwardResult{}, fmt.Errorf("%w: %s for %s", ErrTierAlreadyClaimed, tierName, account)
		}
		return AwardResult{}, err
	}
	return res, nil
}
