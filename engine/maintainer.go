/*
maintainer.go - The single chokepoint for aggregate changes

PURPOSE:
  Every balance or progress-count change passes through the Maintainer. It
  performs the ledger append and the aggregate update as one atomic unit of
  work: both succeed or both are rolled back. No code path may write a
  cached aggregate without its log entry riding the same unit.

TWO ENTRY POINTS:
  ApplyDelta    Opens its own unit of work and owns the bounded retry loop
                for ErrConflict.
  ApplyDeltaIn  For callers already inside WithTx (submission transitions,
                shop settlement) that need the append+update pair joined to
                their own writes. The caller's WithTx owns atomicity; retry
                stays with whoever opened the unit of work.

NEGATIVE BALANCE POLICY:
  Penalties and manual corrections may drive a balance negative (an admin
  can impose a debt larger than the current balance). Shop purchases may
  not. The policy keys off the entry's category.

RETRY POLICY:
  ErrConflict is absorbed up to MaxRetries times, then surfaced. All other
  errors surface immediately. Retries are logged so audit trails show them.

SEE ALSO:
  - store.go: Guarded relative updates the Maintainer relies on
  - reconcile.go: Uses the same path to write corrective deltas
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxRetries bounds how many ErrConflict collisions ApplyDelta
// absorbs before surfacing the error to the caller.
const DefaultMaxRetries = 3

// Maintainer applies a ledger entry's effect to exactly one denormalized
// counter as part of the same atomic unit of work that appends the entry.
type Maintainer struct {
	Store      TxStore
	MaxRetries int          // 0 means DefaultMaxRetries
	Logger     *slog.Logger // nil means slog.Default()

	// Now is the clock; tests override it. Nil means time.Now.
	Now func() time.Time
}

func NewMaintainer(store TxStore) *Maintainer {
	return &Maintainer{Store: store}
}

func (m *Maintainer) retries() int {
	if m.MaxRetries > 0 {
		return m.MaxRetries
	}
	return DefaultMaxRetries
}

func (m *Maintainer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func (m *Maintainer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// =============================================================================
// APPLY DELTA - Atomic append + aggregate update
// =============================================================================

// ApplyDelta opens a unit of work, appends entry (for balance keys) and
// applies delta to the aggregate named by key, retrying the whole unit a
// bounded number of times on ErrConflict. Returns the new aggregate value.
func (m *Maintainer) ApplyDelta(ctx context.Context, key AggregateKey, delta int64, entry *Entry) (int64, error) {
	var value int64
	err := m.Atomic(ctx, func(s Store) error {
		v, _, err := m.ApplyDeltaIn(ctx, s, key, delta, entry)
		value = v
		return err
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Atomic runs fn in a unit of work, absorbing up to MaxRetries ErrConflict
// failures. It is the retry wrapper services share with ApplyDelta so that
// retry policy lives in one place and is visible in logs.
func (m *Maintainer) Atomic(ctx context.Context, fn func(Store) error) error {
	var err error
	for attempt := 0; attempt <= m.retries(); attempt++ {
		if attempt > 0 {
			m.logger().Warn("retrying unit of work after conflict",
				slog.Int("attempt", attempt))
		}
		err = m.Store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("retries exhausted: %w", err)
}

// ApplyDeltaIn performs the append+update pair inside the caller's unit of
// work. For balance keys, entry is required and its effect is the delta.
// For tile keys, entry must be nil: the submission's own history rows are
// the audit trail and the caller writes them in the same unit.
//
// Returns the new aggregate value and, for balance keys, the appended
// entry's id.
func (m *Maintainer) ApplyDeltaIn(ctx context.Context, s Store, key AggregateKey, delta int64, entry *Entry) (int64, EntryID, error) {
	switch key.Kind {
	case AggregateBalance:
		if entry == nil {
			return 0, 0, fmt.Errorf("balance delta for %s requires a ledger entry", key)
		}
		if !entry.Category.Valid() {
			return 0, 0, fmt.Errorf("entry for %s: unknown category %q", key, entry.Category)
		}
		e := *entry
		e.Account = key.Account
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now()
		}

		// Account exists before its first entry lands.
		if _, err := s.EnsureAccount(ctx, key.Account, ""); err != nil {
			return 0, 0, err
		}

		id, err := s.AppendEntry(ctx, e)
		if err != nil {
			return 0, 0, err
		}

		value, err := s.AddToBalance(ctx, key.Account, delta, allowNegative(e.Category))
		if err != nil {
			return 0, 0, err
		}
		return value, id, nil

	case AggregateTile:
		if entry != nil {
			return 0, 0, fmt.Errorf("tile delta for %s must not carry a ledger entry", key)
		}
		progress, err := s.AddToTileProgress(ctx, key.Team, key.Tile, delta)
		if err != nil {
			return 0, 0, err
		}
		return progress.CompletedCount, 0, nil

	default:
		return 0, 0, fmt.Errorf("unknown aggregate kind %q", key.Kind)
	}
}

// allowNegative is the explicit negative-balance policy: admin-imposed
// penalties and manual corrections may exceed the current balance;
// purchases and award categories may not take it below zero.
func allowNegative(c Category) bool {
	return c == CategoryPenalty || c == CategoryManual
}
