/*
reconcile.go - Recompute aggregates from the ledger, report and correct drift

PURPOSE:
  The cached aggregates are rebuildable at any time from their logs. The
  Reconciler recomputes them from scratch, compares against the stored
  values, and - on the privileged repair path - writes the difference back
  through the Maintainer's atomic path.

COMPUTED VALUES:
  account:  signed sum of the account's entries (SumForAccount)
  tile:     sum of quantities of currently-approved submissions

  The computed value NEVER reads the cached aggregate as an input.

REPAIR SEMANTICS:
  Repair writes a relative corrective delta (computed - stored), not an
  absolute overwrite, so it is safe to run while other mutations are in
  flight: a delta composed with a concurrent write still lands on the
  ledger-derived value. The balance repair rides the maintainer's path with
  a zero-amount marker entry (category "manual", reason "reconciliation
  repair") so the repair is itself auditable; the marker carries amount
  zero because the ledger sum is already the truth the cache is being moved
  to - a non-zero amount would move the target while chasing it.

LOCKING:
  Recompute scans take no long-lived locks: each reads one consistent
  snapshot per aggregate. Only repair opens a write unit of work.

SEE ALSO:
  - maintainer.go: The atomic path repairs go through
  - store.go: DeleteEntry, the privileged removal used by RemoveEntry
*/
package engine

import (
	"context"
	"log/slog"
	"time"
)

// RepairReason tags the marker entry written by balance repairs.
const RepairReason = "reconciliation repair"

// Report is a reconciliation finding, not a failure.
type Report struct {
	Key      AggregateKey
	Stored   int64
	Computed int64
}

// Drift is the discrepancy between the stored aggregate and its
// ledger-recomputed value. Zero means the invariant holds.
func (r Report) Drift() int64 { return r.Computed - r.Stored }

// =============================================================================
// RECONCILER
// =============================================================================

type Reconciler struct {
	Store      TxStore
	Maintainer *Maintainer
	Logger     *slog.Logger // nil means slog.Default()

	Now func() time.Time // nil means time.Now
}

func NewReconciler(store TxStore, m *Maintainer) *Reconciler {
	return &Reconciler{Store: store, Maintainer: m}
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RecomputeAccount replays the account's ledger and compares the sum to the
// stored balance. Read-only; safe to run concurrently with live traffic.
func (r *Reconciler) RecomputeAccount(ctx context.Context, id AccountID) (Report, error) {
	var report Report
	err := r.Store.WithTx(ctx, func(s Store) error {
		account, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		computed, err := s.SumForAccount(ctx, id)
		if err != nil {
			return err
		}
		report = Report{Key: BalanceKey(id), Stored: account.Balance, Computed: computed}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	r.logDrift(report)
	return report, nil
}

// RecomputeTile replays the tile's submissions and compares the approved
// quantity sum to the stored completed-count.
func (r *Reconciler) RecomputeTile(ctx context.Context, team TeamID, tile TileID) (Report, error) {
	var report Report
	err := r.Store.WithTx(ctx, func(s Store) error {
		progress, err := s.GetTileProgress(ctx, team, tile)
		if err != nil {
			return err
		}
		computed, err := s.ApprovedQuantityForTile(ctx, team, tile)
		if err != nil {
			return err
		}
		report = Report{Key: TileKey(team, tile), Stored: progress.CompletedCount, Computed: computed}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	r.logDrift(report)
	return report, nil
}

func (r *Reconciler) logDrift(report Report) {
	if report.Drift() == 0 {
		return
	}
	r.logger().Warn("aggregate drift detected",
		slog.String("key", report.Key.String()),
		slog.Int64("stored", report.Stored),
		slog.Int64("computed", report.Computed),
		slog.Int64("drift", report.Drift()))
}

// =============================================================================
// REPAIR - Privileged corrective path
// =============================================================================

// RepairAccount corrects a drifted balance inside one unit of work:
// recompute, then apply (computed - stored) through the maintainer's path
// together with the zero-amount marker entry. Returns the pre-repair
// report. A zero drift writes nothing.
func (r *Reconciler) RepairAccount(ctx context.Context, id AccountID, actor string) (Report, error) {
	var report Report
	err := r.Maintainer.Atomic(ctx, func(s Store) error {
		account, err := s.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		computed, err := s.SumForAccount(ctx, id)
		if err != nil {
			return err
		}
		report = Report{Key: BalanceKey(id), Stored: account.Balance, Computed: computed}
		drift := report.Drift()
		if drift == 0 {
			return nil
		}

		marker := &Entry{
			Account:  id,
			Amount:   0,
			Category: CategoryManual,
			Reason:   RepairReason,
			Actor:    actor,
		}
		_, _, err = r.Maintainer.ApplyDeltaIn(ctx, s, BalanceKey(id), drift, marker)
		return err
	})
	if err != nil {
		return Report{}, err
	}
	if report.Drift() != 0 {
		r.logger().Info("repaired account balance",
			slog.String("account", string(id)),
			slog.Int64("corrective_delta", report.Drift()),
			slog.String("actor", actor))
	}
	return report, nil
}

// RepairTile corrects a drifted completed-count by a relative delta. The
// submission rows already record the truth being restored, so no marker
// row is written; the repair is logged instead.
func (r *Reconciler) RepairTile(ctx context.Context, team TeamID, tile TileID, actor string) (Report, error) {
	var report Report
	err := r.Maintainer.Atomic(ctx, func(s Store) error {
		progress, err := s.GetTileProgress(ctx, team, tile)
		if err != nil {
			return err
		}
		computed, err := s.ApprovedQuantityForTile(ctx, team, tile)
		if err != nil {
			return err
		}
		report = Report{Key: TileKey(team, tile), Stored: progress.CompletedCount, Computed: computed}
		drift := report.Drift()
		if drift == 0 {
			return nil
		}
		_, _, err = r.Maintainer.ApplyDeltaIn(ctx, s, TileKey(team, tile), drift, nil)
		return err
	})
	if err != nil {
		return Report{}, err
	}
	if report.Drift() != 0 {
		r.logger().Info("repaired tile progress",
			slog.String("key", report.Key.String()),
			slog.Int64("corrective_delta", report.Drift()),
			slog.String("actor", actor))
	}
	return report, nil
}

// RemoveEntry is the privileged removal path for true data correction: it
// deletes a ledger entry and applies the compensating aggregate delta in
// the same unit of work, so the balance invariant holds afterwards.
func (r *Reconciler) RemoveEntry(ctx context.Context, id EntryID, actor string) (Entry, error) {
	var removed Entry
	err := r.Maintainer.Atomic(ctx, func(s Store) error {
		e, err := s.DeleteEntry(ctx, id)
		if err != nil {
			return err
		}
		removed = e
		// Removal may legitimately leave the balance negative (the entry
		// being removed could be the award a later purchase spent).
		_, err = s.AddToBalance(ctx, e.Account, -e.Amount, true)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	r.logger().Info("removed ledger entry",
		slog.Int64("entry", int64(removed.ID)),
		slog.String("account", string(removed.Account)),
		slog.Int64("amount", removed.Amount),
		slog.String("actor", actor))
	return removed, nil
}
