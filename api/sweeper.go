/*
sweeper.go - Background drift sweeper

PURPOSE:
  Periodically replays every account ledger against its cached balance
  and reports drift. The caches are supposed to be pure derivations of
  their logs; the sweeper is the safety net that notices when they are
  not.

DESIGN:
  - Runs a background goroutine with a configurable sweep interval
  - Recomputes every account on each pass and logs any drift found
  - With AutoRepair set, drifted balances are repaired in place (the
    repair leaves a zero-amount marker entry, so the sweep is visible
    in the ledger)

CONFIGURATION:
  - Interval:   How often to sweep (default: 1 hour)
  - AutoRepair: Repair drift instead of only reporting it

USAGE:
  sweeper := NewDriftSweeper(store, reconciler, logger)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - engine/reconcile.go: RecomputeAccount / RepairAccount
  - handlers.go: manual reconciliation endpoints
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emberclan/points-engine/engine"
)

const sweepActor = "drift-sweeper"

// DriftSweeper periodically verifies cached balances against the ledger.
type DriftSweeper struct {
	Store      engine.TxStore
	Reconciler *engine.Reconciler
	Logger     *slog.Logger
	Interval   time.Duration
	AutoRepair bool

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDriftSweeper creates a sweeper with the default hourly interval.
func NewDriftSweeper(store engine.TxStore, r *engine.Reconciler, logger *slog.Logger) *DriftSweeper {
	return &DriftSweeper{
		Store:      store,
		Reconciler: r,
		Logger:     logger,
		Interval:   1 * time.Hour,
		stop:       make(chan struct{}),
	}
}

func (ds *DriftSweeper) logger() *slog.Logger {
	if ds.Logger != nil {
		return ds.Logger
	}
	return slog.Default()
}

// Start begins the background sweep loop.
func (ds *DriftSweeper) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	ds.ticker = time.NewTicker(ds.Interval)
	ds.wg.Add(1)
	go ds.run()

	ds.logger().Info("drift sweeper started", "interval", ds.Interval, "auto_repair", ds.AutoRepair)
}

// Stop halts the sweep loop and waits for an in-flight pass to finish.
func (ds *DriftSweeper) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.logger().Info("drift sweeper stopped")
	}
}

func (ds *DriftSweeper) run() {
	defer ds.wg.Done()

	// Run immediately on start
	ds.Sweep(context.Background())

	for {
		select {
		case <-ds.ticker.C:
			ds.Sweep(context.Background())
		case <-ds.stop:
			return
		}
	}
}

// Sweep recomputes every account once and returns how many drifted.
// Exported so tests and admin tooling can trigger a pass directly.
func (ds *DriftSweeper) Sweep(ctx context.Context) int {
	accounts, err := ds.Store.Leaderboard(ctx, 0)
	if err != nil {
		ds.logger().Error("sweep failed to list accounts", "error", err)
		return 0
	}

	drifted := 0
	for _, acct := range accounts {
		report, err := ds.Reconciler.RecomputeAccount(ctx, acct.ID)
		if err != nil {
			ds.logger().Error("sweep failed to recompute account",
				"account", acct.ID, "error", err)
			continue
		}
		if report.Drift() == 0 {
			continue
		}
		drifted++

		if !ds.AutoRepair {
			continue
		}
		if _, err := ds.Reconciler.RepairAccount(ctx, acct.ID, sweepActor); err != nil {
			ds.logger().Error("sweep failed to repair account",
				"account", acct.ID, "error", err)
		}
	}

	if drifted > 0 {
		ds.logger().Warn("sweep found drifted balances",
			"checked", len(accounts), "drifted", drifted, "repaired", ds.AutoRepair)
	}
	return drifted
}
