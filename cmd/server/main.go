/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the points engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Load the catalog (TOML file, or built-in defaults)
  4. Sync shop items into the store
  5. Configure HTTP router and drift sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: points.db)
  -catalog   Catalog TOML path (default: built-in catalog)
  -sweep     Drift sweep interval (default: 1h, 0 disables)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the drift sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database and a custom catalog
  ./server -db="./data/points.db" -catalog="./catalog.toml"

  # Run on a different port with hourly auto-repairing sweeps
  ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberclan/points-engine/api"
	"github.com/emberclan/points-engine/catalog"
	"github.com/emberclan/points-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "points.db", "SQLite database path")
	catalogPath := flag.String("catalog", "", "catalog TOML path (empty uses built-in defaults)")
	sweepInterval := flag.Duration("sweep", time.Hour, "drift sweep interval (0 disables)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to initialize database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Load catalog
	cat := catalog.Default()
	if *catalogPath != "" {
		cat, err = catalog.Load(*catalogPath)
		if err != nil {
			logger.Error("failed to load catalog", "path", *catalogPath, "error", err)
			os.Exit(1)
		}
	}

	// Seed shop items; existing stock counts are preserved.
	if err := catalog.SyncShopItems(context.Background(), store, cat); err != nil {
		logger.Error("failed to sync shop items", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(store, cat, logger)
	router := api.NewRouter(handler)

	// Background drift sweeps keep cached balances honest.
	var sweeper *api.DriftSweeper
	if *sweepInterval > 0 {
		sweeper = api.NewDriftSweeper(store, handler.Reconciler, logger)
		sweeper.Interval = *sweepInterval
		sweeper.Start()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	if sweeper != nil {
		sweeper.Stop()
	}

	logger.Info("server stopped")
}
