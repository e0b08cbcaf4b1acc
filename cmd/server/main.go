/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the branch ledger server: the cache-first,
  reconciling front for the school backend.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the logger
  3. Initialize SQLite store (cache, session, run history)
  4. Wire coordinator, backend client and API handler
  5. Start the dashboard refresher
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML configuration file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the dashboard refresher
  2. Stop accepting new connections, wait for active requests
  3. Wait for background fetches to settle
  4. Close database connection

EXAMPLES:
  # Defaults plus environment
  BRANCH_BACKEND_BASE_URL=https://api.school.example ./server

  # With a file
  ./server -config=./branch.yaml

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/branch-ledger/api"
	"github.com/warp/branch-ledger/backend"
	"github.com/warp/branch-ledger/config"
	"github.com/warp/branch-ledger/generic"
	"github.com/warp/branch-ledger/logging"
	"github.com/warp/branch-ledger/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	coord := generic.NewCoordinator(store, logger)
	coord.MaxBackground = cfg.Fetch.MaxBackground

	auth := backend.NewAuthorizer(store, logger)
	handler := api.NewHandler(api.Dependencies{
		Coordinator: coord,
		Backend:     backend.NewClient(cfg.Backend.BaseURL, auth, logger),
		Auth:        auth,
		Runs:        store,
		Assets: generic.AssetResolver{
			BaseOrigin: cfg.Assets.BaseOrigin,
			DefaultDir: cfg.Assets.DefaultDir,
		},
		Fetch:  cfg.Fetch,
		Logger: logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	refresher := api.NewDashboardRefresher(handler, cfg.Dashboard.RefreshInterval)
	refresher.Start(ctx)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, cfg.Server.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"backend", cfg.Backend.BaseURL,
			"database", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		refresher.Stop()
		coord.Wait()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	refresher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	coord.Wait()
	logger.Info("server stopped")
	return nil
}
