/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, file, environment, flags)
  2. Build the zerolog logger
  3. Open the store (memory, sqlite or postgres)
  4. Start the event bus and subscribe the event log
  5. Create ledger.Service, seed system categories (and books, if given)
  6. Start the balance auditor
  7. Configure HTTP router and start server

COMMAND-LINE FLAGS:
  -config          YAML config file
  -port            HTTP server port (default: 8080)
  -driver          memory | sqlite | postgres (default: sqlite)
  -db              SQLite path or PostgreSQL DSN (default: ledger.db)
  -log-level       debug | info | warn | error
  -log-format      console | json
  -org             Organization id the books belong to
  -audit-interval  Balance audit interval, 0 disables (default: 1h)
  -seed            Books file applied when the organization has no accounts

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor, drain the event bus
  4. Close database connection

EXAMPLES:
  ./server -driver=memory -seed=./books.yaml
  ./server -driver=postgres -db="host=localhost user=ledger dbname=ledger sslmode=disable"
  LEDGER_LOG_LEVEL=debug ./server -log-format=json

SEE ALSO:
  - config/config.go: Configuration layers
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/factory"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/logging"
	"github.com/warp/ledger-engine/notify"
	"github.com/warp/ledger-engine/store/postgres"
	"github.com/warp/ledger-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Initialize store
	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Driver).Msg("Failed to initialize database")
	}
	defer closeStore()

	// Event bus
	bus := notify.NewBus(256, log.With().Str("component", "notify").Logger())
	bus.Subscribe("", notify.LogEvents(log))
	if err := bus.Start(context.Background(), 2); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event bus")
	}

	svc := ledger.NewService(st, ledger.OrgID(cfg.Org),
		ledger.WithLogger(log.With().Str("org", cfg.Org).Logger()),
		ledger.WithPublisher(bus),
	)

	ctx := logging.WithContext(context.Background(), log)
	if _, err := svc.EnsureSystemCategories(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed system categories")
	}
	if cfg.Seed != "" {
		if err := seed(ctx, svc, cfg.Seed, log); err != nil {
			log.Fatal().Err(err).Str("file", cfg.Seed).Msg("Failed to apply seed books")
		}
	}

	// Balance auditor
	auditor := api.NewBalanceAuditor(svc, log)
	auditor.CheckInterval = cfg.AuditInterval
	auditor.Enabled = cfg.AuditInterval > 0
	auditor.Start()

	handler := api.NewHandler(svc)
	handler.Auditor = auditor

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         log,
		AllowedOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("driver", cfg.Driver).
			Str("org", cfg.Org).
			Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	auditor.Stop()
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Event bus did not drain")
	}
	stats := bus.Stats()
	log.Info().
		Int64("events_published", stats.Published).
		Int64("events_failed", stats.Failed).
		Msg("Server stopped")
}

// openStore returns the configured store and its close function.
func openStore(cfg config.Config) (ledger.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewTxMemory(), func() error { return nil }, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverPostgres:
		s, err := postgres.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// seed applies a books file unless the organization already has accounts,
// so restarting with the same -seed does not duplicate the books.
func seed(ctx context.Context, svc *ledger.Service, path string, log zerolog.Logger) error {
	accounts, err := svc.ListAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		log.Info().Int("accounts", len(accounts)).Msg("Books already present, skipping seed")
		return nil
	}

	books, err := factory.LoadFile(path)
	if err != nil {
		return err
	}
	res, err := factory.Apply(ctx, svc, books)
	if err != nil {
		return err
	}
	log.Info().
		Str("books", books.Name).
		Int("accounts", len(res.Accounts)).
		Int("entries", len(res.Entries)).
		Msg("Seed books applied")
	return nil
}
