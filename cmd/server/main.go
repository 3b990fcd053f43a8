/*
main.go - depositd entry point

PURPOSE:
  Starts the deposit ledger HTTP service, or applies the schema.

COMMANDS:
  depositd serve     Migrate, then serve HTTP until SIGINT/SIGTERM
  depositd migrate   Apply the schema to the configured database and exit

FLAGS:
  --config   YAML config file (default: ./config.yaml if present)

ENVIRONMENT:
  DEPOSIT_SERVER_PORT, DEPOSIT_DATABASE_DRIVER (sqlite|postgres),
  DEPOSIT_DATABASE_DSN, DEPOSIT_LOG_LEVEL, ... A .env file in the working
  directory is loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
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

	"github.com/likeweb3125/newapi-dokliplife-sub001/api"
	"github.com/likeweb3125/newapi-dokliplife-sub001/config"
	"github.com/likeweb3125/newapi-dokliplife-sub001/ledger"
	"github.com/likeweb3125/newapi-dokliplife-sub001/logging"
	"github.com/likeweb3125/newapi-dokliplife-sub001/store/postgres"
	"github.com/likeweb3125/newapi-dokliplife-sub001/store/sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "depositd",
		Short:         "Deposit and refund ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// database is what both store implementations provide.
type database interface {
	ledger.Store
	ledger.Directory
	Migrate(ctx context.Context) error
	Close() error
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (database, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DSN)
	case config.DriverSQLite:
		return sqlite.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			db, err := openDatabase(cmd.Context(), cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info("schema applied", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			db, err := openDatabase(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				return err
			}

			deposits := ledger.NewDepositLedger(db, db, ledger.WithLogger(log))
			refunds := ledger.NewRefundLedger(db, ledger.WithLogger(log))
			handler := api.NewHandler(deposits, refunds, cfg.Ledger.ActorHeader, log)
			router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("server starting",
					zap.Int("port", cfg.Server.Port),
					zap.String("driver", cfg.Database.Driver),
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-quit:
			}

			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}
