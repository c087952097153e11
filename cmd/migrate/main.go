package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"statement-converter/internal/repository"
	"statement-converter/pkg/config"
	"statement-converter/pkg/logger"
	"statement-converter/pkg/postgres"
	"statement-converter/pkg/sqlite"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sqlQuotaStore is implemented by the quota backends that keep a schema.
type sqlQuotaStore interface {
	repository.QuotaStore
	Migrate(ctx context.Context) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

var (
	storeFlag string
	prune     bool
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the usage counter schema and prune expired windows",
	Long: `migrate creates the usage_counters table for the postgres or sqlite quota store.
With --prune it also deletes counters whose window has already ended.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&storeFlag, "store", "", "quota store to migrate (default: QUOTA_STORE)")
	rootCmd.Flags().BoolVar(&prune, "prune", false, "delete expired usage counters after migrating")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logger.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	storeName := cfg.Quota.Store
	if storeFlag != "" {
		storeName = storeFlag
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := openStore(ctx, cfg, storeName, appLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	appLogger.Info("Migrating quota store", zap.String("store", storeName))
	if err := store.Migrate(ctx); err != nil {
		appLogger.Error("Migration failed", zap.Error(err))
		return err
	}

	if prune {
		deleted, err := store.DeleteExpired(ctx, time.Now().UTC())
		if err != nil {
			appLogger.Error("Prune failed", zap.Error(err))
			return err
		}
		appLogger.Info("Pruned expired usage counters", zap.Int64("deleted", deleted))
	}

	appLogger.Info("Migration completed successfully!")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, storeName string, appLogger *zap.Logger) (sqlQuotaStore, error) {
	switch storeName {
	case config.QuotaStorePostgres:
		pool, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repository.NewPostgresQuotaStore(pool, appLogger), nil

	case config.QuotaStoreSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLite.Path, appLogger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return repository.NewSQLiteQuotaStore(db, appLogger), nil

	default:
		return nil, fmt.Errorf("quota store %q has no schema to migrate", storeName)
	}
}
