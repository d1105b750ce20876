// membridge migrates agent memory entries from a legacy SQLite row store
// into a relational backend, and manages the backends it serves.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hivemem/membridge/internal/config"
	"github.com/hivemem/membridge/internal/migration"
	"github.com/hivemem/membridge/internal/storage"
	"github.com/hivemem/membridge/internal/storage/postgres"
	"github.com/hivemem/membridge/internal/storage/sqlite"
	"github.com/hivemem/membridge/pkg/types"
)

func main() {
	log.SetPrefix("[membridge] ")
	log.SetFlags(log.LstdFlags)

	if err := buildRootCommand().Execute(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "membridge",
		Short: "Migrate agent memory entries into a relational backend",
		Long: strings.TrimSpace(`membridge moves memory entries from a legacy SQLite row store into a
PostgreSQL backend in ordered batches, with dry-run validation and
post-migration verification. It also runs health checks and maintenance
against either serving backend.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (environment overrides it)")

	loadConfig := func() (*config.Config, error) {
		var cfg *config.Config
		if configPath != "" {
			loaded, err := config.LoadFile(configPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		} else {
			cfg = config.Load()
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(newMigrateCommand(loadConfig))
	root.AddCommand(newHealthCommand(loadConfig))
	root.AddCommand(newMaintainCommand(loadConfig))

	return root
}

func newMigrateCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		source    string
		target    string
		dryRun    bool
		verify    bool
		batchSize int
		pace      float64
	)

	cmd := &cobra.Command{
		Use:     "migrate",
		Short:   "Run a batched migration from the SQLite source to the PostgreSQL target",
		Example: "  membridge migrate --source ./memory.db --target postgres://localhost/membridge --verify",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if source != "" {
				cfg.Storage.SourcePath = source
			}
			if target != "" {
				cfg.Storage.TargetDSN = target
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Migration.BatchSize = batchSize
			}
			if cmd.Flags().Changed("batches-per-second") {
				cfg.Migration.BatchesPerSecond = pace
			}

			if cfg.Storage.SourcePath == "" {
				return fmt.Errorf("a source database is required (--source or MEMBRIDGE_SOURCE_PATH)")
			}
			if cfg.Storage.TargetDSN == "" {
				return fmt.Errorf("a target DSN is required (--target or MEMBRIDGE_TARGET_DSN)")
			}

			return runMigrate(cmd.Context(), cfg, migration.RunOptions{DryRun: dryRun, Verify: verify})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "path to the legacy SQLite database")
	cmd.Flags().StringVar(&target, "target", "", "PostgreSQL DSN of the migration target")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate all entries without writing anything")
	cmd.Flags().BoolVar(&verify, "verify", false, "run the post-migration consistency check")
	cmd.Flags().IntVar(&batchSize, "batch-size", migration.DefaultBatchSize, "entries per batch")
	cmd.Flags().Float64Var(&pace, "batches-per-second", 0, "pace batch processing (0 disables)")

	return cmd
}

func runMigrate(ctx context.Context, cfg *config.Config, opts migration.RunOptions) error {
	reader, err := sqlite.OpenReader(cfg.Storage.SourcePath)
	if err != nil {
		return err
	}

	store := postgres.NewStore(cfg.Storage.TargetDSN, postgres.PoolConfig{
		MaxOpenConns:    cfg.Storage.Pool.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Pool.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.Pool.ConnMaxLifetime,
		ConnectTimeout:  cfg.Storage.Pool.ConnectTimeout,
	})

	engineConfig := migration.EngineConfig{
		BatchSize:        cfg.Migration.BatchSize,
		BatchesPerSecond: cfg.Migration.BatchesPerSecond,
		Breaker: migration.BreakerConfig{
			MaxFailures: uint32(cfg.Migration.BreakerFailures),
			Timeout:     cfg.Migration.BreakerTimeout,
		},
	}

	orchestrator := migration.NewOrchestrator(reader, store, engineConfig, cfg.Migration.SwarmID)

	stats, err := orchestrator.Run(ctx, opts)
	if stats != nil {
		printStats(stats, opts.DryRun)
	}

	var verr *storage.VerificationFailedError
	if errors.As(err, &verr) {
		fmt.Printf("verification FAILED: source=%d target=%d match=%t sample=%t\n",
			verr.Report.SourceCount, verr.Report.TargetCount, verr.Report.Match, verr.Report.SampleVerification)
	}
	return err
}

func printStats(stats *types.MigrationStats, dryRun bool) {
	mode := "migration"
	if dryRun {
		mode = "dry run"
	}
	fmt.Printf("%s complete: %d total, %d migrated, %d skipped, %d errors (%dms)\n",
		mode, stats.TotalEntries, stats.MigratedEntries, stats.SkippedEntries, stats.Errors, stats.DurationMS)
}

func newHealthCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report the serving backend's health status as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			status := store.GetHealthStatus(ctx)
			out, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return fmt.Errorf("encode health status: %w", err)
			}
			fmt.Println(string(out))

			if !status.Healthy {
				return fmt.Errorf("backend is unhealthy")
			}
			return nil
		},
	}
}

func newMaintainCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "maintain",
		Short: "Run maintenance (statistics refresh, space reclamation) on the serving backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
			defer cancel()

			store, err := openBackend(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Shutdown()

			if err := store.PerformMaintenance(ctx); err != nil {
				return err
			}
			fmt.Println("maintenance complete")
			return nil
		},
	}
}

// openBackend opens and initializes the configured serving backend.
func openBackend(ctx context.Context, cfg *config.Config) (storage.BackendStore, error) {
	var store storage.BackendStore
	switch cfg.Storage.Engine {
	case "postgres":
		if cfg.Storage.TargetDSN == "" {
			return nil, fmt.Errorf("the postgres engine requires MEMBRIDGE_TARGET_DSN")
		}
		store = postgres.NewStore(cfg.Storage.TargetDSN, postgres.PoolConfig{
			MaxOpenConns:    cfg.Storage.Pool.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Pool.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Pool.ConnMaxLifetime,
			ConnectTimeout:  cfg.Storage.Pool.ConnectTimeout,
		})
	case "sqlite":
		store = sqlite.NewStore(cfg.Storage.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}

	if err := store.Initialize(ctx); err != nil {
		return nil, err
	}
	return store, nil
}
