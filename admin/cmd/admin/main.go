package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/poolparty/admin/internal/admin"
	"github.com/malbeclabs/poolparty/ledger/pkg/clickhouse"
	"github.com/malbeclabs/poolparty/ledger/pkg/postgres"
	"github.com/malbeclabs/poolparty/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// PostgreSQL configuration
	pgHostFlag := flag.String("pg-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("pg-database", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUsernameFlag := flag.String("pg-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("pg-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// Commands
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse event journal migrations using goose")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse event journal migration status")
	resetDBFlag := flag.Bool("reset-db", false, "Drop the event journal tables and views")
	pgMigrateFlag := flag.Bool("pg-migrate", false, "Run PostgreSQL snapshot migrations using goose")
	pgMigrateStatusFlag := flag.Bool("pg-migrate-status", false, "Show PostgreSQL snapshot migration status")
	pgMigrateDownFlag := flag.Bool("pg-migrate-down", false, "Roll back the last PostgreSQL snapshot migration")
	listSnapshotsFlag := flag.String("list-snapshots", "", "List stored snapshots for the given pool address")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)
	ctx := context.Background()

	// Override flags with environment variables if set
	for env, dst := range map[string]*string{
		"CLICKHOUSE_ADDR_TCP": clickhouseAddrFlag,
		"CLICKHOUSE_DATABASE": clickhouseDatabaseFlag,
		"CLICKHOUSE_USERNAME": clickhouseUsernameFlag,
		"CLICKHOUSE_PASSWORD": clickhousePasswordFlag,
		"POSTGRES_HOST":       pgHostFlag,
		"POSTGRES_PORT":       pgPortFlag,
		"POSTGRES_DB":         pgDatabaseFlag,
		"POSTGRES_USER":       pgUsernameFlag,
		"POSTGRES_PASSWORD":   pgPasswordFlag,
		"POSTGRES_SSLMODE":    pgSSLModeFlag,
	} {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	chCfg := clickhouse.Config{
		Logger:   log,
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}
	pgCfg := postgres.Config{
		Logger:   log,
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUsernameFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}

	// Execute commands
	if *clickhouseMigrateFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return clickhouse.RunMigrations(ctx, log, chCfg.MigrationConfig())
	}

	if *clickhouseMigrateStatusFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return clickhouse.MigrationStatus(ctx, log, chCfg.MigrationConfig())
	}

	if *resetDBFlag {
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --reset-db")
		}
		client, err := clickhouse.NewClient(ctx, chCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to ClickHouse: %w", err)
		}
		defer client.Close()
		return admin.ResetDB(ctx, admin.ResetDBConfig{
			Logger:      log,
			Client:      client,
			Database:    chCfg.Database,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}

	if *pgMigrateFlag {
		return postgres.MigrateUp(ctx, log, pgCfg)
	}

	if *pgMigrateStatusFlag {
		return postgres.MigrateStatus(ctx, log, pgCfg)
	}

	if *pgMigrateDownFlag {
		if *dryRunFlag {
			version, err := postgres.MigrateVersion(ctx, log, pgCfg)
			if err != nil {
				return err
			}
			fmt.Printf("[DRY RUN] Would roll back PostgreSQL migration %d\n", version)
			return nil
		}
		return postgres.MigrateDown(ctx, log, pgCfg)
	}

	if *listSnapshotsFlag != "" {
		if !common.IsHexAddress(*listSnapshotsFlag) {
			return fmt.Errorf("invalid pool address %q", *listSnapshotsFlag)
		}
		pgPool, err := postgres.NewPool(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pgPool.Close()
		store, err := postgres.NewStore(postgres.StoreConfig{Logger: log, DB: pgPool})
		if err != nil {
			return err
		}
		return admin.ListSnapshots(ctx, os.Stdout, store, common.HexToAddress(*listSnapshotsFlag))
	}

	flag.Usage()
	return nil
}
