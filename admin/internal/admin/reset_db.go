package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/poolparty/ledger/pkg/clickhouse"
)

type ResetDBConfig struct {
	Logger   *slog.Logger
	Client   clickhouse.Client
	Database string

	DryRun      bool
	SkipConfirm bool

	// In and Out carry the confirmation prompt.
	In  io.Reader
	Out io.Writer
}

func (cfg *ResetDBConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Database == "" {
		return errors.New("database is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.In == nil && !cfg.SkipConfirm && !cfg.DryRun {
		return errors.New("input reader is required unless confirmation is skipped")
	}
	return nil
}

// ResetDB drops the journal tables, views and the goose version table so the
// next migration run starts from scratch.
func ResetDB(ctx context.Context, cfg ResetDBConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	out := cfg.Out

	conn, err := cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	tables, err := listNames(ctx, conn, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND engine NOT IN ('View', 'MaterializedView')
		  AND (startsWith(name, 'pool_') OR name = 'goose_db_version')
		ORDER BY name
	`, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to query tables: %w", err)
	}

	views, err := listNames(ctx, conn, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND engine IN ('View', 'MaterializedView')
		ORDER BY name
	`, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to query views: %w", err)
	}

	if len(tables) == 0 && len(views) == 0 {
		fmt.Fprintln(out, "No tables or views found matching patterns")
		return nil
	}

	fmt.Fprintf(out, "WARNING: This will DROP %d table(s) and %d view(s) from database '%s':\n\n", len(tables), len(views), cfg.Database)
	if len(tables) > 0 {
		fmt.Fprintln(out, "Tables:")
		for _, table := range tables {
			fmt.Fprintf(out, "  - %s\n", table)
		}
	}
	if len(views) > 0 {
		fmt.Fprintln(out, "\nViews:")
		for _, view := range views {
			fmt.Fprintf(out, "  - %s\n", view)
		}
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables and views")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(out, "\nThis is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	// Views first, they select from the tables.
	for _, view := range views {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s.%s", cfg.Database, view)); err != nil {
			return fmt.Errorf("failed to drop view %s: %w", view, err)
		}
		fmt.Fprintf(out, "  dropped view %s\n", view)
	}
	for _, table := range tables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", cfg.Database, table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  dropped table %s\n", table)
	}

	cfg.Logger.Info("admin: database reset", "database", cfg.Database, "tables", len(tables), "views", len(views))
	fmt.Fprintf(out, "\nSuccessfully dropped %d table(s) and %d view(s)\n", len(tables), len(views))
	return nil
}

func listNames(ctx context.Context, conn clickhouse.Connection, query, database string) ([]string, error) {
	rows, err := conn.Query(ctx, query, database)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
