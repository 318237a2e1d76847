package pgtesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/malbeclabs/poolparty/ledger/pkg/postgres"
	"github.com/malbeclabs/poolparty/utils/pkg/retry"
)

// DBConfig holds the PostgreSQL test container configuration.
type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// DB represents a PostgreSQL test container.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	host      string
	port      string
	container *tcpostgres.PostgresContainer
}

// Config returns a client config for the given database on the container.
func (db *DB) Config(database string) postgres.Config {
	return postgres.Config{
		Logger:   db.log,
		Host:     db.host,
		Port:     db.port,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
		MaxConns: 4,
		MinConns: 1,
		Retry: retry.Config{
			MaxAttempts: 5,
			BaseBackoff: 250 * time.Millisecond,
			MaxBackoff:  2 * time.Second,
		},
	}
}

// Close terminates the PostgreSQL container.
func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

// NewDB creates a new PostgreSQL testcontainer.
func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	// Retry container start up to 3 times for retryable errors
	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err != nil {
			lastErr = err
			if isRetryableContainerStartErr(err) && attempt < 3 {
				time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("failed to start PostgreSQL container after retries: %w", lastErr)
		}
		break
	}

	if container == nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container after retries: %w", lastErr)
	}

	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port("5432/tcp"))
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL container mapped port: %w", err)
	}

	return &DB{
		log:       log,
		cfg:       cfg,
		host:      host,
		port:      mappedPort.Port(),
		container: container,
	}, nil
}

// NewTestConfig creates a fresh database on the container, dropped when the
// test ends. When migrate is set the schema is applied.
func NewTestConfig(t *testing.T, db *DB, migrate bool) postgres.Config {
	t.Helper()

	admin, err := postgres.NewPool(t.Context(), db.Config(db.cfg.Database))
	require.NoError(t, err)
	defer admin.Close()

	name := fmt.Sprintf("test_%s", strings.ReplaceAll(uuid.New().String(), "-", ""))
	_, err = admin.Exec(t.Context(), fmt.Sprintf("CREATE DATABASE %s", name))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		drop, err := postgres.NewPool(ctx, db.Config(db.cfg.Database))
		if err != nil {
			db.log.Error("failed to reconnect to drop test database", "database", name, "error", err)
			return
		}
		defer drop.Close()
		if _, err := drop.Exec(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", name)); err != nil {
			db.log.Error("failed to drop test database", "database", name, "error", err)
		}
	})

	cfg := db.Config(name)
	if migrate {
		require.NoError(t, postgres.MigrateUp(t.Context(), db.log, cfg))
	}
	return cfg
}

// NewTestPool returns a pool connected to a fresh, migrated database.
func NewTestPool(t *testing.T, db *DB) *pgxpool.Pool {
	t.Helper()

	pool, err := postgres.NewPool(t.Context(), NewTestConfig(t, db, true))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
