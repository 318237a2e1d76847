package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/poolparty/ledger/pkg/archive"
	"github.com/malbeclabs/poolparty/ledger/pkg/clickhouse"
	"github.com/malbeclabs/poolparty/ledger/pkg/journal"
	"github.com/malbeclabs/poolparty/ledger/pkg/metrics"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
	"github.com/malbeclabs/poolparty/ledger/pkg/postgres"
	"github.com/malbeclabs/poolparty/ledger/pkg/scenario"
	"github.com/malbeclabs/poolparty/ledger/pkg/server"
	"github.com/malbeclabs/poolparty/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultListenAddr = "0.0.0.0:8080"

func main() {
	if err := run(); err != nil {
		sentry.CaptureException(err)
		sentry.Flush(2 * time.Second)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	scenarioPath string
	serve        bool
	listenAddr   string
	rateLimit    float64
	rateBurst    int

	clickhouse        clickhouse.Config
	clickhouseMigrate bool
	journalInterval   time.Duration

	postgres        postgres.Config
	postgresMigrate bool

	s3       archive.ClientConfig
	s3Bucket string
	s3Prefix string
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", logger.FormatText, "log format: text or json (or set LOG_FORMAT env var)")

	var opts options
	flag.StringVar(&opts.scenarioPath, "scenario", "", "path to a scenario JSON file to replay (required)")
	flag.BoolVar(&opts.serve, "serve", false, "serve the read-only query API after the scenario completes")
	flag.StringVar(&opts.listenAddr, "listen-addr", defaultListenAddr, "address for the query API (or set LISTEN_ADDR env var)")
	flag.Float64Var(&opts.rateLimit, "rate-limit", 10, "per-client requests per second on /v1 (0 disables)")
	flag.IntVar(&opts.rateBurst, "rate-burst", 20, "per-client burst on /v1")

	flag.StringVar(&opts.clickhouse.Addr, "clickhouse-addr", "", "ClickHouse address (host:port) for the event journal (or set CLICKHOUSE_ADDR_TCP env var)")
	flag.StringVar(&opts.clickhouse.Database, "clickhouse-database", clickhouse.DefaultDatabase, "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	flag.StringVar(&opts.clickhouse.Username, "clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	flag.StringVar(&opts.clickhouse.Password, "clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	flag.BoolVar(&opts.clickhouse.Secure, "clickhouse-secure", false, "enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")
	flag.BoolVar(&opts.clickhouseMigrate, "clickhouse-migrate", false, "run ClickHouse migrations before journaling")
	flag.DurationVar(&opts.journalInterval, "journal-flush-interval", journal.DefaultFlushInterval, "how often queued events are written to ClickHouse")

	flag.StringVar(&opts.postgres.Host, "pg-host", "", "PostgreSQL host for snapshots (or set POSTGRES_HOST env var)")
	flag.StringVar(&opts.postgres.Port, "pg-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	flag.StringVar(&opts.postgres.Database, "pg-database", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	flag.StringVar(&opts.postgres.Username, "pg-username", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	flag.StringVar(&opts.postgres.Password, "pg-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	flag.StringVar(&opts.postgres.SSLMode, "pg-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")
	flag.BoolVar(&opts.postgresMigrate, "pg-migrate", false, "run PostgreSQL migrations before saving snapshots")

	flag.StringVar(&opts.s3Bucket, "s3-bucket", "", "S3 bucket for snapshot archives (or set S3_BUCKET env var)")
	flag.StringVar(&opts.s3Prefix, "s3-prefix", "snapshots", "key prefix for snapshot archives")
	flag.StringVar(&opts.s3.Region, "s3-region", "", "S3 region (or set AWS_REGION env var)")
	flag.StringVar(&opts.s3.Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (or set S3_ENDPOINT env var)")
	flag.BoolVar(&opts.s3.PathStyle, "s3-path-style", false, "use path-style S3 addressing")

	flag.Parse()

	applyEnv(&opts, logFormatFlag)
	log := logger.NewWithFormat(os.Stdout, *verboseFlag, *logFormatFlag)

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         dsn,
			Release:     version,
			Environment: os.Getenv("SENTRY_ENVIRONMENT"),
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if opts.scenarioPath == "" {
		return errors.New("--scenario is required")
	}
	sc, err := scenario.LoadFile(opts.scenarioPath)
	if err != nil {
		return err
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	log.Info("poolparty starting", "version", version, "commit", commit, "scenario", sc.Name)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	buffer, closeJournal, err := openJournal(ctx, log, opts)
	if err != nil {
		return err
	}
	defer closeJournal()

	runCfg := scenario.Config{
		Logger:   log,
		Clock:    clockwork.NewRealClock(),
		Scenario: sc,
	}
	if buffer != nil {
		runCfg.Events = buffer
	}
	res, err := scenario.Run(ctx, runCfg)
	if err != nil {
		return fmt.Errorf("scenario %q failed: %w", sc.Name, err)
	}
	p := res.Pool
	log.Info("scenario replayed",
		"state", p.State().String(),
		"participants", p.ParticipantCount(),
		"total_raised", p.TotalRaised().Dec(),
		"tokens", p.TokenCount(),
	)

	if buffer != nil {
		if err := buffer.Flush(ctx); err != nil {
			return fmt.Errorf("failed to flush journal: %w", err)
		}
	}
	if err := persistSnapshot(ctx, log, opts, p.Snapshot()); err != nil {
		return err
	}

	if !opts.serve {
		return nil
	}

	srv, err := server.New(server.Config{
		Logger:      log,
		Pool:        p,
		ListenAddr:  opts.listenAddr,
		VersionInfo: server.VersionInfo{Version: version, Commit: commit, Date: date},
		RateLimit:   rate.Limit(opts.rateLimit),
		RateBurst:   opts.rateBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}

func applyEnv(opts *options, logFormat *string) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(logFormat, "LOG_FORMAT")
	setString(&opts.listenAddr, "LISTEN_ADDR")
	setString(&opts.clickhouse.Addr, "CLICKHOUSE_ADDR_TCP")
	setString(&opts.clickhouse.Database, "CLICKHOUSE_DATABASE")
	setString(&opts.clickhouse.Username, "CLICKHOUSE_USERNAME")
	setString(&opts.clickhouse.Password, "CLICKHOUSE_PASSWORD")
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		opts.clickhouse.Secure = true
	}
	setString(&opts.postgres.Host, "POSTGRES_HOST")
	setString(&opts.postgres.Port, "POSTGRES_PORT")
	setString(&opts.postgres.Database, "POSTGRES_DB")
	setString(&opts.postgres.Username, "POSTGRES_USER")
	setString(&opts.postgres.Password, "POSTGRES_PASSWORD")
	setString(&opts.postgres.SSLMode, "POSTGRES_SSLMODE")
	setString(&opts.s3Bucket, "S3_BUCKET")
	setString(&opts.s3.Region, "AWS_REGION")
	setString(&opts.s3.Endpoint, "S3_ENDPOINT")
	setString(&opts.s3.AccessKey, "S3_ACCESS_KEY_ID")
	setString(&opts.s3.SecretKey, "S3_SECRET_ACCESS_KEY")
}

// openJournal connects the ClickHouse event journal when an address is set.
// The returned buffer is nil otherwise.
func openJournal(ctx context.Context, log *slog.Logger, opts options) (*journal.Buffer, func(), error) {
	if opts.clickhouse.Addr == "" {
		log.Info("event journal disabled: no ClickHouse address")
		return nil, func() {}, nil
	}

	chCfg := opts.clickhouse
	chCfg.Logger = log
	if opts.clickhouseMigrate {
		if err := clickhouse.RunMigrations(ctx, log, chCfg.MigrationConfig()); err != nil {
			return nil, nil, err
		}
	}
	client, err := clickhouse.NewClient(ctx, chCfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := journal.NewStore(journal.StoreConfig{Logger: log, Client: client})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	buffer, err := journal.NewBuffer(journal.BufferConfig{
		Logger:        log,
		Writer:        store,
		FlushInterval: opts.journalInterval,
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	buffer.Start(ctx)

	return buffer, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := buffer.Close(closeCtx); err != nil {
			log.Error("failed to drain event journal", "pending", buffer.Pending(), "error", err)
		}
		client.Close()
	}, nil
}

// persistSnapshot saves the final ledger to PostgreSQL and S3 when configured.
func persistSnapshot(ctx context.Context, log *slog.Logger, opts options, snap pool.Snapshot) error {
	if opts.postgres.Database != "" {
		pgCfg := opts.postgres
		pgCfg.Logger = log
		if opts.postgresMigrate {
			if err := postgres.MigrateUp(ctx, log, pgCfg); err != nil {
				return err
			}
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
		if err := store.Save(ctx, snap); err != nil {
			return err
		}
		log.Info("snapshot saved", "pool", snap.Pool.Hex(), "seq", snap.Seq)
	}

	if opts.s3Bucket != "" {
		client, err := archive.NewS3Client(ctx, opts.s3)
		if err != nil {
			return err
		}
		arc, err := archive.New(archive.Config{Logger: log, Client: client, Bucket: opts.s3Bucket, Prefix: opts.s3Prefix})
		if err != nil {
			return err
		}
		if _, err := arc.Put(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}
