package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/malbeclabs/poolparty/ledger/pkg/clickhouse"
	"github.com/malbeclabs/poolparty/ledger/pkg/metrics"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
	"github.com/malbeclabs/poolparty/utils/pkg/retry"
)

const insertEventsQuery = `INSERT INTO pool_events (id, pool, seq, at, kind, actor, subject, asset, amount)`

type StoreConfig struct {
	Logger *slog.Logger
	Client clickhouse.Client
	// Retry defaults to retry.DefaultConfig().
	Retry retry.Config
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Store persists pool events to the pool_events table.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// Insert writes events in one batch. Rows are keyed by (pool, seq), so a
// retried batch replaces rather than duplicates.
func (s *Store) Insert(ctx context.Context, events []pool.Event) error {
	if len(events) == 0 {
		return nil
	}

	retryCfg := s.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error) {
		s.log.Warn("journal: insert failed, retrying", "attempt", attempt, "events", len(events), "error", err)
	}

	start := time.Now()
	err := retry.Do(ctx, retryCfg, func() error {
		return s.insertBatch(ctx, events)
	})
	metrics.RecordQuery("clickhouse", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to insert %d events: %w", len(events), err)
	}

	s.log.Debug("journal: inserted events", "count", len(events))
	return nil
}

func (s *Store) insertBatch(ctx context.Context, events []pool.Event) error {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	batch, err := conn.PrepareBatch(clickhouse.ContextWithSyncInsert(ctx), insertEventsQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close() // Always release the connection back to the pool

	for _, e := range events {
		amount := e.Amount
		if amount == nil {
			amount = new(uint256.Int)
		}
		if err := batch.Append(
			e.ID,
			e.Pool.Hex(),
			e.Seq,
			e.At,
			string(e.Kind),
			e.Actor.Hex(),
			e.Subject.Hex(),
			e.Asset.Hex(),
			amount.Dec(),
		); err != nil {
			return fmt.Errorf("failed to append event %d: %w", e.Seq, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Events returns the journal for a pool ordered by sequence number.
func (s *Store) Events(ctx context.Context, poolAddr common.Address) ([]pool.Event, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	rows, err := conn.Query(ctx, `
		SELECT id, pool, seq, at, kind, actor, subject, asset, amount
		FROM pool_events FINAL
		WHERE pool = ?
		ORDER BY seq
	`, poolAddr.Hex())
	metrics.RecordQuery("clickhouse", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []pool.Event
	for rows.Next() {
		var (
			id                                   uuid.UUID
			poolHex, kind, actor, subject, asset string
			amount                               string
			e                                    pool.Event
		)
		if err := rows.Scan(&id, &poolHex, &e.Seq, &e.At, &kind, &actor, &subject, &asset, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		value, err := uint256.FromDecimal(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount %q of event %d: %w", amount, e.Seq, err)
		}
		e.ID = id
		e.Pool = common.HexToAddress(poolHex)
		e.Kind = pool.EventKind(kind)
		e.Actor = common.HexToAddress(actor)
		e.Subject = common.HexToAddress(subject)
		e.Asset = common.HexToAddress(asset)
		e.At = e.At.UTC()
		e.Amount = value
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Counts returns how many events of each kind a pool has journaled.
func (s *Store) Counts(ctx context.Context, poolAddr common.Address) (map[pool.EventKind]uint64, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	rows, err := conn.Query(ctx, `SELECT kind, events FROM pool_event_counts WHERE pool = ?`, poolAddr.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[pool.EventKind]uint64)
	for rows.Next() {
		var (
			kind string
			n    uint64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[pool.EventKind(kind)] = n
	}
	return counts, rows.Err()
}
