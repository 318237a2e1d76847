package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/malbeclabs/poolparty/ledger/pkg/metrics"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

var ErrNoSnapshot = errors.New("no snapshot found")

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type StoreConfig struct {
	Logger *slog.Logger
	DB     DB
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DB == nil {
		return errors.New("db is required")
	}
	return nil
}

// Store keeps pool snapshots in the pool_snapshots table.
type Store struct {
	log *slog.Logger
	db  DB
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, db: cfg.DB}, nil
}

// SnapshotInfo describes a stored snapshot without its body.
type SnapshotInfo struct {
	Pool    common.Address
	Seq     uint64
	State   string
	TakenAt time.Time
}

// Save stores snap. Saving the same (pool, seq) again replaces the body.
func (s *Store) Save(ctx context.Context, snap pool.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	start := time.Now()
	_, err = s.db.Exec(ctx, `
		INSERT INTO pool_snapshots (pool, seq, state, taken_at, snapshot)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pool, seq) DO UPDATE
		SET state = EXCLUDED.state, taken_at = EXCLUDED.taken_at, snapshot = EXCLUDED.snapshot
	`, snap.Pool.Hex(), int64(snap.Seq), snap.State, snap.TakenAt, body)
	metrics.RecordQuery("postgres", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	s.log.Debug("postgres: saved snapshot", "pool", snap.Pool.Hex(), "seq", snap.Seq, "state", snap.State)
	return nil
}

// Latest returns the snapshot with the highest sequence number for a pool.
func (s *Store) Latest(ctx context.Context, poolAddr common.Address) (pool.Snapshot, error) {
	var body []byte
	start := time.Now()
	err := s.db.QueryRow(ctx, `
		SELECT snapshot FROM pool_snapshots
		WHERE pool = $1
		ORDER BY seq DESC
		LIMIT 1
	`, poolAddr.Hex()).Scan(&body)
	metrics.RecordQuery("postgres", time.Since(start), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return pool.Snapshot{}, fmt.Errorf("%w for pool %s", ErrNoSnapshot, poolAddr.Hex())
	}
	if err != nil {
		return pool.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap pool.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return pool.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// List returns the stored snapshots of a pool, newest first.
func (s *Store) List(ctx context.Context, poolAddr common.Address) ([]SnapshotInfo, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, state, taken_at FROM pool_snapshots
		WHERE pool = $1
		ORDER BY seq DESC
	`, poolAddr.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			seq  int64
			info = SnapshotInfo{Pool: poolAddr}
		)
		if err := rows.Scan(&seq, &info.State, &info.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.Seq = uint64(seq)
		info.TakenAt = info.TakenAt.UTC()
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return out, nil
}
