package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/poolparty/ledger/pkg/asset"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

var ErrExpectation = errors.New("scenario expectation failed")

type Config struct {
	Logger *slog.Logger
	// Clock defaults to a fake clock that advances one second per step.
	Clock clockwork.Clock
	// Events receives the pool's committed events. Optional.
	Events   pool.EventSink
	Scenario File
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	}
	return cfg.Scenario.Validate()
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index int
	Op    string
	Err   error
	Kind  string
}

type Result struct {
	Pool  *pool.Pool
	Bank  *asset.Bank
	Steps []StepResult
}

// Run builds an in-memory bank and pool from the scenario, executes every
// step and checks expected errors and final balances. Steps continue after an
// expected failure; an unexpected outcome stops the run with ErrExpectation.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	sc := cfg.Scenario

	bank, err := asset.NewBank(asset.BankConfig{Logger: log})
	if err != nil {
		return nil, fmt.Errorf("failed to create bank: %w", err)
	}
	for _, a := range sc.Assets {
		mode, err := asset.ParseMode(a.Mode)
		if err != nil {
			return nil, err
		}
		if err := bank.Register(a.Address, mode); err != nil {
			return nil, fmt.Errorf("failed to register asset %s: %w", a.Address.Hex(), err)
		}
	}
	for _, b := range sc.Balances {
		v, err := amount(b.Amount)
		if err != nil {
			return nil, err
		}
		if v == nil {
			continue
		}
		if err := bank.Mint(ctx, b.Asset, b.Holder, v); err != nil {
			return nil, fmt.Errorf("failed to mint to %s: %w", b.Holder.Hex(), err)
		}
	}

	poolCfg, err := sc.Pool.config(log, cfg.Clock, bank, cfg.Events)
	if err != nil {
		return nil, err
	}
	p, err := pool.New(poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	res := &Result{Pool: p, Bank: bank}
	r := &runner{pool: p, bank: bank}
	fake, _ := cfg.Clock.(*clockwork.FakeClock)

	for i, step := range sc.Steps {
		if fake != nil {
			fake.Advance(time.Second)
		}
		err := ops[step.Op](ctx, r, step)
		sr := StepResult{Index: i, Op: step.Op, Err: err, Kind: pool.Kind(err)}
		res.Steps = append(res.Steps, sr)
		log.Debug("scenario: step", "index", i, "op", step.Op, "caller", step.Caller.Hex(), "kind", sr.Kind)

		if sr.Kind != step.ExpectError {
			want := step.ExpectError
			if want == "" {
				want = "success"
			}
			return res, fmt.Errorf("%w: step %d (%s): expected %s, got %v", ErrExpectation, i, step.Op, want, err)
		}
	}

	for _, e := range sc.Expect {
		want, err := amount(e.Amount)
		if err != nil {
			return res, err
		}
		if want == nil {
			want = new(uint256.Int)
		}
		got, err := bank.BalanceOf(ctx, e.Asset, e.Holder)
		if err != nil {
			return res, fmt.Errorf("failed to read balance of %s: %w", e.Holder.Hex(), err)
		}
		if !got.Eq(want) {
			return res, fmt.Errorf("%w: balance of %s in %s: expected %s, got %s",
				ErrExpectation, e.Holder.Hex(), e.Asset.Hex(), want, got)
		}
	}

	log.Info("scenario: completed", "name", sc.Name, "steps", len(sc.Steps), "state", p.State().String())
	return res, nil
}

func (s PoolSpec) config(log *slog.Logger, clock clockwork.Clock, bank *asset.Bank, events pool.EventSink) (pool.Config, error) {
	var limits [3]*uint256.Int
	for i, raw := range []string{s.MaxAllocation, s.MinContribution, s.MaxContribution} {
		v, err := amount(raw)
		if err != nil {
			return pool.Config{}, err
		}
		limits[i] = v
	}
	return pool.Config{
		Logger:           log,
		Clock:            clock,
		Bank:             bank,
		Events:           events,
		Address:          s.Address,
		Admins:           s.Admins,
		Payee:            s.Payee,
		FeeRecipient:     s.FeeRecipient,
		MaxAllocation:    limits[0],
		MinContribution:  limits[1],
		MaxContribution:  limits[2],
		AdminFeePercent:  s.AdminFeePercent,
		AdminFeeDecimals: s.AdminFeeDecimals,
		FeePaidInTokens:  s.FeePaidInTokens,
		WhitelistEnabled: s.WhitelistEnabled,
	}, nil
}
