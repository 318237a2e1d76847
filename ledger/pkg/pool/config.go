package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
)

// MaxFeeDecimals bounds the fixed-point precision of the admin fee.
const MaxFeeDecimals = 18

// Bank is the custody layer the pool settles through. Transfers move value
// between holders of one asset; NativeAsset selects the native value.
// Atomically must undo every movement made through the context passed to fn
// when fn returns an error.
type Bank interface {
	BalanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventSink receives the events of every committed operation, in order.
type EventSink interface {
	Record(ctx context.Context, events []Event) error
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Bank   Bank
	Events EventSink // optional

	// Address is the pool's custody address at the bank.
	Address      common.Address
	Admins       []common.Address
	Payee        common.Address
	FeeRecipient common.Address // defaults to the first admin

	MaxAllocation   *uint256.Int
	MinContribution *uint256.Int
	MaxContribution *uint256.Int

	// AdminFeePercent is a fixed-point percentage with AdminFeeDecimals
	// decimals: 576300 with 5 decimals is 5.763%.
	AdminFeePercent  uint64
	AdminFeeDecimals uint8
	FeePaidInTokens  bool
	WhitelistEnabled bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Address == (common.Address{}) {
		return errors.New("pool address is required")
	}
	if len(cfg.Admins) == 0 {
		return errors.New("at least one admin is required")
	}
	for _, a := range cfg.Admins {
		if a == (common.Address{}) {
			return errors.New("admin address must not be zero")
		}
	}
	if cfg.Payee == (common.Address{}) {
		return errors.New("payee is required")
	}
	if cfg.Payee == cfg.Address {
		return errors.New("payee must not be the pool address")
	}
	if cfg.MaxAllocation == nil || cfg.MinContribution == nil || cfg.MaxContribution == nil {
		return errors.New("contribution limits are required")
	}
	if cfg.MinContribution.Gt(cfg.MaxContribution) {
		return fmt.Errorf("min contribution %s exceeds max contribution %s", cfg.MinContribution, cfg.MaxContribution)
	}
	if cfg.MaxContribution.Gt(cfg.MaxAllocation) {
		return fmt.Errorf("max contribution %s exceeds max allocation %s", cfg.MaxContribution, cfg.MaxAllocation)
	}
	if cfg.AdminFeeDecimals > MaxFeeDecimals {
		return fmt.Errorf("admin fee decimals must be at most %d", MaxFeeDecimals)
	}
	if uint256.NewInt(cfg.AdminFeePercent).Gt(feeScale(cfg.AdminFeeDecimals)) {
		return errors.New("admin fee percent must not exceed 100%")
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.FeeRecipient == (common.Address{}) {
		cfg.FeeRecipient = cfg.Admins[0]
	}
	return nil
}

func (cfg *Config) isAdmin(addr common.Address) bool {
	for _, a := range cfg.Admins {
		if a == addr {
			return true
		}
	}
	return false
}
