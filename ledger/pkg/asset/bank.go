package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Native identifies the native value asset. It matches pool.NativeAsset.
var Native = common.Address{}

var (
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrAssetExists         = errors.New("asset already registered")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferRejected    = errors.New("transfer rejected")
	ErrNoBalanceQuery      = errors.New("asset does not report balances")
)

// Mode selects how an asset behaves. The non-normal modes model broken or
// hostile token contracts.
type Mode int

const (
	ModeNormal Mode = iota
	// ModeFailing rejects every transfer.
	ModeFailing
	// ModeShort moves one unit less than requested but reports success.
	ModeShort
	// ModeNoBalance fails every balance query.
	ModeNoBalance
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeFailing:
		return "failing"
	case ModeShort:
		return "short"
	case ModeNoBalance:
		return "no_balance"
	default:
		return "unknown"
	}
}

// ParseMode is the inverse of Mode.String. The empty string is ModeNormal.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "normal":
		return ModeNormal, nil
	case "failing":
		return ModeFailing, nil
	case "short":
		return ModeShort, nil
	case "no_balance":
		return ModeNoBalance, nil
	}
	return 0, fmt.Errorf("unknown asset mode %q", s)
}

type BankConfig struct {
	Logger *slog.Logger
}

func (cfg *BankConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

type ledger struct {
	mode     Mode
	balances map[common.Address]*uint256.Int
	supply   *uint256.Int
}

// Bank is an in-memory multi-asset ledger. The native asset is always
// registered.
type Bank struct {
	log *slog.Logger

	mu     sync.Mutex
	assets map[common.Address]*ledger
}

func NewBank(cfg BankConfig) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Bank{
		log:    cfg.Logger,
		assets: make(map[common.Address]*ledger),
	}
	b.assets[Native] = newLedger(ModeNormal)
	return b, nil
}

func newLedger(mode Mode) *ledger {
	return &ledger{
		mode:     mode,
		balances: make(map[common.Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

// Register adds a token asset.
func (b *Bank) Register(asset common.Address, mode Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.assets[asset]; ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrAssetExists)
	}
	b.assets[asset] = newLedger(mode)
	b.log.Debug("asset: registered", "asset", asset.Hex(), "mode", mode)
	return nil
}

func (b *Bank) SetMode(asset common.Address, mode Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.assets[asset]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	l.mode = mode
	return nil
}

// Mint creates amount of asset in holder's balance.
func (b *Bank) Mint(ctx context.Context, asset, holder common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.assets[asset]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	l.credit(holder, amount)
	l.supply = new(uint256.Int).Add(l.supply, amount)
	if tx := txFrom(ctx); tx != nil {
		tx.record(movement{asset: asset, to: holder, amount: amount.Clone(), mint: true})
	}
	return nil
}

func (b *Bank) BalanceOf(ctx context.Context, asset, holder common.Address) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.assets[asset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	if l.mode == ModeNoBalance {
		return nil, fmt.Errorf("%s: %w", asset.Hex(), ErrNoBalanceQuery)
	}
	return l.balance(holder), nil
}

// Supply returns the total amount of asset ever minted.
func (b *Bank) Supply(asset common.Address) (*uint256.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.assets[asset]
	if !ok {
		return nil, fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	return l.supply.Clone(), nil
}

func (b *Bank) Transfer(ctx context.Context, asset, from, to common.Address, amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.assets[asset]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	if l.mode == ModeFailing {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrTransferRejected)
	}
	if l.balance(from).Lt(amount) {
		return fmt.Errorf("%s holds %s of %s, need %s: %w", from.Hex(), l.balance(from), asset.Hex(), amount, ErrInsufficientBalance)
	}

	moved := amount.Clone()
	if l.mode == ModeShort && !moved.IsZero() {
		moved = new(uint256.Int).Sub(moved, uint256.NewInt(1))
	}
	l.debit(from, moved)
	l.credit(to, moved)
	if tx := txFrom(ctx); tx != nil {
		tx.record(movement{asset: asset, from: from, to: to, amount: moved})
	}
	return nil
}

func (l *ledger) balance(holder common.Address) *uint256.Int {
	if v, ok := l.balances[holder]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (l *ledger) credit(holder common.Address, amount *uint256.Int) {
	l.balances[holder] = new(uint256.Int).Add(l.balance(holder), amount)
}

func (l *ledger) debit(holder common.Address, amount *uint256.Int) {
	l.balances[holder] = new(uint256.Int).Sub(l.balance(holder), amount)
}
