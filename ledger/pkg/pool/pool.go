package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/malbeclabs/poolparty/ledger/pkg/metrics"
)

type state struct {
	lifecycle State
	limits    Limits

	totalRaised  *uint256.Int
	held         *uint256.Int // contributions in custody not yet forwarded to the payee
	frozenRaised *uint256.Int // distribution base, fixed at close
	feeCharged   *uint256.Int
	feeRetained  *uint256.Int

	participants []*Participant
	index        map[common.Address]int
	whitelist    map[common.Address]struct{}

	tokens      []common.Address
	claimed     map[common.Address]map[common.Address]*uint256.Int
	distributed map[common.Address]*uint256.Int

	reimbursementTotal *uint256.Int
	reimbursementPaid  *uint256.Int
	reimbursed         map[common.Address]*uint256.Int
	rounds             []Round

	seq uint64
}

func newState(cfg *Config) *state {
	return &state{
		lifecycle: StateOpen,
		limits: Limits{
			MaxAllocation:   cfg.MaxAllocation.Clone(),
			MinContribution: cfg.MinContribution.Clone(),
			MaxContribution: cfg.MaxContribution.Clone(),
		},
		totalRaised:        zero(),
		held:               zero(),
		frozenRaised:       zero(),
		feeCharged:         zero(),
		feeRetained:        zero(),
		index:              make(map[common.Address]int),
		whitelist:          make(map[common.Address]struct{}),
		claimed:            make(map[common.Address]map[common.Address]*uint256.Int),
		distributed:        make(map[common.Address]*uint256.Int),
		reimbursementTotal: zero(),
		reimbursementPaid:  zero(),
		reimbursed:         make(map[common.Address]*uint256.Int),
	}
}

func (s *state) clone() *state {
	c := &state{
		lifecycle:          s.lifecycle,
		limits:             s.limits.clone(),
		totalRaised:        s.totalRaised.Clone(),
		held:               s.held.Clone(),
		frozenRaised:       s.frozenRaised.Clone(),
		feeCharged:         s.feeCharged.Clone(),
		feeRetained:        s.feeRetained.Clone(),
		participants:       make([]*Participant, len(s.participants)),
		index:              make(map[common.Address]int, len(s.index)),
		whitelist:          make(map[common.Address]struct{}, len(s.whitelist)),
		tokens:             append([]common.Address(nil), s.tokens...),
		claimed:            make(map[common.Address]map[common.Address]*uint256.Int, len(s.claimed)),
		distributed:        cloneAmounts(s.distributed),
		reimbursementTotal: s.reimbursementTotal.Clone(),
		reimbursementPaid:  s.reimbursementPaid.Clone(),
		reimbursed:         cloneAmounts(s.reimbursed),
		rounds:             make([]Round, len(s.rounds)),
		seq:                s.seq,
	}
	for i, p := range s.participants {
		c.participants[i] = p.clone()
	}
	for a, i := range s.index {
		c.index[a] = i
	}
	for a := range s.whitelist {
		c.whitelist[a] = struct{}{}
	}
	for t, m := range s.claimed {
		c.claimed[t] = cloneAmounts(m)
	}
	for i, r := range s.rounds {
		c.rounds[i] = Round{Number: r.Number, Value: r.Value.Clone(), At: r.At}
	}
	return c
}

func cloneAmounts(m map[common.Address]*uint256.Int) map[common.Address]*uint256.Int {
	c := make(map[common.Address]*uint256.Int, len(m))
	for k, v := range m {
		c[k] = v.Clone()
	}
	return c
}

// amountOf returns m[addr], or zero when absent.
func amountOf(m map[common.Address]*uint256.Int, addr common.Address) *uint256.Int {
	if v, ok := m[addr]; ok {
		return v.Clone()
	}
	return zero()
}

// Pool is the accounting engine of one fundraising pool. All operations are
// serialized; queries may run concurrently with each other.
type Pool struct {
	log *slog.Logger
	cfg Config

	mu      sync.RWMutex
	state   *state
	pending []Event
}

func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Admins = append([]common.Address(nil), cfg.Admins...)
	return &Pool{
		log:   cfg.Logger,
		cfg:   cfg,
		state: newState(&cfg),
	}, nil
}

func (p *Pool) Address() common.Address {
	return p.cfg.Address
}

// mutate runs one operation under the write lock. The operation either fully
// commits or leaves both the bank and the pool untouched.
func (p *Pool) mutate(ctx context.Context, op string, fn func(ctx context.Context, s *state) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.cfg.Clock.Now()
	p.pending = nil

	snapshot := p.state.clone()
	err := p.cfg.Bank.Atomically(ctx, func(ctx context.Context) error {
		return fn(ctx, p.state)
	})
	if err != nil {
		p.state = snapshot
		p.pending = nil
	}

	result := "ok"
	if err != nil {
		result = Kind(err)
		p.log.Debug("pool: operation failed", "operation", op, "error", err)
	}
	metrics.RecordOperation(op, result, p.cfg.Clock.Since(start))
	metrics.PoolParticipants.Set(float64(len(p.state.participants)))
	metrics.PoolTokens.Set(float64(len(p.state.tokens)))

	p.publish(ctx)
	return err
}

func (p *Pool) publish(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	events := p.pending
	p.pending = nil
	if p.cfg.Events == nil {
		return
	}
	if err := p.cfg.Events.Record(ctx, events); err != nil {
		p.log.Warn("pool: failed to record events", "count", len(events), "error", err)
	}
}

func (p *Pool) requireAdmin(caller common.Address) error {
	if !p.cfg.isAdmin(caller) {
		return fmt.Errorf("%s is not an admin: %w", caller.Hex(), ErrUnauthorized)
	}
	return nil
}

func (p *Pool) balance(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	b, err := p.cfg.Bank.BalanceOf(ctx, asset, p.cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read custody balance of %s: %w", ErrTransferFailed, asset.Hex(), err)
	}
	return b, nil
}

// send moves amount of asset out of custody and checks that custody dropped
// by exactly that amount.
func (p *Pool) send(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	before, err := p.balance(ctx, asset)
	if err != nil {
		return err
	}
	if before.Lt(amount) {
		return transferFailed("custody holds %s of %s, need %s", before, asset.Hex(), amount)
	}
	if err := p.cfg.Bank.Transfer(ctx, asset, p.cfg.Address, to, amount); err != nil {
		return fmt.Errorf("%w: failed to send %s of %s to %s: %w", ErrTransferFailed, amount, asset.Hex(), to.Hex(), err)
	}
	after, err := p.balance(ctx, asset)
	if err != nil {
		return err
	}
	if want := new(uint256.Int).Sub(before, amount); !after.Eq(want) {
		return transferFailed("custody balance of %s is %s after sending %s, expected %s", asset.Hex(), after, amount, want)
	}
	metrics.RecordTransfer("out", asset == NativeAsset)
	p.log.Debug("pool: sent", "asset", asset.Hex(), "to", to.Hex(), "amount", amount.Dec())
	return nil
}

// receive pulls amount of native value from a caller into custody.
func (p *Pool) receive(ctx context.Context, from common.Address, amount *uint256.Int) error {
	before, err := p.balance(ctx, NativeAsset)
	if err != nil {
		return err
	}
	if err := p.cfg.Bank.Transfer(ctx, NativeAsset, from, p.cfg.Address, amount); err != nil {
		return fmt.Errorf("%w: failed to receive %s from %s: %w", ErrTransferFailed, amount, from.Hex(), err)
	}
	after, err := p.balance(ctx, NativeAsset)
	if err != nil {
		return err
	}
	if want := new(uint256.Int).Add(before, amount); !after.Eq(want) {
		return transferFailed("custody balance is %s after receiving %s, expected %s", after, amount, want)
	}
	metrics.RecordTransfer("in", true)
	return nil
}

func checkRange(start, end uint64, n int) error {
	if end > uint64(n) || start >= end {
		return fmt.Errorf("range [%d, %d) over %d records: %w", start, end, n, ErrIndexOutOfBounds)
	}
	return nil
}

func requireAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidArgument)
	}
	return nil
}
