package pool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func (p *Pool) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.lifecycle
}

func (p *Pool) Limits() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.limits.clone()
}

// TotalRaised is the effective amount raised: deposits less refunds and
// allocation reductions.
func (p *Pool) TotalRaised() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.totalRaised.Clone()
}

// DistributionBase is the amount raised as frozen by the last close.
func (p *Pool) DistributionBase() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.frozenRaised.Clone()
}

// AdminFeeCollected is the native-value fee charged so far.
func (p *Pool) AdminFeeCollected() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.feeCharged.Clone()
}

// AdminFeeRetained is the charged fee still held in custody.
func (p *Pool) AdminFeeRetained() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.feeRetained.Clone()
}

func (p *Pool) Contributed(addr common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i, ok := p.state.index[addr]; ok {
		return p.state.participants[i].Contributed.Clone()
	}
	return zero()
}

func (p *Pool) Participant(addr common.Address) (Participant, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.state.index[addr]
	if !ok {
		return Participant{}, false
	}
	return *p.state.participants[i].clone(), true
}

// Participants returns every participant record in insertion order.
func (p *Pool) Participants() []Participant {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Participant, len(p.state.participants))
	for i, part := range p.state.participants {
		out[i] = *part.clone()
	}
	return out
}

func (p *Pool) ParticipantCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.state.participants)
}

func (p *Pool) Tokens() []common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]common.Address(nil), p.state.tokens...)
}

func (p *Pool) TokenCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.state.tokens)
}

func (p *Pool) TokenAt(i int) (common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.state.tokens) {
		return common.Address{}, fmt.Errorf("token %d of %d: %w", i, len(p.state.tokens), ErrIndexOutOfBounds)
	}
	return p.state.tokens[i], nil
}

// Claimed is the cumulative amount of token paid to addr.
func (p *Pool) Claimed(token, addr common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return amountOf(p.state.claimed[token], addr)
}

// Distributed is the cumulative amount of token paid to all holders.
func (p *Pool) Distributed(token common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return amountOf(p.state.distributed, token)
}

// Reimbursed is the cumulative reimbursement paid to addr.
func (p *Pool) Reimbursed(addr common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return amountOf(p.state.reimbursed, addr)
}

// ReimbursementClaimable returns what addr would be reimbursed if it claimed
// now.
func (p *Pool) ReimbursementClaimable(addr common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	entitled := entitlement(s.reimbursementTotal, p.weight(s, addr), p.totalWeight(s))
	paid := amountOf(s.reimbursed, addr)
	if !entitled.Gt(paid) {
		return zero()
	}
	return new(uint256.Int).Sub(entitled, paid)
}

func (p *Pool) ReimbursementTotal() *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.reimbursementTotal.Clone()
}

func (p *Pool) Rounds() []Round {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Round, len(p.state.rounds))
	for i, r := range p.state.rounds {
		out[i] = Round{Number: r.Number, Value: r.Value.Clone(), At: r.At}
	}
	return out
}

func (p *Pool) IsWhitelisted(addr common.Address) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.state.whitelist[addr]
	return ok
}

func (p *Pool) Admins() []common.Address {
	return append([]common.Address(nil), p.cfg.Admins...)
}

func (p *Pool) Payee() common.Address {
	return p.cfg.Payee
}

func (p *Pool) FeeRecipient() common.Address {
	return p.cfg.FeeRecipient
}

func (p *Pool) FeePaidInTokens() bool {
	return p.cfg.FeePaidInTokens
}

func (p *Pool) WhitelistEnabled() bool {
	return p.cfg.WhitelistEnabled
}
