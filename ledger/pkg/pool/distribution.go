package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Claim pays the caller everything it is owed across all registered tokens.
func (p *Pool) Claim(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "claim", func(ctx context.Context, s *state) error {
		if s.lifecycle != StateClosed {
			return invalidState("claim", s.lifecycle)
		}
		return p.claimTokens(ctx, s, caller, caller)
	})
}

// ClaimForAddress is the administrative form of Claim.
func (p *Pool) ClaimForAddress(ctx context.Context, caller, participant common.Address) error {
	return p.mutate(ctx, "claim_address", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("claim", s.lifecycle)
		}
		return p.claimTokens(ctx, s, caller, participant)
	})
}

// ClaimManyAddresses claims on behalf of the participants in [start, end).
func (p *Pool) ClaimManyAddresses(ctx context.Context, caller common.Address, start, end uint64) error {
	return p.mutate(ctx, "claim_many", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("claim", s.lifecycle)
		}
		if err := checkRange(start, end, len(s.participants)); err != nil {
			return err
		}
		for i := start; i < end; i++ {
			if err := p.claimTokens(ctx, s, caller, s.participants[i].Address); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pool) claimTokens(ctx context.Context, s *state, actor, addr common.Address) error {
	w := p.weight(s, addr)
	if w.IsZero() {
		return nil
	}
	total := p.totalWeight(s)
	for _, token := range s.tokens {
		bal, err := p.balance(ctx, token)
		if err != nil {
			return err
		}
		pay, err := owed(bal, amountOf(s.distributed, token), w, total, amountOf(s.claimed[token], addr))
		if err != nil {
			return err
		}
		if pay.IsZero() {
			continue
		}
		if err := p.send(ctx, token, addr, pay); err != nil {
			return err
		}
		if s.claimed[token] == nil {
			s.claimed[token] = make(map[common.Address]*uint256.Int)
		}
		s.claimed[token][addr] = new(uint256.Int).Add(amountOf(s.claimed[token], addr), pay)
		s.distributed[token] = new(uint256.Int).Add(amountOf(s.distributed, token), pay)
		p.emit(s, EventClaim, actor, addr, token, pay)
	}
	return nil
}

// owed returns the unpaid part of a holder's entitlement to everything the
// pool has received so far: what it still holds plus what it already paid.
func owed(held, paid, w, total, claimed *uint256.Int) (*uint256.Int, error) {
	received, overflow := new(uint256.Int).AddOverflow(held, paid)
	if overflow {
		return nil, fmt.Errorf("received amount overflows: %w", ErrInvalidArgument)
	}
	entitled := entitlement(received, w, total)
	if !entitled.Gt(claimed) {
		return zero(), nil
	}
	return new(uint256.Int).Sub(entitled, claimed), nil
}

// Claimable returns what addr would receive of token if it claimed now.
func (p *Pool) Claimable(ctx context.Context, token, addr common.Address) (*uint256.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.state
	if s.lifecycle != StateClosed {
		return zero(), nil
	}
	bal, err := p.balance(ctx, token)
	if err != nil {
		return nil, err
	}
	return owed(bal, amountOf(s.distributed, token), p.weight(s, addr), p.totalWeight(s), amountOf(s.claimed[token], addr))
}
