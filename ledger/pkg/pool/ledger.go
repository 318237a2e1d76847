package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposit contributes amount of native value from caller. A deposit is either
// accepted in full or rejected.
func (p *Pool) Deposit(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return p.mutate(ctx, "deposit", func(ctx context.Context, s *state) error {
		if s.lifecycle != StateOpen {
			return invalidState("deposit", s.lifecycle)
		}
		if err := requireAmount(amount); err != nil {
			return err
		}
		amount := amount.Clone()

		i, known := s.index[caller]
		if known && s.participants[i].Refunded {
			return fmt.Errorf("%s was refunded and cannot contribute again: %w", caller.Hex(), ErrInvalidArgument)
		}
		if p.cfg.WhitelistEnabled {
			if _, ok := s.whitelist[caller]; !ok {
				return fmt.Errorf("%s: %w", caller.Hex(), ErrNotWhitelisted)
			}
		}
		if amount.Lt(s.limits.MinContribution) {
			return fmt.Errorf("deposit %s below %s: %w", amount, s.limits.MinContribution, ErrBelowMinimum)
		}
		if amount.Gt(s.limits.MaxContribution) {
			return fmt.Errorf("deposit %s above %s: %w", amount, s.limits.MaxContribution, ErrAboveMaximum)
		}
		total, overflow := new(uint256.Int).AddOverflow(s.totalRaised, amount)
		if overflow || total.Gt(s.limits.MaxAllocation) {
			return fmt.Errorf("deposit %s on top of %s exceeds %s: %w", amount, s.totalRaised, s.limits.MaxAllocation, ErrAllocationExceeded)
		}

		if err := p.receive(ctx, caller, amount); err != nil {
			return err
		}

		if !known {
			i = len(s.participants)
			s.participants = append(s.participants, &Participant{
				Address:        caller,
				Contributed:    zero(),
				Held:           zero(),
				RefundedAmount: zero(),
			})
			s.index[caller] = i
		}
		part := s.participants[i]
		part.Contributed = new(uint256.Int).Add(part.Contributed, amount)
		part.Held = new(uint256.Int).Add(part.Held, amount)
		s.totalRaised = total
		s.held = new(uint256.Int).Add(s.held, amount)
		p.emit(s, EventDeposit, caller, caller, NativeAsset, amount)
		return nil
	})
}

// Refund returns the caller's contribution while the pool is open or
// cancelled. Value forwarded to the payee by an earlier close stays
// contributed; a participant whose whole stake was forwarded gets
// ErrInvalidState.
func (p *Pool) Refund(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "refund", func(ctx context.Context, s *state) error {
		return p.refund(ctx, s, caller, caller)
	})
}

// RefundAddress is the administrative form of Refund.
func (p *Pool) RefundAddress(ctx context.Context, caller, participant common.Address) error {
	return p.mutate(ctx, "refund_address", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		return p.refund(ctx, s, caller, participant)
	})
}

// RefundMany refunds the participants in [start, end) of insertion order,
// skipping records with nothing left in custody.
func (p *Pool) RefundMany(ctx context.Context, caller common.Address, start, end uint64) error {
	return p.mutate(ctx, "refund_many", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle == StateClosed {
			return invalidState("refund", s.lifecycle)
		}
		if err := checkRange(start, end, len(s.participants)); err != nil {
			return err
		}
		for i := start; i < end; i++ {
			part := s.participants[i]
			if part.Refunded || part.Held.IsZero() {
				continue
			}
			if err := p.refund(ctx, s, caller, part.Address); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pool) refund(ctx context.Context, s *state, actor, addr common.Address) error {
	if s.lifecycle == StateClosed {
		return invalidState("refund", s.lifecycle)
	}
	i, ok := s.index[addr]
	if !ok {
		return fmt.Errorf("%s never contributed: %w", addr.Hex(), ErrNothingToRefund)
	}
	part := s.participants[i]
	if part.Refunded || part.Contributed.IsZero() {
		return fmt.Errorf("%s has no contribution: %w", addr.Hex(), ErrNothingToRefund)
	}
	if part.Held.IsZero() {
		return fmt.Errorf("contribution of %s was already forwarded to the payee: %w", addr.Hex(), ErrInvalidState)
	}
	// Only the part deposited since the last close is still in custody.
	amount := part.Held.Clone()

	if err := p.send(ctx, NativeAsset, addr, amount); err != nil {
		return err
	}

	part.Contributed = new(uint256.Int).Sub(part.Contributed, amount)
	part.Held = zero()
	part.Refunded = part.Contributed.IsZero()
	part.RefundedAmount = new(uint256.Int).Add(part.RefundedAmount, amount)
	s.totalRaised = new(uint256.Int).Sub(s.totalRaised, amount)
	s.held = new(uint256.Int).Sub(s.held, amount)
	p.emit(s, EventRefund, actor, addr, NativeAsset, amount)
	return nil
}

// SetMaxAllocation changes the raise cap. Lowering it below the amount already
// raised returns the excess to contributors pro rata; the rounding remainder
// stays contributed.
func (p *Pool) SetMaxAllocation(ctx context.Context, caller common.Address, limit *uint256.Int) error {
	return p.mutate(ctx, "set_max_allocation", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateOpen {
			return invalidState("set max allocation", s.lifecycle)
		}
		if limit == nil {
			return fmt.Errorf("max allocation is required: %w", ErrInvalidArgument)
		}
		limit := limit.Clone()
		if limit.Lt(s.limits.MaxContribution) {
			return fmt.Errorf("max allocation %s below max contribution %s: %w", limit, s.limits.MaxContribution, ErrInvalidArgument)
		}

		if limit.Lt(s.totalRaised) {
			if err := p.reduce(ctx, s, caller, new(uint256.Int).Sub(s.totalRaised, limit)); err != nil {
				return err
			}
		}

		s.limits.MaxAllocation = limit
		p.emit(s, EventMaxAllocation, caller, common.Address{}, common.Address{}, limit)
		return nil
	})
}

// reduce returns floor(held * excess / total held) to every participant with
// value still in custody. Value forwarded by an earlier close is never
// returned.
func (p *Pool) reduce(ctx context.Context, s *state, actor common.Address, excess *uint256.Int) error {
	if excess.Gt(s.held) {
		return fmt.Errorf("reduction of %s exceeds %s still in custody: %w", excess, s.held, ErrInvalidState)
	}
	held := s.held.Clone()
	shares := make([]*uint256.Int, len(s.participants))
	sum := zero()
	for i, part := range s.participants {
		if part.Refunded || part.Held.IsZero() {
			continue
		}
		shares[i] = entitlement(excess, part.Held, held)
		sum = new(uint256.Int).Add(sum, shares[i])
	}

	p.log.Debug("pool: reducing allocation", "excess", excess.Dec(), "returned", sum.Dec())
	for i, share := range shares {
		if share == nil || share.IsZero() {
			continue
		}
		part := s.participants[i]
		if err := p.send(ctx, NativeAsset, part.Address, share); err != nil {
			return err
		}
		part.Contributed = new(uint256.Int).Sub(part.Contributed, share)
		part.Held = new(uint256.Int).Sub(part.Held, share)
		s.totalRaised = new(uint256.Int).Sub(s.totalRaised, share)
		s.held = new(uint256.Int).Sub(s.held, share)
		p.emit(s, EventAllocationRefund, actor, part.Address, NativeAsset, share)
	}
	return nil
}

// SetMinMaxContribution changes the per-deposit bounds.
func (p *Pool) SetMinMaxContribution(ctx context.Context, caller common.Address, minimum, maximum *uint256.Int) error {
	return p.mutate(ctx, "set_min_max_contribution", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateOpen {
			return invalidState("set contribution limits", s.lifecycle)
		}
		if minimum == nil || maximum == nil {
			return fmt.Errorf("min and max are required: %w", ErrInvalidArgument)
		}
		if minimum.Gt(maximum) {
			return fmt.Errorf("min %s exceeds max %s: %w", minimum, maximum, ErrInvalidArgument)
		}
		if maximum.Gt(s.limits.MaxAllocation) {
			return fmt.Errorf("max %s exceeds allocation %s: %w", maximum, s.limits.MaxAllocation, ErrInvalidArgument)
		}
		s.limits.MinContribution = minimum.Clone()
		s.limits.MaxContribution = maximum.Clone()
		p.emit(s, EventContributionLimits, caller, common.Address{}, common.Address{}, maximum)
		return nil
	})
}

// AddAddressesToWhitelist whitelists every address in list and returns the
// ones that were not whitelisted before.
func (p *Pool) AddAddressesToWhitelist(ctx context.Context, caller common.Address, list []common.Address) ([]common.Address, error) {
	var added []common.Address
	err := p.mutate(ctx, "whitelist_add", func(ctx context.Context, s *state) error {
		if err := p.checkWhitelistEdit(s, caller, list); err != nil {
			return err
		}
		for _, a := range list {
			if _, ok := s.whitelist[a]; ok {
				continue
			}
			s.whitelist[a] = struct{}{}
			added = append(added, a)
			p.emit(s, EventWhitelistAdd, caller, a, common.Address{}, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return added, nil
}

// RemoveAddressesFromWhitelist removes every address in list and returns the
// ones that were whitelisted.
func (p *Pool) RemoveAddressesFromWhitelist(ctx context.Context, caller common.Address, list []common.Address) ([]common.Address, error) {
	var removed []common.Address
	err := p.mutate(ctx, "whitelist_remove", func(ctx context.Context, s *state) error {
		if err := p.checkWhitelistEdit(s, caller, list); err != nil {
			return err
		}
		for _, a := range list {
			if _, ok := s.whitelist[a]; !ok {
				continue
			}
			delete(s.whitelist, a)
			removed = append(removed, a)
			p.emit(s, EventWhitelistRemove, caller, a, common.Address{}, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (p *Pool) checkWhitelistEdit(s *state, caller common.Address, list []common.Address) error {
	if err := p.requireAdmin(caller); err != nil {
		return err
	}
	if s.lifecycle != StateOpen {
		return invalidState("whitelist edit", s.lifecycle)
	}
	if len(list) == 0 {
		return fmt.Errorf("address list is empty: %w", ErrInvalidArgument)
	}
	for _, a := range list {
		if a == (common.Address{}) {
			return fmt.Errorf("zero address in list: %w", ErrInvalidArgument)
		}
	}
	return nil
}
