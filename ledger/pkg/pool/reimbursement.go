package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ProjectReimbursement adds a round of native value to the reimbursement pot.
// The pot is shared with the same weights as token distributions.
func (p *Pool) ProjectReimbursement(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return p.mutate(ctx, "project_reimbursement", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("project reimbursement", s.lifecycle)
		}
		if err := requireAmount(amount); err != nil {
			return err
		}
		amount := amount.Clone()
		total, overflow := new(uint256.Int).AddOverflow(s.reimbursementTotal, amount)
		if overflow {
			return fmt.Errorf("reimbursement total overflows: %w", ErrInvalidArgument)
		}
		if err := p.receive(ctx, caller, amount); err != nil {
			return err
		}
		s.reimbursementTotal = total
		s.rounds = append(s.rounds, Round{
			Number: uint64(len(s.rounds)) + 1,
			Value:  amount,
			At:     p.cfg.Clock.Now().UTC(),
		})
		p.emit(s, EventReimbursementProject, caller, caller, NativeAsset, amount)
		p.log.Info("pool: reimbursement projected", "round", len(s.rounds), "amount", amount.Dec(), "total", total.Dec())
		return nil
	})
}

// Reimbursement pays the caller its share of the reimbursement pot.
func (p *Pool) Reimbursement(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "reimbursement", func(ctx context.Context, s *state) error {
		if s.lifecycle != StateClosed {
			return invalidState("reimbursement", s.lifecycle)
		}
		return p.reimburse(ctx, s, caller, caller)
	})
}

// ClaimReimbursement is the administrative form of Reimbursement.
func (p *Pool) ClaimReimbursement(ctx context.Context, caller, participant common.Address) error {
	return p.mutate(ctx, "claim_reimbursement", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("reimbursement", s.lifecycle)
		}
		return p.reimburse(ctx, s, caller, participant)
	})
}

// ClaimManyReimbursements reimburses the participants in [start, end).
func (p *Pool) ClaimManyReimbursements(ctx context.Context, caller common.Address, start, end uint64) error {
	return p.mutate(ctx, "claim_many_reimbursements", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("reimbursement", s.lifecycle)
		}
		if err := checkRange(start, end, len(s.participants)); err != nil {
			return err
		}
		for i := start; i < end; i++ {
			if err := p.reimburse(ctx, s, caller, s.participants[i].Address); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pool) reimburse(ctx context.Context, s *state, actor, addr common.Address) error {
	w := p.weight(s, addr)
	if w.IsZero() {
		return nil
	}
	paid := amountOf(s.reimbursed, addr)
	entitled := entitlement(s.reimbursementTotal, w, p.totalWeight(s))
	if !entitled.Gt(paid) {
		return nil
	}
	pay := new(uint256.Int).Sub(entitled, paid)
	if err := p.send(ctx, NativeAsset, addr, pay); err != nil {
		return err
	}
	s.reimbursed[addr] = new(uint256.Int).Add(paid, pay)
	s.reimbursementPaid = new(uint256.Int).Add(s.reimbursementPaid, pay)
	p.emit(s, EventReimbursement, actor, addr, NativeAsset, pay)
	return nil
}
