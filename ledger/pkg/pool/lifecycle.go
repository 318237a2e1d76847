package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Close stops contributions, freezes the distribution base and forwards the
// collected value, net of the admin fee, to the payee.
func (p *Pool) Close(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "close", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateOpen {
			return invalidState("close", s.lifecycle)
		}

		base := s.totalRaised.Clone()
		if p.cfg.FeePaidInTokens {
			if _, overflow := new(uint256.Int).MulOverflow(base, p.feeScale()); overflow {
				return fmt.Errorf("raised amount %s overflows the fee scale: %w", base, ErrInvalidArgument)
			}
		}

		fee := zero()
		if !p.cfg.FeePaidInTokens {
			if due := p.AdminFee(base); due.Gt(s.feeCharged) {
				fee = new(uint256.Int).Sub(due, s.feeCharged)
			}
			if fee.Gt(s.held) {
				fee = s.held.Clone()
			}
		}
		net := new(uint256.Int).Sub(s.held, fee)
		if !net.IsZero() {
			if err := p.send(ctx, NativeAsset, p.cfg.Payee, net); err != nil {
				return err
			}
		}

		s.held = zero()
		for _, part := range s.participants {
			part.Held = zero()
		}
		s.feeCharged = new(uint256.Int).Add(s.feeCharged, fee)
		s.feeRetained = new(uint256.Int).Add(s.feeRetained, fee)
		s.frozenRaised = base
		s.lifecycle = StateClosed
		p.emit(s, EventClose, caller, p.cfg.Payee, NativeAsset, net)

		p.log.Info("pool: closed", "raised", base.Dec(), "forwarded", net.Dec(), "fee", fee.Dec())
		return nil
	})
}

// Open moves a closed pool back to accepting contributions. It is refused once
// anything has been distributed, so shares already paid out can never be
// diluted by later deposits.
func (p *Pool) Open(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "open", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateClosed {
			return invalidState("open", s.lifecycle)
		}
		if s.hasDistributions() {
			return fmt.Errorf("reopen after distribution started: %w", ErrInvalidState)
		}
		s.lifecycle = StateOpen
		p.emit(s, EventOpen, caller, common.Address{}, common.Address{}, nil)
		p.log.Info("pool: reopened")
		return nil
	})
}

// Cancel aborts the raise; contributors can then only withdraw their stakes.
func (p *Pool) Cancel(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "cancel", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.lifecycle != StateOpen {
			return invalidState("cancel", s.lifecycle)
		}
		s.lifecycle = StateCancelled
		p.emit(s, EventCancel, caller, common.Address{}, common.Address{}, nil)
		p.log.Info("pool: cancelled", "raised", s.totalRaised.Dec())
		return nil
	})
}

// WithdrawAdminFee pays the native-value fee retained at close to the fee
// recipient.
func (p *Pool) WithdrawAdminFee(ctx context.Context, caller common.Address) error {
	return p.mutate(ctx, "withdraw_admin_fee", func(ctx context.Context, s *state) error {
		if err := p.requireAdmin(caller); err != nil {
			return err
		}
		if s.feeRetained.IsZero() {
			return fmt.Errorf("no admin fee retained: %w", ErrInvalidArgument)
		}
		amount := s.feeRetained.Clone()
		if err := p.send(ctx, NativeAsset, p.cfg.FeeRecipient, amount); err != nil {
			return err
		}
		s.feeRetained = zero()
		p.emit(s, EventAdminFeeWithdraw, caller, p.cfg.FeeRecipient, NativeAsset, amount)
		return nil
	})
}

func (s *state) hasDistributions() bool {
	return len(s.tokens) > 0 || len(s.rounds) > 0 || len(s.distributed) > 0
}
