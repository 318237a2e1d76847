package scenario

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/malbeclabs/poolparty/ledger/pkg/asset"
	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

type runner struct {
	pool *pool.Pool
	bank *asset.Bank
}

type opFunc func(ctx context.Context, r *runner, s Step) error

// withAmount parses s.Amount and hands it to fn.
func withAmount(fn func(ctx context.Context, r *runner, s Step, v *uint256.Int) error) opFunc {
	return func(ctx context.Context, r *runner, s Step) error {
		v, err := amount(s.Amount)
		if err != nil {
			return err
		}
		return fn(ctx, r, s, v)
	}
}

var ops = map[string]opFunc{
	"deposit": withAmount(func(ctx context.Context, r *runner, s Step, v *uint256.Int) error {
		return r.pool.Deposit(ctx, s.Caller, v)
	}),
	"refund": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.Refund(ctx, s.Caller)
	},
	"refund_address": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.RefundAddress(ctx, s.Caller, s.Address)
	},
	"refund_many": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.RefundMany(ctx, s.Caller, s.Start, s.End)
	},
	"close": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.Close(ctx, s.Caller)
	},
	"open": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.Open(ctx, s.Caller)
	},
	"cancel": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.Cancel(ctx, s.Caller)
	},
	"set_max_allocation": withAmount(func(ctx context.Context, r *runner, s Step, v *uint256.Int) error {
		return r.pool.SetMaxAllocation(ctx, s.Caller, v)
	}),
	"set_min_max_contribution": func(ctx context.Context, r *runner, s Step) error {
		minimum, err := amount(s.Min)
		if err != nil {
			return err
		}
		maximum, err := amount(s.Max)
		if err != nil {
			return err
		}
		return r.pool.SetMinMaxContribution(ctx, s.Caller, minimum, maximum)
	},
	"whitelist_add": func(ctx context.Context, r *runner, s Step) error {
		_, err := r.pool.AddAddressesToWhitelist(ctx, s.Caller, s.Addresses)
		return err
	},
	"whitelist_remove": func(ctx context.Context, r *runner, s Step) error {
		_, err := r.pool.RemoveAddressesFromWhitelist(ctx, s.Caller, s.Addresses)
		return err
	},
	"add_token": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.AddToken(ctx, s.Caller, s.Token)
	},
	"remove_token": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.RemoveToken(ctx, s.Caller, s.Token)
	},
	"claim": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.Claim(ctx, s.Caller)
	},
	"claim_for": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.ClaimForAddress(ctx, s.Caller, s.Address)
	},
	"claim_many": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.ClaimManyAddresses(ctx, s.Caller, s.Start, s.End)
	},
	"project_reimbursement": withAmount(func(ctx context.Context, r *runner, s Step, v *uint256.Int) error {
		return r.pool.ProjectReimbursement(ctx, s.Caller, v)
	}),
	"reimbursement": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.Reimbursement(ctx, s.Caller)
	},
	"claim_reimbursement": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.ClaimReimbursement(ctx, s.Caller, s.Address)
	},
	"claim_many_reimbursements": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.ClaimManyReimbursements(ctx, s.Caller, s.Start, s.End)
	},
	"withdraw_admin_fee": func(ctx context.Context, r *runner, s Step) error {
		return r.pool.WithdrawAdminFee(ctx, s.Caller)
	},
	// mint credits Amount of Token to Address, or to the pool when Address is
	// empty. It models reward tokens arriving in custody.
	"mint": withAmount(func(ctx context.Context, r *runner, s Step, v *uint256.Int) error {
		if v == nil {
			return errors.New("mint requires an amount")
		}
		to := s.Address
		if to == (common.Address{}) {
			to = r.pool.Address()
		}
		return r.bank.Mint(ctx, s.Token, to, v)
	}),
	// set_mode switches how Token behaves in the bank.
	"set_mode": func(ctx context.Context, r *runner, s Step) error {
		mode, err := asset.ParseMode(s.Mode)
		if err != nil {
			return err
		}
		return r.bank.SetMode(s.Token, mode)
	},
}
