package pool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/poolparty/ledger/pkg/asset"
)

func TestPoolParty_Pool_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("close forwards raised value to payee", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.deposit(40, 40, 10, 10)

		require.NoError(t, f.pool.Close(t.Context(), admin0))
		require.Equal(t, StateClosed, f.pool.State())
		require.Equal(t, uint64(100), f.balance(NativeAsset, payee))
		require.Equal(t, uint64(0), f.balance(NativeAsset, poolAddr))
		require.Equal(t, uint64(100), f.pool.DistributionBase().Uint64())
		require.Equal(t, uint64(100), f.pool.TotalRaised().Uint64())
		f.requireLedgerInvariants()
	})

	t.Run("only admins change the lifecycle", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		require.ErrorIs(t, f.pool.Close(ctx, users[0]), ErrUnauthorized)
		require.ErrorIs(t, f.pool.Cancel(ctx, users[0]), ErrUnauthorized)
		require.NoError(t, f.pool.Close(ctx, admin1))
		require.ErrorIs(t, f.pool.Open(ctx, users[0]), ErrUnauthorized)
	})

	t.Run("transitions", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		require.ErrorIs(t, f.pool.Open(ctx, admin0), ErrInvalidState)
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.ErrorIs(t, f.pool.Close(ctx, admin0), ErrInvalidState)
		require.ErrorIs(t, f.pool.Cancel(ctx, admin0), ErrInvalidState)
		require.NoError(t, f.pool.Open(ctx, admin0))
		require.NoError(t, f.pool.Cancel(ctx, admin0))
		require.Equal(t, StateCancelled, f.pool.State())
		require.ErrorIs(t, f.pool.Open(ctx, admin0), ErrInvalidState)
		require.ErrorIs(t, f.pool.Close(ctx, admin0), ErrInvalidState)
		require.Equal(t, []EventKind{EventClose, EventOpen, EventCancel}, f.sink.kinds())
	})

	t.Run("reopen then close forwards only new deposits", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(100)
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.NoError(t, f.pool.Open(ctx, admin0))

		require.NoError(t, f.pool.Deposit(ctx, users[0], u(50)))
		require.NoError(t, f.pool.Deposit(ctx, users[1], u(30)))
		require.NoError(t, f.pool.Refund(ctx, users[1]))
		f.requireLedgerInvariants()

		require.NoError(t, f.pool.Close(ctx, admin0))
		require.Equal(t, uint64(150), f.balance(NativeAsset, payee))
		require.Equal(t, uint64(150), f.pool.DistributionBase().Uint64())
		part, _ := f.pool.Participant(users[0])
		require.True(t, part.Held.IsZero())
		f.requireLedgerInvariants()
	})

	t.Run("reopen keeps every stake refundable by its owner only", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(10)
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.NoError(t, f.pool.Open(ctx, admin0))
		require.NoError(t, f.pool.Deposit(ctx, users[1], u(50)))

		require.ErrorIs(t, f.pool.Refund(ctx, users[0]), ErrInvalidState, "stake already forwarded")
		require.Equal(t, uint64(startingBalance-10), f.balance(NativeAsset, users[0]))
		require.Equal(t, uint64(50), f.balance(NativeAsset, poolAddr))

		require.NoError(t, f.pool.Cancel(ctx, admin0))
		require.ErrorIs(t, f.pool.Refund(ctx, users[0]), ErrInvalidState)
		require.NoError(t, f.pool.Refund(ctx, users[1]))
		require.Equal(t, uint64(startingBalance), f.balance(NativeAsset, users[1]))
		require.Equal(t, uint64(0), f.balance(NativeAsset, poolAddr))
		require.Equal(t, uint64(10), f.pool.TotalRaised().Uint64())
		f.requireLedgerInvariants()
	})

	t.Run("refund after reopen returns only the held part", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(40, 60)
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.NoError(t, f.pool.Open(ctx, admin0))
		require.NoError(t, f.pool.Deposit(ctx, users[0], u(25)))

		require.NoError(t, f.pool.Cancel(ctx, admin0))
		require.NoError(t, f.pool.RefundMany(ctx, admin0, 0, 2), "records with nothing held are skipped")
		require.Equal(t, uint64(startingBalance-40), f.balance(NativeAsset, users[0]))
		require.Equal(t, uint64(startingBalance-60), f.balance(NativeAsset, users[1]))

		part, _ := f.pool.Participant(users[0])
		require.False(t, part.Refunded, "forwarded stake stays contributed")
		require.Equal(t, uint64(40), part.Contributed.Uint64())
		require.Equal(t, uint64(25), part.RefundedAmount.Uint64())
		require.ErrorIs(t, f.pool.Refund(ctx, users[0]), ErrInvalidState)
		require.Equal(t, uint64(100), f.pool.TotalRaised().Uint64())
		f.requireLedgerInvariants()
	})

	t.Run("reopen refused once distribution started", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(100)
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.NoError(t, f.pool.AddToken(ctx, admin0, tokenA))
		require.ErrorIs(t, f.pool.Open(ctx, admin0), ErrInvalidState)

		require.NoError(t, f.pool.RemoveToken(ctx, admin0, tokenA))
		require.NoError(t, f.pool.ProjectReimbursement(ctx, admin0, u(10)))
		require.ErrorIs(t, f.pool.Open(ctx, admin0), ErrInvalidState)
	})

	t.Run("failed push leaves the pool open", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(60, 40)

		require.NoError(t, f.bank.SetMode(asset.Native, asset.ModeFailing))
		require.ErrorIs(t, f.pool.Close(ctx, admin0), ErrTransferFailed)
		require.Equal(t, StateOpen, f.pool.State())
		require.Equal(t, uint64(100), f.pool.TotalRaised().Uint64())
		require.True(t, f.pool.DistributionBase().IsZero())

		require.NoError(t, f.bank.SetMode(asset.Native, asset.ModeNormal))
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.Equal(t, uint64(100), f.balance(NativeAsset, payee))
	})

	t.Run("short push is detected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.deposit(100)
		require.NoError(t, f.bank.SetMode(asset.Native, asset.ModeShort))
		require.ErrorIs(t, f.pool.Close(t.Context(), admin0), ErrTransferFailed)
		require.Equal(t, StateOpen, f.pool.State())
		require.Equal(t, uint64(100), f.balance(NativeAsset, poolAddr), "atomic bank rolls back the short movement")
	})
}

func TestPoolParty_Pool_AdminFee(t *testing.T) {
	t.Parallel()

	withFee := func(cfg *Config) {
		cfg.AdminFeePercent = 576300
		cfg.AdminFeeDecimals = 5
	}

	t.Run("fee formula", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, withFee)
		require.Equal(t, uint64(23), f.pool.AdminFee(u(404)).Uint64())
		require.Equal(t, uint64(0), f.pool.AdminFee(u(17)).Uint64())
		require.Equal(t, uint64(5763), f.pool.AdminFee(u(100_000)).Uint64())
		require.True(t, f.pool.AdminFee(nil).IsZero())
	})

	t.Run("charged at close and withdrawn", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, withFee)
		ctx := t.Context()
		f.deposit(100, 100, 100, 104)

		require.NoError(t, f.pool.Close(ctx, admin0))
		require.Equal(t, uint64(381), f.balance(NativeAsset, payee))
		require.Equal(t, uint64(23), f.pool.AdminFeeCollected().Uint64())
		require.Equal(t, uint64(23), f.pool.AdminFeeRetained().Uint64())
		f.requireLedgerInvariants()

		require.ErrorIs(t, f.pool.WithdrawAdminFee(ctx, users[0]), ErrUnauthorized)
		require.NoError(t, f.pool.WithdrawAdminFee(ctx, admin1))
		require.Equal(t, uint64(startingBalance+23), f.balance(NativeAsset, admin0), "fee recipient defaults to the first admin")
		require.True(t, f.pool.AdminFeeRetained().IsZero())
		require.Equal(t, uint64(23), f.pool.AdminFeeCollected().Uint64())
		require.ErrorIs(t, f.pool.WithdrawAdminFee(ctx, admin0), ErrInvalidArgument)
		f.requireLedgerInvariants()
	})

	t.Run("not charged when paid in tokens", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, withFee, func(cfg *Config) { cfg.FeePaidInTokens = true })
		f.deposit(100, 100, 100, 104)
		require.NoError(t, f.pool.Close(t.Context(), admin0))
		require.Equal(t, uint64(404), f.balance(NativeAsset, payee))
		require.True(t, f.pool.AdminFeeCollected().IsZero())
	})
}
