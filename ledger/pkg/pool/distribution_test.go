package pool

import (
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/poolparty/ledger/pkg/asset"
)

func (f *fixture) closeWithTokens(tokens ...common.Address) {
	f.t.Helper()
	require.NoError(f.t, f.pool.Close(f.t.Context(), admin0))
	for _, tok := range tokens {
		require.NoError(f.t, f.pool.AddToken(f.t.Context(), admin0, tok))
	}
}

func TestPoolParty_Pool_Distribution(t *testing.T) {
	t.Parallel()

	t.Run("vesting claims across successive deposits", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(40, 40, 10, 10)
		f.closeWithTokens(tokenA, tokenB)

		f.mint(tokenA, 100_000)
		f.mint(tokenB, 10_000)
		require.NoError(t, f.pool.Claim(ctx, users[0]))
		require.Equal(t, uint64(40_000), f.balance(tokenA, users[0]))
		require.Equal(t, uint64(4_000), f.balance(tokenB, users[0]))

		require.NoError(t, f.pool.Claim(ctx, users[0]), "nothing new to claim is not an error")
		require.Equal(t, uint64(40_000), f.balance(tokenA, users[0]))

		f.mint(tokenA, 100_000)
		f.mint(tokenB, 10_000)
		require.NoError(t, f.pool.Claim(ctx, users[0]))
		require.Equal(t, uint64(80_000), f.balance(tokenA, users[0]))
		require.Equal(t, uint64(120_000), f.balance(tokenA, poolAddr))
		require.Equal(t, uint64(8_000), f.balance(tokenB, users[0]))
		require.Equal(t, uint64(12_000), f.balance(tokenB, poolAddr))

		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 4))
		require.Equal(t, []uint64{80_000, 80_000, 20_000, 20_000}, f.received(tokenA, 4))
		require.Equal(t, []uint64{8_000, 8_000, 2_000, 2_000}, f.received(tokenB, 4))
		require.Equal(t, uint64(0), f.balance(tokenA, poolAddr))
		require.Equal(t, uint64(0), f.balance(tokenB, poolAddr))
		require.Equal(t, uint64(200_000), f.pool.Distributed(tokenA).Uint64())
		require.Equal(t, uint64(80_000), f.pool.Claimed(tokenA, users[1]).Uint64())
		f.requireLedgerInvariants()
	})

	t.Run("refunded participants receive nothing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(20, 20, 20, 20)
		require.NoError(t, f.pool.Refund(ctx, users[3]))
		f.closeWithTokens(tokenA)

		f.mint(tokenA, 1_000)
		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 4))
		require.Equal(t, []uint64{333, 333, 333, 0}, f.received(tokenA, 4))
		require.NoError(t, f.pool.Claim(ctx, users[3]))
		require.Equal(t, uint64(0), f.balance(tokenA, users[3]))

		f.mint(tokenA, 100)
		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 4))
		require.Equal(t, []uint64{366, 366, 366, 0}, f.received(tokenA, 4))
		require.Equal(t, uint64(2), f.balance(tokenA, poolAddr), "dust stays in custody")
	})

	t.Run("dust is bounded by the number of holders", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.deposit(10, 10, 10, 10, 10, 10)
		f.closeWithTokens(tokenA)
		f.mint(tokenA, 100)
		require.NoError(t, f.pool.ClaimManyAddresses(t.Context(), admin0, 0, 6))
		require.Equal(t, []uint64{16, 16, 16, 16, 16, 16}, f.received(tokenA, 6))
		require.Less(t, f.balance(tokenA, poolAddr), uint64(6))
	})

	t.Run("batch claim equals individual claims", func(t *testing.T) {
		t.Parallel()
		batch, single := newFixture(t), newFixture(t)
		for _, f := range []*fixture{batch, single} {
			f.deposit(7, 13, 29, 51)
			f.closeWithTokens(tokenA)
			f.mint(tokenA, 99_991)
		}
		require.NoError(t, batch.pool.ClaimManyAddresses(t.Context(), admin0, 0, 4))
		for i := range 4 {
			require.NoError(t, single.pool.Claim(t.Context(), users[i]))
		}
		require.Equal(t, single.received(tokenA, 4), batch.received(tokenA, 4))
		require.Equal(t, single.pool.Distributed(tokenA).Dec(), batch.pool.Distributed(tokenA).Dec())
	})

	t.Run("removing and re-adding a token keeps claim history", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(20, 20, 20, 20, 20)
		f.closeWithTokens(tokenA)

		f.mint(tokenA, 100_000)
		require.NoError(t, f.pool.Claim(ctx, users[0]))
		require.Equal(t, uint64(20_000), f.balance(tokenA, users[0]))

		require.NoError(t, f.pool.RemoveToken(ctx, admin0, tokenA))
		require.NoError(t, f.pool.Claim(ctx, users[1]))
		require.Equal(t, uint64(0), f.balance(tokenA, users[1]), "unregistered tokens are not paid")

		require.NoError(t, f.pool.AddToken(ctx, admin0, tokenA))
		f.mint(tokenA, 100_000)
		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 5))
		require.Equal(t, []uint64{40_000, 40_000, 40_000, 40_000, 40_000}, f.received(tokenA, 5))
	})

	t.Run("fee paid in tokens", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(cfg *Config) {
			cfg.AdminFeePercent = 10
			cfg.FeePaidInTokens = true
		})
		ctx := t.Context()
		f.deposit(40, 40, 10, 10)
		f.closeWithTokens(tokenA)
		f.mint(tokenA, 100_000)

		claimable, err := f.pool.Claimable(ctx, tokenA, admin0)
		require.NoError(t, err)
		require.Equal(t, uint64(10_000), claimable.Uint64())

		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 4))
		require.Equal(t, []uint64{36_000, 36_000, 9_000, 9_000}, f.received(tokenA, 4))
		require.NoError(t, f.pool.Claim(ctx, admin0))
		require.Equal(t, uint64(10_000), f.balance(tokenA, admin0))
		require.Equal(t, uint64(0), f.balance(tokenA, poolAddr))
	})

	t.Run("fee recipient that also contributed", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, func(cfg *Config) {
			cfg.AdminFeePercent = 10
			cfg.FeePaidInTokens = true
			cfg.FeeRecipient = users[0]
		})
		ctx := t.Context()
		f.deposit(50, 50)
		f.closeWithTokens(tokenA)
		f.mint(tokenA, 1_000)
		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 2))
		require.Equal(t, []uint64{550, 450}, f.received(tokenA, 2))
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(10, 10)
		require.ErrorIs(t, f.pool.Claim(ctx, users[0]), ErrInvalidState)
		require.ErrorIs(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 2), ErrInvalidState)

		f.closeWithTokens(tokenA)
		require.ErrorIs(t, f.pool.ClaimManyAddresses(ctx, users[0], 0, 2), ErrUnauthorized)
		require.ErrorIs(t, f.pool.ClaimForAddress(ctx, users[0], users[1]), ErrUnauthorized)
		require.ErrorIs(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 3), ErrIndexOutOfBounds)
		require.ErrorIs(t, f.pool.ClaimManyAddresses(ctx, admin0, 2, 1), ErrIndexOutOfBounds)
		require.NoError(t, f.pool.Claim(ctx, addr(0x99)), "strangers have nothing to claim")

		f.mint(tokenA, 10)
		require.NoError(t, f.pool.ClaimForAddress(ctx, admin1, users[1]))
		require.Equal(t, uint64(5), f.balance(tokenA, users[1]))
	})
}

func TestPoolParty_Pool_DistributionFailures(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, opts ...func(*Config)) *fixture {
		f := newFixture(t, opts...)
		f.deposit(50, 50)
		f.closeWithTokens(tokenA, tokenB)
		f.mint(tokenA, 100)
		f.mint(tokenB, 100)
		require.NoError(t, f.bank.SetMode(tokenB, asset.ModeFailing))
		return f
	}

	t.Run("atomic bank rolls back the whole claim", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		require.ErrorIs(t, f.pool.Claim(t.Context(), users[0]), ErrTransferFailed)
		require.Equal(t, uint64(0), f.balance(tokenA, users[0]))
		require.True(t, f.pool.Claimed(tokenA, users[0]).IsZero())
		require.NotContains(t, f.sink.kinds(), EventClaim)
	})

	t.Run("failed batch claim rolls back every payout", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		f.deposit(50, 30, 20)
		f.closeWithTokens(tokenA)
		f.mint(tokenA, 100)

		f.flaky.failAfter(2)
		require.ErrorIs(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 3), ErrTransferFailed)
		require.Equal(t, []uint64{0, 0, 0}, f.received(tokenA, 3))
		require.True(t, f.pool.Distributed(tokenA).IsZero())
		for i := range 3 {
			require.True(t, f.pool.Claimed(tokenA, users[i]).IsZero())
		}
		require.Equal(t, uint64(100), f.balance(tokenA, poolAddr))
		require.NotContains(t, f.sink.kinds(), EventClaim)

		f.flaky.failAfter(3)
		require.NoError(t, f.pool.ClaimManyAddresses(ctx, admin0, 0, 3))
		require.Equal(t, []uint64{50, 30, 20}, f.received(tokenA, 3))
	})

	t.Run("short transfer is rejected", func(t *testing.T) {
		t.Parallel()
		f := setup(t)
		require.NoError(t, f.bank.SetMode(tokenB, asset.ModeShort))
		require.ErrorIs(t, f.pool.ClaimManyAddresses(t.Context(), admin0, 0, 2), ErrTransferFailed)
		require.Equal(t, uint64(100), f.balance(tokenB, poolAddr))
	})
}

func TestPoolParty_Pool_ConcurrentOperations(t *testing.T) {
	t.Parallel()

	f := newFixture(t, withLimits(0, 100, 10_000))
	ctx := t.Context()

	var wg sync.WaitGroup
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				_ = f.pool.Deposit(ctx, users[i], u(10))
				_ = f.pool.TotalRaised()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(len(users)*200), f.pool.TotalRaised().Uint64())
	f.requireLedgerInvariants()

	require.NoError(t, f.pool.Close(ctx, admin0))
	require.NoError(t, f.pool.AddToken(ctx, admin0, tokenA))
	f.mint(tokenA, 6_000)

	errs := make([]error, len(users))
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.pool.Claim(ctx, users[i])
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{1000, 1000, 1000, 1000, 1000, 1000}, f.received(tokenA, len(users)))
}
