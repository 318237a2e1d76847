package pool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/poolparty/ledger/pkg/asset"
)

func TestPoolParty_Pool_Registry(t *testing.T) {
	t.Parallel()

	t.Run("add requires a closed pool and an admin", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		require.ErrorIs(t, f.pool.AddToken(ctx, admin0, tokenA), ErrInvalidState)
		require.NoError(t, f.pool.Close(ctx, admin0))
		require.ErrorIs(t, f.pool.AddToken(ctx, users[0], tokenA), ErrUnauthorized)
		require.NoError(t, f.pool.AddToken(ctx, admin0, tokenA))
		require.ErrorIs(t, f.pool.AddToken(ctx, admin1, tokenA), ErrDuplicateToken)
		require.Equal(t, []common.Address{tokenA}, f.pool.Tokens())
	})

	t.Run("rejects assets that are not tokens", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		require.NoError(t, f.pool.Close(ctx, admin0))

		require.ErrorIs(t, f.pool.AddToken(ctx, admin0, NativeAsset), ErrInvalidToken)
		require.ErrorIs(t, f.pool.AddToken(ctx, admin0, poolAddr), ErrInvalidToken)
		require.ErrorIs(t, f.pool.AddToken(ctx, admin0, addr(0x7f)), ErrInvalidToken, "unknown to the bank")

		require.NoError(t, f.bank.SetMode(tokenB, asset.ModeNoBalance))
		require.ErrorIs(t, f.pool.AddToken(ctx, admin0, tokenB), ErrInvalidToken)
		require.Zero(t, f.pool.TokenCount())
	})

	t.Run("remove swaps with the last entry", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		ctx := t.Context()
		require.NoError(t, f.pool.Close(ctx, admin0))
		for _, tok := range []common.Address{tokenA, tokenB, tokenC} {
			require.NoError(t, f.pool.AddToken(ctx, admin0, tok))
		}

		require.ErrorIs(t, f.pool.RemoveToken(ctx, users[0], tokenA), ErrUnauthorized)
		require.NoError(t, f.pool.RemoveToken(ctx, admin0, tokenA))
		require.Equal(t, []common.Address{tokenC, tokenB}, f.pool.Tokens())
		require.ErrorIs(t, f.pool.RemoveToken(ctx, admin0, tokenA), ErrTokenNotFound)

		got, err := f.pool.TokenAt(1)
		require.NoError(t, err)
		require.Equal(t, tokenB, got)
		_, err = f.pool.TokenAt(2)
		require.ErrorIs(t, err, ErrIndexOutOfBounds)
		require.Equal(t, 2, f.pool.TokenCount())
	})
}
