package pool

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestPoolParty_Pool_Snapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *Config) {
		cfg.WhitelistEnabled = true
		cfg.AdminFeePercent = 250
		cfg.AdminFeeDecimals = 2
	})
	ctx := t.Context()
	_, err := f.pool.AddAddressesToWhitelist(ctx, admin0, users[:4])
	require.NoError(t, err)
	f.deposit(100, 200, 300, 400)
	require.NoError(t, f.pool.Refund(ctx, users[3]))
	f.closeWithTokens(tokenA, tokenB)
	f.mint(tokenA, 6_000)
	require.NoError(t, f.pool.Claim(ctx, users[0]))
	require.NoError(t, f.pool.ProjectReimbursement(ctx, admin0, u(600)))
	require.NoError(t, f.pool.Reimbursement(ctx, users[1]))

	snap := f.pool.Snapshot()
	require.Equal(t, "closed", snap.State)
	require.Equal(t, "600", snap.TotalRaised)
	require.Equal(t, "15", snap.FeeCharged)
	require.Len(t, snap.Participants, 4)
	require.Equal(t, []common.Address{tokenA, tokenB}, snap.Tokens)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	cfg := f.pool.cfg
	restored, err := Restore(cfg, decoded)
	require.NoError(t, err)
	require.Equal(t, snap, restored.Snapshot())

	t.Run("restored pool keeps distributing", func(t *testing.T) {
		require.NoError(t, restored.Claim(ctx, users[0]))
		require.Equal(t, uint64(1_000), f.balance(tokenA, users[0]), "already paid in full")
		require.NoError(t, restored.ClaimManyAddresses(ctx, admin0, 0, 4))
		require.Equal(t, []uint64{1_000, 2_000, 3_000, 0}, f.received(tokenA, 4))
		require.Equal(t, uint64(200), restored.Reimbursed(users[1]).Uint64())
		require.Equal(t, snap.Seq+2, restored.Snapshot().Seq)
	})

	t.Run("rejects foreign and malformed snapshots", func(t *testing.T) {
		other := decoded
		other.Pool = addr(0xdd)
		_, err := Restore(cfg, other)
		require.Error(t, err)

		bad := decoded
		bad.TotalRaised = "not a number"
		_, err = Restore(cfg, bad)
		require.ErrorContains(t, err, "failed to parse total_raised")

		bad = decoded
		bad.State = "paused"
		_, err = Restore(cfg, bad)
		require.ErrorContains(t, err, `unknown pool state "paused"`)
	})

	t.Run("rejects inconsistent accounting", func(t *testing.T) {
		withParticipants := func(edit func([]ParticipantSnapshot)) Snapshot {
			out := decoded
			out.Participants = append([]ParticipantSnapshot(nil), decoded.Participants...)
			edit(out.Participants)
			return out
		}

		bad := decoded
		bad.TotalRaised = "601"
		_, err := Restore(cfg, bad)
		require.ErrorContains(t, err, "total raised 601 does not match contributions 600")

		bad = decoded
		bad.Held = "5"
		_, err = Restore(cfg, bad)
		require.ErrorContains(t, err, "held 5 does not match participant stakes 0")

		_, err = Restore(cfg, withParticipants(func(ps []ParticipantSnapshot) {
			ps[0].Held = "101"
		}))
		require.ErrorContains(t, err, "holds 101 of a 100 contribution")

		_, err = Restore(cfg, withParticipants(func(ps []ParticipantSnapshot) {
			ps[0].Contributed = "0"
			ps[0].Refunded = true
			ps[3].Contributed = "100"
		}))
		require.ErrorContains(t, err, "refunded participant")

		bad = decoded
		bad.ReimbursementPaid = "601"
		_, err = Restore(cfg, bad)
		require.ErrorContains(t, err, "inconsistent snapshot")
	})

	t.Run("open pool keeps held stakes", func(t *testing.T) {
		g := newFixture(t)
		g.deposit(10, 20)
		snap := g.pool.Snapshot()
		require.Equal(t, "30", snap.Held)
		require.Equal(t, "10", snap.Participants[0].Held)

		restored, err := Restore(g.pool.cfg, snap)
		require.NoError(t, err)
		require.NoError(t, restored.Refund(ctx, users[1]))
		require.Equal(t, uint64(startingBalance), g.balance(NativeAsset, users[1]))
	})
}

func TestPoolParty_Pool_Events(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()
	f.deposit(30, 70)
	require.NoError(t, f.pool.Close(ctx, admin0))

	events := f.sink.events
	require.Len(t, events, 3)
	for i, e := range events {
		require.Equal(t, uint64(i+1), e.Seq)
		require.Equal(t, poolAddr, e.Pool)
		require.Equal(t, f.clock.Now().UTC(), e.At)
	}
	require.Equal(t, EventDeposit, events[0].Kind)
	require.Equal(t, users[0], events[0].Subject)
	require.Equal(t, uint64(30), events[0].Amount.Uint64())
	require.Equal(t, EventClose, events[2].Kind)
	require.Equal(t, payee, events[2].Subject)
	require.Equal(t, uint64(100), events[2].Amount.Uint64())
	require.NotEqual(t, events[0].ID, events[1].ID)
}
