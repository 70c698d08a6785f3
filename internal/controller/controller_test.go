package controller

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/restrictions"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	deployer     = common.HexToAddress("0xD0")
	owner        = common.HexToAddress("0x0E")
	strategyAddr = common.HexToAddress("0x57")
	stranger     = common.HexToAddress("0xBAD")
	feeReceiver  = common.HexToAddress("0xFEE")
	ctrlAddr     = common.HexToAddress("0xC7")
	start        = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func txAt(sender common.Address, at time.Time) *ledger.Tx {
	return ledger.NewTx(context.Background(), sender, at, sdkmath.ZeroInt())
}

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

func asset(i int) common.Address { return common.BigToAddress(sdkmath.NewInt(int64(0xA0 + i)).BigInt()) }

// setup builds a finalized 25/25 pool handed to a controller with strategyAddr installed.
func setup(t *testing.T) (*Controller, *pool.Pool) {
	t.Helper()
	p, err := pool.New(txAt(deployer, start), pool.Config{Address: common.HexToAddress("0x9001"), Symbol: "PIPT"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, p.Bind(txAt(deployer, start), asset(i), utils.Tokens(1000), dec("25")))
	}
	require.NoError(t, p.Finalize(txAt(deployer, start)))

	c := New(txAt(deployer, start), ctrlAddr, p, owner, Options{FeeReceiver: feeReceiver})
	require.NoError(t, p.SetController(txAt(deployer, start), ctrlAddr))
	require.NoError(t, c.SetWeightsStrategy(txAt(owner, start), strategyAddr))
	return c, p
}

func targets(to time.Time, weights ...string) []types.WeightTarget {
	out := make([]types.WeightTarget, len(weights))
	for i, w := range weights {
		out[i] = types.WeightTarget{Asset: asset(i), Target: dec(w), From: start, To: to}
	}
	return out
}

func TestApplyWeightsSchedulesEveryAsset(t *testing.T) {
	c, p := setup(t)
	to := start.Add(time.Hour)
	tx := txAt(strategyAddr, start)

	require.NoError(t, c.ApplyWeights(tx, p.Address(), targets(to, "35", "15")))
	assert.Equal(t, 2, events.Count(tx.Events(), events.KindWeightScheduleUpdated))

	w, err := p.EffectiveWeight(asset(0), to)
	require.NoError(t, err)
	assert.True(t, w.Equal(dec("35")))
	assert.True(t, p.TotalEffectiveWeight(start.Add(30*time.Minute)).Equal(pool.NormalizedTotalWeight))
}

func TestApplyWeightsRejections(t *testing.T) {
	c, p := setup(t)
	to := start.Add(time.Hour)

	assert.ErrorIs(t, c.ApplyWeights(txAt(stranger, start), p.Address(), targets(to, "30", "20")), ErrNotStrategy)
	assert.ErrorIs(t, c.ApplyWeights(txAt(strategyAddr, start), stranger, targets(to, "30", "20")), ErrForeignPool)
	assert.ErrorIs(t, c.ApplyWeights(txAt(strategyAddr, start), p.Address(), nil), ErrNoTargets)
	assert.ErrorIs(t, c.ApplyWeights(txAt(strategyAddr, start), p.Address(), targets(to, "30", "30")), ErrTotalWeight)

	bad := targets(to, "30", "20")
	bad[1].Asset = stranger
	assert.ErrorIs(t, c.ApplyWeights(txAt(strategyAddr, start), p.Address(), bad), pool.ErrNotBound)

	// a rate violation on the second entry leaves the first untouched
	require.NoError(t, c.SetWeightPerSecondBounds(txAt(owner, start), asset(1), sdkmath.LegacyZeroDec(), dec("0.0001")))
	tx := txAt(strategyAddr, start)
	assert.ErrorIs(t, c.ApplyWeights(tx, p.Address(), targets(to, "30", "20")), pool.ErrRateTooHigh)
	assert.Empty(t, tx.Events())
	snap, err := p.AssetSnapshot(asset(0), to)
	require.NoError(t, err)
	assert.True(t, snap.TargetWeight.Equal(dec("25")))
}

func TestSetWeightsStrategyReplacesAuthority(t *testing.T) {
	c, p := setup(t)
	next := common.HexToAddress("0x58")
	to := start.Add(time.Hour)

	assert.ErrorIs(t, c.SetWeightsStrategy(txAt(stranger, start), next), ErrNotOwner)
	require.NoError(t, c.SetWeightsStrategy(txAt(owner, start), next))
	assert.Equal(t, next, c.Strategy())

	assert.ErrorIs(t, c.ApplyWeights(txAt(strategyAddr, start), p.Address(), targets(to, "30", "20")), ErrNotStrategy)
	assert.NoError(t, c.ApplyWeights(txAt(next, start), p.Address(), targets(to, "30", "20")))
}

func TestRebindByStrategy(t *testing.T) {
	c, p := setup(t)
	require.NoError(t, c.RebindByStrategy(txAt(strategyAddr, start), p.Address(), asset(0), utils.Tokens(1500)))
	bal, err := p.Balance(asset(0))
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(1500).String(), bal.String())

	assert.ErrorIs(t, c.RebindByStrategy(txAt(owner, start), p.Address(), asset(0), utils.Tokens(1)), ErrNotStrategy)
}

func TestValidateWeightsAndRebindDoNotWrite(t *testing.T) {
	c, p := setup(t)
	to := start.Add(time.Hour)

	tx := txAt(strategyAddr, start)
	require.NoError(t, c.ValidateWeights(tx, p.Address(), targets(to, "35", "15")))
	require.NoError(t, c.ValidateRebind(tx, p.Address(), asset(0), utils.Tokens(1500)))
	assert.Empty(t, tx.Events())
	snap, err := p.AssetSnapshot(asset(0), to)
	require.NoError(t, err)
	assert.True(t, snap.TargetWeight.Equal(dec("25")))
	bal, err := p.Balance(asset(0))
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(1000).String(), bal.String())

	assert.ErrorIs(t, c.ValidateWeights(txAt(stranger, start), p.Address(), targets(to, "35", "15")), ErrNotStrategy)
	assert.ErrorIs(t, c.ValidateWeights(txAt(strategyAddr, start), p.Address(), targets(to, "35", "25")), ErrTotalWeight)
	assert.ErrorIs(t, c.ValidateRebind(txAt(strategyAddr, start), stranger, asset(0), utils.Tokens(1500)), ErrForeignPool)
	assert.ErrorIs(t, c.ValidateRebind(txAt(strategyAddr, start), p.Address(), asset(0), sdkmath.NewInt(1)), pool.ErrMinBalance)

	// the pool's own checks run too once it answers to someone else
	require.NoError(t, p.SetController(txAt(ctrlAddr, start), stranger))
	assert.ErrorIs(t, c.ValidateWeights(txAt(strategyAddr, start), p.Address(), targets(to, "35", "15")), pool.ErrNotController)
}

func TestAdminHooks(t *testing.T) {
	c, p := setup(t)

	require.NoError(t, c.SetSwapFee(txAt(owner, start), dec("0.003")))
	assert.True(t, p.SwapFee().Equal(dec("0.003")))

	require.NoError(t, c.SetCommunityFees(txAt(owner, start), dec("0.001"), dec("0.001"), dec("0.001")))
	swap, _, _, receiver := p.CommunityFees()
	assert.True(t, swap.Equal(dec("0.001")))
	assert.Equal(t, feeReceiver, receiver)

	other := common.HexToAddress("0xFEE2")
	require.NoError(t, c.SetCommunityFeeReceiver(txAt(owner, start), other))
	_, _, _, receiver = p.CommunityFees()
	assert.Equal(t, other, receiver)

	reg := restrictions.New(common.HexToAddress("0x2E57"), owner)
	require.NoError(t, c.SetRestrictions(txAt(owner, start), reg))
	assert.ErrorIs(t, c.SetSwapFee(txAt(stranger, start), dec("0.003")), ErrNotOwner)
}

func TestCallVotingGatedByRestrictions(t *testing.T) {
	c, _ := setup(t)
	target := common.HexToAddress("0x707E")
	called := false
	call := func() error { called = true; return nil }

	assert.ErrorIs(t, c.CallVoting(txAt(owner, start), target, call), pool.ErrNoRestrictions)

	reg := restrictions.New(common.HexToAddress("0x2E57"), owner)
	require.NoError(t, c.SetRestrictions(txAt(owner, start), reg))
	assert.ErrorIs(t, c.CallVoting(txAt(owner, start), target, call), pool.ErrVotingDenied)

	require.NoError(t, reg.SetVotingAllowed(txAt(owner, start), []common.Address{target}, true))
	require.NoError(t, c.CallVoting(txAt(owner, start), target, call))
	assert.True(t, called)
}

func TestTransferOwnership(t *testing.T) {
	c, _ := setup(t)
	require.NoError(t, c.TransferOwnership(txAt(owner, start), stranger))
	assert.Equal(t, stranger, c.Owner())
	assert.ErrorIs(t, c.SetSwapFee(txAt(owner, start), dec("0.003")), ErrNotOwner)
}
