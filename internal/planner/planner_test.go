package planner

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	poolAddr = common.HexToAddress("0x9001")
	vaultA   = common.HexToAddress("0xA1")
	vaultB   = common.HexToAddress("0xA2")
)

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

// exactQuote redeems at value per share 1 with no fees.
func exactQuote(_ common.Address, shares sdkmath.Int) (sdkmath.Int, error) { return shares, nil }

func defaultParams() Params {
	return Params{
		MinBaseAssetRemainder: sdkmath.ZeroInt(),
		MinPoolBalance:        sdkmath.NewInt(1_000_000),
		MinDelta:              sdkmath.ZeroInt(),
	}
}

func twoPositions(tvlA, tvlB string) []types.Position {
	return []types.Position{
		{Asset: vaultA, Shares: utils.Tokens(500), ValuePerShare: dec("1"), VaultTVL: dec(tvlA)},
		{Asset: vaultB, Shares: utils.Tokens(500), ValuePerShare: dec("1"), VaultTVL: dec(tvlB)},
	}
}

func TestGenerateActionPlanMovesValueTowardTVLShare(t *testing.T) {
	plan, positions, err := GenerateActionPlan(poolAddr, twoPositions("3000", "1000"), sdkmath.ZeroInt(), defaultParams(), exactQuote)
	require.NoError(t, err)
	require.True(t, plan.HasWork())
	require.Len(t, plan.SubActions, 2)

	// 1000 total value split 3:1
	assert.Equal(t, dec("750").MulInt(utils.Tokens(1)).String(), positions[0].TargetValue.String())

	w := plan.SubActions[0]
	assert.Equal(t, types.SubActionWithdraw, w.Type)
	assert.Equal(t, vaultB, w.Asset)
	assert.Equal(t, utils.Tokens(250).String(), w.Shares.String())

	d := plan.SubActions[1]
	assert.Equal(t, types.SubActionDeposit, d.Type)
	assert.Equal(t, vaultA, d.Asset)
	assert.Equal(t, utils.Tokens(250).String(), d.BaseAmount.String())
	assert.True(t, plan.BufferAfter.IsZero())
}

func TestGenerateActionPlanBalancedPoolHasNoWork(t *testing.T) {
	plan, _, err := GenerateActionPlan(poolAddr, twoPositions("1000", "1000"), sdkmath.ZeroInt(), defaultParams(), exactQuote)
	require.NoError(t, err)
	assert.False(t, plan.HasWork())
}

func TestGenerateActionPlanKeepsBufferRemainder(t *testing.T) {
	params := defaultParams()
	params.MinBaseAssetRemainder = utils.Tokens(20)

	_, _, err := GenerateActionPlan(poolAddr, twoPositions("3000", "1000"), utils.Tokens(10), params, exactQuote)
	assert.ErrorIs(t, err, ErrInsufficientBuffer)
	assert.True(t, errs.IsCategory(err, errs.Exhaustion))

	plan, _, err := GenerateActionPlan(poolAddr, twoPositions("3000", "1000"), utils.Tokens(20), params, exactQuote)
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(20).String(), plan.BufferAfter.String())
}

func TestGenerateActionPlanRespectsMinPoolBalance(t *testing.T) {
	params := defaultParams()
	params.MinPoolBalance = utils.Tokens(400)

	plan, _, err := GenerateActionPlan(poolAddr, twoPositions("3000", "1000"), utils.Tokens(1000), params, exactQuote)
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(100).String(), plan.SubActions[0].Shares.String())
}

func TestGenerateActionPlanInputErrors(t *testing.T) {
	_, _, err := GenerateActionPlan(poolAddr, nil, sdkmath.ZeroInt(), defaultParams(), exactQuote)
	assert.ErrorIs(t, err, ErrNoPositions)

	_, _, err = GenerateActionPlan(poolAddr, twoPositions("0", "0"), sdkmath.ZeroInt(), defaultParams(), exactQuote)
	assert.ErrorIs(t, err, ErrZeroTVL)

	bad := twoPositions("1", "1")
	bad[0].ValuePerShare = sdkmath.LegacyZeroDec()
	_, _, err = GenerateActionPlan(poolAddr, bad, sdkmath.ZeroInt(), defaultParams(), exactQuote)
	assert.ErrorIs(t, err, ErrInvalidPosition)

	failing := func(common.Address, sdkmath.Int) (sdkmath.Int, error) { return sdkmath.Int{}, errors.New("rpc down") }
	_, _, err = GenerateActionPlan(poolAddr, twoPositions("3000", "1000"), sdkmath.ZeroInt(), defaultParams(), failing)
	assert.ErrorIs(t, err, ErrQuoteFailed)
}
