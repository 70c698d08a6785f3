package pool

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/restrictions"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	noLimitPrice = sdkmath.LegacyNewDec(100)
	registryAddr = common.HexToAddress("0x2E57")
)

func tokens(s string) sdkmath.Int {
	return dec(s).MulInt(sdkmath.NewIntWithDecimal(1, 18)).TruncateInt()
}

func assertBetween(t *testing.T, got sdkmath.Int, lo, hi string) {
	t.Helper()
	assert.Truef(t, got.GTE(tokens(lo)) && got.LTE(tokens(hi)), "%s not in [%s, %s] tokens", got, lo, hi)
}

func TestSwapExactAmountIn(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	tx := txAt(trader, start)

	res, err := p.SwapExactAmountIn(tx, asset(0), utils.Tokens(10), asset(1), sdkmath.ZeroInt(), noLimitPrice)
	require.NoError(t, err)
	assertBetween(t, res.AmountOut, "9.89", "9.91")
	assert.True(t, res.SpotPriceAfter.GT(One))
	assert.True(t, res.CommunityFee.IsZero())

	bIn, _ := p.Balance(asset(0))
	bOut, _ := p.Balance(asset(1))
	assert.Equal(t, utils.Tokens(1010).String(), bIn.String())
	assert.Equal(t, utils.Tokens(1000).Sub(res.AmountOut).String(), bOut.String())
	assert.Equal(t, 1, events.Count(tx.Events(), events.KindSwap))
}

func TestSwapExactAmountInLimits(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")

	_, err := p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), asset(0), sdkmath.ZeroInt(), noLimitPrice)
	assert.ErrorIs(t, err, ErrSameAsset)

	_, err = p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(600), asset(1), sdkmath.ZeroInt(), noLimitPrice)
	assert.ErrorIs(t, err, ErrMaxInRatio)

	_, err = p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), asset(1), utils.Tokens(10), noLimitPrice)
	assert.ErrorIs(t, err, ErrLimitOut)

	_, err = p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), asset(1), sdkmath.ZeroInt(), dec("0.5"))
	assert.ErrorIs(t, err, ErrBadLimitPrice)

	_, err = p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), asset(1), sdkmath.ZeroInt(), dec("1.00001"))
	assert.ErrorIs(t, err, ErrLimitPrice)

	bIn, _ := p.Balance(asset(0))
	assert.Equal(t, utils.Tokens(1000).String(), bIn.String())
}

func TestSwapRequiresFinalizedPool(t *testing.T) {
	p := newBoundPool(t, Config{}, "25", "25")
	_, err := p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(1), asset(1), sdkmath.ZeroInt(), noLimitPrice)
	assert.ErrorIs(t, err, ErrNotFinalized)
}

func TestSwapExactAmountOut(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")

	res, err := p.SwapExactAmountOut(txAt(trader, start), asset(0), utils.Tokens(20), asset(1), utils.Tokens(5), noLimitPrice)
	require.NoError(t, err)
	assertBetween(t, res.AmountIn, "5.02", "5.03")
	assert.Equal(t, utils.Tokens(5).String(), res.AmountOut.String())

	_, err = p.SwapExactAmountOut(txAt(trader, start), asset(0), utils.Tokens(20), asset(1), utils.Tokens(400), noLimitPrice)
	assert.ErrorIs(t, err, ErrMaxOutRatio)

	_, err = p.SwapExactAmountOut(txAt(trader, start), asset(0), utils.Tokens(5), asset(1), utils.Tokens(5), noLimitPrice)
	assert.ErrorIs(t, err, ErrLimitIn)
}

func TestCommunitySwapFeeAccrues(t *testing.T) {
	p := newFinalizedPool(t, Config{CommunitySwapFee: dec("0.01"), CommunityFeeReceiver: receiver}, "25", "25")
	tx := txAt(trader, start)

	res, err := p.SwapExactAmountIn(tx, asset(0), utils.Tokens(10), asset(1), sdkmath.ZeroInt(), noLimitPrice)
	require.NoError(t, err)
	assert.Equal(t, tokens("0.1").String(), res.CommunityFee.String())
	assert.Equal(t, tokens("0.1").String(), p.AccruedFees(receiver, asset(0)).String())
	assert.Equal(t, 1, events.Count(tx.Events(), events.KindCommunityFee))

	bIn, _ := p.Balance(asset(0))
	assert.Equal(t, tokens("1009.9").String(), bIn.String())
}

func TestCommunityFeeExemption(t *testing.T) {
	p := newFinalizedPool(t, Config{CommunitySwapFee: dec("0.01"), CommunityFeeReceiver: receiver}, "25", "25")
	reg := restrictions.New(registryAddr, controller)
	require.NoError(t, reg.SetWithoutFee(txAt(controller, start), []common.Address{trader}, true))
	require.NoError(t, p.SetRestrictions(txAt(controller, start), reg))

	res, err := p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), asset(1), sdkmath.ZeroInt(), noLimitPrice)
	require.NoError(t, err)
	assert.True(t, res.CommunityFee.IsZero())
	assert.True(t, p.AccruedFees(receiver, asset(0)).IsZero())
}

func TestTransferAllowListBlocksTrading(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	reg := restrictions.New(registryAddr, controller)
	require.NoError(t, reg.SetTransferAllowList(txAt(controller, start), true, []common.Address{controller}, true))
	require.NoError(t, p.SetRestrictions(txAt(controller, start), reg))

	_, err := p.SwapExactAmountIn(txAt(trader, start), asset(0), utils.Tokens(1), asset(1), sdkmath.ZeroInt(), noLimitPrice)
	assert.ErrorIs(t, err, ErrNotAllowed)
	assert.NoError(t, p.TransferShares(txAt(controller, start), trader, utils.Tokens(1)))
	assert.ErrorIs(t, p.TransferShares(txAt(trader, start), controller, utils.Tokens(1)), ErrNotAllowed)
}

func TestJoinAndExitPool(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	limits := []sdkmath.Int{utils.Tokens(1000), utils.Tokens(1000)}

	in, err := p.JoinPool(txAt(trader, start), utils.Tokens(10), limits)
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, utils.Tokens(100).String(), in[0].String())
	assert.Equal(t, utils.Tokens(110).String(), p.TotalSupply().String())
	assert.Equal(t, utils.Tokens(10).String(), p.BalanceOf(trader).String())

	_, err = p.JoinPool(txAt(trader, start), utils.Tokens(10), []sdkmath.Int{utils.Tokens(1), utils.Tokens(1)})
	assert.ErrorIs(t, err, ErrLimitIn)
	_, err = p.JoinPool(txAt(trader, start), utils.Tokens(10), limits[:1])
	assert.ErrorIs(t, err, ErrLengthMismatch)

	out, err := p.ExitPool(txAt(trader, start), utils.Tokens(10), []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()})
	require.NoError(t, err)
	assertBetween(t, out[0], "99.99", "100")
	assert.Equal(t, utils.Tokens(100).String(), p.TotalSupply().String())
	assert.True(t, p.BalanceOf(trader).IsZero())

	_, err = p.ExitPool(txAt(trader, start), utils.Tokens(1), []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()})
	assert.ErrorIs(t, err, ErrInsufficientShare)
}

func TestExitPoolCommunityFeeGoesToReceiver(t *testing.T) {
	p := newFinalizedPool(t, Config{CommunityExitFee: dec("0.01"), CommunityFeeReceiver: receiver}, "25", "25")

	out, err := p.ExitPool(txAt(controller, start), utils.Tokens(10), []sdkmath.Int{sdkmath.ZeroInt(), sdkmath.ZeroInt()})
	require.NoError(t, err)
	assert.Equal(t, tokens("99").String(), out[0].String())
	assert.Equal(t, tokens("0.1").String(), p.BalanceOf(receiver).String())
	assert.Equal(t, tokens("90.1").String(), p.TotalSupply().String())
}

func TestMaxTotalSupplyCapsJoins(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	reg := restrictions.New(registryAddr, controller)
	require.NoError(t, reg.SetMaxTotalSupply(txAt(controller, start), poolAddr, utils.Tokens(105)))
	require.NoError(t, p.SetRestrictions(txAt(controller, start), reg))

	_, err := p.JoinPool(txAt(trader, start), utils.Tokens(10), []sdkmath.Int{utils.Tokens(1000), utils.Tokens(1000)})
	assert.ErrorIs(t, err, ErrMaxTotalSupply)
	_, err = p.JoinPool(txAt(trader, start), utils.Tokens(5), []sdkmath.Int{utils.Tokens(1000), utils.Tokens(1000)})
	assert.NoError(t, err)
}

func TestSingleAssetJoinAndExit(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")

	poolOut, err := p.JoinswapExternAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), sdkmath.ZeroInt())
	require.NoError(t, err)
	assertBetween(t, poolOut, "0.49", "0.5")
	assert.Equal(t, poolOut.String(), p.BalanceOf(trader).String())

	_, err = p.JoinswapExternAmountIn(txAt(trader, start), asset(0), utils.Tokens(10), utils.Tokens(1))
	assert.ErrorIs(t, err, ErrLimitOut)

	out, err := p.ExitswapPoolAmountIn(txAt(controller, start), asset(1), utils.Tokens(1), sdkmath.ZeroInt())
	require.NoError(t, err)
	assertBetween(t, out, "19.5", "19.9")

	_, err = p.ExitswapPoolAmountIn(txAt(controller, start), asset(1), utils.Tokens(50), sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrMaxOutRatio)
}

func TestSpotPriceFollowsWeights(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "40", "10")
	price, err := p.SpotPrice(txAt(trader, start), asset(0), asset(1))
	require.NoError(t, err)
	// (1000/40) / (1000/10) = 0.25, plus the minimum swap fee
	assert.True(t, price.GT(dec("0.25")) && price.LT(dec("0.2501")), price.String())
}
