package vault

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var holder = common.HexToAddress("0x9001")

func TestSimVaultSharesFollowPricePerShare(t *testing.T) {
	ctx := context.Background()
	v := NewSimVault(common.HexToAddress("0xA1"))
	v.Seed(holder, utils.Tokens(100), utils.Tokens(100))
	v.Accrue(utils.Tokens(10))

	pps, err := v.PricePerShare(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.100000000000000000", pps.String())

	lp, err := v.Withdraw(ctx, holder, utils.Tokens(10))
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(11).String(), lp.String())

	shares, err := v.Deposit(ctx, holder, utils.Tokens(11))
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(10).String(), shares.String())

	bal, err := v.BalanceOf(ctx, holder)
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(100).String(), bal.String())

	_, err = v.Withdraw(ctx, holder, utils.Tokens(101))
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestSimDepositorRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := NewSimDepositor(3, sdkmath.LegacyMustNewDecFromStr("1.25"), sdkmath.LegacyMustNewDecFromStr("0.001"))

	lp, err := d.AddLiquidity(ctx, []sdkmath.Int{sdkmath.ZeroInt(), utils.Tokens(125), sdkmath.ZeroInt()}, sdkmath.ZeroInt())
	require.NoError(t, err)
	assert.Equal(t, utils.Tokens(100).String(), lp.String())

	quote, err := d.CalcWithdrawOneCoin(ctx, lp, 1)
	require.NoError(t, err)
	// 100 LP * 1.25 * 0.999
	assert.Equal(t, "124875000000000000000", quote.String())

	out, err := d.RemoveLiquidityOneCoin(ctx, lp, 1, quote)
	require.NoError(t, err)
	assert.Equal(t, quote.String(), out.String())

	_, err = d.RemoveLiquidityOneCoin(ctx, lp, 1, utils.Tokens(125))
	assert.ErrorIs(t, err, ErrSlippage)
	_, err = d.CalcWithdrawOneCoin(ctx, lp, 3)
	assert.ErrorIs(t, err, ErrCoinIndex)
	_, err = d.AddLiquidity(ctx, []sdkmath.Int{utils.Tokens(1)}, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, ErrAmountsLength)
}
