package vault

import (
	"context"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Vault defines the yield vault whose shares the instant-rebind pools hold as assets.
// A vault wraps one LP token; its shares redeem for LP at PricePerShare.
type Vault interface {
	// Address is the share token, i.e. the asset bound in the pool.
	Address() common.Address

	// Deposit takes lpAmount LP tokens and mints shares to holder.
	Deposit(ctx context.Context, holder common.Address, lpAmount sdkmath.Int) (sdkmath.Int, error)

	// Withdraw burns holder's shares and returns the redeemed LP amount.
	Withdraw(ctx context.Context, holder common.Address, shares sdkmath.Int) (sdkmath.Int, error)

	// BalanceOf returns the shares held by holder.
	BalanceOf(ctx context.Context, holder common.Address) (sdkmath.Int, error)

	// PricePerShare is the LP amount one share redeems for.
	PricePerShare(ctx context.Context) (sdkmath.LegacyDec, error)

	// TotalAssets is the LP amount under management.
	TotalAssets(ctx context.Context) (sdkmath.Int, error)
}

// Depositor defines the stable-swap pool that turns the base asset into the vault's LP token and back.
type Depositor interface {
	// AddLiquidity deposits amounts (one entry per coin of the swap pool) and mints LP, at least minMint.
	AddLiquidity(ctx context.Context, amounts []sdkmath.Int, minMint sdkmath.Int) (sdkmath.Int, error)

	// RemoveLiquidityOneCoin burns lpAmount for coin index, receiving at least minAmount.
	RemoveLiquidityOneCoin(ctx context.Context, lpAmount sdkmath.Int, index int, minAmount sdkmath.Int) (sdkmath.Int, error)

	// CalcWithdrawOneCoin quotes RemoveLiquidityOneCoin.
	CalcWithdrawOneCoin(ctx context.Context, lpAmount sdkmath.Int, index int) (sdkmath.Int, error)

	// VirtualPrice is the base-asset value of one LP token.
	VirtualPrice(ctx context.Context) (sdkmath.LegacyDec, error)
}
