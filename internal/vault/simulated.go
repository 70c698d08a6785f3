/*

This file contains in-memory vault and depositor implementations. The daemon uses them when the deployment
descriptor declares simulated vaults, and the strategy tests use them throughout.

*/

package vault

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	ErrInsufficientShares = errs.New(errs.Exhaustion, "INSUFFICIENT_SHARES", "holder has not enough vault shares")
	ErrSlippage           = errs.New(errs.Bound, "SLIPPAGE", "output below the requested minimum")
	ErrCoinIndex          = errs.New(errs.Bound, "COIN_INDEX", "coin index out of range")
	ErrAmountsLength      = errs.New(errs.Bound, "AMOUNTS_LENGTH", "amounts do not match the swap pool coins")
)

// SimVault is an in-memory Vault.
type SimVault struct {
	mu          sync.RWMutex
	address     common.Address
	totalShares sdkmath.Int
	totalLP     sdkmath.Int
	balances    map[common.Address]sdkmath.Int
}

func NewSimVault(address common.Address) *SimVault {
	return &SimVault{
		address:     address,
		totalShares: sdkmath.ZeroInt(),
		totalLP:     sdkmath.ZeroInt(),
		balances:    make(map[common.Address]sdkmath.Int),
	}
}

func (v *SimVault) Address() common.Address { return v.address }

// Seed credits holder with shares backed by lpAmount.
func (v *SimVault) Seed(holder common.Address, shares, lpAmount sdkmath.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[holder] = v.balanceOf(holder).Add(shares)
	v.totalShares = v.totalShares.Add(shares)
	v.totalLP = v.totalLP.Add(lpAmount)
}

// Accrue adds yield: the LP backing grows while shares stay put.
func (v *SimVault) Accrue(lpAmount sdkmath.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalLP = v.totalLP.Add(lpAmount)
}

func (v *SimVault) balanceOf(holder common.Address) sdkmath.Int {
	if b, ok := v.balances[holder]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (v *SimVault) pricePerShare() sdkmath.LegacyDec {
	if v.totalShares.IsZero() {
		return sdkmath.LegacyOneDec()
	}
	return utils.IntToDec(v.totalLP).Quo(utils.IntToDec(v.totalShares))
}

func (v *SimVault) Deposit(_ context.Context, holder common.Address, lpAmount sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	shares := utils.IntToDec(lpAmount).Quo(v.pricePerShare()).TruncateInt()
	if !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("%w: deposit of %s mints no shares", ErrSlippage, lpAmount)
	}
	v.balances[holder] = v.balanceOf(holder).Add(shares)
	v.totalShares = v.totalShares.Add(shares)
	v.totalLP = v.totalLP.Add(lpAmount)
	return shares, nil
}

func (v *SimVault) Withdraw(_ context.Context, holder common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	bal := v.balanceOf(holder)
	if bal.LT(shares) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientShares, holder.Hex(), bal, shares)
	}
	lp := utils.MulIntTrunc(shares, v.pricePerShare())
	v.balances[holder] = bal.Sub(shares)
	v.totalShares = v.totalShares.Sub(shares)
	v.totalLP = v.totalLP.Sub(lp)
	return lp, nil
}

func (v *SimVault) BalanceOf(_ context.Context, holder common.Address) (sdkmath.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balanceOf(holder), nil
}

func (v *SimVault) PricePerShare(_ context.Context) (sdkmath.LegacyDec, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.pricePerShare(), nil
}

func (v *SimVault) TotalAssets(_ context.Context) (sdkmath.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalLP, nil
}

// SimDepositor is an in-memory stable-swap Depositor. Every coin is worth one base unit;
// single-coin withdrawals pay WithdrawFee.
type SimDepositor struct {
	mu           sync.RWMutex
	coins        int
	virtualPrice sdkmath.LegacyDec
	withdrawFee  sdkmath.LegacyDec
}

func NewSimDepositor(coins int, virtualPrice, withdrawFee sdkmath.LegacyDec) *SimDepositor {
	return &SimDepositor{coins: coins, virtualPrice: virtualPrice, withdrawFee: withdrawFee}
}

// SetVirtualPrice moves the LP value, e.g. to simulate accrued trading fees.
func (d *SimDepositor) SetVirtualPrice(vp sdkmath.LegacyDec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.virtualPrice = vp
}

func (d *SimDepositor) AddLiquidity(_ context.Context, amounts []sdkmath.Int, minMint sdkmath.Int) (sdkmath.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(amounts) != d.coins {
		return sdkmath.Int{}, fmt.Errorf("%w: got %d, pool has %d", ErrAmountsLength, len(amounts), d.coins)
	}
	total := sdkmath.ZeroInt()
	for _, a := range amounts {
		total = total.Add(a)
	}
	lp := utils.IntToDec(total).Quo(d.virtualPrice).TruncateInt()
	if lp.LT(minMint) {
		return sdkmath.Int{}, fmt.Errorf("%w: minted %s < %s", ErrSlippage, lp, minMint)
	}
	return lp, nil
}

func (d *SimDepositor) quote(lpAmount sdkmath.Int, index int) (sdkmath.Int, error) {
	if index < 0 || index >= d.coins {
		return sdkmath.Int{}, fmt.Errorf("%w: %d", ErrCoinIndex, index)
	}
	return utils.MulIntTrunc(lpAmount, d.virtualPrice.Mul(sdkmath.LegacyOneDec().Sub(d.withdrawFee))), nil
}

func (d *SimDepositor) RemoveLiquidityOneCoin(_ context.Context, lpAmount sdkmath.Int, index int, minAmount sdkmath.Int) (sdkmath.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, err := d.quote(lpAmount, index)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if out.LT(minAmount) {
		return sdkmath.Int{}, fmt.Errorf("%w: received %s < %s", ErrSlippage, out, minAmount)
	}
	return out, nil
}

func (d *SimDepositor) CalcWithdrawOneCoin(_ context.Context, lpAmount sdkmath.Int, index int) (sdkmath.Int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.quote(lpAmount, index)
}

func (d *SimDepositor) VirtualPrice(_ context.Context) (sdkmath.LegacyDec, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.virtualPrice, nil
}
