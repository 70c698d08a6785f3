package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

// Trading settles asset movements against the pool's balances. Holder wallets are outside the
// pool: amounts returned are what the caller pays in or receives.

func (p *Pool) tradeGuard(tx *ledger.Tx) error {
	if !p.finalized {
		return ErrNotFinalized
	}
	return p.checkAllowed(tx.Sender())
}

// communityFee splits amount into the part kept by the trade and the community fee.
func (p *Pool) communityFee(amount sdkmath.Int, fee sdkmath.LegacyDec, actor common.Address) (afterFee, feeAmount sdkmath.Int) {
	if fee.IsZero() || (p.restrictions != nil && p.restrictions.IsWithoutFee(actor)) {
		return amount, sdkmath.ZeroInt()
	}
	feeAmount = utils.MulIntTrunc(amount, fee)
	return amount.Sub(feeAmount), feeAmount
}

func (p *Pool) accrue(tx *ledger.Tx, asset common.Address, amount sdkmath.Int) {
	if !amount.IsPositive() {
		return
	}
	byAsset, ok := p.accrued[p.fees.receiver]
	if !ok {
		byAsset = make(map[common.Address]sdkmath.Int)
		p.accrued[p.fees.receiver] = byAsset
	}
	prev, ok := byAsset[asset]
	if !ok {
		prev = sdkmath.ZeroInt()
	}
	byAsset[asset] = prev.Add(amount)
	tx.Gas().Writes(1)
	tx.Emit(events.New(events.KindCommunityFee, p.address).
		With("caller", tx.Sender().Hex()).
		With("receiver", p.fees.receiver.Hex()).
		With("asset", asset.Hex()).
		With("amount", amount.String()))
}

type side struct {
	asset   common.Address
	rec     *record
	balance sdkmath.LegacyDec
	weight  sdkmath.LegacyDec
}

func (p *Pool) side(tx *ledger.Tx, asset common.Address) (side, error) {
	r, err := p.record(asset)
	if err != nil {
		return side{}, err
	}
	tx.Gas().Reads(2)
	return side{asset: asset, rec: r, balance: utils.IntToDec(r.balance), weight: r.effectiveWeight(tx.Now())}, nil
}

// SpotPrice returns the price of tokenOut in tokenIn including the swap fee, at the transaction time.
func (p *Pool) SpotPrice(tx *ledger.Tx, tokenIn, tokenOut common.Address) (sdkmath.LegacyDec, error) {
	in, err := p.side(tx, tokenIn)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	out, err := p.side(tx, tokenOut)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	var price sdkmath.LegacyDec
	err = utils.Guard(func() error {
		price = calcSpotPrice(in.balance, in.weight, out.balance, out.weight, p.fees.swap)
		return nil
	})
	return price, err
}

// JoinPool mints poolAmountOut shares against a proportional deposit of every asset.
// The community join fee is taken from the minted shares.
func (p *Pool) JoinPool(tx *ledger.Tx, poolAmountOut sdkmath.Int, maxAmountsIn []sdkmath.Int) ([]sdkmath.Int, error) {
	if err := p.tradeGuard(tx); err != nil {
		return nil, err
	}
	if len(maxAmountsIn) != len(p.assets) {
		return nil, ErrLengthMismatch
	}
	supply := p.shares.totalSupply
	ratio := utils.IntToDec(poolAmountOut).Quo(utils.IntToDec(supply))
	if !ratio.IsPositive() {
		return nil, fmt.Errorf("%w: zero join ratio", ErrMathApprox)
	}

	amountsIn := make([]sdkmath.Int, len(p.assets))
	err := utils.Guard(func() error {
		for i, a := range p.assets {
			in := utils.IntToDec(p.records[a].balance).Mul(ratio).Ceil().TruncateInt()
			if !in.IsPositive() {
				return fmt.Errorf("%w: zero amount in for %s", ErrMathApprox, a.Hex())
			}
			if in.GT(maxAmountsIn[i]) {
				return fmt.Errorf("%w: %s needs %s > %s", ErrLimitIn, a.Hex(), in, maxAmountsIn[i])
			}
			amountsIn[i] = in
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := p.checkMaxTotalSupply(supply.Add(poolAmountOut)); err != nil {
		return nil, err
	}

	sender := tx.Sender()
	afterFee, fee := p.communityFee(poolAmountOut, p.fees.communityJoin, sender)
	for i, a := range p.assets {
		r := p.records[a]
		r.balance = r.balance.Add(amountsIn[i])
		tx.Emit(events.New(events.KindJoin, p.address).
			With("caller", sender.Hex()).
			With("asset", a.Hex()).
			With("amount", amountsIn[i].String()))
	}
	p.shares.mint(sender, afterFee)
	if fee.IsPositive() {
		p.shares.mint(p.fees.receiver, fee)
	}
	tx.Gas().Writes(len(p.assets) + 3)
	return amountsIn, nil
}

// ExitPool burns poolAmountIn shares for a proportional withdrawal of every asset.
// The community exit fee is taken from the burned shares and handed to the fee receiver.
func (p *Pool) ExitPool(tx *ledger.Tx, poolAmountIn sdkmath.Int, minAmountsOut []sdkmath.Int) ([]sdkmath.Int, error) {
	if err := p.tradeGuard(tx); err != nil {
		return nil, err
	}
	if len(minAmountsOut) != len(p.assets) {
		return nil, ErrLengthMismatch
	}
	sender := tx.Sender()
	if bal := p.shares.balanceOf(sender); bal.LT(poolAmountIn) {
		return nil, fmt.Errorf("%w: %s holds %s", ErrInsufficientShare, sender.Hex(), bal)
	}
	afterFee, fee := p.communityFee(poolAmountIn, p.fees.communityExit, sender)
	ratio := utils.IntToDec(afterFee).Quo(utils.IntToDec(p.shares.totalSupply))
	if !ratio.IsPositive() {
		return nil, fmt.Errorf("%w: zero exit ratio", ErrMathApprox)
	}

	amountsOut := make([]sdkmath.Int, len(p.assets))
	for i, a := range p.assets {
		r := p.records[a]
		out := utils.MulIntTrunc(r.balance, ratio)
		if !out.IsPositive() {
			return nil, fmt.Errorf("%w: zero amount out for %s", ErrMathApprox, a.Hex())
		}
		if out.LT(minAmountsOut[i]) {
			return nil, fmt.Errorf("%w: %s gives %s < %s", ErrLimitOut, a.Hex(), out, minAmountsOut[i])
		}
		amountsOut[i] = out
	}

	if fee.IsPositive() {
		if err := p.shares.move(sender, p.fees.receiver, fee); err != nil {
			return nil, err
		}
	}
	if err := p.shares.burn(sender, afterFee); err != nil {
		return nil, err
	}
	for i, a := range p.assets {
		r := p.records[a]
		r.balance = r.balance.Sub(amountsOut[i])
		tx.Emit(events.New(events.KindExit, p.address).
			With("caller", sender.Hex()).
			With("asset", a.Hex()).
			With("amount", amountsOut[i].String()))
	}
	tx.Gas().Writes(len(p.assets) + 3)
	return amountsOut, nil
}

// SwapResult is the outcome of a swap.
type SwapResult struct {
	AmountIn       sdkmath.Int
	AmountOut      sdkmath.Int
	CommunityFee   sdkmath.Int
	SpotPriceAfter sdkmath.LegacyDec
}

// SwapExactAmountIn sells amountIn of tokenIn. The community swap fee is taken from amountIn first.
func (p *Pool) SwapExactAmountIn(tx *ledger.Tx, tokenIn common.Address, amountIn sdkmath.Int, tokenOut common.Address, minAmountOut sdkmath.Int, maxPrice sdkmath.LegacyDec) (SwapResult, error) {
	if err := p.tradeGuard(tx); err != nil {
		return SwapResult{}, err
	}
	if tokenIn == tokenOut {
		return SwapResult{}, ErrSameAsset
	}
	in, err := p.side(tx, tokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	out, err := p.side(tx, tokenOut)
	if err != nil {
		return SwapResult{}, err
	}
	afterFee, fee := p.communityFee(amountIn, p.fees.communitySwap, tx.Sender())

	var res SwapResult
	err = utils.Guard(func() error {
		aI := utils.IntToDec(afterFee)
		if aI.GT(in.balance.Mul(MaxInRatio)) {
			return fmt.Errorf("%w: %s", ErrMaxInRatio, afterFee)
		}
		spotBefore := calcSpotPrice(in.balance, in.weight, out.balance, out.weight, p.fees.swap)
		if spotBefore.GT(maxPrice) {
			return fmt.Errorf("%w: %s > %s", ErrBadLimitPrice, spotBefore, maxPrice)
		}
		aO, err := calcOutGivenIn(in.balance, in.weight, out.balance, out.weight, aI, p.fees.swap)
		if err != nil {
			return err
		}
		amountOut := aO.TruncateInt()
		if !amountOut.IsPositive() {
			return fmt.Errorf("%w: zero amount out", ErrMathApprox)
		}
		if amountOut.LT(minAmountOut) {
			return fmt.Errorf("%w: %s < %s", ErrLimitOut, amountOut, minAmountOut)
		}
		newIn := in.balance.Add(aI)
		newOut := out.balance.Sub(utils.IntToDec(amountOut))
		spotAfter := calcSpotPrice(newIn, in.weight, newOut, out.weight, p.fees.swap)
		if spotAfter.LT(spotBefore) {
			return fmt.Errorf("%w: spot price decreased", ErrMathApprox)
		}
		if spotAfter.GT(maxPrice) {
			return fmt.Errorf("%w: %s > %s", ErrLimitPrice, spotAfter, maxPrice)
		}
		if spotBefore.GT(aI.Quo(utils.IntToDec(amountOut))) {
			return fmt.Errorf("%w: effective price below spot", ErrMathApprox)
		}
		res = SwapResult{AmountIn: amountIn, AmountOut: amountOut, CommunityFee: fee, SpotPriceAfter: spotAfter}
		return nil
	})
	if err != nil {
		return SwapResult{}, err
	}

	in.rec.balance = in.rec.balance.Add(afterFee)
	out.rec.balance = out.rec.balance.Sub(res.AmountOut)
	tx.Gas().Writes(2)
	p.emitSwap(tx, tokenIn, tokenOut, res)
	p.accrue(tx, tokenIn, fee)
	return res, nil
}

// SwapExactAmountOut buys amountOut of tokenOut. The community swap fee is added on top of the curve's amount in.
func (p *Pool) SwapExactAmountOut(tx *ledger.Tx, tokenIn common.Address, maxAmountIn sdkmath.Int, tokenOut common.Address, amountOut sdkmath.Int, maxPrice sdkmath.LegacyDec) (SwapResult, error) {
	if err := p.tradeGuard(tx); err != nil {
		return SwapResult{}, err
	}
	if tokenIn == tokenOut {
		return SwapResult{}, ErrSameAsset
	}
	in, err := p.side(tx, tokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	out, err := p.side(tx, tokenOut)
	if err != nil {
		return SwapResult{}, err
	}

	var res SwapResult
	var curveIn sdkmath.Int
	err = utils.Guard(func() error {
		aO := utils.IntToDec(amountOut)
		if !aO.IsPositive() {
			return fmt.Errorf("%w: zero amount out", ErrMathApprox)
		}
		if aO.GT(out.balance.Mul(MaxOutRatio)) {
			return fmt.Errorf("%w: %s", ErrMaxOutRatio, amountOut)
		}
		spotBefore := calcSpotPrice(in.balance, in.weight, out.balance, out.weight, p.fees.swap)
		if spotBefore.GT(maxPrice) {
			return fmt.Errorf("%w: %s > %s", ErrBadLimitPrice, spotBefore, maxPrice)
		}
		aI, err := calcInGivenOut(in.balance, in.weight, out.balance, out.weight, aO, p.fees.swap)
		if err != nil {
			return err
		}
		curveIn = aI.Ceil().TruncateInt()
		total, fee := p.grossUpCommunityFee(curveIn, tx.Sender())
		if total.GT(maxAmountIn) {
			return fmt.Errorf("%w: %s > %s", ErrLimitIn, total, maxAmountIn)
		}
		newIn := in.balance.Add(utils.IntToDec(curveIn))
		newOut := out.balance.Sub(aO)
		spotAfter := calcSpotPrice(newIn, in.weight, newOut, out.weight, p.fees.swap)
		if spotAfter.LT(spotBefore) {
			return fmt.Errorf("%w: spot price decreased", ErrMathApprox)
		}
		if spotAfter.GT(maxPrice) {
			return fmt.Errorf("%w: %s > %s", ErrLimitPrice, spotAfter, maxPrice)
		}
		if spotBefore.GT(utils.IntToDec(curveIn).Quo(aO)) {
			return fmt.Errorf("%w: effective price below spot", ErrMathApprox)
		}
		res = SwapResult{AmountIn: total, AmountOut: amountOut, CommunityFee: fee, SpotPriceAfter: spotAfter}
		return nil
	})
	if err != nil {
		return SwapResult{}, err
	}

	in.rec.balance = in.rec.balance.Add(curveIn)
	out.rec.balance = out.rec.balance.Sub(amountOut)
	tx.Gas().Writes(2)
	p.emitSwap(tx, tokenIn, tokenOut, res)
	p.accrue(tx, tokenIn, res.CommunityFee)
	return res, nil
}

// grossUpCommunityFee returns the amount a caller pays so that net reaches the curve after the community fee.
func (p *Pool) grossUpCommunityFee(net sdkmath.Int, actor common.Address) (total, fee sdkmath.Int) {
	f := p.fees.communitySwap
	if f.IsZero() || (p.restrictions != nil && p.restrictions.IsWithoutFee(actor)) {
		return net, sdkmath.ZeroInt()
	}
	total = utils.IntToDec(net).Quo(One.Sub(f)).Ceil().TruncateInt()
	return total, total.Sub(net)
}

// JoinswapExternAmountIn deposits a single asset and mints shares. The community join fee is taken in the asset.
func (p *Pool) JoinswapExternAmountIn(tx *ledger.Tx, tokenIn common.Address, amountIn, minPoolAmountOut sdkmath.Int) (sdkmath.Int, error) {
	if err := p.tradeGuard(tx); err != nil {
		return sdkmath.Int{}, err
	}
	in, err := p.side(tx, tokenIn)
	if err != nil {
		return sdkmath.Int{}, err
	}
	afterFee, fee := p.communityFee(amountIn, p.fees.communityJoin, tx.Sender())

	var poolOut sdkmath.Int
	err = utils.Guard(func() error {
		aI := utils.IntToDec(afterFee)
		if aI.GT(in.balance.Mul(MaxInRatio)) {
			return fmt.Errorf("%w: %s", ErrMaxInRatio, afterFee)
		}
		out, err := calcPoolOutGivenSingleIn(in.balance, in.weight, utils.IntToDec(p.shares.totalSupply), p.TotalEffectiveWeight(tx.Now()), aI, p.fees.swap)
		if err != nil {
			return err
		}
		poolOut = out.TruncateInt()
		if poolOut.LT(minPoolAmountOut) {
			return fmt.Errorf("%w: %s < %s", ErrLimitOut, poolOut, minPoolAmountOut)
		}
		return nil
	})
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := p.checkMaxTotalSupply(p.shares.totalSupply.Add(poolOut)); err != nil {
		return sdkmath.Int{}, err
	}

	in.rec.balance = in.rec.balance.Add(afterFee)
	p.shares.mint(tx.Sender(), poolOut)
	tx.Gas().Writes(3)
	tx.Emit(events.New(events.KindJoin, p.address).
		With("caller", tx.Sender().Hex()).
		With("asset", tokenIn.Hex()).
		With("amount", afterFee.String()))
	p.accrue(tx, tokenIn, fee)
	return poolOut, nil
}

// ExitswapPoolAmountIn burns shares for a single asset. The community exit fee is taken in the asset.
func (p *Pool) ExitswapPoolAmountIn(tx *ledger.Tx, tokenOut common.Address, poolAmountIn, minAmountOut sdkmath.Int) (sdkmath.Int, error) {
	if err := p.tradeGuard(tx); err != nil {
		return sdkmath.Int{}, err
	}
	out, err := p.side(tx, tokenOut)
	if err != nil {
		return sdkmath.Int{}, err
	}
	sender := tx.Sender()
	if bal := p.shares.balanceOf(sender); bal.LT(poolAmountIn) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s holds %s", ErrInsufficientShare, sender.Hex(), bal)
	}

	var gross sdkmath.Int
	err = utils.Guard(func() error {
		aO, err := calcSingleOutGivenPoolIn(out.balance, out.weight, utils.IntToDec(p.shares.totalSupply), p.TotalEffectiveWeight(tx.Now()), utils.IntToDec(poolAmountIn), p.fees.swap)
		if err != nil {
			return err
		}
		if aO.GT(out.balance.Mul(MaxOutRatio)) {
			return fmt.Errorf("%w: %s", ErrMaxOutRatio, aO)
		}
		gross = aO.TruncateInt()
		return nil
	})
	if err != nil {
		return sdkmath.Int{}, err
	}
	afterFee, fee := p.communityFee(gross, p.fees.communityExit, sender)
	if afterFee.LT(minAmountOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s < %s", ErrLimitOut, afterFee, minAmountOut)
	}

	if err := p.shares.burn(sender, poolAmountIn); err != nil {
		return sdkmath.Int{}, err
	}
	out.rec.balance = out.rec.balance.Sub(gross)
	tx.Gas().Writes(3)
	tx.Emit(events.New(events.KindExit, p.address).
		With("caller", sender.Hex()).
		With("asset", tokenOut.Hex()).
		With("amount", afterFee.String()))
	p.accrue(tx, tokenOut, fee)
	return afterFee, nil
}

func (p *Pool) emitSwap(tx *ledger.Tx, tokenIn, tokenOut common.Address, res SwapResult) {
	tx.Emit(events.New(events.KindSwap, p.address).
		With("caller", tx.Sender().Hex()).
		With("token_in", tokenIn.Hex()).
		With("token_out", tokenOut.Hex()).
		With("amount_in", res.AmountIn.String()).
		With("amount_out", res.AmountOut.String()))
}
