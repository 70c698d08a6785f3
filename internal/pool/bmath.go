package pool

import (
	sdkmath "cosmossdk.io/math"

	"github.com/powerpool/powerindex-keeper/internal/utils"
)

// Weighted constant-product math. Balances and amounts are base units lifted to decimals,
// weights are denormalized.

// calcSpotPrice = (bI / wI) / (bO / wO) * 1 / (1 - swapFee)
func calcSpotPrice(bI, wI, bO, wO, swapFee sdkmath.LegacyDec) sdkmath.LegacyDec {
	numer := bI.Quo(wI)
	denom := bO.Quo(wO)
	return numer.Quo(denom).Mul(One.Quo(One.Sub(swapFee)))
}

// calcOutGivenIn = bO * (1 - (bI / (bI + aI * (1 - swapFee))) ^ (wI / wO))
func calcOutGivenIn(bI, wI, bO, wO, aI, swapFee sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	weightRatio := wI.Quo(wO)
	adjustedIn := aI.Mul(One.Sub(swapFee))
	y := bI.Quo(bI.Add(adjustedIn))
	foo, err := utils.Pow(y, weightRatio)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return bO.Mul(One.Sub(foo)), nil
}

// calcInGivenOut = bI * ((bO / (bO - aO)) ^ (wO / wI) - 1) / (1 - swapFee)
func calcInGivenOut(bI, wI, bO, wO, aO, swapFee sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	weightRatio := wO.Quo(wI)
	y := bO.Quo(bO.Sub(aO))
	foo, err := utils.Pow(y, weightRatio)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return bI.Mul(foo.Sub(One)).Quo(One.Sub(swapFee)), nil
}

// calcPoolOutGivenSingleIn mints shares for a single-asset deposit; the part of aI that
// implicitly swaps into the other assets pays the swap fee.
func calcPoolOutGivenSingleIn(bI, wI, supply, totalWeight, aI, swapFee sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	normalizedWeight := wI.Quo(totalWeight)
	zaz := One.Sub(normalizedWeight).Mul(swapFee)
	tokenInAfterFee := aI.Mul(One.Sub(zaz))
	tokenInRatio := bI.Add(tokenInAfterFee).Quo(bI)
	poolRatio, err := utils.Pow(tokenInRatio, normalizedWeight)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return poolRatio.Mul(supply).Sub(supply), nil
}

// calcSingleOutGivenPoolIn pays out one asset for burned shares.
func calcSingleOutGivenPoolIn(bO, wO, supply, totalWeight, poolIn, swapFee sdkmath.LegacyDec) (sdkmath.LegacyDec, error) {
	normalizedWeight := wO.Quo(totalWeight)
	poolRatio := supply.Sub(poolIn).Quo(supply)
	tokenOutRatio, err := utils.Pow(poolRatio, One.Quo(normalizedWeight))
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	beforeFee := bO.Sub(tokenOutRatio.Mul(bO))
	zaz := One.Sub(normalizedWeight).Mul(swapFee)
	return beforeFee.Mul(One.Sub(zaz)), nil
}
