package utils

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/osmosis-labs/osmosis/osmomath"

	"github.com/powerpool/powerindex-keeper/internal/errs"
)

// Guard runs fn and converts a fixed-point overflow panic into errs.ErrOverflow.
// Every computation that multiplies externally supplied values goes through it.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errs.ErrOverflow, r)
		}
	}()
	return fn()
}

// Pow computes base^exp for 0 < base < 2, the domain the weighted-product curve needs.
func Pow(base, exp sdkmath.LegacyDec) (result sdkmath.LegacyDec, err error) {
	if !base.IsPositive() || base.GTE(sdkmath.LegacyNewDec(2)) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: base %s", errs.ErrMathApprox, base)
	}
	if exp.IsNegative() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: exponent %s", errs.ErrMathApprox, exp)
	}
	err = Guard(func() error {
		result = osmomath.Pow(base, exp)
		return nil
	})
	return result, err
}

// AbsDiff returns |a - b|.
func AbsDiff(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	return a.Sub(b).Abs()
}

// IntToDec lifts base units into the decimal domain without rescaling.
func IntToDec(i sdkmath.Int) sdkmath.LegacyDec {
	return sdkmath.LegacyNewDecFromInt(i)
}

// MulIntTrunc returns floor(i * d) in base units.
func MulIntTrunc(i sdkmath.Int, d sdkmath.LegacyDec) sdkmath.Int {
	return sdkmath.LegacyNewDecFromInt(i).Mul(d).TruncateInt()
}

// RelativeDiff returns |a - b| / |b|, or |a| when b is zero.
func RelativeDiff(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if b.IsZero() {
		return a.Abs()
	}
	return AbsDiff(a, b).Quo(b.Abs())
}
