/*
This file contains common utility functions for converting between fixed-point SDK math types,
their string forms, and float64 for metrics and logging.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// TokenDecimals is the precision of every amount handled by the pool and the incentive layer.
const TokenDecimals = 18

// IntToFloat64 converts an SDK Int expressed in base units to a float64 in whole units.
func IntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	if precision < 0 || precision > TokenDecimals {
		return 0, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidPrecision, precision, TokenDecimals)
	}
	if amount.IsNil() {
		return 0, ErrAmountNil
	}
	if amount.IsNegative() {
		return 0, ErrAmountNegative
	}

	result := sdkmath.LegacyNewDecFromInt(amount).Quo(pow10(precision))
	resultFloat, err := result.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(resultFloat) || math.IsInf(resultFloat, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, resultFloat)
	}
	return resultFloat, nil
}

// DecToFloat64 converts a LegacyDec to float64. Nil decimals are reported as zero.
func DecToFloat64(d sdkmath.LegacyDec) float64 {
	if d.IsNil() {
		return 0
	}
	f, err := d.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ParseDec parses a decimal string such as "6.25" or "0.000001".
func ParseDec(s string) (sdkmath.LegacyDec, error) {
	d, err := sdkmath.LegacyNewDecFromStr(strings.TrimSpace(s))
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %q: %w", ErrConversionFailed, s, err)
	}
	return d, nil
}

// ParseInt parses a base-10 integer string of base units.
func ParseInt(s string) (sdkmath.Int, error) {
	i, ok := sdkmath.NewIntFromString(strings.TrimSpace(s))
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: %q is not an integer", ErrConversionFailed, s)
	}
	return i, nil
}

// ParseAmount parses either a whole-token decimal ("40", "0.5") or, with a "wei:" prefix, raw base units.
func ParseAmount(s string) (sdkmath.Int, error) {
	s = strings.TrimSpace(s)
	if raw, ok := strings.CutPrefix(s, "wei:"); ok {
		return ParseInt(raw)
	}
	d, err := ParseDec(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if d.IsNegative() {
		return sdkmath.Int{}, ErrAmountNegative
	}
	return d.Mul(pow10(TokenDecimals)).TruncateInt(), nil
}

// Tokens returns whole tokens expressed in base units.
func Tokens(whole int64) sdkmath.Int {
	return sdkmath.NewInt(whole).Mul(sdkmath.NewIntWithDecimal(1, TokenDecimals))
}

func pow10(precision int) sdkmath.LegacyDec {
	factor := sdkmath.LegacyOneDec()
	for i := 0; i < precision; i++ {
		factor = factor.MulInt64(10)
	}
	return factor
}
