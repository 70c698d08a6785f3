/*

This file contains the default parameters for the keeper incentive layer.

They are applied to every client added without explicit overrides, and saved to the database as
version 1 of the default configuration when no active parameters exist yet.

*/

package config

import (
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

const (
	DefaultIncentiveConfigName    = "default_power_poke"
	DefaultIncentiveConfigVersion = 1
)

// DefaultIncentiveParameters provides the baseline incentive settings.
var DefaultIncentiveParameters = types.IncentiveParameters{
	// --- Report window ---
	MinReportInterval: 14 * 24 * time.Hour, // Same as the strategies' poke period.
	MaxReportInterval: 14*24*time.Hour + time.Hour,
	LatePolicy:        "flag", // Late designated reports are accepted and marked missed.

	// --- Admission ---
	MaxGasPriceGwei: 500,
	MinimalDeposit:  utils.Tokens(40),

	// --- Compensation ---
	UseCustomCompensation: true,
	FixedBaseGas:          200000, // Transaction overhead the metered gas does not see.
	FixedPerMessageGas:    60000,  // Per poked pool.
	BonusPlanID:           1,
	BonusNumerator:        7610350076,
	BonusDenominator:      10000000000000000,
	BonusPerGas:           10000,

	// --- Funding & penalties ---
	InitialCredit:     utils.Tokens(10000),
	SlasherRewardPct:  5,
	ProtocolRewardPct: 5,

	// --- Denominations ---
	IncentiveDenom: "cvp",
	NativeDenom:    "eth",
}

// IncentiveParametersFor returns the defaults with the non-zero overrides applied.
func IncentiveParametersFor(overrides *types.IncentiveParameters) types.IncentiveParameters {
	p := DefaultIncentiveParameters
	if overrides == nil {
		return p
	}
	if overrides.MinReportInterval > 0 {
		p.MinReportInterval = overrides.MinReportInterval
	}
	if overrides.MaxReportInterval > 0 {
		p.MaxReportInterval = overrides.MaxReportInterval
	}
	if overrides.LatePolicy != "" {
		p.LatePolicy = overrides.LatePolicy
	}
	if overrides.MaxGasPriceGwei > 0 {
		p.MaxGasPriceGwei = overrides.MaxGasPriceGwei
	}
	if isSet(overrides.MinimalDeposit) {
		p.MinimalDeposit = overrides.MinimalDeposit
	}
	if overrides.FixedBaseGas > 0 || overrides.FixedPerMessageGas > 0 {
		p.UseCustomCompensation = overrides.UseCustomCompensation
		p.FixedBaseGas = overrides.FixedBaseGas
		p.FixedPerMessageGas = overrides.FixedPerMessageGas
	}
	if overrides.BonusPlanID > 0 {
		p.BonusPlanID = overrides.BonusPlanID
		p.BonusNumerator = overrides.BonusNumerator
		p.BonusDenominator = overrides.BonusDenominator
		p.BonusPerGas = overrides.BonusPerGas
	}
	if isSet(overrides.InitialCredit) {
		p.InitialCredit = overrides.InitialCredit
	}
	if overrides.SlasherRewardPct > 0 || overrides.ProtocolRewardPct > 0 {
		p.SlasherRewardPct = overrides.SlasherRewardPct
		p.ProtocolRewardPct = overrides.ProtocolRewardPct
	}
	if overrides.IncentiveDenom != "" {
		p.IncentiveDenom = overrides.IncentiveDenom
	}
	if overrides.NativeDenom != "" {
		p.NativeDenom = overrides.NativeDenom
	}
	return p
}

func isSet(v sdkmath.Int) bool {
	return !v.IsNil() && v.IsPositive()
}
