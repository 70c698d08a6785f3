/*

This file contains the types for the keeper incentive layer's configurable parameters.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// IncentiveParameters holds the tunable settings applied to every client registered with the incentive layer.
// Different sets of these parameters can exist per deployment and are versioned in the database.
type IncentiveParameters struct {
	// --- Report window ---
	MinReportInterval time.Duration `json:"min_report_interval"` // Earliest a report is accepted after the previous one.
	MaxReportInterval time.Duration `json:"max_report_interval"` // Latest a report is accepted before the slashing path opens.
	LatePolicy        string        `json:"late_policy"`         // "reject" or "flag": how a designated reporter's overdue report is handled.

	// --- Admission ---
	MaxGasPriceGwei uint64      `json:"max_gas_price_gwei"` // Reports sent at a higher gas price are rejected.
	MinimalDeposit  sdkmath.Int `json:"minimal_deposit"`    // Bonded stake (incentive token base units) needed to report.

	// --- Compensation ---
	UseCustomCompensation bool   `json:"use_custom_compensation"` // Add the fixed gas components below to the metered gas.
	FixedBaseGas          uint64 `json:"fixed_base_gas"`          // Flat gas added per report.
	FixedPerMessageGas    uint64 `json:"fixed_per_message_gas"`   // Gas added per poked pool.
	BonusPlanID           uint64 `json:"bonus_plan_id"`           // Plan used when a reporter does not choose one.
	BonusNumerator        uint64 `json:"bonus_numerator"`
	BonusDenominator      uint64 `json:"bonus_denominator"`
	BonusPerGas           uint64 `json:"bonus_per_gas"`

	// --- Funding & penalties ---
	InitialCredit     sdkmath.Int `json:"initial_credit"`      // Credit granted to every client at deployment.
	SlasherRewardPct  uint64      `json:"slasher_reward_pct"`  // Share of the slashed deposit paid to the slasher.
	ProtocolRewardPct uint64      `json:"protocol_reward_pct"` // Share of the slashed deposit kept by the protocol reserve.

	// --- Denominations ---
	IncentiveDenom string `json:"incentive_denom"` // Token the credit and the deposits are held in.
	NativeDenom    string `json:"native_denom"`    // Gas-settlement asset a reporter may be paid in.
}
