/*

This file contains the types for vault positions which contain all the state needed for an instant rebind.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Position is the pool's holding of one vault-share asset, valued in base-asset units.
type Position struct {
	Asset         common.Address    `json:"asset"`
	Shares        sdkmath.Int       `json:"shares"`          // Vault shares held by the pool
	ValuePerShare sdkmath.LegacyDec `json:"value_per_share"` // Base-asset units per share
	Value         sdkmath.LegacyDec `json:"value"`           // Shares * ValuePerShare
	VaultTVL      sdkmath.LegacyDec `json:"vault_tvl"`       // Whole-vault value in base-asset units
	TargetValue   sdkmath.LegacyDec `json:"target_value"`    // Value the pool should hold after the rebind
}

// SubActionType defines the specific low-level operations.
type SubActionType string

const (
	SubActionWithdraw SubActionType = "WITHDRAW" // Take shares out of the pool and redeem them to the base asset
	SubActionDeposit  SubActionType = "DEPOSIT"  // Deposit the base asset into a vault and add the shares to the pool
	SubActionNoOp     SubActionType = "NO_OP"    // Placeholder if no action needed for a step
)

// SubAction represents a single, executable step in a rebalancing plan.
type SubAction struct {
	Type  SubActionType  `json:"type"`
	Asset common.Address `json:"asset"`

	// For WITHDRAW: shares removed from the pool. For DEPOSIT: expected shares minted.
	Shares sdkmath.Int `json:"shares"`
	// For WITHDRAW: quoted base-asset proceeds. For DEPOSIT: base-asset amount spent.
	BaseAmount sdkmath.Int `json:"base_amount"`
}

// ActionPlan holds a sequence of SubActions to achieve a rebalancing goal.
type ActionPlan struct {
	GoalDescription string         `json:"goal_description"`
	Pool            common.Address `json:"pool"`
	SubActions      []SubAction    `json:"sub_actions"`
	BufferBefore    sdkmath.Int    `json:"buffer_before"`
	BufferAfter     sdkmath.Int    `json:"buffer_after"` // Quoted remainder once every action settles
}

// HasWork reports whether the plan moves anything.
func (p ActionPlan) HasWork() bool {
	for _, a := range p.SubActions {
		if a.Type != SubActionNoOp {
			return true
		}
	}
	return false
}

// ActionReceipt records the settled outcome of one SubAction.
type ActionReceipt struct {
	OriginalSubAction SubAction   `json:"original_sub_action"`
	Success           bool        `json:"success"`
	Message           string      `json:"message,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
	SharesChanged     sdkmath.Int `json:"shares_changed"`
	BaseAmount        sdkmath.Int `json:"base_amount"`
	NewPoolBalance    sdkmath.Int `json:"new_pool_balance"`
}
