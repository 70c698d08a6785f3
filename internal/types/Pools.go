/*

This is a custom type for pools which contains the read-only view served by the API and the CLI.

*/

package types

import (
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// WeightTarget is one scheduled weight transition handed from a strategy to a controller.
type WeightTarget struct {
	Asset  common.Address `json:"asset"`
	Target math.LegacyDec `json:"target"` // Denormalized weight, the pool's weights sum to 50
	From   time.Time      `json:"from"`
	To     time.Time      `json:"to"`
}

// AssetSnapshot is the state of one bound asset at a given instant.
type AssetSnapshot struct {
	Asset              common.Address `json:"asset"`
	Balance            math.Int       `json:"balance"`
	EffectiveWeight    math.LegacyDec `json:"effective_weight"`
	CurrentWeight      math.LegacyDec `json:"current_weight"` // Start point of the running schedule
	TargetWeight       math.LegacyDec `json:"target_weight"`
	ScheduleStart      time.Time      `json:"schedule_start"`
	ScheduleEnd        time.Time      `json:"schedule_end"`
	MinWeightPerSecond math.LegacyDec `json:"min_weight_per_second"`
	MaxWeightPerSecond math.LegacyDec `json:"max_weight_per_second"`
}

// PoolSnapshot is the state of a pool at a given instant.
type PoolSnapshot struct {
	Address          common.Address  `json:"address"`
	Name             string          `json:"name"`
	Symbol           string          `json:"symbol"`
	Controller       common.Address  `json:"controller"`
	Finalized        bool            `json:"finalized"`
	At               time.Time       `json:"at"`
	SwapFee          math.LegacyDec  `json:"swap_fee"`
	CommunitySwapFee math.LegacyDec  `json:"community_swap_fee"`
	CommunityJoinFee math.LegacyDec  `json:"community_join_fee"`
	CommunityExitFee math.LegacyDec  `json:"community_exit_fee"`
	FeeReceiver      common.Address  `json:"fee_receiver"`
	TotalSupply      math.Int        `json:"total_supply"`
	TotalWeight      math.LegacyDec  `json:"total_weight"`
	Assets           []AssetSnapshot `json:"assets"`
}
