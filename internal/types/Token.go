/*

This is a custom type for assets which contains the market data a weight strategy reads per poke.

*/

package types

import (
	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// AssetMarketData is what the market-cap strategy derives for one asset.
type AssetMarketData struct {
	Asset             common.Address `json:"asset"`
	Price             math.LegacyDec `json:"price"`              // Oracle price per base unit
	TotalSupply       math.Int       `json:"total_supply"`       // Base units
	ExcludedBalance   math.Int       `json:"excluded_balance"`   // Sum of balances held by excluded addresses
	CirculatingSupply math.Int       `json:"circulating_supply"` // TotalSupply - ExcludedBalance
	MarketCap         math.LegacyDec `json:"market_cap"`         // Price * CirculatingSupply
	Weight            math.LegacyDec `json:"weight"`             // Share of the normalized total weight
}
