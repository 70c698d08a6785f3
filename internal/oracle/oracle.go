// Package oracle provides the price and supply data the weight strategies consume.
package oracle

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/errs"
)

var (
	ErrUnknownAsset = errs.New(errs.External, "UNKNOWN_ASSET", "oracle has no data for asset")
	ErrBadPrice     = errs.New(errs.External, "BAD_PRICE", "oracle returned a non-positive price")
	ErrUnavailable  = errs.New(errs.External, "ORACLE_UNAVAILABLE", "oracle request failed")
)

// Oracle reports an asset's USD price, total supply and holder balances.
type Oracle interface {
	Price(ctx context.Context, asset common.Address) (sdkmath.LegacyDec, error)
	TotalSupply(ctx context.Context, asset common.Address) (sdkmath.Int, error)
	BalanceOf(ctx context.Context, asset, holder common.Address) (sdkmath.Int, error)
}

// RateOracle converts amounts between two denominations.
type RateOracle interface {
	// Rate returns how many units of to one unit of from is worth.
	Rate(ctx context.Context, from, to string) (sdkmath.LegacyDec, error)
}

type assetData struct {
	price    sdkmath.LegacyDec
	supply   sdkmath.Int
	balances map[common.Address]sdkmath.Int
}

// Static is an in-memory Oracle. It is safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	assets map[common.Address]*assetData
}

func NewStatic() *Static {
	return &Static{assets: make(map[common.Address]*assetData)}
}

func (s *Static) entry(asset common.Address) *assetData {
	d, ok := s.assets[asset]
	if !ok {
		d = &assetData{price: sdkmath.LegacyZeroDec(), supply: sdkmath.ZeroInt(), balances: make(map[common.Address]sdkmath.Int)}
		s.assets[asset] = d
	}
	return d
}

// SetAsset sets price and total supply of asset.
func (s *Static) SetAsset(asset common.Address, price sdkmath.LegacyDec, supply sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.entry(asset)
	d.price = price
	d.supply = supply
}

func (s *Static) SetPrice(asset common.Address, price sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(asset).price = price
}

func (s *Static) SetBalance(asset, holder common.Address, balance sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(asset).balances[holder] = balance
}

func (s *Static) lookup(asset common.Address) (*assetData, error) {
	d, ok := s.assets[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	return d, nil
}

func (s *Static) Price(_ context.Context, asset common.Address) (sdkmath.LegacyDec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.lookup(asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return d.price, nil
}

func (s *Static) TotalSupply(_ context.Context, asset common.Address) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.lookup(asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return d.supply, nil
}

func (s *Static) BalanceOf(_ context.Context, asset, holder common.Address) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.lookup(asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if b, ok := d.balances[holder]; ok {
		return b, nil
	}
	return sdkmath.ZeroInt(), nil
}

// StaticRates is an in-memory RateOracle. A denomination converts to itself at 1.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[[2]string]sdkmath.LegacyDec
}

func NewStaticRates() *StaticRates {
	return &StaticRates{rates: make(map[[2]string]sdkmath.LegacyDec)}
}

// SetRate records from→to and its inverse.
func (r *StaticRates) SetRate(from, to string, rate sdkmath.LegacyDec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rates[[2]string{from, to}] = rate
	if rate.IsPositive() {
		r.rates[[2]string{to, from}] = sdkmath.LegacyOneDec().Quo(rate)
	}
}

func (r *StaticRates) Rate(_ context.Context, from, to string) (sdkmath.LegacyDec, error) {
	if from == to {
		return sdkmath.LegacyOneDec(), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rate, ok := r.rates[[2]string{from, to}]
	if !ok || !rate.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: no rate %s->%s", ErrBadPrice, from, to)
	}
	return rate, nil
}
