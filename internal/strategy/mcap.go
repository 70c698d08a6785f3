package strategy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/oracle"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

const KindMarketCap = "market_cap"

// RatePolicy decides what a poke does when the default window would move a weight faster than its bound.
type RatePolicy int

const (
	// RateExtend lengthens the shared window until every asset fits.
	RateExtend RatePolicy = iota
	// RateFail rejects the poke.
	RateFail
)

func (p RatePolicy) String() string {
	if p == RateFail {
		return "fail"
	}
	return "extend"
}

func ParseRatePolicy(s string) (RatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "extend":
		return RateExtend, nil
	case "fail":
		return RateFail, nil
	default:
		return RateExtend, fmt.Errorf("unknown rate limit policy %q", s)
	}
}

// MarketCap weighs every pool asset by its circulating market cap.
type MarketCap struct {
	*registry

	xmu      sync.RWMutex
	oracle   oracle.Oracle
	policy   RatePolicy
	excluded map[common.Address][]common.Address
}

// MarketCapOptions configures a new MarketCap strategy.
type MarketCapOptions struct {
	PokePeriod time.Duration
	Policy     RatePolicy
}

func NewMarketCap(address, owner common.Address, o oracle.Oracle, opts MarketCapOptions) *MarketCap {
	return &MarketCap{
		registry: newRegistry(address, owner, opts.PokePeriod),
		oracle:   o,
		policy:   opts.Policy,
		excluded: make(map[common.Address][]common.Address),
	}
}

func (s *MarketCap) Kind() string { return KindMarketCap }

func (s *MarketCap) RatePolicy() RatePolicy {
	s.xmu.RLock()
	defer s.xmu.RUnlock()
	return s.policy
}

// ExcludedBalances returns the holders whose balances of asset do not count as circulating.
func (s *MarketCap) ExcludedBalances(asset common.Address) []common.Address {
	s.xmu.RLock()
	defer s.xmu.RUnlock()
	return append([]common.Address(nil), s.excluded[asset]...)
}

// SetExcludedBalances replaces the excluded holders of asset.
func (s *MarketCap) SetExcludedBalances(tx *ledger.Tx, asset common.Address, holders []common.Address) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	s.xmu.Lock()
	defer s.xmu.Unlock()
	s.excluded[asset] = append([]common.Address(nil), holders...)
	tx.Gas().Writes(len(holders) + 1)
	return nil
}

func (s *MarketCap) SetRateLimitPolicy(tx *ledger.Tx, policy RatePolicy) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	s.xmu.Lock()
	defer s.xmu.Unlock()
	s.policy = policy
	tx.Gas().Writes(1)
	return nil
}

func (s *MarketCap) SetOracle(tx *ledger.Tx, o oracle.Oracle) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	s.xmu.Lock()
	defer s.xmu.Unlock()
	s.oracle = o
	tx.Gas().Writes(1)
	return nil
}

// ComputeWeights derives the market data and target weights of every asset of poolAddr without writing anything.
func (s *MarketCap) ComputeWeights(ctx context.Context, poolAddr common.Address) ([]types.AssetMarketData, error) {
	s.mu.RLock()
	e, err := s.entry(poolAddr)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.marketData(ctx, e.pool.Assets())
}

func (s *MarketCap) marketData(ctx context.Context, assets []common.Address) ([]types.AssetMarketData, error) {
	s.xmu.RLock()
	defer s.xmu.RUnlock()

	data := make([]types.AssetMarketData, len(assets))
	total := sdkmath.LegacyZeroDec()
	for i, asset := range assets {
		d, err := s.assetMarketData(ctx, asset)
		if err != nil {
			return nil, err
		}
		data[i] = d
		total = total.Add(d.MarketCap)
	}
	if !total.IsPositive() {
		return nil, ErrZeroMarketCap
	}

	err := utils.Guard(func() error {
		sum := sdkmath.LegacyZeroDec()
		largest := 0
		for i := range data {
			w := pool.NormalizedTotalWeight.Mul(data[i].MarketCap).Quo(total)
			if w.LT(pool.MinWeight) {
				w = pool.MinWeight
			}
			data[i].Weight = w
			sum = sum.Add(w)
			if w.GT(data[largest].Weight) {
				largest = i
			}
		}
		data[largest].Weight = data[largest].Weight.Add(pool.NormalizedTotalWeight.Sub(sum))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *MarketCap) assetMarketData(ctx context.Context, asset common.Address) (types.AssetMarketData, error) {
	d := types.AssetMarketData{Asset: asset}
	price, err := s.oracle.Price(ctx, asset)
	if err != nil {
		return d, fmt.Errorf("price of %s: %w", asset.Hex(), err)
	}
	if !price.IsPositive() {
		return d, fmt.Errorf("%w: %s for %s", ErrInvalidPrice, price, asset.Hex())
	}
	supply, err := s.oracle.TotalSupply(ctx, asset)
	if err != nil {
		return d, fmt.Errorf("total supply of %s: %w", asset.Hex(), err)
	}
	if !supply.IsPositive() {
		return d, fmt.Errorf("%w: %s for %s", ErrInvalidSupply, supply, asset.Hex())
	}

	excluded := sdkmath.ZeroInt()
	for _, holder := range s.excluded[asset] {
		bal, err := s.oracle.BalanceOf(ctx, asset, holder)
		if err != nil {
			return d, fmt.Errorf("balance of %s in %s: %w", holder.Hex(), asset.Hex(), err)
		}
		excluded = excluded.Add(bal)
	}
	if excluded.GT(supply) {
		return d, fmt.Errorf("%w: %s > %s for %s", ErrExcludedTooLarge, excluded, supply, asset.Hex())
	}

	d.Price = price
	d.TotalSupply = supply
	d.ExcludedBalance = excluded
	d.CirculatingSupply = supply.Sub(excluded)
	err = utils.Guard(func() error {
		d.MarketCap = price.MulInt(d.CirculatingSupply)
		return nil
	})
	return d, err
}

type mcapPlan struct {
	entry   *poolEntry
	data    []types.AssetMarketData
	targets []types.WeightTarget
	window  time.Duration
}

// Poke reschedules the weights of every due pool. All pools are planned before the first write.
func (s *MarketCap) Poke(tx *ledger.Tx, pools []common.Address) (PokeResult, error) {
	var res PokeResult
	if err := s.checkGate(tx); err != nil {
		return res, err
	}
	ready, skipped, err := s.due(tx, pools)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	plans := make([]mcapPlan, 0, len(ready))
	for _, e := range ready {
		plan, err := s.plan(tx, e)
		if err != nil {
			return PokeResult{}, fmt.Errorf("pool %s: %w", e.pool.Address().Hex(), err)
		}
		plans = append(plans, plan)
	}
	// every pool passes before the first one is written
	for _, plan := range plans {
		poolAddr := plan.entry.pool.Address()
		err := tx.Call(s.address, func() error {
			return plan.entry.controller.ValidateWeights(tx, poolAddr, plan.targets)
		})
		if err != nil {
			return PokeResult{}, fmt.Errorf("pool %s: %w", poolAddr.Hex(), err)
		}
	}

	for _, plan := range plans {
		poolAddr := plan.entry.pool.Address()
		err := tx.Call(s.address, func() error {
			return plan.entry.controller.ApplyWeights(tx, poolAddr, plan.targets)
		})
		if err != nil {
			return PokeResult{}, fmt.Errorf("pool %s: %w", poolAddr.Hex(), err)
		}
		s.markPoked(tx, plan.entry)

		total := sdkmath.LegacyZeroDec()
		for _, d := range plan.data {
			total = total.Add(d.MarketCap)
		}
		tx.Emit(events.New(events.KindPokeSummary, s.address).
			With("pool", poolAddr.Hex()).
			With("assets", fmt.Sprint(len(plan.targets))).
			With("window_seconds", fmt.Sprint(int64(plan.window/time.Second))).
			With("total_market_cap", total.String()))
		res.Poked = append(res.Poked, poolAddr)

		strategyLogger.Info().
			Str("pool", poolAddr.Hex()).
			Dur("window", plan.window).
			Str("total_market_cap", total.String()).
			Msg("Weights rescheduled")
	}
	return res, nil
}

func (s *MarketCap) plan(tx *ledger.Tx, e *poolEntry) (mcapPlan, error) {
	now := tx.Now()
	data, err := s.marketData(tx.Context(), e.pool.Assets())
	if err != nil {
		return mcapPlan{}, err
	}
	tx.Gas().Reads(3 * len(data))

	secs := int64(e.period / time.Second)
	deltas := make([]sdkmath.LegacyDec, len(data))
	snaps := make([]types.AssetSnapshot, len(data))
	for i, d := range data {
		snap, err := e.pool.AssetSnapshot(d.Asset, now)
		if err != nil {
			return mcapPlan{}, err
		}
		snaps[i] = snap
		deltas[i] = utils.AbsDiff(d.Weight, snap.EffectiveWeight)
		if deltas[i].QuoInt64(secs).LTE(snap.MaxWeightPerSecond) {
			continue
		}
		if s.RatePolicy() == RateFail || !snap.MaxWeightPerSecond.IsPositive() {
			return mcapPlan{}, fmt.Errorf("%w: %s moves %s in %ds, max %s/s",
				ErrRateLimit, d.Asset.Hex(), deltas[i], secs, snap.MaxWeightPerSecond)
		}
		need := deltas[i].Quo(snap.MaxWeightPerSecond).Ceil().TruncateInt64()
		for deltas[i].QuoInt64(need).GT(snap.MaxWeightPerSecond) {
			need++
		}
		if need > secs {
			secs = need
		}
	}

	for i, d := range data {
		if deltas[i].QuoInt64(secs).LT(snaps[i].MinWeightPerSecond) {
			return mcapPlan{}, fmt.Errorf("%w: %s moves %s in %ds, min %s/s",
				ErrRateLimit, d.Asset.Hex(), deltas[i], secs, snaps[i].MinWeightPerSecond)
		}
	}

	window := time.Duration(secs) * time.Second
	targets := make([]types.WeightTarget, len(data))
	for i, d := range data {
		targets[i] = types.WeightTarget{Asset: d.Asset, Target: d.Weight, From: now, To: now.Add(window)}
	}
	return mcapPlan{entry: e, data: data, targets: targets, window: window}, nil
}
