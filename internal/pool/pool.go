/*

This file contains the weighted pool: its bound assets, their weight schedules, fee settings and the
share token. Weights are denormalized; once the pool is finalized their targets always sum to
NormalizedTotalWeight.

Every mutating method takes the ledger transaction it runs in and checks the caller through tx.Sender().

*/

package pool

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/restrictions"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

var poolLogger = logger.GetForComponent("pool")

// Protocol constants, all in 18-decimal fixed point.
var (
	One                   = sdkmath.LegacyOneDec()
	NormalizedTotalWeight = sdkmath.LegacyNewDec(50)
	MinWeight             = sdkmath.LegacyNewDecWithPrec(1, 6)
	MaxWeight             = sdkmath.LegacyNewDec(50)
	MaxTotalWeight        = sdkmath.LegacyNewDec(50)
	MinFee                = sdkmath.LegacyNewDecWithPrec(1, 6)
	MaxFee                = sdkmath.LegacyNewDecWithPrec(1, 1)
	MaxCommunityFee       = sdkmath.LegacyNewDecWithPrec(1, 1)
	MaxInRatio            = sdkmath.LegacyNewDecWithPrec(5, 1)
	MaxOutRatio           = sdkmath.LegacyOneDec().QuoInt64(3).Add(sdkmath.LegacyNewDecWithPrec(1, 18))

	MinBalance     = sdkmath.NewInt(1_000_000)
	InitPoolSupply = sdkmath.NewIntWithDecimal(100, 18)
)

const (
	MinBoundTokens = 2
	MaxBoundTokens = 8
)

// Config describes a pool at construction.
type Config struct {
	Address              common.Address
	Name                 string
	Symbol               string
	SwapFee              sdkmath.LegacyDec
	CommunitySwapFee     sdkmath.LegacyDec
	CommunityJoinFee     sdkmath.LegacyDec
	CommunityExitFee     sdkmath.LegacyDec
	CommunityFeeReceiver common.Address
	// Rate bounds applied to newly bound assets.
	MinWeightPerSecond sdkmath.LegacyDec
	MaxWeightPerSecond sdkmath.LegacyDec
}

type record struct {
	index              int
	balance            sdkmath.Int
	currentWeight      sdkmath.LegacyDec
	targetWeight       sdkmath.LegacyDec
	scheduleStart      time.Time
	scheduleEnd        time.Time
	minWeightPerSecond sdkmath.LegacyDec
	maxWeightPerSecond sdkmath.LegacyDec
}

type fees struct {
	swap          sdkmath.LegacyDec
	communitySwap sdkmath.LegacyDec
	communityJoin sdkmath.LegacyDec
	communityExit sdkmath.LegacyDec
	receiver      common.Address
}

// Pool is a Balancer-style weighted pool with time-interpolated weights.
type Pool struct {
	address    common.Address
	name       string
	symbol     string
	controller common.Address
	finalized  bool

	assets  []common.Address
	records map[common.Address]*record

	fees         fees
	defaultMinWP sdkmath.LegacyDec
	defaultMaxWP sdkmath.LegacyDec
	restrictions restrictions.Policy

	shares *shareToken
	// receiver -> asset -> accrued community swap fees
	accrued map[common.Address]map[common.Address]sdkmath.Int
}

// New creates an unfinalized pool controlled by the transaction sender.
func New(tx *ledger.Tx, cfg Config) (*Pool, error) {
	if cfg.SwapFee.IsNil() {
		cfg.SwapFee = MinFee
	}
	for _, d := range []*sdkmath.LegacyDec{&cfg.CommunitySwapFee, &cfg.CommunityJoinFee, &cfg.CommunityExitFee, &cfg.MinWeightPerSecond} {
		if d.IsNil() {
			*d = sdkmath.LegacyZeroDec()
		}
	}
	if cfg.MaxWeightPerSecond.IsNil() {
		cfg.MaxWeightPerSecond = MaxWeight
	}
	if err := validateSwapFee(cfg.SwapFee); err != nil {
		return nil, err
	}
	if err := validateCommunityFees(cfg.CommunitySwapFee, cfg.CommunityJoinFee, cfg.CommunityExitFee, cfg.CommunityFeeReceiver); err != nil {
		return nil, err
	}
	if err := validateRateBounds(cfg.MinWeightPerSecond, cfg.MaxWeightPerSecond); err != nil {
		return nil, err
	}

	p := &Pool{
		address:    cfg.Address,
		name:       cfg.Name,
		symbol:     cfg.Symbol,
		controller: tx.Sender(),
		records:    make(map[common.Address]*record),
		fees: fees{
			swap:          cfg.SwapFee,
			communitySwap: cfg.CommunitySwapFee,
			communityJoin: cfg.CommunityJoinFee,
			communityExit: cfg.CommunityExitFee,
			receiver:      cfg.CommunityFeeReceiver,
		},
		defaultMinWP: cfg.MinWeightPerSecond,
		defaultMaxWP: cfg.MaxWeightPerSecond,
		shares:       newShareToken(),
		accrued:      make(map[common.Address]map[common.Address]sdkmath.Int),
	}
	tx.Gas().Consume(ledger.GasStorageCreate * 4)
	tx.Emit(events.New(events.KindPoolCreated, p.address).
		With("controller", p.controller.Hex()).
		With("name", p.name).
		With("symbol", p.symbol))

	poolLogger.Debug().Str("pool", p.address.Hex()).Str("symbol", p.symbol).Msg("Pool created")
	return p, nil
}

// Address is the pool token address.
func (p *Pool) Address() common.Address { return p.address }

// Name is the pool token name.
func (p *Pool) Name() string { return p.name }

// Symbol is the pool token symbol.
func (p *Pool) Symbol() string { return p.symbol }

// Controller is the only address allowed to administer the pool.
func (p *Pool) Controller() common.Address { return p.controller }

// IsFinalized reports whether the pool is open for trading and joins.
func (p *Pool) IsFinalized() bool { return p.finalized }

// Assets returns the bound assets in bind order.
func (p *Pool) Assets() []common.Address {
	out := make([]common.Address, len(p.assets))
	copy(out, p.assets)
	return out
}

// IsBound reports whether asset is held by the pool.
func (p *Pool) IsBound(asset common.Address) bool {
	_, ok := p.records[asset]
	return ok
}

// Balance returns the pool's balance of asset.
func (p *Pool) Balance(asset common.Address) (sdkmath.Int, error) {
	r, err := p.record(asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return r.balance, nil
}

// SwapFee is the fee charged on the input of every swap.
func (p *Pool) SwapFee() sdkmath.LegacyDec { return p.fees.swap }

// CommunityFees returns the community swap, join and exit fees and their receiver.
func (p *Pool) CommunityFees() (swap, join, exit sdkmath.LegacyDec, receiver common.Address) {
	return p.fees.communitySwap, p.fees.communityJoin, p.fees.communityExit, p.fees.receiver
}

// AccruedFees returns the community swap fees accrued to receiver in asset.
func (p *Pool) AccruedFees(receiver, asset common.Address) sdkmath.Int {
	if byAsset, ok := p.accrued[receiver]; ok {
		if amount, ok := byAsset[asset]; ok {
			return amount
		}
	}
	return sdkmath.ZeroInt()
}

func (p *Pool) record(asset common.Address) (*record, error) {
	r, ok := p.records[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, asset.Hex())
	}
	return r, nil
}

func (p *Pool) onlyController(tx *ledger.Tx) error {
	if tx.Sender() != p.controller {
		return fmt.Errorf("%w: %s", ErrNotController, tx.Sender().Hex())
	}
	return nil
}

// AssetSnapshot returns one asset's record evaluated at at.
func (p *Pool) AssetSnapshot(asset common.Address, at time.Time) (types.AssetSnapshot, error) {
	r, err := p.record(asset)
	if err != nil {
		return types.AssetSnapshot{}, err
	}
	return types.AssetSnapshot{
		Asset:              asset,
		Balance:            r.balance,
		EffectiveWeight:    r.effectiveWeight(at),
		CurrentWeight:      r.currentWeight,
		TargetWeight:       r.targetWeight,
		ScheduleStart:      r.scheduleStart,
		ScheduleEnd:        r.scheduleEnd,
		MinWeightPerSecond: r.minWeightPerSecond,
		MaxWeightPerSecond: r.maxWeightPerSecond,
	}, nil
}

// Snapshot returns the whole pool evaluated at at.
func (p *Pool) Snapshot(at time.Time) types.PoolSnapshot {
	s := types.PoolSnapshot{
		Address:          p.address,
		Name:             p.name,
		Symbol:           p.symbol,
		Controller:       p.controller,
		Finalized:        p.finalized,
		At:               at,
		SwapFee:          p.fees.swap,
		CommunitySwapFee: p.fees.communitySwap,
		CommunityJoinFee: p.fees.communityJoin,
		CommunityExitFee: p.fees.communityExit,
		FeeReceiver:      p.fees.receiver,
		TotalSupply:      p.shares.totalSupply,
		TotalWeight:      p.TotalEffectiveWeight(at),
	}
	for _, a := range p.assets {
		as, _ := p.AssetSnapshot(a, at)
		s.Assets = append(s.Assets, as)
	}
	return s
}

func validateSwapFee(fee sdkmath.LegacyDec) error {
	if fee.LT(MinFee) || fee.GT(MaxFee) {
		return fmt.Errorf("%w: swap fee %s", ErrFee, fee)
	}
	return nil
}

func validateCommunityFees(swap, join, exit sdkmath.LegacyDec, receiver common.Address) error {
	for _, f := range []sdkmath.LegacyDec{swap, join, exit} {
		if f.IsNegative() || f.GT(MaxCommunityFee) {
			return fmt.Errorf("%w: community fee %s", ErrFee, f)
		}
	}
	if (swap.IsPositive() || join.IsPositive() || exit.IsPositive()) && receiver == (common.Address{}) {
		return ErrZeroReceiver
	}
	return nil
}

func validateRateBounds(min, max sdkmath.LegacyDec) error {
	if min.IsNegative() || max.LT(min) {
		return fmt.Errorf("%w: [%s, %s]", ErrRateBounds, min, max)
	}
	return nil
}
