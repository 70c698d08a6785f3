package pool

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/restrictions"
)

// Bind adds asset with an initial balance and a fixed weight. Only before finalization.
func (p *Pool) Bind(tx *ledger.Tx, asset common.Address, balance sdkmath.Int, weight sdkmath.LegacyDec) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if p.finalized {
		return ErrIsFinalized
	}
	if p.IsBound(asset) {
		return fmt.Errorf("%w: %s", ErrIsBound, asset.Hex())
	}
	if len(p.assets) >= MaxBoundTokens {
		return ErrMaxTokens
	}
	if err := p.checkBindValues(sdkmath.LegacyZeroDec(), balance, weight); err != nil {
		return err
	}

	now := tx.Now()
	p.records[asset] = &record{
		index:              len(p.assets),
		balance:            balance,
		currentWeight:      weight,
		targetWeight:       weight,
		scheduleStart:      now,
		scheduleEnd:        now,
		minWeightPerSecond: p.defaultMinWP,
		maxWeightPerSecond: p.defaultMaxWP,
	}
	p.assets = append(p.assets, asset)
	tx.Gas().Consume(ledger.GasStorageCreate * 6)
	return nil
}

// Rebind rewrites the balance and weight of a bound asset. Only before finalization.
func (p *Pool) Rebind(tx *ledger.Tx, asset common.Address, balance sdkmath.Int, weight sdkmath.LegacyDec) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if p.finalized {
		return ErrIsFinalized
	}
	r, err := p.record(asset)
	if err != nil {
		return err
	}
	if err := p.checkBindValues(r.targetWeight, balance, weight); err != nil {
		return err
	}
	now := tx.Now()
	r.balance = balance
	r.currentWeight = weight
	r.targetWeight = weight
	r.scheduleStart = now
	r.scheduleEnd = now
	tx.Gas().Writes(5)
	return nil
}

// SetWeight sets a bound asset's weight without rate limits. Only before finalization.
func (p *Pool) SetWeight(tx *ledger.Tx, asset common.Address, weight sdkmath.LegacyDec) error {
	r, err := p.record(asset)
	if err != nil {
		return err
	}
	return p.Rebind(tx, asset, r.balance, weight)
}

// Unbind removes an asset. Only before finalization; a finalized pool never loses an asset.
func (p *Pool) Unbind(tx *ledger.Tx, asset common.Address) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if p.finalized {
		return ErrIsFinalized
	}
	r, err := p.record(asset)
	if err != nil {
		return err
	}
	last := len(p.assets) - 1
	moved := p.assets[last]
	p.assets[r.index] = moved
	p.records[moved].index = r.index
	p.assets = p.assets[:last]
	delete(p.records, asset)
	tx.Gas().Writes(3)
	return nil
}

func (p *Pool) checkBindValues(oldWeight sdkmath.LegacyDec, balance sdkmath.Int, weight sdkmath.LegacyDec) error {
	if weight.LT(MinWeight) {
		return fmt.Errorf("%w: %s", ErrMinWeight, weight)
	}
	if weight.GT(MaxWeight) {
		return fmt.Errorf("%w: %s", ErrMaxWeight, weight)
	}
	if balance.LT(MinBalance) {
		return fmt.Errorf("%w: %s", ErrMinBalance, balance)
	}
	total := p.TotalTargetWeight().Sub(oldWeight).Add(weight)
	if total.GT(MaxTotalWeight) {
		return fmt.Errorf("%w: %s", ErrMaxTotalWeight, total)
	}
	return nil
}

// Finalize opens the pool for trading and mints the initial share supply to the controller.
// The bound weights must sum to NormalizedTotalWeight.
func (p *Pool) Finalize(tx *ledger.Tx) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if p.finalized {
		return ErrIsFinalized
	}
	if len(p.assets) < MinBoundTokens {
		return ErrMinTokens
	}
	if total := p.TotalTargetWeight(); !total.Equal(NormalizedTotalWeight) {
		return fmt.Errorf("%w: %s != %s", ErrTotalWeight, total, NormalizedTotalWeight)
	}
	if err := p.checkMaxTotalSupply(InitPoolSupply); err != nil {
		return err
	}
	p.finalized = true
	p.shares.mint(p.controller, InitPoolSupply)
	tx.Gas().Writes(3)
	poolLogger.Info().Str("pool", p.address.Hex()).Int("assets", len(p.assets)).Msg("Pool finalized")
	return nil
}

// RebindByController rewrites a bound asset's balance, keeping its weight schedule. Used by instant rebinds.
func (p *Pool) RebindByController(tx *ledger.Tx, asset common.Address, balance sdkmath.Int) error {
	if err := p.ValidateRebind(tx, asset, balance); err != nil {
		return err
	}
	p.records[asset].balance = balance
	tx.Gas().Writes(1)
	return nil
}

// ValidateRebind runs every check RebindByController runs without writing anything.
func (p *Pool) ValidateRebind(tx *ledger.Tx, asset common.Address, balance sdkmath.Int) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if _, err := p.record(asset); err != nil {
		return err
	}
	if balance.LT(MinBalance) {
		return fmt.Errorf("%w: %s", ErrMinBalance, balance)
	}
	return nil
}

// SetSwapFee updates the swap fee.
func (p *Pool) SetSwapFee(tx *ledger.Tx, fee sdkmath.LegacyDec) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if err := validateSwapFee(fee); err != nil {
		return err
	}
	p.fees.swap = fee
	tx.Gas().Writes(1)
	return nil
}

// SetCommunityFeesAndReceiver updates the community fees and the address they accrue to.
func (p *Pool) SetCommunityFeesAndReceiver(tx *ledger.Tx, swap, join, exit sdkmath.LegacyDec, receiver common.Address) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if err := validateCommunityFees(swap, join, exit, receiver); err != nil {
		return err
	}
	p.fees.communitySwap = swap
	p.fees.communityJoin = join
	p.fees.communityExit = exit
	p.fees.receiver = receiver
	tx.Gas().Writes(4)
	return nil
}

// SetRestrictions installs the restriction policy. A nil policy removes it.
func (p *Pool) SetRestrictions(tx *ledger.Tx, policy restrictions.Policy) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	p.restrictions = policy
	tx.Gas().Writes(1)
	return nil
}

// SetController hands the pool to another controller.
func (p *Pool) SetController(tx *ledger.Tx, controller common.Address) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	p.controller = controller
	tx.Gas().Writes(1)
	return nil
}

// CallVoting lets the controller reach an allowed governance contract on the pool's behalf.
func (p *Pool) CallVoting(tx *ledger.Tx, target common.Address, call func() error) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	if p.restrictions == nil {
		return ErrNoRestrictions
	}
	if !p.restrictions.IsVotingAllowed(target) {
		return fmt.Errorf("%w: %s", ErrVotingDenied, target.Hex())
	}
	return tx.Call(p.address, call)
}
