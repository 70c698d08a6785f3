package pool

import (
	"fmt"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

// effectiveWeight interpolates linearly between (start, current) and (end, target), clamping t to the window.
func (r *record) effectiveWeight(t time.Time) sdkmath.LegacyDec {
	if !t.After(r.scheduleStart) {
		return r.currentWeight
	}
	if !t.Before(r.scheduleEnd) {
		return r.targetWeight
	}
	elapsed := int64(t.Sub(r.scheduleStart) / time.Second)
	total := int64(r.scheduleEnd.Sub(r.scheduleStart) / time.Second)
	if total <= 0 {
		return r.targetWeight
	}
	delta := r.targetWeight.Sub(r.currentWeight)
	return r.currentWeight.Add(delta.MulInt64(elapsed).QuoInt64(total))
}

// EffectiveWeight returns the weight of asset at instant at.
func (p *Pool) EffectiveWeight(asset common.Address, at time.Time) (sdkmath.LegacyDec, error) {
	r, err := p.record(asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return r.effectiveWeight(at), nil
}

// TotalEffectiveWeight sums the effective weights at at.
func (p *Pool) TotalEffectiveWeight(at time.Time) sdkmath.LegacyDec {
	total := sdkmath.LegacyZeroDec()
	for _, a := range p.assets {
		total = total.Add(p.records[a].effectiveWeight(at))
	}
	return total
}

// TotalTargetWeight sums the schedule targets.
func (p *Pool) TotalTargetWeight() sdkmath.LegacyDec {
	total := sdkmath.LegacyZeroDec()
	for _, a := range p.assets {
		total = total.Add(p.records[a].targetWeight)
	}
	return total
}

// ScheduleRate is the per-second change needed to move from the weight in effect now to target over [from, to].
func (p *Pool) ScheduleRate(asset common.Address, target sdkmath.LegacyDec, now, from, to time.Time) (sdkmath.LegacyDec, error) {
	r, err := p.record(asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if !from.Before(to) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: from %d, to %d", ErrScheduleWindow, from.Unix(), to.Unix())
	}
	seconds := int64(to.Sub(from) / time.Second)
	if seconds <= 0 {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: window shorter than one second", ErrScheduleWindow)
	}
	return utils.AbsDiff(target, r.effectiveWeight(now)).QuoInt64(seconds), nil
}

// ValidateWeightSchedule runs every check SetWeightSchedule runs without writing anything.
func (p *Pool) ValidateWeightSchedule(tx *ledger.Tx, asset common.Address, target sdkmath.LegacyDec, from, to time.Time) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	r, err := p.record(asset)
	if err != nil {
		return err
	}
	if err := p.checkSchedule(r, asset, target, tx.Now(), from, to); err != nil {
		return err
	}
	totalTarget := p.TotalTargetWeight().Sub(r.targetWeight).Add(target)
	if totalTarget.GT(MaxTotalWeight) {
		return fmt.Errorf("%w: %s", ErrMaxTotalWeight, totalTarget)
	}
	return nil
}

func (p *Pool) checkSchedule(r *record, asset common.Address, target sdkmath.LegacyDec, now, from, to time.Time) error {
	if from.Before(now) {
		return fmt.Errorf("%w: from %d, now %d", ErrScheduleInPast, from.Unix(), now.Unix())
	}
	if target.LT(MinWeight) {
		return fmt.Errorf("%w: %s", ErrMinWeight, target)
	}
	if target.GT(MaxWeight) {
		return fmt.Errorf("%w: %s", ErrMaxWeight, target)
	}
	rate, err := p.ScheduleRate(asset, target, now, from, to)
	if err != nil {
		return err
	}
	if rate.GT(r.maxWeightPerSecond) {
		return fmt.Errorf("%w: asset %s rate %s > %s", ErrRateTooHigh, asset.Hex(), rate, r.maxWeightPerSecond)
	}
	if rate.LT(r.minWeightPerSecond) {
		return fmt.Errorf("%w: asset %s rate %s < %s", ErrRateTooLow, asset.Hex(), rate, r.minWeightPerSecond)
	}
	return nil
}

// SetWeightSchedule starts a linear transition of asset's weight toward target over [from, to].
// The transition starts from the weight in effect now, so weights never jump.
func (p *Pool) SetWeightSchedule(tx *ledger.Tx, asset common.Address, target sdkmath.LegacyDec, from, to time.Time) error {
	if err := p.ValidateWeightSchedule(tx, asset, target, from, to); err != nil {
		return err
	}
	p.writeSchedule(tx, asset, target, from, to)
	return nil
}

// SetWeightSchedules applies a batch of transitions all-or-nothing. Each entry gets the single-asset
// checks; the total weight is checked once against the batch outcome.
func (p *Pool) SetWeightSchedules(tx *ledger.Tx, targets []types.WeightTarget) error {
	if err := p.ValidateWeightSchedules(tx, targets); err != nil {
		return err
	}
	for _, wt := range targets {
		p.writeSchedule(tx, wt.Asset, wt.Target, wt.From, wt.To)
	}
	return nil
}

// ValidateWeightSchedules runs every check SetWeightSchedules runs without writing anything.
func (p *Pool) ValidateWeightSchedules(tx *ledger.Tx, targets []types.WeightTarget) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	now := tx.Now()
	seen := make(map[common.Address]bool, len(targets))
	total := p.TotalTargetWeight()
	for _, wt := range targets {
		r, err := p.record(wt.Asset)
		if err != nil {
			return err
		}
		if seen[wt.Asset] {
			return fmt.Errorf("%w: %s", ErrDuplicateAsset, wt.Asset.Hex())
		}
		seen[wt.Asset] = true
		if err := p.checkSchedule(r, wt.Asset, wt.Target, now, wt.From, wt.To); err != nil {
			return err
		}
		total = total.Sub(r.targetWeight).Add(wt.Target)
	}
	if total.GT(MaxTotalWeight) {
		return fmt.Errorf("%w: %s", ErrMaxTotalWeight, total)
	}
	return nil
}

func (p *Pool) writeSchedule(tx *ledger.Tx, asset common.Address, target sdkmath.LegacyDec, from, to time.Time) {
	r := p.records[asset]
	startWeight := r.effectiveWeight(tx.Now())

	r.currentWeight = startWeight
	r.targetWeight = target
	r.scheduleStart = from
	r.scheduleEnd = to
	tx.Gas().Reads(4)
	tx.Gas().Writes(4)

	tx.Emit(events.New(events.KindWeightScheduleUpdated, p.address).
		With("asset", asset.Hex()).
		With("from_weight", startWeight.String()).
		With("target_weight", target.String()).
		With("from", strconv.FormatInt(from.Unix(), 10)).
		With("to", strconv.FormatInt(to.Unix(), 10)))
}

// SetWeightPerSecondBounds sets the per-second rate limits of asset.
func (p *Pool) SetWeightPerSecondBounds(tx *ledger.Tx, asset common.Address, min, max sdkmath.LegacyDec) error {
	if err := p.onlyController(tx); err != nil {
		return err
	}
	r, err := p.record(asset)
	if err != nil {
		return err
	}
	if err := validateRateBounds(min, max); err != nil {
		return err
	}
	r.minWeightPerSecond = min
	r.maxWeightPerSecond = max
	tx.Gas().Writes(2)
	return nil
}
