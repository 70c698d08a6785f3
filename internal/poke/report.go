package poke

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/cooldown"
	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/strategy"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	ErrReportWindow = errs.New(errs.Window, "REPORT_WINDOW", "report is outside the client's report window")
	ErrNotOverdue   = errs.New(errs.Window, "NOT_OVERDUE", "the designated reporter is not late yet")
	ErrNothingPoked = errs.New(errs.Window, "NOTHING_POKED", "no pool was due")
	ErrGasPrice     = errs.New(errs.Bound, "GAS_PRICE_TOO_HIGH", "gas price exceeds the client maximum")
	ErrNoCredit     = errs.New(errs.Exhaustion, "NO_CREDIT", "client has no credit left")
	ErrRateUnknown  = errs.New(errs.External, "RATE_UNAVAILABLE", "native to incentive rate unavailable")
)

// RewardOptions choose how a report is paid.
type RewardOptions struct {
	// To receives the reward directly when set; otherwise it accrues to the reporter.
	To                 common.Address `json:"to"`
	CompensateInNative bool           `json:"compensate_in_native"`
	// PlanID selects the bonus plan; zero means the client's default plan.
	PlanID uint64 `json:"plan_id"`
}

// Compensation breaks down what a report is paid. Amounts are incentive-token base units unless noted.
type Compensation struct {
	GasUsed       uint64            `json:"gas_used"`
	FixedGas      uint64            `json:"fixed_gas"`
	GasPrice      sdkmath.Int       `json:"gas_price"` // Native base units per gas
	Rate          sdkmath.LegacyDec `json:"rate"`      // Incentive units per native unit
	Reimbursement sdkmath.Int       `json:"reimbursement"`
	Bonus         sdkmath.Int       `json:"bonus"`
	Total         sdkmath.Int       `json:"total"` // Reimbursement + Bonus, capped by the credit
	Capped        bool              `json:"capped"`
	Paid          sdk.Coin          `json:"paid"` // In the incentive or the native denom
	Messages      int               `json:"messages"`
	Missed        bool              `json:"missed"`
}

// Report is the outcome of an accepted report.
type Report struct {
	Client       common.Address      `json:"client"`
	ReporterID   uint64              `json:"reporter_id"`
	Slashed      sdkmath.Int         `json:"slashed,omitempty"`
	Compensation Compensation        `json:"compensation"`
	Poke         strategy.PokeResult `json:"poke"`
}

// PokeFromReporter lets the designated reporter poke client and be compensated out of its credit.
func (l *Layer) PokeFromReporter(tx *ledger.Tx, addr common.Address, reporterID uint64, opts RewardOptions) (Report, error) {
	gasStart := tx.Gas().Used()
	l.mu.Lock()
	defer l.mu.Unlock()

	c, r, err := l.admitReporter(tx, addr, reporterID)
	if err != nil {
		return Report{}, err
	}
	if id, _ := l.designated(c); id != r.id {
		return Report{}, fmt.Errorf("%w: reporter %d, designated %d", ErrNotDesignated, r.id, id)
	}

	missed := false
	state := c.window.At(c.lastReport, tx.Now())
	switch state.Phase {
	case cooldown.Cooling:
		return Report{}, fmt.Errorf("%w: opens in %s", ErrReportWindow, state.Remaining(tx.Now()))
	case cooldown.Overdue:
		if l.latePolicy == LatePolicyReject {
			return Report{}, fmt.Errorf("%w: closed at %s", ErrReportWindow, state.DueAt.Format(time.RFC3339))
		}
		missed = true
	}

	rate, err := l.preflight(tx, c, opts)
	if err != nil {
		return Report{}, err
	}
	report, err := l.settle(tx, addr, c, r, opts, rate, gasStart, missed)
	if err != nil {
		return Report{}, err
	}
	l.emitCompensated(tx, report, opts)
	return report, nil
}

// PokeFromSlasher lets a bonded reporter other than the designated one poke an overdue client. The designated
// reporter loses the slasher and protocol shares of its deposit before the slasher is compensated as usual.
func (l *Layer) PokeFromSlasher(tx *ledger.Tx, addr common.Address, slasherID uint64, opts RewardOptions) (Report, error) {
	gasStart := tx.Gas().Used()
	l.mu.Lock()
	defer l.mu.Unlock()

	c, slasher, err := l.admitReporter(tx, addr, slasherID)
	if err != nil {
		return Report{}, err
	}
	designatedID, _ := l.designated(c)
	if designatedID == slasher.id {
		return Report{}, fmt.Errorf("%w: reporter %d", ErrDesignatedSlasher, slasher.id)
	}
	state := c.window.At(c.lastReport, tx.Now())
	if state.Phase != cooldown.Overdue {
		return Report{}, fmt.Errorf("%w: phase %s", ErrNotOverdue, state.Phase)
	}

	// Validate the payout before touching any deposit so a failed report slashes nothing.
	rate, err := l.preflight(tx, c, opts)
	if err != nil {
		return Report{}, err
	}

	designated := l.reporters[designatedID]
	slasherShare := designated.deposit.MulRaw(int64(l.slasherPct)).QuoRaw(100)
	protocolShare := designated.deposit.MulRaw(int64(l.protocolPct)).QuoRaw(100)
	slashed := slasherShare.Add(protocolShare)

	report, err := l.settle(tx, addr, c, slasher, opts, rate, gasStart, true)
	if err != nil {
		return Report{}, err
	}

	designated.deposit = designated.deposit.Sub(slashed)
	slasher.deposit = slasher.deposit.Add(slasherShare)
	if protocolShare.IsPositive() {
		l.reserve = l.reserve.Add(sdk.NewCoin(l.defaults.IncentiveDenom, protocolShare))
	}
	tx.Gas().Writes(3)
	report.Slashed = slashed

	tx.Emit(events.New(events.KindReporterSlashed, l.address).
		With("client", addr.Hex()).
		With("slasher", strconv.FormatUint(slasher.id, 10)).
		With("reporter", strconv.FormatUint(designated.id, 10)).
		With("slasher_reward", slasherShare.String()).
		With("protocol_reward", protocolShare.String()))
	l.emitCompensated(tx, report, opts)
	if l.observer != nil {
		l.observer.ObserveSlash(addr, slashed)
	}
	pokeLogger.Warn().
		Str("client", addr.Hex()).
		Uint64("slasher", slasher.id).
		Uint64("reporter", designated.id).
		Str("slashed", slashed.String()).
		Msg("Designated reporter slashed")
	return report, nil
}

// admitReporter runs the checks shared by both report paths.
func (l *Layer) admitReporter(tx *ledger.Tx, addr common.Address, id uint64) (*client, *reporter, error) {
	c, err := l.client(addr)
	if err != nil {
		return nil, nil, err
	}
	r, err := l.reporter(id)
	if err != nil {
		return nil, nil, err
	}
	tx.Gas().Reads(6)
	if tx.Sender() != r.poker {
		return nil, nil, fmt.Errorf("%w: %s for reporter %d", ErrNotPoker, tx.Sender().Hex(), id)
	}
	if !l.bonded(c, r) {
		return nil, nil, fmt.Errorf("%w: reporter %d has %s, needs %s", ErrNotBonded, id, r.deposit, c.minimalDeposit)
	}
	if !c.active {
		return nil, nil, fmt.Errorf("%w: %s", ErrClientInactive, addr.Hex())
	}
	return c, r, nil
}

// preflight runs every payout check that does not depend on the gas the poke uses and resolves the rate.
// Once it passes, nothing after the client's poke can fail, so a rejected report never leaves a poke behind.
func (l *Layer) preflight(tx *ledger.Tx, c *client, opts RewardOptions) (sdkmath.LegacyDec, error) {
	if limit := c.maxGasPrice(); tx.GasPrice().GT(limit) {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s > %s", ErrGasPrice, tx.GasPrice(), limit)
	}
	if !c.credit.IsPositive() {
		return sdkmath.LegacyDec{}, ErrNoCredit
	}
	rate, err := l.rate(tx.Context())
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	if opts.CompensateInNative {
		if err := nativePayoutFits(c, rate); err != nil {
			return sdkmath.LegacyDec{}, err
		}
	}
	return rate, nil
}

// settle pokes the client as the layer, then pays r out of the client's credit at rate.
func (l *Layer) settle(tx *ledger.Tx, addr common.Address, c *client, r *reporter, opts RewardOptions, rate sdkmath.LegacyDec, gasStart uint64, missed bool) (Report, error) {
	var res strategy.PokeResult
	err := tx.Call(l.address, func() error {
		var err error
		res, err = c.strategy.Poke(tx, nil)
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("poke %s: %w", addr.Hex(), err)
	}
	if res.Messages() == 0 {
		return Report{}, fmt.Errorf("%w: %d pools cooling", ErrNothingPoked, len(res.Skipped))
	}

	gasUsed := tx.Gas().Used() - gasStart + ledger.GasIntrinsic
	comp := l.price(c, gasUsed, tx.GasPrice(), res.Messages(), rate, opts)
	comp.Missed = missed

	c.credit = c.credit.Sub(comp.Total)
	c.lastReport = tx.Now()
	c.lastReporter = r.id
	if opts.To != (common.Address{}) {
		l.payouts[opts.To] = l.payouts[opts.To].Add(comp.Paid)
	} else {
		r.rewards = r.rewards.Add(comp.Paid)
	}
	tx.Gas().Writes(4)

	if l.observer != nil {
		l.observer.ObserveReport(addr, comp)
		l.observer.ObserveCredit(addr, c.credit)
	}
	pokeLogger.Info().
		Str("client", addr.Hex()).
		Uint64("reporter", r.id).
		Int("pools", res.Messages()).
		Uint64("gasUsed", comp.GasUsed).
		Str("paid", comp.Paid.String()).
		Str("creditLeft", c.credit.String()).
		Msg("Report compensated")
	return Report{Client: addr, ReporterID: r.id, Compensation: comp, Poke: res}, nil
}

func (l *Layer) emitCompensated(tx *ledger.Tx, report Report, opts RewardOptions) {
	comp := report.Compensation
	tx.Emit(events.New(events.KindReporterCompensated, l.address).
		With("client", report.Client.Hex()).
		With("reporter", strconv.FormatUint(report.ReporterID, 10)).
		With("in_native", strconv.FormatBool(opts.CompensateInNative)).
		With("gas_used", strconv.FormatUint(comp.GasUsed, 10)).
		With("gas_price", comp.GasPrice.String()).
		With("amount", comp.Paid.Amount.String()).
		With("denom", comp.Paid.Denom).
		With("missed", strconv.FormatBool(comp.Missed)))
}

// CompensationQuote prices a report of messages pools that used gasUsed gas at gasPrice, without paying it.
func (l *Layer) CompensationQuote(ctx context.Context, addr common.Address, gasUsed uint64, gasPrice sdkmath.Int, messages int, opts RewardOptions) (Compensation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.client(addr)
	if err != nil {
		return Compensation{}, err
	}
	rate, err := l.rate(ctx)
	if err != nil {
		return Compensation{}, err
	}
	if opts.CompensateInNative {
		if err := nativePayoutFits(c, rate); err != nil {
			return Compensation{}, err
		}
	}
	return l.price(c, gasUsed, gasPrice, messages, rate, opts), nil
}

// rate is the number of incentive units one native unit is worth.
func (l *Layer) rate(ctx context.Context) (sdkmath.LegacyDec, error) {
	rate, err := l.rates.Rate(ctx, l.defaults.NativeDenom, l.defaults.IncentiveDenom)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %w", ErrRateUnknown, err)
	}
	if !rate.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: rate %s", ErrRateUnknown, rate)
	}
	return rate, nil
}

// nativePayoutFits checks that the whole credit converts to the native denom. A payout never exceeds the
// credit, so every later conversion fits too.
func nativePayoutFits(c *client, rate sdkmath.LegacyDec) error {
	return utils.Guard(func() error {
		_ = utils.IntToDec(c.credit).Quo(rate).TruncateInt()
		return nil
	})
}

// price breaks down what a report of messages pools that used gasUsed gas at gasPrice is paid at rate.
// Amounts beyond fixed-point range exceed any credit, so they are paid as the capped credit.
func (l *Layer) price(c *client, gasUsed uint64, gasPrice sdkmath.Int, messages int, rate sdkmath.LegacyDec, opts RewardOptions) Compensation {
	comp := Compensation{GasUsed: gasUsed, GasPrice: gasPrice, Rate: rate, Messages: messages}
	if c.useCustomCompensation {
		comp.FixedGas = c.fixed.Base + c.fixed.PerMessage*uint64(messages)
	}

	planID := opts.PlanID
	if planID == 0 {
		planID = c.defaultPlan
	}
	err := utils.Guard(func() error {
		nativeCost := sdkmath.NewIntFromUint64(gasUsed).Add(sdkmath.NewIntFromUint64(comp.FixedGas)).Mul(gasPrice)
		comp.Reimbursement = utils.MulIntTrunc(nativeCost, rate)
		comp.Bonus = sdkmath.ZeroInt()
		if plan, ok := c.plans[planID]; ok && plan.Active {
			comp.Bonus = sdkmath.NewIntFromUint64(gasUsed).
				Mul(sdkmath.NewIntFromUint64(plan.PerGasUnit)).
				Mul(sdkmath.NewIntFromUint64(plan.Numerator)).
				Quo(sdkmath.NewIntFromUint64(plan.Denominator))
		}
		comp.Total = comp.Reimbursement.Add(comp.Bonus)
		return nil
	})
	if err != nil {
		comp.Reimbursement = c.credit
		comp.Bonus = sdkmath.ZeroInt()
		comp.Total = c.credit
		comp.Capped = true
	}
	if comp.Total.GT(c.credit) {
		comp.Total = c.credit
		comp.Capped = true
	}
	if opts.CompensateInNative {
		comp.Paid = sdk.NewCoin(l.defaults.NativeDenom, utils.IntToDec(comp.Total).Quo(rate).TruncateInt())
	} else {
		comp.Paid = sdk.NewCoin(l.defaults.IncentiveDenom, comp.Total)
	}
	return comp
}
