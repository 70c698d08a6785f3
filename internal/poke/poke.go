/*

Package poke is the keeper incentive layer. Strategies register as clients; bonded reporters poke them on a
bounded schedule and are compensated for gas out of the client's credit. A designated reporter that misses
its window can be slashed by any other bonded reporter.

*/

package poke

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/powerpool/powerindex-keeper/internal/cooldown"
	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/oracle"
	"github.com/powerpool/powerindex-keeper/internal/strategy"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

var pokeLogger = logger.GetForComponent("poke")

var (
	ErrNotOwner           = errs.New(errs.Admission, "NOT_OWNER", "caller is not the incentive layer owner")
	ErrNotClientAdmin     = errs.New(errs.Admission, "NOT_CLIENT_ADMIN", "caller is not the client admin")
	ErrUnknownClient      = errs.New(errs.Admission, "UNKNOWN_CLIENT", "client is not registered")
	ErrClientExists       = errs.New(errs.Admission, "CLIENT_EXISTS", "client is already registered")
	ErrClientInactive     = errs.New(errs.Admission, "CLIENT_INACTIVE", "client is not active")
	ErrBadIntervals       = errs.New(errs.Bound, "BAD_REPORT_INTERVALS", "minimum report interval must be below the maximum")
	ErrBadBonusPlan       = errs.New(errs.Bound, "BAD_BONUS_PLAN", "bonus plan denominator must be positive")
	ErrBadPercentages     = errs.New(errs.Bound, "BAD_PERCENTAGES", "slashing percentages exceed 100")
	ErrBadAmount          = errs.New(errs.Bound, "BAD_AMOUNT", "amount must be positive")
	ErrBadDenom           = errs.New(errs.Bound, "BAD_DENOM", "invalid denomination")
	ErrBadLatePolicy      = errs.New(errs.Bound, "BAD_LATE_POLICY", "unknown late report policy")
	ErrInsufficientCredit = errs.New(errs.Exhaustion, "INSUFFICIENT_CREDIT", "client credit is too low")
)

// LatePolicy decides what happens to a designated reporter's report that arrives after the maximum interval.
type LatePolicy string

const (
	// LatePolicyReject refuses the late report; only the slashing path can report.
	LatePolicyReject LatePolicy = "reject"
	// LatePolicyFlag accepts it and marks it missed.
	LatePolicyFlag LatePolicy = "flag"
)

// ParseLatePolicy accepts "reject" or "flag".
func ParseLatePolicy(s string) (LatePolicy, error) {
	switch LatePolicy(s) {
	case LatePolicyReject, LatePolicyFlag:
		return LatePolicy(s), nil
	case "":
		return LatePolicyFlag, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadLatePolicy, s)
	}
}

// BonusPlan pays PerGasUnit * Numerator / Denominator incentive units per gas unit on top of reimbursement.
type BonusPlan struct {
	Active      bool   `json:"active"`
	Numerator   uint64 `json:"numerator"`
	Denominator uint64 `json:"denominator"`
	PerGasUnit  uint64 `json:"per_gas_unit"`
}

// FixedCompensation is gas added to the metered amount for clients using custom compensation.
type FixedCompensation struct {
	Base       uint64 `json:"base"`
	PerMessage uint64 `json:"per_message"`
}

// Observer is told about every settled report, e.g. to export metrics.
type Observer interface {
	ObserveReport(client common.Address, c Compensation)
	ObserveSlash(client common.Address, slashed sdkmath.Int)
	ObserveCredit(client common.Address, credit sdkmath.Int)
}

type client struct {
	strategy              strategy.Strategy
	admin                 common.Address
	active                bool
	useCustomCompensation bool
	maxGasPriceGwei       uint64
	window                cooldown.Window
	minimalDeposit        sdkmath.Int
	plans                 map[uint64]BonusPlan
	defaultPlan           uint64
	fixed                 FixedCompensation
	credit                sdkmath.Int
	lastReport            time.Time
	lastReporter          uint64
}

func (c *client) maxGasPrice() sdkmath.Int {
	return sdkmath.NewIntFromUint64(c.maxGasPriceGwei).MulRaw(params.GWei)
}

// ClientInfo is the read-only view of a registered client.
type ClientInfo struct {
	Address               common.Address       `json:"address"`
	Kind                  string               `json:"kind"`
	Admin                 common.Address       `json:"admin"`
	Active                bool                 `json:"active"`
	UseCustomCompensation bool                 `json:"use_custom_compensation"`
	MaxGasPriceGwei       uint64               `json:"max_gas_price_gwei"`
	MinReportInterval     time.Duration        `json:"min_report_interval"`
	MaxReportInterval     time.Duration        `json:"max_report_interval"`
	MinimalDeposit        sdkmath.Int          `json:"minimal_deposit"`
	BonusPlans            map[uint64]BonusPlan `json:"bonus_plans"`
	Fixed                 FixedCompensation    `json:"fixed_compensation"`
	Credit                sdkmath.Int          `json:"credit"`
	LastReport            time.Time            `json:"last_report"`
	LastReporter          uint64               `json:"last_reporter"`
	Phase                 string               `json:"phase"`
	Pools                 []common.Address     `json:"pools"`
}

// Layer is the keeper incentive layer.
type Layer struct {
	mu sync.RWMutex

	address    common.Address
	owner      common.Address
	defaults   types.IncentiveParameters
	rates      oracle.RateOracle
	latePolicy LatePolicy
	observer   Observer

	slasherPct  uint64
	protocolPct uint64
	reserve     sdk.Coins

	clients        map[common.Address]*client
	clientOrder    []common.Address
	reporters      map[uint64]*reporter
	nextReporterID uint64
	payouts        map[common.Address]sdk.Coins
}

// New creates a layer whose clients start from defaults.
func New(address, owner common.Address, rates oracle.RateOracle, defaults types.IncentiveParameters) (*Layer, error) {
	for _, d := range []string{defaults.IncentiveDenom, defaults.NativeDenom} {
		if err := sdk.ValidateDenom(d); err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBadDenom, d, err)
		}
	}
	if defaults.SlasherRewardPct+defaults.ProtocolRewardPct > 100 {
		return nil, fmt.Errorf("%w: %d + %d", ErrBadPercentages, defaults.SlasherRewardPct, defaults.ProtocolRewardPct)
	}
	policy, err := ParseLatePolicy(defaults.LatePolicy)
	if err != nil {
		return nil, err
	}
	return &Layer{
		address:        address,
		owner:          owner,
		defaults:       defaults,
		rates:          rates,
		latePolicy:     policy,
		slasherPct:     defaults.SlasherRewardPct,
		protocolPct:    defaults.ProtocolRewardPct,
		reserve:        sdk.NewCoins(),
		clients:        make(map[common.Address]*client),
		reporters:      make(map[uint64]*reporter),
		nextReporterID: 1,
		payouts:        make(map[common.Address]sdk.Coins),
	}, nil
}

// Address is the layer's own address, the sender of every client poke.
func (l *Layer) Address() common.Address { return l.address }

// Owner returns the address allowed to register clients and tune slashing.
func (l *Layer) Owner() common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owner
}

// IncentiveDenom is the denom deposits and bonuses are held in.
func (l *Layer) IncentiveDenom() string { return l.defaults.IncentiveDenom }

// NativeDenom is the denom gas is priced and native payouts are made in.
func (l *Layer) NativeDenom() string { return l.defaults.NativeDenom }

// ProtocolReserve returns what slashing has collected for the protocol.
func (l *Layer) ProtocolReserve() sdk.Coins {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserve
}

// Payouts returns the rewards paid directly to addr by reports that named it as recipient.
func (l *Layer) Payouts(addr common.Address) sdk.Coins {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.payouts[addr]
}

// SetObserver installs the metrics sink. A nil observer turns reporting off.
func (l *Layer) SetObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observer = o
}

func (l *Layer) onlyOwner(tx *ledger.Tx) error {
	if tx.Sender() != l.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, tx.Sender().Hex())
	}
	return nil
}

func (l *Layer) client(addr common.Address) (*client, error) {
	c, ok := l.clients[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClient, addr.Hex())
	}
	return c, nil
}

func (l *Layer) clientAdmin(tx *ledger.Tx, addr common.Address) (*client, error) {
	c, err := l.client(addr)
	if err != nil {
		return nil, err
	}
	if tx.Sender() != c.admin {
		return nil, fmt.Errorf("%w: %s", ErrNotClientAdmin, tx.Sender().Hex())
	}
	return c, nil
}

func validateIntervals(min, max time.Duration) error {
	if min <= 0 || min >= max {
		return fmt.Errorf("%w: min %s, max %s", ErrBadIntervals, min, max)
	}
	return nil
}

// AddClient registers a strategy. The compensation settings not passed here start from the layer defaults.
func (l *Layer) AddClient(
	tx *ledger.Tx,
	s strategy.Strategy,
	admin common.Address,
	useCustomCompensation bool,
	maxGasPriceGwei uint64,
	minReportInterval, maxReportInterval time.Duration,
) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	if err := validateIntervals(minReportInterval, maxReportInterval); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients[s.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrClientExists, s.Address().Hex())
	}

	d := l.defaults
	c := &client{
		strategy:              s,
		admin:                 admin,
		active:                true,
		useCustomCompensation: useCustomCompensation,
		maxGasPriceGwei:       maxGasPriceGwei,
		window:                cooldown.Window{Min: minReportInterval, Max: maxReportInterval},
		minimalDeposit:        d.MinimalDeposit,
		plans:                 make(map[uint64]BonusPlan),
		defaultPlan:           d.BonusPlanID,
		fixed:                 FixedCompensation{Base: d.FixedBaseGas, PerMessage: d.FixedPerMessageGas},
		credit:                sdkmath.ZeroInt(),
	}
	if c.minimalDeposit.IsNil() {
		c.minimalDeposit = sdkmath.ZeroInt()
	}
	if d.BonusDenominator > 0 {
		c.plans[d.BonusPlanID] = BonusPlan{Active: true, Numerator: d.BonusNumerator, Denominator: d.BonusDenominator, PerGasUnit: d.BonusPerGas}
	}
	l.clients[s.Address()] = c
	l.clientOrder = append(l.clientOrder, s.Address())
	tx.Gas().Consume(ledger.GasStorageCreate * 8)

	pokeLogger.Info().
		Str("client", s.Address().Hex()).
		Str("kind", s.Kind()).
		Str("admin", admin.Hex()).
		Dur("minInterval", minReportInterval).
		Dur("maxInterval", maxReportInterval).
		Msg("Client registered")
	return nil
}

// Clients returns the registered clients in registration order.
func (l *Layer) Clients() []common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]common.Address(nil), l.clientOrder...)
}

// ClientInfo returns the state of a client with its report window evaluated at now.
func (l *Layer) ClientInfo(addr common.Address, now time.Time) (ClientInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.client(addr)
	if err != nil {
		return ClientInfo{}, err
	}
	plans := make(map[uint64]BonusPlan, len(c.plans))
	for id, p := range c.plans {
		plans[id] = p
	}
	return ClientInfo{
		Address:               addr,
		Kind:                  c.strategy.Kind(),
		Admin:                 c.admin,
		Active:                c.active,
		UseCustomCompensation: c.useCustomCompensation,
		MaxGasPriceGwei:       c.maxGasPriceGwei,
		MinReportInterval:     c.window.Min,
		MaxReportInterval:     c.window.Max,
		MinimalDeposit:        c.minimalDeposit,
		BonusPlans:            plans,
		Fixed:                 c.fixed,
		Credit:                c.credit,
		LastReport:            c.lastReport,
		LastReporter:          c.lastReporter,
		Phase:                 c.window.At(c.lastReport, now).Phase.String(),
		Pools:                 c.strategy.Pools(),
	}, nil
}

// Strategy returns the strategy behind a client.
func (l *Layer) Strategy(addr common.Address) (strategy.Strategy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.client(addr)
	if err != nil {
		return nil, err
	}
	return c.strategy, nil
}

// SetMinimalDeposit sets the stake a reporter needs to serve the client.
func (l *Layer) SetMinimalDeposit(tx *ledger.Tx, addr common.Address, amount sdkmath.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrBadAmount, amount)
	}
	c.minimalDeposit = amount
	tx.Gas().Writes(1)
	return nil
}

// SetBonusPlan creates or replaces a bonus plan of the client. The denominator must be non-zero.
func (l *Layer) SetBonusPlan(tx *ledger.Tx, addr common.Address, planID uint64, active bool, numerator, denominator, perGasUnit uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	if denominator == 0 {
		return ErrBadBonusPlan
	}
	c.plans[planID] = BonusPlan{Active: active, Numerator: numerator, Denominator: denominator, PerGasUnit: perGasUnit}
	tx.Gas().Writes(4)
	return nil
}

// SetFixedCompensations sets the gas added to every report, once and per poked message.
func (l *Layer) SetFixedCompensations(tx *ledger.Tx, addr common.Address, base, perMessage uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	c.fixed = FixedCompensation{Base: base, PerMessage: perMessage}
	tx.Gas().Writes(2)
	return nil
}

// SetReportIntervals sets the window between reports; past max the client may be slashed.
func (l *Layer) SetReportIntervals(tx *ledger.Tx, addr common.Address, min, max time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	if err := validateIntervals(min, max); err != nil {
		return err
	}
	c.window = cooldown.Window{Min: min, Max: max}
	tx.Gas().Writes(2)
	return nil
}

// SetMaxGasPrice caps, in gwei, the gas price a report may be sent at.
func (l *Layer) SetMaxGasPrice(tx *ledger.Tx, addr common.Address, gwei uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	c.maxGasPriceGwei = gwei
	tx.Gas().Writes(1)
	return nil
}

// SetClientActive pauses or resumes reporting for the client.
func (l *Layer) SetClientActive(tx *ledger.Tx, addr common.Address, active bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	c.active = active
	tx.Gas().Writes(1)
	return nil
}

// AddCredit funds a client's compensation budget. Anyone may fund any client.
func (l *Layer) AddCredit(tx *ledger.Tx, addr common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrBadAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.client(addr)
	if err != nil {
		return err
	}
	c.credit = c.credit.Add(amount)
	tx.Gas().Writes(1)
	l.observeCredit(addr, c)
	return nil
}

// WithdrawCredit returns unused credit to the client admin.
func (l *Layer) WithdrawCredit(tx *ledger.Tx, addr common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrBadAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, err := l.clientAdmin(tx, addr)
	if err != nil {
		return err
	}
	if amount.GT(c.credit) {
		return fmt.Errorf("%w: has %s, withdrawing %s", ErrInsufficientCredit, c.credit, amount)
	}
	c.credit = c.credit.Sub(amount)
	tx.Gas().Writes(1)
	l.observeCredit(addr, c)
	return nil
}

func (l *Layer) observeCredit(addr common.Address, c *client) {
	if l.observer != nil {
		l.observer.ObserveCredit(addr, c.credit)
	}
}

// SetSlashingPercentages sets the shares of a slashed deposit paid to the slasher and kept by the protocol.
func (l *Layer) SetSlashingPercentages(tx *ledger.Tx, slasherPct, protocolPct uint64) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	if slasherPct+protocolPct > 100 {
		return fmt.Errorf("%w: %d + %d", ErrBadPercentages, slasherPct, protocolPct)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slasherPct, l.protocolPct = slasherPct, protocolPct
	tx.Gas().Writes(2)
	return nil
}

// SetLatePolicy decides what happens to a reporter that reports past the max interval.
func (l *Layer) SetLatePolicy(tx *ledger.Tx, policy LatePolicy) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	if _, err := ParseLatePolicy(string(policy)); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latePolicy = policy
	tx.Gas().Writes(1)
	return nil
}

// SetRateOracle replaces the source of the native to incentive conversion rate.
func (l *Layer) SetRateOracle(tx *ledger.Tx, rates oracle.RateOracle) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rates = rates
	tx.Gas().Writes(1)
	return nil
}

// TransferOwnership hands the layer to newOwner.
func (l *Layer) TransferOwnership(tx *ledger.Tx, newOwner common.Address) error {
	if err := l.onlyOwner(tx); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owner = newOwner
	tx.Gas().Writes(1)
	return nil
}
