package poke

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
)

var (
	ErrUnknownReporter     = errs.New(errs.Admission, "UNKNOWN_REPORTER", "reporter does not exist")
	ErrNotReporterAdmin    = errs.New(errs.Admission, "NOT_REPORTER_ADMIN", "caller does not manage the reporter")
	ErrNotPoker            = errs.New(errs.Admission, "NOT_POKER_KEY", "caller is not the reporter's poker key")
	ErrNotBonded           = errs.New(errs.Admission, "NOT_BONDED", "reporter deposit is below the client minimum")
	ErrNotDesignated       = errs.New(errs.Admission, "NOT_DESIGNATED", "reporter is not the designated reporter")
	ErrDesignatedSlasher   = errs.New(errs.Admission, "DESIGNATED_SLASHER", "the designated reporter cannot slash itself")
	ErrInsufficientDeposit = errs.New(errs.Exhaustion, "INSUFFICIENT_DEPOSIT", "deposit is too low")
)

type reporter struct {
	id      uint64
	admin   common.Address
	poker   common.Address
	deposit sdkmath.Int
	rewards sdk.Coins
}

// Reporter is the read-only view of a reporter.
type Reporter struct {
	ID      uint64         `json:"id"`
	Admin   common.Address `json:"admin"`
	Poker   common.Address `json:"poker"`
	Deposit sdkmath.Int    `json:"deposit"`
	Rewards sdk.Coins      `json:"rewards"`
}

func (r *reporter) view() Reporter {
	return Reporter{ID: r.id, Admin: r.admin, Poker: r.poker, Deposit: r.deposit, Rewards: r.rewards}
}

func (l *Layer) reporter(id uint64) (*reporter, error) {
	r, ok := l.reporters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownReporter, id)
	}
	return r, nil
}

func (l *Layer) reporterAdmin(tx *ledger.Tx, id uint64) (*reporter, error) {
	r, err := l.reporter(id)
	if err != nil {
		return nil, err
	}
	if tx.Sender() != r.admin {
		return nil, fmt.Errorf("%w: %s for reporter %d", ErrNotReporterAdmin, tx.Sender().Hex(), id)
	}
	return r, nil
}

// CreateReporter registers a reporter managed by the sender and operated from pokerKey. Ids start at 1.
func (l *Layer) CreateReporter(tx *ledger.Tx, pokerKey common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextReporterID
	l.nextReporterID++
	l.reporters[id] = &reporter{
		id:      id,
		admin:   tx.Sender(),
		poker:   pokerKey,
		deposit: sdkmath.ZeroInt(),
		rewards: sdk.NewCoins(),
	}
	tx.Gas().Consume(ledger.GasStorageCreate * 3)
	pokeLogger.Info().Uint64("reporter", id).Str("admin", tx.Sender().Hex()).Str("poker", pokerKey.Hex()).Msg("Reporter created")
	return id, nil
}

// SetPokerKey rotates the key a reporter reports from.
func (l *Layer) SetPokerKey(tx *ledger.Tx, id uint64, pokerKey common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.reporterAdmin(tx, id)
	if err != nil {
		return err
	}
	r.poker = pokerKey
	tx.Gas().Writes(1)
	return nil
}

func (l *Layer) AddDeposit(tx *ledger.Tx, id uint64, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrBadAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.reporterAdmin(tx, id)
	if err != nil {
		return err
	}
	r.deposit = r.deposit.Add(amount)
	tx.Gas().Writes(1)
	return nil
}

func (l *Layer) WithdrawDeposit(tx *ledger.Tx, id uint64, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrBadAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.reporterAdmin(tx, id)
	if err != nil {
		return err
	}
	if amount.GT(r.deposit) {
		return fmt.Errorf("%w: reporter %d has %s, withdrawing %s", ErrInsufficientDeposit, id, r.deposit, amount)
	}
	r.deposit = r.deposit.Sub(amount)
	tx.Gas().Writes(1)
	return nil
}

// WithdrawRewards pays out and clears everything reporter id has earned.
func (l *Layer) WithdrawRewards(tx *ledger.Tx, id uint64) (sdk.Coins, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, err := l.reporterAdmin(tx, id)
	if err != nil {
		return nil, err
	}
	paid := r.rewards
	r.rewards = sdk.NewCoins()
	l.payouts[r.admin] = l.payouts[r.admin].Add(paid...)
	tx.Gas().Writes(len(paid) + 1)
	return paid, nil
}

func (l *Layer) Reporter(id uint64) (Reporter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, err := l.reporter(id)
	if err != nil {
		return Reporter{}, err
	}
	return r.view(), nil
}

// Reporters returns every reporter ordered by id.
func (l *Layer) Reporters() []Reporter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Reporter, 0, len(l.reporters))
	for id := uint64(1); id < l.nextReporterID; id++ {
		if r, ok := l.reporters[id]; ok {
			out = append(out, r.view())
		}
	}
	return out
}

// DesignatedReporter returns the bonded reporter with the highest deposit for client, the lowest id on ties.
func (l *Layer) DesignatedReporter(addr common.Address) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, err := l.client(addr)
	if err != nil {
		return 0, err
	}
	id, ok := l.designated(c)
	if !ok {
		return 0, fmt.Errorf("%w: no reporter holds %s", ErrNotBonded, c.minimalDeposit)
	}
	return id, nil
}

func (l *Layer) designated(c *client) (uint64, bool) {
	var best *reporter
	for id := uint64(1); id < l.nextReporterID; id++ {
		r, ok := l.reporters[id]
		if !ok || !l.bonded(c, r) {
			continue
		}
		if best == nil || r.deposit.GT(best.deposit) {
			best = r
		}
	}
	if best == nil {
		return 0, false
	}
	return best.id, true
}

func (l *Layer) bonded(c *client, r *reporter) bool {
	return r.deposit.IsPositive() && r.deposit.GTE(c.minimalDeposit)
}
