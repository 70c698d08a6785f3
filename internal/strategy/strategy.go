/*

This file contains what every weight strategy shares: the Strategy capability, the per-pool registry with
its poke cooldown, the incentive-layer gate, and owner administration.

*/

package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/controller"
	"github.com/powerpool/powerindex-keeper/internal/cooldown"
	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

var strategyLogger = logger.GetForComponent("strategy")

// DefaultPokePeriod applies when a strategy is created without one.
const DefaultPokePeriod = 14 * 24 * time.Hour

var (
	ErrNotOwner         = errs.New(errs.Admission, "NOT_OWNER", "caller is not the strategy owner")
	ErrNotGate          = errs.New(errs.Admission, "ONLY_INCENTIVE_LAYER", "pokes are restricted to the incentive layer")
	ErrUnknownPool      = errs.New(errs.Admission, "UNKNOWN_POOL", "pool is not registered with the strategy")
	ErrPoolExists       = errs.New(errs.Admission, "POOL_EXISTS", "pool is already registered")
	ErrNotPoolStrategy  = errs.New(errs.Admission, "NOT_POOL_STRATEGY", "strategy is not installed on the pool controller")
	ErrInvalidPeriod    = errs.New(errs.Bound, "INVALID_PERIOD", "poke period must be positive")
	ErrRateLimit        = errs.New(errs.Bound, "RATE_LIMIT", "weight change cannot fit the per-second bounds")
	ErrInvalidPrice     = errs.New(errs.External, "INVALID_PRICE", "oracle price must be positive")
	ErrInvalidSupply    = errs.New(errs.External, "INVALID_SUPPLY", "oracle total supply must be positive")
	ErrExcludedTooLarge = errs.New(errs.Arithmetic, "EXCLUDED_EXCEEDS_SUPPLY", "excluded balances exceed total supply")
	ErrZeroMarketCap    = errs.New(errs.Arithmetic, "ZERO_MARKET_CAP", "pool market cap is zero")
	ErrNoVaultConfig    = errs.New(errs.Bound, "NO_VAULT_CONFIG", "asset has no vault configuration")
)

// Strategy computes weight targets or balances for its pools and applies them through their controllers.
type Strategy interface {
	Address() common.Address
	Kind() string
	Pools() []common.Address
	AddPool(tx *ledger.Tx, ctrl *controller.Controller) error
	SetGate(tx *ledger.Tx, gate common.Address) error
	// Poke recomputes every listed pool whose cooldown has elapsed; an empty list means all pools.
	Poke(tx *ledger.Tx, pools []common.Address) (PokeResult, error)
}

// PokeResult reports what a poke did.
type PokeResult struct {
	Poked    []common.Address      `json:"poked"`
	Skipped  []common.Address      `json:"skipped"`
	Receipts []types.ActionReceipt `json:"receipts,omitempty"`
}

// Messages is the number of pools a poke actually worked on.
func (r PokeResult) Messages() int { return len(r.Poked) }

type poolEntry struct {
	controller *controller.Controller
	pool       *pool.Pool
	lastPoke   time.Time
	period     time.Duration
}

func (e *poolEntry) window() cooldown.Window {
	return cooldown.Window{Min: e.period}
}

// registry holds the pools of one strategy. Writes happen inside ledger transactions; mu guards readers.
type registry struct {
	mu            sync.RWMutex
	address       common.Address
	owner         common.Address
	gate          common.Address
	defaultPeriod time.Duration
	pools         map[common.Address]*poolEntry
	order         []common.Address
}

func newRegistry(address, owner common.Address, defaultPeriod time.Duration) *registry {
	if defaultPeriod < time.Second {
		defaultPeriod = DefaultPokePeriod
	}
	return &registry{
		address:       address,
		owner:         owner,
		defaultPeriod: defaultPeriod,
		pools:         make(map[common.Address]*poolEntry),
	}
}

func (r *registry) Address() common.Address { return r.address }

func (r *registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

func (r *registry) Gate() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gate
}

// Pools returns the registered pools in registration order.
func (r *registry) Pools() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, len(r.order))
	copy(out, r.order)
	return out
}

// Cooldown returns the poke window state of poolAddr at now.
func (r *registry) Cooldown(poolAddr common.Address, now time.Time) (cooldown.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entry(poolAddr)
	if err != nil {
		return cooldown.State{}, err
	}
	return e.window().At(e.lastPoke, now), nil
}

// LastPoke returns when poolAddr was last recomputed, zero if never.
func (r *registry) LastPoke(poolAddr common.Address) (time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entry(poolAddr)
	if err != nil {
		return time.Time{}, err
	}
	return e.lastPoke, nil
}

func (r *registry) PokePeriodOf(poolAddr common.Address) (time.Duration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.entry(poolAddr)
	if err != nil {
		return 0, err
	}
	return e.period, nil
}

func (r *registry) entry(poolAddr common.Address) (*poolEntry, error) {
	e, ok := r.pools[poolAddr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPool, poolAddr.Hex())
	}
	return e, nil
}

func (r *registry) onlyOwner(tx *ledger.Tx) error {
	if tx.Sender() != r.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, tx.Sender().Hex())
	}
	return nil
}

func (r *registry) checkGate(tx *ledger.Tx) error {
	if r.gate != (common.Address{}) && tx.Sender() != r.gate {
		return fmt.Errorf("%w: %s", ErrNotGate, tx.Sender().Hex())
	}
	return nil
}

// AddPool registers the pool managed by ctrl. Each pool is registered once.
func (r *registry) AddPool(tx *ledger.Tx, ctrl *controller.Controller) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	p := ctrl.Pool()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[p.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrPoolExists, p.Address().Hex())
	}
	r.pools[p.Address()] = &poolEntry{controller: ctrl, pool: p, period: r.defaultPeriod}
	r.order = append(r.order, p.Address())
	tx.Gas().Consume(ledger.GasStorageCreate * 3)
	strategyLogger.Info().Str("strategy", r.address.Hex()).Str("pool", p.Address().Hex()).Msg("Pool registered")
	return nil
}

// SetGate restricts Poke to calls made by gate. The zero address lifts the restriction.
func (r *registry) SetGate(tx *ledger.Tx, gate common.Address) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
	tx.Gas().Writes(1)
	return nil
}

// SetPokePeriod sets how long poolAddr cools down after a poke.
func (r *registry) SetPokePeriod(tx *ledger.Tx, poolAddr common.Address, period time.Duration) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	if period < time.Second {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, period)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.entry(poolAddr)
	if err != nil {
		return err
	}
	e.period = period
	tx.Gas().Writes(1)
	return nil
}

func (r *registry) TransferOwnership(tx *ledger.Tx, newOwner common.Address) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owner = newOwner
	tx.Gas().Writes(1)
	return nil
}

// due splits the requested pools into those whose cooldown has elapsed and those still cooling.
func (r *registry) due(tx *ledger.Tx, requested []common.Address) (ready []*poolEntry, skipped []common.Address, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(requested) == 0 {
		requested = r.order
	}
	now := tx.Now()
	seen := make(map[common.Address]bool, len(requested))
	for _, addr := range requested {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		e, err := r.entry(addr)
		if err != nil {
			return nil, nil, err
		}
		tx.Gas().Reads(2)
		if e.controller.Strategy() != r.address {
			return nil, nil, fmt.Errorf("%w: pool %s", ErrNotPoolStrategy, addr.Hex())
		}
		if !e.window().At(e.lastPoke, now).CanAct() {
			skipped = append(skipped, addr)
			continue
		}
		ready = append(ready, e)
	}
	return ready, skipped, nil
}

func (r *registry) markPoked(tx *ledger.Tx, e *poolEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.lastPoke = tx.Now()
	tx.Gas().Writes(1)
}
