// Package restrictions holds the allow-lists a pool consults for voting passthrough calls,
// share transfers, community fee exemptions and supply caps.
package restrictions

import (
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
)

// Policy is consumed by the pool.
type Policy interface {
	IsVotingAllowed(target common.Address) bool
	IsTransferAllowed(actor common.Address) bool
	IsWithoutFee(actor common.Address) bool
	MaxTotalSupply(pool common.Address) sdkmath.Int
}

var ErrNotOwner = errs.New(errs.Admission, "NOT_OWNER", "caller is not the restrictions owner")

// Registry is an owner-administered Policy.
type Registry struct {
	mu               sync.RWMutex
	address          common.Address
	owner            common.Address
	votingTargets    map[common.Address]bool
	transferAllowed  map[common.Address]bool
	transferListOn   bool
	withoutFee       map[common.Address]bool
	maxTotalSupplies map[common.Address]sdkmath.Int
}

func New(address, owner common.Address) *Registry {
	return &Registry{
		address:          address,
		owner:            owner,
		votingTargets:    make(map[common.Address]bool),
		transferAllowed:  make(map[common.Address]bool),
		withoutFee:       make(map[common.Address]bool),
		maxTotalSupplies: make(map[common.Address]sdkmath.Int),
	}
}

func (r *Registry) Address() common.Address { return r.address }

func (r *Registry) onlyOwner(tx *ledger.Tx) error {
	if tx.Sender() != r.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, tx.Sender().Hex())
	}
	return nil
}

// SetVotingAllowed toggles the contracts a controller may reach through the pool's voting passthrough.
func (r *Registry) SetVotingAllowed(tx *ledger.Tx, targets []common.Address, allowed bool) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range targets {
		r.votingTargets[t] = allowed
	}
	tx.Gas().Writes(len(targets))
	return nil
}

// SetTransferAllowList turns the transfer allow-list on or off and updates its members.
// While it is off every actor may trade and transfer shares.
func (r *Registry) SetTransferAllowList(tx *ledger.Tx, enabled bool, actors []common.Address, allowed bool) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transferListOn = enabled
	for _, a := range actors {
		r.transferAllowed[a] = allowed
	}
	tx.Gas().Writes(len(actors) + 1)
	return nil
}

// SetWithoutFee exempts actors from community fees.
func (r *Registry) SetWithoutFee(tx *ledger.Tx, actors []common.Address, exempt bool) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range actors {
		r.withoutFee[a] = exempt
	}
	tx.Gas().Writes(len(actors))
	return nil
}

// SetMaxTotalSupply caps the pool share supply. Zero removes the cap.
func (r *Registry) SetMaxTotalSupply(tx *ledger.Tx, pool common.Address, max sdkmath.Int) error {
	if err := r.onlyOwner(tx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maxTotalSupplies[pool] = max
	tx.Gas().Writes(1)
	return nil
}

func (r *Registry) IsVotingAllowed(target common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.votingTargets[target]
}

func (r *Registry) IsTransferAllowed(actor common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.transferListOn || r.transferAllowed[actor]
}

func (r *Registry) IsWithoutFee(actor common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.withoutFee[actor]
}

func (r *Registry) MaxTotalSupply(pool common.Address) sdkmath.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if max, ok := r.maxTotalSupplies[pool]; ok {
		return max
	}
	return sdkmath.ZeroInt()
}
