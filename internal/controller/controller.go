/*

This file contains the pool controller. It owns a pool (the pool's controller address is the controller's
address), holds the single strategy slot, and is the only path through which weight targets and post-finalization
balances change.

*/

package controller

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/restrictions"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

var controllerLogger = logger.GetForComponent("controller")

var (
	ErrNotOwner    = errs.New(errs.Admission, "NOT_OWNER", "caller is not the controller owner")
	ErrNotStrategy = errs.New(errs.Admission, "NOT_STRATEGY", "caller is not the weights strategy")
	ErrForeignPool = errs.New(errs.Admission, "FOREIGN_POOL", "pool is not managed by this controller")
	ErrNoTargets   = errs.New(errs.Bound, "NO_TARGETS", "empty weight target list")
	ErrTotalWeight = errs.New(errs.Bound, "TOTAL_WEIGHT", "target weights do not sum to the normalized total")
	ErrNoReceiver  = errs.New(errs.Bound, "NO_RECEIVER", "no community fee receiver configured")
)

// Options are the optional construction parameters.
type Options struct {
	FeeReceiver common.Address
}

// Controller mediates every change to a pool's weights after finalization.
type Controller struct {
	address     common.Address
	pool        *pool.Pool
	owner       common.Address
	strategy    common.Address
	feeReceiver common.Address
}

// New creates a controller for p. The pool's controller must be handed to address separately.
func New(tx *ledger.Tx, address common.Address, p *pool.Pool, owner common.Address, opts Options) *Controller {
	tx.Gas().Consume(ledger.GasStorageCreate * 3)
	return &Controller{
		address:     address,
		pool:        p,
		owner:       owner,
		feeReceiver: opts.FeeReceiver,
	}
}

func (c *Controller) Address() common.Address  { return c.address }
func (c *Controller) Pool() *pool.Pool         { return c.pool }
func (c *Controller) Owner() common.Address    { return c.owner }
func (c *Controller) Strategy() common.Address { return c.strategy }

func (c *Controller) onlyOwner(tx *ledger.Tx) error {
	if tx.Sender() != c.owner {
		return fmt.Errorf("%w: %s", ErrNotOwner, tx.Sender().Hex())
	}
	return nil
}

func (c *Controller) onlyStrategy(tx *ledger.Tx) error {
	if c.strategy == (common.Address{}) || tx.Sender() != c.strategy {
		return fmt.Errorf("%w: %s", ErrNotStrategy, tx.Sender().Hex())
	}
	return nil
}

func (c *Controller) checkPool(poolAddr common.Address) error {
	if poolAddr != c.pool.Address() {
		return fmt.Errorf("%w: %s", ErrForeignPool, poolAddr.Hex())
	}
	return nil
}

// SetWeightsStrategy replaces the strategy allowed to move weights.
func (c *Controller) SetWeightsStrategy(tx *ledger.Tx, strategy common.Address) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	prev := c.strategy
	c.strategy = strategy
	tx.Gas().Writes(1)
	controllerLogger.Info().
		Str("controller", c.address.Hex()).
		Str("previous", prev.Hex()).
		Str("strategy", strategy.Hex()).
		Msg("Weights strategy replaced")
	return nil
}

// ApplyWeights schedules every target on the pool in one step. The prospective target total must equal
// the normalized total weight; nothing is written when any entry fails.
func (c *Controller) ApplyWeights(tx *ledger.Tx, poolAddr common.Address, targets []types.WeightTarget) error {
	if err := c.ValidateWeights(tx, poolAddr, targets); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.SetWeightSchedules(tx, targets)
	})
}

// ValidateWeights runs every check ApplyWeights runs, the pool's included, without writing anything.
func (c *Controller) ValidateWeights(tx *ledger.Tx, poolAddr common.Address, targets []types.WeightTarget) error {
	if err := c.onlyStrategy(tx); err != nil {
		return err
	}
	if err := c.checkPool(poolAddr); err != nil {
		return err
	}
	if len(targets) == 0 {
		return ErrNoTargets
	}

	total := c.pool.TotalTargetWeight()
	for _, wt := range targets {
		snap, err := c.pool.AssetSnapshot(wt.Asset, tx.Now())
		if err != nil {
			return err
		}
		total = total.Sub(snap.TargetWeight).Add(wt.Target)
	}
	if !total.Equal(pool.NormalizedTotalWeight) {
		return fmt.Errorf("%w: %s != %s", ErrTotalWeight, total, pool.NormalizedTotalWeight)
	}
	return tx.Call(c.address, func() error {
		return c.pool.ValidateWeightSchedules(tx, targets)
	})
}

// RebindByStrategy rewrites a bound asset's balance on behalf of the strategy.
func (c *Controller) RebindByStrategy(tx *ledger.Tx, poolAddr, asset common.Address, balance sdkmath.Int) error {
	if err := c.onlyStrategy(tx); err != nil {
		return err
	}
	if err := c.checkPool(poolAddr); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.RebindByController(tx, asset, balance)
	})
}

// ValidateRebind runs every check RebindByStrategy runs, the pool's included, without writing anything.
func (c *Controller) ValidateRebind(tx *ledger.Tx, poolAddr, asset common.Address, balance sdkmath.Int) error {
	if err := c.onlyStrategy(tx); err != nil {
		return err
	}
	if err := c.checkPool(poolAddr); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.ValidateRebind(tx, asset, balance)
	})
}

// SetRestrictions installs the pool's restriction policy.
func (c *Controller) SetRestrictions(tx *ledger.Tx, policy restrictions.Policy) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.SetRestrictions(tx, policy)
	})
}

// SetCommunityFeeReceiver keeps the pool's community fees and points them at receiver.
// A zero receiver falls back to the receiver given at construction.
func (c *Controller) SetCommunityFeeReceiver(tx *ledger.Tx, receiver common.Address) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	if receiver == (common.Address{}) {
		receiver = c.feeReceiver
	}
	if receiver == (common.Address{}) {
		return ErrNoReceiver
	}
	swap, join, exit, _ := c.pool.CommunityFees()
	return tx.Call(c.address, func() error {
		return c.pool.SetCommunityFeesAndReceiver(tx, swap, join, exit, receiver)
	})
}

// SetCommunityFees updates the community fees, keeping the receiver.
func (c *Controller) SetCommunityFees(tx *ledger.Tx, swap, join, exit sdkmath.LegacyDec) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	_, _, _, receiver := c.pool.CommunityFees()
	if receiver == (common.Address{}) {
		receiver = c.feeReceiver
	}
	return tx.Call(c.address, func() error {
		return c.pool.SetCommunityFeesAndReceiver(tx, swap, join, exit, receiver)
	})
}

func (c *Controller) SetSwapFee(tx *ledger.Tx, fee sdkmath.LegacyDec) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.SetSwapFee(tx, fee)
	})
}

func (c *Controller) SetWeightPerSecondBounds(tx *ledger.Tx, asset common.Address, min, max sdkmath.LegacyDec) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.SetWeightPerSecondBounds(tx, asset, min, max)
	})
}

// CallVoting forwards a governance call through the pool.
func (c *Controller) CallVoting(tx *ledger.Tx, target common.Address, call func() error) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	return tx.Call(c.address, func() error {
		return c.pool.CallVoting(tx, target, call)
	})
}

// TransferOwnership hands the controller to newOwner in a single step.
func (c *Controller) TransferOwnership(tx *ledger.Tx, newOwner common.Address) error {
	if err := c.onlyOwner(tx); err != nil {
		return err
	}
	c.owner = newOwner
	tx.Gas().Writes(1)
	return nil
}
