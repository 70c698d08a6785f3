package planner

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

// Error definitions for zero-tolerance error handling
var (
	ErrNoPositions        = errs.New(errs.Bound, "NO_POSITIONS", "no positions to plan for")
	ErrInvalidPosition    = errs.New(errs.Bound, "INVALID_POSITION", "position data is invalid")
	ErrZeroTVL            = errs.New(errs.Arithmetic, "ZERO_TVL", "total vault value is zero")
	ErrInsufficientBuffer = errs.New(errs.Exhaustion, "INSUFFICIENT_BUFFER", "base buffer cannot cover the deposits")
	ErrQuoteFailed        = errs.New(errs.External, "QUOTE_FAILED", "withdrawal quote failed")
)

// Params bound what a plan may do.
type Params struct {
	// Base-asset amount that must stay in the buffer once every deposit settles.
	MinBaseAssetRemainder sdkmath.Int
	// Pool balance an asset keeps after a withdrawal.
	MinPoolBalance sdkmath.Int
	// Deltas below this base-asset amount are left alone.
	MinDelta sdkmath.Int
}

// WithdrawQuoter returns the base-asset proceeds of redeeming shares of asset.
type WithdrawQuoter func(asset common.Address, shares sdkmath.Int) (sdkmath.Int, error)

// ExtendedAction is the value change one asset needs before it is turned into shares.
type ExtendedAction struct {
	Asset common.Address
	// Positive for deposits, negative for withdrawals, in base-asset units.
	Delta sdkmath.LegacyDec
}

// GenerateActionPlan sizes every position to its vault's share of the combined vault TVL.
// Withdrawals come first and refill the base buffer; deposits then draw it down.
func GenerateActionPlan(
	pool common.Address,
	positions []types.Position,
	buffer sdkmath.Int,
	params Params,
	quote WithdrawQuoter,
) (types.ActionPlan, []types.Position, error) {
	actionLogger := logger.GetForComponent("action_planner")

	// ===== INPUT VALIDATION =====
	if err := validateInputs(positions, buffer, params); err != nil {
		actionLogger.Error().Err(err).Str("pool", pool.Hex()).Msg("Input validation failed")
		return types.ActionPlan{}, nil, err
	}

	// ===== TARGET VALUES =====
	positions, err := assignTargets(positions)
	if err != nil {
		return types.ActionPlan{}, nil, err
	}

	plan := types.ActionPlan{
		GoalDescription: "rebind vault shares to TVL-proportional values",
		Pool:            pool,
		BufferBefore:    buffer,
	}

	withdrawals, deposits := analyzeRequiredChanges(positions, params, actionLogger)

	// ===== PROCESS WITHDRAWALS =====
	withdrawalActions, bufferAfterWithdrawals, err := processWithdrawals(withdrawals, positions, buffer, params, quote)
	if err != nil {
		actionLogger.Error().Err(err).Msg("Withdrawal processing failed")
		return types.ActionPlan{}, nil, err
	}

	// ===== PROCESS DEPOSITS =====
	depositActions, bufferAfter, err := processDeposits(deposits, positions, bufferAfterWithdrawals, params)
	if err != nil {
		actionLogger.Error().Err(err).Msg("Deposit processing failed")
		return types.ActionPlan{}, nil, err
	}

	plan.SubActions = append(withdrawalActions, depositActions...)
	plan.BufferAfter = bufferAfter

	actionLogger.Info().
		Str("pool", pool.Hex()).
		Int("withdrawals", len(withdrawalActions)).
		Int("deposits", len(depositActions)).
		Str("bufferBefore", buffer.String()).
		Str("bufferAfter", bufferAfter.String()).
		Msg("Action plan generation completed successfully")

	return plan, positions, nil
}

// validateInputs performs comprehensive validation of all input parameters
func validateInputs(positions []types.Position, buffer sdkmath.Int, params Params) error {
	if len(positions) == 0 {
		return ErrNoPositions
	}
	if buffer.IsNil() || buffer.IsNegative() {
		return errors.Join(ErrInvalidPosition, errors.New("buffer cannot be negative"))
	}
	for _, v := range []sdkmath.Int{params.MinBaseAssetRemainder, params.MinPoolBalance, params.MinDelta} {
		if v.IsNil() || v.IsNegative() {
			return errors.Join(ErrInvalidPosition, errors.New("plan parameters cannot be negative"))
		}
	}
	for i, pos := range positions {
		if pos.Shares.IsNil() || pos.Shares.IsNegative() {
			return fmt.Errorf("%w: position %d has invalid shares", ErrInvalidPosition, i)
		}
		if pos.ValuePerShare.IsNil() || !pos.ValuePerShare.IsPositive() {
			return fmt.Errorf("%w: position %d has non-positive value per share", ErrInvalidPosition, i)
		}
		if pos.VaultTVL.IsNil() || pos.VaultTVL.IsNegative() {
			return fmt.Errorf("%w: position %d has negative vault TVL", ErrInvalidPosition, i)
		}
	}
	return nil
}

// assignTargets splits the pool's current value across assets in proportion to their vaults' TVL.
func assignTargets(positions []types.Position) ([]types.Position, error) {
	totalValue := sdkmath.LegacyZeroDec()
	totalTVL := sdkmath.LegacyZeroDec()
	out := make([]types.Position, len(positions))
	for i, pos := range positions {
		pos.Value = utils.IntToDec(pos.Shares).Mul(pos.ValuePerShare)
		totalValue = totalValue.Add(pos.Value)
		totalTVL = totalTVL.Add(pos.VaultTVL)
		out[i] = pos
	}
	if !totalTVL.IsPositive() {
		return nil, ErrZeroTVL
	}
	for i := range out {
		out[i].TargetValue = totalValue.Mul(out[i].VaultTVL).Quo(totalTVL)
	}
	return out, nil
}

func analyzeRequiredChanges(positions []types.Position, params Params, actionLogger zerolog.Logger) (withdrawals, deposits []ExtendedAction) {
	minDelta := utils.IntToDec(params.MinDelta)
	for _, pos := range positions {
		delta := pos.TargetValue.Sub(pos.Value)

		actionLogger.Debug().
			Str("asset", pos.Asset.Hex()).
			Str("value", pos.Value.String()).
			Str("target", pos.TargetValue.String()).
			Str("delta", delta.String()).
			Msg("Asset rebind analysis")

		if delta.IsZero() || delta.Abs().LT(minDelta) {
			continue
		}
		if delta.IsNegative() {
			withdrawals = append(withdrawals, ExtendedAction{Asset: pos.Asset, Delta: delta})
		} else {
			deposits = append(deposits, ExtendedAction{Asset: pos.Asset, Delta: delta})
		}
	}
	return withdrawals, deposits
}

func processWithdrawals(
	withdrawals []ExtendedAction,
	positions []types.Position,
	buffer sdkmath.Int,
	params Params,
	quote WithdrawQuoter,
) ([]types.SubAction, sdkmath.Int, error) {
	var actions []types.SubAction
	for _, w := range withdrawals {
		pos, ok := findPosition(positions, w.Asset)
		if !ok {
			return nil, sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidPosition, w.Asset.Hex())
		}
		shares := w.Delta.Abs().Quo(pos.ValuePerShare).TruncateInt()
		if maxShares := pos.Shares.Sub(params.MinPoolBalance); shares.GT(maxShares) {
			shares = maxShares
		}
		if !shares.IsPositive() {
			continue
		}
		proceeds, err := quote(w.Asset, shares)
		if err != nil {
			return nil, sdkmath.Int{}, fmt.Errorf("%w: %s: %w", ErrQuoteFailed, w.Asset.Hex(), err)
		}
		buffer = buffer.Add(proceeds)
		actions = append(actions, types.SubAction{
			Type:       types.SubActionWithdraw,
			Asset:      w.Asset,
			Shares:     shares,
			BaseAmount: proceeds,
		})
	}
	return actions, buffer, nil
}

func processDeposits(
	deposits []ExtendedAction,
	positions []types.Position,
	buffer sdkmath.Int,
	params Params,
) ([]types.SubAction, sdkmath.Int, error) {
	var actions []types.SubAction
	required := sdkmath.ZeroInt()
	for _, d := range deposits {
		pos, ok := findPosition(positions, d.Asset)
		if !ok {
			return nil, sdkmath.Int{}, fmt.Errorf("%w: %s", ErrInvalidPosition, d.Asset.Hex())
		}
		amount := d.Delta.TruncateInt()
		if !amount.IsPositive() {
			continue
		}
		required = required.Add(amount)
		actions = append(actions, types.SubAction{
			Type:       types.SubActionDeposit,
			Asset:      d.Asset,
			Shares:     d.Delta.Quo(pos.ValuePerShare).TruncateInt(),
			BaseAmount: amount,
		})
	}
	available := buffer.Sub(params.MinBaseAssetRemainder)
	if required.GT(available) {
		return nil, sdkmath.Int{}, fmt.Errorf("%w: deposits need %s, buffer %s keeps %s", ErrInsufficientBuffer, required, buffer, params.MinBaseAssetRemainder)
	}
	return actions, buffer.Sub(required), nil
}

func findPosition(positions []types.Position, asset common.Address) (types.Position, bool) {
	for _, pos := range positions {
		if pos.Asset == asset {
			return pos, true
		}
	}
	return types.Position{}, false
}
