package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/planner"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
	"github.com/powerpool/powerindex-keeper/internal/vault"
)

const KindInstantRebind = "instant_rebind"

var (
	ErrRebindFailed     = errs.New(errs.External, "REBIND_FAILED", "vault operation failed during rebind")
	ErrUnknownSubAction = errs.New(errs.Bound, "UNKNOWN_SUB_ACTION", "plan holds a step the strategy cannot execute")
)

// VaultConfig ties a pool asset (a vault share token) to the vault and the swap pool behind it.
type VaultConfig struct {
	Vault          vault.Vault
	Depositor      vault.Depositor
	AmountsLength  int // Coins in the depositor's AddLiquidity amounts
	BaseAssetIndex int // Index of the base asset among them
}

// InstantRebindOptions configures a new InstantRebind strategy.
type InstantRebindOptions struct {
	PokePeriod                time.Duration
	MinBaseAssetRemainder     sdkmath.Int
	UseVirtualPriceEstimation bool
	// Value changes below this many base units are not worth a vault round trip.
	MinDelta sdkmath.Int
}

// InstantRebind keeps each pool's vault-share balances proportional to the vaults' TVL,
// moving value through a base-asset buffer instead of shifting weights.
type InstantRebind struct {
	*registry

	vmu     sync.RWMutex
	vaults  map[common.Address]VaultConfig
	buffers map[common.Address]sdkmath.Int
	opts    InstantRebindOptions
}

func NewInstantRebind(address, owner common.Address, opts InstantRebindOptions) *InstantRebind {
	if opts.MinBaseAssetRemainder.IsNil() {
		opts.MinBaseAssetRemainder = sdkmath.ZeroInt()
	}
	if opts.MinDelta.IsNil() {
		opts.MinDelta = sdkmath.ZeroInt()
	}
	return &InstantRebind{
		registry: newRegistry(address, owner, opts.PokePeriod),
		vaults:   make(map[common.Address]VaultConfig),
		buffers:  make(map[common.Address]sdkmath.Int),
		opts:     opts,
	}
}

func (s *InstantRebind) Kind() string { return KindInstantRebind }

func (s *InstantRebind) SetVaultConfig(tx *ledger.Tx, asset common.Address, cfg VaultConfig) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	if cfg.Vault == nil || cfg.Depositor == nil || cfg.BaseAssetIndex < 0 || cfg.BaseAssetIndex >= cfg.AmountsLength {
		return fmt.Errorf("%w: incomplete config for %s", ErrNoVaultConfig, asset.Hex())
	}
	s.vmu.Lock()
	defer s.vmu.Unlock()
	s.vaults[asset] = cfg
	tx.Gas().Writes(4)
	return nil
}

func (s *InstantRebind) SetMinBaseAssetRemainder(tx *ledger.Tx, remainder sdkmath.Int) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	s.vmu.Lock()
	defer s.vmu.Unlock()
	s.opts.MinBaseAssetRemainder = remainder
	tx.Gas().Writes(1)
	return nil
}

func (s *InstantRebind) SetUseVirtualPriceEstimation(tx *ledger.Tx, use bool) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	s.vmu.Lock()
	defer s.vmu.Unlock()
	s.opts.UseVirtualPriceEstimation = use
	tx.Gas().Writes(1)
	return nil
}

// FundBuffer adds base asset to the buffer of poolAddr.
func (s *InstantRebind) FundBuffer(tx *ledger.Tx, poolAddr common.Address, amount sdkmath.Int) error {
	if err := s.onlyOwner(tx); err != nil {
		return err
	}
	s.mu.RLock()
	_, err := s.entry(poolAddr)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	s.vmu.Lock()
	defer s.vmu.Unlock()
	s.buffers[poolAddr] = s.buffer(poolAddr).Add(amount)
	tx.Gas().Writes(1)
	return nil
}

// Buffer returns the base asset held for poolAddr.
func (s *InstantRebind) Buffer(poolAddr common.Address) sdkmath.Int {
	s.vmu.RLock()
	defer s.vmu.RUnlock()
	return s.buffer(poolAddr)
}

func (s *InstantRebind) buffer(poolAddr common.Address) sdkmath.Int {
	if b, ok := s.buffers[poolAddr]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

// Plan values every asset of poolAddr and returns the plan a poke would execute now.
func (s *InstantRebind) Plan(ctx context.Context, poolAddr common.Address) (types.ActionPlan, []types.Position, error) {
	s.mu.RLock()
	e, err := s.entry(poolAddr)
	s.mu.RUnlock()
	if err != nil {
		return types.ActionPlan{}, nil, err
	}
	return s.plan(ctx, e.pool)
}

func (s *InstantRebind) plan(ctx context.Context, p *pool.Pool) (types.ActionPlan, []types.Position, error) {
	s.vmu.RLock()
	defer s.vmu.RUnlock()

	positions := make([]types.Position, 0, len(p.Assets()))
	for _, asset := range p.Assets() {
		pos, err := s.position(ctx, p, asset)
		if err != nil {
			return types.ActionPlan{}, nil, err
		}
		positions = append(positions, pos)
	}

	params := planner.Params{
		MinBaseAssetRemainder: s.opts.MinBaseAssetRemainder,
		MinPoolBalance:        pool.MinBalance,
		MinDelta:              s.opts.MinDelta,
	}
	return planner.GenerateActionPlan(p.Address(), positions, s.buffer(p.Address()), params, func(asset common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
		return s.quoteWithdraw(ctx, asset, shares)
	})
}

// position values the pool's holding of asset in base units.
func (s *InstantRebind) position(ctx context.Context, p *pool.Pool, asset common.Address) (types.Position, error) {
	cfg, ok := s.vaults[asset]
	if !ok {
		return types.Position{}, fmt.Errorf("%w: %s", ErrNoVaultConfig, asset.Hex())
	}
	shares, err := p.Balance(asset)
	if err != nil {
		return types.Position{}, err
	}
	pps, err := cfg.Vault.PricePerShare(ctx)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: price per share of %s: %w", ErrRebindFailed, asset.Hex(), err)
	}
	lpValue, err := s.lpValue(ctx, cfg)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: LP value of %s: %w", ErrRebindFailed, asset.Hex(), err)
	}
	tvl, err := cfg.Vault.TotalAssets(ctx)
	if err != nil {
		return types.Position{}, fmt.Errorf("%w: total assets of %s: %w", ErrRebindFailed, asset.Hex(), err)
	}

	pos := types.Position{Asset: asset, Shares: shares}
	err = utils.Guard(func() error {
		pos.ValuePerShare = pps.Mul(lpValue)
		pos.VaultTVL = utils.IntToDec(tvl).Mul(lpValue)
		return nil
	})
	return pos, err
}

// lpValue is the base-asset value of one LP token, estimated or quoted.
func (s *InstantRebind) lpValue(ctx context.Context, cfg VaultConfig) (sdkmath.LegacyDec, error) {
	if s.opts.UseVirtualPriceEstimation {
		return cfg.Depositor.VirtualPrice(ctx)
	}
	unit := sdkmath.NewIntWithDecimal(1, 18)
	out, err := cfg.Depositor.CalcWithdrawOneCoin(ctx, unit, cfg.BaseAssetIndex)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return utils.IntToDec(out).QuoInt(unit), nil
}

func (s *InstantRebind) quoteWithdraw(ctx context.Context, asset common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	cfg := s.vaults[asset]
	pps, err := cfg.Vault.PricePerShare(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return cfg.Depositor.CalcWithdrawOneCoin(ctx, utils.MulIntTrunc(shares, pps), cfg.BaseAssetIndex)
}

// Poke plans every due pool, checks every balance write the plans imply, then settles withdrawals
// before deposits and writes each new balance to the pool. Vault legs are external: a leg that fails
// is unwound where the vault allows it, the pool keeps the balances of the legs already settled and
// is left unpoked so the next poke retries it.
func (s *InstantRebind) Poke(tx *ledger.Tx, pools []common.Address) (PokeResult, error) {
	var res PokeResult
	if err := s.checkGate(tx); err != nil {
		return res, err
	}
	ready, skipped, err := s.due(tx, pools)
	if err != nil {
		return res, err
	}
	res.Skipped = skipped

	plans := make([]types.ActionPlan, len(ready))
	for i, e := range ready {
		plan, _, err := s.plan(tx.Context(), e.pool)
		if err != nil {
			return PokeResult{}, fmt.Errorf("pool %s: %w", e.pool.Address().Hex(), err)
		}
		tx.Gas().Reads(4 * len(plan.SubActions))
		plans[i] = plan
	}
	for i, e := range ready {
		if err := s.validate(tx, e, plans[i]); err != nil {
			return PokeResult{}, fmt.Errorf("pool %s: %w", e.pool.Address().Hex(), err)
		}
	}

	var firstErr error
	for i, e := range ready {
		poolAddr := e.pool.Address()
		receipts, err := s.execute(tx, e, plans[i])
		res.Receipts = append(res.Receipts, receipts...)
		if err != nil {
			strategyLogger.Error().Err(err).Str("pool", poolAddr.Hex()).Msg("Rebind stopped")
			if firstErr == nil {
				firstErr = fmt.Errorf("pool %s: %w", poolAddr.Hex(), err)
			}
			continue
		}
		s.markPoked(tx, e)
		tx.Emit(events.New(events.KindPokeSummary, s.address).
			With("pool", poolAddr.Hex()).
			With("assets", fmt.Sprint(len(receipts))).
			With("buffer_before", plans[i].BufferBefore.String()).
			With("buffer_after", s.Buffer(poolAddr).String()))
		res.Poked = append(res.Poked, poolAddr)
	}
	if len(res.Poked) == 0 && firstErr != nil {
		return res, firstErr
	}
	return res, nil
}

// validate runs the pool-side checks of every balance write in plan before any vault is touched.
// A withdrawal lowers the balance by its shares; a deposit never lowers it.
func (s *InstantRebind) validate(tx *ledger.Tx, e *poolEntry, plan types.ActionPlan) error {
	poolAddr := e.pool.Address()
	predicted := make(map[common.Address]sdkmath.Int)

	s.vmu.RLock()
	defer s.vmu.RUnlock()
	for _, sa := range plan.SubActions {
		if sa.Type == types.SubActionNoOp {
			continue
		}
		if _, ok := s.vaults[sa.Asset]; !ok {
			return fmt.Errorf("%w: %s", ErrNoVaultConfig, sa.Asset.Hex())
		}
		balance, ok := predicted[sa.Asset]
		if !ok {
			b, err := e.pool.Balance(sa.Asset)
			if err != nil {
				return err
			}
			balance = b
		}
		switch sa.Type {
		case types.SubActionWithdraw:
			balance = balance.Sub(sa.Shares)
		case types.SubActionDeposit:
		default:
			return fmt.Errorf("%w: %q for %s", ErrUnknownSubAction, sa.Type, sa.Asset.Hex())
		}
		predicted[sa.Asset] = balance

		err := tx.Call(s.address, func() error {
			return e.controller.ValidateRebind(tx, poolAddr, sa.Asset, balance)
		})
		if err != nil {
			return fmt.Errorf("%s %s: %w", sa.Type, sa.Asset.Hex(), err)
		}
	}
	return nil
}

// execute settles plan leg by leg and stops at the first leg that fails.
func (s *InstantRebind) execute(tx *ledger.Tx, e *poolEntry, plan types.ActionPlan) ([]types.ActionReceipt, error) {
	poolAddr := e.pool.Address()
	var receipts []types.ActionReceipt

	for _, sa := range plan.SubActions {
		if sa.Type == types.SubActionNoOp {
			continue
		}
		s.vmu.RLock()
		cfg := s.vaults[sa.Asset]
		s.vmu.RUnlock()

		receipt := types.ActionReceipt{OriginalSubAction: sa, Timestamp: tx.Now()}
		balance, err := e.pool.Balance(sa.Asset)
		if err != nil {
			return receipts, err
		}

		var newBalance sdkmath.Int
		switch sa.Type {
		case types.SubActionWithdraw:
			newBalance, err = s.withdraw(tx, cfg, poolAddr, balance, sa, &receipt)
		case types.SubActionDeposit:
			newBalance, err = s.deposit(tx, cfg, poolAddr, balance, sa, &receipt)
		default:
			err = fmt.Errorf("%w: %q for %s", ErrUnknownSubAction, sa.Type, sa.Asset.Hex())
		}
		if newBalance.IsNil() {
			newBalance = balance
		}
		// an unwound leg may still have moved shares
		if !newBalance.Equal(balance) {
			werr := tx.Call(s.address, func() error {
				return e.controller.RebindByStrategy(tx, poolAddr, sa.Asset, newBalance)
			})
			if werr != nil && err == nil {
				err = werr
			}
		}
		receipt.NewPoolBalance = newBalance
		if err != nil {
			return append(receipts, failed(receipt, err)), err
		}
		receipt.Success = true
		receipts = append(receipts, receipt)

		tx.Emit(events.New(events.KindAssetRebound, s.address).
			With("pool", poolAddr.Hex()).
			With("asset", sa.Asset.Hex()).
			With("old_balance", balance.String()).
			With("new_balance", newBalance.String()))
		strategyLogger.Info().
			Str("pool", poolAddr.Hex()).
			Str("asset", sa.Asset.Hex()).
			Str("type", string(sa.Type)).
			Str("shares", receipt.SharesChanged.String()).
			Str("base", receipt.BaseAmount.String()).
			Msg("Asset rebound")
	}
	return receipts, nil
}

// withdraw redeems sa.Shares into the buffer. When the LP cannot be redeemed it goes back into the vault.
func (s *InstantRebind) withdraw(tx *ledger.Tx, cfg VaultConfig, poolAddr common.Address, balance sdkmath.Int, sa types.SubAction, receipt *types.ActionReceipt) (sdkmath.Int, error) {
	ctx := tx.Context()
	lp, err := cfg.Vault.Withdraw(ctx, poolAddr, sa.Shares)
	if err != nil {
		return balance, fmt.Errorf("%w: withdraw %s: %w", ErrRebindFailed, sa.Asset.Hex(), err)
	}
	base, err := cfg.Depositor.RemoveLiquidityOneCoin(ctx, lp, cfg.BaseAssetIndex, sa.BaseAmount)
	if err != nil {
		err = fmt.Errorf("%w: redeem %s: %w", ErrRebindFailed, sa.Asset.Hex(), err)
		shares, rerr := cfg.Vault.Deposit(ctx, poolAddr, lp)
		if rerr != nil {
			strategyLogger.Error().Err(rerr).Str("asset", sa.Asset.Hex()).Str("lp", lp.String()).Msg("LP left outside the vault")
			receipt.SharesChanged = sa.Shares.Neg()
			return balance.Sub(sa.Shares), err
		}
		receipt.SharesChanged = shares.Sub(sa.Shares)
		return balance.Sub(sa.Shares).Add(shares), err
	}
	receipt.SharesChanged = sa.Shares.Neg()
	receipt.BaseAmount = base
	s.adjustBuffer(poolAddr, base)
	return balance.Sub(sa.Shares), nil
}

// deposit moves sa.BaseAmount from the buffer into the vault. When the vault refuses the LP it is
// redeemed back into the buffer.
func (s *InstantRebind) deposit(tx *ledger.Tx, cfg VaultConfig, poolAddr common.Address, balance sdkmath.Int, sa types.SubAction, receipt *types.ActionReceipt) (sdkmath.Int, error) {
	ctx := tx.Context()
	amounts := make([]sdkmath.Int, cfg.AmountsLength)
	for i := range amounts {
		amounts[i] = sdkmath.ZeroInt()
	}
	amounts[cfg.BaseAssetIndex] = sa.BaseAmount
	lp, err := cfg.Depositor.AddLiquidity(ctx, amounts, sdkmath.ZeroInt())
	if err != nil {
		return balance, fmt.Errorf("%w: add liquidity for %s: %w", ErrRebindFailed, sa.Asset.Hex(), err)
	}
	s.adjustBuffer(poolAddr, sa.BaseAmount.Neg())

	shares, err := cfg.Vault.Deposit(ctx, poolAddr, lp)
	if err != nil {
		err = fmt.Errorf("%w: deposit %s: %w", ErrRebindFailed, sa.Asset.Hex(), err)
		base, rerr := cfg.Depositor.RemoveLiquidityOneCoin(ctx, lp, cfg.BaseAssetIndex, sdkmath.ZeroInt())
		if rerr != nil {
			strategyLogger.Error().Err(rerr).Str("asset", sa.Asset.Hex()).Str("lp", lp.String()).Msg("LP left outside the vault")
			return balance, err
		}
		s.adjustBuffer(poolAddr, base)
		return balance, err
	}
	receipt.SharesChanged = shares
	receipt.BaseAmount = sa.BaseAmount
	return balance.Add(shares), nil
}

func (s *InstantRebind) adjustBuffer(poolAddr common.Address, delta sdkmath.Int) {
	s.vmu.Lock()
	defer s.vmu.Unlock()
	s.buffers[poolAddr] = s.buffer(poolAddr).Add(delta)
}

func failed(r types.ActionReceipt, err error) types.ActionReceipt {
	r.Success = false
	r.Message = err.Error()
	return r
}
