/*

This file builds a complete in-memory deployment from a descriptor: the oracle, the pools and their
controllers, the weight strategies, and the incentive layer with its clients and reporters.

Every setup step runs as a ledger transaction from the account the contracts would see, so the same
permission checks apply as at run time.

*/

package deployment

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/powerpool/powerindex-keeper/internal/config"
	"github.com/powerpool/powerindex-keeper/internal/controller"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/oracle"
	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/restrictions"
	"github.com/powerpool/powerindex-keeper/internal/strategy"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
	"github.com/powerpool/powerindex-keeper/internal/vault"
)

var deploymentLogger = logger.GetForComponent("deployment")

// ExternalHolder holds the vault shares a descriptor places outside the pools.
var ExternalHolder = common.HexToAddress("0x00000000000000000000000000000000000E0000")

// Options override parts of the descriptor at build time.
type Options struct {
	Clock     ledger.Clock  // Defaults to the system clock
	Sink      events.Sink   // Receives the events of every committed transaction
	OracleURL string        // Takes precedence over the descriptor's oracle URL
	Observer  poke.Observer // Installed on the incentive layer
}

// Deployment is a running set of pools, strategies and the incentive layer behind one ledger.
type Deployment struct {
	Ledger   *ledger.Ledger
	Deployer common.Address
	Owner    common.Address
	Params   types.IncentiveParameters

	Oracle       oracle.Oracle
	Rates        oracle.RateOracle
	Layer        *poke.Layer
	Restrictions *restrictions.Registry // Shared by every pool

	pools       map[common.Address]*pool.Pool
	poolOrder   []common.Address
	controllers map[common.Address]*controller.Controller
	strategies  map[string]strategy.Strategy
	stratOrder  []string
	vaults      map[common.Address]*vault.SimVault
	reporters   []uint64
}

// Build deploys everything desc declares.
func Build(ctx context.Context, desc *config.Deployment, opts Options) (*Deployment, error) {
	params, err := desc.Incentives.Parameters()
	if err != nil {
		return nil, fmt.Errorf("incentive parameters: %w", err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = ledger.SystemClock{}
	}

	d := &Deployment{
		Ledger:      ledger.New(clock, opts.Sink),
		Deployer:    common.HexToAddress(desc.Deployer),
		Owner:       common.HexToAddress(desc.Owner),
		Params:      params,
		pools:       make(map[common.Address]*pool.Pool),
		controllers: make(map[common.Address]*controller.Controller),
		strategies:  make(map[string]strategy.Strategy),
		vaults:      make(map[common.Address]*vault.SimVault),
	}

	if err := d.buildOracle(desc.Oracle, opts.OracleURL); err != nil {
		return nil, err
	}

	layer, err := poke.New(d.Ledger.Deploy(d.Deployer), d.Owner, d.Rates, params)
	if err != nil {
		return nil, err
	}
	if opts.Observer != nil {
		layer.SetObserver(opts.Observer)
	}
	d.Layer = layer

	steps := []struct {
		name string
		run  func(context.Context, *config.Deployment) error
	}{
		{"strategies", d.buildStrategies},
		{"restrictions", d.buildRestrictions},
		{"pools", d.buildPools},
		{"vaults", d.buildVaults},
		{"exclusions", d.applyExclusions},
		{"clients", d.buildClients},
		{"reporters", d.buildReporters},
	}
	for _, step := range steps {
		if err := step.run(ctx, desc); err != nil {
			return nil, fmt.Errorf("deploy %s: %w", step.name, err)
		}
	}

	deploymentLogger.Info().
		Int("pools", len(d.poolOrder)).
		Int("strategies", len(d.stratOrder)).
		Int("clients", len(desc.Clients)).
		Int("reporters", len(d.reporters)).
		Str("layer", layer.Address().Hex()).
		Msg("Deployment built")
	return d, nil
}

func (d *Deployment) exec(ctx context.Context, sender common.Address, fn func(tx *ledger.Tx) error) error {
	_, err := d.Ledger.Execute(ctx, sender, sdkmath.ZeroInt(), fn)
	return err
}

func (d *Deployment) buildOracle(spec config.OracleSpec, urlOverride string) error {
	url := urlOverride
	if url == "" {
		url = spec.URL
	}
	if url != "" {
		timeout, err := config.ParseOptionalDuration("oracle.timeout", spec.Timeout)
		if err != nil {
			return err
		}
		h := oracle.NewHTTP(url, timeout)
		d.Oracle, d.Rates = h, h
		deploymentLogger.Info().Str("url", url).Msg("Using HTTP oracle")
		return nil
	}

	static := oracle.NewStatic()
	for _, a := range spec.Assets {
		addr := common.HexToAddress(a.Address)
		price, err := utils.ParseDec(a.Price)
		if err != nil {
			return fmt.Errorf("oracle asset %s price: %w", a.Address, err)
		}
		supply, err := utils.ParseAmount(a.Supply)
		if err != nil {
			return fmt.Errorf("oracle asset %s supply: %w", a.Address, err)
		}
		static.SetAsset(addr, price, supply)
		for _, h := range a.Excluded {
			bal, err := utils.ParseAmount(h.Balance)
			if err != nil {
				return fmt.Errorf("oracle asset %s excluded balance: %w", a.Address, err)
			}
			static.SetBalance(addr, common.HexToAddress(h.Holder), bal)
		}
	}
	rates := oracle.NewStaticRates()
	for _, r := range spec.Rates {
		rate, err := utils.ParseDec(r.Rate)
		if err != nil {
			return fmt.Errorf("rate %s->%s: %w", r.From, r.To, err)
		}
		rates.SetRate(r.From, r.To, rate)
	}
	d.Oracle, d.Rates = static, rates
	return nil
}

func (d *Deployment) buildStrategies(ctx context.Context, desc *config.Deployment) error {
	for _, spec := range desc.Strategies {
		period, err := config.ParseOptionalDuration("poke_period", spec.PokePeriod)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", spec.Name, err)
		}
		addr := d.Ledger.Deploy(d.Deployer)

		var s strategy.Strategy
		switch spec.Kind {
		case strategy.KindMarketCap:
			policy, err := strategy.ParseRatePolicy(spec.RatePolicy)
			if err != nil {
				return fmt.Errorf("strategy %s: %w", spec.Name, err)
			}
			s = strategy.NewMarketCap(addr, d.Owner, d.Oracle, strategy.MarketCapOptions{PokePeriod: period, Policy: policy})
		case strategy.KindInstantRebind:
			opts := strategy.InstantRebindOptions{PokePeriod: period, UseVirtualPriceEstimation: spec.UseVirtualPrice}
			if opts.MinBaseAssetRemainder, err = parseOptionalAmount(spec.MinBaseAssetRemainder); err != nil {
				return fmt.Errorf("strategy %s min_base_asset_remainder: %w", spec.Name, err)
			}
			if opts.MinDelta, err = parseOptionalAmount(spec.MinDelta); err != nil {
				return fmt.Errorf("strategy %s min_delta: %w", spec.Name, err)
			}
			s = strategy.NewInstantRebind(addr, d.Owner, opts)
		default:
			return fmt.Errorf("strategy %s: unknown kind %q", spec.Name, spec.Kind)
		}

		// only the incentive layer may poke
		if err := d.exec(ctx, d.Owner, func(tx *ledger.Tx) error { return s.SetGate(tx, d.Layer.Address()) }); err != nil {
			return fmt.Errorf("strategy %s gate: %w", spec.Name, err)
		}
		d.strategies[spec.Name] = s
		d.stratOrder = append(d.stratOrder, spec.Name)
	}
	return nil
}

func (d *Deployment) buildRestrictions(ctx context.Context, desc *config.Deployment) error {
	d.Restrictions = restrictions.New(d.Ledger.Deploy(d.Deployer), d.Owner)
	spec := desc.Restrictions
	return d.exec(ctx, d.Owner, func(tx *ledger.Tx) error {
		if len(spec.VotingAllowed) > 0 {
			if err := d.Restrictions.SetVotingAllowed(tx, hexAddresses(spec.VotingAllowed), true); err != nil {
				return err
			}
		}
		if len(spec.WithoutFee) > 0 {
			if err := d.Restrictions.SetWithoutFee(tx, hexAddresses(spec.WithoutFee), true); err != nil {
				return err
			}
		}
		if len(spec.TransferAllowList) > 0 {
			return d.Restrictions.SetTransferAllowList(tx, true, hexAddresses(spec.TransferAllowList), true)
		}
		return nil
	})
}

func (d *Deployment) buildPools(ctx context.Context, desc *config.Deployment) error {
	for _, spec := range desc.Pools {
		cfg := pool.Config{Address: d.Ledger.Deploy(d.Deployer), Name: spec.Name, Symbol: spec.Symbol}
		var err error
		if cfg.SwapFee, err = parseOptionalDec(spec.SwapFee); err != nil {
			return fmt.Errorf("pool %s swap_fee: %w", spec.Symbol, err)
		}
		if cfg.MinWeightPerSecond, err = parseOptionalDec(spec.MinWeightPerSecond); err != nil {
			return fmt.Errorf("pool %s min_weight_per_second: %w", spec.Symbol, err)
		}
		if cfg.MaxWeightPerSecond, err = parseOptionalDec(spec.MaxWeightPerSecond); err != nil {
			return fmt.Errorf("pool %s max_weight_per_second: %w", spec.Symbol, err)
		}
		maxSupply, err := parseOptionalAmount(spec.MaxTotalSupply)
		if err != nil {
			return fmt.Errorf("pool %s max_total_supply: %w", spec.Symbol, err)
		}

		var p *pool.Pool
		err = d.exec(ctx, d.Deployer, func(tx *ledger.Tx) error {
			created, err := pool.New(tx, cfg)
			if err != nil {
				return err
			}
			for _, a := range spec.Assets {
				balance, err := utils.ParseAmount(a.Balance)
				if err != nil {
					return fmt.Errorf("asset %s balance: %w", a.Address, err)
				}
				weight, err := utils.ParseDec(a.Weight)
				if err != nil {
					return fmt.Errorf("asset %s weight: %w", a.Address, err)
				}
				if err := created.Bind(tx, common.HexToAddress(a.Address), balance, weight); err != nil {
					return err
				}
			}
			p = created
			return created.Finalize(tx)
		})
		if err != nil {
			return fmt.Errorf("pool %s: %w", spec.Symbol, err)
		}

		ctrlAddr := d.Ledger.Deploy(d.Deployer)
		var c *controller.Controller
		err = d.exec(ctx, d.Deployer, func(tx *ledger.Tx) error {
			c = controller.New(tx, ctrlAddr, p, d.Owner, controller.Options{})
			return p.SetController(tx, ctrlAddr)
		})
		if err != nil {
			return fmt.Errorf("pool %s controller: %w", spec.Symbol, err)
		}

		err = d.exec(ctx, d.Owner, func(tx *ledger.Tx) error {
			if maxSupply.IsPositive() {
				if err := d.Restrictions.SetMaxTotalSupply(tx, p.Address(), maxSupply); err != nil {
					return err
				}
			}
			return c.SetRestrictions(tx, d.Restrictions)
		})
		if err != nil {
			return fmt.Errorf("pool %s restrictions: %w", spec.Symbol, err)
		}

		if spec.Strategy != "" {
			s := d.strategies[spec.Strategy]
			err = d.exec(ctx, d.Owner, func(tx *ledger.Tx) error {
				if err := c.SetWeightsStrategy(tx, s.Address()); err != nil {
					return err
				}
				return s.AddPool(tx, c)
			})
			if err != nil {
				return fmt.Errorf("pool %s strategy: %w", spec.Symbol, err)
			}
		}

		d.pools[p.Address()] = p
		d.poolOrder = append(d.poolOrder, p.Address())
		d.controllers[p.Address()] = c
	}
	return nil
}

// buildVaults backs every vault-share asset of a rebind strategy's pools with a simulated vault.
func (d *Deployment) buildVaults(ctx context.Context, desc *config.Deployment) error {
	for _, spec := range desc.Strategies {
		rebind, ok := d.strategies[spec.Name].(*strategy.InstantRebind)
		if !ok {
			continue
		}
		for _, vs := range spec.Vaults {
			asset := common.HexToAddress(vs.Asset)
			vp, err := parseOptionalDec(vs.VirtualPrice)
			if err != nil {
				return fmt.Errorf("vault %s virtual_price: %w", vs.Asset, err)
			}
			if vp.IsNil() {
				vp = sdkmath.LegacyOneDec()
			}
			fee, err := parseOptionalDec(vs.WithdrawFee)
			if err != nil {
				return fmt.Errorf("vault %s withdraw_fee: %w", vs.Asset, err)
			}
			if fee.IsNil() {
				fee = sdkmath.LegacyZeroDec()
			}
			external, err := parseOptionalAmount(vs.ExternalShares)
			if err != nil {
				return fmt.Errorf("vault %s external_shares: %w", vs.Asset, err)
			}

			v := vault.NewSimVault(asset)
			for _, poolAddr := range rebind.Pools() {
				if bal, err := d.pools[poolAddr].Balance(asset); err == nil {
					v.Seed(poolAddr, bal, bal)
				}
			}
			if external.IsPositive() {
				v.Seed(ExternalHolder, external, external)
			}
			d.vaults[asset] = v

			cfg := strategy.VaultConfig{
				Vault:          v,
				Depositor:      vault.NewSimDepositor(vs.Coins, vp, fee),
				AmountsLength:  vs.Coins,
				BaseAssetIndex: vs.BaseAssetIndex,
			}
			if err := d.exec(ctx, d.Owner, func(tx *ledger.Tx) error { return rebind.SetVaultConfig(tx, asset, cfg) }); err != nil {
				return fmt.Errorf("vault %s: %w", vs.Asset, err)
			}
		}
	}

	for _, spec := range desc.Pools {
		if spec.Buffer == "" {
			continue
		}
		rebind, ok := d.strategies[spec.Strategy].(*strategy.InstantRebind)
		if !ok {
			return fmt.Errorf("pool %s: buffer needs an instant_rebind strategy", spec.Symbol)
		}
		amount, err := utils.ParseAmount(spec.Buffer)
		if err != nil {
			return fmt.Errorf("pool %s buffer: %w", spec.Symbol, err)
		}
		poolAddr, _ := d.PoolBySymbol(spec.Symbol)
		if err := d.exec(ctx, d.Owner, func(tx *ledger.Tx) error { return rebind.FundBuffer(tx, poolAddr, amount) }); err != nil {
			return fmt.Errorf("pool %s buffer: %w", spec.Symbol, err)
		}
	}
	return nil
}

// applyExclusions hands the oracle's excluded holders to every market-cap strategy.
func (d *Deployment) applyExclusions(ctx context.Context, desc *config.Deployment) error {
	for _, name := range d.stratOrder {
		mc, ok := d.strategies[name].(*strategy.MarketCap)
		if !ok {
			continue
		}
		for _, a := range desc.Oracle.Assets {
			if len(a.Excluded) == 0 {
				continue
			}
			holders := make([]common.Address, len(a.Excluded))
			for i, h := range a.Excluded {
				holders[i] = common.HexToAddress(h.Holder)
			}
			asset := common.HexToAddress(a.Address)
			if err := d.exec(ctx, d.Owner, func(tx *ledger.Tx) error { return mc.SetExcludedBalances(tx, asset, holders) }); err != nil {
				return fmt.Errorf("strategy %s exclusions: %w", name, err)
			}
		}
	}
	return nil
}

func (d *Deployment) buildClients(ctx context.Context, desc *config.Deployment) error {
	for _, spec := range desc.Clients {
		s := d.strategies[spec.Strategy]
		admin := common.HexToAddress(spec.Admin)
		maxGas := spec.MaxGasPriceGwei
		if maxGas == 0 {
			maxGas = d.Params.MaxGasPriceGwei
		}
		credit := d.Params.InitialCredit
		if spec.Credit != "" {
			var err error
			if credit, err = utils.ParseAmount(spec.Credit); err != nil {
				return fmt.Errorf("client %s credit: %w", spec.Strategy, err)
			}
		}

		err := d.exec(ctx, d.Owner, func(tx *ledger.Tx) error {
			return d.Layer.AddClient(tx, s, admin, d.Params.UseCustomCompensation, maxGas, d.Params.MinReportInterval, d.Params.MaxReportInterval)
		})
		if err != nil {
			return fmt.Errorf("client %s: %w", spec.Strategy, err)
		}
		if credit.IsNil() || !credit.IsPositive() {
			continue
		}
		if err := d.exec(ctx, admin, func(tx *ledger.Tx) error { return d.Layer.AddCredit(tx, s.Address(), credit) }); err != nil {
			return fmt.Errorf("client %s credit: %w", spec.Strategy, err)
		}
	}
	return nil
}

func (d *Deployment) buildReporters(ctx context.Context, desc *config.Deployment) error {
	for i, spec := range desc.Reporters {
		deposit, err := parseOptionalAmount(spec.Deposit)
		if err != nil {
			return fmt.Errorf("reporter %d deposit: %w", i, err)
		}
		var id uint64
		err = d.exec(ctx, common.HexToAddress(spec.Admin), func(tx *ledger.Tx) error {
			created, err := d.Layer.CreateReporter(tx, common.HexToAddress(spec.Poker))
			if err != nil {
				return err
			}
			id = created
			if deposit.IsPositive() {
				return d.Layer.AddDeposit(tx, created, deposit)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("reporter %d: %w", i, err)
		}
		d.reporters = append(d.reporters, id)
	}
	return nil
}

// Pools returns the pool addresses in declaration order.
func (d *Deployment) Pools() []common.Address {
	return append([]common.Address(nil), d.poolOrder...)
}

func (d *Deployment) Pool(addr common.Address) (*pool.Pool, bool) {
	p, ok := d.pools[addr]
	return p, ok
}

func (d *Deployment) PoolBySymbol(symbol string) (common.Address, bool) {
	for _, addr := range d.poolOrder {
		if d.pools[addr].Symbol() == symbol {
			return addr, true
		}
	}
	return common.Address{}, false
}

func (d *Deployment) Controller(poolAddr common.Address) (*controller.Controller, bool) {
	c, ok := d.controllers[poolAddr]
	return c, ok
}

// StrategyNames returns the strategy names in declaration order.
func (d *Deployment) StrategyNames() []string {
	return append([]string(nil), d.stratOrder...)
}

func (d *Deployment) Strategy(name string) (strategy.Strategy, bool) {
	s, ok := d.strategies[name]
	return s, ok
}

// Vault returns the simulated vault behind a rebind asset.
func (d *Deployment) Vault(asset common.Address) (*vault.SimVault, bool) {
	v, ok := d.vaults[asset]
	return v, ok
}

// Reporters returns the ids of the reporters the descriptor created.
func (d *Deployment) Reporters() []uint64 {
	return append([]uint64(nil), d.reporters...)
}

// PoolSnapshots reads every pool at the current ledger time.
func (d *Deployment) PoolSnapshots() []types.PoolSnapshot {
	var out []types.PoolSnapshot
	_ = d.Ledger.Read(func(now time.Time) error {
		for _, addr := range d.poolOrder {
			out = append(out, d.pools[addr].Snapshot(now))
		}
		return nil
	})
	return out
}

func hexAddresses(list []string) []common.Address {
	out := make([]common.Address, len(list))
	for i, v := range list {
		out[i] = common.HexToAddress(v)
	}
	return out
}

func parseOptionalDec(s string) (sdkmath.LegacyDec, error) {
	if s == "" {
		return sdkmath.LegacyDec{}, nil
	}
	return utils.ParseDec(s)
}

func parseOptionalAmount(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	return utils.ParseAmount(s)
}
