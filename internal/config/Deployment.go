package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

// Deployment describes the pools, strategies and incentive clients a keeper process builds and runs.
// Amounts use utils.ParseAmount notation ("40" whole tokens, "wei:40" base units); durations use time.ParseDuration.
type Deployment struct {
	Deployer  string `yaml:"deployer"`
	Owner     string `yaml:"owner"`
	StartTime string `yaml:"start_time"` // RFC 3339; empty starts at wall time

	Oracle       OracleSpec       `yaml:"oracle"`
	Incentives   IncentiveSpec    `yaml:"incentives"`
	Restrictions RestrictionsSpec `yaml:"restrictions"`
	Strategies   []StrategySpec   `yaml:"strategies"`
	Pools        []PoolSpec       `yaml:"pools"`
	Clients      []ClientSpec     `yaml:"clients"`
	Reporters    []ReporterSpec   `yaml:"reporters"`
}

type OracleSpec struct {
	URL     string            `yaml:"url"` // Overrides the static data when set; ORACLE_URL overrides this
	Timeout string            `yaml:"timeout"`
	Assets  []OracleAssetSpec `yaml:"assets"`
	Rates   []RateSpec        `yaml:"rates"`
}

type OracleAssetSpec struct {
	Address  string        `yaml:"address"`
	Symbol   string        `yaml:"symbol"`
	Price    string        `yaml:"price"` // USD per whole token
	Supply   string        `yaml:"supply"`
	Excluded []HoldingSpec `yaml:"excluded"`
}

type HoldingSpec struct {
	Holder  string `yaml:"holder"`
	Balance string `yaml:"balance"`
}

type RateSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Rate string `yaml:"rate"`
}

type IncentiveSpec struct {
	MinReportInterval  string `yaml:"min_report_interval"`
	MaxReportInterval  string `yaml:"max_report_interval"`
	LatePolicy         string `yaml:"late_policy"`
	MaxGasPriceGwei    uint64 `yaml:"max_gas_price_gwei"`
	MinimalDeposit     string `yaml:"minimal_deposit"`
	FixedBaseGas       uint64 `yaml:"fixed_base_gas"`
	FixedPerMessageGas uint64 `yaml:"fixed_per_message_gas"`
	BonusPlanID        uint64 `yaml:"bonus_plan_id"`
	BonusNumerator     uint64 `yaml:"bonus_numerator"`
	BonusDenominator   uint64 `yaml:"bonus_denominator"`
	BonusPerGas        uint64 `yaml:"bonus_per_gas"`
	InitialCredit      string `yaml:"initial_credit"`
	SlasherRewardPct   uint64 `yaml:"slasher_reward_pct"`
	ProtocolRewardPct  uint64 `yaml:"protocol_reward_pct"`
	IncentiveDenom     string `yaml:"incentive_denom"`
	NativeDenom        string `yaml:"native_denom"`
}

// RestrictionsSpec seeds the restriction policy every pool of the deployment shares.
type RestrictionsSpec struct {
	VotingAllowed     []string `yaml:"voting_allowed"`
	WithoutFee        []string `yaml:"without_fee"`
	TransferAllowList []string `yaml:"transfer_allow_list"` // Non-empty turns the allow-list on
}

type StrategySpec struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // market_cap or instant_rebind
	PokePeriod string `yaml:"poke_period"`

	// market_cap
	RatePolicy string `yaml:"rate_policy"`

	// instant_rebind
	MinBaseAssetRemainder string      `yaml:"min_base_asset_remainder"`
	UseVirtualPrice       bool        `yaml:"use_virtual_price"`
	MinDelta              string      `yaml:"min_delta"`
	Vaults                []VaultSpec `yaml:"vaults"`
}

// VaultSpec declares a simulated vault whose share token is bound in a rebind pool.
type VaultSpec struct {
	Asset          string `yaml:"asset"`
	Coins          int    `yaml:"coins"`
	BaseAssetIndex int    `yaml:"base_asset_index"`
	VirtualPrice   string `yaml:"virtual_price"`
	WithdrawFee    string `yaml:"withdraw_fee"`
	ExternalShares string `yaml:"external_shares"` // Shares held outside the pool, backed one to one by LP
}

type PoolSpec struct {
	Symbol             string          `yaml:"symbol"`
	Name               string          `yaml:"name"`
	SwapFee            string          `yaml:"swap_fee"`
	Strategy           string          `yaml:"strategy"`
	MinWeightPerSecond string          `yaml:"min_weight_per_second"`
	MaxWeightPerSecond string          `yaml:"max_weight_per_second"`
	Buffer             string          `yaml:"buffer"` // Base asset handed to a rebind strategy for this pool
	MaxTotalSupply     string          `yaml:"max_total_supply"`
	Assets             []PoolAssetSpec `yaml:"assets"`
}

type PoolAssetSpec struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
	Weight  string `yaml:"weight"`
}

type ClientSpec struct {
	Strategy        string `yaml:"strategy"`
	Admin           string `yaml:"admin"`
	Credit          string `yaml:"credit"` // Defaults to the incentive parameters' initial credit
	MaxGasPriceGwei uint64 `yaml:"max_gas_price_gwei"`
}

type ReporterSpec struct {
	Admin   string `yaml:"admin"`
	Poker   string `yaml:"poker"`
	Deposit string `yaml:"deposit"`
}

// LoadDeployment reads and validates a descriptor.
func LoadDeployment(path string) (*Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deployment: %w", err)
	}
	return ParseDeployment(data)
}

func ParseDeployment(data []byte) (*Deployment, error) {
	d := &Deployment{}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse deployment: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the references and addresses of the descriptor. Amounts are parsed when it is built.
func (d *Deployment) Validate() error {
	for field, v := range map[string]string{"deployer": d.Deployer, "owner": d.Owner} {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("%s must be a hex address, got %q", field, v)
		}
	}
	if d.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, d.StartTime); err != nil {
			return fmt.Errorf("start_time: %w", err)
		}
	}

	for field, list := range map[string][]string{
		"voting_allowed":      d.Restrictions.VotingAllowed,
		"without_fee":         d.Restrictions.WithoutFee,
		"transfer_allow_list": d.Restrictions.TransferAllowList,
	} {
		for _, v := range list {
			if !common.IsHexAddress(v) {
				return fmt.Errorf("restrictions.%s: %q is not a hex address", field, v)
			}
		}
	}

	strategies := make(map[string]bool)
	for i, s := range d.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
		if strategies[s.Name] {
			return fmt.Errorf("strategy %q declared twice", s.Name)
		}
		strategies[s.Name] = true
		if s.Kind != "market_cap" && s.Kind != "instant_rebind" {
			return fmt.Errorf("strategy %q: unknown kind %q", s.Name, s.Kind)
		}
		for j, v := range s.Vaults {
			if !common.IsHexAddress(v.Asset) {
				return fmt.Errorf("strategy %q vaults[%d].asset must be a hex address", s.Name, j)
			}
			if v.Coins <= 0 || v.BaseAssetIndex < 0 || v.BaseAssetIndex >= v.Coins {
				return fmt.Errorf("strategy %q vaults[%d]: base_asset_index %d outside %d coins", s.Name, j, v.BaseAssetIndex, v.Coins)
			}
		}
	}

	for i, p := range d.Pools {
		if p.Symbol == "" {
			return fmt.Errorf("pools[%d].symbol is required", i)
		}
		if p.Strategy != "" && !strategies[p.Strategy] {
			return fmt.Errorf("pool %s: unknown strategy %q", p.Symbol, p.Strategy)
		}
		if len(p.Assets) < 2 {
			return fmt.Errorf("pool %s needs at least two assets", p.Symbol)
		}
		for j, a := range p.Assets {
			if !common.IsHexAddress(a.Address) {
				return fmt.Errorf("pool %s assets[%d].address must be a hex address", p.Symbol, j)
			}
		}
	}

	for i, c := range d.Clients {
		if !strategies[c.Strategy] {
			return fmt.Errorf("clients[%d]: unknown strategy %q", i, c.Strategy)
		}
		if !common.IsHexAddress(c.Admin) {
			return fmt.Errorf("clients[%d].admin must be a hex address", i)
		}
	}
	for i, r := range d.Reporters {
		if !common.IsHexAddress(r.Admin) || !common.IsHexAddress(r.Poker) {
			return fmt.Errorf("reporters[%d]: admin and poker must be hex addresses", i)
		}
	}
	return nil
}

// Start returns the descriptor's start time, or fallback when none is set.
func (d *Deployment) Start(fallback time.Time) time.Time {
	if d.StartTime == "" {
		return fallback
	}
	t, _ := time.Parse(time.RFC3339, d.StartTime)
	return t
}

// Parameters applies the descriptor's incentive overrides to DefaultIncentiveParameters.
func (s IncentiveSpec) Parameters() (types.IncentiveParameters, error) {
	o := types.IncentiveParameters{
		LatePolicy:            s.LatePolicy,
		MaxGasPriceGwei:       s.MaxGasPriceGwei,
		UseCustomCompensation: s.FixedBaseGas > 0 || s.FixedPerMessageGas > 0,
		FixedBaseGas:          s.FixedBaseGas,
		FixedPerMessageGas:    s.FixedPerMessageGas,
		BonusPlanID:           s.BonusPlanID,
		BonusNumerator:        s.BonusNumerator,
		BonusDenominator:      s.BonusDenominator,
		BonusPerGas:           s.BonusPerGas,
		SlasherRewardPct:      s.SlasherRewardPct,
		ProtocolRewardPct:     s.ProtocolRewardPct,
		IncentiveDenom:        s.IncentiveDenom,
		NativeDenom:           s.NativeDenom,
	}
	var err error
	if o.MinReportInterval, err = ParseOptionalDuration("min_report_interval", s.MinReportInterval); err != nil {
		return types.IncentiveParameters{}, err
	}
	if o.MaxReportInterval, err = ParseOptionalDuration("max_report_interval", s.MaxReportInterval); err != nil {
		return types.IncentiveParameters{}, err
	}
	if s.MinimalDeposit != "" {
		if o.MinimalDeposit, err = utils.ParseAmount(s.MinimalDeposit); err != nil {
			return types.IncentiveParameters{}, fmt.Errorf("minimal_deposit: %w", err)
		}
	}
	if s.InitialCredit != "" {
		if o.InitialCredit, err = utils.ParseAmount(s.InitialCredit); err != nil {
			return types.IncentiveParameters{}, fmt.Errorf("initial_credit: %w", err)
		}
	}
	return IncentiveParametersFor(&o), nil
}

// ParseOptionalDuration parses a descriptor duration field, returning 0 for "".
func ParseOptionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
