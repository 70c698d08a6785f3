package deployment

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/config"
	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/oracle"
	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/strategy"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	poker1   = common.HexToAddress("0xB1")
	poker2   = common.HexToAddress("0xB2")
	gasPrice = sdkmath.NewIntWithDecimal(100, 9)
)

type fixture struct {
	d     *Deployment
	clock *ledger.ManualClock
	rec   *events.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	desc, err := config.LoadDeployment("testdata/deployment.yaml")
	require.NoError(t, err)

	clock := ledger.NewManualClock(desc.Start(time.Now()))
	rec := events.NewRecorder()
	d, err := Build(context.Background(), desc, Options{Clock: clock, Sink: rec})
	require.NoError(t, err)
	rec.Reset()
	return fixture{d: d, clock: clock, rec: rec}
}

func (f fixture) client(t *testing.T, name string) common.Address {
	t.Helper()
	s, ok := f.d.Strategy(name)
	require.True(t, ok)
	return s.Address()
}

func (f fixture) report(t *testing.T, poker common.Address, client common.Address, reporterID uint64) (poke.Report, error) {
	t.Helper()
	var rep poke.Report
	_, err := f.d.Ledger.Execute(context.Background(), poker, gasPrice, func(tx *ledger.Tx) error {
		var err error
		rep, err = f.d.Layer.PokeFromReporter(tx, client, reporterID, poke.RewardOptions{})
		return err
	})
	return rep, err
}

func tokens(s string) sdkmath.Int {
	v, err := utils.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBuildWiresEveryComponent(t *testing.T) {
	f := newFixture(t)

	require.Len(t, f.d.Pools(), 2)
	assert.Equal(t, []string{"mcap", "yla"}, f.d.StrategyNames())
	assert.Equal(t, []uint64{1, 2}, f.d.Reporters())

	for _, addr := range f.d.Pools() {
		p, ok := f.d.Pool(addr)
		require.True(t, ok)
		c, ok := f.d.Controller(addr)
		require.True(t, ok)
		assert.Equal(t, c.Address(), p.Controller())
	}

	mcap := f.client(t, "mcap")
	info, err := f.d.Layer.ClientInfo(mcap, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, tokens("10000").String(), info.Credit.String())
	assert.Equal(t, time.Hour, info.MinReportInterval)
	assert.Equal(t, "idle", info.Phase)

	info, err = f.d.Layer.ClientInfo(f.client(t, "yla"), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, tokens("5000").String(), info.Credit.String())

	designated, err := f.d.Layer.DesignatedReporter(mcap)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), designated)

	_, ok := f.d.Vault(common.HexToAddress("0x4001"))
	assert.True(t, ok)
}

func TestPoolsShareRestrictions(t *testing.T) {
	f := newFixture(t)
	pipt, ok := f.d.PoolBySymbol("PIPT")
	require.True(t, ok)
	c, ok := f.d.Controller(pipt)
	require.True(t, ok)

	vote := func(target common.Address) (bool, error) {
		called := false
		_, err := f.d.Ledger.Execute(context.Background(), f.d.Owner, gasPrice, func(tx *ledger.Tx) error {
			return c.CallVoting(tx, target, func() error { called = true; return nil })
		})
		return called, err
	}

	called, err := vote(common.HexToAddress("0xC0DE"))
	require.NoError(t, err)
	assert.True(t, called)

	called, err = vote(common.HexToAddress("0xDEAD"))
	assert.ErrorIs(t, err, pool.ErrVotingDenied)
	assert.False(t, called)

	assert.Equal(t, tokens("1000000").String(), f.d.Restrictions.MaxTotalSupply(pipt).String())
	yeti, _ := f.d.PoolBySymbol("YETI")
	assert.True(t, f.d.Restrictions.MaxTotalSupply(yeti).IsZero())
}

func TestReportPokesMarketCapPool(t *testing.T) {
	f := newFixture(t)
	mcap := f.client(t, "mcap")

	rep, err := f.report(t, poker1, mcap, 1)
	require.NoError(t, err)

	pipt, ok := f.d.PoolBySymbol("PIPT")
	require.True(t, ok)
	assert.Equal(t, []common.Address{pipt}, rep.Poke.Poked)
	assert.True(t, rep.Compensation.Total.IsPositive())
	assert.Equal(t, 1, rep.Compensation.Messages)

	// 10*1000 : 5*1000 : 1*(5200-200)
	p, _ := f.d.Pool(pipt)
	end := f.clock.Now().Add(time.Hour)
	for i, want := range []string{"25", "12.5", "12.5"} {
		snap, err := p.AssetSnapshot(common.BigToAddress(sdkmath.NewInt(int64(0x3001+i)).BigInt()), end)
		require.NoError(t, err)
		assert.Equal(t, sdkmath.LegacyMustNewDecFromStr(want).String(), snap.TargetWeight.String())
	}

	info, err := f.d.Layer.ClientInfo(mcap, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, tokens("10000").Sub(rep.Compensation.Total).String(), info.Credit.String())
	r, err := f.d.Layer.Reporter(1)
	require.NoError(t, err)
	assert.Equal(t, rep.Compensation.Total.String(), r.Rewards.AmountOf("cvp").String())

	assert.Len(t, f.rec.OfKind(events.KindWeightScheduleUpdated), 3)
	assert.Len(t, f.rec.OfKind(events.KindPokeSummary), 1)
	assert.Len(t, f.rec.OfKind(events.KindReporterCompensated), 1)
}

func TestReportRebindsVaultPool(t *testing.T) {
	f := newFixture(t)

	rep, err := f.report(t, poker1, f.client(t, "yla"), 1)
	require.NoError(t, err)
	require.Len(t, rep.Poke.Receipts, 2)

	yeti, _ := f.d.PoolBySymbol("YETI")
	p, _ := f.d.Pool(yeti)
	b1, err := p.Balance(common.HexToAddress("0x4001"))
	require.NoError(t, err)
	b2, err := p.Balance(common.HexToAddress("0x4002"))
	require.NoError(t, err)
	assert.Equal(t, tokens("1500").String(), b1.String())
	assert.Equal(t, tokens("500").String(), b2.String())
	assert.Len(t, f.rec.OfKind(events.KindAssetRebound), 2)
}

func TestReportWindowAndDesignation(t *testing.T) {
	f := newFixture(t)
	mcap := f.client(t, "mcap")

	_, err := f.report(t, poker2, mcap, 2)
	assert.ErrorIs(t, err, poke.ErrNotDesignated)

	_, err = f.report(t, poker1, mcap, 1)
	require.NoError(t, err)

	_, err = f.report(t, poker1, mcap, 1)
	assert.ErrorIs(t, err, poke.ErrReportWindow)
	assert.True(t, errs.IsCategory(err, errs.Window))

	f.clock.Advance(time.Hour)
	_, err = f.report(t, poker1, mcap, 1)
	assert.NoError(t, err)
}

func TestFailedReportLeavesPoolUntouched(t *testing.T) {
	f := newFixture(t)
	mcap := f.client(t, "mcap")
	pipt, _ := f.d.PoolBySymbol("PIPT")
	p, _ := f.d.Pool(pipt)
	before := p.Snapshot(f.clock.Now())

	setRates := func(rates oracle.RateOracle) {
		_, err := f.d.Ledger.Execute(context.Background(), f.d.Owner, gasPrice, func(tx *ledger.Tx) error {
			return f.d.Layer.SetRateOracle(tx, rates)
		})
		require.NoError(t, err)
	}
	setRates(oracle.NewStaticRates())

	_, err := f.report(t, poker1, mcap, 1)
	require.ErrorIs(t, err, poke.ErrRateUnknown)
	assert.True(t, errs.IsCategory(err, errs.External))

	after := p.Snapshot(f.clock.Now())
	for i := range before.Assets {
		assert.Equal(t, before.Assets[i].TargetWeight.String(), after.Assets[i].TargetWeight.String())
		assert.Equal(t, before.Assets[i].ScheduleEnd, after.Assets[i].ScheduleEnd)
	}
	s, _ := f.d.Strategy("mcap")
	last, err := s.(*strategy.MarketCap).LastPoke(pipt)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
	info, err := f.d.Layer.ClientInfo(mcap, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, info.LastReport.IsZero())
	assert.Empty(t, f.rec.Events())

	// once the rate is back the same report goes through
	setRates(f.d.Rates)
	rep, err := f.report(t, poker1, mcap, 1)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{pipt}, rep.Poke.Poked)
}

func TestSlasherTakesOverdueClient(t *testing.T) {
	f := newFixture(t)
	mcap := f.client(t, "mcap")

	_, err := f.report(t, poker1, mcap, 1)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Hour)

	var rep poke.Report
	_, err = f.d.Ledger.Execute(context.Background(), poker2, gasPrice, func(tx *ledger.Tx) error {
		var err error
		rep, err = f.d.Layer.PokeFromSlasher(tx, mcap, 2, poke.RewardOptions{})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, tokens("10").String(), rep.Slashed.String())

	r, err := f.d.Layer.Reporter(1)
	require.NoError(t, err)
	assert.Equal(t, tokens("90").String(), r.Deposit.String())
	assert.Len(t, f.rec.OfKind(events.KindReporterSlashed), 1)
}

func TestBuildRejectsBadDescriptor(t *testing.T) {
	desc, err := config.LoadDeployment("testdata/deployment.yaml")
	require.NoError(t, err)
	desc.Pools[0].Assets[0].Weight = "not-a-weight"

	_, err = Build(context.Background(), desc, Options{Clock: ledger.NewManualClock(desc.Start(time.Now()))})
	assert.ErrorIs(t, err, utils.ErrConversionFailed)
}
