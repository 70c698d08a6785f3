package strategy

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/controller"
	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/oracle"
	"github.com/powerpool/powerindex-keeper/internal/pool"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var (
	mcapPool = common.HexToAddress("0x9100")
	mcaps    = []int64{40, 20, 10, 10, 8, 6, 4, 2}
	expected = []string{"20", "10", "5", "5", "4", "3", "2", "1"}
	holder   = common.HexToAddress("0x4010")
)

type mcapFixture struct {
	strategy *MarketCap
	ctrl     *controller.Controller
	pool     *pool.Pool
	oracle   *oracle.Static
}

// newMcapFixture prices every asset at 1 with a supply equal to its market cap in tokens.
// Asset 0 carries an extra 10 tokens held by an excluded address.
func newMcapFixture(t *testing.T, policy RatePolicy) mcapFixture {
	t.Helper()
	weights := make([]string, len(mcaps))
	for i := range weights {
		weights[i] = "6.25"
	}
	ctrl, p := newManagedPool(t, mcapPool, utils.Tokens(1000), weights...)

	o := oracle.NewStatic()
	for i, m := range mcaps {
		supply := utils.Tokens(m)
		if i == 0 {
			supply = utils.Tokens(m + 10)
		}
		o.SetAsset(asset(i), sdkmath.LegacyOneDec(), supply)
	}
	o.SetBalance(asset(0), holder, utils.Tokens(10))

	s := NewMarketCap(strategyAddr, owner, o, MarketCapOptions{PokePeriod: time.Hour, Policy: policy})
	require.NoError(t, s.AddPool(txAt(owner, start), ctrl))
	require.NoError(t, s.SetExcludedBalances(txAt(owner, start), asset(0), []common.Address{holder}))
	return mcapFixture{strategy: s, ctrl: ctrl, pool: p, oracle: o}
}

func TestMarketCapComputeWeights(t *testing.T) {
	f := newMcapFixture(t, RateExtend)

	data, err := f.strategy.ComputeWeights(txAt(owner, start).Context(), mcapPool)
	require.NoError(t, err)
	require.Len(t, data, len(expected))

	total := sdkmath.LegacyZeroDec()
	for i, d := range data {
		assert.Equal(t, dec(expected[i]).String(), d.Weight.String(), "asset %d", i)
		total = total.Add(d.Weight)
	}
	assert.True(t, total.Equal(pool.NormalizedTotalWeight))
	assert.Equal(t, utils.Tokens(10).String(), data[0].ExcludedBalance.String())
	assert.Equal(t, utils.Tokens(40).String(), data[0].CirculatingSupply.String())
}

func TestMarketCapPokeSchedulesWeights(t *testing.T) {
	f := newMcapFixture(t, RateExtend)
	tx := txAt(stranger, start)

	res, err := f.strategy.Poke(tx, nil)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{mcapPool}, res.Poked)
	assert.Equal(t, 1, res.Messages())
	assert.Len(t, tx.Events(), 9)
	assert.Equal(t, 8, events.Count(tx.Events(), events.KindWeightScheduleUpdated))
	assert.Equal(t, events.KindPokeSummary, tx.Events()[8].Kind)
	assert.Equal(t, "3600", tx.Events()[8].Attr("window_seconds"))

	end := start.Add(time.Hour)
	for i, want := range expected {
		w, err := f.pool.EffectiveWeight(asset(i), end)
		require.NoError(t, err)
		assert.Equal(t, dec(want).String(), w.String(), "asset %d", i)
	}
	for s := 0; s <= 3600; s += 450 {
		total := f.pool.TotalEffectiveWeight(start.Add(time.Duration(s) * time.Second))
		assert.True(t, total.Sub(pool.NormalizedTotalWeight).Abs().LTE(dec("0.000000000000000100")), total.String())
	}

	last, err := f.strategy.LastPoke(mcapPool)
	require.NoError(t, err)
	assert.Equal(t, start, last)
}

func TestMarketCapEarlyPokeIsNoop(t *testing.T) {
	f := newMcapFixture(t, RateExtend)
	_, err := f.strategy.Poke(txAt(stranger, start), nil)
	require.NoError(t, err)

	early := start.Add(30 * time.Minute)
	f.oracle.SetPrice(asset(7), dec("10"))
	tx := txAt(stranger, early)
	res, err := f.strategy.Poke(tx, []common.Address{mcapPool})
	require.NoError(t, err)
	assert.Empty(t, res.Poked)
	assert.Equal(t, []common.Address{mcapPool}, res.Skipped)
	assert.Empty(t, tx.Events())

	snap, err := f.pool.AssetSnapshot(asset(7), early)
	require.NoError(t, err)
	assert.True(t, snap.TargetWeight.Equal(dec("1")))

	state, err := f.strategy.Cooldown(mcapPool, early)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, state.Remaining(early))
}

func TestMarketCapRepokeWithUnchangedPrices(t *testing.T) {
	f := newMcapFixture(t, RateExtend)
	_, err := f.strategy.Poke(txAt(stranger, start), nil)
	require.NoError(t, err)

	next := start.Add(time.Hour)
	tx := txAt(stranger, next)
	res, err := f.strategy.Poke(tx, nil)
	require.NoError(t, err)
	assert.Len(t, res.Poked, 1)
	assert.Equal(t, 8, events.Count(tx.Events(), events.KindWeightScheduleUpdated))
	for i, want := range expected {
		snap, err := f.pool.AssetSnapshot(asset(i), next)
		require.NoError(t, err)
		assert.Equal(t, dec(want).String(), snap.TargetWeight.String())
		assert.Equal(t, dec(want).String(), snap.EffectiveWeight.String())
	}
}

func TestMarketCapDoublingPriceRaisesShare(t *testing.T) {
	f := newMcapFixture(t, RateExtend)
	f.oracle.SetPrice(asset(0), dec("2"))

	data, err := f.strategy.ComputeWeights(txAt(owner, start).Context(), mcapPool)
	require.NoError(t, err)
	assert.True(t, data[0].Weight.GT(dec("20")))

	// every other asset shrinks by 100/140
	scale := dec("100").Quo(dec("140"))
	for i := 1; i < len(expected); i++ {
		want := dec(expected[i]).Mul(scale)
		rel := utils.RelativeDiff(data[i].Weight, want)
		assert.Truef(t, rel.LTE(dec("0.0000001")), "asset %d: %s vs %s", i, data[i].Weight, want)
		assert.True(t, data[i].Weight.LT(dec(expected[i])))
	}
}

func TestMarketCapRateLimitExtendsWindow(t *testing.T) {
	f := newMcapFixture(t, RateExtend)
	require.NoError(t, f.ctrl.SetWeightPerSecondBounds(txAt(owner, start), asset(0), sdkmath.LegacyZeroDec(), dec("0.001")))

	tx := txAt(stranger, start)
	_, err := f.strategy.Poke(tx, nil)
	require.NoError(t, err)

	// 13.75 at 0.001/s needs 13750s
	summary := tx.Events()[len(tx.Events())-1]
	assert.Equal(t, "13750", summary.Attr("window_seconds"))
	snap, err := f.pool.AssetSnapshot(asset(1), start)
	require.NoError(t, err)
	assert.Equal(t, start.Add(13750*time.Second), snap.ScheduleEnd)
}

func TestMarketCapRateLimitFailPolicy(t *testing.T) {
	f := newMcapFixture(t, RateFail)
	require.NoError(t, f.ctrl.SetWeightPerSecondBounds(txAt(owner, start), asset(0), sdkmath.LegacyZeroDec(), dec("0.001")))

	tx := txAt(stranger, start)
	_, err := f.strategy.Poke(tx, nil)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.True(t, errs.IsCategory(err, errs.Bound))
	assert.Empty(t, tx.Events())

	last, err := f.strategy.LastPoke(mcapPool)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestMarketCapOracleFailures(t *testing.T) {
	f := newMcapFixture(t, RateExtend)

	f.oracle.SetBalance(asset(0), holder, utils.Tokens(60))
	_, err := f.strategy.Poke(txAt(stranger, start), nil)
	assert.ErrorIs(t, err, ErrExcludedTooLarge)
	f.oracle.SetBalance(asset(0), holder, utils.Tokens(10))

	f.oracle.SetPrice(asset(3), sdkmath.LegacyZeroDec())
	_, err = f.strategy.Poke(txAt(stranger, start), nil)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	assert.True(t, errs.IsCategory(err, errs.External))

	snap, err := f.pool.AssetSnapshot(asset(0), start)
	require.NoError(t, err)
	assert.True(t, snap.TargetWeight.Equal(dec("6.25")))
}

func TestMarketCapAdmission(t *testing.T) {
	f := newMcapFixture(t, RateExtend)

	assert.ErrorIs(t, f.strategy.AddPool(txAt(owner, start), f.ctrl), ErrPoolExists)
	assert.ErrorIs(t, f.strategy.AddPool(txAt(stranger, start), f.ctrl), ErrNotOwner)
	assert.ErrorIs(t, f.strategy.SetExcludedBalances(txAt(stranger, start), asset(0), nil), ErrNotOwner)

	_, err := f.strategy.Poke(txAt(stranger, start), []common.Address{stranger})
	assert.ErrorIs(t, err, ErrUnknownPool)

	require.NoError(t, f.strategy.SetGate(txAt(owner, start), gate))
	_, err = f.strategy.Poke(txAt(stranger, start), nil)
	assert.ErrorIs(t, err, ErrNotGate)
	_, err = f.strategy.Poke(txAt(gate, start), nil)
	assert.NoError(t, err)
}

func TestMarketCapRequiresInstalledStrategy(t *testing.T) {
	f := newMcapFixture(t, RateExtend)
	require.NoError(t, f.ctrl.SetWeightsStrategy(txAt(owner, start), stranger))

	_, err := f.strategy.Poke(txAt(stranger, start), nil)
	assert.ErrorIs(t, err, ErrNotPoolStrategy)
}

func TestParseRatePolicy(t *testing.T) {
	p, err := ParseRatePolicy("Fail")
	require.NoError(t, err)
	assert.Equal(t, RateFail, p)
	p, err = ParseRatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RateExtend, p)
	_, err = ParseRatePolicy("stretch")
	assert.Error(t, err)
}

func wei(t *testing.T, s string) sdkmath.Int {
	t.Helper()
	i, ok := sdkmath.NewIntFromString(s)
	require.True(t, ok, s)
	return i
}

// newIndexFixture prices eight assets the way a live index does: uneven prices, supplies in wei and
// several excluded holders on some assets. The pool is poked daily.
func newIndexFixture(t *testing.T) mcapFixture {
	t.Helper()
	prices := []string{"27.913", "1.2846", "3621.58", "0.0417", "611.2", "0.93", "18.74", "142.6"}
	supplies := []string{
		"331992969905570909612008741",
		"1372759825484335902226373968",
		"1299045814774195378812562",
		"2851291751823043165467625899",
		"6129669702162978075916230",
		"149022051560645430107526881",
		"147337904896824607790821771",
		"193505839971281656381486676",
	}
	excluded := map[int][]string{
		0: {"1250000000000000000000000", "384211500000000000000000"},
		3: {"920000000000000000000000000"},
		5: {"3100000000000000000000000", "210000000000000000000000", "55000750000000000000000"},
		7: {"48000000000000000000000"},
	}

	weights := make([]string, len(prices))
	for i := range weights {
		weights[i] = "6.25"
	}
	ctrl, p := newManagedPool(t, mcapPool, utils.Tokens(1000), weights...)

	o := oracle.NewStatic()
	for i := range prices {
		o.SetAsset(asset(i), dec(prices[i]), wei(t, supplies[i]))
	}
	s := NewMarketCap(strategyAddr, owner, o, MarketCapOptions{PokePeriod: 24 * time.Hour})
	require.NoError(t, s.AddPool(txAt(owner, start), ctrl))

	next := 0
	for i, balances := range excluded {
		var holders []common.Address
		for _, b := range balances {
			h := common.BigToAddress(sdkmath.NewInt(int64(0x4100 + next)).BigInt())
			next++
			o.SetBalance(asset(i), h, wei(t, b))
			holders = append(holders, h)
		}
		require.NoError(t, s.SetExcludedBalances(txAt(owner, start), asset(i), holders))
	}
	return mcapFixture{strategy: s, ctrl: ctrl, pool: p, oracle: o}
}

func assertTargets(t *testing.T, p *pool.Pool, at time.Time, want []string) {
	t.Helper()
	for i, w := range want {
		snap, err := p.AssetSnapshot(asset(i), at)
		require.NoError(t, err)
		rel := utils.RelativeDiff(snap.TargetWeight, dec(w))
		assert.Truef(t, rel.LTE(dec("0.0000001")), "asset %d: %s vs %s", i, snap.TargetWeight, w)
	}
}

func TestMarketCapTracksIndexPrices(t *testing.T) {
	f := newIndexFixture(t)
	day := 24 * time.Hour

	initial := []string{
		"9.2213040233747008", "1.7634472718171779", "4.7045983418699305", "0.0805348660510209",
		"3.7464541219620122", "0.13546105725390025", "2.76111233776649315", "27.5870879799047642",
	}
	afterRise := []string{
		"9.95975064826289985", "1.7315136443468895", "4.6194044757149202", "0.0790764893521855",
		"3.67861094219856055", "0.13300804206699305", "2.71111235522831755", "27.08752340282923305",
	}
	afterDouble := []string{
		"16.61072726384235695", "1.4438966353482103", "3.85208779704018785", "0.0659413093760726",
		"3.067566911492096", "0.1109144389602681", "2.26077687608500875", "22.58808876785579865",
	}
	afterHalve := []string{
		"21.4575857893881677", "1.8652124878020744", "4.9760918387462095", "0.085182381272472",
		"3.9626549230815687", "0.1432782593723283", "2.92045092299213655", "14.58954339734504205",
	}

	poke := func(at time.Time, logs int) {
		t.Helper()
		tx := txAt(stranger, at)
		_, err := f.strategy.Poke(tx, nil)
		require.NoError(t, err)
		assert.Len(t, tx.Events(), logs)
	}

	now := start
	poke(now, 9)
	assertTargets(t, f.pool, now, initial)

	now = now.Add(day)
	poke(now, 9)
	assertTargets(t, f.pool, now, initial)

	// a price move inside the period is picked up only once the period passes
	f.oracle.SetPrice(asset(0), dec("30.7043"))
	poke(now, 0)
	assertTargets(t, f.pool, now, initial)

	now = now.Add(day)
	poke(now, 9)
	assertTargets(t, f.pool, now, afterRise)

	f.oracle.SetPrice(asset(0), dec("61.4086"))
	now = now.Add(day)
	poke(now, 9)
	assertTargets(t, f.pool, now, afterDouble)

	f.oracle.SetPrice(asset(7), dec("71.3"))
	now = now.Add(day)
	poke(now, 9)
	assertTargets(t, f.pool, now, afterHalve)

	total := f.pool.TotalEffectiveWeight(now.Add(day))
	assert.True(t, total.Sub(pool.NormalizedTotalWeight).Abs().LTE(dec("0.000000000000000100")), total.String())
}

func TestMarketCapFailingPoolWritesNoPool(t *testing.T) {
	f := newMcapFixture(t, RateExtend)

	second := common.HexToAddress("0x9300")
	ctrl2, p2 := newManagedPool(t, second, utils.Tokens(1000), "6.25", "6.25", "6.25", "6.25", "6.25", "6.25", "6.25", "6.25")
	require.NoError(t, f.strategy.AddPool(txAt(owner, start), ctrl2))
	// the second pool no longer answers to its controller, so only its write would fail
	require.NoError(t, p2.SetController(txAt(ctrl2.Address(), start), stranger))

	tx := txAt(stranger, start)
	_, err := f.strategy.Poke(tx, nil)
	assert.ErrorIs(t, err, pool.ErrNotController)
	assert.Empty(t, tx.Events())

	for _, p := range []*pool.Pool{f.pool, p2} {
		for i := range expected {
			snap, err := p.AssetSnapshot(asset(i), start)
			require.NoError(t, err)
			assert.True(t, snap.TargetWeight.Equal(dec("6.25")), "%s asset %d", p.Address().Hex(), i)
			assert.True(t, snap.ScheduleEnd.IsZero() || !snap.ScheduleEnd.After(start))
		}
	}
	for _, addr := range []common.Address{mcapPool, second} {
		last, err := f.strategy.LastPoke(addr)
		require.NoError(t, err)
		assert.True(t, last.IsZero())
	}

	// the healthy pool still pokes on its own
	res, err := f.strategy.Poke(txAt(stranger, start), []common.Address{mcapPool, mcapPool})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{mcapPool}, res.Poked)
}
