package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

func TestEffectiveWeightInterpolates(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	from := start.Add(10 * time.Second)
	to := from.Add(100 * time.Second)
	require.NoError(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("15"), from, to))

	cases := []struct {
		name string
		at   time.Time
		want string
	}{
		{"before window", start, "25"},
		{"at start", from, "25"},
		{"halfway", from.Add(50 * time.Second), "20"},
		{"quarter", from.Add(25 * time.Second), "22.5"},
		{"at end", to, "15"},
		{"after window", to.Add(time.Hour), "15"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := p.EffectiveWeight(asset(0), tc.at)
			require.NoError(t, err)
			assert.Equal(t, dec(tc.want).String(), w.String())
		})
	}
}

func TestSetWeightScheduleStartsFromEffectiveWeight(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	require.NoError(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("15"), start, start.Add(100*time.Second)))

	mid := start.Add(50 * time.Second)
	tx := txAt(controller, mid)
	require.NoError(t, p.SetWeightSchedule(tx, asset(0), dec("10"), mid, mid.Add(100*time.Second)))

	require.Len(t, tx.Events(), 1)
	e := tx.Events()[0]
	assert.Equal(t, events.KindWeightScheduleUpdated, e.Kind)
	assert.Equal(t, dec("20").String(), e.Attr("from_weight"))
	assert.Equal(t, dec("10").String(), e.Attr("target_weight"))

	w, err := p.EffectiveWeight(asset(0), mid)
	require.NoError(t, err)
	assert.Equal(t, dec("20").String(), w.String())
	w, err = p.EffectiveWeight(asset(0), mid.Add(50*time.Second))
	require.NoError(t, err)
	assert.Equal(t, dec("15").String(), w.String())
}

func TestSetWeightScheduleWindowChecks(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	now := start.Add(time.Hour)

	err := p.SetWeightSchedule(txAt(controller, now), asset(0), dec("20"), start, now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrScheduleInPast)
	assert.True(t, errs.IsCategory(err, errs.Window))

	err = p.SetWeightSchedule(txAt(controller, now), asset(0), dec("20"), now, now)
	assert.ErrorIs(t, err, ErrScheduleWindow)

	err = p.SetWeightSchedule(txAt(controller, now), asset(0), dec("20"), now.Add(time.Hour), now)
	assert.ErrorIs(t, err, ErrScheduleWindow)
}

func TestSetWeightScheduleBounds(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	to := start.Add(100 * time.Second)

	assert.ErrorIs(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("0.0000001"), start, to), ErrMinWeight)
	assert.ErrorIs(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("51"), start, to), ErrMaxWeight)
	assert.ErrorIs(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("30"), start, to), ErrMaxTotalWeight)

	// lowering first makes room for the raise
	require.NoError(t, p.SetWeightSchedule(txAt(controller, start), asset(1), dec("20"), start, to))
	assert.NoError(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("30"), start, to))
	assert.True(t, p.TotalTargetWeight().Equal(NormalizedTotalWeight))
}

func TestSetWeightScheduleRateBounds(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	require.NoError(t, p.SetWeightPerSecondBounds(txAt(controller, start), asset(0), dec("0.001"), dec("0.01")))
	to := start.Add(100 * time.Second)

	// 10 over 100s is 0.1/s
	err := p.SetWeightSchedule(txAt(controller, start), asset(0), dec("15"), start, to)
	assert.ErrorIs(t, err, ErrRateTooHigh)
	assert.True(t, errs.IsCategory(err, errs.Bound))

	// 0.05 over 100s is 0.0005/s
	assert.ErrorIs(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("24.95"), start, to), ErrRateTooLow)

	assert.NoError(t, p.SetWeightSchedule(txAt(controller, start), asset(0), dec("24.5"), start, to))

	assert.ErrorIs(t, p.SetWeightPerSecondBounds(txAt(controller, start), asset(0), dec("0.1"), dec("0.01")), ErrRateBounds)
}

func TestValidateWeightScheduleDoesNotWrite(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	tx := txAt(controller, start)
	require.NoError(t, p.ValidateWeightSchedule(tx, asset(0), dec("20"), start, start.Add(time.Minute)))
	assert.Empty(t, tx.Events())

	snap, err := p.AssetSnapshot(asset(0), start.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, snap.TargetWeight.Equal(dec("25")))
}

func TestValidateWeightSchedulesDoesNotWrite(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	to := start.Add(100 * time.Second)
	batch := []types.WeightTarget{
		{Asset: asset(0), Target: dec("30"), From: start, To: to},
		{Asset: asset(1), Target: dec("20"), From: start, To: to},
	}

	tx := txAt(controller, start)
	require.NoError(t, p.ValidateWeightSchedules(tx, batch))
	assert.Empty(t, tx.Events())
	assert.True(t, p.TotalTargetWeight().Equal(NormalizedTotalWeight))

	assert.ErrorIs(t, p.ValidateWeightSchedules(txAt(trader, start), batch), ErrNotController)
	batch[1].Target = dec("25.5")
	assert.ErrorIs(t, p.ValidateWeightSchedules(txAt(controller, start), batch), ErrMaxTotalWeight)
}

func TestScheduleRate(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	rate, err := p.ScheduleRate(asset(0), dec("35"), start, start, start.Add(1000*time.Second))
	require.NoError(t, err)
	assert.Equal(t, dec("0.01").String(), rate.String())

	_, err = p.ScheduleRate(asset(7), dec("35"), start, start, start.Add(time.Second))
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestSetWeightSchedulesChecksBatchTotal(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "25", "25")
	to := start.Add(100 * time.Second)

	// the raise is listed first; only the batch outcome counts
	tx := txAt(controller, start)
	err := p.SetWeightSchedules(tx, []types.WeightTarget{
		{Asset: asset(0), Target: dec("30"), From: start, To: to},
		{Asset: asset(1), Target: dec("20"), From: start, To: to},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, events.Count(tx.Events(), events.KindWeightScheduleUpdated))
	assert.True(t, p.TotalEffectiveWeight(to).Equal(NormalizedTotalWeight))

	tx = txAt(controller, start)
	err = p.SetWeightSchedules(tx, []types.WeightTarget{
		{Asset: asset(0), Target: dec("35"), From: start, To: to},
		{Asset: asset(1), Target: dec("20"), From: start, To: to},
	})
	assert.ErrorIs(t, err, ErrMaxTotalWeight)
	assert.Empty(t, tx.Events())

	err = p.SetWeightSchedules(txAt(controller, start), []types.WeightTarget{
		{Asset: asset(0), Target: dec("30"), From: start, To: to},
		{Asset: asset(0), Target: dec("30"), From: start, To: to},
	})
	assert.ErrorIs(t, err, ErrDuplicateAsset)
}

func TestTotalEffectiveWeightConservedDuringTransition(t *testing.T) {
	p := newFinalizedPool(t, Config{}, "6.25", "6.25", "6.25", "6.25", "6.25", "6.25", "6.25", "6.25")
	to := start.Add(time.Hour)
	targets := []string{"20", "10", "5", "5", "4", "3", "2", "1"}
	var batch []types.WeightTarget
	for i, w := range targets {
		batch = append(batch, types.WeightTarget{Asset: asset(i), Target: dec(w), From: start, To: to})
	}
	require.NoError(t, p.SetWeightSchedules(txAt(controller, start), batch))

	tolerance := dec("0.000000000000000100")
	for s := 0; s <= 3600; s += 37 {
		total := p.TotalEffectiveWeight(start.Add(time.Duration(s) * time.Second))
		assert.Truef(t, total.Sub(NormalizedTotalWeight).Abs().LTE(tolerance), "at %ds total %s", s, total)
	}
}
