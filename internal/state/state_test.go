package state

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

func TestNumericRoundTrip(t *testing.T) {
	assert.Equal(t, "0", numeric(sdkmath.Int{}))
	assert.Equal(t, "42", numeric(sdkmath.NewInt(42)))

	cases := [][2]string{
		{"", "0"},
		{"0", "0"},
		{"42", "42"},
		{"42.000", "42"},
		{"1000000000000000000000", "1000000000000000000000"},
	}
	for _, tc := range cases {
		raw, want := tc[0], tc[1]
		v, err := parseNumeric(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, v.String())
	}

	_, err := parseNumeric("abc")
	assert.Error(t, err)
}

func TestAddressesRoundTrip(t *testing.T) {
	addrs := []common.Address{common.HexToAddress("0xA1"), common.HexToAddress("0xB2")}
	hexes := addressStrings(addrs)
	assert.Equal(t, addrs[0].Hex(), hexes[0])
	assert.Equal(t, addrs, parseAddresses(append(hexes, "not-an-address")))
}

func TestEventKinds(t *testing.T) {
	evts := []events.Event{
		events.New(events.KindPokeSummary, common.Address{}),
		events.New(events.KindReporterCompensated, common.Address{}),
	}
	assert.Equal(t, []string{"PokeSummary", "ReporterCompensated"}, EventKinds(evts))
	assert.Empty(t, EventKinds(nil))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 10, clampLimit(0))
	assert.Equal(t, 10, clampLimit(500))
	assert.Equal(t, 25, clampLimit(25))
}

func TestUninitializedDatabase(t *testing.T) {
	DB = nil

	assert.ErrorIs(t, EnsureSchema(), ErrNotInitialized)
	assert.ErrorIs(t, DropSchema(), ErrNotInitialized)
	assert.ErrorIs(t, TestDBConnection(), ErrNotInitialized)
	assert.ErrorIs(t, NewEventStore().Publish(context.Background(), []events.Event{events.New(events.KindSwap, common.Address{})}), ErrNotInitialized)

	_, err := SaveReportReceipt(types.ReportReceipt{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = IncrementReportNumber()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = SaveIncentiveParameters(types.IncentiveParameters{}, "default", 1, true)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = LoadActiveIncentiveParameters("default")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = LoadLatestIncentiveParameters("default")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = NextIncentiveParametersVersion("default")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = GetRecentReports(10, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = GetReportSummary()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = GetRecentEvents(10, "")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestDSN(t *testing.T) {
	cfg := DBConfig{Host: "db", Port: 5433, User: "keeper", Password: "pw", DBName: "powerindex", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=keeper password=pw dbname=powerindex sslmode=disable", cfg.DSN())
}
