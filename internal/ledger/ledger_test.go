package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/events"
)

var (
	alice    = common.HexToAddress("0xA11CE")
	contract = common.HexToAddress("0xC0FFEE")
	start    = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestExecutePublishesEventsOnSuccess(t *testing.T) {
	rec := events.NewRecorder()
	l := New(NewManualClock(start), rec)

	receipt, err := l.Execute(context.Background(), alice, sdkmath.NewInt(7), func(tx *Tx) error {
		assert.Equal(t, alice, tx.Sender())
		assert.Equal(t, start, tx.Now())
		tx.Emit(events.New(events.KindPokeSummary, contract))
		return nil
	})
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, receipt.ID.String(), receipt.Events[0].TxID)
	assert.Greater(t, receipt.GasUsed, GasIntrinsic)
	assert.Len(t, rec.Events(), 1)
}

func TestExecuteDropsEventsOnFailure(t *testing.T) {
	rec := events.NewRecorder()
	l := New(NewManualClock(start), rec)
	boom := errors.New("boom")

	receipt, err := l.Execute(context.Background(), alice, sdkmath.ZeroInt(), func(tx *Tx) error {
		tx.Emit(events.New(events.KindPokeSummary, contract))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, receipt)
	assert.Empty(t, rec.Events())
}

func TestCallSwitchesSenderFrame(t *testing.T) {
	tx := NewTx(context.Background(), alice, start, sdkmath.ZeroInt())
	err := tx.Call(contract, func() error {
		assert.Equal(t, contract, tx.Sender())
		assert.Equal(t, alice, tx.Origin())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, alice, tx.Sender())
	assert.Equal(t, GasCall, tx.Gas().Used())
}

func TestExecuteRespectsCancelledContext(t *testing.T) {
	l := New(NewManualClock(start), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Execute(ctx, alice, sdkmath.ZeroInt(), func(*Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManualClockIsMonotonic(t *testing.T) {
	c := NewManualClock(start)
	c.Advance(time.Hour)
	c.Advance(-time.Minute)
	assert.Equal(t, start.Add(time.Hour), c.Now())
	assert.False(t, c.Set(start))
	assert.True(t, c.Set(start.Add(2*time.Hour)))
}

func TestDeployDerivesDistinctAddresses(t *testing.T) {
	l := New(NewManualClock(start), nil)
	first := l.Deploy(alice)
	second := l.Deploy(alice)
	assert.NotEqual(t, first, second)
	assert.Equal(t, ContractAddress(alice, 0), first)
}
