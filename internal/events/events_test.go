package events

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Publish(context.Context, []Event) error { return errors.New("down") }

func TestTopicIsKeccakOfSignature(t *testing.T) {
	want := crypto.Keccak256Hash([]byte("SetDynamicWeight(address,uint256,uint256,uint256,uint256)"))
	assert.Equal(t, want, Topic(KindWeightScheduleUpdated))
	assert.NotEqual(t, Topic(KindSwap), Topic(KindJoin))
}

func TestRecorderFiltersByKind(t *testing.T) {
	r := NewRecorder()
	emitter := common.HexToAddress("0x01")
	require.NoError(t, r.Publish(context.Background(), []Event{
		New(KindPoolCreated, emitter),
		New(KindWeightScheduleUpdated, emitter).With("asset", "0x02"),
		New(KindWeightScheduleUpdated, emitter).With("asset", "0x03"),
	}))

	assert.Len(t, r.Events(), 3)
	updates := r.OfKind(KindWeightScheduleUpdated)
	require.Len(t, updates, 2)
	assert.Equal(t, "0x03", updates[1].Attr("asset"))
	assert.Equal(t, 2, Count(r.Events(), KindWeightScheduleUpdated))

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestMultiSinkDeliversToAllAndReportsFailure(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	err := MultiSink{a, failingSink{}, nil, b}.Publish(context.Background(), []Event{New(KindPokeSummary, common.Address{})})
	assert.Error(t, err)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
