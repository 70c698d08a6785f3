package restrictions

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
)

var (
	owner    = common.HexToAddress("0x0A")
	stranger = common.HexToAddress("0x0B")
	pool     = common.HexToAddress("0x0C")
	voting   = common.HexToAddress("0x0D")
)

func txFrom(sender common.Address) *ledger.Tx {
	return ledger.NewTx(context.Background(), sender, time.Unix(1_700_000_000, 0), sdkmath.ZeroInt())
}

func TestOnlyOwnerMutates(t *testing.T) {
	r := New(common.HexToAddress("0x01"), owner)
	err := r.SetVotingAllowed(txFrom(stranger), []common.Address{voting}, true)
	assert.ErrorIs(t, err, ErrNotOwner)
	assert.True(t, errs.IsCategory(err, errs.Admission))
	assert.False(t, r.IsVotingAllowed(voting))

	require.NoError(t, r.SetVotingAllowed(txFrom(owner), []common.Address{voting}, true))
	assert.True(t, r.IsVotingAllowed(voting))
}

func TestTransferAllowListOnlyAppliesWhenEnabled(t *testing.T) {
	r := New(common.HexToAddress("0x01"), owner)
	assert.True(t, r.IsTransferAllowed(stranger))

	require.NoError(t, r.SetTransferAllowList(txFrom(owner), true, []common.Address{owner}, true))
	assert.True(t, r.IsTransferAllowed(owner))
	assert.False(t, r.IsTransferAllowed(stranger))
}

func TestMaxTotalSupplyAndFeeExemption(t *testing.T) {
	r := New(common.HexToAddress("0x01"), owner)
	assert.True(t, r.MaxTotalSupply(pool).IsZero())

	require.NoError(t, r.SetMaxTotalSupply(txFrom(owner), pool, sdkmath.NewInt(1000)))
	require.NoError(t, r.SetWithoutFee(txFrom(owner), []common.Address{stranger}, true))
	assert.Equal(t, "1000", r.MaxTotalSupply(pool).String())
	assert.True(t, r.IsWithoutFee(stranger))
}
