package strategy

import (
	"context"
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/powerpool/powerindex-keeper/internal/controller"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/pool"
)

var (
	deployer     = common.HexToAddress("0xD0")
	owner        = common.HexToAddress("0x0E")
	stranger     = common.HexToAddress("0xBAD")
	gate         = common.HexToAddress("0x90CE")
	strategyAddr = common.HexToAddress("0x57")
	start        = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

func txAt(sender common.Address, at time.Time) *ledger.Tx {
	return ledger.NewTx(context.Background(), sender, at, sdkmath.ZeroInt())
}

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

func asset(i int) common.Address {
	return common.BigToAddress(sdkmath.NewInt(int64(0x3000 + i)).BigInt())
}

// newManagedPool finalizes a pool with one asset per weight and hands it to a controller owned by owner
// with strategyAddr installed.
func newManagedPool(t *testing.T, poolAddr common.Address, balance sdkmath.Int, weights ...string) (*controller.Controller, *pool.Pool) {
	t.Helper()
	p, err := pool.New(txAt(deployer, start), pool.Config{Address: poolAddr, Symbol: "PIPT"})
	require.NoError(t, err)
	for i, w := range weights {
		require.NoError(t, p.Bind(txAt(deployer, start), asset(i), balance, dec(w)))
	}
	require.NoError(t, p.Finalize(txAt(deployer, start)))

	ctrlAddr := common.BigToAddress(new(big.Int).Add(poolAddr.Big(), big.NewInt(1)))
	c := controller.New(txAt(deployer, start), ctrlAddr, p, owner, controller.Options{})
	require.NoError(t, p.SetController(txAt(deployer, start), ctrlAddr))
	require.NoError(t, c.SetWeightsStrategy(txAt(owner, start), strategyAddr))
	return c, p
}

func balanceOf(t *testing.T, p *pool.Pool, a common.Address) sdkmath.Int {
	t.Helper()
	b, err := p.Balance(a)
	require.NoError(t, err)
	return b
}
