package metrics

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

func TestObserveReport(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "powerindex")
	client := common.HexToAddress("0xC1")

	m.ObserveReport(client, poke.Compensation{
		GasUsed:  300000,
		Messages: 2,
		Paid:     sdk.NewCoin("cvp", utils.Tokens(3)),
		Missed:   true,
	})
	m.ObserveCredit(client, utils.Tokens(97))
	m.ObserveSlash(client, sdkmath.NewIntWithDecimal(5, 17))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReportsTotal.WithLabelValues(client.Hex(), "true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CompensationPaid.WithLabelValues(client.Hex(), "cvp")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PoolsPoked.WithLabelValues(client.Hex())))
	assert.Equal(t, 97.0, testutil.ToFloat64(m.CreditRemaining.WithLabelValues(client.Hex())))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.SlashedTotal.WithLabelValues(client.Hex())))
}
