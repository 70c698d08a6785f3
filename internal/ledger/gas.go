package ledger

import (
	"github.com/ethereum/go-ethereum/params"
)

// Gas charged by components for the storage and calls they perform.
const (
	GasStorageRead   = params.ColdSloadCostEIP2929
	GasStorageWrite  = params.SstoreResetGasEIP2200
	GasStorageCreate = params.SstoreSetGasEIP2200
	GasCall          = params.ColdAccountAccessCostEIP2929
	GasIntrinsic     = params.TxGas
)

// LogGas is the cost of a log with the given topic count and data length.
func LogGas(topics, dataLen int) uint64 {
	return params.LogGas + uint64(topics)*params.LogTopicGas + uint64(dataLen)*params.LogDataGas
}

// GasMeter counts gas units consumed by one transaction.
type GasMeter struct {
	used uint64
}

func (g *GasMeter) Consume(amount uint64) {
	g.used += amount
}

// Reads charges n storage reads.
func (g *GasMeter) Reads(n int) {
	g.used += uint64(n) * GasStorageRead
}

// Writes charges n storage writes to existing slots.
func (g *GasMeter) Writes(n int) {
	g.used += uint64(n) * GasStorageWrite
}

func (g *GasMeter) Used() uint64 {
	return g.used
}
