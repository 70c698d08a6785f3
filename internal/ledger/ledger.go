/*

This file contains the transaction model every state-changing operation runs in.

The Ledger serializes transactions with a single lock, reads the clock once per transaction,
tracks the msg.sender of each nested call frame, meters gas, and buffers events so that they
are published only when the transaction succeeds.

*/

package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/logger"
)

var ledgerLogger = logger.GetForComponent("ledger")

var ErrNilTransaction = errors.New("transaction function cannot be nil")

// Tx is the context of one atomic, globally ordered call.
type Tx struct {
	ctx      context.Context
	id       uuid.UUID
	origin   common.Address
	frames   []common.Address
	now      time.Time
	gasPrice sdkmath.Int
	gas      *GasMeter
	events   []events.Event
}

// NewTx builds a standalone transaction. Components use it in tests; the daemon goes through Ledger.Execute.
func NewTx(ctx context.Context, sender common.Address, now time.Time, gasPrice sdkmath.Int) *Tx {
	if gasPrice.IsNil() {
		gasPrice = sdkmath.ZeroInt()
	}
	return &Tx{
		ctx:      ctx,
		id:       uuid.New(),
		origin:   sender,
		frames:   []common.Address{sender},
		now:      now,
		gasPrice: gasPrice,
		gas:      &GasMeter{},
	}
}

func (tx *Tx) Context() context.Context { return tx.ctx }
func (tx *Tx) ID() uuid.UUID            { return tx.id }
func (tx *Tx) Origin() common.Address   { return tx.origin }
func (tx *Tx) Now() time.Time           { return tx.now }
func (tx *Tx) GasPrice() sdkmath.Int    { return tx.gasPrice }
func (tx *Tx) Gas() *GasMeter           { return tx.gas }

// Sender is the msg.sender of the current call frame.
func (tx *Tx) Sender() common.Address {
	return tx.frames[len(tx.frames)-1]
}

// Call runs fn as a call made by the contract at self, so that fn observes Sender() == self.
func (tx *Tx) Call(self common.Address, fn func() error) error {
	tx.gas.Consume(GasCall)
	tx.frames = append(tx.frames, self)
	defer func() { tx.frames = tx.frames[:len(tx.frames)-1] }()
	return fn()
}

// Emit buffers an event and charges log gas.
func (tx *Tx) Emit(e events.Event) {
	e.TxID = tx.id.String()
	e.Time = tx.now
	tx.gas.Consume(LogGas(1, e.DataSize()))
	tx.events = append(tx.events, e)
}

// Events returns the events buffered so far.
func (tx *Tx) Events() []events.Event {
	return tx.events
}

// Receipt describes a committed transaction.
type Receipt struct {
	ID       uuid.UUID      `json:"id"`
	Sender   common.Address `json:"sender"`
	Time     time.Time      `json:"time"`
	GasUsed  uint64         `json:"gas_used"`
	GasPrice sdkmath.Int    `json:"gas_price"`
	Events   []events.Event `json:"events"`
}

// Ledger orders transactions and publishes their events.
type Ledger struct {
	mu     sync.RWMutex
	clock  Clock
	sink   events.Sink
	nonces map[common.Address]uint64
}

func New(clock Clock, sink events.Sink) *Ledger {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Ledger{clock: clock, sink: sink, nonces: make(map[common.Address]uint64)}
}

func (l *Ledger) Clock() Clock { return l.clock }

// Execute runs fn atomically as a transaction sent by sender at gasPrice.
// When fn fails its buffered events are discarded and no receipt is produced.
func (l *Ledger) Execute(ctx context.Context, sender common.Address, gasPrice sdkmath.Int, fn func(tx *Tx) error) (*Receipt, error) {
	if fn == nil {
		return nil, ErrNilTransaction
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := NewTx(ctx, sender, l.clock.Now(), gasPrice)
	tx.gas.Consume(GasIntrinsic)
	if err := fn(tx); err != nil {
		ledgerLogger.Debug().Err(err).Str("tx_id", tx.id.String()).Str("sender", sender.Hex()).Msg("Transaction reverted")
		return nil, err
	}

	receipt := &Receipt{
		ID:       tx.id,
		Sender:   sender,
		Time:     tx.now,
		GasUsed:  tx.gas.Used(),
		GasPrice: tx.gasPrice,
		Events:   tx.events,
	}
	if l.sink != nil && len(tx.events) > 0 {
		if err := l.sink.Publish(ctx, tx.events); err != nil {
			// state is already committed; the sink is a projection
			ledgerLogger.Error().Err(err).Str("tx_id", tx.id.String()).Msg("Failed to publish transaction events")
		}
	}
	return receipt, nil
}

// Read runs fn under the read lock with the current block time.
func (l *Ledger) Read(fn func(now time.Time) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(l.clock.Now())
}

// Deploy derives the next contract address for deployer.
func (l *Ledger) Deploy(deployer common.Address) common.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextAddress(deployer)
}

func (l *Ledger) nextAddress(deployer common.Address) common.Address {
	nonce := l.nonces[deployer]
	l.nonces[deployer] = nonce + 1
	return crypto.CreateAddress(deployer, nonce)
}

// ContractAddress derives the address a deployer's nonce-th contract gets.
func ContractAddress(deployer common.Address, nonce uint64) common.Address {
	return crypto.CreateAddress(deployer, nonce)
}

// String renders a receipt for logs.
func (r *Receipt) String() string {
	return fmt.Sprintf("tx %s by %s: gas %d, %d events", r.ID, r.Sender.Hex(), r.GasUsed, len(r.Events))
}
