package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// Kind names an event emitted by the pool, the strategies or the incentive layer.
type Kind string

const (
	KindPoolCreated           Kind = "PoolCreated"
	KindWeightScheduleUpdated Kind = "WeightScheduleUpdated"
	KindPokeSummary           Kind = "PokeSummary"
	KindAssetRebound          Kind = "AssetRebound"
	KindReporterCompensated   Kind = "ReporterCompensated"
	KindReporterSlashed       Kind = "ReporterSlashed"
	KindSwap                  Kind = "Swap"
	KindJoin                  Kind = "Join"
	KindExit                  Kind = "Exit"
	KindCommunityFee          Kind = "CommunityFee"
)

// signatures mirror the log signatures indexers filter on.
var signatures = map[Kind]string{
	KindPoolCreated:           "PoolCreated(address,address,string,string)",
	KindWeightScheduleUpdated: "SetDynamicWeight(address,uint256,uint256,uint256,uint256)",
	KindPokeSummary:           "PokeSummary(address,uint256,uint256,uint256)",
	KindAssetRebound:          "AssetRebound(address,address,uint256,uint256)",
	KindReporterCompensated:   "RewardUser(address,uint256,bool,uint256,uint256,uint256,uint256)",
	KindReporterSlashed:       "SlashReporter(address,uint256,uint256,uint256,uint256)",
	KindSwap:                  "LOG_SWAP(address,address,address,uint256,uint256)",
	KindJoin:                  "LOG_JOIN(address,address,uint256)",
	KindExit:                  "LOG_EXIT(address,address,uint256)",
	KindCommunityFee:          "LOG_COMMUNITY_FEE(address,address,address,uint256)",
}

// Topic returns the keccak-256 topic of an event kind.
func Topic(kind Kind) common.Hash {
	sig, ok := signatures[kind]
	if !ok {
		sig = string(kind)
	}
	return crypto.Keccak256Hash([]byte(sig))
}

// Event is one log record. Attributes are kept as strings so that fixed-point values survive JSON round trips.
type Event struct {
	Kind    Kind              `json:"kind"`
	Topic   common.Hash       `json:"topic"`
	Emitter common.Address    `json:"emitter"`
	TxID    string            `json:"tx_id"`
	Time    time.Time         `json:"time"`
	Attrs   map[string]string `json:"attrs"`
}

// New creates an event of kind emitted by emitter.
func New(kind Kind, emitter common.Address) Event {
	return Event{Kind: kind, Topic: Topic(kind), Emitter: emitter, Attrs: make(map[string]string)}
}

// With sets an attribute and returns the event for chaining.
func (e Event) With(key, value string) Event {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[key] = value
	return e
}

// Attr returns an attribute or "".
func (e Event) Attr(key string) string {
	return e.Attrs[key]
}

// DataSize approximates the ABI-encoded data length used for log gas.
func (e Event) DataSize() int {
	return 32 * len(e.Attrs)
}

// Sink receives the events of committed transactions, in order.
type Sink interface {
	Publish(ctx context.Context, events []Event) error
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, events []Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return nil
}

// Events returns a copy of every recorded event.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of kind.
func (r *Recorder) OfKind(kind Kind) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// MultiSink fans events out to several sinks and reports the first failure.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, events []Event) error {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, events); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger zerolog.Logger
}

func (l LogSink) Publish(_ context.Context, events []Event) error {
	for _, e := range events {
		ev := l.Logger.Debug().
			Str("kind", string(e.Kind)).
			Str("emitter", e.Emitter.Hex()).
			Str("tx_id", e.TxID)
		keys := make([]string, 0, len(e.Attrs))
		for k := range e.Attrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			ev = ev.Str(k, e.Attrs[k])
		}
		ev.Msg("event")
	}
	return nil
}

// Count returns how many events of kind are in events.
func Count(events []Event, kind Kind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
