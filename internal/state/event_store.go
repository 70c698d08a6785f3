package state

import (
	"context"
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

// EventStore persists committed ledger events. It is an events.Sink.
type EventStore struct{}

func NewEventStore() *EventStore {
	return &EventStore{}
}

var _ events.Sink = (*EventStore)(nil)

// Publish writes evts in a single database transaction.
func (s *EventStore) Publish(ctx context.Context, evts []events.Event) (err error) {
	if DB == nil {
		return ErrNotInitialized
	}
	if len(evts) == 0 {
		return nil
	}

	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_events (tx_id, kind, topic, emitter, event_time, attributes)
		VALUES ($1, $2, $3, $4, $5, $6);`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range evts {
		attrs, mErr := json.Marshal(e.Attrs)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal attributes of %s: %w", e.Kind, mErr)
			return err
		}
		if _, err = stmt.ExecContext(ctx, e.TxID, string(e.Kind), e.Topic.Hex(), e.Emitter.Hex(), e.Time, attrs); err != nil {
			return fmt.Errorf("failed to insert %s event: %w", e.Kind, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Debug().Int("count", len(evts)).Str("tx_id", evts[0].TxID).Msg("Stored ledger events")
	return nil
}

// SaveReportReceipt stores one keeper attempt and returns its id.
func SaveReportReceipt(r types.ReportReceipt) (int64, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}

	stmt := `
		INSERT INTO report_receipts (
			report_number, run_id, tx_id, client, reporter_id,
			slasher, missed, success, message, error_code,
			pools_poked, gas_used, gas_price, compensation,
			paid_amount, paid_denom, slashed, event_kinds, receipt_timestamp
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, $19
		) RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(
		stmt,
		r.ReportNumber, r.RunID, r.TxID, r.Client.Hex(), r.ReporterID,
		r.Slasher, r.Missed, r.Success, r.Message, r.ErrorCode,
		pq.Array(addressStrings(r.PoolsPoked)), r.GasUsed, numeric(r.GasPrice), numeric(r.Compensation),
		numeric(r.PaidAmount), r.PaidDenom, numeric(r.Slashed), pq.Array(r.EventKinds), r.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		log.Error().Err(err).Int("report_number", r.ReportNumber).Msg("Failed to save report receipt")
		return 0, fmt.Errorf("failed to insert report receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Int("report_number", r.ReportNumber).
		Str("client", r.Client.Hex()).
		Bool("success", r.Success).
		Msg("Saved report receipt")
	return receiptID, nil
}

// EventKinds lists the kinds of evts in order.
func EventKinds(evts []events.Event) []string {
	out := make([]string, len(evts))
	for i, e := range evts {
		out[i] = string(e.Kind)
	}
	return out
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func parseAddresses(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		if common.IsHexAddress(h) {
			out = append(out, common.HexToAddress(h))
		}
	}
	return out
}

// numeric renders an Int for a NUMERIC column; nil becomes zero.
func numeric(v sdkmath.Int) string {
	if v.IsNil() {
		return "0"
	}
	return v.String()
}

// parseNumeric reads a NUMERIC column back, dropping any fractional zeros the driver adds.
func parseNumeric(s string) (sdkmath.Int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			s = s[:i]
			break
		}
	}
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}
