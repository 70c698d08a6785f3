package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

// ReportSummary represents aggregated keeper statistics
type ReportSummary struct {
	TotalReports      int    `json:"total_reports"`
	SuccessfulReports int    `json:"successful_reports"`
	MissedReports     int    `json:"missed_reports"`
	SlasherReports    int    `json:"slasher_reports"`
	TotalGasUsed      int64  `json:"total_gas_used"`
	TotalCompensation string `json:"total_compensation"`
	TotalSlashed      string `json:"total_slashed"`
	LastReport        string `json:"last_report"`
}

const receiptColumns = `
	receipt_id, report_number, run_id, COALESCE(tx_id, ''), client, reporter_id,
	slasher, missed, success, COALESCE(message, ''), COALESCE(error_code, ''),
	pools_poked, gas_used, gas_price, compensation,
	paid_amount, COALESCE(paid_denom, ''), slashed, event_kinds, receipt_timestamp`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (types.ReportReceipt, error) {
	var (
		r                                           types.ReportReceipt
		client                                      string
		pools, kinds                                []string
		gasPrice, compensation, paidAmount, slashed string
	)
	err := row.Scan(
		&r.ReceiptID, &r.ReportNumber, &r.RunID, &r.TxID, &client, &r.ReporterID,
		&r.Slasher, &r.Missed, &r.Success, &r.Message, &r.ErrorCode,
		pq.Array(&pools), &r.GasUsed, &gasPrice, &compensation,
		&paidAmount, &r.PaidDenom, &slashed, pq.Array(&kinds), &r.Timestamp,
	)
	if err != nil {
		return types.ReportReceipt{}, err
	}
	r.Client = common.HexToAddress(client)
	r.PoolsPoked = parseAddresses(pools)
	r.EventKinds = kinds
	if r.GasPrice, err = parseNumeric(gasPrice); err != nil {
		return types.ReportReceipt{}, err
	}
	if r.Compensation, err = parseNumeric(compensation); err != nil {
		return types.ReportReceipt{}, err
	}
	if r.PaidAmount, err = parseNumeric(paidAmount); err != nil {
		return types.ReportReceipt{}, err
	}
	if r.Slashed, err = parseNumeric(slashed); err != nil {
		return types.ReportReceipt{}, err
	}
	return r, nil
}

// GetRecentReports retrieves the most recent report receipts, optionally for one client.
func GetRecentReports(limit int, client *common.Address) ([]types.ReportReceipt, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}
	limit = clampLimit(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if client != nil {
		rows, err = DB.Query(`SELECT `+receiptColumns+` FROM report_receipts WHERE client = $1 ORDER BY receipt_timestamp DESC, receipt_id DESC LIMIT $2`, client.Hex(), limit)
	} else {
		rows, err = DB.Query(`SELECT `+receiptColumns+` FROM report_receipts ORDER BY receipt_timestamp DESC, receipt_id DESC LIMIT $1`, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to query recent reports")
		return nil, fmt.Errorf("failed to query recent reports: %w", err)
	}
	defer rows.Close()

	var receipts []types.ReportReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			log.Error().Err(err).Msg("Failed to scan report receipt row")
			continue
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		log.Error().Err(err).Msg("Error occurred during row iteration")
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	log.Debug().Int("count", len(receipts)).Int("limit", limit).Msg("Retrieved recent reports")
	return receipts, nil
}

// GetReportByID retrieves a specific receipt by its ID
func GetReportByID(receiptID int64) (*types.ReportReceipt, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}

	r, err := scanReceipt(DB.QueryRow(`SELECT `+receiptColumns+` FROM report_receipts WHERE receipt_id = $1`, receiptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("report with ID %d not found", receiptID)
		}
		log.Error().Err(err).Int64("receipt_id", receiptID).Msg("Failed to query report by ID")
		return nil, fmt.Errorf("failed to query report by ID: %w", err)
	}
	return &r, nil
}

// GetReportSummary retrieves aggregate keeper statistics
func GetReportSummary() (*ReportSummary, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE success),
			COUNT(*) FILTER (WHERE success AND missed),
			COUNT(*) FILTER (WHERE success AND slasher),
			COALESCE(SUM(gas_used) FILTER (WHERE success), 0),
			COALESCE(SUM(compensation) FILTER (WHERE success), 0)::TEXT,
			COALESCE(SUM(slashed) FILTER (WHERE success), 0)::TEXT,
			MAX(receipt_timestamp)
		FROM report_receipts`

	summary := &ReportSummary{}
	var last sql.NullTime
	err := DB.QueryRow(query).Scan(
		&summary.TotalReports, &summary.SuccessfulReports, &summary.MissedReports, &summary.SlasherReports,
		&summary.TotalGasUsed, &summary.TotalCompensation, &summary.TotalSlashed, &last,
	)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query report summary")
		return nil, fmt.Errorf("failed to query report summary: %w", err)
	}
	if last.Valid {
		summary.LastReport = last.Time.UTC().Format(time.RFC3339)
	}
	return summary, nil
}

// GetRecentEvents retrieves stored ledger events, newest first, optionally of one kind.
func GetRecentEvents(limit int, kind events.Kind) ([]events.Event, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}
	limit = clampLimit(limit)

	query := `SELECT tx_id, kind, topic, emitter, event_time, attributes FROM ledger_events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = $1 ORDER BY event_id DESC LIMIT $2`
		args = append(args, string(kind), limit)
	} else {
		query += ` ORDER BY event_id DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := DB.Query(query, args...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to query ledger events")
		return nil, fmt.Errorf("failed to query ledger events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e              events.Event
			k              string
			topic, emitter string
			attrs          []byte
		)
		if err := rows.Scan(&e.TxID, &k, &topic, &emitter, &e.Time, &attrs); err != nil {
			log.Error().Err(err).Msg("Failed to scan ledger event row")
			continue
		}
		e.Kind = events.Kind(k)
		e.Topic = common.HexToHash(topic)
		e.Emitter = common.HexToAddress(emitter)
		if err := json.Unmarshal(attrs, &e.Attrs); err != nil {
			log.Error().Err(err).Str("tx_id", e.TxID).Msg("Failed to unmarshal event attributes")
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 10
	}
	return limit
}
