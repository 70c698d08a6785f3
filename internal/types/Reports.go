/*

This file contains the types for persisted keeper report receipts.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// ReportReceipt is the record of one keeper attempt against a client, accepted or not.
type ReportReceipt struct {
	ReceiptID    int64            `json:"receipt_id"`
	ReportNumber int              `json:"report_number"` // Global counter value at the time of the attempt
	RunID        string           `json:"run_id"`        // Keeper run that made the attempt
	TxID         string           `json:"tx_id,omitempty"`
	Client       common.Address   `json:"client"`
	ReporterID   uint64           `json:"reporter_id"`
	Slasher      bool             `json:"slasher"` // Sent through the slashing path
	Missed       bool             `json:"missed"`  // Accepted after the report window had closed
	Success      bool             `json:"success"`
	Message      string           `json:"message,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	PoolsPoked   []common.Address `json:"pools_poked"`
	GasUsed      uint64           `json:"gas_used"`
	GasPrice     sdkmath.Int      `json:"gas_price"`
	Compensation sdkmath.Int      `json:"compensation"` // Incentive-denom total debited from the credit
	PaidAmount   sdkmath.Int      `json:"paid_amount"`
	PaidDenom    string           `json:"paid_denom"`
	Slashed      sdkmath.Int      `json:"slashed"`
	EventKinds   []string         `json:"event_kinds"`
	Timestamp    time.Time        `json:"timestamp"`
}
