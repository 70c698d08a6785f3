/*

This file manages the persistent global report counter for the keeper.
The counter is stored in the database so that report numbers continue across restarts.

*/

package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// ensureReportCounterTable creates the report_counter table if it doesn't exist
func ensureReportCounterTable() error {
	if DB == nil {
		return ErrNotInitialized
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS report_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_report INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		INSERT INTO report_counter (id, current_report)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`

	if _, err := DB.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create report_counter table: %w", err)
	}

	log.Debug().Msg("Ensured report_counter table exists")
	return nil
}

// GetCurrentReportNumber retrieves the current report number from the database
func GetCurrentReportNumber() (int, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}
	if err := ensureReportCounterTable(); err != nil {
		return 0, err
	}

	var current int
	err := DB.QueryRow(`SELECT current_report FROM report_counter WHERE id = 1;`).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Msg("No report counter row found, initializing to 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current report number: %w", err)
	}

	log.Debug().Int("currentReport", current).Msg("Retrieved current report number")
	return current, nil
}

// IncrementReportNumber increments the report counter and returns the new value
func IncrementReportNumber() (int, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}
	if err := ensureReportCounterTable(); err != nil {
		return 0, err
	}

	updateQuery := `
		UPDATE report_counter
		SET current_report = current_report + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_report;`

	var next int
	if err := DB.QueryRow(updateQuery).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to increment report number: %w", err)
	}

	log.Info().Int("newReport", next).Msg("Incremented report counter")
	return next, nil
}

// ResetReportNumber resets the report counter to a specific value (for maintenance)
func ResetReportNumber(n int) error {
	if DB == nil {
		return ErrNotInitialized
	}
	if n < 0 {
		return fmt.Errorf("report number cannot be negative: %d", n)
	}
	if err := ensureReportCounterTable(); err != nil {
		return err
	}

	result, err := DB.Exec(`UPDATE report_counter SET current_report = $1, updated_at = CURRENT_TIMESTAMP WHERE id = 1;`, n)
	if err != nil {
		return fmt.Errorf("failed to reset report number to %d: %w", n, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting report number")
	}

	log.Warn().Int("reportNumber", n).Msg("Reset report counter")
	return nil
}
