package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/powerpool/powerindex-keeper/internal/types"
)

// SaveIncentiveParameters saves a new version of the incentive parameters.
func SaveIncentiveParameters(params types.IncentiveParameters, configName string, version int, makeActive bool) (paramsID int64, err error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal incentive parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		_, err = tx.Exec(`UPDATE incentive_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	now := time.Now()
	err = tx.QueryRow(`
		INSERT INTO incentive_parameters (version, config_name, is_active, activated_at, created_at, parameters)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;`,
		version, configName, makeActive, now, now, payload,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert incentive parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved incentive parameters")
	return paramsID, nil
}

// LoadActiveIncentiveParameters loads the currently active parameters of configName.
func LoadActiveIncentiveParameters(configName string) (*types.IncentiveParameters, error) {
	return loadIncentiveParameters(configName, `
		SELECT parameters FROM incentive_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`)
}

// LoadLatestIncentiveParameters loads the most recent version of configName, active or not.
func LoadLatestIncentiveParameters(configName string) (*types.IncentiveParameters, error) {
	return loadIncentiveParameters(configName, `
		SELECT parameters FROM incentive_parameters
		WHERE config_name = $1
		ORDER BY version DESC, created_at DESC
		LIMIT 1;`)
}

func loadIncentiveParameters(configName, query string) (*types.IncentiveParameters, error) {
	if DB == nil {
		return nil, ErrNotInitialized
	}

	var payload []byte
	if err := DB.QueryRow(query, configName).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no incentive parameters found for config '%s'", configName)
		}
		return nil, fmt.Errorf("failed to scan incentive parameters for config '%s': %w", configName, err)
	}

	p := &types.IncentiveParameters{}
	if err := json.Unmarshal(payload, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incentive parameters for config '%s': %w", configName, err)
	}
	log.Info().Str("config", configName).Msg("Loaded incentive parameters")
	return p, nil
}

// NextIncentiveParametersVersion returns one past the highest stored version of configName, or 1 if none exists.
func NextIncentiveParametersVersion(configName string) (int, error) {
	if DB == nil {
		return 0, ErrNotInitialized
	}
	var version int
	err := DB.QueryRow(`SELECT COALESCE(MAX(version), 0) + 1 FROM incentive_parameters WHERE config_name = $1;`, configName).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read incentive parameter versions for config '%s': %w", configName, err)
	}
	return version, nil
}
