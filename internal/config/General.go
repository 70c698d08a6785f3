package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Keeper configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// DeploymentFile is the YAML descriptor of the pools, strategies and incentive clients to run.
	DeploymentFile string

	// KeeperMode is "reporter" (poke as the designated reporter) or "slasher" (poke overdue clients).
	KeeperMode string
	// ReporterID is the reporter this keeper acts for.
	ReporterID uint64
	// PokerKey is the address the keeper sends reports from.
	PokerKey string
	// CompensateInNative pays rewards in the gas-settlement asset instead of the incentive token.
	CompensateInNative bool
	// BonusPlanID selects the client's bonus plan; 0 uses the client's default.
	BonusPlanID uint64

	// KeeperSchedule is the cron spec the keeper runs on.
	KeeperSchedule string
	// GasPriceGwei is the gas price reports are sent at.
	GasPriceGwei uint64
	// RetryAttempts bounds the tries of a report whose oracle lookups fail.
	RetryAttempts uint64
	// RetryBackoff is the initial delay between those retries.
	RetryBackoff time.Duration
)

const (
	ModeReporter = "reporter"
	ModeSlasher  = "slasher"
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// DEPLOYMENT_FILE, KEEPER_REPORTER_ID and KEEPER_POKER_KEY are required; the rest have defaults.
func LoadConfig() error {
	log.Info().Msg("Loading keeper configuration from environment variables...")

	var err error

	DeploymentFile, err = getEnv("DEPLOYMENT_FILE")
	if err != nil {
		return err
	}

	ReporterID, err = getEnvAsUint64("KEEPER_REPORTER_ID")
	if err != nil {
		return err
	}

	PokerKey, err = getEnv("KEEPER_POKER_KEY")
	if err != nil {
		return err
	}

	KeeperMode = getEnvOrDefault("KEEPER_MODE", ModeReporter)
	if KeeperMode != ModeReporter && KeeperMode != ModeSlasher {
		return errors.New("environment variable KEEPER_MODE must be 'reporter' or 'slasher', got: " + KeeperMode)
	}

	if CompensateInNative, err = getEnvAsBoolOrDefault("KEEPER_COMPENSATE_NATIVE", false); err != nil {
		return err
	}
	if BonusPlanID, err = getEnvAsUint64OrDefault("KEEPER_BONUS_PLAN", 0); err != nil {
		return err
	}

	KeeperSchedule = getEnvOrDefault("KEEPER_SCHEDULE", "@every 10m")
	if GasPriceGwei, err = getEnvAsUint64OrDefault("KEEPER_GAS_PRICE_GWEI", 100); err != nil {
		return err
	}
	if RetryAttempts, err = getEnvAsUint64OrDefault("KEEPER_RETRY_ATTEMPTS", 3); err != nil {
		return err
	}
	if RetryBackoff, err = getEnvAsDurationOrDefault("KEEPER_RETRY_BACKOFF", 30*time.Second); err != nil {
		return err
	}

	if err := loadEndpointConfig(); err != nil {
		return err
	}

	// Expand the tilde (~) in the descriptor path to the user's home directory.
	if strings.HasPrefix(DeploymentFile, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		DeploymentFile = filepath.Join(home, DeploymentFile[2:])
	}

	log.Debug().
		Str("DeploymentFile", DeploymentFile).
		Str("KeeperMode", KeeperMode).
		Uint64("ReporterID", ReporterID).
		Str("KeeperSchedule", KeeperSchedule).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsUint64OrDefault(key string, fallback uint64) (uint64, error) {
	if _, exists := os.LookupEnv(key); !exists {
		return fallback, nil
	}
	return getEnvAsUint64(key)
}

func getEnvAsBoolOrDefault(key string, fallback bool) (bool, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, errors.New("environment variable " + key + " must be a valid bool, got: " + valueStr)
	}
	return value, nil
}

func getEnvAsDurationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	return value, nil
}
