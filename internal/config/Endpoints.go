package config

import (
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/powerpool/powerindex-keeper/internal/state"
)

// Endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// OracleURL is the price/supply oracle endpoint. Empty means the descriptor's static data is used.
	OracleURL string
	// WebPort is the port the read-only API and /metrics listen on.
	WebPort string
)

// loadEndpointConfig loads endpoint configuration from environment variables.
// This function is called by LoadConfig() in General.go.
func loadEndpointConfig() error {
	OracleURL = getEnvOrDefault("ORACLE_URL", "")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	log.Debug().
		Str("OracleURL", OracleURL).
		Str("WebPort", WebPort).
		Msg("Endpoint configuration loaded successfully.")

	return nil
}

// LoadDatabaseConfig reads the DB_* variables. Host, port and SSL mode default to a local server.
func LoadDatabaseConfig() state.DBConfig {
	port, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}
	return state.DBConfig{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("DB_USER", ""),
		Password: getEnvOrDefault("DB_PASSWORD", ""),
		DBName:   getEnvOrDefault("DB_NAME", ""),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
	}
}
