package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

var ErrNotInitialized = errors.New("database not initialized")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DSN renders the lib/pq connection string.
func (cfg DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	var err error
	DB, err = sql.Open("postgres", cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		DB = nil
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("host", cfg.Host).Str("dbname", cfg.DBName).Msg("Successfully connected to the PostgreSQL database")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
		DB = nil
	}
}

// Tables lists every table EnsureSchema creates, in drop order.
var Tables = []string{"report_receipts", "ledger_events", "incentive_parameters", "report_counter"}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrNotInitialized
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS incentive_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL,
			config_name VARCHAR(100) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			parameters JSONB NOT NULL,
			UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_incentive_parameters_active ON incentive_parameters(config_name, is_active);

		CREATE TABLE IF NOT EXISTS ledger_events (
			event_id BIGSERIAL PRIMARY KEY,
			tx_id UUID NOT NULL,
			kind VARCHAR(64) NOT NULL,
			topic CHAR(66) NOT NULL,
			emitter CHAR(42) NOT NULL,
			event_time TIMESTAMPTZ NOT NULL,
			attributes JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_events_kind ON ledger_events(kind, event_time DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_events_emitter ON ledger_events(emitter, event_time DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_events_tx ON ledger_events(tx_id);

		CREATE TABLE IF NOT EXISTS report_receipts (
			receipt_id BIGSERIAL PRIMARY KEY,
			report_number INTEGER NOT NULL,
			run_id UUID NOT NULL,
			tx_id VARCHAR(64),
			client CHAR(42) NOT NULL,
			reporter_id BIGINT NOT NULL,
			slasher BOOLEAN NOT NULL DEFAULT FALSE,
			missed BOOLEAN NOT NULL DEFAULT FALSE,
			success BOOLEAN NOT NULL,
			message TEXT,
			error_code VARCHAR(64),
			pools_poked TEXT[],
			gas_used BIGINT NOT NULL DEFAULT 0,
			gas_price NUMERIC(78, 0) NOT NULL DEFAULT 0,
			compensation NUMERIC(78, 0) NOT NULL DEFAULT 0,
			paid_amount NUMERIC(78, 0) NOT NULL DEFAULT 0,
			paid_denom VARCHAR(128),
			slashed NUMERIC(78, 0) NOT NULL DEFAULT 0,
			event_kinds TEXT[],
			receipt_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_report_receipts_timestamp ON report_receipts(receipt_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_report_receipts_client ON report_receipts(client, receipt_timestamp DESC);
	`
	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	if err := ensureReportCounterTable(); err != nil {
		return err
	}
	log.Info().Msg("Database schema ensured")
	return nil
}

// DropSchema removes every keeper table.
func DropSchema() error {
	if DB == nil {
		return ErrNotInitialized
	}
	for _, table := range Tables {
		if _, err := DB.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	log.Warn().Strs("tables", Tables).Msg("Dropped keeper tables")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return ErrNotInitialized
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
