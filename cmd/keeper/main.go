package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/powerpool/powerindex-keeper/internal/config"
	"github.com/powerpool/powerindex-keeper/internal/deployment"
	"github.com/powerpool/powerindex-keeper/internal/events"
	"github.com/powerpool/powerindex-keeper/internal/keeper"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/metrics"
	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/state"
	"github.com/powerpool/powerindex-keeper/internal/types"
	"github.com/powerpool/powerindex-keeper/internal/web"
)

// main is the entry point for the keeper process.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if path := os.Getenv("LOG_FILE"); path != "" {
		file, err := logger.FileWriter(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to open log file")
		}
		logger.InitializeWithWriter(os.Getenv("LOG_LEVEL"), io.MultiWriter(os.Stdout, file))
	} else {
		logger.Initialize(os.Getenv("LOG_LEVEL"))
	}
	log.Info().Msg("Keeper starting...")

	if !common.IsHexAddress(config.PokerKey) {
		log.Fatal().Str("KEEPER_POKER_KEY", config.PokerKey).Msg("Poker key must be a hex address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The database is optional; without DB_NAME the keeper only logs its receipts.
	persist := os.Getenv("DB_NAME") != ""
	if persist {
		if err := state.InitDB(config.LoadDatabaseConfig()); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("DB_NAME not set. Reports and events will not be stored.")
	}

	// --- 2. Deployment ---
	desc, err := config.LoadDeployment(config.DeploymentFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", config.DeploymentFile).Msg("Failed to load deployment descriptor")
	}
	if persist {
		if err := syncIncentiveParameters(desc); err != nil {
			log.Fatal().Err(err).Msg("Failed to sync incentive parameters")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg, "powerindex")

	sinks := events.MultiSink{events.LogSink{Logger: logger.GetForComponent("events")}}
	if persist {
		sinks = append(sinks, state.NewEventStore())
	}
	d, err := deployment.Build(ctx, desc, deployment.Options{
		Sink:      sinks,
		OracleURL: config.OracleURL,
		Observer:  m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build deployment")
	}

	// --- 3. Web Server ---
	webServer := web.NewWebServer(config.WebPort, d, reg)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting keeper API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Keeper ---
	k, err := keeper.NewKeeper(keeper.Config{
		Deployment: d,
		Mode:       config.KeeperMode,
		ReporterID: config.ReporterID,
		PokerKey:   common.HexToAddress(config.PokerKey),
		GasPrice:   sdkmath.NewIntFromUint64(config.GasPriceGwei).MulRaw(params.GWei),
		Rewards: poke.RewardOptions{
			CompensateInNative: config.CompensateInNative,
			PlanID:             config.BonusPlanID,
		},
		Metrics:       m,
		Persist:       persist,
		RetryAttempts: int(config.RetryAttempts),
		RetryBackoff:  config.RetryBackoff,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper")
	}

	// First pass immediately, then on schedule.
	if _, err := k.RunOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Initial keeper run failed")
	}
	if err := k.Start(ctx, config.KeeperSchedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule keeper")
	}

	<-ctx.Done()
	k.Stop()
	log.Info().Msg("Keeper stopped")
}

// syncIncentiveParameters stores the descriptor's parameters as the active set when they differ from it.
func syncIncentiveParameters(desc *config.Deployment) error {
	params, err := desc.Incentives.Parameters()
	if err != nil {
		return err
	}

	active, err := state.LoadActiveIncentiveParameters(config.DefaultIncentiveConfigName)
	if err != nil {
		log.Warn().Err(err).Msg("No active incentive parameters, saving the descriptor's.")
		_, err := state.SaveIncentiveParameters(params, config.DefaultIncentiveConfigName, config.DefaultIncentiveConfigVersion, true)
		return err
	}
	if sameParameters(*active, params) {
		log.Info().Msg("Incentive parameters loaded successfully.")
		return nil
	}

	version, err := state.NextIncentiveParametersVersion(config.DefaultIncentiveConfigName)
	if err != nil {
		return err
	}
	log.Info().Int("version", version).Msg("Incentive parameters changed, saving a new version.")
	_, err = state.SaveIncentiveParameters(params, config.DefaultIncentiveConfigName, version, true)
	return err
}

func sameParameters(a, b types.IncentiveParameters) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
