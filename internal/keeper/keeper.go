package keeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/ssgreg/repeat"

	"github.com/powerpool/powerindex-keeper/internal/config"
	"github.com/powerpool/powerindex-keeper/internal/cooldown"
	"github.com/powerpool/powerindex-keeper/internal/deployment"
	"github.com/powerpool/powerindex-keeper/internal/errs"
	"github.com/powerpool/powerindex-keeper/internal/ledger"
	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/metrics"
	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/state"
	"github.com/powerpool/powerindex-keeper/internal/types"
)

// DefaultRetryBackoff applies when a keeper is configured without a retry backoff.
const DefaultRetryBackoff = time.Second

// Keeper watches every client of a deployment and reports (or slashes) whenever a window opens.
type Keeper struct {
	logger     zerolog.Logger
	deployment *deployment.Deployment
	mode       string
	reporterID uint64
	pokerKey   common.Address
	gasPrice   sdkmath.Int
	rewards    poke.RewardOptions
	metrics    *metrics.Metrics
	persist    bool

	retryAttempts int
	retryBackoff  time.Duration

	mu       sync.Mutex
	runCount int
	cron     *cron.Cron
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	Deployment *deployment.Deployment
	Mode       string // config.ModeReporter or config.ModeSlasher
	ReporterID uint64
	PokerKey   common.Address
	GasPrice   sdkmath.Int
	Rewards    poke.RewardOptions
	Metrics    *metrics.Metrics // Optional
	// Persist stores a receipt per attempt through the state package; it requires an initialized database.
	Persist bool

	RetryAttempts int
	RetryBackoff  time.Duration
}

// NewKeeper creates a keeper after validating its configuration.
func NewKeeper(cfg Config) (*Keeper, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}

	k := &Keeper{
		logger:        logger.GetForComponent("keeper"),
		deployment:    cfg.Deployment,
		mode:          cfg.Mode,
		reporterID:    cfg.ReporterID,
		pokerKey:      cfg.PokerKey,
		gasPrice:      cfg.GasPrice,
		rewards:       cfg.Rewards,
		metrics:       cfg.Metrics,
		persist:       cfg.Persist,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
	}

	k.logger.Info().
		Str("mode", k.mode).
		Uint64("reporterID", k.reporterID).
		Str("poker", k.pokerKey.Hex()).
		Str("gasPrice", k.gasPrice.String()).
		Msg("Keeper instance created")
	return k, nil
}

func validateConfig(cfg Config) error {
	if cfg.Deployment == nil {
		return fmt.Errorf("deployment cannot be nil")
	}
	if cfg.Mode != config.ModeReporter && cfg.Mode != config.ModeSlasher {
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.ReporterID == 0 {
		return fmt.Errorf("reporter id must be positive")
	}
	if cfg.PokerKey == (common.Address{}) {
		return fmt.Errorf("poker key cannot be empty")
	}
	if cfg.GasPrice.IsNil() || !cfg.GasPrice.IsPositive() {
		return fmt.Errorf("gas price must be positive")
	}
	return nil
}

// Start schedules RunOnce on schedule, a cron spec with an optional seconds field ("@every 10m" works too).
func (k *Keeper) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := k.RunOnce(ctx); err != nil {
			k.logger.Error().Err(err).Msg("Keeper run failed")
		}
	}); err != nil {
		return fmt.Errorf("register keeper schedule %q: %w", schedule, err)
	}

	k.mu.Lock()
	k.cron = c
	k.mu.Unlock()
	c.Start()
	k.logger.Info().Str("schedule", schedule).Msg("Keeper scheduler started")

	go func() {
		<-ctx.Done()
		k.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	c := k.cron
	k.cron = nil
	k.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	k.logger.Info().Msg("Keeper scheduler stopped")
}

// RunOnce makes one pass over every client and returns a receipt per attempted report.
// Clients the keeper is not entitled to report on are skipped without a receipt.
func (k *Keeper) RunOnce(ctx context.Context) ([]types.ReportReceipt, error) {
	start := time.Now()
	runID := uuid.New().String()
	runLogger := k.logger.With().Str("run_id", runID).Logger()

	k.mu.Lock()
	k.runCount++
	run := k.runCount
	k.mu.Unlock()
	runLogger.Info().Int("run", run).Msg("--- Starting keeper run ---")

	layer := k.deployment.Layer
	var (
		receipts []types.ReportReceipt
		failures int
	)
	for _, client := range layer.Clients() {
		if err := ctx.Err(); err != nil {
			k.observeRun("cancelled", start)
			return receipts, err
		}

		due, err := k.due(client)
		if err != nil {
			runLogger.Warn().Err(err).Str("client", client.Hex()).Msg("Could not evaluate client")
			continue
		}
		if !due {
			continue
		}

		receipt := k.report(ctx, runLogger, runID, client)
		if !receipt.Success {
			failures++
		}
		k.store(runLogger, &receipt)
		receipts = append(receipts, receipt)
	}

	result := "success"
	switch {
	case len(receipts) == 0:
		result = "idle"
	case failures == len(receipts):
		result = "failed"
	case failures > 0:
		result = "partial"
	}
	k.observeRun(result, start)
	runLogger.Info().
		Int("run", run).
		Int("attempts", len(receipts)).
		Int("failures", failures).
		Dur("duration", time.Since(start)).
		Msg("--- Keeper run completed ---")
	return receipts, nil
}

// due reports whether the keeper's mode entitles it to act on client now.
func (k *Keeper) due(client common.Address) (bool, error) {
	layer := k.deployment.Layer
	info, err := layer.ClientInfo(client, k.deployment.Ledger.Clock().Now())
	if err != nil {
		return false, err
	}
	if !info.Active {
		return false, nil
	}
	designated, err := layer.DesignatedReporter(client)
	if err != nil {
		return false, err
	}

	switch k.mode {
	case config.ModeSlasher:
		return designated != k.reporterID && info.Phase == cooldown.Overdue.String(), nil
	default:
		return designated == k.reporterID && info.Phase != cooldown.Cooling.String(), nil
	}
}

// report sends one report transaction, retrying failures the oracle marks as external.
func (k *Keeper) report(ctx context.Context, runLogger zerolog.Logger, runID string, client common.Address) types.ReportReceipt {
	slasher := k.mode == config.ModeSlasher
	receipt := types.ReportReceipt{
		RunID:      runID,
		Client:     client,
		ReporterID: k.reporterID,
		Slasher:    slasher,
		GasPrice:   k.gasPrice,
		Timestamp:  k.deployment.Ledger.Clock().Now(),
	}

	var (
		rep     poke.Report
		txr     *ledger.Receipt
		lastErr error
	)
	err := repeat.Repeat(
		repeat.Fn(func() error {
			var err error
			txr, err = k.deployment.Ledger.Execute(ctx, k.pokerKey, k.gasPrice, func(tx *ledger.Tx) error {
				var err error
				if slasher {
					rep, err = k.deployment.Layer.PokeFromSlasher(tx, client, k.reporterID, k.rewards)
				} else {
					rep, err = k.deployment.Layer.PokeFromReporter(tx, client, k.reporterID, k.rewards)
				}
				return err
			})
			lastErr = err
			if err != nil && errs.IsCategory(err, errs.External) {
				return repeat.HintTemporary(err)
			}
			return err
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(k.retryAttempts),
		repeat.FnOnError(func(err error) error {
			runLogger.Warn().Err(err).Str("client", client.Hex()).Msg("Report attempt failed")
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: k.retryBackoff,
				MaxDelay:  4 * k.retryBackoff,
			}).Set(),
		),
	)
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		receipt.Message = err.Error()
		receipt.ErrorCode = errs.CodeOf(err)
		runLogger.Error().Err(err).Str("client", client.Hex()).Bool("slasher", slasher).Msg("Report rejected")
		return receipt
	}

	receipt.Success = true
	receipt.TxID = txr.ID.String()
	receipt.Timestamp = txr.Time
	receipt.GasUsed = txr.GasUsed
	receipt.EventKinds = state.EventKinds(txr.Events)
	receipt.Missed = rep.Compensation.Missed
	receipt.PoolsPoked = rep.Poke.Poked
	receipt.Compensation = rep.Compensation.Total
	receipt.PaidAmount = rep.Compensation.Paid.Amount
	receipt.PaidDenom = rep.Compensation.Paid.Denom
	receipt.Slashed = rep.Slashed

	runLogger.Info().
		Str("client", client.Hex()).
		Str("tx_id", receipt.TxID).
		Int("pools", len(receipt.PoolsPoked)).
		Str("paid", rep.Compensation.Paid.String()).
		Bool("missed", receipt.Missed).
		Msg("Report accepted")
	return receipt
}

func (k *Keeper) store(runLogger zerolog.Logger, receipt *types.ReportReceipt) {
	if !k.persist {
		return
	}
	n, err := state.IncrementReportNumber()
	if err != nil {
		runLogger.Error().Err(err).Msg("Failed to increment report number")
		return
	}
	receipt.ReportNumber = n
	id, err := state.SaveReportReceipt(*receipt)
	if err != nil {
		runLogger.Error().Err(err).Int("report", n).Msg("Failed to save report receipt")
		return
	}
	receipt.ReceiptID = id
}

func (k *Keeper) observeRun(result string, start time.Time) {
	if k.metrics == nil {
		return
	}
	k.metrics.KeeperRuns.WithLabelValues(result).Inc()
	k.metrics.KeeperRunDuration.Observe(time.Since(start).Seconds())
}

// Runs returns how many passes the keeper has started.
func (k *Keeper) Runs() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.runCount
}
