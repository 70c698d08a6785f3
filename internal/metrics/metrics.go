package metrics

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/powerpool/powerindex-keeper/internal/poke"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

// Metrics contains the Prometheus metrics of the incentive layer and the keeper bot.
type Metrics struct {
	// --- Incentive layer ---
	ReportsTotal     *prometheus.CounterVec
	CompensationPaid *prometheus.CounterVec
	ReportGasUsed    *prometheus.HistogramVec
	CreditRemaining  *prometheus.GaugeVec
	SlashedTotal     *prometheus.CounterVec

	// --- Keeper bot ---
	KeeperRuns        *prometheus.CounterVec
	KeeperRunDuration prometheus.Histogram
	PoolsPoked        *prometheus.CounterVec
}

// NewMetrics creates and registers every metric on reg.
func NewMetrics(reg prometheus.Registerer, subsystem string) *Metrics {
	return &Metrics{
		ReportsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "reports_total",
			Help:      "Accepted reports, labeled by client and whether the report was late.",
		}, []string{"client", "missed"}),

		CompensationPaid: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "compensation_paid_total",
			Help:      "Compensation paid to reporters in whole tokens, labeled by client and denomination.",
		}, []string{"client", "denom"}),

		ReportGasUsed: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "report_gas_used",
			Help:      "Metered gas of accepted reports.",
			Buckets:   prometheus.ExponentialBuckets(25000, 2, 8),
		}, []string{"client"}),

		CreditRemaining: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "client_credit",
			Help:      "Credit left to compensate reporters of a client, in whole tokens.",
		}, []string{"client"}),

		SlashedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "slashed_total",
			Help:      "Deposit slashed from designated reporters in whole tokens.",
		}, []string{"client"}),

		KeeperRuns: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "keeper_runs_total",
			Help:      "Keeper runs labeled by outcome.",
		}, []string{"result"}),

		KeeperRunDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "keeper_run_duration_seconds",
			Help:      "Time a keeper run takes across every client.",
			Buckets:   prometheus.DefBuckets,
		}),

		PoolsPoked: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "pools_poked_total",
			Help:      "Pools recomputed by accepted reports.",
		}, []string{"client"}),
	}
}

func (m *Metrics) ObserveReport(client common.Address, c poke.Compensation) {
	label := client.Hex()
	missed := "false"
	if c.Missed {
		missed = "true"
	}
	m.ReportsTotal.WithLabelValues(label, missed).Inc()
	m.ReportGasUsed.WithLabelValues(label).Observe(float64(c.GasUsed))
	m.PoolsPoked.WithLabelValues(label).Add(float64(c.Messages))
	if paid, err := utils.IntToFloat64(c.Paid.Amount, utils.TokenDecimals); err == nil {
		m.CompensationPaid.WithLabelValues(label, c.Paid.Denom).Add(paid)
	}
}

func (m *Metrics) ObserveSlash(client common.Address, slashed sdkmath.Int) {
	if v, err := utils.IntToFloat64(slashed, utils.TokenDecimals); err == nil {
		m.SlashedTotal.WithLabelValues(client.Hex()).Add(v)
	}
}

func (m *Metrics) ObserveCredit(client common.Address, credit sdkmath.Int) {
	if v, err := utils.IntToFloat64(credit, utils.TokenDecimals); err == nil {
		m.CreditRemaining.WithLabelValues(client.Hex()).Set(v)
	}
}

var _ poke.Observer = (*Metrics)(nil)
