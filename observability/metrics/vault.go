package metrics

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

type VaultMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	totalShares  prometheus.Gauge
	accumulators *prometheus.GaugeVec
	harvested    *prometheus.CounterVec
	harvestRuns  *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
}

var (
	vaultOnce     sync.Once
	vaultRegistry *VaultMetrics
)

// Vault returns the process-wide vault metrics, registering them with the
// default prometheus registry on first use.
func Vault() *VaultMetrics {
	vaultOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_operations_total",
				Help: "Count of vault operations by operation and outcome code.",
			}, []string{"op", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "vault_operation_seconds",
				Help:    "Latency of vault operations including collaborator calls.",
				Buckets: prometheus.DefBuckets,
			}, []string{"op"}),
			totalShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "vault_total_shares",
				Help: "Outstanding vault shares after the last committed operation.",
			}),
			accumulators: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "vault_acc_reward_per_share",
				Help: "Scaled reward accumulator per reward token index.",
			}, []string{"token"}),
			harvested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_harvested_total",
				Help: "Reward token units pulled from the staking position.",
			}, []string{"token"}),
			harvestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_harvester_runs_total",
				Help: "Scheduled harvest attempts by outcome.",
			}, []string{"outcome"}),
			httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "vault_http_requests_total",
				Help: "API requests by route and status code.",
			}, []string{"route", "status"}),
		}
		prometheus.MustRegister(
			vaultRegistry.operations,
			vaultRegistry.latency,
			vaultRegistry.totalShares,
			vaultRegistry.accumulators,
			vaultRegistry.harvested,
			vaultRegistry.harvestRuns,
			vaultRegistry.httpRequests,
		)
	})
	return vaultRegistry
}

// Operation records the outcome of one engine operation.
func (m *VaultMetrics) Operation(op, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Pool publishes the committed share supply and accumulators.
func (m *VaultMetrics) Pool(totalShares *big.Int, acc [2]*big.Int) {
	if m == nil {
		return
	}
	m.totalShares.Set(toFloat(totalShares))
	for i, value := range acc {
		m.accumulators.WithLabelValues(strconv.Itoa(i)).Set(toFloat(value))
	}
}

// Harvest adds harvested reward units per token address.
func (m *VaultMetrics) Harvest(tokens [2]common.Address, amounts [2]*big.Int) {
	if m == nil {
		return
	}
	for i, amount := range amounts {
		if amount == nil || amount.Sign() <= 0 {
			continue
		}
		m.harvested.WithLabelValues(tokens[i].Hex()).Add(toFloat(amount))
	}
}

func (m *VaultMetrics) ObserveHarvestRun(outcome string) {
	if m == nil {
		return
	}
	m.harvestRuns.WithLabelValues(outcome).Inc()
}

func (m *VaultMetrics) ObserveHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// OperationsVec exposes the operation counter for tests.
func (m *VaultMetrics) OperationsVec() *prometheus.CounterVec { return m.operations }

// HarvestRunsVec exposes the harvester counter for tests.
func (m *VaultMetrics) HarvestRunsVec() *prometheus.CounterVec { return m.harvestRuns }

// TotalSharesGauge exposes the share gauge for tests.
func (m *VaultMetrics) TotalSharesGauge() prometheus.Gauge { return m.totalShares }

// HTTPRequestsVec exposes the request counter for tests.
func (m *VaultMetrics) HTTPRequestsVec() *prometheus.CounterVec { return m.httpRequests }

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
