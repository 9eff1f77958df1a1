package observability

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const namespace = "hedgepool"

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	protocolOnce sync.Once
	protocolReg  *ProtocolMetrics

	keeperOnce sync.Once
	keeperReg  *KeeperMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording API
// activity per module and method.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// ProtocolMetrics tracks protocol operations and pool balances.
type ProtocolMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	reserves   *prometheus.GaugeVec
	collateral *prometheus.GaugeVec
	covered    *prometheus.GaugeVec
	ratio      *prometheus.GaugeVec
	pending    prometheus.Gauge

	// OTLP mirrors of the operation counters, exported when the metric
	// pipeline is enabled.
	opCounter metric.Int64Counter
	opLatency metric.Float64Histogram
}

// Protocol returns the singleton protocol metrics registry.
func Protocol() *ProtocolMetrics {
	protocolOnce.Do(func() {
		protocolReg = &ProtocolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "protocol",
				Name:      "operations_total",
				Help:      "Count of protocol operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "protocol",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for protocol operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			reserves: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "collateral_reserves",
				Help:      "Collateral reserves per asset in base units.",
			}, []string{"asset"}),
			collateral: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "collateral_amount",
				Help:      "Collateral backing issued stable value per asset in base units.",
			}, []string{"asset"}),
			covered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "collateral_covered",
				Help:      "Collateral covered by open hedging positions per asset.",
			}, []string{"asset"}),
			ratio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "pool",
				Name:      "hedging_ratio",
				Help:      "Hedging ratio per asset where 1 means fully hedged.",
			}, []string{"asset"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lending",
				Name:      "pending_continuations",
				Help:      "Lending requests awaiting their callback.",
			}),
		}
		prometheus.MustRegister(
			protocolReg.operations,
			protocolReg.latency,
			protocolReg.reserves,
			protocolReg.collateral,
			protocolReg.covered,
			protocolReg.ratio,
			protocolReg.pending,
		)
		protocolReg.initMeter()
	})
	return protocolReg
}

func (m *ProtocolMetrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("hedgepool/protocol")
	counter, err := meter.Int64Counter("hedgepool.protocol.operations")
	if err != nil {
		meter = noop.NewMeterProvider().Meter("hedgepool/protocol")
		counter, _ = meter.Int64Counter("hedgepool.protocol.operations")
	}
	latency, err := meter.Float64Histogram("hedgepool.protocol.operation_duration", metric.WithUnit("s"))
	if err != nil {
		latency, _ = noop.NewMeterProvider().Meter("hedgepool/protocol").Float64Histogram("hedgepool.protocol.operation_duration")
	}
	m.opCounter = counter
	m.opLatency = latency
}

// Observe records the execution of a protocol operation.
func (m *ProtocolMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
	if m.opCounter != nil {
		attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("outcome", outcome))
		m.opCounter.Add(context.Background(), 1, attrs)
		m.opLatency.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// RecordPool updates the pool gauges. ratio is expressed in units of one.
func (m *ProtocolMetrics) RecordPool(asset string, reserves, collateral, covered *big.Int, ratio float64) {
	if m == nil {
		return
	}
	label := labelAsset(asset)
	m.reserves.WithLabelValues(label).Set(bigToFloat(reserves))
	m.collateral.WithLabelValues(label).Set(bigToFloat(collateral))
	m.covered.WithLabelValues(label).Set(bigToFloat(covered))
	m.ratio.WithLabelValues(label).Set(ratio)
}

// SetPending records the number of outstanding lending continuations.
func (m *ProtocolMetrics) SetPending(count int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(count))
}

// KeeperMetrics wraps collectors tracking the maintenance loop.
type KeeperMetrics struct {
	tickLatency prometheus.Histogram
	tasks       *prometheus.CounterVec
	errors      *prometheus.CounterVec
	pauseActive prometheus.Gauge
}

// Keeper exposes the metrics registry for the keeper scheduler.
func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperReg = &KeeperMetrics{
			tickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "tick_duration_seconds",
				Help:      "Duration of a full keeper pass over every whitelisted asset.",
				Buckets:   prometheus.DefBuckets,
			}),
			tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "tasks_total",
				Help:      "Keeper tasks executed segmented by task and asset.",
			}, []string{"task", "asset"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "errors_total",
				Help:      "Keeper task failures segmented by task and asset.",
			}, []string{"task", "asset"}),
			pauseActive: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "keeper",
				Name:      "pause_engaged",
				Help:      "Indicates whether the keeper pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			keeperReg.tickLatency,
			keeperReg.tasks,
			keeperReg.errors,
			keeperReg.pauseActive,
		)
	})
	return keeperReg
}

// ObserveTick records the duration of a keeper pass.
func (m *KeeperMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickLatency.Observe(d.Seconds())
}

// RecordTask counts a task execution and its failure, if any.
func (m *KeeperMetrics) RecordTask(task, asset string, err error) {
	if m == nil {
		return
	}
	if task = strings.TrimSpace(task); task == "" {
		task = "unspecified"
	}
	label := labelAsset(asset)
	m.tasks.WithLabelValues(task, label).Inc()
	if err != nil {
		m.errors.WithLabelValues(task, label).Inc()
	}
}

// SetPause toggles the pause_engaged gauge.
func (m *KeeperMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseActive.Set(1)
		return
	}
	m.pauseActive.Set(0)
}

// OracleMetrics bundles collectors for price fetches and freshness tracking.
type OracleMetrics struct {
	fetches   *prometheus.CounterVec
	freshness *prometheus.GaugeVec
}

// Oracle returns the metrics registry for the price client.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "fetches_total",
				Help:      "Price fetches segmented by pair and outcome.",
			}, []string{"pair", "outcome"}),
			freshness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "quote_age_seconds",
				Help:      "Age in seconds of the last accepted quote per pair.",
			}, []string{"pair"}),
		}
		prometheus.MustRegister(oracleRegistry.fetches, oracleRegistry.freshness)
	})
	return oracleRegistry
}

// RecordFetch counts a price fetch.
func (m *OracleMetrics) RecordFetch(pair string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(labelAsset(pair), outcome).Inc()
}

// RecordFreshness records how stale the accepted quote was.
func (m *OracleMetrics) RecordFreshness(pair string, age time.Duration) {
	if m == nil {
		return
	}
	if age < 0 {
		age = 0
	}
	m.freshness.WithLabelValues(labelAsset(pair)).Set(age.Seconds())
}

func labelAsset(asset string) string {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "UNKNOWN"
	}
	return strings.ToUpper(trimmed)
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
