package observability

import (
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"janus/core/events"
)

type escrowMetrics struct {
	events     *prometheus.CounterVec
	volume     *prometheus.CounterVec
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

type journalMetrics struct {
	appends  prometheus.Counter
	failures *prometheus.CounterVec
	lag      prometheus.Gauge
}

type idempotencyMetrics struct {
	lookups *prometheus.CounterVec
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *escrowMetrics

	journalMetricsOnce sync.Once
	journalRegistry    *journalMetrics

	idempotencyMetricsOnce sync.Once
	idempotencyRegistry    *idempotencyMetrics
)

// Escrow returns the lazily-initialised registry tracking ledger activity.
func Escrow() *escrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &escrowMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "janus",
				Subsystem: "escrow",
				Name:      "events_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "janus",
				Subsystem: "escrow",
				Name:      "transfer_volume_total",
				Help:      "Sum of moved base units segmented by transfer reason.",
			}, []string{"reason"}),
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "janus",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome code.",
			}, []string{"operation", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "janus",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of ledger operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			escrowRegistry.events,
			escrowRegistry.volume,
			escrowRegistry.operations,
			escrowRegistry.latency,
		)
	})
	return escrowRegistry
}

// Emit implements events.Emitter so the registry can sit in the engine's
// emitter chain.
func (m *escrowMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.events.WithLabelValues(eventType).Inc()
	if transfer, ok := evt.(events.Transfer); ok {
		m.RecordTransfer(transfer.Reason, transfer.Amount)
	}
}

// RecordTransfer adds amount to the volume counter. Amounts beyond float64
// precision are approximated.
func (m *escrowMetrics) RecordTransfer(reason string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		reason = "unspecified"
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.volume.WithLabelValues(reason).Add(value)
}

// Observe records the outcome code and latency of a ledger operation. An empty
// code means success.
func (m *escrowMetrics) Observe(operation, code string, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if code == "" {
		code = "ok"
	}
	m.operations.WithLabelValues(operation, code).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Journal returns the registry tracking the event journal.
func Journal() *journalMetrics {
	journalMetricsOnce.Do(func() {
		journalRegistry = &journalMetrics{
			appends: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "janus",
				Subsystem: "journal",
				Name:      "appends_total",
				Help:      "Count of events appended to the journal.",
			}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "janus",
				Subsystem: "journal",
				Name:      "failures_total",
				Help:      "Journal failures segmented by stage.",
			}, []string{"stage"}),
			lag: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "janus",
				Subsystem: "journal",
				Name:      "last_sequence",
				Help:      "Sequence number of the most recent journal entry.",
			}),
		}
		prometheus.MustRegister(journalRegistry.appends, journalRegistry.failures, journalRegistry.lag)
	})
	return journalRegistry
}

// RecordAppend tracks a successful append.
func (m *journalMetrics) RecordAppend(seq uint64) {
	if m == nil {
		return
	}
	m.appends.Inc()
	m.lag.Set(float64(seq))
}

// RecordFailure tracks a failed journal stage such as "append" or "verify".
func (m *journalMetrics) RecordFailure(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.failures.WithLabelValues(stage).Inc()
}

// Idempotency returns the registry tracking replay lookups.
func Idempotency() *idempotencyMetrics {
	idempotencyMetricsOnce.Do(func() {
		idempotencyRegistry = &idempotencyMetrics{
			lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "janus",
				Subsystem: "idempotency",
				Name:      "lookups_total",
				Help:      "Idempotency key lookups segmented by result (hit, miss, conflict).",
			}, []string{"result"}),
		}
		prometheus.MustRegister(idempotencyRegistry.lookups)
	})
	return idempotencyRegistry
}

// RecordLookup increments the lookup counter for the supplied result.
func (m *idempotencyMetrics) RecordLookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}
