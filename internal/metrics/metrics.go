// Package metrics holds the Prometheus collectors for the engine, its
// adapters and the admin HTTP surface.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shipsure"

// Recorder owns one set of collectors. All methods are safe on a nil
// *Recorder, which records nothing.
type Recorder struct {
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	shipments      *prometheus.CounterVec
	claims         prometheus.Counter
	expired        prometheus.Counter
	ledgerDuration *prometheus.HistogramVec
	oracleDuration *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewRecorder creates collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "cycles_total",
				Help:      "Reconciliation cycles by result.",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "cycle_duration_seconds",
				Help:      "Reconciliation cycle duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		shipments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "shipments_total",
				Help:      "Shipment checks by outcome and error class.",
			},
			[]string{"outcome", "class"},
		),
		claims: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "claims_created_total",
				Help:      "Claims recorded in the mirror.",
			},
		),
		expired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "policies_expired_total",
				Help:      "Policies moved to Expired by the expiry sweep.",
			},
		),
		ledgerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "call_duration_seconds",
				Help:      "Ledger call duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "success"},
		),
		oracleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "oracle",
				Name:      "observe_duration_seconds",
				Help:      "Oracle observation duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			r.cycles, r.cycleDuration, r.shipments, r.claims, r.expired,
			r.ledgerDuration, r.oracleDuration, r.httpRequests, r.httpDuration,
		)
	}
	return r
}

var (
	registerOnce sync.Once
	defaultRec   *Recorder
)

// Default returns the process-wide Recorder registered with the default
// Prometheus registry.
func Default() *Recorder {
	registerOnce.Do(func() {
		defaultRec = NewRecorder(prometheus.DefaultRegisterer)
	})
	return defaultRec
}

func (r *Recorder) RecordCycle(aborted bool, duration time.Duration) {
	if r == nil {
		return
	}
	result := "ok"
	if aborted {
		result = "aborted"
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(duration.Seconds())
}

// RecordShipment counts one shipment check. class is empty unless the
// outcome is an error.
func (r *Recorder) RecordShipment(outcome, class string) {
	if r == nil {
		return
	}
	r.shipments.WithLabelValues(outcome, class).Inc()
}

func (r *Recorder) RecordClaim() {
	if r == nil {
		return
	}
	r.claims.Inc()
}

func (r *Recorder) RecordExpired() {
	if r == nil {
		return
	}
	r.expired.Inc()
}

func (r *Recorder) RecordLedgerCall(op string, success bool, duration time.Duration) {
	if r == nil {
		return
	}
	r.ledgerDuration.WithLabelValues(op, strconv.FormatBool(success)).Observe(duration.Seconds())
}

func (r *Recorder) RecordOracleCall(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.oracleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	r.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
