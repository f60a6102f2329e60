// Package metrics wires exmdb-go's request/reconnect counters to
// Prometheus, register-lazily and nil-safe-when-disabled: metrics are free
// until New is called, and every counter/histogram is a no-op on a nil
// *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters and histograms exmdb-go's client and queries
// layers update. A nil *Metrics is valid and every method on it is a no-op,
// so callers who never opt in pay nothing.
type Metrics struct {
	requestsSent    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	reconnects      prometheus.Counter
	protocolErrors  *prometheus.CounterVec
	tablesOpen      prometheus.Gauge
}

// New registers exmdb-go's collectors against reg and returns a *Metrics
// bound to them. Pass a fresh *prometheus.Registry in tests to avoid
// colliding with the default global registry.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requestsSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "exmdb_requests_sent_total",
				Help: "Total number of exmdb requests sent, by opcode name.",
			},
			[]string{"call"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exmdb_request_duration_seconds",
				Help:    "Round-trip latency of exmdb requests, by opcode name.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"call"},
		),
		reconnects: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "exmdb_reconnects_total",
				Help: "Total number of successful reconnects, automatic after DISPATCH_ERROR or explicit.",
			},
		),
		protocolErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "exmdb_protocol_errors_total",
				Help: "Total number of non-zero server status codes received, by code.",
			},
			[]string{"code"},
		),
		tablesOpen: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "exmdb_tables_open",
				Help: "Number of server table handles currently loaded but not yet unloaded.",
			},
		),
	}
}

func (m *Metrics) ObserveRequest(call string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsSent.WithLabelValues(call).Inc()
	m.requestDuration.WithLabelValues(call).Observe(seconds)
}

func (m *Metrics) ObserveReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) ObserveProtocolError(code byte) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(codeLabel(code)).Inc()
}

func (m *Metrics) TableOpened() {
	if m == nil {
		return
	}
	m.tablesOpen.Inc()
}

func (m *Metrics) TableClosed() {
	if m == nil {
		return
	}
	m.tablesOpen.Dec()
}

func codeLabel(code byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{'0', 'x', hex[code>>4], hex[code&0xf]})
}
