package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sigweihq/companionpay/pkg/chains"
)

// Metrics groups the service's Prometheus collectors. A nil *Metrics is a
// valid no-op so packages can take it as an optional dependency.
type Metrics struct {
	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	rpcAttemptsTotal   *prometheus.CounterVec
	rpcAttemptDuration *prometheus.HistogramVec

	verificationsTotal *prometheus.CounterVec
	grantsTotal        prometheus.Counter
	notificationsTotal *prometheus.CounterVec
	signalingPeers     prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		rpcAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_attempts_total",
				Help: "Solana RPC attempts by method and outcome.",
			},
			[]string{"method", "outcome"},
		),
		rpcAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_attempt_duration_seconds",
				Help:    "Latency of single Solana RPC attempts.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		verificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_verifications_total",
				Help: "Payment verifications by result code.",
			},
			[]string{"result"},
		),
		grantsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "access_grants_created_total",
			Help: "Access grants written after on-chain verification.",
		}),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_notifications_total",
				Help: "Purchase confirmation notifications by outcome.",
			},
			[]string{"outcome"},
		),
		signalingPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signaling_connected_peers",
			Help: "Peers connected to the call signaling relay.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
			m.rpcAttemptsTotal, m.rpcAttemptDuration,
			m.verificationsTotal, m.grantsTotal, m.notificationsTotal,
			m.signalingPeers,
		)
	}
	return m
}

// ObserveRPCAttempt records one chain RPC attempt. An empty kind means success.
func (m *Metrics) ObserveRPCAttempt(method, _ string, kind chains.ErrorKind, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	m.rpcAttemptsTotal.WithLabelValues(method, outcome).Inc()
	m.rpcAttemptDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// HTTPStarted marks a request in flight
func (m *Metrics) HTTPStarted() {
	if m == nil {
		return
	}
	m.httpInFlight.Inc()
}

// HTTPFinished records a completed request. path must be the route template
// to keep label cardinality bounded.
func (m *Metrics) HTTPFinished(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.httpRequestDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
	m.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	m.httpInFlight.Dec()
}

// VerificationResult counts a verification outcome ("success", "idempotent" or an error code)
func (m *Metrics) VerificationResult(result string) {
	if m == nil {
		return
	}
	m.verificationsTotal.WithLabelValues(result).Inc()
}

// GrantCreated counts a newly written access grant
func (m *Metrics) GrantCreated() {
	if m == nil {
		return
	}
	m.grantsTotal.Inc()
}

// NotificationResult counts a notification attempt
func (m *Metrics) NotificationResult(err error) {
	if m == nil {
		return
	}
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.notificationsTotal.WithLabelValues(outcome).Inc()
}

// PeerConnected and PeerDisconnected track the signaling relay population
func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	m.signalingPeers.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.signalingPeers.Dec()
}
