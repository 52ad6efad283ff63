// Package metrics provides Prometheus metrics for remsim-core.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "remsim"

// Metrics contains all Prometheus metrics exported by remsim-serverd.
type Metrics struct {
	// Peer connection metrics, broken out by role (client/bank).
	PeersConnected *prometheus.GaugeVec
	PeersTotal     *prometheus.CounterVec
	PeerRejections *prometheus.CounterVec

	// Slot-mapping engine metrics.
	MappingsByState *prometheus.GaugeVec
	MappingCreateRT prometheus.Histogram
	MappingRemoveRT prometheus.Histogram

	// Push dispatch and notification-endpoint metrics.
	PushesDispatched prometheus.Counter
	NotifyWakeups    prometheus.Counter

	// Keepalive metrics.
	KeepaliveTimeouts *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default metrics instance, registered
// against prometheus.DefaultRegisterer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered against the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered against reg,
// so tests can use their own throwaway registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PeersConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers_connected",
			Help:      "Number of currently connected peers by role",
		}, []string{"role"}),
		PeersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peers_total",
			Help:      "Total peer connections accepted by role",
		}, []string{"role"}),
		PeerRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_rejections_total",
			Help:      "Total handshakes rejected by reason",
		}, []string{"reason"}),

		MappingsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mappings_by_state",
			Help:      "Number of slot mappings currently in each lifecycle state",
		}, []string{"state"}),
		MappingCreateRT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mapping_create_round_trip_seconds",
			Help:      "Time from createMappingReq dispatch to createMappingRes receipt",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		MappingRemoveRT: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mapping_remove_round_trip_seconds",
			Help:      "Time from removeMappingReq dispatch to removeMappingRes receipt",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		PushesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_dispatched_total",
			Help:      "Total PUSH sweeps that found a bank peer with pending work",
		}),
		NotifyWakeups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_wakeups_total",
			Help:      "Total times the notification endpoint woke the dispatcher",
		}),

		KeepaliveTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_timeouts_total",
			Help:      "Total connections torn down for a missed keepalive, by role",
		}, []string{"role"}),
	}
}

// RecordPeerConnect records a newly connected peer of the given role
// ("client" or "bank").
func (m *Metrics) RecordPeerConnect(role string) {
	m.PeersConnected.WithLabelValues(role).Inc()
	m.PeersTotal.WithLabelValues(role).Inc()
}

// RecordPeerDisconnect records a peer of the given role going away.
func (m *Metrics) RecordPeerDisconnect(role string) {
	m.PeersConnected.WithLabelValues(role).Dec()
}

// RecordPeerRejection records a handshake rejected for the given reason
// (e.g. "identityInUse", "illegalClientId").
func (m *Metrics) RecordPeerRejection(reason string) {
	m.PeerRejections.WithLabelValues(reason).Inc()
}

// SetMappingsByState overwrites the mapping-count gauge for state.
func (m *Metrics) SetMappingsByState(state string, count int) {
	m.MappingsByState.WithLabelValues(state).Set(float64(count))
}

// RecordMappingCreateRoundTrip records the latency of one create-mapping
// round trip.
func (m *Metrics) RecordMappingCreateRoundTrip(seconds float64) {
	m.MappingCreateRT.Observe(seconds)
}

// RecordMappingRemoveRoundTrip records the latency of one remove-mapping
// round trip.
func (m *Metrics) RecordMappingRemoveRoundTrip(seconds float64) {
	m.MappingRemoveRT.Observe(seconds)
}

// RecordPushDispatched records one bank peer having been sent a PUSH sweep.
func (m *Metrics) RecordPushDispatched() {
	m.PushesDispatched.Inc()
}

// RecordNotifyWakeup records the dispatcher goroutine waking up.
func (m *Metrics) RecordNotifyWakeup() {
	m.NotifyWakeups.Inc()
}

// RecordKeepaliveTimeout records a connection torn down by the keepalive
// supervisor for the given role.
func (m *Metrics) RecordKeepaliveTimeout(role string) {
	m.KeepaliveTimeouts.WithLabelValues(role).Inc()
}
