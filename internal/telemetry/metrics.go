// Package telemetry provides process-wide Prometheus metrics and
// structured audit logging for a running node. It is the adapted home
// for the handshake and daemon-API instrumentation the mesh needs,
// scoped to an isolated registry so it never collides with a host
// application's own default registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector a node exposes.
type Metrics struct {
	Registry *prometheus.Registry

	// Handshake / mesh membership
	HandshakeDecisionsTotal *prometheus.CounterVec

	// Daemon API
	DaemonRequestsTotal          *prometheus.CounterVec
	DaemonRequestDurationSeconds *prometheus.HistogramVec

	// Store / CRDT
	DocumentsMerged     *prometheus.CounterVec
	TombstonesCollected prometheus.Counter
	AntiEntropyRounds   prometheus.Counter

	// Gradient table / gossip
	CapabilitiesKnown *prometheus.GaugeVec
	AnnouncementsSent prometheus.Counter

	// Transport
	TransportUp       *prometheus.GaugeVec
	FramesRelayed     *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec

	// Request dispatch
	DispatchRequestsTotal   *prometheus.CounterVec
	DispatchDurationSeconds *prometheus.HistogramVec

	// Build info
	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with every collector registered
// on an isolated registry, labeling the build info gauge with version
// and Go runtime version.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		HandshakeDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atmosphere_handshake_decisions_total",
				Help: "Total number of mesh handshake accept/reject decisions.",
			},
			[]string{"result"},
		),

		DaemonRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atmosphere_daemon_requests_total",
				Help: "Total number of daemon API requests.",
			},
			[]string{"method", "path", "status"},
		),
		DaemonRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atmosphere_daemon_request_duration_seconds",
				Help:    "Duration of daemon API requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),

		DocumentsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atmosphere_documents_merged_total",
				Help: "Total number of remote documents merged into the store, by outcome.",
			},
			[]string{"collection", "outcome"},
		),
		TombstonesCollected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atmosphere_tombstones_collected_total",
				Help: "Total number of tombstones permanently removed by the GC sweep.",
			},
		),
		AntiEntropyRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atmosphere_anti_entropy_rounds_total",
				Help: "Total number of anti-entropy sync rounds initiated.",
			},
		),

		CapabilitiesKnown: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atmosphere_capabilities_known",
				Help: "Number of capabilities currently in the gradient table.",
			},
			[]string{"locality"},
		),
		AnnouncementsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "atmosphere_announcements_sent_total",
				Help: "Total number of local capability re-announcements sent.",
			},
		),

		TransportUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atmosphere_transport_up",
				Help: "Whether a transport carrier is currently up (1) or down (0).",
			},
			[]string{"transport"},
		),
		FramesRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atmosphere_frames_relayed_total",
				Help: "Total number of frames rebroadcast across transports.",
			},
			[]string{"transport"},
		),
		ReconnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atmosphere_reconnect_attempts_total",
				Help: "Total number of transport reconnect attempts, by outcome.",
			},
			[]string{"transport", "outcome"},
		),

		DispatchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "atmosphere_dispatch_requests_total",
				Help: "Total number of dispatch requests, by outcome.",
			},
			[]string{"collection", "outcome"},
		),
		DispatchDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "atmosphere_dispatch_duration_seconds",
				Help:    "Duration of dispatch round trips in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"collection"},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "atmosphere_info",
				Help: "Build information for the running node.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.HandshakeDecisionsTotal,
		m.DaemonRequestsTotal,
		m.DaemonRequestDurationSeconds,
		m.DocumentsMerged,
		m.TombstonesCollected,
		m.AntiEntropyRounds,
		m.CapabilitiesKnown,
		m.AnnouncementsSent,
		m.TransportUp,
		m.FramesRelayed,
		m.ReconnectAttempts,
		m.DispatchRequestsTotal,
		m.DispatchDurationSeconds,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)
	return m
}

// Handler serves the Prometheus exposition format for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveTransport updates a transport's up/down gauge, so a scrape
// reflects the supervisor's current view without waiting for the next
// event that would otherwise have driven the counter.
func (m *Metrics) ObserveTransport(name string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.TransportUp.WithLabelValues(name).Set(v)
}

// ObserveDocumentMerge records the outcome of a single remote document
// merge attempt ("applied", "rejected", or "error").
func (m *Metrics) ObserveDocumentMerge(collection, outcome string) {
	m.DocumentsMerged.WithLabelValues(collection, outcome).Inc()
}

// ObserveTombstonesCollected adds n to the running tombstone-GC total.
func (m *Metrics) ObserveTombstonesCollected(n int) {
	m.TombstonesCollected.Add(float64(n))
}

// ObserveAntiEntropyRound counts one anti-entropy sync round.
func (m *Metrics) ObserveAntiEntropyRound() {
	m.AntiEntropyRounds.Inc()
}

// ObserveCapabilitiesKnown sets the gradient table's current size.
func (m *Metrics) ObserveCapabilitiesKnown(locality string, count int) {
	m.CapabilitiesKnown.WithLabelValues(locality).Set(float64(count))
}

// ObserveAnnouncementSent counts one local capability re-announcement.
func (m *Metrics) ObserveAnnouncementSent() {
	m.AnnouncementsSent.Inc()
}

// ObserveFrameRelayed counts one frame rebroadcast on the named transport.
func (m *Metrics) ObserveFrameRelayed(transport string) {
	m.FramesRelayed.WithLabelValues(transport).Inc()
}

// ObserveReconnectAttempt records a transport reconnect attempt's outcome
// ("success" or "failure").
func (m *Metrics) ObserveReconnectAttempt(transport, outcome string) {
	m.ReconnectAttempts.WithLabelValues(transport, outcome).Inc()
}
