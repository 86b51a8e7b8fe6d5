// Package telemetry wires the connection engine's counters and gauges
// onto an isolated Prometheus registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every dignode Prometheus collector. It uses an isolated
// prometheus.Registry so these metrics never collide with the global
// default registry, and so each test gets its own instance.
type Metrics struct {
	Registry *prometheus.Registry

	// Connection pipeline
	ConnectAttemptsTotal  *prometheus.CounterVec
	ConnectDurationSeconds *prometheus.HistogramVec
	ConnectedPeers        *prometheus.GaugeVec

	// Overlay discovery
	HandshakeDecisionsTotal *prometheus.CounterVec
	DirectorySize           prometheus.Gauge

	// Local subnet scanner
	LocalScanProbesTotal *prometheus.CounterVec
	LANAnnounceTotal     *prometheus.CounterVec

	// Signaling channel
	SignalingReconnectsTotal *prometheus.CounterVec
	EphemeralRelaysActive    prometheus.Gauge

	// Port allocator
	PortReservationsTotal *prometheus.CounterVec
	PortsInUse            prometheus.Gauge

	// Privacy policy
	PrivacyScore prometheus.Gauge

	// Build info
	BuildInfo *prometheus.GaugeVec
}

// NewMetrics creates a Metrics instance with every collector registered
// on a fresh, isolated registry. version and goVersion are recorded as
// labels on the dignode_info gauge.
func NewMetrics(version, goVersion string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		ConnectAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dignode_connect_attempts_total",
				Help: "Total connection attempts by strategy and outcome.",
			},
			[]string{"method", "outcome"},
		),
		ConnectDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dignode_connect_duration_seconds",
				Help:    "Duration of a connection attempt by strategy.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"method"},
		),
		ConnectedPeers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dignode_connected_peers",
				Help: "Number of currently connected peers by the method that established them.",
			},
			[]string{"method"},
		),

		HandshakeDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dignode_handshake_decisions_total",
				Help: "Total overlay membership handshake decisions.",
			},
			[]string{"decision"},
		),
		DirectorySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dignode_peer_directory_size",
			Help: "Number of peer records currently held in the directory.",
		}),

		LocalScanProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dignode_local_scan_probes_total",
				Help: "Total local subnet scan probes by result.",
			},
			[]string{"result"},
		),
		LANAnnounceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dignode_lan_announce_total",
				Help: "Total LAN gossip announcements sent or received.",
			},
			[]string{"direction"},
		),

		SignalingReconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dignode_signaling_reconnects_total",
				Help: "Total rendezvous reconnect attempts by outcome.",
			},
			[]string{"outcome"},
		),
		EphemeralRelaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dignode_signaling_ephemeral_relays_active",
			Help: "Number of ephemeral relay connections currently open.",
		}),

		PortReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dignode_port_reservations_total",
				Help: "Total port allocator reservations by outcome.",
			},
			[]string{"outcome"},
		),
		PortsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dignode_ports_in_use",
			Help: "Number of ports currently leased by the allocator.",
		}),

		PrivacyScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dignode_privacy_score",
			Help: "Fraction of privacy-policy features currently enabled.",
		}),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dignode_info",
				Help: "Build information for the running dignode instance.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		m.ConnectAttemptsTotal,
		m.ConnectDurationSeconds,
		m.ConnectedPeers,
		m.HandshakeDecisionsTotal,
		m.DirectorySize,
		m.LocalScanProbesTotal,
		m.LANAnnounceTotal,
		m.SignalingReconnectsTotal,
		m.EphemeralRelaysActive,
		m.PortReservationsTotal,
		m.PortsInUse,
		m.PrivacyScore,
		m.BuildInfo,
	)

	m.BuildInfo.WithLabelValues(version, goVersion).Set(1)

	return m
}

// Handler returns an http.Handler serving the Prometheus exposition
// format for this Metrics instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
