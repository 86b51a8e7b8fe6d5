package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("0.1.0", "go1.26.0")
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.Registry == nil {
		t.Fatal("Registry is nil")
	}
}

func TestMetricsIsolation(t *testing.T) {
	// Two Metrics instances should not share registries.
	m1 := NewMetrics("0.1.0", "go1.26.0")
	m2 := NewMetrics("0.2.0", "go1.26.0")

	m1.HandshakeDecisionsTotal.WithLabelValues("admit").Inc()

	families, err := m2.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "dignode_handshake_decisions_total" {
			for _, metric := range f.GetMetric() {
				if metric.GetCounter().GetValue() != 0 {
					t.Error("m2 registry saw m1 counter value; registries are not isolated")
				}
			}
		}
	}
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics("test", "go1.26.0")

	m.ConnectAttemptsTotal.WithLabelValues("direct_tcp", "success").Inc()
	m.ConnectDurationSeconds.WithLabelValues("direct_tcp").Observe(0.5)
	m.ConnectedPeers.WithLabelValues("direct_tcp").Inc()
	m.HandshakeDecisionsTotal.WithLabelValues("admit").Inc()
	m.HandshakeDecisionsTotal.WithLabelValues("reject").Inc()
	m.LocalScanProbesTotal.WithLabelValues("admitted").Inc()
	m.LANAnnounceTotal.WithLabelValues("sent").Inc()
	m.SignalingReconnectsTotal.WithLabelValues("success").Inc()
	m.PortReservationsTotal.WithLabelValues("success").Inc()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	expected := map[string]bool{
		"dignode_connect_attempts_total":         false,
		"dignode_connect_duration_seconds":       false,
		"dignode_connected_peers":                false,
		"dignode_handshake_decisions_total":      false,
		"dignode_local_scan_probes_total":        false,
		"dignode_lan_announce_total":             false,
		"dignode_signaling_reconnects_total":     false,
		"dignode_port_reservations_total":        false,
		"dignode_info":                           false,
	}

	for _, f := range families {
		if _, ok := expected[f.GetName()]; ok {
			expected[f.GetName()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("metric family %q not found in gathered output", name)
		}
	}
}

func TestMetricsBuildInfo(t *testing.T) {
	m := NewMetrics("1.2.3", "go1.26.0")

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	for _, f := range families {
		if f.GetName() != "dignode_info" {
			continue
		}
		for _, metric := range f.GetMetric() {
			if metric.GetGauge().GetValue() != 1 {
				t.Errorf("build info gauge value = %f, want 1", metric.GetGauge().GetValue())
			}
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["version"] != "1.2.3" {
				t.Errorf("version label = %q, want %q", labels["version"], "1.2.3")
			}
			if labels["go_version"] != "go1.26.0" {
				t.Errorf("go_version label = %q, want %q", labels["go_version"], "go1.26.0")
			}
		}
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("0.1.0", "go1.26.0")
	m.HandshakeDecisionsTotal.WithLabelValues("admit").Inc()

	handler := m.Handler()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("handler returned status %d, want 200", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	output := string(body)

	if !strings.Contains(output, "dignode_handshake_decisions_total") {
		t.Error("handler output missing dignode_handshake_decisions_total")
	}
	if !strings.Contains(output, "dignode_info") {
		t.Error("handler output missing dignode_info")
	}
	if !strings.Contains(output, "go_goroutines") {
		t.Error("handler output missing go_goroutines (Go runtime collector)")
	}
}

func TestMetricsNoLabelCollision(t *testing.T) {
	m := NewMetrics("test", "go1.26.0")

	for _, method := range []string{"direct_tcp", "upnp_direct", "turn_relay"} {
		for _, outcome := range []string{"success", "failure"} {
			m.ConnectAttemptsTotal.WithLabelValues(method, outcome).Inc()
		}
		m.ConnectDurationSeconds.WithLabelValues(method).Observe(0.1)
	}

	if _, err := m.Registry.Gather(); err != nil {
		t.Fatalf("Gather failed after exercising all labels: %v", err)
	}
}

func TestMetricsRegistryDoesNotUseGlobal(t *testing.T) {
	m := NewMetrics("test", "go1.26.0")
	if m.Registry == prometheus.DefaultRegisterer {
		t.Error("Metrics registry is the global DefaultRegisterer; should be isolated")
	}
}
