package config

import "time"

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// Config is the unified configuration for a dignode process: the
// overlay namespace to join, the port range the allocator may lease
// from, the known relay/TURN/STUN infrastructure, this node's
// capability flags, its environment tag, and the signaling rendezvous
// endpoint.
type Config struct {
	Version   int             `yaml:"version,omitempty"`
	Identity  IdentityConfig  `yaml:"identity"`
	Overlay   OverlayConfig   `yaml:"overlay"`
	Ports     PortConfig      `yaml:"ports"`
	Relay     RelayConfig     `yaml:"relay"`
	Signaling SignalingConfig `yaml:"signaling"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// IdentityConfig holds identity-related configuration.
type IdentityConfig struct {
	KeyFile string `yaml:"key_file"`
}

// OverlayConfig describes which overlay network this node joins and
// what it advertises to it.
type OverlayConfig struct {
	Namespace       string   `yaml:"namespace"`
	Environment     string   `yaml:"environment,omitempty"` // production | development | cloud
	BootstrapPeers  []string `yaml:"bootstrap_peers"`
	ListenAddresses []string `yaml:"listen_addresses"`
	Capabilities    []string `yaml:"capabilities,omitempty"` // dht, gossip, upnp, autonat, webrtc, turn_server, e2e_encryption
}

// PortConfig bounds the range PortAllocator may lease from and lists
// fixed preferred ports per purpose.
type PortConfig struct {
	RangeStart int            `yaml:"range_start"`
	RangeEnd   int            `yaml:"range_end"`
	Preferred  map[string]int `yaml:"preferred,omitempty"` // purpose -> preferred port
}

// RelayConfig lists known TURN/circuit-relay infrastructure this node
// may use for the turn_relay and circuit_relay strategies.
type RelayConfig struct {
	TURNServers   []string      `yaml:"turn_servers"`
	TURNUsername  string        `yaml:"turn_username,omitempty"`
	TURNPassword  string        `yaml:"turn_password,omitempty"`
	TURNRealm     string        `yaml:"turn_realm,omitempty"`
	CircuitRelays []string      `yaml:"circuit_relays,omitempty"`
	DialTimeout   time.Duration `yaml:"dial_timeout,omitempty"`
}

// SignalingConfig points at the rendezvous service SignalingChannel
// maintains a persistent link to.
type SignalingConfig struct {
	RendezvousURL string `yaml:"rendezvous_url"`
}

// SecurityConfig holds connection-gating configuration.
type SecurityConfig struct {
	AuthorizedKeysFile     string `yaml:"authorized_keys_file"`
	EnableConnectionGating bool   `yaml:"enable_connection_gating"`
	RequireE2EEncryption   bool   `yaml:"require_e2e_encryption"`
}

// TelemetryConfig holds observability settings. All features are
// disabled by default (opt-in).
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// MetricsConfig controls Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"` // default: "127.0.0.1:9091"
}
