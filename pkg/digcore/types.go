// Package digcore implements the connection-establishment and
// peer-management engine for a dig-network node: overlay-filtered peer
// discovery, local-subnet scanning, a multi-strategy connection
// pipeline, a signaling channel to a rendezvous service, port
// allocation, and privacy-policy enforcement.
package digcore

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// OverlayID names a gossip/DHT-namespaced overlay network. Peers that
// do not share an OverlayID are invisible to each other's discovery
// channels even if directly reachable.
type OverlayID string

// PeerID is the opaque, printable identity of a node, minted by the
// underlying transport's key material.
type PeerID = peer.ID

// Multiaddr is a self-describing, wire-exact network address.
type Multiaddr struct {
	addr ma.Multiaddr
}

// NewMultiaddr parses s into a Multiaddr, failing if it is not
// well-formed.
func NewMultiaddr(s string) (Multiaddr, error) {
	a, err := ma.NewMultiaddr(s)
	if err != nil {
		return Multiaddr{}, err
	}
	return Multiaddr{addr: a}, nil
}

// String returns the slash-separated wire form, e.g. "/ip4/10.0.0.2/tcp/4001".
func (m Multiaddr) String() string {
	if m.addr == nil {
		return ""
	}
	return m.addr.String()
}

// IsZero reports whether m was never assigned an address.
func (m Multiaddr) IsZero() bool { return m.addr == nil }

// EnvironmentTag describes the deployment context a node advertises in
// its Capabilities. Nothing in this package branches on it.
type EnvironmentTag string

const (
	EnvDevelopment EnvironmentTag = "development"
	EnvProduction  EnvironmentTag = "production"
	EnvCloud       EnvironmentTag = "cloud"
)

// Capabilities advertises which connection strategies and discovery
// channels a peer supports, exchanged during the handshake (spec §6)
// and cached alongside every PeerRecord.
type Capabilities struct {
	DHT             bool
	Gossip          bool
	MDNS            bool
	UPnP            bool
	AutoNAT         bool
	WebRTC          bool
	WebSockets      bool
	CircuitRelay    bool
	TURNServer      bool
	E2EEncryption   bool
	ProtocolVersion string
	Environment     EnvironmentTag
}

// PeerRecord is a discovered peer's cached state, maintained by the
// peer directory (directory.go) and updated by both discovery channels
// in OverlayDiscovery.
type PeerRecord struct {
	ID           PeerID
	Overlay      OverlayID
	Addrs        []Multiaddr
	Capabilities Capabilities
	StoreIDs     []string
	CryptoIPv6   string // unique-local IPv6 derived from the peer's crypto identity (spec §3)
	Verified     bool   // handshake-verified, as opposed to gossip/DHT hearsay
	LastSeen     time.Time
	Source       DiscoverySource
}

// DiscoverySource records which channel produced or most recently
// refreshed a PeerRecord.
type DiscoverySource string

const (
	SourceDHT       DiscoverySource = "dht"
	SourceGossip    DiscoverySource = "gossip"
	SourceHandshake DiscoverySource = "handshake"
	SourceMDNS      DiscoverySource = "mdns"
	SourceLANScan   DiscoverySource = "lan_scan"
)

// Method enumerates the ConnectionPipeline's strategies in the strict
// order spec.md §4.5 mandates they are attempted.
type Method string

const (
	MethodDirectTCP        Method = "direct_tcp"
	MethodUPnPDirect       Method = "upnp_direct"
	MethodAutoNATHolePunch Method = "autonat_hole_punch"
	MethodWebRTC           Method = "webrtc"
	MethodCircuitRelay     Method = "circuit_relay"
	MethodWebSocket        Method = "websocket"
	MethodDHTAssisted      Method = "dht_assisted"
	MethodTURNRelay        Method = "turn_relay"
)

// MethodOrder is the fixed strategy sequence the ConnectionPipeline
// walks for every dial attempt. Index position, not arrival order,
// determines precedence.
var MethodOrder = []Method{
	MethodDirectTCP,
	MethodUPnPDirect,
	MethodAutoNATHolePunch,
	MethodWebRTC,
	MethodCircuitRelay,
	MethodWebSocket,
	MethodDHTAssisted,
	MethodTURNRelay,
}

// MethodOutcome is the result of attempting one Method against one
// peer during a single ConnectionAttempt.
type MethodOutcome struct {
	Method    Method
	Success   bool
	Duration  time.Duration
	Addr      Multiaddr
	RelayNode Multiaddr // the relay peer's address, set by circuit_relay and turn_relay
	IsRelay   bool      // true when Addr is reached through RelayNode rather than directly
	Err       error
}

// ConnectionAttempt is one full run of the ConnectionPipeline against a
// target peer: the ordered outcomes tried, and which (if any) won.
type ConnectionAttempt struct {
	Target    PeerID
	StartedAt time.Time
	Outcomes  []MethodOutcome
	Won       Method
	Succeeded bool
}

// MethodStats tracks lifetime success/failure counts and latency per
// Method, used for the connection_stats() read-model (spec §4.7).
type MethodStats struct {
	Attempts     map[Method]int
	Successes    map[Method]int
	TotalLatency map[Method]time.Duration
}

// NewMethodStats returns a zero-valued MethodStats ready to accumulate.
func NewMethodStats() *MethodStats {
	return &MethodStats{
		Attempts:     make(map[Method]int),
		Successes:    make(map[Method]int),
		TotalLatency: make(map[Method]time.Duration),
	}
}

// PortAllocation is a leased, exclusive local port for an outbound or
// listening socket managed by PortAllocator.
type PortAllocation struct {
	Port     int
	Purpose  string
	LeasedAt time.Time
	Released bool
}

// PrivacyFeature describes one privacy-relevant capability or
// configuration flag. PrivacyPolicy does not use this type; it reports
// its per-feature results as FeatureResult values.
type PrivacyFeature struct {
	Name        string
	Enabled     bool
	Weight      int
	Description string
}

// PrivacyLevel classifies the aggregate score PrivacyPolicy computes
// from its evaluated feature set.
type PrivacyLevel string

const (
	PrivacyMaximum      PrivacyLevel = "maximum"
	PrivacyHigh         PrivacyLevel = "high"
	PrivacyMedium       PrivacyLevel = "medium"
	PrivacyLow          PrivacyLevel = "low"
	PrivacyInsufficient PrivacyLevel = "insufficient"
)
