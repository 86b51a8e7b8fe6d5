package digcore

import "time"

// Wire-exact overlay namespace, gossip topics, and DHT key templates
// from spec §6. These are defaults; an orchestrator may override the
// namespace, but the gossip topic and DHT key strings themselves are
// bit-exact for interoperability.
const (
	DefaultOverlayNamespace = "dig-network-mainnet-v1"
	OverlayProtocolID       = "/dig/1.0.0"

	TopicPeerDiscovery         = "dig-network-peer-discovery-v1"
	TopicPeerAnnouncements     = "dig-network-peer-announcements-v1"
	TopicStoreSharing          = "dig-network-store-sharing-v1"
	TopicCapabilitySharing     = "dig-network-capability-sharing-v1"
	TopicLocalNetworkDiscovery = "dig-local-network-discovery"

	expectedNetworkID = "dig-mainnet"
	protocolVersion   = "1.0.0"
)

// gossipTopics is the fixed set OverlayDiscovery subscribes to (the
// fifth, TopicLocalNetworkDiscovery, belongs to LocalSubnetScanner).
var gossipTopics = []string{
	TopicPeerDiscovery,
	TopicPeerAnnouncements,
	TopicStoreSharing,
	TopicCapabilitySharing,
}

// identifyRequest is the overlay-identification handshake request
// (spec §6, wire-exact field names).
type identifyRequest struct {
	Type            string `json:"type"`
	NetworkID       string `json:"networkId"`
	ProtocolVersion string `json:"protocolVersion"`
}

// identifyResponse is the acceptable shape of a handshake reply. A peer
// is admitted iff NetworkID matches and IsDIGNode is true.
type identifyResponse struct {
	NetworkID string `json:"networkId"`
	IsDIGNode bool   `json:"isDIGNode"`
}

// peerInfoRequest asks an already-identified peer for its published
// state.
type peerInfoRequest struct {
	Type          string   `json:"type"`
	RequestedInfo []string `json:"requestedInfo"`
}

// peerInfoResponse carries a peer's advertised stores and capabilities.
type peerInfoResponse struct {
	Success      bool         `json:"success"`
	CryptoIPv6   string       `json:"cryptoIPv6"`
	Stores       []string     `json:"stores"`
	Capabilities Capabilities `json:"capabilities"`
	NodeType     string       `json:"nodeType"`
}

// dhtPeerRecord is the JSON payload published under
// "/${overlay_namespace}/peers/${peer_id}".
type dhtPeerRecord struct {
	PeerID       string      `json:"peer_id"`
	CryptoIPv6   string      `json:"crypto_ipv6"`
	Stores       []string    `json:"stores"`
	Capabilities Capabilities `json:"capabilities"`
	Addrs        []string    `json:"addrs"`
	Timestamp    time.Time   `json:"ts"`
}

// gossipAnnouncement is the payload carried on all four overlay gossip
// topics. Every inbound message is rejected unless OverlayID matches.
type gossipAnnouncement struct {
	OverlayID    string      `json:"overlay_id"`
	PeerID       string      `json:"peer_id"`
	CryptoIPv6   string      `json:"crypto_ipv6"`
	Stores       []string    `json:"stores"`
	Capabilities Capabilities `json:"capabilities"`
	Addrs        []string    `json:"addrs"`
	Timestamp    time.Time   `json:"ts"`
}

// localAnnouncement is the payload on TopicLocalNetworkDiscovery (spec
// §4.4).
type localAnnouncement struct {
	PeerID       string         `json:"peer_id"`
	OverlayID    string         `json:"overlay_id"`
	CryptoIPv6   string         `json:"crypto_ipv6"`
	LocalIP      string         `json:"local_ip"`
	PortsByPurpose map[string]int `json:"ports_by_purpose"`
	Stores       []string       `json:"stores"`
	Timestamp    time.Time      `json:"ts"`
}

// holePunchHint is the DHT payload at "/dig-hole-punch/${target_id}".
type holePunchHint struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	TargetAddress string    `json:"target_address"`
	Action        string    `json:"action"`
	Timestamp     time.Time `json:"ts"`
}

// connectionRequestHint is the DHT payload at
// "/dig-connection-request/${target_id}" for the dht_assisted strategy.
type connectionRequestHint struct {
	RequestID string    `json:"request_id"`
	From      string    `json:"from"`
	Addrs     []string  `json:"addrs"`
	Timestamp time.Time `json:"ts"`
}

// envelope carries just enough to dispatch a signaling message to its
// full type before a second decode pass (spec §4.6 / §9 "closed sum
// types for wire messages").
type envelope struct {
	Type string `json:"type"`
}

// registerForSignalingMsg is sent once, immediately after the
// rendezvous link connects.
type registerForSignalingMsg struct {
	Type         string   `json:"type"`
	PeerID       string   `json:"peer_id"`
	CryptoIPv6   string   `json:"crypto_ipv6"`
	Purpose      string   `json:"purpose"`
	Capabilities []string `json:"capabilities"`
}

// turnConnectionSignalMsg is an inbound event instructing the node to
// open an ephemeral relay connection.
type turnConnectionSignalMsg struct {
	Type             string `json:"type"`
	RequestID        string `json:"request_id"`
	TURNServerInfo   string `json:"turn_server_info"`
	Instruction      string `json:"instruction"`
	RequesterPeerID  string `json:"requester_peer_id"`
}

// registerForTransferMsg is sent on a newly-opened ephemeral relay
// connection immediately after it is established.
type registerForTransferMsg struct {
	Type            string `json:"type"`
	PeerID          string `json:"peer_id"`
	RequestID       string `json:"request_id"`
	Purpose         string `json:"purpose"`
	RequesterPeerID string `json:"requester_peer_id"`
}

// turnConnectionEstablishedMsg is the reply sent back on the signaling
// link once an ephemeral relay connection is ready.
type turnConnectionEstablishedMsg struct {
	Type            string `json:"type"`
	RequestID       string `json:"request_id"`
	ConnectedPeerID string `json:"connected_peer_id"`
	TURNServerInfo  string `json:"turn_server_info"`
	Status          string `json:"status"`
}

// fileTransferRequestMsg is an inbound event asking the node to serve
// a store over an ephemeral relay connection.
type fileTransferRequestMsg struct {
	Type            string `json:"type"`
	StoreID         string `json:"store_id"`
	RequestID       string `json:"request_id"`
	RequesterPeerID string `json:"requester_peer_id"`
	TURNServerInfo  string `json:"turn_server_info"`
}

// transferFileRequestMsg arrives on the ephemeral relay connection
// asking for a byte range of storeID.
type transferFileRequestMsg struct {
	Type       string `json:"type"`
	StoreID    string `json:"store_id"`
	RangeStart *int64 `json:"range_start,omitempty"`
	RangeEnd   *int64 `json:"range_end,omitempty"`
}

// transferFileDataMsg is the reply carrying the requested bytes.
type transferFileDataMsg struct {
	Type       string `json:"type"`
	StoreID    string `json:"store_id"`
	Base64Data string `json:"base64_bytes"`
	Size       int    `json:"size"`
	RangeStart *int64 `json:"range_start,omitempty"`
	RangeEnd   *int64 `json:"range_end,omitempty"`
}

// fileNotAvailableMsg is sent when storeID is absent from the local
// store index.
type fileNotAvailableMsg struct {
	Type    string `json:"type"`
	RequestID string `json:"request_id"`
	StoreID string `json:"store_id"`
	PeerID  string `json:"peer_id"`
}

// transferCompleteMsg signals that an ephemeral relay connection's
// transfer is done and teardown may proceed.
type transferCompleteMsg struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}
