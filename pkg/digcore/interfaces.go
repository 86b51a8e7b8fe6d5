package digcore

import "context"

// Connection is an established bidirectional byte stream to a peer,
// regardless of which Method produced it.
type Connection interface {
	Close() error
	RemotePeer() PeerID
	LocalAddr() Multiaddr
	RemoteAddr() Multiaddr
}

// Stream is a single logical request/response or framed exchange over
// an already-established Connection.
type Stream interface {
	Connection
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// Transport is the underlying p2p networking stack this engine drives
// but does not implement. Its concrete adapter lives in
// internal/transport and wraps a libp2p host.Host.
type Transport interface {
	Dial(ctx context.Context, addr Multiaddr) (Connection, error)
	DialProtocol(ctx context.Context, id PeerID, proto string) (Stream, error)
	HangUp(id PeerID) error
	Peers() []PeerID
	Multiaddrs() []Multiaddr
	SelfID() PeerID
	// ConnectionTo returns the already-established Connection to peer,
	// if any, used by the dht_assisted strategy once it observes peer
	// in Peers() without having dialed it itself.
	ConnectionTo(peer PeerID) (Connection, bool)
}

// DHT is the subset of a distributed hash table this engine needs:
// namespaced key/value storage for peer registration, hole-punch
// coordination, and dht_assisted connection-request records. Its
// method set mirrors github.com/libp2p/go-libp2p/core/routing.ValueStore
// so the real adapter (internal/transport/adapter.go) wraps
// *dht.IpfsDHT almost without translation.
type DHT interface {
	PutValue(ctx context.Context, key string, value []byte) error
	GetValue(ctx context.Context, key string) ([]byte, error)
}

// Subscription delivers messages published to one gossip topic.
type Subscription interface {
	Next(ctx context.Context) ([]byte, PeerID, error)
	Cancel()
}

// GossipBus is the namespaced publish/subscribe channel used by
// OverlayDiscovery's gossip side and by LocalSubnetScanner's LAN-gossip
// fallback. The real adapter wraps a go-libp2p-pubsub topic.
type GossipBus interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, data []byte) error
}

// TurnCoordinator establishes a relayed connection to target through a
// TURN server, backing the turn_relay strategy. The real adapter
// (internal/turnrelay) wraps a pion/turn client.
type TurnCoordinator interface {
	EstablishRelay(ctx context.Context, target PeerID) (Connection, error)
}

// StoreEntry is the minimal store metadata the engine needs to answer
// get_by_store lookups; the full store record lives outside this
// engine's scope.
type StoreEntry struct {
	StoreID string
	Holders []PeerID
}

// StoreIndex is the external store-metadata lookup this engine
// consults but does not own.
type StoreIndex interface {
	Get(ctx context.Context, storeID string) (*StoreEntry, bool, error)
}

// MessageConn is a message-oriented bidirectional connection: the
// rendezvous link and every ephemeral per-transfer relay connection in
// SignalingChannel speak this shape. The concrete adapter
// (internal/signaling) backs it with a gorilla/websocket connection.
type MessageConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// SignalingDialer opens the persistent rendezvous link and ephemeral
// per-transfer relay connections SignalingChannel needs.
type SignalingDialer interface {
	DialRendezvous(ctx context.Context) (MessageConn, error)
	DialRelay(ctx context.Context, wsURL string) (MessageConn, error)
}
