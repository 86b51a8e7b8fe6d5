// Package transport adapts a libp2p host, a Kademlia DHT, and a pubsub
// bus to the narrow collaborator interfaces pkg/digcore depends on.
package transport

import (
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	libp2pwebrtc "github.com/libp2p/go-libp2p/p2p/transport/webrtc"
	ws "github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dignetwork/dignode/internal/auth"
)

// HostParams configures NewHost.
type HostParams struct {
	Identity       crypto.PrivKey
	ListenAddrs    []string
	CircuitRelays  []string // static relay multiaddrs for EnableAutoRelayWithStaticRelays
	AuthorizedKeys string   // path to authorized_keys file; "" disables gating
	EnableGating   bool
}

// NewHost builds a libp2p host with the transports and NAT-traversal
// options the connection pipeline's strategies need: TCP and QUIC for
// direct_tcp, WebSocket for the websocket fallback, WebRTC for the
// webrtc strategy, NAT port mapping for upnp_direct, hole punching for
// autonat_hole_punch, and circuit-relay client support for
// circuit_relay (internal/transport/host.go, grounded on
// pkg/p2pnet/network.go's option-assembly shape).
func NewHost(p HostParams) (host.Host, error) {
	opts := []libp2p.Option{
		libp2p.Identity(p.Identity),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Transport(ws.New),
		libp2p.Transport(libp2pwebrtc.New),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.EnableRelay(),
	}

	if len(p.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(p.ListenAddrs...))
	}

	if len(p.CircuitRelays) > 0 {
		relayInfos, err := ParseRelayAddrs(p.CircuitRelays)
		if err != nil {
			return nil, fmt.Errorf("transport: parse circuit relay addrs: %w", err)
		}
		if len(relayInfos) > 0 {
			opts = append(opts, libp2p.EnableAutoRelayWithStaticRelays(relayInfos))
		}
	}

	if p.EnableGating && p.AuthorizedKeys != "" {
		authorizedPeers, err := auth.LoadAuthorizedKeys(p.AuthorizedKeys)
		if err != nil {
			return nil, fmt.Errorf("transport: load authorized_keys: %w", err)
		}
		opts = append(opts, libp2p.ConnectionGater(auth.NewAuthorizedPeerGater(authorizedPeers)))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}
	return h, nil
}

// ParseRelayAddrs parses relay multiaddrs into peer.AddrInfo slices,
// deduplicating by peer ID and merging addresses for the same relay.
func ParseRelayAddrs(relayAddrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	seen := make(map[peer.ID]int)

	for _, s := range relayAddrs {
		maddr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid relay addr %s: %w", s, err)
		}
		ai, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("cannot parse relay addr %s: %w", s, err)
		}
		if idx, ok := seen[ai.ID]; ok {
			infos[idx].Addrs = append(infos[idx].Addrs, ai.Addrs...)
			continue
		}
		seen[ai.ID] = len(infos)
		infos = append(infos, *ai)
	}
	return infos, nil
}

// AddCircuitRelayAddrs registers p2p-circuit addresses for target
// through every known relay, so a later Connect can use them.
func AddCircuitRelayAddrs(h host.Host, relayAddrs []string, target peer.ID) error {
	for _, relayAddr := range relayAddrs {
		circuitAddr := relayAddr + "/p2p-circuit/p2p/" + target.String()
		ai, err := peer.AddrInfoFromString(circuitAddr)
		if err != nil {
			return fmt.Errorf("transport: parse relay circuit addr %s: %w", circuitAddr, err)
		}
		h.Peerstore().AddAddrs(ai.ID, ai.Addrs, peerstore.PermanentAddrTTL)
	}
	return nil
}
