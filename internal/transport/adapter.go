package transport

import (
	"context"
	"fmt"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dignetwork/dignode/pkg/digcore"
)

// connAdapter wraps a libp2p network.Conn to satisfy digcore.Connection.
type connAdapter struct{ c network.Conn }

func (a connAdapter) Close() error                 { return a.c.Close() }
func (a connAdapter) RemotePeer() digcore.PeerID    { return a.c.RemotePeer() }
func (a connAdapter) LocalAddr() digcore.Multiaddr  { return wrapAddr(a.c.LocalMultiaddr()) }
func (a connAdapter) RemoteAddr() digcore.Multiaddr { return wrapAddr(a.c.RemoteMultiaddr()) }

// streamAdapter wraps a libp2p network.Stream to satisfy digcore.Stream.
type streamAdapter struct{ s network.Stream }

func (a streamAdapter) Close() error                 { return a.s.Close() }
func (a streamAdapter) RemotePeer() digcore.PeerID    { return a.s.Conn().RemotePeer() }
func (a streamAdapter) LocalAddr() digcore.Multiaddr  { return wrapAddr(a.s.Conn().LocalMultiaddr()) }
func (a streamAdapter) RemoteAddr() digcore.Multiaddr { return wrapAddr(a.s.Conn().RemoteMultiaddr()) }
func (a streamAdapter) Read(p []byte) (int, error)    { return a.s.Read(p) }
func (a streamAdapter) Write(p []byte) (int, error)   { return a.s.Write(p) }

func wrapAddr(a ma.Multiaddr) digcore.Multiaddr {
	m, err := digcore.NewMultiaddr(a.String())
	if err != nil {
		return digcore.Multiaddr{}
	}
	return m
}

// HostAdapter implements digcore.Transport over a live libp2p host.
type HostAdapter struct {
	h host.Host
}

// NewHostAdapter wraps h.
func NewHostAdapter(h host.Host) *HostAdapter { return &HostAdapter{h: h} }

// Dial opens a bare connection to addr, extracting the target peer ID
// from the multiaddr's trailing /p2p/<id> component.
func (a *HostAdapter) Dial(ctx context.Context, addr digcore.Multiaddr) (digcore.Connection, error) {
	maddr, err := ma.NewMultiaddr(addr.String())
	if err != nil {
		return nil, fmt.Errorf("transport: invalid multiaddr %s: %w", addr.String(), err)
	}
	ai, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return nil, fmt.Errorf("transport: multiaddr %s has no /p2p id: %w", addr.String(), err)
	}
	if err := a.h.Connect(ctx, *ai); err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr.String(), err)
	}
	conns := a.h.Network().ConnsToPeer(ai.ID)
	if len(conns) == 0 {
		return nil, fmt.Errorf("transport: connected to %s but no connection recorded", ai.ID)
	}
	return connAdapter{c: conns[0]}, nil
}

// DialProtocol opens a new stream to id speaking proto.
func (a *HostAdapter) DialProtocol(ctx context.Context, id digcore.PeerID, proto string) (digcore.Stream, error) {
	s, err := a.h.NewStream(ctx, id, network.ProtocolID(proto))
	if err != nil {
		return nil, fmt.Errorf("transport: open stream %s to %s: %w", proto, id, err)
	}
	return streamAdapter{s: s}, nil
}

// HangUp closes every connection to id.
func (a *HostAdapter) HangUp(id digcore.PeerID) error {
	return a.h.Network().ClosePeer(id)
}

// Peers lists every peer with at least one live connection.
func (a *HostAdapter) Peers() []digcore.PeerID {
	return a.h.Network().Peers()
}

// Multiaddrs returns this host's listen addresses.
func (a *HostAdapter) Multiaddrs() []digcore.Multiaddr {
	addrs := a.h.Addrs()
	out := make([]digcore.Multiaddr, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, wrapAddr(addr))
	}
	return out
}

// SelfID returns the host's own peer ID.
func (a *HostAdapter) SelfID() digcore.PeerID { return a.h.ID() }

// ConnectionTo returns the live connection to peer, if any.
func (a *HostAdapter) ConnectionTo(peerID digcore.PeerID) (digcore.Connection, bool) {
	conns := a.h.Network().ConnsToPeer(peerID)
	if len(conns) == 0 {
		return nil, false
	}
	return connAdapter{c: conns[0]}, true
}

// DHTAdapter implements digcore.DHT over an *dht.IpfsDHT.
type DHTAdapter struct {
	kdht *dht.IpfsDHT
}

// NewDHTAdapter wraps kdht.
func NewDHTAdapter(kdht *dht.IpfsDHT) *DHTAdapter { return &DHTAdapter{kdht: kdht} }

func (a *DHTAdapter) PutValue(ctx context.Context, key string, value []byte) error {
	return a.kdht.PutValue(ctx, key, value)
}

func (a *DHTAdapter) GetValue(ctx context.Context, key string) ([]byte, error) {
	return a.kdht.GetValue(ctx, key)
}
