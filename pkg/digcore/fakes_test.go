package digcore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// fakeConn is a no-op Connection used by fake transports in tests.
type fakeConn struct {
	remote PeerID
	local  Multiaddr
	remoteAddr Multiaddr
}

func (c *fakeConn) Close() error            { return nil }
func (c *fakeConn) RemotePeer() PeerID       { return c.remote }
func (c *fakeConn) LocalAddr() Multiaddr     { return c.local }
func (c *fakeConn) RemoteAddr() Multiaddr    { return c.remoteAddr }

// fakeTransport is a scriptable Transport: dials to addresses in
// okAddrs succeed immediately with a peer derived from the address
// string; everything else fails. Tests register a peer for a given
// address via addPeer.
type fakeTransport struct {
	mu           sync.Mutex
	self         PeerID
	okAddrs      map[string]PeerID
	connected    map[PeerID]Connection
	peers        []PeerID
	hangUps      []PeerID
	handshakeOK  map[PeerID]bool
}

func newFakeTransport(self PeerID) *fakeTransport {
	return &fakeTransport{
		self:        self,
		okAddrs:     make(map[string]PeerID),
		connected:   make(map[PeerID]Connection),
		handshakeOK: make(map[PeerID]bool),
	}
}

// setHandshake scripts how DialProtocol responds to the overlay
// identification handshake for id.
func (t *fakeTransport) setHandshake(id PeerID, admit bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handshakeOK[id] = admit
}

func (t *fakeTransport) allow(addr string, remote PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.okAddrs[addr] = remote
}

func (t *fakeTransport) Dial(ctx context.Context, addr Multiaddr) (Connection, error) {
	t.mu.Lock()
	remote, ok := t.okAddrs[addr.String()]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fake: no route to %s", addr.String())
	}
	conn := &fakeConn{remote: remote, remoteAddr: addr}
	t.mu.Lock()
	t.connected[remote] = conn
	t.mu.Unlock()
	return conn, nil
}

func (t *fakeTransport) DialProtocol(ctx context.Context, id PeerID, proto string) (Stream, error) {
	if proto != OverlayProtocolID {
		return nil, fmt.Errorf("fake: unsupported protocol %s", proto)
	}
	t.mu.Lock()
	admit := t.handshakeOK[id]
	t.mu.Unlock()

	resp := identifyResponse{NetworkID: "not-a-member"}
	if admit {
		resp = identifyResponse{NetworkID: expectedNetworkID, IsDIGNode: true}
	}
	body, _ := json.Marshal(resp)
	return &fakeStream{remote: id, readBuf: bytes.NewBuffer(append(body, '\n'))}, nil
}

// fakeStream is a Stream whose Read side replays a pre-scripted
// response and whose Write side discards input, enough to exercise
// the handshake's encode/decode round trip.
type fakeStream struct {
	remote  PeerID
	readBuf *bytes.Buffer
}

func (s *fakeStream) Close() error         { return nil }
func (s *fakeStream) RemotePeer() PeerID   { return s.remote }
func (s *fakeStream) LocalAddr() Multiaddr { return Multiaddr{} }
func (s *fakeStream) RemoteAddr() Multiaddr { return Multiaddr{} }
func (s *fakeStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *fakeStream) Read(p []byte) (int, error)  { return s.readBuf.Read(p) }

func (t *fakeTransport) HangUp(id PeerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hangUps = append(t.hangUps, id)
	delete(t.connected, id)
	return nil
}

func (t *fakeTransport) Peers() []PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PeerID(nil), t.peers...)
}

func (t *fakeTransport) Multiaddrs() []Multiaddr { return nil }
func (t *fakeTransport) SelfID() PeerID          { return t.self }

func (t *fakeTransport) ConnectionTo(id PeerID) (Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.connected[id]
	return conn, ok
}

// fakeDHT is an in-memory key/value DHT.
type fakeDHT struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeDHT() *fakeDHT { return &fakeDHT{store: make(map[string][]byte)} }

func (d *fakeDHT) PutValue(ctx context.Context, key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.store[key] = value
	return nil
}

func (d *fakeDHT) GetValue(ctx context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.store[key]
	if !ok {
		return nil, fmt.Errorf("fake dht: not found: %s", key)
	}
	return v, nil
}

// fakeTurn always succeeds, returning a synthetic connection.
type fakeTurn struct{ fail bool }

func (f *fakeTurn) EstablishRelay(ctx context.Context, target PeerID) (Connection, error) {
	if f.fail {
		return nil, fmt.Errorf("fake turn: unavailable")
	}
	return &fakeConn{remote: target}, nil
}

func mustPeerID(s string) PeerID {
	return peer.ID(s)
}

// fakeGossip is an in-memory pub/sub bus: Publish fans out to every
// Subscription on the same topic.
type fakeGossip struct {
	mu   sync.Mutex
	subs map[string][]*fakeSubscription
}

func newFakeGossip() *fakeGossip {
	return &fakeGossip{subs: make(map[string][]*fakeSubscription)}
}

func (g *fakeGossip) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &fakeSubscription{ch: make(chan fakeMsg, 16), done: make(chan struct{})}
	g.mu.Lock()
	g.subs[topic] = append(g.subs[topic], sub)
	g.mu.Unlock()
	return sub, nil
}

func (g *fakeGossip) Publish(ctx context.Context, topic string, data []byte) error {
	g.mu.Lock()
	subs := append([]*fakeSubscription(nil), g.subs[topic]...)
	g.mu.Unlock()
	for _, s := range subs {
		select {
		case s.ch <- fakeMsg{data: data}:
		default:
		}
	}
	return nil
}

type fakeMsg struct {
	data []byte
	from PeerID
}

type fakeSubscription struct {
	ch   chan fakeMsg
	done chan struct{}
}

func (s *fakeSubscription) Next(ctx context.Context) ([]byte, PeerID, error) {
	select {
	case m := <-s.ch:
		return m.data, m.from, nil
	case <-s.done:
		return nil, "", fmt.Errorf("fake subscription cancelled")
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}
}

func (s *fakeSubscription) Cancel() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
