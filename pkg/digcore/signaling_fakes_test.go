package digcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// fakeMessageConn is a MessageConn backed by an inbound queue of raw
// JSON messages and a record of every outbound WriteJSON call.
type fakeMessageConn struct {
	name string

	mu      sync.Mutex
	inbound chan json.RawMessage
	written []json.RawMessage
	closed  bool
}

func newFakeMessageConn(name string) *fakeMessageConn {
	return &fakeMessageConn{name: name, inbound: make(chan json.RawMessage, 16)}
}

// push enqueues a message the component's read loop will receive on
// its next ReadJSON call.
func (c *fakeMessageConn) push(v any) {
	raw, _ := json.Marshal(v)
	c.inbound <- raw
}

func (c *fakeMessageConn) ReadJSON(v any) error {
	raw, ok := <-c.inbound
	if !ok {
		return fmt.Errorf("fake message conn %s: closed", c.name)
	}
	switch dst := v.(type) {
	case *json.RawMessage:
		*dst = raw
		return nil
	default:
		return json.Unmarshal(raw, v)
	}
}

func (c *fakeMessageConn) WriteJSON(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, raw)
	c.mu.Unlock()
	return nil
}

func (c *fakeMessageConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeMessageConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeMessageConn) writesContaining(typ string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, raw := range c.written {
		var env envelope
		if json.Unmarshal(raw, &env) == nil && env.Type == typ {
			n++
		}
	}
	return n
}

// fakeSignalingDialer scripts the rendezvous and relay dial sequence.
type fakeSignalingDialer struct {
	mu sync.Mutex

	rendezvousFailures int // number of leading DialRendezvous calls that fail
	rendezvousAttempts int
	rendezvousConn     *fakeMessageConn

	relayConns map[string]*fakeMessageConn // url -> conn to hand back
}

func newFakeSignalingDialer() *fakeSignalingDialer {
	return &fakeSignalingDialer{
		rendezvousConn: newFakeMessageConn("rendezvous"),
		relayConns:     make(map[string]*fakeMessageConn),
	}
}

func (d *fakeSignalingDialer) DialRendezvous(ctx context.Context) (MessageConn, error) {
	d.mu.Lock()
	d.rendezvousAttempts++
	attempt := d.rendezvousAttempts
	d.mu.Unlock()

	if attempt <= d.rendezvousFailures {
		return nil, fmt.Errorf("fake signaling dialer: rendezvous unreachable (attempt %d)", attempt)
	}
	return d.rendezvousConn, nil
}

func (d *fakeSignalingDialer) DialRelay(ctx context.Context, wsURL string) (MessageConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.relayConns[wsURL]
	if !ok {
		conn = newFakeMessageConn("relay:" + wsURL)
		d.relayConns[wsURL] = conn
	}
	return conn, nil
}

// fakeStoreIndex is an in-memory StoreIndex.
type fakeStoreIndex struct {
	entries map[string]*StoreEntry
}

func newFakeStoreIndex() *fakeStoreIndex { return &fakeStoreIndex{entries: make(map[string]*StoreEntry)} }

func (s *fakeStoreIndex) Get(ctx context.Context, storeID string) (*StoreEntry, bool, error) {
	e, ok := s.entries[storeID]
	return e, ok, nil
}
