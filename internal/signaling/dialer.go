// Package signaling adapts a gorilla/websocket connection to
// digcore.MessageConn and digcore.SignalingDialer, backing the
// persistent rendezvous link and the ephemeral per-transfer relay
// connections SignalingChannel opens.
package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dignetwork/dignode/pkg/digcore"
)

// wsConn adapts a *websocket.Conn to digcore.MessageConn. JSON
// messages are framed as individual text frames, mirroring the
// request/response JSON idiom the admin API uses over HTTP, carried
// here over a persistent socket instead.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) ReadJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.ReadJSON(v)
}

func (w *wsConn) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteJSON(v)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// Dialer implements digcore.SignalingDialer over a configured
// rendezvous URL, dialing fresh websocket connections for both the
// persistent link and each ephemeral relay request.
type Dialer struct {
	RendezvousURL string
	dialer        *websocket.Dialer
}

// NewDialer builds a Dialer for rendezvousURL using websocket.DefaultDialer.
func NewDialer(rendezvousURL string) *Dialer {
	return &Dialer{RendezvousURL: rendezvousURL, dialer: websocket.DefaultDialer}
}

// DialRendezvous opens the persistent signaling link.
func (d *Dialer) DialRendezvous(ctx context.Context) (digcore.MessageConn, error) {
	return d.dial(ctx, d.RendezvousURL)
}

// DialRelay opens an ephemeral relay connection at wsURL, used for one
// TURN-connection signal or one file transfer.
func (d *Dialer) DialRelay(ctx context.Context, wsURL string) (digcore.MessageConn, error) {
	return d.dial(ctx, wsURL)
}

func (d *Dialer) dial(ctx context.Context, url string) (digcore.MessageConn, error) {
	c, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("signaling: dial %s: %w (http %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("signaling: dial %s: %w", url, err)
	}
	return &wsConn{c: c}, nil
}
