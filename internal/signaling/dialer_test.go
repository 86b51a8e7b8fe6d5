package signaling

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			mt, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			if err := c.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestDialRendezvous_ConnectsAndRoundTrips(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	d := NewDialer(wsURL(srv.URL))
	conn, err := d.DialRendezvous(context.Background())
	if err != nil {
		t.Fatalf("DialRendezvous: %v", err)
	}
	defer conn.Close()

	type payload struct {
		Type string `json:"type"`
	}
	if err := conn.WriteJSON(payload{Type: "register"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var got payload
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Type != "register" {
		t.Errorf("echoed type = %q, want %q", got.Type, "register")
	}
}

func TestDialRelay_ConnectsToGivenURL(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	d := NewDialer("ws://unused.invalid")
	conn, err := d.DialRelay(context.Background(), wsURL(srv.URL))
	if err != nil {
		t.Fatalf("DialRelay: %v", err)
	}
	defer conn.Close()
}

func TestDialRendezvous_FailsOnUnreachableServer(t *testing.T) {
	d := NewDialer("ws://127.0.0.1:1/no-such-server")
	_, err := d.DialRendezvous(context.Background())
	if err == nil {
		t.Fatal("expected dial error for unreachable rendezvous server")
	}
}
