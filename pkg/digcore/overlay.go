package digcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	dhtRepublishInterval = 5 * time.Minute
	handshakeTimeout     = 3 * time.Second
)

// SelfState is what OverlayDiscovery publishes about the local node on
// both the DHT and the gossip topics. Supplied by a callback so the
// orchestrator can keep it current without OverlayDiscovery reaching
// back into unrelated state (Design Note "cyclic references").
type SelfState struct {
	CryptoIPv6   string
	Stores       []string
	Capabilities Capabilities
	Addrs        []Multiaddr
}

// SelfStateProvider returns the node's current publishable state.
type SelfStateProvider func() SelfState

// InfraAllowList is the small hard-coded set of known shared public
// infrastructure peer ids exempted from existing-connection filtering
// (spec §4.3 channel 4, §6).
var InfraAllowList = map[PeerID]struct{}{}

// OverlayDiscovery populates a PeerDirectory with verified overlay
// members via namespaced DHT registration, namespaced gossip topics,
// the /dig/1.0.0 identification handshake, and existing-connection
// filtering (spec §4.3).
type OverlayDiscovery struct {
	transport Transport
	dht       DHT
	gossip    GossipBus
	dir       *PeerDirectory

	selfID    PeerID
	namespace string
	state     SelfStateProvider

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOverlayDiscovery constructs the component. namespace defaults to
// DefaultOverlayNamespace when empty.
func NewOverlayDiscovery(t Transport, dht DHT, gossip GossipBus, namespace string, state SelfStateProvider) *OverlayDiscovery {
	if namespace == "" {
		namespace = DefaultOverlayNamespace
	}
	return &OverlayDiscovery{
		transport: t,
		dht:       dht,
		gossip:    gossip,
		dir:       NewPeerDirectory(),
		selfID:    t.SelfID(),
		namespace: namespace,
		state:     state,
	}
}

// Directory returns the peer directory this discovery instance fills.
func (o *OverlayDiscovery) Directory() *PeerDirectory { return o.dir }

// Start launches the DHT republish loop and the four gossip-topic
// subscriptions, then runs one pass of existing-connection filtering.
// Each task is an independent cooperative goroutine cancelled by
// Close (Design Note "task orchestration").
func (o *OverlayDiscovery) Start(ctx context.Context) error {
	o.ctx, o.cancel = context.WithCancel(ctx)

	o.wg.Add(1)
	go o.republishLoop()

	for _, topic := range gossipTopics {
		sub, err := o.gossip.Subscribe(o.ctx, topic)
		if err != nil {
			slog.Warn("overlay: gossip subscribe failed", "topic", topic, "error", err)
			continue
		}
		o.wg.Add(1)
		go o.gossipLoop(topic, sub)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.FilterExistingConnections(o.ctx)
	}()

	return nil
}

// Close cancels every background task and waits for them to exit.
func (o *OverlayDiscovery) Close() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *OverlayDiscovery) republishLoop() {
	defer o.wg.Done()
	o.publishSelfRecord(o.ctx)

	ticker := time.NewTicker(dhtRepublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			o.publishSelfRecord(o.ctx)
		}
	}
}

func (o *OverlayDiscovery) publishSelfRecord(ctx context.Context) {
	st := o.state()
	addrs := make([]string, 0, len(st.Addrs))
	for _, a := range st.Addrs {
		addrs = append(addrs, a.String())
	}
	rec := dhtPeerRecord{
		PeerID:       o.selfID.String(),
		CryptoIPv6:   st.CryptoIPv6,
		Stores:       st.Stores,
		Capabilities: st.Capabilities,
		Addrs:        addrs,
		Timestamp:    time.Now(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		slog.Error("overlay: marshal self record failed", "error", err)
		return
	}
	key := fmt.Sprintf("/%s/peers/%s", o.namespace, o.selfID.String())
	if err := o.dht.PutValue(ctx, key, payload); err != nil {
		slog.Warn("overlay: dht publish failed", "key", key, "error", err)
	}
}

func (o *OverlayDiscovery) gossipLoop(topic string, sub Subscription) {
	defer o.wg.Done()
	defer sub.Cancel()
	for {
		data, from, err := sub.Next(o.ctx)
		if err != nil {
			if o.ctx.Err() != nil {
				return
			}
			slog.Warn("overlay: gossip recv failed", "topic", topic, "error", err)
			return
		}
		o.handleGossipMessage(topic, data, from)
	}
}

func (o *OverlayDiscovery) handleGossipMessage(topic string, data []byte, from PeerID) {
	var ann gossipAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		return
	}
	if ann.OverlayID != o.namespace {
		return
	}
	if PeerID(ann.PeerID) == o.selfID {
		return
	}

	addrs := make([]Multiaddr, 0, len(ann.Addrs))
	for _, s := range ann.Addrs {
		if m, err := NewMultiaddr(s); err == nil {
			addrs = append(addrs, m)
		}
	}

	o.dir.Upsert(PeerRecord{
		ID:           PeerID(ann.PeerID),
		Overlay:      OverlayID(o.namespace),
		Addrs:        addrs,
		Capabilities: ann.Capabilities,
		StoreIDs:     ann.Stores,
		CryptoIPv6:   ann.CryptoIPv6,
		LastSeen:     time.Now(),
		Source:       SourceGossip,
	})
	slog.Debug("overlay: gossip admitted peer", "peer", ann.PeerID, "topic", topic)
}

// Handshake performs the /dig/1.0.0 identification exchange with peer,
// returning whether it affirmatively identified as an overlay member.
// Any non-matching response, malformed JSON, or timeout is a non-member
// decision, never a propagated error (spec §7).
func (o *OverlayDiscovery) Handshake(ctx context.Context, peer PeerID) bool {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	stream, err := o.transport.DialProtocol(ctx, peer, OverlayProtocolID)
	if err != nil {
		return false
	}
	defer stream.Close()

	req := identifyRequest{
		Type:            "DIG_NETWORK_IDENTIFICATION",
		NetworkID:       expectedNetworkID,
		ProtocolVersion: protocolVersion,
	}
	enc := json.NewEncoder(stream)
	if err := enc.Encode(req); err != nil {
		return false
	}

	var resp identifyResponse
	dec := json.NewDecoder(stream)
	if err := dec.Decode(&resp); err != nil {
		return false
	}

	return resp.NetworkID == expectedNetworkID && resp.IsDIGNode
}

// FetchPeerInfo requests stores/capabilities from an already-identified
// peer over the same protocol stream shape. Used to enrich a
// PeerRecord beyond what the handshake alone carries.
func (o *OverlayDiscovery) FetchPeerInfo(ctx context.Context, peer PeerID) (*peerInfoResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	stream, err := o.transport.DialProtocol(ctx, peer, OverlayProtocolID)
	if err != nil {
		return nil, fmt.Errorf("overlay: dial protocol: %w", err)
	}
	defer stream.Close()

	req := peerInfoRequest{Type: "GET_PEER_INFO", RequestedInfo: []string{"stores", "capabilities", "cryptoIPv6"}}
	if err := json.NewEncoder(stream).Encode(req); err != nil {
		return nil, fmt.Errorf("overlay: encode info request: %w", err)
	}

	var resp peerInfoResponse
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return nil, fmt.Errorf("overlay: decode info response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("overlay: peer info request declined")
	}
	return &resp, nil
}

// FilterExistingConnections handshake-tests every peer the underlying
// transport reports as already connected. Members are admitted to the
// directory; non-members are removed from it and hung up unless they
// appear in InfraAllowList (spec §4.3 channel 4).
func (o *OverlayDiscovery) FilterExistingConnections(ctx context.Context) {
	for _, p := range o.transport.Peers() {
		if p == o.selfID {
			continue
		}
		if o.Handshake(ctx, p) {
			o.dir.Upsert(PeerRecord{
				ID:       p,
				Overlay:  OverlayID(o.namespace),
				Verified: true,
				LastSeen: time.Now(),
				Source:   SourceHandshake,
			})
			continue
		}
		o.dir.Remove(p)
		if _, allowed := InfraAllowList[p]; allowed {
			continue
		}
		if err := o.transport.HangUp(p); err != nil {
			slog.Debug("overlay: hang up non-member failed", "peer", p, "error", err)
		}
	}
}
