package digcore

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func selfStateFixture() SelfState {
	return SelfState{CryptoIPv6: "fd00::1", Stores: nil, Capabilities: Capabilities{DHT: true, Gossip: true}}
}

func TestOverlayDiscovery_HandshakeAdmitsMember(t *testing.T) {
	self := mustPeerID("self")
	member := mustPeerID("member")
	tr := newFakeTransport(self)
	tr.setHandshake(member, true)

	od := NewOverlayDiscovery(tr, newFakeDHT(), newFakeGossip(), "", selfStateFixture)
	if !od.Handshake(context.Background(), member) {
		t.Fatalf("expected member to be admitted")
	}
}

func TestOverlayDiscovery_HandshakeRejectsNonMember(t *testing.T) {
	self := mustPeerID("self")
	stranger := mustPeerID("stranger")
	tr := newFakeTransport(self)
	tr.setHandshake(stranger, false)

	od := NewOverlayDiscovery(tr, newFakeDHT(), newFakeGossip(), "", selfStateFixture)
	if od.Handshake(context.Background(), stranger) {
		t.Fatalf("expected stranger to be rejected")
	}
}

// TestOverlayDiscovery_Property3_HandshakeIdempotent runs the
// handshake twice and checks the admission decision and an upsert
// based on it are stable (spec property 3).
func TestOverlayDiscovery_Property3_HandshakeIdempotent(t *testing.T) {
	self := mustPeerID("self")
	member := mustPeerID("member")
	tr := newFakeTransport(self)
	tr.setHandshake(member, true)

	od := NewOverlayDiscovery(tr, newFakeDHT(), newFakeGossip(), "", selfStateFixture)

	first := od.Handshake(context.Background(), member)
	second := od.Handshake(context.Background(), member)
	if first != second {
		t.Fatalf("handshake admission decision changed across calls")
	}

	t1 := time.Now()
	od.Directory().Upsert(PeerRecord{ID: member, LastSeen: t1, Source: SourceGossip})
	t2 := t1.Add(time.Second)
	od.Directory().Upsert(PeerRecord{ID: member, LastSeen: t2, Source: SourceHandshake})

	rec, ok := od.Directory().Get(member)
	if !ok {
		t.Fatalf("expected member present in directory")
	}
	if rec.LastSeen.Before(t1) {
		t.Fatalf("LastSeen must be monotonically non-decreasing")
	}
}

// TestOverlayDiscovery_S4_NonMemberFiltered reproduces scenario S4: an
// existing-connection peer that fails the handshake is removed from
// the directory and hung up, unless allow-listed.
func TestOverlayDiscovery_S4_NonMemberFiltered(t *testing.T) {
	self := mustPeerID("self")
	nonMember := mustPeerID("non-member")
	tr := newFakeTransport(self)
	tr.peers = []PeerID{nonMember}
	tr.setHandshake(nonMember, false)

	od := NewOverlayDiscovery(tr, newFakeDHT(), newFakeGossip(), "", selfStateFixture)
	od.FilterExistingConnections(context.Background())

	if _, ok := od.Directory().Get(nonMember); ok {
		t.Fatalf("non-member must not be in directory")
	}
	found := false
	for _, hu := range tr.hangUps {
		if hu == nonMember {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected non-member to be hung up")
	}
}

func TestOverlayDiscovery_S4_AllowListedNonMemberKept(t *testing.T) {
	self := mustPeerID("self")
	infra := mustPeerID("infra-node")
	InfraAllowList[infra] = struct{}{}
	defer delete(InfraAllowList, infra)

	tr := newFakeTransport(self)
	tr.peers = []PeerID{infra}
	tr.setHandshake(infra, false)

	od := NewOverlayDiscovery(tr, newFakeDHT(), newFakeGossip(), "", selfStateFixture)
	od.FilterExistingConnections(context.Background())

	for _, hu := range tr.hangUps {
		if hu == infra {
			t.Fatalf("allow-listed infra peer must not be hung up")
		}
	}
}

func TestOverlayDiscovery_GossipAdmitsOnMatchingOverlay(t *testing.T) {
	self := mustPeerID("self")
	tr := newFakeTransport(self)
	gossip := newFakeGossip()

	od := NewOverlayDiscovery(tr, newFakeDHT(), gossip, "dig-network-mainnet-v1", selfStateFixture)
	if err := od.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer od.Close()

	ann := gossipAnnouncement{OverlayID: "dig-network-mainnet-v1", PeerID: "gossip-peer", Timestamp: time.Now()}
	payload, _ := json.Marshal(ann)
	_ = gossip.Publish(context.Background(), TopicPeerAnnouncements, payload)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := od.Directory().Get(mustPeerID("gossip-peer")); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected gossip-peer to be admitted via gossip topic")
}
