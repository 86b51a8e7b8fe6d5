package digcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	localScanConcurrency  = 10
	localScanDialTimeout  = 3 * time.Second
	localHandshakeTimeout = 2 * time.Second
	localScanInterval     = 5 * time.Minute
	localAnnounceInterval = 30 * time.Second
	localAnnounceMaxRetry = 5
	localAnnounceRetryGap = 5 * time.Second
)

// candidatePorts is the fixed list of TCP ports LocalSubnetScanner
// probes on every host in the local /24 (spec §4.4).
var candidatePorts = []int{4001, 4002, 4003, 4004, 4005, 4010, 4020}

// MembershipVerifier is the narrow slice of OverlayDiscovery
// LocalSubnetScanner depends on: the handshake and the shared
// directory it should write into. Parameterizing on this interface,
// rather than a concrete *OverlayDiscovery, follows Design Note
// "cyclic references between components".
type MembershipVerifier interface {
	Handshake(ctx context.Context, peer PeerID) bool
	Directory() *PeerDirectory
}

// LocalSubnetScanner discovers overlay members on the local LAN by
// direct IP scan and a secondary LAN-only gossip topic, for networks
// where multicast discovery is blocked (spec §4.4).
type LocalSubnetScanner struct {
	transport Transport
	gossip    GossipBus
	verifier  MembershipVerifier
	selfID    PeerID
	state     SelfStateProvider
	ports     map[string]int // purpose -> port, for local announcements

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalSubnetScanner constructs the component. ports maps purpose
// names to the locally bound ports to advertise in LAN announcements.
func NewLocalSubnetScanner(t Transport, gossip GossipBus, verifier MembershipVerifier, state SelfStateProvider, ports map[string]int) *LocalSubnetScanner {
	return &LocalSubnetScanner{
		transport: t,
		gossip:    gossip,
		verifier:  verifier,
		selfID:    t.SelfID(),
		state:     state,
		ports:     ports,
	}
}

// Start launches the periodic subnet scan, the LAN gossip announce
// loop, and the LAN gossip receive loop.
func (s *LocalSubnetScanner) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	sub, err := s.gossip.Subscribe(s.ctx, TopicLocalNetworkDiscovery)
	if err != nil {
		slog.Warn("localscan: lan gossip subscribe failed", "error", err)
	} else {
		s.wg.Add(1)
		go s.lanGossipLoop(sub)
	}

	s.wg.Add(1)
	go s.scanLoop()

	s.wg.Add(1)
	go s.announceLoop()

	return nil
}

// Close cancels every background task and waits for them to exit.
func (s *LocalSubnetScanner) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *LocalSubnetScanner) scanLoop() {
	defer s.wg.Done()
	s.scanOnce(s.ctx)

	ticker := time.NewTicker(localScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(s.ctx)
		}
	}
}

// scanOnce derives the local /24 from the node's non-loopback IPv4
// address and probes every host (except self) on candidatePorts, with
// at most localScanConcurrency dials in flight at once.
func (s *LocalSubnetScanner) scanOnce(ctx context.Context) {
	subnet, selfHost, ok := localIPv4Subnet()
	if !ok {
		slog.Debug("localscan: no private IPv4 address found, skipping scan")
		return
	}

	sem := semaphore.NewWeighted(localScanConcurrency)
	var wg sync.WaitGroup

	for host := 1; host <= 254; host++ {
		if host == selfHost {
			continue
		}
		ip := fmt.Sprintf("%s.%d", subnet, host)
		for _, port := range candidatePorts {
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(ip string, port int) {
				defer wg.Done()
				defer sem.Release(1)
				s.probeAndVerify(ctx, ip, port)
			}(ip, port)
		}
	}
	wg.Wait()
}

func (s *LocalSubnetScanner) probeAndVerify(ctx context.Context, ip string, port int) {
	addr, err := NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ip, port))
	if err != nil {
		return
	}

	dialCtx, cancel := context.WithTimeout(ctx, localScanDialTimeout)
	conn, err := s.transport.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		return
	}
	peer := conn.RemotePeer()

	hsCtx, hsCancel := context.WithTimeout(ctx, localHandshakeTimeout)
	defer hsCancel()

	if s.verifier.Handshake(hsCtx, peer) {
		s.verifier.Directory().Upsert(PeerRecord{
			ID:       peer,
			Addrs:    []Multiaddr{addr},
			Verified: true,
			LastSeen: time.Now(),
			Source:   SourceLANScan,
		})
		slog.Debug("localscan: admitted peer", "peer", peer, "addr", addr.String())
		return
	}
	_ = s.transport.HangUp(peer)
}

func (s *LocalSubnetScanner) announceLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(localAnnounceInterval)
	defer ticker.Stop()

	s.announceOnce(s.ctx)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.announceOnce(s.ctx)
		}
	}
}

func (s *LocalSubnetScanner) announceOnce(ctx context.Context) {
	_, _, ok := localIPv4Subnet()
	localIP := ""
	if ip, found := firstPrivateIPv4(); found {
		localIP = ip.String()
	}
	if !ok && localIP == "" {
		return
	}

	st := s.state()
	ann := localAnnouncement{
		PeerID:         s.selfID.String(),
		OverlayID:      DefaultOverlayNamespace,
		CryptoIPv6:     st.CryptoIPv6,
		LocalIP:        localIP,
		PortsByPurpose: s.ports,
		Stores:         st.Stores,
		Timestamp:      time.Now(),
	}
	payload, err := json.Marshal(ann)
	if err != nil {
		return
	}
	if err := s.gossip.Publish(ctx, TopicLocalNetworkDiscovery, payload); err != nil {
		slog.Debug("localscan: lan announce publish failed", "error", err)
	}
}

func (s *LocalSubnetScanner) lanGossipLoop(sub Subscription) {
	defer s.wg.Done()
	defer sub.Cancel()
	for {
		data, from, err := sub.Next(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			return
		}
		s.handleLANAnnouncement(data, from)
	}
}

func (s *LocalSubnetScanner) handleLANAnnouncement(data []byte, from PeerID) {
	var ann localAnnouncement
	if err := json.Unmarshal(data, &ann); err != nil {
		return
	}
	if PeerID(ann.PeerID) == s.selfID {
		return
	}

	go func() {
		for attempt := 0; attempt < localAnnounceMaxRetry; attempt++ {
			for _, port := range ann.PortsByPurpose {
				addr, err := NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", ann.LocalIP, port))
				if err != nil {
					continue
				}
				ctx, cancel := context.WithTimeout(s.ctx, localAnnounceRetryGap)
				conn, err := s.transport.Dial(ctx, addr)
				cancel()
				if err == nil {
					peer := conn.RemotePeer()
					hsCtx, hsCancel := context.WithTimeout(s.ctx, localHandshakeTimeout)
					member := s.verifier.Handshake(hsCtx, peer)
					hsCancel()
					if member {
						s.verifier.Directory().Upsert(PeerRecord{
							ID:         peer,
							Addrs:      []Multiaddr{addr},
							StoreIDs:   ann.Stores,
							CryptoIPv6: ann.CryptoIPv6,
							Verified:   true,
							LastSeen:   time.Now(),
							Source:     SourceLANScan,
						})
					} else {
						_ = s.transport.HangUp(peer)
					}
					return
				}
			}
		}
	}()
}

// localIPv4Subnet returns the "a.b.c" prefix of the node's preferred
// private IPv4 address and the host octet that address occupies, so
// scanOnce can skip probing itself.
func localIPv4Subnet() (subnet string, selfHost int, ok bool) {
	ip, found := firstPrivateIPv4()
	if !found {
		return "", 0, false
	}
	parts := strings.Split(ip.String(), ".")
	if len(parts) != 4 {
		return "", 0, false
	}
	var host int
	_, err := fmt.Sscanf(parts[3], "%d", &host)
	if err != nil {
		return "", 0, false
	}
	return strings.Join(parts[:3], "."), host, true
}

// firstPrivateIPv4 returns a private IPv4 address on a local interface,
// preferring 192.168.*, then 10.*, then 172.16-31.*. It reports false
// when the host has no address in those ranges.
func firstPrivateIPv4() (net.IP, bool) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, false
	}
	var candidates []net.IP
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		candidates = append(candidates, ip4)
	}
	for _, ip := range candidates {
		if strings.HasPrefix(ip.String(), "192.168.") {
			return ip, true
		}
	}
	for _, ip := range candidates {
		if strings.HasPrefix(ip.String(), "10.") {
			return ip, true
		}
	}
	for _, ip := range candidates {
		if isIP172Private(ip) {
			return ip, true
		}
	}
	return nil, false
}

func isIP172Private(ip net.IP) bool {
	if !strings.HasPrefix(ip.String(), "172.") {
		return false
	}
	parts := strings.Split(ip.String(), ".")
	if len(parts) != 4 {
		return false
	}
	var second int
	if _, err := fmt.Sscanf(parts[1], "%d", &second); err != nil {
		return false
	}
	return second >= 16 && second <= 31
}
