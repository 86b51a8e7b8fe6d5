// Package localscan advertises and browses for overlay members on the
// local network via mDNS (DNS-SD), complementing digcore's direct
// subnet-scan strategy on networks where unsolicited TCP probes are
// filtered but multicast is not.
package localscan

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/zeroconf/v2"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	browseInterval = 30 * time.Second
	browseTimeout  = 10 * time.Second
	dnsaddrPrefix  = "dnsaddr="
)

// serviceName builds the DNS-SD service type for an overlay namespace,
// scoping mDNS visibility to nodes configured with the same namespace
// the way the authorized_keys allowlist scopes direct connections.
func serviceName(namespace string) string {
	return "_" + namespace + "._udp"
}

// PeerFound is delivered for every distinct advertised address set
// discovered on the LAN.
type PeerFound struct {
	PeerAddrs []string // multiaddrs, including the trailing /p2p/<id> component
}

// Advertiser registers this node's listen addresses on the LAN and
// periodically browses for other nodes in the same overlay namespace,
// adapted from pkg/p2pnet/mdns.go's MDNSDiscovery: advertise via
// zeroconf.RegisterProxy, browse in short bounded rounds (working
// around platforms where a single long-lived Browse silently stalls).
type Advertiser struct {
	namespace string
	selfAddrs []string // this node's own multiaddrs to advertise
	onFound   func(PeerFound)

	server *zeroconf.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdvertiser builds an Advertiser for namespace. selfAddrs are the
// node's full multiaddrs (including /p2p/<id>) to publish in TXT
// records. onFound is invoked once per browse round for each distinct
// peer's address set; it must not block.
func NewAdvertiser(namespace string, selfAddrs []string, onFound func(PeerFound)) *Advertiser {
	return &Advertiser{namespace: namespace, selfAddrs: selfAddrs, onFound: onFound}
}

// Start registers the mDNS service and begins the periodic browse loop.
func (a *Advertiser) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.startServer(); err != nil {
		return err
	}

	a.wg.Add(1)
	go a.browseLoop()
	return nil
}

// Close stops advertising and browsing.
func (a *Advertiser) Close() error {
	a.cancel()
	if a.server != nil {
		a.server.Shutdown()
	}
	a.wg.Wait()
	return nil
}

func (a *Advertiser) startServer() error {
	var txts []string
	for _, addr := range a.selfAddrs {
		if isSuitableForMDNS(addr) {
			txts = append(txts, dnsaddrPrefix+addr)
		}
	}

	peerName := randomString(32 + rand.Intn(32))
	server, err := zeroconf.RegisterProxy(
		peerName,
		serviceName(a.namespace),
		"local",
		4001, // unused; real addresses travel in TXT records
		peerName,
		[]string{"127.0.0.1"},
		txts,
		nil,
	)
	if err != nil {
		return fmt.Errorf("localscan: register mdns service: %w", err)
	}
	a.server = server
	return nil
}

func (a *Advertiser) browseLoop() {
	defer a.wg.Done()

	select {
	case <-time.After(2 * time.Second):
	case <-a.ctx.Done():
		return
	}

	a.runBrowse()

	ticker := time.NewTicker(browseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.runBrowse()
		}
	}
}

func (a *Advertiser) runBrowse() {
	browseCtx, cancel := context.WithTimeout(a.ctx, browseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 100)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			a.processEntry(entry)
		}
	}()

	if err := zeroconf.Browse(browseCtx, serviceName(a.namespace), "local", entries); err != nil {
		if a.ctx.Err() == nil {
			slog.Debug("localscan: mdns browse round error", "error", err)
		}
	}
	wg.Wait()
}

func (a *Advertiser) processEntry(entry *zeroconf.ServiceEntry) {
	var addrs []string
	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, dnsaddrPrefix) {
			addrs = append(addrs, txt[len(dnsaddrPrefix):])
		}
	}
	if len(addrs) == 0 {
		return
	}
	if a.onFound != nil {
		a.onFound(PeerFound{PeerAddrs: addrs})
	}
}

// isSuitableForMDNS excludes relay and browser-only transports from
// LAN advertisement, mirroring libp2p's own mDNS address filtering.
func isSuitableForMDNS(addr string) bool {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return false
	}
	suitable := true
	ma.ForEach(maddr, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_CIRCUIT, ma.P_WEBTRANSPORT, ma.P_WEBRTC,
			ma.P_WEBRTC_DIRECT, ma.P_P2P_WEBRTC_DIRECT:
			suitable = false
			return false
		}
		return true
	})
	return suitable
}

func randomString(l int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	s := make([]byte, 0, l)
	for i := 0; i < l; i++ {
		s = append(s, alphabet[rand.Intn(len(alphabet))])
	}
	return string(s)
}
