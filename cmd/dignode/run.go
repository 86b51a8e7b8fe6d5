package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/dignetwork/dignode/internal/auth"
	"github.com/dignetwork/dignode/internal/config"
	"github.com/dignetwork/dignode/internal/identity"
	"github.com/dignetwork/dignode/internal/localscan"
	"github.com/dignetwork/dignode/internal/signaling"
	"github.com/dignetwork/dignode/internal/telemetry"
	"github.com/dignetwork/dignode/internal/transport"
	"github.com/dignetwork/dignode/internal/turnrelay"
	"github.com/dignetwork/dignode/internal/watchdog"
	"github.com/dignetwork/dignode/pkg/digcore"
)

// dhtProtocolPrefix derives the Kademlia protocol prefix from an
// overlay namespace, e.g. "dig-network-mainnet-v1" ->
// "/dig-network-mainnet-v1"; the DHT appends "/kad/1.0.0" to it to form
// the protocol ID. Namespaces are validated
// DNS-label safe (internal/validate), so the prefix is always a legal
// protocol.ID.
func dhtProtocolPrefix(namespace string) protocol.ID {
	return protocol.ID("/" + namespace)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFlag := fs.String("config", "", "path to config file")
	fs.Parse(args)

	cfgFile, err := config.FindConfigFile(*configFlag)
	if err != nil {
		fatal("%v", err)
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	config.ResolveConfigPaths(cfg, filepath.Dir(cfgFile))
	if err := config.Validate(cfg); err != nil {
		fatal("invalid config: %v", err)
	}

	priv, err := identity.LoadOrCreateIdentity(cfg.Identity.KeyFile)
	if err != nil {
		fatal("failed to load identity: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if deadline, err := config.CheckPending(cfgFile); err != nil {
		slog.Warn("failed to check for a pending commit-confirmed config change", "err", err)
	} else if !deadline.IsZero() {
		slog.Warn("resuming commit-confirmed enforcement from a prior `dignode config apply`", "deadline", deadline)
		go config.EnforceCommitConfirmed(ctx, cfgFile, deadline, osExit)
	} else if err := config.Archive(cfgFile); err != nil {
		slog.Debug("failed to refresh last-known-good config archive", "err", err)
	}

	if cfg.Security.EnableConnectionGating {
		keys, err := auth.LoadAuthorizedKeys(cfg.Security.AuthorizedKeysFile)
		if err != nil {
			fatal("failed to load authorized_keys: %v", err)
		}
		slog.Info("connection gating enabled", "authorized_peers", len(keys))
	}

	h, err := transport.NewHost(transport.HostParams{
		Identity:       priv,
		ListenAddrs:    cfg.Overlay.ListenAddresses,
		CircuitRelays:  cfg.Relay.CircuitRelays,
		AuthorizedKeys: cfg.Security.AuthorizedKeysFile,
		EnableGating:   cfg.Security.EnableConnectionGating,
	})
	if err != nil {
		fatal("failed to build libp2p host: %v", err)
	}
	slog.Info("libp2p host started", "peer_id", h.ID().String(), "addrs", h.Addrs())

	kdht, err := dht.New(ctx, h,
		dht.Mode(dht.ModeAutoServer),
		dht.ProtocolPrefix(dhtProtocolPrefix(cfg.Overlay.Namespace)),
	)
	if err != nil {
		fatal("failed to start DHT: %v", err)
	}
	if err := kdht.Bootstrap(ctx); err != nil {
		slog.Warn("DHT bootstrap returned an error", "err", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		fatal("failed to start gossipsub: %v", err)
	}

	hostAdapter := transport.NewHostAdapter(h)
	dhtAdapter := transport.NewDHTAdapter(kdht)
	gossipAdapter := transport.NewGossipAdapter(ps)

	var turnServers []turnrelay.ServerConfig
	for _, addr := range cfg.Relay.TURNServers {
		turnServers = append(turnServers, turnrelay.ServerConfig{
			Addr:     addr,
			Username: cfg.Relay.TURNUsername,
			Password: cfg.Relay.TURNPassword,
			Realm:    cfg.Relay.TURNRealm,
		})
	}
	turnCoord := turnrelay.NewCoordinator(turnServers)

	selfCaps := digcore.Capabilities{
		DHT:             true,
		Gossip:          true,
		MDNS:            true,
		UPnP:            true,
		AutoNAT:         true,
		WebRTC:          true,
		WebSockets:      true,
		CircuitRelay:    len(cfg.Relay.CircuitRelays) > 0,
		TURNServer:      len(cfg.Relay.TURNServers) > 0,
		E2EEncryption:   cfg.Security.RequireE2EEncryption,
		ProtocolVersion: "1.0.0",
		Environment:     digcore.EnvironmentTag(cfg.Overlay.Environment),
	}

	selfState := func() digcore.SelfState {
		var addrs []digcore.Multiaddr
		for _, a := range h.Addrs() {
			ma, err := digcore.NewMultiaddr(a.String() + "/p2p/" + h.ID().String())
			if err != nil {
				continue
			}
			addrs = append(addrs, ma)
		}
		return digcore.SelfState{
			Capabilities: selfCaps,
			Addrs:        addrs,
		}
	}

	overlay := digcore.NewOverlayDiscovery(hostAdapter, dhtAdapter, gossipAdapter, cfg.Overlay.Namespace, selfState)
	if err := overlay.Start(ctx); err != nil {
		fatal("failed to start overlay discovery: %v", err)
	}
	defer overlay.Close()

	scanner := digcore.NewLocalSubnetScanner(hostAdapter, gossipAdapter, overlay, selfState, cfg.Ports.Preferred)
	if err := scanner.Start(ctx); err != nil {
		slog.Warn("failed to start local subnet scanner", "err", err)
	} else {
		defer scanner.Close()
	}

	pipeline := digcore.NewConnectionPipeline(hostAdapter, dhtAdapter, turnCoord, cfg.Relay.CircuitRelays)

	dialer := signaling.NewDialer(cfg.Signaling.RendezvousURL)
	signalChan := digcore.NewSignalingChannel(dialer, emptyStoreIndex{}, digcore.PeerID(h.ID()), selfState)
	if err := signalChan.Start(ctx); err != nil {
		slog.Warn("failed to start signaling channel", "err", err)
	} else {
		defer signalChan.Close()
	}

	allocator := digcore.NewPortAllocator(cfg.Ports.RangeStart, cfg.Ports.RangeEnd)
	privacy := digcore.NewPrivacyPolicy(true)
	report, err := privacy.Enforce(selfCaps)
	if err != nil {
		slog.Warn("privacy policy enforcement failed", "err", err)
	} else {
		slog.Info("privacy policy evaluated", "level", report.Level, "enabled", report.Enabled, "total", report.Total)
	}

	var advertiser *localscan.Advertiser
	if selfCaps.MDNS {
		var selfAddrs []string
		for _, a := range h.Addrs() {
			selfAddrs = append(selfAddrs, a.String()+"/p2p/"+h.ID().String())
		}
		advertiser = localscan.NewAdvertiser(cfg.Overlay.Namespace, selfAddrs, func(found localscan.PeerFound) {
			slog.Debug("mdns discovered peer addrs", "addrs", found.PeerAddrs)
		})
		if err := advertiser.Start(ctx); err != nil {
			slog.Warn("failed to start mDNS advertiser", "err", err)
			advertiser = nil
		} else {
			defer advertiser.Close()
		}
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = telemetry.NewMetrics(version, "go")
		srv := &httpMetricsServer{addr: cfg.Telemetry.Metrics.ListenAddress, metrics: metrics}
		if err := srv.Start(); err != nil {
			slog.Warn("failed to start metrics server", "err", err)
		} else {
			defer srv.Stop()
			slog.Info("metrics server listening", "addr", cfg.Telemetry.Metrics.ListenAddress)
		}
	}

	startStatusPrinter(ctx, h, overlay, pipeline, allocator)

	if err := watchdog.Ready(); err != nil {
		slog.Debug("systemd notify unavailable", "err", err)
	}
	go watchdog.Run(ctx, watchdog.Config{Interval: 30 * time.Second}, []watchdog.HealthCheck{
		{
			Name: "dht-routing-table",
			Check: func() error {
				if kdht.RoutingTable().Size() == 0 {
					return fmt.Errorf("dht routing table is empty")
				}
				return nil
			},
		},
		{
			Name: "libp2p-host",
			Check: func() error {
				if len(h.Network().Peers()) == 0 {
					return fmt.Errorf("no connected peers")
				}
				return nil
			},
		},
	})

	fmt.Printf("dignode running as %s\n", h.ID().String())
	fmt.Printf("overlay: %s\n", cfg.Overlay.Namespace)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case <-ctx.Done():
	}

	fmt.Println("dignode stopped.")
}
