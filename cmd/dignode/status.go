package main

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/host"

	"github.com/dignetwork/dignode/pkg/digcore"
)

// startStatusPrinter runs a background goroutine that periodically
// prints connection and discovery stats to stdout.
func startStatusPrinter(ctx context.Context, h host.Host, overlay *digcore.OverlayDiscovery, pipeline *digcore.ConnectionPipeline, allocator *digcore.PortAllocator) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			printStatus(h, overlay, pipeline, allocator)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func printStatus(h host.Host, overlay *digcore.OverlayDiscovery, pipeline *digcore.ConnectionPipeline, allocator *digcore.PortAllocator) {
	connStats := digcore.ConnectionStatsFrom(pipeline.Stats())
	discStats := digcore.DiscoveryStatsFrom(overlay.Directory())

	fmt.Println()
	fmt.Println("--- Status ---")
	fmt.Printf("Peer ID: %s\n", h.ID())
	fmt.Printf("Connected peers: %d\n", len(h.Network().Peers()))
	fmt.Printf("Directory: %d members, %d verified, %d with stores, %d TURN-capable\n",
		discStats.DirectorySize, discStats.VerifiedMembers, discStats.MembersWithStores, discStats.TurnCapableMembers)
	fmt.Printf("Connect attempts: %d total, %d successful, best method %s\n",
		connStats.TotalAttempts, connStats.SuccessfulAttempts, pipeline.BestMethod())
	fmt.Printf("Reserved ports: %d\n", len(allocator.Allocations()))
}
