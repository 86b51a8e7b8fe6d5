package digcore

import "time"

// ConnectionStats is the connection_stats() read-model from spec §4.7.
type ConnectionStats struct {
	TotalAttempts     int
	SuccessfulAttempts int
	PerMethod         map[Method]MethodRate
}

// MethodRate is one method's cumulative counters plus its derived
// success rate, defined only once attempts >= 3 (spec §3).
type MethodRate struct {
	Attempts  int
	Successes int
	RatePct   float64
	RateKnown bool
}

// ConnectionStatsFrom builds a ConnectionStats snapshot from a
// pipeline's current MethodStats.
func ConnectionStatsFrom(stats MethodStats) ConnectionStats {
	out := ConnectionStats{PerMethod: make(map[Method]MethodRate, len(MethodOrder))}
	for _, m := range MethodOrder {
		attempts := stats.Attempts[m]
		successes := stats.Successes[m]
		out.TotalAttempts += attempts
		out.SuccessfulAttempts += successes

		rate := MethodRate{Attempts: attempts, Successes: successes}
		if attempts >= 3 {
			rate.RateKnown = true
			rate.RatePct = (float64(successes) / float64(attempts)) * 100
		}
		out.PerMethod[m] = rate
	}
	return out
}

// DiscoveryStats is the discovery_stats() read-model from spec §4.7.
type DiscoveryStats struct {
	DirectorySize      int
	VerifiedMembers    int
	MembersWithStores  int
	TurnCapableMembers int
	LatestLastSeen     time.Time
	SourcesActive      map[DiscoverySource]bool
}

// DiscoveryStatsFrom builds a DiscoveryStats snapshot from a directory.
func DiscoveryStatsFrom(dir *PeerDirectory) DiscoveryStats {
	records := dir.GetAll()
	stats := DiscoveryStats{
		DirectorySize:  len(records),
		LatestLastSeen: dir.LatestLastSeen(),
		SourcesActive:  make(map[DiscoverySource]bool),
	}
	for _, rec := range records {
		if rec.Verified {
			stats.VerifiedMembers++
		}
		if len(rec.StoreIDs) > 0 {
			stats.MembersWithStores++
		}
		if rec.Capabilities.TURNServer {
			stats.TurnCapableMembers++
		}
		stats.SourcesActive[rec.Source] = true
	}
	return stats
}
