package digcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Per-strategy timeouts, spec §4.5.
const (
	timeoutDirectTCP        = 15 * time.Second
	timeoutUPnPDirect       = 20 * time.Second
	timeoutAutoNATHolePunch = 25 * time.Second
	timeoutWebRTC           = 30 * time.Second
	timeoutCircuitRelay     = 35 * time.Second
	timeoutWebSocket        = 20 * time.Second
	dhtAssistedWait         = 2 * time.Second

	attemptHistoryCap = 1024
)

// DefaultPublicRelays are the hard-coded circuit-relay multiaddresses
// used for the circuit_relay strategy and as "keep-connected"
// infrastructure (spec §6). Overridable by the orchestrator.
var DefaultPublicRelays = []string{
	"/dnsaddr/relay1.dig.net/p2p/QmRelay1PublicInfrastructureNodeXXXXXXXXXXXXXXXXXXXX",
	"/dnsaddr/relay2.dig.net/p2p/QmRelay2PublicInfrastructureNodeXXXXXXXXXXXXXXXXXXXX",
	"/dnsaddr/relay3.dig.net/p2p/QmRelay3PublicInfrastructureNodeXXXXXXXXXXXXXXXXXXXX",
}

// FailureReport is returned when every attempted strategy fails.
type FailureReport struct {
	Attempt ConnectionAttempt
	Err     error
}

func (f *FailureReport) Error() string { return f.Err.Error() }
func (f *FailureReport) Unwrap() error { return f.Err }

// ConnectionPipeline walks the fixed, strictly-ordered strategy list
// (spec §4.5) against a target peer, returning the first successful
// Connection or an aggregated FailureReport. It accumulates per-method
// statistics and a bounded attempt history for Telemetry.
type ConnectionPipeline struct {
	transport Transport
	dht       DHT
	turn      TurnCoordinator
	relays    []string
	selfID    PeerID

	mu      sync.Mutex
	stats   *MethodStats
	history []ConnectionAttempt
}

// NewConnectionPipeline constructs the pipeline. relays overrides
// DefaultPublicRelays when non-nil.
func NewConnectionPipeline(t Transport, dht DHT, turn TurnCoordinator, relays []string) *ConnectionPipeline {
	if relays == nil {
		relays = DefaultPublicRelays
	}
	return &ConnectionPipeline{
		transport: t,
		dht:       dht,
		turn:      turn,
		relays:    relays,
		selfID:    t.SelfID(),
		stats:     NewMethodStats(),
	}
}

// strategyFunc attempts one Method. attempted is false when the
// strategy is skipped outright (missing capability or no candidates)
// and must not produce a logged MethodOutcome.
type strategyFunc func(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (outcome MethodOutcome, conn Connection, attempted bool)

// Connect attempts target via each enabled strategy in order, stopping
// at the first success. Every attempted strategy's MethodOutcome is
// recorded regardless of outcome (spec §4.5, §8 properties 1-2).
func (p *ConnectionPipeline) Connect(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (Connection, ConnectionAttempt, error) {
	attempt := ConnectionAttempt{Target: target, StartedAt: time.Now()}

	strategies := []struct {
		method Method
		fn     strategyFunc
	}{
		{MethodDirectTCP, p.tryDirectTCP},
		{MethodUPnPDirect, p.tryUPnPDirect},
		{MethodAutoNATHolePunch, p.tryAutoNATHolePunch},
		{MethodWebRTC, p.tryWebRTC},
		{MethodCircuitRelay, p.tryCircuitRelay},
		{MethodWebSocket, p.tryWebSocket},
		{MethodDHTAssisted, p.tryDHTAssisted},
		{MethodTURNRelay, p.tryTURNRelay},
	}

	for _, s := range strategies {
		outcome, conn, attempted := s.fn(ctx, target, candidates, caps)
		if !attempted {
			continue
		}
		attempt.Outcomes = append(attempt.Outcomes, outcome)
		p.recordStat(outcome.Method, outcome.Success, outcome.Duration)

		if outcome.Success {
			attempt.Won = outcome.Method
			attempt.Succeeded = true
			p.appendHistory(attempt)
			return conn, attempt, nil
		}

		if ctx.Err() != nil {
			p.appendHistory(attempt)
			return nil, attempt, fmt.Errorf("digcore: connect cancelled: %w", ctx.Err())
		}
	}

	p.appendHistory(attempt)
	return nil, attempt, &FailureReport{Attempt: attempt, Err: fmt.Errorf("digcore: connect to %s: %w", target, ErrAllMethodsFailed)}
}

func (p *ConnectionPipeline) recordStat(m Method, success bool, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Attempts[m]++
	if success {
		p.stats.Successes[m]++
	}
	p.stats.TotalLatency[m] += d
}

func (p *ConnectionPipeline) appendHistory(a ConnectionAttempt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, a)
	if len(p.history) > attemptHistoryCap {
		p.history = p.history[len(p.history)-attemptHistoryCap:]
	}
}

// History returns a snapshot of the bounded attempt history.
func (p *ConnectionPipeline) History() []ConnectionAttempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectionAttempt, len(p.history))
	copy(out, p.history)
	return out
}

// Stats returns a snapshot of per-method attempt/success counters.
func (p *ConnectionPipeline) Stats() MethodStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := MethodStats{
		Attempts:     make(map[Method]int, len(p.stats.Attempts)),
		Successes:    make(map[Method]int, len(p.stats.Successes)),
		TotalLatency: make(map[Method]time.Duration, len(p.stats.TotalLatency)),
	}
	for k, v := range p.stats.Attempts {
		cp.Attempts[k] = v
	}
	for k, v := range p.stats.Successes {
		cp.Successes[k] = v
	}
	for k, v := range p.stats.TotalLatency {
		cp.TotalLatency[k] = v
	}
	return cp
}

// BestMethod returns the Method with the highest success rate among
// those with at least 3 attempts, defaulting to direct_tcp when
// undetermined. Ties break by lexical Method order (Open Question b).
func (p *ConnectionPipeline) BestMethod() Method {
	p.mu.Lock()
	defer p.mu.Unlock()

	type candidate struct {
		method Method
		rate   float64
	}
	var candidates []candidate
	for _, m := range MethodOrder {
		attempts := p.stats.Attempts[m]
		if attempts < 3 {
			continue
		}
		rate := float64(p.stats.Successes[m]) / float64(attempts)
		candidates = append(candidates, candidate{m, rate})
	}
	if len(candidates) == 0 {
		return MethodDirectTCP
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].rate != candidates[j].rate {
			return candidates[i].rate > candidates[j].rate
		}
		return candidates[i].method < candidates[j].method
	})
	return candidates[0].method
}

func dialSequential(ctx context.Context, t Transport, candidates []Multiaddr, timeout time.Duration) (Connection, Multiaddr, time.Duration) {
	for _, addr := range candidates {
		start := time.Now()
		dctx, cancel := context.WithTimeout(ctx, timeout)
		conn, err := t.Dial(dctx, addr)
		cancel()
		elapsed := time.Since(start)
		if err == nil {
			return conn, addr, elapsed
		}
	}
	return nil, Multiaddr{}, 0
}

func (p *ConnectionPipeline) tryDirectTCP(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if len(candidates) == 0 {
		return MethodOutcome{}, nil, false
	}
	conn, addr, elapsed := dialSequential(ctx, p.transport, candidates, timeoutDirectTCP)
	if conn != nil {
		return MethodOutcome{Method: MethodDirectTCP, Success: true, Duration: elapsed, Addr: addr}, conn, true
	}
	return MethodOutcome{Method: MethodDirectTCP, Success: false, Duration: elapsed, Err: ErrAddressUnreachable}, nil, true
}

func (p *ConnectionPipeline) tryUPnPDirect(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if !caps.UPnP || len(candidates) == 0 {
		return MethodOutcome{}, nil, false
	}
	conn, addr, elapsed := dialSequential(ctx, p.transport, candidates, timeoutUPnPDirect)
	if conn != nil {
		return MethodOutcome{Method: MethodUPnPDirect, Success: true, Duration: elapsed, Addr: addr}, conn, true
	}
	return MethodOutcome{Method: MethodUPnPDirect, Success: false, Duration: elapsed, Err: ErrAddressUnreachable}, nil, true
}

func (p *ConnectionPipeline) tryAutoNATHolePunch(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if !caps.AutoNAT || len(candidates) == 0 {
		return MethodOutcome{}, nil, false
	}

	hint := holePunchHint{
		From:          p.selfID.String(),
		To:            target.String(),
		TargetAddress: candidates[0].String(),
		Action:        "simultaneous_dial",
		Timestamp:     time.Now(),
	}
	if payload, err := json.Marshal(hint); err == nil {
		key := fmt.Sprintf("/dig-hole-punch/%s", target.String())
		if err := p.dht.PutValue(ctx, key, payload); err != nil {
			slog.Debug("pipeline: hole punch hint publish failed", "error", err)
		}
	}

	conn, addr, elapsed := dialSequential(ctx, p.transport, candidates, timeoutAutoNATHolePunch)
	if conn != nil {
		return MethodOutcome{Method: MethodAutoNATHolePunch, Success: true, Duration: elapsed, Addr: addr}, conn, true
	}
	return MethodOutcome{Method: MethodAutoNATHolePunch, Success: false, Duration: elapsed, Err: ErrAddressUnreachable}, nil, true
}

func (p *ConnectionPipeline) tryWebRTC(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if !caps.WebRTC {
		return MethodOutcome{}, nil, false
	}
	addr, err := NewMultiaddr(fmt.Sprintf("/webrtc/p2p/%s", target.String()))
	if err != nil {
		return MethodOutcome{Method: MethodWebRTC, Success: false, Err: err}, nil, true
	}
	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, timeoutWebRTC)
	conn, err := p.transport.Dial(dctx, addr)
	cancel()
	elapsed := time.Since(start)
	if err == nil {
		return MethodOutcome{Method: MethodWebRTC, Success: true, Duration: elapsed, Addr: addr}, conn, true
	}
	return MethodOutcome{Method: MethodWebRTC, Success: false, Duration: elapsed, Addr: addr, Err: ErrAddressUnreachable}, nil, true
}

func (p *ConnectionPipeline) tryCircuitRelay(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if !caps.CircuitRelay || len(p.relays) == 0 {
		return MethodOutcome{}, nil, false
	}

	var total time.Duration
	for _, relay := range p.relays {
		relayAddr, err := NewMultiaddr(strings.TrimSuffix(relay, "/"))
		if err != nil {
			continue
		}
		circuitAddr, err := NewMultiaddr(strings.TrimSuffix(relay, "/") + "/p2p-circuit/p2p/" + target.String())
		if err != nil {
			continue
		}
		start := time.Now()
		dctx, cancel := context.WithTimeout(ctx, timeoutCircuitRelay)
		conn, err := p.transport.Dial(dctx, circuitAddr)
		cancel()
		elapsed := time.Since(start)
		total += elapsed
		if err == nil {
			return MethodOutcome{Method: MethodCircuitRelay, Success: true, Duration: total, Addr: circuitAddr, RelayNode: relayAddr, IsRelay: true}, conn, true
		}
	}
	return MethodOutcome{Method: MethodCircuitRelay, Success: false, Duration: total, IsRelay: true, Err: ErrAddressUnreachable}, nil, true
}

func (p *ConnectionPipeline) tryWebSocket(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	var wsCandidates []Multiaddr
	for _, addr := range candidates {
		s := addr.String()
		if strings.Contains(s, "/tcp/") {
			ws, err := NewMultiaddr(strings.Replace(s, "/tcp/", "/ws/", 1))
			if err == nil {
				wsCandidates = append(wsCandidates, ws)
			}
		}
	}
	if len(wsCandidates) == 0 {
		return MethodOutcome{}, nil, false
	}
	conn, addr, elapsed := dialSequential(ctx, p.transport, wsCandidates, timeoutWebSocket)
	if conn != nil {
		return MethodOutcome{Method: MethodWebSocket, Success: true, Duration: elapsed, Addr: addr}, conn, true
	}
	return MethodOutcome{Method: MethodWebSocket, Success: false, Duration: elapsed, Err: ErrAddressUnreachable}, nil, true
}

// tryDHTAssisted writes a coordination record then waits a fixed,
// heuristic interval before checking whether the transport already
// shows target connected (Open Question a: this is not a correctness
// guarantee, only a best-effort nudge).
func (p *ConnectionPipeline) tryDHTAssisted(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if !caps.DHT {
		return MethodOutcome{}, nil, false
	}

	start := time.Now()
	hint := connectionRequestHint{
		RequestID: uuid.NewString(),
		From:      p.selfID.String(),
		Timestamp: time.Now(),
	}
	for _, a := range candidates {
		hint.Addrs = append(hint.Addrs, a.String())
	}
	if payload, err := json.Marshal(hint); err == nil {
		key := fmt.Sprintf("/dig-connection-request/%s", target.String())
		if err := p.dht.PutValue(ctx, key, payload); err != nil {
			slog.Debug("pipeline: dht assisted hint publish failed", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		return MethodOutcome{Method: MethodDHTAssisted, Success: false, Duration: time.Since(start), Err: ctx.Err()}, nil, true
	case <-time.After(dhtAssistedWait):
	}

	if conn, ok := p.transport.ConnectionTo(target); ok {
		return MethodOutcome{Method: MethodDHTAssisted, Success: true, Duration: time.Since(start)}, conn, true
	}
	return MethodOutcome{Method: MethodDHTAssisted, Success: false, Duration: time.Since(start), Err: ErrTimeout}, nil, true
}

func (p *ConnectionPipeline) tryTURNRelay(ctx context.Context, target PeerID, candidates []Multiaddr, caps Capabilities) (MethodOutcome, Connection, bool) {
	if !caps.TURNServer || p.turn == nil {
		return MethodOutcome{}, nil, false
	}
	start := time.Now()
	conn, err := p.turn.EstablishRelay(ctx, target)
	elapsed := time.Since(start)
	if err == nil {
		return MethodOutcome{Method: MethodTURNRelay, Success: true, Duration: elapsed, RelayNode: conn.RemoteAddr(), IsRelay: true}, conn, true
	}
	return MethodOutcome{Method: MethodTURNRelay, Success: false, Duration: elapsed, IsRelay: true, Err: err}, nil, true
}
