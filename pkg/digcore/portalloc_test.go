package digcore

import (
	"errors"
	"net"
	"strconv"
	"testing"
)

func TestPortAllocator_ReservePreferredWhenFree(t *testing.T) {
	a := NewPortAllocator(20000, 20010)
	alloc, err := a.Reserve(20005, "libp2p_main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc.Port != 20005 {
		t.Fatalf("expected preferred port 20005, got %d", alloc.Port)
	}
}

// TestPortAllocator_S5_PortConflict occupies the preferred port with a
// real listener, then checks reserve() picks the next free port in
// range and that two purposes never collide (spec scenario S5).
func TestPortAllocator_S5_PortConflict(t *testing.T) {
	ln, err := net.Listen("tcp", "0.0.0.0:20082")
	if err != nil {
		t.Skipf("could not bind test port: %v", err)
	}
	defer ln.Close()

	a := NewPortAllocator(20080, 20090)
	alloc1, err := a.Reserve(20082, "libp2p_main")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc1.Port == 20082 {
		t.Fatalf("expected allocator to skip occupied preferred port")
	}

	alloc2, err := a.Reserve(alloc1.Port+1, "libp2p_websocket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if alloc2.Port == alloc1.Port {
		t.Fatalf("two purposes must not share a port")
	}
}

func TestPortAllocator_NoAvailablePorts(t *testing.T) {
	var listeners []net.Listener
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()
	for p := 20100; p <= 20102; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(p)))
		if err != nil {
			t.Skipf("could not bind test range: %v", err)
		}
		listeners = append(listeners, ln)
	}

	a := NewPortAllocator(20100, 20102)
	_, err := a.Reserve(20100, "x")
	if !errors.Is(err, ErrNoAvailablePorts) {
		t.Fatalf("expected ErrNoAvailablePorts, got %v", err)
	}
}

func TestPortAllocator_ReleaseFreesPort(t *testing.T) {
	a := NewPortAllocator(20200, 20201)
	alloc, err := a.Reserve(20200, "http")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.Release("http")
	if len(a.Allocations()) != 0 {
		t.Fatalf("expected no allocations after release")
	}

	alloc2, err := a.Reserve(alloc.Port, "turn")
	if err != nil {
		t.Fatalf("expected released port reusable: %v", err)
	}
	if alloc2.Port != alloc.Port {
		t.Fatalf("expected reuse of released port")
	}
}
