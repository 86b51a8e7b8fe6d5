package localscan

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that no Advertiser goroutine outlives its Close
// call across this package's test suite.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestServiceName(t *testing.T) {
	got := serviceName("dig-network-mainnet-v1")
	want := "_dig-network-mainnet-v1._udp"
	if got != want {
		t.Errorf("serviceName() = %q, want %q", got, want)
	}
}

func TestIsSuitableForMDNS_DirectAddrAllowed(t *testing.T) {
	if !isSuitableForMDNS("/ip4/192.168.1.5/tcp/4001") {
		t.Error("expected plain IPv4/tcp multiaddr to be suitable for mdns")
	}
}

func TestIsSuitableForMDNS_CircuitRejected(t *testing.T) {
	addr := "/ip4/1.2.3.4/tcp/4001/p2p-circuit"
	if isSuitableForMDNS(addr) {
		t.Error("expected circuit-relay multiaddr to be rejected for mdns advertisement")
	}
}

func TestIsSuitableForMDNS_MalformedRejected(t *testing.T) {
	if isSuitableForMDNS("not-a-multiaddr") {
		t.Error("expected malformed multiaddr to be rejected")
	}
}

func TestRandomString_Length(t *testing.T) {
	s := randomString(40)
	if len(s) != 40 {
		t.Errorf("randomString(40) length = %d, want 40", len(s))
	}
}
