package main

import "testing"

func TestDHTProtocolPrefix(t *testing.T) {
	got := dhtProtocolPrefix("dig-network-mainnet-v1")
	want := "/dig-network-mainnet-v1"
	if string(got) != want {
		t.Errorf("dhtProtocolPrefix() = %q, want %q", got, want)
	}
}
