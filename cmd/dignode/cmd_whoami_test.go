package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dignetwork/dignode/internal/identity"
)

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	keyFile := filepath.Join(dir, "identity.key")
	if _, err := identity.LoadOrCreateIdentity(keyFile); err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}

	cfgPath := filepath.Join(dir, "dignode.yaml")
	contents := `
identity:
  key_file: identity.key
overlay:
  namespace: dig-network-testnet
  listen_addresses:
    - /ip4/0.0.0.0/tcp/0
signaling:
  rendezvous_url: wss://rendezvous.example.invalid/ws
`
	if err := os.WriteFile(cfgPath, []byte(contents), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestDoWhoami_PrintsPeerID(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	var stdout bytes.Buffer
	if err := doWhoami([]string{"--config", cfgPath}, &stdout); err != nil {
		t.Fatalf("doWhoami: %v", err)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		t.Fatal("expected a peer ID, got empty output")
	}
	if !strings.HasPrefix(out, "12D3Koo") && !strings.HasPrefix(out, "Qm") {
		t.Errorf("unexpected peer ID format: %q", out)
	}
}

func TestDoWhoami_MissingConfig(t *testing.T) {
	var stdout bytes.Buffer
	err := doWhoami([]string{"--config", "/nonexistent/dignode.yaml"}, &stdout)
	if err == nil {
		t.Fatal("expected an error for missing config file")
	}
}
