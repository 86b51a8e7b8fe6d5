package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dignetwork/dignode/internal/validate"
)

// checkConfigFilePermissions rejects a config file with overly permissive
// permissions. Config files may contain sensitive paths and network
// topology. Returns an error whenever any group or other permission bit
// is set.
func checkConfigFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return nil // file access errors are handled by the caller
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("config file %s has overly permissive mode %04o; expected 0600 — fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// rawConfig mirrors Config but carries duration fields as strings, the
// way YAML naturally spells them ("30s", "5m"), before ParseDuration
// turns them into time.Duration.
type rawConfig struct {
	Version   int            `yaml:"version,omitempty"`
	Identity  IdentityConfig `yaml:"identity"`
	Overlay   OverlayConfig  `yaml:"overlay"`
	Ports     PortConfig     `yaml:"ports"`
	Relay     struct {
		TURNServers   []string `yaml:"turn_servers"`
		TURNUsername  string   `yaml:"turn_username,omitempty"`
		TURNPassword  string   `yaml:"turn_password,omitempty"`
		TURNRealm     string   `yaml:"turn_realm,omitempty"`
		CircuitRelays []string `yaml:"circuit_relays,omitempty"`
		DialTimeout   string   `yaml:"dial_timeout,omitempty"`
	} `yaml:"relay"`
	Signaling SignalingConfig `yaml:"signaling"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// Load reads and parses a dignode config file. An omitted
// relay.dial_timeout defaults to 10s; a value without a unit is rejected.
func Load(path string) (*Config, error) {
	if err := checkConfigFilePermissions(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	version := raw.Version
	if version == 0 {
		version = 1
	}
	if version > CurrentConfigVersion {
		return nil, fmt.Errorf("%w: version %d is newer than supported version %d; please upgrade dignode", ErrConfigVersionTooNew, version, CurrentConfigVersion)
	}

	dialTimeout := 10 * time.Second
	if raw.Relay.DialTimeout != "" {
		dialTimeout, err = time.ParseDuration(raw.Relay.DialTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid relay.dial_timeout: %w", err)
		}
	}

	cfg := &Config{
		Version:   version,
		Identity:  raw.Identity,
		Overlay:   raw.Overlay,
		Ports:     raw.Ports,
		Signaling: raw.Signaling,
		Security:  raw.Security,
		Telemetry: raw.Telemetry,
		Relay: RelayConfig{
			TURNServers:   raw.Relay.TURNServers,
			TURNUsername:  raw.Relay.TURNUsername,
			TURNPassword:  raw.Relay.TURNPassword,
			TURNRealm:     raw.Relay.TURNRealm,
			CircuitRelays: raw.Relay.CircuitRelays,
			DialTimeout:   dialTimeout,
		},
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero-valued fields the engine requires to have a
// sane value even when the config file omits them.
func applyDefaults(cfg *Config) {
	if cfg.Overlay.Namespace == "" {
		cfg.Overlay.Namespace = "dig-network-mainnet-v1"
	}
	if cfg.Overlay.Environment == "" {
		cfg.Overlay.Environment = "production"
	}
	if cfg.Ports.RangeStart == 0 {
		cfg.Ports.RangeStart = 8080
	}
	if cfg.Ports.RangeEnd == 0 {
		cfg.Ports.RangeEnd = 8090
	}
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.ListenAddress == "" {
		cfg.Telemetry.Metrics.ListenAddress = "127.0.0.1:9091"
	}
}

// Validate checks that a loaded Config has every field the engine
// needs to start.
func Validate(cfg *Config) error {
	if cfg.Identity.KeyFile == "" {
		return fmt.Errorf("identity.key_file is required")
	}
	if len(cfg.Overlay.ListenAddresses) == 0 {
		return fmt.Errorf("overlay.listen_addresses must contain at least one address")
	}
	if err := validate.NetworkName(cfg.Overlay.Namespace); err != nil {
		return fmt.Errorf("overlay.namespace: %w", err)
	}
	if cfg.Ports.RangeStart <= 0 || cfg.Ports.RangeEnd <= cfg.Ports.RangeStart {
		return fmt.Errorf("ports.range_start/range_end must describe a non-empty range")
	}
	for purpose := range cfg.Ports.Preferred {
		if err := validate.ServiceName(purpose); err != nil {
			return fmt.Errorf("ports.preferred: purpose %q: %w", purpose, err)
		}
	}
	if cfg.Signaling.RendezvousURL == "" {
		return fmt.Errorf("signaling.rendezvous_url is required")
	}
	if cfg.Security.EnableConnectionGating && cfg.Security.AuthorizedKeysFile == "" {
		return fmt.Errorf("security.authorized_keys_file is required when connection gating is enabled")
	}
	return nil
}

// FindConfigFile searches for a dignode config file in standard locations.
// Search order: explicitPath (if given), ./dignode.yaml,
// ~/.config/dignode/config.yaml, /etc/dignode/config.yaml
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicitPath)
		}
		return explicitPath, nil
	}

	searchPaths := []string{
		"dignode.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "dignode", "config.yaml"))
	}

	searchPaths = append(searchPaths, filepath.Join("/etc", "dignode", "config.yaml"))

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w; searched:\n  %s\n\nRun with --config <path>, or create one of these", ErrConfigNotFound, strings.Join(searchPaths, "\n  "))
}

// ResolveConfigPaths resolves relative file paths in the config to be
// relative to the config file's directory, so configs in
// ~/.config/dignode/ can reference key files and authorized_keys using
// relative paths.
func ResolveConfigPaths(cfg *Config, configDir string) {
	if cfg.Identity.KeyFile != "" && !filepath.IsAbs(cfg.Identity.KeyFile) {
		cfg.Identity.KeyFile = filepath.Join(configDir, cfg.Identity.KeyFile)
	}
	if cfg.Security.AuthorizedKeysFile != "" && !filepath.IsAbs(cfg.Security.AuthorizedKeysFile) {
		cfg.Security.AuthorizedKeysFile = filepath.Join(configDir, cfg.Security.AuthorizedKeysFile)
	}
}

// DefaultConfigDir returns the default dignode config directory
// (~/.config/dignode).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dignode"), nil
}
