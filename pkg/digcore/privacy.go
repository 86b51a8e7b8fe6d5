package digcore

import "fmt"

// FallbackKind names the degraded mode a non-mandatory privacy feature
// falls back to when its availability predicate is false. All features
// in the fixed set (§4.2) are declared mandatory=true in the sense that
// every one is evaluated at startup, but only a subset is hard-required
// — see featureDefs' hardRequired field.
type FallbackKind string

const (
	FallbackNone                 FallbackKind = "none"
	FallbackBasicAuthentication   FallbackKind = "basic_authentication"
	FallbackDirectEncrypted       FallbackKind = "direct_encrypted"
	FallbackBasicDelays           FallbackKind = "basic_delays"
	FallbackPaddingOnly           FallbackKind = "padding_only"
	FallbackMinimalMetadata       FallbackKind = "minimal_metadata"
	FallbackBootstrapOnly         FallbackKind = "bootstrap_only"
)

// featureDef is the fixed-per-build definition of one privacy feature:
// its fallback when degraded, whether a failed predicate is fatal, and
// the predicate itself.
type featureDef struct {
	id           string
	displayName  string
	fallback     FallbackKind
	hardRequired bool
	predicate    func(Capabilities) bool
}

// featureSet is the fixed privacy feature set from spec §4.2. It is
// built fresh on each Enforce call so the zero_knowledge_proofs
// predicate can close over the policy's hash-primitive availability
// without package-level mutable state.
func featureSet(hashPrimitiveAvailable bool) []featureDef {
	return []featureDef{
		{id: "noise_encryption", displayName: "Noise protocol encryption", fallback: FallbackNone, hardRequired: true,
			predicate: func(Capabilities) bool { return true }},
		{id: "crypto_ipv6", displayName: "Cryptographic IPv6 identity", fallback: FallbackNone, hardRequired: true,
			predicate: func(Capabilities) bool { return true }},
		{id: "e2e_encryption", displayName: "End-to-end encryption", fallback: FallbackNone, hardRequired: true,
			predicate: func(c Capabilities) bool { return c.E2EEncryption }},
		{id: "zero_knowledge_proofs", displayName: "Zero-knowledge proofs", fallback: FallbackBasicAuthentication, hardRequired: false,
			predicate: func(Capabilities) bool { return hashPrimitiveAvailable }},
		{id: "onion_routing", displayName: "Onion routing", fallback: FallbackDirectEncrypted, hardRequired: false,
			predicate: func(c Capabilities) bool { return countTransportCapabilities(c) >= 3 }},
		{id: "timing_obfuscation", displayName: "Timing obfuscation", fallback: FallbackBasicDelays, hardRequired: false,
			predicate: func(Capabilities) bool { return true }},
		{id: "traffic_mixing", displayName: "Traffic mixing", fallback: FallbackPaddingOnly, hardRequired: false,
			predicate: func(Capabilities) bool { return true }},
		{id: "metadata_scrambling", displayName: "Metadata scrambling", fallback: FallbackMinimalMetadata, hardRequired: false,
			predicate: func(Capabilities) bool { return true }},
		{id: "distributed_discovery", displayName: "Distributed discovery", fallback: FallbackBootstrapOnly, hardRequired: false,
			predicate: func(c Capabilities) bool { return c.DHT || c.Gossip }},
	}
}

// countTransportCapabilities counts how many transport-layer
// capability flags are set, for onion_routing's availability threshold.
func countTransportCapabilities(c Capabilities) int {
	n := 0
	for _, set := range []bool{c.UPnP, c.AutoNAT, c.WebRTC, c.WebSockets, c.CircuitRelay, c.TURNServer} {
		if set {
			n++
		}
	}
	return n
}

// FeatureResult is the per-feature outcome inside a PolicyReport.
type FeatureResult struct {
	ID           string
	DisplayName  string
	Enabled      bool
	HardRequired bool
	Fallback     FallbackKind
	Degraded     bool
}

// PolicyReport is the outcome of PrivacyPolicy.Enforce.
type PolicyReport struct {
	Total            int
	Enabled          int
	Degraded         int
	CriticalFailures int
	PerFeature       []FeatureResult
	Compliant        bool
	Level            PrivacyLevel
}

// PrivacyPolicy evaluates the fixed privacy feature set against a
// node's declared Capabilities once at startup and never mutates
// afterward (Design Note "ambient global state").
type PrivacyPolicy struct {
	hashPrimitiveAvailable bool
}

// NewPrivacyPolicy constructs a policy. hashPrimitiveAvailable reflects
// whether the process has a cryptographic hash primitive wired in,
// gating the zero_knowledge_proofs feature.
func NewPrivacyPolicy(hashPrimitiveAvailable bool) *PrivacyPolicy {
	return &PrivacyPolicy{hashPrimitiveAvailable: hashPrimitiveAvailable}
}

// Enforce evaluates every feature against caps and returns a
// PolicyReport. It fails with ErrPolicyViolation iff any hard-required
// feature's predicate is false.
func (p *PrivacyPolicy) Enforce(caps Capabilities) (PolicyReport, error) {
	defs := featureSet(p.hashPrimitiveAvailable)
	report := PolicyReport{Total: len(defs)}

	for _, def := range defs {
		ok := def.predicate(caps)
		fr := FeatureResult{
			ID:           def.id,
			DisplayName:  def.displayName,
			Enabled:      ok,
			HardRequired: def.hardRequired,
			Fallback:     def.fallback,
		}
		if ok {
			report.Enabled++
		} else {
			fr.Degraded = def.fallback != FallbackNone
			if fr.Degraded {
				report.Degraded++
			}
			if def.hardRequired {
				report.CriticalFailures++
			}
		}
		report.PerFeature = append(report.PerFeature, fr)
	}

	pct := 0
	if report.Total > 0 {
		pct = (report.Enabled * 100) / report.Total
	}
	switch {
	case pct >= 90:
		report.Level = PrivacyMaximum
	case pct >= 75:
		report.Level = PrivacyHigh
	case pct >= 50:
		report.Level = PrivacyMedium
	case pct >= 25:
		report.Level = PrivacyLow
	default:
		report.Level = PrivacyInsufficient
	}

	report.Compliant = report.CriticalFailures == 0
	if !report.Compliant {
		var failed []string
		for _, fr := range report.PerFeature {
			if fr.HardRequired && !fr.Enabled {
				failed = append(failed, fr.ID)
			}
		}
		return report, fmt.Errorf("privacy: mandatory features failed %v: %w", failed, ErrPolicyViolation)
	}
	return report, nil
}
