package digcore

import "errors"

// Fixed error kinds per spec §7. Callers should match with errors.Is;
// wrapping with fmt.Errorf("...: %w", err) preserves the chain.
var (
	ErrTimeout               = errors.New("digcore: operation timed out")
	ErrAddressUnreachable    = errors.New("digcore: address unreachable")
	ErrCapabilityMissing     = errors.New("digcore: required capability missing")
	ErrNoAvailablePorts      = errors.New("digcore: no available ports in range")
	ErrPolicyViolation       = errors.New("digcore: privacy policy violation")
	ErrNonMember             = errors.New("digcore: peer is not an overlay member")
	ErrSignalingDisconnected = errors.New("digcore: signaling channel disconnected")
	ErrAllMethodsFailed      = errors.New("digcore: all connection strategies failed")
)
