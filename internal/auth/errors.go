package auth

import "errors"

var (
	// ErrInvalidPeerID is returned when a peer ID string fails to decode.
	ErrInvalidPeerID = errors.New("invalid peer id")

	// ErrPeerNotFound is returned when an operation targets a peer that
	// is not present in the authorized_keys file.
	ErrPeerNotFound = errors.New("peer not found")

	// ErrPeerAlreadyAuthorized is returned by AddPeer when the peer ID
	// already has an entry in the authorized_keys file.
	ErrPeerAlreadyAuthorized = errors.New("peer already authorized")
)
