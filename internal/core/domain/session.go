package domain

import "fmt"

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInitiator, RoleResponder:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateOffering     ConnectionState = "offering"
	StateAnswering    ConnectionState = "answering"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Terminal reports whether no further transitions can happen without a new
// Initialize.
func (s ConnectionState) Terminal() bool {
	switch s {
	case StateDisconnected, StateFailed, StateClosed:
		return true
	}
	return false
}

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is the transport-neutral signaling payload.
type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

type SessionID uint64
