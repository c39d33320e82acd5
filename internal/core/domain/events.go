package domain

import "time"

type EventKind string

const (
	EventState       EventKind = "state"
	EventMessage     EventKind = "message"
	EventDiscovery   EventKind = "discovery"
	EventPort        EventKind = "port"
	EventNetworkPeer EventKind = "network_peer"
)

// Event is a notification published to the host subscriber. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Session SessionID       `json:"session,omitempty"`
	At      time.Time       `json:"at"`
	State   ConnectionState `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`

	Target   Target         `json:"target,omitempty"`
	Envelope *Envelope      `json:"envelope,omitempty"`
	Device   *VirtualDevice `json:"device,omitempty"`

	Port *HardwarePort `json:"port,omitempty"`

	NetworkPeer string `json:"network_peer,omitempty"`
	Joined      bool   `json:"joined,omitempty"`
}
