package domain

import "fmt"

// Transport identifies one of the three bridged transport domains. It doubles
// as the origin tag of a message entering the bridge.
type Transport string

const (
	TransportHardware Transport = "hardware"
	TransportPeer     Transport = "peer"
	TransportNetwork  Transport = "network"
)

// Transports lists every bridged transport in a stable order.
var Transports = []Transport{TransportHardware, TransportPeer, TransportNetwork}

// Edge is a directed forwarding permission between two transports.
type Edge struct {
	From Transport
	To   Transport
}

func (e Edge) String() string {
	return fmt.Sprintf("%s->%s", e.From, e.To)
}

// BridgeConfig holds one switch per ordered transport pair.
type BridgeConfig struct {
	HardwareToPeer    bool `yaml:"usb_to_webrtc" json:"usb_to_webrtc"`
	HardwareToNetwork bool `yaml:"usb_to_rtpmidi" json:"usb_to_rtpmidi"`
	PeerToHardware    bool `yaml:"webrtc_to_usb" json:"webrtc_to_usb"`
	PeerToNetwork     bool `yaml:"webrtc_to_rtpmidi" json:"webrtc_to_rtpmidi"`
	NetworkToHardware bool `yaml:"rtpmidi_to_usb" json:"rtpmidi_to_usb"`
	NetworkToPeer     bool `yaml:"rtpmidi_to_webrtc" json:"rtpmidi_to_webrtc"`
}

// DefaultBridgeConfig enables every edge.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		HardwareToPeer:    true,
		HardwareToNetwork: true,
		PeerToHardware:    true,
		PeerToNetwork:     true,
		NetworkToHardware: true,
		NetworkToPeer:     true,
	}
}

// Allows reports whether messages from one transport may be forwarded to
// another. A transport never forwards to itself.
func (c BridgeConfig) Allows(from, to Transport) bool {
	switch (Edge{From: from, To: to}) {
	case Edge{TransportHardware, TransportPeer}:
		return c.HardwareToPeer
	case Edge{TransportHardware, TransportNetwork}:
		return c.HardwareToNetwork
	case Edge{TransportPeer, TransportHardware}:
		return c.PeerToHardware
	case Edge{TransportPeer, TransportNetwork}:
		return c.PeerToNetwork
	case Edge{TransportNetwork, TransportHardware}:
		return c.NetworkToHardware
	case Edge{TransportNetwork, TransportPeer}:
		return c.NetworkToPeer
	}
	return false
}
