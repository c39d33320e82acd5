package ports

import (
	"context"

	"midilink/internal/core/domain"
)

// LinkHandlers receives events from a PeerLink. Handlers are fixed when the
// link is created and are never reassigned.
type LinkHandlers struct {
	// OnOpen fires once when the data channel becomes ready.
	OnOpen func()
	// OnFrame delivers one inbound frame. The slice is owned by the callee.
	OnFrame func(frame []byte)
	// OnStateChange reports disconnected/failed/closed transitions of the
	// underlying connection.
	OnStateChange func(state domain.ConnectionState, err error)
}

// ChannelTransport creates peer links. It is the only capability the
// connection core strictly requires.
type ChannelTransport interface {
	NewLink(role domain.Role, handlers LinkHandlers) (PeerLink, error)
}

// PeerLink is one peer-to-peer session with its ordered reliable channel.
type PeerLink interface {
	// CreateOffer produces the complete local offer (initiator).
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	// AcceptOffer applies a remote offer and returns the local answer
	// (responder).
	AcceptOffer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error)
	// AcceptAnswer applies the remote answer (initiator).
	AcceptAnswer(ctx context.Context, answer domain.SessionDescription) error
	Send(frame []byte) error
	Close() error
}

// HardwareHandlers receives hardware events.
type HardwareHandlers struct {
	OnMessage func(port domain.HardwarePort, payload []byte, timestamp float64)
	OnPort    func(port domain.HardwarePort)
}

// HardwareTransport is the locally attached MIDI port capability.
type HardwareTransport interface {
	Available() bool
	Ports() ([]domain.HardwarePort, error)
	Start(ctx context.Context, handlers HardwareHandlers) error
	Send(payload []byte, timestamp float64) error
	Close() error
}

// NetworkOptions configures the network MIDI session.
type NetworkOptions struct {
	LocalName   string
	ServiceName string
	Port        int
}

// NetworkHandlers receives network MIDI events.
type NetworkHandlers struct {
	OnMessage    func(payload []byte, timestamp float64)
	OnPeerJoined func(name string)
	OnPeerLeft   func(name string)
}

// NetworkTransport is the LAN real-time MIDI session capability.
type NetworkTransport interface {
	Available() bool
	Connect(ctx context.Context, opts NetworkOptions, handlers NetworkHandlers) error
	Send(payload []byte) error
	Peers() []string
	Close() error
}

// DescriptionCodec serialises session descriptions into the portable text
// the host copies between peers.
type DescriptionCodec interface {
	Encode(desc domain.SessionDescription) (string, error)
	Decode(text string) (domain.SessionDescription, error)
}
