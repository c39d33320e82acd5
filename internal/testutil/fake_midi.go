package testutil

import (
	"context"
	"sync"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"
)

// Sent is one payload handed to a fake transport.
type Sent struct {
	Payload   []byte
	Timestamp float64
}

// FakeHardware is an in-memory hardware MIDI transport.
type FakeHardware struct {
	Unavailable bool
	StartErr    error
	SendErr     error
	PortList    []domain.HardwarePort

	mu       sync.Mutex
	handlers ports.HardwareHandlers
	sent     []Sent
	closed   bool
}

func (h *FakeHardware) Available() bool { return !h.Unavailable }

func (h *FakeHardware) Ports() ([]domain.HardwarePort, error) {
	return append([]domain.HardwarePort(nil), h.PortList...), nil
}

func (h *FakeHardware) Start(_ context.Context, handlers ports.HardwareHandlers) error {
	if h.StartErr != nil {
		return h.StartErr
	}
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
	return nil
}

func (h *FakeHardware) Send(payload []byte, timestamp float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendErr != nil {
		return h.SendErr
	}
	h.sent = append(h.sent, Sent{Payload: append([]byte(nil), payload...), Timestamp: timestamp})
	return nil
}

func (h *FakeHardware) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Emit simulates a message arriving on a hardware input port.
func (h *FakeHardware) Emit(port domain.HardwarePort, payload []byte) {
	h.mu.Lock()
	handlers := h.handlers
	h.mu.Unlock()
	if handlers.OnMessage != nil {
		handlers.OnMessage(port, payload, 0)
	}
}

// Plug simulates a port appearing or disappearing.
func (h *FakeHardware) Plug(port domain.HardwarePort) {
	h.mu.Lock()
	handlers := h.handlers
	h.mu.Unlock()
	if handlers.OnPort != nil {
		handlers.OnPort(port)
	}
}

func (h *FakeHardware) Sent() []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Sent(nil), h.sent...)
}

func (h *FakeHardware) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// FakeNetwork is an in-memory network MIDI session.
type FakeNetwork struct {
	Unavailable bool
	ConnectErr  error
	SendErr     error

	mu       sync.Mutex
	opts     ports.NetworkOptions
	handlers ports.NetworkHandlers
	peers    []string
	sent     [][]byte
	closed   bool
}

func (n *FakeNetwork) Available() bool { return !n.Unavailable }

func (n *FakeNetwork) Connect(_ context.Context, opts ports.NetworkOptions, handlers ports.NetworkHandlers) error {
	if n.ConnectErr != nil {
		return n.ConnectErr
	}
	n.mu.Lock()
	n.opts = opts
	n.handlers = handlers
	n.mu.Unlock()
	return nil
}

func (n *FakeNetwork) Send(payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.SendErr != nil {
		return n.SendErr
	}
	n.sent = append(n.sent, append([]byte(nil), payload...))
	return nil
}

func (n *FakeNetwork) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.peers...)
}

func (n *FakeNetwork) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	return nil
}

// Options returns what Connect was called with.
func (n *FakeNetwork) Options() ports.NetworkOptions {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opts
}

// Emit simulates a message from a network participant.
func (n *FakeNetwork) Emit(payload []byte) {
	n.mu.Lock()
	handlers := n.handlers
	n.mu.Unlock()
	if handlers.OnMessage != nil {
		handlers.OnMessage(payload, 0)
	}
}

// Join simulates a participant joining the session.
func (n *FakeNetwork) Join(name string) {
	n.mu.Lock()
	n.peers = append(n.peers, name)
	handlers := n.handlers
	n.mu.Unlock()
	if handlers.OnPeerJoined != nil {
		handlers.OnPeerJoined(name)
	}
}

func (n *FakeNetwork) Sent() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.sent...)
}
