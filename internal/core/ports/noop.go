package ports

import (
	"context"

	"midilink/internal/core/domain"
)

// NoopHardware stands in when no hardware MIDI driver is present.
type NoopHardware struct{}

func (NoopHardware) Available() bool                               { return false }
func (NoopHardware) Ports() ([]domain.HardwarePort, error)         { return nil, nil }
func (NoopHardware) Start(context.Context, HardwareHandlers) error { return nil }
func (NoopHardware) Send([]byte, float64) error                    { return domain.ErrTransportClosed }
func (NoopHardware) Close() error                                  { return nil }

// NoopNetwork stands in when network MIDI is disabled.
type NoopNetwork struct{}

func (NoopNetwork) Available() bool { return false }
func (NoopNetwork) Connect(context.Context, NetworkOptions, NetworkHandlers) error {
	return nil
}
func (NoopNetwork) Send([]byte) error { return domain.ErrTransportClosed }
func (NoopNetwork) Peers() []string   { return nil }
func (NoopNetwork) Close() error      { return nil }
