package domain

import "time"

type DeviceID string

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

type DeviceState string

const (
	DeviceOpen   DeviceState = "open"
	DeviceClosed DeviceState = "closed"
)

// VirtualDevice describes an in-process MIDI endpoint bound to a target.
// Devices live only as long as the session that created them.
type VirtualDevice struct {
	ID          DeviceID    `json:"id"`
	DisplayName string      `json:"display_name"`
	Target      Target      `json:"target"`
	Direction   Direction   `json:"direction"`
	State       DeviceState `json:"state"`
	CreatedAt   time.Time   `json:"created_at"`
}

// HardwarePort describes a locally attached MIDI port.
type HardwarePort struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Manufacturer string    `json:"manufacturer"`
	State        PortState `json:"state"`
	Direction    Direction `json:"direction"`
}

type PortState string

const (
	PortConnected    PortState = "connected"
	PortDisconnected PortState = "disconnected"
)
