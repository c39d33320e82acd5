package services

import (
	"fmt"
	"sync"
	"time"

	"midilink/internal/core/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutputSender transmits a payload on behalf of a virtual output.
type OutputSender func(payload []byte, timestamp float64, target domain.Target) bool

// DiscoveryFunc is told about every newly created virtual input.
type DiscoveryFunc func(target domain.Target, device domain.VirtualDevice)

// VirtualInput receives messages that arrived from the peer for its target.
type VirtualInput struct {
	mu     sync.RWMutex
	device domain.VirtualDevice
}

// Device returns a copy of the device description.
func (v *VirtualInput) Device() domain.VirtualDevice {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.device
}

func (v *VirtualInput) close() {
	v.mu.Lock()
	v.device.State = domain.DeviceClosed
	v.mu.Unlock()
}

// VirtualOutput sends to the peer tagged with its bound target.
type VirtualOutput struct {
	mu     sync.RWMutex
	device domain.VirtualDevice
	send   OutputSender
}

func (v *VirtualOutput) Device() domain.VirtualDevice {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.device
}

// Send forwards payload through the connection manager. It returns false once
// the output has been cleared or when the send fails.
func (v *VirtualOutput) Send(payload []byte, timestamp float64) bool {
	v.mu.RLock()
	closed := v.device.State == domain.DeviceClosed
	target := v.device.Target
	v.mu.RUnlock()
	if closed {
		return false
	}
	return v.send(payload, timestamp, target)
}

func (v *VirtualOutput) close() {
	v.mu.Lock()
	v.device.State = domain.DeviceClosed
	v.mu.Unlock()
}

// DeviceRegistry owns the connection-scoped virtual devices, at most one
// input and one output per target.
type DeviceRegistry struct {
	mu          sync.RWMutex
	inputs      map[domain.Target]*VirtualInput
	inputOrder  []domain.Target
	outputs     map[domain.Target]*VirtualOutput
	outputOrder []domain.Target

	sender      OutputSender
	onDiscovery DiscoveryFunc
	logger      *zap.SugaredLogger
}

// NewDeviceRegistry creates a registry. onDiscovery may be nil.
func NewDeviceRegistry(sender OutputSender, onDiscovery DiscoveryFunc, logger *zap.SugaredLogger) *DeviceRegistry {
	return &DeviceRegistry{
		inputs:      make(map[domain.Target]*VirtualInput),
		outputs:     make(map[domain.Target]*VirtualOutput),
		sender:      sender,
		onDiscovery: onDiscovery,
		logger:      logger,
	}
}

// CreateVirtualInput returns the input for target, creating it on first use.
// created is true only for the call that created it, and only that call fires
// the discovery notification.
func (r *DeviceRegistry) CreateVirtualInput(target domain.Target) (input *VirtualInput, created bool) {
	target = target.Normalize()

	r.mu.Lock()
	if existing, ok := r.inputs[target]; ok {
		r.mu.Unlock()
		return existing, false
	}
	input = &VirtualInput{device: newDevice(target, domain.DirectionInput)}
	r.inputs[target] = input
	r.inputOrder = append(r.inputOrder, target)
	r.mu.Unlock()

	r.logger.Infow("virtual input created",
		"target", target,
		"device_id", input.device.ID,
	)
	if r.onDiscovery != nil {
		r.onDiscovery(target, input.Device())
	}
	return input, true
}

// CreateVirtualOutput returns the output for target, creating it if needed.
func (r *DeviceRegistry) CreateVirtualOutput(target domain.Target) *VirtualOutput {
	target = target.Normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.outputs[target]; ok {
		return existing
	}
	output := &VirtualOutput{
		device: newDevice(target, domain.DirectionOutput),
		send:   r.sender,
	}
	r.outputs[target] = output
	r.outputOrder = append(r.outputOrder, target)
	return output
}

// Input looks up the input bound to target.
func (r *DeviceRegistry) Input(target domain.Target) (*VirtualInput, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.inputs[target.Normalize()]
	return in, ok
}

// Output looks up the output bound to target.
func (r *DeviceRegistry) Output(target domain.Target) (*VirtualOutput, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out, ok := r.outputs[target.Normalize()]
	return out, ok
}

// VirtualInputs returns a snapshot in insertion order.
func (r *DeviceRegistry) VirtualInputs() []domain.VirtualDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]domain.VirtualDevice, 0, len(r.inputOrder))
	for _, t := range r.inputOrder {
		devices = append(devices, r.inputs[t].Device())
	}
	return devices
}

// VirtualOutputs returns a snapshot in insertion order.
func (r *DeviceRegistry) VirtualOutputs() []domain.VirtualDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]domain.VirtualDevice, 0, len(r.outputOrder))
	for _, t := range r.outputOrder {
		devices = append(devices, r.outputs[t].Device())
	}
	return devices
}

// InputTargets lists the targets that have an input, in insertion order.
func (r *DeviceRegistry) InputTargets() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Target(nil), r.inputOrder...)
}

// Clear drops every device in one step and marks them closed so stale
// handles stop sending.
func (r *DeviceRegistry) Clear() {
	r.mu.Lock()
	inputs, outputs := r.inputs, r.outputs
	r.inputs = make(map[domain.Target]*VirtualInput)
	r.outputs = make(map[domain.Target]*VirtualOutput)
	r.inputOrder = nil
	r.outputOrder = nil
	r.mu.Unlock()

	for _, in := range inputs {
		in.close()
	}
	for _, out := range outputs {
		out.close()
	}
	if len(inputs)+len(outputs) > 0 {
		r.logger.Infow("virtual devices cleared",
			"inputs", len(inputs),
			"outputs", len(outputs),
		)
	}
}

func newDevice(target domain.Target, direction domain.Direction) domain.VirtualDevice {
	return domain.VirtualDevice{
		ID:          domain.DeviceID(uuid.NewString()),
		DisplayName: fmt.Sprintf("midilink %s %s", target, direction),
		Target:      target,
		Direction:   direction,
		State:       domain.DeviceOpen,
		CreatedAt:   time.Now(),
	}
}
