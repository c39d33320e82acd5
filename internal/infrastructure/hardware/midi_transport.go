// Package hardware exposes locally attached MIDI ports through gomidi
// drivers, with polling hot-plug detection.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"

	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"
)

// scanTimeout bounds a port enumeration; some platform MIDI services hang.
const scanTimeout = 3 * time.Second

type Config struct {
	PollInterval time.Duration
	// PortFilter keeps only ports whose name contains it (case-insensitive).
	PortFilter string
}

type inPort struct {
	port drivers.In
	info domain.HardwarePort
	stop func()
}

type outPort struct {
	port drivers.Out
	info domain.HardwarePort
}

// MIDITransport opens every matching input and output of a driver. Inbound
// messages from all inputs are reported; outbound messages go to all outputs.
type MIDITransport struct {
	driver drivers.Driver
	config Config
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	ins      map[string]*inPort
	outs     map[string]*outPort
	handlers ports.HardwareHandlers
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// NewMIDITransport wraps driver. A nil driver yields an unavailable transport.
func NewMIDITransport(driver drivers.Driver, config Config, logger *zap.SugaredLogger) *MIDITransport {
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	return &MIDITransport{
		driver: driver,
		config: config,
		logger: logger,
		ins:    make(map[string]*inPort),
		outs:   make(map[string]*outPort),
	}
}

func (t *MIDITransport) Available() bool {
	return t.driver != nil
}

// Ports lists the ports currently visible to the driver that pass the
// filter, whether or not they are open yet.
func (t *MIDITransport) Ports() ([]domain.HardwarePort, error) {
	if t.driver == nil {
		return nil, domain.ErrTransportClosed
	}
	ins, outs, err := t.enumerate()
	if err != nil {
		return nil, err
	}

	result := make([]domain.HardwarePort, 0, len(ins)+len(outs))
	for _, in := range ins {
		if t.matches(in.String()) {
			result = append(result, portInfo(in, domain.DirectionInput, domain.PortConnected))
		}
	}
	for _, out := range outs {
		if t.matches(out.String()) {
			result = append(result, portInfo(out, domain.DirectionOutput, domain.PortConnected))
		}
	}
	return result, nil
}

// Start opens the current ports and keeps rescanning until ctx ends or the
// transport is closed.
func (t *MIDITransport) Start(ctx context.Context, handlers ports.HardwareHandlers) error {
	if t.driver == nil {
		return domain.ErrTransportClosed
	}

	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("hardware transport already started")
	}
	t.handlers = handlers
	ctx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	if err := t.scan(); err != nil {
		return err
	}

	t.wg.Add(1)
	go t.run(ctx)

	t.logger.Infow("hardware MIDI started",
		"driver", t.driver.String(),
		"poll_interval", t.config.PollInterval,
		"port_filter", t.config.PortFilter,
	)
	return nil
}

func (t *MIDITransport) run(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.scan(); err != nil {
				t.logger.Debugw("hardware port scan failed", "error", err)
			}
		}
	}
}

// Send writes payload to every open output. With no outputs the message is
// reported as not deliverable rather than failed.
func (t *MIDITransport) Send(payload []byte, _ float64) error {
	t.mu.RLock()
	if t.closed {
		t.mu.RUnlock()
		return domain.ErrTransportClosed
	}
	outs := make([]*outPort, 0, len(t.outs))
	for _, o := range t.outs {
		outs = append(outs, o)
	}
	t.mu.RUnlock()

	if len(outs) == 0 {
		return domain.ErrNotConnected
	}

	var errs []error
	for _, o := range outs {
		if err := o.port.Send(payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (t *MIDITransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	t.mu.Lock()
	for name, in := range t.ins {
		t.closeIn(in)
		delete(t.ins, name)
	}
	for name, out := range t.outs {
		if err := out.port.Close(); err != nil {
			t.logger.Debugw("closing output port", "port", name, "error", err)
		}
		delete(t.outs, name)
	}
	t.mu.Unlock()

	if t.driver != nil {
		return t.driver.Close()
	}
	return nil
}

// scan reconciles open ports with what the driver reports.
func (t *MIDITransport) scan() error {
	ins, outs, err := t.enumerate()
	if err != nil {
		return err
	}

	var changed []domain.HardwarePort

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	handlers := t.handlers

	seenIn := make(map[string]bool)
	for _, in := range ins {
		name := in.String()
		if !t.matches(name) {
			continue
		}
		seenIn[name] = true
		if _, ok := t.ins[name]; ok {
			continue
		}
		p, err := t.openIn(in, handlers)
		if err != nil {
			t.logger.Warnw("cannot open MIDI input", "port", name, "error", err)
			continue
		}
		t.ins[name] = p
		changed = append(changed, p.info)
	}
	for name, p := range t.ins {
		if !seenIn[name] {
			t.closeIn(p)
			delete(t.ins, name)
			p.info.State = domain.PortDisconnected
			changed = append(changed, p.info)
		}
	}

	seenOut := make(map[string]bool)
	for _, out := range outs {
		name := out.String()
		if !t.matches(name) {
			continue
		}
		seenOut[name] = true
		if _, ok := t.outs[name]; ok {
			continue
		}
		if err := out.Open(); err != nil {
			t.logger.Warnw("cannot open MIDI output", "port", name, "error", err)
			continue
		}
		p := &outPort{port: out, info: portInfo(out, domain.DirectionOutput, domain.PortConnected)}
		t.outs[name] = p
		changed = append(changed, p.info)
	}
	for name, p := range t.outs {
		if !seenOut[name] {
			_ = p.port.Close()
			delete(t.outs, name)
			p.info.State = domain.PortDisconnected
			changed = append(changed, p.info)
		}
	}
	t.mu.Unlock()

	for _, port := range changed {
		t.logger.Infow("hardware port changed",
			"port", port.Name,
			"direction", port.Direction,
			"state", port.State,
		)
		if handlers.OnPort != nil {
			handlers.OnPort(port)
		}
	}
	return nil
}

func (t *MIDITransport) openIn(in drivers.In, handlers ports.HardwareHandlers) (*inPort, error) {
	if !in.IsOpen() {
		if err := in.Open(); err != nil {
			return nil, err
		}
	}
	info := portInfo(in, domain.DirectionInput, domain.PortConnected)
	stop, err := in.Listen(func(msg []byte, ms int32) {
		if len(msg) == 0 || handlers.OnMessage == nil {
			return
		}
		handlers.OnMessage(info, append([]byte(nil), msg...), float64(ms))
	}, drivers.ListenConfig{
		SysEx: true,
	})
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	return &inPort{port: in, info: info, stop: stop}, nil
}

func (t *MIDITransport) closeIn(p *inPort) {
	if p.stop != nil {
		p.stop()
	}
	if err := p.port.Close(); err != nil {
		t.logger.Debugw("closing input port", "port", p.info.Name, "error", err)
	}
}

// enumerate asks the driver for its ports without letting a hung platform
// service block the caller forever.
func (t *MIDITransport) enumerate() ([]drivers.In, []drivers.Out, error) {
	type result struct {
		ins  []drivers.In
		outs []drivers.Out
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		ins, err := t.driver.Ins()
		if err != nil {
			ch <- result{err: err}
			return
		}
		outs, err := t.driver.Outs()
		ch <- result{ins: ins, outs: outs, err: err}
	}()

	select {
	case r := <-ch:
		return r.ins, r.outs, r.err
	case <-time.After(scanTimeout):
		return nil, nil, fmt.Errorf("MIDI port enumeration timed out after %s", scanTimeout)
	}
}

func (t *MIDITransport) matches(name string) bool {
	if t.config.PortFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(t.config.PortFilter))
}

func portInfo(p drivers.Port, direction domain.Direction, state domain.PortState) domain.HardwarePort {
	return domain.HardwarePort{
		ID:        fmt.Sprintf("%s:%d", direction, p.Number()),
		Name:      p.String(),
		State:     state,
		Direction: direction,
	}
}
