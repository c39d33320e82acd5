package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"
	apperrors "midilink/pkg/errors"
	"midilink/pkg/tracing"

	"go.uber.org/zap"
)

// DefaultHandshakeTimeout bounds the time between CreateOffer/HandleOffer and
// the channel becoming ready.
const DefaultHandshakeTimeout = 30 * time.Second

// maxEarlyFrames bounds the frames held for a session whose channel opened
// before its handshake step returned.
const maxEarlyFrames = 1024

// ManagerConfig tunes a ConnectionManager.
type ManagerConfig struct {
	HandshakeTimeout time.Duration
	EventBuffer      int
	Codec            string
	Bridge           domain.BridgeConfig
	Network          ports.NetworkOptions
}

// Dependencies are the capabilities injected into the manager. Channel and
// Signaling are required for peer sessions; Hardware and Network fall back to
// no-op implementations when nil.
type Dependencies struct {
	Channel   ports.ChannelTransport
	Hardware  ports.HardwareTransport
	Network   ports.NetworkTransport
	Signaling ports.DescriptionCodec
	Observer  StatsObserver
	Clock     Clock
	Logger    *zap.SugaredLogger
}

// session is one peer session. Fields are guarded by ConnectionManager.mu.
type session struct {
	id    domain.SessionID
	role  domain.Role
	state domain.ConnectionState
	link  ports.PeerLink

	local  *domain.SessionDescription
	remote *domain.SessionDescription

	// busy is set while a handshake step runs outside the lock
	busy bool
	// earlyOpen records a channel that opened before the handshake step
	// that produced it returned
	earlyOpen bool
	// early holds frames received while earlyOpen, replayed on connect
	early    [][]byte
	deadline *time.Timer

	ready     chan struct{} // closed on connected
	done      chan struct{} // closed on any terminal state
	closeOnce sync.Once
}

func (s *session) finish() {
	s.closeOnce.Do(func() { close(s.done) })
	if s.deadline != nil {
		s.deadline.Stop()
	}
}

// ConnectionManager is the connection core. It owns the single peer session,
// is the only path onto and off the peer channel, and wires the hardware and
// network transports into the bridge.
type ConnectionManager struct {
	mu      sync.Mutex
	session *session
	nextID  uint64
	// current mirrors session.id for callbacks that cannot take mu
	current atomic.Uint64

	config ManagerConfig
	deps   Dependencies

	framer   *Framer
	registry *DeviceRegistry
	bridge   *Bridge
	stats    *StatsCollector
	events   *notifier
	logger   *zap.SugaredLogger

	startOnce sync.Once
}

// NewConnectionManager builds a manager. Statistics live as long as the
// manager; reconnecting the same manager keeps counting.
func NewConnectionManager(config ManagerConfig, deps Dependencies) (*ConnectionManager, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if deps.Hardware == nil {
		deps.Hardware = ports.NoopHardware{}
	}
	if deps.Network == nil {
		deps.Network = ports.NoopNetwork{}
	}
	if deps.Clock == nil {
		deps.Clock = NewClock()
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 256
	}

	framer, err := NewFramer(config.Codec)
	if err != nil {
		return nil, err
	}

	m := &ConnectionManager{
		config: config,
		deps:   deps,
		framer: framer,
		stats:  NewStatsCollector(deps.Observer),
		logger: deps.Logger,
	}
	m.events = newNotifier(deps.Logger)
	m.registry = NewDeviceRegistry(m.SendMIDI, m.publishDiscovery, deps.Logger)
	m.bridge = NewBridge(config.Bridge, m.stats, deps.Logger)
	m.bridge.Attach(domain.TransportPeer, SinkFunc(m.deliverToPeer))
	return m, nil
}

// Start brings up the hardware and network transports. An unavailable
// transport is logged and its bridge edges stay inert; Start itself only
// fails on context cancellation.
func (m *ConnectionManager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		err = m.startTransports(ctx)
	})
	return err
}

func (m *ConnectionManager) startTransports(ctx context.Context) error {
	hw := m.deps.Hardware
	if hw.Available() {
		err := hw.Start(ctx, ports.HardwareHandlers{
			OnMessage: m.handleHardwareMessage,
			OnPort:    m.handleHardwarePort,
		})
		if err != nil {
			m.logger.Warnw("hardware MIDI disabled",
				"error", apperrors.NewTransportUnavailableError(string(domain.TransportHardware), err),
			)
		} else {
			m.bridge.Attach(domain.TransportHardware, SinkFunc(func(env domain.Envelope) error {
				return hw.Send(env.Payload, env.SendTimestamp)
			}))
		}
	} else {
		m.logger.Infow("hardware MIDI unavailable", "error", apperrors.NewTransportUnavailableError(string(domain.TransportHardware), nil))
	}

	nw := m.deps.Network
	if nw.Available() {
		err := nw.Connect(ctx, m.config.Network, ports.NetworkHandlers{
			OnMessage:    m.handleNetworkMessage,
			OnPeerJoined: func(name string) { m.handleNetworkPeer(name, true) },
			OnPeerLeft:   func(name string) { m.handleNetworkPeer(name, false) },
		})
		if err != nil {
			m.logger.Warnw("network MIDI disabled",
				"error", apperrors.NewTransportUnavailableError(string(domain.TransportNetwork), err),
			)
		} else {
			m.bridge.Attach(domain.TransportNetwork, SinkFunc(func(env domain.Envelope) error {
				return nw.Send(env.Payload)
			}))
		}
	} else {
		m.logger.Infow("network MIDI unavailable", "error", apperrors.NewTransportUnavailableError(string(domain.TransportNetwork), nil))
	}

	return ctx.Err()
}

// Shutdown closes the session and releases every transport.
func (m *ConnectionManager) Shutdown() error {
	err := m.Close()
	m.bridge.Detach(domain.TransportHardware)
	m.bridge.Detach(domain.TransportNetwork)
	if hwErr := m.deps.Hardware.Close(); hwErr != nil {
		m.logger.Warnw("closing hardware transport", "error", hwErr)
	}
	if nwErr := m.deps.Network.Close(); nwErr != nil {
		m.logger.Warnw("closing network transport", "error", nwErr)
	}
	return err
}

// Subscribe registers the single notification subscriber.
func (m *ConnectionManager) Subscribe() (*Subscription, error) {
	return m.events.subscribe(m.config.EventBuffer)
}

// Initialize tears down any previous session and creates a fresh one in the
// idle state.
func (m *ConnectionManager) Initialize(ctx context.Context, role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return apperrors.NewSignalingError(err.Error(), nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	if m.deps.Channel == nil || m.deps.Signaling == nil {
		return apperrors.NewSessionSetupError(fmt.Errorf("peer channel capability not configured"))
	}

	m.nextID++
	s := &session{
		id:    domain.SessionID(m.nextID),
		role:  role,
		state: domain.StateIdle,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
	id := s.id
	link, err := m.deps.Channel.NewLink(role, ports.LinkHandlers{
		OnOpen:        func() { m.handleOpen(id) },
		OnFrame:       func(frame []byte) { m.handleFrame(id, frame) },
		OnStateChange: func(state domain.ConnectionState, err error) { m.handleLinkState(id, state, err) },
	})
	if err != nil {
		return apperrors.NewSessionSetupError(err)
	}
	s.link = link
	m.session = s
	m.current.Store(uint64(id))

	m.logger.Infow("peer session initialized",
		"session", id,
		"role", role,
	)
	m.publishStateLocked(s, nil)
	return nil
}

// CreateOffer produces the encoded local offer. Valid only for an idle
// initiator session.
func (m *ConnectionManager) CreateOffer(ctx context.Context) (string, error) {
	m.mu.Lock()
	s, err := m.beginHandshakeLocked(domain.RoleInitiator, domain.StateIdle, "create offer")
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	ctx, span := tracing.TraceSignaling(ctx, "create_offer", uint64(s.id), string(s.role))
	defer span.End()

	desc, err := s.link.CreateOffer(ctx)
	var encoded string
	if err == nil {
		encoded, err = m.deps.Signaling.Encode(desc)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.busy = false

	if err != nil {
		tracing.RecordError(ctx, err)
		return "", apperrors.NewSignalingError("offer could not be created", err)
	}
	if m.session != s || s.state != domain.StateIdle {
		return "", apperrors.NewSignalingError("session closed while creating offer", nil)
	}

	s.local = &desc
	m.transitionLocked(s, domain.StateOffering)
	m.armDeadlineLocked(s)
	if s.earlyOpen {
		m.openLocked(s)
	}
	return encoded, nil
}

// HandleOffer applies a remote offer and returns the encoded answer. Valid
// only for an idle responder session. A malformed offer leaves the session
// untouched.
func (m *ConnectionManager) HandleOffer(ctx context.Context, encoded string) (string, error) {
	offer, err := m.deps.decodeDescription(encoded, domain.SDPOffer)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	s, err := m.beginHandshakeLocked(domain.RoleResponder, domain.StateIdle, "handle offer")
	m.mu.Unlock()
	if err != nil {
		return "", err
	}

	ctx, span := tracing.TraceSignaling(ctx, "handle_offer", uint64(s.id), string(s.role))
	defer span.End()

	answer, err := s.link.AcceptOffer(ctx, offer)
	var out string
	if err == nil {
		out, err = m.deps.Signaling.Encode(answer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s.busy = false

	if err != nil {
		tracing.RecordError(ctx, err)
		return "", apperrors.NewSignalingError("offer could not be applied", err)
	}
	if m.session != s || s.state != domain.StateIdle {
		return "", apperrors.NewSignalingError("session closed while answering", nil)
	}

	s.remote = &offer
	s.local = &answer
	m.transitionLocked(s, domain.StateAnswering)
	m.armDeadlineLocked(s)
	if s.earlyOpen {
		m.openLocked(s)
	}
	return out, nil
}

// HandleAnswer applies the remote answer and waits until the channel is
// ready, the session fails, or ctx ends.
func (m *ConnectionManager) HandleAnswer(ctx context.Context, encoded string) error {
	answer, err := m.deps.decodeDescription(encoded, domain.SDPAnswer)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s, err := m.beginHandshakeLocked(domain.RoleInitiator, domain.StateOffering, "handle answer")
	m.mu.Unlock()
	if err != nil {
		return err
	}

	ctx, span := tracing.TraceSignaling(ctx, "handle_answer", uint64(s.id), string(s.role))
	defer span.End()

	err = s.link.AcceptAnswer(ctx, answer)

	m.mu.Lock()
	s.busy = false
	if err == nil && m.session == s {
		s.remote = &answer
	}
	m.mu.Unlock()

	if err != nil {
		tracing.RecordError(ctx, err)
		return apperrors.NewSignalingError("answer could not be applied", err)
	}

	select {
	case <-s.ready:
		return nil
	case <-s.done:
		err := apperrors.NewConnectionFailureError("session ended before the channel opened", nil)
		tracing.RecordError(ctx, err)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the current session. It is synchronous and idempotent; once it
// returns, no notification for that session is published.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *ConnectionManager) closeLocked() error {
	s := m.session
	if s == nil || s.state == domain.StateClosed {
		return nil
	}

	m.registry.Clear()
	m.transitionLocked(s, domain.StateClosed)
	s.finish()
	m.current.Store(0)

	m.logger.Infow("peer session closed", "session", s.id)
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			m.logger.Warnw("closing peer link", "session", s.id, "error", err)
			return err
		}
	}
	return nil
}

// SendMIDI transmits payload to the peer tagged with target. It returns false
// when there is no connected channel or the send fails. A timestamp of
// domain.Unstamped() is replaced by the manager clock.
func (m *ConnectionManager) SendMIDI(payload []byte, timestamp float64, target domain.Target) bool {
	if domain.IsUnstamped(timestamp) {
		timestamp = m.deps.Clock.Now()
	}
	frame, err := m.framer.Encode(payload, timestamp, target)
	if err != nil {
		m.logger.Warnw("midi message rejected", "target", target, "error", err)
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil || s.state != domain.StateConnected {
		m.logger.Debugw("midi message not sent, peer channel not connected", "target", target)
		return false
	}
	if err := s.link.Send(frame); err != nil {
		m.stats.RecordSendFailure(domain.TransportPeer)
		m.logger.Warnw("peer send failed",
			"session", s.id,
			"target", target,
			"error", apperrors.NewSendFailureError(string(domain.TransportPeer), err),
		)
		return false
	}
	m.stats.RecordSent(domain.TransportPeer, len(payload))
	return true
}

// deliverToPeer is the bridge sink for the peer transport.
func (m *ConnectionManager) deliverToPeer(env domain.Envelope) error {
	frame, err := m.framer.Encode(env.Payload, env.SendTimestamp, env.Target)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil || s.state != domain.StateConnected {
		return domain.ErrNotConnected
	}
	return s.link.Send(frame)
}

// GetVirtualInputs returns the current inputs in creation order.
func (m *ConnectionManager) GetVirtualInputs() []domain.VirtualDevice {
	return m.registry.VirtualInputs()
}

// GetVirtualOutputs returns the current outputs in creation order.
func (m *ConnectionManager) GetVirtualOutputs() []domain.VirtualDevice {
	return m.registry.VirtualOutputs()
}

// VirtualOutput returns the output bound to target, if connected.
func (m *ConnectionManager) VirtualOutput(target domain.Target) (*VirtualOutput, bool) {
	return m.registry.Output(target)
}

// GetStats returns counters plus the current connection state and the
// targets observed on this session.
func (m *ConnectionManager) GetStats() domain.Stats {
	stats := m.stats.Snapshot()
	stats.ConnectionState = m.State()
	stats.ActiveTargets = m.registry.InputTargets()
	return stats
}

// State returns the current connection state; idle before the first session.
func (m *ConnectionManager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.StateIdle
	}
	return m.session.state
}

// LocalDescription returns the encoded local description of the current
// session, if one was produced.
func (m *ConnectionManager) LocalDescription() (string, bool) {
	m.mu.Lock()
	s := m.session
	var desc *domain.SessionDescription
	if s != nil {
		desc = s.local
	}
	m.mu.Unlock()

	if desc == nil {
		return "", false
	}
	encoded, err := m.deps.Signaling.Encode(*desc)
	if err != nil {
		return "", false
	}
	return encoded, true
}

// BridgeConfig returns the active forwarding policy.
func (m *ConnectionManager) BridgeConfig() domain.BridgeConfig {
	return m.bridge.Config()
}

// SetBridgeConfig replaces the forwarding policy. It is rejected while a
// session is live; reconfigure between Close and the next Initialize.
func (m *ConnectionManager) SetBridgeConfig(config domain.BridgeConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s := m.session; s != nil && !s.state.Terminal() {
		return apperrors.NewSessionActiveError("bridge configuration cannot change while a session is active")
	}
	m.bridge.SetConfig(config)
	m.logger.Infow("bridge configuration updated", "config", config)
	return nil
}

// HardwarePorts enumerates the locally attached MIDI ports.
func (m *ConnectionManager) HardwarePorts() ([]domain.HardwarePort, error) {
	if !m.deps.Hardware.Available() {
		return nil, apperrors.NewTransportUnavailableError(string(domain.TransportHardware), nil)
	}
	return m.deps.Hardware.Ports()
}

// NetworkPeers lists the network MIDI participants currently in session.
func (m *ConnectionManager) NetworkPeers() []string {
	return m.deps.Network.Peers()
}

func (m *ConnectionManager) beginHandshakeLocked(role domain.Role, want domain.ConnectionState, op string) (*session, error) {
	s := m.session
	if s == nil || s.state == domain.StateClosed {
		return nil, apperrors.NewSignalingError(op+": no active session", domain.ErrNoSession)
	}
	if s.role != role {
		return nil, apperrors.NewSignalingError(fmt.Sprintf("%s: not valid for %s", op, s.role), nil)
	}
	if s.state != want || s.busy {
		return nil, apperrors.NewSignalingError(fmt.Sprintf("%s: not valid in state %s", op, s.state), nil)
	}
	s.busy = true
	return s, nil
}

func (d Dependencies) decodeDescription(encoded string, want domain.SDPType) (domain.SessionDescription, error) {
	if d.Signaling == nil {
		return domain.SessionDescription{}, apperrors.NewSessionSetupError(fmt.Errorf("signaling codec not configured"))
	}
	desc, err := d.Signaling.Decode(encoded)
	if err != nil {
		return domain.SessionDescription{}, apperrors.NewSignalingError("malformed session description", err)
	}
	if desc.Type != want {
		return domain.SessionDescription{}, apperrors.NewSignalingError(
			fmt.Sprintf("expected %s description, got %s", want, desc.Type), nil)
	}
	return desc, nil
}

func (m *ConnectionManager) armDeadlineLocked(s *session) {
	id := s.id
	s.deadline = time.AfterFunc(m.config.HandshakeTimeout, func() {
		m.handleHandshakeTimeout(id)
	})
}

// currentLocked returns the session with id if it is still the live one.
func (m *ConnectionManager) currentLocked(id domain.SessionID) (*session, bool) {
	s := m.session
	if s == nil || s.id != id || s.state.Terminal() {
		return nil, false
	}
	return s, true
}

func (m *ConnectionManager) handleOpen(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.currentLocked(id)
	if !ok || s.state == domain.StateConnected {
		return
	}
	if s.state == domain.StateIdle {
		s.earlyOpen = true
		return
	}
	m.openLocked(s)
}

func (m *ConnectionManager) openLocked(s *session) {
	if s.deadline != nil {
		s.deadline.Stop()
	}

	for _, target := range domain.ReservedTargets {
		m.registry.CreateVirtualOutput(target)
	}
	m.transitionLocked(s, domain.StateConnected)
	close(s.ready)

	early := s.early
	s.early = nil
	for _, frame := range early {
		m.receiveLocked(s, frame)
	}
}

// handleFrame accepts frames that race ahead of the open callback. A frame
// proves the channel is open, so a handshaking session connects first; an
// idle one buffers until its handshake step returns.
func (m *ConnectionManager) handleFrame(id domain.SessionID, frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.currentLocked(id)
	if !ok {
		return
	}
	switch s.state {
	case domain.StateIdle:
		if len(s.early) >= maxEarlyFrames {
			m.logger.Warnw("dropping inbound frame before handshake completed", "session", id)
			return
		}
		s.earlyOpen = true
		s.early = append(s.early, frame)
		return
	case domain.StateOffering, domain.StateAnswering:
		m.openLocked(s)
	}
	m.receiveLocked(s, frame)
}

func (m *ConnectionManager) receiveLocked(s *session, frame []byte) {
	id := s.id
	env, err := m.framer.Decode(frame)
	if err != nil {
		m.logger.Warnw("dropping inbound frame",
			"session", id,
			"bytes", len(frame),
			"error", err,
		)
		return
	}

	latency := m.deps.Clock.Now() - env.SendTimestamp
	m.stats.RecordReceived(env.Target, env.Size(), latency)

	input, _ := m.registry.CreateVirtualInput(env.Target)
	device := input.Device()
	m.events.publish(domain.Event{
		Kind:     domain.EventMessage,
		Session:  id,
		At:       time.Now(),
		Target:   env.Target,
		Envelope: &env,
		Device:   &device,
	})

	// Origin is the peer, so the bridge never calls back into deliverToPeer
	// and holding mu here is safe.
	m.bridge.Forward(domain.TransportPeer, env)
}

func (m *ConnectionManager) handleLinkState(id domain.SessionID, state domain.ConnectionState, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.currentLocked(id)
	if !ok {
		return
	}

	switch state {
	case domain.StateFailed:
		m.failLocked(s, apperrors.NewConnectionFailureError("peer connection failed", cause))
	case domain.StateDisconnected, domain.StateClosed:
		m.registry.Clear()
		m.transitionLocked(s, domain.StateDisconnected)
		s.finish()
		m.releaseLinkLocked(s)
	}
}

func (m *ConnectionManager) handleHandshakeTimeout(id domain.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.currentLocked(id)
	if !ok || s.state == domain.StateConnected {
		return
	}
	m.failLocked(s, apperrors.NewConnectionFailureError(
		fmt.Sprintf("handshake not completed within %s", m.config.HandshakeTimeout), nil))
}

func (m *ConnectionManager) failLocked(s *session, err error) {
	m.registry.Clear()
	s.state = domain.StateFailed
	m.stats.RecordState(s.state)
	m.logger.Warnw("peer session failed", "session", s.id, "error", err)
	m.publishStateLocked(s, err)
	s.finish()
	m.releaseLinkLocked(s)
}

// releaseLinkLocked closes the link of a session that ended on its own. The
// close runs outside the lock because transports may block while tearing
// down.
func (m *ConnectionManager) releaseLinkLocked(s *session) {
	link := s.link
	if link == nil {
		return
	}
	go func() {
		if err := link.Close(); err != nil {
			m.logger.Debugw("releasing peer link", "session", s.id, "error", err)
		}
	}()
}

func (m *ConnectionManager) transitionLocked(s *session, state domain.ConnectionState) {
	from := s.state
	s.state = state
	m.stats.RecordState(state)
	m.logger.Infow("peer connection state changed",
		"session", s.id,
		"from", from,
		"to", state,
	)
	m.publishStateLocked(s, nil)
}

func (m *ConnectionManager) publishStateLocked(s *session, err error) {
	ev := domain.Event{
		Kind:    domain.EventState,
		Session: s.id,
		At:      time.Now(),
		State:   s.state,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	m.events.publish(ev)
}

// publishDiscovery runs inside handleFrame, which already holds mu.
func (m *ConnectionManager) publishDiscovery(target domain.Target, device domain.VirtualDevice) {
	m.events.publish(domain.Event{
		Kind:    domain.EventDiscovery,
		Session: domain.SessionID(m.current.Load()),
		At:      time.Now(),
		Target:  target,
		Device:  &device,
	})
}

func (m *ConnectionManager) handleHardwareMessage(port domain.HardwarePort, payload []byte, _ float64) {
	if len(payload) == 0 {
		return
	}
	m.bridge.Forward(domain.TransportHardware, domain.Envelope{
		Payload:       payload,
		SendTimestamp: m.deps.Clock.Now(),
		Target:        domain.TargetDefault,
	})
}

func (m *ConnectionManager) handleHardwarePort(port domain.HardwarePort) {
	m.logger.Infow("hardware port changed",
		"port", port.Name,
		"state", port.State,
		"direction", port.Direction,
	)
	m.events.publish(domain.Event{
		Kind: domain.EventPort,
		At:   time.Now(),
		Port: &port,
	})
}

func (m *ConnectionManager) handleNetworkMessage(payload []byte, _ float64) {
	if len(payload) == 0 {
		return
	}
	m.bridge.Forward(domain.TransportNetwork, domain.Envelope{
		Payload:       payload,
		SendTimestamp: m.deps.Clock.Now(),
		Target:        domain.TargetDefault,
	})
}

func (m *ConnectionManager) handleNetworkPeer(name string, joined bool) {
	m.logger.Infow("network MIDI peer changed", "peer", name, "joined", joined)
	m.events.publish(domain.Event{
		Kind:        domain.EventNetworkPeer,
		At:          time.Now(),
		NetworkPeer: name,
		Joined:      joined,
	})
}
