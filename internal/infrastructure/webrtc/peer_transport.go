package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Config configures peer connections.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
	ChannelLabel     string
	GatheringTimeout time.Duration
	// IncludeLoopback adds loopback ICE candidates, needed when both peers
	// run on the same host.
	IncludeLoopback bool
}

// PeerTransport creates pion peer connections carrying a single ordered,
// reliable data channel. Signaling is vanilla ICE: descriptions are only
// returned once candidate gathering has finished, so one copy/paste round
// trip is enough.
type PeerTransport struct {
	config Config
	api    *webrtc.API
	logger *zap.SugaredLogger
}

// NewPeerTransport builds the pion API once; every link shares it.
func NewPeerTransport(config Config, logger *zap.SugaredLogger) *PeerTransport {
	if config.ChannelLabel == "" {
		config.ChannelLabel = "midi"
	}
	if config.GatheringTimeout <= 0 {
		config.GatheringTimeout = 15 * time.Second
	}

	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max); err != nil {
			logger.Warnw("ignoring invalid ICE port range",
				"min", config.PortRange.Min,
				"max", config.PortRange.Max,
				"error", err,
			)
		}
	}
	settingEngine.SetIncludeLoopbackCandidate(config.IncludeLoopback)

	return &PeerTransport{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

// NewLink creates a peer connection for role. The initiator creates the data
// channel so that it is negotiated in the offer; the responder adopts the
// channel announced by the remote side.
func (t *PeerTransport) NewLink(role domain.Role, handlers ports.LinkHandlers) (ports.PeerLink, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   t.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	link := &peerLink{
		role:     role,
		pc:       pc,
		label:    t.config.ChannelLabel,
		gather:   t.config.GatheringTimeout,
		handlers: handlers,
		logger:   t.logger.With("role", role),
	}
	pc.OnConnectionStateChange(link.handleConnectionState)

	switch role {
	case domain.RoleInitiator:
		ordered := true
		dc, err := pc.CreateDataChannel(t.config.ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("failed to create data channel: %w", err)
		}
		link.attach(dc)
	default:
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != link.label {
				link.logger.Warnw("ignoring unexpected data channel", "label", dc.Label())
				return
			}
			link.attach(dc)
		})
	}
	return link, nil
}

type peerLink struct {
	role     domain.Role
	pc       *webrtc.PeerConnection
	label    string
	gather   time.Duration
	handlers ports.LinkHandlers
	logger   *zap.SugaredLogger

	mu     sync.RWMutex
	dc     *webrtc.DataChannel
	open   bool
	closed bool
}

func (l *peerLink) attach(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() { l.markOpen(dc) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if l.isClosed() {
			return
		}
		// pion runs the open handler and the read loop on separate
		// goroutines, so a message can arrive first.
		l.markOpen(dc)
		l.handlers.OnFrame(msg.Data)
	})
	dc.OnClose(func() {
		if l.isClosed() {
			return
		}
		l.logger.Infow("data channel closed by remote", "label", dc.Label())
		l.handlers.OnStateChange(domain.StateDisconnected, nil)
	})
}

// markOpen reports the channel open exactly once.
func (l *peerLink) markOpen(dc *webrtc.DataChannel) {
	l.mu.Lock()
	if l.closed || l.open {
		l.mu.Unlock()
		return
	}
	l.open = true
	l.mu.Unlock()

	l.logger.Infow("data channel opened", "label", dc.Label())
	l.handlers.OnOpen()
}

func (l *peerLink) isClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.closed
}

func (l *peerLink) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("creating SDP offer: %w", err)
	}
	return l.setLocal(ctx, offer)
}

func (l *peerLink) AcceptOffer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(toPion(offer)); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("setting remote offer: %w", err)
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("creating SDP answer: %w", err)
	}
	return l.setLocal(ctx, answer)
}

func (l *peerLink) AcceptAnswer(_ context.Context, answer domain.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(toPion(answer)); err != nil {
		return fmt.Errorf("setting remote answer: %w", err)
	}
	return nil
}

// setLocal applies desc and waits for ICE gathering so the returned
// description carries every candidate.
func (l *peerLink) setLocal(ctx context.Context, desc webrtc.SessionDescription) (domain.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(desc); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("setting local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-time.After(l.gather):
		return domain.SessionDescription{}, fmt.Errorf("ICE gathering timed out after %s", l.gather)
	case <-ctx.Done():
		return domain.SessionDescription{}, ctx.Err()
	}

	local := l.pc.LocalDescription()
	if local == nil {
		return domain.SessionDescription{}, fmt.Errorf("no local description after gathering")
	}
	l.logger.Debugw("ICE gathering complete", "type", local.Type, "sdp_bytes", len(local.SDP))
	return fromPion(*local), nil
}

func (l *peerLink) Send(frame []byte) error {
	l.mu.RLock()
	dc, open, closed := l.dc, l.open, l.closed
	l.mu.RUnlock()

	if closed {
		return domain.ErrTransportClosed
	}
	if dc == nil || !open {
		return domain.ErrNotConnected
	}
	return dc.Send(frame)
}

// Close tears down the peer connection. State changes caused by our own
// close are not reported back.
func (l *peerLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	return l.pc.Close()
}

func (l *peerLink) handleConnectionState(state webrtc.PeerConnectionState) {
	l.logger.Infow("peer connection state changed", "connection_state", state)

	if l.isClosed() {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateDisconnected:
		l.handlers.OnStateChange(domain.StateDisconnected, nil)
	case webrtc.PeerConnectionStateFailed:
		l.handlers.OnStateChange(domain.StateFailed, fmt.Errorf("ICE connectivity lost"))
	case webrtc.PeerConnectionStateClosed:
		l.handlers.OnStateChange(domain.StateClosed, nil)
	}
}

func toPion(desc domain.SessionDescription) webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if desc.Type == domain.SDPAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}
}

func fromPion(desc webrtc.SessionDescription) domain.SessionDescription {
	typ := domain.SDPOffer
	if desc.Type == webrtc.SDPTypeAnswer {
		typ = domain.SDPAnswer
	}
	return domain.SessionDescription{Type: typ, SDP: desc.SDP}
}
