package rtpmidi

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"
	"midilink/pkg/retry"

	"github.com/pion/rtp"
	"go.uber.org/zap"
)

const (
	// payloadType is the dynamic RTP payload type AppleMIDI peers use.
	payloadType = 0x61
	// tickUnit is the resolution of RTP and CK timestamps.
	tickUnit = 100 * time.Microsecond

	maxDatagram = 65535
	// sysexSegmentSize keeps each SysEx packet well under a typical MTU.
	sysexSegmentSize = 1000
)

type participant struct {
	ssrc    uint32
	token   uint32
	name    string
	control net.Addr
	data    net.Addr
	// sysex is only touched by the data port reader
	sysex sysexAssembler
}

func (p *participant) joined() bool { return p.data != nil }

type socketPair struct {
	control net.PacketConn
	data    net.PacketConn
}

func (s socketPair) close() {
	if s.control != nil {
		_ = s.control.Close()
	}
	if s.data != nil {
		_ = s.data.Close()
	}
}

// Session is a network MIDI session that accepts invitations from AppleMIDI
// initiators (macOS Audio MIDI Setup, rtpMIDI on Windows, other bridges) and
// exchanges MIDI with every joined participant.
type Session struct {
	logger *zap.SugaredLogger
	retry  retry.Policy

	mu           sync.RWMutex
	sockets      socketPair
	opts         ports.NetworkOptions
	handlers     ports.NetworkHandlers
	participants map[uint32]*participant
	ssrc         uint32
	seq          uint16
	start        time.Time
	connected    bool
	closed       bool

	wg sync.WaitGroup
}

// NewSession creates an unconnected session. bindRetry governs how binding
// the UDP ports is retried when they are still held by a previous process.
func NewSession(bindRetry retry.Policy, logger *zap.SugaredLogger) *Session {
	return &Session{
		logger:       logger,
		retry:        bindRetry,
		participants: make(map[uint32]*participant),
	}
}

func (s *Session) Available() bool { return true }

// Connect binds the control port opts.Port and the data port opts.Port+1
// and starts serving. Port 0 picks a free adjacent pair.
func (s *Session) Connect(ctx context.Context, opts ports.NetworkOptions, handlers ports.NetworkHandlers) error {
	s.mu.Lock()
	if s.connected || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("network MIDI session already started")
	}
	s.mu.Unlock()

	policy := s.retry
	policy.Notify = func(attempt int, err error, delay time.Duration) {
		s.logger.Warnw("binding RTP-MIDI ports failed, retrying",
			"port", opts.Port,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	sockets, err := retry.DoValue(ctx, policy, func() (socketPair, error) {
		pair, err := listenPair(opts.Port)
		if errors.Is(err, os.ErrPermission) {
			return pair, retry.Permanent(err)
		}
		return pair, err
	})
	if err != nil {
		return fmt.Errorf("bind RTP-MIDI ports: %w", err)
	}

	s.mu.Lock()
	s.sockets = sockets
	s.opts = opts
	s.handlers = handlers
	s.ssrc = rand.Uint32()
	s.seq = uint16(rand.Uint32())
	s.start = time.Now()
	s.connected = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.serve(sockets.control, false)
	go s.serve(sockets.data, true)

	s.logger.Infow("RTP-MIDI session listening",
		"name", opts.LocalName,
		"service", opts.ServiceName,
		"control", sockets.control.LocalAddr().String(),
		"data", sockets.data.LocalAddr().String(),
	)
	return nil
}

func listenPair(port int) (socketPair, error) {
	if port != 0 {
		return bindPair(port)
	}
	var lastErr error
	for i := 0; i < 16; i++ {
		free, err := net.ListenPacket("udp", ":0")
		if err != nil {
			return socketPair{}, err
		}
		base := free.LocalAddr().(*net.UDPAddr).Port
		_ = free.Close()
		if base >= 65535 {
			continue
		}
		pair, err := bindPair(base)
		if err == nil {
			return pair, nil
		}
		lastErr = err
	}
	return socketPair{}, fmt.Errorf("no free adjacent UDP port pair: %w", lastErr)
}

func bindPair(port int) (socketPair, error) {
	control, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return socketPair{}, err
	}
	data, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port+1))
	if err != nil {
		_ = control.Close()
		return socketPair{}, err
	}
	return socketPair{control: control, data: data}, nil
}

// ControlAddr returns the bound control address, or nil before Connect.
func (s *Session) ControlAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sockets.control == nil {
		return nil
	}
	return s.sockets.control.LocalAddr()
}

// Peers returns the names of participants that completed both invitations.
func (s *Session) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, p := range s.participants {
		if p.joined() {
			names = append(names, p.name)
		}
	}
	return names
}

// Send transmits payload to every joined participant. SysEx longer than one
// segment is split across consecutive packets.
func (s *Session) Send(payload []byte) error {
	var sections [][]byte
	for _, seg := range SegmentSysEx(payload, sysexSegmentSize) {
		section, err := BuildCommandSection(seg)
		if err != nil {
			return err
		}
		sections = append(sections, section)
	}

	s.mu.Lock()
	if s.closed || !s.connected {
		s.mu.Unlock()
		return domain.ErrTransportClosed
	}
	var targets []net.Addr
	for _, p := range s.participants {
		if p.joined() {
			targets = append(targets, p.data)
		}
	}
	if len(targets) == 0 {
		s.mu.Unlock()
		return domain.ErrNotConnected
	}
	ticks := uint32(s.ticksLocked())
	packets := make([]rtp.Packet, len(sections))
	for i, section := range sections {
		s.seq++
		packets[i] = rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         true,
				PayloadType:    payloadType,
				SequenceNumber: s.seq,
				Timestamp:      ticks,
				SSRC:           s.ssrc,
			},
			Payload: section,
		}
	}
	conn := s.sockets.data
	s.mu.Unlock()

	var errs []error
	for _, pkt := range packets {
		raw, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("marshal RTP packet: %w", err)
		}
		for _, addr := range targets {
			if _, err := conn.WriteTo(raw, addr); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Close says goodbye to every participant and releases the sockets.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sockets := s.sockets
	var byes []*participant
	for _, p := range s.participants {
		byes = append(byes, p)
	}
	s.participants = make(map[uint32]*participant)
	ssrc := s.ssrc
	s.mu.Unlock()

	if sockets.control != nil {
		for _, p := range byes {
			bye := Invitation{Command: CmdBye, Token: p.token, SSRC: ssrc}
			if _, err := sockets.control.WriteTo(bye.Marshal(), p.control); err != nil {
				s.logger.Debugw("sending BY failed", "peer", p.name, "error", err)
			}
		}
	}
	sockets.close()
	s.wg.Wait()
	return nil
}

func (s *Session) serve(conn net.PacketConn, data bool) {
	defer s.wg.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warnw("RTP-MIDI read failed", "data_port", data, "error", err)
			continue
		}
		packet := buf[:n]

		if IsControl(packet) {
			s.handleControl(conn, addr, packet, data)
			continue
		}
		if data {
			s.handleData(packet)
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Session) handleControl(conn net.PacketConn, addr net.Addr, packet []byte, data bool) {
	cmd, parsed, err := ParseControl(packet)
	if err != nil {
		s.logger.Debugw("ignoring control packet", "from", addr.String(), "error", err)
		return
	}

	switch p := parsed.(type) {
	case *Invitation:
		switch cmd {
		case CmdInvitation:
			s.handleInvitation(conn, addr, *p, data)
		case CmdBye:
			s.handleBye(*p)
		default:
			s.logger.Debugw("ignoring invitation reply", "command", cmd.String(), "from", addr.String())
		}
	case *Sync:
		s.handleSync(conn, addr, *p)
	}
}

func (s *Session) handleInvitation(conn net.PacketConn, addr net.Addr, in Invitation, data bool) {
	s.mu.Lock()
	reply := Invitation{Command: CmdInvitationOK, Token: in.Token, SSRC: s.ssrc, Name: s.opts.LocalName}
	var joined, left string

	if !data {
		p, ok := s.participants[in.SSRC]
		switch {
		case ok && p.token == in.Token:
			// retransmitted invitation; the data port stays bound
			p.control = addr
			p.name = in.Name
		default:
			if ok && p.joined() {
				left = p.name
			}
			s.participants[in.SSRC] = &participant{
				ssrc:    in.SSRC,
				token:   in.Token,
				name:    in.Name,
				control: addr,
			}
		}
	} else {
		p, ok := s.participants[in.SSRC]
		switch {
		case !ok:
			reply.Command = CmdInvitationNo
		case !p.joined():
			p.data = addr
			joined = p.name
		default:
			p.data = addr
		}
	}
	handlers := s.handlers
	s.mu.Unlock()

	if _, err := conn.WriteTo(reply.Marshal(), addr); err != nil {
		s.logger.Warnw("replying to invitation failed", "from", addr.String(), "error", err)
		return
	}
	s.logger.Infow("RTP-MIDI invitation",
		"peer", in.Name,
		"ssrc", in.SSRC,
		"data_port", data,
		"reply", reply.Command.String(),
	)
	if left != "" && handlers.OnPeerLeft != nil {
		handlers.OnPeerLeft(left)
	}
	if joined != "" && handlers.OnPeerJoined != nil {
		handlers.OnPeerJoined(joined)
	}
}

func (s *Session) handleBye(bye Invitation) {
	s.mu.Lock()
	p, ok := s.participants[bye.SSRC]
	if ok {
		delete(s.participants, bye.SSRC)
	}
	handlers := s.handlers
	s.mu.Unlock()

	if !ok {
		return
	}
	s.logger.Infow("RTP-MIDI peer left", "peer", p.name, "ssrc", p.ssrc)
	if p.joined() && handlers.OnPeerLeft != nil {
		handlers.OnPeerLeft(p.name)
	}
}

// handleSync answers the initiator's CK0 with CK1 and finishes our own
// exchanges with CK2.
func (s *Session) handleSync(conn net.PacketConn, addr net.Addr, ck Sync) {
	s.mu.RLock()
	now := s.ticksLocked()
	ssrc := s.ssrc
	s.mu.RUnlock()

	reply := ck
	reply.SSRC = ssrc
	switch ck.Count {
	case 0:
		reply.Count = 1
		reply.Timestamps[1] = now
	case 1:
		reply.Count = 2
		reply.Timestamps[2] = now
	default:
		offset := int64(ck.Timestamps[0]+ck.Timestamps[2])/2 - int64(ck.Timestamps[1])
		s.logger.Debugw("RTP-MIDI clock sync complete", "ssrc", ck.SSRC, "offset_ticks", offset)
		return
	}
	if _, err := conn.WriteTo(reply.Marshal(), addr); err != nil {
		s.logger.Debugw("CK reply failed", "error", err)
	}
}

func (s *Session) handleData(packet []byte) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(packet); err != nil {
		s.logger.Debugw("dropping malformed RTP packet", "error", err)
		return
	}

	s.mu.RLock()
	p, known := s.participants[pkt.SSRC]
	joined := known && p.joined()
	handlers := s.handlers
	s.mu.RUnlock()

	if !joined {
		s.logger.Debugw("dropping RTP-MIDI from unknown participant", "ssrc", pkt.SSRC)
		return
	}

	msgs, err := ParseCommandSection(pkt.Payload)
	if err != nil {
		s.logger.Warnw("malformed RTP-MIDI command section",
			"peer", p.name,
			"parsed", len(msgs),
			"error", err,
		)
	}
	if handlers.OnMessage == nil {
		return
	}
	ts := float64(pkt.Timestamp) * float64(tickUnit) / float64(time.Millisecond)
	for _, m := range msgs {
		if msg, complete := p.sysex.add(m.Message); complete {
			handlers.OnMessage(msg, ts)
		}
	}
}

func (s *Session) ticksLocked() uint64 {
	return uint64(time.Since(s.start) / tickUnit)
}
