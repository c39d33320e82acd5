// Package rtpmidi implements the responder side of an AppleMIDI (RTP-MIDI)
// network session: invitation, clock sync and bye on the control port, MIDI
// data on the port above it.
package rtpmidi

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	signature       uint16 = 0xFFFF
	protocolVersion uint32 = 2
)

// Command is the two-letter AppleMIDI command code.
type Command [2]byte

var (
	CmdInvitation       = Command{'I', 'N'}
	CmdInvitationOK     = Command{'O', 'K'}
	CmdInvitationNo     = Command{'N', 'O'}
	CmdBye              = Command{'B', 'Y'}
	CmdSync             = Command{'C', 'K'}
	CmdReceiverFeedback = Command{'R', 'S'}
)

func (c Command) String() string { return string(c[:]) }

var errNotAppleMIDI = errors.New("not an AppleMIDI control packet")

// IsControl reports whether a datagram starts with the AppleMIDI signature.
// RTP data never does: its first byte carries version 2.
func IsControl(b []byte) bool {
	return len(b) >= 4 && binary.BigEndian.Uint16(b) == signature
}

// Invitation covers IN, OK, NO and BY, which share one layout.
type Invitation struct {
	Command Command
	Token   uint32
	SSRC    uint32
	Name    string
}

func (p Invitation) Marshal() []byte {
	buf := make([]byte, 16, 16+len(p.Name)+1)
	binary.BigEndian.PutUint16(buf[0:], signature)
	copy(buf[2:4], p.Command[:])
	binary.BigEndian.PutUint32(buf[4:], protocolVersion)
	binary.BigEndian.PutUint32(buf[8:], p.Token)
	binary.BigEndian.PutUint32(buf[12:], p.SSRC)
	if p.Command != CmdBye && p.Name != "" {
		buf = append(buf, p.Name...)
		buf = append(buf, 0)
	}
	return buf
}

func unmarshalInvitation(b []byte) (Invitation, error) {
	if len(b) < 16 {
		return Invitation{}, fmt.Errorf("short %s packet: %d bytes", Command{b[2], b[3]}, len(b))
	}
	if v := binary.BigEndian.Uint32(b[4:]); v != protocolVersion {
		return Invitation{}, fmt.Errorf("unsupported AppleMIDI version %d", v)
	}
	p := Invitation{
		Command: Command{b[2], b[3]},
		Token:   binary.BigEndian.Uint32(b[8:]),
		SSRC:    binary.BigEndian.Uint32(b[12:]),
	}
	if name := b[16:]; len(name) > 0 {
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		p.Name = string(name)
	}
	return p, nil
}

// Sync is the CK clock synchronisation exchange. Timestamps are in units of
// 100 microseconds on the sender's clock.
type Sync struct {
	SSRC       uint32
	Count      uint8
	Timestamps [3]uint64
}

func (p Sync) Marshal() []byte {
	buf := make([]byte, 36)
	binary.BigEndian.PutUint16(buf[0:], signature)
	copy(buf[2:4], CmdSync[:])
	binary.BigEndian.PutUint32(buf[4:], p.SSRC)
	buf[8] = p.Count
	for i, ts := range p.Timestamps {
		binary.BigEndian.PutUint64(buf[12+8*i:], ts)
	}
	return buf
}

func unmarshalSync(b []byte) (Sync, error) {
	if len(b) < 36 {
		return Sync{}, fmt.Errorf("short CK packet: %d bytes", len(b))
	}
	p := Sync{
		SSRC:  binary.BigEndian.Uint32(b[4:]),
		Count: b[8],
	}
	for i := range p.Timestamps {
		p.Timestamps[i] = binary.BigEndian.Uint64(b[12+8*i:])
	}
	return p, nil
}

// ParseControl decodes a control datagram into *Invitation or *Sync. Other
// known commands (RS) return a nil packet and no error.
func ParseControl(b []byte) (Command, interface{}, error) {
	if !IsControl(b) {
		return Command{}, nil, errNotAppleMIDI
	}
	cmd := Command{b[2], b[3]}
	switch cmd {
	case CmdInvitation, CmdInvitationOK, CmdInvitationNo, CmdBye:
		p, err := unmarshalInvitation(b)
		if err != nil {
			return cmd, nil, err
		}
		return cmd, &p, nil
	case CmdSync:
		p, err := unmarshalSync(b)
		if err != nil {
			return cmd, nil, err
		}
		return cmd, &p, nil
	case CmdReceiverFeedback:
		return cmd, nil, nil
	}
	return cmd, nil, fmt.Errorf("unknown AppleMIDI command %q", cmd.String())
}
