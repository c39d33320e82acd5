package rtpmidi

import (
	"errors"
	"fmt"
)

// Command section header flags (RFC 6295 section 3).
const (
	flagLongLength = 0x80 // B: 12-bit length
	flagJournal    = 0x40 // J: recovery journal follows
	flagDeltaFirst = 0x20 // Z: first command carries a delta time
	flagPhantom    = 0x10 // P: first command used running status in the source

	maxShortLength = 0x0F
	maxLongLength  = 0x0FFF
)

var errEmptySection = errors.New("empty MIDI command section")

// TimedMessage is one MIDI message with its delta time in RTP ticks.
type TimedMessage struct {
	Delta   uint32
	Message []byte
}

// BuildCommandSection encodes msgs into a command section without journal.
// Every message after the first carries a delta time.
func BuildCommandSection(msgs ...[]byte) ([]byte, error) {
	var list []byte
	for i, m := range msgs {
		if len(m) == 0 {
			return nil, fmt.Errorf("message %d is empty", i)
		}
		if i > 0 {
			list = append(list, 0x00)
		}
		list = append(list, m...)
	}
	if len(list) == 0 {
		return nil, errEmptySection
	}
	if len(list) > maxLongLength {
		return nil, fmt.Errorf("command section too long: %d bytes", len(list))
	}

	var header []byte
	if len(list) > maxShortLength {
		header = []byte{flagLongLength | byte(len(list)>>8), byte(len(list))}
	} else {
		header = []byte{byte(len(list))}
	}
	return append(header, list...), nil
}

// SegmentSysEx splits a complete SysEx message into RFC 6295 segments of at
// most size data bytes: F0..F0 first, F7..F0 middle and F7..F7 last. Other
// messages, and SysEx that already fits, are returned as a single segment.
func SegmentSysEx(msg []byte, size int) [][]byte {
	if size < 1 || len(msg) < 2 || msg[0] != 0xF0 || msg[len(msg)-1] != 0xF7 || len(msg)-2 <= size {
		return [][]byte{msg}
	}

	body := msg[1 : len(msg)-1]
	var segments [][]byte
	for start := 0; start < len(body); start += size {
		end := min(start+size, len(body))
		lead, tail := byte(0xF7), byte(0xF0)
		if start == 0 {
			lead = 0xF0
		}
		if end == len(body) {
			tail = 0xF7
		}
		seg := make([]byte, 0, end-start+2)
		seg = append(seg, lead)
		seg = append(seg, body[start:end]...)
		segments = append(segments, append(seg, tail))
	}
	return segments
}

// sysexAssembler joins SysEx segments received across packets.
type sysexAssembler struct {
	buf     []byte
	pending bool
}

// add returns the complete message once the final segment arrives. Non-SysEx
// messages pass through; a stray continuation is returned unchanged.
func (a *sysexAssembler) add(msg []byte) ([]byte, bool) {
	if len(msg) < 2 || (msg[0] != 0xF0 && msg[0] != 0xF7) {
		return msg, true
	}
	first, last := msg[0], msg[len(msg)-1]
	body := msg[1 : len(msg)-1]

	switch {
	case first == 0xF0 && last == 0xF0:
		a.buf = append(append(a.buf[:0], 0xF0), body...)
		a.pending = true
		return nil, false
	case first == 0xF7 && a.pending:
		a.buf = append(a.buf, body...)
		if last == 0xF0 {
			return nil, false
		}
		out := append(append([]byte(nil), a.buf...), 0xF7)
		a.buf = a.buf[:0]
		a.pending = false
		return out, true
	}
	return msg, true
}

// ParseCommandSection decodes the MIDI list of an RTP-MIDI payload. The
// journal, if present, is ignored. Running status is expanded so every
// returned message starts with its status byte.
func ParseCommandSection(payload []byte) ([]TimedMessage, error) {
	if len(payload) == 0 {
		return nil, errEmptySection
	}

	flags := payload[0]
	length := int(flags & 0x0F)
	pos := 1
	if flags&flagLongLength != 0 {
		if len(payload) < 2 {
			return nil, errors.New("truncated long command section header")
		}
		length = length<<8 | int(payload[1])
		pos = 2
	}
	if pos+length > len(payload) {
		return nil, fmt.Errorf("command section length %d exceeds payload", length)
	}
	list := payload[pos : pos+length]

	var (
		out     []TimedMessage
		running byte
		i       int
	)
	for first := true; i < len(list); first = false {
		var delta uint32
		if !first || flags&flagDeltaFirst != 0 {
			d, n, err := readDelta(list[i:])
			if err != nil {
				return out, err
			}
			delta = d
			i += n
			if i >= len(list) {
				return out, errors.New("delta time without command")
			}
		}

		msg, n, err := readCommand(list[i:], &running)
		if err != nil {
			return out, err
		}
		i += n
		out = append(out, TimedMessage{Delta: delta, Message: msg})
	}
	return out, nil
}

// readDelta decodes a variable-length delta of at most four bytes.
func readDelta(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 4 && i < len(b); i++ {
		v = v<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.New("malformed delta time")
}

func readCommand(b []byte, running *byte) ([]byte, int, error) {
	status := b[0]
	start := 0
	if status < 0x80 {
		if *running == 0 {
			return nil, 0, errors.New("data byte without running status")
		}
		status = *running
		start = -1
	}

	switch {
	case status == 0xF0 || status == 0xF7:
		// SysEx and its segments run until the next F7 or F0 terminator.
		for j := 1; j < len(b); j++ {
			if b[j] == 0xF7 || b[j] == 0xF0 {
				msg := append([]byte(nil), b[:j+1]...)
				return msg, j + 1, nil
			}
		}
		return nil, 0, errors.New("unterminated SysEx")
	case status >= 0xF8:
		return []byte{status}, 1, nil
	}

	size := messageLength(status)
	if status < 0xF0 {
		*running = status
	} else {
		*running = 0
	}

	if start < 0 {
		// running status: b holds data bytes only
		need := size - 1
		if len(b) < need {
			return nil, 0, fmt.Errorf("truncated message with running status %#x", status)
		}
		msg := append([]byte{status}, b[:need]...)
		return msg, need, nil
	}
	if len(b) < size {
		return nil, 0, fmt.Errorf("truncated message %#x", status)
	}
	return append([]byte(nil), b[:size]...), size, nil
}

func messageLength(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 2
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 3
	}
	switch status {
	case 0xF1, 0xF3:
		return 2
	case 0xF2:
		return 3
	}
	return 1
}
