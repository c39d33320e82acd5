package services

import (
	"encoding/json"
	"fmt"

	"midilink/internal/core/domain"
	apperrors "midilink/pkg/errors"

	"github.com/fxamacker/cbor/v2"
)

const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// envelopeCodec turns envelopes into frames and back. Implementations do not
// validate; Framer does.
type envelopeCodec interface {
	name() string
	marshal(env domain.Envelope) ([]byte, error)
	unmarshal(raw []byte) (domain.Envelope, error)
}

// Framer encodes MIDI payloads into envelopes for the peer channel.
type Framer struct {
	codec envelopeCodec
}

// NewFramer returns a framer for the named wire codec.
func NewFramer(codec string) (*Framer, error) {
	switch codec {
	case "", CodecJSON:
		return &Framer{codec: jsonCodec{}}, nil
	case CodecCBOR:
		c, err := newCBORCodec()
		if err != nil {
			return nil, err
		}
		return &Framer{codec: c}, nil
	}
	return nil, fmt.Errorf("unknown envelope codec %q", codec)
}

// Codec returns the wire codec name.
func (f *Framer) Codec() string {
	return f.codec.name()
}

// Encode builds a frame. The payload is never truncated; SysEx of any length
// passes through.
func (f *Framer) Encode(payload []byte, timestamp float64, target domain.Target) ([]byte, error) {
	if len(payload) == 0 {
		return nil, apperrors.NewInvalidPayloadError("payload must not be empty")
	}
	raw, err := f.codec.marshal(domain.Envelope{
		Payload:       payload,
		SendTimestamp: timestamp,
		Target:        target.Normalize(),
	})
	if err != nil {
		return nil, apperrors.NewInvalidPayloadError(err.Error())
	}
	return raw, nil
}

// Decode parses a frame. A missing or empty target becomes "default".
func (f *Framer) Decode(raw []byte) (domain.Envelope, error) {
	env, err := f.codec.unmarshal(raw)
	if err != nil {
		return domain.Envelope{}, apperrors.NewMalformedEnvelopeError(err)
	}
	if len(env.Payload) == 0 {
		return domain.Envelope{}, apperrors.NewMalformedEnvelopeError(fmt.Errorf("envelope has no payload"))
	}
	env.Target = env.Target.Normalize()
	return env, nil
}

// jsonEnvelope is interoperable with browser peers: the payload is an array
// of numbers rather than base64.
type jsonEnvelope struct {
	Data      []int   `json:"data"`
	Timestamp float64 `json:"timestamp"`
	Target    string  `json:"target,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) name() string { return CodecJSON }

func (jsonCodec) marshal(env domain.Envelope) ([]byte, error) {
	data := make([]int, len(env.Payload))
	for i, b := range env.Payload {
		data[i] = int(b)
	}
	return json.Marshal(jsonEnvelope{
		Data:      data,
		Timestamp: env.SendTimestamp,
		Target:    string(env.Target),
	})
}

func (jsonCodec) unmarshal(raw []byte) (domain.Envelope, error) {
	var w jsonEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Envelope{}, err
	}
	payload := make([]byte, len(w.Data))
	for i, v := range w.Data {
		if v < 0 || v > 0xFF {
			return domain.Envelope{}, fmt.Errorf("data[%d]=%d is not a byte", i, v)
		}
		payload[i] = byte(v)
	}
	return domain.Envelope{
		Payload:       payload,
		SendTimestamp: w.Timestamp,
		Target:        domain.Target(w.Target),
	}, nil
}

type cborEnvelope struct {
	Data      []byte  `cbor:"data"`
	Timestamp float64 `cbor:"timestamp"`
	Target    string  `cbor:"target,omitempty"`
}

type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() (cborCodec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return cborCodec{}, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return cborCodec{}, err
	}
	return cborCodec{enc: em, dec: dm}, nil
}

func (cborCodec) name() string { return CodecCBOR }

func (c cborCodec) marshal(env domain.Envelope) ([]byte, error) {
	return c.enc.Marshal(cborEnvelope{
		Data:      env.Payload,
		Timestamp: env.SendTimestamp,
		Target:    string(env.Target),
	})
}

func (c cborCodec) unmarshal(raw []byte) (domain.Envelope, error) {
	var w cborEnvelope
	if err := c.dec.Unmarshal(raw, &w); err != nil {
		return domain.Envelope{}, err
	}
	return domain.Envelope{
		Payload:       w.Data,
		SendTimestamp: w.Timestamp,
		Target:        domain.Target(w.Target),
	}, nil
}
