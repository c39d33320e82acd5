package webrtc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"midilink/internal/core/domain"

	"github.com/klauspost/compress/flate"
)

// compressedPrefix marks a deflate-compressed description.
const compressedPrefix = "z:"

// maxDescriptionSize bounds the decompressed description to keep a pasted
// blob from exhausting memory.
const maxDescriptionSize = 256 << 10

// SignalingCodec encodes descriptions as URL-safe base64 JSON, optionally
// deflated first to shorten the text a user has to copy.
type SignalingCodec struct {
	compress bool
}

func NewSignalingCodec(compress bool) *SignalingCodec {
	return &SignalingCodec{compress: compress}
}

func (c *SignalingCodec) Encode(desc domain.SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", fmt.Errorf("marshal description: %w", err)
	}
	if !c.compress {
		return base64.RawURLEncoding.EncodeToString(raw), nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", fmt.Errorf("compress description: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress description: %w", err)
	}
	return compressedPrefix + base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode accepts both compressed and plain forms regardless of how the codec
// was configured. Surrounding whitespace from copy/paste is ignored.
func (c *SignalingCodec) Decode(text string) (domain.SessionDescription, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.SessionDescription{}, fmt.Errorf("empty description")
	}

	compressed := strings.HasPrefix(text, compressedPrefix)
	text = strings.TrimPrefix(text, compressedPrefix)
	// tolerate padded and standard-alphabet input
	text = strings.TrimRight(text, "=")
	text = strings.NewReplacer("+", "-", "/", "_").Replace(text)

	raw, err := base64.RawURLEncoding.DecodeString(text)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("decode base64: %w", err)
	}
	if compressed {
		r := flate.NewReader(bytes.NewReader(raw))
		defer r.Close()
		raw, err = io.ReadAll(io.LimitReader(r, maxDescriptionSize+1))
		if err != nil {
			return domain.SessionDescription{}, fmt.Errorf("decompress description: %w", err)
		}
		if len(raw) > maxDescriptionSize {
			return domain.SessionDescription{}, fmt.Errorf("description exceeds %d bytes", maxDescriptionSize)
		}
	}

	var desc domain.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("decode description json: %w", err)
	}
	if desc.Type != domain.SDPOffer && desc.Type != domain.SDPAnswer {
		return domain.SessionDescription{}, fmt.Errorf("unknown description type %q", desc.Type)
	}
	if strings.TrimSpace(desc.SDP) == "" {
		return domain.SessionDescription{}, fmt.Errorf("description has no sdp")
	}
	return desc, nil
}
