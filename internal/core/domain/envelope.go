package domain

import "math"

// Target is the multiplex key naming an independent logical MIDI stream
// carried over the peer channel.
type Target string

// Reserved targets understood by convention between peers.
const (
	TargetDefault  Target = "default"
	TargetSynth    Target = "synth"
	TargetControl  Target = "control"
	TargetFeedback Target = "feedback"
)

// ReservedTargets is the fixed set of outputs created when a session connects.
var ReservedTargets = []Target{TargetDefault, TargetSynth, TargetControl, TargetFeedback}

// Normalize maps the empty target to TargetDefault.
func (t Target) Normalize() Target {
	if t == "" {
		return TargetDefault
	}
	return t
}

// Envelope is the unit transmitted over the peer channel.
type Envelope struct {
	Payload []byte `json:"payload"`
	// SendTimestamp is in milliseconds on the sender's clock.
	SendTimestamp float64 `json:"timestamp"`
	Target        Target  `json:"target"`
}

// Size returns the payload length in bytes.
func (e Envelope) Size() int {
	return len(e.Payload)
}

// Unstamped is the timestamp that asks the connection manager to stamp an
// outbound message with its own clock. Zero is a valid timestamp.
func Unstamped() float64 {
	return math.NaN()
}

// IsUnstamped reports whether ts is the Unstamped marker.
func IsUnstamped(ts float64) bool {
	return math.IsNaN(ts)
}

// TimestampOrNow maps an omitted timestamp to Unstamped.
func TimestampOrNow(ts *float64) float64 {
	if ts == nil {
		return Unstamped()
	}
	return *ts
}
