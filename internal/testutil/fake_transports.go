// Package testutil provides in-memory capability fakes for exercising the
// connection core without a real WebRTC stack, MIDI driver or network.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"
)

// FakeChannelTransport hands out FakeLinks and keeps them for inspection.
type FakeChannelTransport struct {
	// AutoOpen makes AcceptOffer/AcceptAnswer open the channel
	// asynchronously, as a real transport would once ICE completes.
	AutoOpen bool
	// NewLinkErr fails every NewLink call.
	NewLinkErr error

	mu    sync.Mutex
	links []*FakeLink
}

func (t *FakeChannelTransport) NewLink(role domain.Role, handlers ports.LinkHandlers) (ports.PeerLink, error) {
	if t.NewLinkErr != nil {
		return nil, t.NewLinkErr
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	link := &FakeLink{
		Role:     role,
		handlers: handlers,
		autoOpen: t.AutoOpen,
		index:    len(t.links),
	}
	t.links = append(t.links, link)
	return link, nil
}

// Links returns every link created so far.
func (t *FakeChannelTransport) Links() []*FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeLink(nil), t.links...)
}

// Last returns the most recently created link, or nil.
func (t *FakeChannelTransport) Last() *FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

// FakeLink records everything the manager does with a link. Tests drive the
// remote side with Open, Deliver, Fail and Disconnect; those call the
// handlers synchronously and must not be used while holding manager locks.
type FakeLink struct {
	Role domain.Role

	// Errors returned by the matching methods when set.
	OfferErr  error
	AcceptErr error
	AnswerErr error
	SendErr   error
	// Block, when set, makes handshake methods wait for it to close.
	Block chan struct{}

	handlers ports.LinkHandlers
	autoOpen bool
	index    int

	mu     sync.Mutex
	sent   [][]byte
	closed bool
	opened bool
}

func (l *FakeLink) wait(ctx context.Context) error {
	if l.Block == nil {
		return nil
	}
	select {
	case <-l.Block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *FakeLink) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := l.wait(ctx); err != nil {
		return domain.SessionDescription{}, err
	}
	if l.OfferErr != nil {
		return domain.SessionDescription{}, l.OfferErr
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("fake-offer-%d", l.index)}, nil
}

func (l *FakeLink) AcceptOffer(ctx context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	if err := l.wait(ctx); err != nil {
		return domain.SessionDescription{}, err
	}
	if l.AcceptErr != nil {
		return domain.SessionDescription{}, l.AcceptErr
	}
	if l.autoOpen {
		go l.Open()
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("fake-answer-%d", l.index)}, nil
}

func (l *FakeLink) AcceptAnswer(ctx context.Context, _ domain.SessionDescription) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	if l.AnswerErr != nil {
		return l.AnswerErr
	}
	if l.autoOpen {
		go l.Open()
	}
	return nil
}

func (l *FakeLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.ErrTransportClosed
	}
	if l.SendErr != nil {
		return l.SendErr
	}
	l.sent = append(l.sent, append([]byte(nil), frame...))
	return nil
}

func (l *FakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Open signals that the channel is ready. Only the first call has effect.
func (l *FakeLink) Open() {
	l.mu.Lock()
	if l.opened || l.closed {
		l.mu.Unlock()
		return
	}
	l.opened = true
	l.mu.Unlock()
	l.handlers.OnOpen()
}

// Deliver injects an inbound frame as if the remote peer had sent it.
func (l *FakeLink) Deliver(frame []byte) {
	l.handlers.OnFrame(frame)
}

// Fail reports a failed underlying connection.
func (l *FakeLink) Fail(err error) {
	l.handlers.OnStateChange(domain.StateFailed, err)
}

// Disconnect reports that the remote peer went away.
func (l *FakeLink) Disconnect() {
	l.handlers.OnStateChange(domain.StateDisconnected, nil)
}

// Sent returns copies of the frames passed to Send.
func (l *FakeLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

func (l *FakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// JSONDescriptions is a plain JSON DescriptionCodec.
type JSONDescriptions struct{}

func (JSONDescriptions) Encode(desc domain.SessionDescription) (string, error) {
	raw, err := json.Marshal(desc)
	return string(raw), err
}

func (JSONDescriptions) Decode(text string) (domain.SessionDescription, error) {
	var desc domain.SessionDescription
	if err := json.Unmarshal([]byte(text), &desc); err != nil {
		return desc, err
	}
	if desc.Type != domain.SDPOffer && desc.Type != domain.SDPAnswer {
		return desc, fmt.Errorf("unknown description type %q", desc.Type)
	}
	if desc.SDP == "" {
		return desc, errors.New("empty sdp")
	}
	return desc, nil
}

// FixedClock returns a settable timestamp in milliseconds.
type FixedClock struct {
	mu sync.Mutex
	ms float64
}

func NewFixedClock(ms float64) *FixedClock { return &FixedClock{ms: ms} }

func (c *FixedClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

func (c *FixedClock) Set(ms float64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
