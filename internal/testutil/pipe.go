package testutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"
)

// PipeTransport connects links created from the same transport to each
// other in memory. The offer carries the initiator's link id so the
// responder can find its counterpart. Frames are delivered in order on a
// per-link goroutine.
type PipeTransport struct {
	mu    sync.Mutex
	next  int
	links map[int]*pipeLink
}

func NewPipeTransport() *PipeTransport {
	return &PipeTransport{links: make(map[int]*pipeLink)}
}

func (t *PipeTransport) NewLink(role domain.Role, handlers ports.LinkHandlers) (ports.PeerLink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	link := &pipeLink{
		id:        t.next,
		role:      role,
		transport: t,
		handlers:  handlers,
		inbox:     make(chan []byte, 1024),
		done:      make(chan struct{}),
	}
	t.links[link.id] = link
	go link.pump()
	return link, nil
}

func (t *PipeTransport) lookup(id int) (*pipeLink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.links[id]
	return l, ok
}

type pipeLink struct {
	id        int
	role      domain.Role
	transport *PipeTransport
	handlers  ports.LinkHandlers
	inbox     chan []byte
	done      chan struct{}

	mu        sync.Mutex
	remote    *pipeLink
	closed    bool
	closeOnce sync.Once
}

func (l *pipeLink) pump() {
	for {
		select {
		case frame := <-l.inbox:
			l.handlers.OnFrame(frame)
		case <-l.done:
			return
		}
	}
}

func (l *pipeLink) CreateOffer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("pipe:%d", l.id)}, nil
}

func (l *pipeLink) AcceptOffer(_ context.Context, offer domain.SessionDescription) (domain.SessionDescription, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(offer.SDP, "pipe:"))
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("not a pipe offer: %w", err)
	}
	remote, ok := l.transport.lookup(id)
	if !ok {
		return domain.SessionDescription{}, fmt.Errorf("no pipe link %d", id)
	}
	l.mu.Lock()
	l.remote = remote
	l.mu.Unlock()
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("pipe:%d", l.id)}, nil
}

func (l *pipeLink) AcceptAnswer(_ context.Context, answer domain.SessionDescription) error {
	id, err := strconv.Atoi(strings.TrimPrefix(answer.SDP, "pipe:"))
	if err != nil {
		return fmt.Errorf("not a pipe answer: %w", err)
	}
	remote, ok := l.transport.lookup(id)
	if !ok {
		return fmt.Errorf("no pipe link %d", id)
	}
	l.mu.Lock()
	l.remote = remote
	l.mu.Unlock()

	// both ends open once the initiator has the answer
	go remote.handlers.OnOpen()
	go l.handlers.OnOpen()
	return nil
}

func (l *pipeLink) Send(frame []byte) error {
	l.mu.Lock()
	remote, closed := l.remote, l.closed
	l.mu.Unlock()
	if closed || remote == nil {
		return domain.ErrTransportClosed
	}
	select {
	case remote.inbox <- append([]byte(nil), frame...):
		return nil
	case <-remote.done:
		return domain.ErrTransportClosed
	}
}

func (l *pipeLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		remote := l.remote
		l.mu.Unlock()
		close(l.done)
		if remote != nil {
			go remote.handlers.OnStateChange(domain.StateDisconnected, nil)
		}
	})
	return nil
}
