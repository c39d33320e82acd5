package webrtc

import (
	"context"
	"testing"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type linkEvents struct {
	opened chan struct{}
	frames chan []byte
	states chan domain.ConnectionState
}

func newLinkEvents() (*linkEvents, ports.LinkHandlers) {
	ev := &linkEvents{
		opened: make(chan struct{}, 1),
		frames: make(chan []byte, 16),
		states: make(chan domain.ConnectionState, 4),
	}
	return ev, ports.LinkHandlers{
		OnOpen:        func() { ev.opened <- struct{}{} },
		OnFrame:       func(frame []byte) { ev.frames <- frame },
		OnStateChange: func(state domain.ConnectionState, _ error) { ev.states <- state },
	}
}

func TestPeerTransport_SendBeforeOpen(t *testing.T) {
	transport := NewPeerTransport(Config{}, zap.NewNop().Sugar())
	_, handlers := newLinkEvents()

	link, err := transport.NewLink(domain.RoleInitiator, handlers)
	require.NoError(t, err)
	defer link.Close()

	assert.ErrorIs(t, link.Send([]byte("x")), domain.ErrNotConnected)

	require.NoError(t, link.Close())
	assert.ErrorIs(t, link.Send([]byte("x")), domain.ErrTransportClosed)
	assert.NoError(t, link.Close())
}

func TestPeerTransport_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping ICE loopback test in short mode")
	}

	config := Config{ChannelLabel: "midi", GatheringTimeout: 5 * time.Second, IncludeLoopback: true}
	transport := NewPeerTransport(config, zap.NewNop().Sugar())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	offerEvents, offerHandlers := newLinkEvents()
	answerEvents, answerHandlers := newLinkEvents()

	initiator, err := transport.NewLink(domain.RoleInitiator, offerHandlers)
	require.NoError(t, err)
	defer initiator.Close()
	responder, err := transport.NewLink(domain.RoleResponder, answerHandlers)
	require.NoError(t, err)
	defer responder.Close()

	offer, err := initiator.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SDPOffer, offer.Type)
	assert.Contains(t, offer.SDP, "a=candidate")

	// exercise the codec on the real SDP as the host would
	codec := NewSignalingCodec(true)
	text, err := codec.Encode(offer)
	require.NoError(t, err)
	offer, err = codec.Decode(text)
	require.NoError(t, err)

	answer, err := responder.AcceptOffer(ctx, offer)
	require.NoError(t, err)
	assert.Equal(t, domain.SDPAnswer, answer.Type)
	require.NoError(t, initiator.AcceptAnswer(ctx, answer))

	for _, opened := range []chan struct{}{offerEvents.opened, answerEvents.opened} {
		select {
		case <-opened:
		case <-ctx.Done():
			t.Fatal("data channel did not open")
		}
	}

	frames := [][]byte{[]byte(`{"data":[144,60,100],"timestamp":1}`), []byte(`{"data":[128,60,0],"timestamp":2}`)}
	for _, f := range frames {
		require.NoError(t, initiator.Send(f))
	}
	for _, want := range frames {
		select {
		case got := <-answerEvents.frames:
			assert.Equal(t, want, got)
		case <-ctx.Done():
			t.Fatal("frame not received")
		}
	}

	require.NoError(t, initiator.Close())
	select {
	case state := <-answerEvents.states:
		assert.True(t, state.Terminal())
	case <-ctx.Done():
		t.Fatal("responder did not observe the close")
	}
}
