package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/services"
	"midilink/internal/testutil"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type feedFixture struct {
	manager *services.ConnectionManager
	channel *testutil.FakeChannelTransport
	server  *WebSocketServer
	http    *httptest.Server
	stop    context.CancelFunc
}

func newFeedFixture(t *testing.T, opts Options) *feedFixture {
	t.Helper()

	f := &feedFixture{channel: &testutil.FakeChannelTransport{AutoOpen: true}}
	m, err := services.NewConnectionManager(services.ManagerConfig{
		HandshakeTimeout: time.Second,
		Bridge:           domain.DefaultBridgeConfig(),
	}, services.Dependencies{
		Channel:   f.channel,
		Signaling: testutil.JSONDescriptions{},
		Clock:     testutil.NewFixedClock(1000),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	f.manager = m

	f.server = NewWebSocketServer(m, opts, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.server.Start(ctx))
	f.stop = cancel

	f.http = httptest.NewServer(http.HandlerFunc(f.server.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		<-f.server.Done()
		f.http.Close()
		_ = m.Shutdown()
	})
	return f
}

func (f *feedFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.server.ClientCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

// readUntil returns the first frame of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame))
		if frame["type"] == frameType {
			return frame
		}
	}
}

func TestWebSocketServer_SignalingOverFeed(t *testing.T) {
	f := newFeedFixture(t, Options{})
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Request{Type: "initialize", ID: "1", Role: "initiator"}))
	resp := readUntil(t, conn, "ok")
	assert.Equal(t, "1", resp["id"])

	require.NoError(t, conn.WriteJSON(Request{Type: "create_offer", ID: "2"}))
	resp = readUntil(t, conn, "offer")
	assert.NotEmpty(t, resp["description"])

	answer, err := testutil.JSONDescriptions{}.Encode(domain.SessionDescription{Type: domain.SDPAnswer, SDP: "remote"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Request{Type: "handle_answer", ID: "3", Description: answer}))
	resp = readUntil(t, conn, "ok")
	assert.Equal(t, "3", resp["id"])
	assert.Equal(t, domain.StateConnected, f.manager.State())
}

func TestWebSocketServer_BroadcastsMessageEvents(t *testing.T) {
	f := newFeedFixture(t, Options{})
	first := f.dial(t)
	second := f.dial(t)
	require.Eventually(t, func() bool { return f.server.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.manager.Initialize(context.Background(), domain.RoleResponder))
	offer, _ := testutil.JSONDescriptions{}.Encode(domain.SessionDescription{Type: domain.SDPOffer, SDP: "remote"})
	_, err := f.manager.HandleOffer(context.Background(), offer)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.manager.State() == domain.StateConnected }, time.Second, 5*time.Millisecond)

	f.channel.Last().Deliver([]byte(`{"data":[144,60,127],"timestamp":990,"target":"synth"}`))

	for _, conn := range []*websocket.Conn{first, second} {
		var ev EventMessage
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		for ev.Kind != domain.EventMessage {
			_, raw, err := conn.ReadMessage()
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(raw, &ev))
		}
		assert.Equal(t, "event", ev.Type)
		assert.Equal(t, []int{144, 60, 127}, ev.Data)
		assert.Equal(t, 990.0, ev.Timestamp)
		assert.Equal(t, domain.TargetSynth, ev.Target)
		assert.Nil(t, ev.Envelope)
	}
}

func TestWebSocketServer_MIDIFrame(t *testing.T) {
	f := newFeedFixture(t, Options{})
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Request{Type: "midi", ID: "a", Data: []int{0x90, 60, 100}}))
	resp := readUntil(t, conn, "sent")
	assert.Equal(t, false, resp["sent"], "no session yet")

	require.NoError(t, conn.WriteJSON(Request{Type: "midi", ID: "b", Data: []int{0x90, 300}}))
	resp = readUntil(t, conn, "error")
	assert.Equal(t, "INVALID_PAYLOAD", resp["code"])

	require.NoError(t, conn.WriteJSON(Request{Type: "midi", ID: "c", Data: []int{0xF8}, Target: "bad\x01"}))
	resp = readUntil(t, conn, "error")
	assert.Equal(t, "INVALID_INPUT", resp["code"])
}

func TestWebSocketServer_ErrorsCarryCodes(t *testing.T) {
	f := newFeedFixture(t, Options{})
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(Request{Type: "initialize", Role: "initiator"}))
	readUntil(t, conn, "ok")
	require.NoError(t, conn.WriteJSON(Request{Type: "handle_offer", ID: "x", Description: "!!!"}))
	resp := readUntil(t, conn, "error")
	assert.Equal(t, "x", resp["id"])
	assert.Equal(t, "SIGNALING_ERROR", resp["code"])

	require.NoError(t, conn.WriteJSON(Request{Type: "bogus"}))
	resp = readUntil(t, conn, "error")
	assert.Equal(t, "INVALID_INPUT", resp["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp = readUntil(t, conn, "error")
	assert.Equal(t, "INVALID_INPUT", resp["code"])
}

func TestWebSocketServer_RateLimit(t *testing.T) {
	f := newFeedFixture(t, Options{MessagesPerSecond: 0.001, Burst: 2})
	conn := f.dial(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.WriteJSON(Request{Type: "midi", Data: []int{0xF8}}))
	}
	readUntil(t, conn, "sent")
	readUntil(t, conn, "sent")
	resp := readUntil(t, conn, "error")
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp["code"])
}

func TestWebSocketServer_MaxConcurrent(t *testing.T) {
	f := newFeedFixture(t, Options{MaxConcurrent: 1})
	f.dial(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketServer_MessageSizeLimit(t *testing.T) {
	f := newFeedFixture(t, Options{MaxMessageSize: 64})
	conn := f.dial(t)

	big := Request{Type: "midi", Data: make([]int, 100)}
	require.NoError(t, conn.WriteJSON(big))

	require.Eventually(t, func() bool { return f.server.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketServer_SecondFeedRejected(t *testing.T) {
	f := newFeedFixture(t, Options{})

	other := NewWebSocketServer(f.manager, Options{}, nil)
	assert.ErrorIs(t, other.Start(context.Background()), domain.ErrAlreadySubscribed)
}

func TestWebSocketServer_StopDisconnectsClients(t *testing.T) {
	f := newFeedFixture(t, Options{})
	conn := f.dial(t)

	// closing the session does not end the feed
	require.NoError(t, f.manager.Close())
	assert.Equal(t, 1, f.server.ClientCount())

	f.stop()
	<-f.server.Done()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.Equal(t, 0, f.server.ClientCount())
}
