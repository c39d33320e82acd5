package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/services"
	"midilink/internal/infrastructure/middleware"
	"midilink/internal/infrastructure/monitoring"
	"midilink/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type apiFixture struct {
	router   *gin.Engine
	manager  *services.ConnectionManager
	channel  *testutil.FakeChannelTransport
	hardware *testutil.FakeHardware
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		channel: &testutil.FakeChannelTransport{AutoOpen: true},
		hardware: &testutil.FakeHardware{PortList: []domain.HardwarePort{
			{ID: "input:0", Name: "Keystation 49", State: domain.PortConnected, Direction: domain.DirectionInput},
		}},
	}
	m, err := services.NewConnectionManager(services.ManagerConfig{
		HandshakeTimeout: time.Second,
		Bridge:           domain.DefaultBridgeConfig(),
	}, services.Dependencies{
		Channel:   f.channel,
		Hardware:  f.hardware,
		Signaling: testutil.JSONDescriptions{},
		Clock:     testutil.NewFixedClock(5000),
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown() })
	f.manager = m

	logger := zap.NewNop().Sugar()
	f.router = gin.New()
	f.router.Use(middleware.RequestIDMiddleware(), middleware.ErrorHandlerMiddleware(logger))
	NewBridgeHandler(m).SetupRoutes(f.router)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func (f *apiFixture) connectResponder(t *testing.T) {
	t.Helper()
	w, _ := f.do(t, http.MethodPost, "/api/v1/session", gin.H{"role": "responder"})
	require.Equal(t, http.StatusCreated, w.Code)

	offer, err := testutil.JSONDescriptions{}.Encode(domain.SessionDescription{Type: domain.SDPOffer, SDP: "browser-offer"})
	require.NoError(t, err)
	w, body := f.do(t, http.MethodPost, "/api/v1/session/handle-offer", gin.H{"description": offer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, body["description"])

	require.Eventually(t, func() bool {
		return f.manager.State() == domain.StateConnected
	}, time.Second, 5*time.Millisecond)
}

func TestBridgeHandler_SessionBeforeInitialize(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["state"])
	assert.NotContains(t, body, "local_description")

	w, body = f.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["connection_state"])
}

func TestBridgeHandler_InitiatorFlow(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/session", gin.H{"role": "initiator"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "idle", body["state"])

	w, body = f.do(t, http.MethodPost, "/api/v1/session/offer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "offering", body["state"])
	assert.NotEmpty(t, body["description"])

	w, body = f.do(t, http.MethodGet, "/api/v1/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["local_description"])

	answer, _ := testutil.JSONDescriptions{}.Encode(domain.SessionDescription{Type: domain.SDPAnswer, SDP: "browser-answer"})
	w, body = f.do(t, http.MethodPost, "/api/v1/session/answer", gin.H{"description": answer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "connected", body["state"])

	w, _ = f.do(t, http.MethodDelete, "/api/v1/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, domain.StateClosed, f.manager.State())
}

func TestBridgeHandler_InvalidRole(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/session", gin.H{"role": "observer"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SIGNALING_ERROR", body["error"])

	w, body = f.do(t, http.MethodPost, "/api/v1/session", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"])
}

func TestBridgeHandler_MalformedOfferLeavesStateUnchanged(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodPost, "/api/v1/session", gin.H{"role": "responder"})
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := f.do(t, http.MethodPost, "/api/v1/session/handle-offer", gin.H{"description": "%%%not-base64"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SIGNALING_ERROR", body["error"])

	_, stats := f.do(t, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, "idle", stats["connection_state"])
}

func TestBridgeHandler_DevicesAndMIDI(t *testing.T) {
	f := newAPIFixture(t)
	f.connectResponder(t)

	w, body := f.do(t, http.MethodGet, "/api/v1/devices/outputs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["devices"], 4)

	w, body = f.do(t, http.MethodGet, "/api/v1/devices/inputs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["devices"])

	w, body = f.do(t, http.MethodPost, "/api/v1/midi", gin.H{"data": []int{0x90, 0x3C, 0x7F}, "target": "synth"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["sent"])

	w, body = f.do(t, http.MethodPost, "/api/v1/devices/outputs/control/send", gin.H{"data": []int{0xB0, 7, 100}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["sent"])

	w, body = f.do(t, http.MethodPost, "/api/v1/midi", gin.H{"data": []int{0xFA}, "timestamp": 0})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["sent"])

	sent := f.channel.Last().Sent()
	require.Len(t, sent, 3)
	assert.Contains(t, string(sent[0]), `"target":"synth"`)
	assert.Contains(t, string(sent[0]), `"timestamp":5000`)
	assert.Contains(t, string(sent[1]), `"target":"control"`)
	assert.Contains(t, string(sent[2]), `"timestamp":0`)

	w, body = f.do(t, http.MethodPost, "/api/v1/devices/outputs/unknown/send", gin.H{"data": []int{0xF8}})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestBridgeHandler_MIDIValidation(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodPost, "/api/v1/midi", gin.H{"data": []int{0x90, 512}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PAYLOAD", body["error"])

	w, body = f.do(t, http.MethodPost, "/api/v1/midi", gin.H{"target": "synth"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["error"])

	w, body = f.do(t, http.MethodPost, "/api/v1/midi", gin.H{"data": []int{0xF8}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["sent"], "not connected")
}

func TestBridgeHandler_BridgeConfig(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/v1/bridge", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["usb_to_webrtc"])

	update := domain.BridgeConfig{HardwareToPeer: true, PeerToHardware: true}
	w, body = f.do(t, http.MethodPut, "/api/v1/bridge", update)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["usb_to_rtpmidi"])
	assert.Equal(t, update, f.manager.BridgeConfig())

	f.connectResponder(t)
	w, body = f.do(t, http.MethodPut, "/api/v1/bridge", domain.DefaultBridgeConfig())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "SESSION_ACTIVE", body["error"])
}

func TestBridgeHandler_Ports(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(t, http.MethodGet, "/api/v1/ports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["hardware_available"])
	ports := body["ports"].([]interface{})
	require.Len(t, ports, 1)
	assert.Equal(t, "Keystation 49", ports[0].(map[string]interface{})["name"])
	assert.Empty(t, body["network_peers"])

	f.hardware.Unavailable = true
	w, body = f.do(t, http.MethodGet, "/api/v1/ports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["hardware_available"])
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	collector := monitoring.NewPrometheusCollector(reg)
	collector.ObserveState(domain.StateConnected)

	state := domain.StateConnected
	checker := monitoring.NewHealthChecker()
	checker.AddSessionCheck(stateFunc(func() domain.ConnectionState { return state }))

	router := gin.New()
	NewHealthHandler(checker, reg).SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	state = domain.StateFailed
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `midilink_connection_state{state="connected"} 1`)
}

type stateFunc func() domain.ConnectionState

func (f stateFunc) State() domain.ConnectionState { return f() }
