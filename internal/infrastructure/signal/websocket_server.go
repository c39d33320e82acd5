// Package signal serves the host's WebSocket feed: manager notifications are
// pushed to every connected client, and clients drive signaling and send MIDI
// with JSON request frames.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"midilink/internal/core/domain"
	"midilink/internal/core/services"
	apperrors "midilink/pkg/errors"
	"midilink/pkg/tracing"
	"midilink/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	// The control surface listens on loopback for the local host application.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Bridge is the part of the connection manager the feed drives.
type Bridge interface {
	Subscribe() (*services.Subscription, error)
	Initialize(ctx context.Context, role domain.Role) error
	CreateOffer(ctx context.Context) (string, error)
	HandleOffer(ctx context.Context, encoded string) (string, error)
	HandleAnswer(ctx context.Context, encoded string) error
	Close() error
	SendMIDI(payload []byte, timestamp float64, target domain.Target) bool
}

type Options struct {
	// MessagesPerSecond limits inbound frames per connection. Zero disables
	// the limit.
	MessagesPerSecond float64
	Burst             int
	// MaxConcurrent caps open connections. Zero means unlimited.
	MaxConcurrent  int
	MaxMessageSize int64

	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ClientBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 2 * o.PingInterval
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.ClientBuffer <= 0 {
		o.ClientBuffer = 256
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 1 << 20
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// WebSocketServer owns the single manager subscription and fans its events
// out to WebSocket clients.
type WebSocketServer struct {
	bridge Bridge
	opts   Options

	clients map[string]*client
	mu      sync.RWMutex

	dropped atomic.Uint64
	done    chan struct{}

	logger *zap.SugaredLogger
}

type client struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// push queues raw without blocking. It reports false when the buffer is full.
func (c *client) push(raw []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- raw:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Request is an inbound client frame.
type Request struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`

	Data      []int         `json:"data,omitempty"`
	Timestamp *float64      `json:"timestamp,omitempty"`
	Target    domain.Target `json:"target,omitempty"`
}

// Response answers one Request on the connection that sent it.
type Response struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	Description string `json:"description,omitempty"`
	Sent        *bool  `json:"sent,omitempty"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
}

// EventMessage is a notification as pushed to clients. MIDI bytes are sent
// as a number array.
type EventMessage struct {
	Type string `json:"type"`
	domain.Event
	Data      []int   `json:"data,omitempty"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

func NewWebSocketServer(bridge Bridge, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebSocketServer{
		bridge:  bridge,
		opts:    opts.withDefaults(),
		clients: make(map[string]*client),
		done:    make(chan struct{}),
		logger:  logger,
	}
}

// Start takes the bridge's notification subscription and broadcasts events
// until ctx is done or the subscription ends. All clients are disconnected
// when it stops; Done is closed then.
func (s *WebSocketServer) Start(ctx context.Context) error {
	sub, err := s.bridge.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe to bridge events: %w", err)
	}
	go s.run(ctx, sub)
	return nil
}

// Done is closed once the broadcast loop started by Start has stopped.
func (s *WebSocketServer) Done() <-chan struct{} {
	return s.done
}

func (s *WebSocketServer) run(ctx context.Context, sub *services.Subscription) {
	defer close(s.done)
	defer sub.Unsubscribe()
	defer s.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			s.broadcast(ev)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Dropped returns how many outbound frames were discarded for slow clients.
func (s *WebSocketServer) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if max := s.opts.MaxConcurrent; max > 0 && s.ClientCount() >= max {
		s.logger.Warnw("websocket connection rejected", "reason", "max concurrent connections", "limit", max)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.opts.ClientBuffer),
	}
	if s.opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()
	s.logger.Infow("websocket client connected", "client_id", c.id, "remote", r.RemoteAddr)

	go s.writePump(c)
	s.readPump(r.Context(), c)

	s.unregister(c)
	s.logger.Infow("websocket client disconnected", "client_id", c.id)
}

func (s *WebSocketServer) readPump(ctx context.Context, c *client) {
	c.conn.SetReadLimit(s.opts.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from websocket client", "client_id", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.reply(c, errorResponse("", apperrors.NewInvalidInputError(fmt.Sprintf("invalid frame: %v", err))))
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			s.reply(c, errorResponse(req.ID, apperrors.NewRateLimitError()))
			continue
		}

		resp, err := s.handleRequest(ctx, req)
		if err != nil {
			s.logger.Infow("websocket request failed", "client_id", c.id, "type", req.Type, "error", err)
			resp = errorResponse(req.ID, err)
		}
		s.reply(c, resp)
	}
}

func (s *WebSocketServer) handleRequest(ctx context.Context, req Request) (resp Response, err error) {
	ctx, span := tracing.TraceFeedRequest(ctx, req.Type, string(req.Target))
	defer func() {
		tracing.RecordError(ctx, err)
		span.End()
	}()

	switch req.Type {
	case "midi":
		payload, err := validation.PayloadFromInts(req.Data)
		if err != nil {
			return Response{}, err
		}
		if err := validation.ValidateTarget(string(req.Target)); err != nil {
			return Response{}, err
		}
		sent := s.bridge.SendMIDI(payload, domain.TimestampOrNow(req.Timestamp), req.Target)
		return Response{Type: "sent", ID: req.ID, Sent: &sent}, nil
	case "initialize":
		if err := s.bridge.Initialize(ctx, domain.Role(req.Role)); err != nil {
			return Response{}, err
		}
		return Response{Type: "ok", ID: req.ID}, nil
	case "create_offer":
		offer, err := s.bridge.CreateOffer(ctx)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: "offer", ID: req.ID, Description: offer}, nil
	case "handle_offer":
		answer, err := s.bridge.HandleOffer(ctx, req.Description)
		if err != nil {
			return Response{}, err
		}
		return Response{Type: "answer", ID: req.ID, Description: answer}, nil
	case "handle_answer":
		if err := s.bridge.HandleAnswer(ctx, req.Description); err != nil {
			return Response{}, err
		}
		return Response{Type: "ok", ID: req.ID}, nil
	case "close":
		if err := s.bridge.Close(); err != nil {
			return Response{}, err
		}
		return Response{Type: "ok", ID: req.ID}, nil
	case "":
		return Response{}, apperrors.NewInvalidInputError("message type is required")
	default:
		return Response{}, apperrors.NewInvalidInputError(fmt.Sprintf("unknown message type: %s", req.Type))
	}
}

func errorResponse(id string, err error) Response {
	resp := Response{Type: "error", ID: id, Message: err.Error()}
	if appErr := apperrors.GetAppError(err); appErr != nil {
		resp.Code = string(appErr.Code)
		resp.Message = appErr.Message
	}
	return resp
}

func (s *WebSocketServer) reply(c *client, resp Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Errorw("encoding websocket response failed", "error", err)
		return
	}
	s.enqueue(c, raw)
}

func (s *WebSocketServer) broadcast(ev domain.Event) {
	msg := EventMessage{Type: "event", Event: ev}
	if ev.Envelope != nil {
		msg.Data = intsFromPayload(ev.Envelope.Payload)
		msg.Timestamp = ev.Envelope.SendTimestamp
		msg.Event.Envelope = nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		s.logger.Errorw("encoding event failed", "kind", ev.Kind, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		s.enqueue(c, raw)
	}
}

func intsFromPayload(payload []byte) []int {
	out := make([]int, len(payload))
	for i, b := range payload {
		out[i] = int(b)
	}
	return out
}

// enqueue never blocks; frames for a client whose buffer is full are
// dropped.
func (s *WebSocketServer) enqueue(c *client, raw []byte) {
	if !c.push(raw) {
		n := s.dropped.Add(1)
		s.logger.Warnw("websocket client too slow, frame dropped", "client_id", c.id, "dropped_total", n)
	}
}

func (s *WebSocketServer) writePump(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				s.logger.Infow("error writing to websocket client", "client_id", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "client_id", c.id, "error", err)
				return
			}
		}
	}
}

func (s *WebSocketServer) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.close()
}

func (s *WebSocketServer) closeAll() {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		clients = append(clients, c)
		delete(s.clients, id)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
