package services

import (
	"errors"
	"sync"

	"midilink/internal/core/domain"
	apperrors "midilink/pkg/errors"

	"go.uber.org/zap"
)

// Sink delivers an envelope to one transport.
type Sink interface {
	Deliver(env domain.Envelope) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(env domain.Envelope) error

func (f SinkFunc) Deliver(env domain.Envelope) error { return f(env) }

// ForwardResult reports what happened to each candidate destination.
type ForwardResult struct {
	Delivered []domain.Transport
	Failed    []domain.Transport
	// Skipped destinations were disabled, absent, or not ready.
	Skipped []domain.Transport
}

// Bridge forwards envelopes between transports according to BridgeConfig.
// Messages are never forwarded back to the transport they came from, and the
// target tag is passed through untouched.
type Bridge struct {
	mu     sync.RWMutex
	config domain.BridgeConfig
	sinks  map[domain.Transport]Sink

	// one lock per origin keeps each origin->destination pair FIFO
	originLocks map[domain.Transport]*sync.Mutex

	stats  *StatsCollector
	logger *zap.SugaredLogger
}

// NewBridge creates a bridge with no sinks attached.
func NewBridge(config domain.BridgeConfig, stats *StatsCollector, logger *zap.SugaredLogger) *Bridge {
	locks := make(map[domain.Transport]*sync.Mutex, len(domain.Transports))
	for _, t := range domain.Transports {
		locks[t] = &sync.Mutex{}
	}
	return &Bridge{
		config:      config,
		sinks:       make(map[domain.Transport]Sink),
		originLocks: locks,
		stats:       stats,
		logger:      logger,
	}
}

// Attach registers the sink for a transport, replacing any previous one.
func (b *Bridge) Attach(transport domain.Transport, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[transport] = sink
}

// Detach removes the sink for a transport.
func (b *Bridge) Detach(transport domain.Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, transport)
}

func (b *Bridge) Config() domain.BridgeConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

func (b *Bridge) SetConfig(config domain.BridgeConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config = config
}

// Forward delivers env, which entered from origin, to every other transport
// whose edge is enabled. A failing destination does not stop delivery to the
// others.
func (b *Bridge) Forward(origin domain.Transport, env domain.Envelope) ForwardResult {
	var result ForwardResult

	lock, ok := b.originLocks[origin]
	if !ok {
		b.logger.Warnw("dropping message from unknown origin", "origin", origin)
		return result
	}
	lock.Lock()
	defer lock.Unlock()

	b.mu.RLock()
	config := b.config
	sinks := make(map[domain.Transport]Sink, len(b.sinks))
	for t, s := range b.sinks {
		sinks[t] = s
	}
	b.mu.RUnlock()

	for _, dest := range domain.Transports {
		if dest == origin {
			continue
		}
		sink, attached := sinks[dest]
		if !config.Allows(origin, dest) || !attached {
			result.Skipped = append(result.Skipped, dest)
			continue
		}

		if err := sink.Deliver(env); err != nil {
			if errors.Is(err, domain.ErrNotConnected) {
				result.Skipped = append(result.Skipped, dest)
				continue
			}
			result.Failed = append(result.Failed, dest)
			b.stats.RecordSendFailure(dest)
			b.logger.Warnw("bridge delivery failed",
				"origin", origin,
				"destination", dest,
				"target", env.Target,
				"error", apperrors.NewSendFailureError(string(dest), err),
			)
			continue
		}

		result.Delivered = append(result.Delivered, dest)
		b.stats.RecordSent(dest, env.Size())
		b.stats.RecordForwarded(domain.Edge{From: origin, To: dest})
	}

	if len(result.Delivered) > 0 {
		b.logger.Debugw("message bridged",
			"origin", origin,
			"destinations", result.Delivered,
			"target", env.Target,
			"bytes", env.Size(),
		)
	}
	return result
}
