package services

import (
	"sync"

	"midilink/internal/core/domain"
)

// StatsObserver mirrors statistics into an external metrics system.
type StatsObserver interface {
	ObserveReceived(target domain.Target, bytes int, latencyMs float64)
	ObserveSent(destination domain.Transport, bytes int)
	ObserveSendFailure(destination domain.Transport)
	ObserveForwarded(edge domain.Edge)
	ObserveState(state domain.ConnectionState)
}

// StatsCollector aggregates counters for one manager instance. Counters only
// grow; a reconnect of the same manager does not reset them.
type StatsCollector struct {
	mu sync.RWMutex

	messagesReceived uint64
	bytesReceived    uint64
	messagesSent     uint64
	bytesSent        uint64
	sendFailures     uint64
	latency          float64
	forwarded        map[domain.Edge]uint64

	observer StatsObserver
}

// NewStatsCollector creates a collector. observer may be nil.
func NewStatsCollector(observer StatsObserver) *StatsCollector {
	return &StatsCollector{
		forwarded: make(map[domain.Edge]uint64),
		observer:  observer,
	}
}

// RecordReceived counts one accepted inbound envelope. latencyMs replaces
// the previous observation.
func (s *StatsCollector) RecordReceived(target domain.Target, bytes int, latencyMs float64) {
	s.mu.Lock()
	s.messagesReceived++
	s.bytesReceived += uint64(bytes)
	s.latency = latencyMs
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveReceived(target, bytes, latencyMs)
	}
}

func (s *StatsCollector) RecordSent(destination domain.Transport, bytes int) {
	s.mu.Lock()
	s.messagesSent++
	s.bytesSent += uint64(bytes)
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveSent(destination, bytes)
	}
}

func (s *StatsCollector) RecordSendFailure(destination domain.Transport) {
	s.mu.Lock()
	s.sendFailures++
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveSendFailure(destination)
	}
}

func (s *StatsCollector) RecordForwarded(edge domain.Edge) {
	s.mu.Lock()
	s.forwarded[edge]++
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveForwarded(edge)
	}
}

func (s *StatsCollector) RecordState(state domain.ConnectionState) {
	if s.observer != nil {
		s.observer.ObserveState(state)
	}
}

// Snapshot returns the counters. ConnectionState and ActiveTargets are
// filled in by the connection manager.
func (s *StatsCollector) Snapshot() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	forwarded := make(map[string]uint64, len(s.forwarded))
	for edge, n := range s.forwarded {
		forwarded[edge.String()] = n
	}
	return domain.Stats{
		MessagesReceived: s.messagesReceived,
		BytesReceived:    s.bytesReceived,
		MessagesSent:     s.messagesSent,
		BytesSent:        s.bytesSent,
		SendFailures:     s.sendFailures,
		Latency:          s.latency,
		Forwarded:        forwarded,
	}
}
