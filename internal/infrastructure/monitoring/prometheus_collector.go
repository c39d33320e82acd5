package monitoring

import (
	"midilink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector mirrors bridge statistics into Prometheus metrics. It
// implements services.StatsObserver.
type PrometheusCollector struct {
	// Counters
	messagesReceived *prometheus.CounterVec
	bytesReceived    prometheus.Counter
	messagesSent     *prometheus.CounterVec
	bytesSent        *prometheus.CounterVec
	sendFailures     *prometheus.CounterVec
	forwarded        *prometheus.CounterVec
	stateChanges     *prometheus.CounterVec

	// Histograms
	peerLatency prometheus.Histogram

	connectionState *prometheus.GaugeVec
}

// NewPrometheusCollector registers the bridge metrics with reg. A nil reg
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midilink_messages_received_total",
			Help: "MIDI envelopes received from the peer channel",
		}, []string{"target"}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "midilink_bytes_received_total",
			Help: "MIDI payload bytes received from the peer channel",
		}),

		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midilink_messages_sent_total",
			Help: "MIDI messages delivered per destination transport",
		}, []string{"destination"}),

		bytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midilink_bytes_sent_total",
			Help: "Bytes delivered per destination transport",
		}, []string{"destination"}),

		sendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midilink_send_failures_total",
			Help: "Deliveries that failed per destination transport",
		}, []string{"destination"}),

		forwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midilink_forwarded_total",
			Help: "Messages forwarded by the bridge per edge",
		}, []string{"from", "to"}),

		stateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "midilink_connection_state_changes_total",
			Help: "Connection state transitions by resulting state",
		}, []string{"state"}),

		peerLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "midilink_peer_latency_seconds",
			Help:    "Send-to-receive latency of peer envelopes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "midilink_connection_state",
			Help: "1 for the current connection state, 0 for the others",
		}, []string{"state"}),
	}
}

var allStates = []domain.ConnectionState{
	domain.StateIdle,
	domain.StateOffering,
	domain.StateAnswering,
	domain.StateConnected,
	domain.StateDisconnected,
	domain.StateFailed,
	domain.StateClosed,
}

func (p *PrometheusCollector) ObserveReceived(target domain.Target, bytes int, latencyMs float64) {
	p.messagesReceived.WithLabelValues(string(target)).Inc()
	p.bytesReceived.Add(float64(bytes))
	if latencyMs >= 0 {
		p.peerLatency.Observe(latencyMs / 1000)
	}
}

func (p *PrometheusCollector) ObserveSent(destination domain.Transport, bytes int) {
	p.messagesSent.WithLabelValues(string(destination)).Inc()
	p.bytesSent.WithLabelValues(string(destination)).Add(float64(bytes))
}

func (p *PrometheusCollector) ObserveSendFailure(destination domain.Transport) {
	p.sendFailures.WithLabelValues(string(destination)).Inc()
}

func (p *PrometheusCollector) ObserveForwarded(edge domain.Edge) {
	p.forwarded.WithLabelValues(string(edge.From), string(edge.To)).Inc()
}

func (p *PrometheusCollector) ObserveState(state domain.ConnectionState) {
	p.stateChanges.WithLabelValues(string(state)).Inc()
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1
		}
		p.connectionState.WithLabelValues(string(s)).Set(value)
	}
}
