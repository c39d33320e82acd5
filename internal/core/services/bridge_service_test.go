package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"midilink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu  sync.Mutex
	got []domain.Envelope
	err error
}

func (s *recordingSink) Deliver(env domain.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, env)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func newTestBridge(config domain.BridgeConfig) (*Bridge, *StatsCollector, map[domain.Transport]*recordingSink) {
	stats := NewStatsCollector(nil)
	b := NewBridge(config, stats, zap.NewNop().Sugar())
	sinks := make(map[domain.Transport]*recordingSink)
	for _, tr := range domain.Transports {
		s := &recordingSink{}
		sinks[tr] = s
		b.Attach(tr, s)
	}
	return b, stats, sinks
}

func configFromBits(bits int) domain.BridgeConfig {
	return domain.BridgeConfig{
		HardwareToPeer:    bits&1 != 0,
		HardwareToNetwork: bits&2 != 0,
		PeerToHardware:    bits&4 != 0,
		PeerToNetwork:     bits&8 != 0,
		NetworkToHardware: bits&16 != 0,
		NetworkToPeer:     bits&32 != 0,
	}
}

func TestBridge_NeverEchoesToOrigin(t *testing.T) {
	env := domain.Envelope{Payload: []byte{0x90, 60, 100}, SendTimestamp: 1, Target: domain.TargetDefault}

	for bits := 0; bits < 64; bits++ {
		config := configFromBits(bits)
		for _, origin := range domain.Transports {
			t.Run(fmt.Sprintf("%06b/%s", bits, origin), func(t *testing.T) {
				b, _, sinks := newTestBridge(config)
				res := b.Forward(origin, env)

				assert.Zero(t, sinks[origin].count(), "message echoed to origin")
				assert.NotContains(t, res.Delivered, origin)
				for _, dest := range domain.Transports {
					if dest == origin {
						continue
					}
					want := 0
					if config.Allows(origin, dest) {
						want = 1
					}
					assert.Equal(t, want, sinks[dest].count(), "destination %s", dest)
				}
			})
		}
	}
}

func TestBridge_HardwareToPeerOnly(t *testing.T) {
	b, stats, sinks := newTestBridge(domain.BridgeConfig{HardwareToPeer: true})

	res := b.Forward(domain.TransportHardware, domain.Envelope{Payload: []byte{0x90, 60, 100}, Target: domain.TargetDefault})

	assert.Equal(t, []domain.Transport{domain.TransportPeer}, res.Delivered)
	assert.Equal(t, 1, sinks[domain.TransportPeer].count())
	assert.Zero(t, sinks[domain.TransportNetwork].count())
	assert.Zero(t, sinks[domain.TransportHardware].count())

	snap := stats.Snapshot()
	assert.Equal(t, uint64(1), snap.Forwarded["hardware->peer"])
	assert.Equal(t, uint64(1), snap.MessagesSent)
	assert.Equal(t, uint64(3), snap.BytesSent)
}

func TestBridge_PreservesTarget(t *testing.T) {
	b, _, sinks := newTestBridge(domain.DefaultBridgeConfig())

	b.Forward(domain.TransportPeer, domain.Envelope{Payload: []byte{0xF8}, Target: "drums"})

	require.Equal(t, 1, sinks[domain.TransportHardware].count())
	assert.Equal(t, domain.Target("drums"), sinks[domain.TransportHardware].got[0].Target)
	assert.Equal(t, domain.Target("drums"), sinks[domain.TransportNetwork].got[0].Target)
}

func TestBridge_FailureDoesNotBlockOtherDestinations(t *testing.T) {
	b, stats, sinks := newTestBridge(domain.DefaultBridgeConfig())
	sinks[domain.TransportHardware].err = errors.New("port unplugged")

	res := b.Forward(domain.TransportPeer, domain.Envelope{Payload: []byte{0x80, 60, 0}})

	assert.Equal(t, []domain.Transport{domain.TransportHardware}, res.Failed)
	assert.Equal(t, []domain.Transport{domain.TransportNetwork}, res.Delivered)
	assert.Equal(t, 1, sinks[domain.TransportNetwork].count())
	assert.Equal(t, uint64(1), stats.Snapshot().SendFailures)
}

func TestBridge_NotConnectedIsSkipped(t *testing.T) {
	b, stats, sinks := newTestBridge(domain.DefaultBridgeConfig())
	sinks[domain.TransportPeer].err = domain.ErrNotConnected

	res := b.Forward(domain.TransportHardware, domain.Envelope{Payload: []byte{0xFE}})

	assert.Contains(t, res.Skipped, domain.TransportPeer)
	assert.Empty(t, res.Failed)
	assert.Zero(t, stats.Snapshot().SendFailures)
}

func TestBridge_DetachedDestinationIsSkipped(t *testing.T) {
	b, _, _ := newTestBridge(domain.DefaultBridgeConfig())
	b.Detach(domain.TransportNetwork)

	res := b.Forward(domain.TransportHardware, domain.Envelope{Payload: []byte{0xFA}})
	assert.Equal(t, []domain.Transport{domain.TransportPeer}, res.Delivered)
	assert.Contains(t, res.Skipped, domain.TransportNetwork)
}

func TestBridge_PerOriginOrder(t *testing.T) {
	b, _, sinks := newTestBridge(domain.DefaultBridgeConfig())

	for i := 0; i < 100; i++ {
		b.Forward(domain.TransportNetwork, domain.Envelope{Payload: []byte{0x90, byte(i), 1}})
	}

	got := sinks[domain.TransportPeer].got
	require.Len(t, got, 100)
	for i, env := range got {
		assert.Equal(t, byte(i), env.Payload[1])
	}
}

func TestBridge_SetConfig(t *testing.T) {
	b, _, sinks := newTestBridge(domain.DefaultBridgeConfig())
	b.SetConfig(domain.BridgeConfig{})

	b.Forward(domain.TransportHardware, domain.Envelope{Payload: []byte{0xFA}})
	assert.Zero(t, sinks[domain.TransportPeer].count())
	assert.Equal(t, domain.BridgeConfig{}, b.Config())
}
