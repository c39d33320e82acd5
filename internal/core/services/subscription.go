package services

import (
	"sync"

	"midilink/internal/core/domain"

	"go.uber.org/zap"
)

// Subscription is the host's handle on manager notifications. Events are
// delivered on C in publish order; C is closed by Unsubscribe.
type Subscription struct {
	C <-chan domain.Event

	ch   chan domain.Event
	n    *notifier
	once sync.Once
}

// Unsubscribe detaches the subscriber and closes C. Safe to call repeatedly.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.n.remove(s)
	})
}

// notifier fans events into a bounded queue for at most one subscriber.
type notifier struct {
	mu      sync.Mutex
	sub     *Subscription
	dropped uint64
	logger  *zap.SugaredLogger
}

func newNotifier(logger *zap.SugaredLogger) *notifier {
	return &notifier{logger: logger}
}

func (n *notifier) subscribe(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = 1
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub != nil {
		return nil, domain.ErrAlreadySubscribed
	}
	ch := make(chan domain.Event, buffer)
	sub := &Subscription{C: ch, ch: ch, n: n}
	n.sub = sub
	return sub, nil
}

func (n *notifier) remove(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub == sub {
		n.sub = nil
	}
	close(sub.ch)
}

// publish never blocks. When the subscriber falls behind the event is
// dropped and counted.
func (n *notifier) publish(ev domain.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.sub == nil {
		return
	}
	select {
	case n.sub.ch <- ev:
	default:
		n.dropped++
		n.logger.Warnw("notification queue full, event dropped",
			"kind", ev.Kind,
			"dropped_total", n.dropped,
		)
	}
}
