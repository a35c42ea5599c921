package bus

import (
	"sync"
	"sync/atomic"

	"chatcoord/pkg/logger"
	"chatcoord/pkg/metrics"
	"chatcoord/pkg/models"
)

// Bus is an in-memory topic bus. Publish order is preserved per publisher
// per topic; no ordering is guaranteed across concurrent publishers.
// Subscribers receive events on buffered channels; a subscriber that falls
// behind has events dropped rather than stalling the topic.
type Bus struct {
	mu      sync.Mutex
	topics  map[string]*topic
	buffer  int
	dropped uint64
}

type topic struct {
	mu   sync.Mutex
	name string
	subs map[*Subscription]struct{}
}

// Subscription is one subscriber's view of a topic. Consumers range over C
// and call Cancel exactly once when done.
type Subscription struct {
	C     chan models.Event
	bus   *Bus
	topic *topic
	once  sync.Once
}

// New creates a Bus whose subscriber channels buffer up to buffer events.
func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{topics: make(map[string]*topic), buffer: buffer}
}

func (b *Bus) topicFor(name string) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{name: name, subs: make(map[*Subscription]struct{})}
		b.topics[name] = t
	}
	return t
}

// Subscribe registers a new subscriber on the named topic.
func (b *Bus) Subscribe(name string) *Subscription {
	t := b.topicFor(name)
	s := &Subscription{C: make(chan models.Event, b.buffer), bus: b, topic: t}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	return s
}

// Cancel removes the subscription from its topic. The channel is not
// closed; pending events may still be drained by the consumer.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.topic.mu.Lock()
		delete(s.topic.subs, s)
		s.topic.mu.Unlock()
	})
}

// Publish delivers ev to every current subscriber of the named topic. The
// topic lock is held across the fan-out so events from one publisher are
// observed in publish order by every subscriber.
func (b *Bus) Publish(name string, ev models.Event) {
	t := b.topicFor(name)
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.subs {
		select {
		case s.C <- ev:
		default:
			atomic.AddUint64(&b.dropped, 1)
			metrics.BusDropped.Inc()
			logger.Warn("bus_subscriber_lagging", "topic", name, "event", ev.EventName())
		}
	}
}

// Dropped returns the number of events dropped due to slow subscribers.
func (b *Bus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }
