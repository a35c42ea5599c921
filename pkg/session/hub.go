package session

import (
	"sync"
	"time"

	"chatcoord/pkg/bus"
	"chatcoord/pkg/logger"
)

// Hub owns the per-topic coordinators. Get hands out the singleton for a
// topic, creating it on first use, so every connection to the same order
// shares one coordinator and one serialized pipeline.
type Hub struct {
	mu      sync.Mutex
	cfg     Config
	bus     *bus.Bus
	persist Persistence
	coords  map[string]*Coordinator
	stop    chan struct{}
	once    sync.Once
}

// NewHub creates a hub and starts its limiter sweep loop.
func NewHub(cfg Config, b *bus.Bus, p Persistence, sweepEvery time.Duration) *Hub {
	h := &Hub{
		cfg:     cfg,
		bus:     b,
		persist: p,
		coords:  make(map[string]*Coordinator),
		stop:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go h.sweepLoop(sweepEvery)
	}
	return h
}

// Get returns the coordinator for topic, creating it if needed.
func (h *Hub) Get(topic string) *Coordinator {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.coords[topic]
	if !ok {
		c = New(topic, h.cfg, h.bus, h.persist)
		h.coords[topic] = c
		logger.Info("coordinator_started", "topic", topic)
	}
	return c
}

// Peek returns the coordinator for topic without creating one.
func (h *Hub) Peek(topic string) (*Coordinator, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.coords[topic]
	return c, ok
}

// Topics returns the topics with a live coordinator.
func (h *Hub) Topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.coords))
	for t := range h.coords {
		out = append(out, t)
	}
	return out
}

func (h *Hub) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			h.mu.Lock()
			cs := make([]*Coordinator, 0, len(h.coords))
			for _, c := range h.coords {
				cs = append(cs, c)
			}
			h.mu.Unlock()
			total := 0
			for _, c := range cs {
				total += c.SweepLimiter(now)
			}
			if total > 0 {
				logger.Debug("limiter_swept", "senders", total)
			}
		case <-h.stop:
			return
		}
	}
}

// Close stops the sweep loop and shuts down every coordinator.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for t, c := range h.coords {
		c.Close()
		delete(h.coords, t)
	}
}
