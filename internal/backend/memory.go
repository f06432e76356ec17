package backend

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryBus is an in-process Bus used by tests and single-node deployments.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	logger *zap.Logger
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus(logger *zap.Logger) *MemoryBus {
	return &MemoryBus{
		subs:   make(map[string][]*memorySub),
		logger: logger,
	}
}

type memorySub struct {
	bus   *MemoryBus
	topic string
	ch    chan []byte

	mu     sync.Mutex
	closed bool
}

func (s *memorySub) C() <-chan []byte {
	return s.ch
}

// deliver enqueues the payload unless the subscriber is closed or full.
// It reports false when the queue was full.
func (s *memorySub) deliver(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- payload:
		return true
	default:
		return false
	}
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	subs := s.bus.subs[s.topic]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus.mu.Unlock()

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
	return nil
}

// Publish delivers payload to every subscriber of topic. A full subscriber
// queue drops the message rather than blocking the publisher.
func (b *MemoryBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := make([]*memorySub, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.deliver(payload) {
			b.logger.Warn("dropping bus message, subscriber queue full", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe registers a bounded subscriber for topic.
func (b *MemoryBus) Subscribe(_ context.Context, topic string) (Subscription, error) {
	sub := &memorySub{
		bus:   b,
		topic: topic,
		ch:    make(chan []byte, queueDepth),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub, nil
}
