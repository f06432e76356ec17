package backend

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadTimeout  = 3 * time.Second
	defaultWriteTimeout = 3 * time.Second
)

// NewRedisClient returns a configured go-redis client and validates the
// connection with PING.
func NewRedisClient(addr, password string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis: addr is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  defaultDialTimeout,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

// RedisBus carries device channels over redis pub/sub, one redis channel per
// topic.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus wraps an existing client.
func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish sends the payload to the topic's redis channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

type redisSub struct {
	ps     *redis.PubSub
	ch     chan []byte
	cancel context.CancelFunc
}

func (s *redisSub) C() <-chan []byte {
	return s.ch
}

func (s *redisSub) Close() error {
	s.cancel()
	return s.ps.Close()
}

// Subscribe opens a redis subscription for topic with a bounded local queue.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, topic)
	// Force the subscription to be established before returning so a Publish
	// immediately after Subscribe is not lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSub{
		ps:     ps,
		ch:     make(chan []byte, queueDepth),
		cancel: cancel,
	}

	go func() {
		defer close(sub.ch)
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case sub.ch <- []byte(msg.Payload):
				default:
					b.logger.Warn("dropping bus message, subscriber queue full", zap.String("topic", topic))
				}
			}
		}
	}()

	return sub, nil
}
