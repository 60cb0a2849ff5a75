package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

// Broker carries committed messages to every node that may hold subscribed
// sessions. Handlers registered with Subscribe receive messages in publish
// order.
type Broker interface {
	Publish(ctx context.Context, msg domain.Message) error
	Subscribe(ctx context.Context, handler func(domain.Message)) error
	Close() error
}

// LocalBroker delivers in-process, synchronously on the publishing goroutine.
type LocalBroker struct {
	mu       sync.RWMutex
	handlers []func(domain.Message)
}

// NewLocalBroker returns a single-node broker.
func NewLocalBroker() *LocalBroker { return &LocalBroker{} }

// Publish implements Broker.
func (b *LocalBroker) Publish(_ context.Context, msg domain.Message) error {
	b.mu.RLock()
	hs := b.handlers
	b.mu.RUnlock()
	for _, h := range hs {
		h(msg)
	}
	return nil
}

// Subscribe implements Broker.
func (b *LocalBroker) Subscribe(_ context.Context, handler func(domain.Message)) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return nil
}

// Close implements Broker.
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.handlers = nil
	b.mu.Unlock()
	return nil
}

// RedisBroker fans messages out across nodes over Redis pub/sub on the
// channel "<prefix>:messages". Every node subscribes and delivers to its
// own sessions, including the publishing node.
type RedisBroker struct {
	rdb     *redis.Client
	channel string

	mu   sync.Mutex
	subs []*redis.PubSub
	wg   sync.WaitGroup
}

// NewRedisBroker builds a broker on rdb. The client is owned by the caller.
func NewRedisBroker(rdb *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "consult"
	}
	return &RedisBroker{rdb: rdb, channel: prefix + ":messages"}
}

// Channel returns the pub/sub channel name.
func (b *RedisBroker) Channel() string { return b.channel }

// Publish implements Broker.
func (b *RedisBroker) Publish(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("broker: encode: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("broker: publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed, then delivers in a
// background goroutine until ctx is done or Close is called.
func (b *RedisBroker) Subscribe(ctx context.Context, handler func(domain.Message)) error {
	ps := b.rdb.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("broker: subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg domain.Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					dispatchDropped.WithLabelValues("decode").Inc()
					log.Warn().Err(err).Str("channel", m.Channel).Msg("broker: undecodable payload")
					continue
				}
				handler(msg)
			}
		}
	}()
	return nil
}

// Close stops every subscription and waits for the delivery goroutines.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var first error
	for _, ps := range subs {
		if err := ps.Close(); err != nil && !errors.Is(err, redis.ErrClosed) && first == nil {
			first = err
		}
	}
	b.wg.Wait()
	return first
}
