package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-consult-chat/internal/domain"
)

const publishTimeout = 5 * time.Second

// Dispatcher decouples the ledger from delivery. Dispatch enqueues into a
// bounded queue and never blocks; a single worker publishes to the Broker
// in enqueue order. When the queue is full the message is dropped and
// counted; subscribers reconcile through history replay on rejoin.
type Dispatcher struct {
	broker Broker
	queue  chan domain.Message
	quit   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher allocates a dispatcher with room for size pending messages.
func NewDispatcher(b Broker, size int) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		broker: b,
		queue:  make(chan domain.Message, size),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Dispatch implements services.Dispatcher.
func (d *Dispatcher) Dispatch(msg domain.Message) {
	select {
	case <-d.quit:
		dispatchDropped.WithLabelValues("stopped").Inc()
		return
	default:
	}
	select {
	case d.queue <- msg:
	default:
		dispatchDropped.WithLabelValues("queue_full").Inc()
		log.Warn().
			Str("room_id", msg.RoomID).
			Int64("seq", msg.Seq).
			Msg("dispatch: queue full, message not pushed")
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() { go d.run() })
}

// Stop drains what is already queued, then stops the worker. It returns
// early when ctx ends.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() { close(d.quit) })
	d.Start() // a never-started dispatcher still needs to close done
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case msg := <-d.queue:
			d.publish(msg)
		case <-d.quit:
			for {
				select {
				case msg := <-d.queue:
					d.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(msg domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := d.broker.Publish(ctx, msg); err != nil {
		dispatchDropped.WithLabelValues("publish").Inc()
		log.Error().Err(err).
			Str("room_id", msg.RoomID).
			Int64("seq", msg.Seq).
			Msg("dispatch: publish failed")
	}
}
