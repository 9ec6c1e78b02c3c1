// Package eventbus connects player controllers to event consumers. Publishers
// never block: each subscriber owns a buffered channel and a full channel
// drops the event for that subscriber only.
package eventbus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"audiocontrold/internal/metrics"
	"audiocontrold/internal/player"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 256

type subscriber struct {
	ch    chan player.Event
	types map[string]struct{} // nil means all
}

// Bus is the process-wide publish/subscribe hub. Construct one in main and
// hand it to every component that publishes or consumes events.
type Bus struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

// Option configures a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New creates an empty bus.
func New(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		logger: logger.Named("eventbus"),
		buffer: DefaultBuffer,
		subs:   make(map[uint64]*subscriber),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SubscribeAll registers a subscriber that receives every event.
func (b *Bus) SubscribeAll() (uint64, <-chan player.Event) {
	return b.subscribe(nil)
}

// Subscribe registers a subscriber that only receives the named event types.
// No types means all events.
func (b *Bus) Subscribe(types ...string) (uint64, <-chan player.Event) {
	if len(types) == 0 {
		return b.subscribe(nil)
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return b.subscribe(set)
}

func (b *Bus) subscribe(types map[string]struct{}) (uint64, <-chan player.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	s := &subscriber{ch: make(chan player.Event, b.buffer), types: types}
	b.subs[id] = s
	metrics.BusSubscribers.Set(float64(len(b.subs)))

	b.logger.Debug("subscribed", zap.Uint64("id", id), zap.Int("subscribers", len(b.subs)))
	return id, s.ch
}

// Unsubscribe removes a subscriber and closes its channel. Events still
// queued on the channel are dropped with it.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(s.ch)
	metrics.BusSubscribers.Set(float64(len(b.subs)))

	b.logger.Debug("unsubscribed", zap.Uint64("id", id), zap.Int("subscribers", len(b.subs)))
	return true
}

// Publish delivers ev to every current subscriber without blocking. Publishes
// are serialized by the table lock, so every subscriber observes the same
// relative order.
func (b *Bus) Publish(ev player.Event) {
	if ev == nil {
		return
	}
	metrics.BusPublished.Inc()

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, s := range b.subs {
		if s.types != nil {
			if _, ok := s.types[ev.Type()]; !ok {
				continue
			}
		}
		select {
		case s.ch <- ev:
		default:
			metrics.BusDropped.Inc()
			b.logger.Warn("subscriber channel full, dropping event",
				zap.Uint64("id", id), zap.String("type", ev.Type()))
		}
	}
}

// SubscriberCount reports the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// SpawnWorker runs fn for every event received on ch until ctx is done or the
// channel is closed, then unsubscribes id. The returned channel is closed
// once the worker has exited.
func (b *Bus) SpawnWorker(ctx context.Context, id uint64, ch <-chan player.Event, fn func(player.Event)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer b.Unsubscribe(id)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				fn(ev)
			}
		}
	}()
	return done
}
