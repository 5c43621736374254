// Package event provides a generic in-process fan-out bus. Delivery is
// best-effort: a subscriber whose buffer is full misses the event and the
// drop is counted.
package event

import (
	"context"
	"log"
	"sync"

	"github.com/iomekam/dapp-inter/internal/buffer"
	"github.com/iomekam/dapp-inter/internal/metrics"
)

const defaultSubscriberBufferSize = 128

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	HistorySize          int
	Registry             *metrics.Registry
}

type Bus[T any] struct {
	mu          sync.Mutex
	subscribers map[uint64]subscription[T]
	nextSubID   uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	registry    *metrics.Registry
	history     *buffer.Ring[T]
}

type subscription[T any] struct {
	ch     chan T
	filter func(T) bool
}

// NewBus creates a bus that closes itself when ctx is done.
func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		registry:    opts.Registry,
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

// SubscribeFiltered registers a subscriber that only receives events for
// which filter returns true. The returned cancel func is idempotent and
// closes the channel.
func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)

	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.nextSubID++
	id := b.nextSubID
	b.subscribers[id] = subscription[T]{ch: ch, filter: filter}
	count := len(b.subscribers)
	b.mu.Unlock()

	b.registry.SetEventSubscribers(b.busName(), count)
	return ch, func() {
		b.removeSubscriber(id)
	}
}

func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.history != nil {
		b.history.Add(event)
	}
	b.registry.IncEventPublished(b.busName())

	for id, sub := range b.subscribers {
		if !b.filterAllows(id, sub, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.registry.IncEventDropped(b.busName())
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.registry.SetEventSubscribers(b.busName(), 0)
	})
}

// ReplayLast returns up to count of the most recent events, oldest first.
func (b *Bus[T]) ReplayLast(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.history.Last(count)
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if ok {
		b.registry.SetEventSubscribers(b.busName(), count)
	}
}

// filterAllows runs with b.mu held. A panicking filter drops its subscriber.
func (b *Bus[T]) filterAllows(id uint64, sub subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			log.Printf("event bus %s: subscriber filter panicked", b.busName())
			delete(b.subscribers, id)
			close(sub.ch)
			allowed = false
		}
	}()
	return sub.filter(event)
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}
