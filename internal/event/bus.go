// Package event provides the in-process publish/subscribe bus that carries
// status transitions from the monitoring engine to its observers.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a message on the bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// Handler processes events from the bus.
type Handler func(ctx context.Context, event Event)

// Publisher is the narrow side of the bus used by code that only emits.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event)
}

// Subscriber is the narrow side of the bus used by code that only listens.
type Subscriber interface {
	Subscribe(topic string, handler Handler) (unsubscribe func())
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)

// Bus is an in-memory event bus.
// Publish is synchronous (handlers run in the caller's goroutine).
// PublishAsync dispatches handlers in separate goroutines tracked by Drain.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // topic -> handlers
	allSubs  []handlerEntry            // handlers subscribed to all topics
	nextID   uint64
	inflight sync.WaitGroup
	logger   *zap.Logger
}

type handlerEntry struct {
	id      uint64
	handler Handler
}

// NewBus creates a new in-memory event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]handlerEntry),
		logger:   logger,
	}
}

func (b *Bus) snapshot(topic string) []handlerEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]handlerEntry, 0, len(b.handlers[topic])+len(b.allSubs))
	out = append(out, b.handlers[topic]...)
	out = append(out, b.allSubs...)
	return out
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, h := range b.snapshot(event.Topic) {
		b.safeCall(ctx, h.handler, event)
	}
	return nil
}

// PublishAsync dispatches an event asynchronously to all matching handlers.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, h := range b.snapshot(event.Topic) {
		b.inflight.Add(1)
		go func(fn Handler) {
			defer b.inflight.Done()
			b.safeCall(ctx, fn, event)
		}(h.handler)
	}
}

// Drain blocks until every handler started by PublishAsync has returned or
// ctx is done. It reports whether all handlers finished.
func (b *Bus) Drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Subscribe registers handler for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register(handler, func(e handlerEntry) { b.handlers[topic] = append(b.handlers[topic], e) })
	return b.unsubscriber(id, func() []handlerEntry { return b.handlers[topic] }, func(list []handlerEntry) {
		if len(list) == 0 {
			delete(b.handlers, topic)
			return
		}
		b.handlers[topic] = list
	})
}

// SubscribeAll registers handler for every topic and returns a function that removes it.
func (b *Bus) SubscribeAll(handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.register(handler, func(e handlerEntry) { b.allSubs = append(b.allSubs, e) })
	return b.unsubscriber(id, func() []handlerEntry { return b.allSubs }, func(list []handlerEntry) {
		b.allSubs = list
	})
}

// register assigns the next subscription ID. Caller holds b.mu.
func (b *Bus) register(handler Handler, add func(handlerEntry)) uint64 {
	id := b.nextID
	b.nextID++
	add(handlerEntry{id: id, handler: handler})
	return id
}

// unsubscriber returns an idempotent removal of id from the list produced by get.
func (b *Bus) unsubscriber(id uint64, get func() []handlerEntry, set func([]handlerEntry)) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := get()
			for i, e := range list {
				if e.id == id {
					// Copy so snapshots taken by in-flight publishes stay intact.
					set(append(list[:i:i], list[i+1:]...))
					return
				}
			}
		})
	}
}

func (b *Bus) safeCall(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", event.Topic),
				zap.String("source", event.Source),
				zap.Any("panic", r),
			)
		}
	}()
	handler(ctx, event)
}
