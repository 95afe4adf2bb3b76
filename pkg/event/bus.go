// Package event is a synchronous, cancellable notification bus.
//
// Handlers run on the publishing goroutine in subscription order. Cancelling
// an event never undoes what it reports; publishers only use the flag to
// decide how loudly to log the condition themselves.
package event

import (
	"fmt"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Event is implemented by every published value, usually by embedding Base.
type Event interface {
	Cancel()
	Cancelled() bool
}

// Base provides the cancellation flag of an Event.
type Base struct {
	cancelled atomic.Bool
}

// Cancel marks the event as handled by a subscriber.
func (b *Base) Cancel() { b.cancelled.Store(true) }

// Cancelled reports whether any subscriber cancelled the event.
func (b *Base) Cancelled() bool { return b.cancelled.Load() }

// Handler consumes events.
type Handler func(Event)

type subscription struct {
	id uint64
	h  Handler
}

// Bus fans events out to subscribers. The zero value is not usable; a nil
// *Bus accepts publishes and drops them.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	next uint64
	subs []subscription
}

// NewBus returns an empty bus. Handler panics are recovered and logged to log.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.L()
	}
	return &Bus{log: log.Named("event")}
}

// Subscribe registers h and returns a function that removes it again.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// On subscribes a handler for one concrete event type.
func On[T Event](b *Bus, fn func(T)) (unsubscribe func()) {
	return b.Subscribe(func(e Event) {
		if v, ok := e.(T); ok {
			fn(v)
		}
	})
}

// Publish delivers e to every subscriber and reports whether one of them
// cancelled it. No bus lock is held while handlers run.
func (b *Bus) Publish(e Event) (cancelled bool) {
	if b == nil {
		return false
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(s.h, e)
	}
	return e.Cancelled()
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event", fmt.Sprintf("%T", e)),
				zap.Any("panic", r))
		}
	}()
	h(e)
}
