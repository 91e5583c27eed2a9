package services

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"matrimony-chat/metrics"
	"matrimony-chat/models"
)

// Handler consumes one decoded live event.
type Handler func(models.Event)

// Unsubscribe removes a subscription. Calling it more than once is harmless.
type Unsubscribe func()

// Subscriber is the consumer-facing half of the Bus.
type Subscriber interface {
	Subscribe(h Handler) Unsubscribe
}

type subscription struct {
	id      uuid.UUID
	handler Handler
}

// Bus fans every published event out to all registered handlers, in
// registration order, on the publisher's goroutine. It neither filters nor
// buffers: a handler registered after an event was published never sees it.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	log  zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "event-bus").Logger()}
}

func (b *Bus) Subscribe(h Handler) Unsubscribe {
	sub := subscription{id: uuid.New(), handler: h}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	n := len(b.subs)
	b.mu.Unlock()

	metrics.Subscribers.Inc()
	b.log.Debug().Str("subscription", sub.id.String()).Int("subscribers", n).Msg("subscribed")

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}
}

func (b *Bus) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			metrics.Subscribers.Dec()
			return
		}
	}
}

// Publish delivers ev to every current subscriber. A handler that panics is
// logged and skipped; the remaining handlers still receive the event.
func (b *Bus) Publish(ev models.Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	metrics.RecordEvent(string(ev.Type))
	for _, s := range subs {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SubscriberFailures.Inc()
			b.log.Error().
				Str("subscription", s.id.String()).
				Str("event", string(ev.Type)).
				Str("panic", fmt.Sprint(r)).
				Msg("subscriber failed")
		}
	}()
	s.handler(ev)
}

// Len returns the number of registered subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
