package memory

import (
	"context"
	"sync"

	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	porteventbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
)

var _ porteventbus.EventBus = (*EventBus)(nil)

// EventBus delivers events synchronously to in-process subscribers of the
// event's domain channel.
type EventBus struct {
	mu   sync.RWMutex
	subs map[event.Channel]map[*subscription]porteventbus.Handler
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[event.Channel]map[*subscription]porteventbus.Handler)}
}

func (eb *EventBus) Publish(ctx context.Context, e event.Event) error {
	eb.mu.RLock()
	handlers := make([]porteventbus.Handler, 0, len(eb.subs[event.ChannelFor(e.Type)]))
	for _, h := range eb.subs[event.ChannelFor(e.Type)] {
		handlers = append(handlers, h)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, e)
	}
	return nil
}

func (eb *EventBus) Subscribe(_ context.Context, ch event.Channel, handler porteventbus.Handler) (porteventbus.Subscription, error) {
	sub := &subscription{}
	sub.cancel = func() {
		eb.mu.Lock()
		delete(eb.subs[ch], sub)
		eb.mu.Unlock()
	}

	eb.mu.Lock()
	if eb.subs[ch] == nil {
		eb.subs[ch] = make(map[*subscription]porteventbus.Handler)
	}
	eb.subs[ch][sub] = handler
	eb.mu.Unlock()
	return sub, nil
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}
