package eventbus

//go:generate mockgen -source=eventbus.go -destination=../../mocks/mock_eventbus.go -package=mocks

import (
	"context"

	"github.com/alanyang/dispatch-mesh/internal/domain/event"
)

type Handler func(ctx context.Context, e event.Event)

type Subscription interface {
	Unsubscribe()
}

// EventBus fans dispatch events out to subscribers of a domain channel.
// Publishing is informational: no dispatch decision depends on delivery.
type EventBus interface {
	Publish(ctx context.Context, e event.Event) error
	Subscribe(ctx context.Context, ch event.Channel, handler Handler) (Subscription, error)
}
