package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeOrderPlaced     Type = "order_placed"
	TypeOrderAssigned   Type = "order_assigned"
	TypeOrderQueued     Type = "order_queued"
	TypeOrderReassigned Type = "order_reassigned"
	TypeOrderUpdated    Type = "order_updated"
	TypeOrderReleased   Type = "order_released"
	TypeAgentOnline     Type = "agent_online"
	TypeAgentOffline    Type = "agent_offline"
	TypeAgentHeartbeat  Type = "agent_heartbeat"
	TypeQueueDrained    Type = "queue_drained"
)

// Channel is a domain-scoped Postgres NOTIFY channel.
// All event types within a domain share one LISTEN connection.
type Channel string

const (
	ChannelOrder Channel = "order"
	ChannelAgent Channel = "agent"
	ChannelQueue Channel = "queue"
)

var typeToChannel = map[Type]Channel{
	TypeOrderPlaced:     ChannelOrder,
	TypeOrderAssigned:   ChannelOrder,
	TypeOrderQueued:     ChannelOrder,
	TypeOrderReassigned: ChannelOrder,
	TypeOrderUpdated:    ChannelOrder,
	TypeOrderReleased:   ChannelOrder,
	TypeAgentOnline:     ChannelAgent,
	TypeAgentOffline:    ChannelAgent,
	TypeAgentHeartbeat:  ChannelAgent,
	TypeQueueDrained:    ChannelQueue,
}

// ChannelFor returns the domain channel for a given event type.
func ChannelFor(t Type) Channel { return typeToChannel[t] }

// Channels lists every domain channel.
func Channels() []Channel {
	return []Channel{ChannelOrder, ChannelAgent, ChannelQueue}
}

// Event carries identifiers only, not full state.
// Subscribers fetch fresh state from the appropriate repository.
type Event struct {
	Type      Type      `json:"type"`
	EntityID  uuid.UUID `json:"entity_id"`
	Timestamp time.Time `json:"timestamp"`
}

func New(eventType Type, entityID uuid.UUID) Event {
	return Event{
		Type:      eventType,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
}
