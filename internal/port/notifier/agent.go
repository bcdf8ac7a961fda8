package notifier

//go:generate mockgen -source=agent.go -destination=../../mocks/mock_agent_notifier.go -package=mocks

import (
	"context"

	"github.com/google/uuid"
)

// AgentNotifier pushes a message about an order to the agent's owning user.
// Delivery is best-effort: callers log failures and move on.
type AgentNotifier interface {
	Notify(ctx context.Context, userID, orderID uuid.UUID, message string) error
}
