package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
)

// Repository manages agent records. Load (current_order_count) is never
// written here; only port/dispatch.Store moves it, together with the order.
type Repository interface {
	Create(ctx context.Context, a domainagent.Agent) (domainagent.Agent, error)
	GetByID(ctx context.Context, id uuid.UUID) (domainagent.Agent, error)
	List(ctx context.Context, filters domainagent.ListFilters) ([]domainagent.Agent, error)

	// UpdateAvailability flips the agent; going online also stamps
	// last_heartbeat_at with at.
	UpdateAvailability(ctx context.Context, id uuid.UUID, availability domainagent.Availability, at time.Time) error
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domainagent.AccountStatus) error
	RecordHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error

	// ListStale returns online agents whose last heartbeat is older than cutoff
	// (or who never sent one).
	ListStale(ctx context.Context, cutoff time.Time) ([]domainagent.Agent, error)
}
