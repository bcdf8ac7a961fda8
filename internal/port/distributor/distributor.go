package distributor

//go:generate mockgen -source=distributor.go -destination=../../mocks/mock_assigner.go -package=mocks

import (
	"context"

	"github.com/google/uuid"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
)

// Assigner picks an agent for one order or parks it in the queue.
// [ISP] The queue manager replays the backlog through this one method.
type Assigner interface {
	Assign(ctx context.Context, orderID uuid.UUID) (domaindispatch.Assignment, error)
}
