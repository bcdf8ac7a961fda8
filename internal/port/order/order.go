package order

import (
	"context"

	"github.com/google/uuid"

	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
)

type Repository interface {
	Create(ctx context.Context, o domainorder.Order) (domainorder.Order, error)
	GetByID(ctx context.Context, id uuid.UUID) (domainorder.Order, error)
	List(ctx context.Context, filters domainorder.ListFilters) ([]domainorder.Order, error)

	// UpdateStatus performs an atomic CAS: only transitions if current status
	// matches `from`. Used for transitions that do not move agent load
	// (picked, in_transit, delivered).
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domainorder.Status) error
}
