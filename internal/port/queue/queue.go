package queue

import (
	"context"

	"github.com/google/uuid"

	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
)

type Repository interface {
	// ListLive returns unprocessed entries in drain order
	// (priority DESC, queued_at ASC, id ASC).
	ListLive(ctx context.Context) ([]domainqueue.Entry, error)
	MarkProcessed(ctx context.Context, entryID uuid.UUID) error
}
