package queue

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Entry is a backlog record for an order no agent could take. Once
// ProcessedAt is set the entry is kept for audit and never replayed.
type Entry struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     uuid.UUID  `json:"order_id"`
	Priority    int        `json:"priority"`
	QueuedAt    time.Time  `json:"queued_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func New(orderID uuid.UUID, priority int, queuedAt time.Time) Entry {
	return Entry{
		ID:       uuid.New(),
		OrderID:  orderID,
		Priority: priority,
		QueuedAt: queuedAt.UTC(),
	}
}

func (e *Entry) IsLive() bool {
	return e.ProcessedAt == nil
}

// Less is the drain order: higher priority first, then oldest, then id so the
// order is total.
func Less(a, b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	return a.ID.String() < b.ID.String()
}

func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}
