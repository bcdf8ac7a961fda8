package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// NotifyCall records a single notification delivered by CaptureNotifier.
type NotifyCall struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Message string
}

// CaptureNotifier is a test double for port/notifier.AgentNotifier.
// It records every call with a mutex so it is safe for concurrent use.
type CaptureNotifier struct {
	mu    sync.Mutex
	Calls []NotifyCall
	Err   error
}

func (c *CaptureNotifier) Notify(_ context.Context, userID, orderID uuid.UUID, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, NotifyCall{UserID: userID, OrderID: orderID, Message: message})
	return c.Err
}

// ForUser returns all calls made for a specific user.
func (c *CaptureNotifier) ForUser(userID uuid.UUID) []NotifyCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []NotifyCall
	for _, call := range c.Calls {
		if call.UserID == userID {
			out = append(out, call)
		}
	}
	return out
}

func (c *CaptureNotifier) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls.
func (c *CaptureNotifier) Reset() {
	c.mu.Lock()
	c.Calls = nil
	c.mu.Unlock()
}
