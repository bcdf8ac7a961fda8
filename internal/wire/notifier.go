package wire

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	portnotifier "github.com/alanyang/dispatch-mesh/internal/port/notifier"
)

var _ portnotifier.AgentNotifier = fanoutNotifier(nil)

// fanoutNotifier delivers to every channel an agent's user may be listening
// on (WS sockets, MCP sessions). Every target is tried even if one fails.
type fanoutNotifier []portnotifier.AgentNotifier

func (f fanoutNotifier) Notify(ctx context.Context, userID, orderID uuid.UUID, message string) error {
	var err error
	for _, n := range f {
		err = multierr.Append(err, n.Notify(ctx, userID, orderID, message))
	}
	return err
}
