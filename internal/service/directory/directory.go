package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	portagent "github.com/alanyang/dispatch-mesh/internal/port/agent"
)

// Service answers "who can take an order right now".
// [ISP] Depends on AgentAvailabilityReader (1 method), not the full AgentRepository.
type Service struct {
	agentAvail portagent.AgentAvailabilityReader
}

func NewService(agentAvail portagent.AgentAvailabilityReader) *Service {
	return &Service{agentAvail: agentAvail}
}

// ListEligible returns online, active agents with spare capacity, least loaded
// first, minus any excluded ids. An empty pool is not an error.
func (s *Service) ListEligible(ctx context.Context, exclude ...uuid.UUID) ([]domainagent.Agent, error) {
	agents, err := s.agentAvail.ListEligible(ctx)
	if err != nil {
		if !errors.Is(err, domaindispatch.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domaindispatch.ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("list eligible agents: %w", err)
	}

	out := make([]domainagent.Agent, 0, len(agents))
	for _, a := range agents {
		if excluded(a.ID, exclude) || !a.IsEligible() {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func excluded(id uuid.UUID, exclude []uuid.UUID) bool {
	for _, x := range exclude {
		if x == id {
			return true
		}
	}
	return false
}
