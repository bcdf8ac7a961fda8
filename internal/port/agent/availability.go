package agent

//go:generate mockgen -source=availability.go -destination=../../mocks/mock_availability.go -package=mocks

import (
	"context"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
)

// AgentAvailabilityReader is the narrow interface the directory needs.
// [ISP] The directory depends only on this one method, not the full Repository.
type AgentAvailabilityReader interface {
	// ListEligible returns online, active agents below capacity, least loaded
	// first (ties by created_at, then id).
	ListEligible(ctx context.Context) ([]domainagent.Agent, error)
}
