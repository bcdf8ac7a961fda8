package wire

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/alanyang/dispatch-mesh/internal/logger"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
)

// Sweeper is the periodic safety net behind the synchronous triggers. Each
// pass takes silent agents offline (moving their orders) and then replays
// the queue, so a drain missed after a crash or a failed request still runs.
type Sweeper struct {
	agents           *agentsvc.Service
	dispatch         *dispatchsvc.Service
	interval         time.Duration
	heartbeatTimeout time.Duration
	log              *logger.Logger
}

func NewSweeper(agents *agentsvc.Service, dispatch *dispatchsvc.Service, interval, heartbeatTimeout time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		agents:           agents,
		dispatch:         dispatch,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		log:              log,
	}
}

// Run sweeps once immediately (orders orphaned by a restart are picked up
// without waiting a full interval) and then on every tick until ctx is done.
// A non-positive interval disables it.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info(ctx, "sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error(ctx, "sweep failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass. The queue is replayed even when reaping fails.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var errs error

	reaped, err := s.agents.ReapStale(ctx, s.heartbeatTimeout)
	errs = multierr.Append(errs, err)

	processed, err := s.dispatch.ProcessQueue(ctx)
	errs = multierr.Append(errs, err)

	if reaped > 0 || processed > 0 {
		s.log.Info(s.log.WithFields(ctx, map[string]any{
			"reaped":    reaped,
			"processed": processed,
		}), "sweep complete")
	}
	return errs
}
