package schedulerengine

import (
	"context"
	"sync"
	"time"

	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/services/coordinator"
)

// SchedulerEngine runs the master's periodic work: dispatch reevaluation,
// node health polling and checkpoints.
type SchedulerEngine struct {
	SchedulerCfg *config.ScheduleSvcCfg
	coordinator  coordinator.IMasterCoordinator
	logger       primary.Logger
	wg           sync.WaitGroup
}

func NewSchedulerEngine(
	SchedulerCfg *config.ScheduleSvcCfg,
	coord coordinator.IMasterCoordinator,
	logger primary.Logger,
) *SchedulerEngine {
	return &SchedulerEngine{
		SchedulerCfg: SchedulerCfg,
		coordinator:  coord,
		logger:       logger,
	}
}

// StartJobScheduleEngine starts the loops; they stop when ctx is done
func (s *SchedulerEngine) StartJobScheduleEngine(ctx context.Context) {
	s.every(ctx, s.SchedulerCfg.ReevaluateInterval, func(ctx context.Context) {
		if n := s.coordinator.Reevaluate(ctx); n > 0 {
			s.logger.Info("Reevaluation dispatched tasks", "count", n)
		}
	})
	s.every(ctx, s.SchedulerCfg.CheckNodesInterval, s.coordinator.CheckNodes)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var tick <-chan time.Time
		if s.SchedulerCfg.CheckpointInterval > 0 {
			ticker := time.NewTicker(s.SchedulerCfg.CheckpointInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
			case <-s.coordinator.CheckpointRequests():
			}
			if err := s.coordinator.Checkpoint(ctx); err != nil {
				s.logger.Error("Checkpoint failed", "error", err)
			}
		}
	}()
}

func (s *SchedulerEngine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// Wait blocks until every loop has returned
func (s *SchedulerEngine) Wait() {
	s.wg.Wait()
}
