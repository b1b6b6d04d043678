package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/barledger/barledger-backend/pkg/logger"
)

// Sweeper runs one full analysis sweep.
type Sweeper interface {
	Sweep(ctx context.Context, req SweepRequest) (*SweepReport, error)
}

// AnalysisScheduler runs full sweeps periodically.
type AnalysisScheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *logger.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
}

// NewAnalysisScheduler creates a new analysis scheduler
func NewAnalysisScheduler(sweeper Sweeper, interval time.Duration, log *logger.Logger) *AnalysisScheduler {
	return &AnalysisScheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   log.WithComponent("analysis-scheduler"),
		done:     make(chan struct{}),
	}
}

// Start starts the scheduler in a background goroutine. It sweeps once
// immediately, then on every tick.
func (s *AnalysisScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)
		s.logger.Info().Dur("interval", s.interval).Msg("analysis scheduler started")

		s.runSweep(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("analysis scheduler stopped")
				return
			case <-ticker.C:
				s.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the running sweep and waits for the goroutine to exit.
func (s *AnalysisScheduler) Stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *AnalysisScheduler) runSweep(ctx context.Context) {
	report, err := s.sweeper.Sweep(ctx, SweepRequest{})
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Info().Msg("sweep skipped, another replica holds the lock")
	case errors.Is(err, context.Canceled):
		s.logger.Info().Msg("sweep cancelled")
	case err != nil:
		s.logger.Error().Err(err).Msg("analysis sweep failed")
	case len(report.UnitErrors) > 0:
		s.logger.Warn().Int("unit_errors", len(report.UnitErrors)).Msg("analysis sweep completed with unit errors")
	}
}
