package service

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/metrics"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	defaultReaperInterval = 30 * time.Second
	DefaultJobRetention   = 24 * time.Hour
)

// ReaperService returns jobs with expired leases to the queue and deletes
// finished jobs past the retention window.
type ReaperService struct {
	ledger    domain.JobLedger
	retention time.Duration
	logger    *zap.Logger
	clock     clockwork.Clock

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReaperService(ledger domain.JobLedger, retention time.Duration, logger *zap.Logger) *ReaperService {
	if retention <= 0 {
		retention = DefaultJobRetention
	}
	return &ReaperService{
		ledger:    ledger,
		retention: retention,
		logger:    logger,
		clock:     clockwork.NewRealClock(),
		interval:  defaultReaperInterval,
		stopCh:    make(chan struct{}),
	}
}

func (s *ReaperService) SetInterval(d time.Duration) {
	s.interval = d
}

func (s *ReaperService) SetClock(c clockwork.Clock) {
	s.clock = c
}

// Start runs the reaper on a periodic schedule in a background goroutine.
func (s *ReaperService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("job reaper started",
			zap.Duration("interval", s.interval),
			zap.Duration("retention", s.retention),
		)

		for {
			select {
			case <-ticker.Chan():
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.run(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("job reaper stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the reaper.
func (s *ReaperService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *ReaperService) run(ctx context.Context) {
	reclaimed, err := s.ledger.ReclaimExpired(ctx)
	if err != nil {
		s.logger.Error("failed to reclaim expired jobs", zap.Error(err))
	} else if reclaimed > 0 {
		metrics.JobsReclaimed.Add(float64(reclaimed))
		s.logger.Info("reclaimed jobs with expired leases", zap.Int("count", reclaimed))
	}

	pruned, err := s.ledger.PruneFinished(ctx, s.clock.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("failed to prune finished jobs", zap.Error(err))
	} else if pruned > 0 {
		metrics.JobsPruned.Add(float64(pruned))
		s.logger.Info("pruned finished jobs", zap.Int("count", pruned))
	}
}
