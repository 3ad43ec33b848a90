package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/metrics"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultJobTimeout   = 2 * time.Minute
)

// JobProcessor runs one claimed job to completion, including marking it done.
type JobProcessor interface {
	Process(ctx context.Context, job domain.Job) error
}

type WorkerConfig struct {
	Concurrency  int
	PollInterval time.Duration
	// JobTimeout bounds a single Process call. Keep it at or below the
	// ledger lease so a slow job is not reclaimed while still running.
	JobTimeout time.Duration
}

// WorkerPool runs Concurrency goroutines that claim jobs from the queue
// and hand them to the processor.
type WorkerPool struct {
	queue     domain.JobQueue
	processor JobProcessor
	cfg       WorkerConfig
	clock     clockwork.Clock
	logger    *zap.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorkerPool(queue domain.JobQueue, processor JobProcessor, cfg WorkerConfig, logger *zap.Logger) *WorkerPool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	return &WorkerPool{
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (p *WorkerPool) SetClock(c clockwork.Clock) {
	p.clock = c
}

// Start launches the workers in background goroutines.
func (p *WorkerPool) Start() {
	p.logger.Info("worker pool started",
		zap.Int("concurrency", p.cfg.Concurrency),
		zap.Duration("poll_interval", p.cfg.PollInterval),
	)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(i)
	}
}

// Stop stops claiming new jobs and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) loop(worker int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", worker))

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ran, err := p.RunOnce(context.Background())
		if err != nil {
			log.Error("failed to claim job", zap.Error(err))
		}
		if ran {
			continue
		}

		select {
		case <-p.stopCh:
			return
		case <-p.clock.After(p.cfg.PollInterval):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// claimed. Processing errors and panics are recorded on the ledger via Fail
// and are not returned.
func (p *WorkerPool) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	if err := p.process(ctx, *job); err != nil {
		p.logger.Warn("job attempt failed",
			zap.String("job_id", job.ID),
			zap.String("identity", job.Identity),
			zap.Int("attempt", job.Attempts),
			zap.Error(err),
		)
		metrics.JobsFinished.WithLabelValues("failed").Inc()
		if ferr := p.queue.Fail(ctx, job.ID, job.Attempts, err.Error()); ferr != nil {
			p.logger.Error("failed to record job failure",
				zap.String("job_id", job.ID),
				zap.Error(ferr),
			)
		}
	}
	return true, nil
}

func (p *WorkerPool) process(ctx context.Context, job domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing job",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()
	return p.processor.Process(ctx, job)
}
