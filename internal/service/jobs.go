package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/metrics"
	"github.com/Harshitk-cp/skytrust/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidInput = errors.New("invalid input")
)

// JobService is the accept-request stage: it turns lookups into pending
// jobs and exposes the ledger to workers.
type JobService struct {
	ledger   domain.JobLedger
	resolver domain.IdentityResolver
	logger   *zap.Logger
}

func NewJobService(ledger domain.JobLedger, resolver domain.IdentityResolver, logger *zap.Logger) *JobService {
	return &JobService{ledger: ledger, resolver: resolver, logger: logger}
}

// Lookup resolves handle and enqueues a score job for it. When resolution
// fails the handle itself becomes the identity so the job still runs.
func (s *JobService) Lookup(ctx context.Context, handle string, force bool) (*domain.Job, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return nil, fmt.Errorf("%w: handle is required", ErrInvalidInput)
	}

	identity, err := s.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		s.logger.Warn("handle resolution failed, using handle as identity",
			zap.String("handle", handle),
			zap.Error(err),
		)
		identity = handle
	}

	return s.Enqueue(ctx, identity, handle, force)
}

// Enqueue registers a pending job for an already known identity.
func (s *JobService) Enqueue(ctx context.Context, identity, handle string, force bool) (*domain.Job, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: did is required", ErrInvalidInput)
	}

	job := domain.Job{
		ID:       uuid.New().String(),
		Identity: identity,
		Handle:   handle,
		Force:    force,
		State:    domain.JobStatePending,
	}
	if err := s.ledger.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.JobsEnqueued.Inc()

	s.logger.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("identity", identity),
		zap.Bool("force", force),
	)
	return &job, nil
}

func (s *JobService) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.ledger.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// Next claims the next job for a worker. It returns nil, nil when the
// ledger has nothing claimable.
func (s *JobService) Next(ctx context.Context) (*domain.Job, error) {
	job, err := s.ledger.ClaimNext(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if job != nil {
		metrics.JobsClaimed.Inc()
	}
	return job, nil
}

func (s *JobService) MarkDone(ctx context.Context, id string) error {
	if err := s.ledger.MarkDone(ctx, id); err != nil {
		return fmt.Errorf("mark job %s done: %w", id, err)
	}
	return nil
}

// Fail records a failed attempt. attempt fences out a worker whose claim
// has since been reclaimed; domain.AnyAttempt fails the current claim.
func (s *JobService) Fail(ctx context.Context, id string, attempt int, reason string) error {
	if err := s.ledger.Fail(ctx, id, attempt, reason); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrJobNotFound
		}
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}
