package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
)

// MemJobLedger is an in-process JobLedger. A single mutex covers both the
// job map and the FIFO pending queue, which is what makes ClaimNext
// linearizable: no two callers can pop the same queue element.
type MemJobLedger struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	pending *list.List
	queued  map[string]*list.Element
	opts    LedgerOptions
}

func NewMemJobLedger(opts LedgerOptions) *MemJobLedger {
	return &MemJobLedger{
		jobs:    make(map[string]*domain.Job),
		pending: list.New(),
		queued:  make(map[string]*list.Element),
		opts:    opts.withDefaults(),
	}
}

func (l *MemJobLedger) Enqueue(ctx context.Context, job domain.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.Clock.Now()
	l.dequeue(job.ID)

	j := &domain.Job{
		ID:        job.ID,
		Identity:  job.Identity,
		Handle:    job.Handle,
		Force:     job.Force,
		State:     domain.JobStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.jobs[j.ID] = j
	l.queued[j.ID] = l.pending.PushBack(j.ID)
	return nil
}

// ClaimNext pops the oldest pending job whose backoff has elapsed.
func (l *MemJobLedger) ClaimNext(ctx context.Context) (*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.Clock.Now()
	for e := l.pending.Front(); e != nil; e = e.Next() {
		id := e.Value.(string)
		j := l.jobs[id]
		if j.NotBefore != nil && j.NotBefore.After(now) {
			continue
		}

		l.pending.Remove(e)
		delete(l.queued, id)

		lease := now.Add(l.opts.LeaseTTL)
		j.State = domain.JobStateProcessing
		j.Attempts++
		j.LeaseExpiresAt = &lease
		j.NotBefore = nil
		j.UpdatedAt = now
		return cloneJob(j), nil
	}
	return nil, nil
}

func (l *MemJobLedger) MarkDone(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.Clock.Now()
	l.dequeue(id)

	j, ok := l.jobs[id]
	if !ok {
		j = &domain.Job{ID: id, CreatedAt: now}
		l.jobs[id] = j
	}
	j.State = domain.JobStateDone
	j.LeaseExpiresAt = nil
	j.NotBefore = nil
	j.UpdatedAt = now
	return nil
}

func (l *MemJobLedger) Fail(ctx context.Context, id string, attempt int, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	j, ok := l.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if attempt != domain.AnyAttempt && j.Attempts != attempt {
		return nil
	}
	l.fail(j, reason, l.opts.Clock.Now())
	return nil
}

// fail requeues a processing job or marks it failed, reporting whether the
// job changed state. Caller holds l.mu.
func (l *MemJobLedger) fail(j *domain.Job, reason string, now time.Time) bool {
	if j.State != domain.JobStateProcessing {
		return false
	}
	j.LastError = reason
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now

	if j.Attempts >= l.opts.MaxAttempts {
		j.State = domain.JobStateFailed
		return true
	}
	notBefore := now.Add(domain.RetryBackoff(l.opts.RetryBackoff, j.Attempts))
	j.State = domain.JobStatePending
	j.NotBefore = &notBefore
	l.queued[j.ID] = l.pending.PushBack(j.ID)
	return true
}

func (l *MemJobLedger) Status(ctx context.Context, id string) (domain.JobState, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	j, ok := l.jobs[id]
	if !ok {
		return "", false, nil
	}
	return j.State, true, nil
}

func (l *MemJobLedger) Get(ctx context.Context, id string) (*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	j, ok := l.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (l *MemJobLedger) ReclaimExpired(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.opts.Clock.Now()
	reclaimed := 0
	for _, j := range l.jobs {
		if j.State != domain.JobStateProcessing || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		if l.fail(j, "lease expired", now) {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (l *MemJobLedger) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for id, j := range l.jobs {
		if j.State.Finished() && j.UpdatedAt.Before(cutoff) {
			delete(l.jobs, id)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of jobs tracked, finished ones included.
func (l *MemJobLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

func (l *MemJobLedger) dequeue(id string) {
	if e, ok := l.queued[id]; ok {
		l.pending.Remove(e)
		delete(l.queued, id)
	}
}

func cloneJob(j *domain.Job) *domain.Job {
	out := *j
	if j.LeaseExpiresAt != nil {
		t := *j.LeaseExpiresAt
		out.LeaseExpiresAt = &t
	}
	if j.NotBefore != nil {
		t := *j.NotBefore
		out.NotBefore = &t
	}
	return &out
}
