package domain

import (
	"context"
	"time"
)

// JobLedger tracks job lifecycle: Pending → Processing → Done, with Failed
// reached only after a job exhausts its attempts.
type JobLedger interface {
	// Enqueue registers a job as pending. An existing job with the same ID is overwritten.
	Enqueue(ctx context.Context, job Job) error
	// ClaimNext atomically moves the oldest claimable pending job to
	// processing. It returns nil, nil when nothing is claimable.
	ClaimNext(ctx context.Context) (*Job, error)
	// MarkDone records the job as done regardless of its current state.
	MarkDone(ctx context.Context, id string) error
	// Fail records a failed processing attempt. The job is requeued with
	// backoff until it runs out of attempts, then marked failed. attempt is
	// the Attempts value the caller claimed the job with; a call for an
	// older attempt is ignored. AnyAttempt skips that check.
	Fail(ctx context.Context, id string, attempt int, reason string) error
	Status(ctx context.Context, id string) (JobState, bool, error)
	Get(ctx context.Context, id string) (*Job, error)
	// ReclaimExpired fails every processing job whose lease has run out.
	ReclaimExpired(ctx context.Context) (int, error)
	// PruneFinished deletes done and failed jobs last updated before cutoff.
	PruneFinished(ctx context.Context, cutoff time.Time) (int, error)
}

// JobQueue is the subset of the ledger a worker needs. It is satisfied by
// every JobLedger and by the HTTP client remote workers use.
type JobQueue interface {
	ClaimNext(ctx context.Context) (*Job, error)
	MarkDone(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, attempt int, reason string) error
}

// AnyAttempt fails whichever claim currently holds the job.
const AnyAttempt = 0

type ScoreStore interface {
	// GetScores returns the stored document or DefaultScoreDocument.
	GetScores(ctx context.Context, identity string) (UserScoreDocument, error)
	// PutScores replaces the stored document for identity.
	PutScores(ctx context.Context, identity string, doc UserScoreDocument) error
}

type TrustEdgeStore interface {
	Upsert(ctx context.Context, e TrustEdge) error
	Get(ctx context.Context, fromDID, toDID, scope string) (*TrustEdge, error)
	ListFrom(ctx context.Context, fromDID, scope string) ([]TrustEdge, error)
}

type IdentityResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, error)
}

type PostFetcher interface {
	FetchRecentPosts(ctx context.Context, actor string, limit int) ([]Post, error)
}

type ClaimClassifier interface {
	Classify(ctx context.Context, text, domain string) (ClaimResult, error)
}
