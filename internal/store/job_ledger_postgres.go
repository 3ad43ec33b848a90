package store

import (
	"context"
	"errors"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, identity, handle, force, state, attempts, lease_expires_at, not_before, last_error, created_at, updated_at`

// PostgresJobLedger shares one job table between any number of server
// replicas. Claims use FOR UPDATE SKIP LOCKED so concurrent claimers never
// see the same row.
type PostgresJobLedger struct {
	db   *pgxpool.Pool
	opts LedgerOptions
}

func NewPostgresJobLedger(db *pgxpool.Pool, opts LedgerOptions) *PostgresJobLedger {
	return &PostgresJobLedger{db: db, opts: opts.withDefaults()}
}

func (s *PostgresJobLedger) Enqueue(ctx context.Context, job domain.Job) error {
	now := s.opts.Clock.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO score_jobs (id, identity, handle, force, state, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'pending', 0, $5, $5)
		 ON CONFLICT (id) DO UPDATE SET
			seq = nextval(pg_get_serial_sequence('score_jobs', 'seq')),
			identity = EXCLUDED.identity,
			handle = EXCLUDED.handle,
			force = EXCLUDED.force,
			state = 'pending',
			attempts = 0,
			lease_expires_at = NULL,
			not_before = NULL,
			last_error = '',
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at`,
		job.ID, job.Identity, job.Handle, job.Force, now,
	)
	return err
}

func (s *PostgresJobLedger) ClaimNext(ctx context.Context) (*domain.Job, error) {
	now := s.opts.Clock.Now()
	row := s.db.QueryRow(ctx,
		`UPDATE score_jobs SET
			state = 'processing',
			attempts = attempts + 1,
			lease_expires_at = $2,
			not_before = NULL,
			updated_at = $1
		 WHERE id = (
			SELECT id FROM score_jobs
			WHERE state = 'pending' AND (not_before IS NULL OR not_before <= $1)
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now, now.Add(s.opts.LeaseTTL),
	)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return job, nil
}

func (s *PostgresJobLedger) MarkDone(ctx context.Context, id string) error {
	now := s.opts.Clock.Now()
	_, err := s.db.Exec(ctx,
		`INSERT INTO score_jobs (id, identity, state, created_at, updated_at)
		 VALUES ($1, '', 'done', $2, $2)
		 ON CONFLICT (id) DO UPDATE SET
			state = 'done',
			lease_expires_at = NULL,
			not_before = NULL,
			updated_at = EXCLUDED.updated_at`,
		id, now,
	)
	return err
}

func (s *PostgresJobLedger) Fail(ctx context.Context, id string, attempt int, reason string) error {
	_, err := s.fail(ctx, id, attempt, reason, false)
	return err
}

// fail locks the row and requeues or fails it when it is still the claim
// the caller means. With leaseExpired set the lease must have run out as
// of now, so a job renewed or reclaimed since it was listed is left alone.
// It reports whether the job changed state.
func (s *PostgresJobLedger) fail(ctx context.Context, id string, attempt int, reason string, leaseExpired bool) (bool, error) {
	changed := false
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var state domain.JobState
		var attempts int
		var lease *time.Time
		err := tx.QueryRow(ctx,
			`SELECT state, attempts, lease_expires_at FROM score_jobs WHERE id = $1 FOR UPDATE`, id,
		).Scan(&state, &attempts, &lease)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		now := s.opts.Clock.Now()
		if state != domain.JobStateProcessing {
			return nil
		}
		if attempt != domain.AnyAttempt && attempts != attempt {
			return nil
		}
		if leaseExpired && (lease == nil || lease.After(now)) {
			return nil
		}

		if attempts >= s.opts.MaxAttempts {
			_, err = tx.Exec(ctx,
				`UPDATE score_jobs SET state = 'failed', lease_expires_at = NULL, last_error = $2, updated_at = $3
				 WHERE id = $1`,
				id, reason, now,
			)
		} else {
			notBefore := now.Add(domain.RetryBackoff(s.opts.RetryBackoff, attempts))
			_, err = tx.Exec(ctx,
				`UPDATE score_jobs SET
					seq = nextval(pg_get_serial_sequence('score_jobs', 'seq')),
					state = 'pending',
					lease_expires_at = NULL,
					not_before = $2,
					last_error = $3,
					updated_at = $4
				 WHERE id = $1`,
				id, notBefore, reason, now,
			)
		}
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

func (s *PostgresJobLedger) Status(ctx context.Context, id string) (domain.JobState, bool, error) {
	var state domain.JobState
	err := s.db.QueryRow(ctx, `SELECT state FROM score_jobs WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return state, true, nil
}

func (s *PostgresJobLedger) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM score_jobs WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func (s *PostgresJobLedger) ReclaimExpired(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM score_jobs WHERE state = 'processing' AND lease_expires_at <= $1`,
		s.opts.Clock.Now(),
	)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, id := range ids {
		changed, err := s.fail(ctx, id, domain.AnyAttempt, "lease expired", true)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return reclaimed, err
		}
		if changed {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (s *PostgresJobLedger) PruneFinished(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM score_jobs WHERE state IN ('done', 'failed') AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	j := &domain.Job{}
	err := row.Scan(&j.ID, &j.Identity, &j.Handle, &j.Force, &j.State, &j.Attempts,
		&j.LeaseExpiresAt, &j.NotBefore, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}
