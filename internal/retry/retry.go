// Package retry runs an operation until it succeeds, fails permanently or
// runs out of attempts, backing off between tries.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	Stop     Action = iota // permanent, give up now
	Retry                  // transient, normal backoff
	Throttle               // upstream asked us to slow down
)

type Policy struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	ThrottledBackoff time.Duration
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
	Clock   clockwork.Clock
}

type Classify func(err error) Action

// Do calls op until it returns nil, classify says Stop, or MaxAttempts is
// reached. Backoff doubles after every wait.
func Do[T any](ctx context.Context, p Policy, classify Classify, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	backoff := p.InitialBackoff

	for attempt := 1; ; attempt++ {
		val, err := op(ctx)
		if err == nil {
			return val, nil
		}

		action := classify(err)
		if action == Stop {
			return zero, &PermanentError{Err: err}
		}
		if attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}

		wait := backoff
		if action == Throttle && p.ThrottledBackoff > wait {
			wait = p.ThrottledBackoff
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		select {
		case <-clock.After(wait):
			backoff *= 2
		case <-ctx.Done():
			return zero, fmt.Errorf("cancelled while retrying: %w", ctx.Err())
		}
	}
}

// PermanentError marks an error that classify decided not to retry.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }
