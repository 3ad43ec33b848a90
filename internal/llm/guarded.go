package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultClassifyTimeout = 12 * time.Second

type GuardConfig struct {
	Provider string
	// Timeout bounds a single Classify call.
	Timeout time.Duration
	// RPS limits calls per second across all workers. Zero means unlimited.
	RPS   float64
	Burst int
	// ConsecutiveFailures opens the breaker; it half-opens after OpenTimeout.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// GuardedClassifier wraps a classifier with a per-call timeout, a shared
// rate limit and a circuit breaker, so a failing provider is skipped quickly
// instead of stalling every job for the full timeout.
type GuardedClassifier struct {
	inner    domain.ClaimClassifier
	provider string
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewGuardedClassifier(inner domain.ClaimClassifier, cfg GuardConfig, logger *zap.Logger) *GuardedClassifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultClassifyTimeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "unknown"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "classifier-" + cfg.Provider,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		// A model that answers with garbage is still reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrMalformedResponse)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("classifier circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &GuardedClassifier{
		inner:    inner,
		provider: cfg.Provider,
		timeout:  cfg.Timeout,
		limiter:  limiter,
		breaker:  breaker,
		logger:   logger,
	}
}

func (g *GuardedClassifier) Classify(ctx context.Context, text, topic string) (domain.ClaimResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		metrics.ClassifierCalls.WithLabelValues(g.provider, "rejected").Inc()
		return domain.ClaimResult{}, fmt.Errorf("%w: classifier rate limit: %w", domain.ErrUpstreamUnavailable, err)
	}

	start := time.Now()
	v, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Classify(ctx, text, topic)
	})
	metrics.ClassifierDuration.WithLabelValues(g.provider).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ClassifierCalls.WithLabelValues(g.provider, "rejected").Inc()
			return domain.ClaimResult{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		metrics.ClassifierCalls.WithLabelValues(g.provider, "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			return domain.ClaimResult{}, fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		return domain.ClaimResult{}, err
	}

	metrics.ClassifierCalls.WithLabelValues(g.provider, "ok").Inc()
	return v.(domain.ClaimResult), nil
}

// State reports the breaker state, for health output.
func (g *GuardedClassifier) State() string {
	return g.breaker.State().String()
}
