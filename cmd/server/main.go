package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/api"
	"github.com/Harshitk-cp/skytrust/internal/api/handlers"
	"github.com/Harshitk-cp/skytrust/internal/bsky"
	"github.com/Harshitk-cp/skytrust/internal/buildconfig"
	"github.com/Harshitk-cp/skytrust/internal/config"
	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/llm"
	"github.com/Harshitk-cp/skytrust/internal/logging"
	"github.com/Harshitk-cp/skytrust/internal/service"
	"github.com/Harshitk-cp/skytrust/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := config.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(config.LogLevel())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting skytrust server",
		zap.String("version", buildconfig.Version()),
		zap.String("commit", buildconfig.Commit()),
	)

	ctx := context.Background()
	health := map[string]handlers.HealthCheck{}

	var pool *pgxpool.Pool
	if config.LedgerBackend() == "postgres" || config.StoreBackend() == "postgres" {
		dbURL := config.DatabaseURL()
		if dbURL == "" {
			logger.Fatal("DATABASE_URL is required for the postgres backend")
		}
		pool, err = store.Connect(ctx, dbURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("connected to database")

		if err := store.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		health["postgres"] = pool.Ping
	}

	ledgerOpts := store.LedgerOptions{
		LeaseTTL:     config.JobLeaseTTL(),
		MaxAttempts:  config.JobMaxAttempts(),
		RetryBackoff: config.JobRetryBackoff(),
	}

	var ledger domain.JobLedger
	switch backend := config.LedgerBackend(); backend {
	case "memory":
		ledger = store.NewMemJobLedger(ledgerOpts)
	case "postgres":
		ledger = store.NewPostgresJobLedger(pool, ledgerOpts)
	case "redis":
		opts, err := redis.ParseURL(config.RedisURL())
		if err != nil {
			logger.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		ledger = store.NewRedisJobLedger(rdb, store.DefaultRedisKeyPrefix, ledgerOpts)
	default:
		logger.Fatal("unknown LEDGER_BACKEND", zap.String("backend", backend))
	}
	logger.Info("job ledger initialized", zap.String("backend", config.LedgerBackend()))

	var scores domain.ScoreStore
	var edges domain.TrustEdgeStore
	switch backend := config.StoreBackend(); backend {
	case "memory":
		scores = store.NewMemScoreStore()
		edges = store.NewMemTrustEdgeStore()
	case "postgres":
		scores = store.NewPostgresScoreStore(pool)
		edges = store.NewPostgresTrustEdgeStore(pool)
	default:
		logger.Fatal("unknown STORE_BACKEND", zap.String("backend", backend))
	}

	bskyCfg := bsky.DefaultConfig()
	bskyCfg.Host = config.AppviewURL()
	bskyCfg.UserAgent = "skytrust/" + buildconfig.Version()
	atproto := bsky.NewClient(bskyCfg, logger.Named("bsky"))

	classifier := newClassifier(logger)

	jobSvc := service.NewJobService(ledger, atproto, logger)
	scoreSvc := service.NewScoreService(scores, logger)
	trustSvc := service.NewTrustService(edges, service.TrustConfig{
		HalfLifeDays: config.TrustHalfLifeDays(),
		HopLambda:    config.TrustHopLambda(),
		BaseRate:     0.5,
	}, logger)

	pipelineCfg := service.DefaultPipelineConfig()
	pipelineCfg.RefreshInterval = config.ScoreRefreshInterval()
	pipeline := service.NewPipelineService(atproto, classifier, scores, ledger, pipelineCfg, logger.Named("pipeline"))

	reaper := service.NewReaperService(ledger, config.JobRetention(), logger)
	reaper.Start()

	var workers *service.WorkerPool
	if config.InlineWorkers() {
		workers = service.NewWorkerPool(ledger, pipeline, service.WorkerConfig{
			Concurrency:  config.WorkerConcurrency(),
			PollInterval: config.WorkerPollInterval(),
			JobTimeout:   config.JobLeaseTTL(),
		}, logger.Named("worker"))
		workers.Start()
	}

	router := api.NewRouter(api.Services{
		Jobs:   jobSvc,
		Scores: scoreSvc,
		Trust:  trustSvc,
		Health: health,
	}, api.RouterConfig{
		RateLimitRPS:   config.RateLimitRPS(),
		RateLimitBurst: config.RateLimitBurst(),
	}, logger)

	addr := config.ServerAddr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	// Stop background services
	if workers != nil {
		workers.Stop()
	}
	reaper.Stop()

	logger.Info("server stopped")
}

// newClassifier builds the configured provider behind the call guard. With
// no API key every claim is classified neutral, so scoring still runs.
func newClassifier(logger *zap.Logger) domain.ClaimClassifier {
	provider := config.LLMProvider()
	inner, err := llm.NewClassifier(provider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("claim classifier unavailable, classifying everything as neutral",
			zap.String("provider", provider),
			zap.Error(err),
		)
		provider = llm.ProviderMock
		inner = llm.NewMockClassifier()
	} else {
		logger.Info("claim classifier initialized", zap.String("provider", provider))
	}

	return llm.NewGuardedClassifier(inner, llm.GuardConfig{
		Provider: provider,
		Timeout:  config.ClassifierTimeout(),
		RPS:      config.ClassifierRPS(),
	}, logger.Named("classifier"))
}
