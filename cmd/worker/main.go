package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Harshitk-cp/skytrust/internal/bsky"
	"github.com/Harshitk-cp/skytrust/internal/buildconfig"
	"github.com/Harshitk-cp/skytrust/internal/config"
	"github.com/Harshitk-cp/skytrust/internal/llm"
	"github.com/Harshitk-cp/skytrust/internal/logging"
	"github.com/Harshitk-cp/skytrust/internal/service"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Load the env file first so flag defaults see it.
	if err := config.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	app := cli.App{
		Name:    "skytrust-worker",
		Usage:   "claims scoring jobs from a skytrust server and runs the evidence pipeline",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "api-base",
			Usage:   "base URL of the skytrust server",
			Value:   config.APIBase(),
			EnvVars: []string{"API_BASE"},
		},
		&cli.StringFlag{
			Name:    "appview-host",
			Usage:   "Bluesky appview used to fetch posts",
			Value:   config.AppviewURL(),
			EnvVars: []string{"ATPROTO_APPVIEW_URL"},
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "number of jobs processed in parallel",
			Value:   config.WorkerConcurrency(),
			EnvVars: []string{"WORKER_CONCURRENCY"},
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "how long to wait after finding the queue empty",
			Value:   config.WorkerPollInterval(),
			EnvVars: []string{"WORKER_POLL_INTERVAL"},
		},
		&cli.DurationFlag{
			Name:    "job-timeout",
			Usage:   "upper bound on processing a single job",
			Value:   config.JobLeaseTTL(),
			EnvVars: []string{"JOB_LEASE_TTL"},
		},
		&cli.DurationFlag{
			Name:    "refresh-interval",
			Usage:   "skip accounts scored more recently than this, 0 always rescores",
			Value:   config.ScoreRefreshInterval(),
			EnvVars: []string{"SCORE_REFRESH_INTERVAL"},
		},
		&cli.BoolFlag{
			Name:  "once",
			Usage: "drain the queue and exit instead of polling forever",
		},
		&cli.StringFlag{
			Name:    "log-level",
			Value:   config.LogLevel(),
			EnvVars: []string{"LOG_LEVEL"},
		},
	}

	app.Action = runWorker

	return app.Run(args)
}

func runWorker(cctx *cli.Context) error {
	logger, err := logging.New(cctx.String("log-level"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	apiBase := cctx.String("api-base")
	logger.Info("starting skytrust worker",
		zap.String("version", buildconfig.Version()),
		zap.String("api_base", apiBase),
	)

	remote := service.NewRemoteLedger(apiBase, logger)

	bskyCfg := bsky.DefaultConfig()
	bskyCfg.Host = cctx.String("appview-host")
	bskyCfg.UserAgent = "skytrust-worker/" + buildconfig.Version()
	atproto := bsky.NewClient(bskyCfg, logger.Named("bsky"))

	classifier := newClassifier(logger)

	pipelineCfg := service.DefaultPipelineConfig()
	pipelineCfg.RefreshInterval = cctx.Duration("refresh-interval")
	pipeline := service.NewPipelineService(atproto, classifier, remote, remote, pipelineCfg, logger.Named("pipeline"))

	pool := service.NewWorkerPool(remote, pipeline, service.WorkerConfig{
		Concurrency:  cctx.Int("concurrency"),
		PollInterval: cctx.Duration("poll-interval"),
		JobTimeout:   cctx.Duration("job-timeout"),
	}, logger.Named("worker"))

	ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cctx.Bool("once") {
		return drain(ctx, pool, logger)
	}

	pool.Start()
	<-ctx.Done()
	logger.Info("shutting down worker")
	pool.Stop()
	logger.Info("worker stopped")
	return nil
}

// drain processes jobs until the server reports an empty queue.
func drain(ctx context.Context, pool *service.WorkerPool, logger *zap.Logger) error {
	processed := 0
	for ctx.Err() == nil {
		ok, err := pool.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		if !ok {
			break
		}
		processed++
	}
	logger.Info("queue drained", zap.Int("processed", processed))
	return nil
}

func newClassifier(logger *zap.Logger) *llm.GuardedClassifier {
	provider := config.LLMProvider()
	inner, err := llm.NewClassifier(provider, config.LLMAPIKey())
	if err != nil {
		logger.Warn("claim classifier unavailable, classifying everything as neutral",
			zap.String("provider", provider),
			zap.Error(err),
		)
		return llm.NewGuardedClassifier(llm.NewMockClassifier(), llm.GuardConfig{Provider: llm.ProviderMock}, logger)
	}
	return llm.NewGuardedClassifier(inner, llm.GuardConfig{
		Provider: provider,
		Timeout:  config.ClassifierTimeout(),
		RPS:      config.ClassifierRPS(),
	}, logger.Named("classifier"))
}
