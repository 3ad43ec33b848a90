package api

import (
	"net/http"

	"github.com/Harshitk-cp/skytrust/internal/api/handlers"
	mw "github.com/Harshitk-cp/skytrust/internal/api/middleware"
	"github.com/Harshitk-cp/skytrust/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services is everything the HTTP surface calls into.
type Services struct {
	Jobs   *service.JobService
	Scores *service.ScoreService
	Trust  *service.TrustService
	// Health checks run by GET /health, keyed by dependency name.
	Health map[string]handlers.HealthCheck
}

type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(svc Services, cfg RouterConfig, logger *zap.Logger) *chi.Mux {
	jobHandler := handlers.NewJobHandler(svc.Jobs, logger)
	scoreHandler := handlers.NewScoreHandler(svc.Scores, logger)
	trustHandler := handlers.NewTrustHandler(svc.Trust, logger)

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(mw.RequestID(logger))
	r.Use(middleware.RealIP)
	r.Use(mw.Metrics)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", handlers.Health(svc.Health))
	r.Get("/version", handlers.Version)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			r.Use(mw.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
		}

		r.Post("/lookup", jobHandler.Lookup)
		r.Get("/user/{id}/scores", scoreHandler.Get)
		r.Post("/trust", trustHandler.Record)
		r.Get("/trust/{from}/{to}", trustHandler.Derive)
	})

	// Worker-facing endpoints. Remote workers poll these, so they are not
	// rate limited. GET /internal/scores/{id} is the worker's freshness read.
	r.Route("/internal", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/next", jobHandler.Next)
			r.Post("/score", jobHandler.Enqueue)
			r.Route("/score/{id}", func(r chi.Router) {
				r.Get("/", jobHandler.Status)
				r.Post("/done", jobHandler.Done)
				r.Post("/fail", jobHandler.Fail)
			})
		})
		r.Get("/scores/{id}", scoreHandler.Get)
		r.Post("/upsert/scores", scoreHandler.Upsert)
	})

	return r
}
