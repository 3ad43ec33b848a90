// Package metrics holds the Prometheus collectors shared across skytrust.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var JobsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_jobs_enqueued_total",
	Help: "The total number of score jobs enqueued",
})

var JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_jobs_claimed_total",
	Help: "The total number of score jobs claimed by workers",
})

// JobsFinished is labelled by outcome: done, skipped, failed.
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skytrust_jobs_finished_total",
	Help: "The total number of score jobs that reached an outcome",
}, []string{"outcome"})

var JobsReclaimed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_jobs_reclaimed_total",
	Help: "The total number of processing jobs whose lease expired",
})

var JobsPruned = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_jobs_pruned_total",
	Help: "The total number of finished jobs deleted from the ledger",
})

var PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "skytrust_pipeline_duration_seconds",
	Help:    "Time taken to score one identity",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
})

var PostsExamined = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_posts_examined_total",
	Help: "The total number of posts examined by the pipeline",
})

var FetchFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_fetch_failures_total",
	Help: "The total number of post fetches that failed for both identity and handle",
})

// ClassifierCalls is labelled by provider and outcome: ok, error, rejected.
var ClassifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skytrust_classifier_calls_total",
	Help: "The total number of claim classifier calls",
}, []string{"provider", "outcome"})

var ClassifierDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "skytrust_classifier_duration_seconds",
	Help:    "Latency of claim classifier calls",
	Buckets: prometheus.DefBuckets,
}, []string{"provider"})

// XRPCRequests is labelled by method and outcome: ok, error, throttled.
var XRPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skytrust_xrpc_requests_total",
	Help: "The total number of XRPC requests made to the appview",
}, []string{"method", "outcome"})

var ResolveCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "skytrust_resolve_cache_hits_total",
	Help: "The total number of handle resolutions served from cache",
})

var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "skytrust_http_requests_total",
	Help: "The total number of HTTP requests served",
}, []string{"method", "route", "status"})

var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "skytrust_http_request_duration_seconds",
	Help:    "Latency of HTTP requests served",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route"})
