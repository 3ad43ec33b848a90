package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by SKYTRUST_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("SKYTRUST_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Load main env file (ignore error if file doesn't exist)
	_ = godotenv.Load(envFile)

	// Load secret sidecar if it exists
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

// LedgerBackend selects the job ledger implementation.
// Valid values: memory, postgres, redis. Defaults to "memory".
func LedgerBackend() string {
	return stringOr("LEDGER_BACKEND", "memory")
}

// StoreBackend selects where score documents and trust edges live.
// Valid values: memory, postgres. Defaults to "memory".
func StoreBackend() string {
	return stringOr("STORE_BACKEND", "memory")
}

// AppviewURL is the XRPC host used for handle resolution and author feeds.
func AppviewURL() string {
	return stringOr("ATPROTO_APPVIEW_URL", "https://public.api.bsky.app")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func CerebrasAPIKey() string {
	return os.Getenv("CEREBRAS_API_KEY")
}

// LLMProvider returns the configured claim classifier provider.
// Defaults to "gemini" if not set.
// Valid values: gemini, openai, anthropic, cerebras, mock
func LLMProvider() string {
	return stringOr("LLM_PROVIDER", "gemini")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "openai":
		return OpenAIAPIKey()
	case "cerebras":
		return CerebrasAPIKey()
	case "mock":
		return ""
	default:
		return GeminiAPIKey()
	}
}

// ClassifierTimeout bounds a single classifier call. Defaults to 12s.
func ClassifierTimeout() time.Duration {
	return durationOr("CLASSIFIER_TIMEOUT", 12*time.Second)
}

// ClassifierRPS caps classifier calls per second across all workers.
// Zero (the default) means unlimited.
func ClassifierRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("CLASSIFIER_RPS"), 64)
	if err != nil || rps < 0 {
		return 0
	}
	return rps
}

func WorkerConcurrency() int {
	return positiveIntOr("WORKER_CONCURRENCY", 4)
}

func WorkerPollInterval() time.Duration {
	return durationOr("WORKER_POLL_INTERVAL", 500*time.Millisecond)
}

// InlineWorkers controls whether the server runs a worker pool itself.
// Defaults to true.
func InlineWorkers() bool {
	v, err := strconv.ParseBool(os.Getenv("INLINE_WORKERS"))
	if err != nil {
		return true
	}
	return v
}

func JobLeaseTTL() time.Duration {
	return durationOr("JOB_LEASE_TTL", 2*time.Minute)
}

func JobMaxAttempts() int {
	return positiveIntOr("JOB_MAX_ATTEMPTS", 3)
}

func JobRetryBackoff() time.Duration {
	return durationOr("JOB_RETRY_BACKOFF", 10*time.Second)
}

// JobRetention is how long finished jobs stay queryable. Defaults to 24h.
func JobRetention() time.Duration {
	return durationOr("JOB_RETENTION", 24*time.Hour)
}

// ScoreRefreshInterval lets non-forced lookups reuse recent scores.
// Zero (the default) always recomputes.
func ScoreRefreshInterval() time.Duration {
	return durationOr("SCORE_REFRESH_INTERVAL", 0)
}

func TrustHalfLifeDays() float64 {
	v, err := strconv.ParseFloat(os.Getenv("TRUST_HALF_LIFE_DAYS"), 64)
	if err != nil || v <= 0 {
		return 90
	}
	return v
}

func TrustHopLambda() float64 {
	v, err := strconv.ParseFloat(os.Getenv("TRUST_HOP_LAMBDA"), 64)
	if err != nil || v < 0 || v > 1 {
		return 0.8
	}
	return v
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	return positiveIntOr("RATE_LIMIT_BURST", 20)
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	return stringOr("LOG_LEVEL", "info")
}

// APIBase is the server a remote worker talks to.
func APIBase() string {
	return stringOr("API_BASE", "http://localhost:8080")
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveIntOr(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// durationOr accepts Go durations ("90s") and bare seconds ("90").
func durationOr(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}
