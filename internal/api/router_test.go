package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Harshitk-cp/skytrust/internal/api/handlers"
	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/service"
	"github.com/Harshitk-cp/skytrust/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubResolver implements domain.IdentityResolver for testing.
type stubResolver map[string]string

func (s stubResolver) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if did, ok := s[handle]; ok {
		return did, nil
	}
	return "", domain.ErrUpstreamUnavailable
}

type testServer struct {
	router *chi.Mux
	ledger *store.MemJobLedger
	scores *store.MemScoreStore
}

func newTestServer(t *testing.T, health map[string]handlers.HealthCheck) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, health, RouterConfig{RateLimitRPS: 1000, RateLimitBurst: 1000})
}

func newTestServerWithConfig(t *testing.T, health map[string]handlers.HealthCheck, cfg RouterConfig) *testServer {
	t.Helper()
	logger := zap.NewNop()
	ledger := store.NewMemJobLedger(store.DefaultLedgerOptions())
	scores := store.NewMemScoreStore()

	svc := Services{
		Jobs:   service.NewJobService(ledger, stubResolver{"alice.bsky.social": "did:plc:alice"}, logger),
		Scores: service.NewScoreService(scores, logger),
		Trust:  service.NewTrustService(store.NewMemTrustEdgeStore(), service.DefaultTrustConfig(), logger),
		Health: health,
	}
	return &testServer{
		router: NewRouter(svc, cfg, logger),
		ledger: ledger,
		scores: scores,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestLookupQueuesJob(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/lookup", map[string]any{"handle": "alice.bsky.social"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[map[string]string](t, rec)
	assert.Equal(t, "did:plc:alice", resp["did"])
	assert.Equal(t, "pending", resp["status"])
	require.NotEmpty(t, resp["jobId"])

	rec = s.do(t, http.MethodGet, "/internal/jobs/score/"+resp["jobId"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[domain.Job](t, rec)
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.Equal(t, "alice.bsky.social", job.Handle)
}

func TestLookupValidation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/lookup", map[string]any{"handle": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/lookup", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkerEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/internal/jobs/next", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score", map[string]any{"did": "did:plc:bob"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[map[string]string](t, rec)["jobId"]

	rec = s.do(t, http.MethodGet, "/internal/jobs/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decode[domain.Job](t, rec)
	assert.Equal(t, jobID, claimed.ID)
	assert.Equal(t, "did:plc:bob", claimed.Identity)
	assert.Equal(t, domain.JobStateProcessing, claimed.State)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score/"+jobID+"/fail", map[string]string{"reason": "appview down"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	job, err := s.ledger.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "appview down", job.LastError)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score/"+jobID+"/done", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	state, _, err := s.ledger.Status(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, state)
}

func TestUnknownJob(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/internal/jobs/score/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score/nope/fail", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScoresRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/v1/user/did:plc:carol/scores", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[domain.UserScoreDocument](t, rec)
	assert.Equal(t, "did:plc:carol", doc.Identity)
	assert.InDelta(t, 1.0, doc.Facets[domain.FacetAccuracy].Opinion.U, 1e-9)

	body := map[string]any{
		"did":       "did:plc:carol",
		"handle":    "carol.bsky.social",
		"updatedAt": 1700000000000,
		"facets": map[string]any{
			"accuracy": map[string]any{"alpha": 2, "beta": 0, "b": 0.5, "d": 0, "u": 0.5},
		},
		"botProb": 0.12,
	}
	rec = s.do(t, http.MethodPost, "/internal/upsert/scores", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "did:plc:carol", decode[map[string]string](t, rec)["did"])

	rec = s.do(t, http.MethodGet, "/v1/user/did:plc:carol/scores", nil)
	doc = decode[domain.UserScoreDocument](t, rec)
	assert.Equal(t, "carol.bsky.social", doc.Handle)
	assert.Equal(t, 2, doc.Facets[domain.FacetAccuracy].Alpha)

	body["facets"] = map[string]any{"accuracy": map[string]any{"b": 0.9, "d": 0.9, "u": 0.9}}
	rec = s.do(t, http.MethodPost, "/internal/upsert/scores", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrustEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/v1/trust", map[string]any{
		"fromDid": "did:plc:a",
		"toDid":   "did:plc:b",
		"scope":   "politics",
		"opinion": map[string]float64{"b": 0.7, "d": 0.1, "u": 0.2},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/trust/did:plc:a/did:plc:b?scope=politics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	derived := decode[domain.DerivedTrust](t, rec)
	assert.InDelta(t, 0.7, derived.Opinion.B, 1e-6)
	assert.InDelta(t, 0.8, derived.Expectation, 1e-6)

	rec = s.do(t, http.MethodPost, "/v1/trust", map[string]any{
		"fromDid": "did:plc:a",
		"toDid":   "did:plc:b",
		"opinion": map[string]float64{"b": 0.7, "d": 0.7, "u": 0.2},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndVersion(t *testing.T) {
	s := newTestServer(t, map[string]handlers.HealthCheck{
		"ok": func(ctx context.Context) error { return nil },
	})
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec), "version")

	down := newTestServer(t, map[string]handlers.HealthCheck{
		"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rec = down.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "postgres", decode[map[string]string](t, rec)["check"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/health", nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "skytrust_http_requests_total")
}

func TestFailFromStaleAttemptIsIgnored(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/internal/jobs/score", map[string]any{"did": "did:plc:bob"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	jobID := decode[map[string]string](t, rec)["jobId"]

	rec = s.do(t, http.MethodGet, "/internal/jobs/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	claimed := decode[domain.Job](t, rec)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score/"+jobID+"/fail", map[string]any{"reason": "late", "attempt": claimed.Attempts + 1})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	state, _, err := s.ledger.Status(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateProcessing, state)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score/"+jobID+"/fail", map[string]any{"attempt": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/internal/jobs/score/"+jobID+"/fail", map[string]any{"reason": "boom", "attempt": claimed.Attempts})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	job, err := s.ledger.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.Equal(t, "boom", job.LastError)
}

func TestWorkerScoreReadIsNotRateLimited(t *testing.T) {
	s := newTestServerWithConfig(t, nil, RouterConfig{RateLimitRPS: 0.001, RateLimitBurst: 1})
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	rec := s.do(t, http.MethodGet, "/v1/user/did:plc:carol/scores", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/v1/user/did:plc:carol/scores", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	remote := service.NewRemoteLedger(srv.URL, zap.NewNop(), service.WithRetryMax(0))
	for i := 0; i < 5; i++ {
		doc, err := remote.GetScores(context.Background(), "did:plc:carol")
		require.NoError(t, err)
		assert.Equal(t, "did:plc:carol", doc.Identity)
	}
}
