package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/llm"
	"github.com/Harshitk-cp/skytrust/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockPostFetcher implements domain.PostFetcher for testing.
type mockPostFetcher struct {
	mu    sync.Mutex
	posts map[string][]domain.Post
	errs  map[string]error
	calls []string
}

func newMockPostFetcher() *mockPostFetcher {
	return &mockPostFetcher{
		posts: make(map[string][]domain.Post),
		errs:  make(map[string]error),
	}
}

func (m *mockPostFetcher) FetchRecentPosts(ctx context.Context, actor string, limit int) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, actor)
	if err := m.errs[actor]; err != nil {
		return nil, err
	}
	posts := m.posts[actor]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

type pipelineFixture struct {
	svc        *PipelineService
	fetcher    *mockPostFetcher
	classifier *llm.MockClassifier
	scores     *store.MemScoreStore
	ledger     *store.MemJobLedger
	clock      *clockwork.FakeClock
}

func newPipelineFixture(t *testing.T, cfg PipelineConfig) *pipelineFixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f := &pipelineFixture{
		fetcher:    newMockPostFetcher(),
		classifier: llm.NewMockClassifier(),
		scores:     store.NewMemScoreStore(),
		ledger:     store.NewMemJobLedger(store.LedgerOptions{Clock: clock}),
		clock:      clock,
	}
	f.svc = NewPipelineService(f.fetcher, f.classifier, f.scores, f.ledger, cfg, zap.NewNop())
	f.svc.SetClock(clock)
	return f
}

// claim enqueues and claims a job the way a worker would.
func (f *pipelineFixture) claim(t *testing.T, job domain.Job) domain.Job {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.Enqueue(ctx, job))
	claimed, err := f.ledger.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return *claimed
}

func makePosts(n int, text func(i int) string) []domain.Post {
	posts := make([]domain.Post, n)
	for i := range posts {
		posts[i] = domain.Post{
			ID:   fmt.Sprintf("at://did:plc:alice/app.bsky.feed.post/%d", i),
			CID:  fmt.Sprintf("bafy%d", i),
			Text: text(i),
		}
	}
	return posts
}

func TestLooksLikeClaim(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"too short", "GDP is 3%", false},
		{"too few words", "Thisisaverylongwordwithoutanyspacesinsideitatall 2024", false},
		{"digit", "the committee approved the budget for fiscal year 2025 yesterday", true},
		{"link", "read the full breakdown of the vote right here https://example.com now", true},
		{"cue phrase", "the minister says the new policy takes effect next week for everyone", true},
		{"no signal", "lovely morning walk along the river with the dog and some coffee", false},
		{"uppercase cue", "THE MINISTER SAYS THE NEW POLICY TAKES EFFECT NEXT WEEK FOR EVERYONE", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LooksLikeClaim(tt.text))
		})
	}
}

func TestPipeline_EmptyFetchStoresVacuousScores(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice", Handle: "alice.bsky.social"})

	require.NoError(t, f.svc.Process(ctx, job))

	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	for _, name := range []string{domain.FacetAccuracy, domain.FacetCivility} {
		facet := doc.Facets[name]
		assert.Equal(t, 0, facet.Alpha, name)
		assert.Equal(t, 0, facet.Beta, name)
		assert.InDelta(t, 1.0, facet.Opinion.U, 1e-9, name)
	}
	assert.Equal(t, "alice.bsky.social", doc.Handle)
	assert.Equal(t, 0.12, doc.BotProbability)
	assert.Empty(t, doc.Expertise)
	assert.Empty(t, doc.Evidence)
	assert.Equal(t, f.clock.Now().UnixMilli(), doc.UpdatedAt)
	require.NotNil(t, doc.Coverage)
	assert.Equal(t, 0, doc.Coverage.PostsFetched)
	assert.False(t, doc.Coverage.FetchFailed)

	state, ok, err := f.ledger.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, domain.JobStateDone, state)
	assert.Equal(t, 0, f.classifier.Calls())
}

func TestPipeline_FallsBackToHandle(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fetcher.errs["did:plc:alice"] = domain.ErrUpstreamUnavailable
	f.fetcher.posts["alice.bsky.social"] = makePosts(3, func(i int) string { return "hello there friends" })

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice", Handle: "alice.bsky.social"})
	require.NoError(t, f.svc.Process(ctx, job))

	assert.Equal(t, []string{"did:plc:alice", "alice.bsky.social"}, f.fetcher.calls)
	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, 3, doc.Facets[domain.FacetCivility].Alpha)
	assert.False(t, doc.Coverage.FetchFailed)
}

func TestPipeline_BothFetchesFailStillDone(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fetcher.errs["did:plc:alice"] = domain.ErrUpstreamUnavailable
	f.fetcher.errs["alice.bsky.social"] = domain.ErrUpstreamUnavailable

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice", Handle: "alice.bsky.social"})
	require.NoError(t, f.svc.Process(ctx, job))

	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.True(t, doc.Coverage.FetchFailed)
	assert.InDelta(t, 1.0, doc.Facets[domain.FacetAccuracy].Opinion.U, 1e-9)

	state, _, err := f.ledger.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, state)
}

func TestPipeline_CountsClassificationsAndCivility(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fetcher.posts["did:plc:alice"] = []domain.Post{
		{ID: "p0", CID: "c0", Text: "the sky is blue today"},
		{ID: "p1", CID: "c1", Text: "water boils at 50 degrees"},
		{ID: "p2", CID: "c2", Text: "the vote was rigged"},
		{ID: "p3", CID: "c3", Text: "what an idiot take"},
		{ID: "p4", CID: "c4", Text: ""},
		{ID: "p5", CID: "c5", Text: "ok"},
	}
	f.classifier.ClassifyFunc = func(text string) (domain.ClaimResult, error) {
		switch {
		case strings.Contains(text, "sky"):
			return domain.ClaimResult{Classification: domain.ClassificationAccurate}, nil
		case strings.Contains(text, "boils"):
			return domain.ClaimResult{Classification: domain.ClassificationInaccurate}, nil
		case strings.Contains(text, "rigged"):
			return domain.ClaimResult{Classification: domain.ClassificationContested, EvidenceRefs: []string{"https://a.example"}}, nil
		}
		return domain.NeutralResult(), nil
	}

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))

	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)

	acc := doc.Facets[domain.FacetAccuracy]
	assert.Equal(t, 1, acc.Alpha)
	assert.Equal(t, 1, acc.Beta)
	assert.InDelta(t, 0.25, acc.Opinion.B, 1e-9)
	assert.InDelta(t, 0.25, acc.Opinion.D, 1e-9)
	assert.InDelta(t, 0.5, acc.Opinion.U, 1e-9)

	// "ok" is too short to count and the empty post is skipped.
	civ := doc.Facets[domain.FacetCivility]
	assert.Equal(t, 3, civ.Alpha)
	assert.Equal(t, 1, civ.Beta)

	require.Len(t, doc.Evidence, 1)
	assert.Equal(t, "c2", doc.Evidence[0].PostID)
	assert.Equal(t, "politics", doc.Evidence[0].Domain)
	assert.Equal(t, domain.ClassificationContested, doc.Evidence[0].Classification)
	assert.Equal(t, []string{"https://a.example"}, doc.Evidence[0].EvidenceRefs)

	assert.Equal(t, 5, f.classifier.Calls())
	for _, c := range f.classifier.ClassifyCalls {
		assert.Equal(t, "politics", c.Domain)
	}
	assert.Equal(t, 5, doc.Coverage.ClaimsChecked)
	assert.Equal(t, 5, doc.Coverage.PostsExamined)
}

func TestPipeline_OnlyClaimLikePostsAfterFirstTen(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fetcher.posts["did:plc:alice"] = makePosts(20, func(i int) string {
		if i%2 == 0 {
			return "the report says unemployment fell to 4 percent across the region"
		}
		return "nice weather"
	})

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))

	// first 10 always, then the 5 claim-like posts among 10..19
	assert.Equal(t, 15, f.classifier.Calls())
}

func TestPipeline_ClassifierBudget(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultPipelineConfig()
	cfg.FetchLimit = 100
	f := newPipelineFixture(t, cfg)
	f.fetcher.posts["did:plc:alice"] = makePosts(100, func(i int) string {
		return "officials say turnout reached 65% in the district this year"
	})
	f.classifier.ClassifyResponse = domain.ClaimResult{Classification: domain.ClassificationAccurate}

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))

	assert.Equal(t, 25, f.classifier.Calls())
	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, 25, doc.Facets[domain.FacetAccuracy].Alpha)
	assert.Equal(t, 100, doc.Facets[domain.FacetCivility].Alpha)
}

func TestPipeline_ExaminesAtMostMaxPosts(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultPipelineConfig()
	cfg.FetchLimit = 150
	f := newPipelineFixture(t, cfg)
	f.fetcher.posts["did:plc:alice"] = makePosts(150, func(i int) string { return "plain words" })

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))

	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, 100, doc.Facets[domain.FacetCivility].Alpha)
	assert.Equal(t, 150, doc.Coverage.PostsFetched)
	assert.Equal(t, 100, doc.Coverage.PostsExamined)
}

func TestPipeline_ClassifierFailuresDegradeToNeutral(t *testing.T) {
	ctx := context.Background()
	f := newPipelineFixture(t, DefaultPipelineConfig())
	f.fetcher.posts["did:plc:alice"] = makePosts(4, func(i int) string { return "some statement here" })
	f.classifier.ClassifyError = errors.New("boom")

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))

	doc, err := f.scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Facets[domain.FacetAccuracy].Alpha)
	assert.Equal(t, 0, doc.Facets[domain.FacetAccuracy].Beta)
	assert.Equal(t, 4, doc.Coverage.ClassifierFailures)
	assert.Equal(t, 4, doc.Facets[domain.FacetCivility].Alpha)

	state, _, err := f.ledger.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, state)
}

func TestPipeline_SkipsFreshScoresUnlessForced(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultPipelineConfig()
	cfg.RefreshInterval = time.Hour
	f := newPipelineFixture(t, cfg)
	f.fetcher.posts["did:plc:alice"] = makePosts(2, func(i int) string { return "hello there friends" })

	job := f.claim(t, domain.Job{ID: "job-1", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))
	require.Len(t, f.fetcher.calls, 1)

	f.clock.Advance(10 * time.Minute)
	job = f.claim(t, domain.Job{ID: "job-2", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))
	assert.Len(t, f.fetcher.calls, 1, "fresh scores should not be refetched")
	state, _, err := f.ledger.Status(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, state)

	job = f.claim(t, domain.Job{ID: "job-3", Identity: "did:plc:alice", Force: true})
	require.NoError(t, f.svc.Process(ctx, job))
	assert.Len(t, f.fetcher.calls, 2)

	f.clock.Advance(2 * time.Hour)
	job = f.claim(t, domain.Job{ID: "job-4", Identity: "did:plc:alice"})
	require.NoError(t, f.svc.Process(ctx, job))
	assert.Len(t, f.fetcher.calls, 3)
}

// failingScoreStore implements domain.ScoreStore and always fails writes.
type failingScoreStore struct{}

func (failingScoreStore) GetScores(ctx context.Context, identity string) (domain.UserScoreDocument, error) {
	return domain.DefaultScoreDocument(identity), nil
}

func (failingScoreStore) PutScores(ctx context.Context, identity string, doc domain.UserScoreDocument) error {
	return errors.New("disk full")
}

func TestPipeline_StoreErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	ledger := store.NewMemJobLedger(store.DefaultLedgerOptions())
	svc := NewPipelineService(newMockPostFetcher(), llm.NewMockClassifier(), failingScoreStore{}, ledger, DefaultPipelineConfig(), zap.NewNop())

	require.NoError(t, ledger.Enqueue(ctx, domain.Job{ID: "job-1", Identity: "did:plc:alice"}))
	job, err := ledger.ClaimNext(ctx)
	require.NoError(t, err)

	err = svc.Process(ctx, *job)
	require.Error(t, err)

	state, _, err := ledger.Status(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateProcessing, state)
}

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	km := newKeyedMutex()
	var mu sync.Mutex
	active := map[string]int{}
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("k%d", i%3)
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			mu.Lock()
			active[key]++
			assert.Equal(t, 1, active[key])
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active[key]--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, km.size())
}

// slowClassifier answers "accurate" after delay, or fails when ctx ends first.
type slowClassifier struct {
	delay time.Duration
}

func (c slowClassifier) Classify(ctx context.Context, text, claimDomain string) (domain.ClaimResult, error) {
	select {
	case <-time.After(c.delay):
		return domain.ClaimResult{Classification: domain.ClassificationAccurate, EvidenceRefs: []string{}}, nil
	case <-ctx.Done():
		return domain.ClaimResult{}, ctx.Err()
	}
}

// ctxScoreStore rejects writes on a finished context, like a network store.
type ctxScoreStore struct {
	*store.MemScoreStore
}

func (s ctxScoreStore) PutScores(ctx context.Context, identity string, doc domain.UserScoreDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemScoreStore.PutScores(ctx, identity, doc)
}

// ctxLedger rejects MarkDone on a finished context.
type ctxLedger struct {
	*store.MemJobLedger
}

func (l ctxLedger) MarkDone(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.MemJobLedger.MarkDone(ctx, id)
}

func TestPipeline_SlowClassifierStillFinishesJob(t *testing.T) {
	ctx := context.Background()
	fetcher := newMockPostFetcher()
	fetcher.posts["did:plc:alice"] = makePosts(25, func(i int) string {
		return fmt.Sprintf("the minister says turnout was %d percent in district number %d this year", 40+i, i)
	})
	scores := ctxScoreStore{store.NewMemScoreStore()}
	ledger := ctxLedger{store.NewMemJobLedger(store.DefaultLedgerOptions())}

	pipeline := NewPipelineService(fetcher, slowClassifier{delay: 20 * time.Millisecond}, scores, ledger, DefaultPipelineConfig(), zap.NewNop())
	pool := NewWorkerPool(ledger, pipeline, WorkerConfig{Concurrency: 1, JobTimeout: 100 * time.Millisecond}, zap.NewNop())

	require.NoError(t, ledger.Enqueue(ctx, domain.Job{ID: "job-1", Identity: "did:plc:alice"}))
	claimed, err := pool.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, claimed)

	job, err := ledger.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, job.State)
	assert.Empty(t, job.LastError)

	doc, err := scores.GetScores(ctx, "did:plc:alice")
	require.NoError(t, err)
	require.NotNil(t, doc.Coverage)
	assert.Positive(t, doc.Coverage.ClaimsChecked)
	assert.Positive(t, doc.Coverage.ClaimsSkipped)
	assert.Equal(t, 25, doc.Coverage.ClaimsChecked+doc.Coverage.ClaimsSkipped)
	assert.Positive(t, doc.Facets[domain.FacetAccuracy].Alpha, "evidence gathered before the deadline is kept")
	assert.Equal(t, 25, doc.Facets[domain.FacetCivility].Alpha)
}
