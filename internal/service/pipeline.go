package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/metrics"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// PipelineConfig bounds how much work one score job may do.
type PipelineConfig struct {
	FetchLimit         int
	MaxPosts           int
	AlwaysClassify     int
	MaxClassifierCalls int
	ClaimDomain        string
	Prior              float64
	BotProbability     float64
	// RefreshInterval lets non-forced jobs reuse a document younger than
	// this. Zero always recomputes.
	RefreshInterval time.Duration
	// FinalizeTimeout bounds the score write and MarkDone, which run even
	// after the job's own deadline has passed.
	FinalizeTimeout time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		FetchLimit:         25,
		MaxPosts:           100,
		AlwaysClassify:     10,
		MaxClassifierCalls: 25,
		ClaimDomain:        "politics",
		Prior:              domain.DefaultPrior,
		BotProbability:     0.12,
		FinalizeTimeout:    15 * time.Second,
	}
}

var claimCues = []string{
	" is ", " are ", " was ", " were ", " will ", " has ", " have ",
	"%", " million", " billion", " according to ", " reports ", " says ",
}

// LooksLikeClaim is a cheap pre-filter deciding whether a post beyond the
// always-inspected prefix is worth a classifier call.
func LooksLikeClaim(text string) bool {
	t := strings.ToLower(text)
	if len(t) < 40 {
		return false
	}
	if len(strings.Fields(t)) < 8 {
		return false
	}
	if strings.ContainsFunc(t, func(r rune) bool { return r <= unicode.MaxASCII && unicode.IsDigit(r) }) {
		return true
	}
	if strings.Contains(t, "http://") || strings.Contains(t, "https://") {
		return true
	}
	for _, cue := range claimCues {
		if strings.Contains(t, cue) {
			return true
		}
	}
	return false
}

// IsUncivil reports whether a post counts against the civility facet.
func IsUncivil(text string) bool {
	return strings.Contains(strings.ToLower(text), "idiot")
}

// PipelineService turns a claimed job into a stored score document.
type PipelineService struct {
	posts      domain.PostFetcher
	classifier domain.ClaimClassifier
	scores     domain.ScoreStore
	jobs       domain.JobQueue
	clock      clockwork.Clock
	cfg        PipelineConfig
	logger     *zap.Logger

	locks *keyedMutex
}

func NewPipelineService(
	posts domain.PostFetcher,
	classifier domain.ClaimClassifier,
	scores domain.ScoreStore,
	jobs domain.JobQueue,
	cfg PipelineConfig,
	logger *zap.Logger,
) *PipelineService {
	return &PipelineService{
		posts:      posts,
		classifier: classifier,
		scores:     scores,
		jobs:       jobs,
		clock:      clockwork.NewRealClock(),
		cfg:        cfg,
		logger:     logger,
		locks:      newKeyedMutex(),
	}
}

// SetClock replaces the clock used for UpdatedAt and refresh checks.
func (s *PipelineService) SetClock(c clockwork.Clock) {
	s.clock = c
}

// Process scores the job's identity and marks the job done. Fetch and
// classification failures degrade the result instead of failing the job;
// only score store and ledger errors are returned.
func (s *PipelineService) Process(ctx context.Context, job domain.Job) error {
	start := s.clock.Now()
	defer func() { metrics.PipelineDuration.Observe(s.clock.Since(start).Seconds()) }()

	unlock := s.locks.Lock(job.Identity)
	defer unlock()

	if !job.Force && s.cfg.RefreshInterval > 0 {
		fresh, err := s.isFresh(ctx, job.Identity)
		if err != nil {
			return fmt.Errorf("load scores for %s: %w", job.Identity, err)
		}
		if fresh {
			s.logger.Debug("scores still fresh, skipping",
				zap.String("job_id", job.ID),
				zap.String("identity", job.Identity),
			)
			if err := s.jobs.MarkDone(ctx, job.ID); err != nil {
				return fmt.Errorf("mark job %s done: %w", job.ID, err)
			}
			metrics.JobsFinished.WithLabelValues("skipped").Inc()
			return nil
		}
	}

	doc, err := s.Score(ctx, job.Identity, job.Handle)
	if err != nil {
		return err
	}

	// Whatever evidence was gathered is kept, even past the job deadline.
	finalizeTimeout := s.cfg.FinalizeTimeout
	if finalizeTimeout <= 0 {
		finalizeTimeout = DefaultPipelineConfig().FinalizeTimeout
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := s.scores.PutScores(fctx, job.Identity, doc); err != nil {
		return fmt.Errorf("store scores for %s: %w", job.Identity, err)
	}
	if err := s.jobs.MarkDone(fctx, job.ID); err != nil {
		return fmt.Errorf("mark job %s done: %w", job.ID, err)
	}
	metrics.JobsFinished.WithLabelValues("done").Inc()

	s.logger.Info("scored identity",
		zap.String("job_id", job.ID),
		zap.String("identity", job.Identity),
		zap.Int("posts", doc.Coverage.PostsFetched),
		zap.Int("claims_checked", doc.Coverage.ClaimsChecked),
		zap.Int("claims_skipped", doc.Coverage.ClaimsSkipped),
	)
	return nil
}

func (s *PipelineService) isFresh(ctx context.Context, identity string) (bool, error) {
	doc, err := s.scores.GetScores(ctx, identity)
	if err != nil {
		return false, err
	}
	if doc.UpdatedAt == 0 {
		return false, nil
	}
	age := s.clock.Now().Sub(time.UnixMilli(doc.UpdatedAt))
	return age < s.cfg.RefreshInterval, nil
}

// Score computes a fresh document without storing it.
func (s *PipelineService) Score(ctx context.Context, identity, handle string) (domain.UserScoreDocument, error) {
	if handle == "" {
		handle = identity
	}

	posts, fetchFailed := s.fetch(ctx, identity, handle)
	cov := &domain.Coverage{PostsFetched: len(posts), FetchFailed: fetchFailed}

	var accAlpha, accBeta, civAlpha, civBeta int
	evidence := []domain.EvidenceRecord{}

	for i, p := range posts {
		if i >= s.cfg.MaxPosts {
			break
		}
		if p.Text == "" {
			continue
		}
		cov.PostsExamined++

		eligible := (i < s.cfg.AlwaysClassify || LooksLikeClaim(p.Text)) &&
			cov.ClaimsChecked+cov.ClaimsSkipped < s.cfg.MaxClassifierCalls
		if eligible && ctx.Err() != nil {
			cov.ClaimsSkipped++
		} else if eligible {
			cov.ClaimsChecked++
			res, ok := s.classify(ctx, p)
			if !ok {
				cov.ClassifierFailures++
			}
			switch res.Classification {
			case domain.ClassificationAccurate:
				accAlpha++
			case domain.ClassificationInaccurate:
				accBeta++
			case domain.ClassificationContested:
				postID := p.CID
				if postID == "" {
					postID = p.ID
				}
				evidence = append(evidence, domain.EvidenceRecord{
					PostID:         postID,
					Domain:         s.cfg.ClaimDomain,
					Classification: domain.ClassificationContested,
					EvidenceRefs:   res.EvidenceRefs,
				})
			}
		}

		if len(p.Text) > 5 {
			if IsUncivil(p.Text) {
				civBeta++
			} else {
				civAlpha++
			}
		}
	}
	metrics.PostsExamined.Add(float64(cov.PostsExamined))

	accuracy, err := domain.NewScoreFacet(accAlpha, accBeta, s.cfg.Prior)
	if err != nil {
		return domain.UserScoreDocument{}, err
	}
	civility, err := domain.NewScoreFacet(civAlpha, civBeta, s.cfg.Prior)
	if err != nil {
		return domain.UserScoreDocument{}, err
	}

	return domain.UserScoreDocument{
		Identity:  identity,
		Handle:    handle,
		UpdatedAt: s.clock.Now().UnixMilli(),
		Facets: map[string]domain.ScoreFacet{
			domain.FacetAccuracy: accuracy,
			domain.FacetCivility: civility,
		},
		BotProbability: s.cfg.BotProbability,
		Expertise:      []domain.ExpertiseScore{},
		Evidence:       evidence,
		Coverage:       cov,
	}, nil
}

// fetch tries the identity first and falls back to the handle when that
// fails or comes back empty.
func (s *PipelineService) fetch(ctx context.Context, identity, handle string) ([]domain.Post, bool) {
	posts, err := s.posts.FetchRecentPosts(ctx, identity, s.cfg.FetchLimit)
	if err == nil && len(posts) > 0 {
		return posts, false
	}
	firstErr := err

	if handle != identity {
		posts, err = s.posts.FetchRecentPosts(ctx, handle, s.cfg.FetchLimit)
		if err == nil {
			return posts, false
		}
	}
	if err == nil {
		return posts, false
	}
	return absorbFetch(s.logger, identity, firstErr, err), true
}

// absorbFetch degrades a failed fetch to an empty post set.
func absorbFetch(logger *zap.Logger, identity string, identityErr, handleErr error) []domain.Post {
	metrics.FetchFailures.Inc()
	logger.Warn("post fetch failed, scoring without posts",
		zap.String("identity", identity),
		zap.NamedError("identity_error", identityErr),
		zap.NamedError("handle_error", handleErr),
	)
	return []domain.Post{}
}

func (s *PipelineService) classify(ctx context.Context, p domain.Post) (domain.ClaimResult, bool) {
	res, err := s.classifier.Classify(ctx, p.Text, s.cfg.ClaimDomain)
	if err != nil {
		return absorbClassification(s.logger, p, err), false
	}
	return res, true
}

// absorbClassification degrades a failed classification to neutral.
func absorbClassification(logger *zap.Logger, p domain.Post, err error) domain.ClaimResult {
	logger.Warn("claim classification failed, treating as neutral",
		zap.String("post_id", p.ID),
		zap.Error(err),
	)
	return domain.NeutralResult()
}
