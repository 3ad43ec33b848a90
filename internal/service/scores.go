package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/opinion"
	"go.uber.org/zap"
)

type ScoreService struct {
	store  domain.ScoreStore
	logger *zap.Logger
}

func NewScoreService(s domain.ScoreStore, logger *zap.Logger) *ScoreService {
	return &ScoreService{store: s, logger: logger}
}

// Get returns the stored document, or the default one for unknown identities.
func (s *ScoreService) Get(ctx context.Context, identity string) (domain.UserScoreDocument, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.UserScoreDocument{}, fmt.Errorf("%w: identity is required", ErrInvalidInput)
	}
	return s.store.GetScores(ctx, identity)
}

// Put replaces the document for doc.Identity. Remote workers upload their
// results through this.
func (s *ScoreService) Put(ctx context.Context, doc domain.UserScoreDocument) error {
	if strings.TrimSpace(doc.Identity) == "" {
		return fmt.Errorf("%w: did is required", ErrInvalidInput)
	}
	if doc.Handle == "" {
		doc.Handle = doc.Identity
	}
	if doc.Facets == nil {
		doc.Facets = map[string]domain.ScoreFacet{}
	}
	for name, f := range doc.Facets {
		if err := opinion.Validate(f.Opinion); err != nil {
			return fmt.Errorf("%w: facet %s: %w", ErrInvalidOpinion, name, err)
		}
	}
	if doc.Expertise == nil {
		doc.Expertise = []domain.ExpertiseScore{}
	}
	if doc.Evidence == nil {
		doc.Evidence = []domain.EvidenceRecord{}
	}
	if err := s.store.PutScores(ctx, doc.Identity, doc); err != nil {
		return fmt.Errorf("store scores for %s: %w", doc.Identity, err)
	}
	return nil
}
