package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/Harshitk-cp/skytrust/internal/opinion"
	"github.com/Harshitk-cp/skytrust/internal/store"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var ErrInvalidOpinion = errors.New("invalid opinion")

const DefaultTrustScope = "general"

type TrustConfig struct {
	// HalfLifeDays ages edges toward uncertainty as they get older.
	HalfLifeDays float64
	// HopLambda attenuates every opinion derived through an intermediary.
	HopLambda float64
	// BaseRate is the prior probability used for the expectation value.
	BaseRate float64
}

func DefaultTrustConfig() TrustConfig {
	return TrustConfig{
		HalfLifeDays: 90,
		HopLambda:    0.8,
		BaseRate:     0.5,
	}
}

// TrustService records direct trust opinions between identities and derives
// opinions over at most one intermediary.
type TrustService struct {
	edges  domain.TrustEdgeStore
	clock  clockwork.Clock
	cfg    TrustConfig
	logger *zap.Logger
}

func NewTrustService(edges domain.TrustEdgeStore, cfg TrustConfig, logger *zap.Logger) *TrustService {
	return &TrustService{
		edges:  edges,
		clock:  clockwork.NewRealClock(),
		cfg:    cfg,
		logger: logger,
	}
}

func (s *TrustService) SetClock(c clockwork.Clock) {
	s.clock = c
}

func (s *TrustService) Record(ctx context.Context, e domain.TrustEdge) (*domain.TrustEdge, error) {
	e.FromDID = strings.TrimSpace(e.FromDID)
	e.ToDID = strings.TrimSpace(e.ToDID)
	e.Scope = strings.TrimSpace(e.Scope)
	if e.FromDID == "" || e.ToDID == "" {
		return nil, fmt.Errorf("%w: fromDid and toDid are required", ErrInvalidInput)
	}
	if e.FromDID == e.ToDID {
		return nil, fmt.Errorf("%w: an identity cannot rate itself", ErrInvalidInput)
	}
	if e.Scope == "" {
		e.Scope = DefaultTrustScope
	}
	if err := opinion.Validate(e.Opinion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOpinion, err)
	}
	e.UpdatedAt = s.clock.Now()

	if err := s.edges.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("store trust edge: %w", err)
	}
	s.logger.Debug("trust edge recorded",
		zap.String("from", e.FromDID),
		zap.String("to", e.ToDID),
		zap.String("scope", e.Scope),
	)
	return &e, nil
}

// Derive computes from's opinion about to. The direct edge and every
// one-hop path are fused; with via set only the path through via is used.
// Pairs with no evidence at all come back vacuous.
func (s *TrustService) Derive(ctx context.Context, from, to, scope, via string) (*domain.DerivedTrust, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: from and to are required", ErrInvalidInput)
	}
	if scope == "" {
		scope = DefaultTrustScope
	}

	var opinions []opinion.Opinion
	var sources []string

	if via == "" {
		direct, err := s.aged(ctx, from, to, scope)
		if err != nil {
			return nil, err
		}
		if direct != nil {
			opinions = append(opinions, *direct)
			sources = append(sources, from)
		}

		out, err := s.edges.ListFrom(ctx, from, scope)
		if err != nil {
			return nil, fmt.Errorf("list trust edges: %w", err)
		}
		for _, e := range out {
			if e.ToDID == to {
				continue
			}
			o, err := s.throughIntermediary(ctx, e, to, scope)
			if err != nil {
				return nil, err
			}
			if o != nil {
				opinions = append(opinions, *o)
				sources = append(sources, e.ToDID)
			}
		}
	} else {
		first, err := s.edges.Get(ctx, from, via, scope)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("load trust edge: %w", err)
		}
		if first != nil {
			o, err := s.throughIntermediary(ctx, *first, to, scope)
			if err != nil {
				return nil, err
			}
			if o != nil {
				opinions = append(opinions, *o)
				sources = append(sources, via)
			}
		}
	}

	fused := opinion.Vacuous
	for i, o := range opinions {
		if i == 0 {
			fused = o
			continue
		}
		var err error
		fused, err = opinion.ConsensusFusion(fused, o)
		if err != nil {
			return nil, err
		}
	}

	if sources == nil {
		sources = []string{}
	}
	return &domain.DerivedTrust{
		FromDID:     from,
		ToDID:       to,
		Scope:       scope,
		Via:         via,
		Opinion:     fused,
		Expectation: fused.Expectation(s.cfg.BaseRate),
		Sources:     sources,
	}, nil
}

// throughIntermediary discounts first's target's opinion about to by first
// and applies hop decay. It returns nil when the intermediary has no edge to to.
func (s *TrustService) throughIntermediary(ctx context.Context, first domain.TrustEdge, to, scope string) (*opinion.Opinion, error) {
	second, err := s.aged(ctx, first.ToDID, to, scope)
	if err != nil || second == nil {
		return nil, err
	}
	ab, err := s.decay(first)
	if err != nil {
		return nil, err
	}
	o, err := opinion.HopDecay(opinion.Discount(ab, *second), s.cfg.HopLambda)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *TrustService) aged(ctx context.Context, from, to, scope string) (*opinion.Opinion, error) {
	e, err := s.edges.Get(ctx, from, to, scope)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load trust edge: %w", err)
	}
	o, err := s.decay(*e)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *TrustService) decay(e domain.TrustEdge) (opinion.Opinion, error) {
	days := s.clock.Since(e.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	return opinion.TimeDecay(e.Opinion, days, s.cfg.HalfLifeDays)
}
