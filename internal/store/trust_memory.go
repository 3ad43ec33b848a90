package store

import (
	"context"
	"sort"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/puzpuzpuz/xsync/v3"
)

type MemTrustEdgeStore struct {
	edges *xsync.MapOf[string, domain.TrustEdge]
}

func NewMemTrustEdgeStore() *MemTrustEdgeStore {
	return &MemTrustEdgeStore{edges: xsync.NewMapOf[string, domain.TrustEdge]()}
}

func edgeKey(from, to, scope string) string {
	return from + "|" + to + "|" + scope
}

func (s *MemTrustEdgeStore) Upsert(ctx context.Context, e domain.TrustEdge) error {
	if e.EvidenceRef != nil {
		ref := *e.EvidenceRef
		e.EvidenceRef = &ref
	}
	s.edges.Store(edgeKey(e.FromDID, e.ToDID, e.Scope), e)
	return nil
}

func (s *MemTrustEdgeStore) Get(ctx context.Context, fromDID, toDID, scope string) (*domain.TrustEdge, error) {
	e, ok := s.edges.Load(edgeKey(fromDID, toDID, scope))
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

// ListFrom returns every edge leaving fromDID in scope, ordered by target.
func (s *MemTrustEdgeStore) ListFrom(ctx context.Context, fromDID, scope string) ([]domain.TrustEdge, error) {
	var out []domain.TrustEdge
	s.edges.Range(func(_ string, e domain.TrustEdge) bool {
		if e.FromDID == fromDID && e.Scope == scope {
			out = append(out, e)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ToDID < out[j].ToDID })
	return out, nil
}
