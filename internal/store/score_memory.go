package store

import (
	"context"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/puzpuzpuz/xsync/v3"
)

// MemScoreStore keeps score documents in process. Documents are cloned on
// the way in and out so callers never share maps or slices with the store.
type MemScoreStore struct {
	docs *xsync.MapOf[string, domain.UserScoreDocument]
}

func NewMemScoreStore() *MemScoreStore {
	return &MemScoreStore{docs: xsync.NewMapOf[string, domain.UserScoreDocument]()}
}

func (s *MemScoreStore) GetScores(ctx context.Context, identity string) (domain.UserScoreDocument, error) {
	doc, ok := s.docs.Load(identity)
	if !ok {
		return domain.DefaultScoreDocument(identity), nil
	}
	return doc.Clone(), nil
}

func (s *MemScoreStore) PutScores(ctx context.Context, identity string, doc domain.UserScoreDocument) error {
	s.docs.Store(identity, doc.Clone())
	return nil
}

// Len returns the number of stored documents.
func (s *MemScoreStore) Len() int {
	return s.docs.Size()
}
