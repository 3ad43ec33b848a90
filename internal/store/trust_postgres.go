package store

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresTrustEdgeStore struct {
	db *pgxpool.Pool
}

func NewPostgresTrustEdgeStore(db *pgxpool.Pool) *PostgresTrustEdgeStore {
	return &PostgresTrustEdgeStore{db: db}
}

func (s *PostgresTrustEdgeStore) Upsert(ctx context.Context, e domain.TrustEdge) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trust_edges (from_did, to_did, scope, belief, disbelief, uncertainty, evidence_ref, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (from_did, to_did, scope) DO UPDATE SET
			belief = EXCLUDED.belief,
			disbelief = EXCLUDED.disbelief,
			uncertainty = EXCLUDED.uncertainty,
			evidence_ref = EXCLUDED.evidence_ref,
			updated_at = EXCLUDED.updated_at`,
		e.FromDID, e.ToDID, e.Scope, e.Opinion.B, e.Opinion.D, e.Opinion.U, e.EvidenceRef, e.UpdatedAt,
	)
	return err
}

func (s *PostgresTrustEdgeStore) Get(ctx context.Context, fromDID, toDID, scope string) (*domain.TrustEdge, error) {
	e := &domain.TrustEdge{}
	err := s.db.QueryRow(ctx,
		`SELECT from_did, to_did, scope, belief, disbelief, uncertainty, evidence_ref, updated_at
		 FROM trust_edges WHERE from_did = $1 AND to_did = $2 AND scope = $3`,
		fromDID, toDID, scope,
	).Scan(&e.FromDID, &e.ToDID, &e.Scope, &e.Opinion.B, &e.Opinion.D, &e.Opinion.U, &e.EvidenceRef, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *PostgresTrustEdgeStore) ListFrom(ctx context.Context, fromDID, scope string) ([]domain.TrustEdge, error) {
	rows, err := s.db.Query(ctx,
		`SELECT from_did, to_did, scope, belief, disbelief, uncertainty, evidence_ref, updated_at
		 FROM trust_edges WHERE from_did = $1 AND scope = $2
		 ORDER BY to_did`,
		fromDID, scope,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []domain.TrustEdge
	for rows.Next() {
		var e domain.TrustEdge
		if err := rows.Scan(&e.FromDID, &e.ToDID, &e.Scope, &e.Opinion.B, &e.Opinion.D, &e.Opinion.U, &e.EvidenceRef, &e.UpdatedAt); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
