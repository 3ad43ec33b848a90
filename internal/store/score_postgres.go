package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/skytrust/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresScoreStore struct {
	db *pgxpool.Pool
}

func NewPostgresScoreStore(db *pgxpool.Pool) *PostgresScoreStore {
	return &PostgresScoreStore{db: db}
}

func (s *PostgresScoreStore) GetScores(ctx context.Context, identity string) (domain.UserScoreDocument, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT document FROM user_scores WHERE identity = $1`, identity,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultScoreDocument(identity), nil
		}
		return domain.UserScoreDocument{}, err
	}

	var doc domain.UserScoreDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.UserScoreDocument{}, fmt.Errorf("unmarshal score document: %w", err)
	}
	return doc, nil
}

// PutScores replaces the stored document. Concurrent writers for the same
// identity are last-write-wins.
func (s *PostgresScoreStore) PutScores(ctx context.Context, identity string, doc domain.UserScoreDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal score document: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO user_scores (identity, handle, updated_at, document)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity) DO UPDATE SET
			handle = EXCLUDED.handle,
			updated_at = EXCLUDED.updated_at,
			document = EXCLUDED.document`,
		identity, doc.Handle, doc.UpdatedAt, raw,
	)
	return err
}
