package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

type PitchesRepository interface {
	GetByUser(ctx context.Context, userID string) (*model.Pitch, error)
	Upsert(ctx context.Context, p model.Pitch) error
}

type PitchesRepositoryImpl struct {
	db *sqlx.DB
}

func NewPitchesRepository(db *sqlx.DB) *PitchesRepositoryImpl {
	return &PitchesRepositoryImpl{db: db}
}

var _ PitchesRepository = (*PitchesRepositoryImpl)(nil)

func (r *PitchesRepositoryImpl) GetByUser(ctx context.Context, userID string) (*model.Pitch, error) {
	var p model.Pitch
	err := r.db.GetContext(ctx, &p, `
		SELECT user_id, short_pitch, medium_pitch, subject_line, updated_at
		  FROM pitches
		 WHERE user_id = ? LIMIT 1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pitch for %s: %w", userID, err)
	}
	return &p, nil
}

func (r *PitchesRepositoryImpl) Upsert(ctx context.Context, p model.Pitch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pitches (user_id, short_pitch, medium_pitch, subject_line, updated_at)
		VALUES (?, ?, ?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE
		    short_pitch = VALUES(short_pitch), medium_pitch = VALUES(medium_pitch),
		    subject_line = VALUES(subject_line), updated_at = NOW(3)
	`, p.UserID, p.ShortPitch, p.MediumPitch, p.SubjectLine)
	if err != nil {
		return fmt.Errorf("upsert pitch for %s: %w", p.UserID, err)
	}
	return nil
}
