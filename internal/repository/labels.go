package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

const labelColumns = `id, name, genres, submission_method, submission_email, submission_url, tier, notes,
	       confidence_score, added_by, owner_user_id, is_active, created_at, updated_at`

type LabelsRepository interface {
	GetByID(ctx context.Context, id string) (*model.Label, error)
	// ListVisible returns active admin labels plus the user's own labels.
	ListVisible(ctx context.Context, userID string) ([]model.Label, error)
	Upsert(ctx context.Context, l model.Label) error
}

type LabelsRepositoryImpl struct {
	db *sqlx.DB
}

func NewLabelsRepository(db *sqlx.DB) *LabelsRepositoryImpl {
	return &LabelsRepositoryImpl{db: db}
}

var _ LabelsRepository = (*LabelsRepositoryImpl)(nil)

func (r *LabelsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Label, error) {
	var l model.Label
	err := r.db.GetContext(ctx, &l, `SELECT `+labelColumns+` FROM labels WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get label %s: %w", id, err)
	}
	return &l, nil
}

func (r *LabelsRepositoryImpl) ListVisible(ctx context.Context, userID string) ([]model.Label, error) {
	var out []model.Label
	err := r.db.SelectContext(ctx, &out, `
		SELECT `+labelColumns+`
		  FROM labels
		 WHERE is_active = 1
		   AND (added_by = 'admin' OR owner_user_id = ?)
		 ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list labels for %s: %w", userID, err)
	}
	return out, nil
}

func (r *LabelsRepositoryImpl) Upsert(ctx context.Context, l model.Label) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO labels
		    (id, name, genres, submission_method, submission_email, submission_url, tier, notes,
		     confidence_score, added_by, owner_user_id, is_active, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(3), NOW(3))
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name), genres = VALUES(genres), submission_method = VALUES(submission_method),
		    submission_email = VALUES(submission_email), submission_url = VALUES(submission_url),
		    tier = VALUES(tier), notes = VALUES(notes), confidence_score = VALUES(confidence_score),
		    is_active = VALUES(is_active), updated_at = NOW(3)
	`, l.ID, l.Name, l.Genres, l.SubmissionMethod.String(), l.SubmissionEmail, l.SubmissionURL, l.Tier, l.Notes,
		l.ConfidenceScore, string(l.AddedBy), l.OwnerUserID, l.IsActive)
	if err != nil {
		return fmt.Errorf("upsert label %s: %w", l.ID, err)
	}
	return nil
}
