package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

// EmailFlagsRepository stores per-(user, type) dispatch flags and per-type
// unsubscribes. Both are keyed by natural identity and written as upserts.
type EmailFlagsRepository interface {
	Get(ctx context.Context, userID string, t model.EmailType) (*model.EmailFlag, error)
	Upsert(ctx context.Context, f model.EmailFlag) error
	AddTypeUnsubscribe(ctx context.Context, userID string, t model.EmailType) error
}

type EmailFlagsRepositoryImpl struct {
	db *sqlx.DB
}

func NewEmailFlagsRepository(db *sqlx.DB) *EmailFlagsRepositoryImpl {
	return &EmailFlagsRepositoryImpl{db: db}
}

var _ EmailFlagsRepository = (*EmailFlagsRepositoryImpl)(nil)

func (r *EmailFlagsRepositoryImpl) Get(ctx context.Context, userID string, t model.EmailType) (*model.EmailFlag, error) {
	var f model.EmailFlag
	err := r.db.GetContext(ctx, &f, `
		SELECT user_id, email_type, sent_at, message_id
		  FROM email_dispatch_flags
		 WHERE user_id = ? AND email_type = ?
	`, userID, t.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s flag for %s: %w", t, userID, err)
	}
	return &f, nil
}

func (r *EmailFlagsRepositoryImpl) Upsert(ctx context.Context, f model.EmailFlag) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_dispatch_flags (user_id, email_type, sent_at, message_id)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE sent_at = VALUES(sent_at), message_id = VALUES(message_id)
	`, f.UserID, f.EmailType.String(), f.SentAt, f.MessageID)
	if err != nil {
		return fmt.Errorf("upsert %s flag for %s: %w", f.EmailType, f.UserID, err)
	}
	return nil
}

func (r *EmailFlagsRepositoryImpl) AddTypeUnsubscribe(ctx context.Context, userID string, t model.EmailType) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_type_unsubscribes (user_id, email_type, created_at)
		VALUES (?, ?, NOW(3))
		ON DUPLICATE KEY UPDATE user_id = user_id
	`, userID, t.String())
	if err != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", userID, t, err)
	}
	return nil
}
