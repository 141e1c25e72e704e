package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

// SuppressionEventsRepository is the audit trail for webhook deliveries and
// unsubscribe actions.
type SuppressionEventsRepository interface {
	// Record stores the raw event once per (source, dedupe_key); redeliveries
	// only bump the counter. first reports whether this call inserted.
	Record(ctx context.Context, e model.SuppressionEvent) (first bool, err error)
	SetOutcome(ctx context.Context, source, dedupeKey, outcome, userID string) error
}

type SuppressionEventsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSuppressionEventsRepository(db *sqlx.DB) *SuppressionEventsRepositoryImpl {
	return &SuppressionEventsRepositoryImpl{db: db}
}

var _ SuppressionEventsRepository = (*SuppressionEventsRepositoryImpl)(nil)

func (r *SuppressionEventsRepositoryImpl) Record(ctx context.Context, e model.SuppressionEvent) (bool, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("null")
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO suppression_events
		    (id, source, dedupe_key, record_type, email, user_id, payload, outcome, deliveries, received_at)
		VALUES
		    (?,  ?,      ?,          ?,           ?,     ?,       ?,       ?,       1,          NOW(3))
		ON DUPLICATE KEY UPDATE deliveries = deliveries + 1
	`, e.ID, e.Source, e.DedupeKey, e.RecordType, e.Email, e.UserID, string(payload), model.OutcomeReceived)
	if err != nil {
		return false, fmt.Errorf("record %s event: %w", e.Source, err)
	}
	// MySQL reports 1 for an insert and 2 for an update on duplicate key.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetOutcome settles a row that is still received, or failed on an earlier
// attempt; once settled, redeliveries keep the first outcome.
func (r *SuppressionEventsRepositoryImpl) SetOutcome(ctx context.Context, source, dedupeKey, outcome, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE suppression_events
		   SET outcome = ?, user_id = IF(? = '', user_id, ?), processed_at = NOW(3)
		 WHERE source = ? AND dedupe_key = ? AND outcome IN (?, ?)
	`, outcome, userID, userID, source, dedupeKey, model.OutcomeReceived, model.OutcomeFailed)
	if err != nil {
		return fmt.Errorf("set outcome for %s/%s: %w", source, dedupeKey, err)
	}
	return nil
}
