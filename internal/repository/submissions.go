package repository

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

// ErrNotPending is returned when a terminal transition finds the row already
// terminal (or missing).
var ErrNotPending = errors.New("submission is not pending")

// ErrUserNotFound is returned by ReservePending for an unknown user.
var ErrUserNotFound = errors.New("user not found")

// AdmitFunc runs with the user row locked and the month's quota-consuming
// count. Returning an error aborts without writing anything.
type AdmitFunc func(u model.User, monthlyCount int) (model.SubmissionLog, error)

const submissionColumns = `id, user_id, label_id, method, status, sent_to, subject, pitch_variant,
	       provider, postmark_message_id, error_reason, created_at, updated_at`

// SubmissionsRepository persists submission logs (one row per attempt).
type SubmissionsRepository interface {
	// ReservePending locks the user, counts pending+sent logs in [from, to),
	// asks admit, and inserts the pending row, all in one transaction.
	ReservePending(ctx context.Context, userID string, from, to time.Time, admit AdmitFunc) (model.SubmissionLog, error)
	MarkSent(ctx context.Context, id, provider, messageID string) error
	MarkFailed(ctx context.Context, id, reason string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.SubmissionLog, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error)
	BatchFail(ctx context.Context, ids []string, reason string) (int64, error)
}

type SubmissionsRepositoryImpl struct {
	db *sqlx.DB
}

func NewSubmissionsRepository(db *sqlx.DB) *SubmissionsRepositoryImpl {
	return &SubmissionsRepositoryImpl{db: db}
}

var _ SubmissionsRepository = (*SubmissionsRepositoryImpl)(nil)

func (r *SubmissionsRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return t.Commit()
}

func (r *SubmissionsRepositoryImpl) ReservePending(ctx context.Context, userID string, from, to time.Time, admit AdmitFunc) (model.SubmissionLog, error) {
	var out model.SubmissionLog
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		u, err := getForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock user %s: %w", userID, err)
		}
		if u == nil {
			return ErrUserNotFound
		}

		var count int
		err = tx.GetContext(ctx, &count, `
			SELECT COUNT(*)
			  FROM submission_logs
			 WHERE user_id = ?
			   AND status IN ('pending', 'sent')
			   AND created_at >= ? AND created_at < ?
		`, userID, from, to)
		if err != nil {
			return fmt.Errorf("count monthly submissions: %w", err)
		}

		log, err := admit(*u, count)
		if err != nil {
			return err
		}

		const q = `
			INSERT INTO submission_logs
			    (id, user_id, label_id, method, status, sent_to, subject, pitch_variant, created_at, updated_at)
			VALUES
			    (?,  ?,       ?,        ?,      'pending', ?,     ?,       ?,             ?,          ?)
		`
		if _, err := tx.ExecContext(ctx, q,
			log.ID, log.UserID, log.LabelID, log.Method.String(), log.SentTo, log.Subject,
			string(log.PitchVariant), log.CreatedAt, log.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert pending submission: %w", err)
		}

		log.Status = model.SubmissionPending
		log.UpdatedAt = log.CreatedAt
		out = log
		return nil
	})
	return out, err
}

func (r *SubmissionsRepositoryImpl) MarkSent(ctx context.Context, id, provider, messageID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE submission_logs
		   SET status = 'sent', provider = ?, postmark_message_id = ?, updated_at = NOW(3)
		 WHERE id = ? AND status = 'pending'
	`, provider, messageID, id)
	if err != nil {
		return fmt.Errorf("mark %s sent: %w", id, err)
	}
	return requireOne(res)
}

func (r *SubmissionsRepositoryImpl) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE submission_logs
		   SET status = 'failed', error_reason = ?, updated_at = NOW(3)
		 WHERE id = ? AND status = 'pending'
	`, truncate(reason, 1024), id)
	if err != nil {
		return fmt.Errorf("mark %s failed: %w", id, err)
	}
	return requireOne(res)
}

func requireOne(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrNotPending
	}
	return nil
}

func (r *SubmissionsRepositoryImpl) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.SubmissionLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []model.SubmissionLog
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+submissionColumns+`
		  FROM submission_logs
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions for %s: %w", userID, err)
	}
	return rows, nil
}

func (r *SubmissionsRepositoryImpl) ListStalePending(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `
		SELECT id FROM submission_logs
		 WHERE status = 'pending' AND created_at < ?
		 ORDER BY created_at
		 LIMIT ?
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	return ids, nil
}

// BatchFail fails many pending logs in one statement; already terminal rows
// are skipped by the status guard.
func (r *SubmissionsRepositoryImpl) BatchFail(ctx context.Context, ids []string, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	const base = `UPDATE submission_logs SET status = 'failed', error_reason = ?, updated_at = NOW(3) WHERE status = 'pending' AND id IN (?)`
	query, args, err := sqlx.In(base, reason, ids)
	if err != nil {
		return 0, err
	}
	query = r.db.Rebind(query)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("batch fail submissions: %w", err)
	}
	return res.RowsAffected()
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence;
// utf8mb4 columns reject a dangling lead byte.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
