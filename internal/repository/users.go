package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

const userColumns = `id, email, artist_name, tier, subscription_status, genres, style_description,
	       email_bounced, email_spam_complaint, email_suppressed, marketing_unsubscribed,
	       created_at, updated_at`

// SuppressionUpdate lists flags to raise. False fields are left untouched;
// nothing here ever lowers a flag.
type SuppressionUpdate struct {
	Bounced               bool
	SpamComplaint         bool
	Suppressed            bool
	MarketingUnsubscribed bool
}

func (u SuppressionUpdate) empty() bool {
	return !u.Bounced && !u.SpamComplaint && !u.Suppressed && !u.MarketingUnsubscribed
}

type UsersRepository interface {
	// GetByID returns nil, nil when the user does not exist.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// RaiseSuppressionByEmail updates every user with that address and
	// returns how many matched (0..N).
	RaiseSuppressionByEmail(ctx context.Context, email string, set SuppressionUpdate) (int64, error)
	RaiseSuppression(ctx context.Context, userID string, set SuppressionUpdate) (int64, error)
	Upsert(ctx context.Context, u model.User) error
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

func (r *UsersRepositoryImpl) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	var types []string
	err = r.db.SelectContext(ctx, &types, `SELECT email_type FROM email_type_unsubscribes WHERE user_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load unsubscribes for %s: %w", id, err)
	}
	if len(types) > 0 {
		u.UnsubscribedTypes = make(map[model.EmailType]bool, len(types))
		for _, t := range types {
			u.UnsubscribedTypes[model.EmailType(t)] = true
		}
	}
	return &u, nil
}

// getForUpdate locks the user row for the rest of tx.
func getForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*model.User, error) {
	var u model.User
	err := tx.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func suppressionSet(set SuppressionUpdate) (string, bool) {
	if set.empty() {
		return "", false
	}
	q := "UPDATE users SET updated_at = NOW(3)"
	if set.Bounced {
		q += ", email_bounced = 1"
	}
	if set.SpamComplaint {
		q += ", email_spam_complaint = 1"
	}
	if set.Suppressed {
		q += ", email_suppressed = 1"
	}
	if set.MarketingUnsubscribed {
		q += ", marketing_unsubscribed = 1"
	}
	return q, true
}

func (r *UsersRepositoryImpl) RaiseSuppressionByEmail(ctx context.Context, email string, set SuppressionUpdate) (int64, error) {
	q, ok := suppressionSet(set)
	if !ok {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, q+" WHERE email = ?", email)
	if err != nil {
		return 0, fmt.Errorf("raise suppression by email: %w", err)
	}
	return matched(ctx, r.db, res, `SELECT COUNT(*) FROM users WHERE email = ?`, email)
}

func (r *UsersRepositoryImpl) RaiseSuppression(ctx context.Context, userID string, set SuppressionUpdate) (int64, error) {
	q, ok := suppressionSet(set)
	if !ok {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, q+" WHERE id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("raise suppression for %s: %w", userID, err)
	}
	return matched(ctx, r.db, res, `SELECT COUNT(*) FROM users WHERE id = ?`, userID)
}

// matched returns matched rows. MySQL reports changed rows, and updated_at
// always changes, so a zero count needs a recount to tell "no user" apart.
func matched(ctx context.Context, db *sqlx.DB, res sql.Result, countQ string, arg any) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return n, nil
	}
	var c int64
	if err := db.GetContext(ctx, &c, countQ, arg); err != nil {
		return 0, err
	}
	return c, nil
}

func (r *UsersRepositoryImpl) Upsert(ctx context.Context, u model.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users
		    (id, email, artist_name, tier, subscription_status, genres, style_description, created_at, updated_at)
		VALUES
		    (?,  ?,     ?,           ?,    ?,                   ?,      ?,                 NOW(3),     NOW(3))
		ON DUPLICATE KEY UPDATE
		    email = VALUES(email), artist_name = VALUES(artist_name), tier = VALUES(tier),
		    subscription_status = VALUES(subscription_status), genres = VALUES(genres),
		    style_description = VALUES(style_description), updated_at = NOW(3)
	`, u.ID, u.Email, u.ArtistName, u.Tier.String(), u.SubscriptionStatus, u.Genres, u.StyleDescription)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}
