package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

func setupTestDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return sqlx.NewDb(db, "mysql"), mock
}

var userCols = []string{
	"id", "email", "artist_name", "tier", "subscription_status", "genres", "style_description",
	"email_bounced", "email_spam_complaint", "email_suppressed", "marketing_unsubscribed",
	"created_at", "updated_at",
}

func userRow(id string) *sqlmock.Rows {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(userCols).AddRow(
		id, "artist@example.com", "DJ Test", "tier1", "active", []byte(`["House","Techno"]`), "warm deep grooves",
		false, false, false, true, now, now,
	)
}

func TestUsersGetByID(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewUsersRepository(db)

	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs("u1").WillReturnRows(userRow("u1"))
	mock.ExpectQuery(`SELECT email_type FROM email_type_unsubscribes`).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"email_type"}).AddRow("weekly_digest"))

	u, err := repo.GetByID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, model.Tier1, u.Tier)
	assert.Equal(t, model.StringList{"House", "Techno"}, u.Genres)
	assert.True(t, u.MarketingUnsubscribed)
	assert.True(t, u.UnsubscribedTypes[model.EmailWeeklyDigest])
}

func TestUsersGetByIDMissing(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewUsersRepository(db)

	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs("nope").WillReturnRows(sqlmock.NewRows(userCols))

	u, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestRaiseSuppressionByEmail(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewUsersRepository(db)

	mock.ExpectExec(`UPDATE users SET updated_at = NOW\(3\), email_bounced = 1, email_suppressed = 1 WHERE email = \?`).
		WithArgs("dup@example.com").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.RaiseSuppressionByEmail(context.Background(), "dup@example.com", SuppressionUpdate{Bounced: true, Suppressed: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRaiseSuppressionByEmailNoMatch(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewUsersRepository(db)

	mock.ExpectExec(`UPDATE users SET .* WHERE email = \?`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE email = \?`).
		WillReturnRows(sqlmock.NewRows([]string{"c"}).AddRow(0))

	n, err := repo.RaiseSuppressionByEmail(context.Background(), "ghost@example.com", SuppressionUpdate{SpamComplaint: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRaiseSuppressionEmptyUpdateIsNoop(t *testing.T) {
	db, _ := setupTestDB(t)
	n, err := NewUsersRepository(db).RaiseSuppressionByEmail(context.Background(), "a@b.co", SuppressionUpdate{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReservePendingInsertsInsideLock(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubmissionsRepository(db)
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM users WHERE id = \? FOR UPDATE`).WithArgs("u1").WillReturnRows(userRow("u1"))
	mock.ExpectQuery(`SELECT COUNT\(\*\)\s+FROM submission_logs`).WithArgs("u1", from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(`INSERT INTO submission_logs`).
		WithArgs("s1", "u1", "l1", "email", "demos@label.fm", "New EP", "short", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var seen int
	log, err := repo.ReservePending(context.Background(), "u1", from, to, func(u model.User, count int) (model.SubmissionLog, error) {
		seen = count
		return model.SubmissionLog{
			ID: "s1", UserID: u.ID, LabelID: "l1", Method: model.MethodEmail,
			SentTo: "demos@label.fm", Subject: "New EP", PitchVariant: model.PitchShort,
			CreatedAt: from.Add(time.Hour),
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, seen)
	assert.Equal(t, model.SubmissionPending, log.Status)
}

func TestReservePendingAdmitErrorRollsBack(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubmissionsRepository(db)
	denied := errors.New("denied")

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(userRow("u1"))
	mock.ExpectQuery(`SELECT COUNT`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(10))
	mock.ExpectRollback()

	_, err := repo.ReservePending(context.Background(), "u1", time.Now(), time.Now(), func(model.User, int) (model.SubmissionLog, error) {
		return model.SubmissionLog{}, denied
	})
	assert.ErrorIs(t, err, denied)
}

func TestReservePendingUnknownUser(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubmissionsRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectRollback()

	_, err := repo.ReservePending(context.Background(), "ghost", time.Now(), time.Now(), func(model.User, int) (model.SubmissionLog, error) {
		t.Fatal("admit must not run for a missing user")
		return model.SubmissionLog{}, nil
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestMarkSentOnlyFromPending(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubmissionsRepository(db)

	mock.ExpectExec(`(?s)UPDATE submission_logs\s+SET status = 'sent'.*WHERE id = \? AND status = 'pending'`).
		WithArgs("postmark", "pm-1", "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("boom", "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkSent(context.Background(), "s1", "postmark", "pm-1"))
	assert.ErrorIs(t, repo.MarkFailed(context.Background(), "s1", "boom"), ErrNotPending)
}

func TestBatchFailExpandsIDs(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubmissionsRepository(db)

	mock.ExpectExec(`WHERE status = 'pending' AND id IN \(\?, \?\)`).
		WithArgs("stale_pending", "a", "b").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.BatchFail(context.Background(), []string{"a", "b"}, "stale_pending")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.BatchFail(context.Background(), nil, "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSuppressionEventRecordDedupes(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSuppressionEventsRepository(db)
	ev := model.SuppressionEvent{ID: "e1", Source: model.SourcePostmark, DedupeKey: "abc", RecordType: "Bounce", Payload: []byte(`{}`)}

	mock.ExpectExec(`(?s)INSERT INTO suppression_events.*ON DUPLICATE KEY UPDATE deliveries = deliveries \+ 1`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO suppression_events`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	first, err := repo.Record(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = repo.Record(context.Background(), ev)
	require.NoError(t, err)
	assert.False(t, first)
}

func TestEmailFlagUpsertAndGet(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewEmailFlagsRepository(db)
	sentAt := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT INTO email_dispatch_flags.*ON DUPLICATE KEY UPDATE`).
		WithArgs("u1", "welcome", sentAt, "pm-9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM email_dispatch_flags`).WithArgs("u1", "welcome").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email_type", "sent_at", "message_id"}).
			AddRow("u1", "welcome", sentAt, "pm-9"))
	mock.ExpectQuery(`FROM email_dispatch_flags`).WithArgs("u1", "winback").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "email_type", "sent_at", "message_id"}))

	ctx := context.Background()
	require.NoError(t, repo.Upsert(ctx, model.EmailFlag{UserID: "u1", EmailType: model.EmailWelcome, SentAt: sentAt, MessageID: "pm-9"}))

	f, err := repo.Get(ctx, "u1", model.EmailWelcome)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "pm-9", f.MessageID)

	f, err = repo.Get(ctx, "u1", model.EmailWinback)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestLabelsListVisible(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewLabelsRepository(db)
	now := time.Now()

	cols := []string{"id", "name", "genres", "submission_method", "submission_email", "submission_url", "tier", "notes",
		"confidence_score", "added_by", "owner_user_id", "is_active", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM labels\s+WHERE is_active = 1\s+AND \(added_by = 'admin' OR owner_user_id = \?\)`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("l1", "Warehouse Cuts", []byte(`["House"]`), "email", "demos@wc.fm", "", "Indie", "accepting", 0.9, "admin", "", true, now, now).
			AddRow("l2", "My Label", []byte(`[]`), "webform", "", "https://form", "", "", 0.4, "user", "u1", true, now, now))

	labels, err := repo.ListVisible(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, model.MethodEmail, labels[0].SubmissionMethod)
	assert.Equal(t, model.AddedByUser, labels[1].AddedBy)
	assert.True(t, labels[1].HasWebform())
}

func TestCHEventsListByUserFiltersByName(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewCHEventsRepository(db)
	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM analytics_events FINAL\s+WHERE user_id = \?\s+AND name = \? ORDER BY occurred_at DESC LIMIT \? OFFSET \?`).
		WithArgs("u1", model.EventSubmissionSent, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "user_id", "subject", "properties", "occurred_at"}).
			AddRow("e1", model.EventSubmissionSent, "u1", "l1", []byte(`{"method":"email"}`), at))

	events, err := repo.ListByUser(context.Background(), "u1", model.EventSubmissionSent, 0, -3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "email", events[0].Properties["method"])
	assert.Equal(t, at, events[0].OccurredAt)
}

func TestCHEventsInsertBatchEmptyIsNoop(t *testing.T) {
	db, _ := setupTestDB(t)
	require.NoError(t, NewCHEventsRepository(db).InsertBatch(context.Background(), nil))
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	reason := strings.Repeat("a", 1023) + "é failed"

	got := truncate(reason, 1024)
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 1023)
	assert.Equal(t, "short", truncate("short", 1024))
}

func TestMarkFailedStoresValidUTF8Reason(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSubmissionsRepository(db)
	reason := strings.Repeat("x", 1020) + "провайдер недоступен"

	mock.ExpectExec(`UPDATE submission_logs\s+SET status = 'failed'`).
		WithArgs(utf8Reason{max: 1024}, "s1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), "s1", reason))
}

type utf8Reason struct{ max int }

func (a utf8Reason) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && len(s) <= a.max && utf8.ValidString(s)
}

func TestSetOutcomeOnlySettlesReceivedRows(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewSuppressionEventsRepository(db)

	mock.ExpectExec(`(?s)UPDATE suppression_events\s+SET outcome = \?.*WHERE source = \? AND dedupe_key = \? AND outcome IN \(\?, \?\)`).
		WithArgs(model.OutcomeApplied, "u1", "u1", model.SourcePostmark, "abc", model.OutcomeReceived, model.OutcomeFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetOutcome(context.Background(), model.SourcePostmark, "abc", model.OutcomeApplied, "u1"))
}
