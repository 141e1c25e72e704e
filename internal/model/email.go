package model

import "time"

type EmailType string

const (
	EmailWelcome         EmailType = "welcome"
	EmailEPKGuide        EmailType = "epk_guide"
	EmailUpgrade7Day     EmailType = "upgrade_7day"
	EmailWinback         EmailType = "winback"
	EmailProfileReminder EmailType = "profile_reminder"
	EmailReengagement    EmailType = "reengagement"
	EmailWeeklyDigest    EmailType = "weekly_digest"
	EmailPaymentFailed   EmailType = "payment_failed"
)

func (t EmailType) String() string { return string(t) }

type DispatchPolicy string

const (
	PolicyOnce     DispatchPolicy = "once"
	PolicyCooldown DispatchPolicy = "cooldown"
)

// Skip reasons reported to callers of lifecycle sends.
const (
	SkipAlreadySent  = "already_sent"
	SkipCooldown     = "cooldown"
	SkipSuppressed   = "suppressed"
	SkipBounced      = "bounced"
	SkipUnsubscribed = "unsubscribed"
	SkipInProgress   = "in_progress"
)

// EmailFlag records the last successful send of one lifecycle type to one user.
type EmailFlag struct {
	UserID    string    `db:"user_id"`
	EmailType EmailType `db:"email_type"`
	SentAt    time.Time `db:"sent_at"`
	MessageID string    `db:"message_id"`
}
