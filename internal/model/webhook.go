package model

import (
	"encoding/json"
	"time"
)

type RecordType string

const (
	RecordBounce             RecordType = "Bounce"
	RecordSpamComplaint      RecordType = "SpamComplaint"
	RecordSubscriptionChange RecordType = "SubscriptionChange"
)

const (
	SourcePostmark    = "postmark"
	SourceUnsubscribe = "unsubscribe"
)

// Outcomes stored on audit rows.
const (
	OutcomeReceived            = "received"
	OutcomeApplied             = "applied"
	OutcomeNoMatch             = "no_match"
	OutcomeIgnored             = "ignored"
	OutcomeIgnoredReactivation = "ignored_reactivation"
	OutcomeMalformed           = "malformed"
	OutcomeFailed              = "failed"
)

// SuppressionEvent is the verbatim audit row for an inbound delivery event or
// unsubscribe action, deduplicated by DedupeKey.
type SuppressionEvent struct {
	ID          string          `db:"id"`
	Source      string          `db:"source"`
	DedupeKey   string          `db:"dedupe_key"`
	RecordType  string          `db:"record_type"`
	Email       string          `db:"email"`
	UserID      string          `db:"user_id"`
	Payload     json.RawMessage `db:"payload"`
	Outcome     string          `db:"outcome"`
	Deliveries  int             `db:"deliveries"`
	ReceivedAt  time.Time       `db:"received_at"`
	ProcessedAt *time.Time      `db:"processed_at"`
}
