package model

import "time"

// Analytics event names.
const (
	EventSubmissionSent     = "submission.sent"
	EventSubmissionFailed   = "submission.failed"
	EventLifecycleSent      = "lifecycle_email.sent"
	EventLifecycleSkipped   = "lifecycle_email.skipped"
	EventSuppressionApplied = "suppression.applied"
	EventUnsubscribed       = "email.unsubscribed"
)

// Envelope is the analytics payload published to Kafka and sunk into
// ClickHouse. Delivery is best-effort.
type Envelope struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	UserID     string            `json:"user_id"`
	Subject    string            `json:"subject,omitempty"` // label id or email type
	Properties map[string]string `json:"properties,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
