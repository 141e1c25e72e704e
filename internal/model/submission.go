package model

import (
	"strings"
	"time"
)

type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "pending"
	SubmissionSent    SubmissionStatus = "sent"
	SubmissionFailed  SubmissionStatus = "failed"
)

func (s SubmissionStatus) String() string { return string(s) }

func (s SubmissionStatus) Valid() bool {
	return s == SubmissionPending || s == SubmissionSent || s == SubmissionFailed
}

func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionSent || s == SubmissionFailed
}

type PitchVariant string

const (
	PitchShort  PitchVariant = "short"
	PitchMedium PitchVariant = "medium"
)

// ParsePitchVariant normalizes input; empty => short.
func ParsePitchVariant(s string) (PitchVariant, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "short":
		return PitchShort, true
	case "medium":
		return PitchMedium, true
	default:
		return PitchShort, false
	}
}

// SubmissionLog is created pending before the external send and reaches
// exactly one terminal status. Retries are new rows.
type SubmissionLog struct {
	ID                string           `db:"id" json:"id"`
	UserID            string           `db:"user_id" json:"user_id"`
	LabelID           string           `db:"label_id" json:"label_id"`
	Method            SubmissionMethod `db:"method" json:"method"`
	Status            SubmissionStatus `db:"status" json:"status"`
	SentTo            string           `db:"sent_to" json:"sent_to"`
	Subject           string           `db:"subject" json:"subject"`
	PitchVariant      PitchVariant     `db:"pitch_variant" json:"pitch_variant"`
	Provider          string           `db:"provider" json:"provider,omitempty"`
	PostmarkMessageID string           `db:"postmark_message_id" json:"postmark_message_id,omitempty"`
	ErrorReason       string           `db:"error_reason" json:"error_reason,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updated_at"`
}

// Pitch is generated upstream; the core only checks presence.
type Pitch struct {
	UserID      string    `db:"user_id"`
	ShortPitch  string    `db:"short_pitch"`
	MediumPitch string    `db:"medium_pitch"`
	SubjectLine string    `db:"subject_line"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Body returns the text for the variant, or "" when it was never generated.
func (p Pitch) Body(v PitchVariant) string {
	if v == PitchMedium {
		return strings.TrimSpace(p.MediumPitch)
	}
	return strings.TrimSpace(p.ShortPitch)
}
