package model

import "time"

// SuppressionState gates every non-transactional send. Flags only move from
// false to true inside this system.
type SuppressionState struct {
	EmailBounced          bool `db:"email_bounced" json:"email_bounced"`
	EmailSpamComplaint    bool `db:"email_spam_complaint" json:"email_spam_complaint"`
	EmailSuppressed       bool `db:"email_suppressed" json:"email_suppressed"`
	MarketingUnsubscribed bool `db:"marketing_unsubscribed" json:"marketing_unsubscribed"`

	UnsubscribedTypes map[EmailType]bool `db:"-" json:"unsubscribed_types,omitempty"`
}

// Skip reports whether an email of type t must not be sent, and why.
// Transactional types ignore marketing and per-type unsubscribes but never
// bypass a hard suppression.
func (s SuppressionState) Skip(t EmailType, transactional bool) (bool, string) {
	if s.EmailSuppressed || s.EmailSpamComplaint {
		return true, SkipSuppressed
	}
	if s.EmailBounced {
		return true, SkipBounced
	}
	if transactional {
		return false, ""
	}
	if s.MarketingUnsubscribed || s.UnsubscribedTypes[t] {
		return true, SkipUnsubscribed
	}
	return false, ""
}

type User struct {
	ID                 string           `db:"id" json:"id"`
	Email              string           `db:"email" json:"email"`
	ArtistName         string           `db:"artist_name" json:"artist_name"`
	Tier               SubscriptionTier `db:"tier" json:"tier"`
	SubscriptionStatus string           `db:"subscription_status" json:"subscription_status"`
	Genres             StringList       `db:"genres" json:"genres"`
	StyleDescription   string           `db:"style_description" json:"style_description"`
	SuppressionState
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ArtistProfile is the scorer input taken from a user's profile.
type ArtistProfile struct {
	Genres           []string
	StyleDescription string
}

func (u User) Profile() ArtistProfile {
	return ArtistProfile{Genres: u.Genres, StyleDescription: u.StyleDescription}
}
