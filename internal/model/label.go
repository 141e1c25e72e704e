package model

import (
	"strings"
	"time"
)

type SubmissionMethod string

const (
	MethodEmail   SubmissionMethod = "email"
	MethodWebform SubmissionMethod = "webform"
	MethodNone    SubmissionMethod = "none"
)

func (m SubmissionMethod) String() string { return string(m) }

func ParseSubmissionMethod(s string) (SubmissionMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return MethodEmail, true
	case "webform", "web_form", "form":
		return MethodWebform, true
	case "none", "":
		return MethodNone, true
	default:
		return MethodNone, false
	}
}

type LabelSource string

const (
	AddedByAdmin LabelSource = "admin"
	AddedByUser  LabelSource = "user"
)

// Label is a record label target. Labels are deactivated, never deleted.
type Label struct {
	ID               string           `db:"id" json:"id"`
	Name             string           `db:"name" json:"name"`
	Genres           StringList       `db:"genres" json:"genres"`
	SubmissionMethod SubmissionMethod `db:"submission_method" json:"submission_method"`
	SubmissionEmail  string           `db:"submission_email" json:"submission_email,omitempty"`
	SubmissionURL    string           `db:"submission_url" json:"submission_url,omitempty"`
	Tier             string           `db:"tier" json:"tier,omitempty"` // Major|Mid|Indie|Underground, free text
	Notes            string           `db:"notes" json:"notes,omitempty"`
	ConfidenceScore  float64          `db:"confidence_score" json:"confidence_score"`
	AddedBy          LabelSource      `db:"added_by" json:"added_by"`
	OwnerUserID      string           `db:"owner_user_id" json:"owner_user_id,omitempty"`
	IsActive         bool             `db:"is_active" json:"is_active"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

func (l Label) HasEmail() bool   { return strings.TrimSpace(l.SubmissionEmail) != "" }
func (l Label) HasWebform() bool { return strings.TrimSpace(l.SubmissionURL) != "" }

// Accepts reports whether the label takes submissions by m: it must be the
// declared method and have a destination for it.
func (l Label) Accepts(m SubmissionMethod) bool {
	if m != l.SubmissionMethod {
		return false
	}
	switch m {
	case MethodEmail:
		return l.HasEmail()
	case MethodWebform:
		return l.HasWebform()
	default:
		return false
	}
}

// MatchResult is computed on demand and never persisted.
type MatchResult struct {
	Label Label `json:"label"`
	Score int   `json:"score"`
}
