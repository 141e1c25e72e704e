package suppression

import (
	"encoding/json"

	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/util"
)

// postmarkEvent holds the fields we read from Postmark bounce, spam
// complaint and subscription change webhooks.
type postmarkEvent struct {
	RecordType        string `json:"RecordType"`
	ID                int64  `json:"ID"`
	Type              string `json:"Type"`
	MessageID         string `json:"MessageID"`
	Email             string `json:"Email"`
	Recipient         string `json:"Recipient"`
	SuppressSending   *bool  `json:"SuppressSending"`
	SuppressionReason string `json:"SuppressionReason"`
}

func (e postmarkEvent) address() string {
	if e.Email != "" {
		return util.NormalizeEmail(e.Email)
	}
	return util.NormalizeEmail(e.Recipient)
}

// Bounce types that make an address permanently undeliverable.
var hardBounces = map[string]bool{
	"HardBounce":          true,
	"BadEmailAddress":     true,
	"ManuallyDeactivated": true,
	"SpamNotification":    true,
}

func parsePostmark(raw []byte) (postmarkEvent, error) {
	var e postmarkEvent
	err := json.Unmarshal(raw, &e)
	return e, err
}

// plan maps an event to the flags it raises. An empty update with a non-empty
// outcome means nothing is applied.
func plan(e postmarkEvent) (repository.SuppressionUpdate, string) {
	switch model.RecordType(e.RecordType) {
	case model.RecordBounce:
		if !hardBounces[e.Type] {
			return repository.SuppressionUpdate{}, model.OutcomeIgnored
		}
		return repository.SuppressionUpdate{Bounced: true, Suppressed: true}, ""
	case model.RecordSpamComplaint:
		return repository.SuppressionUpdate{SpamComplaint: true, Suppressed: true}, ""
	case model.RecordSubscriptionChange:
		if e.SuppressSending == nil {
			return repository.SuppressionUpdate{}, model.OutcomeMalformed
		}
		if !*e.SuppressSending {
			// reactivations never clear flags here
			return repository.SuppressionUpdate{}, model.OutcomeIgnoredReactivation
		}
		set := repository.SuppressionUpdate{Suppressed: true}
		if e.SuppressionReason == "ManualSuppression" {
			set.MarketingUnsubscribed = true
		}
		return set, ""
	default:
		return repository.SuppressionUpdate{}, model.OutcomeIgnored
	}
}
