// Package suppression is the ledger of inbound delivery events and
// unsubscribe actions. Flags only ever move from false to true here.
package suppression

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/analytics"
	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/service/lifecycle"
	"github.com/jmehdipour/label-dispatch/internal/util"
)

type Flagger interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	RaiseSuppressionByEmail(ctx context.Context, email string, set repository.SuppressionUpdate) (int64, error)
	RaiseSuppression(ctx context.Context, userID string, set repository.SuppressionUpdate) (int64, error)
}

type AuditLog interface {
	Record(ctx context.Context, e model.SuppressionEvent) (bool, error)
	SetOutcome(ctx context.Context, source, dedupeKey, outcome, userID string) error
}

type TypeUnsubscriber interface {
	AddTypeUnsubscribe(ctx context.Context, userID string, t model.EmailType) error
}

type TokenVerifier interface {
	Verify(userID, token string, t model.EmailType) error
}

// EmailTypes is satisfied by *lifecycle.Registry.
type EmailTypes interface {
	Lookup(t model.EmailType) (lifecycle.Definition, bool)
}

type Service struct {
	users   Flagger
	audit   AuditLog
	types   TypeUnsubscriber
	tokens  TokenVerifier
	catalog EmailTypes
	events  analytics.Emitter
	log     *zap.Logger
}

func New(users Flagger, audit AuditLog, types TypeUnsubscriber, tokens TokenVerifier, catalog EmailTypes, events analytics.Emitter, log *zap.Logger) *Service {
	if events == nil {
		events = analytics.NopEmitter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{users: users, audit: audit, types: types, tokens: tokens, catalog: catalog, events: events, log: log}
}

// EventResult describes what one webhook delivery did.
type EventResult struct {
	RecordType string `json:"record_type,omitempty"`
	Outcome    string `json:"outcome"`
	Matched    int64  `json:"matched"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

func dedupeKey(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}

// HandleEvent audits the raw body before any mutation, then applies it.
// Re-deliveries of the same body share one audit row and re-apply the same
// idempotent flag sets. Callers acknowledge regardless of the returned error.
func (s *Service) HandleEvent(ctx context.Context, raw []byte) (EventResult, error) {
	key := dedupeKey(string(raw))
	ev, parseErr := parsePostmark(raw)

	payload := json.RawMessage(raw)
	if parseErr != nil || !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		payload = quoted
	}

	first, err := s.audit.Record(ctx, model.SuppressionEvent{
		ID:         util.NewID(),
		Source:     model.SourcePostmark,
		DedupeKey:  key,
		RecordType: ev.RecordType,
		Email:      ev.address(),
		Payload:    payload,
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(recordLabel(ev.RecordType), model.OutcomeFailed).Inc()
		return EventResult{RecordType: ev.RecordType, Outcome: model.OutcomeFailed}, fmt.Errorf("audit webhook event: %w", err)
	}

	res := EventResult{RecordType: ev.RecordType, Duplicate: !first}
	res.Outcome, res.Matched, err = s.apply(ctx, ev, parseErr)

	if serr := s.audit.SetOutcome(ctx, model.SourcePostmark, key, res.Outcome, ""); serr != nil {
		s.log.Error("record webhook outcome failed", zap.String("dedupe_key", key), zap.Error(serr))
	}
	metrics.WebhookEvents.WithLabelValues(recordLabel(ev.RecordType), res.Outcome).Inc()

	s.log.Info("webhook event processed",
		zap.String("record_type", ev.RecordType),
		zap.String("email", util.RedactEmail(ev.address())),
		zap.String("outcome", res.Outcome),
		zap.Int64("matched", res.Matched),
		zap.Bool("duplicate", res.Duplicate),
	)
	return res, err
}

func (s *Service) apply(ctx context.Context, ev postmarkEvent, parseErr error) (string, int64, error) {
	if parseErr != nil || ev.RecordType == "" {
		return model.OutcomeMalformed, 0, nil
	}
	set, outcome := plan(ev)
	if outcome != "" {
		return outcome, 0, nil
	}
	email := ev.address()
	if email == "" {
		return model.OutcomeMalformed, 0, nil
	}

	n, err := s.users.RaiseSuppressionByEmail(ctx, email, set)
	if err != nil {
		return model.OutcomeFailed, 0, fmt.Errorf("apply %s: %w", ev.RecordType, err)
	}
	if n == 0 {
		return model.OutcomeNoMatch, 0, nil
	}

	s.events.Emit(ctx, model.Envelope{
		Name:    model.EventSuppressionApplied,
		Subject: ev.RecordType,
		Properties: map[string]string{
			"bounce_type": ev.Type,
			"matched":     fmt.Sprint(n),
		},
	})
	return model.OutcomeApplied, n, nil
}

// UnsubscribeResult is shown on the confirmation page.
type UnsubscribeResult struct {
	UserID    string          `json:"user_id"`
	EmailType model.EmailType `json:"email_type,omitempty"`
	// Scope is "type" for a single email type, "marketing" for all
	// non-transactional mail.
	Scope string `json:"scope"`
}

// Unsubscribe verifies the signed token for userID and records the opt-out.
// With a type only that type stops; without one all marketing mail stops.
func (s *Service) Unsubscribe(ctx context.Context, userID, token string, t model.EmailType) (UnsubscribeResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || token == "" {
		return UnsubscribeResult{}, apperr.Unauthorized("invalid_token", "missing unsubscribe token")
	}
	if err := s.tokens.Verify(userID, token, t); err != nil {
		return UnsubscribeResult{}, err
	}

	res := UnsubscribeResult{UserID: userID, EmailType: t, Scope: "marketing"}
	if t != "" {
		def, ok := s.catalog.Lookup(t)
		if !ok {
			return UnsubscribeResult{}, apperr.InvalidState("unknown_email_type", fmt.Sprintf("unknown email type %q", t))
		}
		if def.Transactional {
			return UnsubscribeResult{}, apperr.InvalidState("transactional_email_type", fmt.Sprintf("%s emails cannot be unsubscribed from", t))
		}
		res.Scope = "type"
		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			return UnsubscribeResult{}, fmt.Errorf("load user %s: %w", userID, err)
		}
		if u == nil {
			return UnsubscribeResult{}, apperr.NotFound("user_not_found", "user does not exist")
		}
		if err := s.types.AddTypeUnsubscribe(ctx, userID, t); err != nil {
			return UnsubscribeResult{}, fmt.Errorf("unsubscribe %s from %s: %w", userID, t, err)
		}
	} else {
		n, err := s.users.RaiseSuppression(ctx, userID, repository.SuppressionUpdate{MarketingUnsubscribed: true})
		if err != nil {
			return UnsubscribeResult{}, fmt.Errorf("unsubscribe %s: %w", userID, err)
		}
		if n == 0 {
			return UnsubscribeResult{}, apperr.NotFound("user_not_found", "user does not exist")
		}
	}

	payload, _ := json.Marshal(map[string]string{"user_id": userID, "email_type": t.String(), "scope": res.Scope})
	key := dedupeKey(userID, t.String())
	if _, err := s.audit.Record(ctx, model.SuppressionEvent{
		ID:         util.NewID(),
		Source:     model.SourceUnsubscribe,
		DedupeKey:  key,
		RecordType: res.Scope,
		UserID:     userID,
		Payload:    payload,
	}); err != nil {
		s.log.Error("audit unsubscribe failed", zap.String("user_id", userID), zap.Error(err))
	} else if err := s.audit.SetOutcome(ctx, model.SourceUnsubscribe, key, model.OutcomeApplied, userID); err != nil {
		s.log.Error("audit unsubscribe outcome failed", zap.String("user_id", userID), zap.Error(err))
	}

	s.events.Emit(ctx, model.Envelope{
		Name:       model.EventUnsubscribed,
		UserID:     userID,
		Subject:    t.String(),
		Properties: map[string]string{"scope": res.Scope},
	})
	return res, nil
}

func recordLabel(rt string) string {
	switch model.RecordType(rt) {
	case model.RecordBounce, model.RecordSpamComplaint, model.RecordSubscriptionChange:
		return rt
	case "":
		return "unknown"
	default:
		return "other"
	}
}
