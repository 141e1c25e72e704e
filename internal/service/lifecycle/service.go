// Package lifecycle sends per-type lifecycle emails behind the suppression
// gate and the per-(user, type) idempotency flags.
//
// Delivery is at-least-once: a crash between the provider accepting a message
// and the flag write lets the next trigger send it again.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/osteele/liquid"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/analytics"
	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/dispatcher"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/pkg/distlock"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/util"
)

// Result is what callers of Send see; skips are not errors.
type Result struct {
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// UsersReader is the slice of the users repository this package needs.
type UsersReader interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type FlagStore interface {
	Get(ctx context.Context, userID string, t model.EmailType) (*model.EmailFlag, error)
	Upsert(ctx context.Context, f model.EmailFlag) error
}

// LinkSigner builds signed unsubscribe links.
type LinkSigner interface {
	UnsubscribeURL(userID string, t model.EmailType) (string, error)
}

type Options struct {
	FromAddress string
	FromName    string
	LockTTL     time.Duration
	SendTimeout time.Duration
}

type Service struct {
	users    UsersReader
	flags    FlagStore
	locker   distlock.Locker
	sender   dispatcher.Sender
	registry *Registry
	links    LinkSigner
	events   analytics.Emitter
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

var _ FlagStore = (repository.EmailFlagsRepository)(nil)

func New(
	users UsersReader,
	flags FlagStore,
	locker distlock.Locker,
	sender dispatcher.Sender,
	registry *Registry,
	links LinkSigner,
	events analytics.Emitter,
	log *zap.Logger,
	opts Options,
) *Service {
	if events == nil {
		events = analytics.NopEmitter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 30 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Service{
		users:    users,
		flags:    flags,
		locker:   locker,
		sender:   sender,
		registry: registry,
		links:    links,
		events:   events,
		log:      log,
		opts:     opts,
		now:      time.Now,
	}
}

// Send delivers one lifecycle email of type t to the user unless a gate
// says otherwise.
func (s *Service) Send(ctx context.Context, userID string, t model.EmailType, payload map[string]any) (Result, error) {
	c, ok := s.registry.defs[t]
	if !ok {
		return Result{}, apperr.InvalidState("unknown_email_type", fmt.Sprintf("unknown email type %q", t))
	}
	def := c.def

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return Result{}, apperr.NotFound("user_not_found", "user does not exist")
	}
	if !util.ValidEmail(user.Email) {
		return Result{}, apperr.InvalidState("no_email", "user has no usable email address")
	}

	if skip, reason := user.Skip(t, def.Transactional); skip {
		return s.skip(ctx, userID, t, reason), nil
	}

	if reason, err := s.gate(ctx, userID, def); err != nil {
		return Result{}, err
	} else if reason != "" {
		return s.skip(ctx, userID, t, reason), nil
	}

	unlock, held, err := s.locker.TryLock(ctx, "lifecycle:"+userID+":"+t.String(), s.opts.LockTTL)
	switch {
	case err != nil:
		// the lock narrows the duplicate window; without Redis we still send
		s.log.Warn("lifecycle lock unavailable", zap.String("user_id", userID), zap.String("type", t.String()), zap.Error(err))
	case !held:
		return s.skip(ctx, userID, t, model.SkipInProgress), nil
	default:
		defer unlock()
		// a concurrent holder may have finished between the first check and the lock
		if reason, err := s.gate(ctx, userID, def); err != nil {
			return Result{}, err
		} else if reason != "" {
			return s.skip(ctx, userID, t, reason), nil
		}
	}

	bindings, err := s.bindings(*user, def, payload)
	if err != nil {
		return Result{}, err
	}
	out, err := c.render(bindings)
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle %s: %w", t, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	receipt, err := s.sender.Send(sendCtx, dispatcher.Message{
		From:     s.opts.FromAddress,
		FromName: s.opts.FromName,
		To:       user.Email,
		Subject:  out.Subject,
		HTMLBody: out.HTML,
		TextBody: out.Text,
		Tag:      t.String(),
		Metadata: map[string]string{"user_id": userID, "email_type": t.String()},
	})
	cancel()
	if err != nil {
		metrics.LifecycleEmails.WithLabelValues(t.String(), "failed").Inc()
		s.log.Warn("lifecycle send failed",
			zap.String("user_id", userID),
			zap.String("type", t.String()),
			zap.String("to", util.RedactEmail(user.Email)),
			zap.Error(err),
		)
		return Result{}, apperr.ProviderFailure("email could not be sent", err)
	}

	flag := model.EmailFlag{UserID: userID, EmailType: t, SentAt: s.now().UTC(), MessageID: receipt.MessageID}
	if err := s.flags.Upsert(context.WithoutCancel(ctx), flag); err != nil {
		// the message is out; a missing flag only risks a repeat send
		s.log.Error("lifecycle flag write failed",
			zap.String("user_id", userID),
			zap.String("type", t.String()),
			zap.String("message_id", receipt.MessageID),
			zap.Error(err),
		)
	}

	metrics.LifecycleEmails.WithLabelValues(t.String(), "sent").Inc()
	s.events.Emit(ctx, model.Envelope{
		Name:    model.EventLifecycleSent,
		UserID:  userID,
		Subject: t.String(),
		Properties: map[string]string{
			"provider":   receipt.Provider,
			"message_id": receipt.MessageID,
		},
	})
	return Result{MessageID: receipt.MessageID}, nil
}

// gate applies the type's dispatch policy to the stored flag.
func (s *Service) gate(ctx context.Context, userID string, def Definition) (string, error) {
	flag, err := s.flags.Get(ctx, userID, def.Type)
	if err != nil {
		return "", fmt.Errorf("load email flag: %w", err)
	}
	if flag == nil || flag.SentAt.IsZero() {
		return "", nil
	}
	switch def.Policy {
	case model.PolicyOnce:
		return model.SkipAlreadySent, nil
	case model.PolicyCooldown:
		if s.now().Sub(flag.SentAt) < def.Cooldown {
			return model.SkipCooldown, nil
		}
	}
	return "", nil
}

func (s *Service) skip(ctx context.Context, userID string, t model.EmailType, reason string) Result {
	metrics.LifecycleEmails.WithLabelValues(t.String(), "skipped_"+reason).Inc()
	s.log.Debug("lifecycle email skipped", zap.String("user_id", userID), zap.String("type", t.String()), zap.String("reason", reason))
	s.events.Emit(ctx, model.Envelope{
		Name:       model.EventLifecycleSkipped,
		UserID:     userID,
		Subject:    t.String(),
		Properties: map[string]string{"reason": reason},
	})
	return Result{Skipped: true, Reason: reason}
}

func (s *Service) bindings(u model.User, def Definition, payload map[string]any) (liquid.Bindings, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	b := liquid.Bindings{
		"email_type": def.Type.String(),
		"payload":    payload,
		"user": map[string]any{
			"id":          u.ID,
			"email":       u.Email,
			"artist_name": u.ArtistName,
			"tier":        u.Tier.String(),
			"genres":      []string(u.Genres),
		},
	}
	if def.Transactional || s.links == nil {
		return b, nil
	}

	typed, err := s.links.UnsubscribeURL(u.ID, def.Type)
	if err != nil {
		return nil, fmt.Errorf("unsubscribe link: %w", err)
	}
	all, err := s.links.UnsubscribeURL(u.ID, "")
	if err != nil {
		return nil, fmt.Errorf("unsubscribe link: %w", err)
	}
	b["unsubscribe_url"] = typed
	b["unsubscribe_all_url"] = all
	return b, nil
}
