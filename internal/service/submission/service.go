// Package submission drives label submissions through pending -> sent|failed.
package submission

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/analytics"
	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/dispatcher"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/quota"
	"github.com/jmehdipour/label-dispatch/internal/repository"
	"github.com/jmehdipour/label-dispatch/internal/util"
)

const DefaultListLimit = 50

type Request struct {
	UserID       string
	LabelID      string
	PitchVariant model.PitchVariant
	// Method is optional; empty uses the label's declared method.
	Method model.SubmissionMethod
}

// Result is returned with QuotaExceeded and ProviderFailure errors too, so
// callers can still report the quota figures and the failed log id.
type Result struct {
	SubmissionID string                 `json:"submission_id,omitempty"`
	Status       model.SubmissionStatus `json:"status,omitempty"`
	Remaining    int                    `json:"remaining"`
	Limit        int                    `json:"limit"`
	Unlimited    bool                   `json:"unlimited,omitempty"`
}

type Options struct {
	SendTimeout time.Duration
	FromAddress string
	FromName    string
}

type Service struct {
	labels  repository.LabelsRepository
	pitches repository.PitchesRepository
	subs    repository.SubmissionsRepository
	quota   *quota.Engine
	sender  dispatcher.Sender
	events  analytics.Emitter
	log     *zap.Logger
	opts    Options
	now     func() time.Time
}

func New(
	labels repository.LabelsRepository,
	pitches repository.PitchesRepository,
	subs repository.SubmissionsRepository,
	engine *quota.Engine,
	sender dispatcher.Sender,
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
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Service{
		labels:  labels,
		pitches: pitches,
		subs:    subs,
		quota:   engine,
		sender:  sender,
		events:  events,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// Submit validates preconditions, reserves a pending log under the quota
// check, performs the send, and records exactly one terminal status.
func (s *Service) Submit(ctx context.Context, req Request) (Result, error) {
	label, err := s.labels.GetByID(ctx, req.LabelID)
	if err != nil {
		return Result{}, fmt.Errorf("load label: %w", err)
	}
	if label == nil || !label.IsActive || (label.AddedBy == model.AddedByUser && label.OwnerUserID != req.UserID) {
		return Result{}, apperr.NotFound("label_not_found", "label does not exist")
	}

	method := req.Method
	if method == "" {
		method = label.SubmissionMethod
	}
	if !label.Accepts(method) {
		return Result{}, apperr.InvalidState("unsupported_method",
			fmt.Sprintf("label does not accept %s submissions", method))
	}

	variant := req.PitchVariant
	if variant == "" {
		variant = model.PitchShort
	}
	pitch, err := s.pitches.GetByUser(ctx, req.UserID)
	if err != nil {
		return Result{}, fmt.Errorf("load pitch: %w", err)
	}
	if pitch == nil || pitch.Body(variant) == "" {
		return Result{}, apperr.NotFound("pitch_missing", "no generated pitch for this variant")
	}

	var (
		decision quota.Decision
		user     model.User
	)
	from, to := quota.MonthRange(s.now(), s.quota.Location())
	entry, err := s.subs.ReservePending(ctx, req.UserID, from, to, func(u model.User, count int) (model.SubmissionLog, error) {
		user = u
		decision = s.quota.CanSubmit(count, u.Tier, u.SubscriptionStatus)
		if !decision.Allowed {
			return model.SubmissionLog{}, apperr.QuotaExceeded("monthly submission quota exceeded")
		}
		return model.SubmissionLog{
			ID:           util.NewID(),
			UserID:       u.ID,
			LabelID:      label.ID,
			Method:       method,
			SentTo:       destination(*label, method),
			Subject:      subjectFor(*pitch, u),
			PitchVariant: variant,
			CreatedAt:    s.now().UTC(),
		}, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return Result{}, apperr.NotFound("user_not_found", "user does not exist")
		}
		if errors.Is(err, apperr.ErrQuotaExceeded) {
			metrics.SubmissionsTotal.WithLabelValues("denied", method.String()).Inc()
			return quotaResult(decision, ""), err
		}
		return Result{}, fmt.Errorf("reserve submission: %w", err)
	}
	metrics.SubmissionsTotal.WithLabelValues(string(model.SubmissionPending), method.String()).Inc()

	if method == model.MethodWebform {
		// the submit call is the user's confirmation of the assisted form
		return s.finishSent(ctx, entry, decision, dispatcher.Receipt{Provider: "webform"})
	}

	msg := dispatcher.Message{
		From:     s.opts.FromAddress,
		FromName: s.opts.FromName,
		To:       label.SubmissionEmail,
		ReplyTo:  user.Email,
		Subject:  entry.Subject,
		HTMLBody: htmlBody(pitch.Body(variant)),
		TextBody: pitch.Body(variant),
		Tag:      "label-submission",
		Metadata: map[string]string{
			"submission_id": entry.ID,
			"user_id":       entry.UserID,
			"label_id":      entry.LabelID,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	receipt, sendErr := s.sender.Send(sendCtx, msg)
	cancel()
	if sendErr != nil {
		return s.finishFailed(ctx, entry, decision, sendErr)
	}
	return s.finishSent(ctx, entry, decision, receipt)
}

func (s *Service) finishSent(ctx context.Context, entry model.SubmissionLog, d quota.Decision, r dispatcher.Receipt) (Result, error) {
	// the terminal write must land even if the caller went away
	wctx := context.WithoutCancel(ctx)
	if err := s.subs.MarkSent(wctx, entry.ID, r.Provider, r.MessageID); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			s.log.Warn("submission already terminal", zap.String("submission_id", entry.ID))
			return Result{}, apperr.InvalidState("already_terminal", "submission already reached a terminal state")
		}
		s.log.Error("mark submission sent failed", zap.String("submission_id", entry.ID), zap.Error(err))
		return Result{}, fmt.Errorf("mark sent: %w", err)
	}

	metrics.SubmissionsTotal.WithLabelValues(string(model.SubmissionSent), entry.Method.String()).Inc()
	s.events.Emit(ctx, model.Envelope{
		Name:    model.EventSubmissionSent,
		UserID:  entry.UserID,
		Subject: entry.LabelID,
		Properties: map[string]string{
			"submission_id": entry.ID,
			"method":        entry.Method.String(),
			"provider":      r.Provider,
			"pitch_variant": string(entry.PitchVariant),
		},
	})

	res := quotaResult(d, entry.ID)
	res.Status = model.SubmissionSent
	if !res.Unlimited && res.Remaining > 0 {
		res.Remaining--
	}
	return res, nil
}

func (s *Service) finishFailed(ctx context.Context, entry model.SubmissionLog, d quota.Decision, cause error) (Result, error) {
	wctx := context.WithoutCancel(ctx)
	reason := cause.Error()
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "send timed out: " + reason
	}

	if err := s.subs.MarkFailed(wctx, entry.ID, reason); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			s.log.Warn("submission already terminal", zap.String("submission_id", entry.ID))
			return Result{}, apperr.InvalidState("already_terminal", "submission already reached a terminal state")
		}
		s.log.Error("mark submission failed failed", zap.String("submission_id", entry.ID), zap.Error(err))
		return Result{}, fmt.Errorf("mark failed: %w", err)
	}

	s.log.Warn("submission send failed",
		zap.String("submission_id", entry.ID),
		zap.String("user_id", entry.UserID),
		zap.String("to", util.RedactEmail(entry.SentTo)),
		zap.Error(cause),
	)
	metrics.SubmissionsTotal.WithLabelValues(string(model.SubmissionFailed), entry.Method.String()).Inc()
	s.events.Emit(ctx, model.Envelope{
		Name:    model.EventSubmissionFailed,
		UserID:  entry.UserID,
		Subject: entry.LabelID,
		Properties: map[string]string{
			"submission_id": entry.ID,
			"method":        entry.Method.String(),
			"reason":        reason,
		},
	})

	// failed logs do not consume quota, so remaining is unchanged
	res := quotaResult(d, entry.ID)
	res.Status = model.SubmissionFailed
	return res, apperr.ProviderFailure("submission could not be delivered, you can retry", cause)
}

// List returns a user's submission history, most recent first.
func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]model.SubmissionLog, error) {
	if limit <= 0 || limit > 200 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	logs, err := s.subs.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return logs, nil
}


func destination(l model.Label, m model.SubmissionMethod) string {
	if m == model.MethodEmail {
		return util.NormalizeEmail(l.SubmissionEmail)
	}
	return strings.TrimSpace(l.SubmissionURL)
}

func subjectFor(p model.Pitch, u model.User) string {
	if s := strings.TrimSpace(p.SubjectLine); s != "" {
		return s
	}
	if u.ArtistName != "" {
		return "Demo submission: " + u.ArtistName
	}
	return "Demo submission"
}

func htmlBody(text string) string {
	paras := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

func quotaResult(d quota.Decision, id string) Result {
	return Result{
		SubmissionID: id,
		Remaining:    d.Remaining,
		Limit:        d.Limit,
		Unlimited:    d.Unlimited,
	}
}
