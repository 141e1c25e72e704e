package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/ratelimit"
	"github.com/jmehdipour/label-dispatch/internal/service/lifecycle"
	"github.com/jmehdipour/label-dispatch/internal/service/submission"
	"github.com/jmehdipour/label-dispatch/internal/service/suppression"
)

type stubRecommender struct{ err error }

func (s stubRecommender) Recommend(_ context.Context, userID string) ([]model.MatchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []model.MatchResult{{Label: model.Label{ID: "l1", Name: "Warehouse"}, Score: 60}}, nil
}

type stubSubmitter struct {
	last submission.Request
	res  submission.Result
	err  error
}

func (s *stubSubmitter) Submit(_ context.Context, req submission.Request) (submission.Result, error) {
	s.last = req
	return s.res, s.err
}

func (s *stubSubmitter) List(context.Context, string, int, int) ([]model.SubmissionLog, error) {
	return nil, nil
}

type stubLifecycle struct {
	payload map[string]any
	typ     model.EmailType
}

func (s *stubLifecycle) Send(_ context.Context, _ string, t model.EmailType, payload map[string]any) (lifecycle.Result, error) {
	s.typ, s.payload = t, payload
	if t == "nope" {
		return lifecycle.Result{}, apperr.InvalidState("unknown_email_type", "unknown")
	}
	return lifecycle.Result{Skipped: true, Reason: model.SkipAlreadySent}, nil
}

type stubLedger struct {
	raw      []byte
	eventErr error
	unsubErr error
}

func (s *stubLedger) HandleEvent(_ context.Context, raw []byte) (suppression.EventResult, error) {
	s.raw = raw
	return suppression.EventResult{Outcome: model.OutcomeApplied}, s.eventErr
}

func (s *stubLedger) Unsubscribe(_ context.Context, userID, _ string, t model.EmailType) (suppression.UnsubscribeResult, error) {
	if s.unsubErr != nil {
		return suppression.UnsubscribeResult{}, s.unsubErr
	}
	scope := "marketing"
	if t != "" {
		scope = "type"
	}
	return suppression.UnsubscribeResult{UserID: userID, EmailType: t, Scope: scope}, nil
}

type stubActivity struct{}

func (stubActivity) ListByUser(_ context.Context, userID, name string, _, _ int) ([]model.Envelope, error) {
	return []model.Envelope{{ID: "e1", Name: model.EventSubmissionSent, UserID: userID}}, nil
}

type testServer struct {
	h      http.Handler
	subs   *stubSubmitter
	life   *stubLifecycle
	ledger *stubLedger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Config{
		HTTP:    config.HTTPConfig{ServiceKeys: []string{"svc-key"}},
		Webhook: config.WebhookConfig{Username: "pm", Password: "hook-pass"},
		RateLimit: config.RateLimitConfig{Actions: map[string]config.RuleConfig{
			ratelimit.ActionSubmit:      {Max: 100, Window: time.Minute},
			ratelimit.ActionUnsubscribe: {Max: 2, Window: time.Minute},
		}},
	}
	ts := &testServer{
		subs:   &stubSubmitter{res: submission.Result{SubmissionID: "s1", Status: model.SubmissionSent, Remaining: 9, Limit: 10}},
		life:   &stubLifecycle{},
		ledger: &stubLedger{},
	}
	ts.h = NewServer(cfg, Services{
		Recommendations: stubRecommender{},
		Submissions:     ts.subs,
		Lifecycle:       ts.life,
		Suppression:     ts.ledger,
		Activity:        stubActivity{},
		Limiter:         ratelimit.NewMemoryLimiter(),
	}, nil).Handler()
	return ts
}

func (ts *testServer) do(method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

var authed = map[string]string{"X-API-Key": "svc-key"}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", nil).Code)

	rec := ts.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestV1RequiresAPIKey(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/v1/users/u1/recommendations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/v1/users/u1/recommendations", "", authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["count"])
}

func TestSubmitRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/users/u1/submissions", `{"label_id":"l1","pitch_variant":"medium"}`, authed)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "u1", ts.subs.last.UserID)
	assert.Equal(t, model.PitchMedium, ts.subs.last.PitchVariant)
	body := decode(t, rec)
	assert.Equal(t, "s1", body["submission_id"])
	assert.EqualValues(t, 9, body["remaining"])

	rec = ts.do(http.MethodPost, "/v1/users/u1/submissions", `{"pitch_variant":"short"}`, authed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/users/u1/submissions", `{"label_id":"l1","pitch_variant":"long"}`, authed)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		res    submission.Result
		status int
		code   string
	}{
		{apperr.QuotaExceeded("monthly submission quota exceeded"), submission.Result{Remaining: 0, Limit: 10}, http.StatusPaymentRequired, "quota_exceeded"},
		{apperr.NotFound("label_not_found", "label does not exist"), submission.Result{}, http.StatusNotFound, "label_not_found"},
		{apperr.InvalidState("unsupported_method", "nope"), submission.Result{}, http.StatusUnprocessableEntity, "unsupported_method"},
		{apperr.ProviderFailure("could not deliver", errors.New("503")), submission.Result{SubmissionID: "s2", Status: model.SubmissionFailed}, http.StatusBadGateway, "send_failed"},
		{errors.New("mysql: connection refused"), submission.Result{}, http.StatusInternalServerError, "internal error"},
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			ts := newTestServer(t)
			ts.subs.res, ts.subs.err = tc.res, tc.err

			rec := ts.do(http.MethodPost, "/v1/users/u1/submissions", `{"label_id":"l1"}`, authed)
			assert.Equal(t, tc.status, rec.Code)
			body := decode(t, rec)
			assert.Equal(t, tc.code, body["error"])
			assert.NotContains(t, rec.Body.String(), "mysql")

			if tc.status == http.StatusPaymentRequired {
				assert.EqualValues(t, 0, body["remaining"])
				assert.EqualValues(t, 10, body["limit"])
			}
			if tc.status == http.StatusBadGateway {
				assert.Equal(t, "s2", body["submission_id"])
				assert.Equal(t, "failed", body["status"])
			}
		})
	}
}

func TestLifecycleRoute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/v1/users/u1/emails/Welcome", `{"payload":{"sent":3}}`, authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.EmailWelcome, ts.life.typ)
	assert.EqualValues(t, 3, ts.life.payload["sent"])
	body := decode(t, rec)
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, "already_sent", body["reason"])

	rec = ts.do(http.MethodPost, "/v1/users/u1/emails/welcome", "", authed)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/v1/users/u1/emails/nope", "", authed)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.eventErr = errors.New("db down")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/postmark", strings.NewReader(`{"RecordType":"Bounce"}`))
	req.SetBasicAuth("pm", "hook-pass")
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"RecordType":"Bounce"}`, string(ts.ledger.raw))
}

func TestWebhookRejectsBadAuth(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/postmark", strings.NewReader(`{}`))
	req.SetBasicAuth("pm", "wrong")
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, ts.ledger.raw)
}

func TestUnsubscribePage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/unsubscribe?uid=u1&token=t&type=weekly_digest", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "weekly digest emails")

	ts.ledger.unsubErr = apperr.Unauthorized("invalid_token", "bad")
	rec = ts.do(http.MethodGet, "/unsubscribe?uid=u1&token=t", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid or has expired")
}

func TestUnsubscribePageUnknownType(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.unsubErr = apperr.InvalidState("unknown_email_type", "unknown email type")

	rec := ts.do(http.MethodGet, "/unsubscribe?uid=u1&token=t&type=renewal", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not name an email")
}

func TestUnsubscribeIsRateLimitedPerIP(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/unsubscribe?uid=u1&token=t", "", nil).Code)
	}
	rec := ts.do(http.MethodGet, "/unsubscribe?uid=u1&token=t", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestActivityRoute(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodGet, "/v1/users/u7/activity?limit=10", "", authed)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 10, body["limit"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "u7", results[0].(map[string]any)["user_id"])
}
