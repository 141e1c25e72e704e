package http

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/service/suppression"
)

type SuppressionLedger interface {
	HandleEvent(ctx context.Context, raw []byte) (suppression.EventResult, error)
	Unsubscribe(ctx context.Context, userID, token string, t model.EmailType) (suppression.UnsubscribeResult, error)
}

const maxWebhookBody = 1 << 20

// webhookAuth checks the basic auth credentials configured on the provider's
// webhook URL. Empty credentials disable the endpoint.
func webhookAuth(username, password string) echo.MiddlewareFunc {
	return echoMid.BasicAuth(func(u, p string, _ echo.Context) (bool, error) {
		if username == "" || password == "" {
			return false, nil
		}
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		return userOK && passOK, nil
	})
}

// postmarkWebhookHandler always answers 200 once authenticated, so internal
// failures never turn into provider retry storms.
func postmarkWebhookHandler(svc SuppressionLedger, log *zap.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
		if err != nil {
			log.Warn("webhook body read failed", zap.Error(err))
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}

		res, err := svc.HandleEvent(c.Request().Context(), raw)
		if err != nil {
			log.Error("webhook processing failed", zap.String("record_type", res.RecordType), zap.Error(err))
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"outcome": res.Outcome,
		})
	}
}
