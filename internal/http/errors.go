package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
)

func statusOf(k apperr.Kind) int {
	switch k {
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState:
		return http.StatusUnprocessableEntity
	case apperr.KindProviderFailure:
		return http.StatusBadGateway
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders classified errors with their code and hides the rest.
// extra fields are merged into the body.
func writeError(c echo.Context, err error, extra map[string]any) error {
	e, ok := apperr.As(err)
	if !ok {
		c.Logger().Errorf("%s %s failed: %v", c.Request().Method, c.Path(), err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	body := map[string]any{
		"error":       e.Code,
		"description": e.Msg,
	}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(statusOf(e.Kind), body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad_request", "description": msg})
}
