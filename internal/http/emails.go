package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/service/lifecycle"
)

type LifecycleSender interface {
	Send(ctx context.Context, userID string, t model.EmailType, payload map[string]any) (lifecycle.Result, error)
}

type sendEmailReq struct {
	Payload map[string]any `json:"payload"`
}

func sendEmailHandler(svc LifecycleSender) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req sendEmailReq
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64<<10))
		if err != nil {
			return badRequest(c, "unreadable body")
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return badRequest(c, "invalid json body")
			}
		}

		typ := model.EmailType(strings.ToLower(strings.TrimSpace(c.Param("emailType"))))
		res, err := svc.Send(c.Request().Context(), c.Param("userID"), typ, req.Payload)
		if err != nil {
			return writeError(c, err, nil)
		}
		return c.JSON(http.StatusOK, res)
	}
}
