package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/model"
	"github.com/jmehdipour/label-dispatch/internal/service/submission"
)

type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Result, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.SubmissionLog, error)
}

type submitReq struct {
	LabelID      string `json:"label_id"`
	PitchVariant string `json:"pitch_variant"` // "short" | "medium"
	Method       string `json:"method"`        // optional: "email" | "webform"
}

func submitHandler(svc Submitter) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req submitReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid json body")
		}
		req.LabelID = strings.TrimSpace(req.LabelID)
		if req.LabelID == "" {
			return badRequest(c, "label_id is required")
		}

		variant, ok := model.ParsePitchVariant(req.PitchVariant)
		if !ok {
			return badRequest(c, "pitch_variant must be short or medium")
		}

		var method model.SubmissionMethod
		if strings.TrimSpace(req.Method) != "" {
			m, ok := model.ParseSubmissionMethod(req.Method)
			if !ok || m == model.MethodNone {
				return badRequest(c, "method must be email or webform")
			}
			method = m
		}

		res, err := svc.Submit(c.Request().Context(), submission.Request{
			UserID:       c.Param("userID"),
			LabelID:      req.LabelID,
			PitchVariant: variant,
			Method:       method,
		})
		if err != nil {
			switch {
			case errors.Is(err, apperr.ErrQuotaExceeded):
				return writeError(c, err, map[string]any{
					"remaining": res.Remaining,
					"limit":     res.Limit,
				})
			case errors.Is(err, apperr.ErrProviderFailure):
				return writeError(c, err, map[string]any{
					"submission_id": res.SubmissionID,
					"status":        res.Status,
					"remaining":     res.Remaining,
					"limit":         res.Limit,
				})
			}
			return writeError(c, err, nil)
		}

		return c.JSON(http.StatusCreated, res)
	}
}

func listSubmissionsHandler(svc Submitter) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pageParams(c, submission.DefaultListLimit, 200)
		logs, err := svc.List(c.Request().Context(), c.Param("userID"), limit, offset)
		if err != nil {
			return writeError(c, err, nil)
		}
		if logs == nil {
			logs = []model.SubmissionLog{}
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(logs),
			"results": logs,
		})
	}
}
