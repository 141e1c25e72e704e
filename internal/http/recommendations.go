package http

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

type Recommender interface {
	Recommend(ctx context.Context, userID string) ([]model.MatchResult, error)
}

func recommendationsHandler(svc Recommender) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Param("userID")
		results, err := svc.Recommend(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, err, nil)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"user_id": userID,
			"count":   len(results),
			"results": results,
		})
	}
}
