package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/jmehdipour/label-dispatch/internal/model"
)

// ActivityReader lists analytics events from ClickHouse.
type ActivityReader interface {
	ListByUser(ctx context.Context, userID, name string, limit, offset int) ([]model.Envelope, error)
}

func pageParams(c echo.Context, def, maxLimit int) (int, int) {
	limit := def
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func activityHandler(repo ActivityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Param("userID")
		limit, offset := pageParams(c, 50, 1000)
		name := strings.TrimSpace(c.QueryParam("event"))

		events, err := repo.ListByUser(c.Request().Context(), userID, name, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if events == nil {
			events = []model.Envelope{}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
