package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const ctxCallerKey = "caller"

// CallerFromCtx returns the service-key label set by APIKeyMiddleware.
func CallerFromCtx(c echo.Context) (string, bool) {
	v, ok := c.Get(ctxCallerKey).(string)
	return v, ok && v != ""
}

// APIKeyMiddleware authenticates calling services by X-API-Key against the
// configured keys. The end user was already authenticated upstream.
func APIKeyMiddleware(keys []string) echo.MiddlewareFunc {
	valid := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			valid = append(valid, []byte(k))
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}

			// compare against every key so timing does not reveal which matched
			match := -1
			for i, k := range valid {
				if subtle.ConstantTimeCompare([]byte(key), k) == 1 {
					match = i
				}
			}
			if match < 0 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxCallerKey, "key"+strconv.Itoa(match))
			return next(c)
		}
	}
}
