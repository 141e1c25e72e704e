package http

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

var unsubscribePage = template.Must(template.New("unsubscribe").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family:sans-serif;max-width:32rem;margin:4rem auto;line-height:1.5">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

type pageData struct {
	Title   string
	Message string
}

func renderPage(c echo.Context, status int, d pageData) error {
	var buf bytes.Buffer
	if err := unsubscribePage.Execute(&buf, d); err != nil {
		return c.String(http.StatusInternalServerError, "internal error")
	}
	return c.HTMLBlob(status, buf.Bytes())
}

func unsubscribeHandler(svc SuppressionLedger) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := strings.TrimSpace(c.QueryParam("uid"))
		token := strings.TrimSpace(c.QueryParam("token"))
		typ := model.EmailType(strings.TrimSpace(c.QueryParam("type")))

		res, err := svc.Unsubscribe(c.Request().Context(), userID, token, typ)
		if err != nil {
			switch {
			case errors.Is(err, apperr.ErrUnauthorized):
				return renderPage(c, http.StatusUnauthorized, pageData{
					Title:   "Link not valid",
					Message: "This unsubscribe link is invalid or has expired. Use the link from a more recent email.",
				})
			case errors.Is(err, apperr.ErrInvalidState):
				return renderPage(c, http.StatusBadRequest, pageData{
					Title:   "Link not valid",
					Message: "This unsubscribe link does not name an email you can opt out of.",
				})
			case errors.Is(err, apperr.ErrNotFound):
				return renderPage(c, http.StatusNotFound, pageData{
					Title:   "Account not found",
					Message: "We could not find the account for this link.",
				})
			}
			c.Logger().Errorf("unsubscribe failed: %v", err)
			return renderPage(c, http.StatusInternalServerError, pageData{
				Title:   "Something went wrong",
				Message: "We could not process your request. Please try again later.",
			})
		}

		msg := "You will no longer receive marketing emails from us. Account and billing messages will still be delivered."
		if res.Scope == "type" {
			msg = "You will no longer receive " + strings.ReplaceAll(res.EmailType.String(), "_", " ") + " emails from us."
		}
		return renderPage(c, http.StatusOK, pageData{Title: "You're unsubscribed", Message: msg})
	}
}
