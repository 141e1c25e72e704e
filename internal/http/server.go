package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/http/middleware"
	"github.com/jmehdipour/label-dispatch/internal/metrics"
	"github.com/jmehdipour/label-dispatch/internal/ratelimit"
)

// Services is everything the routes call into.
type Services struct {
	Recommendations Recommender
	Submissions     Submitter
	Lifecycle       LifecycleSender
	Suppression     SuppressionLedger
	Activity        ActivityReader
	Limiter         ratelimit.Limiter
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLogLevel(cfg.Log.Level))
	e.Use(echoMid.Recover(), echoMid.Logger())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.MustRegister(reg)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	rules := ratelimit.Rules(cfg.RateLimit)
	limit := func(action string, actor func(echo.Context) string) echo.MiddlewareFunc {
		return middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Limiter: svc.Limiter,
			Action:  action,
			Rule:    rules[action],
			Actor:   actor,
			Log:     logger,
		})
	}
	byUser := middleware.ActorParam("userID")
	authMW := middleware.APIKeyMiddleware(cfg.HTTP.ServiceKeys)

	// routes
	v1 := e.Group("/v1", authMW)
	users := v1.Group("/users/:userID")
	users.GET("/recommendations", recommendationsHandler(svc.Recommendations), limit(ratelimit.ActionRecommendations, byUser))
	users.POST("/submissions", submitHandler(svc.Submissions), limit(ratelimit.ActionSubmit, byUser))
	users.GET("/submissions", listSubmissionsHandler(svc.Submissions))
	users.POST("/emails/:emailType", sendEmailHandler(svc.Lifecycle), limit(ratelimit.ActionLifecycle, byUser))
	if svc.Activity != nil {
		users.GET("/activity", activityHandler(svc.Activity))
	}

	e.POST("/webhooks/postmark", postmarkWebhookHandler(svc.Suppression, logger), webhookAuth(cfg.Webhook.Username, cfg.Webhook.Password))
	e.GET("/unsubscribe", unsubscribeHandler(svc.Suppression), limit(ratelimit.ActionUnsubscribe, middleware.ActorIP))

	return &Server{e: e, log: logger}
}

func echoLogLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
