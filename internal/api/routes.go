package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouteConfig struct {
	User      string
	Password  string
	RateLimit int
}

func SetupRoutes(app *fiber.App, handler *Handler, cfg RouteConfig) {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}

	app.Use(RequestID())
	app.Use(ErrorHandler())

	app.Get("/health", handler.HealthCheck)
	app.Get("/ready", handler.ReadinessCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/swagger/*", swagger.HandlerDefault)

	v1 := app.Group("/api/v1")
	v1.Use(RateLimiter(cfg.RateLimit))
	v1.Use(PrometheusMiddleware())

	v1.Post("/inspect", handler.Inspect)

	auth := BasicAuth(cfg.User, cfg.Password)

	portfolios := v1.Group("/portfolios/:id")
	portfolios.Get("/positions", handler.GetPositions)
	portfolios.Post("/import", auth, handler.Import)
	portfolios.Delete("/positions", auth, handler.DeletePositions)

	admin := v1.Group("/admin", auth)
	admin.Delete("/cache/:pattern", handler.InvalidateCache)
}
