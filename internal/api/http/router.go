package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/observability"
)

// RouteConfig bundles dependencies for route registration. A nil Slack
// handler leaves the Slack endpoints unregistered, as in Socket Mode.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Reports        *handlers.ReportsHandler
	Slack          *handlers.SlackHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	if cfg.Slack != nil {
		slackGroup := app.Group("/slack")
		slackGroup.Post("/events", cfg.Slack.Events)
		slackGroup.Post("/interactions", cfg.Slack.Interactions)
		slackGroup.Post("/options", cfg.Slack.Options)
	}

	api := app.Group("/api", cfg.AuthMiddleware.Handle, cfg.AuthMiddleware.RequireScope(auth.ScopeReports))
	api.Get("/stats", cfg.Reports.Stats)
	api.Get("/stats/v2", cfg.Reports.StatsV2)
	api.Get("/stats_v2", cfg.Reports.StatsV2)
	api.Get("/stats/range", cfg.Reports.StatsRange)
	api.Get("/tickets", cfg.Reports.Tickets)
	api.Get("/ticket", cfg.Reports.Ticket)
	api.Get("/user", cfg.Reports.User)
}
