package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"sportstream-relay/internal/config"
	"sportstream-relay/internal/metrics"
	"sportstream-relay/internal/middleware"
)

// Routes collects the handlers registered by RegisterRoutes.
type Routes struct {
	fx.In

	Config    *config.Config
	Metrics   *metrics.Metrics `optional:"true"`
	Relay     *RelayHandler
	Matches   *MatchesHandler
	Dashboard *DashboardHandler
	Admin     *AdminHandler
	Health    *HealthHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance. Admin
// routes are only registered when an admin token is configured.
func RegisterRoutes(e *echo.Echo, r Routes) {
	e.GET("/", r.Health.Root)
	e.GET("/healthz", r.Health.Healthz)
	e.GET("/status", r.Health.Status)

	e.GET("/proxy-stream", r.Relay.Handle)

	matches := e.Group("/api/matches")
	matches.GET("/proxy-stream", r.Relay.Handle)
	matches.GET("/streams", r.Matches.Streams)
	matches.GET("/sports", r.Matches.Sports)
	matches.GET("/:sportName/diary/:matchId", r.Matches.Diary)
	matches.GET("/:sportName/list", r.Matches.List)

	dashboard := e.Group("/api/dashboard")
	dashboard.GET("/live-stats", r.Dashboard.LiveStats)
	dashboard.GET("/streams-per-day", r.Dashboard.StreamsPerDay)
	dashboard.GET("/most-streamed-sports", r.Dashboard.MostStreamedSports)
	dashboard.GET("/matches", r.Dashboard.Matches)

	if token := r.Config.Admin.Token; token != "" {
		admin := e.Group("/api/admin")
		admin.POST("/login", r.Admin.Login)

		protected := admin.Group("", middleware.AdminAuth(token))
		protected.GET("/dashboard", r.Admin.Dashboard)
		protected.GET("/logs", r.Admin.Logs)
		protected.POST("/cache/invalidate", r.Admin.InvalidateCache)
	}

	if r.Config.Metrics.Enabled && r.Metrics != nil {
		e.GET(r.Config.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(r.Metrics.Registry, promhttp.HandlerOpts{})))
	}
}
