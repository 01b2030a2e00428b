package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"webgate/internal/config"
	"webgate/internal/metrics"
)

// Handlers groups the route handlers for registration.
type Handlers struct {
	Intercept  *InterceptHandler
	Navigation *NavigationHandler
	Settings   *SettingsHandler
	Events     *EventsHandler
	Health     *HealthHandler
}

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, h Handlers) {
	e.GET("/healthz", h.Health.Healthz)
	e.GET("/gateway/status", h.Health.Status)

	e.Any("/intercept", h.Intercept.Handle)

	e.POST("/navigation", h.Navigation.Started)
	e.GET("/navigation", h.Navigation.Current)

	e.GET("/settings/proxy", h.Settings.GetProxy)
	e.PUT("/settings/proxy", h.Settings.PutProxy)

	e.GET("/events", h.Events.Stream)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
}
