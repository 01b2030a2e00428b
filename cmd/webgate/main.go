package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"webgate/internal/client"
	"webgate/internal/config"
	"webgate/internal/handler"
	"webgate/internal/media"
	"webgate/internal/metrics"
	"webgate/internal/middleware"
	"webgate/internal/navigation"
	"webgate/internal/notify"
	"webgate/internal/service"
	"webgate/internal/settings"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("webgate"),
		kong.Description("Interception gateway that refetches web resources through a SOCKS proxy with DNS-over-HTTPS."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			navigation.NewTracker,
			notify.NewHub,
			settings.NewStore,
			newDetector,
			client.NewBuilder,
			client.NewCache,
			newDispatcher,
			newInterceptHandler,
			newNavigationHandler,
			newSettingsHandler,
			newEventsHandler,
			newHealthHandler,
		),
		fx.Invoke(registerRoutes, handler.RegisterMetrics, warnConfigPermissions, startHub, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 30 * time.Second
	// Refetched media and the event stream are long-lived responses; the
	// upstream connect and header timeouts bound a stalled refetch instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimit(cfg.Server.RateLimit.RequestsPerSecond))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func newDetector(tracker *navigation.Tracker, hub *notify.Hub, logger *slog.Logger, m *metrics.Metrics) *media.Detector {
	return media.NewDetector(tracker.Current, hub, logger, m)
}

func newDispatcher(
	cfg *config.Config,
	store *settings.Store,
	clients *client.Cache,
	tracker *navigation.Tracker,
	hub *notify.Hub,
	detector *media.Detector,
	logger *slog.Logger,
	m *metrics.Metrics,
) *service.Dispatcher {
	return service.NewDispatcher(cfg, store, clients, tracker, hub, detector, logger, m)
}

func newInterceptHandler(d *service.Dispatcher, logger *slog.Logger) *handler.InterceptHandler {
	return handler.NewInterceptHandler(d, logger)
}

func newNavigationHandler(d *service.Dispatcher) *handler.NavigationHandler {
	return handler.NewNavigationHandler(d)
}

func newSettingsHandler(store *settings.Store, logger *slog.Logger) *handler.SettingsHandler {
	return handler.NewSettingsHandler(store, logger)
}

func newEventsHandler(hub *notify.Hub, logger *slog.Logger) *handler.EventsHandler {
	return handler.NewEventsHandler(hub, logger)
}

func newHealthHandler(cfg *config.Config, v handler.Version, store *settings.Store, clients *client.Cache) *handler.HealthHandler {
	return handler.NewHealthHandler(cfg, v, store, clients)
}

func registerRoutes(
	e *echo.Echo,
	intercept *handler.InterceptHandler,
	nav *handler.NavigationHandler,
	settingsHandler *handler.SettingsHandler,
	events *handler.EventsHandler,
	health *handler.HealthHandler,
) {
	handler.RegisterRoutes(e, handler.Handlers{
		Intercept:  intercept,
		Navigation: nav,
		Settings:   settingsHandler,
		Events:     events,
		Health:     health,
	})
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startHub(lc fx.Lifecycle, hub *notify.Hub) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			hub.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			hub.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting gateway", "addr", addr, "version", version)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down gateway")
			return e.Shutdown(ctx)
		},
	})
}
