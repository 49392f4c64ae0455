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
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
	"product-gateway/internal/handler"
	"product-gateway/internal/metrics"
	"product-gateway/internal/middleware"
	"product-gateway/internal/service"
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
		kong.Name("product-gateway"),
		kong.Description("HTTP gateway for the product service."),
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
			client.NewBackendClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, registerMetricsRoute, warnConfigPermissions, startServer),
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
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(cfg, logger)

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) to avoid cutting off valid long-running streamed
	// responses. Protection is provided by the upstream client timeout, ReadTimeout,
	// and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.CORS(cfg))

	if cfg.Server.RateLimit.Enabled {
		store := middleware.NewWindowStore(cfg.Server.RateLimit.MaxRequests, cfg.Server.RateLimit.Window())
		e.Use(middleware.RateLimiter(store, m))
		logger.Info("rate limiter enabled",
			"profile", cfg.Server.RateLimit.Profile,
			"max_requests", cfg.Server.RateLimit.MaxRequests,
			"window_seconds", cfg.Server.RateLimit.WindowSeconds,
		)
	}

	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m))
	}

	return e
}

func registerMetricsRoute(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	e.GET(cfg.Metrics.Path, echo.WrapHandler(
		promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	))
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"mode", cfg.Mode,
				"upstream", cfg.Upstream.BaseURL,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
