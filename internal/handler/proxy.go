package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/config"
	"product-gateway/internal/model"
	"product-gateway/internal/service"
)

// ProxyHandler forwards API requests to the upstream product service and
// translates connectivity failures into client-facing errors.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream product service and streams the
// response back. Upstream status codes, including 4xx/5xx, are relayed
// verbatim; only connectivity failures are translated locally.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// /api/health is served by the gateway itself; a non-GET on it lands
	// here via the wildcard and must not reach the upstream.
	if req.URL.Path == "/api/health" {
		return echo.NewHTTPError(http.StatusMethodNotAllowed)
	}

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.Path,
		Query:         req.URL.Query(),
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
		ClientIP:      c.RealIP(),
		Proto:         c.Scheme(),
		Host:          req.Host,
	}

	start := time.Now()
	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err, time.Since(start))
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If the copy fails
	// mid-stream (client disconnect, upstream abort, payload cap crossed),
	// the status code has already been sent, so no second response is
	// attempted; the failure is logged instead.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

// mapError translates a transport-level upstream failure into a stable
// client-facing response per the gateway's failure taxonomy. Upstream
// application errors never reach this path; they are relayed verbatim.
func (h *ProxyHandler) mapError(c echo.Context, err error, elapsed time.Duration) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
		"duration_ms", elapsed.Milliseconds(),
	)

	if c.Response().Committed {
		return nil
	}

	if errors.Is(err, service.ErrResponseTooLarge) {
		return c.JSON(http.StatusBadGateway, model.ErrorBody{
			Error:   "Bad Gateway",
			Message: h.detail("upstream response exceeds the configured payload limit", err, elapsed),
		})
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return c.JSON(http.StatusServiceUnavailable, model.ErrorBody{
			Error:   "Backend service unavailable",
			Message: h.detail("the product service is not reachable", err, elapsed),
		})
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return c.JSON(http.StatusGatewayTimeout, model.ErrorBody{
			Error:   "Backend service timeout",
			Message: h.detail("the product service did not respond in time", err, elapsed),
		})
	}

	return c.JSON(http.StatusBadGateway, model.ErrorBody{
		Error:   "Bad Gateway",
		Message: h.detail("the upstream request failed", err, elapsed),
	})
}

// detail returns the client-facing message for a translated failure. Full
// diagnostics (cause, duration) are exposed only outside production; this is
// an information-disclosure control, not an oversight.
func (h *ProxyHandler) detail(msg string, err error, elapsed time.Duration) string {
	if h.cfg.IsProduction() {
		return msg
	}
	return fmt.Sprintf("%s: %v (after %dms)", msg, err, elapsed.Milliseconds())
}
