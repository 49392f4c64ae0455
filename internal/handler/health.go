package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
)

// serviceName identifies the gateway in health payloads.
const serviceName = "product-gateway"

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the gateway's own health endpoint and the proxied
// upstream health endpoint. The two are deliberately separate: the gateway's
// liveness is independent of upstream reachability.
type HealthHandler struct {
	cfg     *config.Config
	client  *client.BackendClient
	logger  *slog.Logger
	version Version

	start time.Time
	now   func() time.Time
}

// NewHealthHandler creates a HealthHandler anchored at the current time.
func NewHealthHandler(cfg *config.Config, bc *client.BackendClient, logger *slog.Logger, v Version) *HealthHandler {
	return &HealthHandler{
		cfg:     cfg,
		client:  bc,
		logger:  logger.With("component", "health_handler"),
		version: v,
		start:   time.Now(),
		now:     time.Now,
	}
}

// selfHealth is the gateway liveness payload.
type selfHealth struct {
	Status        string  `json:"status"`
	Service       string  `json:"service"`
	Version       string  `json:"version"`
	Timestamp     string  `json:"timestamp"`
	UptimeSeconds float64 `json:"uptime"`
}

// Health reports gateway liveness. It never calls the upstream and always
// returns 200 while the process is running; uptime is monotonically
// non-decreasing across calls.
func (h *HealthHandler) Health(c echo.Context) error {
	now := h.now()
	return c.JSON(http.StatusOK, selfHealth{
		Status:        "ok",
		Service:       serviceName,
		Version:       string(h.version),
		Timestamp:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: now.Sub(h.start).Seconds(),
	})
}

// backendHealthOK is the payload when the upstream health probe succeeds.
type backendHealthOK struct {
	Gateway string          `json:"gateway"`
	Backend json.RawMessage `json:"backend"`
}

// backendHealthDown is the payload when the upstream health probe fails.
// The gateway still reports itself ok.
type backendHealthDown struct {
	Gateway string `json:"gateway"`
	Backend string `json:"backend"`
	Error   string `json:"error"`
}

// BackendHealth probes the upstream health endpoint with a short timeout and
// relays its payload. Any probe failure yields 503 with backend "unavailable";
// the gateway itself is never reported unhealthy here.
func (h *HealthHandler) BackendHealth(c echo.Context) error {
	payload, err := h.client.CheckHealth(c.Request().Context())
	if err != nil {
		h.logger.Warn("upstream health probe failed", "err", err)

		msg := "upstream health check failed"
		if !h.cfg.IsProduction() {
			msg = err.Error()
		}
		return c.JSON(http.StatusServiceUnavailable, backendHealthDown{
			Gateway: "ok",
			Backend: "unavailable",
			Error:   msg,
		})
	}

	return c.JSON(http.StatusOK, backendHealthOK{
		Gateway: "ok",
		Backend: payload,
	})
}
