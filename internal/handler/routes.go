package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Exact
// routes are registered before the wildcard so the health paths are never
// forwarded upstream even though /api/health shares the proxy prefix.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/health", health.Health)
	e.GET("/api/health", health.BackendHealth)

	e.Any("/api/*", proxy.Handle)
}
