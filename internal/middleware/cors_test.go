package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/config"
)

func newCORSEcho(cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.Use(CORS(cfg))
	e.GET("/api/products", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return e
}

func TestCORS_StrictAllowsListedOrigin(t *testing.T) {
	cfg := &config.Config{
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
	e := newCORSEcho(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the listed origin echoed", got)
	}
}

func TestCORS_StrictOmitsHeadersForUnlistedOrigin(t *testing.T) {
	cfg := &config.Config{
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
	e := newCORSEcho(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "http://evil.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty for unlisted origin", got)
	}
}

func TestCORS_DisallowedPreflightHasNoBody(t *testing.T) {
	cfg := &config.Config{
		CORS: config.CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
	e := newCORSEcho(cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/products", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "http://evil.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty for disallowed preflight", got)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("preflight body length = %d, want 0", rec.Body.Len())
	}
}

func TestCORS_RelaxedAllowsAnyOrigin(t *testing.T) {
	cfg := &config.Config{
		Mode: config.ModeDevelopment,
		CORS: config.CORSConfig{
			Relaxed:        true,
			AllowedMethods: []string{"GET"},
			AllowedHeaders: []string{"Content-Type"},
		},
	}
	e := newCORSEcho(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/products", http.NoBody)
	req.Header.Set(echo.HeaderOrigin, "http://anything.example.com")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got == "" {
		t.Error("Access-Control-Allow-Origin missing, want any origin allowed in relaxed mode")
	}
}
