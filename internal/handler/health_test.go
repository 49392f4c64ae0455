package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHealthHandler(cfg *config.Config) *HealthHandler {
	bc := client.NewBackendClient(cfg, testLogger(), nil)
	return NewHealthHandler(cfg, bc, testLogger(), "test")
}

func upstreamConfig(baseURL string) *config.Config {
	return &config.Config{
		Mode: config.ModeDevelopment,
		Upstream: config.UpstreamConfig{
			BaseURL:              baseURL,
			TimeoutSeconds:       10,
			HealthTimeoutSeconds: 1,
			IdleConnections:      10,
		},
	}
}

func TestHealth_AlwaysOK(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newHealthHandler(upstreamConfig("http://localhost:1"))
	if err := h.Health(c); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status    string  `json:"status"`
		Service   string  `json:"service"`
		Timestamp string  `json:"timestamp"`
		Uptime    float64 `json:"uptime"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	if body.Service != "product-gateway" {
		t.Errorf("service = %q, want product-gateway", body.Service)
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q is not RFC3339: %v", body.Timestamp, err)
	}
}

func TestHealth_UptimeMonotonic(t *testing.T) {
	h := newHealthHandler(upstreamConfig("http://localhost:1"))

	// Drive the clock manually so the uptime progression is deterministic.
	base := time.Now()
	ticks := []time.Duration{0, time.Second, time.Second, 5 * time.Second}
	i := 0
	h.now = func() time.Time {
		d := ticks[i]
		if i < len(ticks)-1 {
			i++
		}
		return base.Add(d)
	}

	e := echo.New()
	var last float64 = -1
	for range ticks {
		req := httptest.NewRequest(http.MethodGet, "/health", http.NoBody)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := h.Health(c); err != nil {
			t.Fatalf("Health() error = %v", err)
		}

		var body struct {
			Uptime float64 `json:"uptime"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if body.Uptime < last {
			t.Fatalf("uptime decreased: %v after %v", body.Uptime, last)
		}
		last = body.Uptime
	}
}

func TestBackendHealth_UpstreamHealthy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/health" {
			t.Errorf("path = %q, want /api/health", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy","database":"connected"}`))
	}))
	defer upstream.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newHealthHandler(upstreamConfig(upstream.URL))
	if err := h.BackendHealth(c); err != nil {
		t.Fatalf("BackendHealth() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Gateway string          `json:"gateway"`
		Backend json.RawMessage `json:"backend"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Gateway != "ok" {
		t.Errorf("gateway = %q, want ok", body.Gateway)
	}

	var backend map[string]string
	if err := json.Unmarshal(body.Backend, &backend); err != nil {
		t.Fatalf("unmarshal backend: %v", err)
	}
	if backend["status"] != "healthy" {
		t.Errorf("backend.status = %q, want the upstream payload relayed", backend["status"])
	}
}

func TestBackendHealth_UpstreamDown(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newHealthHandler(upstreamConfig(url))
	if err := h.BackendHealth(c); err != nil {
		t.Fatalf("BackendHealth() error = %v", err)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var body struct {
		Gateway string `json:"gateway"`
		Backend string `json:"backend"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Gateway != "ok" {
		t.Errorf("gateway = %q, want ok even when upstream is down", body.Gateway)
	}
	if body.Backend != "unavailable" {
		t.Errorf("backend = %q, want unavailable", body.Backend)
	}
	if body.Error == "" {
		t.Error("error field empty, want probe failure detail in development")
	}
}

func TestBackendHealth_ProductionSanitizesError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	cfg := upstreamConfig(url)
	cfg.Mode = config.ModeProduction

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newHealthHandler(cfg)
	if err := h.BackendHealth(c); err != nil {
		t.Fatalf("BackendHealth() error = %v", err)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error != "upstream health check failed" {
		t.Errorf("error = %q, want the sanitized constant in production", body.Error)
	}
}
