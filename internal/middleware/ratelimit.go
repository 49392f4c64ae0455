package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"product-gateway/internal/metrics"
	"product-gateway/internal/model"
)

// window tracks one client's request count within the current fixed window.
type window struct {
	count int
	start time.Time
}

// WindowStore is a fixed-window per-client request counter implementing
// echo's middleware.RateLimiterStore. The counter for a client resets when
// its window elapses. All mutation happens under the mutex so concurrent
// bursts cannot undercount.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string]*window

	limit int
	win   time.Duration
	now   func() time.Time

	lastSweep time.Time
}

// NewWindowStore creates a WindowStore allowing limit requests per client
// within each window.
func NewWindowStore(limit int, win time.Duration) *WindowStore {
	return NewWindowStoreWithClock(limit, win, time.Now)
}

// NewWindowStoreWithClock creates a WindowStore with an injected clock.
// This is intended for tests that need deterministic window boundaries.
func NewWindowStoreWithClock(limit int, win time.Duration, now func() time.Time) *WindowStore {
	return &WindowStore{
		windows:   make(map[string]*window),
		limit:     limit,
		win:       win,
		now:       now,
		lastSweep: now(),
	}
}

// Allow increments the counter for identifier and reports whether the request
// is within the limit. A denied request is still counted once; it adds no
// further increments beyond that.
func (s *WindowStore) Allow(identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	w, ok := s.windows[identifier]
	if !ok || now.Sub(w.start) >= s.win {
		s.windows[identifier] = &window{count: 1, start: now}
		return true, nil
	}

	w.count++
	return w.count <= s.limit, nil
}

// RetryAfter returns how long identifier must wait for its window to reset.
func (s *WindowStore) RetryAfter(identifier string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[identifier]
	if !ok {
		return 0
	}
	remaining := s.win - s.now().Sub(w.start)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// sweep drops expired windows so the map does not grow with every client
// ever seen. Runs at most once per window length; caller holds the mutex.
func (s *WindowStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < s.win {
		return
	}
	for id, w := range s.windows {
		if now.Sub(w.start) >= s.win {
			delete(s.windows, id)
		}
	}
	s.lastSweep = now
}

// RateLimiter returns an Echo middleware that enforces the fixed-window limit
// per client IP. On excess it short-circuits with 429 and a structured JSON
// body; the request is never forwarded upstream.
// The metrics parameter is optional; pass nil to disable rejection counting.
func RateLimiter(store *WindowStore, m *metrics.Metrics) echo.MiddlewareFunc {
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, model.ErrorBody{
				Error:   "Forbidden",
				Message: "could not identify client",
			})
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			if m != nil {
				m.RateLimitedTotal.Inc()
			}
			retry := store.RetryAfter(identifier)
			seconds := int((retry + time.Second - 1) / time.Second)
			c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
			return c.JSON(http.StatusTooManyRequests, model.ErrorBody{
				Error:   "Too many requests",
				Message: "rate limit exceeded, retry later",
			})
		},
	})
}
