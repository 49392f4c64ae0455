// Package client provides the upstream HTTP client for the product service.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"product-gateway/internal/config"
	"product-gateway/internal/metrics"
	"product-gateway/internal/model"
)

// healthPath is the upstream health endpoint probed by CheckHealth.
const healthPath = "/api/health"

// BackendClient sends requests to the upstream product service.
type BackendClient struct {
	httpClient   *http.Client
	healthClient *http.Client
	baseURL      string
	logger       *slog.Logger
	metrics      *metrics.Metrics

	// errLog throttles repeated upstream-failure log lines during outages.
	errLog rate.Sometimes
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The proxy call timeout and the (shorter) health probe timeout come from config.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		healthClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.HealthTimeoutSeconds) * time.Second,
		},
		baseURL: cfg.Upstream.BaseURL,
		logger:  logger.With("component", "backend_client"),
		metrics: m,
		errLog:  rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body. A single attempt is
// made; failures are returned to the caller for translation, never retried.
func (c *BackendClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
			c.metrics.UpstreamFailures.WithLabelValues(failureKind(err)).Inc()
		}
		c.errLog.Do(func() {
			c.logger.Warn("upstream call failed",
				"method", req.Method,
				"path", req.URL.Path,
				"err", err,
			)
		})
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// failureKind buckets a transport error for the upstream failure counter,
// mirroring the status translation applied to the client response.
func failureKind(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "refused"
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	return "other"
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled and the connection released.
func (c *BackendClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	// NewRequestWithContext cannot infer the length of an arbitrary reader;
	// without it the body would go upstream chunked.
	if contentLength >= 0 {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}

// CheckHealth probes the upstream health endpoint with the short health
// timeout and returns the decoded payload. Any failure — connection error,
// non-200 status, undecodable body — is reported as an error; the gateway's
// own liveness is never derived from this result.
func (c *BackendClient) CheckHealth(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}

	resp, err := c.healthClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream health: status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("upstream health: read body: %w", err)
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("upstream health: body is not valid JSON")
	}

	return json.RawMessage(payload), nil
}
