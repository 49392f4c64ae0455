// Package service implements the core proxy forwarding logic.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"product-gateway/internal/client"
	"product-gateway/internal/config"
	"product-gateway/internal/model"
)

// ErrResponseTooLarge is returned when the upstream response exceeds the
// configured payload cap, either by declared Content-Length before relaying
// or mid-stream while copying.
var ErrResponseTooLarge = errors.New("upstream response exceeds size limit")

// forwardableRequestHeaders are the only request headers forwarded upstream.
// Accept-Encoding is deliberately absent: forwarding it verbatim disables the
// transport's transparent decompression, which would relay compressed bytes
// after filterResponseHeaders strips Content-Encoding. The transport
// negotiates compression with the upstream on its own.
var forwardableRequestHeaders = []string{
	"Accept",
	"Accept-Language",
	"Authorization",
	"Content-Type",
}

// forwardableResponseHeaders are the only response headers relayed to the
// client. Everything else is dropped so upstream topology does not leak.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
}

const userAgent = "product-gateway/1.0"

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client  *client.BackendClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.BackendClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// Forward sends a ProxyRequest to the upstream product service and returns
// the response. Method, path (including the /api prefix), query parameters
// and body pass through unchanged; request headers are reduced to a fixed
// subset plus the synthesized X-Forwarded-* headers; response headers are
// reduced to Content-Type and Content-Length. The caller is responsible for
// closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.Query)
	header := s.buildRequestHeaders(pr)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	if resp.ContentLength() > s.cfg.Upstream.ResponseMaxBytes {
		_ = resp.Body.Close()
		return nil, ErrResponseTooLarge
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	resp.Body = capBody(resp.Body, s.cfg.Upstream.ResponseMaxBytes)
	return resp, nil
}

func (s *ProxyService) buildUpstreamURL(path string, query url.Values) string {
	u := *s.baseURL
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

// buildRequestHeaders reduces the inbound headers to the forwardable subset
// and synthesizes the forwarding headers the upstream needs to reconstruct
// client context.
func (s *ProxyService) buildRequestHeaders(pr *model.ProxyRequest) http.Header {
	dst := make(http.Header)
	for _, key := range forwardableRequestHeaders {
		if vals := pr.Header.Values(key); len(vals) > 0 {
			dst[http.CanonicalHeaderKey(key)] = vals
		}
	}
	dst.Set("User-Agent", userAgent)
	dst.Set("X-Forwarded-For", pr.ClientIP)
	dst.Set("X-Forwarded-Proto", pr.Proto)
	dst.Set("X-Forwarded-Host", pr.Host)
	return dst
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}

// cappedBody enforces the response payload cap on bodies with no declared
// Content-Length. Once the cap is crossed, reads fail with
// ErrResponseTooLarge so the relay aborts instead of silently truncating.
type cappedBody struct {
	rc        io.ReadCloser
	remaining int64
}

func capBody(rc io.ReadCloser, limit int64) io.ReadCloser {
	// One spare byte distinguishes "exactly at the cap" from "over it".
	return &cappedBody{rc: rc, remaining: limit + 1}
}

func (b *cappedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, ErrResponseTooLarge
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.rc.Read(p)
	b.remaining -= int64(n)
	if b.remaining <= 0 {
		return n, ErrResponseTooLarge
	}
	return n, err
}

func (b *cappedBody) Close() error {
	return b.rc.Close()
}
