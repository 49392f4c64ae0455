// Package model defines shared types for the gateway.
package model

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   io.ReadCloser
	// ContentLength is the declared inbound body size, or -1 when unknown.
	// It must be set on the outgoing request itself; a Content-Length map
	// entry is ignored by net/http and the body would go upstream chunked.
	ContentLength int64
	ClientIP      string
	Proto         string
	Host          string
}

// ProxyResponse represents the upstream response to be streamed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ContentLength returns the declared body size, or -1 when the upstream did
// not declare one (e.g. chunked encoding).
func (r *ProxyResponse) ContentLength() int64 {
	v := r.Header.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// ErrorBody is the structured JSON body for every gateway-originated error:
// policy rejections, translated connectivity failures, 404s and sanitized 500s.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Path    string `json:"path,omitempty"`
}
