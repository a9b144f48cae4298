// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// ProxyRequest represents a client request to be fetched from Target.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Target string // decoded target URL, not yet validated
	Header http.Header
	Body   io.ReadCloser
}

// ProxyResponse represents the response to be streamed back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ContentKind selects the rewriter for a response body.
type ContentKind int

const (
	ContentOther ContentKind = iota
	ContentHTML
	ContentCSS
	ContentJS
)

// String returns the metrics label for the kind.
func (k ContentKind) String() string {
	switch k {
	case ContentHTML:
		return "html"
	case ContentCSS:
		return "css"
	case ContentJS:
		return "js"
	default:
		return "other"
	}
}

// ContentType returns the canonical media type for a rewritable kind.
func (k ContentKind) ContentType() string {
	switch k {
	case ContentHTML:
		return "text/html"
	case ContentCSS:
		return "text/css"
	case ContentJS:
		return "application/javascript"
	default:
		return ""
	}
}

// Classify maps a Content-Type header value to a ContentKind by substring match.
func Classify(contentType string) ContentKind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/html"):
		return ContentHTML
	case strings.Contains(ct, "text/css"):
		return ContentCSS
	case strings.Contains(ct, "javascript"):
		return ContentJS
	default:
		return ContentOther
	}
}
