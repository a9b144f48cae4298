package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hypnotixx0/purgewisp/internal/model"
	"github.com/hypnotixx0/purgewisp/internal/service"
)

// ProxyPrefix is the path under which target URLs are embedded.
const ProxyPrefix = "/proxy/"

// ProxyHandler dispatches /proxy/<target> requests to the response pipeline.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// ExtractTargetURL returns the target embedded in an escaped request path,
// percent-decoded once. It does not validate the result. A segment that is
// not valid percent-encoding is returned as it is.
func ExtractTargetURL(escapedPath string) string {
	raw := strings.TrimPrefix(escapedPath, ProxyPrefix)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// Handle fetches the embedded target through the pipeline and streams the result back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	target := ExtractTargetURL(req.URL.EscapedPath())
	// A GET form submitted from a proxied page carries its fields in the
	// proxy URL's own query string.
	if q := req.URL.RawQuery; q != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q
	}

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Target: target,
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.fail(c, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	for key, vals := range resp.Header {
		header[key] = vals
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already sent, so a copy failure (usually a client
	// disconnect) can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"target", target,
		)
	}

	return nil
}

// fail writes the uniform 400 text/plain error response.
func (h *ProxyHandler) fail(c echo.Context, target string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		h.logger.Debug("client went away", "target", target)
	case errors.Is(err, service.ErrMalformedTarget):
		h.logger.Warn("rejected target", "err", err, "target", target)
	default:
		h.logger.Error("proxy error", "err", err, "target", target)
	}

	header := c.Response().Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	return c.String(http.StatusBadRequest, "Error: "+err.Error())
}
