// Package service implements the response pipeline: fetch the target, follow
// redirects, rewrite text bodies and sanitize headers.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hypnotixx0/purgewisp/internal/client"
	"github.com/hypnotixx0/purgewisp/internal/config"
	"github.com/hypnotixx0/purgewisp/internal/metrics"
	"github.com/hypnotixx0/purgewisp/internal/model"
	"github.com/hypnotixx0/purgewisp/internal/rewrite"
)

var (
	// ErrMalformedTarget is returned when the requested target is not an absolute http(s) URL.
	// No upstream request is made.
	ErrMalformedTarget = errors.New("malformed target URL")

	// ErrTooManyRedirects is returned when the redirect chain exceeds upstream.max_redirects.
	ErrTooManyRedirects = errors.New("too many redirects")
)

const (
	browserAccept         = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	browserAcceptLanguage = "en-US,en;q=0.9"

	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
)

// hopHeaders are connection-scoped and never copied to the client.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// blockingHeaders would stop the proxied page from rendering inside the proxy origin.
var blockingHeaders = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
	"X-Content-Type-Options",
}

// ProxyService fetches targets and rewrites their responses.
type ProxyService struct {
	client   *client.UpstreamClient
	rewriter *rewrite.Rewriter
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter may be nil.
func NewProxyService(c *client.UpstreamClient, rw *rewrite.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		rewriter: rw,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Forward fetches pr.Target, following up to upstream.max_redirects redirects,
// and returns the response with text bodies rewritten to route through the proxy.
// The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target, err := parseTarget(pr.Target)
	if err != nil {
		return nil, err
	}

	var body []byte
	if pr.Body != nil {
		body, err = io.ReadAll(pr.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	method := pr.Method
	for hops := 0; ; hops++ {
		resp, err := s.fetch(pr, method, target, body)
		if err != nil {
			return nil, err
		}

		next, ok := s.redirectTarget(resp, target)
		if !ok {
			return s.finish(resp, target)
		}
		drainAndClose(resp.Body)

		if hops >= s.cfg.Upstream.MaxRedirects {
			return nil, fmt.Errorf("%w: gave up after %d redirects", ErrTooManyRedirects, hops)
		}
		if s.metrics != nil {
			s.metrics.RedirectsFollowed.Inc()
		}
		s.logger.Debug("following redirect",
			"status", resp.StatusCode,
			"from", target.String(),
			"to", next.String(),
			"hop", hops+1,
		)

		method, body = redirectMethod(resp.StatusCode, method, body)
		target = next
	}
}

// parseTarget validates the decoded target URL.
func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTarget, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q is not an absolute http(s) URL", ErrMalformedTarget, raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrMalformedTarget, raw)
	}
	return u, nil
}

func (s *ProxyService) fetch(pr *model.ProxyRequest, method string, target *url.URL, body []byte) (*model.ProxyResponse, error) {
	var rdr io.Reader
	if len(body) > 0 {
		rdr = bytes.NewReader(body)
	}
	return s.client.Fetch(pr.Ctx, method, target.String(), s.outboundHeader(pr.Header, target, len(body) > 0), rdr)
}

// outboundHeader builds the browser-like header set sent upstream. Cookies,
// credentials and the inbound Host are never forwarded.
func (s *ProxyService) outboundHeader(in http.Header, target *url.URL, hasBody bool) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", s.cfg.Upstream.UserAgent)
	h.Set("Accept", browserAccept)
	h.Set("Accept-Language", browserAcceptLanguage)
	h.Set("Accept-Encoding", "identity")
	h.Set("Cache-Control", "no-cache")
	h.Set("DNT", "1")
	h.Set("Upgrade-Insecure-Requests", "1")

	if s.cfg.Upstream.SecFetchHeaders {
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "none")
		h.Set("Sec-Fetch-User", "?1")
	}
	if s.cfg.Upstream.OverrideHost {
		h.Set("Host", target.Hostname())
	}

	if in != nil {
		if ref := in.Get("Referer"); ref != "" {
			h.Set("Referer", ref)
		}
		if ct := in.Get("Content-Type"); hasBody && ct != "" {
			h.Set("Content-Type", ct)
		}
	}
	return h
}

// redirectTarget reports where a redirect response points. A redirect whose
// Location cannot be resolved to an http(s) URL is not followed.
func (s *ProxyService) redirectTarget(resp *model.ProxyResponse, current *url.URL) (*url.URL, bool) {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil, false
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return nil, false
	}
	abs, err := rewrite.Resolve(loc, current)
	if err != nil {
		s.logger.Debug("not following redirect", "location", loc, "error", err)
		return nil, false
	}
	next, err := url.Parse(abs)
	if err != nil {
		return nil, false
	}
	return next, true
}

// redirectMethod applies the browser method rules: 303 becomes GET, and so
// do 301 and 302 after a POST. 307 and 308 replay the request as sent.
func redirectMethod(status int, method string, body []byte) (string, []byte) {
	switch {
	case status == http.StatusSeeOther && method != http.MethodHead:
		return http.MethodGet, nil
	case (status == http.StatusMovedPermanently || status == http.StatusFound) && method == http.MethodPost:
		return http.MethodGet, nil
	}
	return method, body
}

// finish classifies the final response and rewrites its body when it is HTML,
// CSS or JavaScript. Other bodies are streamed through untouched.
func (s *ProxyService) finish(resp *model.ProxyResponse, base *url.URL) (*model.ProxyResponse, error) {
	header := copyResponseHeader(resp.Header)
	s.finalizeHeader(header)

	kind := model.Classify(resp.Header.Get("Content-Type"))
	if kind == model.ContentOther {
		return &model.ProxyResponse{StatusCode: resp.StatusCode, Header: header, Body: resp.Body}, nil
	}

	limit := s.cfg.Upstream.MaxBodyBytes
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if int64(len(raw)) > limit {
		s.logger.Warn("body exceeds rewrite limit, passing through unmodified",
			"kind", kind.String(),
			"host", base.Host,
			"limit", limit,
		)
		body := struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(raw), resp.Body), resp.Body}
		return &model.ProxyResponse{StatusCode: resp.StatusCode, Header: header, Body: body}, nil
	}
	_ = resp.Body.Close()

	decoded, err := decodeAll(resp.Header.Values("Content-Encoding"), raw, limit)
	if err != nil {
		s.logger.Warn("cannot decode body, passing through unmodified",
			"kind", kind.String(),
			"host", base.Host,
			"error", err,
		)
		return &model.ProxyResponse{StatusCode: resp.StatusCode, Header: header, Body: io.NopCloser(bytes.NewReader(raw))}, nil
	}

	rewritten := s.rewrite(kind, string(decoded), base)

	header.Del("Content-Length")
	header.Del("Content-Encoding")
	header.Set("Content-Type", canonicalContentType(kind, resp.Header.Get("Content-Type")))

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(rewritten)),
	}, nil
}

func (s *ProxyService) rewrite(kind model.ContentKind, content string, base *url.URL) string {
	start := time.Now()

	var out string
	switch kind {
	case model.ContentHTML:
		out = s.rewriter.HTML(content, base)
	case model.ContentCSS:
		out = s.rewriter.CSS(content, base)
	case model.ContentJS:
		out = s.rewriter.JS(content, base)
	default:
		return content
	}

	if s.metrics != nil {
		s.metrics.RewritesTotal.WithLabelValues(kind.String()).Inc()
		s.metrics.RewriteDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	}
	s.logger.Debug("rewrote body",
		"kind", kind.String(),
		"base", base.String(),
		"bytes_in", len(content),
		"bytes_out", len(out),
	)
	return out
}

// canonicalContentType returns the canonical media type for kind, keeping the
// upstream charset parameter if there was one.
func canonicalContentType(kind model.ContentKind, upstream string) string {
	ct := kind.ContentType()
	if _, params, err := mime.ParseMediaType(upstream); err == nil {
		if cs := params["charset"]; cs != "" {
			return mime.FormatMediaType(ct, map[string]string{"charset": cs})
		}
	}
	return ct
}

// copyResponseHeader copies upstream headers except hop-by-hop fields, the
// fields named in Connection, and Set-Cookie.
func copyResponseHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	dst.Del("Set-Cookie")
	return dst
}

func (s *ProxyService) finalizeHeader(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", corsAllowMethods)
	h.Set("Access-Control-Allow-Headers", "*")
	h.Set("X-Proxy-Server", s.cfg.Proxy.ServerName)
	for _, name := range blockingHeaders {
		h.Del(name)
	}
}

// drainAndClose discards a small remainder so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
